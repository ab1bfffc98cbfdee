// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Settlement settings
	TreasuryAddress   string        // Account that accumulates platform fees
	PlatformFeeBPS    int64         // Fee taken on escrow completion, in basis points
	MaxEscrowDuration time.Duration // Deadline window before buyer-only refunds unlock
	MaxBulkPurchase   int           // Max line items in one bulk settlement

	// Security
	AdminSecret   string // Admin API secret (admin refunds, key issuance)
	WebhookSecret string // Default HMAC secret for webhook deliveries
	RateLimitRPM  int
}

// Defaults
const (
	DefaultPort              = "8080"
	DefaultEnv               = "development"
	DefaultLogLevel          = "info"
	DefaultPlatformFeeBPS    = 250 // 2.5%
	DefaultMaxEscrowDuration = 7 * 24 * time.Hour
	DefaultMaxBulkPurchase   = 20
	DefaultRateLimit         = 120
)

// Load reads configuration from environment variables.
// It loads .env file if present (for local development).
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:              getEnv("PORT", DefaultPort),
		Env:               getEnv("ENV", DefaultEnv),
		LogLevel:          getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:       os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		TreasuryAddress:   os.Getenv("TREASURY_ADDRESS"),
		PlatformFeeBPS:    getEnvInt64("PLATFORM_FEE_BPS", DefaultPlatformFeeBPS),
		MaxEscrowDuration: getEnvDuration("MAX_ESCROW_DURATION", DefaultMaxEscrowDuration),
		MaxBulkPurchase:   int(getEnvInt64("MAX_BULK_PURCHASE", DefaultMaxBulkPurchase)),
		AdminSecret:       os.Getenv("ADMIN_SECRET"),
		WebhookSecret:     os.Getenv("WEBHOOK_SECRET"),
		RateLimitRPM:      int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimit)),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.TreasuryAddress == "" {
		return fmt.Errorf("TREASURY_ADDRESS is required")
	}
	if !common.IsHexAddress(c.TreasuryAddress) {
		return fmt.Errorf("TREASURY_ADDRESS must be a valid hex address")
	}
	if c.PlatformFeeBPS < 0 || c.PlatformFeeBPS > 10000 {
		return fmt.Errorf("PLATFORM_FEE_BPS must be between 0 and 10000")
	}
	if c.MaxEscrowDuration <= 0 {
		return fmt.Errorf("MAX_ESCROW_DURATION must be positive")
	}
	if c.MaxBulkPurchase <= 0 {
		return fmt.Errorf("MAX_BULK_PURCHASE must be positive")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}
