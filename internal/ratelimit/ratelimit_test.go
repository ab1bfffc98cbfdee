package ratelimit

import (
	"testing"
	"time"
)

func newTestLimiter(t *testing.T, cfg Config) *Limiter {
	t.Helper()
	l := New(cfg)
	t.Cleanup(l.Stop)
	return l
}

func TestBurstThenDeny(t *testing.T) {
	l := newTestLimiter(t, Config{
		RequestsPerMinute: 60,
		BurstSize:         5,
		CleanupInterval:   time.Minute,
	})

	for i := 0; i < 5; i++ {
		if !l.Allow("10.9.8.7") {
			t.Fatalf("request %d within burst denied", i)
		}
	}
	if l.Allow("10.9.8.7") {
		t.Error("request past burst allowed")
	}
}

func TestBucketsAreIndependent(t *testing.T) {
	l := newTestLimiter(t, Config{
		RequestsPerMinute: 60,
		BurstSize:         3,
		CleanupInterval:   time.Minute,
	})

	for i := 0; i < 3; i++ {
		l.Allow("client-a")
	}
	if l.Allow("client-a") {
		t.Error("exhausted client not limited")
	}
	if !l.Allow("client-b") {
		t.Error("fresh client was limited by another client's bucket")
	}
}

func TestTokensRefillOverTime(t *testing.T) {
	l := newTestLimiter(t, Config{
		RequestsPerMinute: 600, // 10/s
		BurstSize:         1,
		CleanupInterval:   time.Minute,
	})

	if !l.Allow("k") {
		t.Fatal("first request denied")
	}
	if l.Allow("k") {
		t.Fatal("second immediate request allowed")
	}

	time.Sleep(110 * time.Millisecond)
	if !l.Allow("k") {
		t.Error("request after refill window denied")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.RequestsPerMinute != 60 || cfg.BurstSize != 10 || cfg.CleanupInterval != time.Minute {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
}
