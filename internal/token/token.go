// Package token provides shared amount parsing and formatting for the
// two settlement denominations.
//
// ACE (the platform token) uses 6 decimal places; native ETH uses 18.
// All amounts are stored as big.Int in the smallest unit of their
// denomination and travel through the API as decimal strings.
package token

import (
	"math/big"
	"strings"
)

// Denom identifies a settlement denomination.
type Denom string

const (
	DenomACE Denom = "ace"
	DenomETH Denom = "eth"
)

const (
	ACEDecimals = 6
	ETHDecimals = 18
)

// Valid reports whether d is a known denomination.
func (d Denom) Valid() bool {
	return d == DenomACE || d == DenomETH
}

// Decimals returns the number of decimal places for the denomination.
func (d Denom) Decimals() int {
	if d == DenomETH {
		return ETHDecimals
	}
	return ACEDecimals
}

// Parse converts a decimal string (e.g. "1.50") to its smallest-unit
// big.Int representation for the given denomination. Returns (nil, false)
// on invalid input.
//
// Rules:
//   - Empty string returns (0, true)
//   - Negative amounts are rejected
//   - Multiple decimal points are rejected
//   - Fractional parts are padded/truncated to the denomination's decimals
func Parse(s string, d Denom) (*big.Int, bool) {
	if s == "" {
		return big.NewInt(0), true
	}

	if strings.HasPrefix(s, "-") {
		return nil, false
	}

	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return nil, false
	}
	whole := parts[0]
	frac := ""
	if len(parts) > 1 {
		frac = parts[1]
	}

	decimals := d.Decimals()
	for len(frac) < decimals {
		frac += "0"
	}
	frac = frac[:decimals]

	combined := whole + frac
	result, ok := new(big.Int).SetString(combined, 10)
	return result, ok
}

// Format converts a smallest-unit big.Int to a decimal string with the
// denomination's full precision (e.g. "1.500000" for ACE).
func Format(amount *big.Int, d Denom) string {
	decimals := d.Decimals()
	if amount == nil {
		return "0." + strings.Repeat("0", decimals)
	}
	neg := amount.Sign() < 0
	abs := new(big.Int).Abs(amount)
	s := abs.String()
	for len(s) < decimals+1 {
		s = "0" + s
	}
	split := len(s) - decimals
	result := s[:split] + "." + s[split:]
	if neg {
		result = "-" + result
	}
	return result
}

// Mul returns price multiplied by a unit quantity, in smallest units.
func Mul(price *big.Int, quantity int64) *big.Int {
	return new(big.Int).Mul(price, big.NewInt(quantity))
}

// Fee returns amount * bps / 10000, rounded down.
func Fee(amount *big.Int, bps int64) *big.Int {
	fee := new(big.Int).Mul(amount, big.NewInt(bps))
	return fee.Div(fee, big.NewInt(10000))
}
