package token

import (
	"math/big"
	"testing"
)

func TestParse_ACE(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected int64
	}{
		{"one", "1.00", 1_000_000},
		{"half", "0.50", 500_000},
		{"hundred", "100", 100_000_000},
		{"smallest unit", "0.000001", 1},
		{"short frac", "1.5", 1_500_000},
		{"full precision", "1.123456", 1_123_456},
		{"leading zeros", "007.50", 7_500_000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Parse(tt.input, DenomACE)
			if !ok {
				t.Fatalf("Parse(%q) returned ok=false", tt.input)
			}
			if got.Int64() != tt.expected {
				t.Errorf("Parse(%q) = %d, want %d", tt.input, got.Int64(), tt.expected)
			}
		})
	}
}

func TestParse_ETH(t *testing.T) {
	got, ok := Parse("1", DenomETH)
	if !ok {
		t.Fatal("Parse(1, eth) returned ok=false")
	}
	want, _ := new(big.Int).SetString("1000000000000000000", 10)
	if got.Cmp(want) != 0 {
		t.Errorf("Parse(1, eth) = %s, want %s", got, want)
	}

	got, ok = Parse("0.000000000000000001", DenomETH)
	if !ok {
		t.Fatal("Parse(wei, eth) returned ok=false")
	}
	if got.Int64() != 1 {
		t.Errorf("Parse(wei, eth) = %s, want 1", got)
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []string{"-1", "1.2.3", "abc", "1.2a"}
	for _, input := range tests {
		if _, ok := Parse(input, DenomACE); ok {
			t.Errorf("Parse(%q) = ok, want invalid", input)
		}
	}
}

func TestParse_Empty(t *testing.T) {
	got, ok := Parse("", DenomACE)
	if !ok || got.Sign() != 0 {
		t.Errorf("Parse(\"\") = %v, %v, want 0, true", got, ok)
	}
}

func TestFormat(t *testing.T) {
	tests := []struct {
		amount   int64
		denom    Denom
		expected string
	}{
		{1_500_000, DenomACE, "1.500000"},
		{1, DenomACE, "0.000001"},
		{0, DenomACE, "0.000000"},
		{-2_000_000, DenomACE, "-2.000000"},
	}
	for _, tt := range tests {
		got := Format(big.NewInt(tt.amount), tt.denom)
		if got != tt.expected {
			t.Errorf("Format(%d, %s) = %q, want %q", tt.amount, tt.denom, got, tt.expected)
		}
	}

	if got := Format(nil, DenomACE); got != "0.000000" {
		t.Errorf("Format(nil) = %q, want 0.000000", got)
	}
}

func TestFormat_RoundTrip(t *testing.T) {
	for _, s := range []string{"0.000001", "1.500000", "123456.654321"} {
		parsed, ok := Parse(s, DenomACE)
		if !ok {
			t.Fatalf("Parse(%q) failed", s)
		}
		if got := Format(parsed, DenomACE); got != s {
			t.Errorf("round trip %q = %q", s, got)
		}
	}
}

func TestMul(t *testing.T) {
	price, _ := Parse("10", DenomACE)
	total := Mul(price, 3)
	if Format(total, DenomACE) != "30.000000" {
		t.Errorf("Mul(10, 3) = %s", Format(total, DenomACE))
	}
}

func TestFee(t *testing.T) {
	amount, _ := Parse("100", DenomACE)
	fee := Fee(amount, 250) // 2.5%
	if Format(fee, DenomACE) != "2.500000" {
		t.Errorf("Fee(100, 250bps) = %s", Format(fee, DenomACE))
	}

	if Fee(big.NewInt(0), 250).Sign() != 0 {
		t.Error("Fee(0) should be 0")
	}
}

func TestDenom_Valid(t *testing.T) {
	if !DenomACE.Valid() || !DenomETH.Valid() {
		t.Error("known denoms should be valid")
	}
	if Denom("usd").Valid() {
		t.Error("unknown denom should be invalid")
	}
}
