package validation

import (
	"testing"
)

func TestIsValidAddress(t *testing.T) {
	tests := []struct {
		addr  string
		valid bool
	}{
		{"0x1234567890123456789012345678901234567890", true},
		{"0xabcdefABCDEF1234567890123456789012345678", true},
		{"0x0000000000000000000000000000000000000000", true},

		// Invalid cases
		{"1234567890123456789012345678901234567890", false},     // No 0x
		{"0x12345678901234567890123456789012345678", false},     // Too short
		{"0x123456789012345678901234567890123456789012", false}, // Too long
		{"0xGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGG", false},   // Invalid chars
		{"", false},
		{"0x", false},
	}

	for _, tc := range tests {
		result := IsValidAddress(tc.addr)
		if result != tc.valid {
			t.Errorf("IsValidAddress(%q) = %v, want %v", tc.addr, result, tc.valid)
		}
	}
}

func TestSanitizeAddress(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"0xABCDEF1234567890123456789012345678901234", "0xabcdef1234567890123456789012345678901234"},
		{"  0xabc  ", "0xabc"},
		{"abcdef1234567890123456789012345678901234", "0xabcdef1234567890123456789012345678901234"},
	}
	for _, tc := range tests {
		if got := SanitizeAddress(tc.input); got != tc.expected {
			t.Errorf("SanitizeAddress(%q) = %q, want %q", tc.input, got, tc.expected)
		}
	}
}

func TestSanitizeString(t *testing.T) {
	if got := SanitizeString("  hello\x00world  ", 100); got != "helloworld" {
		t.Errorf("SanitizeString = %q", got)
	}
	if got := SanitizeString("abcdef", 3); got != "abc" {
		t.Errorf("SanitizeString truncation = %q", got)
	}
}

func TestValidAmount(t *testing.T) {
	valid := []string{"1", "0.5", "100.123456", "0.000001"}
	for _, v := range valid {
		if errs := Validate(ValidAmount("amount", v)); len(errs) != 0 {
			t.Errorf("ValidAmount(%q) unexpected errors: %v", v, errs)
		}
	}

	invalid := []string{"0", "0.000", "-1", "1.2.3", ".5", "5.", "abc"}
	for _, v := range invalid {
		if errs := Validate(ValidAmount("amount", v)); len(errs) == 0 {
			t.Errorf("ValidAmount(%q) expected error", v)
		}
	}
}

func TestNonNegativeAmount(t *testing.T) {
	valid := []string{"", "0", "0.0", "5.25"}
	for _, v := range valid {
		if errs := Validate(NonNegativeAmount("topUp", v)); len(errs) != 0 {
			t.Errorf("NonNegativeAmount(%q) unexpected errors: %v", v, errs)
		}
	}
	invalid := []string{"-1", "1.2.3", "x"}
	for _, v := range invalid {
		if errs := Validate(NonNegativeAmount("topUp", v)); len(errs) == 0 {
			t.Errorf("NonNegativeAmount(%q) expected error", v)
		}
	}
}

func TestPositiveQuantity(t *testing.T) {
	if errs := Validate(PositiveQuantity("quantity", 3)); len(errs) != 0 {
		t.Errorf("unexpected errors: %v", errs)
	}
	if errs := Validate(PositiveQuantity("quantity", 0)); len(errs) == 0 {
		t.Error("expected error for zero quantity")
	}
	if errs := Validate(PositiveQuantity("quantity", -2)); len(errs) == 0 {
		t.Error("expected error for negative quantity")
	}
}

func TestValidate_CollectsMultiple(t *testing.T) {
	errs := Validate(
		Required("buyer", ""),
		ValidAddress("seller", "nope"),
	)
	if len(errs) != 2 {
		t.Fatalf("expected 2 errors, got %d", len(errs))
	}
	if errs.Error() == "" {
		t.Error("expected non-empty error string")
	}
}
