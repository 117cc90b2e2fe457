package id

import (
	"math/big"
	"testing"
)

func TestNormalizeAmountBaseUnits(t *testing.T) {
	base, dec, err := NormalizeAmount("1000000", "", 6)
	if err != nil {
		t.Fatalf("NormalizeAmount failed: %v", err)
	}
	if base != "1000000" || dec != "1" {
		t.Fatalf("unexpected result: base=%s dec=%s", base, dec)
	}
}

func TestNormalizeAmountDecimal(t *testing.T) {
	base, dec, err := NormalizeAmount("", "1.25", 6)
	if err != nil {
		t.Fatalf("NormalizeAmount failed: %v", err)
	}
	if base != "1250000" || dec != "1.25" {
		t.Fatalf("unexpected result: base=%s dec=%s", base, dec)
	}
}

func TestNormalizeAmountValidation(t *testing.T) {
	if _, _, err := NormalizeAmount("10", "1", 6); err == nil {
		t.Fatal("expected mutual exclusivity error")
	}
	if _, _, err := NormalizeAmount("", "1.1234567", 6); err == nil {
		t.Fatal("expected precision error")
	}
	if got := FormatDecimalCompat("0", 6); got != "0" {
		t.Fatalf("unexpected zero format: %s", got)
	}
}

func TestFormatUnits(t *testing.T) {
	v, _ := new(big.Int).SetString("1500000000000000000", 10)
	if got := FormatUnits(v, 18); got != "1.5" {
		t.Fatalf("unexpected format: %s", got)
	}
	if got := FormatUnits(nil, 6); got != "0" {
		t.Fatalf("unexpected nil format: %s", got)
	}
}

func TestNormalizeAmountHexBaseUnits(t *testing.T) {
	cases := []struct {
		in, base, dec string
	}{
		{"0xf4240", "1000000", "1"},
		{"0XF4240", "1000000", "1"},
		{"0x16e360", "1500000", "1.5"},
		{" 0x1 ", "1", "0.000001"},
	}
	for _, tc := range cases {
		base, dec, err := NormalizeAmount(tc.in, "", 6)
		if err != nil {
			t.Fatalf("NormalizeAmount(%q) failed: %v", tc.in, err)
		}
		if base != tc.base || dec != tc.dec {
			t.Fatalf("NormalizeAmount(%q): base=%s dec=%s, want %s %s", tc.in, base, dec, tc.base, tc.dec)
		}
	}
}

func TestNormalizeAmountRejectsBadBaseUnits(t *testing.T) {
	for _, in := range []string{"-5", "0xzz", "1.5", "abc"} {
		if _, _, err := NormalizeAmount(in, "", 6); err == nil {
			t.Fatalf("expected error for %q", in)
		}
	}
}

func TestNormalizeAmountDecimalCanonicalForm(t *testing.T) {
	base, dec, err := NormalizeAmount("", "001.500", 6)
	if err != nil {
		t.Fatalf("NormalizeAmount failed: %v", err)
	}
	if base != "1500000" || dec != "1.5" {
		t.Fatalf("unexpected result: base=%s dec=%s", base, dec)
	}
	base, dec, err = NormalizeAmount("", "0.0", 6)
	if err != nil {
		t.Fatalf("NormalizeAmount failed: %v", err)
	}
	if base != "0" || dec != "0" {
		t.Fatalf("unexpected zero result: base=%s dec=%s", base, dec)
	}
}

func TestFormatDecimalCompatAcceptsHex(t *testing.T) {
	if got := FormatDecimalCompat("0x0de0b6b3a7640000", 18); got != "1" {
		t.Fatalf("unexpected hex format: %s", got)
	}
	if got := FormatDecimalCompat("not-a-number", 6); got != "0" {
		t.Fatalf("unexpected fallback: %s", got)
	}
	if got := FormatUnits(big.NewInt(-1500000), 6); got != "-1.5" {
		t.Fatalf("unexpected negative format: %s", got)
	}
}
