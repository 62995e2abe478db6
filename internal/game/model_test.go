package game

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateSymbol(t *testing.T) {
	valid := []string{"ABC", "NIMBUS", "X1", "ABCDEFGHIJKL"}
	for _, s := range valid {
		if err := ValidateSymbol(s); err != nil {
			t.Fatalf("expected symbol %q to be valid: %v", s, err)
		}
	}

	invalid := []string{"", "abc", "AB-C", "ABCDEFGHIJKLM", "A B"}
	for _, s := range invalid {
		if err := ValidateSymbol(s); err == nil {
			t.Fatalf("expected symbol %q to fail", s)
		}
	}
}

func TestNormalizeSymbol(t *testing.T) {
	if got := NormalizeSymbol("  abc "); got != "ABC" {
		t.Fatalf("got %q", got)
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{in: "100", want: "100.000", ok: true},
		{in: " 12.3456 ", want: "12.346", ok: true},
		{in: "0", want: "0.000", ok: true},
		{in: "1e3", want: "1000.000", ok: true},
		{in: "", ok: false},
		{in: "abc", ok: false},
		{in: "12abc", ok: false},
		{in: "NaN", ok: false},
		{in: "Infinity", ok: false},
		{in: "-5", ok: false},
		{in: "1e400", ok: false},
		{in: "1e15", want: "1000000000000000.000", ok: true},
		{in: "1e16", ok: false},
		{in: "0.0000001", want: "0.000", ok: true},
		{in: "1e-2000000000", ok: false},
		{in: "1e2000000000", ok: false},
		{in: "1e-20000000", ok: false},
		{in: "0e-99999999", ok: false},
		{in: "1" + strings.Repeat("0", 60), ok: false},
	}
	for _, tc := range tests {
		got, err := ParseAmount(tc.in)
		if !tc.ok {
			if !errors.Is(err, ErrInvalidAmount) {
				t.Fatalf("ParseAmount(%q): expected ErrInvalidAmount, got %v", tc.in, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseAmount(%q): unexpected error %v", tc.in, err)
		}
		if got.StringFixed(3) != tc.want {
			t.Fatalf("ParseAmount(%q) = %s want %s", tc.in, got.StringFixed(3), tc.want)
		}
	}
}
