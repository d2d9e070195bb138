package utils

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestCalculateVATAmountRoundsToPennies(t *testing.T) {
	cases := []struct {
		net  string
		want string
	}{
		{"450.00", "90.00"},
		{"120.50", "24.10"},
		{"0.33", "0.07"},
		{"0.01", "0.00"},
		{"0", "0.00"},
	}
	for _, tc := range cases {
		net, err := decimal.NewFromString(tc.net)
		if err != nil {
			t.Fatalf("bad fixture %q: %v", tc.net, err)
		}
		got := CalculateVATAmount(net, StandardVATRate).StringFixed(2)
		if got != tc.want {
			t.Fatalf("VAT on %s = %s, want %s", tc.net, got, tc.want)
		}
	}
}

// Backing the net out of a VAT-inclusive figure and re-adding VAT must land
// on the original gross, or schedule totals drift from invoiced amounts.
func TestGrossNetRoundTrip(t *testing.T) {
	for _, grossStr := range []string{"540.00", "144.60", "100.00", "0.40"} {
		gross, err := decimal.NewFromString(grossStr)
		if err != nil {
			t.Fatalf("bad fixture %q: %v", grossStr, err)
		}
		net := NetFromGross(gross, StandardVATRate)
		back := GrossFromNet(net, StandardVATRate)
		if !back.Equal(gross) {
			t.Fatalf("gross %s -> net %s -> gross %s", gross, net, back)
		}
	}
}
