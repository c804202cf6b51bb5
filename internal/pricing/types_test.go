package pricing

import (
	"testing"
	"time"
)

func TestEnumParsingNormalises(t *testing.T) {
	if mode, err := ParseRoundingMode(" ceil "); err != nil || mode != RoundCeil {
		t.Fatalf("ParseRoundingMode = %v, %v", mode, err)
	}
	if _, err := ParseRoundingMode("TRUNCATE"); err == nil {
		t.Fatal("expected error for unknown rounding mode")
	}
	if stage, err := ParseStage("post_margin"); err != nil || stage != StagePostMargin {
		t.Fatalf("ParseStage = %v, %v", stage, err)
	}
	if applyTo, err := ParseApplyTo("TOTAL"); err != nil || applyTo != ApplyToTotal {
		t.Fatalf("ParseApplyTo = %v, %v", applyTo, err)
	}
	if amountType, err := ParseAmountType("absolute_krw"); err != nil || amountType != AmountAbsoluteKRW {
		t.Fatalf("ParseAmountType = %v, %v", amountType, err)
	}
	if _, err := ParseAmountType(""); err == nil {
		t.Fatal("expected error for empty amount type")
	}
}

func TestAdjustmentValidityWindow(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	from := now.Add(-time.Hour)
	to := now.Add(time.Hour)

	cases := []struct {
		name string
		adj  Adjustment
		want bool
	}{
		{"open ended active", Adjustment{IsActive: true}, true},
		{"inside window", Adjustment{IsActive: true, ValidFrom: &from, ValidTo: &to}, true},
		{"before window", Adjustment{IsActive: true, ValidFrom: &to}, false},
		{"after window", Adjustment{IsActive: true, ValidTo: &from}, false},
		{"inactive", Adjustment{IsActive: false}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.adj.AppliesAt(now); got != tc.want {
				t.Fatalf("AppliesAt = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestPolicyValidate(t *testing.T) {
	valid := Policy{MarginMultiplier: 1.3, RoundingUnit: 1000, RoundingMode: RoundCeil, Weight18KMultiplier: 1.05}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid policy rejected: %v", err)
	}
	broken := valid
	broken.RoundingUnit = 0
	if err := broken.Validate(); err == nil {
		t.Fatal("expected error for zero rounding unit")
	}
	broken = valid
	broken.MarginMultiplier = -1
	if err := broken.Validate(); err == nil {
		t.Fatal("expected error for negative margin")
	}
}
