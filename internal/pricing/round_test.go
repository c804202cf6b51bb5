package pricing

import "testing"

func TestRoundToTable(t *testing.T) {
	cases := []struct {
		name   string
		amount float64
		unit   int64
		mode   RoundingMode
		want   int64
	}{
		{"ceil bumps partial unit", 12450, 1000, RoundCeil, 13000},
		{"floor drops partial unit", 12450, 1000, RoundFloor, 12000},
		{"round below half goes down", 12450, 1000, RoundHalf, 12000},
		{"round at half goes up", 12500, 1000, RoundHalf, 13000},
		{"ceil exact multiple unchanged", 12000, 1000, RoundCeil, 12000},
		{"floor exact multiple unchanged", 12000, 1000, RoundFloor, 12000},
		{"round exact multiple unchanged", 12000, 1000, RoundHalf, 12000},
		{"unit of 100", 12340, 100, RoundCeil, 12400},
		{"unit of 10", 12344, 10, RoundFloor, 12340},
		{"negative half rounds away from zero", -12500, 1000, RoundHalf, -13000},
		{"negative ceil goes toward zero", -12450, 1000, RoundCeil, -12000},
		{"negative floor goes away from zero", -12450, 1000, RoundFloor, -13000},
		{"zero amount", 0, 1000, RoundCeil, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := RoundTo(tc.amount, tc.unit, tc.mode)
			if got != tc.want {
				t.Fatalf("RoundTo(%v, %d, %s) = %d, want %d", tc.amount, tc.unit, tc.mode, got, tc.want)
			}
		})
	}
}

func TestRoundToIdempotent(t *testing.T) {
	for _, mode := range []RoundingMode{RoundCeil, RoundHalf, RoundFloor} {
		first := RoundTo(37700, 1000, mode)
		second := RoundTo(float64(first), 1000, mode)
		if first != second {
			t.Fatalf("mode %s: re-rounding %d changed value to %d", mode, first, second)
		}
	}
}

func TestRoundToAbsorbsFloatDrift(t *testing.T) {
	// 11550 * 1.3 style chains leave residue just above the multiple.
	drifted := 12000.0000000001
	if got := RoundTo(drifted, 1000, RoundCeil); got != 12000 {
		t.Fatalf("ceil of drifted exact multiple = %d, want 12000", got)
	}
	drifted = 11999.9999999999
	if got := RoundTo(drifted, 1000, RoundFloor); got != 12000 {
		t.Fatalf("floor of drifted exact multiple = %d, want 12000", got)
	}
}

func TestRoundToUnitFallback(t *testing.T) {
	if got := RoundTo(1234.6, 0, RoundHalf); got != 1235 {
		t.Fatalf("unit fallback = %d, want 1235", got)
	}
}
