package pricing

import "math"

// floatDriftTolerance absorbs the residue left by chained float64
// multiplications so an exact multiple of the unit is never bumped
// a full unit up or down.
const floatDriftTolerance = 1e-9

// RoundTo snaps amount to a multiple of unit using the given mode.
// ROUND resolves ties away from zero.
func RoundTo(amount float64, unit int64, mode RoundingMode) int64 {
	if unit <= 0 {
		unit = 1
	}
	q := amount / float64(unit)
	if nearest := math.Round(q); math.Abs(q-nearest) < floatDriftTolerance {
		q = nearest
	}
	var snapped float64
	switch mode {
	case RoundCeil:
		snapped = math.Ceil(q)
	case RoundFloor:
		snapped = math.Floor(q)
	default:
		snapped = math.Round(q)
	}
	return int64(snapped) * unit
}
