package syncrule

import (
	"errors"
	"fmt"
)

// BulkStepKRW is the granularity bulk adjustments must respect.
const BulkStepKRW = 100

// ErrZeroDelta rejects bulk adjustments that would change nothing.
var ErrZeroDelta = errors.New("syncrule: bulk delta must not be zero")

// ValidateBulkDelta enforces the 100 KRW step granularity on bulk deltas.
func ValidateBulkDelta(deltaKRW int64) error {
	if deltaKRW == 0 {
		return ErrZeroDelta
	}
	if deltaKRW%BulkStepKRW != 0 {
		return fmt.Errorf("syncrule: bulk delta %d is not a multiple of %d KRW", deltaKRW, BulkStepKRW)
	}
	return nil
}

// R2Input is one item profile matched against size/weight rules.
type R2Input struct {
	MaterialCode string
	CategoryCode string
	WeightG      float64
}

// MatchesR2 reports whether a single rule applies to the input. Absent
// rule fields are wildcards; band bounds are inclusive.
func MatchesR2(rule R2Rule, in R2Input) bool {
	if !rule.IsActive {
		return false
	}
	if rule.MaterialCode != nil && *rule.MaterialCode != in.MaterialCode {
		return false
	}
	if rule.CategoryCode != nil && *rule.CategoryCode != in.CategoryCode {
		return false
	}
	return in.WeightG >= rule.WeightMinG && in.WeightG <= rule.WeightMaxG
}

// MatchR2 returns the rules applying to the input, preserving order.
func MatchR2(rules []R2Rule, in R2Input) []R2Rule {
	var matched []R2Rule
	for _, rule := range rules {
		if MatchesR2(rule, in) {
			matched = append(matched, rule)
		}
	}
	return matched
}

// DeltaR2 sums the deltas of all rules applying to the input.
func DeltaR2(rules []R2Rule, in R2Input) int64 {
	var delta int64
	for _, rule := range rules {
		if MatchesR2(rule, in) {
			delta += rule.DeltaKRW
		}
	}
	return delta
}

// R3Input is one item profile matched against color/margin rules.
type R3Input struct {
	ColorCode string
	MarginKRW int64
}

// MatchesR3 reports whether a single rule applies to the input.
func MatchesR3(rule R3Rule, in R3Input) bool {
	if !rule.IsActive {
		return false
	}
	if rule.ColorCode != nil && *rule.ColorCode != in.ColorCode {
		return false
	}
	return in.MarginKRW >= rule.MarginMinKRW && in.MarginKRW <= rule.MarginMaxKRW
}

// MatchR3 returns the rules applying to the input, preserving order.
func MatchR3(rules []R3Rule, in R3Input) []R3Rule {
	var matched []R3Rule
	for _, rule := range rules {
		if MatchesR3(rule, in) {
			matched = append(matched, rule)
		}
	}
	return matched
}

// DeltaR3 sums the deltas of all rules applying to the input.
func DeltaR3(rules []R3Rule, in R3Input) int64 {
	var delta int64
	for _, rule := range rules {
		if MatchesR3(rule, in) {
			delta += rule.DeltaKRW
		}
	}
	return delta
}
