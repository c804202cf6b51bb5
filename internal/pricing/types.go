package pricing

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RoundingMode selects how a computed price is snapped to the rounding unit.
type RoundingMode string

const (
	RoundCeil  RoundingMode = "CEIL"
	RoundHalf  RoundingMode = "ROUND"
	RoundFloor RoundingMode = "FLOOR"
)

// ParseRoundingMode validates and normalises a rounding mode string.
func ParseRoundingMode(s string) (RoundingMode, error) {
	switch RoundingMode(strings.ToUpper(strings.TrimSpace(s))) {
	case RoundCeil:
		return RoundCeil, nil
	case RoundHalf:
		return RoundHalf, nil
	case RoundFloor:
		return RoundFloor, nil
	}
	return "", fmt.Errorf("unknown rounding mode: %q", s)
}

// Stage is the point in the pipeline at which an adjustment applies.
type Stage string

const (
	StagePreMargin  Stage = "PRE_MARGIN"
	StagePostMargin Stage = "POST_MARGIN"
)

// ParseStage validates and normalises a stage string.
func ParseStage(s string) (Stage, error) {
	switch Stage(strings.ToUpper(strings.TrimSpace(s))) {
	case StagePreMargin:
		return StagePreMargin, nil
	case StagePostMargin:
		return StagePostMargin, nil
	}
	return "", fmt.Errorf("unknown adjustment stage: %q", s)
}

// ApplyTo is the running value an adjustment mutates.
type ApplyTo string

const (
	ApplyToLabor ApplyTo = "LABOR"
	ApplyToTotal ApplyTo = "TOTAL"
)

// ParseApplyTo validates and normalises an apply-to string.
func ParseApplyTo(s string) (ApplyTo, error) {
	switch ApplyTo(strings.ToUpper(strings.TrimSpace(s))) {
	case ApplyToLabor:
		return ApplyToLabor, nil
	case ApplyToTotal:
		return ApplyToTotal, nil
	}
	return "", fmt.Errorf("unknown apply_to: %q", s)
}

// AmountType distinguishes flat won amounts from percentage factors.
type AmountType string

const (
	AmountAbsoluteKRW AmountType = "ABSOLUTE_KRW"
	AmountPercent     AmountType = "PERCENT"
)

// ParseAmountType validates and normalises an amount type string.
func ParseAmountType(s string) (AmountType, error) {
	switch AmountType(strings.ToUpper(strings.TrimSpace(s))) {
	case AmountAbsoluteKRW:
		return AmountAbsoluteKRW, nil
	case AmountPercent:
		return AmountPercent, nil
	}
	return "", fmt.Errorf("unknown amount type: %q", s)
}

// Policy holds the per-channel derivation parameters.
type Policy struct {
	PolicyID            uuid.UUID    `json:"policy_id"`
	ChannelID           uuid.UUID    `json:"channel_id"`
	PolicyName          string       `json:"policy_name"`
	MarginMultiplier    float64      `json:"margin_multiplier"`
	RoundingUnit        int64        `json:"rounding_unit"`
	RoundingMode        RoundingMode `json:"rounding_mode"`
	Weight18KMultiplier float64      `json:"option_18k_weight_multiplier"`
	FactorSetID         *uuid.UUID   `json:"material_factor_set_id,omitempty"`
	IsActive            bool         `json:"is_active"`
	CreatedAt           time.Time    `json:"created_at"`
	UpdatedAt           time.Time    `json:"updated_at"`
}

// Validate checks the parameter ranges a policy must satisfy.
func (p Policy) Validate() error {
	if p.MarginMultiplier <= 0 {
		return fmt.Errorf("margin_multiplier must be positive, got %v", p.MarginMultiplier)
	}
	if p.RoundingUnit <= 0 {
		return fmt.Errorf("rounding_unit must be positive, got %d", p.RoundingUnit)
	}
	if _, err := ParseRoundingMode(string(p.RoundingMode)); err != nil {
		return err
	}
	if p.Weight18KMultiplier <= 0 {
		return fmt.Errorf("option_18k_weight_multiplier must be positive, got %v", p.Weight18KMultiplier)
	}
	return nil
}

// Adjustment is one additive or multiplicative price modifier scoped to
// a channel product or a master item.
type Adjustment struct {
	AdjustmentID     uuid.UUID  `json:"adjustment_id"`
	ChannelID        uuid.UUID  `json:"channel_id"`
	ChannelProductID *string    `json:"channel_product_id,omitempty"`
	MasterItemID     *uuid.UUID `json:"master_item_id,omitempty"`
	Stage            Stage      `json:"stage"`
	ApplyTo          ApplyTo    `json:"apply_to"`
	AmountType       AmountType `json:"amount_type"`
	AmountValue      float64    `json:"amount_value"`
	Priority         int        `json:"priority"`
	ValidFrom        *time.Time `json:"valid_from,omitempty"`
	ValidTo          *time.Time `json:"valid_to,omitempty"`
	IsActive         bool       `json:"is_active"`
	Memo             string     `json:"memo,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// AppliesAt reports whether the adjustment is live at the given instant.
func (a Adjustment) AppliesAt(now time.Time) bool {
	if !a.IsActive {
		return false
	}
	if a.ValidFrom != nil && now.Before(*a.ValidFrom) {
		return false
	}
	if a.ValidTo != nil && now.After(*a.ValidTo) {
		return false
	}
	return true
}

// Override pins a final selling price, bypassing the derivation entirely.
type Override struct {
	OverrideID       uuid.UUID  `json:"override_id"`
	ChannelID        uuid.UUID  `json:"channel_id"`
	MasterItemID     uuid.UUID  `json:"master_item_id"`
	OverridePriceKRW int64      `json:"override_price_krw"`
	Reason           string     `json:"reason,omitempty"`
	ValidFrom        *time.Time `json:"valid_from,omitempty"`
	ValidTo          *time.Time `json:"valid_to,omitempty"`
	IsActive         bool       `json:"is_active"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// AppliesAt reports whether the override is live at the given instant.
func (o Override) AppliesAt(now time.Time) bool {
	if !o.IsActive {
		return false
	}
	if o.ValidFrom != nil && now.Before(*o.ValidFrom) {
		return false
	}
	if o.ValidTo != nil && now.After(*o.ValidTo) {
		return false
	}
	return true
}
