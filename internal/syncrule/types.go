package syncrule

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RuleType distinguishes the two banded rule families.
type RuleType string

const (
	RuleTypeR2SizeWeight  RuleType = "R2_SIZE_WEIGHT"
	RuleTypeR3ColorMargin RuleType = "R3_COLOR_MARGIN"
)

// ParseRuleType validates and normalises a rule type string.
func ParseRuleType(s string) (RuleType, error) {
	switch RuleType(strings.ToUpper(strings.TrimSpace(s))) {
	case RuleTypeR2SizeWeight:
		return RuleTypeR2SizeWeight, nil
	case RuleTypeR3ColorMargin:
		return RuleTypeR3ColorMargin, nil
	}
	return "", fmt.Errorf("unknown rule type: %q", s)
}

// RuleSet groups banded delta rules for one channel.
type RuleSet struct {
	RuleSetID uuid.UUID `json:"rule_set_id"`
	ChannelID uuid.UUID `json:"channel_id"`
	SetName   string    `json:"set_name"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// R2Rule matches on material/category and a weight band, inclusive on
// both ends.
type R2Rule struct {
	RuleID       uuid.UUID `json:"rule_id"`
	RuleSetID    uuid.UUID `json:"rule_set_id"`
	MaterialCode *string   `json:"material_code,omitempty"`
	CategoryCode *string   `json:"category_code,omitempty"`
	WeightMinG   float64   `json:"weight_min_g"`
	WeightMaxG   float64   `json:"weight_max_g"`
	DeltaKRW     int64     `json:"delta_krw"`
	IsActive     bool      `json:"is_active"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// R3Rule matches on color and a margin band, inclusive on both ends.
type R3Rule struct {
	RuleID       uuid.UUID `json:"rule_id"`
	RuleSetID    uuid.UUID `json:"rule_set_id"`
	ColorCode    *string   `json:"color_code,omitempty"`
	MarginMinKRW int64     `json:"margin_min_krw"`
	MarginMaxKRW int64     `json:"margin_max_krw"`
	DeltaKRW     int64     `json:"delta_krw"`
	IsActive     bool      `json:"is_active"`
	UpdatedAt    time.Time `json:"updated_at"`
}
