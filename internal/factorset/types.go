package factorset

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Scope says whether a factor set applies everywhere or to one channel.
type Scope string

const (
	ScopeGlobal  Scope = "GLOBAL"
	ScopeChannel Scope = "CHANNEL"
)

// ParseScope validates and normalises a scope string.
func ParseScope(s string) (Scope, error) {
	switch Scope(strings.ToUpper(strings.TrimSpace(s))) {
	case ScopeGlobal:
		return ScopeGlobal, nil
	case ScopeChannel:
		return ScopeChannel, nil
	}
	return "", fmt.Errorf("unknown factor set scope: %q", s)
}

// FactorSet is a named collection of per-material multipliers.
type FactorSet struct {
	FactorSetID     uuid.UUID  `json:"factor_set_id"`
	SetName         string     `json:"set_name"`
	Scope           Scope      `json:"scope"`
	ChannelID       *uuid.UUID `json:"channel_id,omitempty"`
	IsGlobalDefault bool       `json:"is_global_default"`
	IsActive        bool       `json:"is_active"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Factor is one per-material multiplier inside a set.
type Factor struct {
	FactorSetID  uuid.UUID `json:"factor_set_id"`
	MaterialCode string    `json:"material_code"`
	Multiplier   float64   `json:"multiplier"`
	Note         string    `json:"note,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// MaterialRate is the market base rate for a material, in KRW per gram.
type MaterialRate struct {
	MaterialCode string    `json:"material_code"`
	RateKRWPerG  float64   `json:"rate_krw_per_g"`
	UpdatedAt    time.Time `json:"updated_at"`
}
