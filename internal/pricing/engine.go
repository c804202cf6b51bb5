package pricing

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/seorin-works/backend-atelier/internal/common"
)

// ErrPolicyNotFound is returned when a channel has no active pricing policy.
var ErrPolicyNotFound = errors.New("pricing: no active policy for channel")

// ErrRateNotFound is returned when no market rate exists for a material code.
var ErrRateNotFound = errors.New("pricing: material rate not found")

// Store defines the read operations the quote pipeline needs.
type Store interface {
	ActivePolicy(ctx context.Context, channelID uuid.UUID) (Policy, error)
	GlobalDefaultFactorSet(ctx context.Context) (uuid.UUID, bool, error)
	FactorMultiplier(ctx context.Context, factorSetID uuid.UUID, materialCode string) (float64, bool, error)
	MaterialRate(ctx context.Context, materialCode string) (float64, error)
	ActiveAdjustments(ctx context.Context, channelID uuid.UUID, channelProductID *string, masterItemID uuid.UUID, now time.Time) ([]Adjustment, error)
	ActiveOverrides(ctx context.Context, channelID, masterItemID uuid.UUID, now time.Time) ([]Override, error)
}

// QuoteRequest carries the inputs for one price derivation.
type QuoteRequest struct {
	ChannelID        uuid.UUID `json:"channel_id" validate:"required"`
	MasterItemID     uuid.UUID `json:"master_item_id" validate:"required"`
	ChannelProductID *string   `json:"channel_product_id,omitempty"`
	MaterialCode     string    `json:"material_code" validate:"required"`
	WeightG          float64   `json:"weight_g" validate:"gt=0"`
	LaborKRW         int64     `json:"labor_krw" validate:"gte=0"`
	Quantity         int       `json:"quantity" validate:"gte=1"`
}

// QuoteStep records one adjustment application for the derivation trace.
type QuoteStep struct {
	AdjustmentID uuid.UUID  `json:"adjustment_id"`
	Stage        Stage      `json:"stage"`
	ApplyTo      ApplyTo    `json:"apply_to"`
	AmountType   AmountType `json:"amount_type"`
	AmountValue  float64    `json:"amount_value"`
	LaborBefore  float64    `json:"labor_before"`
	LaborAfter   float64    `json:"labor_after"`
	TotalBefore  float64    `json:"total_before"`
	TotalAfter   float64    `json:"total_after"`
}

// Quote is the outcome of one price derivation.
type Quote struct {
	ChannelID     uuid.UUID   `json:"channel_id"`
	MasterItemID  uuid.UUID   `json:"master_item_id"`
	PolicyID      uuid.UUID   `json:"policy_id"`
	FactorSetID   *uuid.UUID  `json:"factor_set_id,omitempty"`
	Factor        float64     `json:"factor"`
	RatePerGram   float64     `json:"rate_krw_per_g"`
	BilledWeightG float64     `json:"billed_weight_g"`
	MaterialCost  float64     `json:"material_cost_krw"`
	LaborCost     float64     `json:"labor_cost_krw"`
	RawTotal      float64     `json:"raw_total_krw"`
	UnitPriceKRW  int64       `json:"unit_price_krw"`
	Quantity      int         `json:"quantity"`
	LineTotalKRW  int64       `json:"line_total_krw"`
	Overridden    bool        `json:"overridden"`
	OverrideID    *uuid.UUID  `json:"override_id,omitempty"`
	Steps         []QuoteStep `json:"steps"`
	ComputedAt    time.Time   `json:"computed_at"`
}

// Engine derives channel selling prices. All intermediates are float64;
// integer won appear only in the request and in the rounded outputs.
type Engine struct {
	Store  Store
	Cache  *PolicyCache
	Logger zerolog.Logger
	Now    func() time.Time
}

// Quote runs the full derivation for one item on one channel.
//
// The pipeline is: resolve policy, resolve material factor, compute the
// base material cost, fold PRE_MARGIN adjustments, apply the margin
// multiplier, fold POST_MARGIN adjustments, round, then let any active
// override replace the rounded unit price verbatim.
func (e *Engine) Quote(ctx context.Context, req QuoteRequest) (Quote, error) {
	if err := validateQuoteRequest(req); err != nil {
		return Quote{}, err
	}
	now := e.now()

	policy, err := e.resolvePolicy(ctx, req.ChannelID)
	if err != nil {
		return Quote{}, err
	}

	factorSetID, factor, err := e.resolveFactor(ctx, policy, req.MaterialCode)
	if err != nil {
		return Quote{}, err
	}

	rate, err := e.Store.MaterialRate(ctx, req.MaterialCode)
	if err != nil {
		if errors.Is(err, ErrRateNotFound) {
			return Quote{}, common.NewAppError(common.CodeNotFound,
				"no market rate registered for material "+req.MaterialCode, http.StatusNotFound, err)
		}
		return Quote{}, err
	}

	weight := req.WeightG
	if is18K(req.MaterialCode) {
		weight *= policy.Weight18KMultiplier
	}

	material := weight * rate * factor
	labor := float64(req.LaborKRW)
	total := material + labor

	adjustments, err := e.Store.ActiveAdjustments(ctx, req.ChannelID, req.ChannelProductID, req.MasterItemID, now)
	if err != nil {
		return Quote{}, err
	}
	sortAdjustments(adjustments)

	steps := make([]QuoteStep, 0, len(adjustments))
	labor, total, steps = foldStage(adjustments, StagePreMargin, labor, total, steps)

	labor *= policy.MarginMultiplier
	total *= policy.MarginMultiplier

	labor, total, steps = foldStage(adjustments, StagePostMargin, labor, total, steps)

	unit := RoundTo(total, policy.RoundingUnit, policy.RoundingMode)

	quote := Quote{
		ChannelID:     req.ChannelID,
		MasterItemID:  req.MasterItemID,
		PolicyID:      policy.PolicyID,
		FactorSetID:   factorSetID,
		Factor:        factor,
		RatePerGram:   rate,
		BilledWeightG: weight,
		MaterialCost:  material,
		LaborCost:     labor,
		RawTotal:      total,
		UnitPriceKRW:  unit,
		Quantity:      req.Quantity,
		Steps:         steps,
		ComputedAt:    now,
	}

	overrides, err := e.Store.ActiveOverrides(ctx, req.ChannelID, req.MasterItemID, now)
	if err != nil {
		return Quote{}, err
	}
	if len(overrides) > 0 {
		winner := pickOverride(overrides)
		if len(overrides) > 1 {
			e.Logger.Warn().
				Str("channel_id", req.ChannelID.String()).
				Str("master_item_id", req.MasterItemID.String()).
				Int("candidates", len(overrides)).
				Str("override_id", winner.OverrideID.String()).
				Msg("multiple active overrides, lowest id wins")
		}
		id := winner.OverrideID
		quote.Overridden = true
		quote.OverrideID = &id
		quote.UnitPriceKRW = winner.OverridePriceKRW
	}

	quote.LineTotalKRW = quote.UnitPriceKRW * int64(quote.Quantity)
	return quote, nil
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Engine) resolvePolicy(ctx context.Context, channelID uuid.UUID) (Policy, error) {
	if e.Cache != nil {
		if policy, ok := e.Cache.Get(ctx, channelID); ok {
			return policy, nil
		}
	}
	policy, err := e.Store.ActivePolicy(ctx, channelID)
	if err != nil {
		if errors.Is(err, ErrPolicyNotFound) {
			return Policy{}, common.NewAppError(common.CodePolicyNotFound,
				"no active pricing policy for channel", http.StatusUnprocessableEntity, err)
		}
		return Policy{}, err
	}
	if e.Cache != nil {
		e.Cache.Set(ctx, policy)
	}
	return policy, nil
}

func (e *Engine) resolveFactor(ctx context.Context, policy Policy, materialCode string) (*uuid.UUID, float64, error) {
	setID := policy.FactorSetID
	if setID == nil {
		globalID, ok, err := e.Store.GlobalDefaultFactorSet(ctx)
		if err != nil {
			return nil, 0, err
		}
		if !ok {
			return nil, 1.0, nil
		}
		setID = &globalID
	}
	factor, ok, err := e.Store.FactorMultiplier(ctx, *setID, materialCode)
	if err != nil {
		return nil, 0, err
	}
	if !ok {
		return setID, 1.0, nil
	}
	return setID, factor, nil
}

func validateQuoteRequest(req QuoteRequest) error {
	switch {
	case req.ChannelID == uuid.Nil:
		return common.ValidationError("channel_id", "channel_id is required")
	case req.MasterItemID == uuid.Nil:
		return common.ValidationError("master_item_id", "master_item_id is required")
	case strings.TrimSpace(req.MaterialCode) == "":
		return common.ValidationError("material_code", "material_code is required")
	case req.WeightG <= 0:
		return common.ValidationError("weight_g", "weight_g must be positive")
	case req.LaborKRW < 0:
		return common.ValidationError("labor_krw", "labor_krw must not be negative")
	case req.Quantity < 1:
		return common.ValidationError("quantity", "quantity must be at least 1")
	}
	return nil
}

// sortAdjustments orders by priority then id so equal priorities fold
// in a stable, reproducible order.
func sortAdjustments(adjustments []Adjustment) {
	sort.SliceStable(adjustments, func(i, j int) bool {
		if adjustments[i].Priority != adjustments[j].Priority {
			return adjustments[i].Priority < adjustments[j].Priority
		}
		return adjustments[i].AdjustmentID.String() < adjustments[j].AdjustmentID.String()
	})
}

func foldStage(adjustments []Adjustment, stage Stage, labor, total float64, steps []QuoteStep) (float64, float64, []QuoteStep) {
	for _, adj := range adjustments {
		if adj.Stage != stage {
			continue
		}
		step := QuoteStep{
			AdjustmentID: adj.AdjustmentID,
			Stage:        adj.Stage,
			ApplyTo:      adj.ApplyTo,
			AmountType:   adj.AmountType,
			AmountValue:  adj.AmountValue,
			LaborBefore:  labor,
			TotalBefore:  total,
		}
		switch adj.ApplyTo {
		case ApplyToLabor:
			labor = applyAmount(labor, adj)
		case ApplyToTotal:
			total = applyAmount(total, adj)
		}
		step.LaborAfter = labor
		step.TotalAfter = total
		steps = append(steps, step)
	}
	return labor, total, steps
}

func applyAmount(value float64, adj Adjustment) float64 {
	switch adj.AmountType {
	case AmountAbsoluteKRW:
		return value + adj.AmountValue
	case AmountPercent:
		return value * (1 + adj.AmountValue)
	}
	return value
}

// pickOverride resolves concurrent overrides deterministically: the
// earliest created row wins, with the id as tie-break. Ids are random
// UUIDs, so they order nothing on their own.
func pickOverride(overrides []Override) Override {
	winner := overrides[0]
	for _, candidate := range overrides[1:] {
		if candidate.CreatedAt.Before(winner.CreatedAt) {
			winner = candidate
			continue
		}
		if candidate.CreatedAt.Equal(winner.CreatedAt) &&
			candidate.OverrideID.String() < winner.OverrideID.String() {
			winner = candidate
		}
	}
	return winner
}

func is18K(materialCode string) bool {
	upper := strings.ToUpper(strings.TrimSpace(materialCode))
	return strings.Contains(upper, "18K") || upper == "AU750"
}
