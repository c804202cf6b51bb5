package pricing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/seorin-works/backend-atelier/internal/common"
)

type fakeQuoteStore struct {
	policy      Policy
	policyErr   error
	defaultSet  uuid.UUID
	hasDefault  bool
	factors     map[string]float64
	rates       map[string]float64
	adjustments []Adjustment
	overrides   []Override
}

func (f *fakeQuoteStore) ActivePolicy(_ context.Context, _ uuid.UUID) (Policy, error) {
	if f.policyErr != nil {
		return Policy{}, f.policyErr
	}
	return f.policy, nil
}

func (f *fakeQuoteStore) GlobalDefaultFactorSet(_ context.Context) (uuid.UUID, bool, error) {
	return f.defaultSet, f.hasDefault, nil
}

func (f *fakeQuoteStore) FactorMultiplier(_ context.Context, _ uuid.UUID, materialCode string) (float64, bool, error) {
	factor, ok := f.factors[materialCode]
	return factor, ok, nil
}

func (f *fakeQuoteStore) MaterialRate(_ context.Context, materialCode string) (float64, error) {
	rate, ok := f.rates[materialCode]
	if !ok {
		return 0, ErrRateNotFound
	}
	return rate, nil
}

func (f *fakeQuoteStore) ActiveAdjustments(_ context.Context, _ uuid.UUID, _ *string, _ uuid.UUID, _ time.Time) ([]Adjustment, error) {
	return f.adjustments, nil
}

func (f *fakeQuoteStore) ActiveOverrides(_ context.Context, _, _ uuid.UUID, _ time.Time) ([]Override, error) {
	return f.overrides, nil
}

var (
	testChannel = uuid.MustParse("6a6e27b2-0f05-4f3e-9b32-111111111111")
	testMaster  = uuid.MustParse("6a6e27b2-0f05-4f3e-9b32-222222222222")
	testPolicy  = uuid.MustParse("6a6e27b2-0f05-4f3e-9b32-333333333333")
	testSet     = uuid.MustParse("6a6e27b2-0f05-4f3e-9b32-444444444444")
)

func basePolicy() Policy {
	setID := testSet
	return Policy{
		PolicyID:            testPolicy,
		ChannelID:           testChannel,
		PolicyName:          "cafe24 default",
		MarginMultiplier:    1.3,
		RoundingUnit:        1000,
		RoundingMode:        RoundCeil,
		Weight18KMultiplier: 1.05,
		FactorSetID:         &setID,
		IsActive:            true,
	}
}

func baseRequest() QuoteRequest {
	return QuoteRequest{
		ChannelID:    testChannel,
		MasterItemID: testMaster,
		MaterialCode: "AG925",
		WeightG:      2,
		LaborKRW:     5000,
		Quantity:     1,
	}
}

func closeTo(got, want float64) bool {
	diff := got - want
	if diff < 0 {
		diff = -diff
	}
	return diff < 1e-6
}

func newEngine(store Store) *Engine {
	return &Engine{
		Store:  store,
		Logger: zerolog.Nop(),
		Now:    func() time.Time { return time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC) },
	}
}

func TestQuoteBaseDerivation(t *testing.T) {
	store := &fakeQuoteStore{
		policy:  basePolicy(),
		factors: map[string]float64{"AG925": 1.2},
		rates:   map[string]float64{"AG925": 10000},
	}
	engine := newEngine(store)
	quote, err := engine.Quote(context.Background(), baseRequest())
	if err != nil {
		t.Fatalf("Quote returned error: %v", err)
	}
	// material = 2 * 10000 * 1.2 = 24000; total = 29000; * 1.3 = 37700; ceil(1000) = 38000
	if !closeTo(quote.MaterialCost, 24000) {
		t.Fatalf("material cost = %v, want 24000", quote.MaterialCost)
	}
	if quote.UnitPriceKRW != 38000 {
		t.Fatalf("unit price = %d, want 38000", quote.UnitPriceKRW)
	}
	if quote.LineTotalKRW != 38000 {
		t.Fatalf("line total = %d, want 38000", quote.LineTotalKRW)
	}
	if quote.Overridden {
		t.Fatal("quote should not be overridden")
	}
	if quote.PolicyID != testPolicy {
		t.Fatalf("policy id = %s, want %s", quote.PolicyID, testPolicy)
	}
}

func TestQuoteSequentialAdjustmentFold(t *testing.T) {
	absID := uuid.MustParse("00000000-0000-0000-0000-00000000000a")
	pctID := uuid.MustParse("00000000-0000-0000-0000-00000000000b")
	store := &fakeQuoteStore{
		policy:  basePolicy(),
		factors: map[string]float64{"AG925": 1.0},
		rates:   map[string]float64{"AG925": 10000},
		adjustments: []Adjustment{
			{AdjustmentID: pctID, Stage: StagePreMargin, ApplyTo: ApplyToLabor, AmountType: AmountPercent, AmountValue: 0.1, Priority: 20, IsActive: true},
			{AdjustmentID: absID, Stage: StagePreMargin, ApplyTo: ApplyToLabor, AmountType: AmountAbsoluteKRW, AmountValue: 500, Priority: 10, IsActive: true},
		},
	}
	engine := newEngine(store)
	req := baseRequest()
	req.LaborKRW = 10000
	quote, err := engine.Quote(context.Background(), req)
	if err != nil {
		t.Fatalf("Quote returned error: %v", err)
	}
	// (10000 + 500) * 1.1 = 11550, then margin 1.3 = 15015. The wrong
	// independent-delta order would give 11500 pre-margin.
	if got, want := quote.LaborCost, 11550*1.3; !closeTo(got, want) {
		t.Fatalf("labor cost = %v, want %v", got, want)
	}
	if len(quote.Steps) != 2 {
		t.Fatalf("steps = %d, want 2", len(quote.Steps))
	}
	if quote.Steps[0].AdjustmentID != absID {
		t.Fatalf("first step = %s, want absolute adjustment %s", quote.Steps[0].AdjustmentID, absID)
	}
	if quote.Steps[0].LaborAfter != 10500 {
		t.Fatalf("labor after first step = %v, want 10500", quote.Steps[0].LaborAfter)
	}
	if !closeTo(quote.Steps[1].LaborAfter, 11550) {
		t.Fatalf("labor after second step = %v, want 11550", quote.Steps[1].LaborAfter)
	}
}

func TestQuoteEqualPriorityOrdersByID(t *testing.T) {
	first := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	second := uuid.MustParse("00000000-0000-0000-0000-000000000002")
	store := &fakeQuoteStore{
		policy: basePolicy(),
		rates:  map[string]float64{"AG925": 10000},
		adjustments: []Adjustment{
			{AdjustmentID: second, Stage: StagePreMargin, ApplyTo: ApplyToTotal, AmountType: AmountPercent, AmountValue: 0.1, Priority: 10, IsActive: true},
			{AdjustmentID: first, Stage: StagePreMargin, ApplyTo: ApplyToTotal, AmountType: AmountAbsoluteKRW, AmountValue: 1000, Priority: 10, IsActive: true},
		},
	}
	engine := newEngine(store)
	quote, err := engine.Quote(context.Background(), baseRequest())
	if err != nil {
		t.Fatalf("Quote returned error: %v", err)
	}
	if quote.Steps[0].AdjustmentID != first {
		t.Fatalf("equal priority order: got %s first, want %s", quote.Steps[0].AdjustmentID, first)
	}
}

func TestQuotePostMarginStage(t *testing.T) {
	adjID := uuid.MustParse("00000000-0000-0000-0000-000000000003")
	store := &fakeQuoteStore{
		policy: basePolicy(),
		rates:  map[string]float64{"AG925": 10000},
		adjustments: []Adjustment{
			{AdjustmentID: adjID, Stage: StagePostMargin, ApplyTo: ApplyToTotal, AmountType: AmountAbsoluteKRW, AmountValue: 3000, Priority: 10, IsActive: true},
		},
	}
	engine := newEngine(store)
	quote, err := engine.Quote(context.Background(), baseRequest())
	if err != nil {
		t.Fatalf("Quote returned error: %v", err)
	}
	// material 20000 + labor 5000 = 25000; margin 1.3 = 32500; +3000 = 35500; ceil = 36000
	if quote.UnitPriceKRW != 36000 {
		t.Fatalf("unit price = %d, want 36000", quote.UnitPriceKRW)
	}
	if !closeTo(quote.Steps[0].TotalBefore, 32500) {
		t.Fatalf("post-margin step saw total %v, want 32500", quote.Steps[0].TotalBefore)
	}
}

func TestQuoteOverrideSupersedesComputation(t *testing.T) {
	overrideID := uuid.MustParse("00000000-0000-0000-0000-000000000009")
	store := &fakeQuoteStore{
		policy: basePolicy(),
		rates:  map[string]float64{"AG925": 10000},
		overrides: []Override{
			{OverrideID: overrideID, ChannelID: testChannel, MasterItemID: testMaster, OverridePriceKRW: 48000, IsActive: true},
		},
	}
	engine := newEngine(store)
	req := baseRequest()
	req.Quantity = 3
	quote, err := engine.Quote(context.Background(), req)
	if err != nil {
		t.Fatalf("Quote returned error: %v", err)
	}
	if !quote.Overridden {
		t.Fatal("quote should be overridden")
	}
	if quote.UnitPriceKRW != 48000 {
		t.Fatalf("unit price = %d, want override 48000", quote.UnitPriceKRW)
	}
	if quote.LineTotalKRW != 144000 {
		t.Fatalf("line total = %d, want 144000", quote.LineTotalKRW)
	}
	if quote.OverrideID == nil || *quote.OverrideID != overrideID {
		t.Fatalf("override id = %v, want %s", quote.OverrideID, overrideID)
	}
}

func TestQuoteEarliestOverrideWins(t *testing.T) {
	older := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(24 * time.Hour)
	store := &fakeQuoteStore{
		policy: basePolicy(),
		rates:  map[string]float64{"AG925": 10000},
		overrides: []Override{
			{OverrideID: uuid.New(), OverridePriceKRW: 99000, IsActive: true, CreatedAt: newer},
			{OverrideID: uuid.New(), OverridePriceKRW: 48000, IsActive: true, CreatedAt: older},
		},
	}
	engine := newEngine(store)
	quote, err := engine.Quote(context.Background(), baseRequest())
	if err != nil {
		t.Fatalf("Quote returned error: %v", err)
	}
	if quote.UnitPriceKRW != 48000 {
		t.Fatalf("unit price = %d, want 48000 from earliest override", quote.UnitPriceKRW)
	}
}

func TestQuoteOverrideCreationTieBreaksOnID(t *testing.T) {
	created := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	low := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	high := uuid.MustParse("ffffffff-0000-0000-0000-000000000001")
	store := &fakeQuoteStore{
		policy: basePolicy(),
		rates:  map[string]float64{"AG925": 10000},
		overrides: []Override{
			{OverrideID: high, OverridePriceKRW: 99000, IsActive: true, CreatedAt: created},
			{OverrideID: low, OverridePriceKRW: 48000, IsActive: true, CreatedAt: created},
		},
	}
	engine := newEngine(store)
	quote, err := engine.Quote(context.Background(), baseRequest())
	if err != nil {
		t.Fatalf("Quote returned error: %v", err)
	}
	if quote.UnitPriceKRW != 48000 {
		t.Fatalf("unit price = %d, want 48000 from lowest id on equal creation time", quote.UnitPriceKRW)
	}
}

func TestQuotePolicyNotFound(t *testing.T) {
	store := &fakeQuoteStore{policyErr: ErrPolicyNotFound}
	engine := newEngine(store)
	_, err := engine.Quote(context.Background(), baseRequest())
	if err == nil {
		t.Fatal("expected error for channel without policy")
	}
	var appErr *common.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected AppError, got %T", err)
	}
	if appErr.Code != common.CodePolicyNotFound {
		t.Fatalf("error code = %s, want %s", appErr.Code, common.CodePolicyNotFound)
	}
}

func TestQuoteFactorFallbackToOne(t *testing.T) {
	policy := basePolicy()
	policy.FactorSetID = nil
	store := &fakeQuoteStore{
		policy: policy,
		rates:  map[string]float64{"AG925": 10000},
	}
	engine := newEngine(store)
	quote, err := engine.Quote(context.Background(), baseRequest())
	if err != nil {
		t.Fatalf("Quote returned error: %v", err)
	}
	if quote.Factor != 1.0 {
		t.Fatalf("factor = %v, want 1.0 fallback", quote.Factor)
	}
	if quote.MaterialCost != 20000 {
		t.Fatalf("material cost = %v, want 20000", quote.MaterialCost)
	}
}

func TestQuoteGlobalDefaultFactorSet(t *testing.T) {
	policy := basePolicy()
	policy.FactorSetID = nil
	store := &fakeQuoteStore{
		policy:     policy,
		defaultSet: testSet,
		hasDefault: true,
		factors:    map[string]float64{"AG925": 1.5},
		rates:      map[string]float64{"AG925": 10000},
	}
	engine := newEngine(store)
	quote, err := engine.Quote(context.Background(), baseRequest())
	if err != nil {
		t.Fatalf("Quote returned error: %v", err)
	}
	if quote.Factor != 1.5 {
		t.Fatalf("factor = %v, want 1.5 from global default set", quote.Factor)
	}
	if quote.FactorSetID == nil || *quote.FactorSetID != testSet {
		t.Fatalf("factor set id = %v, want %s", quote.FactorSetID, testSet)
	}
}

func TestQuote18KWeightMultiplier(t *testing.T) {
	store := &fakeQuoteStore{
		policy: basePolicy(),
		rates:  map[string]float64{"18K": 90000},
	}
	engine := newEngine(store)
	req := baseRequest()
	req.MaterialCode = "18K"
	quote, err := engine.Quote(context.Background(), req)
	if err != nil {
		t.Fatalf("Quote returned error: %v", err)
	}
	if quote.BilledWeightG != 2*1.05 {
		t.Fatalf("billed weight = %v, want %v", quote.BilledWeightG, 2*1.05)
	}
}

func TestQuoteUnknownMaterialRate(t *testing.T) {
	store := &fakeQuoteStore{policy: basePolicy()}
	engine := newEngine(store)
	_, err := engine.Quote(context.Background(), baseRequest())
	var appErr *common.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected AppError, got %v", err)
	}
	if appErr.Code != common.CodeNotFound {
		t.Fatalf("error code = %s, want %s", appErr.Code, common.CodeNotFound)
	}
}

func TestQuoteRequestValidation(t *testing.T) {
	engine := newEngine(&fakeQuoteStore{policy: basePolicy()})
	cases := []struct {
		name   string
		mutate func(*QuoteRequest)
	}{
		{"missing channel", func(r *QuoteRequest) { r.ChannelID = uuid.Nil }},
		{"missing master item", func(r *QuoteRequest) { r.MasterItemID = uuid.Nil }},
		{"missing material", func(r *QuoteRequest) { r.MaterialCode = " " }},
		{"zero weight", func(r *QuoteRequest) { r.WeightG = 0 }},
		{"negative labor", func(r *QuoteRequest) { r.LaborKRW = -1 }},
		{"zero quantity", func(r *QuoteRequest) { r.Quantity = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := baseRequest()
			tc.mutate(&req)
			_, err := engine.Quote(context.Background(), req)
			var appErr *common.AppError
			if !errors.As(err, &appErr) || appErr.Code != common.CodeValidation {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}
