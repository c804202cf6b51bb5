package syncrule

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fakeRuleStore struct {
	sets    map[uuid.UUID]RuleSet
	r2Rules map[uuid.UUID][]R2Rule
	r3Rules map[uuid.UUID][]R3Rule
}

func newFakeRuleStore() *fakeRuleStore {
	return &fakeRuleStore{
		sets:    map[uuid.UUID]RuleSet{},
		r2Rules: map[uuid.UUID][]R2Rule{},
		r3Rules: map[uuid.UUID][]R3Rule{},
	}
}

func (f *fakeRuleStore) CreateRuleSet(_ context.Context, rs RuleSet) (RuleSet, error) {
	rs.RuleSetID = uuid.New()
	f.sets[rs.RuleSetID] = rs
	return rs, nil
}

func (f *fakeRuleStore) GetRuleSet(_ context.Context, id uuid.UUID) (RuleSet, error) {
	rs, ok := f.sets[id]
	if !ok {
		return RuleSet{}, pgx.ErrNoRows
	}
	return rs, nil
}

func (f *fakeRuleStore) ListRuleSets(_ context.Context, _ uuid.UUID, _, _ int) ([]RuleSet, int, error) {
	var out []RuleSet
	for _, rs := range f.sets {
		out = append(out, rs)
	}
	return out, len(out), nil
}

func (f *fakeRuleStore) UpdateRuleSet(_ context.Context, rs RuleSet) (RuleSet, error) {
	if _, ok := f.sets[rs.RuleSetID]; !ok {
		return RuleSet{}, pgx.ErrNoRows
	}
	f.sets[rs.RuleSetID] = rs
	return rs, nil
}

func (f *fakeRuleStore) DeleteRuleSet(_ context.Context, id uuid.UUID) error {
	if _, ok := f.sets[id]; !ok {
		return pgx.ErrNoRows
	}
	delete(f.sets, id)
	return nil
}

func (f *fakeRuleStore) CreateR2Rule(_ context.Context, r R2Rule) (R2Rule, error) {
	r.RuleID = uuid.New()
	f.r2Rules[r.RuleSetID] = append(f.r2Rules[r.RuleSetID], r)
	return r, nil
}

func (f *fakeRuleStore) ListR2Rules(_ context.Context, id uuid.UUID) ([]R2Rule, error) {
	return f.r2Rules[id], nil
}

func (f *fakeRuleStore) UpdateR2Rule(_ context.Context, r R2Rule) (R2Rule, error) {
	for setID, rules := range f.r2Rules {
		for i, existing := range rules {
			if existing.RuleID == r.RuleID {
				r.RuleSetID = existing.RuleSetID
				f.r2Rules[setID][i] = r
				return r, nil
			}
		}
	}
	return R2Rule{}, pgx.ErrNoRows
}

func (f *fakeRuleStore) DeleteR2Rule(_ context.Context, id uuid.UUID) error {
	for setID, rules := range f.r2Rules {
		for i, existing := range rules {
			if existing.RuleID == id {
				f.r2Rules[setID] = append(rules[:i], rules[i+1:]...)
				return nil
			}
		}
	}
	return pgx.ErrNoRows
}

func (f *fakeRuleStore) CreateR3Rule(_ context.Context, r R3Rule) (R3Rule, error) {
	r.RuleID = uuid.New()
	f.r3Rules[r.RuleSetID] = append(f.r3Rules[r.RuleSetID], r)
	return r, nil
}

func (f *fakeRuleStore) ListR3Rules(_ context.Context, id uuid.UUID) ([]R3Rule, error) {
	return f.r3Rules[id], nil
}

func (f *fakeRuleStore) UpdateR3Rule(_ context.Context, r R3Rule) (R3Rule, error) {
	for setID, rules := range f.r3Rules {
		for i, existing := range rules {
			if existing.RuleID == r.RuleID {
				r.RuleSetID = existing.RuleSetID
				f.r3Rules[setID][i] = r
				return r, nil
			}
		}
	}
	return R3Rule{}, pgx.ErrNoRows
}

func (f *fakeRuleStore) DeleteR3Rule(_ context.Context, id uuid.UUID) error {
	for setID, rules := range f.r3Rules {
		for i, existing := range rules {
			if existing.RuleID == id {
				f.r3Rules[setID] = append(rules[:i], rules[i+1:]...)
				return nil
			}
		}
	}
	return pgx.ErrNoRows
}

func (f *fakeRuleStore) BulkAdjustR2(_ context.Context, id uuid.UUID, delta int64, filter BulkFilter) ([]R2Rule, error) {
	if _, ok := f.sets[id]; !ok {
		return nil, pgx.ErrNoRows
	}
	var updated []R2Rule
	for i, rule := range f.r2Rules[id] {
		if !rule.IsActive {
			continue
		}
		if filter.MaterialCode != nil && (rule.MaterialCode == nil || *rule.MaterialCode != *filter.MaterialCode) {
			continue
		}
		if filter.CategoryCode != nil && (rule.CategoryCode == nil || *rule.CategoryCode != *filter.CategoryCode) {
			continue
		}
		f.r2Rules[id][i].DeltaKRW += delta
		updated = append(updated, f.r2Rules[id][i])
	}
	return updated, nil
}

func (f *fakeRuleStore) BulkAdjustR3(_ context.Context, id uuid.UUID, delta int64, filter BulkFilter) ([]R3Rule, error) {
	if _, ok := f.sets[id]; !ok {
		return nil, pgx.ErrNoRows
	}
	var updated []R3Rule
	for i, rule := range f.r3Rules[id] {
		if !rule.IsActive {
			continue
		}
		if filter.ColorCode != nil && (rule.ColorCode == nil || *rule.ColorCode != *filter.ColorCode) {
			continue
		}
		f.r3Rules[id][i].DeltaKRW += delta
		updated = append(updated, f.r3Rules[id][i])
	}
	return updated, nil
}

func newTestHandler(store Store) *Handler {
	return &Handler{
		Store:    store,
		Validate: validator.New(),
		Logger:   zerolog.Nop(),
	}
}

func seedR2Set(t *testing.T, store *fakeRuleStore, deltas ...int64) RuleSet {
	t.Helper()
	set, err := store.CreateRuleSet(context.Background(), RuleSet{ChannelID: uuid.New(), SetName: "bands", IsActive: true})
	require.NoError(t, err)
	for _, delta := range deltas {
		_, err := store.CreateR2Rule(context.Background(), R2Rule{RuleSetID: set.RuleSetID, WeightMinG: 0, WeightMaxG: 10, DeltaKRW: delta, IsActive: true})
		require.NoError(t, err)
	}
	return set
}

func postBulkAdjust(t *testing.T, h *Handler, payload map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/rules/bulk-adjust", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.BulkAdjust(rec, req)
	return rec
}

func TestBulkAdjustShiftsAllMatchingRules(t *testing.T) {
	store := newFakeRuleStore()
	set := seedR2Set(t, store, 100, 200, -300)
	h := newTestHandler(store)

	rec := postBulkAdjust(t, h, map[string]any{
		"rule_type":   "R2_SIZE_WEIGHT",
		"rule_set_id": set.RuleSetID,
		"delta_krw":   100,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Updated int      `json:"updated"`
		Data    []R2Rule `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 3, resp.Updated)

	got := make([]int64, 0, 3)
	for _, rule := range store.r2Rules[set.RuleSetID] {
		got = append(got, rule.DeltaKRW)
	}
	require.ElementsMatch(t, []int64{200, 300, -200}, got)
}

func TestBulkAdjustRejectsNonStepDelta(t *testing.T) {
	store := newFakeRuleStore()
	set := seedR2Set(t, store, 100, 200, -300)
	h := newTestHandler(store)

	rec := postBulkAdjust(t, h, map[string]any{
		"rule_type":   "R2_SIZE_WEIGHT",
		"rule_set_id": set.RuleSetID,
		"delta_krw":   150,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	for _, rule := range store.r2Rules[set.RuleSetID] {
		require.Contains(t, []int64{100, 200, -300}, rule.DeltaKRW)
	}
}

func TestBulkAdjustRejectsZeroDelta(t *testing.T) {
	store := newFakeRuleStore()
	set := seedR2Set(t, store, 100)
	h := newTestHandler(store)

	rec := postBulkAdjust(t, h, map[string]any{
		"rule_type":   "R2_SIZE_WEIGHT",
		"rule_set_id": set.RuleSetID,
		"delta_krw":   0,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "zero")
}

func TestBulkAdjustRejectsUnknownRuleType(t *testing.T) {
	store := newFakeRuleStore()
	set := seedR2Set(t, store, 100)
	h := newTestHandler(store)

	rec := postBulkAdjust(t, h, map[string]any{
		"rule_type":   "R9_UNKNOWN",
		"rule_set_id": set.RuleSetID,
		"delta_krw":   100,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBulkAdjustR3WithColorFilter(t *testing.T) {
	store := newFakeRuleStore()
	set, err := store.CreateRuleSet(context.Background(), RuleSet{ChannelID: uuid.New(), SetName: "colors", IsActive: true})
	require.NoError(t, err)
	rose := "ROSE"
	gold := "GOLD"
	_, err = store.CreateR3Rule(context.Background(), R3Rule{RuleSetID: set.RuleSetID, ColorCode: &rose, MarginMinKRW: 0, MarginMaxKRW: 10000, DeltaKRW: 500, IsActive: true})
	require.NoError(t, err)
	_, err = store.CreateR3Rule(context.Background(), R3Rule{RuleSetID: set.RuleSetID, ColorCode: &gold, MarginMinKRW: 0, MarginMaxKRW: 10000, DeltaKRW: 500, IsActive: true})
	require.NoError(t, err)
	h := newTestHandler(store)

	rec := postBulkAdjust(t, h, map[string]any{
		"rule_type":   "R3_COLOR_MARGIN",
		"rule_set_id": set.RuleSetID,
		"delta_krw":   -200,
		"color_code":  "ROSE",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Updated int `json:"updated"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Updated)

	for _, rule := range store.r3Rules[set.RuleSetID] {
		if *rule.ColorCode == "ROSE" {
			require.Equal(t, int64(300), rule.DeltaKRW)
		} else {
			require.Equal(t, int64(500), rule.DeltaKRW)
		}
	}
}

func TestBulkAdjustUnknownRuleSet(t *testing.T) {
	h := newTestHandler(newFakeRuleStore())

	rec := postBulkAdjust(t, h, map[string]any{
		"rule_type":   "R2_SIZE_WEIGHT",
		"rule_set_id": uuid.New(),
		"delta_krw":   100,
	})
	require.Equal(t, http.StatusNotFound, rec.Code)
}
