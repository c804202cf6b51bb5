package factorset

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	sets    map[uuid.UUID]FactorSet
	factors map[uuid.UUID][]Factor
	rates   map[string]MaterialRate
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sets:    map[uuid.UUID]FactorSet{},
		factors: map[uuid.UUID][]Factor{},
		rates:   map[string]MaterialRate{},
	}
}

func (f *fakeStore) CreateSet(_ context.Context, fs FactorSet) (FactorSet, error) {
	fs.FactorSetID = uuid.New()
	f.sets[fs.FactorSetID] = fs
	return fs, nil
}

func (f *fakeStore) GetSet(_ context.Context, id uuid.UUID) (FactorSet, error) {
	fs, ok := f.sets[id]
	if !ok {
		return FactorSet{}, pgx.ErrNoRows
	}
	return fs, nil
}

func (f *fakeStore) ListSets(_ context.Context, scope Scope, _, _ int) ([]FactorSet, int, error) {
	var out []FactorSet
	for _, fs := range f.sets {
		if scope == "" || fs.Scope == scope {
			out = append(out, fs)
		}
	}
	return out, len(out), nil
}

func (f *fakeStore) UpdateSet(_ context.Context, fs FactorSet) (FactorSet, error) {
	existing, ok := f.sets[fs.FactorSetID]
	if !ok {
		return FactorSet{}, pgx.ErrNoRows
	}
	existing.SetName = fs.SetName
	existing.IsActive = fs.IsActive
	f.sets[fs.FactorSetID] = existing
	return existing, nil
}

func (f *fakeStore) DeleteSet(_ context.Context, id uuid.UUID) error {
	if _, ok := f.sets[id]; !ok {
		return pgx.ErrNoRows
	}
	delete(f.sets, id)
	return nil
}

func (f *fakeStore) MarkGlobalDefault(_ context.Context, id uuid.UUID) (FactorSet, error) {
	target, ok := f.sets[id]
	if !ok {
		return FactorSet{}, pgx.ErrNoRows
	}
	if target.Scope != ScopeGlobal {
		return FactorSet{}, ErrNotGlobalScope
	}
	for sid, fs := range f.sets {
		if fs.Scope == ScopeGlobal {
			fs.IsGlobalDefault = sid == id
			f.sets[sid] = fs
		}
	}
	return f.sets[id], nil
}

func (f *fakeStore) UpsertFactors(_ context.Context, id uuid.UUID, factors []Factor) ([]Factor, error) {
	if _, ok := f.sets[id]; !ok {
		return nil, pgx.ErrNoRows
	}
	byCode := map[string]Factor{}
	for _, existing := range f.factors[id] {
		byCode[existing.MaterialCode] = existing
	}
	for _, factor := range factors {
		factor.FactorSetID = id
		byCode[factor.MaterialCode] = factor
	}
	merged := make([]Factor, 0, len(byCode))
	for _, factor := range byCode {
		merged = append(merged, factor)
	}
	f.factors[id] = merged
	return factors, nil
}

func (f *fakeStore) ListFactors(_ context.Context, id uuid.UUID) ([]Factor, error) {
	return f.factors[id], nil
}

func (f *fakeStore) UpsertRate(_ context.Context, rate MaterialRate) (MaterialRate, error) {
	f.rates[rate.MaterialCode] = rate
	return rate, nil
}

func (f *fakeStore) ListRates(_ context.Context) ([]MaterialRate, error) {
	out := make([]MaterialRate, 0, len(f.rates))
	for _, rate := range f.rates {
		out = append(out, rate)
	}
	return out, nil
}

func newTestHandler(store Store) *Handler {
	return &Handler{
		Store:    store,
		Validate: validator.New(),
		Logger:   zerolog.Nop(),
	}
}

func withSetID(r *http.Request, id uuid.UUID) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("factorSetID", id.String())
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func TestCreateSetScopeRules(t *testing.T) {
	h := newTestHandler(newFakeStore())

	cases := []struct {
		name    string
		payload map[string]any
		status  int
	}{
		{
			"global without channel ok",
			map[string]any{"set_name": "global defaults", "scope": "GLOBAL", "is_active": true},
			http.StatusCreated,
		},
		{
			"channel scope requires channel id",
			map[string]any{"set_name": "cafe24 set", "scope": "CHANNEL", "is_active": true},
			http.StatusBadRequest,
		},
		{
			"global rejects channel id",
			map[string]any{"set_name": "bad", "scope": "GLOBAL", "channel_id": uuid.New(), "is_active": true},
			http.StatusBadRequest,
		},
		{
			"unknown scope rejected",
			map[string]any{"set_name": "bad", "scope": "REGIONAL", "is_active": true},
			http.StatusBadRequest,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			body, err := json.Marshal(tc.payload)
			require.NoError(t, err)
			req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/factor-sets", bytes.NewReader(body))
			rec := httptest.NewRecorder()
			h.CreateSet(rec, req)
			require.Equal(t, tc.status, rec.Code)
		})
	}
}

func TestMarkGlobalDefaultExclusive(t *testing.T) {
	store := newFakeStore()
	first, err := store.CreateSet(context.Background(), FactorSet{SetName: "first", Scope: ScopeGlobal, IsActive: true})
	require.NoError(t, err)
	second, err := store.CreateSet(context.Background(), FactorSet{SetName: "second", Scope: ScopeGlobal, IsActive: true})
	require.NoError(t, err)
	h := newTestHandler(store)

	for _, id := range []uuid.UUID{first.FactorSetID, second.FactorSetID} {
		req := withSetID(httptest.NewRequest(http.MethodPost, "/api/v1/admin/factor-sets/"+id.String()+"/default", nil), id)
		rec := httptest.NewRecorder()
		h.MarkGlobalDefault(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	defaults := 0
	for _, fs := range store.sets {
		if fs.IsGlobalDefault {
			defaults++
			require.Equal(t, second.FactorSetID, fs.FactorSetID)
		}
	}
	require.Equal(t, 1, defaults)
}

func TestMarkGlobalDefaultRejectsChannelScope(t *testing.T) {
	store := newFakeStore()
	channelID := uuid.New()
	set, err := store.CreateSet(context.Background(), FactorSet{SetName: "per channel", Scope: ScopeChannel, ChannelID: &channelID, IsActive: true})
	require.NoError(t, err)
	h := newTestHandler(store)

	req := withSetID(httptest.NewRequest(http.MethodPost, "/api/v1/admin/factor-sets/"+set.FactorSetID.String()+"/default", nil), set.FactorSetID)
	rec := httptest.NewRecorder()
	h.MarkGlobalDefault(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "GLOBAL")
}

func TestUpsertFactorsValidation(t *testing.T) {
	store := newFakeStore()
	set, err := store.CreateSet(context.Background(), FactorSet{SetName: "global", Scope: ScopeGlobal, IsActive: true})
	require.NoError(t, err)
	h := newTestHandler(store)

	payload := map[string]any{
		"factors": []map[string]any{
			{"material_code": "AG925", "multiplier": 1.2},
			{"material_code": "18K", "multiplier": 0},
		},
	}
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req := withSetID(httptest.NewRequest(http.MethodPut, "/api/v1/admin/factor-sets/"+set.FactorSetID.String()+"/factors", bytes.NewReader(body)), set.FactorSetID)
	rec := httptest.NewRecorder()
	h.UpsertFactors(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Empty(t, store.factors[set.FactorSetID])
}

func TestUpsertFactorsReplacesOnSameKey(t *testing.T) {
	store := newFakeStore()
	set, err := store.CreateSet(context.Background(), FactorSet{SetName: "global", Scope: ScopeGlobal, IsActive: true})
	require.NoError(t, err)
	h := newTestHandler(store)

	for _, multiplier := range []float64{1.2, 1.5} {
		payload := map[string]any{
			"factors": []map[string]any{{"material_code": "AG925", "multiplier": multiplier}},
		}
		body, err := json.Marshal(payload)
		require.NoError(t, err)
		req := withSetID(httptest.NewRequest(http.MethodPut, "/api/v1/admin/factor-sets/"+set.FactorSetID.String()+"/factors", bytes.NewReader(body)), set.FactorSetID)
		rec := httptest.NewRecorder()
		h.UpsertFactors(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	factors := store.factors[set.FactorSetID]
	require.Len(t, factors, 1)
	require.Equal(t, 1.5, factors[0].Multiplier)
}

func TestUpsertRate(t *testing.T) {
	store := newFakeStore()
	h := newTestHandler(store)

	body, err := json.Marshal(map[string]any{"material_code": "AG925", "rate_krw_per_g": 1450.5})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPut, "/api/v1/admin/material-rates", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.UpsertRate(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1450.5, store.rates["AG925"].RateKRWPerG)
}
