package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	channels map[uuid.UUID]Channel
	accounts map[uuid.UUID]Account
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		channels: map[uuid.UUID]Channel{},
		accounts: map[uuid.UUID]Account{},
	}
}

func (f *fakeStore) CreateChannel(_ context.Context, ch Channel) (Channel, error) {
	ch.ChannelID = uuid.New()
	f.channels[ch.ChannelID] = ch
	return ch, nil
}

func (f *fakeStore) GetChannel(_ context.Context, id uuid.UUID) (Channel, error) {
	ch, ok := f.channels[id]
	if !ok {
		return Channel{}, pgx.ErrNoRows
	}
	return ch, nil
}

func (f *fakeStore) ListChannels(_ context.Context, _, _ int) ([]Channel, int, error) {
	out := make([]Channel, 0, len(f.channels))
	for _, ch := range f.channels {
		out = append(out, ch)
	}
	return out, len(out), nil
}

func (f *fakeStore) UpdateChannel(_ context.Context, id uuid.UUID, name string, isActive bool) (Channel, error) {
	ch, ok := f.channels[id]
	if !ok {
		return Channel{}, pgx.ErrNoRows
	}
	ch.Name = name
	ch.IsActive = isActive
	f.channels[id] = ch
	return ch, nil
}

func (f *fakeStore) DeleteChannel(_ context.Context, id uuid.UUID) error {
	if _, ok := f.channels[id]; !ok {
		return pgx.ErrNoRows
	}
	delete(f.channels, id)
	delete(f.accounts, id)
	return nil
}

func (f *fakeStore) UpsertAccount(_ context.Context, a Account) (Account, error) {
	if _, ok := f.channels[a.ChannelID]; !ok {
		return Account{}, pgx.ErrNoRows
	}
	if existing, ok := f.accounts[a.ChannelID]; ok {
		a.AccountID = existing.AccountID
	} else {
		a.AccountID = uuid.New()
	}
	f.accounts[a.ChannelID] = a
	return a, nil
}

func (f *fakeStore) AccountForChannel(_ context.Context, id uuid.UUID) (Account, error) {
	a, ok := f.accounts[id]
	if !ok {
		return Account{}, pgx.ErrNoRows
	}
	return a, nil
}

func newTestHandler(store Store) *Handler {
	return &Handler{
		Store:    store,
		Validate: validator.New(),
		Logger:   zerolog.Nop(),
	}
}

func withURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func TestCreateChannel(t *testing.T) {
	h := newTestHandler(newFakeStore())

	body, _ := json.Marshal(map[string]any{
		"channel_code": "cafe24-main",
		"channel_type": "cafe24",
		"name":         "Main Cafe24 Mall",
		"is_active":    true,
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/channels", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.Create(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var created Channel
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.Equal(t, TypeCafe24, created.ChannelType)
	require.True(t, created.IsActive)
}

func TestCreateChannelRejectsUnknownType(t *testing.T) {
	h := newTestHandler(newFakeStore())

	body, _ := json.Marshal(map[string]any{
		"channel_code": "naver-main",
		"channel_type": "NAVER",
		"name":         "Naver Smartstore",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/channels", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.Create(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateChannel(t *testing.T) {
	store := newFakeStore()
	h := newTestHandler(store)
	ch, err := store.CreateChannel(context.Background(), Channel{ChannelCode: "cafe24-main", ChannelType: TypeCafe24, Name: "old", IsActive: true})
	require.NoError(t, err)

	body, _ := json.Marshal(map[string]any{"name": "renamed", "is_active": false})
	req := httptest.NewRequest(http.MethodPut, "/api/v1/admin/channels/"+ch.ChannelID.String(), bytes.NewReader(body))
	req = withURLParam(req, "channelID", ch.ChannelID.String())
	rec := httptest.NewRecorder()
	h.Update(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "renamed", store.channels[ch.ChannelID].Name)
	require.False(t, store.channels[ch.ChannelID].IsActive)
}

func TestGetChannelNotFound(t *testing.T) {
	h := newTestHandler(newFakeStore())
	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/channels/"+uuid.NewString(), nil)
	req = withURLParam(req, "channelID", uuid.NewString())
	rec := httptest.NewRecorder()
	h.Get(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpsertAccountDefaultsToActive(t *testing.T) {
	store := newFakeStore()
	h := newTestHandler(store)
	ch, err := store.CreateChannel(context.Background(), Channel{ChannelCode: "cafe24-main", ChannelType: TypeCafe24, Name: "mall"})
	require.NoError(t, err)

	body, _ := json.Marshal(map[string]any{
		"mall_id":          "seorinmall",
		"access_token":     "secret-bearer-value",
		"token_expires_at": time.Now().Add(time.Hour).Format(time.RFC3339),
	})
	req := httptest.NewRequest(http.MethodPut, "/api/v1/admin/channels/"+ch.ChannelID.String()+"/account", bytes.NewReader(body))
	req = withURLParam(req, "channelID", ch.ChannelID.String())
	rec := httptest.NewRecorder()
	h.UpsertAccount(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, AccountActive, store.accounts[ch.ChannelID].Status)

	// tokens must not leak into the response body
	require.NotContains(t, rec.Body.String(), "secret-bearer-value")
}

func TestUpsertAccountRotatesInPlace(t *testing.T) {
	store := newFakeStore()
	h := newTestHandler(store)
	ch, err := store.CreateChannel(context.Background(), Channel{ChannelCode: "cafe24-main", ChannelType: TypeCafe24, Name: "mall"})
	require.NoError(t, err)

	push := func(token string) {
		body, _ := json.Marshal(map[string]any{
			"mall_id":          "seorinmall",
			"access_token":     token,
			"token_expires_at": time.Now().Add(time.Hour).Format(time.RFC3339),
		})
		req := httptest.NewRequest(http.MethodPut, "/x", bytes.NewReader(body))
		req = withURLParam(req, "channelID", ch.ChannelID.String())
		rec := httptest.NewRecorder()
		h.UpsertAccount(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	push("first")
	firstID := store.accounts[ch.ChannelID].AccountID
	push("second")
	require.Equal(t, firstID, store.accounts[ch.ChannelID].AccountID)
	require.Equal(t, "second", store.accounts[ch.ChannelID].AccessToken)
}
