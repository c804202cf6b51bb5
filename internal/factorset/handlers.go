package factorset

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"github.com/seorin-works/backend-atelier/internal/audit"
	"github.com/seorin-works/backend-atelier/internal/common"
	"github.com/seorin-works/backend-atelier/internal/events"
)

// Store is the persistence surface the handlers depend on.
type Store interface {
	CreateSet(ctx context.Context, fs FactorSet) (FactorSet, error)
	GetSet(ctx context.Context, factorSetID uuid.UUID) (FactorSet, error)
	ListSets(ctx context.Context, scope Scope, limit, offset int) ([]FactorSet, int, error)
	UpdateSet(ctx context.Context, fs FactorSet) (FactorSet, error)
	DeleteSet(ctx context.Context, factorSetID uuid.UUID) error
	MarkGlobalDefault(ctx context.Context, factorSetID uuid.UUID) (FactorSet, error)
	UpsertFactors(ctx context.Context, factorSetID uuid.UUID, factors []Factor) ([]Factor, error)
	ListFactors(ctx context.Context, factorSetID uuid.UUID) ([]Factor, error)
	UpsertRate(ctx context.Context, rate MaterialRate) (MaterialRate, error)
	ListRates(ctx context.Context) ([]MaterialRate, error)
}

// Handler exposes factor set and material rate administration.
type Handler struct {
	Store    Store
	Bus      *events.Bus
	Audit    audit.Recorder
	Validate *validator.Validate
	Logger   zerolog.Logger
}

type setPayload struct {
	SetName   string     `json:"set_name" validate:"required,max=120"`
	Scope     string     `json:"scope" validate:"required"`
	ChannelID *uuid.UUID `json:"channel_id,omitempty"`
	IsActive  bool       `json:"is_active"`
}

// CreateSet handles POST /admin/factor-sets.
func (h *Handler) CreateSet(w http.ResponseWriter, r *http.Request) {
	var payload setPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, "invalid request body", nil)
		return
	}
	if err := h.Validate.Struct(payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, err.Error(), nil)
		return
	}
	scope, err := ParseScope(payload.Scope)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, err.Error(), nil)
		return
	}
	if scope == ScopeChannel && payload.ChannelID == nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, "channel_id is required for CHANNEL scoped sets", nil)
		return
	}
	if scope == ScopeGlobal && payload.ChannelID != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, "channel_id is not allowed on GLOBAL scoped sets", nil)
		return
	}
	created, err := h.Store.CreateSet(r.Context(), FactorSet{
		SetName:   payload.SetName,
		Scope:     scope,
		ChannelID: payload.ChannelID,
		IsActive:  payload.IsActive,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.recordAudit(r, "factorset.create", created.FactorSetID, created)
	common.JSON(w, http.StatusCreated, created)
}

// ListSets handles GET /admin/factor-sets.
func (h *Handler) ListSets(w http.ResponseWriter, r *http.Request) {
	var scope Scope
	if raw := r.URL.Query().Get("scope"); raw != "" {
		parsed, err := ParseScope(raw)
		if err != nil {
			common.JSONError(w, http.StatusBadRequest, common.CodeValidation, err.Error(), nil)
			return
		}
		scope = parsed
	}
	page, perPage := common.ParsePagination(r, 50)
	sets, total, err := h.Store.ListSets(r.Context(), scope, perPage, (page-1)*perPage)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"items":      sets,
		"pagination": common.Pagination{Page: page, PerPage: perPage, TotalItems: total},
	})
}

// GetSet handles GET /admin/factor-sets/{factorSetID}.
func (h *Handler) GetSet(w http.ResponseWriter, r *http.Request) {
	factorSetID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	set, err := h.Store.GetSet(r.Context(), factorSetID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, set)
}

type setUpdatePayload struct {
	SetName  string `json:"set_name" validate:"required,max=120"`
	IsActive bool   `json:"is_active"`
}

// UpdateSet handles PUT /admin/factor-sets/{factorSetID}.
func (h *Handler) UpdateSet(w http.ResponseWriter, r *http.Request) {
	factorSetID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var payload setUpdatePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, "invalid request body", nil)
		return
	}
	if err := h.Validate.Struct(payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, err.Error(), nil)
		return
	}
	updated, err := h.Store.UpdateSet(r.Context(), FactorSet{
		FactorSetID: factorSetID,
		SetName:     payload.SetName,
		IsActive:    payload.IsActive,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.recordAudit(r, "factorset.update", updated.FactorSetID, updated)
	common.JSON(w, http.StatusOK, updated)
}

// DeleteSet handles DELETE /admin/factor-sets/{factorSetID}.
func (h *Handler) DeleteSet(w http.ResponseWriter, r *http.Request) {
	factorSetID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if err := h.Store.DeleteSet(r.Context(), factorSetID); err != nil {
		h.writeError(w, err)
		return
	}
	h.recordAudit(r, "factorset.delete", factorSetID, nil)
	w.WriteHeader(http.StatusNoContent)
}

// MarkGlobalDefault handles POST /admin/factor-sets/{factorSetID}/default.
// After it returns, exactly one GLOBAL set carries is_global_default.
func (h *Handler) MarkGlobalDefault(w http.ResponseWriter, r *http.Request) {
	factorSetID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	set, err := h.Store.MarkGlobalDefault(r.Context(), factorSetID)
	if err != nil {
		if errors.Is(err, ErrNotGlobalScope) {
			common.JSONError(w, http.StatusBadRequest, common.CodeValidation, err.Error(), nil)
			return
		}
		h.writeError(w, err)
		return
	}
	if h.Bus != nil {
		if _, err := h.Bus.Emit(r.Context(), events.TopicFactorDefaultChanged, set.FactorSetID, set); err != nil {
			h.Logger.Error().Err(err).Msg("event emit failed")
		}
	}
	h.recordAudit(r, "factorset.mark_default", set.FactorSetID, set)
	common.JSON(w, http.StatusOK, set)
}

type factorPayload struct {
	MaterialCode string  `json:"material_code" validate:"required,max=40"`
	Multiplier   float64 `json:"multiplier" validate:"gt=0"`
	Note         string  `json:"note,omitempty" validate:"max=500"`
}

type factorsPayload struct {
	Factors []factorPayload `json:"factors" validate:"required,min=1,dive"`
}

// UpsertFactors handles PUT /admin/factor-sets/{factorSetID}/factors.
func (h *Handler) UpsertFactors(w http.ResponseWriter, r *http.Request) {
	factorSetID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var payload factorsPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, "invalid request body", nil)
		return
	}
	if err := h.Validate.Struct(payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, err.Error(), nil)
		return
	}
	factors := make([]Factor, 0, len(payload.Factors))
	for _, f := range payload.Factors {
		factors = append(factors, Factor{MaterialCode: f.MaterialCode, Multiplier: f.Multiplier, Note: f.Note})
	}
	stored, err := h.Store.UpsertFactors(r.Context(), factorSetID, factors)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.recordAudit(r, "factorset.upsert_factors", factorSetID, map[string]any{"count": len(stored)})
	common.JSON(w, http.StatusOK, map[string]any{"items": stored})
}

// ListFactors handles GET /admin/factor-sets/{factorSetID}/factors.
func (h *Handler) ListFactors(w http.ResponseWriter, r *http.Request) {
	factorSetID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	factors, err := h.Store.ListFactors(r.Context(), factorSetID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"items": factors})
}

type ratePayload struct {
	MaterialCode string  `json:"material_code" validate:"required,max=40"`
	RateKRWPerG  float64 `json:"rate_krw_per_g" validate:"gt=0"`
}

// UpsertRate handles PUT /admin/material-rates.
func (h *Handler) UpsertRate(w http.ResponseWriter, r *http.Request) {
	var payload ratePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, "invalid request body", nil)
		return
	}
	if err := h.Validate.Struct(payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, err.Error(), nil)
		return
	}
	rate, err := h.Store.UpsertRate(r.Context(), MaterialRate{
		MaterialCode: payload.MaterialCode,
		RateKRWPerG:  payload.RateKRWPerG,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.recordAudit(r, "materialrate.upsert", uuid.Nil, rate)
	common.JSON(w, http.StatusOK, rate)
}

// ListRates handles GET /admin/material-rates.
func (h *Handler) ListRates(w http.ResponseWriter, r *http.Request) {
	rates, err := h.Store.ListRates(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"items": rates})
}

func (h *Handler) recordAudit(r *http.Request, action string, entityID uuid.UUID, detail any) {
	if h.Audit == nil {
		return
	}
	entityType := "material_factor_set"
	if strings.HasPrefix(action, "materialrate.") {
		entityType = "material_rate"
	}
	actor, _ := common.Actor(r.Context())
	h.Audit.Record(r.Context(), actor, action, entityType, entityID, detail)
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "factorSetID"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, "invalid factorSetID", nil)
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		common.JSONError(w, http.StatusNotFound, common.CodeNotFound, "resource not found", nil)
	case errors.Is(err, ErrStoreUnavailable):
		common.JSONError(w, http.StatusServiceUnavailable, common.CodeStoreUnavailable, "store unavailable", nil)
	default:
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			common.JSONError(w, http.StatusConflict, common.CodeConflict, "duplicate resource", nil)
			return
		}
		common.WriteError(w, err)
	}
}
