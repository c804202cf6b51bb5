package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"github.com/seorin-works/backend-atelier/internal/audit"
	"github.com/seorin-works/backend-atelier/internal/common"
	"github.com/seorin-works/backend-atelier/internal/events"
	"github.com/seorin-works/backend-atelier/internal/obs"
)

// AdminStore is the persistence surface the admin handlers depend on.
type AdminStore interface {
	CreatePolicy(ctx context.Context, p Policy) (Policy, error)
	GetPolicy(ctx context.Context, policyID uuid.UUID) (Policy, error)
	ListPolicies(ctx context.Context, channelID uuid.UUID, limit, offset int) ([]Policy, int, error)
	UpdatePolicy(ctx context.Context, p Policy) (Policy, error)
	ActivatePolicy(ctx context.Context, policyID uuid.UUID) (Policy, error)
	DeletePolicy(ctx context.Context, policyID uuid.UUID) error

	CreateAdjustment(ctx context.Context, a Adjustment) (Adjustment, error)
	GetAdjustment(ctx context.Context, adjustmentID uuid.UUID) (Adjustment, error)
	ListAdjustments(ctx context.Context, channelID uuid.UUID, channelProductID *string, masterItemID *uuid.UUID, limit, offset int) ([]Adjustment, int, error)
	UpdateAdjustment(ctx context.Context, a Adjustment) (Adjustment, error)
	DeleteAdjustment(ctx context.Context, adjustmentID uuid.UUID) error

	CreateOverride(ctx context.Context, o Override) (Override, error)
	GetOverride(ctx context.Context, overrideID uuid.UUID) (Override, error)
	ListOverrides(ctx context.Context, channelID uuid.UUID, masterItemID *uuid.UUID, limit, offset int) ([]Override, int, error)
	UpdateOverride(ctx context.Context, o Override) (Override, error)
	DeleteOverride(ctx context.Context, overrideID uuid.UUID) error
}

// Handler exposes the quote endpoint and the pricing admin CRUD.
type Handler struct {
	Engine   *Engine
	Store    AdminStore
	Cache    *PolicyCache
	Bus      *events.Bus
	Audit    audit.Recorder
	Validate *validator.Validate
	Logger   zerolog.Logger
}

// Quote handles POST /pricing/quote.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	var req QuoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, "invalid request body", nil)
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}
	quote, err := h.Engine.Quote(r.Context(), req)
	if err != nil {
		h.countQuote(req.ChannelID, "error")
		writeStoreError(w, err)
		return
	}
	h.countQuote(req.ChannelID, "ok")
	if quote.Overridden && obs.QuoteOverrideHits != nil {
		obs.QuoteOverrideHits.WithLabelValues(req.ChannelID.String()).Inc()
	}
	common.JSON(w, http.StatusOK, quote)
}

func (h *Handler) countQuote(channelID uuid.UUID, result string) {
	if obs.QuoteTotal != nil {
		obs.QuoteTotal.WithLabelValues(channelID.String(), result).Inc()
	}
}

type policyPayload struct {
	ChannelID           uuid.UUID  `json:"channel_id" validate:"required"`
	PolicyName          string     `json:"policy_name" validate:"required,max=120"`
	MarginMultiplier    float64    `json:"margin_multiplier" validate:"gt=0"`
	RoundingUnit        int64      `json:"rounding_unit" validate:"gt=0"`
	RoundingMode        string     `json:"rounding_mode" validate:"required"`
	Weight18KMultiplier float64    `json:"option_18k_weight_multiplier" validate:"gt=0"`
	FactorSetID         *uuid.UUID `json:"material_factor_set_id,omitempty"`
}

// CreatePolicy handles POST /admin/policies.
func (h *Handler) CreatePolicy(w http.ResponseWriter, r *http.Request) {
	var payload policyPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, "invalid request body", nil)
		return
	}
	if err := h.Validate.Struct(payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, err.Error(), nil)
		return
	}
	mode, err := ParseRoundingMode(payload.RoundingMode)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, err.Error(), nil)
		return
	}
	policy, err := h.Store.CreatePolicy(r.Context(), Policy{
		ChannelID:           payload.ChannelID,
		PolicyName:          payload.PolicyName,
		MarginMultiplier:    payload.MarginMultiplier,
		RoundingUnit:        payload.RoundingUnit,
		RoundingMode:        mode,
		Weight18KMultiplier: payload.Weight18KMultiplier,
		FactorSetID:         payload.FactorSetID,
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	h.recordAudit(r, "policy.create", "pricing_policy", policy.PolicyID, policy)
	common.JSON(w, http.StatusCreated, policy)
}

// ListPolicies handles GET /admin/policies.
func (h *Handler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	channelID := parseOptionalUUID(r.URL.Query().Get("channel_id"))
	page, perPage := common.ParsePagination(r, 50)
	policies, total, err := h.Store.ListPolicies(r.Context(), channelID, perPage, (page-1)*perPage)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"items":      policies,
		"pagination": common.Pagination{Page: page, PerPage: perPage, TotalItems: total},
	})
}

// GetPolicy handles GET /admin/policies/{policyID}.
func (h *Handler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	policyID, ok := pathUUID(w, r, "policyID")
	if !ok {
		return
	}
	policy, err := h.Store.GetPolicy(r.Context(), policyID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, policy)
}

// UpdatePolicy handles PUT /admin/policies/{policyID}.
func (h *Handler) UpdatePolicy(w http.ResponseWriter, r *http.Request) {
	policyID, ok := pathUUID(w, r, "policyID")
	if !ok {
		return
	}
	var payload policyPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, "invalid request body", nil)
		return
	}
	if err := h.Validate.StructExcept(payload, "ChannelID"); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, err.Error(), nil)
		return
	}
	mode, err := ParseRoundingMode(payload.RoundingMode)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, err.Error(), nil)
		return
	}
	policy, err := h.Store.UpdatePolicy(r.Context(), Policy{
		PolicyID:            policyID,
		PolicyName:          payload.PolicyName,
		MarginMultiplier:    payload.MarginMultiplier,
		RoundingUnit:        payload.RoundingUnit,
		RoundingMode:        mode,
		Weight18KMultiplier: payload.Weight18KMultiplier,
		FactorSetID:         payload.FactorSetID,
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	h.Cache.Invalidate(r.Context(), policy.ChannelID)
	h.emit(r, events.TopicPolicyUpdated, policy.PolicyID, policy)
	h.recordAudit(r, "policy.update", "pricing_policy", policy.PolicyID, policy)
	common.JSON(w, http.StatusOK, policy)
}

// ActivatePolicy handles POST /admin/policies/{policyID}/activate.
// Any other active policy on the same channel is deactivated in the
// same transaction.
func (h *Handler) ActivatePolicy(w http.ResponseWriter, r *http.Request) {
	policyID, ok := pathUUID(w, r, "policyID")
	if !ok {
		return
	}
	policy, err := h.Store.ActivatePolicy(r.Context(), policyID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	h.Cache.Invalidate(r.Context(), policy.ChannelID)
	h.emit(r, events.TopicPolicyUpdated, policy.PolicyID, policy)
	h.recordAudit(r, "policy.activate", "pricing_policy", policy.PolicyID, policy)
	common.JSON(w, http.StatusOK, policy)
}

// DeletePolicy handles DELETE /admin/policies/{policyID}.
func (h *Handler) DeletePolicy(w http.ResponseWriter, r *http.Request) {
	policyID, ok := pathUUID(w, r, "policyID")
	if !ok {
		return
	}
	policy, err := h.Store.GetPolicy(r.Context(), policyID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if err := h.Store.DeletePolicy(r.Context(), policyID); err != nil {
		writeStoreError(w, err)
		return
	}
	h.Cache.Invalidate(r.Context(), policy.ChannelID)
	h.recordAudit(r, "policy.delete", "pricing_policy", policyID, nil)
	w.WriteHeader(http.StatusNoContent)
}

type adjustmentPayload struct {
	ChannelID        uuid.UUID  `json:"channel_id" validate:"required"`
	ChannelProductID *string    `json:"channel_product_id,omitempty"`
	MasterItemID     *uuid.UUID `json:"master_item_id,omitempty"`
	Stage            string     `json:"stage" validate:"required"`
	ApplyTo          string     `json:"apply_to" validate:"required"`
	AmountType       string     `json:"amount_type" validate:"required"`
	AmountValue      float64    `json:"amount_value"`
	Priority         int        `json:"priority"`
	ValidFrom        *time.Time `json:"valid_from,omitempty"`
	ValidTo          *time.Time `json:"valid_to,omitempty"`
	IsActive         bool       `json:"is_active"`
	Memo             string     `json:"memo,omitempty" validate:"max=500"`
}

func (p adjustmentPayload) toAdjustment() (Adjustment, error) {
	stage, err := ParseStage(p.Stage)
	if err != nil {
		return Adjustment{}, err
	}
	applyTo, err := ParseApplyTo(p.ApplyTo)
	if err != nil {
		return Adjustment{}, err
	}
	amountType, err := ParseAmountType(p.AmountType)
	if err != nil {
		return Adjustment{}, err
	}
	if p.ChannelProductID == nil && p.MasterItemID == nil {
		return Adjustment{}, errors.New("either channel_product_id or master_item_id is required")
	}
	if p.ValidFrom != nil && p.ValidTo != nil && p.ValidTo.Before(*p.ValidFrom) {
		return Adjustment{}, errors.New("valid_to must not precede valid_from")
	}
	return Adjustment{
		ChannelID:        p.ChannelID,
		ChannelProductID: p.ChannelProductID,
		MasterItemID:     p.MasterItemID,
		Stage:            stage,
		ApplyTo:          applyTo,
		AmountType:       amountType,
		AmountValue:      p.AmountValue,
		Priority:         p.Priority,
		ValidFrom:        p.ValidFrom,
		ValidTo:          p.ValidTo,
		IsActive:         p.IsActive,
		Memo:             p.Memo,
	}, nil
}

// CreateAdjustment handles POST /admin/adjustments.
func (h *Handler) CreateAdjustment(w http.ResponseWriter, r *http.Request) {
	var payload adjustmentPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, "invalid request body", nil)
		return
	}
	if err := h.Validate.Struct(payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, err.Error(), nil)
		return
	}
	adjustment, err := payload.toAdjustment()
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, err.Error(), nil)
		return
	}
	created, err := h.Store.CreateAdjustment(r.Context(), adjustment)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	h.recordAudit(r, "adjustment.create", "pricing_adjustment", created.AdjustmentID, created)
	common.JSON(w, http.StatusCreated, created)
}

// ListAdjustments handles GET /admin/adjustments.
func (h *Handler) ListAdjustments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	channelID := parseOptionalUUID(q.Get("channel_id"))
	var channelProductID *string
	if v := q.Get("channel_product_id"); v != "" {
		channelProductID = &v
	}
	var masterItemID *uuid.UUID
	if id := parseOptionalUUID(q.Get("master_item_id")); id != uuid.Nil {
		masterItemID = &id
	}
	page, perPage := common.ParsePagination(r, 50)
	adjustments, total, err := h.Store.ListAdjustments(r.Context(), channelID, channelProductID, masterItemID, perPage, (page-1)*perPage)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"items":      adjustments,
		"pagination": common.Pagination{Page: page, PerPage: perPage, TotalItems: total},
	})
}

// GetAdjustment handles GET /admin/adjustments/{adjustmentID}.
func (h *Handler) GetAdjustment(w http.ResponseWriter, r *http.Request) {
	adjustmentID, ok := pathUUID(w, r, "adjustmentID")
	if !ok {
		return
	}
	adjustment, err := h.Store.GetAdjustment(r.Context(), adjustmentID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, adjustment)
}

// UpdateAdjustment handles PUT /admin/adjustments/{adjustmentID}.
func (h *Handler) UpdateAdjustment(w http.ResponseWriter, r *http.Request) {
	adjustmentID, ok := pathUUID(w, r, "adjustmentID")
	if !ok {
		return
	}
	var payload adjustmentPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, "invalid request body", nil)
		return
	}
	if err := h.Validate.StructExcept(payload, "ChannelID"); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, err.Error(), nil)
		return
	}
	adjustment, err := payload.toAdjustment()
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, err.Error(), nil)
		return
	}
	adjustment.AdjustmentID = adjustmentID
	updated, err := h.Store.UpdateAdjustment(r.Context(), adjustment)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	h.recordAudit(r, "adjustment.update", "pricing_adjustment", updated.AdjustmentID, updated)
	common.JSON(w, http.StatusOK, updated)
}

// DeleteAdjustment handles DELETE /admin/adjustments/{adjustmentID}.
func (h *Handler) DeleteAdjustment(w http.ResponseWriter, r *http.Request) {
	adjustmentID, ok := pathUUID(w, r, "adjustmentID")
	if !ok {
		return
	}
	if err := h.Store.DeleteAdjustment(r.Context(), adjustmentID); err != nil {
		writeStoreError(w, err)
		return
	}
	h.recordAudit(r, "adjustment.delete", "pricing_adjustment", adjustmentID, nil)
	w.WriteHeader(http.StatusNoContent)
}

type overridePayload struct {
	ChannelID        uuid.UUID  `json:"channel_id" validate:"required"`
	MasterItemID     uuid.UUID  `json:"master_item_id" validate:"required"`
	OverridePriceKRW int64      `json:"override_price_krw" validate:"gte=0"`
	Reason           string     `json:"reason,omitempty" validate:"max=500"`
	ValidFrom        *time.Time `json:"valid_from,omitempty"`
	ValidTo          *time.Time `json:"valid_to,omitempty"`
	IsActive         bool       `json:"is_active"`
}

// CreateOverride handles POST /admin/overrides.
func (h *Handler) CreateOverride(w http.ResponseWriter, r *http.Request) {
	var payload overridePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, "invalid request body", nil)
		return
	}
	if err := h.Validate.Struct(payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, err.Error(), nil)
		return
	}
	if payload.ValidFrom != nil && payload.ValidTo != nil && payload.ValidTo.Before(*payload.ValidFrom) {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, "valid_to must not precede valid_from", nil)
		return
	}
	created, err := h.Store.CreateOverride(r.Context(), Override{
		ChannelID:        payload.ChannelID,
		MasterItemID:     payload.MasterItemID,
		OverridePriceKRW: payload.OverridePriceKRW,
		Reason:           payload.Reason,
		ValidFrom:        payload.ValidFrom,
		ValidTo:          payload.ValidTo,
		IsActive:         payload.IsActive,
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	h.emit(r, events.TopicOverrideUpdated, created.OverrideID, created)
	h.recordAudit(r, "override.create", "pricing_override", created.OverrideID, created)
	common.JSON(w, http.StatusCreated, created)
}

// ListOverrides handles GET /admin/overrides.
func (h *Handler) ListOverrides(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	channelID := parseOptionalUUID(q.Get("channel_id"))
	var masterItemID *uuid.UUID
	if id := parseOptionalUUID(q.Get("master_item_id")); id != uuid.Nil {
		masterItemID = &id
	}
	page, perPage := common.ParsePagination(r, 50)
	overrides, total, err := h.Store.ListOverrides(r.Context(), channelID, masterItemID, perPage, (page-1)*perPage)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"items":      overrides,
		"pagination": common.Pagination{Page: page, PerPage: perPage, TotalItems: total},
	})
}

// GetOverride handles GET /admin/overrides/{overrideID}.
func (h *Handler) GetOverride(w http.ResponseWriter, r *http.Request) {
	overrideID, ok := pathUUID(w, r, "overrideID")
	if !ok {
		return
	}
	override, err := h.Store.GetOverride(r.Context(), overrideID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, override)
}

// UpdateOverride handles PUT /admin/overrides/{overrideID}.
func (h *Handler) UpdateOverride(w http.ResponseWriter, r *http.Request) {
	overrideID, ok := pathUUID(w, r, "overrideID")
	if !ok {
		return
	}
	var payload overridePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, "invalid request body", nil)
		return
	}
	if err := h.Validate.StructExcept(payload, "ChannelID", "MasterItemID"); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, err.Error(), nil)
		return
	}
	if payload.ValidFrom != nil && payload.ValidTo != nil && payload.ValidTo.Before(*payload.ValidFrom) {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, "valid_to must not precede valid_from", nil)
		return
	}
	updated, err := h.Store.UpdateOverride(r.Context(), Override{
		OverrideID:       overrideID,
		OverridePriceKRW: payload.OverridePriceKRW,
		Reason:           payload.Reason,
		ValidFrom:        payload.ValidFrom,
		ValidTo:          payload.ValidTo,
		IsActive:         payload.IsActive,
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	h.emit(r, events.TopicOverrideUpdated, updated.OverrideID, updated)
	h.recordAudit(r, "override.update", "pricing_override", updated.OverrideID, updated)
	common.JSON(w, http.StatusOK, updated)
}

// DeleteOverride handles DELETE /admin/overrides/{overrideID}.
func (h *Handler) DeleteOverride(w http.ResponseWriter, r *http.Request) {
	overrideID, ok := pathUUID(w, r, "overrideID")
	if !ok {
		return
	}
	if err := h.Store.DeleteOverride(r.Context(), overrideID); err != nil {
		writeStoreError(w, err)
		return
	}
	h.emit(r, events.TopicOverrideUpdated, overrideID, map[string]any{"deleted": true})
	h.recordAudit(r, "override.delete", "pricing_override", overrideID, nil)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) emit(r *http.Request, topic string, aggregateID uuid.UUID, payload any) {
	if h.Bus == nil {
		return
	}
	if _, err := h.Bus.Emit(r.Context(), topic, aggregateID, payload); err != nil {
		h.Logger.Error().Err(err).Str("topic", topic).Msg("event emit failed")
	}
}

func (h *Handler) recordAudit(r *http.Request, action, entityType string, entityID uuid.UUID, detail any) {
	if h.Audit == nil {
		return
	}
	actor, _ := common.Actor(r.Context())
	h.Audit.Record(r.Context(), actor, action, entityType, entityID, detail)
}

func pathUUID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, "invalid "+param, nil)
		return uuid.Nil, false
	}
	return id, true
}

func parseOptionalUUID(s string) uuid.UUID {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil
	}
	return id
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case common.IsAppError(err):
		common.WriteError(w, err)
	case errors.Is(err, pgx.ErrNoRows):
		common.JSONError(w, http.StatusNotFound, common.CodeNotFound, "resource not found", nil)
	case errors.Is(err, ErrStoreUnavailable):
		common.JSONError(w, http.StatusServiceUnavailable, common.CodeStoreUnavailable, "store unavailable", nil)
	default:
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case "23505":
				common.JSONError(w, http.StatusConflict, common.CodeConflict, "duplicate resource", nil)
				return
			case "23503":
				common.JSONError(w, http.StatusBadRequest, common.CodeValidation, "referenced resource does not exist", nil)
				return
			}
		}
		common.WriteError(w, err)
	}
}
