package syncrule

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

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

// Store is the persistence surface the handlers depend on.
type Store interface {
	CreateRuleSet(ctx context.Context, rs RuleSet) (RuleSet, error)
	GetRuleSet(ctx context.Context, ruleSetID uuid.UUID) (RuleSet, error)
	ListRuleSets(ctx context.Context, channelID uuid.UUID, limit, offset int) ([]RuleSet, int, error)
	UpdateRuleSet(ctx context.Context, rs RuleSet) (RuleSet, error)
	DeleteRuleSet(ctx context.Context, ruleSetID uuid.UUID) error

	CreateR2Rule(ctx context.Context, r R2Rule) (R2Rule, error)
	ListR2Rules(ctx context.Context, ruleSetID uuid.UUID) ([]R2Rule, error)
	UpdateR2Rule(ctx context.Context, r R2Rule) (R2Rule, error)
	DeleteR2Rule(ctx context.Context, ruleID uuid.UUID) error

	CreateR3Rule(ctx context.Context, r R3Rule) (R3Rule, error)
	ListR3Rules(ctx context.Context, ruleSetID uuid.UUID) ([]R3Rule, error)
	UpdateR3Rule(ctx context.Context, r R3Rule) (R3Rule, error)
	DeleteR3Rule(ctx context.Context, ruleID uuid.UUID) error

	BulkAdjustR2(ctx context.Context, ruleSetID uuid.UUID, deltaKRW int64, filter BulkFilter) ([]R2Rule, error)
	BulkAdjustR3(ctx context.Context, ruleSetID uuid.UUID, deltaKRW int64, filter BulkFilter) ([]R3Rule, error)
}

// Handler exposes rule set administration and bulk delta adjustment.
type Handler struct {
	Store    Store
	Bus      *events.Bus
	Audit    audit.Recorder
	Validate *validator.Validate
	Logger   zerolog.Logger
}

type ruleSetPayload struct {
	ChannelID uuid.UUID `json:"channel_id" validate:"required"`
	SetName   string    `json:"set_name" validate:"required,max=120"`
	IsActive  bool      `json:"is_active"`
}

// CreateRuleSet handles POST /admin/rule-sets.
func (h *Handler) CreateRuleSet(w http.ResponseWriter, r *http.Request) {
	var payload ruleSetPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, "invalid request body", nil)
		return
	}
	if err := h.Validate.Struct(payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, err.Error(), nil)
		return
	}
	created, err := h.Store.CreateRuleSet(r.Context(), RuleSet{
		ChannelID: payload.ChannelID,
		SetName:   payload.SetName,
		IsActive:  payload.IsActive,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.recordAudit(r, "ruleset.create", "sync_rule_set", created.RuleSetID, created)
	common.JSON(w, http.StatusCreated, created)
}

// ListRuleSets handles GET /admin/rule-sets.
func (h *Handler) ListRuleSets(w http.ResponseWriter, r *http.Request) {
	channelID, _ := uuid.Parse(r.URL.Query().Get("channel_id"))
	page, perPage := common.ParsePagination(r, 50)
	sets, total, err := h.Store.ListRuleSets(r.Context(), channelID, perPage, (page-1)*perPage)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"items":      sets,
		"pagination": common.Pagination{Page: page, PerPage: perPage, TotalItems: total},
	})
}

// GetRuleSet handles GET /admin/rule-sets/{ruleSetID}.
func (h *Handler) GetRuleSet(w http.ResponseWriter, r *http.Request) {
	ruleSetID, ok := pathUUID(w, r, "ruleSetID")
	if !ok {
		return
	}
	set, err := h.Store.GetRuleSet(r.Context(), ruleSetID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, set)
}

type ruleSetUpdatePayload struct {
	SetName  string `json:"set_name" validate:"required,max=120"`
	IsActive bool   `json:"is_active"`
}

// UpdateRuleSet handles PUT /admin/rule-sets/{ruleSetID}.
func (h *Handler) UpdateRuleSet(w http.ResponseWriter, r *http.Request) {
	ruleSetID, ok := pathUUID(w, r, "ruleSetID")
	if !ok {
		return
	}
	var payload ruleSetUpdatePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, "invalid request body", nil)
		return
	}
	if err := h.Validate.Struct(payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, err.Error(), nil)
		return
	}
	updated, err := h.Store.UpdateRuleSet(r.Context(), RuleSet{
		RuleSetID: ruleSetID,
		SetName:   payload.SetName,
		IsActive:  payload.IsActive,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.recordAudit(r, "ruleset.update", "sync_rule_set", updated.RuleSetID, updated)
	common.JSON(w, http.StatusOK, updated)
}

// DeleteRuleSet handles DELETE /admin/rule-sets/{ruleSetID}.
func (h *Handler) DeleteRuleSet(w http.ResponseWriter, r *http.Request) {
	ruleSetID, ok := pathUUID(w, r, "ruleSetID")
	if !ok {
		return
	}
	if err := h.Store.DeleteRuleSet(r.Context(), ruleSetID); err != nil {
		h.writeError(w, err)
		return
	}
	h.recordAudit(r, "ruleset.delete", "sync_rule_set", ruleSetID, nil)
	w.WriteHeader(http.StatusNoContent)
}

type r2RulePayload struct {
	MaterialCode *string `json:"material_code,omitempty"`
	CategoryCode *string `json:"category_code,omitempty"`
	WeightMinG   float64 `json:"weight_min_g" validate:"gte=0"`
	WeightMaxG   float64 `json:"weight_max_g" validate:"gtefield=WeightMinG"`
	DeltaKRW     int64   `json:"delta_krw"`
	IsActive     bool    `json:"is_active"`
}

// CreateR2Rule handles POST /admin/rule-sets/{ruleSetID}/rules/r2.
func (h *Handler) CreateR2Rule(w http.ResponseWriter, r *http.Request) {
	ruleSetID, ok := pathUUID(w, r, "ruleSetID")
	if !ok {
		return
	}
	var payload r2RulePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, "invalid request body", nil)
		return
	}
	if err := h.Validate.Struct(payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, err.Error(), nil)
		return
	}
	created, err := h.Store.CreateR2Rule(r.Context(), R2Rule{
		RuleSetID:    ruleSetID,
		MaterialCode: payload.MaterialCode,
		CategoryCode: payload.CategoryCode,
		WeightMinG:   payload.WeightMinG,
		WeightMaxG:   payload.WeightMaxG,
		DeltaKRW:     payload.DeltaKRW,
		IsActive:     payload.IsActive,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.recordAudit(r, "rule.r2.create", "sync_rule_r2_size_weight", created.RuleID, created)
	common.JSON(w, http.StatusCreated, created)
}

// ListR2Rules handles GET /admin/rule-sets/{ruleSetID}/rules/r2.
func (h *Handler) ListR2Rules(w http.ResponseWriter, r *http.Request) {
	ruleSetID, ok := pathUUID(w, r, "ruleSetID")
	if !ok {
		return
	}
	rules, err := h.Store.ListR2Rules(r.Context(), ruleSetID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"items": rules})
}

// UpdateR2Rule handles PUT /admin/rule-sets/{ruleSetID}/rules/r2/{ruleID}.
func (h *Handler) UpdateR2Rule(w http.ResponseWriter, r *http.Request) {
	ruleID, ok := pathUUID(w, r, "ruleID")
	if !ok {
		return
	}
	var payload r2RulePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, "invalid request body", nil)
		return
	}
	if err := h.Validate.Struct(payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, err.Error(), nil)
		return
	}
	updated, err := h.Store.UpdateR2Rule(r.Context(), R2Rule{
		RuleID:       ruleID,
		MaterialCode: payload.MaterialCode,
		CategoryCode: payload.CategoryCode,
		WeightMinG:   payload.WeightMinG,
		WeightMaxG:   payload.WeightMaxG,
		DeltaKRW:     payload.DeltaKRW,
		IsActive:     payload.IsActive,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.recordAudit(r, "rule.r2.update", "sync_rule_r2_size_weight", updated.RuleID, updated)
	common.JSON(w, http.StatusOK, updated)
}

// DeleteR2Rule handles DELETE /admin/rule-sets/{ruleSetID}/rules/r2/{ruleID}.
func (h *Handler) DeleteR2Rule(w http.ResponseWriter, r *http.Request) {
	ruleID, ok := pathUUID(w, r, "ruleID")
	if !ok {
		return
	}
	if err := h.Store.DeleteR2Rule(r.Context(), ruleID); err != nil {
		h.writeError(w, err)
		return
	}
	h.recordAudit(r, "rule.r2.delete", "sync_rule_r2_size_weight", ruleID, nil)
	w.WriteHeader(http.StatusNoContent)
}

type r3RulePayload struct {
	ColorCode    *string `json:"color_code,omitempty"`
	MarginMinKRW int64   `json:"margin_min_krw"`
	MarginMaxKRW int64   `json:"margin_max_krw" validate:"gtefield=MarginMinKRW"`
	DeltaKRW     int64   `json:"delta_krw"`
	IsActive     bool    `json:"is_active"`
}

// CreateR3Rule handles POST /admin/rule-sets/{ruleSetID}/rules/r3.
func (h *Handler) CreateR3Rule(w http.ResponseWriter, r *http.Request) {
	ruleSetID, ok := pathUUID(w, r, "ruleSetID")
	if !ok {
		return
	}
	var payload r3RulePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, "invalid request body", nil)
		return
	}
	if err := h.Validate.Struct(payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, err.Error(), nil)
		return
	}
	created, err := h.Store.CreateR3Rule(r.Context(), R3Rule{
		RuleSetID:    ruleSetID,
		ColorCode:    payload.ColorCode,
		MarginMinKRW: payload.MarginMinKRW,
		MarginMaxKRW: payload.MarginMaxKRW,
		DeltaKRW:     payload.DeltaKRW,
		IsActive:     payload.IsActive,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.recordAudit(r, "rule.r3.create", "sync_rule_r3_color_margin", created.RuleID, created)
	common.JSON(w, http.StatusCreated, created)
}

// ListR3Rules handles GET /admin/rule-sets/{ruleSetID}/rules/r3.
func (h *Handler) ListR3Rules(w http.ResponseWriter, r *http.Request) {
	ruleSetID, ok := pathUUID(w, r, "ruleSetID")
	if !ok {
		return
	}
	rules, err := h.Store.ListR3Rules(r.Context(), ruleSetID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"items": rules})
}

// UpdateR3Rule handles PUT /admin/rule-sets/{ruleSetID}/rules/r3/{ruleID}.
func (h *Handler) UpdateR3Rule(w http.ResponseWriter, r *http.Request) {
	ruleID, ok := pathUUID(w, r, "ruleID")
	if !ok {
		return
	}
	var payload r3RulePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, "invalid request body", nil)
		return
	}
	if err := h.Validate.Struct(payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, err.Error(), nil)
		return
	}
	updated, err := h.Store.UpdateR3Rule(r.Context(), R3Rule{
		RuleID:       ruleID,
		ColorCode:    payload.ColorCode,
		MarginMinKRW: payload.MarginMinKRW,
		MarginMaxKRW: payload.MarginMaxKRW,
		DeltaKRW:     payload.DeltaKRW,
		IsActive:     payload.IsActive,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.recordAudit(r, "rule.r3.update", "sync_rule_r3_color_margin", updated.RuleID, updated)
	common.JSON(w, http.StatusOK, updated)
}

// DeleteR3Rule handles DELETE /admin/rule-sets/{ruleSetID}/rules/r3/{ruleID}.
func (h *Handler) DeleteR3Rule(w http.ResponseWriter, r *http.Request) {
	ruleID, ok := pathUUID(w, r, "ruleID")
	if !ok {
		return
	}
	if err := h.Store.DeleteR3Rule(r.Context(), ruleID); err != nil {
		h.writeError(w, err)
		return
	}
	h.recordAudit(r, "rule.r3.delete", "sync_rule_r3_color_margin", ruleID, nil)
	w.WriteHeader(http.StatusNoContent)
}

type bulkAdjustPayload struct {
	RuleType     string    `json:"rule_type" validate:"required"`
	RuleSetID    uuid.UUID `json:"rule_set_id" validate:"required"`
	DeltaKRW     int64     `json:"delta_krw"`
	MaterialCode *string   `json:"material_code,omitempty"`
	CategoryCode *string   `json:"category_code,omitempty"`
	ColorCode    *string   `json:"color_code,omitempty"`
}

// BulkAdjust handles POST /admin/rules/bulk-adjust. The shift applies
// to every matching active rule or to none.
func (h *Handler) BulkAdjust(w http.ResponseWriter, r *http.Request) {
	var payload bulkAdjustPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, "invalid request body", nil)
		return
	}
	if err := h.Validate.Struct(payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, err.Error(), nil)
		return
	}
	ruleType, err := ParseRuleType(payload.RuleType)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, err.Error(), nil)
		return
	}
	if err := ValidateBulkDelta(payload.DeltaKRW); err != nil {
		h.countBulk(ruleType, "rejected")
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, err.Error(), nil)
		return
	}
	filter := BulkFilter{
		MaterialCode: payload.MaterialCode,
		CategoryCode: payload.CategoryCode,
		ColorCode:    payload.ColorCode,
	}

	var (
		updated int
		data    any
	)
	switch ruleType {
	case RuleTypeR2SizeWeight:
		rules, err := h.Store.BulkAdjustR2(r.Context(), payload.RuleSetID, payload.DeltaKRW, filter)
		if err != nil {
			h.countBulk(ruleType, "error")
			h.writeError(w, err)
			return
		}
		updated, data = len(rules), rules
	case RuleTypeR3ColorMargin:
		rules, err := h.Store.BulkAdjustR3(r.Context(), payload.RuleSetID, payload.DeltaKRW, filter)
		if err != nil {
			h.countBulk(ruleType, "error")
			h.writeError(w, err)
			return
		}
		updated, data = len(rules), rules
	}

	h.countBulk(ruleType, "ok")
	if h.Bus != nil {
		if _, err := h.Bus.Emit(r.Context(), events.TopicRulesBulkAdjusted, payload.RuleSetID, map[string]any{
			"rule_type": ruleType,
			"delta_krw": payload.DeltaKRW,
			"updated":   updated,
		}); err != nil {
			h.Logger.Error().Err(err).Msg("event emit failed")
		}
	}
	h.recordAudit(r, "rules.bulk_adjust", "sync_rule_set", payload.RuleSetID, map[string]any{
		"rule_type": ruleType,
		"delta_krw": payload.DeltaKRW,
		"updated":   updated,
	})
	common.JSON(w, http.StatusOK, map[string]any{"updated": updated, "data": data})
}

func (h *Handler) countBulk(ruleType RuleType, result string) {
	if obs.BulkAdjustTotal != nil {
		obs.BulkAdjustTotal.WithLabelValues(string(ruleType), result).Inc()
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

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		common.JSONError(w, http.StatusNotFound, common.CodeNotFound, "resource not found", nil)
	case errors.Is(err, ErrStoreUnavailable):
		common.JSONError(w, http.StatusServiceUnavailable, common.CodeStoreUnavailable, "store unavailable", nil)
	default:
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			common.JSONError(w, http.StatusBadRequest, common.CodeValidation, "referenced resource does not exist", nil)
			return
		}
		common.WriteError(w, err)
	}
}
