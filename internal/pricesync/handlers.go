package pricesync

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
)

// Store is the persistence surface the handlers depend on.
type Store interface {
	Enqueue(ctx context.Context, job Job) (Job, bool, error)
	ListJobs(ctx context.Context, status JobStatus, channelID *uuid.UUID, limit, offset int) ([]Job, int, error)
}

// Handler exposes push job administration.
type Handler struct {
	Store    Store
	Audit    audit.Recorder
	Validate *validator.Validate
	Logger   zerolog.Logger
}

type enqueuePayload struct {
	MasterItemID     uuid.UUID `json:"master_item_id" validate:"required"`
	ChannelProductID string    `json:"channel_product_id" validate:"required,max=80"`
	MaterialCode     string    `json:"material_code" validate:"required,max=40"`
	CategoryCode     string    `json:"category_code,omitempty" validate:"max=40"`
	ColorCode        string    `json:"color_code,omitempty" validate:"max=40"`
	WeightG          float64   `json:"weight_g" validate:"gt=0"`
	LaborKRW         int64     `json:"labor_krw" validate:"gte=0"`
}

// EnqueuePush handles POST /admin/channels/{channelID}/push. A second
// enqueue while a job is still pending returns the existing job.
func (h *Handler) EnqueuePush(w http.ResponseWriter, r *http.Request) {
	channelID, err := uuid.Parse(chi.URLParam(r, "channelID"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, "invalid channelID", nil)
		return
	}
	var payload enqueuePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, "invalid request body", nil)
		return
	}
	if err := h.Validate.Struct(payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, err.Error(), nil)
		return
	}
	job, created, err := h.Store.Enqueue(r.Context(), Job{
		ChannelID:        channelID,
		MasterItemID:     payload.MasterItemID,
		ChannelProductID: payload.ChannelProductID,
		MaterialCode:     payload.MaterialCode,
		CategoryCode:     payload.CategoryCode,
		ColorCode:        payload.ColorCode,
		WeightG:          payload.WeightG,
		LaborKRW:         payload.LaborKRW,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	if created {
		h.recordAudit(r, "pricesync.enqueue", job.JobID, job)
		common.JSON(w, http.StatusAccepted, job)
		return
	}
	common.JSON(w, http.StatusOK, job)
}

// ListJobs handles GET /admin/push-jobs.
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	var status JobStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		parsed, err := ParseJobStatus(raw)
		if err != nil {
			common.JSONError(w, http.StatusBadRequest, common.CodeValidation, err.Error(), nil)
			return
		}
		status = parsed
	}
	var channelID *uuid.UUID
	if raw := r.URL.Query().Get("channel_id"); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			common.JSONError(w, http.StatusBadRequest, common.CodeValidation, "invalid channel_id", nil)
			return
		}
		channelID = &parsed
	}
	page, perPage := common.ParsePagination(r, 50)
	jobs, total, err := h.Store.ListJobs(r.Context(), status, channelID, perPage, (page-1)*perPage)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"items":      jobs,
		"pagination": common.Pagination{Page: page, PerPage: perPage, TotalItems: total},
	})
}

func (h *Handler) recordAudit(r *http.Request, action string, entityID uuid.UUID, detail any) {
	if h.Audit == nil {
		return
	}
	actor, _ := common.Actor(r.Context())
	h.Audit.Record(r.Context(), actor, action, "price_push_job", entityID, detail)
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
			common.JSONError(w, http.StatusBadRequest, common.CodeValidation, "referenced channel does not exist", nil)
			return
		}
		common.WriteError(w, err)
	}
}
