package channel

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
)

// Store is the persistence surface the handlers depend on.
type Store interface {
	CreateChannel(ctx context.Context, ch Channel) (Channel, error)
	GetChannel(ctx context.Context, channelID uuid.UUID) (Channel, error)
	ListChannels(ctx context.Context, limit, offset int) ([]Channel, int, error)
	UpdateChannel(ctx context.Context, channelID uuid.UUID, name string, isActive bool) (Channel, error)
	DeleteChannel(ctx context.Context, channelID uuid.UUID) error
	UpsertAccount(ctx context.Context, a Account) (Account, error)
	AccountForChannel(ctx context.Context, channelID uuid.UUID) (Account, error)
}

// Handler exposes sales channel administration.
type Handler struct {
	Store    Store
	Audit    audit.Recorder
	Validate *validator.Validate
	Logger   zerolog.Logger
}

type channelPayload struct {
	ChannelCode string `json:"channel_code" validate:"required,max=40"`
	ChannelType string `json:"channel_type" validate:"required"`
	Name        string `json:"name" validate:"required,max=120"`
	IsActive    bool   `json:"is_active"`
}

// Create handles POST /admin/channels.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var payload channelPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, "invalid request body", nil)
		return
	}
	if err := h.Validate.Struct(payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, err.Error(), nil)
		return
	}
	channelType, err := ParseType(payload.ChannelType)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, err.Error(), nil)
		return
	}
	created, err := h.Store.CreateChannel(r.Context(), Channel{
		ChannelCode: payload.ChannelCode,
		ChannelType: channelType,
		Name:        payload.Name,
		IsActive:    payload.IsActive,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.recordAudit(r, "channel.create", created.ChannelID, created)
	common.JSON(w, http.StatusCreated, created)
}

// List handles GET /admin/channels.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	page, perPage := common.ParsePagination(r, 50)
	channels, total, err := h.Store.ListChannels(r.Context(), perPage, (page-1)*perPage)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"items":      channels,
		"pagination": common.Pagination{Page: page, PerPage: perPage, TotalItems: total},
	})
}

// Get handles GET /admin/channels/{channelID}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	channelID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	ch, err := h.Store.GetChannel(r.Context(), channelID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, ch)
}

type channelUpdatePayload struct {
	Name     string `json:"name" validate:"required,max=120"`
	IsActive bool   `json:"is_active"`
}

// Update handles PUT /admin/channels/{channelID}. Code and type are
// immutable once the channel exists.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	channelID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var payload channelUpdatePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, "invalid request body", nil)
		return
	}
	if err := h.Validate.Struct(payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, err.Error(), nil)
		return
	}
	updated, err := h.Store.UpdateChannel(r.Context(), channelID, payload.Name, payload.IsActive)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.recordAudit(r, "channel.update", updated.ChannelID, updated)
	common.JSON(w, http.StatusOK, updated)
}

// Delete handles DELETE /admin/channels/{channelID}.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	channelID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if err := h.Store.DeleteChannel(r.Context(), channelID); err != nil {
		h.writeError(w, err)
		return
	}
	h.recordAudit(r, "channel.delete", channelID, nil)
	w.WriteHeader(http.StatusNoContent)
}

type accountPayload struct {
	MallID         string    `json:"mall_id" validate:"required,max=80"`
	AccessToken    string    `json:"access_token" validate:"required"`
	RefreshToken   string    `json:"refresh_token,omitempty"`
	TokenExpiresAt time.Time `json:"token_expires_at" validate:"required"`
	Status         string    `json:"status,omitempty"`
}

// UpsertAccount handles PUT /admin/channels/{channelID}/account. Tokens
// are accepted here and never echoed back.
func (h *Handler) UpsertAccount(w http.ResponseWriter, r *http.Request) {
	channelID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var payload accountPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, "invalid request body", nil)
		return
	}
	if err := h.Validate.Struct(payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, err.Error(), nil)
		return
	}
	status := AccountStatus(payload.Status)
	if status == "" {
		status = AccountActive
	}
	switch status {
	case AccountActive, AccountExpired, AccountRevoked:
	default:
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, "unknown account status", nil)
		return
	}
	stored, err := h.Store.UpsertAccount(r.Context(), Account{
		ChannelID:      channelID,
		MallID:         payload.MallID,
		AccessToken:    payload.AccessToken,
		RefreshToken:   payload.RefreshToken,
		TokenExpiresAt: payload.TokenExpiresAt,
		Status:         status,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.recordAudit(r, "channel.account_upsert", channelID, map[string]any{"mall_id": stored.MallID, "status": stored.Status})
	common.JSON(w, http.StatusOK, stored)
}

func (h *Handler) recordAudit(r *http.Request, action string, entityID uuid.UUID, detail any) {
	if h.Audit == nil {
		return
	}
	actor, _ := common.Actor(r.Context())
	h.Audit.Record(r.Context(), actor, action, "sales_channel", entityID, detail)
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "channelID"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, "invalid channelID", nil)
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
