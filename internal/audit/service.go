package audit

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Entry is one recorded admin action.
type Entry struct {
	ID         uuid.UUID       `json:"id"`
	Actor      string          `json:"actor"`
	Action     string          `json:"action"`
	EntityType string          `json:"entity_type"`
	EntityID   uuid.UUID       `json:"entity_id"`
	Detail     json.RawMessage `json:"detail"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Store defines persistence for audit entries.
type Store interface {
	InsertEntry(ctx context.Context, actor, action, entityType string, entityID uuid.UUID, detail []byte) error
	ListEntries(ctx context.Context, entityType string, limit, offset int) ([]Entry, int, error)
}

// Recorder is the write-side surface mutation handlers depend on.
type Recorder interface {
	Record(ctx context.Context, actor, action, entityType string, entityID uuid.UUID, detail any)
}

// Service records audit entries. Recording is best effort: a failed
// insert is logged and must never fail the mutation it describes.
type Service struct {
	Store  Store
	Logger zerolog.Logger
}

// Record persists a single audit entry.
func (s *Service) Record(ctx context.Context, actor, action, entityType string, entityID uuid.UUID, detail any) {
	if s == nil || s.Store == nil {
		return
	}
	actor = strings.TrimSpace(actor)
	if actor == "" {
		actor = "unknown"
	}
	payload := []byte("{}")
	if detail != nil {
		if data, err := json.Marshal(detail); err == nil {
			payload = data
		}
	}
	if err := s.Store.InsertEntry(ctx, actor, action, entityType, entityID, payload); err != nil {
		s.Logger.Error().Err(err).
			Str("action", action).
			Str("entity_type", entityType).
			Str("entity_id", entityID.String()).
			Msg("audit record failed")
	}
}

// List returns audit entries, optionally filtered by entity type.
func (s *Service) List(ctx context.Context, entityType string, limit, offset int) ([]Entry, int, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.Store.ListEntries(ctx, strings.TrimSpace(entityType), limit, offset)
}
