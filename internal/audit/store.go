package audit

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrStoreUnavailable indicates the audit store dependency is not configured.
var ErrStoreUnavailable = errors.New("audit: store unavailable")

// NewStore constructs a Store backed by a pgx connection pool.
func NewStore(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool}
}

type pgStore struct {
	pool *pgxpool.Pool
}

func (s *pgStore) InsertEntry(ctx context.Context, actor, action, entityType string, entityID uuid.UUID, detail []byte) error {
	if s == nil || s.pool == nil {
		return ErrStoreUnavailable
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO audit_log (actor, action, entity_type, entity_id, detail)
VALUES ($1, $2, $3, $4, $5)`, actor, action, entityType, entityID, detail)
	return err
}

func (s *pgStore) ListEntries(ctx context.Context, entityType string, limit, offset int) ([]Entry, int, error) {
	if s == nil || s.pool == nil {
		return nil, 0, ErrStoreUnavailable
	}
	var total int
	countQuery := `SELECT COUNT(*) FROM audit_log`
	listQuery := `SELECT audit_id, actor, action, entity_type, entity_id, detail, created_at
FROM audit_log`
	args := []any{}
	if entityType != "" {
		countQuery += ` WHERE entity_type = $1`
		listQuery += ` WHERE entity_type = $1`
		args = append(args, entityType)
	}
	if err := s.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	listQuery += ` ORDER BY created_at DESC LIMIT ` + placeholder(len(args)+1) + ` OFFSET ` + placeholder(len(args)+2)
	args = append(args, limit, offset)
	rows, err := s.pool.Query(ctx, listQuery, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Actor, &e.Action, &e.EntityType, &e.EntityID, &e.Detail, &e.CreatedAt); err != nil {
			return nil, 0, err
		}
		entries = append(entries, e)
	}
	return entries, total, rows.Err()
}

func placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}
