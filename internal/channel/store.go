package channel

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrStoreUnavailable indicates the channel store dependency is not configured.
var ErrStoreUnavailable = errors.New("channel: store unavailable")

// PGStore persists sales channels and their platform accounts.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewStore constructs a PGStore backed by a pgx connection pool.
func NewStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

const channelColumns = `channel_id, channel_code, channel_type, name, is_active, created_at, updated_at`

func scanChannel(row pgx.Row) (Channel, error) {
	var ch Channel
	err := row.Scan(&ch.ChannelID, &ch.ChannelCode, &ch.ChannelType, &ch.Name, &ch.IsActive, &ch.CreatedAt, &ch.UpdatedAt)
	return ch, err
}

const accountColumns = `account_id, channel_id, mall_id, access_token, refresh_token, token_expires_at, status, updated_at`

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	err := row.Scan(&a.AccountID, &a.ChannelID, &a.MallID, &a.AccessToken, &a.RefreshToken, &a.TokenExpiresAt, &a.Status, &a.UpdatedAt)
	return a, err
}

// CreateChannel inserts a sales channel.
func (s *PGStore) CreateChannel(ctx context.Context, ch Channel) (Channel, error) {
	if s == nil || s.pool == nil {
		return Channel{}, ErrStoreUnavailable
	}
	row := s.pool.QueryRow(ctx, `INSERT INTO sales_channel
(channel_code, channel_type, name, is_active)
VALUES ($1, $2, $3, $4)
RETURNING `+channelColumns, ch.ChannelCode, ch.ChannelType, ch.Name, ch.IsActive)
	return scanChannel(row)
}

// GetChannel fetches a channel by id.
func (s *PGStore) GetChannel(ctx context.Context, channelID uuid.UUID) (Channel, error) {
	if s == nil || s.pool == nil {
		return Channel{}, ErrStoreUnavailable
	}
	row := s.pool.QueryRow(ctx, `SELECT `+channelColumns+` FROM sales_channel WHERE channel_id = $1`, channelID)
	return scanChannel(row)
}

// ListChannels returns channels ordered by code.
func (s *PGStore) ListChannels(ctx context.Context, limit, offset int) ([]Channel, int, error) {
	if s == nil || s.pool == nil {
		return nil, 0, ErrStoreUnavailable
	}
	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM sales_channel`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := s.pool.Query(ctx, `SELECT `+channelColumns+` FROM sales_channel
ORDER BY channel_code
LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	channels := make([]Channel, 0, limit)
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, 0, err
		}
		channels = append(channels, ch)
	}
	return channels, total, rows.Err()
}

// UpdateChannel changes the mutable fields of a channel.
func (s *PGStore) UpdateChannel(ctx context.Context, channelID uuid.UUID, name string, isActive bool) (Channel, error) {
	if s == nil || s.pool == nil {
		return Channel{}, ErrStoreUnavailable
	}
	row := s.pool.QueryRow(ctx, `UPDATE sales_channel
SET name = $2, is_active = $3, updated_at = now()
WHERE channel_id = $1
RETURNING `+channelColumns, channelID, name, isActive)
	return scanChannel(row)
}

// DeleteChannel removes a channel. Accounts and jobs cascade.
func (s *PGStore) DeleteChannel(ctx context.Context, channelID uuid.UUID) error {
	if s == nil || s.pool == nil {
		return ErrStoreUnavailable
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM sales_channel WHERE channel_id = $1`, channelID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// UpsertAccount stores the platform credentials for a channel. One
// account per channel; a second upsert rotates the tokens in place.
func (s *PGStore) UpsertAccount(ctx context.Context, a Account) (Account, error) {
	if s == nil || s.pool == nil {
		return Account{}, ErrStoreUnavailable
	}
	row := s.pool.QueryRow(ctx, `INSERT INTO sales_channel_account
(channel_id, mall_id, access_token, refresh_token, token_expires_at, status)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (channel_id) DO UPDATE SET
	mall_id = EXCLUDED.mall_id,
	access_token = EXCLUDED.access_token,
	refresh_token = EXCLUDED.refresh_token,
	token_expires_at = EXCLUDED.token_expires_at,
	status = EXCLUDED.status,
	updated_at = now()
RETURNING `+accountColumns, a.ChannelID, a.MallID, a.AccessToken, a.RefreshToken, a.TokenExpiresAt, a.Status)
	return scanAccount(row)
}

// AccountForChannel fetches the credentials backing a channel.
func (s *PGStore) AccountForChannel(ctx context.Context, channelID uuid.UUID) (Account, error) {
	if s == nil || s.pool == nil {
		return Account{}, ErrStoreUnavailable
	}
	row := s.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM sales_channel_account WHERE channel_id = $1`, channelID)
	return scanAccount(row)
}
