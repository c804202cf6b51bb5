package factorset

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrStoreUnavailable indicates the factor set store dependency is not configured.
var ErrStoreUnavailable = errors.New("factorset: store unavailable")

// ErrNotGlobalScope is returned when a channel-scoped set is marked as
// the global default.
var ErrNotGlobalScope = errors.New("factorset: only GLOBAL scoped sets can be the global default")

// PGStore persists factor sets, factors and material rates.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewStore constructs a PGStore backed by a pgx connection pool.
func NewStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

const setColumns = `factor_set_id, set_name, scope, channel_id, is_global_default, is_active, created_at, updated_at`

func scanSet(row pgx.Row) (FactorSet, error) {
	var fs FactorSet
	err := row.Scan(&fs.FactorSetID, &fs.SetName, &fs.Scope, &fs.ChannelID, &fs.IsGlobalDefault, &fs.IsActive, &fs.CreatedAt, &fs.UpdatedAt)
	return fs, err
}

// CreateSet inserts a factor set.
func (s *PGStore) CreateSet(ctx context.Context, fs FactorSet) (FactorSet, error) {
	if s == nil || s.pool == nil {
		return FactorSet{}, ErrStoreUnavailable
	}
	row := s.pool.QueryRow(ctx, `INSERT INTO material_factor_set
(set_name, scope, channel_id, is_active)
VALUES ($1, $2, $3, $4)
RETURNING `+setColumns, fs.SetName, fs.Scope, fs.ChannelID, fs.IsActive)
	return scanSet(row)
}

// GetSet fetches a factor set by id.
func (s *PGStore) GetSet(ctx context.Context, factorSetID uuid.UUID) (FactorSet, error) {
	if s == nil || s.pool == nil {
		return FactorSet{}, ErrStoreUnavailable
	}
	row := s.pool.QueryRow(ctx, `SELECT `+setColumns+` FROM material_factor_set WHERE factor_set_id = $1`, factorSetID)
	return scanSet(row)
}

// ListSets returns factor sets, optionally filtered by scope.
func (s *PGStore) ListSets(ctx context.Context, scope Scope, limit, offset int) ([]FactorSet, int, error) {
	if s == nil || s.pool == nil {
		return nil, 0, ErrStoreUnavailable
	}
	var scopeFilter *Scope
	if scope != "" {
		scopeFilter = &scope
	}
	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM material_factor_set
WHERE ($1::text IS NULL OR scope = $1)`, scopeFilter).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := s.pool.Query(ctx, `SELECT `+setColumns+` FROM material_factor_set
WHERE ($1::text IS NULL OR scope = $1)
ORDER BY created_at DESC
LIMIT $2 OFFSET $3`, scopeFilter, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	sets := make([]FactorSet, 0, limit)
	for rows.Next() {
		fs, err := scanSet(rows)
		if err != nil {
			return nil, 0, err
		}
		sets = append(sets, fs)
	}
	return sets, total, rows.Err()
}

// UpdateSet rewrites the mutable set fields.
func (s *PGStore) UpdateSet(ctx context.Context, fs FactorSet) (FactorSet, error) {
	if s == nil || s.pool == nil {
		return FactorSet{}, ErrStoreUnavailable
	}
	row := s.pool.QueryRow(ctx, `UPDATE material_factor_set SET
set_name = $2,
is_active = $3,
updated_at = now()
WHERE factor_set_id = $1
RETURNING `+setColumns, fs.FactorSetID, fs.SetName, fs.IsActive)
	return scanSet(row)
}

// DeleteSet removes a factor set and its factors.
func (s *PGStore) DeleteSet(ctx context.Context, factorSetID uuid.UUID) error {
	if s == nil || s.pool == nil {
		return ErrStoreUnavailable
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM material_factor_set WHERE factor_set_id = $1`, factorSetID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// MarkGlobalDefault makes the set the single global default. Clearing
// the previous default and setting the new one run in one transaction
// so readers never observe zero or two defaults.
func (s *PGStore) MarkGlobalDefault(ctx context.Context, factorSetID uuid.UUID) (FactorSet, error) {
	if s == nil || s.pool == nil {
		return FactorSet{}, ErrStoreUnavailable
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return FactorSet{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var scope Scope
	if err := tx.QueryRow(ctx, `SELECT scope FROM material_factor_set WHERE factor_set_id = $1 FOR UPDATE`, factorSetID).Scan(&scope); err != nil {
		return FactorSet{}, err
	}
	if scope != ScopeGlobal {
		return FactorSet{}, ErrNotGlobalScope
	}
	if _, err := tx.Exec(ctx, `UPDATE material_factor_set SET is_global_default = false, updated_at = now()
WHERE scope = 'GLOBAL' AND is_global_default = true AND factor_set_id <> $1`, factorSetID); err != nil {
		return FactorSet{}, err
	}
	row := tx.QueryRow(ctx, `UPDATE material_factor_set SET is_global_default = true, updated_at = now()
WHERE factor_set_id = $1
RETURNING `+setColumns, factorSetID)
	fs, err := scanSet(row)
	if err != nil {
		return FactorSet{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return FactorSet{}, err
	}
	return fs, nil
}

// UpsertFactors replaces factors on (factor_set_id, material_code) in
// one transaction. There is no factor delete path; rows are replaced
// by upserting on the same key.
func (s *PGStore) UpsertFactors(ctx context.Context, factorSetID uuid.UUID, factors []Factor) ([]Factor, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreUnavailable
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM material_factor_set WHERE factor_set_id = $1)`, factorSetID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, pgx.ErrNoRows
	}
	out := make([]Factor, 0, len(factors))
	for _, f := range factors {
		row := tx.QueryRow(ctx, `INSERT INTO material_factor (factor_set_id, material_code, multiplier, note)
VALUES ($1, $2, $3, $4)
ON CONFLICT (factor_set_id, material_code)
DO UPDATE SET multiplier = EXCLUDED.multiplier, note = EXCLUDED.note, updated_at = now()
RETURNING factor_set_id, material_code, multiplier, note, updated_at`, factorSetID, f.MaterialCode, f.Multiplier, f.Note)
		var stored Factor
		if err := row.Scan(&stored.FactorSetID, &stored.MaterialCode, &stored.Multiplier, &stored.Note, &stored.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, stored)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

// ListFactors returns all factors in a set.
func (s *PGStore) ListFactors(ctx context.Context, factorSetID uuid.UUID) ([]Factor, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreUnavailable
	}
	rows, err := s.pool.Query(ctx, `SELECT factor_set_id, material_code, multiplier, note, updated_at
FROM material_factor
WHERE factor_set_id = $1
ORDER BY material_code ASC`, factorSetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var factors []Factor
	for rows.Next() {
		var f Factor
		if err := rows.Scan(&f.FactorSetID, &f.MaterialCode, &f.Multiplier, &f.Note, &f.UpdatedAt); err != nil {
			return nil, err
		}
		factors = append(factors, f)
	}
	return factors, rows.Err()
}

// UpsertRate stores or replaces the market rate for a material.
func (s *PGStore) UpsertRate(ctx context.Context, rate MaterialRate) (MaterialRate, error) {
	if s == nil || s.pool == nil {
		return MaterialRate{}, ErrStoreUnavailable
	}
	row := s.pool.QueryRow(ctx, `INSERT INTO material_rate (material_code, rate_krw_per_g)
VALUES ($1, $2)
ON CONFLICT (material_code)
DO UPDATE SET rate_krw_per_g = EXCLUDED.rate_krw_per_g, updated_at = now()
RETURNING material_code, rate_krw_per_g, updated_at`, rate.MaterialCode, rate.RateKRWPerG)
	var stored MaterialRate
	err := row.Scan(&stored.MaterialCode, &stored.RateKRWPerG, &stored.UpdatedAt)
	return stored, err
}

// ListRates returns all material rates.
func (s *PGStore) ListRates(ctx context.Context) ([]MaterialRate, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreUnavailable
	}
	rows, err := s.pool.Query(ctx, `SELECT material_code, rate_krw_per_g, updated_at
FROM material_rate
ORDER BY material_code ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var rates []MaterialRate
	for rows.Next() {
		var r MaterialRate
		if err := rows.Scan(&r.MaterialCode, &r.RateKRWPerG, &r.UpdatedAt); err != nil {
			return nil, err
		}
		rates = append(rates, r)
	}
	return rates, rows.Err()
}
