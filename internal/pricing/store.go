package pricing

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrStoreUnavailable indicates the pricing store dependency is not configured.
var ErrStoreUnavailable = errors.New("pricing: store unavailable")

// PGStore implements both the quote-side reads and the admin CRUD
// against Postgres.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewStore constructs a PGStore backed by a pgx connection pool.
func NewStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

const policyColumns = `policy_id, channel_id, policy_name, margin_multiplier, rounding_unit,
rounding_mode, option_18k_weight_multiplier, material_factor_set_id, is_active, created_at, updated_at`

func scanPolicy(row pgx.Row) (Policy, error) {
	var p Policy
	err := row.Scan(&p.PolicyID, &p.ChannelID, &p.PolicyName, &p.MarginMultiplier, &p.RoundingUnit,
		&p.RoundingMode, &p.Weight18KMultiplier, &p.FactorSetID, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

// ActivePolicy returns the single active policy for a channel.
// Activation keeps at most one active row per channel; ordering by
// updated_at is a backstop for rows predating that invariant.
func (s *PGStore) ActivePolicy(ctx context.Context, channelID uuid.UUID) (Policy, error) {
	if s == nil || s.pool == nil {
		return Policy{}, ErrStoreUnavailable
	}
	row := s.pool.QueryRow(ctx, `SELECT `+policyColumns+` FROM pricing_policy
WHERE channel_id = $1 AND is_active = true
ORDER BY updated_at DESC
LIMIT 1`, channelID)
	p, err := scanPolicy(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Policy{}, ErrPolicyNotFound
	}
	return p, err
}

// GlobalDefaultFactorSet returns the id of the global default factor set, if any.
func (s *PGStore) GlobalDefaultFactorSet(ctx context.Context) (uuid.UUID, bool, error) {
	if s == nil || s.pool == nil {
		return uuid.Nil, false, ErrStoreUnavailable
	}
	var id uuid.UUID
	err := s.pool.QueryRow(ctx, `SELECT factor_set_id FROM material_factor_set
WHERE scope = 'GLOBAL' AND is_global_default = true AND is_active = true
LIMIT 1`).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, err
	}
	return id, true, nil
}

// FactorMultiplier looks up the per-material multiplier inside a factor set.
func (s *PGStore) FactorMultiplier(ctx context.Context, factorSetID uuid.UUID, materialCode string) (float64, bool, error) {
	if s == nil || s.pool == nil {
		return 0, false, ErrStoreUnavailable
	}
	var multiplier float64
	err := s.pool.QueryRow(ctx, `SELECT multiplier FROM material_factor
WHERE factor_set_id = $1 AND material_code = $2`, factorSetID, materialCode).Scan(&multiplier)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return multiplier, true, nil
}

// MaterialRate returns the market rate in KRW per gram for a material code.
func (s *PGStore) MaterialRate(ctx context.Context, materialCode string) (float64, error) {
	if s == nil || s.pool == nil {
		return 0, ErrStoreUnavailable
	}
	var rate float64
	err := s.pool.QueryRow(ctx, `SELECT rate_krw_per_g FROM material_rate
WHERE material_code = $1`, materialCode).Scan(&rate)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrRateNotFound
	}
	return rate, err
}

const adjustmentColumns = `adjustment_id, channel_id, channel_product_id, master_item_id, stage, apply_to,
amount_type, amount_value, priority, valid_from, valid_to, is_active, memo, created_at, updated_at`

func scanAdjustment(row pgx.Row) (Adjustment, error) {
	var a Adjustment
	err := row.Scan(&a.AdjustmentID, &a.ChannelID, &a.ChannelProductID, &a.MasterItemID, &a.Stage, &a.ApplyTo,
		&a.AmountType, &a.AmountValue, &a.Priority, &a.ValidFrom, &a.ValidTo, &a.IsActive, &a.Memo, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

// ActiveAdjustments returns adjustments live at the given instant for
// either the channel product or the master item.
func (s *PGStore) ActiveAdjustments(ctx context.Context, channelID uuid.UUID, channelProductID *string, masterItemID uuid.UUID, now time.Time) ([]Adjustment, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreUnavailable
	}
	rows, err := s.pool.Query(ctx, `SELECT `+adjustmentColumns+` FROM pricing_adjustment
WHERE channel_id = $1
  AND is_active = true
  AND (valid_from IS NULL OR valid_from <= $4)
  AND (valid_to IS NULL OR valid_to >= $4)
  AND (
    ($2::text IS NOT NULL AND channel_product_id = $2)
    OR master_item_id = $3
  )
ORDER BY priority ASC, adjustment_id ASC`, channelID, channelProductID, masterItemID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var adjustments []Adjustment
	for rows.Next() {
		a, err := scanAdjustment(rows)
		if err != nil {
			return nil, err
		}
		adjustments = append(adjustments, a)
	}
	return adjustments, rows.Err()
}

const overrideColumns = `override_id, channel_id, master_item_id, override_price_krw, reason,
valid_from, valid_to, is_active, created_at, updated_at`

func scanOverride(row pgx.Row) (Override, error) {
	var o Override
	err := row.Scan(&o.OverrideID, &o.ChannelID, &o.MasterItemID, &o.OverridePriceKRW, &o.Reason,
		&o.ValidFrom, &o.ValidTo, &o.IsActive, &o.CreatedAt, &o.UpdatedAt)
	return o, err
}

// ActiveOverrides returns overrides live at the given instant for the
// exact channel and master item pair.
func (s *PGStore) ActiveOverrides(ctx context.Context, channelID, masterItemID uuid.UUID, now time.Time) ([]Override, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreUnavailable
	}
	rows, err := s.pool.Query(ctx, `SELECT `+overrideColumns+` FROM pricing_override
WHERE channel_id = $1
  AND master_item_id = $2
  AND is_active = true
  AND (valid_from IS NULL OR valid_from <= $3)
  AND (valid_to IS NULL OR valid_to >= $3)
ORDER BY created_at ASC, override_id ASC`, channelID, masterItemID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var overrides []Override
	for rows.Next() {
		o, err := scanOverride(rows)
		if err != nil {
			return nil, err
		}
		overrides = append(overrides, o)
	}
	return overrides, rows.Err()
}

// CreatePolicy inserts a policy row. New policies start inactive and
// become live through activation.
func (s *PGStore) CreatePolicy(ctx context.Context, p Policy) (Policy, error) {
	if s == nil || s.pool == nil {
		return Policy{}, ErrStoreUnavailable
	}
	row := s.pool.QueryRow(ctx, `INSERT INTO pricing_policy
(channel_id, policy_name, margin_multiplier, rounding_unit, rounding_mode, option_18k_weight_multiplier, material_factor_set_id, is_active)
VALUES ($1, $2, $3, $4, $5, $6, $7, false)
RETURNING `+policyColumns, p.ChannelID, p.PolicyName, p.MarginMultiplier, p.RoundingUnit, p.RoundingMode, p.Weight18KMultiplier, p.FactorSetID)
	return scanPolicy(row)
}

// GetPolicy fetches a policy by id.
func (s *PGStore) GetPolicy(ctx context.Context, policyID uuid.UUID) (Policy, error) {
	if s == nil || s.pool == nil {
		return Policy{}, ErrStoreUnavailable
	}
	row := s.pool.QueryRow(ctx, `SELECT `+policyColumns+` FROM pricing_policy WHERE policy_id = $1`, policyID)
	return scanPolicy(row)
}

// ListPolicies returns policies, optionally filtered by channel.
func (s *PGStore) ListPolicies(ctx context.Context, channelID uuid.UUID, limit, offset int) ([]Policy, int, error) {
	if s == nil || s.pool == nil {
		return nil, 0, ErrStoreUnavailable
	}
	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM pricing_policy
WHERE ($1::uuid IS NULL OR channel_id = $1)`, nullableUUID(channelID)).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := s.pool.Query(ctx, `SELECT `+policyColumns+` FROM pricing_policy
WHERE ($1::uuid IS NULL OR channel_id = $1)
ORDER BY updated_at DESC
LIMIT $2 OFFSET $3`, nullableUUID(channelID), limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	policies := make([]Policy, 0, limit)
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, 0, err
		}
		policies = append(policies, p)
	}
	return policies, total, rows.Err()
}

// UpdatePolicy rewrites the mutable policy parameters.
func (s *PGStore) UpdatePolicy(ctx context.Context, p Policy) (Policy, error) {
	if s == nil || s.pool == nil {
		return Policy{}, ErrStoreUnavailable
	}
	row := s.pool.QueryRow(ctx, `UPDATE pricing_policy SET
policy_name = $2,
margin_multiplier = $3,
rounding_unit = $4,
rounding_mode = $5,
option_18k_weight_multiplier = $6,
material_factor_set_id = $7,
updated_at = now()
WHERE policy_id = $1
RETURNING `+policyColumns, p.PolicyID, p.PolicyName, p.MarginMultiplier, p.RoundingUnit, p.RoundingMode, p.Weight18KMultiplier, p.FactorSetID)
	return scanPolicy(row)
}

// ActivatePolicy makes the policy the single active one for its
// channel. Sibling deactivation and activation run in one transaction.
func (s *PGStore) ActivatePolicy(ctx context.Context, policyID uuid.UUID) (Policy, error) {
	if s == nil || s.pool == nil {
		return Policy{}, ErrStoreUnavailable
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Policy{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var channelID uuid.UUID
	if err := tx.QueryRow(ctx, `SELECT channel_id FROM pricing_policy WHERE policy_id = $1 FOR UPDATE`, policyID).Scan(&channelID); err != nil {
		return Policy{}, err
	}
	if _, err := tx.Exec(ctx, `UPDATE pricing_policy SET is_active = false, updated_at = now()
WHERE channel_id = $1 AND is_active = true AND policy_id <> $2`, channelID, policyID); err != nil {
		return Policy{}, err
	}
	row := tx.QueryRow(ctx, `UPDATE pricing_policy SET is_active = true, updated_at = now()
WHERE policy_id = $1
RETURNING `+policyColumns, policyID)
	p, err := scanPolicy(row)
	if err != nil {
		return Policy{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// DeletePolicy removes a policy row.
func (s *PGStore) DeletePolicy(ctx context.Context, policyID uuid.UUID) error {
	if s == nil || s.pool == nil {
		return ErrStoreUnavailable
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM pricing_policy WHERE policy_id = $1`, policyID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// CreateAdjustment inserts an adjustment row.
func (s *PGStore) CreateAdjustment(ctx context.Context, a Adjustment) (Adjustment, error) {
	if s == nil || s.pool == nil {
		return Adjustment{}, ErrStoreUnavailable
	}
	row := s.pool.QueryRow(ctx, `INSERT INTO pricing_adjustment
(channel_id, channel_product_id, master_item_id, stage, apply_to, amount_type, amount_value, priority, valid_from, valid_to, is_active, memo)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
RETURNING `+adjustmentColumns,
		a.ChannelID, a.ChannelProductID, a.MasterItemID, a.Stage, a.ApplyTo, a.AmountType,
		a.AmountValue, a.Priority, a.ValidFrom, a.ValidTo, a.IsActive, a.Memo)
	return scanAdjustment(row)
}

// GetAdjustment fetches an adjustment by id.
func (s *PGStore) GetAdjustment(ctx context.Context, adjustmentID uuid.UUID) (Adjustment, error) {
	if s == nil || s.pool == nil {
		return Adjustment{}, ErrStoreUnavailable
	}
	row := s.pool.QueryRow(ctx, `SELECT `+adjustmentColumns+` FROM pricing_adjustment WHERE adjustment_id = $1`, adjustmentID)
	return scanAdjustment(row)
}

// ListAdjustments returns adjustments filtered by channel and optional target.
func (s *PGStore) ListAdjustments(ctx context.Context, channelID uuid.UUID, channelProductID *string, masterItemID *uuid.UUID, limit, offset int) ([]Adjustment, int, error) {
	if s == nil || s.pool == nil {
		return nil, 0, ErrStoreUnavailable
	}
	filter := ` FROM pricing_adjustment
WHERE ($1::uuid IS NULL OR channel_id = $1)
  AND ($2::text IS NULL OR channel_product_id = $2)
  AND ($3::uuid IS NULL OR master_item_id = $3)`
	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*)`+filter, nullableUUID(channelID), channelProductID, masterItemID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := s.pool.Query(ctx, `SELECT `+adjustmentColumns+filter+`
ORDER BY priority ASC, adjustment_id ASC
LIMIT $4 OFFSET $5`, nullableUUID(channelID), channelProductID, masterItemID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	adjustments := make([]Adjustment, 0, limit)
	for rows.Next() {
		a, err := scanAdjustment(rows)
		if err != nil {
			return nil, 0, err
		}
		adjustments = append(adjustments, a)
	}
	return adjustments, total, rows.Err()
}

// UpdateAdjustment rewrites the mutable adjustment fields.
func (s *PGStore) UpdateAdjustment(ctx context.Context, a Adjustment) (Adjustment, error) {
	if s == nil || s.pool == nil {
		return Adjustment{}, ErrStoreUnavailable
	}
	row := s.pool.QueryRow(ctx, `UPDATE pricing_adjustment SET
stage = $2,
apply_to = $3,
amount_type = $4,
amount_value = $5,
priority = $6,
valid_from = $7,
valid_to = $8,
is_active = $9,
memo = $10,
updated_at = now()
WHERE adjustment_id = $1
RETURNING `+adjustmentColumns,
		a.AdjustmentID, a.Stage, a.ApplyTo, a.AmountType, a.AmountValue,
		a.Priority, a.ValidFrom, a.ValidTo, a.IsActive, a.Memo)
	return scanAdjustment(row)
}

// DeleteAdjustment removes an adjustment row.
func (s *PGStore) DeleteAdjustment(ctx context.Context, adjustmentID uuid.UUID) error {
	if s == nil || s.pool == nil {
		return ErrStoreUnavailable
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM pricing_adjustment WHERE adjustment_id = $1`, adjustmentID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// CreateOverride inserts an override row.
func (s *PGStore) CreateOverride(ctx context.Context, o Override) (Override, error) {
	if s == nil || s.pool == nil {
		return Override{}, ErrStoreUnavailable
	}
	row := s.pool.QueryRow(ctx, `INSERT INTO pricing_override
(channel_id, master_item_id, override_price_krw, reason, valid_from, valid_to, is_active)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING `+overrideColumns,
		o.ChannelID, o.MasterItemID, o.OverridePriceKRW, o.Reason, o.ValidFrom, o.ValidTo, o.IsActive)
	return scanOverride(row)
}

// GetOverride fetches an override by id.
func (s *PGStore) GetOverride(ctx context.Context, overrideID uuid.UUID) (Override, error) {
	if s == nil || s.pool == nil {
		return Override{}, ErrStoreUnavailable
	}
	row := s.pool.QueryRow(ctx, `SELECT `+overrideColumns+` FROM pricing_override WHERE override_id = $1`, overrideID)
	return scanOverride(row)
}

// ListOverrides returns overrides filtered by channel and optional master item.
func (s *PGStore) ListOverrides(ctx context.Context, channelID uuid.UUID, masterItemID *uuid.UUID, limit, offset int) ([]Override, int, error) {
	if s == nil || s.pool == nil {
		return nil, 0, ErrStoreUnavailable
	}
	filter := ` FROM pricing_override
WHERE ($1::uuid IS NULL OR channel_id = $1)
  AND ($2::uuid IS NULL OR master_item_id = $2)`
	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*)`+filter, nullableUUID(channelID), masterItemID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := s.pool.Query(ctx, `SELECT `+overrideColumns+filter+`
ORDER BY updated_at DESC
LIMIT $3 OFFSET $4`, nullableUUID(channelID), masterItemID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	overrides := make([]Override, 0, limit)
	for rows.Next() {
		o, err := scanOverride(rows)
		if err != nil {
			return nil, 0, err
		}
		overrides = append(overrides, o)
	}
	return overrides, total, rows.Err()
}

// UpdateOverride rewrites the mutable override fields.
func (s *PGStore) UpdateOverride(ctx context.Context, o Override) (Override, error) {
	if s == nil || s.pool == nil {
		return Override{}, ErrStoreUnavailable
	}
	row := s.pool.QueryRow(ctx, `UPDATE pricing_override SET
override_price_krw = $2,
reason = $3,
valid_from = $4,
valid_to = $5,
is_active = $6,
updated_at = now()
WHERE override_id = $1
RETURNING `+overrideColumns,
		o.OverrideID, o.OverridePriceKRW, o.Reason, o.ValidFrom, o.ValidTo, o.IsActive)
	return scanOverride(row)
}

// DeleteOverride removes an override row.
func (s *PGStore) DeleteOverride(ctx context.Context, overrideID uuid.UUID) error {
	if s == nil || s.pool == nil {
		return ErrStoreUnavailable
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM pricing_override WHERE override_id = $1`, overrideID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func nullableUUID(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}
