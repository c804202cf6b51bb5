package syncrule

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrStoreUnavailable indicates the rule store dependency is not configured.
var ErrStoreUnavailable = errors.New("syncrule: store unavailable")

// PGStore persists rule sets and their banded rules.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewStore constructs a PGStore backed by a pgx connection pool.
func NewStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

const ruleSetColumns = `rule_set_id, channel_id, set_name, is_active, created_at, updated_at`

func scanRuleSet(row pgx.Row) (RuleSet, error) {
	var rs RuleSet
	err := row.Scan(&rs.RuleSetID, &rs.ChannelID, &rs.SetName, &rs.IsActive, &rs.CreatedAt, &rs.UpdatedAt)
	return rs, err
}

// CreateRuleSet inserts a rule set.
func (s *PGStore) CreateRuleSet(ctx context.Context, rs RuleSet) (RuleSet, error) {
	if s == nil || s.pool == nil {
		return RuleSet{}, ErrStoreUnavailable
	}
	row := s.pool.QueryRow(ctx, `INSERT INTO sync_rule_set (channel_id, set_name, is_active)
VALUES ($1, $2, $3)
RETURNING `+ruleSetColumns, rs.ChannelID, rs.SetName, rs.IsActive)
	return scanRuleSet(row)
}

// GetRuleSet fetches a rule set by id.
func (s *PGStore) GetRuleSet(ctx context.Context, ruleSetID uuid.UUID) (RuleSet, error) {
	if s == nil || s.pool == nil {
		return RuleSet{}, ErrStoreUnavailable
	}
	row := s.pool.QueryRow(ctx, `SELECT `+ruleSetColumns+` FROM sync_rule_set WHERE rule_set_id = $1`, ruleSetID)
	return scanRuleSet(row)
}

// ListRuleSets returns rule sets, optionally filtered by channel.
func (s *PGStore) ListRuleSets(ctx context.Context, channelID uuid.UUID, limit, offset int) ([]RuleSet, int, error) {
	if s == nil || s.pool == nil {
		return nil, 0, ErrStoreUnavailable
	}
	var channelFilter *uuid.UUID
	if channelID != uuid.Nil {
		channelFilter = &channelID
	}
	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM sync_rule_set
WHERE ($1::uuid IS NULL OR channel_id = $1)`, channelFilter).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := s.pool.Query(ctx, `SELECT `+ruleSetColumns+` FROM sync_rule_set
WHERE ($1::uuid IS NULL OR channel_id = $1)
ORDER BY created_at DESC
LIMIT $2 OFFSET $3`, channelFilter, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	sets := make([]RuleSet, 0, limit)
	for rows.Next() {
		rs, err := scanRuleSet(rows)
		if err != nil {
			return nil, 0, err
		}
		sets = append(sets, rs)
	}
	return sets, total, rows.Err()
}

// UpdateRuleSet rewrites the mutable rule set fields.
func (s *PGStore) UpdateRuleSet(ctx context.Context, rs RuleSet) (RuleSet, error) {
	if s == nil || s.pool == nil {
		return RuleSet{}, ErrStoreUnavailable
	}
	row := s.pool.QueryRow(ctx, `UPDATE sync_rule_set SET
set_name = $2,
is_active = $3,
updated_at = now()
WHERE rule_set_id = $1
RETURNING `+ruleSetColumns, rs.RuleSetID, rs.SetName, rs.IsActive)
	return scanRuleSet(row)
}

// DeleteRuleSet removes a rule set and its rules.
func (s *PGStore) DeleteRuleSet(ctx context.Context, ruleSetID uuid.UUID) error {
	if s == nil || s.pool == nil {
		return ErrStoreUnavailable
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM sync_rule_set WHERE rule_set_id = $1`, ruleSetID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

const r2Columns = `rule_id, rule_set_id, material_code, category_code, weight_min_g, weight_max_g, delta_krw, is_active, updated_at`

func scanR2(row pgx.Row) (R2Rule, error) {
	var r R2Rule
	err := row.Scan(&r.RuleID, &r.RuleSetID, &r.MaterialCode, &r.CategoryCode, &r.WeightMinG, &r.WeightMaxG, &r.DeltaKRW, &r.IsActive, &r.UpdatedAt)
	return r, err
}

// CreateR2Rule inserts a size/weight rule.
func (s *PGStore) CreateR2Rule(ctx context.Context, r R2Rule) (R2Rule, error) {
	if s == nil || s.pool == nil {
		return R2Rule{}, ErrStoreUnavailable
	}
	row := s.pool.QueryRow(ctx, `INSERT INTO sync_rule_r2_size_weight
(rule_set_id, material_code, category_code, weight_min_g, weight_max_g, delta_krw, is_active)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING `+r2Columns, r.RuleSetID, r.MaterialCode, r.CategoryCode, r.WeightMinG, r.WeightMaxG, r.DeltaKRW, r.IsActive)
	return scanR2(row)
}

// ListR2Rules returns all size/weight rules in a set.
func (s *PGStore) ListR2Rules(ctx context.Context, ruleSetID uuid.UUID) ([]R2Rule, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreUnavailable
	}
	rows, err := s.pool.Query(ctx, `SELECT `+r2Columns+` FROM sync_rule_r2_size_weight
WHERE rule_set_id = $1
ORDER BY rule_id ASC`, ruleSetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var rules []R2Rule
	for rows.Next() {
		r, err := scanR2(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// UpdateR2Rule rewrites the mutable rule fields.
func (s *PGStore) UpdateR2Rule(ctx context.Context, r R2Rule) (R2Rule, error) {
	if s == nil || s.pool == nil {
		return R2Rule{}, ErrStoreUnavailable
	}
	row := s.pool.QueryRow(ctx, `UPDATE sync_rule_r2_size_weight SET
material_code = $2,
category_code = $3,
weight_min_g = $4,
weight_max_g = $5,
delta_krw = $6,
is_active = $7,
updated_at = now()
WHERE rule_id = $1
RETURNING `+r2Columns, r.RuleID, r.MaterialCode, r.CategoryCode, r.WeightMinG, r.WeightMaxG, r.DeltaKRW, r.IsActive)
	return scanR2(row)
}

// DeleteR2Rule removes a size/weight rule.
func (s *PGStore) DeleteR2Rule(ctx context.Context, ruleID uuid.UUID) error {
	if s == nil || s.pool == nil {
		return ErrStoreUnavailable
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM sync_rule_r2_size_weight WHERE rule_id = $1`, ruleID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

const r3Columns = `rule_id, rule_set_id, color_code, margin_min_krw, margin_max_krw, delta_krw, is_active, updated_at`

func scanR3(row pgx.Row) (R3Rule, error) {
	var r R3Rule
	err := row.Scan(&r.RuleID, &r.RuleSetID, &r.ColorCode, &r.MarginMinKRW, &r.MarginMaxKRW, &r.DeltaKRW, &r.IsActive, &r.UpdatedAt)
	return r, err
}

// CreateR3Rule inserts a color/margin rule.
func (s *PGStore) CreateR3Rule(ctx context.Context, r R3Rule) (R3Rule, error) {
	if s == nil || s.pool == nil {
		return R3Rule{}, ErrStoreUnavailable
	}
	row := s.pool.QueryRow(ctx, `INSERT INTO sync_rule_r3_color_margin
(rule_set_id, color_code, margin_min_krw, margin_max_krw, delta_krw, is_active)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING `+r3Columns, r.RuleSetID, r.ColorCode, r.MarginMinKRW, r.MarginMaxKRW, r.DeltaKRW, r.IsActive)
	return scanR3(row)
}

// ListR3Rules returns all color/margin rules in a set.
func (s *PGStore) ListR3Rules(ctx context.Context, ruleSetID uuid.UUID) ([]R3Rule, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreUnavailable
	}
	rows, err := s.pool.Query(ctx, `SELECT `+r3Columns+` FROM sync_rule_r3_color_margin
WHERE rule_set_id = $1
ORDER BY rule_id ASC`, ruleSetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var rules []R3Rule
	for rows.Next() {
		r, err := scanR3(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// UpdateR3Rule rewrites the mutable rule fields.
func (s *PGStore) UpdateR3Rule(ctx context.Context, r R3Rule) (R3Rule, error) {
	if s == nil || s.pool == nil {
		return R3Rule{}, ErrStoreUnavailable
	}
	row := s.pool.QueryRow(ctx, `UPDATE sync_rule_r3_color_margin SET
color_code = $2,
margin_min_krw = $3,
margin_max_krw = $4,
delta_krw = $5,
is_active = $6,
updated_at = now()
WHERE rule_id = $1
RETURNING `+r3Columns, r.RuleID, r.ColorCode, r.MarginMinKRW, r.MarginMaxKRW, r.DeltaKRW, r.IsActive)
	return scanR3(row)
}

// DeleteR3Rule removes a color/margin rule.
func (s *PGStore) DeleteR3Rule(ctx context.Context, ruleID uuid.UUID) error {
	if s == nil || s.pool == nil {
		return ErrStoreUnavailable
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM sync_rule_r3_color_margin WHERE rule_id = $1`, ruleID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// ActiveR2RulesForChannel returns live size/weight rules across the
// channel's active rule sets.
func (s *PGStore) ActiveR2RulesForChannel(ctx context.Context, channelID uuid.UUID) ([]R2Rule, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreUnavailable
	}
	rows, err := s.pool.Query(ctx, `SELECT r.rule_id, r.rule_set_id, r.material_code, r.category_code,
r.weight_min_g, r.weight_max_g, r.delta_krw, r.is_active, r.updated_at
FROM sync_rule_r2_size_weight r
JOIN sync_rule_set rs ON rs.rule_set_id = r.rule_set_id
WHERE rs.channel_id = $1 AND rs.is_active = true AND r.is_active = true
ORDER BY r.rule_id ASC`, channelID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var rules []R2Rule
	for rows.Next() {
		r, err := scanR2(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// ActiveR3RulesForChannel returns live color/margin rules across the
// channel's active rule sets.
func (s *PGStore) ActiveR3RulesForChannel(ctx context.Context, channelID uuid.UUID) ([]R3Rule, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreUnavailable
	}
	rows, err := s.pool.Query(ctx, `SELECT r.rule_id, r.rule_set_id, r.color_code,
r.margin_min_krw, r.margin_max_krw, r.delta_krw, r.is_active, r.updated_at
FROM sync_rule_r3_color_margin r
JOIN sync_rule_set rs ON rs.rule_set_id = r.rule_set_id
WHERE rs.channel_id = $1 AND rs.is_active = true AND r.is_active = true
ORDER BY r.rule_id ASC`, channelID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var rules []R3Rule
	for rows.Next() {
		r, err := scanR3(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// BulkFilter narrows which rules a bulk adjustment touches. Nil fields
// are wildcards.
type BulkFilter struct {
	MaterialCode *string
	CategoryCode *string
	ColorCode    *string
}

// BulkAdjustR2 shifts delta_krw on every matching active R2 rule by
// deltaKRW inside one transaction. Either every matched row moves or
// none do.
func (s *PGStore) BulkAdjustR2(ctx context.Context, ruleSetID uuid.UUID, deltaKRW int64, filter BulkFilter) ([]R2Rule, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreUnavailable
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `SELECT rule_id FROM sync_rule_r2_size_weight
WHERE rule_set_id = $1
  AND is_active = true
  AND ($2::text IS NULL OR material_code = $2)
  AND ($3::text IS NULL OR category_code = $3)
ORDER BY rule_id ASC
FOR UPDATE`, ruleSetID, filter.MaterialCode, filter.CategoryCode)
	if err != nil {
		return nil, err
	}
	ids, err := collectIDs(rows)
	if err != nil {
		return nil, err
	}
	updated := make([]R2Rule, 0, len(ids))
	for _, id := range ids {
		row := tx.QueryRow(ctx, `UPDATE sync_rule_r2_size_weight
SET delta_krw = delta_krw + $2, updated_at = now()
WHERE rule_id = $1
RETURNING `+r2Columns, id, deltaKRW)
		r, err := scanR2(row)
		if err != nil {
			return nil, fmt.Errorf("bulk adjust rule %s: %w", id, err)
		}
		updated = append(updated, r)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return updated, nil
}

// BulkAdjustR3 is the color/margin counterpart of BulkAdjustR2.
func (s *PGStore) BulkAdjustR3(ctx context.Context, ruleSetID uuid.UUID, deltaKRW int64, filter BulkFilter) ([]R3Rule, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreUnavailable
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `SELECT rule_id FROM sync_rule_r3_color_margin
WHERE rule_set_id = $1
  AND is_active = true
  AND ($2::text IS NULL OR color_code = $2)
ORDER BY rule_id ASC
FOR UPDATE`, ruleSetID, filter.ColorCode)
	if err != nil {
		return nil, err
	}
	ids, err := collectIDs(rows)
	if err != nil {
		return nil, err
	}
	updated := make([]R3Rule, 0, len(ids))
	for _, id := range ids {
		row := tx.QueryRow(ctx, `UPDATE sync_rule_r3_color_margin
SET delta_krw = delta_krw + $2, updated_at = now()
WHERE rule_id = $1
RETURNING `+r3Columns, id, deltaKRW)
		r, err := scanR3(row)
		if err != nil {
			return nil, fmt.Errorf("bulk adjust rule %s: %w", id, err)
		}
		updated = append(updated, r)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return updated, nil
}

func collectIDs(rows pgx.Rows) ([]uuid.UUID, error) {
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
