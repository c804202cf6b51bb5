package pricesync

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrStoreUnavailable indicates the job store dependency is not configured.
var ErrStoreUnavailable = errors.New("pricesync: store unavailable")

// staleClaimAfter is how long a delivering job may sit before it is
// assumed orphaned by a dead worker and requeued.
const staleClaimAfter = 5 * time.Minute

// PGStore persists price push jobs.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewStore constructs a PGStore backed by a pgx connection pool.
func NewStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

const jobColumns = `job_id, channel_id, master_item_id, channel_product_id, material_code, category_code, color_code, weight_g, labor_krw, status, attempts, next_attempt_at, last_error, created_at, updated_at`

func scanJob(row pgx.Row) (Job, error) {
	var j Job
	err := row.Scan(&j.JobID, &j.ChannelID, &j.MasterItemID, &j.ChannelProductID, &j.MaterialCode, &j.CategoryCode, &j.ColorCode, &j.WeightG, &j.LaborKRW, &j.Status, &j.Attempts, &j.NextAttemptAt, &j.LastError, &j.CreatedAt, &j.UpdatedAt)
	return j, err
}

// Enqueue inserts a pending job. A pending or delivering job for the
// same channel+item absorbs the enqueue; created reports whether a new
// row was written.
func (s *PGStore) Enqueue(ctx context.Context, job Job) (Job, bool, error) {
	if s == nil || s.pool == nil {
		return Job{}, false, ErrStoreUnavailable
	}
	row := s.pool.QueryRow(ctx, `INSERT INTO price_push_job
(channel_id, master_item_id, channel_product_id, material_code, category_code, color_code, weight_g, labor_krw, status, next_attempt_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'pending', now())
ON CONFLICT (channel_id, master_item_id) WHERE status IN ('pending', 'delivering') DO NOTHING
RETURNING `+jobColumns,
		job.ChannelID, job.MasterItemID, job.ChannelProductID, job.MaterialCode, job.CategoryCode, job.ColorCode, job.WeightG, job.LaborKRW)
	created, err := scanJob(row)
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Job{}, false, err
	}
	existing := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM price_push_job
WHERE channel_id = $1 AND master_item_id = $2 AND status IN ('pending', 'delivering')
ORDER BY created_at DESC
LIMIT 1`, job.ChannelID, job.MasterItemID)
	j, err := scanJob(existing)
	return j, false, err
}

// ChannelsWithDueJobs lists channels that have pending work.
func (s *PGStore) ChannelsWithDueJobs(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreUnavailable
	}
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT channel_id FROM price_push_job
WHERE status = 'pending' AND next_attempt_at <= $1`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var channels []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		channels = append(channels, id)
	}
	return channels, rows.Err()
}

// RequeueStale returns delivering jobs abandoned by a dead worker to
// the pending pool.
func (s *PGStore) RequeueStale(ctx context.Context, now time.Time) (int, error) {
	if s == nil || s.pool == nil {
		return 0, ErrStoreUnavailable
	}
	tag, err := s.pool.Exec(ctx, `UPDATE price_push_job
SET status = 'pending', updated_at = now()
WHERE status = 'delivering' AND updated_at < $1`, now.Add(-staleClaimAfter))
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// ClaimDue marks up to limit due jobs for a channel as delivering and
// returns them. SKIP LOCKED keeps concurrent claimers from colliding.
func (s *PGStore) ClaimDue(ctx context.Context, channelID uuid.UUID, now time.Time, limit int) ([]Job, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreUnavailable
	}
	rows, err := s.pool.Query(ctx, `UPDATE price_push_job
SET status = 'delivering', updated_at = now()
WHERE job_id IN (
	SELECT job_id FROM price_push_job
	WHERE channel_id = $1 AND status = 'pending' AND next_attempt_at <= $2
	ORDER BY next_attempt_at
	LIMIT $3
	FOR UPDATE SKIP LOCKED
)
RETURNING `+jobColumns, channelID, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	jobs := make([]Job, 0, limit)
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// MarkPushed commits a successful delivery.
func (s *PGStore) MarkPushed(ctx context.Context, jobID uuid.UUID) error {
	if s == nil || s.pool == nil {
		return ErrStoreUnavailable
	}
	tag, err := s.pool.Exec(ctx, `UPDATE price_push_job
SET status = 'pushed', last_error = '', updated_at = now()
WHERE job_id = $1`, jobID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// MarkRetry schedules the next attempt after a transient failure.
func (s *PGStore) MarkRetry(ctx context.Context, jobID uuid.UUID, attempts int, nextAttemptAt time.Time, lastError string) error {
	if s == nil || s.pool == nil {
		return ErrStoreUnavailable
	}
	tag, err := s.pool.Exec(ctx, `UPDATE price_push_job
SET status = 'pending', attempts = $2, next_attempt_at = $3, last_error = $4, updated_at = now()
WHERE job_id = $1`, jobID, attempts, nextAttemptAt, lastError)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// MarkFailed records a terminal failure.
func (s *PGStore) MarkFailed(ctx context.Context, jobID uuid.UUID, attempts int, lastError string) error {
	if s == nil || s.pool == nil {
		return ErrStoreUnavailable
	}
	tag, err := s.pool.Exec(ctx, `UPDATE price_push_job
SET status = 'failed', attempts = $2, last_error = $3, updated_at = now()
WHERE job_id = $1`, jobID, attempts, lastError)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// ListJobs returns jobs for the admin surface, optionally filtered by
// status and channel.
func (s *PGStore) ListJobs(ctx context.Context, status JobStatus, channelID *uuid.UUID, limit, offset int) ([]Job, int, error) {
	if s == nil || s.pool == nil {
		return nil, 0, ErrStoreUnavailable
	}
	var statusFilter *JobStatus
	if status != "" {
		statusFilter = &status
	}
	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM price_push_job
WHERE ($1::text IS NULL OR status = $1)
AND ($2::uuid IS NULL OR channel_id = $2)`, statusFilter, channelID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := s.pool.Query(ctx, `SELECT `+jobColumns+` FROM price_push_job
WHERE ($1::text IS NULL OR status = $1)
AND ($2::uuid IS NULL OR channel_id = $2)
ORDER BY created_at DESC
LIMIT $3 OFFSET $4`, statusFilter, channelID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	jobs := make([]Job, 0, limit)
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, 0, err
		}
		jobs = append(jobs, j)
	}
	return jobs, total, rows.Err()
}
