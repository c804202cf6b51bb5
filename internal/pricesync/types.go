package pricesync

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of a price push job.
type JobStatus string

const (
	// StatusPending jobs are waiting for their next_attempt_at.
	StatusPending JobStatus = "pending"
	// StatusDelivering jobs are claimed by a worker.
	StatusDelivering JobStatus = "delivering"
	// StatusPushed jobs were delivered and committed.
	StatusPushed JobStatus = "pushed"
	// StatusFailed jobs exhausted their attempts.
	StatusFailed JobStatus = "failed"
)

// ParseJobStatus normalizes a status filter value.
func ParseJobStatus(s string) (JobStatus, error) {
	switch st := JobStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusPending, StatusDelivering, StatusPushed, StatusFailed:
		return st, nil
	default:
		return "", fmt.Errorf("unknown job status %q", s)
	}
}

// Job is one queued price update for a channel product. The quote
// inputs ride on the job so the worker can derive the price without a
// catalog lookup.
type Job struct {
	JobID            uuid.UUID `json:"job_id"`
	ChannelID        uuid.UUID `json:"channel_id"`
	MasterItemID     uuid.UUID `json:"master_item_id"`
	ChannelProductID string    `json:"channel_product_id"`
	MaterialCode     string    `json:"material_code"`
	CategoryCode     string    `json:"category_code,omitempty"`
	ColorCode        string    `json:"color_code,omitempty"`
	WeightG          float64   `json:"weight_g"`
	LaborKRW         int64     `json:"labor_krw"`
	Status           JobStatus `json:"status"`
	Attempts         int       `json:"attempts"`
	NextAttemptAt    time.Time `json:"next_attempt_at"`
	LastError        string    `json:"last_error,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}
