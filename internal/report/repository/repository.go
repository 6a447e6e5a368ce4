// Package repository persists analysis run summaries to the Postgres report store.
package repository

import (
	"context"
	"time"

	"license-usage-analyzer/internal/aggregate"
)

// Run statuses.
const (
	StatusCompleted = "completed"
	StatusPartial   = "partial"
	StatusFailed    = "failed"
)

// Run is the header row of one analysis run.
type Run struct {
	ID         string
	Pipeline   string
	Status     string
	Source     string
	TotalRows  int
	Succeeded  int
	Failed     int
	Dropped    int
	StartedAt  time.Time
	FinishedAt time.Time
}

// Repository stores run summaries. SaveRun writes the run and all of its groups atomically.
type Repository interface {
	SaveRun(ctx context.Context, run *Run, entitlements []aggregate.EntitlementSummary, peaks []aggregate.DailyPeak) error
	// GetRun returns the run for id, or nil if not found.
	GetRun(ctx context.Context, id string) (*Run, error)
	// ListMultipleEntitlements returns the flagged entitlement groups of a run in stored order.
	ListMultipleEntitlements(ctx context.Context, runID string) ([]aggregate.EntitlementSummary, error)
}
