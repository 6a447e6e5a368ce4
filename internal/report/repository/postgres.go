package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"license-usage-analyzer/internal/aggregate"
)

// insertChunk bounds rows per multi-row INSERT so the parameter count stays well under Postgres' limit.
const insertChunk = 500

// PostgresRepository implements Repository on database/sql.
type PostgresRepository struct {
	db *sql.DB
}

var _ Repository = (*PostgresRepository)(nil)

// NewPostgresRepository returns a repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const insertRun = `INSERT INTO analysis_runs (id, pipeline, status, source, total_rows, succeeded, failed, dropped, started_at, finished_at) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`

// SaveRun writes the run header, entitlement groups and daily peaks in one transaction. Group order is preserved
// through the serial ids.
func (r *PostgresRepository) SaveRun(ctx context.Context, run *Run, entitlements []aggregate.EntitlementSummary, peaks []aggregate.DailyPeak) (err error) {
	if run == nil || run.ID == "" {
		return errors.New("repository: run id is required")
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("repository: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, insertRun,
		run.ID, run.Pipeline, run.Status, run.Source,
		run.TotalRows, run.Succeeded, run.Failed, run.Dropped,
		run.StartedAt, run.FinishedAt,
	); err != nil {
		return fmt.Errorf("repository: insert run: %w", err)
	}
	for start := 0; start < len(entitlements); start += insertChunk {
		end := min(start+insertChunk, len(entitlements))
		if err = insertEntitlements(ctx, tx, run.ID, entitlements[start:end]); err != nil {
			return err
		}
	}
	for start := 0; start < len(peaks); start += insertChunk {
		end := min(start+insertChunk, len(peaks))
		if err = insertPeaks(ctx, tx, run.ID, peaks[start:end]); err != nil {
			return err
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("repository: commit: %w", err)
	}
	return nil
}

// placeholders writes "($n,$n+1,...)" for one row of width columns starting after offset.
func placeholders(b *strings.Builder, offset, width int) {
	b.WriteString("(")
	for c := 1; c <= width; c++ {
		if c > 1 {
			b.WriteString(",")
		}
		fmt.Fprintf(b, "$%d", offset+c)
	}
	b.WriteString(")")
}

func insertEntitlements(ctx context.Context, tx *sql.Tx, runID string, rows []aggregate.EntitlementSummary) error {
	const width = 11
	var b strings.Builder
	b.WriteString("INSERT INTO entitlement_summaries (run_id, usage_date, software_name, publisher, edition, username, unclassified, consumed_entitlements, machines, installations, multiple_entitlements) VALUES ")
	args := make([]any, 0, len(rows)*width)
	for i, s := range rows {
		if i > 0 {
			b.WriteString(",")
		}
		placeholders(&b, len(args), width)
		machines, err := json.Marshal(s.Machines)
		if err != nil {
			return fmt.Errorf("repository: marshal machines: %w", err)
		}
		args = append(args,
			runID, s.Date, s.SoftwareName, s.Publisher, s.Edition, s.Username,
			s.Unclassified, s.ConsumedEntitlements, machines, s.Installations, s.MultipleEntitlements,
		)
	}
	if _, err := tx.ExecContext(ctx, b.String(), args...); err != nil {
		return fmt.Errorf("repository: insert entitlements: %w", err)
	}
	return nil
}

func insertPeaks(ctx context.Context, tx *sql.Tx, runID string, rows []aggregate.DailyPeak) error {
	const width = 5
	var b strings.Builder
	b.WriteString("INSERT INTO daily_peaks (run_id, usage_date, software_name, peak_concurrent_users, peak_at) VALUES ")
	args := make([]any, 0, len(rows)*width)
	for i, p := range rows {
		if i > 0 {
			b.WriteString(",")
		}
		placeholders(&b, len(args), width)
		args = append(args, runID, p.Date, p.SoftwareName, p.PeakConcurrentUsers, p.PeakAt)
	}
	if _, err := tx.ExecContext(ctx, b.String(), args...); err != nil {
		return fmt.Errorf("repository: insert peaks: %w", err)
	}
	return nil
}

const selectRun = `SELECT id, pipeline, status, source, total_rows, succeeded, failed, dropped, started_at, finished_at FROM analysis_runs WHERE id = $1`

// GetRun returns the run for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetRun(ctx context.Context, id string) (*Run, error) {
	var run Run
	err := r.db.QueryRowContext(ctx, selectRun, id).Scan(
		&run.ID, &run.Pipeline, &run.Status, &run.Source,
		&run.TotalRows, &run.Succeeded, &run.Failed, &run.Dropped,
		&run.StartedAt, &run.FinishedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &run, nil
}

const selectMultiple = `SELECT usage_date, software_name, publisher, edition, username, unclassified, consumed_entitlements, machines, installations FROM entitlement_summaries WHERE run_id = $1 AND multiple_entitlements ORDER BY id`

// ListMultipleEntitlements returns the flagged groups of a run in the order they were saved.
func (r *PostgresRepository) ListMultipleEntitlements(ctx context.Context, runID string) ([]aggregate.EntitlementSummary, error) {
	rows, err := r.db.QueryContext(ctx, selectMultiple, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []aggregate.EntitlementSummary
	for rows.Next() {
		var (
			s        aggregate.EntitlementSummary
			machines []byte
		)
		if err := rows.Scan(&s.Date, &s.SoftwareName, &s.Publisher, &s.Edition, &s.Username,
			&s.Unclassified, &s.ConsumedEntitlements, &machines, &s.Installations); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(machines, &s.Machines); err != nil {
			return nil, fmt.Errorf("repository: decode machines: %w", err)
		}
		s.MultipleEntitlements = true
		out = append(out, s)
	}
	return out, rows.Err()
}
