// Package analysis runs the installation and session pipelines end to end for one run id.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"license-usage-analyzer/internal/aggregate"
	"license-usage-analyzer/internal/inventory/domain"
	"license-usage-analyzer/internal/normalize"
	"license-usage-analyzer/internal/overlap"
	"license-usage-analyzer/internal/report/repository"
	"license-usage-analyzer/internal/telemetry"
)

// Pipeline names used in events and persisted runs.
const (
	PipelineInstallations = "installations"
	PipelineSessions      = "sessions"
)

// Sentinel errors for the analysis service.
var (
	// ErrAllFailed means rows were submitted and not one classification succeeded.
	ErrAllFailed = errors.New("analysis: every classification failed")
	// ErrPersist wraps report store failures; the returned report is still complete.
	ErrPersist = errors.New("analysis: persist run")
)

// Normalizer is the dispatcher contract used by the service.
type Normalizer interface {
	NormalizeAll(ctx context.Context, rows []domain.InstallationRecord, progress normalize.ProgressFunc) (*normalize.Result, error)
}

// RunStore is the minimal report store needed by the service.
type RunStore interface {
	SaveRun(ctx context.Context, run *repository.Run, entitlements []aggregate.EntitlementSummary, peaks []aggregate.DailyPeak) error
}

// Options configures a Service. Zero values select the threshold rule, the exclude policy, and no sinks.
type Options struct {
	Rule         aggregate.AnomalyRule
	Unclassified aggregate.UnclassifiedPolicy
	Events       telemetry.EventEmitter
	Store        RunStore
	// SkipUnknownMachines is passed to aggregate.GroupEntitlements.
	SkipUnknownMachines bool
}

// InstallationReport is the outcome of one installations run.
type InstallationReport struct {
	RunID      string
	Source     string
	StartedAt  time.Time
	FinishedAt time.Time
	Total      int
	Processed  int
	Succeeded  int
	// Records are the classified rows, sorted by ObservedAt.
	Records []domain.InstallationRecord
	// Unclassified are the rows whose classification failed, sorted by ObservedAt.
	Unclassified []domain.InstallationRecord
	Failures     []normalize.JobError
	Entitlements []aggregate.EntitlementSummary
	Multiple     int
}

// Status returns the persisted run status.
func (r *InstallationReport) Status() string {
	switch {
	case r.Total > 0 && r.Succeeded == 0:
		return repository.StatusFailed
	case len(r.Failures) > 0 || r.Processed < r.Total:
		return repository.StatusPartial
	default:
		return repository.StatusCompleted
	}
}

// SessionReport is the outcome of one sessions run.
type SessionReport struct {
	RunID             string
	Source            string
	StartedAt         time.Time
	FinishedAt        time.Time
	Total             int
	Retained          int
	DroppedUnresolved int
	Inverted          int // logout before login; boundaries only, never active
	Timestamps        int
	Samples           []domain.ConcurrencySample
	Peaks             []aggregate.DailyPeak
}

// Dropped is the number of sessions excluded from the sweep.
func (r *SessionReport) Dropped() int { return r.DroppedUnresolved }

// Service wires the dispatcher, overlap engine, aggregator, event sinks and optional report store.
type Service struct {
	normalizer   Normalizer
	rule         aggregate.AnomalyRule
	unclassified aggregate.UnclassifiedPolicy
	skipUnknown  bool
	events       telemetry.EventEmitter
	store        RunStore
	now          func() time.Time
	newID        func() string
}

// NewService returns a Service. normalizer may be nil when only sessions are analyzed.
func NewService(normalizer Normalizer, opts Options) *Service {
	if opts.Rule == nil {
		opts.Rule = aggregate.DefaultRule
	}
	if opts.Unclassified == "" {
		opts.Unclassified = aggregate.ExcludeUnclassified
	}
	return &Service{
		normalizer:   normalizer,
		rule:         opts.Rule,
		unclassified: opts.Unclassified,
		skipUnknown:  opts.SkipUnknownMachines,
		events:       opts.Events,
		store:        opts.Store,
		now:          time.Now,
		newID:        func() string { return uuid.New().String() },
	}
}

func (s *Service) emit(ctx context.Context, e telemetry.Event) {
	if s.events == nil {
		return
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now().UTC()
	}
	if err := s.events.Emit(ctx, &e); err != nil {
		log.Printf("analysis: emit %s: %v", e.EventType, err)
	}
}

// AnalyzeInstallations classifies rows and groups entitlements. On cancellation the report covers the rows that were
// processed and the error wraps ctx.Err(). When every classification fails the report is returned with ErrAllFailed.
func (s *Service) AnalyzeInstallations(ctx context.Context, source string, rows []domain.InstallationRecord) (*InstallationReport, error) {
	if s.normalizer == nil {
		return nil, errors.New("analysis: no normalizer configured")
	}
	rep := &InstallationReport{RunID: s.newID(), Source: source, StartedAt: s.now(), Total: len(rows)}
	base := telemetry.Event{RunID: rep.RunID, Pipeline: PipelineInstallations}

	started := base
	started.EventType = telemetry.EventRunStarted
	started.Total = len(rows)
	started.Message = source
	s.emit(ctx, started)

	res, runErr := s.normalizer.NormalizeAll(ctx, rows, func(completed, total int, rawName, normalizedName string) {
		e := base
		e.EventType = telemetry.EventRowNormalized
		if normalizedName == "" {
			e.EventType = telemetry.EventRowFailed
			e.Message = "classification failed"
		}
		e.Completed, e.Total = completed, total
		e.RawName, e.NormalizedName = rawName, normalizedName
		s.emit(ctx, e)
	})
	if res == nil {
		return nil, s.fail(ctx, base, fmt.Errorf("analysis: normalize: %w", runErr))
	}
	rep.Processed = res.Processed
	rep.Succeeded = len(res.Records)
	rep.Records = res.Records
	rep.Unclassified = res.Unclassified
	rep.Failures = res.Errors

	// Aggregation must not be cut short by the cancellation that stopped admission.
	aggCtx := context.WithoutCancel(ctx)
	entitlements, err := aggregate.GroupEntitlements(aggCtx, res.Records, res.Unclassified, aggregate.EntitlementOptions{
		Rule:                s.rule,
		Unclassified:        s.unclassified,
		SkipUnknownMachines: s.skipUnknown,
	})
	if err != nil {
		return nil, s.fail(ctx, base, fmt.Errorf("analysis: group entitlements: %w", err))
	}
	rep.Entitlements = entitlements
	rep.Multiple = aggregate.CountMultiple(entitlements)
	rep.FinishedAt = s.now()

	if runErr == nil && rep.Total > 0 && rep.Succeeded == 0 {
		runErr = fmt.Errorf("%w (%d rows)", ErrAllFailed, rep.Total)
	}

	if s.store != nil {
		run := &repository.Run{
			ID: rep.RunID, Pipeline: PipelineInstallations, Status: rep.Status(), Source: source,
			TotalRows: rep.Total, Succeeded: rep.Succeeded, Failed: len(rep.Failures),
			StartedAt: rep.StartedAt, FinishedAt: rep.FinishedAt,
		}
		if err := s.store.SaveRun(aggCtx, run, rep.Entitlements, nil); err != nil {
			runErr = errors.Join(runErr, fmt.Errorf("%w: %w", ErrPersist, err))
		}
	}

	done := base
	done.EventType = telemetry.EventRunCompleted
	done.Completed, done.Total = rep.Processed, rep.Total
	done.Message = fmt.Sprintf("%d classified, %d failed, %d entitlement groups, %d multiple", rep.Succeeded, len(rep.Failures), len(rep.Entitlements), rep.Multiple)
	if runErr != nil {
		done.EventType = telemetry.EventRunFailed
		done.Message = runErr.Error()
	}
	s.emit(ctx, done)
	return rep, runErr
}

// AnalyzeSessions sweeps sessions for concurrency samples and reduces them to daily peaks. Each dropped session is
// announced as an event.
func (s *Service) AnalyzeSessions(ctx context.Context, source string, sessions []domain.SessionInterval) (*SessionReport, error) {
	rep := &SessionReport{RunID: s.newID(), Source: source, StartedAt: s.now(), Total: len(sessions)}
	base := telemetry.Event{RunID: rep.RunID, Pipeline: PipelineSessions}

	started := base
	started.EventType = telemetry.EventRunStarted
	started.Total = len(sessions)
	started.Message = source
	s.emit(ctx, started)

	if err := ctx.Err(); err != nil {
		return nil, s.fail(ctx, base, fmt.Errorf("analysis: sessions: %w", err))
	}

	for i := range sessions {
		e := base
		e.RawName = sessions[i].SessionID
		if reason, drop := overlap.DropReason(&sessions[i]); drop {
			e.EventType = telemetry.EventSessionDropped
			e.Message = fmt.Sprintf("%s (%s)", reason, sessions[i].SoftwareName)
			s.emit(ctx, e)
		} else if overlap.IsInverted(&sessions[i]) {
			e.EventType = telemetry.EventSessionInverted
			e.Message = fmt.Sprintf("%s (%s), never active", overlap.ReasonLogoutBeforeLogin, sessions[i].SoftwareName)
			s.emit(ctx, e)
		}
	}

	res := overlap.ComputeConcurrency(sessions, func(processed, total int) {
		e := base
		e.EventType = telemetry.EventSweepProgress
		e.Completed, e.Total = processed, total
		s.emit(ctx, e)
	})
	rep.Retained = res.Retained
	rep.DroppedUnresolved = res.DroppedUnresolved
	rep.Inverted = res.Inverted
	rep.Timestamps = res.Timestamps
	rep.Samples = res.Samples
	rep.Peaks = aggregate.DailyPeaks(res.Samples)
	rep.FinishedAt = s.now()

	var runErr error
	if s.store != nil {
		status := repository.StatusCompleted
		if rep.Dropped() > 0 || rep.Inverted > 0 {
			status = repository.StatusPartial
		}
		run := &repository.Run{
			ID: rep.RunID, Pipeline: PipelineSessions, Status: status, Source: source,
			TotalRows: rep.Total, Succeeded: rep.Retained, Dropped: rep.Dropped(),
			StartedAt: rep.StartedAt, FinishedAt: rep.FinishedAt,
		}
		if err := s.store.SaveRun(context.WithoutCancel(ctx), run, nil, rep.Peaks); err != nil {
			runErr = fmt.Errorf("%w: %w", ErrPersist, err)
		}
	}

	done := base
	done.EventType = telemetry.EventRunCompleted
	done.Completed, done.Total = rep.Retained, rep.Total
	done.Message = fmt.Sprintf("%d sessions retained, %d dropped, %d inverted, %d samples, %d daily peaks", rep.Retained, rep.Dropped(), rep.Inverted, len(rep.Samples), len(rep.Peaks))
	if runErr != nil {
		done.EventType = telemetry.EventRunFailed
		done.Message = runErr.Error()
	}
	s.emit(ctx, done)
	return rep, runErr
}

func (s *Service) fail(ctx context.Context, base telemetry.Event, err error) error {
	e := base
	e.EventType = telemetry.EventRunFailed
	e.Message = err.Error()
	s.emit(ctx, e)
	return err
}
