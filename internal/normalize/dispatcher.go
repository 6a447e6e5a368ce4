// Package normalize fans classification requests out to a Classifier under an admission limit and collects
// per-row results and failures.
package normalize

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"license-usage-analyzer/internal/classifier"
	"license-usage-analyzer/internal/inventory/domain"
)

const (
	// DefaultConcurrency is the default cap on in-flight classification calls.
	DefaultConcurrency = 50
	// DefaultBatchSize is the default number of jobs admitted before the dispatcher waits for them to drain.
	DefaultBatchSize = 100

	instrumentationName = "license-usage-analyzer/normalize"
)

// ProgressFunc is called once per completed job. completed never decreases across calls; calls are serialized.
type ProgressFunc func(completed, total int, rawName, normalizedName string)

// JobError records the failure of the job for the row at Index of the input.
type JobError struct {
	Index   int
	RawName string
	Err     error
}

func (e JobError) Error() string {
	return fmt.Sprintf("row %d: %v", e.Index, e.Err)
}

func (e JobError) Unwrap() error { return e.Err }

// Result is the outcome of NormalizeAll.
type Result struct {
	// Records holds the successfully classified rows, stably sorted by ObservedAt.
	Records []domain.InstallationRecord
	// Unclassified holds the rows whose classification failed, stably sorted by ObservedAt.
	Unclassified []domain.InstallationRecord
	// Errors holds one entry per failed row, ordered by Index.
	Errors []JobError
	// Total is the number of input rows; Total - Processed rows were never admitted.
	Total     int
	Processed int
}

// Config configures a Dispatcher. Zero values select the defaults and the global OTel providers.
type Config struct {
	Concurrency    int
	BatchSize      int
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
}

// Dispatcher runs normalization jobs with at most Concurrency classification calls in flight. Jobs are admitted in
// batches of BatchSize and each batch drains before the next is admitted.
type Dispatcher struct {
	classifier  classifier.Classifier
	concurrency int
	batchSize   int
	tracer      trace.Tracer

	jobs     metric.Int64Counter
	inflight metric.Int64UpDownCounter
	duration metric.Float64Histogram
}

// NewDispatcher returns a dispatcher that classifies rows with c.
func NewDispatcher(c classifier.Classifier, cfg Config) (*Dispatcher, error) {
	if c == nil {
		return nil, fmt.Errorf("normalize: classifier is required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.TracerProvider == nil {
		cfg.TracerProvider = otel.GetTracerProvider()
	}
	if cfg.MeterProvider == nil {
		cfg.MeterProvider = otel.GetMeterProvider()
	}
	meter := cfg.MeterProvider.Meter(instrumentationName)
	jobs, err := meter.Int64Counter("normalize.jobs",
		metric.WithDescription("Completed classification jobs by outcome."))
	if err != nil {
		return nil, fmt.Errorf("normalize: jobs counter: %w", err)
	}
	inflight, err := meter.Int64UpDownCounter("normalize.inflight",
		metric.WithDescription("Classification calls currently in flight."))
	if err != nil {
		return nil, fmt.Errorf("normalize: inflight counter: %w", err)
	}
	duration, err := meter.Float64Histogram("normalize.call.duration",
		metric.WithDescription("Latency of a single classification call."), metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("normalize: duration histogram: %w", err)
	}
	return &Dispatcher{
		classifier:  c,
		concurrency: cfg.Concurrency,
		batchSize:   cfg.BatchSize,
		tracer:      cfg.TracerProvider.Tracer(instrumentationName),
		jobs:        jobs,
		inflight:    inflight,
		duration:    duration,
	}, nil
}

// Concurrency returns the admission limit.
func (d *Dispatcher) Concurrency() int { return d.concurrency }

// BatchSize returns the admission batch size.
func (d *Dispatcher) BatchSize() int { return d.batchSize }

type outcome struct {
	done       bool
	normalized string
	err        error
}

// NormalizeAll classifies the RawSoftwareName of every row. Rows are copied; the input is not modified.
//
// A failed classification is recorded in Result.Errors and never stops sibling jobs. When ctx is cancelled no further
// jobs are admitted, admitted jobs run to completion or error, and NormalizeAll returns the partial Result together
// with an error wrapping ctx.Err().
func (d *Dispatcher) NormalizeAll(ctx context.Context, rows []domain.InstallationRecord, progress ProgressFunc) (*Result, error) {
	ctx, span := d.tracer.Start(ctx, "normalize.NormalizeAll", trace.WithAttributes(
		attribute.Int("rows", len(rows)),
		attribute.Int("concurrency", d.concurrency),
		attribute.Int("batch_size", d.batchSize),
	))
	defer span.End()

	total := len(rows)
	outcomes := make([]outcome, total)
	// Admitted jobs must drain even after the caller cancels.
	jobCtx := context.WithoutCancel(ctx)
	sem := semaphore.NewWeighted(int64(d.concurrency))

	var (
		mu        sync.Mutex
		completed int
	)
	report := func(i int, o outcome) {
		outcomes[i] = o
		mu.Lock()
		defer mu.Unlock()
		completed++
		if progress != nil {
			progress(completed, total, rows[i].RawSoftwareName, o.normalized)
		}
	}

	stopped := false
	for start := 0; start < total && !stopped; start += d.batchSize {
		end := min(start+d.batchSize, total)
		batchCtx, batchSpan := d.tracer.Start(ctx, "normalize.batch", trace.WithAttributes(
			attribute.Int("start", start),
			attribute.Int("end", end),
		))
		var eg errgroup.Group
		for i := start; i < end; i++ {
			if ctx.Err() != nil {
				stopped = true
				break
			}
			if err := sem.Acquire(ctx, 1); err != nil {
				stopped = true
				break
			}
			eg.Go(func() error {
				defer sem.Release(1)
				report(i, d.classify(trace.ContextWithSpan(jobCtx, trace.SpanFromContext(batchCtx)), rows[i].RawSoftwareName))
				return nil
			})
		}
		_ = eg.Wait()
		batchSpan.End()
	}

	res := collect(rows, outcomes)
	span.SetAttributes(
		attribute.Int("processed", res.Processed),
		attribute.Int("failed", len(res.Errors)),
	)
	if stopped {
		err := fmt.Errorf("normalize: stopped after %d of %d rows: %w", res.Processed, total, ctx.Err())
		span.SetStatus(codes.Error, err.Error())
		return res, err
	}
	return res, nil
}

func (d *Dispatcher) classify(ctx context.Context, raw string) outcome {
	d.inflight.Add(ctx, 1)
	start := time.Now()
	name, err := d.classifier.Classify(ctx, raw)
	d.duration.Record(ctx, time.Since(start).Seconds())
	d.inflight.Add(ctx, -1)

	result := "ok"
	if err != nil {
		result = "error"
		name = ""
	}
	d.jobs.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", result)))
	return outcome{done: true, normalized: name, err: err}
}

func collect(rows []domain.InstallationRecord, outcomes []outcome) *Result {
	res := &Result{Total: len(rows)}
	for i, o := range outcomes {
		if !o.done {
			continue
		}
		res.Processed++
		rec := rows[i]
		if o.err != nil {
			rec.NormalizedSoftwareName = ""
			rec.Classified = false
			res.Unclassified = append(res.Unclassified, rec)
			res.Errors = append(res.Errors, JobError{Index: i, RawName: rec.RawSoftwareName, Err: o.err})
			continue
		}
		rec.NormalizedSoftwareName = o.normalized
		rec.Classified = true
		res.Records = append(res.Records, rec)
	}
	sortByObservedAt(res.Records)
	sortByObservedAt(res.Unclassified)
	return res
}

func sortByObservedAt(recs []domain.InstallationRecord) {
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].ObservedAt.Before(recs[j].ObservedAt)
	})
}
