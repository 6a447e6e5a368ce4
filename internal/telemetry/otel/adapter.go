package otel

import (
	"context"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"license-usage-analyzer/internal/telemetry"
)

const loggerName = "license-usage-analyzer.runs"

// recordEmitter is the part of otellog.Logger the emitter needs.
type recordEmitter interface {
	Emit(ctx context.Context, record otellog.Record)
}

// NewEventEmitter returns an EventEmitter that sends run events as OTel log records via the given LoggerProvider.
// If provider is nil, returns a no-op emitter.
func NewEventEmitter(provider *sdklog.LoggerProvider) telemetry.EventEmitter {
	if provider == nil {
		return noopEmitter{}
	}
	return &otelEmitter{logger: provider.Logger(loggerName)}
}

// NewEventEmitterWithLogger returns an EventEmitter writing to logger directly.
func NewEventEmitterWithLogger(logger recordEmitter) telemetry.EventEmitter {
	if logger == nil {
		return noopEmitter{}
	}
	return &otelEmitter{logger: logger}
}

type noopEmitter struct{}

func (noopEmitter) Emit(context.Context, *telemetry.Event) error { return nil }

type otelEmitter struct {
	logger recordEmitter
}

// Emit converts the event to an OTel log record. Failures and drops are WARN, everything else INFO.
func (e *otelEmitter) Emit(ctx context.Context, event *telemetry.Event) error {
	if event == nil {
		return nil
	}
	rec := otellog.Record{}
	if !event.CreatedAt.IsZero() {
		rec.SetTimestamp(event.CreatedAt)
	} else {
		rec.SetTimestamp(time.Now().UTC())
	}
	switch event.EventType {
	case telemetry.EventRowFailed, telemetry.EventSessionDropped, telemetry.EventSessionInverted, telemetry.EventRunFailed:
		rec.SetSeverity(otellog.SeverityWarn)
		rec.SetSeverityText("WARN")
	default:
		rec.SetSeverity(otellog.SeverityInfo)
		rec.SetSeverityText("INFO")
	}
	if event.Message != "" {
		rec.SetBody(otellog.StringValue(event.Message))
	}
	if event.RunID != "" {
		rec.AddAttributes(otellog.String("run_id", event.RunID))
	}
	if event.Pipeline != "" {
		rec.AddAttributes(otellog.String("pipeline", event.Pipeline))
	}
	if event.EventType != "" {
		rec.AddAttributes(otellog.String("event_type", event.EventType))
	}
	if event.Total > 0 {
		rec.AddAttributes(
			otellog.Int("completed", event.Completed),
			otellog.Int("total", event.Total),
		)
	}
	if event.RawName != "" {
		rec.AddAttributes(otellog.String("raw_name", event.RawName))
	}
	if event.NormalizedName != "" {
		rec.AddAttributes(otellog.String("normalized_name", event.NormalizedName))
	}
	e.logger.Emit(ctx, rec)
	return nil
}
