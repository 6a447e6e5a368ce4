package telemetry

import (
	"context"
	"errors"
	"log"
	"time"
)

// Event types emitted by the analysis pipelines.
const (
	EventRunStarted      = "run_started"
	EventRunCompleted    = "run_completed"
	EventRunFailed       = "run_failed"
	EventRowNormalized   = "row_normalized"
	EventRowFailed       = "row_failed"
	EventSweepProgress   = "sweep_progress"
	EventSessionDropped  = "session_dropped"
	EventSessionInverted = "session_inverted"
)

// Event is a progress or status notification for one analysis run.
type Event struct {
	RunID          string    `json:"runId"`
	Pipeline       string    `json:"pipeline"`
	EventType      string    `json:"eventType"`
	Completed      int       `json:"completed"`
	Total          int       `json:"total"`
	RawName        string    `json:"rawName,omitempty"`
	NormalizedName string    `json:"normalizedName,omitempty"`
	Message        string    `json:"message,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// EventEmitter emits run events (e.g. to Kafka or OTel Logs). Best-effort; callers log and ignore errors.
type EventEmitter interface {
	Emit(ctx context.Context, event *Event) error
}

// Multi fans an event out to every non-nil emitter. All emitters are called; their errors are joined.
func Multi(emitters ...EventEmitter) EventEmitter {
	out := make(multiEmitter, 0, len(emitters))
	for _, e := range emitters {
		if e != nil {
			out = append(out, e)
		}
	}
	return out
}

type multiEmitter []EventEmitter

func (m multiEmitter) Emit(ctx context.Context, event *Event) error {
	var errs []error
	for _, e := range m {
		if err := e.Emit(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogEmitter writes lifecycle and failure events with the standard logger. Per-row progress is
// logged only every Every completions (0 disables it).
type LogEmitter struct {
	Every int
}

func (l LogEmitter) Emit(_ context.Context, event *Event) error {
	if event == nil {
		return nil
	}
	switch event.EventType {
	case EventRowNormalized, EventSweepProgress:
		if l.Every <= 0 || event.Completed%l.Every != 0 && event.Completed != event.Total {
			return nil
		}
		log.Printf("%s: run=%s progress %d/%d", event.Pipeline, event.RunID, event.Completed, event.Total)
	case EventRowFailed, EventSessionDropped, EventSessionInverted:
		log.Printf("%s: run=%s %s %q: %s", event.Pipeline, event.RunID, event.EventType, event.RawName, event.Message)
	default:
		if event.Message != "" {
			log.Printf("%s: run=%s %s: %s", event.Pipeline, event.RunID, event.EventType, event.Message)
		} else {
			log.Printf("%s: run=%s %s", event.Pipeline, event.RunID, event.EventType)
		}
	}
	return nil
}
