// Package classifier wraps the external text-classification service that maps free-text software descriptions to
// license-relevant canonical titles.
package classifier

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrMissingField is returned when the service response lacks the normalized name field.
	ErrMissingField = errors.New("classifier: response missing normalized_name")
	// ErrEmptyResponse is returned when the service returns a blank normalized name.
	ErrEmptyResponse = errors.New("classifier: empty normalized name")
	// ErrNotConfigured is returned when the adapter has no endpoint.
	ErrNotConfigured = errors.New("classifier: endpoint not configured")
)

// Classifier normalizes one raw software name. Implementations must be safe for concurrent use.
type Classifier interface {
	Classify(ctx context.Context, rawName string) (string, error)
}

// ClassificationError reports a failed classification of one raw name: transport failure, non-2xx status, or an
// invalid response body.
type ClassificationError struct {
	RawName string
	// Status is the HTTP status code, or 0 when no response was received.
	Status int
	Err    error
}

func (e *ClassificationError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("classify %q: status %d: %v", e.RawName, e.Status, e.Err)
	}
	return fmt.Sprintf("classify %q: %v", e.RawName, e.Err)
}

func (e *ClassificationError) Unwrap() error { return e.Err }

// Func adapts a function to Classifier.
type Func func(ctx context.Context, rawName string) (string, error)

// Classify calls f.
func (f Func) Classify(ctx context.Context, rawName string) (string, error) {
	return f(ctx, rawName)
}
