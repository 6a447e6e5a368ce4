// Package producer defines the interface for publishing run events (e.g. to Kafka).
package producer

import (
	"license-usage-analyzer/internal/telemetry"
)

// Producer publishes run events. Callers use it best-effort: log and ignore errors.
type Producer interface {
	telemetry.EventEmitter
	// Close releases resources (e.g. Kafka writer). Safe to call if already closed.
	Close() error
}
