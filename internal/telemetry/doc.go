// Package telemetry carries analysis run events (progress, row failures, dropped sessions) to
// best-effort sinks. Nothing here may block or fail the analysis itself.
package telemetry
