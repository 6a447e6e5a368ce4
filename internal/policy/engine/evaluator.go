// Package engine evaluates license anomaly policies written in Rego.
package engine

import (
	"context"

	"license-usage-analyzer/internal/aggregate"
)

// Evaluator decides whether an entitlement group is a multiple-entitlement anomaly.
type Evaluator interface {
	aggregate.AnomalyRule
	// HealthCheck verifies that the policy compiles and evaluates.
	HealthCheck(ctx context.Context) error
}
