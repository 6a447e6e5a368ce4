package engine

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"

	"license-usage-analyzer/internal/aggregate"
)

const defaultQuery = "data.licensing.entitlements.multiple_entitlement"

// DefaultPolicy flags a group whose user consumes more than max_entitlements machines for one title on one day.
const DefaultPolicy = `package licensing.entitlements

default multiple_entitlement := false

multiple_entitlement if {
	input.consumed_entitlements > input.max_entitlements
}
`

// OPAEvaluator evaluates the multiple-entitlement rule with OPA. The policy must define
// data.licensing.entitlements.multiple_entitlement as a boolean.
type OPAEvaluator struct {
	query           rego.PreparedEvalQuery
	maxEntitlements int
}

var _ Evaluator = (*OPAEvaluator)(nil)

// NewOPAEvaluator compiles policy (DefaultPolicy when blank). maxEntitlements is exposed to the policy as
// input.max_entitlements; values < 1 use 1.
func NewOPAEvaluator(ctx context.Context, policy string, maxEntitlements int) (*OPAEvaluator, error) {
	if strings.TrimSpace(policy) == "" {
		policy = DefaultPolicy
	}
	if maxEntitlements < 1 {
		maxEntitlements = 1
	}
	compiler, err := ast.CompileModules(map[string]string{"policy_0.rego": policy})
	if err != nil {
		return nil, fmt.Errorf("compile policy: %w", err)
	}
	query, err := rego.New(
		rego.Query(defaultQuery),
		rego.Compiler(compiler),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare policy: %w", err)
	}
	return &OPAEvaluator{query: query, maxEntitlements: maxEntitlements}, nil
}

// LoadPolicyFile reads a Rego policy from path. An empty path returns DefaultPolicy.
func LoadPolicyFile(path string) (string, error) {
	if path == "" {
		return DefaultPolicy, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read policy %s: %w", path, err)
	}
	return string(raw), nil
}

// HealthCheck evaluates the policy against a minimal input.
func (e *OPAEvaluator) HealthCheck(ctx context.Context) error {
	rs, err := e.query.Eval(ctx, rego.EvalInput(e.buildInput(aggregate.EntitlementSummary{})))
	if err != nil {
		return fmt.Errorf("eval policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return fmt.Errorf("policy query returned no result")
	}
	if _, ok := rs[0].Expressions[0].Value.(bool); !ok {
		return fmt.Errorf("policy query returned %T, want bool", rs[0].Expressions[0].Value)
	}
	return nil
}

// MultipleEntitlements evaluates the policy for s. When evaluation fails or yields no boolean, the threshold rule
// with the evaluator's maximum is used instead and the failure is logged.
func (e *OPAEvaluator) MultipleEntitlements(ctx context.Context, s aggregate.EntitlementSummary) (bool, error) {
	fallback := aggregate.ThresholdRule{Max: e.maxEntitlements}
	rs, err := e.query.Eval(ctx, rego.EvalInput(e.buildInput(s)))
	if err != nil {
		log.Printf("policy: evaluation failed for %s/%s: %v, using threshold", s.Date, s.SoftwareName, err)
		return fallback.MultipleEntitlements(ctx, s)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return fallback.MultipleEntitlements(ctx, s)
	}
	v, ok := rs[0].Expressions[0].Value.(bool)
	if !ok {
		log.Printf("policy: non-boolean result %T for %s/%s, using threshold", rs[0].Expressions[0].Value, s.Date, s.SoftwareName)
		return fallback.MultipleEntitlements(ctx, s)
	}
	return v, nil
}

func (e *OPAEvaluator) buildInput(s aggregate.EntitlementSummary) map[string]interface{} {
	machines := make([]interface{}, len(s.Machines))
	for i, m := range s.Machines {
		machines[i] = m
	}
	return map[string]interface{}{
		"date":                  s.Date,
		"software":              s.SoftwareName,
		"publisher":             s.Publisher,
		"edition":               s.Edition,
		"username":              s.Username,
		"unclassified":          s.Unclassified,
		"machines":              machines,
		"installations":         s.Installations,
		"consumed_entitlements": s.ConsumedEntitlements,
		"max_entitlements":      e.maxEntitlements,
	}
}
