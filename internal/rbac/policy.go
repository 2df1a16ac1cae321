package rbac

import (
	"context"
	_ "embed"

	"github.com/open-policy-agent/opa/rego"
)

//go:embed policy.rego
var module string

// RegoPolicy evaluates the role matrix as a Rego module so operators can
// audit the rules without reading Go.
type RegoPolicy struct {
	query rego.PreparedEvalQuery
}

func NewRegoPolicy(ctx context.Context) (*RegoPolicy, error) {
	query, err := rego.New(
		rego.Module("policy.rego", module),
		rego.Query("data.flux.rbac.allow"),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, err
	}
	return &RegoPolicy{query: query}, nil
}

func (p *RegoPolicy) Allowed(ctx context.Context, role Role, action Action) (bool, error) {
	input := map[string]any{
		"role":   string(role),
		"action": string(action),
	}
	results, err := p.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return false, err
	}
	return results.Allowed(), nil
}
