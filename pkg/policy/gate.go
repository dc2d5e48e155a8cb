package policy

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aretw0/forge/pkg/agent"
	"github.com/aretw0/forge/pkg/domain"
	"github.com/aretw0/forge/pkg/llm"
	"github.com/open-policy-agent/opa/v1/rego"
)

// Gate is a validation agent backed by a prepared Rego query.
type Gate struct {
	name  string
	query rego.PreparedEvalQuery
}

var _ agent.Agent = (*Gate)(nil)

// NewGate compiles module and prepares data.<package>.decision for evaluation.
// pkg is the dotted Rego package, e.g. "forge.compliance".
func NewGate(ctx context.Context, name, pkg, module string) (*Gate, error) {
	q, err := rego.New(
		rego.Query("data."+pkg+".decision"),
		rego.Module(name+".rego", module),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare policy %s: %w", name, err)
	}
	return &Gate{name: name, query: q}, nil
}

// NewBuiltinGate builds a gate from one of the embedded policies.
func NewBuiltinGate(ctx context.Context, agentName, policy string) (*Gate, error) {
	src, err := Module(policy)
	if err != nil {
		return nil, err
	}
	return NewGate(ctx, agentName, "forge."+policy, src)
}

func (g *Gate) Name() string { return g.name }

// Evaluate runs the policy against input.
func (g *Gate) Evaluate(ctx context.Context, input map[string]any) (Decision, error) {
	rs, err := g.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return Decision{}, fmt.Errorf("evaluate policy %s: %w", g.name, err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return Decision{}, errors.New("policy produced no decision")
	}
	raw, ok := rs[0].Expressions[0].Value.(map[string]any)
	if !ok {
		return Decision{}, fmt.Errorf("policy decision has type %T, want object", rs[0].Expressions[0].Value)
	}
	var d Decision
	if err := llm.DecodeMap(raw, &d); err != nil {
		return Decision{}, fmt.Errorf("decode policy decision: %w", err)
	}
	return d, nil
}

// Execute implements agent.Agent.
func (g *Gate) Execute(ctx context.Context, _ domain.ExecutionContext, in agent.Input) (domain.AgentResult, error) {
	d, err := g.Evaluate(ctx, in.Data)
	if err != nil {
		return domain.AgentResult{}, err
	}
	data := map[string]any{
		domain.KeyHardStop: d.HardStop,
		domain.KeyScore:    d.Score,
		"violations":       d.Violations,
		"warnings":         d.Warnings,
	}
	summary := fmt.Sprintf("%d violation(s), %d warning(s)", len(d.Violations), len(d.Warnings))
	if d.HardStop {
		data[domain.KeyHardStopReason] = strings.Join(d.Violations, "; ")
		summary = "hard stop: " + summary
	}
	return domain.AgentResult{Success: true, Data: data, SummaryInfo: summary}, nil
}
