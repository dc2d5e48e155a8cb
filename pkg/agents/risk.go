package agents

import (
	"context"

	"github.com/aretw0/forge/pkg/agent"
	"github.com/aretw0/forge/pkg/domain"
	"github.com/aretw0/forge/pkg/policy"
)

// RiskGate runs the risk policy first and, when it does not stop the run, asks the
// model-backed assessor. The lower of the two scores is reported.
type RiskGate struct {
	Policy   *policy.Gate
	Assessor agent.Agent
}

func (g *RiskGate) Name() string { return g.Policy.Name() }

func (g *RiskGate) Execute(ctx context.Context, ec domain.ExecutionContext, in agent.Input) (domain.AgentResult, error) {
	res, err := g.Policy.Execute(ctx, ec, in)
	if err != nil || g.Assessor == nil || res.Bool(domain.KeyHardStop) {
		return res, err
	}

	assessed, err := g.Assessor.Execute(ctx, ec, in)
	if err != nil || !assessed.Success {
		// The policy verdict stands on its own when the assessor is unavailable.
		reason := assessed.Error
		if err != nil {
			reason = err.Error()
		}
		res.Data["assessor_error"] = reason
		return res, nil
	}

	for k, v := range assessed.Data {
		if _, taken := res.Data[k]; !taken {
			res.Data[k] = v
		}
	}
	if s, ok := assessed.Number(domain.KeyScore); ok {
		if p, _ := res.Number(domain.KeyScore); s < p {
			res.Data[domain.KeyScore] = s
		}
	}
	if assessed.Bool(domain.KeyHardStop) {
		res.Data[domain.KeyHardStop] = true
		res.Data[domain.KeyHardStopReason] = assessed.String(domain.KeyHardStopReason)
	}
	if assessed.SummaryInfo != "" {
		res.SummaryInfo += "; " + assessed.SummaryInfo
	}
	return res, nil
}
