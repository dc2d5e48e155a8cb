package agents

import (
	"context"
	"errors"
	"fmt"

	"github.com/aretw0/forge/pkg/agent"
	"github.com/aretw0/forge/pkg/compiler"
	"github.com/aretw0/forge/pkg/domain"
	"github.com/aretw0/forge/pkg/llm"
	"github.com/aretw0/forge/pkg/memory"
	"github.com/aretw0/forge/pkg/policy"
	"github.com/aretw0/forge/pkg/workflow"
)

// ReviewerPrefix prefixes the agent name of every review judge.
const ReviewerPrefix = "review_"

// Config selects the backends and stores the default agents use.
type Config struct {
	Registry *llm.Registry
	Compiler *compiler.Compiler
	Memory   *memory.Manager
	// Backend names the generator of the prompt-driven agents; "" selects the registry default.
	Backend string
	// Reviewers names the review backends; empty means every registered backend.
	Reviewers []string
}

// NewPipeline builds the construction bid pipeline.
func NewPipeline(ctx context.Context, cfg Config) (workflow.Pipeline, error) {
	if cfg.Registry == nil || cfg.Compiler == nil || cfg.Memory == nil {
		return workflow.Pipeline{}, errors.New("agents: registry, compiler and memory are required")
	}
	backend, err := cfg.Registry.Get(cfg.Backend)
	if err != nil {
		return workflow.Pipeline{}, fmt.Errorf("agents: %w", err)
	}
	prompt := func(name string) *agent.LLM {
		return &agent.LLM{AgentName: name, Backend: backend}
	}

	compliance, err := policy.NewBuiltinGate(ctx, "compliance_gate", policy.Compliance)
	if err != nil {
		return workflow.Pipeline{}, err
	}
	risk, err := policy.NewBuiltinGate(ctx, "risk_gate", policy.Risk)
	if err != nil {
		return workflow.Pipeline{}, err
	}

	p := workflow.Pipeline{
		Intake: Intake{},
		Enrichment: []workflow.Enricher{
			{Agent: prompt("sketch_analysis"), Skip: SkipWithoutSketches},
			{
				Agent: &Remembering{Agent: prompt(HistoricalFact), Memory: cfg.Memory, Fact: HistoricalFact},
				Skip:  SkipWhenRemembered(cfg.Memory, HistoricalFact),
			},
		},
		Gates: []agent.Agent{
			compliance,
			&RiskGate{Policy: risk, Assessor: prompt("risk_gate")},
		},
		Decision:   prompt("decision"),
		Generation: prompt("generation"),
	}

	names := cfg.Reviewers
	if len(names) == 0 {
		names = cfg.Registry.Names()
	}
	for _, n := range names {
		b, err := cfg.Registry.Get(n)
		if err != nil {
			return workflow.Pipeline{}, fmt.Errorf("agents: reviewer: %w", err)
		}
		name := ReviewerPrefix + n
		if err := cfg.Compiler.Register(name, compiler.Templates["review"]); err != nil {
			return workflow.Pipeline{}, err
		}
		p.Reviewers = append(p.Reviewers, &agent.LLM{AgentName: name, Backend: b})
	}
	return p, nil
}

// SkipWithoutSketches skips sketch analysis when intake found no sketches.
func SkipWithoutSketches(_ context.Context, _ domain.ExecutionContext, bb map[string]any) (bool, string) {
	if hasSketches(bb) {
		return false, ""
	}
	return true, "no sketches submitted"
}
