package workflow

import (
	"context"
	"errors"

	"github.com/aretw0/forge/pkg/agent"
	"github.com/aretw0/forge/pkg/domain"
)

// SkipFunc decides whether an enrichment agent should be skipped, returning a reason.
type SkipFunc func(ctx context.Context, ec domain.ExecutionContext, blackboard map[string]any) (bool, string)

// Enricher is an optional enrichment agent with its skip condition.
type Enricher struct {
	Agent agent.Agent
	Skip  SkipFunc
}

// Pipeline names the agents of every phase.
type Pipeline struct {
	Intake     agent.Agent
	Enrichment []Enricher
	Gates      []agent.Agent
	Decision   agent.Agent
	Generation agent.Agent
	// Reviewers each report a 0-100 "score" for the generated artifact.
	Reviewers []agent.Agent
}

// Validate reports a missing required agent.
func (p Pipeline) Validate() error {
	var errs []error
	if p.Intake == nil {
		errs = append(errs, errors.New("pipeline: intake agent is required"))
	}
	if p.Decision == nil {
		errs = append(errs, errors.New("pipeline: decision agent is required"))
	}
	if p.Generation == nil {
		errs = append(errs, errors.New("pipeline: generation agent is required"))
	}
	return errors.Join(errs...)
}
