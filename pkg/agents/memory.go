package agents

import (
	"context"

	"github.com/aretw0/forge/pkg/agent"
	"github.com/aretw0/forge/pkg/domain"
	"github.com/aretw0/forge/pkg/memory"
	"github.com/aretw0/forge/pkg/workflow"
)

// HistoricalFact is the persistent memory fact caching historical context.
const HistoricalFact = "historical_context"

// Remembering stores a successful result of Agent as a persistent memory fact.
type Remembering struct {
	Agent  agent.Agent
	Memory *memory.Manager
	Fact   string
}

func (r *Remembering) Name() string { return r.Agent.Name() }

func (r *Remembering) Execute(ctx context.Context, ec domain.ExecutionContext, in agent.Input) (domain.AgentResult, error) {
	res, err := r.Agent.Execute(ctx, ec, in)
	if err == nil && res.Success && len(res.Data) > 0 {
		r.Memory.SetPersistent(ctx, ec.ProjectID, map[string]any{r.Fact: res.Data})
	}
	return res, err
}

// SkipWhenRemembered skips an agent whose output is already cached as fact.
// Cached facts reach every later agent through long-term memory.
func SkipWhenRemembered(mem *memory.Manager, fact string) workflow.SkipFunc {
	return func(ctx context.Context, ec domain.ExecutionContext, _ map[string]any) (bool, string) {
		pm := mem.GetPersistent(ctx, ec.ProjectID)
		if pm == nil {
			return false, ""
		}
		if _, ok := pm.Facts[fact]; ok {
			return true, "cached in project memory"
		}
		return false, ""
	}
}
