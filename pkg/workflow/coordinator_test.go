package workflow_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	memadapter "github.com/aretw0/forge/pkg/adapters/memory"
	redisadapter "github.com/aretw0/forge/pkg/adapters/redis"
	"github.com/aretw0/forge/pkg/agent"
	"github.com/aretw0/forge/pkg/compiler"
	"github.com/aretw0/forge/pkg/critic"
	"github.com/aretw0/forge/pkg/domain"
	"github.com/aretw0/forge/pkg/memory"
	"github.com/aretw0/forge/pkg/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scoreJudge int

func (s scoreJudge) Evaluate(context.Context, critic.JudgeRequest) (domain.Evaluation, error) {
	return domain.Evaluation{Accepted: int(s) >= 75, Score: int(s), Reasoning: "fixed"}, nil
}

type recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recorder) Publish(e domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) has(typ domain.EventType) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.Type == typ {
			return true
		}
	}
	return false
}

// statusSpy records the status of every state written to the store.
type statusSpy struct {
	*memadapter.Store
	mu       sync.Mutex
	statuses []domain.WorkflowStatus
}

func (s *statusSpy) Save(ctx context.Context, st *domain.WorkflowState) error {
	s.mu.Lock()
	s.statuses = append(s.statuses, st.Status)
	s.mu.Unlock()
	return s.Store.Save(ctx, st)
}

func (s *statusSpy) Update(ctx context.Context, id string, fn func(*domain.WorkflowState) error) error {
	return s.Store.Update(ctx, id, func(st *domain.WorkflowState) error {
		if err := fn(st); err != nil {
			return err
		}
		s.mu.Lock()
		s.statuses = append(s.statuses, st.Status)
		s.mu.Unlock()
		return nil
	})
}

type fixture struct {
	store     *statusSpy
	persister *memadapter.Persister
	events    *recorder
	mem       *memory.Manager
}

func ok(data map[string]any) domain.AgentResult {
	return domain.AgentResult{Success: true, Data: data, SummaryInfo: "ok"}
}

func basePipeline() workflow.Pipeline {
	return workflow.Pipeline{
		Intake: agent.Static("intake", ok(map[string]any{"documents": []any{"rfq.pdf"}})),
		Enrichment: []workflow.Enricher{
			{Agent: agent.Static("sketch_analysis", ok(map[string]any{"parts": 3}))},
			{Agent: agent.Static("historical_context", ok(map[string]any{"similar": 2}))},
		},
		Gates: []agent.Agent{
			agent.Static("compliance_gate", ok(map[string]any{"hard_stop": false})),
			agent.Static("risk_gate", ok(map[string]any{"hard_stop": false, "risk": "low"})),
		},
		Decision:   agent.Static("decision", ok(map[string]any{"proceed": true, "rationale": "fits capacity"})),
		Generation: agent.Static("generation", ok(map[string]any{"bid": "draft", "price": 1200})),
		Reviewers: []agent.Agent{
			agent.Static("review_primary", ok(map[string]any{"score": 90})),
			agent.Static("review_secondary", ok(map[string]any{"score": 88})),
		},
	}
}

func newCoordinator(t *testing.T, p workflow.Pipeline, judge critic.Judge, opts ...workflow.Option) (*workflow.Coordinator, *fixture) {
	t.Helper()
	f := &fixture{
		store:     &statusSpy{Store: memadapter.NewStore()},
		persister: memadapter.NewPersister(),
		events:    &recorder{},
		mem:       memory.New(memory.InMemoryStores()),
	}
	contract := agent.NewContract(f.mem, compiler.MustNew())
	controller := critic.New(contract,
		critic.WithJudge(judge),
		critic.WithEventSink(f.events),
		critic.WithPolicy("generation", critic.Config{MaxIterations: 3, Timeout: time.Second}),
	)
	all := append([]workflow.Option{
		workflow.WithPersister(f.persister),
		workflow.WithEventSink(f.events),
		workflow.WithMemory(f.mem),
	}, opts...)
	c, err := workflow.New(p, controller, f.store, all...)
	require.NoError(t, err)
	return c, f
}

func TestRunWorkflow_Completes(t *testing.T) {
	c, f := newCoordinator(t, basePipeline(), scoreJudge(85))

	res, err := c.RunWorkflow(context.Background(), "p1", "u1", map[string]any{"rfq": "bracket"}, workflow.RunOptions{})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, domain.StatusCompleted, res.Status)
	assert.Equal(t, 1, res.Iterations)
	assert.NotEmpty(t, res.ArtifactID)
	assert.Equal(t, 1, f.persister.Len())

	for _, name := range []string{"intake", "sketch_analysis", "historical_context", "compliance_gate", "risk_gate", "decision", "generation", "review_primary", "review_secondary", "review"} {
		assert.Contains(t, res.OutputsByAgent, name)
	}
	require.NotNil(t, res.Review)
	assert.True(t, res.Review.Passed)
	assert.Equal(t, 89.0, res.Review.Mean)

	rec, found := f.persister.Get(res.ArtifactID)
	require.True(t, found)
	assert.Equal(t, "draft", rec.Content["bid"])
	assert.Equal(t, 85, rec.Score)

	st, err := c.Status(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseDone, st.CurrentPhase)
	assert.Equal(t, domain.Phases, st.CompletedPhases)
	assert.Equal(t, res.ArtifactID, st.ArtifactID)
	assert.True(t, f.events.has(domain.EventWorkflowCompleted))

	mem := f.mem.GetPersistent(context.Background(), "p1")
	require.NotNil(t, mem)
	assert.Equal(t, "completed", mem.Facts["last_run_status"])
}

func TestRunWorkflow_HardStop(t *testing.T) {
	p := basePipeline()
	p.Gates[0] = agent.Static("compliance_gate", ok(map[string]any{
		"hard_stop":        true,
		"hard_stop_reason": "critical material grade violation",
	}))
	c, f := newCoordinator(t, p, scoreJudge(90))

	res, err := c.RunWorkflow(context.Background(), "p1", "u1", nil, workflow.RunOptions{})
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, domain.StatusHardStop, res.Status)
	assert.Equal(t, "critical material grade violation", res.HardStopReason)
	for _, name := range []string{"decision", "generation", "review"} {
		assert.NotContains(t, res.OutputsByAgent, name)
	}
	assert.Empty(t, res.ArtifactID)
	assert.Zero(t, f.persister.Len())
	assert.True(t, f.events.has(domain.EventHardStop))
}

func TestRunWorkflow_OptionalFailureAndSkip(t *testing.T) {
	p := basePipeline()
	p.Enrichment = []workflow.Enricher{
		{Agent: agent.NewFunc("sketch_analysis", func(context.Context, domain.ExecutionContext, agent.Input) (domain.AgentResult, error) {
			return domain.AgentResult{}, errors.New("vision backend down")
		})},
		{
			Agent: agent.Static("historical_context", ok(nil)),
			Skip: func(context.Context, domain.ExecutionContext, map[string]any) (bool, string) {
				return true, "cached"
			},
		},
	}
	c, f := newCoordinator(t, p, scoreJudge(90))

	res, err := c.RunWorkflow(context.Background(), "p1", "u1", nil, workflow.RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, domain.StatusCompleted, res.Status)
	assert.False(t, res.OutputsByAgent["sketch_analysis"].Success)
	assert.NotContains(t, res.OutputsByAgent, "historical_context")
	assert.Contains(t, res.Messages, "historical_context skipped: cached")
	assert.True(t, f.events.has(domain.EventAgentSkipped))
	assert.NotEmpty(t, res.ArtifactID)
}

func TestRunWorkflow_IntakeFailureFailsRun(t *testing.T) {
	p := basePipeline()
	p.Intake = agent.Static("intake", domain.Failure("unreadable package"))
	c, f := newCoordinator(t, p, scoreJudge(90))

	res, err := c.RunWorkflow(context.Background(), "p1", "u1", nil, workflow.RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, domain.StatusFailed, res.Status)
	assert.Contains(t, res.Reason, "unreadable package")
	assert.Len(t, res.OutputsByAgent, 1)
	assert.True(t, f.events.has(domain.EventWorkflowFailed))
}

func TestRunWorkflow_NoGoCompletesWithoutArtifact(t *testing.T) {
	p := basePipeline()
	p.Decision = agent.Static("decision", ok(map[string]any{"proceed": false, "rationale": "capacity full"}))
	c, f := newCoordinator(t, p, scoreJudge(90))

	res, err := c.RunWorkflow(context.Background(), "p1", "u1", nil, workflow.RunOptions{})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, "decision: no-go: capacity full", res.Reason)
	assert.NotContains(t, res.OutputsByAgent, "generation")
	assert.Empty(t, res.ArtifactID)
	assert.Zero(t, f.persister.Len())
}

func TestRunWorkflow_GenerationNotAcceptedKeepsBestEffort(t *testing.T) {
	c, f := newCoordinator(t, basePipeline(), scoreJudge(60))

	res, err := c.RunWorkflow(context.Background(), "p1", "u1", nil, workflow.RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, domain.StatusCompleted, res.Status)
	assert.Equal(t, 3, res.Iterations)
	assert.Contains(t, res.Messages[0], "not accepted after 3 iteration(s)")
	assert.Equal(t, 1, f.persister.Len())
}

func TestRunWorkflow_CancelledAtNextBoundary(t *testing.T) {
	var c *workflow.Coordinator
	p := basePipeline()
	p.Intake = agent.NewFunc("intake", func(ctx context.Context, ec domain.ExecutionContext, _ agent.Input) (domain.AgentResult, error) {
		assert.NoError(t, c.CancelWorkflow(ctx, ec.ProjectID))
		return ok(nil), nil
	})
	c, f := newCoordinator(t, p, scoreJudge(90))

	res, err := c.RunWorkflow(context.Background(), "p1", "u1", nil, workflow.RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, domain.StatusCancelled, res.Status)
	assert.Equal(t, "cancellation requested before enrichment", res.Reason)
	assert.Len(t, res.OutputsByAgent, 1)
	assert.True(t, f.events.has(domain.EventWorkflowCancelled))

	// Cancelling a finished run is a no-op.
	require.NoError(t, c.CancelWorkflow(context.Background(), "p1"))
}

func TestCancelWorkflow_Unknown(t *testing.T) {
	c, _ := newCoordinator(t, basePipeline(), scoreJudge(90))
	err := c.CancelWorkflow(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrWorkflowNotFound)
}

func TestRunWorkflow_BudgetExhausted(t *testing.T) {
	var ticks atomic.Int64
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		return base.Add(time.Duration(ticks.Add(1)) * time.Minute)
	}
	c, f := newCoordinator(t, basePipeline(), scoreJudge(90),
		workflow.WithClock(clock),
		workflow.WithBudget(150*time.Second),
	)

	res, err := c.RunWorkflow(context.Background(), "p1", "u1", nil, workflow.RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, domain.StatusCompleted, res.Status)
	assert.Equal(t, "time budget of 2m30s exhausted before validation", res.Reason)
	assert.Contains(t, res.OutputsByAgent, "intake")
	assert.NotContains(t, res.OutputsByAgent, "compliance_gate")
	assert.Zero(t, f.persister.Len())
}

func TestRunWorkflow_StatusNeverRegresses(t *testing.T) {
	c, f := newCoordinator(t, basePipeline(), scoreJudge(90))
	_, err := c.RunWorkflow(context.Background(), "p1", "u1", nil, workflow.RunOptions{})
	require.NoError(t, err)

	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	require.NotEmpty(t, f.store.statuses)
	for i := 1; i < len(f.store.statuses); i++ {
		prev, next := f.store.statuses[i-1], f.store.statuses[i]
		assert.True(t, prev == next || prev.CanTransition(next), "%s -> %s", prev, next)
	}
	assert.Equal(t, domain.StatusCompleted, f.store.statuses[len(f.store.statuses)-1])
}

func TestRunWorkflow_SingleRunPerProject(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	p := basePipeline()
	p.Intake = agent.NewFunc("intake", func(context.Context, domain.ExecutionContext, agent.Input) (domain.AgentResult, error) {
		close(started)
		<-release
		return ok(nil), nil
	})
	c, _ := newCoordinator(t, p, scoreJudge(90))

	done := make(chan workflow.Result)
	go func() {
		res, _ := c.RunWorkflow(context.Background(), "p1", "u1", nil, workflow.RunOptions{})
		done <- res
	}()
	<-started

	assert.True(t, c.Running("p1"))
	_, err := c.RunWorkflow(context.Background(), "p1", "u1", nil, workflow.RunOptions{})
	assert.ErrorIs(t, err, domain.ErrWorkflowRunning)

	close(release)
	res := <-done
	assert.Equal(t, domain.StatusCompleted, res.Status)
	assert.False(t, c.Running("p1"))
}

func TestRunWorkflow_DistributedLockHeldElsewhere(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redisadapter.NewClient(mr.Addr(), "", 0)
	t.Cleanup(func() { _ = client.Close() })
	locker := redisadapter.NewLocker(client, "forge:")

	unlock, err := locker.Lock(context.Background(), "workflow:p1", time.Minute)
	require.NoError(t, err)

	c, _ := newCoordinator(t, basePipeline(), scoreJudge(90),
		workflow.WithLocker(locker),
		workflow.WithLockTTL(time.Minute, 150*time.Millisecond),
	)
	_, err = c.RunWorkflow(context.Background(), "p1", "u1", nil, workflow.RunOptions{})
	assert.ErrorIs(t, err, domain.ErrWorkflowRunning)

	require.NoError(t, unlock(context.Background()))
	res, err := c.RunWorkflow(context.Background(), "p1", "u1", nil, workflow.RunOptions{})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.False(t, mr.Exists("forge:lock:workflow:p1"))
}

func TestNew_RequiresAgents(t *testing.T) {
	_, err := workflow.New(workflow.Pipeline{}, nil, memadapter.NewStore())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "intake agent is required")
}
