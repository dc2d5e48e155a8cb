package agent_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aretw0/forge/pkg/agent"
	"github.com/aretw0/forge/pkg/compiler"
	"github.com/aretw0/forge/pkg/domain"
	"github.com/aretw0/forge/pkg/llm"
	"github.com/aretw0/forge/pkg/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ec = domain.ExecutionContext{ProjectID: "p1", UserID: "u1"}

func newContract(t *testing.T, opts ...agent.Option) (*agent.Contract, *memory.Manager) {
	t.Helper()
	mem := memory.New(memory.InMemoryStores())
	return agent.NewContract(mem, compiler.MustNew(), opts...), mem
}

func TestContract_RecordsAndCleansUpOnEveryPath(t *testing.T) {
	cases := []struct {
		name    string
		agent   agent.Agent
		success bool
		errText string
	}{
		{
			name:    "success",
			agent:   agent.Static("intake", domain.AgentResult{Success: true, Data: map[string]any{"documents": 3}}),
			success: true,
		},
		{
			name:    "reported failure",
			agent:   agent.Static("intake", domain.AgentResult{Success: false}),
			errText: domain.ErrAgentExecution.Error(),
		},
		{
			name: "returned error",
			agent: agent.NewFunc("intake", func(context.Context, domain.ExecutionContext, agent.Input) (domain.AgentResult, error) {
				return domain.AgentResult{}, errors.New("backend exploded")
			}),
			errText: "backend exploded",
		},
		{
			name: "panic",
			agent: agent.NewFunc("intake", func(context.Context, domain.ExecutionContext, agent.Input) (domain.AgentResult, error) {
				panic("nil map write")
			}),
			errText: "agent panicked: nil map write",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, mem := newContract(t)
			ctx := context.Background()

			var res domain.AgentResult
			require.NotPanics(t, func() {
				res = c.Invoke(ctx, tc.agent, ec, map[string]any{"rfp": "school"}, nil)
			})

			assert.Equal(t, tc.success, res.Success)
			assert.Equal(t, tc.errText, res.Error)

			entries := mem.RecentSessions(ctx, ec.ProjectID, 0)
			require.Len(t, entries, 1, "exactly one session entry per invocation")
			if tc.success {
				assert.Equal(t, domain.SessionSuccess, entries[0].Status)
			} else {
				assert.Equal(t, domain.SessionFailed, entries[0].Status)
			}
			assert.Nil(t, mem.GetWorkingContext(ctx, ec.ProjectID, "intake"), "working context must be cleared")
		})
	}
}

func TestContract_PassesCompiledPromptAndFeedback(t *testing.T) {
	c, mem := newContract(t)
	ctx := context.Background()
	mem.AddInsight(ctx, ec.ProjectID, "client rejects late schedules")

	var got agent.Input
	a := agent.NewFunc("generation", func(_ context.Context, _ domain.ExecutionContext, in agent.Input) (domain.AgentResult, error) {
		got = in
		return domain.AgentResult{Success: true}, nil
	})
	prev := 60
	fb := &domain.RefinementFeedback{Iteration: 2, MaxIterations: 3, FeedbackText: "add dates", PreviousScore: &prev}

	res := c.Invoke(ctx, a, ec, map[string]any{"rfp": "school"}, fb)
	require.True(t, res.Success)

	assert.Equal(t, fb, got.Feedback)
	assert.Equal(t, "school", got.Data["rfp"])
	assert.Contains(t, got.Prompt.StaticSystemPrompt, "bid document")
	assert.Contains(t, got.Prompt.DynamicUserPrompt, "rfp: school")
	assert.Contains(t, got.Prompt.DynamicUserPrompt, "client rejects late schedules")
	assert.Contains(t, got.Prompt.DynamicUserPrompt, "add dates")

	entries := mem.RecentSessions(ctx, ec.ProjectID, 1)
	require.Len(t, entries, 1)
	assert.Equal(t, "refine#2", entries[0].Action)
}

func TestContract_OffloadsLargeResults(t *testing.T) {
	c, mem := newContract(t, agent.WithOffloadLines(10))
	ctx := context.Background()

	items := make([]any, 50)
	for i := range items {
		items[i] = fmt.Sprintf("item-%d", i)
	}
	big := agent.Static("generation", domain.AgentResult{Success: true, Data: map[string]any{"items": items}})

	res := c.Invoke(ctx, big, ec, nil, nil)
	require.True(t, res.Success)
	require.NotEmpty(t, res.ArtifactReference)
	assert.Len(t, res.Data["items"], 50, "inline data is kept alongside the reference")

	_, payload, ok := mem.RetrieveArtifact(ctx, res.ArtifactReference)
	require.True(t, ok)
	assert.Contains(t, string(payload), "item-49")
	ref := res.ArtifactReference

	small := agent.Static("decision", domain.AgentResult{Success: true, Data: map[string]any{"proceed": true}})
	res = c.Invoke(ctx, small, ec, nil, nil)
	assert.Empty(t, res.ArtifactReference)

	// Later invocations of the same agent see the artifact token.
	var prompt string
	again := agent.NewFunc("generation", func(_ context.Context, _ domain.ExecutionContext, in agent.Input) (domain.AgentResult, error) {
		prompt = in.Prompt.DynamicUserPrompt
		return domain.AgentResult{Success: true}, nil
	})
	c.Invoke(ctx, again, ec, nil, nil)
	assert.Contains(t, prompt, compiler.ArtifactToken(ref))
}

type countingObserver struct{ calls map[domain.SessionStatus]int }

func (o *countingObserver) ObserveInvocation(_ string, status domain.SessionStatus, _ time.Duration) {
	o.calls[status]++
}

func TestContract_Observer(t *testing.T) {
	obs := &countingObserver{calls: map[domain.SessionStatus]int{}}
	c, _ := newContract(t, agent.WithObserver(obs))

	c.Invoke(context.Background(), agent.Static("a", domain.AgentResult{Success: true}), ec, nil, nil)
	c.Invoke(context.Background(), agent.Static("a", domain.AgentResult{}), ec, nil, nil)

	assert.Equal(t, 1, obs.calls[domain.SessionSuccess])
	assert.Equal(t, 1, obs.calls[domain.SessionFailed])
}

func TestLLMAgent(t *testing.T) {
	c, _ := newContract(t)
	ctx := context.Background()

	var sawSystem, sawUser string
	backend := llm.Func{BackendName: "fake", Fn: func(_ context.Context, system, user string) (string, error) {
		sawSystem, sawUser = system, user
		return "Here you go:\n```json\n{\"proceed\": true, \"summary\": \"go\"}\n```", nil
	}}

	res := c.Invoke(ctx, &agent.LLM{AgentName: "decision", Backend: backend}, ec, map[string]any{"risk": 20}, nil)
	require.True(t, res.Success)
	assert.True(t, res.Bool(domain.KeyProceed))
	assert.Equal(t, "go", res.SummaryInfo)
	assert.Contains(t, sawSystem, "decide whether")
	assert.Contains(t, sawUser, "risk: 20")

	garbled := llm.Func{BackendName: "fake", Fn: func(context.Context, string, string) (string, error) {
		return "I cannot answer", nil
	}}
	res = c.Invoke(ctx, &agent.LLM{AgentName: "decision", Backend: garbled}, ec, nil, nil)
	assert.False(t, res.Success)

	res = c.Invoke(ctx, &agent.LLM{AgentName: "risk_gate", Backend: garbled, Defaults: map[string]any{"hard_stop": false}}, ec, nil, nil)
	require.True(t, res.Success)
	assert.False(t, res.Bool(domain.KeyHardStop))
	assert.Equal(t, "I cannot answer", res.String("raw_reply"))
}
