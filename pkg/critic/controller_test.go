package critic_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/forge/pkg/agent"
	"github.com/aretw0/forge/pkg/compiler"
	"github.com/aretw0/forge/pkg/critic"
	"github.com/aretw0/forge/pkg/domain"
	"github.com/aretw0/forge/pkg/memory"
	"github.com/aretw0/forge/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var ec = domain.ExecutionContext{ProjectID: "p1", UserID: "u1"}

type mockJudge struct{ mock.Mock }

func (m *mockJudge) Evaluate(ctx context.Context, req critic.JudgeRequest) (domain.Evaluation, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(domain.Evaluation), args.Error(1)
}

type mockSearcher struct{ mock.Mock }

func (m *mockSearcher) Search(ctx context.Context, query, projectID string, opts ports.SearchOptions) ([]domain.SourceExcerpt, error) {
	args := m.Called(ctx, query, projectID, opts)
	hits, _ := args.Get(0).([]domain.SourceExcerpt)
	return hits, args.Error(1)
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

func (r *recorder) types() []domain.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func newContract() *agent.Contract {
	return agent.NewContract(memory.New(memory.InMemoryStores()), compiler.MustNew())
}

// draftAgent returns a new draft per call and records the feedback it received.
type draftAgent struct {
	mu        sync.Mutex
	calls     int
	feedbacks []*domain.RefinementFeedback
}

func (d *draftAgent) Name() string { return "generation" }

func (d *draftAgent) Execute(_ context.Context, _ domain.ExecutionContext, in agent.Input) (domain.AgentResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	d.feedbacks = append(d.feedbacks, in.Feedback)
	return domain.AgentResult{
		Success:     true,
		Data:        map[string]any{"draft": d.calls, "summary": "concrete foundation bid for school building"},
		SummaryInfo: "draft",
	}, nil
}

func scored(score int) domain.Evaluation {
	return domain.Evaluation{Accepted: true, Score: score, Reasoning: "ok", Improvements: []string{"tighten schedule"}}
}

func TestRun_ExhaustsIterationsBelowThreshold(t *testing.T) {
	judge := &mockJudge{}
	judge.On("Evaluate", mock.Anything, mock.Anything).Return(scored(60), nil).Once()
	judge.On("Evaluate", mock.Anything, mock.Anything).Return(scored(68), nil).Once()
	judge.On("Evaluate", mock.Anything, mock.Anything).Return(scored(74), nil).Once()

	rec := &recorder{}
	c := critic.New(newContract(),
		critic.WithJudge(judge),
		critic.WithEventSink(rec),
		critic.WithPolicy("generation", critic.Config{MaxIterations: 3}),
	)
	a := &draftAgent{}

	out := c.Run(context.Background(), a, ec, map[string]any{"rfp": "school"})

	assert.Equal(t, 3, out.Iterations)
	assert.False(t, out.Accepted)
	assert.Equal(t, 3, out.Result.Data["draft"], "last iteration's output is retained")
	require.Len(t, out.History, 3)
	assert.Equal(t, 74, out.History[2].Evaluation.Score)
	judge.AssertExpectations(t)

	require.Len(t, a.feedbacks, 3)
	assert.Nil(t, a.feedbacks[0])
	require.NotNil(t, a.feedbacks[1])
	assert.Equal(t, 2, a.feedbacks[1].Iteration)
	assert.Equal(t, 60, *a.feedbacks[1].PreviousScore)
	assert.Contains(t, a.feedbacks[1].FeedbackText, "scored 60")
	assert.Contains(t, a.feedbacks[1].FeedbackText, "tighten schedule")

	types := rec.types()
	assert.Equal(t, domain.EventIterationStarted, types[0])
	assert.Equal(t, 2, countType(types, domain.EventRefinementRequested))
	assert.Equal(t, 3, countType(types, domain.EventIterationComplete))
}

func countType(types []domain.EventType, want domain.EventType) int {
	n := 0
	for _, t := range types {
		if t == want {
			n++
		}
	}
	return n
}

func TestRun_SearchFailureForcesRejection(t *testing.T) {
	judge := &mockJudge{}
	judge.On("Evaluate", mock.Anything, mock.Anything).Return(domain.Evaluation{Accepted: true, Score: 95}, nil)
	searcher := &mockSearcher{}
	searcher.On("Search", mock.Anything, mock.Anything, "p1", mock.Anything).Return(nil, errors.New("vector store offline"))

	c := critic.New(newContract(),
		critic.WithJudge(judge),
		critic.WithSearcher(searcher),
		critic.WithPolicy("generation", critic.Config{MaxIterations: 1, GroundingRequired: true}),
	)

	out := c.Run(context.Background(), &draftAgent{}, ec, nil)

	require.Len(t, out.History, 1)
	ev := out.History[0].Evaluation
	require.NotNil(t, ev.GroundingScore)
	assert.Equal(t, 25, *ev.GroundingScore)
	assert.False(t, ev.Accepted)
	assert.False(t, out.Accepted)
	assert.Equal(t, 60, ev.Score, "95 minus the grounding deficit of 35")
	require.NotEmpty(t, ev.UnsupportedClaims)
	assert.True(t, strings.HasPrefix(ev.UnsupportedClaims[0], "cannot verify"))
	assert.Equal(t, 1, strings.Count(ev.UnsupportedClaims[0], "vector store offline"), "repeated search errors are reported once")
	searcher.AssertNumberOfCalls(t, "Search", 3)
}

func TestRun_ZeroSourcesRejectRegardlessOfQuality(t *testing.T) {
	judge := &mockJudge{}
	judge.On("Evaluate", mock.Anything, mock.Anything).Return(domain.Evaluation{Accepted: true, Score: 100}, nil)
	searcher := &mockSearcher{}
	searcher.On("Search", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return([]domain.SourceExcerpt{}, nil)

	c := critic.New(newContract(),
		critic.WithJudge(judge),
		critic.WithSearcher(searcher),
		critic.WithPolicy("generation", critic.Config{MaxIterations: 2, GroundingRequired: true}),
	)
	out := c.Run(context.Background(), &draftAgent{}, ec, nil)

	assert.False(t, out.Accepted)
	assert.Equal(t, 2, out.Iterations)
	for _, it := range out.History {
		assert.LessOrEqual(t, *it.Evaluation.GroundingScore, 30)
		assert.False(t, it.Evaluation.Accepted)
	}
	// The broad fallback query runs with the lower threshold.
	searcher.AssertCalled(t, "Search", mock.Anything, "generation project requirements", "p1",
		ports.SearchOptions{Limit: 5, ScoreThreshold: 0.1})
}

type fixedVerifier struct{ score int }

func (v fixedVerifier) Verify(context.Context, string, domain.AgentResult, []domain.SourceExcerpt) (critic.GroundingReport, error) {
	return critic.GroundingReport{Score: v.score, UnsupportedClaims: []string{"schedule not in RFP"}}, nil
}

func TestRun_SoftGroundingPenalty(t *testing.T) {
	judge := &mockJudge{}
	judge.On("Evaluate", mock.Anything, mock.Anything).Return(domain.Evaluation{Accepted: true, Score: 90}, nil)
	searcher := &mockSearcher{}
	searcher.On("Search", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return([]domain.SourceExcerpt{
		{Content: "Foundation: concrete C30", Score: 0.8, SourceID: "rfp.pdf"},
		{Content: "Foundation: concrete C30", Score: 0.8, SourceID: "rfp.pdf"},
	}, nil)

	c := critic.New(newContract(),
		critic.WithJudge(judge),
		critic.WithSearcher(searcher),
		critic.WithVerifier(fixedVerifier{score: 50}),
		critic.WithPolicy("generation", critic.Config{MaxIterations: 3, GroundingRequired: true}),
	)
	out := c.Run(context.Background(), &draftAgent{}, ec, nil)

	require.True(t, out.Accepted)
	ev := out.History[0].Evaluation
	assert.Equal(t, 80, ev.Score)
	assert.Equal(t, []string{"schedule not in RFP"}, ev.UnsupportedClaims)
	assert.Len(t, out.History[0].Grounding.Sources, 1, "duplicate excerpts are merged")
}

func TestRun_JudgeFailureFallsBack(t *testing.T) {
	judge := &mockJudge{}
	judge.On("Evaluate", mock.Anything, mock.Anything).Return(domain.Evaluation{}, domain.ErrEvaluation)

	c := critic.New(newContract(), critic.WithJudge(judge),
		critic.WithPolicy("generation", critic.Config{MaxIterations: 3}))
	out := c.Run(context.Background(), &draftAgent{}, ec, nil)

	assert.True(t, out.Accepted)
	assert.Equal(t, 1, out.Iterations)
	assert.Equal(t, 80, out.History[0].Evaluation.Score)
}

func TestRun_AgentFailureStopsLoop(t *testing.T) {
	judge := &mockJudge{}
	c := critic.New(newContract(), critic.WithJudge(judge),
		critic.WithPolicy("broken", critic.Config{MaxIterations: 3}))

	out := c.Run(context.Background(), agent.Static("broken", domain.AgentResult{Error: "no input"}), ec, nil)

	assert.Equal(t, 1, out.Iterations)
	assert.False(t, out.Result.Success)
	assert.Empty(t, out.History)
	judge.AssertNotCalled(t, "Evaluate", mock.Anything, mock.Anything)
}

func TestRun_TimeoutDiscardsLateResult(t *testing.T) {
	release := make(chan struct{})
	slow := agent.NewFunc("generation", func(ctx context.Context, _ domain.ExecutionContext, _ agent.Input) (domain.AgentResult, error) {
		<-release
		return domain.AgentResult{Success: true, Data: map[string]any{"late": true}}, nil
	})
	defer close(release)

	c := critic.New(newContract(),
		critic.WithPolicy("generation", critic.Config{MaxIterations: 3, Timeout: 20 * time.Millisecond}))
	out := c.Run(context.Background(), slow, ec, nil)

	assert.Equal(t, 1, out.Iterations, "a timeout aborts the loop")
	assert.False(t, out.Result.Success)
	assert.Contains(t, out.Result.Error, "timed out")
	assert.Nil(t, out.Result.Data)
}

func TestRun_AbortOnTimeoutPropagatesDeadline(t *testing.T) {
	seen := make(chan error, 1)
	slow := agent.NewFunc("generation", func(ctx context.Context, _ domain.ExecutionContext, _ agent.Input) (domain.AgentResult, error) {
		<-ctx.Done()
		seen <- ctx.Err()
		return domain.AgentResult{}, ctx.Err()
	})

	c := critic.New(newContract(),
		critic.WithAbortOnTimeout(true),
		critic.WithPolicy("generation", critic.Config{MaxIterations: 1, Timeout: 20 * time.Millisecond}))
	start := time.Now()
	out := c.Run(context.Background(), slow, ec, nil)
	assert.False(t, out.Result.Success)
	assert.Less(t, time.Since(start), time.Second)

	select {
	case err := <-seen:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(2 * time.Second):
		t.Fatal("agent context was not cancelled")
	}
}

func TestRun_AcceptsAtFirstScoreAboveThreshold(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		maxIter := rapid.IntRange(1, 6).Draw(t, "maxIterations")
		threshold := rapid.IntRange(1, 100).Draw(t, "threshold")
		start := rapid.IntRange(0, 60).Draw(t, "start")
		scores := make([]int, maxIter)
		for i := range scores {
			step := rapid.IntRange(1, 20).Draw(t, "step")
			if i == 0 {
				scores[i] = start
			} else {
				scores[i] = scores[i-1] + step
			}
		}

		var mu sync.Mutex
		calls := 0
		judge := judgeFunc(func(critic.JudgeRequest) domain.Evaluation {
			mu.Lock()
			defer mu.Unlock()
			s := scores[calls]
			calls++
			return domain.Evaluation{Accepted: true, Score: s}
		})
		th := critic.DefaultThresholds()
		th.Acceptance = threshold
		c := critic.New(newContract(), critic.WithJudge(judge), critic.WithThresholds(th),
			critic.WithPolicy("generation", critic.Config{MaxIterations: maxIter}))

		out := c.Run(context.Background(), &draftAgent{}, ec, nil)

		want := maxIter
		accepted := false
		for i, s := range scores {
			if domain.ClampScore(s) >= threshold {
				want, accepted = i+1, true
				break
			}
		}
		if out.Iterations != want || out.Accepted != accepted {
			t.Fatalf("scores %v threshold %d: got iterations=%d accepted=%v, want %d/%v",
				scores, threshold, out.Iterations, out.Accepted, want, accepted)
		}
		if out.Iterations > maxIter {
			t.Fatalf("exceeded max iterations")
		}
	})
}

type judgeFunc func(critic.JudgeRequest) domain.Evaluation

func (f judgeFunc) Evaluate(_ context.Context, req critic.JudgeRequest) (domain.Evaluation, error) {
	return f(req), nil
}

func TestKeyPhrases(t *testing.T) {
	got := critic.KeyPhrases("Concrete slab, concrete walls; steel rebar and steel mesh. Concrete!", 3)
	assert.Equal(t, []string{"concrete", "steel", "walls"}, got)
}
