package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aretw0/forge/pkg/agent"
	"github.com/aretw0/forge/pkg/domain"
	"golang.org/x/sync/errgroup"
)

// termination describes why a run stopped before or after the last phase.
type termination struct {
	status   domain.WorkflowStatus
	reason   string
	hardStop string
}

// run is the mutable state of one RunWorkflow call.
type run struct {
	c        *Coordinator
	ec       domain.ExecutionContext
	bb       *Blackboard
	log      *slog.Logger
	budget   time.Duration
	started  time.Time
	deadline time.Time

	mu         sync.Mutex
	state      *domain.WorkflowState
	review     *domain.ReviewSummary
	iterations int
	generated  bool
	genScore   int
}

type step struct {
	phase domain.Phase
	fn    func(context.Context) *termination
}

func (r *run) execute(ctx context.Context) *termination {
	steps := []step{
		{domain.PhaseIntake, r.intake},
		{domain.PhaseEnrichment, r.enrichment},
		{domain.PhaseValidation, r.validation},
		{domain.PhaseDecision, r.decision},
		{domain.PhaseGeneration, r.generation},
		{domain.PhaseReview, r.reviewPhase},
	}
	for _, s := range steps {
		if t := r.boundary(ctx, s.phase); t != nil {
			return t
		}
		r.mu.Lock()
		r.state.CurrentPhase = s.phase
		r.mu.Unlock()
		r.emit(domain.EventPhaseStarted, "", string(s.phase), nil)

		pctx, span := r.c.tracer.Start(ctx, "phase."+string(s.phase))
		t := s.fn(pctx)
		span.End()

		r.mu.Lock()
		r.state.CompletedPhases = append(r.state.CompletedPhases, s.phase)
		r.mu.Unlock()
		r.emit(domain.EventPhaseCompleted, "", string(s.phase), nil)
		r.checkpoint(ctx)
		if t != nil {
			return t
		}
	}
	return nil
}

// boundary checks cancellation and the time budget before next starts.
func (r *run) boundary(ctx context.Context, next domain.Phase) *termination {
	if err := ctx.Err(); err != nil {
		return &termination{status: domain.StatusCancelled, reason: fmt.Sprintf("context done before %s: %v", next, err)}
	}
	if r.cancelRequested(ctx) {
		return &termination{status: domain.StatusCancelled, reason: fmt.Sprintf("cancellation requested before %s", next)}
	}
	if !r.deadline.IsZero() && r.c.now().After(r.deadline) {
		return &termination{status: domain.StatusCompleted, reason: fmt.Sprintf("time budget of %s exhausted before %s", r.budget, next)}
	}
	return nil
}

func (r *run) cancelRequested(ctx context.Context) bool {
	s, err := r.c.store.Load(ctx, r.ec.ProjectID)
	if err != nil {
		r.log.Warn("failed to poll cancellation", "err", err)
		return false
	}
	return s.RunID == r.state.RunID && s.CancelRequested
}

func (r *run) intake(ctx context.Context) *termination {
	a := r.c.pipeline.Intake
	res := r.invoke(ctx, a, r.bb.Snapshot())
	if !res.Success {
		return r.fail(fmt.Sprintf("intake failed: %s", res.Error))
	}
	r.bb.Merge(res.Data)
	r.bb.Set(a.Name(), res.Data)
	return nil
}

// enrichment runs optional agents in parallel. A failure is recorded and never stops the run.
func (r *run) enrichment(ctx context.Context) *termination {
	input := r.bb.Snapshot()
	var g errgroup.Group
	for _, e := range r.c.pipeline.Enrichment {
		name := e.Agent.Name()
		if e.Skip != nil {
			if skip, why := e.Skip(ctx, r.ec, input); skip {
				r.message("%s skipped: %s", name, why)
				r.emit(domain.EventAgentSkipped, name, why, nil)
				continue
			}
		}
		g.Go(func() error {
			res := r.invoke(ctx, e.Agent, input)
			if !res.Success {
				r.message("optional agent %s failed: %s", name, res.Error)
				return nil
			}
			r.bb.Set(name, res.Data)
			return nil
		})
	}
	_ = g.Wait()
	return nil
}

// validation runs every gate in parallel; any gate setting hard_stop ends the run.
func (r *run) validation(ctx context.Context) *termination {
	input := r.bb.Snapshot()
	var (
		g     errgroup.Group
		mu    sync.Mutex
		stops = make(map[string]string)
	)
	for _, gate := range r.c.pipeline.Gates {
		name := gate.Name()
		g.Go(func() error {
			res := r.invoke(ctx, gate, input)
			if !res.Success {
				r.message("validation gate %s failed: %s", name, res.Error)
				return nil
			}
			r.bb.Set(name, res.Data)
			if res.Bool(domain.KeyHardStop) {
				reason := res.String(domain.KeyHardStopReason)
				if reason == "" {
					reason = name + " requested a hard stop"
				}
				mu.Lock()
				stops[name] = reason
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(stops) == 0 {
		return nil
	}
	names := make([]string, 0, len(stops))
	for name := range stops {
		names = append(names, name)
	}
	sort.Strings(names)
	reasons := make([]string, 0, len(names))
	for _, name := range names {
		reasons = append(reasons, stops[name])
	}
	reason := strings.Join(reasons, "; ")
	return &termination{status: domain.StatusHardStop, reason: "hard stop: " + reason, hardStop: reason}
}

func (r *run) decision(ctx context.Context) *termination {
	a := r.c.pipeline.Decision
	res := r.invoke(ctx, a, r.bb.Snapshot())
	if !res.Success {
		return r.fail(fmt.Sprintf("decision failed: %s", res.Error))
	}
	r.bb.Set(a.Name(), res.Data)
	if !res.Bool(domain.KeyProceed) {
		reason := "decision: no-go"
		if why := res.String("rationale"); why != "" {
			reason += ": " + why
		}
		r.message("%s", reason)
		return &termination{status: domain.StatusCompleted, reason: reason}
	}
	return nil
}

// generation drives the generation agent through the critic loop. An output that was
// never accepted is kept as best effort.
func (r *run) generation(ctx context.Context) *termination {
	a := r.c.pipeline.Generation
	name := a.Name()
	r.emit(domain.EventAgentStarted, name, "", nil)

	out := r.c.controller.Run(ctx, a, r.ec, r.bb.Snapshot())
	r.record(name, out.Result)

	r.mu.Lock()
	r.iterations = out.Iterations
	r.mu.Unlock()

	if !out.Result.Success {
		r.emit(domain.EventAgentFailed, name, out.Result.Error, nil)
		return r.fail(fmt.Sprintf("generation failed: %s", out.Result.Error))
	}
	r.emit(domain.EventAgentCompleted, name, out.Result.SummaryInfo, map[string]any{
		"iterations": out.Iterations,
		"accepted":   out.Accepted,
	})
	r.bb.Set(name, out.Result.Data)

	score := 0
	if n := len(out.History); n > 0 {
		score = out.History[n-1].Evaluation.Score
	}
	r.mu.Lock()
	r.generated = true
	r.genScore = score
	r.mu.Unlock()

	if !out.Accepted {
		r.message("generation not accepted after %d iteration(s), keeping best-effort output (score %d)", out.Iterations, score)
	}
	return nil
}

// reviewPhase collects scores from every reviewer. The summary is recorded; it never fails the run.
func (r *run) reviewPhase(ctx context.Context) *termination {
	reviewers := r.c.pipeline.Reviewers
	if len(reviewers) == 0 {
		return nil
	}
	input := r.bb.Snapshot()
	if v, ok := r.bb.Get(r.c.pipeline.Generation.Name()); ok {
		input["artifact"] = v
	}

	var (
		g      errgroup.Group
		mu     sync.Mutex
		scores = make(map[string]int, len(reviewers))
	)
	for _, rv := range reviewers {
		name := rv.Name()
		g.Go(func() error {
			res := r.invoke(ctx, rv, input)
			if !res.Success {
				r.message("reviewer %s failed: %s", name, res.Error)
				return nil
			}
			n, ok := res.Number(domain.KeyScore)
			if !ok {
				r.message("reviewer %s returned no score", name)
				return nil
			}
			mu.Lock()
			scores[name] = domain.ClampScore(int(n + 0.5))
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	summary := Consensus(scores, r.c.reviewMean, r.c.reviewSpread)
	r.mu.Lock()
	r.review = &summary
	r.mu.Unlock()

	r.record("review", domain.AgentResult{
		Success:     true,
		SummaryInfo: fmt.Sprintf("review mean %.1f, spread %d", summary.Mean, summary.Spread),
		Data: map[string]any{
			"scores":    summary.Scores,
			"mean":      summary.Mean,
			"spread":    summary.Spread,
			"consensus": summary.Consensus,
			"passed":    summary.Passed,
		},
	})
	if !summary.Passed {
		r.message("review did not pass: mean %.1f, spread %d across %d reviewer(s)", summary.Mean, summary.Spread, len(summary.Scores))
	}
	return nil
}

// Consensus summarises reviewer scores. Consensus needs at least two scores within
// maxSpread of each other; passing also needs a mean of at least minMean.
func Consensus(scores map[string]int, minMean float64, maxSpread int) domain.ReviewSummary {
	s := domain.ReviewSummary{Scores: make(map[string]int, len(scores))}
	if len(scores) == 0 {
		return s
	}
	lo, hi, sum := 100, 0, 0
	for name, v := range scores {
		s.Scores[name] = v
		sum += v
		lo = min(lo, v)
		hi = max(hi, v)
	}
	s.Mean = float64(sum) / float64(len(scores))
	s.Spread = hi - lo
	s.Consensus = len(scores) >= 2 && s.Spread <= maxSpread
	s.Passed = s.Consensus && s.Mean >= minMean
	return s
}

// invoke runs a single-pass agent and records its output.
func (r *run) invoke(ctx context.Context, a agent.Agent, input map[string]any) domain.AgentResult {
	name := a.Name()
	r.emit(domain.EventAgentStarted, name, "", nil)
	res := r.c.controller.Invoke(ctx, a, r.ec, input)
	r.record(name, res)
	if res.Success {
		r.emit(domain.EventAgentCompleted, name, res.SummaryInfo, nil)
	} else {
		r.log.Warn("agent failed", "agent", name, "err", res.Error)
		r.emit(domain.EventAgentFailed, name, res.Error, nil)
	}
	return res
}

func (r *run) fail(reason string) *termination {
	return &termination{status: domain.StatusFailed, reason: reason}
}

func (r *run) record(agentName string, res domain.AgentResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.OutputsByAgent[agentName] = res
}

func (r *run) message(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.Messages = append(r.state.Messages, fmt.Sprintf(format, args...))
}

func (r *run) snapshot() *domain.WorkflowState {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.state.Clone()
	s.Blackboard = r.bb.Snapshot()
	s.UpdatedAt = time.Now()
	return s
}

// checkpoint writes the current state while preserving a concurrently set cancel flag.
func (r *run) checkpoint(ctx context.Context) {
	snap := r.snapshot()
	err := r.c.store.Update(ctx, r.ec.ProjectID, func(s *domain.WorkflowState) error {
		cancel := s.CancelRequested && s.RunID == snap.RunID
		*s = *snap
		s.CancelRequested = s.CancelRequested || cancel
		return nil
	})
	if errors.Is(err, domain.ErrWorkflowNotFound) {
		err = r.c.store.Save(ctx, snap)
	}
	if err != nil {
		r.log.Warn("checkpoint failed", "phase", snap.CurrentPhase, "err", err)
	}
}

// finish applies the terminal status, persists the artifact once and builds the Result.
func (r *run) finish(ctx context.Context, t *termination) Result {
	ctx = context.WithoutCancel(ctx)
	if t == nil {
		r.mu.Lock()
		r.state.CurrentPhase = domain.PhaseDone
		r.mu.Unlock()
		t = &termination{status: domain.StatusCompleted}
	}

	if t.status == domain.StatusCompleted && r.generated {
		if err := r.persist(ctx); err != nil {
			r.log.Error("failed to persist result", "err", err)
			t = r.fail(fmt.Sprintf("persist result: %v", err))
		}
	}

	r.mu.Lock()
	if err := r.state.Transition(t.status); err != nil {
		r.log.Error("invalid terminal transition", "err", err)
	}
	r.state.Reason = t.reason
	r.state.HardStopReason = t.hardStop
	r.mu.Unlock()

	r.checkpoint(ctx)
	r.remember(ctx, t)

	switch t.status {
	case domain.StatusCompleted:
		r.log.Info("workflow completed", "reason", t.reason)
		r.emit(domain.EventWorkflowCompleted, "", t.reason, nil)
	case domain.StatusHardStop:
		r.log.Info("workflow hard stopped", "reason", t.hardStop)
		r.emit(domain.EventHardStop, "", t.hardStop, nil)
	case domain.StatusCancelled:
		r.log.Info("workflow cancelled", "reason", t.reason)
		r.emit(domain.EventWorkflowCancelled, "", t.reason, nil)
	default:
		r.log.Warn("workflow failed", "reason", t.reason)
		r.emit(domain.EventWorkflowFailed, "", t.reason, nil)
	}
	return r.result()
}

func (r *run) persist(ctx context.Context) error {
	if r.c.persister == nil {
		return nil
	}
	name := r.c.pipeline.Generation.Name()
	content := map[string]any{}
	if v, ok := r.bb.Get(name); ok {
		if m, ok := v.(map[string]any); ok {
			content = m
		}
	}
	r.mu.Lock()
	rec := domain.ResultRecord{
		ProjectID: r.ec.ProjectID,
		UserID:    r.ec.UserID,
		RunID:     r.state.RunID,
		AgentName: name,
		Content:   content,
		Score:     r.genScore,
		Review:    r.review,
		CreatedAt: time.Now(),
	}
	r.mu.Unlock()

	id, err := r.c.persister.Create(ctx, rec)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.state.ArtifactID = id
	r.mu.Unlock()
	return nil
}

// remember keeps a short outcome trail in project memory for later runs.
func (r *run) remember(ctx context.Context, t *termination) {
	m := r.c.memory
	if m == nil {
		return
	}
	r.mu.Lock()
	facts := map[string]any{
		"last_run_id":     r.state.RunID,
		"last_run_status": string(t.status),
	}
	if r.generated {
		facts["last_generation_score"] = r.genScore
	}
	r.mu.Unlock()
	m.SetPersistent(ctx, r.ec.ProjectID, facts)

	switch t.status {
	case domain.StatusHardStop:
		m.AddInsight(ctx, r.ec.ProjectID, "hard stop: "+t.hardStop)
	case domain.StatusCompleted:
		if t.reason != "" {
			m.AddInsight(ctx, r.ec.ProjectID, t.reason)
		}
	}
}

func (r *run) result() Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.state.Clone()
	return Result{
		Success:        s.Status == domain.StatusCompleted,
		RunID:          s.RunID,
		Status:         s.Status,
		Reason:         s.Reason,
		HardStopReason: s.HardStopReason,
		OutputsByAgent: s.OutputsByAgent,
		Messages:       s.Messages,
		ArtifactID:     s.ArtifactID,
		Review:         r.review,
		Iterations:     r.iterations,
		Duration:       r.c.now().Sub(r.started),
	}
}

func (r *run) emit(typ domain.EventType, agentName, msg string, data map[string]any) {
	r.c.sink.Publish(domain.Event{
		Type:      typ,
		AgentName: agentName,
		Message:   msg,
		Data:      data,
		Timestamp: time.Now(),
		ProjectID: r.ec.ProjectID,
	})
}
