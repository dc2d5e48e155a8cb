// Package critic implements the generate, evaluate and refine loop that wraps
// agents configured for iterative refinement, including grounding verification.
package critic

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/aretw0/forge/internal/logging"
	"github.com/aretw0/forge/pkg/agent"
	"github.com/aretw0/forge/pkg/domain"
	"github.com/aretw0/forge/pkg/ports"
)

// Outcome is the result of one controller run.
type Outcome struct {
	Result     domain.AgentResult
	Iterations int
	Accepted   bool
	History    []Iteration
}

// Controller drives agents through the critic loop.
type Controller struct {
	contract       *agent.Contract
	judge          Judge
	verifier       Verifier
	feedback       FeedbackWriter
	searcher       ports.DocumentSearcher
	sink           domain.EventSink
	logger         *slog.Logger
	thresholds     Thresholds
	retrieval      Retrieval
	policies       map[string]Config
	abortOnTimeout bool
}

// Option configures a Controller.
type Option func(*Controller)

// WithJudge sets the evaluator. Without one every iteration gets the fallback evaluation.
func WithJudge(j Judge) Option {
	return func(c *Controller) { c.judge = j }
}

// WithVerifier sets the grounding verifier.
func WithVerifier(v Verifier) Option {
	return func(c *Controller) { c.verifier = v }
}

// WithFeedback sets the refinement feedback writer.
func WithFeedback(f FeedbackWriter) Option {
	return func(c *Controller) { c.feedback = f }
}

// WithSearcher sets the document search used for grounding.
func WithSearcher(s ports.DocumentSearcher) Option {
	return func(c *Controller) { c.searcher = s }
}

func WithThresholds(t Thresholds) Option {
	return func(c *Controller) { c.thresholds = t }
}

func WithRetrieval(r Retrieval) Option {
	return func(c *Controller) { c.retrieval = r }
}

// WithEventSink sets where lifecycle events go.
func WithEventSink(s domain.EventSink) Option {
	return func(c *Controller) {
		if s != nil {
			c.sink = s
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithPolicy overrides the loop configuration of one agent.
func WithPolicy(agentName string, cfg Config) Option {
	return func(c *Controller) { c.policies[agentName] = cfg }
}

// WithAbortOnTimeout propagates the invocation deadline into the agent's context.
// By default a timed-out call keeps running and its late result is ignored.
func WithAbortOnTimeout(abort bool) Option {
	return func(c *Controller) { c.abortOnTimeout = abort }
}

// New creates a controller over a contract.
func New(contract *agent.Contract, opts ...Option) *Controller {
	c := &Controller{
		contract:   contract,
		sink:       domain.NopSink{},
		logger:     logging.NewNop(),
		thresholds: DefaultThresholds(),
		retrieval:  DefaultRetrieval(),
		policies:   make(map[string]Config, len(Policies)),
	}
	for name, cfg := range Policies {
		c.policies[name] = cfg
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Policy returns the loop configuration for agentName.
func (c *Controller) Policy(agentName string) Config {
	cfg, ok := c.policies[agentName]
	if !ok {
		cfg = DefaultConfig
	}
	if cfg.MaxIterations < 1 {
		cfg.MaxIterations = 1
	}
	return cfg
}

// Thresholds returns the active scoring constants.
func (c *Controller) Thresholds() Thresholds { return c.thresholds }

// Invoke runs a single timed invocation without judging.
func (c *Controller) Invoke(ctx context.Context, a agent.Agent, ec domain.ExecutionContext, input map[string]any) domain.AgentResult {
	return c.callWithTimeout(ctx, a, ec, input, nil, c.Policy(a.Name()).Timeout)
}

// Run drives a through generate, evaluate and refine until acceptance or MaxIterations.
func (c *Controller) Run(ctx context.Context, a agent.Agent, ec domain.ExecutionContext, input map[string]any) Outcome {
	name := a.Name()
	cfg := c.Policy(name)

	var (
		out      Outcome
		feedback *domain.RefinementFeedback
	)
	for out.Iterations < cfg.MaxIterations && !out.Accepted {
		out.Iterations++
		iter := out.Iterations
		log := c.logger.With("project_id", ec.ProjectID, "agent", name, "iteration", iter)

		if iter > 1 {
			feedback = c.deriveFeedback(ctx, name, out.History[len(out.History)-1], cfg.MaxIterations)
		}
		c.emit(ec, domain.EventIterationStarted, name, iter, fmt.Sprintf("iteration %d of %d", iter, cfg.MaxIterations), nil)

		result := c.callWithTimeout(ctx, a, ec, input, feedback, cfg.Timeout)
		out.Result = result
		if !result.Success {
			log.Warn("iteration failed", "err", result.Error)
			c.emit(ec, domain.EventIterationComplete, name, iter, result.Error, map[string]any{"success": false})
			return out
		}
		c.emit(ec, domain.EventOutputProduced, name, iter, result.SummaryInfo, nil)

		var grounding *GroundingReport
		if cfg.GroundingRequired {
			rep := c.ground(ctx, ec, name, result)
			grounding = &rep
		}

		ev := c.evaluate(ctx, JudgeRequest{AgentName: name, Result: result, History: out.History, Grounding: grounding})
		if grounding != nil {
			ev = c.applyGrounding(ev, *grounding)
		}
		out.Accepted = ev.Accepted && ev.Score >= c.thresholds.Acceptance
		out.History = append(out.History, Iteration{Number: iter, Result: result, Evaluation: ev, Grounding: grounding})

		data := map[string]any{"score": ev.Score, "accepted": out.Accepted}
		if ev.GroundingScore != nil {
			data["grounding_score"] = *ev.GroundingScore
		}
		c.emit(ec, domain.EventEvaluated, name, iter, ev.Reasoning, data)
		log.Debug("iteration evaluated", "score", ev.Score, "accepted", out.Accepted)

		if !out.Accepted && out.Iterations < cfg.MaxIterations {
			c.emit(ec, domain.EventRefinementRequested, name, iter, "score below acceptance", data)
		}
		c.emit(ec, domain.EventIterationComplete, name, iter, "", data)
	}
	return out
}

// applyGrounding attaches the report and applies the deficit penalty and hard floor.
func (c *Controller) applyGrounding(ev domain.Evaluation, g GroundingReport) domain.Evaluation {
	score := g.Score
	ev.GroundingScore = &score
	ev.UnsupportedClaims = append(ev.UnsupportedClaims, g.UnsupportedClaims...)

	if g.Score < c.thresholds.Grounding {
		penalty := int(math.Round(float64(c.thresholds.Grounding-g.Score) * c.thresholds.PenaltyFactor))
		ev.Score = domain.ClampScore(ev.Score - penalty)
		if g.Score <= c.thresholds.HardFailureFloor {
			ev.Accepted = false
			ev.CriticalIssues = append(ev.CriticalIssues,
				fmt.Sprintf("grounding score %d at or below floor %d", g.Score, c.thresholds.HardFailureFloor))
		}
	}
	return ev
}

// evaluate calls the judge, substituting a passing default on any failure.
func (c *Controller) evaluate(ctx context.Context, req JudgeRequest) domain.Evaluation {
	fallback := domain.Evaluation{
		Accepted:  true,
		Score:     c.thresholds.JudgeFallbackScore,
		Reasoning: "evaluation unavailable; default score applied",
	}
	if c.judge == nil {
		return fallback
	}
	ev, err := c.safeJudge(ctx, req)
	if err != nil {
		c.logger.Warn("judge failed, using fallback evaluation", "agent", req.AgentName, "err", err)
		return fallback
	}
	ev.Score = domain.ClampScore(ev.Score)
	return ev
}

func (c *Controller) safeJudge(ctx context.Context, req JudgeRequest) (ev domain.Evaluation, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: judge panicked: %v", domain.ErrEvaluation, r)
		}
	}()
	return c.judge.Evaluate(ctx, req)
}

func (c *Controller) deriveFeedback(ctx context.Context, agentName string, last Iteration, maxIterations int) *domain.RefinementFeedback {
	ev := last.Evaluation
	prev := ev.Score
	fb := &domain.RefinementFeedback{
		Iteration:      last.Number + 1,
		MaxIterations:  maxIterations,
		Improvements:   ev.Improvements,
		CriticalIssues: ev.CriticalIssues,
		PreviousScore:  &prev,
	}
	if c.feedback != nil {
		text, err := c.feedback.Feedback(ctx, agentName, last, maxIterations)
		if err == nil {
			fb.FeedbackText = text
			return fb
		}
		c.logger.Warn("feedback generation failed, using template", "agent", agentName, "err", err)
	}
	fb.FeedbackText = templateFeedback(agentName, last, maxIterations)
	return fb
}

// callWithTimeout races one contract invocation against timeout.
// A call that loses the race is discarded; its late result is never applied.
func (c *Controller) callWithTimeout(ctx context.Context, a agent.Agent, ec domain.ExecutionContext, input map[string]any, fb *domain.RefinementFeedback, timeout time.Duration) domain.AgentResult {
	if timeout <= 0 {
		return c.contract.Invoke(ctx, a, ec, input, fb)
	}

	done := make(chan domain.AgentResult, 1)
	if c.abortOnTimeout {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		go func() {
			done <- c.contract.Invoke(callCtx, a, ec, input, fb)
		}()
		select {
		case res := <-done:
			return res
		case <-callCtx.Done():
			if ctx.Err() != nil {
				return domain.Failure(fmt.Sprintf("%s: %v", a.Name(), ctx.Err()))
			}
			return c.timedOut(ec, a, timeout)
		}
	}

	go func() {
		done <- c.contract.Invoke(ctx, a, ec, input, fb)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-done:
		return res
	case <-timer.C:
		return c.timedOut(ec, a, timeout)
	case <-ctx.Done():
		return domain.Failure(fmt.Sprintf("%s: %v", a.Name(), ctx.Err()))
	}
}

func (c *Controller) timedOut(ec domain.ExecutionContext, a agent.Agent, timeout time.Duration) domain.AgentResult {
	err := &domain.AgentError{Agent: a.Name(), Kind: domain.ErrTimeout, Err: fmt.Errorf("exceeded %s", timeout)}
	c.logger.Warn("agent invocation timed out", "project_id", ec.ProjectID, "agent", a.Name(), "timeout", timeout)
	return domain.Failure(err.Error())
}

func (c *Controller) emit(ec domain.ExecutionContext, typ domain.EventType, agentName string, iteration int, msg string, data map[string]any) {
	c.sink.Publish(domain.Event{
		Type:      typ,
		AgentName: agentName,
		Iteration: iteration,
		Message:   msg,
		Data:      data,
		Timestamp: time.Now(),
		ProjectID: ec.ProjectID,
	})
}
