package agent

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/aretw0/forge/internal/logging"
	"github.com/aretw0/forge/pkg/compiler"
	"github.com/aretw0/forge/pkg/domain"
	"github.com/aretw0/forge/pkg/memory"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultOffloadLines is the line count above which a result payload is offloaded.
const DefaultOffloadLines = 200

// Observer receives one callback per finished invocation.
type Observer interface {
	ObserveInvocation(agentName string, status domain.SessionStatus, d time.Duration)
}

// Contract is the uniform envelope around agent logic.
// A failing agent always yields a structured result, never a propagated error or panic.
type Contract struct {
	memory       *memory.Manager
	compiler     *compiler.Compiler
	logger       *slog.Logger
	tracer       trace.Tracer
	observer     Observer
	offloadLines int
}

// Option configures a Contract.
type Option func(*Contract)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Contract) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithOffloadLines sets the offload threshold in lines.
func WithOffloadLines(n int) Option {
	return func(c *Contract) {
		if n > 0 {
			c.offloadLines = n
		}
	}
}

// WithObserver registers an invocation observer (e.g. metrics).
func WithObserver(o Observer) Option {
	return func(c *Contract) {
		c.observer = o
	}
}

// NewContract creates the envelope over a memory manager and compiler.
func NewContract(mem *memory.Manager, comp *compiler.Compiler, opts ...Option) *Contract {
	c := &Contract{
		memory:       mem,
		compiler:     comp,
		logger:       logging.NewNop(),
		tracer:       otel.Tracer("github.com/aretw0/forge/pkg/agent"),
		offloadLines: DefaultOffloadLines,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Memory exposes the manager backing the contract.
func (c *Contract) Memory() *memory.Manager { return c.memory }

// Invoke runs one agent invocation inside the envelope.
func (c *Contract) Invoke(ctx context.Context, a Agent, ec domain.ExecutionContext, data map[string]any, feedback *domain.RefinementFeedback) (result domain.AgentResult) {
	name := a.Name()
	start := time.Now()

	ctx, span := c.tracer.Start(ctx, "agent."+name, trace.WithAttributes(
		attribute.String("project_id", ec.ProjectID),
		attribute.String("agent", name),
	))

	state := make(map[string]any, len(data)+1)
	for k, v := range data {
		state[k] = v
	}
	if feedback != nil {
		state[domain.KeyFeedback] = feedback
	}
	c.memory.SetWorkingContext(ctx, ec.ProjectID, name, state)

	// Session entry and cleanup run on every path, including panics.
	defer func() {
		status := domain.SessionSuccess
		summary := result.SummaryInfo
		if !result.Success {
			status = domain.SessionFailed
			summary = result.Error
			span.SetStatus(codes.Error, result.Error)
		}
		action := "execute"
		if feedback != nil {
			action = fmt.Sprintf("refine#%d", feedback.Iteration)
		}
		elapsed := time.Since(start)
		c.memory.AppendSession(ctx, ec.ProjectID, domain.SessionLogEntry{
			AgentName: name,
			Action:    action,
			Summary:   summary,
			Duration:  elapsed,
			Status:    status,
			Timestamp: time.Now(),
		})
		c.memory.ClearWorkingContext(ctx, ec.ProjectID, name)
		if c.observer != nil {
			c.observer.ObserveInvocation(name, status, elapsed)
		}
		span.End()
	}()

	bundle := c.memory.PrepareContextData(ctx, ec.ProjectID, name)
	wc := bundle.WorkingState
	if wc == nil {
		wc = state
	}
	if bundle.LongTerm != nil {
		merged := make(map[string]any, len(wc)+1)
		for k, v := range wc {
			merged[k] = v
		}
		merged[domain.KeyLongTermMemory] = map[string]any{
			"facts":    bundle.LongTerm.Facts,
			"insights": bundle.LongTerm.Insights,
		}
		wc = merged
	}
	prompt, err := c.compiler.Compile(name, ec.ProjectID, wc, bundle.SessionSummary, bundle.ArtifactIDs)
	if err != nil {
		c.logger.Error("context compilation failed", "project_id", ec.ProjectID, "agent", name, "err", err)
		return domain.Failure(fmt.Sprintf("compile context: %v", err))
	}

	result = c.execute(ctx, a, ec, Input{Data: data, Feedback: feedback, Prompt: prompt})
	if !result.Success {
		c.logger.Warn("agent failed", "project_id", ec.ProjectID, "agent", name, "err", result.Error)
		return result
	}

	if len(result.Data) > 0 {
		if id, ok := c.memory.OffloadLargeData(ctx, ec.ProjectID, name, result.Data, c.offloadLines); ok {
			result.ArtifactReference = id
		}
	}
	c.logger.Debug("agent completed", "project_id", ec.ProjectID, "agent", name,
		"duration", time.Since(start), "artifact_id", result.ArtifactReference)
	return result
}

// execute calls agent logic, converting errors and panics into failed results.
func (c *Contract) execute(ctx context.Context, a Agent, ec domain.ExecutionContext, in Input) (result domain.AgentResult) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("agent panicked", "project_id", ec.ProjectID, "agent", a.Name(),
				"panic", r, "stack", string(debug.Stack()))
			result = domain.Failure(fmt.Sprintf("agent panicked: %v", r))
		}
	}()

	res, err := a.Execute(ctx, ec, in)
	if err != nil {
		return domain.Failure(err.Error())
	}
	if !res.Success && res.Error == "" {
		res.Error = domain.ErrAgentExecution.Error()
	}
	return res
}
