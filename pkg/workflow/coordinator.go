package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/forge/internal/logging"
	"github.com/aretw0/forge/pkg/critic"
	"github.com/aretw0/forge/pkg/domain"
	"github.com/aretw0/forge/pkg/memory"
	"github.com/aretw0/forge/pkg/ports"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultBudget is the wall-clock budget of one run.
	DefaultBudget = 20 * time.Minute
	// DefaultLockTTL bounds how long a crashed replica can hold a project lock.
	DefaultLockTTL = 30 * time.Minute
	// DefaultLockWait is how long RunWorkflow waits for the distributed lock.
	DefaultLockWait = 2 * time.Second
	// ReviewPassMean is the minimum mean reviewer score for a passing review.
	ReviewPassMean = 85.0
	// ReviewMaxSpread is the widest max-min reviewer spread still considered consensus.
	ReviewMaxSpread = 15
)

// Coordinator runs the phased pipeline for one project at a time.
type Coordinator struct {
	pipeline   Pipeline
	controller *critic.Controller
	store      ports.WorkflowStore
	persister  ports.ResultPersister
	locker     ports.DistributedLocker
	memory     *memory.Manager
	sink       domain.EventSink
	logger     *slog.Logger
	tracer     trace.Tracer
	now        func() time.Time

	budget       time.Duration
	lockTTL      time.Duration
	lockWait     time.Duration
	reviewMean   float64
	reviewSpread int

	mu     sync.Mutex
	active map[string]struct{}
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithPersister sets where completed artifacts are written.
func WithPersister(p ports.ResultPersister) Option {
	return func(c *Coordinator) { c.persister = p }
}

// WithLocker enables cross-process exclusion per project.
func WithLocker(l ports.DistributedLocker) Option {
	return func(c *Coordinator) { c.locker = l }
}

// WithMemory records run outcomes into project memory.
func WithMemory(m *memory.Manager) Option {
	return func(c *Coordinator) { c.memory = m }
}

func WithEventSink(s domain.EventSink) Option {
	return func(c *Coordinator) {
		if s != nil {
			c.sink = s
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithBudget sets the default wall-clock budget. Zero disables it.
func WithBudget(d time.Duration) Option {
	return func(c *Coordinator) { c.budget = d }
}

func WithLockTTL(ttl, wait time.Duration) Option {
	return func(c *Coordinator) {
		c.lockTTL = ttl
		c.lockWait = wait
	}
}

// WithReviewConsensus overrides the review pass thresholds.
func WithReviewConsensus(minMean float64, maxSpread int) Option {
	return func(c *Coordinator) {
		c.reviewMean = minMean
		c.reviewSpread = maxSpread
	}
}

// WithClock replaces time.Now for budget accounting.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// New creates a coordinator. The pipeline must name its required agents.
func New(p Pipeline, controller *critic.Controller, store ports.WorkflowStore, opts ...Option) (*Coordinator, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if controller == nil {
		return nil, errors.New("workflow: controller is required")
	}
	if store == nil {
		return nil, errors.New("workflow: store is required")
	}
	c := &Coordinator{
		pipeline:     p,
		controller:   controller,
		store:        store,
		sink:         domain.NopSink{},
		logger:       logging.NewNop(),
		tracer:       otel.Tracer("github.com/aretw0/forge/pkg/workflow"),
		now:          time.Now,
		budget:       DefaultBudget,
		lockTTL:      DefaultLockTTL,
		lockWait:     DefaultLockWait,
		reviewMean:   ReviewPassMean,
		reviewSpread: ReviewMaxSpread,
		active:       make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// RunWorkflow executes the pipeline for projectID and blocks until the run reaches a
// terminal status. The returned error is non-nil only when the run could not start,
// for instance ErrWorkflowRunning when the project already has a live run.
func (c *Coordinator) RunWorkflow(ctx context.Context, projectID, userID string, input map[string]any, opts RunOptions) (Result, error) {
	if projectID == "" {
		return Result{}, errors.New("workflow: project id is required")
	}
	release, err := c.acquire(ctx, projectID)
	if err != nil {
		return Result{}, err
	}
	defer release()

	r := c.newRun(projectID, userID, input, opts)
	ctx, span := c.tracer.Start(ctx, "workflow.run", trace.WithAttributes(
		attribute.String("project_id", projectID),
		attribute.String("run_id", r.state.RunID),
	))
	defer span.End()

	if err := r.state.Transition(domain.StatusRunning); err != nil {
		return Result{}, err
	}
	if err := c.store.Save(ctx, r.state); err != nil {
		return Result{}, fmt.Errorf("save workflow state: %w", err)
	}
	r.log.Info("workflow started", "budget", r.budget)
	r.emit(domain.EventWorkflowStarted, "", "workflow started", nil)

	res := r.finish(ctx, r.execute(ctx))
	span.SetAttributes(attribute.String("status", string(res.Status)))
	if !res.Success {
		span.SetStatus(codes.Error, res.Reason)
	}
	return res, nil
}

// CancelWorkflow flags the project's run for cancellation. The run observes the flag at
// its next phase boundary. Cancelling a finished run is a no-op.
func (c *Coordinator) CancelWorkflow(ctx context.Context, projectID string) error {
	if err := RequestCancel(ctx, c.store, projectID); err != nil {
		return err
	}
	c.logger.Info("workflow cancellation requested", "project_id", projectID)
	return nil
}

// RequestCancel sets the cancellation flag on the stored state of projectID. Any
// process sharing the store can call it; the owning coordinator polls the flag.
func RequestCancel(ctx context.Context, store ports.WorkflowStore, projectID string) error {
	err := store.Update(ctx, projectID, func(s *domain.WorkflowState) error {
		if s.Status.IsTerminal() {
			return nil
		}
		s.CancelRequested = true
		s.UpdatedAt = time.Now()
		return nil
	})
	if err != nil {
		return fmt.Errorf("cancel workflow %s: %w", projectID, err)
	}
	return nil
}

// Status returns the last checkpoint of the project's run.
func (c *Coordinator) Status(ctx context.Context, projectID string) (*domain.WorkflowState, error) {
	return c.store.Load(ctx, projectID)
}

// List returns the project ids with a stored workflow state.
func (c *Coordinator) List(ctx context.Context) ([]string, error) {
	return c.store.List(ctx)
}

// Running reports whether this process is currently executing a run for projectID.
func (c *Coordinator) Running(projectID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.active[projectID]
	return ok
}

// acquire enforces a single live run per project, in process and, with a locker, across processes.
func (c *Coordinator) acquire(ctx context.Context, projectID string) (func(), error) {
	c.mu.Lock()
	if _, busy := c.active[projectID]; busy {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", domain.ErrWorkflowRunning, projectID)
	}
	c.active[projectID] = struct{}{}
	c.mu.Unlock()

	release := func() {
		c.mu.Lock()
		delete(c.active, projectID)
		c.mu.Unlock()
	}
	if c.locker == nil {
		return release, nil
	}

	lockCtx, cancel := context.WithTimeout(ctx, c.lockWait)
	defer cancel()
	unlock, err := c.locker.Lock(lockCtx, "workflow:"+projectID, c.lockTTL)
	if err != nil {
		release()
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrWorkflowRunning, projectID, err)
	}
	return func() {
		if err := unlock(context.Background()); err != nil {
			c.logger.Warn("failed to release workflow lock", "project_id", projectID, "err", err)
		}
		release()
	}, nil
}

func (c *Coordinator) newRun(projectID, userID string, input map[string]any, opts RunOptions) *run {
	state := domain.NewWorkflowState(projectID, userID)
	state.RunID = uuid.NewString()

	budget := c.budget
	if opts.Budget > 0 {
		budget = opts.Budget
	}
	r := &run{
		c:      c,
		ec:     domain.ExecutionContext{ProjectID: projectID, UserID: userID, Metadata: opts.Metadata},
		state:  state,
		bb:     NewBlackboard(input),
		budget: budget,
		log:    c.logger.With("project_id", projectID, "run_id", state.RunID),
	}
	r.started = c.now()
	if budget > 0 {
		r.deadline = r.started.Add(budget)
	}
	return r
}
