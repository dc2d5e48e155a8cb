package forge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"

	"github.com/aretw0/forge/internal/config"
	"github.com/aretw0/forge/internal/logging"
	"github.com/aretw0/forge/internal/metrics"
	fileadapter "github.com/aretw0/forge/pkg/adapters/file"
	memadapter "github.com/aretw0/forge/pkg/adapters/memory"
	redisadapter "github.com/aretw0/forge/pkg/adapters/redis"
	"github.com/aretw0/forge/pkg/agent"
	"github.com/aretw0/forge/pkg/agents"
	"github.com/aretw0/forge/pkg/compiler"
	"github.com/aretw0/forge/pkg/critic"
	"github.com/aretw0/forge/pkg/domain"
	"github.com/aretw0/forge/pkg/llm"
	"github.com/aretw0/forge/pkg/memory"
	"github.com/aretw0/forge/pkg/persistence/middleware"
	"github.com/aretw0/forge/pkg/ports"
	"github.com/aretw0/forge/pkg/progress"
	"github.com/aretw0/forge/pkg/workflow"
)

// Engine is the high-level entry point of forge.
// It assembles stores, backends, the critic loop and the bid pipeline from a Config.
type Engine struct {
	coordinator *workflow.Coordinator
	pipeline    workflow.Pipeline
	bus         *progress.Bus
	metrics     *metrics.Metrics
	memory      *memory.Manager
	registry    *llm.Registry
	searcher    *memadapter.Searcher
	logger      *slog.Logger

	backends []ports.TextGenerator
	closers  []func() error
}

// Option defines a functional option for configuring the Engine.
type Option func(*Engine)

// WithLogger sets a custom structured logger for the engine.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithBackends registers text generators in addition to the configured ones.
func WithBackends(backends ...ports.TextGenerator) Option {
	return func(e *Engine) {
		e.backends = append(e.backends, backends...)
	}
}

type stores struct {
	workflow  ports.WorkflowStore
	tiers     memory.Stores
	persister ports.ResultPersister
	locker    ports.DistributedLocker
	close     func() error
}

func openStores(cfg config.StoreConfig) (stores, error) {
	return wrapStores(openDriver(cfg), cfg)
}

// wrapStores stacks the configured middleware over st.workflow and closes st on failure.
func wrapStores(st stores, cfg config.StoreConfig) (stores, error) {
	mws, err := storeMiddleware(cfg)
	if err != nil {
		if st.close != nil {
			err = errors.Join(err, st.close())
		}
		return stores{}, err
	}
	st.workflow = middleware.Chain(st.workflow, mws...)
	return st, nil
}

func storeMiddleware(cfg config.StoreConfig) ([]middleware.Middleware, error) {
	var mws []middleware.Middleware
	if len(cfg.RedactKeys) > 0 {
		pii, err := middleware.NewPIIMiddleware(cfg.RedactKeys)
		if err != nil {
			return nil, err
		}
		mws = append(mws, pii)
	}
	active, fallback, err := cfg.Keys()
	if err != nil {
		return nil, err
	}
	if active != nil {
		mws = append(mws, middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: active, FallbackKeys: fallback}))
	}
	return mws, nil
}

func openDriver(cfg config.StoreConfig) stores {
	switch cfg.Driver {
	case config.DriverFile:
		return stores{
			workflow:  fileadapter.New(filepath.Join(cfg.Path, "workflows")),
			tiers:     memory.InMemoryStores(),
			persister: fileadapter.NewPersister(filepath.Join(cfg.Path, "results")),
		}
	case config.DriverRedis:
		client := redisadapter.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		opts := []redisadapter.Option{redisadapter.WithPrefix(cfg.Redis.Prefix), redisadapter.WithTTL(cfg.Redis.TTL)}
		tiers := redisadapter.NewTiers(client, opts...)
		return stores{
			workflow:  redisadapter.NewStore(client, opts...),
			tiers:     memory.Stores{Working: tiers, Sessions: tiers, Persistent: tiers, Artifacts: tiers},
			persister: redisadapter.NewPersister(client, opts...),
			locker:    redisadapter.NewLocker(client, cfg.Redis.Prefix),
			close:     client.Close,
		}
	default:
		return stores{
			workflow:  memadapter.NewStore(),
			tiers:     memory.InMemoryStores(),
			persister: memadapter.NewPersister(),
		}
	}
}

// OpenWorkflowStore opens only the workflow state store selected by cfg, for
// tools that inspect or cancel runs owned by another process.
func OpenWorkflowStore(cfg config.StoreConfig) (ports.WorkflowStore, func() error, error) {
	st, err := openStores(cfg)
	if err != nil {
		return nil, nil, err
	}
	if st.close == nil {
		return st.workflow, func() error { return nil }, nil
	}
	return st.workflow, st.close, nil
}

func (e *Engine) buildRegistry(cfg config.Config) (*llm.Registry, error) {
	reg := llm.NewRegistry()
	for _, b := range cfg.Backends {
		reg.Register(llm.NewOpenAI(b.Name,
			llm.WithBaseURL(b.BaseURL),
			llm.WithModel(b.Model),
			llm.WithAPIKey(b.APIKey()),
			llm.WithTemperature(b.Temperature),
			llm.WithJSONMode(!b.PlainText),
			llm.WithTimeout(b.Timeout),
			llm.WithLogger(e.logger),
		))
	}
	for _, b := range e.backends {
		reg.Register(b)
	}
	if len(reg.Names()) == 0 {
		return nil, errors.New("forge: no text generation backend configured")
	}
	if cfg.DefaultBackend != "" {
		if err := reg.SetDefault(cfg.DefaultBackend); err != nil {
			return nil, fmt.Errorf("forge: %w", err)
		}
	}
	return reg, nil
}

// New assembles an Engine from cfg. The caller must Close it.
func New(ctx context.Context, cfg config.Config, opts ...Option) (*Engine, error) {
	e := &Engine{logger: logging.NewNop()}
	for _, opt := range opts {
		opt(e)
	}

	reg, err := e.buildRegistry(cfg)
	if err != nil {
		return nil, err
	}
	e.registry = reg

	st, err := openStores(cfg.Store)
	if err != nil {
		return nil, err
	}
	if st.close != nil {
		e.closers = append(e.closers, st.close)
	}
	e.memory = memory.New(st.tiers, memory.WithLogger(e.logger))

	comp, err := compiler.New()
	if err != nil {
		return nil, errors.Join(err, e.Close())
	}

	e.searcher = memadapter.NewSearcher()
	n, err := fileadapter.LoadCorpus(cfg.CorpusDir, e.searcher)
	if err != nil {
		return nil, errors.Join(err, e.Close())
	}
	e.logger.Debug("corpus indexed", "dir", cfg.CorpusDir, "files", n)

	e.metrics = metrics.New()
	e.bus = progress.NewBus(progress.WithLogger(e.logger))
	sink := progress.Multi{e.bus, e.metrics, progress.LogSink{Logger: e.logger}}

	judge, err := reg.Get(cfg.DefaultBackend)
	if err != nil {
		return nil, errors.Join(err, e.Close())
	}
	criticOpts := []critic.Option{
		critic.WithJudge(&critic.LLMJudge{Backend: judge, Bound: compiler.DefaultBound()}),
		critic.WithVerifier(&critic.LLMVerifier{Backend: judge, Bound: compiler.DefaultBound()}),
		critic.WithFeedback(&critic.LLMFeedback{Backend: judge}),
		critic.WithSearcher(e.searcher),
		critic.WithThresholds(cfg.Critic.Thresholds),
		critic.WithRetrieval(cfg.Critic.Retrieval),
		critic.WithEventSink(sink),
		critic.WithLogger(e.logger),
		critic.WithAbortOnTimeout(cfg.Workflow.AbortOnTimeout),
	}
	for name, pc := range cfg.Critic.Policies {
		criticOpts = append(criticOpts, critic.WithPolicy(name, pc))
	}
	contract := agent.NewContract(e.memory, comp, agent.WithLogger(e.logger), agent.WithObserver(e.metrics))
	controller := critic.New(contract, criticOpts...)

	pipeline, err := agents.NewPipeline(ctx, agents.Config{
		Registry:  reg,
		Compiler:  comp,
		Memory:    e.memory,
		Backend:   cfg.DefaultBackend,
		Reviewers: cfg.Reviewers,
	})
	if err != nil {
		return nil, errors.Join(err, e.Close())
	}
	e.pipeline = pipeline

	coordOpts := []workflow.Option{
		workflow.WithPersister(st.persister),
		workflow.WithMemory(e.memory),
		workflow.WithEventSink(sink),
		workflow.WithLogger(e.logger),
		workflow.WithBudget(cfg.Workflow.Budget),
	}
	if st.locker != nil {
		coordOpts = append(coordOpts, workflow.WithLocker(st.locker))
	}
	if cfg.Workflow.LockTTL > 0 {
		coordOpts = append(coordOpts, workflow.WithLockTTL(cfg.Workflow.LockTTL, workflow.DefaultLockWait))
	}
	if cfg.Workflow.ReviewMean > 0 {
		coordOpts = append(coordOpts, workflow.WithReviewConsensus(cfg.Workflow.ReviewMean, cfg.Workflow.ReviewSpread))
	}
	e.coordinator, err = workflow.New(pipeline, controller, st.workflow, coordOpts...)
	if err != nil {
		return nil, errors.Join(err, e.Close())
	}
	return e, nil
}

// RunWorkflow executes the bid pipeline for projectID and blocks until it terminates.
func (e *Engine) RunWorkflow(ctx context.Context, projectID, userID string, input map[string]any, opts workflow.RunOptions) (workflow.Result, error) {
	return e.coordinator.RunWorkflow(ctx, projectID, userID, input, opts)
}

// CancelWorkflow requests cancellation of the project's live run.
func (e *Engine) CancelWorkflow(ctx context.Context, projectID string) error {
	return e.coordinator.CancelWorkflow(ctx, projectID)
}

// Status returns the last checkpoint of the project's run.
func (e *Engine) Status(ctx context.Context, projectID string) (*domain.WorkflowState, error) {
	return e.coordinator.Status(ctx, projectID)
}

// List returns the projects with stored workflow state.
func (e *Engine) List(ctx context.Context) ([]string, error) {
	return e.coordinator.List(ctx)
}

// Running reports whether this process is executing a run for projectID.
func (e *Engine) Running(projectID string) bool {
	return e.coordinator.Running(projectID)
}

// Subscribe streams the progress events of projectID until cancel is called.
func (e *Engine) Subscribe(projectID string, buffer int) (<-chan domain.Event, func()) {
	return e.bus.Subscribe(projectID, buffer)
}

// AddDocument indexes content as a grounding source of projectID.
func (e *Engine) AddDocument(projectID, sourceID, content string) {
	e.searcher.Add(projectID, sourceID, content)
}

// Pipeline returns the agents wired into each phase.
func (e *Engine) Pipeline() workflow.Pipeline {
	return e.pipeline
}

// Memory exposes the project memory tiers.
func (e *Engine) Memory() *memory.Manager {
	return e.memory
}

// Backends lists the registered text generation backends.
func (e *Engine) Backends() []string {
	return e.registry.Names()
}

// MetricsHandler serves the engine's Prometheus registry.
func (e *Engine) MetricsHandler() http.Handler {
	return e.metrics.Handler()
}

// Close releases the stores opened by New.
func (e *Engine) Close() error {
	var errs []error
	for _, c := range e.closers {
		errs = append(errs, c())
	}
	e.closers = nil
	return errors.Join(errs...)
}
