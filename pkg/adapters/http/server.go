package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aretw0/forge"
	"github.com/aretw0/forge/internal/logging"
	"github.com/aretw0/forge/internal/sanitize"
	"github.com/aretw0/forge/pkg/domain"
	"github.com/aretw0/forge/pkg/workflow"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Orchestrator is the subset of the workflow coordinator the server drives.
type Orchestrator interface {
	RunWorkflow(ctx context.Context, projectID, userID string, input map[string]any, opts workflow.RunOptions) (workflow.Result, error)
	CancelWorkflow(ctx context.Context, projectID string) error
	Status(ctx context.Context, projectID string) (*domain.WorkflowState, error)
	List(ctx context.Context) ([]string, error)
	Running(projectID string) bool
}

// Subscriber hands out per-project event streams.
type Subscriber interface {
	Subscribe(projectID string, buffer int) (<-chan domain.Event, func())
}

// RunRequest is the body of POST /workflows/{projectID}/run.
type RunRequest struct {
	UserID   string            `json:"user_id"`
	Input    map[string]any    `json:"input"`
	Budget   string            `json:"budget,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
	// Async returns 202 immediately; progress is then followed through /events.
	Async    bool              `json:"async,omitempty"`
}

// Server exposes the coordinator over HTTP.
type Server struct {
	Orchestrator Orchestrator
	Events       Subscriber
	Metrics      http.Handler
	Logger       *slog.Logger
	// BaseContext parents asynchronous runs so they outlive their request.
	BaseContext  context.Context
}

// Option configures the handler.
type Option func(*Server)

// WithEvents enables the SSE endpoint.
func WithEvents(s Subscriber) Option {
	return func(srv *Server) { srv.Events = s }
}

// WithMetrics mounts h on /metrics.
func WithMetrics(h http.Handler) Option {
	return func(srv *Server) { srv.Metrics = h }
}

func WithLogger(l *slog.Logger) Option {
	return func(srv *Server) {
		if l != nil {
			srv.Logger = l
		}
	}
}

// WithBaseContext sets the parent context of asynchronous runs.
func WithBaseContext(ctx context.Context) Option {
	return func(srv *Server) { srv.BaseContext = ctx }
}

// NewHandler creates the HTTP handler for orch.
func NewHandler(orch Orchestrator, opts ...Option) http.Handler {
	s := &Server{
		Orchestrator: orch,
		Logger:       logging.NewNop(),
		BaseContext:  context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/health", s.GetHealth)
	r.Get("/info", s.GetInfo)
	if s.Metrics != nil {
		r.Handle("/metrics", s.Metrics)
	}
	r.Route("/workflows", func(r chi.Router) {
		r.Get("/", s.ListWorkflows)
		r.Get("/{projectID}", s.GetWorkflow)
		r.Post("/{projectID}/run", s.RunWorkflow)
		r.Post("/{projectID}/cancel", s.CancelWorkflow)
		r.Get("/{projectID}/events", s.SubscribeEvents)
	})

	return otelhttp.NewHandler(enableCORS(r), "forge-http")
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RunWorkflow handles POST /workflows/{projectID}/run.
func (s *Server) RunWorkflow(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	var body RunRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	input, err := sanitize.Input(body.Input)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	opts := workflow.RunOptions{Metadata: body.Metadata}
	if body.Budget != "" {
		d, err := time.ParseDuration(body.Budget)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid budget: %w", err))
			return
		}
		opts.Budget = d
	}

	if body.Async {
		if s.Orchestrator.Running(projectID) {
			writeError(w, http.StatusConflict, fmt.Errorf("%w: %s", domain.ErrWorkflowRunning, projectID))
			return
		}
		go func() {
			res, err := s.Orchestrator.RunWorkflow(s.BaseContext, projectID, body.UserID, input, opts)
			if err != nil {
				s.Logger.Error("async workflow did not start", "project_id", projectID, "err", err)
				return
			}
			s.Logger.Info("async workflow finished", "project_id", projectID, "status", res.Status)
		}()
		writeJSON(w, http.StatusAccepted, map[string]string{"project_id": projectID, "status": "accepted"})
		return
	}

	res, err := s.Orchestrator.RunWorkflow(r.Context(), projectID, body.UserID, input, opts)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// CancelWorkflow handles POST /workflows/{projectID}/cancel.
func (s *Server) CancelWorkflow(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	if err := s.Orchestrator.CancelWorkflow(r.Context(), projectID); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"project_id": projectID, "status": "cancel_requested"})
}

// GetWorkflow handles GET /workflows/{projectID}.
func (s *Server) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	st, err := s.Orchestrator.Status(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// ListWorkflows handles GET /workflows.
func (s *Server) ListWorkflows(w http.ResponseWriter, r *http.Request) {
	ids, err := s.Orchestrator.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"projects": ids})
}

// GetHealth handles GET /health.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetInfo handles GET /info.
func (s *Server) GetInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"app":     "forge-http",
		"version": strings.TrimSpace(forge.Version),
	})
}

// SubscribeEvents handles GET /workflows/{projectID}/events as a server-sent event stream.
// The optional "types" query parameter filters by comma separated event types.
func (s *Server) SubscribeEvents(w http.ResponseWriter, r *http.Request) {
	if s.Events == nil {
		writeError(w, http.StatusNotImplemented, errors.New("event streaming is not configured"))
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("streaming not supported"))
		return
	}

	projectID := chi.URLParam(r, "projectID")
	var filter map[domain.EventType]bool
	if q := r.URL.Query().Get("types"); q != "" {
		filter = make(map[domain.EventType]bool)
		for _, t := range strings.Split(q, ",") {
			filter[domain.EventType(strings.TrimSpace(t))] = true
		}
	}

	events, cancel := s.Events.Subscribe(projectID, 0)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	fmt.Fprintf(w, "event: ping\ndata: connected\n\n")
	flusher.Flush()
	s.Logger.Debug("sse client subscribed", "project_id", projectID)

	for {
		select {
		case <-r.Context().Done():
			s.Logger.Debug("sse client disconnected", "project_id", projectID)
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if filter != nil && !filter[e.Type] {
				continue
			}
			data, err := json.Marshal(e)
			if err != nil {
				s.Logger.Warn("failed to encode event", "err", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, data)
			flusher.Flush()
		}
	}
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrWorkflowNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrWorkflowRunning):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
