package mcp

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
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// WorkflowsURI is the resource listing known projects.
const WorkflowsURI = "forge://workflows"

// Orchestrator is the subset of the workflow coordinator exposed as tools.
type Orchestrator interface {
	RunWorkflow(ctx context.Context, projectID, userID string, input map[string]any, opts workflow.RunOptions) (workflow.Result, error)
	CancelWorkflow(ctx context.Context, projectID string) error
	Status(ctx context.Context, projectID string) (*domain.WorkflowState, error)
	List(ctx context.Context) ([]string, error)
}

// RunArgs are the arguments of run_workflow.
type RunArgs struct {
	ProjectID string `json:"project_id"`
	UserID    string `json:"user_id"`
	Input     string `json:"input"`
	Budget    string `json:"budget"`
}

// ProjectArgs identify a project.
type ProjectArgs struct {
	ProjectID string `json:"project_id"`
}

// CancelResponse is returned by cancel_workflow.
type CancelResponse struct {
	ProjectID string `json:"project_id" jsonschema_description:"The project whose run was flagged"`
	Status    string `json:"status" jsonschema_description:"Always cancel_requested"`
}

// Server exposes the coordinator as an MCP server.
type Server struct {
	orch      Orchestrator
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewServer creates a new MCP Server instance.
func NewServer(orch Orchestrator, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Server{
		orch:      orch,
		logger:    logger,
		mcpServer: server.NewMCPServer("forge-mcp", strings.TrimSpace(forge.Version)),
	}
	s.registerTools()
	s.registerResources()
	return s
}

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE starts the server on the given port using SSE and stops when ctx is done.
func (s *Server) ServeSSE(ctx context.Context, port int) error {
	addr := fmt.Sprintf(":%d", port)
	baseURL := fmt.Sprintf("http://localhost:%d", port)

	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	mux := http.NewServeMux()
	mux.Handle("/sse", corsMiddleware(sseServer.SSEHandler()))
	mux.Handle("/message", corsMiddleware(sseServer.MessageHandler()))

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("MCP Server listening (SSE)", "address", addr)
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) registerTools() {
	runTool := mcp.NewTool("run_workflow",
		mcp.WithDescription("Run the bid pipeline for a project and wait for the outcome."),
		mcp.WithString("project_id", mcp.Required(), mcp.Description("Project to run")),
		mcp.WithString("user_id", mcp.Description("User starting the run")),
		mcp.WithString("input", mcp.Description("JSON object with the initial blackboard (documents, rfq, requirements)")),
		mcp.WithString("budget", mcp.Description("Wall-clock budget such as 10m (optional)")),
		mcp.WithOutputSchema[workflow.Result](),
	)
	s.mcpServer.AddTool(runTool, mcp.NewStructuredToolHandler(s.handleRunWorkflow))

	cancelTool := mcp.NewTool("cancel_workflow",
		mcp.WithDescription("Request cancellation of a project's run. Takes effect at the next phase boundary."),
		mcp.WithString("project_id", mcp.Required(), mcp.Description("Project to cancel")),
		mcp.WithOutputSchema[CancelResponse](),
	)
	s.mcpServer.AddTool(cancelTool, mcp.NewStructuredToolHandler(s.handleCancelWorkflow))

	statusTool := mcp.NewTool("workflow_status",
		mcp.WithDescription("Get the last checkpoint of a project's run."),
		mcp.WithString("project_id", mcp.Required(), mcp.Description("Project to inspect")),
		mcp.WithOutputSchema[domain.WorkflowState](),
	)
	s.mcpServer.AddTool(statusTool, mcp.NewStructuredToolHandler(s.handleStatus))
}

func (s *Server) handleRunWorkflow(ctx context.Context, _ mcp.CallToolRequest, args RunArgs) (workflow.Result, error) {
	if args.ProjectID == "" {
		return workflow.Result{}, errors.New("project_id is required")
	}
	input := make(map[string]any)
	if args.Input != "" {
		if err := json.Unmarshal([]byte(args.Input), &input); err != nil {
			return workflow.Result{}, fmt.Errorf("input must be a JSON object: %w", err)
		}
	}
	input, err := sanitize.Input(input)
	if err != nil {
		return workflow.Result{}, err
	}
	var opts workflow.RunOptions
	if args.Budget != "" {
		d, err := time.ParseDuration(args.Budget)
		if err != nil {
			return workflow.Result{}, fmt.Errorf("invalid budget: %w", err)
		}
		opts.Budget = d
	}

	res, err := s.orch.RunWorkflow(ctx, args.ProjectID, args.UserID, input, opts)
	if err != nil {
		s.logger.Warn("MCP run_workflow rejected", "project_id", args.ProjectID, "err", err)
		return workflow.Result{}, fmt.Errorf("run failed: %w", err)
	}
	return res, nil
}

func (s *Server) handleCancelWorkflow(ctx context.Context, _ mcp.CallToolRequest, args ProjectArgs) (CancelResponse, error) {
	if err := s.orch.CancelWorkflow(ctx, args.ProjectID); err != nil {
		return CancelResponse{}, err
	}
	return CancelResponse{ProjectID: args.ProjectID, Status: "cancel_requested"}, nil
}

func (s *Server) handleStatus(ctx context.Context, _ mcp.CallToolRequest, args ProjectArgs) (domain.WorkflowState, error) {
	st, err := s.orch.Status(ctx, args.ProjectID)
	if err != nil {
		return domain.WorkflowState{}, err
	}
	return *st, nil
}

func (s *Server) registerResources() {
	s.mcpServer.AddResource(mcp.NewResource(WorkflowsURI, "Projects with workflow state",
		mcp.WithMIMEType("application/json"),
	), s.readWorkflows)
}

func (s *Server) readWorkflows(ctx context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	ids, err := s.orch.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	if ids == nil {
		ids = []string{}
	}
	jsonBytes, _ := json.Marshal(ids)
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      WorkflowsURI,
			MIMEType: "application/json",
			Text:     string(jsonBytes),
		},
	}, nil
}
