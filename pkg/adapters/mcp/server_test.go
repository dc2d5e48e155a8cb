package mcp

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/aretw0/forge/pkg/domain"
	"github.com/aretw0/forge/pkg/workflow"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubOrchestrator struct {
	input  map[string]any
	budget time.Duration
	states map[string]*domain.WorkflowState
}

func (o *stubOrchestrator) RunWorkflow(_ context.Context, projectID, _ string, input map[string]any, opts workflow.RunOptions) (workflow.Result, error) {
	if projectID == "busy" {
		return workflow.Result{}, fmt.Errorf("%w: %s", domain.ErrWorkflowRunning, projectID)
	}
	o.input = input
	o.budget = opts.Budget
	return workflow.Result{Success: true, Status: domain.StatusCompleted, RunID: "r1"}, nil
}

func (o *stubOrchestrator) CancelWorkflow(_ context.Context, projectID string) error {
	st, ok := o.states[projectID]
	if !ok {
		return domain.ErrWorkflowNotFound
	}
	st.CancelRequested = true
	return nil
}

func (o *stubOrchestrator) Status(_ context.Context, projectID string) (*domain.WorkflowState, error) {
	st, ok := o.states[projectID]
	if !ok {
		return nil, domain.ErrWorkflowNotFound
	}
	return st, nil
}

func (o *stubOrchestrator) List(context.Context) ([]string, error) {
	return []string{"p1"}, nil
}

func newStub() *stubOrchestrator {
	return &stubOrchestrator{states: map[string]*domain.WorkflowState{
		"p1": {ProjectID: "p1", Status: domain.StatusRunning, CurrentPhase: domain.PhaseValidation},
	}}
}

func TestRunWorkflowTool(t *testing.T) {
	orch := newStub()
	s := NewServer(orch, nil)
	ctx := context.Background()

	res, err := s.handleRunWorkflow(ctx, mcp.CallToolRequest{}, RunArgs{ProjectID: "p1", Input: `{"rfq":"steel"}`, Budget: "5m"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, map[string]any{"rfq": "steel"}, orch.input)
	assert.Equal(t, 5*time.Minute, orch.budget)

	_, err = s.handleRunWorkflow(ctx, mcp.CallToolRequest{}, RunArgs{ProjectID: "p1", Input: `{"rfq":"st\u0007eel"}`})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"rfq": "steel"}, orch.input)

	_, err = s.handleRunWorkflow(ctx, mcp.CallToolRequest{}, RunArgs{ProjectID: "p1", Input: `[1]`})
	assert.ErrorContains(t, err, "JSON object")

	_, err = s.handleRunWorkflow(ctx, mcp.CallToolRequest{}, RunArgs{})
	assert.ErrorContains(t, err, "project_id")

	_, err = s.handleRunWorkflow(ctx, mcp.CallToolRequest{}, RunArgs{ProjectID: "busy"})
	assert.ErrorIs(t, err, domain.ErrWorkflowRunning)
}

func TestCancelAndStatusTools(t *testing.T) {
	orch := newStub()
	s := NewServer(orch, nil)
	ctx := context.Background()

	st, err := s.handleStatus(ctx, mcp.CallToolRequest{}, ProjectArgs{ProjectID: "p1"})
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseValidation, st.CurrentPhase)

	resp, err := s.handleCancelWorkflow(ctx, mcp.CallToolRequest{}, ProjectArgs{ProjectID: "p1"})
	require.NoError(t, err)
	assert.Equal(t, "cancel_requested", resp.Status)
	assert.True(t, orch.states["p1"].CancelRequested)

	_, err = s.handleCancelWorkflow(ctx, mcp.CallToolRequest{}, ProjectArgs{ProjectID: "missing"})
	assert.ErrorIs(t, err, domain.ErrWorkflowNotFound)
	_, err = s.handleStatus(ctx, mcp.CallToolRequest{}, ProjectArgs{ProjectID: "missing"})
	assert.ErrorIs(t, err, domain.ErrWorkflowNotFound)
}

func TestWorkflowsResource(t *testing.T) {
	s := NewServer(newStub(), nil)
	contents, err := s.readWorkflows(context.Background(), mcp.ReadResourceRequest{})
	require.NoError(t, err)
	require.Len(t, contents, 1)
	text, ok := contents[0].(mcp.TextResourceContents)
	require.True(t, ok)
	assert.Equal(t, WorkflowsURI, text.URI)
	assert.JSONEq(t, `["p1"]`, text.Text)
}
