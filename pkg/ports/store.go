package ports

import (
	"context"

	"github.com/aretw0/forge/pkg/domain"
)

// WorkflowStore defines the interface for persisting workflow state.
// It is used for checkpointing after every phase and for cancellation polling.
type WorkflowStore interface {
	// Save persists the state for its project.
	Save(ctx context.Context, state *domain.WorkflowState) error

	// Load retrieves the state for a project.
	// Returns domain.ErrWorkflowNotFound if the project has no state.
	Load(ctx context.Context, projectID string) (*domain.WorkflowState, error)

	// Update applies fn to the stored state and persists the result.
	// Returns domain.ErrWorkflowNotFound if the project has no state.
	Update(ctx context.Context, projectID string, fn func(*domain.WorkflowState) error) error

	// Delete removes the state for a project.
	Delete(ctx context.Context, projectID string) error

	// List returns the ids of all projects with stored state.
	List(ctx context.Context) ([]string, error)
}

// ResultPersister stores the final generated artifact of a completed run.
type ResultPersister interface {
	Create(ctx context.Context, record domain.ResultRecord) (string, error)
}
