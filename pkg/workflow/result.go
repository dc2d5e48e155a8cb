package workflow

import (
	"time"

	"github.com/aretw0/forge/pkg/domain"
)

// Result is what RunWorkflow returns. It always carries every output collected
// before termination.
type Result struct {
	Success        bool                          `json:"success"`
	RunID          string                        `json:"run_id"`
	Status         domain.WorkflowStatus         `json:"status"`
	Reason         string                        `json:"reason,omitempty"`
	HardStopReason string                        `json:"hard_stop_reason,omitempty"`
	OutputsByAgent map[string]domain.AgentResult `json:"outputs_by_agent"`
	Messages       []string                      `json:"messages,omitempty"`
	ArtifactID     string                        `json:"artifact_id,omitempty"`
	Review         *domain.ReviewSummary         `json:"review,omitempty"`
	Iterations     int                           `json:"iterations,omitempty"`
	Duration       time.Duration                 `json:"duration"`
}

// RunOptions tunes a single run.
type RunOptions struct {
	// Budget overrides the coordinator's wall-clock budget when positive.
	Budget time.Duration
	// Metadata is copied into the execution context.
	Metadata map[string]string
}
