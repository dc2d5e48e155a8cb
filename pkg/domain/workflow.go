package domain

import (
	"fmt"
	"time"
)

// WorkflowStatus is the lifecycle status of a workflow run.
type WorkflowStatus string

const (
	StatusPending   WorkflowStatus = "pending"
	StatusRunning   WorkflowStatus = "running"
	StatusCompleted WorkflowStatus = "completed"
	StatusFailed    WorkflowStatus = "failed"
	StatusCancelled WorkflowStatus = "cancelled"
	StatusHardStop  WorkflowStatus = "hard_stop"
)

// IsTerminal reports whether no further transition is allowed out of s.
func (s WorkflowStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusHardStop:
		return true
	}
	return false
}

// CanTransition reports whether s may move to next.
// Status only moves forward through pending -> running -> terminal.
func (s WorkflowStatus) CanTransition(next WorkflowStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusRunning || next.IsTerminal()
	case StatusRunning:
		return next.IsTerminal()
	}
	return false
}

// Phase names a step of the fixed pipeline.
type Phase string

const (
	PhaseIntake     Phase = "intake"
	PhaseEnrichment Phase = "enrichment"
	PhaseValidation Phase = "validation"
	PhaseDecision   Phase = "decision"
	PhaseGeneration Phase = "generation"
	PhaseReview     Phase = "review"
	PhaseDone       Phase = "done"
)

// Phases lists the pipeline in execution order.
var Phases = []Phase{PhaseIntake, PhaseEnrichment, PhaseValidation, PhaseDecision, PhaseGeneration, PhaseReview}

// WorkflowState is the checkpointed snapshot of a workflow run.
type WorkflowState struct {
	ProjectID       string                 `json:"project_id"`
	UserID          string                 `json:"user_id"`
	RunID           string                 `json:"run_id"`
	CurrentPhase    Phase                  `json:"current_phase"`
	Status          WorkflowStatus         `json:"status"`
	OutputsByAgent  map[string]AgentResult `json:"outputs_by_agent"`
	Blackboard      map[string]any         `json:"blackboard,omitempty"`
	HardStopReason  string                 `json:"hard_stop_reason,omitempty"`
	Reason          string                 `json:"reason,omitempty"`
	Messages        []string               `json:"messages,omitempty"`
	CompletedPhases []Phase                `json:"completed_phases,omitempty"`
	CancelRequested bool                   `json:"cancel_requested,omitempty"`
	ArtifactID      string                 `json:"artifact_id,omitempty"`
	StartedAt       time.Time              `json:"started_at"`
	UpdatedAt       time.Time              `json:"updated_at"`
}

// NewWorkflowState creates a pending state for a project.
func NewWorkflowState(projectID, userID string) *WorkflowState {
	now := time.Now()
	return &WorkflowState{
		ProjectID:      projectID,
		UserID:         userID,
		Status:         StatusPending,
		OutputsByAgent: make(map[string]AgentResult),
		Blackboard:     make(map[string]any),
		StartedAt:      now,
		UpdatedAt:      now,
	}
}

// Transition moves the state to next, refusing any non-monotonic move.
func (s *WorkflowState) Transition(next WorkflowStatus) error {
	if !s.Status.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, next)
	}
	s.Status = next
	s.UpdatedAt = time.Now()
	return nil
}

// Clone returns a copy whose maps and slices are not shared with s.
func (s *WorkflowState) Clone() *WorkflowState {
	if s == nil {
		return nil
	}
	c := *s
	c.OutputsByAgent = make(map[string]AgentResult, len(s.OutputsByAgent))
	for k, v := range s.OutputsByAgent {
		c.OutputsByAgent[k] = v
	}
	c.Blackboard = make(map[string]any, len(s.Blackboard))
	for k, v := range s.Blackboard {
		c.Blackboard[k] = v
	}
	c.Messages = append([]string(nil), s.Messages...)
	c.CompletedPhases = append([]Phase(nil), s.CompletedPhases...)
	return &c
}

// ResultRecord is the durable record persisted once per completed run.
type ResultRecord struct {
	ProjectID string         `json:"project_id"`
	UserID    string         `json:"user_id"`
	RunID     string         `json:"run_id"`
	AgentName string         `json:"agent_name"`
	Content   map[string]any `json:"content"`
	Score     int            `json:"score"`
	Review    *ReviewSummary `json:"review,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// ReviewSummary is the consensus outcome of the review phase.
type ReviewSummary struct {
	Scores    map[string]int `json:"scores"`
	Mean      float64        `json:"mean"`
	Spread    int            `json:"spread"`
	Consensus bool           `json:"consensus"`
	Passed    bool           `json:"passed"`
}
