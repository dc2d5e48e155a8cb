package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrAgentExecution is reported when an agent signals failure.
	ErrAgentExecution = errors.New("agent execution failed")

	// ErrTimeout is reported when an agent invocation exceeds its budget.
	ErrTimeout = errors.New("agent invocation timed out")

	// ErrEvaluation is reported when the judge is unreachable or unparsable.
	// It is always recovered locally and never surfaced to callers.
	ErrEvaluation = errors.New("evaluation failed")

	// ErrGroundingSoft marks unsupported claims that only penalise the score.
	ErrGroundingSoft = errors.New("grounding: unsupported claims")

	// ErrGroundingHard marks missing or insufficient sources that force rejection.
	ErrGroundingHard = errors.New("grounding: cannot verify")

	// ErrHardStop is the business-rule veto of a validation gate.
	ErrHardStop = errors.New("hard stop")

	// ErrCancelled is returned when cancellation was requested for a run.
	ErrCancelled = errors.New("workflow cancelled")

	// ErrWorkflowNotFound is returned when a project has no workflow state.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrWorkflowRunning is returned when a run is already active for a project.
	ErrWorkflowRunning = errors.New("workflow already running")

	// ErrInvalidTransition is returned for non-monotonic status changes.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrArtifactNotFound is returned when an artifact id is unknown.
	ErrArtifactNotFound = errors.New("artifact not found")
)

// AgentError attributes a failure to the agent that produced it.
type AgentError struct {
	Agent string
	Kind  error
	Err   error
}

func (e *AgentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v: %v", e.Agent, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Agent, e.Kind)
}

// Unwrap exposes both the taxonomy kind and the cause to errors.Is.
func (e *AgentError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
