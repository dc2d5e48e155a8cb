package domain

import "time"

// EventType defines the category of a progress event.
type EventType string

const (
	EventWorkflowStarted     EventType = "workflow_started"
	EventPhaseStarted        EventType = "phase_started"
	EventPhaseCompleted      EventType = "phase_completed"
	EventAgentStarted        EventType = "agent_started"
	EventAgentCompleted      EventType = "agent_completed"
	EventAgentFailed         EventType = "agent_failed"
	EventAgentSkipped        EventType = "agent_skipped"
	EventIterationStarted    EventType = "iteration_started"
	EventOutputProduced      EventType = "output_produced"
	EventEvaluated           EventType = "evaluated"
	EventRefinementRequested EventType = "refinement_requested"
	EventIterationComplete   EventType = "iteration_complete"
	EventHardStop            EventType = "hard_stop"
	EventWorkflowCancelled   EventType = "workflow_cancelled"
	EventWorkflowCompleted   EventType = "workflow_completed"
	EventWorkflowFailed      EventType = "workflow_failed"
)

// Event is a progress notification for one phase or agent transition.
// Delivery is at-most-once and never affects orchestration.
type Event struct {
	Type      EventType      `json:"type"`
	AgentName string         `json:"agent_name,omitempty"`
	Iteration int            `json:"iteration,omitempty"`
	Message   string         `json:"message,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	ProjectID string         `json:"project_id"`
}

// EventSink receives progress events.
type EventSink interface {
	Publish(Event)
}

// NopSink discards every event.
type NopSink struct{}

// Publish implements EventSink.
func (NopSink) Publish(Event) {}
