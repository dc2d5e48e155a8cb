package domain

import "time"

// WorkingContextRecord is the ephemeral per-invocation state of an agent.
// It is keyed uniquely by (ProjectID, AgentName) and removed on every exit path.
type WorkingContextRecord struct {
	AgentName    string         `json:"agent_name"`
	ProjectID    string         `json:"project_id"`
	CurrentState map[string]any `json:"current_state"`
	Timestamp    time.Time      `json:"timestamp"`
}

// SessionStatus is the outcome recorded for one invocation.
type SessionStatus string

const (
	SessionSuccess SessionStatus = "success"
	SessionFailed  SessionStatus = "failed"
)

// SessionLogEntry is one append-only line of a project's session log.
type SessionLogEntry struct {
	AgentName string        `json:"agent_name"`
	Action    string        `json:"action"`
	Summary   string        `json:"summary"`
	Duration  time.Duration `json:"duration"`
	Status    SessionStatus `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
}

// ArtifactRecord describes a stored, content-addressed payload.
// IDs are globally unique and never reused or mutated.
type ArtifactRecord struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	ProjectID   string    `json:"project_id"`
	AgentName   string    `json:"agent_name"`
	Size        int       `json:"size"`
	ContentHash string    `json:"content_hash"`
	CreatedAt   time.Time `json:"created_at"`
	AccessCount int       `json:"access_count"`
}

// ProjectMemory is the persistent, cross-run memory of a project.
type ProjectMemory struct {
	ProjectID string         `json:"project_id"`
	Facts     map[string]any `json:"facts,omitempty"`
	Insights  []string       `json:"insights,omitempty"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// SourceExcerpt is one ranked hit returned by the document search collaborator.
type SourceExcerpt struct {
	Content  string  `json:"content"`
	Score    float64 `json:"score"`
	SourceID string  `json:"source_id"`
}
