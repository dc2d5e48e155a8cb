package domain

// ExecutionContext identifies the run an agent is executing for.
// It is passed by value into every agent call and never mutated by an agent.
type ExecutionContext struct {
	ProjectID string            `json:"project_id"`
	UserID    string            `json:"user_id"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Meta returns a metadata value, or "" when absent.
func (c ExecutionContext) Meta(key string) string {
	if c.Metadata == nil {
		return ""
	}
	return c.Metadata[key]
}
