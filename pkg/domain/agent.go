package domain

// AgentResult is produced once per agent invocation and is immutable after return.
type AgentResult struct {
	Success           bool           `json:"success"`
	Data              map[string]any `json:"data,omitempty"`
	Error             string         `json:"error,omitempty"`
	SummaryInfo       string         `json:"summary_info,omitempty"`
	ArtifactReference string         `json:"artifact_reference,omitempty"`
}

// Failure builds an unsuccessful result carrying msg.
func Failure(msg string) AgentResult {
	return AgentResult{Success: false, Error: msg}
}

// Bool reads a boolean flag from the result data.
// Missing or non-boolean values read as false.
func (r AgentResult) Bool(key string) bool {
	if r.Data == nil {
		return false
	}
	switch v := r.Data[key].(type) {
	case bool:
		return v
	case string:
		return v == "true" || v == "yes"
	}
	return false
}

// String reads a string value from the result data.
func (r AgentResult) String(key string) string {
	if r.Data == nil {
		return ""
	}
	s, _ := r.Data[key].(string)
	return s
}

// Number reads a numeric value from the result data.
func (r AgentResult) Number(key string) (float64, bool) {
	if r.Data == nil {
		return 0, false
	}
	switch v := r.Data[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// Evaluation is the judge's verdict on one iteration of the critic loop.
type Evaluation struct {
	Accepted          bool     `json:"accepted" mapstructure:"accepted"`
	Score             int      `json:"score" mapstructure:"score"`
	Reasoning         string   `json:"reasoning" mapstructure:"reasoning"`
	Improvements      []string `json:"improvements,omitempty" mapstructure:"improvements"`
	CriticalIssues    []string `json:"critical_issues,omitempty" mapstructure:"critical_issues"`
	GroundingScore    *int     `json:"grounding_score,omitempty" mapstructure:"grounding_score"`
	UnsupportedClaims []string `json:"unsupported_claims,omitempty" mapstructure:"unsupported_claims"`
}

// RefinementFeedback is derived from the previous Evaluation and fed into the next agent call.
type RefinementFeedback struct {
	Iteration      int      `json:"iteration"`
	MaxIterations  int      `json:"max_iterations"`
	FeedbackText   string   `json:"feedback_text"`
	Improvements   []string `json:"improvements,omitempty"`
	CriticalIssues []string `json:"critical_issues,omitempty"`
	PreviousScore  *int     `json:"previous_score,omitempty"`
}

// ClampScore bounds a score into [0, 100].
func ClampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
