package critic

import "time"

// Config is the per-agent loop configuration.
type Config struct {
	MaxIterations     int           `yaml:"max_iterations"`
	Timeout           time.Duration `yaml:"timeout"`
	GroundingRequired bool          `yaml:"grounding_required"`
}

// DefaultConfig applies to agents without a row in the policy table.
var DefaultConfig = Config{MaxIterations: 1, Timeout: 60 * time.Second}

// Policies is the default per-agent table. Single-pass agents never refine.
var Policies = map[string]Config{
	"intake":             {MaxIterations: 1, Timeout: 60 * time.Second},
	"sketch_analysis":    {MaxIterations: 1, Timeout: 120 * time.Second},
	"historical_context": {MaxIterations: 1, Timeout: 60 * time.Second},
	"compliance_gate":    {MaxIterations: 1, Timeout: 30 * time.Second},
	"risk_gate":          {MaxIterations: 1, Timeout: 60 * time.Second},
	"decision":           {MaxIterations: 1, Timeout: 60 * time.Second},
	"generation":         {MaxIterations: 3, Timeout: 180 * time.Second, GroundingRequired: true},
	"review":             {MaxIterations: 1, Timeout: 60 * time.Second},
}

// Thresholds are the tunable scoring constants of the loop.
type Thresholds struct {
	// Acceptance is the minimum final score for acceptance.
	Acceptance int `yaml:"acceptance"`
	// Grounding is the grounding score below which a penalty applies.
	Grounding int `yaml:"grounding"`
	// HardFailureFloor forces rejection when grounding is at or below it.
	HardFailureFloor int `yaml:"hard_failure_floor"`
	// NoSourceScore is the grounding score used when no sources can be retrieved.
	NoSourceScore int `yaml:"no_source_score"`
	// PenaltyFactor scales the grounding deficit subtracted from the score.
	PenaltyFactor float64 `yaml:"penalty_factor"`
	// JudgeFallbackScore is the passing score substituted when the judge fails.
	JudgeFallbackScore int `yaml:"judge_fallback_score"`
	// NeutralGroundingScore is used when sources exist but verification fails.
	NeutralGroundingScore int `yaml:"neutral_grounding_score"`
}

// DefaultThresholds returns the standard scoring constants.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Acceptance:            75,
		Grounding:             60,
		HardFailureFloor:      35,
		NoSourceScore:         25,
		PenaltyFactor:         1.0,
		JudgeFallbackScore:    80,
		NeutralGroundingScore: 50,
	}
}

// Retrieval bounds the grounding source queries.
type Retrieval struct {
	Limit             int     `yaml:"limit"`
	ScoreThreshold    float64 `yaml:"score_threshold"`
	FallbackThreshold float64 `yaml:"fallback_threshold"`
	MaxKeyPhrases     int     `yaml:"max_key_phrases"`
}

// DefaultRetrieval returns the standard retrieval bounds.
func DefaultRetrieval() Retrieval {
	return Retrieval{Limit: 5, ScoreThreshold: 0.3, FallbackThreshold: 0.1, MaxKeyPhrases: 8}
}
