// Package policy implements validation gates as embedded Rego policies.
//
// Every policy module exposes a "decision" rule shaped as
//
//	{"hard_stop": bool, "violations": [string], "warnings": [string], "score": number}
//
// which a Gate turns into the agent result the coordinator reads.
package policy

import (
	"embed"
	"fmt"
)

//go:embed rego/*.rego
var modules embed.FS

// Built-in policy modules.
const (
	Compliance = "compliance"
	Risk       = "risk"
)

// Module returns the source of a built-in policy.
func Module(name string) (string, error) {
	src, err := modules.ReadFile("rego/" + name + ".rego")
	if err != nil {
		return "", fmt.Errorf("unknown policy %q: %w", name, err)
	}
	return string(src), nil
}

// Decision is the parsed outcome of a policy evaluation.
type Decision struct {
	HardStop   bool     `mapstructure:"hard_stop"`
	Violations []string `mapstructure:"violations"`
	Warnings   []string `mapstructure:"warnings"`
	Score      float64  `mapstructure:"score"`
}
