// Package agent defines the Agent interface and the Contract envelope that wraps
// every agent invocation with memory, prompt compilation, offloading and cleanup.
package agent

import (
	"context"

	"github.com/aretw0/forge/pkg/compiler"
	"github.com/aretw0/forge/pkg/domain"
)

// Input is what an agent receives for one invocation.
type Input struct {
	// Data is the raw input handed to the invocation.
	Data map[string]any
	// Feedback is set on refinement iterations of the critic loop.
	Feedback *domain.RefinementFeedback
	// Prompt is the compiled prompt pair for this agent.
	Prompt compiler.Output
}

// Agent is one pluggable processing step.
type Agent interface {
	Name() string
	Execute(ctx context.Context, ec domain.ExecutionContext, in Input) (domain.AgentResult, error)
}

// Func adapts a function to the Agent interface.
type Func struct {
	AgentName string
	Fn        func(ctx context.Context, ec domain.ExecutionContext, in Input) (domain.AgentResult, error)
}

// NewFunc wraps fn as an agent named name.
func NewFunc(name string, fn func(ctx context.Context, ec domain.ExecutionContext, in Input) (domain.AgentResult, error)) *Func {
	return &Func{AgentName: name, Fn: fn}
}

func (f *Func) Name() string { return f.AgentName }

func (f *Func) Execute(ctx context.Context, ec domain.ExecutionContext, in Input) (domain.AgentResult, error) {
	return f.Fn(ctx, ec, in)
}

// Static returns an agent that always yields result.
func Static(name string, result domain.AgentResult) *Func {
	return NewFunc(name, func(context.Context, domain.ExecutionContext, Input) (domain.AgentResult, error) {
		return result, nil
	})
}
