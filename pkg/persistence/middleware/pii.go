package middleware

import (
	"context"
	"fmt"
	"regexp"

	"github.com/aretw0/forge/pkg/domain"
	"github.com/aretw0/forge/pkg/ports"
)

// Mask replaces redacted values.
const Mask = "***"

type piiMiddleware struct {
	next     ports.WorkflowStore
	patterns []*regexp.Regexp
}

// NewPIIMiddleware creates a middleware that masks blackboard and agent output values
// whose keys match any of the patterns. The caller's state is never modified.
func NewPIIMiddleware(patternStrings []string) (Middleware, error) {
	patterns := make([]*regexp.Regexp, len(patternStrings))
	for i, p := range patternStrings {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("redact pattern %q: %w", p, err)
		}
		patterns[i] = re
	}
	return func(next ports.WorkflowStore) ports.WorkflowStore {
		return &piiMiddleware{next: next, patterns: patterns}
	}, nil
}

func (m *piiMiddleware) Save(ctx context.Context, state *domain.WorkflowState) error {
	return m.next.Save(ctx, m.masked(state))
}

func (m *piiMiddleware) Update(ctx context.Context, projectID string, fn func(*domain.WorkflowState) error) error {
	return m.next.Update(ctx, projectID, func(s *domain.WorkflowState) error {
		if err := fn(s); err != nil {
			return err
		}
		*s = *m.masked(s)
		return nil
	})
}

func (m *piiMiddleware) Load(ctx context.Context, projectID string) (*domain.WorkflowState, error) {
	return m.next.Load(ctx, projectID)
}

func (m *piiMiddleware) Delete(ctx context.Context, projectID string) error {
	return m.next.Delete(ctx, projectID)
}

func (m *piiMiddleware) List(ctx context.Context) ([]string, error) {
	return m.next.List(ctx)
}

// masked returns a deep copy of state with matching keys masked.
func (m *piiMiddleware) masked(state *domain.WorkflowState) *domain.WorkflowState {
	cloned := state.Clone()
	cloned.Blackboard = deepCopyMap(state.Blackboard)
	maskMap(cloned.Blackboard, m.patterns)
	for name, res := range cloned.OutputsByAgent {
		res.Data = deepCopyMap(res.Data)
		maskMap(res.Data, m.patterns)
		cloned.OutputsByAgent[name] = res
	}
	return cloned
}

func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopy(v)
	}
	return out
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return deepCopyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = deepCopy(e)
		}
		return out
	default:
		return v
	}
}

func maskMap(m map[string]any, patterns []*regexp.Regexp) {
	for k, v := range m {
		if matches(k, patterns) {
			m[k] = Mask
			continue
		}
		maskValue(v, patterns)
	}
}

func maskValue(v any, patterns []*regexp.Regexp) {
	switch t := v.(type) {
	case map[string]any:
		maskMap(t, patterns)
	case []any:
		for _, e := range t {
			maskValue(e, patterns)
		}
	}
}

func matches(key string, patterns []*regexp.Regexp) bool {
	for _, p := range patterns {
		if p.MatchString(key) {
			return true
		}
	}
	return false
}
