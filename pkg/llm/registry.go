package llm

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/aretw0/forge/pkg/ports"
)

// Registry holds named text-generation backends.
// Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]ports.TextGenerator
	fallback string
}

// NewRegistry creates a registry; the first registered backend becomes the default.
func NewRegistry(backends ...ports.TextGenerator) *Registry {
	r := &Registry{backends: make(map[string]ports.TextGenerator)}
	for _, b := range backends {
		r.Register(b)
	}
	return r
}

// Register adds or replaces a backend under its name.
func (r *Registry) Register(b ports.TextGenerator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[b.Name()] = b
	if r.fallback == "" {
		r.fallback = b.Name()
	}
}

// SetDefault selects the backend returned for empty names.
func (r *Registry) SetDefault(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.backends[name]; !ok {
		return fmt.Errorf("unknown backend %q", name)
	}
	r.fallback = name
	return nil
}

// Get returns the named backend, or the default for "".
func (r *Registry) Get(name string) (ports.TextGenerator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if name == "" {
		name = r.fallback
	}
	b, ok := r.backends[name]
	if !ok {
		return nil, fmt.Errorf("unknown backend %q", name)
	}
	return b, nil
}

// Names lists registered backends in lexical order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.backends))
	for n := range r.backends {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// All returns the registered backends ordered by name.
func (r *Registry) All() []ports.TextGenerator {
	names := r.Names()
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ports.TextGenerator, 0, len(names))
	for _, n := range names {
		out = append(out, r.backends[n])
	}
	return out
}

// Func adapts a function to ports.TextGenerator.
type Func struct {
	BackendName string
	Fn          func(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

func (f Func) Name() string { return f.BackendName }

func (f Func) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return f.Fn(ctx, systemPrompt, userPrompt)
}
