package workflow

import "sync"

// Blackboard is the accumulating key/value state carried across phases.
// Concurrent writers are serialised; the last write per key wins.
type Blackboard struct {
	mu   sync.RWMutex
	data map[string]any
}

// NewBlackboard seeds a blackboard with a copy of initial.
func NewBlackboard(initial map[string]any) *Blackboard {
	b := &Blackboard{data: make(map[string]any, len(initial))}
	for k, v := range initial {
		b.data[k] = v
	}
	return b
}

func (b *Blackboard) Set(key string, value any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[key] = value
}

func (b *Blackboard) Get(key string) (any, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.data[key]
	return v, ok
}

// Merge writes every entry of m.
func (b *Blackboard) Merge(m map[string]any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for k, v := range m {
		b.data[k] = v
	}
}

// Snapshot returns a shallow copy safe to hand to agents.
func (b *Blackboard) Snapshot() map[string]any {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]any, len(b.data))
	for k, v := range b.data {
		out[k] = v
	}
	return out
}
