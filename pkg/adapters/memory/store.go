package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/aretw0/forge/pkg/domain"
)

// Store implements ports.WorkflowStore in memory.
// Safe for concurrent use.
type Store struct {
	data map[string]*domain.WorkflowState
	mu   sync.RWMutex
}

// NewStore creates a new in-memory store.
func NewStore() *Store {
	return &Store{
		data: make(map[string]*domain.WorkflowState),
	}
}

// Save persists a copy of the state in memory.
func (s *Store) Save(ctx context.Context, state *domain.WorkflowState) error {
	copied := state.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[state.ProjectID] = copied
	return nil
}

// Load retrieves a copy of the state so callers can't mutate the store by pointer.
func (s *Store) Load(ctx context.Context, projectID string) (*domain.WorkflowState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.data[projectID]
	if !ok {
		return nil, domain.ErrWorkflowNotFound
	}
	return state.Clone(), nil
}

// Update applies fn under the write lock; the stored state changes only if fn succeeds.
func (s *Store) Update(ctx context.Context, projectID string, fn func(*domain.WorkflowState) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.data[projectID]
	if !ok {
		return domain.ErrWorkflowNotFound
	}
	working := state.Clone()
	if err := fn(working); err != nil {
		return err
	}
	s.data[projectID] = working
	return nil
}

// Delete removes the state.
func (s *Store) Delete(ctx context.Context, projectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, projectID)
	return nil
}

// List returns the stored project ids in lexical order.
func (s *Store) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.data))
	for id := range s.data {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
