package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/aretw0/forge/pkg/domain"
)

type contextKey struct {
	project string
	agent   string
}

type artifactEntry struct {
	rec     domain.ArtifactRecord
	payload []byte
}

// Tiers implements the four memory tiers in process memory.
// Safe for concurrent use.
type Tiers struct {
	mu        sync.RWMutex
	working   map[contextKey]domain.WorkingContextRecord
	sessions  map[string][]domain.SessionLogEntry
	memories  map[string]domain.ProjectMemory
	artifacts map[string]*artifactEntry
}

// NewTiers creates empty in-memory tiers.
func NewTiers() *Tiers {
	return &Tiers{
		working:   make(map[contextKey]domain.WorkingContextRecord),
		sessions:  make(map[string][]domain.SessionLogEntry),
		memories:  make(map[string]domain.ProjectMemory),
		artifacts: make(map[string]*artifactEntry),
	}
}

func (t *Tiers) SetWorkingContext(ctx context.Context, rec domain.WorkingContextRecord) error {
	rec.CurrentState = copyMap(rec.CurrentState)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.working[contextKey{rec.ProjectID, rec.AgentName}] = rec
	return nil
}

func (t *Tiers) GetWorkingContext(ctx context.Context, projectID, agentName string) (*domain.WorkingContextRecord, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.working[contextKey{projectID, agentName}]
	if !ok {
		return nil, nil
	}
	rec.CurrentState = copyMap(rec.CurrentState)
	return &rec, nil
}

func (t *Tiers) DeleteWorkingContext(ctx context.Context, projectID, agentName string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.working, contextKey{projectID, agentName})
	return nil
}

func (t *Tiers) AppendSession(ctx context.Context, projectID string, entry domain.SessionLogEntry) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessions[projectID] = append(t.sessions[projectID], entry)
	return nil
}

func (t *Tiers) RecentSessions(ctx context.Context, projectID string, n int) ([]domain.SessionLogEntry, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	all := t.sessions[projectID]
	if n <= 0 || n > len(all) {
		n = len(all)
	}
	return append([]domain.SessionLogEntry(nil), all[len(all)-n:]...), nil
}

func (t *Tiers) GetMemory(ctx context.Context, projectID string) (*domain.ProjectMemory, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	mem, ok := t.memories[projectID]
	if !ok {
		return nil, nil
	}
	mem.Facts = copyMap(mem.Facts)
	mem.Insights = append([]string(nil), mem.Insights...)
	return &mem, nil
}

func (t *Tiers) SetMemory(ctx context.Context, mem domain.ProjectMemory) error {
	mem.Facts = copyMap(mem.Facts)
	mem.Insights = append([]string(nil), mem.Insights...)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.memories[mem.ProjectID] = mem
	return nil
}

func (t *Tiers) PutArtifact(ctx context.Context, rec domain.ArtifactRecord, payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.artifacts[rec.ID] = &artifactEntry{rec: rec, payload: append([]byte(nil), payload...)}
	return nil
}

func (t *Tiers) GetArtifact(ctx context.Context, id string) (domain.ArtifactRecord, []byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.artifacts[id]
	if !ok {
		return domain.ArtifactRecord{}, nil, domain.ErrArtifactNotFound
	}
	e.rec.AccessCount++
	return e.rec, append([]byte(nil), e.payload...), nil
}

func (t *Tiers) ListArtifacts(ctx context.Context, projectID string) ([]domain.ArtifactRecord, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []domain.ArtifactRecord
	for _, e := range t.artifacts {
		if e.rec.ProjectID == projectID {
			out = append(out, e.rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (t *Tiers) DeleteArtifact(ctx context.Context, id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.artifacts, id)
	return nil
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
