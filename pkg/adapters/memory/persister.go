package memory

import (
	"context"
	"sync"

	"github.com/aretw0/forge/pkg/domain"
	"github.com/google/uuid"
)

// Persister implements ports.ResultPersister in memory.
type Persister struct {
	mu      sync.Mutex
	records map[string]domain.ResultRecord
}

// NewPersister creates an empty result persister.
func NewPersister() *Persister {
	return &Persister{records: make(map[string]domain.ResultRecord)}
}

// Create stores the record under a fresh id.
func (p *Persister) Create(ctx context.Context, record domain.ResultRecord) (string, error) {
	id := uuid.NewString()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.records[id] = record
	return id, nil
}

// Get returns a stored record.
func (p *Persister) Get(id string) (domain.ResultRecord, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.records[id]
	return r, ok
}

// Len reports how many records were created.
func (p *Persister) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.records)
}
