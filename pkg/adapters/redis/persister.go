package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aretw0/forge/pkg/domain"
	"github.com/google/uuid"
	backend "github.com/redis/go-redis/v9"
)

// Persister implements ports.ResultPersister with one JSON string per result
// and a per-project LIST of result ids.
type Persister struct {
	client *backend.Client
	prefix string
}

// NewPersister creates a result persister on an existing client.
func NewPersister(client *backend.Client, opts ...Option) *Persister {
	o := buildOptions(opts)
	return &Persister{client: client, prefix: o.prefix}
}

// Create stores the record under a fresh id.
func (p *Persister) Create(ctx context.Context, record domain.ResultRecord) (string, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("failed to marshal result: %w", err)
	}
	id := uuid.NewString()
	_, err = p.client.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
		pipe.Set(ctx, p.prefix+"result:"+id, data, 0)
		pipe.RPush(ctx, p.prefix+"results:"+record.ProjectID, id)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to persist result: %w", err)
	}
	return id, nil
}

// ResultIDs lists the result ids persisted for a project, oldest first.
func (p *Persister) ResultIDs(ctx context.Context, projectID string) ([]string, error) {
	return p.client.LRange(ctx, p.prefix+"results:"+projectID, 0, -1).Result()
}
