package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aretw0/forge/pkg/domain"
	backend "github.com/redis/go-redis/v9"
)

const (
	defaultPrefix = "forge:"

	// farFuture is the index score of states stored without expiration (2100-01-01).
	farFuture = 4102444800

	maxUpdateRetries = 5
)

// Store implements ports.WorkflowStore using Redis.
// States are JSON strings indexed by a ZSET scored with their expiry.
type Store struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

// Option configures the Redis adapters.
type Option func(*options)

type options struct {
	prefix string
	ttl    time.Duration
}

// WithTTL sets the expiration for stored workflow states.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		o.ttl = ttl
	}
}

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(o *options) {
		o.prefix = prefix
	}
}

func buildOptions(opts []Option) options {
	o := options{prefix: defaultPrefix}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewClient dials a Redis client.
func NewClient(address, password string, db int) *backend.Client {
	return backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
}

// NewStore creates a workflow store on an existing client.
func NewStore(client *backend.Client, opts ...Option) *Store {
	o := buildOptions(opts)
	return &Store{
		client: client,
		prefix: o.prefix,
		ttl:    o.ttl,
	}
}

func (s *Store) key(projectID string) string {
	return s.prefix + "workflow:" + projectID
}

func (s *Store) indexKey() string {
	return s.prefix + "workflow:index"
}

// Save persists the state to Redis.
func (s *Store) Save(ctx context.Context, state *domain.WorkflowState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow state: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
		s.queueSave(ctx, pipe, state.ProjectID, data)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save to redis: %w", err)
	}
	return nil
}

func (s *Store) queueSave(ctx context.Context, pipe backend.Pipeliner, projectID string, data []byte) {
	pipe.Set(ctx, s.key(projectID), data, s.ttl)

	score := float64(time.Now().Add(s.ttl).Unix())
	if s.ttl == 0 {
		score = farFuture
	}
	pipe.ZAdd(ctx, s.indexKey(), backend.Z{
		Score:  score,
		Member: projectID,
	})
}

// Load retrieves the state from Redis.
func (s *Store) Load(ctx context.Context, projectID string) (*domain.WorkflowState, error) {
	val, err := s.client.Get(ctx, s.key(projectID)).Bytes()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, domain.ErrWorkflowNotFound
		}
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}
	return decodeState(val)
}

func decodeState(val []byte) (*domain.WorkflowState, error) {
	var state domain.WorkflowState
	if err := json.Unmarshal(val, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow state: %w", err)
	}
	if state.OutputsByAgent == nil {
		state.OutputsByAgent = make(map[string]domain.AgentResult)
	}
	if state.Blackboard == nil {
		state.Blackboard = make(map[string]any)
	}
	return &state, nil
}

// Update runs fn inside an optimistic WATCH transaction and retries on conflict.
func (s *Store) Update(ctx context.Context, projectID string, fn func(*domain.WorkflowState) error) error {
	key := s.key(projectID)
	txf := func(tx *backend.Tx) error {
		val, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, backend.Nil) {
				return domain.ErrWorkflowNotFound
			}
			return err
		}
		state, err := decodeState(val)
		if err != nil {
			return err
		}
		if err := fn(state); err != nil {
			return err
		}
		data, err := json.Marshal(state)
		if err != nil {
			return fmt.Errorf("failed to marshal workflow state: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
			s.queueSave(ctx, pipe, projectID, data)
			return nil
		})
		return err
	}

	for i := 0; i < maxUpdateRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, backend.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("update of %s: too many concurrent writers", projectID)
}

// Delete removes the state.
func (s *Store) Delete(ctx context.Context, projectID string) error {
	pipe := s.client.Pipeline()
	pipe.Del(ctx, s.key(projectID))
	pipe.ZRem(ctx, s.indexKey(), projectID)

	_, err := pipe.Exec(ctx)
	return err
}

// List returns stored project ids, pruning expired index members lazily.
func (s *Store) List(ctx context.Context) ([]string, error) {
	now := float64(time.Now().Unix())
	err := s.client.ZRemRangeByScore(ctx, s.indexKey(), "-inf", fmt.Sprintf("%f", now)).Err()
	if err != nil {
		return nil, fmt.Errorf("failed to prune expired workflows: %w", err)
	}

	ids, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	return ids, nil
}

// Close closes the redis client.
func (s *Store) Close() error {
	return s.client.Close()
}
