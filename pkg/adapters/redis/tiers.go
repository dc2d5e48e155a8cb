package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/aretw0/forge/pkg/domain"
	backend "github.com/redis/go-redis/v9"
)

// Tiers implements the memory tiers on Redis:
// a HASH per project for working context, a LIST per project for the session log,
// a JSON string per project for persistent memory and a HASH per artifact
// indexed by a per-project ZSET scored by creation time.
type Tiers struct {
	client *backend.Client
	prefix string
}

// NewTiers creates memory tiers on an existing client.
func NewTiers(client *backend.Client, opts ...Option) *Tiers {
	o := buildOptions(opts)
	return &Tiers{client: client, prefix: o.prefix}
}

func (t *Tiers) workingKey(projectID string) string { return t.prefix + "ctx:" + projectID }
func (t *Tiers) sessionKey(projectID string) string { return t.prefix + "session:" + projectID }
func (t *Tiers) memoryKey(projectID string) string  { return t.prefix + "memory:" + projectID }
func (t *Tiers) artifactKey(id string) string       { return t.prefix + "artifact:" + id }
func (t *Tiers) artifactIndex(projectID string) string {
	return t.prefix + "artifacts:" + projectID
}

func (t *Tiers) SetWorkingContext(ctx context.Context, rec domain.WorkingContextRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal working context: %w", err)
	}
	return t.client.HSet(ctx, t.workingKey(rec.ProjectID), rec.AgentName, data).Err()
}

func (t *Tiers) GetWorkingContext(ctx context.Context, projectID, agentName string) (*domain.WorkingContextRecord, error) {
	val, err := t.client.HGet(ctx, t.workingKey(projectID), agentName).Bytes()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get working context: %w", err)
	}
	var rec domain.WorkingContextRecord
	if err := json.Unmarshal(val, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal working context: %w", err)
	}
	return &rec, nil
}

func (t *Tiers) DeleteWorkingContext(ctx context.Context, projectID, agentName string) error {
	return t.client.HDel(ctx, t.workingKey(projectID), agentName).Err()
}

func (t *Tiers) AppendSession(ctx context.Context, projectID string, entry domain.SessionLogEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal session entry: %w", err)
	}
	return t.client.RPush(ctx, t.sessionKey(projectID), data).Err()
}

func (t *Tiers) RecentSessions(ctx context.Context, projectID string, n int) ([]domain.SessionLogEntry, error) {
	start := int64(0)
	if n > 0 {
		start = int64(-n)
	}
	vals, err := t.client.LRange(ctx, t.sessionKey(projectID), start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read session log: %w", err)
	}
	out := make([]domain.SessionLogEntry, 0, len(vals))
	for _, v := range vals {
		var e domain.SessionLogEntry
		if err := json.Unmarshal([]byte(v), &e); err != nil {
			return nil, fmt.Errorf("failed to unmarshal session entry: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}

func (t *Tiers) GetMemory(ctx context.Context, projectID string) (*domain.ProjectMemory, error) {
	val, err := t.client.Get(ctx, t.memoryKey(projectID)).Bytes()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get project memory: %w", err)
	}
	var mem domain.ProjectMemory
	if err := json.Unmarshal(val, &mem); err != nil {
		return nil, fmt.Errorf("failed to unmarshal project memory: %w", err)
	}
	return &mem, nil
}

func (t *Tiers) SetMemory(ctx context.Context, mem domain.ProjectMemory) error {
	data, err := json.Marshal(mem)
	if err != nil {
		return fmt.Errorf("failed to marshal project memory: %w", err)
	}
	return t.client.Set(ctx, t.memoryKey(mem.ProjectID), data, 0).Err()
}

const (
	fieldRecord  = "record"
	fieldPayload = "payload"
	fieldAccess  = "access"
)

func (t *Tiers) PutArtifact(ctx context.Context, rec domain.ArtifactRecord, payload []byte) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal artifact record: %w", err)
	}
	_, err = t.client.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
		pipe.HSet(ctx, t.artifactKey(rec.ID), fieldRecord, data, fieldPayload, payload, fieldAccess, rec.AccessCount)
		pipe.ZAdd(ctx, t.artifactIndex(rec.ProjectID), backend.Z{
			Score:  float64(rec.CreatedAt.UnixNano()),
			Member: rec.ID,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store artifact: %w", err)
	}
	return nil
}

func (t *Tiers) GetArtifact(ctx context.Context, id string) (domain.ArtifactRecord, []byte, error) {
	key := t.artifactKey(id)
	vals, err := t.client.HMGet(ctx, key, fieldRecord, fieldPayload).Result()
	if err != nil {
		return domain.ArtifactRecord{}, nil, fmt.Errorf("failed to get artifact: %w", err)
	}
	rawRec, ok := vals[0].(string)
	if !ok {
		return domain.ArtifactRecord{}, nil, domain.ErrArtifactNotFound
	}
	payload, _ := vals[1].(string)

	rec, err := decodeArtifact(rawRec)
	if err != nil {
		return domain.ArtifactRecord{}, nil, err
	}
	count, err := t.client.HIncrBy(ctx, key, fieldAccess, 1).Result()
	if err != nil {
		return domain.ArtifactRecord{}, nil, fmt.Errorf("failed to bump artifact access: %w", err)
	}
	rec.AccessCount = int(count)
	return rec, []byte(payload), nil
}

func decodeArtifact(raw string) (domain.ArtifactRecord, error) {
	var rec domain.ArtifactRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return rec, fmt.Errorf("failed to unmarshal artifact record: %w", err)
	}
	return rec, nil
}

func (t *Tiers) ListArtifacts(ctx context.Context, projectID string) ([]domain.ArtifactRecord, error) {
	ids, err := t.client.ZRevRange(ctx, t.artifactIndex(projectID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}

	pipe := t.client.Pipeline()
	cmds := make([]*backend.SliceCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HMGet(ctx, t.artifactKey(id), fieldRecord, fieldAccess)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, backend.Nil) {
		return nil, fmt.Errorf("failed to read artifacts: %w", err)
	}

	out := make([]domain.ArtifactRecord, 0, len(ids))
	for _, cmd := range cmds {
		vals := cmd.Val()
		if len(vals) < 2 {
			continue
		}
		raw, ok := vals[0].(string)
		if !ok {
			continue
		}
		rec, err := decodeArtifact(raw)
		if err != nil {
			return nil, err
		}
		if s, ok := vals[1].(string); ok {
			rec.AccessCount, _ = strconv.Atoi(s)
		}
		out = append(out, rec)
	}
	return out, nil
}

func (t *Tiers) DeleteArtifact(ctx context.Context, id string) error {
	raw, err := t.client.HGet(ctx, t.artifactKey(id), fieldRecord).Result()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil
		}
		return fmt.Errorf("failed to get artifact: %w", err)
	}
	rec, err := decodeArtifact(raw)
	if err != nil {
		return err
	}
	pipe := t.client.Pipeline()
	pipe.Del(ctx, t.artifactKey(id))
	pipe.ZRem(ctx, t.artifactIndex(rec.ProjectID), id)
	_, err = pipe.Exec(ctx)
	return err
}
