package ports

import (
	"context"

	"github.com/aretw0/forge/pkg/domain"
)

// WorkingContextStore holds the ephemeral per-invocation state keyed by (projectID, agentName).
type WorkingContextStore interface {
	SetWorkingContext(ctx context.Context, rec domain.WorkingContextRecord) error
	// GetWorkingContext returns (nil, nil) when no record exists.
	GetWorkingContext(ctx context.Context, projectID, agentName string) (*domain.WorkingContextRecord, error)
	DeleteWorkingContext(ctx context.Context, projectID, agentName string) error
}

// SessionLog is the append-only per-project invocation log.
type SessionLog interface {
	AppendSession(ctx context.Context, projectID string, entry domain.SessionLogEntry) error
	// RecentSessions returns at most n entries, oldest first.
	RecentSessions(ctx context.Context, projectID string, n int) ([]domain.SessionLogEntry, error)
}

// PersistentMemory stores long-term, cross-run memory per project.
type PersistentMemory interface {
	// GetMemory returns (nil, nil) when the project has no memory yet.
	GetMemory(ctx context.Context, projectID string) (*domain.ProjectMemory, error)
	SetMemory(ctx context.Context, mem domain.ProjectMemory) error
}

// ArtifactStore stores immutable offloaded payloads.
type ArtifactStore interface {
	PutArtifact(ctx context.Context, rec domain.ArtifactRecord, payload []byte) error
	// GetArtifact returns domain.ErrArtifactNotFound for unknown ids and bumps AccessCount.
	GetArtifact(ctx context.Context, id string) (domain.ArtifactRecord, []byte, error)
	// ListArtifacts returns the project's records, newest first.
	ListArtifacts(ctx context.Context, projectID string) ([]domain.ArtifactRecord, error)
	DeleteArtifact(ctx context.Context, id string) error
}
