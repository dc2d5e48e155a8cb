package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aretw0/forge/internal/logging"
	memstore "github.com/aretw0/forge/pkg/adapters/memory"
	"github.com/aretw0/forge/pkg/domain"
	"github.com/aretw0/forge/pkg/ports"
	"github.com/google/uuid"
)

const (
	// SummaryWindow is the number of session entries rendered into a summary.
	SummaryWindow = 5
	// MaxArtifactRefs bounds the artifact ids handed to the compiler.
	MaxArtifactRefs = 5
	// DefaultMaxInsights caps the insights kept in persistent memory.
	DefaultMaxInsights = 50

	artifactTypeOutput = "agent_output"
)

// Stores bundles the driven ports backing each tier.
type Stores struct {
	Working    ports.WorkingContextStore
	Sessions   ports.SessionLog
	Persistent ports.PersistentMemory
	Artifacts  ports.ArtifactStore
}

// InMemoryStores returns all four tiers backed by one in-process store.
func InMemoryStores() Stores {
	t := memstore.NewTiers()
	return Stores{Working: t, Sessions: t, Persistent: t, Artifacts: t}
}

// ContextBundle is everything the compiler needs for one agent invocation.
type ContextBundle struct {
	WorkingState   map[string]any
	SessionSummary string
	LongTerm       *domain.ProjectMemory
	ArtifactIDs    []string
}

// Manager coordinates the memory tiers.
type Manager struct {
	stores      Stores
	logger      *slog.Logger
	maxInsights int
	now         func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger used to report swallowed storage failures.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithMaxInsights caps the number of insights kept per project.
func WithMaxInsights(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxInsights = n
		}
	}
}

// New creates a manager over stores.
func New(stores Stores, opts ...Option) *Manager {
	m := &Manager{
		stores:      stores,
		logger:      logging.NewNop(),
		maxInsights: DefaultMaxInsights,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) warn(msg, projectID, agentName string, err error) {
	m.logger.Warn(msg, "project_id", projectID, "agent", agentName, "err", err)
}

// SetWorkingContext replaces the working state of (projectID, agentName).
func (m *Manager) SetWorkingContext(ctx context.Context, projectID, agentName string, state map[string]any) {
	err := m.stores.Working.SetWorkingContext(ctx, domain.WorkingContextRecord{
		AgentName:    agentName,
		ProjectID:    projectID,
		CurrentState: state,
		Timestamp:    m.now(),
	})
	if err != nil {
		m.warn("set working context failed", projectID, agentName, err)
	}
}

// GetWorkingContext returns the working state, or nil when absent or unreadable.
func (m *Manager) GetWorkingContext(ctx context.Context, projectID, agentName string) map[string]any {
	rec, err := m.stores.Working.GetWorkingContext(ctx, projectID, agentName)
	if err != nil {
		m.warn("get working context failed", projectID, agentName, err)
		return nil
	}
	if rec == nil {
		return nil
	}
	return rec.CurrentState
}

// UpdateWorkingContext merges updates into the existing working state.
func (m *Manager) UpdateWorkingContext(ctx context.Context, projectID, agentName string, updates map[string]any) {
	current := m.GetWorkingContext(ctx, projectID, agentName)
	merged := make(map[string]any, len(current)+len(updates))
	for k, v := range current {
		merged[k] = v
	}
	for k, v := range updates {
		merged[k] = v
	}
	m.SetWorkingContext(ctx, projectID, agentName, merged)
}

// ClearWorkingContext removes the working state of (projectID, agentName).
func (m *Manager) ClearWorkingContext(ctx context.Context, projectID, agentName string) {
	if err := m.stores.Working.DeleteWorkingContext(ctx, projectID, agentName); err != nil {
		m.warn("clear working context failed", projectID, agentName, err)
	}
}

// AppendSession appends one entry to the project's session log. It never fails.
func (m *Manager) AppendSession(ctx context.Context, projectID string, entry domain.SessionLogEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = m.now()
	}
	if err := m.stores.Sessions.AppendSession(ctx, projectID, entry); err != nil {
		m.warn("append session failed", projectID, entry.AgentName, err)
	}
}

// RecentSessions returns the newest n entries, oldest first.
func (m *Manager) RecentSessions(ctx context.Context, projectID string, n int) []domain.SessionLogEntry {
	entries, err := m.stores.Sessions.RecentSessions(ctx, projectID, n)
	if err != nil {
		m.warn("read session log failed", projectID, "", err)
		return nil
	}
	return entries
}

// SummarizeSession renders the newest n entries as one line each.
func (m *Manager) SummarizeSession(ctx context.Context, projectID string, n int) string {
	entries := m.RecentSessions(ctx, projectID, n)
	if len(entries) == 0 {
		return "No previous activity."
	}
	var b strings.Builder
	for i, e := range entries {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "- [%s] %s %s", e.Status, e.AgentName, e.Action)
		if e.Summary != "" {
			fmt.Fprintf(&b, ": %s", e.Summary)
		}
		fmt.Fprintf(&b, " (%s)", e.Duration.Round(time.Millisecond))
	}
	return b.String()
}

// GetPersistent returns the project's long-term memory, or nil.
func (m *Manager) GetPersistent(ctx context.Context, projectID string) *domain.ProjectMemory {
	mem, err := m.stores.Persistent.GetMemory(ctx, projectID)
	if err != nil {
		m.warn("get persistent memory failed", projectID, "", err)
		return nil
	}
	return mem
}

// SetPersistent merges facts into the project's long-term memory.
func (m *Manager) SetPersistent(ctx context.Context, projectID string, facts map[string]any) {
	mem := m.GetPersistent(ctx, projectID)
	if mem == nil {
		mem = &domain.ProjectMemory{ProjectID: projectID}
	}
	if mem.Facts == nil {
		mem.Facts = make(map[string]any, len(facts))
	}
	for k, v := range facts {
		mem.Facts[k] = v
	}
	mem.UpdatedAt = m.now()
	if err := m.stores.Persistent.SetMemory(ctx, *mem); err != nil {
		m.warn("set persistent memory failed", projectID, "", err)
	}
}

// AddInsight records an insight once, dropping the oldest beyond the cap.
func (m *Manager) AddInsight(ctx context.Context, projectID, insight string) {
	insight = strings.TrimSpace(insight)
	if insight == "" {
		return
	}
	mem := m.GetPersistent(ctx, projectID)
	if mem == nil {
		mem = &domain.ProjectMemory{ProjectID: projectID}
	}
	for _, existing := range mem.Insights {
		if existing == insight {
			return
		}
	}
	mem.Insights = append(mem.Insights, insight)
	if over := len(mem.Insights) - m.maxInsights; over > 0 {
		mem.Insights = mem.Insights[over:]
	}
	mem.UpdatedAt = m.now()
	if err := m.stores.Persistent.SetMemory(ctx, *mem); err != nil {
		m.warn("add insight failed", projectID, "", err)
	}
}

// StoreArtifact stores payload under a fresh id and returns it, or "" on failure.
func (m *Manager) StoreArtifact(ctx context.Context, projectID, agentName, kind string, payload []byte) string {
	sum := sha256.Sum256(payload)
	rec := domain.ArtifactRecord{
		ID:          uuid.NewString(),
		Type:        kind,
		ProjectID:   projectID,
		AgentName:   agentName,
		Size:        len(payload),
		ContentHash: hex.EncodeToString(sum[:]),
		CreatedAt:   m.now(),
	}
	if err := m.stores.Artifacts.PutArtifact(ctx, rec, payload); err != nil {
		m.warn("store artifact failed", projectID, agentName, err)
		return ""
	}
	return rec.ID
}

// RetrieveArtifact returns an artifact and its payload.
func (m *Manager) RetrieveArtifact(ctx context.Context, id string) (domain.ArtifactRecord, []byte, bool) {
	rec, payload, err := m.stores.Artifacts.GetArtifact(ctx, id)
	if err != nil {
		m.warn("retrieve artifact failed", "", "", fmt.Errorf("%s: %w", id, err))
		return domain.ArtifactRecord{}, nil, false
	}
	return rec, payload, true
}

// ListArtifacts returns the project's artifacts, newest first, optionally filtered by agent.
func (m *Manager) ListArtifacts(ctx context.Context, projectID, agentName string) []domain.ArtifactRecord {
	recs, err := m.stores.Artifacts.ListArtifacts(ctx, projectID)
	if err != nil {
		m.warn("list artifacts failed", projectID, agentName, err)
		return nil
	}
	if agentName == "" {
		return recs
	}
	out := recs[:0:0]
	for _, r := range recs {
		if r.AgentName == agentName {
			out = append(out, r)
		}
	}
	return out
}

// DeleteArtifact removes an artifact.
func (m *Manager) DeleteArtifact(ctx context.Context, id string) {
	if err := m.stores.Artifacts.DeleteArtifact(ctx, id); err != nil {
		m.warn("delete artifact failed", "", "", fmt.Errorf("%s: %w", id, err))
	}
}

// OffloadLargeData serializes data as indented JSON and stores it as an artifact
// when it spans more than thresholdLines lines. It reports false when data stays inline.
func (m *Manager) OffloadLargeData(ctx context.Context, projectID, agentName string, data any, thresholdLines int) (string, bool) {
	payload, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		m.warn("offload serialization failed", projectID, agentName, err)
		return "", false
	}
	lines := strings.Count(string(payload), "\n") + 1
	if lines <= thresholdLines {
		return "", false
	}
	id := m.StoreArtifact(ctx, projectID, agentName, artifactTypeOutput, payload)
	if id == "" {
		return "", false
	}
	m.logger.Debug("offloaded agent output", "project_id", projectID, "agent", agentName,
		"artifact_id", id, "lines", lines)
	return id, true
}

// PrepareContextData gathers the bundle handed to the context compiler.
func (m *Manager) PrepareContextData(ctx context.Context, projectID, agentName string) ContextBundle {
	bundle := ContextBundle{
		WorkingState:   m.GetWorkingContext(ctx, projectID, agentName),
		SessionSummary: m.SummarizeSession(ctx, projectID, SummaryWindow),
		LongTerm:       m.GetPersistent(ctx, projectID),
	}
	for _, rec := range m.ListArtifacts(ctx, projectID, agentName) {
		if len(bundle.ArtifactIDs) == MaxArtifactRefs {
			break
		}
		bundle.ArtifactIDs = append(bundle.ArtifactIDs, rec.ID)
	}
	return bundle
}
