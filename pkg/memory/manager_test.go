package memory_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/aretw0/forge/pkg/domain"
	"github.com/aretw0/forge/pkg/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func bigPayload(lines int) map[string]any {
	items := make([]string, lines)
	for i := range items {
		items[i] = fmt.Sprintf("line item %d", i)
	}
	return map[string]any{"items": items}
}

func TestManager_WorkingContextLifecycle(t *testing.T) {
	ctx := context.Background()
	m := memory.New(memory.InMemoryStores())

	m.SetWorkingContext(ctx, "p1", "intake", map[string]any{"a": 1})
	m.UpdateWorkingContext(ctx, "p1", "intake", map[string]any{"b": 2})
	assert.Equal(t, map[string]any{"a": 1, "b": 2}, m.GetWorkingContext(ctx, "p1", "intake"))

	m.ClearWorkingContext(ctx, "p1", "intake")
	assert.Nil(t, m.GetWorkingContext(ctx, "p1", "intake"))
}

func TestManager_SummarizeSession(t *testing.T) {
	ctx := context.Background()
	m := memory.New(memory.InMemoryStores())

	assert.Equal(t, "No previous activity.", m.SummarizeSession(ctx, "p1", 5))

	for i := 0; i < 7; i++ {
		m.AppendSession(ctx, "p1", domain.SessionLogEntry{
			AgentName: fmt.Sprintf("agent-%d", i),
			Action:    "execute",
			Summary:   "ok",
			Status:    domain.SessionSuccess,
		})
	}
	summary := m.SummarizeSession(ctx, "p1", memory.SummaryWindow)
	lines := strings.Split(summary, "\n")
	require.Len(t, lines, 5)
	assert.True(t, strings.HasPrefix(lines[0], "- [success] agent-2 execute: ok"))
	assert.Contains(t, lines[4], "agent-6")
}

func TestManager_Insights(t *testing.T) {
	ctx := context.Background()
	m := memory.New(memory.InMemoryStores(), memory.WithMaxInsights(2))

	m.AddInsight(ctx, "p1", "first")
	m.AddInsight(ctx, "p1", "first")
	m.AddInsight(ctx, "p1", "second")
	m.AddInsight(ctx, "p1", "third")
	m.SetPersistent(ctx, "p1", map[string]any{"region": "north"})

	mem := m.GetPersistent(ctx, "p1")
	require.NotNil(t, mem)
	assert.Equal(t, []string{"second", "third"}, mem.Insights)
	assert.Equal(t, "north", mem.Facts["region"])
}

func TestManager_OffloadLargeData(t *testing.T) {
	ctx := context.Background()
	m := memory.New(memory.InMemoryStores())

	_, ok := m.OffloadLargeData(ctx, "p1", "generation", map[string]any{"small": true}, 200)
	assert.False(t, ok)

	id, ok := m.OffloadLargeData(ctx, "p1", "generation", bigPayload(300), 200)
	require.True(t, ok)

	rec, payload, found := m.RetrieveArtifact(ctx, id)
	require.True(t, found)
	assert.Equal(t, "generation", rec.AgentName)
	assert.Equal(t, len(payload), rec.Size)
	assert.Len(t, rec.ContentHash, 64)
	assert.Contains(t, string(payload), "line item 299")
}

func TestManager_OffloadIDsNeverReused(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ctx := context.Background()
		m := memory.New(memory.InMemoryStores())
		n := rapid.IntRange(1, 20).Draw(t, "n")

		seen := make(map[string]string)
		for i := 0; i < n; i++ {
			lines := rapid.IntRange(5, 40).Draw(t, "lines")
			id, ok := m.OffloadLargeData(ctx, "p", "agent", bigPayload(lines), 3)
			if !ok {
				t.Fatalf("payload of %d lines was not offloaded", lines)
			}
			if _, dup := seen[id]; dup {
				t.Fatalf("artifact id %s reused", id)
			}
			_, payload, _ := m.RetrieveArtifact(ctx, id)
			seen[id] = string(payload)
		}
		for id, want := range seen {
			_, payload, found := m.RetrieveArtifact(ctx, id)
			if !found || string(payload) != want {
				t.Fatalf("artifact %s not retrievable after later stores", id)
			}
		}
	})
}

func TestManager_PrepareContextData(t *testing.T) {
	ctx := context.Background()
	m := memory.New(memory.InMemoryStores())

	for i := 0; i < 7; i++ {
		_, ok := m.OffloadLargeData(ctx, "p1", "generation", bigPayload(10), 1)
		require.True(t, ok)
	}
	m.OffloadLargeData(ctx, "p1", "review", bigPayload(10), 1)
	m.SetWorkingContext(ctx, "p1", "generation", map[string]any{"draft": "v1"})
	m.AddInsight(ctx, "p1", "client prefers fixed price")

	bundle := m.PrepareContextData(ctx, "p1", "generation")
	assert.Len(t, bundle.ArtifactIDs, memory.MaxArtifactRefs)
	assert.Equal(t, "v1", bundle.WorkingState["draft"])
	require.NotNil(t, bundle.LongTerm)
	assert.Equal(t, []string{"client prefers fixed price"}, bundle.LongTerm.Insights)
}

type failingTiers struct{}

var errBackend = errors.New("backend down")

func (failingTiers) SetWorkingContext(context.Context, domain.WorkingContextRecord) error {
	return errBackend
}
func (failingTiers) GetWorkingContext(context.Context, string, string) (*domain.WorkingContextRecord, error) {
	return nil, errBackend
}
func (failingTiers) DeleteWorkingContext(context.Context, string, string) error { return errBackend }
func (failingTiers) AppendSession(context.Context, string, domain.SessionLogEntry) error {
	return errBackend
}
func (failingTiers) RecentSessions(context.Context, string, int) ([]domain.SessionLogEntry, error) {
	return nil, errBackend
}
func (failingTiers) GetMemory(context.Context, string) (*domain.ProjectMemory, error) {
	return nil, errBackend
}
func (failingTiers) SetMemory(context.Context, domain.ProjectMemory) error { return errBackend }
func (failingTiers) PutArtifact(context.Context, domain.ArtifactRecord, []byte) error {
	return errBackend
}
func (failingTiers) GetArtifact(context.Context, string) (domain.ArtifactRecord, []byte, error) {
	return domain.ArtifactRecord{}, nil, errBackend
}
func (failingTiers) ListArtifacts(context.Context, string) ([]domain.ArtifactRecord, error) {
	return nil, errBackend
}
func (failingTiers) DeleteArtifact(context.Context, string) error { return errBackend }

func TestManager_FailuresAreSwallowed(t *testing.T) {
	ctx := context.Background()
	f := failingTiers{}
	m := memory.New(memory.Stores{Working: f, Sessions: f, Persistent: f, Artifacts: f})

	assert.NotPanics(t, func() {
		m.SetWorkingContext(ctx, "p", "a", map[string]any{"x": 1})
		m.AppendSession(ctx, "p", domain.SessionLogEntry{AgentName: "a"})
		m.AddInsight(ctx, "p", "insight")
		m.ClearWorkingContext(ctx, "p", "a")
	})
	_, ok := m.OffloadLargeData(ctx, "p", "a", bigPayload(50), 1)
	assert.False(t, ok)

	bundle := m.PrepareContextData(ctx, "p", "a")
	assert.Nil(t, bundle.WorkingState)
	assert.Empty(t, bundle.ArtifactIDs)
	assert.Equal(t, "No previous activity.", bundle.SessionSummary)
}
