// Package tests provides reusable contract suites that every adapter of the
// ports package runs against its own implementation.
package tests

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/aretw0/forge/pkg/domain"
	"github.com/aretw0/forge/pkg/ports"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunWorkflowStoreContract verifies that a WorkflowStore implementation
// adheres to the defined interface contract.
func RunWorkflowStoreContract(t *testing.T, store ports.WorkflowStore) {
	t.Helper()
	ctx := context.Background()
	projectID := "contract-project-" + time.Now().Format("20060102150405")

	t.Run("Save and Load", func(t *testing.T) {
		state := domain.NewWorkflowState(projectID, "user-1")
		state.CurrentPhase = domain.PhaseEnrichment
		state.OutputsByAgent["intake"] = domain.AgentResult{Success: true, Data: map[string]any{"documents": "3"}}
		state.Blackboard["foo"] = "bar"

		require.NoError(t, store.Save(ctx, state))

		loaded, err := store.Load(ctx, projectID)
		require.NoError(t, err)
		assert.Equal(t, domain.PhaseEnrichment, loaded.CurrentPhase)
		assert.Equal(t, "user-1", loaded.UserID)
		assert.True(t, loaded.OutputsByAgent["intake"].Success)
		assert.Equal(t, "bar", loaded.Blackboard["foo"])
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := store.Load(ctx, "non-existent-"+projectID)
		assert.ErrorIs(t, err, domain.ErrWorkflowNotFound)
	})

	t.Run("Update", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, domain.NewWorkflowState(projectID, "user-1")))

		err := store.Update(ctx, projectID, func(s *domain.WorkflowState) error {
			s.CancelRequested = true
			return nil
		})
		require.NoError(t, err)

		loaded, err := store.Load(ctx, projectID)
		require.NoError(t, err)
		assert.True(t, loaded.CancelRequested)

		err = store.Update(ctx, "non-existent-"+projectID, func(*domain.WorkflowState) error { return nil })
		assert.ErrorIs(t, err, domain.ErrWorkflowNotFound)
	})

	t.Run("Update Error Leaves State", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, domain.NewWorkflowState(projectID, "user-1")))
		boom := fmt.Errorf("boom")
		err := store.Update(ctx, projectID, func(s *domain.WorkflowState) error {
			s.CancelRequested = true
			return boom
		})
		assert.ErrorIs(t, err, boom)

		loaded, err := store.Load(ctx, projectID)
		require.NoError(t, err)
		assert.False(t, loaded.CancelRequested)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, domain.NewWorkflowState(projectID, "user-1")))
		require.NoError(t, store.Delete(ctx, projectID))

		_, err := store.Load(ctx, projectID)
		assert.ErrorIs(t, err, domain.ErrWorkflowNotFound, "Load after Delete should return ErrWorkflowNotFound")
	})

	t.Run("List", func(t *testing.T) {
		id1 := projectID + "-1"
		id2 := projectID + "-2"
		require.NoError(t, store.Save(ctx, domain.NewWorkflowState(id1, "u")))
		require.NoError(t, store.Save(ctx, domain.NewWorkflowState(id2, "u")))
		defer func() {
			_ = store.Delete(ctx, id1)
			_ = store.Delete(ctx, id2)
		}()

		ids, err := store.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, ids, id1)
		assert.Contains(t, ids, id2)
	})
}

// RunArtifactStoreContract verifies an ArtifactStore implementation.
func RunArtifactStoreContract(t *testing.T, store ports.ArtifactStore) {
	t.Helper()
	ctx := context.Background()
	projectID := "artifact-project-" + uuid.NewString()

	newRecord := func(created time.Time) domain.ArtifactRecord {
		return domain.ArtifactRecord{
			ID:        uuid.NewString(),
			Type:      "agent_output",
			ProjectID: projectID,
			AgentName: "generation",
			CreatedAt: created,
		}
	}

	t.Run("Put and Get", func(t *testing.T) {
		rec := newRecord(time.Now())
		payload := []byte(`{"bid":"draft"}`)
		rec.Size = len(payload)
		require.NoError(t, store.PutArtifact(ctx, rec, payload))

		got, data, err := store.GetArtifact(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, payload, data)
		assert.Equal(t, rec.ID, got.ID)
		assert.Equal(t, 1, got.AccessCount)

		got, _, err = store.GetArtifact(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, got.AccessCount)
	})

	t.Run("Get Non-Existent", func(t *testing.T) {
		_, _, err := store.GetArtifact(ctx, uuid.NewString())
		assert.ErrorIs(t, err, domain.ErrArtifactNotFound)
	})

	t.Run("Earlier Artifact Survives Later Store", func(t *testing.T) {
		first := newRecord(time.Now())
		require.NoError(t, store.PutArtifact(ctx, first, []byte("first")))
		second := newRecord(time.Now())
		require.NoError(t, store.PutArtifact(ctx, second, []byte("second")))

		_, data, err := store.GetArtifact(ctx, first.ID)
		require.NoError(t, err)
		assert.Equal(t, "first", string(data))
	})

	t.Run("List Newest First", func(t *testing.T) {
		base := time.Now().Add(time.Hour)
		older := newRecord(base)
		newer := newRecord(base.Add(time.Minute))
		require.NoError(t, store.PutArtifact(ctx, older, []byte("a")))
		require.NoError(t, store.PutArtifact(ctx, newer, []byte("b")))

		recs, err := store.ListArtifacts(ctx, projectID)
		require.NoError(t, err)
		require.GreaterOrEqual(t, len(recs), 2)
		assert.Equal(t, newer.ID, recs[0].ID)
		assert.Equal(t, older.ID, recs[1].ID)
	})

	t.Run("Delete", func(t *testing.T) {
		rec := newRecord(time.Now())
		require.NoError(t, store.PutArtifact(ctx, rec, []byte("x")))
		require.NoError(t, store.DeleteArtifact(ctx, rec.ID))
		_, _, err := store.GetArtifact(ctx, rec.ID)
		assert.ErrorIs(t, err, domain.ErrArtifactNotFound)
	})
}

// MemoryTiers groups the non-artifact memory ports an adapter provides.
type MemoryTiers interface {
	ports.WorkingContextStore
	ports.SessionLog
	ports.PersistentMemory
}

// RunMemoryContract verifies the working context, session log and persistent memory tiers.
func RunMemoryContract(t *testing.T, store MemoryTiers) {
	t.Helper()
	ctx := context.Background()
	projectID := "memory-project-" + uuid.NewString()

	t.Run("Working Context Lifecycle", func(t *testing.T) {
		rec, err := store.GetWorkingContext(ctx, projectID, "intake")
		require.NoError(t, err)
		assert.Nil(t, rec)

		require.NoError(t, store.SetWorkingContext(ctx, domain.WorkingContextRecord{
			AgentName:    "intake",
			ProjectID:    projectID,
			CurrentState: map[string]any{"step": "start"},
			Timestamp:    time.Now(),
		}))
		rec, err = store.GetWorkingContext(ctx, projectID, "intake")
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Equal(t, "start", rec.CurrentState["step"])

		other, err := store.GetWorkingContext(ctx, projectID, "decision")
		require.NoError(t, err)
		assert.Nil(t, other)

		require.NoError(t, store.DeleteWorkingContext(ctx, projectID, "intake"))
		rec, err = store.GetWorkingContext(ctx, projectID, "intake")
		require.NoError(t, err)
		assert.Nil(t, rec)
	})

	t.Run("Session Log Window", func(t *testing.T) {
		for i := 0; i < 7; i++ {
			require.NoError(t, store.AppendSession(ctx, projectID, domain.SessionLogEntry{
				AgentName: fmt.Sprintf("agent-%d", i),
				Action:    "execute",
				Status:    domain.SessionSuccess,
				Timestamp: time.Now(),
			}))
		}
		entries, err := store.RecentSessions(ctx, projectID, 5)
		require.NoError(t, err)
		require.Len(t, entries, 5)
		assert.Equal(t, "agent-2", entries[0].AgentName)
		assert.Equal(t, "agent-6", entries[4].AgentName)
	})

	t.Run("Persistent Memory", func(t *testing.T) {
		mem, err := store.GetMemory(ctx, projectID)
		require.NoError(t, err)
		assert.Nil(t, mem)

		require.NoError(t, store.SetMemory(ctx, domain.ProjectMemory{
			ProjectID: projectID,
			Facts:     map[string]any{"region": "north"},
			Insights:  []string{"prefers concrete grade C30"},
			UpdatedAt: time.Now(),
		}))
		mem, err = store.GetMemory(ctx, projectID)
		require.NoError(t, err)
		require.NotNil(t, mem)
		assert.Equal(t, "north", mem.Facts["region"])
		assert.Equal(t, []string{"prefers concrete grade C30"}, mem.Insights)
	})
}
