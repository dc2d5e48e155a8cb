package memory_test

import (
	"context"
	"testing"

	"github.com/aretw0/forge/pkg/adapters/memory"
	"github.com/aretw0/forge/pkg/domain"
	"github.com/aretw0/forge/pkg/ports/tests"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_Contract(t *testing.T) {
	tests.RunWorkflowStoreContract(t, memory.NewStore())
}

func TestMemoryTiers_Contract(t *testing.T) {
	tiers := memory.NewTiers()
	tests.RunMemoryContract(t, tiers)
	tests.RunArtifactStoreContract(t, tiers)
}

func TestPersister_Create(t *testing.T) {
	p := memory.NewPersister()
	id1, err := p.Create(context.Background(), domain.ResultRecord{ProjectID: "p1"})
	require.NoError(t, err)
	id2, err := p.Create(context.Background(), domain.ResultRecord{ProjectID: "p1"})
	require.NoError(t, err)

	assert.NotEqual(t, id1, id2)
	assert.Equal(t, 2, p.Len())
	rec, ok := p.Get(id1)
	assert.True(t, ok)
	assert.Equal(t, "p1", rec.ProjectID)
}
