package file_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/aretw0/forge/pkg/adapters/file"
	"github.com/aretw0/forge/pkg/domain"
	"github.com/aretw0/forge/pkg/ports/tests"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_Contract(t *testing.T) {
	tests.RunWorkflowStoreContract(t, file.New(t.TempDir()))
}

func TestFileStore_NoTempLeftovers(t *testing.T) {
	dir := t.TempDir()
	store := file.New(dir)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, store.Save(ctx, domain.NewWorkflowState("bid-1", "u")))
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "bid-1.json", entries[0].Name())
}

func TestFileStore_CorruptFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.json"), []byte("{not json"), 0644))

	_, err := file.New(dir).Load(context.Background(), "bad")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrWorkflowNotFound)
}

func TestFilePersister_CreateAndLoad(t *testing.T) {
	p := file.NewPersister(t.TempDir())

	id, err := p.Create(context.Background(), domain.ResultRecord{
		ProjectID: "bid-1",
		AgentName: "generation",
		Content:   map[string]any{"title": "Bid"},
		Score:     90,
	})
	require.NoError(t, err)

	rec, err := p.Load("bid-1", id)
	require.NoError(t, err)
	assert.Equal(t, 90, rec.Score)
	assert.Equal(t, "Bid", rec.Content["title"])

	ids, err := p.List("bid-1")
	require.NoError(t, err)
	assert.Equal(t, []string{id}, ids)
}
