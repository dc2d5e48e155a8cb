package memory_test

import (
	"context"
	"testing"

	"github.com/aretw0/forge/pkg/adapters/memory"
	"github.com/aretw0/forge/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearcher(t *testing.T) {
	s := memory.NewSearcher()
	s.Add("p1", "spec.md", "Steel beams grade S355 required.\n\nDelivery within 30 days.\n\nConcrete class C30/37.")
	s.Add("p2", "other.md", "Steel beams grade S235.")
	assert.Equal(t, 3, s.Len("p1"))

	hits, err := s.Search(context.Background(), "steel grade S355", "p1", ports.SearchOptions{Limit: 5})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "spec.md", hits[0].SourceID)
	assert.Equal(t, 1.0, hits[0].Score)

	hits, err = s.Search(context.Background(), "steel delivery days", "p1", ports.SearchOptions{Limit: 1, ScoreThreshold: 0.3})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Contains(t, hits[0].Content, "Delivery")

	hits, err = s.Search(context.Background(), "timber", "p1", ports.SearchOptions{})
	require.NoError(t, err)
	assert.Empty(t, hits)

	hits, err = s.Search(context.Background(), "S355", "unknown", ports.SearchOptions{})
	require.NoError(t, err)
	assert.Empty(t, hits)
}
