package ports

import (
	"context"

	"github.com/aretw0/forge/pkg/domain"
)

// SearchOptions bounds a document search.
type SearchOptions struct {
	Limit          int
	ScoreThreshold float64
}

// DocumentSearcher returns ranked source excerpts for a query within a project.
// It is used exclusively by grounding verification.
type DocumentSearcher interface {
	Search(ctx context.Context, query, projectID string, opts SearchOptions) ([]domain.SourceExcerpt, error)
}
