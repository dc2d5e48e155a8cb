package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aretw0/forge/pkg/domain"
	"github.com/google/uuid"
)

// Persister implements ports.ResultPersister by writing one JSON file per result
// under <BasePath>/<projectID>/.
type Persister struct {
	BasePath string
}

// NewPersister creates a persister rooted at basePath, defaulting to ".forge/results".
func NewPersister(basePath string) *Persister {
	if basePath == "" {
		basePath = filepath.Join(".forge", "results")
	}
	return &Persister{BasePath: basePath}
}

// Create writes the record and returns its id.
func (p *Persister) Create(ctx context.Context, record domain.ResultRecord) (string, error) {
	if record.ProjectID == "" {
		return "", fmt.Errorf("projectID cannot be empty")
	}
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal result: %w", err)
	}
	id := uuid.NewString()
	if err := writeAtomic(filepath.Join(p.BasePath, record.ProjectID), id, data); err != nil {
		return "", err
	}
	return id, nil
}

// Load reads a persisted result.
func (p *Persister) Load(projectID, id string) (domain.ResultRecord, error) {
	var rec domain.ResultRecord
	data, err := os.ReadFile(filepath.Join(p.BasePath, projectID, id+".json"))
	if err != nil {
		return rec, fmt.Errorf("failed to read result: %w", err)
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, fmt.Errorf("failed to unmarshal result: %w", err)
	}
	return rec, nil
}

// List returns the result ids persisted for a project.
func (p *Persister) List(projectID string) ([]string, error) {
	return listJSON(filepath.Join(p.BasePath, projectID))
}
