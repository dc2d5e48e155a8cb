package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/aretw0/forge/pkg/domain"
)

// Store implements ports.WorkflowStore using the local filesystem.
// It stores one JSON file per project in a configured directory.
type Store struct {
	BasePath string

	// mu serialises read-modify-write cycles within this process.
	mu sync.Mutex
}

// New creates a new Store with the given base path.
// If basePath is empty, it defaults to ".forge/workflows".
func New(basePath string) *Store {
	if basePath == "" {
		basePath = filepath.Join(".forge", "workflows")
	}
	return &Store{BasePath: basePath}
}

func (s *Store) path(projectID string) string {
	return filepath.Join(s.BasePath, projectID+".json")
}

// Save persists the workflow state to a JSON file atomically.
func (s *Store) Save(ctx context.Context, state *domain.WorkflowState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(state)
}

func (s *Store) save(state *domain.WorkflowState) error {
	if state.ProjectID == "" {
		return fmt.Errorf("projectID cannot be empty")
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal workflow state: %w", err)
	}
	return writeAtomic(s.BasePath, state.ProjectID, data)
}

// writeAtomic writes to a temp file in dir, fsyncs it and renames it over name.json.
func writeAtomic(dir, name string, data []byte) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to ensure directory: %w", err)
	}
	destPath := filepath.Join(dir, name+".json")

	// Same directory keeps the rename on one filesystem.
	tmpFile, err := os.CreateTemp(dir, "tmp-"+name+"-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("failed to write to temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("failed to fsync temp file: %w", err)
	}
	// Windows cannot rename an open file.
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	// os.Rename fails on Windows when dest exists.
	if _, err := os.Stat(destPath); err == nil {
		if err := os.Remove(destPath); err != nil {
			return fmt.Errorf("failed to remove existing file for overwrite: %w", err)
		}
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// Load retrieves the workflow state from its JSON file.
func (s *Store) Load(ctx context.Context, projectID string) (*domain.WorkflowState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(projectID)
}

func (s *Store) load(projectID string) (*domain.WorkflowState, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID cannot be empty")
	}
	data, err := os.ReadFile(s.path(projectID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, domain.ErrWorkflowNotFound
		}
		return nil, fmt.Errorf("failed to read workflow file: %w", err)
	}

	var state domain.WorkflowState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow state: %w", err)
	}
	if state.OutputsByAgent == nil {
		state.OutputsByAgent = make(map[string]domain.AgentResult)
	}
	if state.Blackboard == nil {
		state.Blackboard = make(map[string]any)
	}
	return &state, nil
}

// Update loads, mutates and saves the state while holding the store lock.
func (s *Store) Update(ctx context.Context, projectID string, fn func(*domain.WorkflowState) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.load(projectID)
	if err != nil {
		return err
	}
	if err := fn(state); err != nil {
		return err
	}
	return s.save(state)
}

// Delete removes the workflow file.
func (s *Store) Delete(ctx context.Context, projectID string) error {
	if projectID == "" {
		return fmt.Errorf("projectID cannot be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path(projectID))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete workflow file: %w", err)
	}
	return nil
}

// List returns all stored project IDs.
func (s *Store) List(ctx context.Context) ([]string, error) {
	return listJSON(s.BasePath)
}

func listJSON(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	var ids []string
	for _, entry := range entries {
		if !entry.IsDir() && filepath.Ext(entry.Name()) == ".json" {
			ids = append(ids, strings.TrimSuffix(entry.Name(), ".json"))
		}
	}
	sort.Strings(ids)
	return ids, nil
}
