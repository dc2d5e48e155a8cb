package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	fileadapter "github.com/aretw0/forge/pkg/adapters/file"
	"github.com/aretw0/forge/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGraph_OverlaysCheckpoint(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "forge.yaml")
	yaml := "store:\n  driver: file\n  path: " + dir + "\n" +
		"corpus_dir: " + filepath.Join(dir, "corpus") + "\n" +
		"backends:\n  - name: local\n    base_url: http://127.0.0.1:1/v1\n    model: test\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(yaml), 0o644))

	st := domain.NewWorkflowState("p1", "u1")
	require.NoError(t, st.Transition(domain.StatusRunning))
	st.CurrentPhase = domain.PhaseDecision
	st.OutputsByAgent["intake"] = domain.AgentResult{Success: true}
	require.NoError(t, fileadapter.New(filepath.Join(dir, "workflows")).Save(context.Background(), st))

	out := execute(t, "graph", "--config", cfgPath, "--project", "p1")
	assert.Contains(t, out, "graph TD")
	assert.Contains(t, out, "review_local")
	assert.Contains(t, out, "class intake visited;")
	assert.Contains(t, out, "class phase_decision current;")
}
