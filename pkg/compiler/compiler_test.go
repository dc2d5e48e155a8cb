package compiler_test

import (
	"strings"
	"testing"

	"github.com/aretw0/forge/pkg/compiler"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompile_Deterministic(t *testing.T) {
	c := compiler.MustNew()
	wc := map[string]any{
		"zeta":  1,
		"alpha": "first",
		"nested": map[string]any{
			"b": true,
			"a": []any{"x", "y"},
		},
	}

	first, err := c.Compile("generation", "p1", wc, "- [success] intake execute (1s)", []string{"a1", "a2"})
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := c.Compile("generation", "p1", wc, "- [success] intake execute (1s)", []string{"a1", "a2"})
		require.NoError(t, err)
		if diff := cmp.Diff(first, again); diff != "" {
			t.Fatalf("compile not deterministic (-first +again):\n%s", diff)
		}
	}

	assert.Contains(t, first.DynamicUserPrompt, "alpha: first\nnested.a: [\"x\",\"y\"]\nnested.b: true\nzeta: 1")
	assert.Contains(t, first.DynamicUserPrompt, "[artifact:a1] [artifact:a2]")
	assert.Equal(t, []string{"[artifact:a1]", "[artifact:a2]"}, first.ArtifactReferences)
	assert.Equal(t, "generation", first.Metadata["template"])
}

func TestCompile_StaticPromptIgnoresRunData(t *testing.T) {
	c := compiler.MustNew()
	a, err := c.Compile("decision", "p1", map[string]any{"k": "v"}, "one", nil)
	require.NoError(t, err)
	b, err := c.Compile("decision", "p2", map[string]any{"other": 3}, "two", []string{"z"})
	require.NoError(t, err)

	assert.Equal(t, a.StaticSystemPrompt, b.StaticSystemPrompt)
	assert.NotEqual(t, a.DynamicUserPrompt, b.DynamicUserPrompt)
}

func TestCompile_TruncatesLongStrings(t *testing.T) {
	c := compiler.MustNew()
	long := strings.Repeat("a", 250)

	out, err := c.Compile("intake", "p1", map[string]any{"text": long}, "", nil)
	require.NoError(t, err)

	assert.Contains(t, out.DynamicUserPrompt, "text: "+strings.Repeat("a", 200)+"…[truncated 50 chars]")
	assert.NotContains(t, out.DynamicUserPrompt, strings.Repeat("a", 201))
}

func TestCompile_GenericFallback(t *testing.T) {
	c := compiler.MustNew()
	out, err := c.Compile("unknown_agent", "p1", nil, "", nil)
	require.NoError(t, err)

	assert.Equal(t, compiler.GenericAgent, out.Metadata["template"])
	assert.Contains(t, out.StaticSystemPrompt, "You are the unknown_agent step")
	assert.Contains(t, out.DynamicUserPrompt, "(empty)")
}

func TestCompile_RegisterRow(t *testing.T) {
	c := compiler.MustNew()
	require.NoError(t, c.Register("pricing", compiler.Template{
		System: "Price the bid.",
		User:   "{{.ProjectID}}|{{.Context}}",
	}))

	out, err := c.Compile("pricing", "p9", map[string]any{"qty": 3}, "", nil)
	require.NoError(t, err)
	want := compiler.Output{
		StaticSystemPrompt: "Price the bid.",
		DynamicUserPrompt:  "p9|qty: 3",
		Metadata: map[string]string{
			"agent":        "pricing",
			"project_id":   "p9",
			"template":     "pricing",
			"context_keys": "1",
			"artifacts":    "0",
		},
		ArtifactReferences: []string{},
	}
	if diff := cmp.Diff(want, out); diff != "" {
		t.Errorf("unexpected output (-want +got):\n%s", diff)
	}

	err = c.Register("broken", compiler.Template{System: "{{.Unclosed"})
	assert.Error(t, err)
}
