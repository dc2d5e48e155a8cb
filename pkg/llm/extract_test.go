package llm_test

import (
	"testing"

	"github.com/aretw0/forge/pkg/domain"
	"github.com/aretw0/forge/pkg/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	cases := []struct {
		name  string
		reply string
		want  string
	}{
		{"plain object", `{"a":1}`, `{"a":1}`},
		{"fenced", "```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"prose around", `Sure! Here it is: {"score": 80, "ok": true} hope that helps`, `{"score": 80, "ok": true}`},
		{"array", `result: [1,2,3].`, `[1,2,3]`},
		{"skips broken", `{broken {"a":2}`, `{"a":2}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			raw, err := llm.ExtractJSON(tc.reply)
			require.NoError(t, err)
			assert.JSONEq(t, tc.want, string(raw))
		})
	}

	_, err := llm.ExtractJSON("no json here")
	assert.ErrorIs(t, err, llm.ErrNoJSON)
}

func TestDecode_WeakTyping(t *testing.T) {
	var ev domain.Evaluation
	err := llm.Decode(`{"accepted": "true", "score": "85", "reasoning": "solid", "improvements": ["add dates"]}`, &ev)
	require.NoError(t, err)
	assert.True(t, ev.Accepted)
	assert.Equal(t, 85, ev.Score)
	assert.Equal(t, []string{"add dates"}, ev.Improvements)
}

func TestExtractObject_WrapsArray(t *testing.T) {
	obj, err := llm.ExtractObject(`[{"x":1}]`)
	require.NoError(t, err)
	assert.Len(t, obj["items"], 1)
}
