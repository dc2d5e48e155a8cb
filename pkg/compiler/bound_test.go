package compiler_test

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/aretw0/forge/pkg/compiler"
	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestBound_Apply(t *testing.T) {
	b := compiler.Bound{MaxString: 5, MaxArray: 2}
	got := b.Apply(map[string]any{
		"name":  "abcdefgh",
		"items": []string{"a", "b", "c", "d"},
		"n":     3,
	})

	assert.Equal(t, map[string]any{
		"name":  "abcde…[truncated 3 chars]",
		"items": []any{"a", "b", "…[2 more items]"},
		"n":     3,
	}, got)
}

func TestBound_Struct(t *testing.T) {
	type line struct {
		Description string `json:"description"`
	}
	b := compiler.Bound{MaxString: 3}
	got := b.Apply([]line{{Description: "concrete"}})
	assert.Equal(t, []any{map[string]any{"description": "con…[truncated 5 chars]"}}, got)
}

func TestBound_Properties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		maxString := rapid.IntRange(1, 50).Draw(t, "maxString")
		maxArray := rapid.IntRange(1, 10).Draw(t, "maxArray")
		b := compiler.Bound{MaxString: maxString, MaxArray: maxArray}

		s := rapid.String().Draw(t, "s")
		got := b.Truncate(s)
		if utf8.RuneCountInString(s) <= maxString {
			if got != s {
				t.Fatalf("short string changed: %q -> %q", s, got)
			}
		} else if !strings.HasPrefix(got, string([]rune(s)[:maxString])) || !strings.Contains(got, "…[truncated ") {
			t.Fatalf("bad truncation of %q: %q", s, got)
		}
		if b.Truncate(s) != got {
			t.Fatalf("truncation not deterministic")
		}

		items := rapid.SliceOf(rapid.Int()).Draw(t, "items")
		bounded, _ := b.Apply(items).([]any)
		if len(items) > maxArray && len(bounded) != maxArray+1 {
			t.Fatalf("expected %d sampled items plus marker, got %d", maxArray, len(bounded))
		}
		if len(items) <= maxArray && len(bounded) != len(items) {
			t.Fatalf("short slice changed length: %d -> %d", len(items), len(bounded))
		}
	})
}
