package workflow_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/aretw0/forge/pkg/workflow"
	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestBlackboard_ConcurrentWrites(t *testing.T) {
	bb := workflow.NewBlackboard(map[string]any{"seed": 1})
	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bb.Set(fmt.Sprintf("k%d", i), i)
			bb.Merge(map[string]any{"shared": i})
		}()
	}
	wg.Wait()

	snap := bb.Snapshot()
	assert.Len(t, snap, 18)
	assert.Equal(t, 1, snap["seed"])

	snap["seed"] = 2
	v, _ := bb.Get("seed")
	assert.Equal(t, 1, v, "snapshot must not alias the blackboard")
}

func TestConsensus(t *testing.T) {
	tests := []struct {
		name      string
		scores    map[string]int
		consensus bool
		passed    bool
	}{
		{"none", nil, false, false},
		{"single judge", map[string]int{"a": 95}, false, false},
		{"agreeing high", map[string]int{"a": 90, "b": 86}, true, true},
		{"agreeing low", map[string]int{"a": 70, "b": 72}, true, false},
		{"wide spread", map[string]int{"a": 99, "b": 80}, false, false},
		{"spread at limit", map[string]int{"a": 100, "b": 85}, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := workflow.Consensus(tt.scores, workflow.ReviewPassMean, workflow.ReviewMaxSpread)
			assert.Equal(t, tt.consensus, s.Consensus)
			assert.Equal(t, tt.passed, s.Passed)
		})
	}
}

func TestConsensus_PassedImpliesThresholds(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		raw := rapid.SliceOfN(rapid.IntRange(0, 100), 0, 5).Draw(t, "scores")
		scores := make(map[string]int, len(raw))
		for i, v := range raw {
			scores[fmt.Sprintf("judge%d", i)] = v
		}
		s := workflow.Consensus(scores, workflow.ReviewPassMean, workflow.ReviewMaxSpread)
		if s.Passed {
			if s.Mean < workflow.ReviewPassMean || s.Spread > workflow.ReviewMaxSpread || len(s.Scores) < 2 {
				t.Fatalf("passed with mean %.1f spread %d over %d scores", s.Mean, s.Spread, len(s.Scores))
			}
		}
	})
}
