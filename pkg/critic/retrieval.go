package critic

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/aretw0/forge/pkg/domain"
	"github.com/aretw0/forge/pkg/ports"
)

var errNoSearcher = errors.New("no document search configured")

// retrieveSources runs the key-phrase and summary queries, then a broad fallback
// when both return nothing. Results are deduplicated by source and content.
func (c *Controller) retrieveSources(ctx context.Context, projectID, agentName string, result domain.AgentResult) ([]domain.SourceExcerpt, error) {
	if c.searcher == nil {
		return nil, errNoSearcher
	}
	text := resultText(result)

	var (
		out    []domain.SourceExcerpt
		seen   = make(map[string]bool)
		errs   []error
		primed = ports.SearchOptions{Limit: c.retrieval.Limit, ScoreThreshold: c.retrieval.ScoreThreshold}
	)
	run := func(query string, opts ports.SearchOptions) {
		if strings.TrimSpace(query) == "" {
			return
		}
		hits, err := c.searcher.Search(ctx, query, projectID, opts)
		if err != nil {
			for _, e := range errs {
				if e.Error() == err.Error() {
					return
				}
			}
			errs = append(errs, err)
			return
		}
		for _, h := range hits {
			key := h.SourceID + "\x00" + h.Content
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, h)
		}
	}

	run(strings.Join(KeyPhrases(text, c.retrieval.MaxKeyPhrases), " "), primed)
	run(summaryQuery(result, text), primed)
	if len(out) == 0 {
		run(agentName+" project requirements", ports.SearchOptions{
			Limit:          c.retrieval.Limit,
			ScoreThreshold: c.retrieval.FallbackThreshold,
		})
	}

	if len(out) == 0 && len(errs) > 0 {
		if len(errs) == 1 {
			return nil, fmt.Errorf("document search failed: %w", errs[0])
		}
		return nil, fmt.Errorf("document search failed: %w", errors.Join(errs...))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}

// KeyPhrases returns up to n of the most frequent words longer than four letters.
// Ties keep first-occurrence order.
func KeyPhrases(text string, n int) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	counts := make(map[string]int)
	var order []string
	for _, w := range words {
		if len([]rune(w)) <= 4 {
			continue
		}
		if counts[w] == 0 {
			order = append(order, w)
		}
		counts[w]++
	}
	sort.SliceStable(order, func(i, j int) bool { return counts[order[i]] > counts[order[j]] })
	if len(order) > n {
		order = order[:n]
	}
	return order
}

func summaryQuery(result domain.AgentResult, text string) string {
	if result.SummaryInfo != "" {
		return result.SummaryInfo
	}
	if s := result.String("summary"); s != "" {
		return s
	}
	r := []rune(text)
	if len(r) > 200 {
		r = r[:200]
	}
	return string(r)
}

// resultText concatenates every string found in the result data in key order.
func resultText(result domain.AgentResult) string {
	var parts []string
	collectStrings(result.Data, &parts)
	return strings.Join(parts, " ")
}

func collectStrings(v any, parts *[]string) {
	switch x := v.(type) {
	case string:
		*parts = append(*parts, x)
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			collectStrings(x[k], parts)
		}
	case []any:
		for _, e := range x {
			collectStrings(e, parts)
		}
	case []string:
		*parts = append(*parts, x...)
	}
}

// ground retrieves sources and verifies the result against them.
func (c *Controller) ground(ctx context.Context, ec domain.ExecutionContext, agentName string, result domain.AgentResult) GroundingReport {
	sources, err := c.retrieveSources(ctx, ec.ProjectID, agentName, result)
	if err != nil {
		c.logger.Warn("grounding retrieval failed", "project_id", ec.ProjectID, "agent", agentName, "err", err)
		return GroundingReport{
			Score:             c.thresholds.NoSourceScore,
			UnsupportedClaims: []string{"cannot verify: " + err.Error()},
		}
	}
	if len(sources) == 0 {
		return GroundingReport{
			Score:             c.thresholds.NoSourceScore,
			UnsupportedClaims: []string{"cannot verify: no source excerpts found"},
		}
	}
	if c.verifier == nil {
		return GroundingReport{
			Score:             c.thresholds.NeutralGroundingScore,
			UnsupportedClaims: []string{"grounding verification unavailable"},
			Sources:           sources,
		}
	}

	rep, err := c.verifier.Verify(ctx, agentName, result, sources)
	if err != nil {
		c.logger.Warn("grounding verification failed", "project_id", ec.ProjectID, "agent", agentName, "err", err)
		return GroundingReport{
			Score:             c.thresholds.NeutralGroundingScore,
			UnsupportedClaims: []string{"grounding verification unavailable: " + err.Error()},
			Sources:           sources,
		}
	}
	rep.Score = domain.ClampScore(rep.Score)
	rep.Sources = sources
	return rep
}
