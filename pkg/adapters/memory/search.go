package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/aretw0/forge/pkg/domain"
	"github.com/aretw0/forge/pkg/ports"
)

type chunk struct {
	sourceID string
	content  string
	terms    map[string]struct{}
}

// Searcher is an in-memory keyword index implementing ports.DocumentSearcher.
// Documents are split into paragraphs; a paragraph scores the fraction of
// distinct query terms it contains.
type Searcher struct {
	mu     sync.RWMutex
	chunks map[string][]chunk
}

var _ ports.DocumentSearcher = (*Searcher)(nil)

func NewSearcher() *Searcher {
	return &Searcher{chunks: make(map[string][]chunk)}
}

// Add indexes content under projectID.
func (s *Searcher) Add(projectID, sourceID, content string) {
	var added []chunk
	for _, para := range strings.Split(content, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		added = append(added, chunk{sourceID: sourceID, content: para, terms: termSet(para)})
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks[projectID] = append(s.chunks[projectID], added...)
}

// Len reports the number of indexed paragraphs for projectID.
func (s *Searcher) Len(projectID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks[projectID])
}

func (s *Searcher) Search(ctx context.Context, query, projectID string, opts ports.SearchOptions) ([]domain.SourceExcerpt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q := termSet(query)
	if len(q) == 0 {
		return nil, nil
	}

	s.mu.RLock()
	var hits []domain.SourceExcerpt
	for _, c := range s.chunks[projectID] {
		matched := 0
		for t := range q {
			if _, ok := c.terms[t]; ok {
				matched++
			}
		}
		score := float64(matched) / float64(len(q))
		if matched == 0 || score < opts.ScoreThreshold {
			continue
		}
		hits = append(hits, domain.SourceExcerpt{Content: c.content, Score: score, SourceID: c.sourceID})
	}
	s.mu.RUnlock()

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if opts.Limit > 0 && len(hits) > opts.Limit {
		hits = hits[:opts.Limit]
	}
	return hits, nil
}

// termSet lowercases text and keeps words of three or more letters or digits.
func termSet(text string) map[string]struct{} {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		if len([]rune(w)) >= 3 {
			set[w] = struct{}{}
		}
	}
	return set
}
