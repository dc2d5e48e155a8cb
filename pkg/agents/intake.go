// Package agents provides the default construction-bid agent set and wires it into a
// workflow pipeline.
package agents

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/aretw0/forge/pkg/agent"
	"github.com/aretw0/forge/pkg/domain"
)

// Document kinds recognised by the intake inventory.
const (
	KindDocument = "document"
	KindSketch   = "sketch"
	KindQuantity = "bill_of_quantities"
	KindOther    = "other"
)

// KeySketches is the blackboard key listing sketch documents found at intake.
const KeySketches = "sketches"

var kindsByExt = map[string]string{
	".pdf": KindDocument, ".doc": KindDocument, ".docx": KindDocument, ".md": KindDocument, ".txt": KindDocument,
	".dwg": KindSketch, ".dxf": KindSketch, ".png": KindSketch, ".jpg": KindSketch, ".jpeg": KindSketch, ".svg": KindSketch,
	".xls": KindQuantity, ".xlsx": KindQuantity, ".csv": KindQuantity,
}

var expectedKinds = []string{KindDocument, KindSketch, KindQuantity}

// Intake inventories the submitted documents. It does not read their contents.
type Intake struct{}

var _ agent.Agent = Intake{}

func (Intake) Name() string { return "intake" }

func (Intake) Execute(_ context.Context, _ domain.ExecutionContext, in agent.Input) (domain.AgentResult, error) {
	names := documentNames(in.Data[domain.KeyDocuments])
	if len(names) == 0 && in.Data["rfq"] == nil {
		return domain.AgentResult{}, errors.New("no documents or rfq text submitted")
	}

	seen := make(map[string]bool, len(expectedKinds))
	inventory := make([]any, 0, len(names))
	sketches := make([]any, 0)
	for _, n := range names {
		kind := kindsByExt[strings.ToLower(path.Ext(n))]
		if kind == "" {
			kind = KindOther
		}
		seen[kind] = true
		inventory = append(inventory, map[string]any{"name": n, "kind": kind})
		if kind == KindSketch {
			sketches = append(sketches, n)
		}
	}
	missing := make([]any, 0)
	for _, k := range expectedKinds {
		if !seen[k] {
			missing = append(missing, k)
		}
	}

	return domain.AgentResult{
		Success: true,
		Data: map[string]any{
			domain.KeyDocuments: inventory,
			KeySketches:         sketches,
			"missing":           missing,
		},
		SummaryInfo: fmt.Sprintf("%d document(s), %d sketch(es), %d missing kind(s)", len(inventory), len(sketches), len(missing)),
	}, nil
}

// documentNames accepts a list of names or of {"name": ...} objects.
func documentNames(v any) []string {
	var out []string
	switch docs := v.(type) {
	case []string:
		out = append(out, docs...)
	case []any:
		for _, d := range docs {
			switch d := d.(type) {
			case string:
				out = append(out, d)
			case map[string]any:
				if n, ok := d["name"].(string); ok {
					out = append(out, n)
				}
			}
		}
	}
	sort.Strings(out)
	return out
}

// hasSketches reports whether the blackboard lists at least one sketch.
func hasSketches(bb map[string]any) bool {
	switch s := bb[KeySketches].(type) {
	case []any:
		return len(s) > 0
	case []string:
		return len(s) > 0
	}
	return false
}
