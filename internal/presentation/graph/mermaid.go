package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/aretw0/forge/pkg/agent"
	"github.com/aretw0/forge/pkg/domain"
	"github.com/aretw0/forge/pkg/workflow"
)

// GraphOverlay contains run state to visualize on the graph.
type GraphOverlay struct {
	VisitedAgents []string
	CurrentPhase  domain.Phase
}

// OverlayFrom derives an overlay from a checkpoint.
func OverlayFrom(st *domain.WorkflowState) *GraphOverlay {
	if st == nil {
		return nil
	}
	o := &GraphOverlay{CurrentPhase: st.CurrentPhase}
	for name := range st.OutputsByAgent {
		o.VisitedAgents = append(o.VisitedAgents, name)
	}
	sort.Strings(o.VisitedAgents)
	return o
}

type layer struct {
	phase  domain.Phase
	agents []string
	// optional marks enrichment agents that may be skipped.
	optional map[string]bool
}

// GenerateMermaid produces a Mermaid flowchart of the pipeline, one subgraph per phase.
// Shapes:
// - Intake: ((Circle))
// - Gates: {{Hexagon}}
// - Decision: {Rhombus}
// - Default: [Rectangle]
func GenerateMermaid(p workflow.Pipeline, overlay *GraphOverlay) string {
	layers := layersOf(p)

	var sb strings.Builder
	sb.WriteString("graph TD\n")

	for _, l := range layers {
		fmt.Fprintf(&sb, "    subgraph %s[\"%s\"]\n", phaseID(l.phase), l.phase)
		for _, name := range l.agents {
			opener, closer := "[", "]"
			switch l.phase {
			case domain.PhaseIntake:
				opener, closer = "((", "))"
			case domain.PhaseValidation:
				opener, closer = "{{", "}}"
			case domain.PhaseDecision:
				opener, closer = "{", "}"
			}
			fmt.Fprintf(&sb, "        %s%s\"%s\"%s\n", sanitizeMermaidID(name), opener, name, closer)
		}
		sb.WriteString("    end\n")
	}
	sb.WriteString("    done((\"done\"))\n")

	for i, l := range layers {
		next := []string{"done"}
		if i+1 < len(layers) {
			next = layers[i+1].agents
		}
		for _, from := range l.agents {
			for _, to := range next {
				arrow := "-->"
				switch {
				case l.optional[from]:
					arrow = "-. \"skippable\" .->"
				case l.phase == domain.PhaseDecision && to != "done":
					arrow = "-- \"proceed\" -->"
				}
				fmt.Fprintf(&sb, "    %s %s %s\n", sanitizeMermaidID(from), arrow, sanitizeMermaidID(to))
			}
			switch l.phase {
			case domain.PhaseValidation:
				fmt.Fprintf(&sb, "    %s -. \"hard stop\" .-> done\n", sanitizeMermaidID(from))
			case domain.PhaseDecision:
				fmt.Fprintf(&sb, "    %s -. \"no bid\" .-> done\n", sanitizeMermaidID(from))
			}
		}
	}

	if overlay != nil {
		sb.WriteString("\n    %% Overlay Styles\n")
		// Force black text (color:#000) for contrast regardless of theme.
		sb.WriteString("    classDef visited fill:#e1f5fe,stroke:#01579b,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef current fill:#ffeb3b,stroke:#fbc02d,stroke-width:4px,color:#000;\n")

		known := make(map[string]bool)
		for _, l := range layers {
			for _, name := range l.agents {
				known[name] = true
			}
		}
		seen := make(map[string]bool)
		for _, name := range overlay.VisitedAgents {
			if !known[name] || seen[name] {
				continue
			}
			seen[name] = true
			fmt.Fprintf(&sb, "    class %s visited;\n", sanitizeMermaidID(name))
		}
		if overlay.CurrentPhase != "" {
			fmt.Fprintf(&sb, "    class %s current;\n", phaseID(overlay.CurrentPhase))
		}
	}

	return sb.String()
}

func layersOf(p workflow.Pipeline) []layer {
	var out []layer
	add := func(phase domain.Phase, agents ...agent.Agent) *layer {
		l := layer{phase: phase, optional: map[string]bool{}}
		for _, a := range agents {
			if a != nil {
				l.agents = append(l.agents, a.Name())
			}
		}
		if len(l.agents) == 0 {
			return nil
		}
		out = append(out, l)
		return &out[len(out)-1]
	}

	add(domain.PhaseIntake, p.Intake)
	var enrichers []agent.Agent
	for _, e := range p.Enrichment {
		enrichers = append(enrichers, e.Agent)
	}
	if l := add(domain.PhaseEnrichment, enrichers...); l != nil {
		for _, e := range p.Enrichment {
			if e.Skip != nil && e.Agent != nil {
				l.optional[e.Agent.Name()] = true
			}
		}
	}
	add(domain.PhaseValidation, p.Gates...)
	add(domain.PhaseDecision, p.Decision)
	add(domain.PhaseGeneration, p.Generation)
	add(domain.PhaseReview, p.Reviewers...)
	return out
}

func phaseID(p domain.Phase) string {
	return "phase_" + sanitizeMermaidID(string(p))
}

func sanitizeMermaidID(id string) string {
	s := strings.ReplaceAll(id, ".", "_")
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, ":", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	return s
}
