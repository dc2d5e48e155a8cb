// Package tui renders workflow results for the terminal.
package tui

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/aretw0/forge/pkg/domain"
	"github.com/aretw0/forge/pkg/workflow"
	"github.com/charmbracelet/glamour"
	"golang.org/x/term"
)

// NewRenderer returns a markdown renderer styled for the current terminal.
func NewRenderer() func(string) (string, error) {
	r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100))
	if err != nil {
		return func(md string) (string, error) { return md, nil }
	}
	return r.Render
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// Print writes res to w, styled when w is a terminal and plain markdown otherwise.
func Print(w io.Writer, res workflow.Result) error {
	md := Markdown(res)
	if f, ok := w.(*os.File); ok && IsTerminal(f) {
		out, err := NewRenderer()(md)
		if err == nil {
			md = out
		}
	}
	_, err := io.WriteString(w, md)
	return err
}

// Markdown summarises a workflow result.
func Markdown(res workflow.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Workflow %s\n\n", res.Status)
	fmt.Fprintf(&b, "- **Run**: `%s`\n- **Duration**: %s\n", res.RunID, res.Duration.Round(1e6))
	if res.Reason != "" {
		fmt.Fprintf(&b, "- **Reason**: %s\n", res.Reason)
	}
	if res.HardStopReason != "" {
		fmt.Fprintf(&b, "- **Hard stop**: %s\n", res.HardStopReason)
	}
	if res.ArtifactID != "" {
		fmt.Fprintf(&b, "- **Artifact**: `%s`\n", res.ArtifactID)
	}
	if res.Iterations > 0 {
		fmt.Fprintf(&b, "- **Generation iterations**: %d\n", res.Iterations)
	}

	if len(res.OutputsByAgent) > 0 {
		b.WriteString("\n## Agents\n\n| Agent | Result | Summary |\n|---|---|---|\n")
		names := make([]string, 0, len(res.OutputsByAgent))
		for n := range res.OutputsByAgent {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, n := range names {
			out := res.OutputsByAgent[n]
			fmt.Fprintf(&b, "| %s | %s | %s |\n", n, outcome(out), cell(summary(out)))
		}
	}

	if r := res.Review; r != nil && len(r.Scores) > 0 {
		fmt.Fprintf(&b, "\n## Review\n\nMean %.1f, spread %d, consensus %t, passed %t.\n", r.Mean, r.Spread, r.Consensus, r.Passed)
	}
	if len(res.Messages) > 0 {
		b.WriteString("\n## Messages\n\n")
		for _, m := range res.Messages {
			fmt.Fprintf(&b, "- %s\n", m)
		}
	}
	return b.String()
}

func outcome(r domain.AgentResult) string {
	if r.Success {
		return "ok"
	}
	return "failed"
}

func summary(r domain.AgentResult) string {
	if !r.Success {
		return r.Error
	}
	return r.SummaryInfo
}

func cell(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	return strings.ReplaceAll(s, "\n", " ")
}
