package critic

import (
	"context"
	"fmt"
	"strings"

	"github.com/aretw0/forge/pkg/compiler"
	"github.com/aretw0/forge/pkg/domain"
	"github.com/aretw0/forge/pkg/llm"
	"github.com/aretw0/forge/pkg/ports"
)

// Iteration is one entry of the loop history.
type Iteration struct {
	Number     int
	Result     domain.AgentResult
	Evaluation domain.Evaluation
	Grounding  *GroundingReport
}

// GroundingReport is the outcome of grounding verification.
type GroundingReport struct {
	Score             int      `mapstructure:"grounding_score"`
	UnsupportedClaims []string `mapstructure:"unsupported_claims"`
	Sources           []domain.SourceExcerpt
}

// JudgeRequest is what a judge evaluates.
type JudgeRequest struct {
	AgentName string
	Result    domain.AgentResult
	History   []Iteration
	Grounding *GroundingReport
}

// Judge scores an agent result.
type Judge interface {
	Evaluate(ctx context.Context, req JudgeRequest) (domain.Evaluation, error)
}

// Verifier checks a result's claims against source excerpts.
type Verifier interface {
	Verify(ctx context.Context, agentName string, result domain.AgentResult, sources []domain.SourceExcerpt) (GroundingReport, error)
}

// FeedbackWriter turns an evaluation into refinement instructions.
type FeedbackWriter interface {
	Feedback(ctx context.Context, agentName string, last Iteration, maxIterations int) (string, error)
}

// LLMJudge evaluates results with a text-generation backend.
type LLMJudge struct {
	Backend ports.TextGenerator
	Bound   compiler.Bound
}

const judgeSystemPrompt = `You are a strict reviewer of AI-generated construction bid material.
Score the output from 0 to 100 for correctness, completeness and usefulness.
Reply with a single JSON object: {"accepted": bool, "score": int, "reasoning": string,
"improvements": [string], "critical_issues": [string]}.`

func (j *LLMJudge) Evaluate(ctx context.Context, req JudgeRequest) (domain.Evaluation, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Agent: %s\n\n## Output\n%s\n", req.AgentName, j.Bound.JSON(req.Result.Data))
	if n := len(req.History); n > 0 {
		prev := req.History[n-1].Evaluation
		fmt.Fprintf(&b, "\n## Previous iteration\nscore %d: %s\n", prev.Score, prev.Reasoning)
	}
	if req.Grounding != nil {
		fmt.Fprintf(&b, "\n## Grounding\nscore %d", req.Grounding.Score)
		if len(req.Grounding.UnsupportedClaims) > 0 {
			fmt.Fprintf(&b, "; unsupported claims: %s", strings.Join(req.Grounding.UnsupportedClaims, "; "))
		}
		b.WriteByte('\n')
	}

	reply, err := j.Backend.Generate(ctx, judgeSystemPrompt, b.String())
	if err != nil {
		return domain.Evaluation{}, fmt.Errorf("%w: %v", domain.ErrEvaluation, err)
	}
	var ev domain.Evaluation
	if err := llm.Decode(reply, &ev); err != nil {
		return domain.Evaluation{}, fmt.Errorf("%w: %v", domain.ErrEvaluation, err)
	}
	ev.Score = domain.ClampScore(ev.Score)
	return ev, nil
}

// LLMVerifier asks a backend which claims the sources support.
type LLMVerifier struct {
	Backend ports.TextGenerator
	Bound   compiler.Bound
}

const verifySystemPrompt = `You verify that claims in a construction bid are supported by source excerpts.
Reply with a single JSON object: {"grounding_score": int 0-100, "unsupported_claims": [string]}.`

func (v *LLMVerifier) Verify(ctx context.Context, agentName string, result domain.AgentResult, sources []domain.SourceExcerpt) (GroundingReport, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "## Output of %s\n%s\n\n## Sources\n", agentName, v.Bound.JSON(result.Data))
	for i, s := range sources {
		fmt.Fprintf(&b, "[%d] (%s, relevance %.2f) %s\n", i+1, s.SourceID, s.Score, v.Bound.Truncate(s.Content))
	}

	reply, err := v.Backend.Generate(ctx, verifySystemPrompt, b.String())
	if err != nil {
		return GroundingReport{}, err
	}
	var rep GroundingReport
	if err := llm.Decode(reply, &rep); err != nil {
		return GroundingReport{}, err
	}
	rep.Score = domain.ClampScore(rep.Score)
	return rep, nil
}

// LLMFeedback writes refinement instructions with a backend.
type LLMFeedback struct {
	Backend ports.TextGenerator
}

const feedbackSystemPrompt = `You coach an AI agent to improve its previous output.
Write short, concrete instructions addressing every critical issue first. Plain text only.`

func (f *LLMFeedback) Feedback(ctx context.Context, agentName string, last Iteration, maxIterations int) (string, error) {
	reply, err := f.Backend.Generate(ctx, feedbackSystemPrompt, templateFeedback(agentName, last, maxIterations))
	if err != nil {
		return "", err
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", fmt.Errorf("empty feedback from %s", f.Backend.Name())
	}
	return reply, nil
}

// templateFeedback renders feedback without a backend.
func templateFeedback(agentName string, last Iteration, maxIterations int) string {
	ev := last.Evaluation
	var b strings.Builder
	fmt.Fprintf(&b, "Iteration %d of %d for %s scored %d.", last.Number, maxIterations, agentName, ev.Score)
	if ev.Reasoning != "" {
		fmt.Fprintf(&b, " %s", ev.Reasoning)
	}
	writeList(&b, "Critical issues", ev.CriticalIssues)
	writeList(&b, "Improvements", ev.Improvements)
	writeList(&b, "Unsupported claims (remove or cite a source)", ev.UnsupportedClaims)
	return b.String()
}

func writeList(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "\n%s:", title)
	for _, it := range items {
		fmt.Fprintf(b, "\n- %s", it)
	}
}
