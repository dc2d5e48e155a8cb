package agent

import (
	"context"
	"fmt"

	"github.com/aretw0/forge/pkg/domain"
	"github.com/aretw0/forge/pkg/llm"
	"github.com/aretw0/forge/pkg/ports"
)

// LLM is a prompt-driven agent: it sends the compiled prompt to a backend and
// returns the first JSON object of the reply as result data.
type LLM struct {
	AgentName string
	Backend   ports.TextGenerator
	// Defaults is returned (merged with the raw reply) when the reply has no JSON.
	// With no defaults an unparseable reply fails the invocation.
	Defaults map[string]any
}

func (l *LLM) Name() string { return l.AgentName }

func (l *LLM) Execute(ctx context.Context, ec domain.ExecutionContext, in Input) (domain.AgentResult, error) {
	user := in.Prompt.DynamicUserPrompt
	if in.Feedback != nil && in.Feedback.FeedbackText != "" {
		user += "\n\n## Refinement feedback\n" + in.Feedback.FeedbackText
	}
	reply, err := l.Backend.Generate(ctx, in.Prompt.StaticSystemPrompt, user)
	if err != nil {
		return domain.AgentResult{}, fmt.Errorf("%s: %w", l.Backend.Name(), err)
	}

	data, err := llm.ExtractObject(reply)
	if err != nil {
		if l.Defaults == nil {
			return domain.Failure(fmt.Sprintf("unparseable reply from %s", l.Backend.Name())), nil
		}
		data = make(map[string]any, len(l.Defaults)+1)
		for k, v := range l.Defaults {
			data[k] = v
		}
		data["raw_reply"] = reply
	}

	summary, _ := data["summary"].(string)
	return domain.AgentResult{Success: true, Data: data, SummaryInfo: summary}, nil
}
