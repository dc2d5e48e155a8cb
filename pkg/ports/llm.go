package ports

import "context"

// TextGenerator is a pluggable, named text-generation backend.
// Replies may be malformed; callers extract structured content themselves.
type TextGenerator interface {
	Name() string
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}
