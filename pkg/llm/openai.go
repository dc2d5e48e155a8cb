package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aretw0/forge/internal/logging"
)

const (
	DefaultBaseURL = "https://api.openai.com/v1"
	DefaultModel   = "gpt-4o"
	defaultTimeout = 60 * time.Second
)

// OpenAI is a backend for any OpenAI-compatible chat completions API.
type OpenAI struct {
	name        string
	baseURL     string
	model       string
	apiKey      string
	temperature float64
	jsonMode    bool
	httpClient  *http.Client
	logger      *slog.Logger
}

// OpenAIOption configures an OpenAI backend.
type OpenAIOption func(*OpenAI)

func WithBaseURL(u string) OpenAIOption {
	return func(o *OpenAI) {
		if u != "" {
			o.baseURL = strings.TrimRight(u, "/")
		}
	}
}

func WithModel(m string) OpenAIOption {
	return func(o *OpenAI) {
		if m != "" {
			o.model = m
		}
	}
}

func WithAPIKey(k string) OpenAIOption {
	return func(o *OpenAI) { o.apiKey = k }
}

func WithTemperature(t float64) OpenAIOption {
	return func(o *OpenAI) { o.temperature = t }
}

// WithJSONMode requests response_format json_object.
func WithJSONMode(on bool) OpenAIOption {
	return func(o *OpenAI) { o.jsonMode = on }
}

func WithHTTPClient(c *http.Client) OpenAIOption {
	return func(o *OpenAI) {
		if c != nil {
			o.httpClient = c
		}
	}
}

func WithTimeout(d time.Duration) OpenAIOption {
	return func(o *OpenAI) {
		if d > 0 {
			o.httpClient = &http.Client{Timeout: d}
		}
	}
}

func WithLogger(l *slog.Logger) OpenAIOption {
	return func(o *OpenAI) {
		if l != nil {
			o.logger = l
		}
	}
}

// NewOpenAI creates a named backend.
func NewOpenAI(name string, opts ...OpenAIOption) *OpenAI {
	o := &OpenAI{
		name:       name,
		baseURL:    DefaultBaseURL,
		model:      DefaultModel,
		jsonMode:   true,
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     logging.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *OpenAI) Name() string { return o.name }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Generate sends one chat completion with a system and a user message.
func (o *OpenAI) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	payload := chatRequest{
		Model: o.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature: o.temperature,
	}
	if o.jsonMode {
		payload.ResponseFormat = map[string]string{"type": "json_object"}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if o.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.apiKey)
	}

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%s request failed: %w", o.name, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			o.logger.Warn("failed to close response body", "backend", o.name, "err", closeErr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("%s returned status %d: %s", o.name, resp.StatusCode, string(msg))
	}

	var completion chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return "", fmt.Errorf("%s: failed to decode response: %w", o.name, err)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("%s: no completion choices returned", o.name)
	}
	return completion.Choices[0].Message.Content, nil
}
