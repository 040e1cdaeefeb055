package suggest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/NullWinters/GalChat/internal/metrics"
)

// Provider is the LLM collaborator: one generation call per request,
// cancellable through ctx. Retry policy, if any, lives behind this
// interface, not in the engine.
type Provider interface {
	Generate(ctx context.Context, prompt Prompt) ([]string, error)
}

// OpenAIProvider talks to any OpenAI-compatible chat-completions endpoint
// (DeepSeek by default).
type OpenAIProvider struct {
	client *openai.Client
	model  string
}

// NewOpenAIProvider creates a provider for the given endpoint and model.
func NewOpenAIProvider(baseURL, apiKey, model string) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIProvider{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

// structuredReplies is the shape the instruction contract demands.
type structuredReplies struct {
	Replies []string `json:"replies"`
}

// Generate performs one chat-completion call and parses the structured
// response. A response that does not conform to the expected shape yields
// ErrMalformedResponse rather than being forwarded.
func (p *OpenAIProvider) Generate(ctx context.Context, prompt Prompt) ([]string, error) {
	start := time.Now()
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       p.model,
		Temperature: 0.75,
		MaxTokens:   512,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemInstruction(prompt)},
			{Role: openai.ChatMessageRoleUser, Content: prompt.Transcript},
		},
	})
	metrics.ProviderLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}

	if len(resp.Choices) == 0 {
		return nil, ErrMalformedResponse
	}

	var parsed structuredReplies
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &parsed); err != nil {
		return nil, ErrMalformedResponse
	}
	if len(parsed.Replies) == 0 {
		return nil, ErrMalformedResponse
	}
	return parsed.Replies, nil
}
