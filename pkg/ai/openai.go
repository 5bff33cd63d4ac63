package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIProvider streams chat completions from OpenAI or any
// API-compatible backend reachable through a custom base URL.
type OpenAIProvider struct {
	client *openai.Client
	model  string
	name   string
}

// NewOpenAIProvider creates a provider against the OpenAI API. A
// non-empty baseURL redirects it to a compatible backend.
func NewOpenAIProvider(apiKey, model, baseURL string) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIProvider{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		name:   "openai",
	}
}

// NewOllamaProvider creates a provider against a local Ollama server's
// OpenAI-compatible endpoint. Ollama ignores the API key but the client
// requires one.
func NewOllamaProvider(host, model string) *OpenAIProvider {
	p := NewOpenAIProvider("ollama", model, strings.TrimSuffix(host, "/")+"/v1")
	p.name = "ollama"
	return p
}

func (p *OpenAIProvider) Name() string {
	return p.name
}

// Stream runs one streaming chat completion, forwarding content deltas.
func (p *OpenAIProvider) Stream(ctx context.Context, system, user string, onToken func(string)) error {
	stream, err := p.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:  p.model,
		Stream: true,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	})
	if err != nil {
		return fmt.Errorf("%s stream: %w", p.name, err)
	}
	defer stream.Close()

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return ctx.Err()
		}
		if err != nil {
			return fmt.Errorf("%s stream: %w", p.name, err)
		}
		if len(resp.Choices) > 0 {
			onToken(resp.Choices[0].Delta.Content)
		}
	}
}
