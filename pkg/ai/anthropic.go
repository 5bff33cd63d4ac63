package ai

import (
	"context"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
)

const anthropicMaxTokens = 8192

// messagesClient is the slice of the Anthropic SDK the provider uses.
// Satisfied by *sdk.MessageService; tests substitute a stub.
type messagesClient interface {
	NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
}

// AnthropicProvider streams completions from the Claude Messages API.
type AnthropicProvider struct {
	msg   messagesClient
	model string
}

// NewAnthropicProvider creates a provider against the Anthropic API.
func NewAnthropicProvider(apiKey, model string) *AnthropicProvider {
	client := sdk.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicProvider{msg: &client.Messages, model: model}
}

func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

// Stream runs one streaming Messages call, forwarding text deltas.
func (p *AnthropicProvider) Stream(ctx context.Context, system, user string, onToken func(string)) error {
	stream := p.msg.NewStreaming(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(p.model),
		MaxTokens: anthropicMaxTokens,
		System:    []sdk.TextBlockParam{{Text: system}},
		Messages:  []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(user))},
	})
	defer stream.Close()

	for stream.Next() {
		event := stream.Current()
		if ev, ok := event.AsAny().(sdk.ContentBlockDeltaEvent); ok {
			if delta, ok := ev.Delta.AsAny().(sdk.TextDelta); ok {
				onToken(delta.Text)
			}
		}
	}
	if err := stream.Err(); err != nil {
		return fmt.Errorf("anthropic stream: %w", err)
	}
	return ctx.Err()
}
