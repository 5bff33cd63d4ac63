package ai

import (
	"context"
	"errors"
	"fmt"
	"net"

	sdk "github.com/anthropics/anthropic-sdk-go"
	openai "github.com/sashabaranov/go-openai"

	"github.com/darkhound-project/darkhound/pkg/config"
)

// Provider streams one completion. Implementations forward every text
// token to onToken in arrival order and return once the stream ends.
type Provider interface {
	// Name identifies the provider in logs and events.
	Name() string
	// Stream sends the prompt pair and feeds response tokens to onToken.
	Stream(ctx context.Context, system, user string, onToken func(string)) error
}

// NewProvider builds the configured provider. Ollama is served through
// its OpenAI-compatible endpoint.
func NewProvider(settings *config.Settings) (Provider, error) {
	switch settings.AIProvider {
	case "anthropic":
		if settings.AnthropicKey == "" {
			return nil, errors.New("ANTHROPIC_API_KEY is not set")
		}
		return NewAnthropicProvider(settings.AnthropicKey, settings.AnthropicModel), nil
	case "openai":
		if settings.OpenAIKey == "" {
			return nil, errors.New("OPENAI_API_KEY is not set")
		}
		return NewOpenAIProvider(settings.OpenAIKey, settings.OpenAIModel, settings.OpenAIBaseURL), nil
	case "ollama":
		return NewOllamaProvider(settings.OllamaHost, settings.OllamaModel), nil
	default:
		return nil, fmt.Errorf("unknown AI provider %q", settings.AIProvider)
	}
}

// IsRetryable classifies a provider failure: rate limits, server-side
// errors, and transport faults are worth retrying; everything else
// (bad request, auth) is not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var anthropicErr *sdk.Error
	if errors.As(err, &anthropicErr) {
		return retryableStatus(anthropicErr.StatusCode)
	}
	var openaiErr *openai.APIError
	if errors.As(err, &openaiErr) {
		return retryableStatus(openaiErr.HTTPStatusCode)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

func retryableStatus(code int) bool {
	return code == 408 || code == 429 || code >= 500
}
