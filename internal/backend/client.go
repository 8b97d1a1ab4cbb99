package backend

import (
	"context"
	"fmt"
	"net/http"

	"github.com/promptgate/promptgate/internal/config"
	"github.com/promptgate/promptgate/internal/logger"
)

// Response is the backend-independent result of a generation call
type Response struct {
	Content      string `json:"content"`
	Model        string `json:"model"`
	TokensUsed   int    `json:"tokens_used,omitempty"`
	FinishReason string `json:"finish_reason,omitempty"`
}

// Options are per-request overrides of the configured defaults. The
// zero Model and MaxTokens mean "use configured"; Temperature is a
// pointer because 0 is a meaningful value.
type Options struct {
	Model       string
	MaxTokens   int
	Temperature *float64
}

// Client is the contract between the gateway and an LLM backend. The
// gateway treats it as an opaque capability and never inspects
// backend-specific payloads.
type Client interface {
	Generate(ctx context.Context, prompt string, opts Options) (*Response, error)
	HealthCheck(ctx context.Context) bool
}

// NewClient creates the backend client selected by configuration.
// Selection happens once at startup; the gateway holds the returned
// interface for its lifetime.
func NewClient(cfg config.BackendConfig, log *logger.Logger) (Client, error) {
	httpClient := &http.Client{Timeout: cfg.Timeout}

	switch cfg.Type {
	case "ollama":
		return NewOllamaClient(cfg, httpClient, log), nil
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("openai backend requires an API key")
		}
		return NewOpenAIClient(cfg, httpClient, log), nil
	case "anthropic":
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("anthropic backend requires an API key")
		}
		return NewAnthropicClient(cfg, httpClient, log), nil
	default:
		return nil, fmt.Errorf("unsupported backend: %s", cfg.Type)
	}
}
