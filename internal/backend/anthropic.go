package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/promptgate/promptgate/internal/config"
	"github.com/promptgate/promptgate/internal/logger"
	"go.uber.org/zap"
)

const (
	anthropicBaseURL = "https://api.anthropic.com/v1"
	anthropicVersion = "2023-06-01"
)

// AnthropicClient talks to the Anthropic messages API
type AnthropicClient struct {
	apiKey      string
	model       string
	maxTokens   int
	temperature float64
	baseURL     string
	httpClient  *http.Client
	logger      *logger.Logger
}

// NewAnthropicClient creates a client for the Anthropic API
func NewAnthropicClient(cfg config.BackendConfig, httpClient *http.Client, log *logger.Logger) *AnthropicClient {
	return &AnthropicClient{
		apiKey:      cfg.AnthropicAPIKey,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		baseURL:     anthropicBaseURL,
		httpClient:  httpClient,
		logger:      log,
	}
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature"`
	Messages    []anthropicMessage `json:"messages"`
}

type anthropicResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Generate produces a completion for the prompt
func (c *AnthropicClient) Generate(ctx context.Context, prompt string, opts Options) (*Response, error) {
	model := c.model
	if opts.Model != "" {
		model = opts.Model
	}
	maxTokens := c.maxTokens
	if opts.MaxTokens > 0 {
		maxTokens = opts.MaxTokens
	}
	temperature := c.temperature
	if opts.Temperature != nil {
		temperature = *opts.Temperature
	}

	payload := anthropicRequest{
		Model:       model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		Messages:    []anthropicMessage{{Role: "user", Content: prompt}},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode anthropic request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build anthropic request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("anthropic request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("anthropic request failed: HTTP %d", resp.StatusCode)
	}

	var data anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("failed to decode anthropic response: %w", err)
	}

	if len(data.Content) == 0 {
		return nil, fmt.Errorf("anthropic response contained no content")
	}

	c.logger.Debug("Anthropic generation completed",
		zap.String("model", data.Model),
		zap.Int("input_tokens", data.Usage.InputTokens),
		zap.Int("output_tokens", data.Usage.OutputTokens),
	)

	return &Response{
		Content:      data.Content[0].Text,
		Model:        data.Model,
		TokensUsed:   data.Usage.InputTokens + data.Usage.OutputTokens,
		FinishReason: data.StopReason,
	}, nil
}

// HealthCheck reports whether the Anthropic API is accessible.
// Anthropic has no dedicated health endpoint, so a minimal generation
// request stands in for one.
func (c *AnthropicClient) HealthCheck(ctx context.Context) bool {
	payload := anthropicRequest{
		Model:     c.model,
		MaxTokens: 10,
		Messages:  []anthropicMessage{{Role: "user", Content: "test"}},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}
