package summarizer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/stratumhq/stratum/internal/domain"
	"github.com/stratumhq/stratum/internal/resilience"
)

const (
	anthropicMessagesURL = "https://api.anthropic.com/v1/messages"
	anthropicModel       = "claude-3-5-haiku-20241022"
	anthropicVersion     = "2023-06-01"
	anthropicMaxTokens   = 1024
)

type AnthropicClient struct {
	apiKey     string
	httpClient *http.Client
	bucket     *resilience.TokenBucket
}

func NewAnthropicClient(apiKey string) *AnthropicClient {
	return &AnthropicClient{
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: llmTimeout},
		bucket:     resilience.NewTokenBucket(llmBurst, llmRefillRate),
	}
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *AnthropicClient) Summarize(ctx context.Context, items []domain.Item) (string, error) {
	raw, err := postJSON(ctx, c.httpClient, c.bucket, anthropicMessagesURL,
		map[string]string{"x-api-key": c.apiKey, "anthropic-version": anthropicVersion},
		anthropicRequest{
			Model:     anthropicModel,
			MaxTokens: anthropicMaxTokens,
			Messages: []anthropicMessage{
				{Role: "user", Content: fmt.Sprintf(summarizePrompt, formatItems(items))},
			},
		})
	if err != nil {
		return "", fmt.Errorf("anthropic summarize: %w", err)
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("anthropic summarize: decode response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("anthropic summarize: API error: %s", parsed.Error.Message)
	}
	if len(parsed.Content) == 0 {
		return "", fmt.Errorf("anthropic summarize: empty content")
	}
	return strings.TrimSpace(parsed.Content[0].Text), nil
}
