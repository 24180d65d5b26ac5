package summarizer

import (
	"context"
	"fmt"
	"net/http"

	"github.com/stratumhq/stratum/internal/domain"
	"github.com/stratumhq/stratum/internal/resilience"
)

const (
	cerebrasChatURL = "https://api.cerebras.ai/v1/chat/completions"
	cerebrasModel   = "llama-3.3-70b"
)

// CerebrasClient speaks the OpenAI-compatible chat completion format,
// so it shares the chat types and parser with OpenAIClient.
type CerebrasClient struct {
	apiKey     string
	httpClient *http.Client
	bucket     *resilience.TokenBucket
}

func NewCerebrasClient(apiKey string) *CerebrasClient {
	return &CerebrasClient{
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: llmTimeout},
		bucket:     resilience.NewTokenBucket(llmBurst, llmRefillRate),
	}
}

func (c *CerebrasClient) Summarize(ctx context.Context, items []domain.Item) (string, error) {
	raw, err := postJSON(ctx, c.httpClient, c.bucket, cerebrasChatURL,
		map[string]string{"Authorization": "Bearer " + c.apiKey},
		chatRequest{
			Model:       cerebrasModel,
			Temperature: 0.3,
			Messages: []chatMessage{
				{Role: "user", Content: fmt.Sprintf(summarizePrompt, formatItems(items))},
			},
		})
	if err != nil {
		return "", fmt.Errorf("cerebras summarize: %w", err)
	}

	out, err := parseChat(raw)
	if err != nil {
		return "", fmt.Errorf("cerebras summarize: %w", err)
	}
	return out, nil
}
