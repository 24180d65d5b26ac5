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
	openAIChatURL = "https://api.openai.com/v1/chat/completions"
	chatModel     = "gpt-4o-mini"
)

// Chat types shared with the OpenAI-compatible Cerebras client.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float32       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// parseChat extracts the first choice of an OpenAI-style completion.
func parseChat(raw []byte) (string, error) {
	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("chat API error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("chat API returned no choices")
	}
	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}

type OpenAIClient struct {
	apiKey     string
	httpClient *http.Client
	bucket     *resilience.TokenBucket
}

func NewOpenAIClient(apiKey string) *OpenAIClient {
	return &OpenAIClient{
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: llmTimeout},
		bucket:     resilience.NewTokenBucket(llmBurst, llmRefillRate),
	}
}

func (c *OpenAIClient) Summarize(ctx context.Context, items []domain.Item) (string, error) {
	raw, err := postJSON(ctx, c.httpClient, c.bucket, openAIChatURL,
		map[string]string{"Authorization": "Bearer " + c.apiKey},
		chatRequest{
			Model:       chatModel,
			Temperature: 0.3,
			Messages: []chatMessage{
				{Role: "user", Content: fmt.Sprintf(summarizePrompt, formatItems(items))},
			},
		})
	if err != nil {
		return "", fmt.Errorf("openai summarize: %w", err)
	}

	out, err := parseChat(raw)
	if err != nil {
		return "", fmt.Errorf("openai summarize: %w", err)
	}
	return out, nil
}
