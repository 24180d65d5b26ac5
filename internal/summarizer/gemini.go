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

const geminiGenerateURL = "https://generativelanguage.googleapis.com/v1beta/models/gemini-2.0-flash:generateContent"

// GeminiClient authenticates with a key query parameter rather than a
// header, which is why its URL is assembled per request.
type GeminiClient struct {
	apiKey     string
	httpClient *http.Client
	bucket     *resilience.TokenBucket
}

func NewGeminiClient(apiKey string) *GeminiClient {
	return &GeminiClient{
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: llmTimeout},
		bucket:     resilience.NewTokenBucket(llmBurst, llmRefillRate),
	}
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
	Role  string       `json:"role,omitempty"`
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error,omitempty"`
}

func (c *GeminiClient) Summarize(ctx context.Context, items []domain.Item) (string, error) {
	prompt := fmt.Sprintf(summarizePrompt, formatItems(items))

	raw, err := postJSON(ctx, c.httpClient, c.bucket,
		fmt.Sprintf("%s?key=%s", geminiGenerateURL, c.apiKey), nil,
		geminiRequest{
			Contents: []geminiContent{{Parts: []geminiPart{{Text: prompt}}, Role: "user"}},
		})
	if err != nil {
		return "", fmt.Errorf("gemini summarize: %w", err)
	}

	var parsed geminiResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("gemini summarize: decode response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("gemini summarize: API error: %s", parsed.Error.Message)
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("gemini summarize: empty response")
	}
	return strings.TrimSpace(parsed.Candidates[0].Content.Parts[0].Text), nil
}
