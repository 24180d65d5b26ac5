package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/stratumhq/stratum/internal/domain"
	"github.com/stratumhq/stratum/internal/resilience"
)

const (
	openAIEmbeddingURL = "https://api.openai.com/v1/embeddings"
	openAIModel        = "text-embedding-3-small"

	// Self-imposed outbound rate toward the embeddings API. Promotion
	// sweeps embed in bursts, so the bucket is wider than the chat one.
	embedBurst      = 10
	embedRefillRate = 5 // requests per second
)

// OpenAIClient produces embedding vectors for the Postgres knowledge
// backend. Failures that are worth retrying (network errors, 429, 5xx)
// come back transient so callers can tell them from bad requests.
type OpenAIClient struct {
	apiKey     string
	httpClient *http.Client
	bucket     *resilience.TokenBucket
}

func NewOpenAIClient(apiKey string) *OpenAIClient {
	return &OpenAIClient{
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		bucket:     resilience.NewTokenBucket(embedBurst, embedRefillRate),
	}
}

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Embed returns the text-embedding-3-small vector for text.
func (c *OpenAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := c.bucket.Wait(ctx); err != nil {
		return nil, domain.Transient(fmt.Errorf("rate limit wait: %w", err))
	}

	payload, err := json.Marshal(embedRequest{Model: openAIModel, Input: text})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, openAIEmbeddingURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, domain.Transient(fmt.Errorf("embed request: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.Transient(fmt.Errorf("read embed response: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		return nil, domain.Transient(fmt.Errorf("embeddings API status %d: %s", resp.StatusCode, raw))
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("embeddings API status %d: %s", resp.StatusCode, raw)
	}

	var parsed embedResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("embeddings API error: %s", parsed.Error.Message)
	}
	if len(parsed.Data) == 0 {
		return nil, fmt.Errorf("embeddings API returned no vector")
	}

	return parsed.Data[0].Embedding, nil
}
