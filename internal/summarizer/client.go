package summarizer

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
	// Self-imposed outbound rate toward chat APIs, shared by every
	// provider client.
	llmBurst      = 4
	llmRefillRate = 2 // requests per second

	llmTimeout = 60 * time.Second
)

// postJSON sends one JSON request after waiting for a rate-limit token
// and returns the raw response body. Transport errors and 429/5xx
// statuses come back transient so the retry and breaker layers know to
// try again; any other non-200 status fails outright.
func postJSON(ctx context.Context, hc *http.Client, bucket *resilience.TokenBucket, url string, headers map[string]string, payload any) ([]byte, error) {
	if err := bucket.Wait(ctx); err != nil {
		return nil, domain.Transient(fmt.Errorf("rate limit wait: %w", err))
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return nil, domain.Transient(fmt.Errorf("post: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.Transient(fmt.Errorf("read response: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		return nil, domain.Transient(fmt.Errorf("status %d: %s", resp.StatusCode, raw))
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, raw)
	}

	return raw, nil
}
