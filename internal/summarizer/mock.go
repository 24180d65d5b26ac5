package summarizer

import (
	"context"
	"sync"

	"github.com/stratumhq/stratum/internal/domain"
)

// MockClient is a configurable summarizer for testing.
// Set the response fields to control what Summarize returns.
type MockClient struct {
	mu sync.Mutex

	SummarizeResponse string
	SummarizeError    error

	// Call tracking for assertions
	SummarizeCalls [][]domain.Item
}

func NewMockClient() *MockClient {
	return &MockClient{
		SummarizeResponse: "Mock summary",
	}
}

func (c *MockClient) Summarize(ctx context.Context, items []domain.Item) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.SummarizeCalls = append(c.SummarizeCalls, append([]domain.Item(nil), items...))
	if c.SummarizeError != nil {
		return "", c.SummarizeError
	}
	return c.SummarizeResponse, nil
}

// CallCount returns how many times Summarize ran. Safe to call while a
// worker is summarizing.
func (c *MockClient) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.SummarizeCalls)
}

func (c *MockClient) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.SummarizeResponse = "Mock summary"
	c.SummarizeError = nil
	c.SummarizeCalls = nil
}
