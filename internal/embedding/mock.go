package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"unicode"
)

const mockDim = 256

// MockClient embeds deterministically by hashing tokens into a fixed-size
// vector. Texts sharing tokens land close together under cosine distance,
// which is enough for tests and local development.
type MockClient struct {
	mu         sync.Mutex
	EmbedError error

	// Call tracking for assertions
	EmbedCalls []string
}

func NewMockClient() *MockClient {
	return &MockClient{}
}

func (c *MockClient) Embed(ctx context.Context, text string) ([]float32, error) {
	c.mu.Lock()
	c.EmbedCalls = append(c.EmbedCalls, text)
	err := c.EmbedError
	c.mu.Unlock()

	if err != nil {
		return nil, err
	}

	vec := make([]float32, mockDim)
	for _, tok := range tokens(text) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		vec[h.Sum32()%mockDim]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec, nil
}

func (c *MockClient) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.EmbedError = nil
	c.EmbedCalls = nil
}

func tokens(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
