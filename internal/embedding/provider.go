package embedding

import (
	"fmt"

	"github.com/stratumhq/stratum/internal/domain"
)

// Supported providers.
const (
	ProviderOpenAI = "openai"
	ProviderMock   = "mock"
)

// NewClient builds the embedder named by provider. Mock needs no key
// and is the default for tests and local development.
func NewClient(provider, apiKey string) (domain.Embedder, error) {
	switch provider {
	case ProviderOpenAI:
		if apiKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required for the openai embedding provider")
		}
		return NewOpenAIClient(apiKey), nil
	case ProviderMock:
		return NewMockClient(), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s (valid options: openai, mock)", provider)
	}
}
