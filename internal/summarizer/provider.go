package summarizer

import (
	"fmt"
	"strings"

	"github.com/stratumhq/stratum/internal/domain"
)

// Supported providers.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
	ProviderCerebras  = "cerebras"
	ProviderMock      = "mock"
)

// keyEnv names the environment variable each hosted provider reads its
// API key from, mirroring config.SummarizerAPIKey.
var keyEnv = map[string]string{
	ProviderOpenAI:    "OPENAI_API_KEY",
	ProviderAnthropic: "ANTHROPIC_API_KEY",
	ProviderGemini:    "GEMINI_API_KEY",
	ProviderCerebras:  "CEREBRAS_API_KEY",
}

// NewClient builds the summarizer named by provider. Hosted providers
// need an API key; mock does not.
func NewClient(provider, apiKey string) (domain.Summarizer, error) {
	if provider == ProviderMock {
		return NewMockClient(), nil
	}
	if env, ok := keyEnv[provider]; ok && apiKey == "" {
		return nil, fmt.Errorf("%s is required for the %s summarizer", env, provider)
	}

	switch provider {
	case ProviderOpenAI:
		return NewOpenAIClient(apiKey), nil
	case ProviderAnthropic:
		return NewAnthropicClient(apiKey), nil
	case ProviderGemini:
		return NewGeminiClient(apiKey), nil
	case ProviderCerebras:
		return NewCerebrasClient(apiKey), nil
	default:
		return nil, fmt.Errorf("unknown summarizer provider: %s (valid options: openai, anthropic, gemini, cerebras, mock)", provider)
	}
}

// formatItems renders a batch as a numbered list tagged with importance
// weights for the prompt.
func formatItems(items []domain.Item) string {
	var sb strings.Builder
	for i, it := range items {
		sb.WriteString(fmt.Sprintf("%d. [%.2f] %s\n", i+1, it.Importance, it.Content))
	}
	return sb.String()
}
