package knowledge

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stratumhq/stratum/internal/domain"
)

// Provider constants
const (
	ProviderHTTP     = "http"
	ProviderPostgres = "postgres"
	ProviderMock     = "mock"
)

// New creates a knowledge backend based on the provider name.
// Returns an error when the provider is unknown or its configuration is missing.
func New(provider, baseURL, apiKey string, pool *pgxpool.Pool, embedder domain.Embedder) (domain.KnowledgeStore, error) {
	switch provider {
	case ProviderHTTP:
		if baseURL == "" {
			return nil, fmt.Errorf("KNOWLEDGE_BASE_URL is required for http knowledge provider")
		}
		return NewHTTPStore(baseURL, apiKey), nil

	case ProviderPostgres:
		if pool == nil {
			return nil, fmt.Errorf("DATABASE_URL is required for postgres knowledge provider")
		}
		if embedder == nil {
			return nil, fmt.Errorf("embedder is required for postgres knowledge provider")
		}
		return NewPostgresStore(pool, embedder), nil

	case ProviderMock:
		return NewMockStore(), nil

	default:
		return nil, fmt.Errorf("unknown knowledge provider: %s (valid options: http, postgres, mock)", provider)
	}
}
