package knowledge

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stratumhq/stratum/internal/domain"
)

// MockStore is an in-memory knowledge backend for tests and local
// development. Set the response fields to control what each method
// returns; without them Search and Related score by keyword overlap
// against the stored entries.
type MockStore struct {
	mu sync.Mutex

	StoreError         error
	ExistsError        error
	SearchError        error
	KeywordSearchError error
	RelatedError       error

	SearchResponse        []domain.ScoredEntry
	KeywordSearchResponse []domain.ScoredEntry
	RelatedResponse       []domain.ScoredEntry

	// Call tracking for assertions
	StoreCalls         []domain.KnowledgeEntry
	ExistsCalls        []string
	SearchCalls        []string
	KeywordSearchCalls []string
	RelatedCalls       []string

	entries []domain.KnowledgeEntry
}

func NewMockStore() *MockStore {
	return &MockStore{}
}

func (m *MockStore) Store(ctx context.Context, e *domain.KnowledgeEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.StoreCalls = append(m.StoreCalls, *e)
	if m.StoreError != nil {
		return m.StoreError
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	m.entries = append(m.entries, *e)
	return nil
}

func (m *MockStore) Exists(ctx context.Context, content string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ExistsCalls = append(m.ExistsCalls, content)
	if m.ExistsError != nil {
		return false, m.ExistsError
	}

	needle := normalize(content)
	for _, e := range m.entries {
		if normalize(e.Content) == needle {
			return true, nil
		}
	}
	return false, nil
}

func (m *MockStore) Search(ctx context.Context, query string, limit int) ([]domain.ScoredEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.SearchCalls = append(m.SearchCalls, query)
	if m.SearchError != nil {
		return nil, m.SearchError
	}
	if m.SearchResponse != nil {
		return m.SearchResponse, nil
	}
	if limit <= 0 {
		limit = 10
	}
	return m.rankByOverlap(query, "", limit), nil
}

func (m *MockStore) KeywordSearch(ctx context.Context, query string, limit int) ([]domain.ScoredEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.KeywordSearchCalls = append(m.KeywordSearchCalls, query)
	if m.KeywordSearchError != nil {
		return nil, m.KeywordSearchError
	}
	if m.KeywordSearchResponse != nil {
		return m.KeywordSearchResponse, nil
	}
	if limit <= 0 {
		limit = 10
	}
	return m.rankByOverlap(query, "", limit), nil
}

func (m *MockStore) Related(ctx context.Context, id string, limit int) ([]domain.ScoredEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.RelatedCalls = append(m.RelatedCalls, id)
	if m.RelatedError != nil {
		return nil, m.RelatedError
	}
	if m.RelatedResponse != nil {
		return m.RelatedResponse, nil
	}
	if limit <= 0 {
		limit = 5
	}

	var target *domain.KnowledgeEntry
	for i := range m.entries {
		if m.entries[i].ID == id {
			target = &m.entries[i]
			break
		}
	}
	if target == nil {
		return nil, domain.ErrNotFound
	}
	return m.rankByOverlap(target.Content, id, limit), nil
}

// Entries returns a copy of everything stored so far.
func (m *MockStore) Entries() []domain.KnowledgeEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.KnowledgeEntry(nil), m.entries...)
}

func (m *MockStore) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StoreError = nil
	m.ExistsError = nil
	m.SearchError = nil
	m.KeywordSearchError = nil
	m.RelatedError = nil
	m.SearchResponse = nil
	m.KeywordSearchResponse = nil
	m.RelatedResponse = nil
	m.StoreCalls = nil
	m.ExistsCalls = nil
	m.SearchCalls = nil
	m.KeywordSearchCalls = nil
	m.RelatedCalls = nil
	m.entries = nil
}

// rankByOverlap scores entries by the fraction of query tokens they
// contain. Caller holds m.mu.
func (m *MockStore) rankByOverlap(query, excludeID string, limit int) []domain.ScoredEntry {
	queryTokens := strings.Fields(normalize(query))
	if len(queryTokens) == 0 {
		return []domain.ScoredEntry{}
	}

	var out []domain.ScoredEntry
	for _, e := range m.entries {
		if e.ID == excludeID {
			continue
		}
		content := normalize(e.Content)
		matched := 0
		for _, tok := range queryTokens {
			if strings.Contains(content, tok) {
				matched++
			}
		}
		if matched == 0 {
			continue
		}
		out = append(out, domain.ScoredEntry{
			Entry: e,
			Score: float64(matched) / float64(len(queryTokens)),
		})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
