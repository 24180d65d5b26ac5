package domain

import (
	"context"
	"time"
)

// WorkingLogStore is the tier-0 collaborator: a durable, ordered,
// append-only log with store-assigned ids.
type WorkingLogStore interface {
	Append(ctx context.Context, it *Item) (string, error)
	Recent(ctx context.Context, k int) ([]Item, error)
	Unconsolidated(ctx context.Context, limit int) ([]Item, error)
	MarkConsolidated(ctx context.Context, ids []string) error
	RecordAccess(ctx context.Context, ids []string) error
	Clear(ctx context.Context) error
	Len(ctx context.Context) (int64, error)
	Trim(ctx context.Context, maxLen int64) error
	OldestUnconsolidatedAge(ctx context.Context, now time.Time) (time.Duration, bool, error)
}

// SessionStore is the tier-1 collaborator. Implementations are in-process
// and must be safe for concurrent use.
type SessionStore interface {
	Put(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	Touch(ctx context.Context, id string) error
	List(ctx context.Context) ([]Session, error)
	MarkPromoted(ctx context.Context, ids []string) error
	Remove(ctx context.Context, ids []string) error
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
	Len(ctx context.Context) (int, error)
}

// ConsolidationLock is the mutual-exclusion collaborator: set-if-absent
// with a TTL so a crashed holder cannot wedge consolidation.
type ConsolidationLock interface {
	Acquire(ctx context.Context, ttl time.Duration) (bool, error)
	Release(ctx context.Context) error
}

// KnowledgeStore is the tier-2 collaborator. Search covers semantic
// retrieval, KeywordSearch lexical retrieval; Related expands graph
// neighborhoods of a known entry.
type KnowledgeStore interface {
	Store(ctx context.Context, e *KnowledgeEntry) error
	Exists(ctx context.Context, content string) (bool, error)
	Search(ctx context.Context, query string, limit int) ([]ScoredEntry, error)
	KeywordSearch(ctx context.Context, query string, limit int) ([]ScoredEntry, error)
	Related(ctx context.Context, id string, limit int) ([]ScoredEntry, error)
}

// Summarizer condenses a batch of items into one mid-scale summary.
type Summarizer interface {
	Summarize(ctx context.Context, items []Item) (string, error)
}

// Embedder turns text into a vector for semantic comparison.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
