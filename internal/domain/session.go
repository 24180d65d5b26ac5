package domain

import (
	"time"
)

// Session is a tier-1 record: a summary consolidated from a batch of tier-0
// items. IDs are ULIDs, so lexicographic order follows creation order.
type Session struct {
	ID             string     `json:"id"`
	Summary        string     `json:"summary"`
	SourceItemIDs  []string   `json:"source_item_ids"`
	Importance     float64    `json:"importance"`
	AccessCount    int        `json:"access_count"`
	Promoted       bool       `json:"promoted"`
	CreatedAt      time.Time  `json:"created_at"`
	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty"`
}

func (s *Session) Age(now time.Time) time.Duration {
	if s.LastAccessedAt != nil {
		return now.Sub(*s.LastAccessedAt)
	}
	return now.Sub(s.CreatedAt)
}

// KnowledgeScale marks how far up the hierarchy an entry was produced.
type KnowledgeScale string

const (
	ScaleMid  KnowledgeScale = "mid"  // forwarded at consolidation time
	ScaleLong KnowledgeScale = "long" // promoted from tier 1
)

// KnowledgeEntry is the unit stored in the long-term knowledge collaborator.
type KnowledgeEntry struct {
	ID         string            `json:"id"`
	Content    string            `json:"content"`
	Scale      KnowledgeScale    `json:"scale"`
	Importance float64           `json:"importance"`
	SourceIDs  []string          `json:"source_ids,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// ScoredEntry pairs a knowledge entry with the backend's relevance score.
type ScoredEntry struct {
	Entry KnowledgeEntry `json:"entry"`
	Score float64        `json:"score"`
}
