package domain

import (
	"time"
)

type Tier string

const (
	TierWorking   Tier = "working"   // tier 0: raw append-only log
	TierSession   Tier = "session"   // tier 1: consolidated mid-scale summaries
	TierKnowledge Tier = "knowledge" // tier 2: long-term knowledge
)

func ValidTier(t string) bool {
	switch Tier(t) {
	case TierWorking, TierSession, TierKnowledge:
		return true
	}
	return false
}

// Item is a single tier-0 record. IDs are assigned by the working log store
// and strictly increase in append order within a tenant.
type Item struct {
	ID             string            `json:"id"`
	Content        string            `json:"content"`
	Importance     float64           `json:"importance"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	AccessCount    int               `json:"access_count"`
	Consolidated   bool              `json:"consolidated"`
	CreatedAt      time.Time         `json:"created_at"`
	LastAccessedAt *time.Time        `json:"last_accessed_at,omitempty"`
}

// Age returns time since last access, falling back to creation time.
func (it *Item) Age(now time.Time) time.Duration {
	if it.LastAccessedAt != nil {
		return now.Sub(*it.LastAccessedAt)
	}
	return now.Sub(it.CreatedAt)
}
