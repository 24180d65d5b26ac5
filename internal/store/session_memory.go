package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/stratumhq/stratum/internal/domain"
)

// SessionMemoryStore is the in-process tier-1 store for one tenant. TTL
// is measured from last access; overflow evicts the session with the
// lowest current importance.
type SessionMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session
	capacity int
	ttl      time.Duration
	now      func() time.Time
}

func NewSessionMemoryStore(capacity int, ttl time.Duration) *SessionMemoryStore {
	if capacity <= 0 {
		capacity = 512
	}
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &SessionMemoryStore{
		sessions: make(map[string]*domain.Session),
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
	}
}

// SetClock overrides the clock. Tests only.
func (s *SessionMemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Put stores a copy of the session. Overflow evicts the least important
// session, which may be the one just inserted.
func (s *SessionMemoryStore) Put(ctx context.Context, sess *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *sess
	cp.SourceItemIDs = append([]string(nil), sess.SourceItemIDs...)
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = s.now()
	}
	s.sessions[cp.ID] = &cp

	for len(s.sessions) > s.capacity {
		s.evictLeastImportant()
	}
	return nil
}

// evictLeastImportant removes the session with the lowest current score.
// Caller holds s.mu.
func (s *SessionMemoryStore) evictLeastImportant() {
	now := s.now()
	var victim string
	lowest := 2.0
	for id, sess := range s.sessions {
		score := domain.SessionScore(sess, now)
		if score < lowest {
			lowest = score
			victim = id
		}
	}
	if victim != "" {
		delete(s.sessions, victim)
	}
}

// Get returns a copy and reinforces the session: access count increments
// and the access timestamp refreshes.
func (s *SessionMemoryStore) Get(ctx context.Context, id string) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}

	now := s.now()
	sess.AccessCount++
	sess.LastAccessedAt = &now

	cp := *sess
	cp.SourceItemIDs = append([]string(nil), sess.SourceItemIDs...)
	return &cp, nil
}

// Touch reinforces without returning the session.
func (s *SessionMemoryStore) Touch(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return domain.ErrNotFound
	}
	now := s.now()
	sess.AccessCount++
	sess.LastAccessedAt = &now
	return nil
}

// List returns copies of all sessions ordered by id (creation order for
// ULIDs). Listing does not reinforce.
func (s *SessionMemoryStore) List(ctx context.Context) ([]domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		cp := *sess
		cp.SourceItemIDs = append([]string(nil), sess.SourceItemIDs...)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// MarkPromoted flags the given sessions. Unknown ids and re-marking are
// no-ops.
func (s *SessionMemoryStore) MarkPromoted(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		if sess, ok := s.sessions[id]; ok {
			sess.Promoted = true
		}
	}
	return nil
}

func (s *SessionMemoryStore) Remove(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		delete(s.sessions, id)
	}
	return nil
}

// DeleteExpired removes sessions idle past the TTL and returns the count.
func (s *SessionMemoryStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, sess := range s.sessions {
		if sess.Age(now) > s.ttl {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed, nil
}

func (s *SessionMemoryStore) Len(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions), nil
}
