package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/stratumhq/stratum/internal/domain"
	"github.com/stratumhq/stratum/internal/resilience"
)

// Promotion constants
const (
	// Promotion signals, combined with OR
	DefaultHighThreshold          = 0.75 // Importance at or above this promotes
	DefaultReinforcementThreshold = 5    // Accesses at or above this promote

	// Forgetting
	DefaultLowThreshold = 0.15           // Importance below this is forgettable
	DefaultMinRetention = 24 * time.Hour // But never before this age

	// Knowledge write retry policy
	knowledgeWriteAttempts  = 3
	knowledgeWriteBaseDelay = 200 * time.Millisecond

	defaultPromotionInterval = 5 * time.Minute
	promotionRunTimeout      = 30 * time.Second
)

// keyFactMarkers promote a session regardless of score: phrasings that
// signal durable preferences or decisions.
var keyFactMarkers = []string{"always", "never", "prefers", "decided", "remember that"}

// SessionOutcome reports what a sweep decided for one session.
type SessionOutcome struct {
	SessionID string         `json:"session_id"`
	Outcome   domain.Outcome `json:"outcome"`
}

// PromotionResult contains the results of a promotion sweep.
type PromotionResult struct {
	Examined         int              `json:"examined"`
	Promoted         int              `json:"promoted"`
	SkippedDuplicate int              `json:"skipped_duplicate"`
	Dropped          int              `json:"dropped"`
	Expired          int              `json:"expired"`
	Kept             int              `json:"kept"`
	Skipped          bool             `json:"skipped,omitempty"`
	Sessions         []SessionOutcome `json:"sessions,omitempty"`
}

// PromotionService moves tier-1 sessions up to long-term knowledge or
// forgets them. Tier 1 is process-local, so a single in-process flight
// guard is enough to serialize sweeps.
type PromotionService struct {
	sessions  domain.SessionStore
	knowledge domain.KnowledgeStore
	breaker   *resilience.CircuitBreaker
	logger    *zap.Logger
	observer  PromotionObserver

	highThreshold          float64
	lowThreshold           float64
	reinforcementThreshold int
	minRetention           time.Duration

	// Background worker fields
	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup

	running atomic.Bool
}

// NewPromotionService creates a new promotion service.
func NewPromotionService(sessions domain.SessionStore, knowledge domain.KnowledgeStore, logger *zap.Logger) *PromotionService {
	return &PromotionService{
		sessions:               sessions,
		knowledge:              knowledge,
		breaker:                resilience.NewCircuitBreaker("knowledge", resilience.DefaultBreakerConfig(), logger),
		logger:                 logger,
		highThreshold:          DefaultHighThreshold,
		lowThreshold:           DefaultLowThreshold,
		reinforcementThreshold: DefaultReinforcementThreshold,
		minRetention:           DefaultMinRetention,
		interval:               defaultPromotionInterval,
		stopCh:                 make(chan struct{}),
	}
}

// SetInterval sets the background sweep interval.
func (s *PromotionService) SetInterval(d time.Duration) {
	if d > 0 {
		s.interval = d
	}
}

// SetHighThreshold sets the importance promotion signal.
func (s *PromotionService) SetHighThreshold(v float64) {
	if v > 0 {
		s.highThreshold = v
	}
}

// SetLowThreshold sets the forget signal.
func (s *PromotionService) SetLowThreshold(v float64) {
	if v >= 0 {
		s.lowThreshold = v
	}
}

// SetReinforcementThreshold sets the access-count promotion signal.
func (s *PromotionService) SetReinforcementThreshold(n int) {
	if n > 0 {
		s.reinforcementThreshold = n
	}
}

// SetMinRetention sets the minimum age before a session may be forgotten.
func (s *PromotionService) SetMinRetention(d time.Duration) {
	if d > 0 {
		s.minRetention = d
	}
}

// SetObserver wires a metrics hook for sweep outcomes.
func (s *PromotionService) SetObserver(o PromotionObserver) {
	s.observer = o
}

// Breaker exposes the knowledge-write circuit breaker for stats reporting.
func (s *PromotionService) Breaker() *resilience.CircuitBreaker {
	return s.breaker
}

// Start begins the background promotion worker.
func (s *PromotionService) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.logger.Info("promotion worker started", zap.Duration("interval", s.interval))

		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), promotionRunTimeout)
				s.runOnce(ctx)
				cancel()
			case <-s.stopCh:
				s.logger.Info("promotion worker stopped")
				return
			}
		}
	}()
}

// Stop gracefully stops the worker.
func (s *PromotionService) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *PromotionService) runOnce(ctx context.Context) {
	result, err := s.Promote(ctx)
	if err != nil {
		s.logger.Error("promotion sweep failed", zap.Error(err))
		return
	}
	if result.Promoted+result.Dropped+result.Expired > 0 {
		s.logger.Info("promotion sweep complete",
			zap.Int("examined", result.Examined),
			zap.Int("promoted", result.Promoted),
			zap.Int("skipped_duplicate", result.SkippedDuplicate),
			zap.Int("dropped", result.Dropped),
			zap.Int("expired", result.Expired))
	}
}

// Promote runs one sweep over tier 1: expire, then per unpromoted session
// forget, promote, or keep.
func (s *PromotionService) Promote(ctx context.Context) (*PromotionResult, error) {
	result := &PromotionResult{}

	if !s.running.CompareAndSwap(false, true) {
		result.Skipped = true
		return result, nil
	}
	defer s.running.Store(false)

	now := time.Now()

	expired, err := s.sessions.DeleteExpired(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("delete expired sessions: %w", err)
	}
	result.Expired = expired

	sessions, err := s.sessions.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	for i := range sessions {
		sess := &sessions[i]
		if sess.Promoted {
			continue
		}
		result.Examined++

		outcome := s.promoteOne(ctx, sess, now)
		switch outcome {
		case domain.OutcomePromoted:
			result.Promoted++
		case domain.OutcomeSkippedDuplicate:
			result.SkippedDuplicate++
		case domain.OutcomeDropped:
			result.Dropped++
		default:
			result.Kept++
		}
		result.Sessions = append(result.Sessions, SessionOutcome{
			SessionID: sess.ID,
			Outcome:   outcome,
		})
	}

	if s.observer != nil {
		s.observer.ObservePromotion(result)
	}
	return result, nil
}

// promoteOne decides one session's fate. Forgetting wins over promotion;
// the three promotion signals are ORed.
func (s *PromotionService) promoteOne(ctx context.Context, sess *domain.Session, now time.Time) domain.Outcome {
	score := domain.SessionScore(sess, now)

	if score < s.lowThreshold && sess.Age(now) > s.minRetention {
		if err := s.sessions.Remove(ctx, []string{sess.ID}); err != nil {
			s.logger.Warn("failed to forget session",
				zap.String("session_id", sess.ID),
				zap.Error(err))
			return domain.OutcomeKept
		}
		s.logger.Debug("session forgotten",
			zap.String("session_id", sess.ID),
			zap.Float64("score", score))
		return domain.OutcomeDropped
	}

	if score < s.highThreshold &&
		sess.AccessCount < s.reinforcementThreshold &&
		!matchesKeyFact(sess.Summary) {
		return domain.OutcomeKept
	}

	exists, err := s.knowledge.Exists(ctx, sess.Summary)
	if err != nil {
		s.logger.Warn("duplicate check failed, keeping session for next sweep",
			zap.String("session_id", sess.ID),
			zap.Error(err))
		return domain.OutcomeKept
	}

	if !exists {
		entry := &domain.KnowledgeEntry{
			Content:    sess.Summary,
			Scale:      domain.ScaleLong,
			Importance: score,
			SourceIDs:  sess.SourceItemIDs,
			Metadata:   map[string]string{"session_id": sess.ID},
		}
		err := resilience.Retry(ctx, knowledgeWriteAttempts, knowledgeWriteBaseDelay, func(ctx context.Context) error {
			return s.breaker.Execute(ctx, func(ctx context.Context) error {
				return s.knowledge.Store(ctx, entry)
			})
		})
		if err != nil {
			s.logger.Warn("knowledge write failed, keeping session for next sweep",
				zap.String("session_id", sess.ID),
				zap.Error(err))
			return domain.OutcomeKept
		}
	}

	// Promoted either way: the knowledge tier now holds this summary.
	// Mark first so a failed removal cannot cause a second write.
	if err := s.sessions.MarkPromoted(ctx, []string{sess.ID}); err != nil {
		s.logger.Warn("failed to mark session promoted",
			zap.String("session_id", sess.ID),
			zap.Error(err))
	}
	if err := s.sessions.Remove(ctx, []string{sess.ID}); err != nil {
		s.logger.Warn("failed to evict promoted session",
			zap.String("session_id", sess.ID),
			zap.Error(err))
	}

	if exists {
		s.logger.Debug("session already in knowledge tier",
			zap.String("session_id", sess.ID))
		return domain.OutcomeSkippedDuplicate
	}

	s.logger.Debug("session promoted",
		zap.String("session_id", sess.ID),
		zap.Float64("score", score))
	return domain.OutcomePromoted
}

func matchesKeyFact(summary string) bool {
	lowered := strings.ToLower(summary)
	for _, marker := range keyFactMarkers {
		if strings.Contains(lowered, marker) {
			return true
		}
	}
	return false
}
