package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/stratumhq/stratum/internal/domain"
	"github.com/stratumhq/stratum/internal/resilience"
)

// Consolidation constants
const (
	// Batch triggers
	DefaultBatchThreshold = 15               // Consolidate once this many items wait
	DefaultMaxBatchAge    = 10 * time.Minute // Or once the oldest item has waited this long

	// Locking
	DefaultLockTTL = 60 * time.Second

	// Filtering
	DefaultImportanceThreshold = 0.2 // Items scoring below this are dropped

	// Fallback summary shape
	fallbackSnippetLen = 120
	fallbackMaxLen     = 2000

	// Summarizer retry policy
	summarizerAttempts  = 3
	summarizerBaseDelay = 200 * time.Millisecond

	defaultConsolidationInterval = time.Minute
	consolidationRunTimeout      = 45 * time.Second
)

// ConsolidationState names the coordinator's position in its run cycle.
// Reported through engine stats.
type ConsolidationState string

const (
	StateIdle         ConsolidationState = "idle"
	StateBatchReady   ConsolidationState = "batch_ready"
	StateLockAcquired ConsolidationState = "lock_acquired"
	StateSummarizing  ConsolidationState = "summarizing"
	StateCommitting   ConsolidationState = "committing"
)

// ConsolidationResult contains the results of a consolidation run.
type ConsolidationResult struct {
	Outcome       domain.Outcome `json:"outcome"`
	SessionID     string         `json:"session_id,omitempty"`
	ItemsExamined int            `json:"items_examined"`
	ItemsDropped  int            `json:"items_dropped"`
	UsedFallback  bool           `json:"used_fallback"`
	DurationMS    int64          `json:"duration_ms"`
}

// ConsolidationService folds batches of working-log items into tier-1
// sessions. Runs are serialized by a distributed lock, so concurrent
// workers over the same tenant produce exactly one session per batch.
type ConsolidationService struct {
	workingLog domain.WorkingLogStore
	sessions   domain.SessionStore
	knowledge  domain.KnowledgeStore
	summarizer domain.Summarizer
	lock       domain.ConsolidationLock
	breaker    *resilience.CircuitBreaker
	logger     *zap.Logger
	observer   ConsolidationObserver

	batchThreshold      int
	maxBatchAge         time.Duration
	lockTTL             time.Duration
	importanceThreshold float64

	// Background worker fields
	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup

	// Collapses triggered runs racing the ticker
	running atomic.Bool

	// Holds the current ConsolidationState
	state atomic.Value
}

// NewConsolidationService creates a new consolidation service.
func NewConsolidationService(
	workingLog domain.WorkingLogStore,
	sessions domain.SessionStore,
	knowledge domain.KnowledgeStore,
	summarizer domain.Summarizer,
	lock domain.ConsolidationLock,
	logger *zap.Logger,
) *ConsolidationService {
	return &ConsolidationService{
		workingLog:          workingLog,
		sessions:            sessions,
		knowledge:           knowledge,
		summarizer:          summarizer,
		lock:                lock,
		breaker:             resilience.NewCircuitBreaker("summarizer", resilience.DefaultBreakerConfig(), logger),
		logger:              logger,
		batchThreshold:      DefaultBatchThreshold,
		maxBatchAge:         DefaultMaxBatchAge,
		lockTTL:             DefaultLockTTL,
		importanceThreshold: DefaultImportanceThreshold,
		interval:            defaultConsolidationInterval,
		stopCh:              make(chan struct{}),
	}
}

// SetInterval sets the background worker interval.
func (s *ConsolidationService) SetInterval(d time.Duration) {
	if d > 0 {
		s.interval = d
	}
}

// SetBatchThreshold sets the batch size trigger.
func (s *ConsolidationService) SetBatchThreshold(n int) {
	if n > 0 {
		s.batchThreshold = n
	}
}

// SetMaxBatchAge sets the age trigger for undersized batches.
func (s *ConsolidationService) SetMaxBatchAge(d time.Duration) {
	if d > 0 {
		s.maxBatchAge = d
	}
}

// SetLockTTL sets the distributed lock TTL.
func (s *ConsolidationService) SetLockTTL(d time.Duration) {
	if d > 0 {
		s.lockTTL = d
	}
}

// SetImportanceThreshold sets the drop threshold for low-scoring items.
func (s *ConsolidationService) SetImportanceThreshold(v float64) {
	if v >= 0 {
		s.importanceThreshold = v
	}
}

// BatchThreshold returns the batch size trigger.
func (s *ConsolidationService) BatchThreshold() int {
	return s.batchThreshold
}

// SetObserver wires a metrics hook for run outcomes.
func (s *ConsolidationService) SetObserver(o ConsolidationObserver) {
	s.observer = o
}

// Breaker exposes the summarizer circuit breaker for stats reporting.
func (s *ConsolidationService) Breaker() *resilience.CircuitBreaker {
	return s.breaker
}

// State reports where the coordinator is in its run cycle.
func (s *ConsolidationService) State() ConsolidationState {
	if v, ok := s.state.Load().(ConsolidationState); ok {
		return v
	}
	return StateIdle
}

func (s *ConsolidationService) setState(next ConsolidationState) {
	prev := s.State()
	if prev == next {
		return
	}
	s.state.Store(next)
	s.logger.Debug("consolidation state",
		zap.String("from", string(prev)),
		zap.String("to", string(next)))
}

// Start begins the background consolidation worker.
func (s *ConsolidationService) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.logger.Info("consolidation worker started", zap.Duration("interval", s.interval))

		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), consolidationRunTimeout)
				s.runOnce(ctx)
				cancel()
			case <-s.stopCh:
				s.logger.Info("consolidation worker stopped")
				return
			}
		}
	}()
}

// Stop halts the background consolidation worker.
func (s *ConsolidationService) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *ConsolidationService) runOnce(ctx context.Context) {
	result, err := s.Consolidate(ctx)
	if err != nil {
		s.logger.Error("consolidation failed", zap.Error(err))
		return
	}
	if result.Outcome != domain.OutcomeConsolidated {
		s.logger.Debug("consolidation skipped", zap.String("outcome", string(result.Outcome)))
	}
}

// Consolidate runs one consolidation pass: trigger check, lock, filter,
// summarize, commit. Skips are reported through the outcome, not errors.
func (s *ConsolidationService) Consolidate(ctx context.Context) (*ConsolidationResult, error) {
	result, err := s.consolidate(ctx)
	if err == nil && s.observer != nil {
		s.observer.ObserveConsolidation(result)
	}
	return result, err
}

func (s *ConsolidationService) consolidate(ctx context.Context) (*ConsolidationResult, error) {
	start := time.Now()
	result := &ConsolidationResult{Outcome: domain.OutcomeSkippedNoBatch}
	defer func() { result.DurationMS = time.Since(start).Milliseconds() }()

	if !s.running.CompareAndSwap(false, true) {
		result.Outcome = domain.OutcomeSkippedLockBusy
		return result, nil
	}
	defer s.running.Store(false)
	defer s.setState(StateIdle)

	batch, err := s.workingLog.Unconsolidated(ctx, s.batchThreshold)
	if err != nil {
		return nil, fmt.Errorf("fetch batch: %w", err)
	}
	ready, err := s.batchReady(ctx, batch)
	if err != nil {
		return nil, err
	}
	if !ready {
		return result, nil
	}
	s.setState(StateBatchReady)

	acquired, err := s.lock.Acquire(ctx, s.lockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !acquired {
		s.logger.Debug("consolidation lock busy")
		result.Outcome = domain.OutcomeSkippedLockBusy
		return result, nil
	}
	s.setState(StateLockAcquired)
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.lock.Release(releaseCtx); err != nil {
			s.logger.Warn("failed to release consolidation lock", zap.Error(err))
		}
	}()

	// Re-read under the lock: another worker may have consumed the batch
	// between the trigger check and the acquire.
	batch, err = s.workingLog.Unconsolidated(ctx, s.batchThreshold)
	if err != nil {
		return nil, fmt.Errorf("revalidate batch: %w", err)
	}
	if len(batch) == 0 {
		return result, nil
	}

	result.ItemsExamined = len(batch)
	now := time.Now()
	batchIDs := itemIDs(batch)

	kept, dropped := s.splitByScore(batch, now)
	result.ItemsDropped = len(dropped)

	if len(kept) == 0 {
		// Everything scored below the threshold. Mark the batch consumed
		// so the same noise is not re-examined forever.
		if err := s.workingLog.MarkConsolidated(ctx, batchIDs); err != nil {
			return nil, fmt.Errorf("mark consolidated: %w", err)
		}
		result.Outcome = domain.OutcomeDropped
		return result, nil
	}

	s.setState(StateSummarizing)
	summary, usedFallback := s.summarizeBatch(ctx, kept)
	result.UsedFallback = usedFallback

	s.setState(StateCommitting)
	sess := &domain.Session{
		ID:            ulid.Make().String(),
		Summary:       summary,
		SourceItemIDs: itemIDs(kept),
		Importance:    maxScore(kept, now),
		CreatedAt:     now,
	}
	if err := s.sessions.Put(ctx, sess); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}

	if err := s.workingLog.MarkConsolidated(ctx, batchIDs); err != nil {
		// The session exists. The batch will be re-examined next pass and
		// deduplicated downstream, so keep the session and move on.
		s.logger.Warn("failed to mark batch consolidated", zap.Error(err))
	}

	// Forward a mid-scale copy to the knowledge tier, best effort.
	_ = s.knowledge.Store(ctx, &domain.KnowledgeEntry{
		Content:    summary,
		Scale:      domain.ScaleMid,
		Importance: sess.Importance,
		SourceIDs:  sess.SourceItemIDs,
		Metadata:   map[string]string{"session_id": sess.ID},
	})

	result.Outcome = domain.OutcomeConsolidated
	result.SessionID = sess.ID

	s.logger.Info("consolidation complete",
		zap.String("session_id", sess.ID),
		zap.Int("items_examined", result.ItemsExamined),
		zap.Int("items_dropped", result.ItemsDropped),
		zap.Bool("used_fallback", result.UsedFallback))

	return result, nil
}

// batchReady reports whether the batch satisfies the size trigger or the
// age trigger.
func (s *ConsolidationService) batchReady(ctx context.Context, batch []domain.Item) (bool, error) {
	if len(batch) >= s.batchThreshold {
		return true, nil
	}
	if len(batch) == 0 {
		return false, nil
	}

	age, ok, err := s.workingLog.OldestUnconsolidatedAge(ctx, time.Now())
	if err != nil {
		return false, fmt.Errorf("check batch age: %w", err)
	}
	return ok && age >= s.maxBatchAge, nil
}

func (s *ConsolidationService) splitByScore(batch []domain.Item, now time.Time) (kept, dropped []domain.Item) {
	for _, it := range batch {
		if domain.ItemScore(&it, now) < s.importanceThreshold {
			dropped = append(dropped, it)
			continue
		}
		kept = append(kept, it)
	}
	return kept, dropped
}

// summarizeBatch asks the summarizer, retrying transient failures behind
// the circuit breaker. Any terminal failure degrades to the rule-based
// fallback; consolidation never blocks on the summarizer being down.
func (s *ConsolidationService) summarizeBatch(ctx context.Context, items []domain.Item) (string, bool) {
	var summary string
	err := resilience.Retry(ctx, summarizerAttempts, summarizerBaseDelay, func(ctx context.Context) error {
		return s.breaker.Execute(ctx, func(ctx context.Context) error {
			out, err := s.summarizer.Summarize(ctx, items)
			if err != nil {
				return err
			}
			summary = out
			return nil
		})
	})
	if err != nil {
		s.logger.Warn("summarizer failed, using fallback",
			zap.Int("items", len(items)),
			zap.Error(err))
		return fallbackSummary(items), true
	}
	if strings.TrimSpace(summary) == "" {
		return fallbackSummary(items), true
	}
	return summary, false
}

// fallbackSummary concatenates clipped item snippets. Deterministic and
// always available.
func fallbackSummary(items []domain.Item) string {
	parts := make([]string, 0, len(items))
	for _, it := range items {
		content := strings.TrimSpace(it.Content)
		if r := []rune(content); len(r) > fallbackSnippetLen {
			content = string(r[:fallbackSnippetLen])
		}
		parts = append(parts, content)
	}

	out := strings.Join(parts, "; ")
	if r := []rune(out); len(r) > fallbackMaxLen {
		out = string(r[:fallbackMaxLen])
	}
	return out
}

func maxScore(items []domain.Item, now time.Time) float64 {
	var best float64
	for i := range items {
		if score := domain.ItemScore(&items[i], now); score > best {
			best = score
		}
	}
	return best
}

func itemIDs(items []domain.Item) []string {
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	return ids
}
