package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/stratumhq/stratum/internal/domain"
	"github.com/stratumhq/stratum/internal/knowledge"
	"github.com/stratumhq/stratum/internal/resilience"
	"github.com/stratumhq/stratum/internal/store"
	"github.com/stratumhq/stratum/internal/summarizer"
)

type consolidationFixture struct {
	mr         *miniredis.Miniredis
	client     *redis.Client
	workingLog *store.WorkingLogStore
	sessions   *store.SessionMemoryStore
	knowledge  *knowledge.MockStore
	summarizer *summarizer.MockClient
	svc        *ConsolidationService
}

func newConsolidationFixture(t *testing.T) *consolidationFixture {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := &consolidationFixture{
		mr:         mr,
		client:     client,
		workingLog: store.NewWorkingLogStore(client, "tenant-a", 1000),
		sessions:   store.NewSessionMemoryStore(64, 30*24*time.Hour),
		knowledge:  knowledge.NewMockStore(),
		summarizer: summarizer.NewMockClient(),
	}
	f.summarizer.SummarizeResponse = "batch summary"

	f.svc = NewConsolidationService(
		f.workingLog,
		f.sessions,
		f.knowledge,
		f.summarizer,
		store.NewConsolidationLock(client, "tenant-a"),
		zap.NewNop(),
	)
	f.svc.SetBatchThreshold(3)
	return f
}

func (f *consolidationFixture) appendItems(t *testing.T, n int, importance float64) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := f.workingLog.Append(context.Background(), &domain.Item{
			Content:    fmt.Sprintf("observation %d", i+1),
			Importance: importance,
		})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
	}
}

func (f *consolidationFixture) unconsolidatedCount(t *testing.T) int {
	t.Helper()
	items, err := f.workingLog.Unconsolidated(context.Background(), 100)
	if err != nil {
		t.Fatalf("unconsolidated: %v", err)
	}
	return len(items)
}

func TestConsolidationService_Consolidate_EmptyLog(t *testing.T) {
	f := newConsolidationFixture(t)

	result, err := f.svc.Consolidate(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Outcome != domain.OutcomeSkippedNoBatch {
		t.Errorf("expected skipped_no_batch, got %s", result.Outcome)
	}
	if f.summarizer.CallCount() != 0 {
		t.Errorf("summarizer should not run on an empty log")
	}
}

func TestConsolidationService_Consolidate_BelowThreshold(t *testing.T) {
	f := newConsolidationFixture(t)
	f.appendItems(t, 2, 0.8)

	result, err := f.svc.Consolidate(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Outcome != domain.OutcomeSkippedNoBatch {
		t.Errorf("expected skipped_no_batch, got %s", result.Outcome)
	}
	if n, _ := f.sessions.Len(context.Background()); n != 0 {
		t.Errorf("expected 0 sessions, got %d", n)
	}
	if got := f.unconsolidatedCount(t); got != 2 {
		t.Errorf("fresh items should stay unconsolidated, got %d", got)
	}
}

func TestConsolidationService_ConsolidateBatch(t *testing.T) {
	f := newConsolidationFixture(t)
	f.appendItems(t, 3, 0.8)

	result, err := f.svc.Consolidate(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Outcome != domain.OutcomeConsolidated {
		t.Fatalf("expected consolidated, got %s", result.Outcome)
	}
	if result.SessionID == "" {
		t.Error("expected a session id")
	}
	if result.ItemsExamined != 3 {
		t.Errorf("expected 3 items examined, got %d", result.ItemsExamined)
	}
	if result.ItemsDropped != 0 {
		t.Errorf("expected 0 items dropped, got %d", result.ItemsDropped)
	}
	if result.UsedFallback {
		t.Error("summarizer succeeded, fallback should not be used")
	}

	sessions, err := f.sessions.List(context.Background())
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("expected 1 session, got %d", len(sessions))
	}
	sess := sessions[0]
	if sess.ID != result.SessionID {
		t.Errorf("result session id %s does not match stored %s", result.SessionID, sess.ID)
	}
	if sess.Summary != "batch summary" {
		t.Errorf("unexpected summary %q", sess.Summary)
	}
	if len(sess.SourceItemIDs) != 3 {
		t.Errorf("expected 3 source items, got %d", len(sess.SourceItemIDs))
	}
	// Fresh items barely decay, so importance tracks the batch max.
	if sess.Importance < 0.75 || sess.Importance > 0.85 {
		t.Errorf("expected importance near 0.8, got %f", sess.Importance)
	}

	if got := f.unconsolidatedCount(t); got != 0 {
		t.Errorf("batch should be marked consolidated, %d items still pending", got)
	}

	// A mid-scale copy lands in the knowledge tier.
	if len(f.knowledge.StoreCalls) != 1 {
		t.Fatalf("expected 1 knowledge forward, got %d", len(f.knowledge.StoreCalls))
	}
	forwarded := f.knowledge.StoreCalls[0]
	if forwarded.Scale != domain.ScaleMid {
		t.Errorf("expected mid scale, got %s", forwarded.Scale)
	}
	if forwarded.Content != "batch summary" {
		t.Errorf("unexpected forwarded content %q", forwarded.Content)
	}
	if len(forwarded.SourceIDs) != 3 {
		t.Errorf("expected 3 source ids on forward, got %d", len(forwarded.SourceIDs))
	}

	// The run released its lock.
	probe := store.NewConsolidationLock(f.client, "tenant-a")
	acquired, err := probe.Acquire(context.Background(), time.Minute)
	if err != nil {
		t.Fatalf("probe acquire: %v", err)
	}
	if !acquired {
		t.Error("lock should be free after a completed run")
	}
}

func TestConsolidationService_ConsumesOneBatchPerRun(t *testing.T) {
	f := newConsolidationFixture(t)
	f.appendItems(t, 5, 0.8)

	result, err := f.svc.Consolidate(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Outcome != domain.OutcomeConsolidated {
		t.Fatalf("expected consolidated, got %s", result.Outcome)
	}
	if result.ItemsExamined != 3 {
		t.Errorf("expected batch capped at threshold 3, got %d", result.ItemsExamined)
	}
	if got := f.unconsolidatedCount(t); got != 2 {
		t.Errorf("expected 2 items left for the next run, got %d", got)
	}

	sessions, err := f.sessions.List(context.Background())
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 1 || len(sessions[0].SourceItemIDs) != 3 {
		t.Fatalf("expected one session citing 3 items, got %d sessions", len(sessions))
	}

	// The remainder is below both triggers, so a second run is a no-op.
	second, err := f.svc.Consolidate(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.Outcome != domain.OutcomeSkippedNoBatch {
		t.Errorf("expected skipped_no_batch on the remainder, got %s", second.Outcome)
	}
	if n, _ := f.sessions.Len(context.Background()); n != 1 {
		t.Errorf("second run must not create a session, have %d", n)
	}
}

func TestConsolidationService_AgeTriggerBeatsSize(t *testing.T) {
	f := newConsolidationFixture(t)

	// One item, but older than the max batch age.
	_, err := f.workingLog.Append(context.Background(), &domain.Item{
		Content:    "stale observation",
		Importance: 0.8,
		CreatedAt:  time.Now().Add(-15 * time.Minute),
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	result, err := f.svc.Consolidate(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Outcome != domain.OutcomeConsolidated {
		t.Fatalf("expected consolidated, got %s", result.Outcome)
	}
	if result.ItemsExamined != 1 {
		t.Errorf("expected 1 item examined, got %d", result.ItemsExamined)
	}
}

func TestConsolidationService_DropsLowScoringBatch(t *testing.T) {
	f := newConsolidationFixture(t)
	f.appendItems(t, 3, 0.05)

	result, err := f.svc.Consolidate(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Outcome != domain.OutcomeDropped {
		t.Fatalf("expected dropped, got %s", result.Outcome)
	}
	if result.ItemsDropped != 3 {
		t.Errorf("expected 3 items dropped, got %d", result.ItemsDropped)
	}
	if f.summarizer.CallCount() != 0 {
		t.Error("summarizer should not run on an all-noise batch")
	}
	if n, _ := f.sessions.Len(context.Background()); n != 0 {
		t.Errorf("expected 0 sessions, got %d", n)
	}
	// Dropped items are still consumed so they are not re-examined.
	if got := f.unconsolidatedCount(t); got != 0 {
		t.Errorf("dropped batch should be marked consolidated, %d pending", got)
	}
}

func TestConsolidationService_MixedBatchDropsNoise(t *testing.T) {
	f := newConsolidationFixture(t)
	f.appendItems(t, 2, 0.9)
	f.appendItems(t, 1, 0.05)

	result, err := f.svc.Consolidate(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Outcome != domain.OutcomeConsolidated {
		t.Fatalf("expected consolidated, got %s", result.Outcome)
	}
	if result.ItemsDropped != 1 {
		t.Errorf("expected 1 item dropped, got %d", result.ItemsDropped)
	}

	sessions, _ := f.sessions.List(context.Background())
	if len(sessions) != 1 {
		t.Fatalf("expected 1 session, got %d", len(sessions))
	}
	if len(sessions[0].SourceItemIDs) != 2 {
		t.Errorf("session should only cite kept items, got %d sources", len(sessions[0].SourceItemIDs))
	}
	// The dropped item is consumed along with the kept ones.
	if got := f.unconsolidatedCount(t); got != 0 {
		t.Errorf("whole batch should be marked consolidated, %d pending", got)
	}
}

func TestConsolidationService_FallbackWhenSummarizerFails(t *testing.T) {
	f := newConsolidationFixture(t)
	f.summarizer.SummarizeError = errors.New("llm offline")
	f.appendItems(t, 3, 0.8)

	result, err := f.svc.Consolidate(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Outcome != domain.OutcomeConsolidated {
		t.Fatalf("expected consolidated, got %s", result.Outcome)
	}
	if !result.UsedFallback {
		t.Error("expected fallback summary")
	}
	if f.summarizer.CallCount() == 0 {
		t.Error("summarizer should have been attempted")
	}

	sessions, _ := f.sessions.List(context.Background())
	if len(sessions) != 1 {
		t.Fatalf("expected 1 session, got %d", len(sessions))
	}
	summary := sessions[0].Summary
	if !strings.Contains(summary, "observation 1") || !strings.Contains(summary, "; ") {
		t.Errorf("fallback should join item snippets, got %q", summary)
	}
}

func TestConsolidationService_FallbackWhenSummaryEmpty(t *testing.T) {
	f := newConsolidationFixture(t)
	f.summarizer.SummarizeResponse = "   "
	f.appendItems(t, 3, 0.8)

	result, err := f.svc.Consolidate(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !result.UsedFallback {
		t.Error("blank summarizer output should trigger the fallback")
	}
	sessions, _ := f.sessions.List(context.Background())
	if len(sessions) != 1 || strings.TrimSpace(sessions[0].Summary) == "" {
		t.Error("session should carry the fallback summary")
	}
}

func TestConsolidationService_BreakerOpensAfterRepeatedFailures(t *testing.T) {
	f := newConsolidationFixture(t)
	f.summarizer.SummarizeError = errors.New("llm offline")

	// Non-transient failures count once per run; every run still commits a
	// fallback session.
	for i := 0; i < 5; i++ {
		f.appendItems(t, 3, 0.8)
		result, err := f.svc.Consolidate(context.Background())
		if err != nil {
			t.Fatalf("run %d: %v", i+1, err)
		}
		if result.Outcome != domain.OutcomeConsolidated || !result.UsedFallback {
			t.Fatalf("run %d: expected fallback consolidation, got %s", i+1, result.Outcome)
		}
	}

	if got := f.svc.Breaker().State(); got != resilience.CircuitOpen {
		t.Fatalf("expected open breaker after repeated failures, got %s", got)
	}
	calls := f.summarizer.CallCount()

	// With the circuit open the run degrades straight to the fallback
	// without touching the summarizer.
	f.appendItems(t, 3, 0.8)
	result, err := f.svc.Consolidate(context.Background())
	if err != nil {
		t.Fatalf("open-circuit run: %v", err)
	}
	if result.Outcome != domain.OutcomeConsolidated || !result.UsedFallback {
		t.Fatalf("expected fallback consolidation, got %s", result.Outcome)
	}
	if f.summarizer.CallCount() != calls {
		t.Error("summarizer should not be called while the circuit is open")
	}
}

func TestConsolidationService_LockBusySkips(t *testing.T) {
	f := newConsolidationFixture(t)
	f.appendItems(t, 3, 0.8)

	holder := store.NewConsolidationLock(f.client, "tenant-a")
	acquired, err := holder.Acquire(context.Background(), time.Minute)
	if err != nil || !acquired {
		t.Fatalf("holder acquire failed: %v", err)
	}

	result, err := f.svc.Consolidate(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Outcome != domain.OutcomeSkippedLockBusy {
		t.Errorf("expected skipped_lock_busy, got %s", result.Outcome)
	}
	if n, _ := f.sessions.Len(context.Background()); n != 0 {
		t.Errorf("expected 0 sessions, got %d", n)
	}
	if got := f.unconsolidatedCount(t); got != 3 {
		t.Errorf("contended run must not consume the batch, %d pending", got)
	}
}

func TestConsolidationService_ConcurrentRunsCreateOneSession(t *testing.T) {
	f := newConsolidationFixture(t)
	f.appendItems(t, 3, 0.8)

	// Two more coordinators over the same tenant, sharing tier 0 and tier 1
	// but with their own in-process state, like extra server instances.
	coordinators := []*ConsolidationService{f.svc}
	for i := 0; i < 2; i++ {
		other := NewConsolidationService(
			f.workingLog,
			f.sessions,
			f.knowledge,
			f.summarizer,
			store.NewConsolidationLock(f.client, "tenant-a"),
			zap.NewNop(),
		)
		other.SetBatchThreshold(3)
		coordinators = append(coordinators, other)
	}

	results := make(chan *ConsolidationResult, len(coordinators))
	errs := make(chan error, len(coordinators))
	for _, svc := range coordinators {
		go func(s *ConsolidationService) {
			r, err := s.Consolidate(context.Background())
			results <- r
			errs <- err
		}(svc)
	}

	consolidated := 0
	for i := 0; i < len(coordinators); i++ {
		if err := <-errs; err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		r := <-results
		switch r.Outcome {
		case domain.OutcomeConsolidated:
			consolidated++
		case domain.OutcomeSkippedLockBusy, domain.OutcomeSkippedNoBatch:
			// The loser either hit the lock or found the batch consumed.
		default:
			t.Errorf("unexpected outcome %s", r.Outcome)
		}
	}

	if consolidated != 1 {
		t.Errorf("expected exactly 1 consolidated run, got %d", consolidated)
	}
	if n, _ := f.sessions.Len(context.Background()); n != 1 {
		t.Errorf("expected exactly 1 session, got %d", n)
	}
}

// blockingSummarizer parks inside Summarize until released, so tests can
// observe the coordinator mid-run.
type blockingSummarizer struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingSummarizer) Summarize(ctx context.Context, items []domain.Item) (string, error) {
	close(b.entered)
	select {
	case <-b.release:
		return "late summary", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func TestConsolidationService_StateTracksRun(t *testing.T) {
	f := newConsolidationFixture(t)

	block := &blockingSummarizer{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	svc := NewConsolidationService(
		f.workingLog,
		f.sessions,
		f.knowledge,
		block,
		store.NewConsolidationLock(f.client, "tenant-a"),
		zap.NewNop(),
	)
	svc.SetBatchThreshold(3)

	if got := svc.State(); got != StateIdle {
		t.Fatalf("expected idle before any run, got %s", got)
	}

	f.appendItems(t, 3, 0.8)
	done := make(chan *ConsolidationResult, 1)
	go func() {
		r, _ := svc.Consolidate(context.Background())
		done <- r
	}()

	<-block.entered
	if got := svc.State(); got != StateSummarizing {
		t.Errorf("expected summarizing while the summarizer is in flight, got %s", got)
	}
	close(block.release)

	r := <-done
	if r == nil || r.Outcome != domain.OutcomeConsolidated {
		t.Fatalf("expected consolidated, got %+v", r)
	}
	if got := svc.State(); got != StateIdle {
		t.Errorf("expected idle after the run, got %s", got)
	}
}

func TestConsolidationService_StartStop(t *testing.T) {
	f := newConsolidationFixture(t)
	f.appendItems(t, 3, 0.8)

	f.svc.SetInterval(10 * time.Millisecond)
	f.svc.Start()
	defer f.svc.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if n, _ := f.sessions.Len(context.Background()); n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("worker never consolidated the batch")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
