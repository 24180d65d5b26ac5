package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/stratumhq/stratum/internal/domain"
	"github.com/stratumhq/stratum/internal/resilience"
)

// ErrQueryEmpty is returned when a search query is blank.
var ErrQueryEmpty = errors.New("query is required")

const (
	// rrfK is the Reciprocal Rank Fusion constant: a hit at 1-based rank
	// r in a strategy contributes weight/(rrfK+r) to the combined score.
	rrfK = 60

	DefaultStrategyTimeout = 2 * time.Second
	DefaultLocalScanLimit  = 200
	DefaultGraphSeedLimit  = 3
	DefaultSearchLimit     = 10

	fingerprintLen = 100
)

// DefaultStrategyWeights favors semantic recall, with local, keyword and
// graph evidence sharing the rest.
func DefaultStrategyWeights() domain.StrategyWeights {
	return domain.StrategyWeights{Local: 0.2, Keyword: 0.2, Semantic: 0.4, Graph: 0.2}
}

// RetrievalObserver receives strategy latencies. The label is a strategy
// name, or "total" for the whole fused search.
type RetrievalObserver interface {
	ObserveRetrieval(strategy string, elapsed time.Duration)
}

// RetrieverService fans a query out to four retrieval strategies and
// fuses their rankings with Reciprocal Rank Fusion. The local strategy
// scans the in-process tiers; the other three go through the knowledge
// collaborator behind a shared circuit breaker. A failed, timed-out or
// circuit-broken strategy contributes nothing and never fails the call.
type RetrieverService struct {
	workingLog domain.WorkingLogStore
	sessions   domain.SessionStore
	knowledge  domain.KnowledgeStore
	breaker    *resilience.CircuitBreaker
	logger     *zap.Logger

	weights         domain.StrategyWeights
	strategyTimeout time.Duration
	localScanLimit  int
	graphSeedLimit  int
	observer        RetrievalObserver
}

func NewRetrieverService(
	workingLog domain.WorkingLogStore,
	sessions domain.SessionStore,
	knowledge domain.KnowledgeStore,
	logger *zap.Logger,
) *RetrieverService {
	return &RetrieverService{
		workingLog:      workingLog,
		sessions:        sessions,
		knowledge:       knowledge,
		breaker:         resilience.NewCircuitBreaker("knowledge-search", resilience.DefaultBreakerConfig(), logger),
		logger:          logger,
		weights:         DefaultStrategyWeights(),
		strategyTimeout: DefaultStrategyTimeout,
		localScanLimit:  DefaultLocalScanLimit,
		graphSeedLimit:  DefaultGraphSeedLimit,
	}
}

// SetWeights replaces the default strategy weights. Weights are
// normalized per search, so callers may pass any non-negative scale.
func (s *RetrieverService) SetWeights(w domain.StrategyWeights) {
	s.weights = w
}

func (s *RetrieverService) SetStrategyTimeout(d time.Duration) {
	if d > 0 {
		s.strategyTimeout = d
	}
}

func (s *RetrieverService) SetLocalScanLimit(n int) {
	if n > 0 {
		s.localScanLimit = n
	}
}

func (s *RetrieverService) SetGraphSeedLimit(n int) {
	if n > 0 {
		s.graphSeedLimit = n
	}
}

func (s *RetrieverService) SetObserver(o RetrievalObserver) {
	s.observer = o
}

// Breaker exposes the knowledge-search circuit breaker for inspection.
func (s *RetrieverService) Breaker() *resilience.CircuitBreaker {
	return s.breaker
}

// Search runs a hybrid search with the configured weights.
func (s *RetrieverService) Search(ctx context.Context, query string, limit int) ([]domain.SearchResult, error) {
	return s.SearchWithWeights(ctx, query, limit, s.weights)
}

// SearchWithWeights runs a hybrid search with per-call weights. The call
// fails only on a blank query; strategy failures degrade the result set
// instead.
func (s *RetrieverService) SearchWithWeights(ctx context.Context, query string, limit int, weights domain.StrategyWeights) ([]domain.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrQueryEmpty
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	w := weights.Normalized()
	start := time.Now()

	// Fetch deeper than the caller's limit so fusion has candidates to
	// merge; only the fused output is truncated.
	depth := limit * 2

	var (
		mu     sync.Mutex
		ranked = make(map[string][]domain.SearchResult, 4)
	)
	collect := func(strategy string, hits []domain.SearchResult) {
		if len(hits) == 0 {
			return
		}
		mu.Lock()
		ranked[strategy] = hits
		mu.Unlock()
	}

	// The graph strategy expands the semantic strategy's top hits, so
	// the semantic goroutine hands its seed ids over a buffered channel.
	seedCh := make(chan []string, 1)

	var wg sync.WaitGroup
	wg.Add(4)
	go func() {
		defer wg.Done()
		collect(domain.StrategyLocal, s.runStrategy(ctx, domain.StrategyLocal, query, depth, s.localSearch))
	}()
	go func() {
		defer wg.Done()
		collect(domain.StrategyKeyword, s.runStrategy(ctx, domain.StrategyKeyword, query, depth, s.keywordSearch))
	}()
	go func() {
		defer wg.Done()
		hits := s.runStrategy(ctx, domain.StrategySemantic, query, depth, s.semanticSearch)
		seedCh <- seedIDs(hits, s.graphSeedLimit)
		collect(domain.StrategySemantic, hits)
	}()
	go func() {
		defer wg.Done()
		seeds := <-seedCh
		if len(seeds) == 0 {
			return
		}
		expand := func(ctx context.Context, _ string, limit int) ([]domain.SearchResult, error) {
			return s.graphExpand(ctx, seeds, limit)
		}
		collect(domain.StrategyGraph, s.runStrategy(ctx, domain.StrategyGraph, query, depth, expand))
	}()
	wg.Wait()

	results := fuseRanked(ranked, w)
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].RawScore > results[j].RawScore
	})
	if len(results) > limit {
		results = results[:limit]
	}

	s.observe("total", time.Since(start))
	s.logger.Debug("hybrid search complete",
		zap.Int("strategies", len(ranked)),
		zap.Int("results", len(results)),
		zap.Duration("elapsed", time.Since(start)))
	return results, nil
}

type strategyFunc func(ctx context.Context, query string, limit int) ([]domain.SearchResult, error)

// runStrategy runs one strategy under its own timeout. Failures are
// logged and swallowed so the other strategies still count.
func (s *RetrieverService) runStrategy(ctx context.Context, strategy, query string, limit int, fn strategyFunc) []domain.SearchResult {
	start := time.Now()
	sctx, cancel := context.WithTimeout(ctx, s.strategyTimeout)
	defer cancel()

	hits, err := fn(sctx, query, limit)
	s.observe(strategy, time.Since(start))
	if err != nil {
		s.logger.Warn("retrieval strategy failed",
			zap.String("strategy", strategy),
			zap.Error(err))
		return nil
	}
	return hits
}

// localSearch substring-matches the query against recent tier-0 items
// and all tier-1 summaries, ranked by current importance then recency.
func (s *RetrieverService) localSearch(ctx context.Context, query string, limit int) ([]domain.SearchResult, error) {
	needle := strings.ToLower(query)
	now := time.Now()

	items, err := s.workingLog.Recent(ctx, s.localScanLimit)
	if err != nil {
		return nil, err
	}
	sessions, err := s.sessions.List(ctx)
	if err != nil {
		return nil, err
	}

	type localHit struct {
		result    domain.SearchResult
		createdAt time.Time
		itemID    string
	}
	var hits []localHit
	for i := range items {
		it := &items[i]
		if !strings.Contains(strings.ToLower(it.Content), needle) {
			continue
		}
		hits = append(hits, localHit{
			result: domain.SearchResult{
				ID:       it.ID,
				Content:  it.Content,
				Source:   domain.TierWorking,
				RawScore: domain.ItemScore(it, now),
				Metadata: it.Metadata,
			},
			createdAt: it.CreatedAt,
			itemID:    it.ID,
		})
	}
	for i := range sessions {
		sess := &sessions[i]
		if !strings.Contains(strings.ToLower(sess.Summary), needle) {
			continue
		}
		hits = append(hits, localHit{
			result: domain.SearchResult{
				ID:       sess.ID,
				Content:  sess.Summary,
				Source:   domain.TierSession,
				RawScore: domain.SessionScore(sess, now),
			},
			createdAt: sess.CreatedAt,
		})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].result.RawScore != hits[j].result.RawScore {
			return hits[i].result.RawScore > hits[j].result.RawScore
		}
		return hits[i].createdAt.After(hits[j].createdAt)
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}

	results := make([]domain.SearchResult, 0, len(hits))
	var matched []string
	for _, h := range hits {
		results = append(results, h.result)
		if h.itemID != "" {
			matched = append(matched, h.itemID)
		}
	}
	if len(matched) > 0 {
		// Reinforcement is best-effort; a failed bump never fails the
		// search.
		_ = s.workingLog.RecordAccess(ctx, matched)
	}
	return results, nil
}

func (s *RetrieverService) semanticSearch(ctx context.Context, query string, limit int) ([]domain.SearchResult, error) {
	var scored []domain.ScoredEntry
	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		scored, err = s.knowledge.Search(ctx, query, limit)
		return err
	})
	if err != nil {
		return nil, err
	}
	return knowledgeResults(scored), nil
}

func (s *RetrieverService) keywordSearch(ctx context.Context, query string, limit int) ([]domain.SearchResult, error) {
	var scored []domain.ScoredEntry
	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		scored, err = s.knowledge.KeywordSearch(ctx, query, limit)
		return err
	})
	if err != nil {
		return nil, err
	}
	return knowledgeResults(scored), nil
}

// graphExpand fetches the neighbors of each seed entry and merges them,
// keeping the best score per neighbor. A seed that has vanished from the
// knowledge store is skipped rather than failing the strategy.
func (s *RetrieverService) graphExpand(ctx context.Context, seeds []string, limit int) ([]domain.SearchResult, error) {
	best := make(map[string]domain.ScoredEntry)
	for _, id := range seeds {
		var scored []domain.ScoredEntry
		err := s.breaker.Execute(ctx, func(ctx context.Context) error {
			var err error
			scored, err = s.knowledge.Related(ctx, id, limit)
			return err
		})
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			return nil, err
		}
		for _, se := range scored {
			if cur, ok := best[se.Entry.ID]; !ok || se.Score > cur.Score {
				best[se.Entry.ID] = se
			}
		}
	}

	merged := make([]domain.ScoredEntry, 0, len(best))
	for _, se := range best {
		merged = append(merged, se)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	if len(merged) > limit {
		merged = merged[:limit]
	}
	return knowledgeResults(merged), nil
}

func (s *RetrieverService) observe(strategy string, elapsed time.Duration) {
	if s.observer != nil {
		s.observer.ObserveRetrieval(strategy, elapsed)
	}
}

func knowledgeResults(scored []domain.ScoredEntry) []domain.SearchResult {
	results := make([]domain.SearchResult, 0, len(scored))
	for _, se := range scored {
		results = append(results, domain.SearchResult{
			ID:       se.Entry.ID,
			Content:  se.Entry.Content,
			Source:   domain.TierKnowledge,
			RawScore: se.Score,
			Metadata: se.Entry.Metadata,
		})
	}
	return results
}

func seedIDs(hits []domain.SearchResult, max int) []string {
	ids := make([]string, 0, max)
	for _, h := range hits {
		if h.ID == "" {
			continue
		}
		ids = append(ids, h.ID)
		if len(ids) == max {
			break
		}
	}
	return ids
}

var strategyOrder = []string{
	domain.StrategyLocal,
	domain.StrategyKeyword,
	domain.StrategySemantic,
	domain.StrategyGraph,
}

// fuseRanked merges per-strategy rankings with weighted RRF. Duplicates
// collapse onto one result keyed by id, or by content fingerprint when
// the result has no id: the best raw score wins the display fields, the
// strategy labels union, and the RRF contributions sum. Only a result's
// best rank within a single strategy counts.
func fuseRanked(ranked map[string][]domain.SearchResult, w domain.StrategyWeights) []domain.SearchResult {
	type fused struct {
		result     domain.SearchResult
		combined   float64
		strategies map[string]struct{}
	}
	byKey := make(map[string]*fused)

	for strategy, hits := range ranked {
		weight := w.For(strategy)
		for i := range hits {
			hit := hits[i]
			key := hit.ID
			if key == "" {
				key = fingerprint(hit.Content)
			}

			f, ok := byKey[key]
			if !ok {
				f = &fused{result: hit, strategies: make(map[string]struct{}, 2)}
				byKey[key] = f
			} else if hit.RawScore > f.result.RawScore {
				f.result = hit
			}
			if _, seen := f.strategies[strategy]; !seen {
				f.strategies[strategy] = struct{}{}
				f.combined += weight / float64(rrfK+i+1)
			}
		}
	}

	out := make([]domain.SearchResult, 0, len(byKey))
	for _, f := range byKey {
		r := f.result
		r.Score = f.combined
		r.Strategies = orderedStrategies(f.strategies)
		out = append(out, r)
	}
	return out
}

func orderedStrategies(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for _, s := range strategyOrder {
		if _, ok := set[s]; ok {
			out = append(out, s)
		}
	}
	return out
}

// fingerprint is the dedup fallback for results without ids: the
// lowercased first hundred characters of the content.
func fingerprint(content string) string {
	f := strings.ToLower(strings.TrimSpace(content))
	if r := []rune(f); len(r) > fingerprintLen {
		f = string(r[:fingerprintLen])
	}
	return f
}
