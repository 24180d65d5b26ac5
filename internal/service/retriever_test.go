package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/stratumhq/stratum/internal/domain"
	"github.com/stratumhq/stratum/internal/knowledge"
	"github.com/stratumhq/stratum/internal/store"
)

type retrieverFixture struct {
	workingLog *store.WorkingLogStore
	sessions   *store.SessionMemoryStore
	knowledge  *knowledge.MockStore
	svc        *RetrieverService
}

func newRetrieverFixture(t *testing.T) *retrieverFixture {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := &retrieverFixture{
		workingLog: store.NewWorkingLogStore(client, "tenant-a", 1000),
		sessions:   store.NewSessionMemoryStore(64, 30*24*time.Hour),
		knowledge:  knowledge.NewMockStore(),
	}
	f.svc = NewRetrieverService(f.workingLog, f.sessions, f.knowledge, zap.NewNop())
	return f
}

func scoredEntry(id, content string, score float64) domain.ScoredEntry {
	return domain.ScoredEntry{
		Entry: domain.KnowledgeEntry{ID: id, Content: content},
		Score: score,
	}
}

func findResult(results []domain.SearchResult, id string) *domain.SearchResult {
	for i := range results {
		if results[i].ID == id {
			return &results[i]
		}
	}
	return nil
}

func TestRetrieverService_EmptyQuery(t *testing.T) {
	f := newRetrieverFixture(t)

	_, err := f.svc.Search(context.Background(), "   ", 10)
	assert.ErrorIs(t, err, ErrQueryEmpty)
}

func TestRetrieverService_LocalCoversBothTiers(t *testing.T) {
	ctx := context.Background()
	f := newRetrieverFixture(t)

	_, err := f.workingLog.Append(ctx, &domain.Item{Content: "user prefers dark mode", Importance: 0.9})
	require.NoError(t, err)
	_, err = f.workingLog.Append(ctx, &domain.Item{Content: "unrelated lunch order", Importance: 0.9})
	require.NoError(t, err)
	require.NoError(t, f.sessions.Put(ctx, &domain.Session{
		ID:         "sess-1",
		Summary:    "Long discussion about dark mode theming",
		Importance: 0.8,
	}))

	results, err := f.svc.Search(ctx, "dark mode", 10)
	require.NoError(t, err)
	require.Len(t, results, 2)

	sources := map[domain.Tier]bool{}
	for _, r := range results {
		sources[r.Source] = true
		assert.Equal(t, []string{domain.StrategyLocal}, r.Strategies)
	}
	assert.True(t, sources[domain.TierWorking])
	assert.True(t, sources[domain.TierSession])
}

func TestRetrieverService_LocalMatchBumpsAccess(t *testing.T) {
	ctx := context.Background()
	f := newRetrieverFixture(t)

	_, err := f.workingLog.Append(ctx, &domain.Item{Content: "deploy window is friday", Importance: 0.7})
	require.NoError(t, err)

	_, err = f.svc.Search(ctx, "deploy window", 10)
	require.NoError(t, err)

	items, err := f.workingLog.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 1, items[0].AccessCount)
}

func TestRetrieverService_UnanimousTopRanksFirst(t *testing.T) {
	ctx := context.Background()
	f := newRetrieverFixture(t)

	f.knowledge.SearchResponse = []domain.ScoredEntry{
		scoredEntry("k-a", "alpha fact", 0.9),
		scoredEntry("k-b", "beta fact", 0.5),
	}
	f.knowledge.KeywordSearchResponse = []domain.ScoredEntry{
		scoredEntry("k-a", "alpha fact", 0.8),
		scoredEntry("k-c", "gamma fact", 0.4),
	}
	f.knowledge.RelatedResponse = []domain.ScoredEntry{
		scoredEntry("k-a", "alpha fact", 0.7),
	}

	results, err := f.svc.Search(ctx, "alpha", 10)
	require.NoError(t, err)
	require.NotEmpty(t, results)

	assert.Equal(t, "k-a", results[0].ID)
	assert.NotNil(t, findResult(results, "k-b"))
	assert.NotNil(t, findResult(results, "k-c"))
	assert.Nil(t, findResult(results, "k-z"))
}

func TestRetrieverService_DedupMergesStrategies(t *testing.T) {
	ctx := context.Background()
	f := newRetrieverFixture(t)

	f.knowledge.SearchResponse = []domain.ScoredEntry{
		scoredEntry("k-1", "shared entry", 0.9),
	}
	f.knowledge.KeywordSearchResponse = []domain.ScoredEntry{
		scoredEntry("k-1", "shared entry", 0.4),
	}

	results, err := f.svc.Search(ctx, "shared", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)

	r := results[0]
	assert.Equal(t, 0.9, r.RawScore)
	assert.Contains(t, r.Strategies, domain.StrategyKeyword)
	assert.Contains(t, r.Strategies, domain.StrategySemantic)

	// Merged score exceeds what either strategy alone contributes at
	// rank 1.
	w := DefaultStrategyWeights().Normalized()
	assert.Greater(t, r.Score, w.Semantic/float64(rrfK+1))
	assert.Greater(t, r.Score, w.Keyword/float64(rrfK+1))
}

func TestRetrieverService_FingerprintDedupWithoutIDs(t *testing.T) {
	ctx := context.Background()
	f := newRetrieverFixture(t)

	f.knowledge.SearchResponse = []domain.ScoredEntry{
		scoredEntry("", "Shared Fact About Deploys", 0.8),
	}
	f.knowledge.KeywordSearchResponse = []domain.ScoredEntry{
		scoredEntry("", "shared fact about deploys", 0.5),
	}

	results, err := f.svc.Search(ctx, "deploys", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 0.8, results[0].RawScore)
	assert.Len(t, results[0].Strategies, 2)
}

func TestRetrieverService_StrategyFailureDegrades(t *testing.T) {
	ctx := context.Background()
	f := newRetrieverFixture(t)

	f.knowledge.SearchError = domain.Transient(assert.AnError)
	f.knowledge.KeywordSearchResponse = []domain.ScoredEntry{
		scoredEntry("k-1", "keyword only entry", 0.6),
	}
	_, err := f.workingLog.Append(ctx, &domain.Item{Content: "local entry about topic", Importance: 0.5})
	require.NoError(t, err)

	results, err := f.svc.Search(ctx, "entry", 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.NotContains(t, r.Strategies, domain.StrategySemantic)
		assert.NotContains(t, r.Strategies, domain.StrategyGraph)
	}
	assert.Empty(t, f.knowledge.RelatedCalls, "graph should not run without semantic seeds")
}

func TestRetrieverService_GraphSeedsFromSemantic(t *testing.T) {
	ctx := context.Background()
	f := newRetrieverFixture(t)
	f.svc.SetGraphSeedLimit(2)

	f.knowledge.SearchResponse = []domain.ScoredEntry{
		scoredEntry("seed-1", "first semantic hit", 0.9),
		scoredEntry("seed-2", "second semantic hit", 0.8),
		scoredEntry("seed-3", "third semantic hit", 0.7),
	}
	f.knowledge.RelatedResponse = []domain.ScoredEntry{
		scoredEntry("n-1", "neighbor entry", 0.6),
	}

	results, err := f.svc.Search(ctx, "semantic", 10)
	require.NoError(t, err)

	assert.Equal(t, []string{"seed-1", "seed-2"}, f.knowledge.RelatedCalls)
	neighbor := findResult(results, "n-1")
	require.NotNil(t, neighbor)
	assert.Equal(t, []string{domain.StrategyGraph}, neighbor.Strategies)
}

func TestRetrieverService_EmptyEverywhere(t *testing.T) {
	f := newRetrieverFixture(t)

	results, err := f.svc.Search(context.Background(), "nothing matches", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Empty(t, f.knowledge.RelatedCalls)
}

func TestRetrieverService_TruncatesToLimit(t *testing.T) {
	ctx := context.Background()
	f := newRetrieverFixture(t)

	f.knowledge.SearchResponse = []domain.ScoredEntry{
		scoredEntry("k-1", "one", 0.9),
		scoredEntry("k-2", "two", 0.8),
		scoredEntry("k-3", "three", 0.7),
		scoredEntry("k-4", "four", 0.6),
	}

	results, err := f.svc.Search(ctx, "numbers", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "k-1", results[0].ID)
	assert.Equal(t, "k-2", results[1].ID)
}

func TestRetrieverService_WeightsSteerRanking(t *testing.T) {
	ctx := context.Background()
	f := newRetrieverFixture(t)

	f.knowledge.SearchResponse = []domain.ScoredEntry{
		scoredEntry("sem-1", "semantic winner", 0.9),
	}
	f.knowledge.KeywordSearchResponse = []domain.ScoredEntry{
		scoredEntry("kw-1", "keyword winner", 0.9),
	}

	results, err := f.svc.SearchWithWeights(ctx, "winner", 10, domain.StrategyWeights{
		Local: 0.1, Keyword: 0.8, Semantic: 0.1, Graph: 0.1,
	})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "kw-1", results[0].ID)

	results, err = f.svc.SearchWithWeights(ctx, "winner", 10, domain.StrategyWeights{
		Local: 0.1, Keyword: 0.1, Semantic: 0.8, Graph: 0.1,
	})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "sem-1", results[0].ID)
}

type slowSearchStore struct {
	*knowledge.MockStore
	delay time.Duration
}

func (s *slowSearchStore) Search(ctx context.Context, query string, limit int) ([]domain.ScoredEntry, error) {
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return s.MockStore.Search(ctx, query, limit)
}

func TestRetrieverService_SlowStrategyTimesOut(t *testing.T) {
	ctx := context.Background()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	mock := knowledge.NewMockStore()
	mock.KeywordSearchResponse = []domain.ScoredEntry{
		scoredEntry("k-1", "fast keyword entry", 0.6),
	}
	slow := &slowSearchStore{MockStore: mock, delay: time.Second}

	svc := NewRetrieverService(
		store.NewWorkingLogStore(client, "tenant-a", 1000),
		store.NewSessionMemoryStore(64, 30*24*time.Hour),
		slow,
		zap.NewNop(),
	)
	svc.SetStrategyTimeout(20 * time.Millisecond)

	results, err := svc.Search(ctx, "entry", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, []string{domain.StrategyKeyword}, results[0].Strategies)
}

type recordingObserver struct {
	mu     sync.Mutex
	labels map[string]int
}

func (r *recordingObserver) ObserveRetrieval(strategy string, elapsed time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.labels == nil {
		r.labels = make(map[string]int)
	}
	r.labels[strategy]++
}

func TestRetrieverService_ObserverSeesStrategies(t *testing.T) {
	ctx := context.Background()
	f := newRetrieverFixture(t)

	obs := &recordingObserver{}
	f.svc.SetObserver(obs)

	f.knowledge.SearchResponse = []domain.ScoredEntry{
		scoredEntry("seed-1", "seeded", 0.9),
	}
	_, err := f.svc.Search(ctx, "seeded", 10)
	require.NoError(t, err)

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Equal(t, 1, obs.labels[domain.StrategyLocal])
	assert.Equal(t, 1, obs.labels[domain.StrategyKeyword])
	assert.Equal(t, 1, obs.labels[domain.StrategySemantic])
	assert.Equal(t, 1, obs.labels[domain.StrategyGraph])
	assert.Equal(t, 1, obs.labels["total"])
}
