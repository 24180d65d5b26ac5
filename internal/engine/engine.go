package engine

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/stratumhq/stratum/internal/domain"
	"github.com/stratumhq/stratum/internal/resilience"
	"github.com/stratumhq/stratum/internal/service"
	"github.com/stratumhq/stratum/internal/store"
	"github.com/stratumhq/stratum/internal/task"
)

// Options configures one tenant engine. Redis, Knowledge and Summarizer
// are shared across engines; everything else is per-tenant state.
type Options struct {
	TenantID   string
	Redis      *redis.Client
	Knowledge  domain.KnowledgeStore
	Summarizer domain.Summarizer
	Logger     *zap.Logger

	WorkingLogCapacity int64
	SessionCapacity    int
	SessionTTL         time.Duration

	BatchThreshold        int
	MaxBatchAge           time.Duration
	LockTTL               time.Duration
	ImportanceThreshold   float64
	ConsolidationInterval time.Duration

	PromotionInterval      time.Duration
	PromoteHighThreshold   float64
	PromoteLowThreshold    float64
	ReinforcementThreshold int
	MinRetention           time.Duration

	Weights         domain.StrategyWeights
	StrategyTimeout time.Duration
	Observer        service.MetricsObserver

	RunnerWorkers int
	RunnerQueue   int

	// OnTaskDone is forwarded to the task runner; used for metrics.
	OnTaskDone func(name string, err error, d time.Duration)
}

func (o *Options) validate() error {
	if o.TenantID == "" {
		return domain.Permanent("tenant id is required")
	}
	if o.Redis == nil {
		return domain.Permanent("redis client is required")
	}
	if o.Knowledge == nil {
		return domain.Permanent("knowledge store is required")
	}
	if o.Summarizer == nil {
		return domain.Permanent("summarizer is required")
	}
	return nil
}

// Engine bundles one tenant's memory tiers and the services over them.
// It owns the tenant's worker goroutines; Close tears them down.
type Engine struct {
	tenantID string
	logger   *zap.Logger

	workingLog *store.WorkingLogStore
	sessions   *store.SessionMemoryStore
	runner     *task.Runner

	WorkingLog    *service.WorkingLogService
	Sessions      *service.SessionService
	Consolidation *service.ConsolidationService
	Promotion     *service.PromotionService
	Retriever     *service.RetrieverService
}

func New(opts Options) (*Engine, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("tenant_id", opts.TenantID))

	workingLog := store.NewWorkingLogStore(opts.Redis, opts.TenantID, opts.WorkingLogCapacity)
	sessions := store.NewSessionMemoryStore(opts.SessionCapacity, opts.SessionTTL)
	lock := store.NewConsolidationLock(opts.Redis, opts.TenantID)

	workers, queue := opts.RunnerWorkers, opts.RunnerQueue
	if workers <= 0 {
		workers = 1
	}
	if queue <= 0 {
		queue = 16
	}
	var runnerOpts []task.Option
	if opts.OnTaskDone != nil {
		runnerOpts = append(runnerOpts, task.WithOnDone(opts.OnTaskDone))
	}
	runner := task.NewRunner(workers, queue, logger, runnerOpts...)

	consolidation := service.NewConsolidationService(workingLog, sessions, opts.Knowledge, opts.Summarizer, lock, logger)
	consolidation.SetBatchThreshold(opts.BatchThreshold)
	consolidation.SetMaxBatchAge(opts.MaxBatchAge)
	consolidation.SetLockTTL(opts.LockTTL)
	consolidation.SetInterval(opts.ConsolidationInterval)
	// Zero means unset here; the setter itself accepts 0 to disable dropping.
	if opts.ImportanceThreshold > 0 {
		consolidation.SetImportanceThreshold(opts.ImportanceThreshold)
	}

	promotion := service.NewPromotionService(sessions, opts.Knowledge, logger)
	promotion.SetInterval(opts.PromotionInterval)
	promotion.SetHighThreshold(opts.PromoteHighThreshold)
	if opts.PromoteLowThreshold > 0 {
		promotion.SetLowThreshold(opts.PromoteLowThreshold)
	}
	promotion.SetReinforcementThreshold(opts.ReinforcementThreshold)
	promotion.SetMinRetention(opts.MinRetention)

	retriever := service.NewRetrieverService(workingLog, sessions, opts.Knowledge, logger)
	if opts.Weights != (domain.StrategyWeights{}) {
		retriever.SetWeights(opts.Weights)
	}
	retriever.SetStrategyTimeout(opts.StrategyTimeout)

	workingLogSvc := service.NewWorkingLogService(workingLog, logger)
	workingLogSvc.SetConsolidationTrigger(runner, consolidation)

	if opts.Observer != nil {
		workingLogSvc.SetObserver(opts.Observer)
		consolidation.SetObserver(opts.Observer)
		promotion.SetObserver(opts.Observer)
		retriever.SetObserver(opts.Observer)
	}

	return &Engine{
		tenantID:      opts.TenantID,
		logger:        logger,
		workingLog:    workingLog,
		sessions:      sessions,
		runner:        runner,
		WorkingLog:    workingLogSvc,
		Sessions:      service.NewSessionService(sessions, logger),
		Consolidation: consolidation,
		Promotion:     promotion,
		Retriever:     retriever,
	}, nil
}

func (e *Engine) TenantID() string {
	return e.tenantID
}

// Start launches the periodic consolidation and promotion workers.
func (e *Engine) Start() {
	e.Consolidation.Start()
	e.Promotion.Start()
	e.logger.Info("engine started")
}

// Close stops the workers and drains the task runner.
func (e *Engine) Close(ctx context.Context) error {
	e.Consolidation.Stop()
	e.Promotion.Stop()
	err := e.runner.Stop(ctx)
	e.logger.Info("engine closed")
	return err
}

// Purge removes the tenant's durable tier-0 state. Meant for tenant
// teardown, after Close.
func (e *Engine) Purge(ctx context.Context) error {
	return e.workingLog.Clear(ctx)
}

// Stats reports tier sizes, the coordinator state, and collaborator
// breaker states.
type Stats struct {
	TenantID      string                     `json:"tenant_id"`
	WorkingItems  int64                      `json:"working_items"`
	Sessions      int                        `json:"sessions"`
	Consolidation service.ConsolidationState `json:"consolidation_state"`
	Breakers      []resilience.BreakerStats  `json:"breakers"`
}

func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	items, err := e.workingLog.Len(ctx)
	if err != nil {
		return Stats{}, err
	}
	count, err := e.sessions.Len(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		TenantID:      e.tenantID,
		WorkingItems:  items,
		Sessions:      count,
		Consolidation: e.Consolidation.State(),
		Breakers: []resilience.BreakerStats{
			e.Consolidation.Breaker().Stats(),
			e.Promotion.Breaker().Stats(),
			e.Retriever.Breaker().Stats(),
		},
	}, nil
}
