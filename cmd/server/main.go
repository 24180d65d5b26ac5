package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/stratumhq/stratum/internal/api"
	"github.com/stratumhq/stratum/internal/config"
	"github.com/stratumhq/stratum/internal/domain"
	"github.com/stratumhq/stratum/internal/embedding"
	"github.com/stratumhq/stratum/internal/engine"
	"github.com/stratumhq/stratum/internal/knowledge"
	"github.com/stratumhq/stratum/internal/metrics"
	"github.com/stratumhq/stratum/internal/summarizer"
)

func main() {
	if err := config.Load(); err != nil {
		panic(err)
	}

	logger := newLogger(config.LogLevel())
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()

	// Redis backs tier 0.
	rdb := redis.NewClient(&redis.Options{
		Addr:     config.RedisAddr(),
		Password: config.RedisPassword(),
		DB:       config.RedisDB(),
	})
	defer func() { _ = rdb.Close() }()

	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatal("failed to ping redis", zap.Error(err))
	}
	logger.Info("connected to redis", zap.String("addr", config.RedisAddr()))

	// Postgres is optional; only the postgres knowledge backend needs it.
	var pool *pgxpool.Pool
	if dbURL := config.DatabaseURL(); dbURL != "" {
		var err error
		pool, err = pgxpool.New(ctx, dbURL)
		if err != nil {
			logger.Fatal("failed to connect to database", zap.Error(err))
		}
		defer pool.Close()

		if err := pool.Ping(ctx); err != nil {
			logger.Fatal("failed to ping database", zap.Error(err))
		}
		logger.Info("connected to database")
	}

	embedder, err := embedding.NewClient(config.EmbeddingProvider(), config.EmbeddingAPIKey())
	if err != nil {
		logger.Fatal("embedding client initialization failed", zap.Error(err))
	}

	knowledgeStore, err := knowledge.New(config.KnowledgeProvider(), config.KnowledgeBaseURL(), config.KnowledgeAPIKey(), pool, embedder)
	if err != nil {
		logger.Fatal("knowledge backend initialization failed", zap.Error(err))
	}
	logger.Info("knowledge backend initialized", zap.String("provider", config.KnowledgeProvider()))

	summarizerClient, err := summarizer.NewClient(config.SummarizerProvider(), config.SummarizerAPIKey())
	if err != nil {
		logger.Fatal("summarizer initialization failed", zap.Error(err))
	}
	logger.Info("summarizer initialized", zap.String("provider", config.SummarizerProvider()))

	collector := metrics.NewCollector()

	engines := engine.NewManager(engine.Options{
		Redis:      rdb,
		Knowledge:  knowledgeStore,
		Summarizer: summarizerClient,
		Logger:     logger,

		WorkingLogCapacity:    int64(config.WorkingLogCapacity()),
		SessionCapacity:       config.SessionCapacity(),
		SessionTTL:            config.SessionTTL(),
		BatchThreshold:        config.BatchThreshold(),
		MaxBatchAge:           config.MaxBatchAge(),
		LockTTL:               config.LockTTL(),
		ImportanceThreshold:   config.ImportanceThreshold(),
		ConsolidationInterval: config.ConsolidationInterval(),

		PromotionInterval:      config.PromotionInterval(),
		PromoteHighThreshold:   config.PromoteHighThreshold(),
		PromoteLowThreshold:    config.PromoteLowThreshold(),
		ReinforcementThreshold: config.ReinforcementThreshold(),
		MinRetention:           config.MinRetention(),

		Weights: domain.StrategyWeights{
			Local:    config.LocalWeight(),
			Keyword:  config.KeywordWeight(),
			Semantic: config.SemanticWeight(),
			Graph:    config.GraphWeight(),
		},
		StrategyTimeout: config.StrategyTimeout(),

		Observer:   collector,
		OnTaskDone: collector.TaskDone,
	}, logger)

	app := api.NewApp(api.Config{
		Engines:        engines,
		Redis:          rdb,
		DB:             pool,
		Metrics:        collector,
		Logger:         logger,
		RateLimitRPS:   config.RateLimitRPS(),
		RateLimitBurst: config.RateLimitBurst(),
	})

	// Start background services
	app.Start()

	addr := config.ServerAddr()
	srv := &http.Server{
		Addr:    addr,
		Handler: app.Router,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("server starting", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("shutting down server")

	// Stop background services
	app.Stop()

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}

	// Engines close after the server so in-flight requests keep their
	// tenant state.
	engines.Shutdown(shutdownCtx)

	logger.Info("server stopped")
}

func newLogger(level string) *zap.Logger {
	cfg := zap.NewProductionConfig()
	if lvl, err := zapcore.ParseLevel(level); err == nil {
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
