package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/stratumhq/stratum/internal/api/handlers"
	mw "github.com/stratumhq/stratum/internal/api/middleware"
	"github.com/stratumhq/stratum/internal/domain"
	"github.com/stratumhq/stratum/internal/engine"
	"github.com/stratumhq/stratum/internal/metrics"
)

const (
	defaultRateLimitRPS   = 50
	defaultRateLimitBurst = 100
	defaultSampleInterval = 15 * time.Second
	sampleTimeout         = 5 * time.Second
)

// Config carries the app's collaborators. DB is optional; when nil the
// health check covers Redis only.
type Config struct {
	Engines *engine.Manager
	Redis   *redis.Client
	DB      *pgxpool.Pool
	Metrics *metrics.Collector
	Logger  *zap.Logger

	RateLimitRPS   float64
	RateLimitBurst int

	// SampleInterval sets how often tier-size and breaker gauges are
	// refreshed from the engine registry.
	SampleInterval time.Duration
}

// App holds the router, the engine registry, and the gauge sampler for
// lifecycle management.
type App struct {
	Router  *chi.Mux
	Engines *engine.Manager
	Metrics *metrics.Collector

	logger         *zap.Logger
	startTime      time.Time
	sampleInterval time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewApp(cfg Config) *App {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	collector := cfg.Metrics
	if collector == nil {
		collector = metrics.NewCollector()
	}
	sampleInterval := cfg.SampleInterval
	if sampleInterval <= 0 {
		sampleInterval = defaultSampleInterval
	}

	rps := cfg.RateLimitRPS
	if rps <= 0 {
		rps = defaultRateLimitRPS
	}
	burst := cfg.RateLimitBurst
	if burst <= 0 {
		burst = defaultRateLimitBurst
	}

	r := chi.NewRouter()

	app := &App{
		Router:         r,
		Engines:        cfg.Engines,
		Metrics:        collector,
		logger:         logger,
		startTime:      time.Now(),
		sampleInterval: sampleInterval,
		stopCh:         make(chan struct{}),
	}

	// Handlers
	tenantsHandler := handlers.NewTenantsHandler(cfg.Engines, collector)
	itemsHandler := handlers.NewItemsHandler(cfg.Engines)
	sessionsHandler := handlers.NewSessionsHandler(cfg.Engines)
	recallHandler := handlers.NewRecallHandler(cfg.Engines)
	cognitiveHandler := handlers.NewCognitiveHandler(cfg.Engines, app.startTime)

	// Global middleware (order matters)
	r.Use(mw.RequestID)             // Generate/extract request ID first
	r.Use(middleware.RealIP)        // Extract real IP
	r.Use(mw.Metrics(collector))    // Collect request metrics
	r.Use(mw.Logging(logger))       // Log all requests
	r.Use(middleware.Recoverer)     // Recover from panics
	r.Use(mw.RateLimit(rps, burst)) // Rate limiting

	// Health (no tenant scope)
	r.Get("/health", healthHandler(cfg.Redis, cfg.DB))

	// Prometheus metrics (no tenant scope)
	r.Method(http.MethodGet, "/metrics", collector.Handler())

	// Tenant lifecycle (no tenant scope; these manage the registry itself)
	r.Post("/v1/tenants", tenantsHandler.Create)
	r.Delete("/v1/tenants/{id}", tenantsHandler.Delete)

	// Tenant-scoped routes
	r.Route("/v1", func(r chi.Router) {
		r.Use(mw.RequireTenant(cfg.Engines))

		// Working log (tier 0)
		r.Route("/items", func(r chi.Router) {
			r.Post("/", itemsHandler.Create)
			r.Get("/recent", itemsHandler.Recent)
			r.Delete("/", itemsHandler.Clear)
		})

		// Session memory (tier 1)
		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", sessionsHandler.List)
			r.Get("/{id}", sessionsHandler.Get)
		})

		// Hybrid retrieval
		r.Get("/recall", recallHandler.Search)

		// Maintenance triggers and stats
		r.Post("/consolidate", cognitiveHandler.Consolidate)
		r.Post("/promote", cognitiveHandler.Promote)
		r.Get("/stats", cognitiveHandler.Stats)
	})

	return app
}

// NewRouter returns just the chi.Mux for embedding in another server.
func NewRouter(cfg Config) *chi.Mux {
	return NewApp(cfg).Router
}

// Start launches the gauge sampler, which periodically publishes tier
// sizes and breaker states for every registered tenant.
func (app *App) Start() {
	app.wg.Add(1)
	go func() {
		defer app.wg.Done()
		ticker := time.NewTicker(app.sampleInterval)
		defer ticker.Stop()

		app.logger.Info("gauge sampler started", zap.Duration("interval", app.sampleInterval))

		for {
			select {
			case <-ticker.C:
				app.sampleGauges()
			case <-app.stopCh:
				app.logger.Info("gauge sampler stopped")
				return
			}
		}
	}()
}

// Stop halts the gauge sampler.
func (app *App) Stop() {
	close(app.stopCh)
	app.wg.Wait()
}

func (app *App) sampleGauges() {
	ctx, cancel := context.WithTimeout(context.Background(), sampleTimeout)
	defer cancel()

	for _, id := range app.Engines.TenantIDs() {
		eng, err := app.Engines.Get(id)
		if err != nil {
			continue
		}
		stats, err := eng.Stats(ctx)
		if err != nil {
			app.logger.Warn("gauge sample failed", zap.String("tenant_id", id), zap.Error(err))
			continue
		}
		app.Metrics.SetTierSize(id, domain.TierWorking, float64(stats.WorkingItems))
		app.Metrics.SetTierSize(id, domain.TierSession, float64(stats.Sessions))
		for _, b := range stats.Breakers {
			app.Metrics.SetBreakerState(id, b.Name, b.State)
		}
	}
}

func healthHandler(rdb *redis.Client, db *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := rdb.Ping(r.Context()).Err(); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "error", "error": err.Error()})
			return
		}

		if db != nil {
			if err := db.Ping(r.Context()); err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusServiceUnavailable)
				_ = json.NewEncoder(w).Encode(map[string]string{"status": "error", "error": err.Error()})
				return
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}
