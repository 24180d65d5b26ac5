package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stratumhq/stratum/internal/domain"
	"github.com/stratumhq/stratum/internal/resilience"
	"github.com/stratumhq/stratum/internal/service"
)

// Collector owns every Prometheus series the process exports. It carries
// its own registry so tests can build collectors independently, and it
// implements service.MetricsObserver so engines can report through it.
type Collector struct {
	registry *prometheus.Registry

	// HTTP surface
	RequestDuration *prometheus.HistogramVec
	RequestCount    *prometheus.CounterVec

	// Memory pipeline
	ItemsAppended         prometheus.Counter
	Consolidations        *prometheus.CounterVec
	ConsolidationDuration prometheus.Histogram
	SessionsCreated       prometheus.Counter
	SummarizerFallbacks   prometheus.Counter
	Promotions            *prometheus.CounterVec

	// Retrieval
	RetrievalDuration *prometheus.HistogramVec

	// Background tasks
	Tasks *prometheus.CounterVec

	// Sampled gauges
	TierSize     *prometheus.GaugeVec
	BreakerState *prometheus.GaugeVec
}

var _ service.MetricsObserver = (*Collector)(nil)

func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),

		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "stratum",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"method", "route", "status"},
		),
		RequestCount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "stratum",
				Name:      "http_requests_total",
				Help:      "Total HTTP requests",
			},
			[]string{"method", "route", "status"},
		),

		ItemsAppended: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "stratum",
			Name:      "items_appended_total",
			Help:      "Accepted working-log appends",
		}),
		Consolidations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "stratum",
				Name:      "consolidations_total",
				Help:      "Consolidation runs by outcome",
			},
			[]string{"outcome"},
		),
		ConsolidationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "stratum",
			Name:      "consolidation_duration_seconds",
			Help:      "Consolidation run duration in seconds",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}),
		SessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "stratum",
			Name:      "sessions_created_total",
			Help:      "Sessions produced by consolidation",
		}),
		SummarizerFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "stratum",
			Name:      "summarizer_fallbacks_total",
			Help:      "Consolidations that fell back to snippet summaries",
		}),
		Promotions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "stratum",
				Name:      "promotions_total",
				Help:      "Promotion sweep session outcomes",
			},
			[]string{"outcome"},
		),

		RetrievalDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "stratum",
				Name:      "retrieval_duration_seconds",
				Help:      "Retrieval strategy duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"strategy"},
		),

		Tasks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "stratum",
				Name:      "tasks_total",
				Help:      "Background task completions by status",
			},
			[]string{"name", "status"},
		),

		TierSize: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "stratum",
				Name:      "tier_size",
				Help:      "Entries per memory tier",
			},
			[]string{"tenant", "tier"},
		),
		BreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "stratum",
				Name:      "breaker_state",
				Help:      "Circuit breaker state (0 closed, 1 open, 2 half-open)",
			},
			[]string{"tenant", "collaborator"},
		),
	}

	c.registry.MustRegister(
		c.RequestDuration,
		c.RequestCount,
		c.ItemsAppended,
		c.Consolidations,
		c.ConsolidationDuration,
		c.SessionsCreated,
		c.SummarizerFallbacks,
		c.Promotions,
		c.RetrievalDuration,
		c.Tasks,
		c.TierSize,
		c.BreakerState,
	)
	return c
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the scrape endpoint for this collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	code := strconv.Itoa(status)
	c.RequestDuration.WithLabelValues(method, route, code).Observe(elapsed.Seconds())
	c.RequestCount.WithLabelValues(method, route, code).Inc()
}

func (c *Collector) ObserveAppend() {
	c.ItemsAppended.Inc()
}

func (c *Collector) ObserveConsolidation(res *service.ConsolidationResult) {
	c.Consolidations.WithLabelValues(string(res.Outcome)).Inc()
	c.ConsolidationDuration.Observe(float64(res.DurationMS) / 1000)
	if res.Outcome == domain.OutcomeConsolidated {
		c.SessionsCreated.Inc()
	}
	if res.UsedFallback {
		c.SummarizerFallbacks.Inc()
	}
}

func (c *Collector) ObservePromotion(res *service.PromotionResult) {
	add := func(outcome string, n int) {
		if n > 0 {
			c.Promotions.WithLabelValues(outcome).Add(float64(n))
		}
	}
	add(string(domain.OutcomePromoted), res.Promoted)
	add(string(domain.OutcomeSkippedDuplicate), res.SkippedDuplicate)
	add(string(domain.OutcomeDropped), res.Dropped)
	add(string(domain.OutcomeKept), res.Kept)
	add("expired", res.Expired)
}

func (c *Collector) ObserveRetrieval(strategy string, elapsed time.Duration) {
	c.RetrievalDuration.WithLabelValues(strategy).Observe(elapsed.Seconds())
}

// TaskDone matches the task runner's completion callback.
func (c *Collector) TaskDone(name string, err error, d time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.Tasks.WithLabelValues(name, status).Inc()
}

func (c *Collector) SetTierSize(tenant string, tier domain.Tier, n float64) {
	c.TierSize.WithLabelValues(tenant, string(tier)).Set(n)
}

func (c *Collector) SetBreakerState(tenant, collaborator string, state resilience.CircuitState) {
	var v float64
	switch state {
	case resilience.CircuitOpen:
		v = 1
	case resilience.CircuitHalfOpen:
		v = 2
	}
	c.BreakerState.WithLabelValues(tenant, collaborator).Set(v)
}

// RemoveTenant drops the sampled series of a deleted tenant.
func (c *Collector) RemoveTenant(tenant string) {
	c.TierSize.DeletePartialMatch(prometheus.Labels{"tenant": tenant})
	c.BreakerState.DeletePartialMatch(prometheus.Labels{"tenant": tenant})
}
