package handlers

import (
	"net/http"
	"time"

	"github.com/stratumhq/stratum/internal/api/middleware"
	"github.com/stratumhq/stratum/internal/buildconfig"
	"github.com/stratumhq/stratum/internal/engine"
)

// CognitiveHandler exposes the maintenance passes that normally run on
// timers: consolidation into tier 1 and promotion into tier 2, plus the
// per-tenant stats view.
type CognitiveHandler struct {
	engines   *engine.Manager
	startTime time.Time
}

func NewCognitiveHandler(engines *engine.Manager, startTime time.Time) *CognitiveHandler {
	return &CognitiveHandler{engines: engines, startTime: startTime}
}

func (h *CognitiveHandler) Consolidate(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.TenantIDFromContext(r.Context())
	eng, err := h.engines.Get(tenantID)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown tenant")
		return
	}

	result, err := eng.Consolidation.Consolidate(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "consolidation failed")
		return
	}

	// Skips (lock busy, no batch) are normal outcomes, not errors.
	writeJSON(w, http.StatusOK, result)
}

func (h *CognitiveHandler) Promote(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.TenantIDFromContext(r.Context())
	eng, err := h.engines.Get(tenantID)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown tenant")
		return
	}

	result, err := eng.Promotion.Promote(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "promotion failed")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

type statsResponse struct {
	engine.Stats
	UptimeSeconds float64 `json:"uptime_seconds"`
	Version       string  `json:"version"`
	Commit        string  `json:"commit"`
}

func (h *CognitiveHandler) Stats(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.TenantIDFromContext(r.Context())
	eng, err := h.engines.Get(tenantID)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown tenant")
		return
	}

	stats, err := eng.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to collect stats")
		return
	}

	writeJSON(w, http.StatusOK, statsResponse{
		Stats:         stats,
		UptimeSeconds: time.Since(h.startTime).Seconds(),
		Version:       buildconfig.Version(),
		Commit:        buildconfig.Commit(),
	})
}
