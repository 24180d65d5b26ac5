package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/stratumhq/stratum/internal/api/middleware"
	"github.com/stratumhq/stratum/internal/domain"
	"github.com/stratumhq/stratum/internal/engine"
	"github.com/stratumhq/stratum/internal/service"
)

// RecallHandler runs hybrid search across all three tiers.
type RecallHandler struct {
	engines *engine.Manager
}

func NewRecallHandler(engines *engine.Manager) *RecallHandler {
	return &RecallHandler{engines: engines}
}

type recallResponse struct {
	Query   string                `json:"query"`
	Results []domain.SearchResult `json:"results"`
	Count   int                   `json:"count"`
}

func (h *RecallHandler) Search(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.TenantIDFromContext(r.Context())
	eng, err := h.engines.Get(tenantID)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown tenant")
		return
	}

	query := r.URL.Query().Get("query")

	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if v, err := strconv.Atoi(limitStr); err == nil && v > 0 {
			limit = v
		}
	}

	results, err := eng.Retriever.Search(r.Context(), query, limit)
	if err != nil {
		if errors.Is(err, service.ErrQueryEmpty) {
			writeError(w, http.StatusBadRequest, "query is required")
			return
		}
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}

	writeJSON(w, http.StatusOK, recallResponse{Query: query, Results: results, Count: len(results)})
}
