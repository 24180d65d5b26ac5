package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/stratumhq/stratum/internal/api/middleware"
	"github.com/stratumhq/stratum/internal/domain"
	"github.com/stratumhq/stratum/internal/engine"
	"github.com/stratumhq/stratum/internal/service"
)

const (
	defaultImportance  = 0.5
	defaultRecentLimit = 20
)

// ItemsHandler is the tier-0 surface: append, list recent, clear.
type ItemsHandler struct {
	engines *engine.Manager
}

func NewItemsHandler(engines *engine.Manager) *ItemsHandler {
	return &ItemsHandler{engines: engines}
}

type createItemRequest struct {
	Content    string            `json:"content"`
	Importance *float64          `json:"importance,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

func (h *ItemsHandler) Create(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.TenantIDFromContext(r.Context())
	eng, err := h.engines.Get(tenantID)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown tenant")
		return
	}

	var req createItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	importance := defaultImportance
	if req.Importance != nil {
		importance = *req.Importance
	}

	item := &domain.Item{
		Content:    req.Content,
		Importance: importance,
		Metadata:   req.Metadata,
	}
	if err := eng.WorkingLog.Append(r.Context(), item); err != nil {
		switch {
		case errors.Is(err, service.ErrContentEmpty), errors.Is(err, service.ErrImportanceRange):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "failed to append item")
		}
		return
	}

	writeJSON(w, http.StatusCreated, item)
}

type recentItemsResponse struct {
	Items []domain.Item `json:"items"`
	Count int           `json:"count"`
}

func (h *ItemsHandler) Recent(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.TenantIDFromContext(r.Context())
	eng, err := h.engines.Get(tenantID)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown tenant")
		return
	}

	k := defaultRecentLimit
	if kStr := r.URL.Query().Get("k"); kStr != "" {
		if v, err := strconv.Atoi(kStr); err == nil && v > 0 {
			k = v
		}
	}

	items, err := eng.WorkingLog.Recent(r.Context(), k)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list items")
		return
	}

	writeJSON(w, http.StatusOK, recentItemsResponse{Items: items, Count: len(items)})
}

func (h *ItemsHandler) Clear(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.TenantIDFromContext(r.Context())
	eng, err := h.engines.Get(tenantID)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown tenant")
		return
	}

	if err := eng.WorkingLog.Clear(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to clear working log")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
