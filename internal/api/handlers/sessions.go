package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/stratumhq/stratum/internal/api/middleware"
	"github.com/stratumhq/stratum/internal/domain"
	"github.com/stratumhq/stratum/internal/engine"
	"github.com/stratumhq/stratum/internal/service"
)

// SessionsHandler is the tier-1 read surface. Single-session reads
// reinforce the session; listings do not.
type SessionsHandler struct {
	engines *engine.Manager
}

func NewSessionsHandler(engines *engine.Manager) *SessionsHandler {
	return &SessionsHandler{engines: engines}
}

type sessionListResponse struct {
	Sessions []service.SessionView `json:"sessions"`
	Count    int                   `json:"count"`
}

func (h *SessionsHandler) List(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.TenantIDFromContext(r.Context())
	eng, err := h.engines.Get(tenantID)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown tenant")
		return
	}

	sessions, err := eng.Sessions.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}

	writeJSON(w, http.StatusOK, sessionListResponse{Sessions: sessions, Count: len(sessions)})
}

func (h *SessionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.TenantIDFromContext(r.Context())
	eng, err := h.engines.Get(tenantID)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown tenant")
		return
	}

	id := chi.URLParam(r, "id")
	view, err := eng.Sessions.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get session")
		return
	}

	writeJSON(w, http.StatusOK, view)
}
