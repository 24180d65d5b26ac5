package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/stratumhq/stratum/internal/domain"
	"github.com/stratumhq/stratum/internal/engine"
)

// TenantMetrics drops a tenant's gauge series on teardown.
type TenantMetrics interface {
	RemoveTenant(tenant string)
}

// TenantsHandler manages the engine registry: bootstrap and teardown.
// These routes are not tenant-scoped.
type TenantsHandler struct {
	engines *engine.Manager
	metrics TenantMetrics
}

func NewTenantsHandler(engines *engine.Manager, metrics TenantMetrics) *TenantsHandler {
	return &TenantsHandler{engines: engines, metrics: metrics}
}

type createTenantRequest struct {
	ID string `json:"id,omitempty"`
}

type createTenantResponse struct {
	TenantID string `json:"tenant_id"`
}

func (h *TenantsHandler) Create(w http.ResponseWriter, r *http.Request) {
	// Body is optional; an empty one gets a generated id.
	var req createTenantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	eng, err := h.engines.Create(req.ID)
	if err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			writeError(w, http.StatusConflict, "tenant already exists")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to create tenant")
		return
	}

	writeJSON(w, http.StatusCreated, createTenantResponse{TenantID: eng.TenantID()})
}

func (h *TenantsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.engines.Delete(r.Context(), id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "tenant not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to delete tenant")
		return
	}

	if h.metrics != nil {
		h.metrics.RemoveTenant(id)
	}

	w.WriteHeader(http.StatusNoContent)
}
