package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/stratumhq/stratum/internal/engine"
)

type contextKey string

const tenantContextKey contextKey = "tenant"

// TenantHeader names the header that scopes a request to one tenant's
// engine.
const TenantHeader = "X-Tenant-ID"

// TenantIDFromContext returns the tenant id stamped by RequireTenant,
// or "" when the request was not tenant-scoped.
func TenantIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(tenantContextKey).(string)
	return id
}

// RequireTenant resolves the X-Tenant-ID header against the engine
// registry and stores the tenant id in the request context. Requests
// without the header are rejected with 400; unknown tenants with 404.
func RequireTenant(engines *engine.Manager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := strings.TrimSpace(r.Header.Get(TenantHeader))
			if id == "" {
				writeError(w, http.StatusBadRequest, "missing "+TenantHeader+" header")
				return
			}

			if _, err := engines.Get(id); err != nil {
				writeError(w, http.StatusNotFound, "unknown tenant")
				return
			}

			ctx := context.WithValue(r.Context(), tenantContextKey, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
