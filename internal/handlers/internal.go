package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hanko-field/orders/internal/platform/httpx"
	"github.com/hanko-field/orders/internal/platform/requestctx"
	"github.com/hanko-field/orders/internal/services"
)

const (
	defaultCleanupLimit = 500
	maxCleanupLimit     = 5000
)

// InternalHandlers exposes maintenance endpoints invoked by Cloud Scheduler. Callers are
// authenticated by the OIDC middleware mounted on the group.
type InternalHandlers struct {
	maintenance services.IdempotencyMaintenance
}

// NewInternalHandlers constructs the internal handlers.
func NewInternalHandlers(maintenance services.IdempotencyMaintenance) *InternalHandlers {
	return &InternalHandlers{maintenance: maintenance}
}

// Routes registers the /internal endpoints.
func (h *InternalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/maintenance/idempotency:cleanup", h.cleanupIdempotency)
}

func (h *InternalHandlers) cleanupIdempotency(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.maintenance == nil {
		httpx.WriteError(ctx, w, httpx.NewError("maintenance_unavailable", "idempotency maintenance unavailable", http.StatusServiceUnavailable))
		return
	}

	limit := defaultCleanupLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "limit must be a positive integer", http.StatusBadRequest))
			return
		}
		limit = min(parsed, maxCleanupLimit)
	}

	removed, err := h.maintenance.CleanupExpired(ctx, limit)
	if err != nil {
		requestctx.Logger(ctx).Error("idempotency cleanup failed", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("cleanup_failed", "failed to remove expired idempotency records", http.StatusInternalServerError))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"removed": removed, "limit": limit})
}
