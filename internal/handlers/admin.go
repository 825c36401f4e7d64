package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/platform/auth"
	"github.com/hanko-field/orders/internal/platform/httpx"
	"github.com/hanko-field/orders/internal/platform/requestctx"
	"github.com/hanko-field/orders/internal/services"
)

const maxAdminBodySize = 8 * 1024

type updateOrderStatusRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

type updateConversionStatusRequest struct {
	Status string `json:"status"`
}

type conversionPayload struct {
	ID         string `json:"id"`
	OrderID    string `json:"orderId"`
	Code       string `json:"code"`
	Commission string `json:"commission"`
	Status     string `json:"status"`
	CreatedAt  string `json:"createdAt"`
	PaidAt     string `json:"paidAt,omitempty"`
}

// AdminHandlers serves operator endpoints. Role enforcement is applied by the router group.
type AdminHandlers struct {
	lifecycle  services.OrderLifecycle
	affiliates services.AffiliateService
	// currency renders commissions, which are stored without a currency of their own.
	currency string
}

// NewAdminHandlers constructs the admin handlers.
func NewAdminHandlers(lifecycle services.OrderLifecycle, affiliates services.AffiliateService, currency string) *AdminHandlers {
	if strings.TrimSpace(currency) == "" {
		currency = services.DefaultCurrency
	}
	return &AdminHandlers{lifecycle: lifecycle, affiliates: affiliates, currency: currency}
}

// Routes registers the /admin endpoints.
func (h *AdminHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Patch("/orders/{orderID}/status", h.updateOrderStatus)
	r.Patch("/affiliate/conversions/{conversionID}/status", h.updateConversionStatus)
}

func (h *AdminHandlers) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.lifecycle == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req updateOrderStatusRequest
	if err := httpx.DecodeJSON(r, &req, maxAdminBodySize); err != nil {
		writeDecodeError(ctx, w, err)
		return
	}
	target := domain.OrderStatus(strings.ToLower(strings.TrimSpace(req.Status)))
	if !target.Valid() {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status must be one of pending, paid, shipped, delivered, cancelled", http.StatusBadRequest))
		return
	}

	result, err := h.lifecycle.Transition(ctx, services.TransitionCommand{
		OrderID: orderID,
		Target:  target,
		Trigger: services.TriggerAdmin,
		ActorID: actorID(ctx),
		Reason:  strings.TrimSpace(req.Reason),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrderPayload(result.Order))
}

func (h *AdminHandlers) updateConversionStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.affiliates == nil {
		httpx.WriteError(ctx, w, httpx.NewError("affiliate_service_unavailable", "affiliate service unavailable", http.StatusServiceUnavailable))
		return
	}

	conversionID := strings.TrimSpace(chi.URLParam(r, "conversionID"))
	var req updateConversionStatusRequest
	if err := httpx.DecodeJSON(r, &req, maxAdminBodySize); err != nil {
		writeDecodeError(ctx, w, err)
		return
	}

	conversion, err := h.affiliates.UpdateConversionStatus(ctx, services.UpdateConversionStatusCommand{
		ConversionID: conversionID,
		Status:       domain.AffiliateConversionStatus(strings.ToLower(strings.TrimSpace(req.Status))),
		ActorID:      actorID(ctx),
	})
	if err != nil {
		writeAffiliateError(ctx, w, err)
		return
	}

	payload := conversionPayload{
		ID:         conversion.ID,
		OrderID:    conversion.OrderID,
		Code:       conversion.Code,
		Commission: services.FormatMajor(conversion.CommissionCents, h.currency),
		Status:     string(conversion.Status),
		CreatedAt:  formatTime(conversion.CreatedAt),
	}
	if conversion.PaidAt != nil {
		payload.PaidAt = formatTime(*conversion.PaidAt)
	}
	httpx.WriteJSON(w, http.StatusOK, payload)
}

func actorID(ctx context.Context) string {
	if identity, ok := auth.IdentityFromContext(ctx); ok && identity != nil {
		return identity.UID
	}
	return ""
}

func writeAffiliateError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrAffiliateInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrAffiliateNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("conversion_not_found", "conversion not found", http.StatusNotFound))
	case errors.Is(err, services.ErrAffiliateInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("conversion_invalid_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrAffiliateUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("affiliate_store_unavailable", "affiliate storage unavailable", http.StatusServiceUnavailable))
	default:
		requestctx.Logger(ctx).Error("affiliate request failed", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("internal_server_error", "failed to process affiliate request", http.StatusInternalServerError))
	}
}
