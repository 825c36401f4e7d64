package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hanko-field/orders/internal/payments"
	"github.com/hanko-field/orders/internal/platform/httpx"
	"github.com/hanko-field/orders/internal/platform/requestctx"
)

const maxWebhookBodySize = 256 * 1024

// WebhookReconciler is the payments entry point used by the webhook handler.
type WebhookReconciler interface {
	Supports(provider string) bool
	Handle(ctx context.Context, provider string, delivery payments.Delivery) (payments.Result, error)
}

// PaymentWebhookHandlers receives PSP webhooks. Signatures cover the raw body, so it is read as bytes
// and never re-encoded.
type PaymentWebhookHandlers struct {
	reconciler WebhookReconciler
}

// NewPaymentWebhookHandlers constructs the webhook handlers.
func NewPaymentWebhookHandlers(reconciler WebhookReconciler) *PaymentWebhookHandlers {
	return &PaymentWebhookHandlers{reconciler: reconciler}
}

// Routes registers POST /payments/{provider}/webhook.
func (h *PaymentWebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/{provider}/webhook", h.receive)
}

func (h *PaymentWebhookHandlers) receive(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	provider := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "provider")))
	if h.reconciler == nil || !h.reconciler.Supports(provider) {
		httpx.WriteError(ctx, w, httpx.NewError("unsupported_provider", "payment provider is not supported", http.StatusNotFound))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodySize+1))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "failed to read request body", http.StatusBadRequest))
		return
	}
	if len(body) > maxWebhookBodySize {
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body too large", http.StatusRequestEntityTooLarge))
		return
	}

	result, err := h.reconciler.Handle(ctx, provider, payments.Delivery{Headers: r.Header.Clone(), Body: body})
	if err != nil {
		writeWebhookError(ctx, w, provider, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, result)
}

func writeWebhookError(ctx context.Context, w http.ResponseWriter, provider string, err error) {
	switch {
	case errors.Is(err, payments.ErrUnsupportedProvider):
		httpx.WriteError(ctx, w, httpx.NewError("unsupported_provider", "payment provider is not supported", http.StatusNotFound))
	case errors.Is(err, payments.ErrMissingSignature):
		httpx.WriteError(ctx, w, httpx.NewError("missing_signature", err.Error(), http.StatusBadRequest))
	case errors.Is(err, payments.ErrInvalidSignature):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook signature verification failed", http.StatusBadRequest))
	case errors.Is(err, payments.ErrInvalidPayload):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_payload", err.Error(), http.StatusBadRequest))
	case errors.Is(err, payments.ErrVerificationUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("verification_unavailable", "signature verification is temporarily unavailable", http.StatusBadGateway))
	case errors.Is(err, payments.ErrDeliveryInProgress):
		httpx.WriteError(ctx, w, httpx.NewError("delivery_in_progress", "a delivery of this event is still being processed", http.StatusConflict))
	default:
		requestctx.Logger(ctx).Error("payment webhook failed", zap.String("provider", provider), zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("internal_server_error", "failed to process webhook", http.StatusInternalServerError))
	}
}
