package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/platform/auth"
	"github.com/hanko-field/orders/internal/platform/httpx"
	"github.com/hanko-field/orders/internal/platform/pagination"
	"github.com/hanko-field/orders/internal/platform/requestctx"
	"github.com/hanko-field/orders/internal/repositories"
	"github.com/hanko-field/orders/internal/services"
)

const (
	defaultIdempotencyHeader = "Idempotency-Key"
	maxIdempotencyKeyLength  = 255
	maxOrderBodySize         = 256 * 1024
)

type createOrderItemRequest struct {
	ProductID string          `json:"productId,omitempty"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
	ImageURL  string          `json:"imageUrl,omitempty"`
}

type createOrderRequest struct {
	Items           []createOrderItemRequest `json:"items"`
	Email           string                   `json:"email,omitempty"`
	Status          string                   `json:"status,omitempty"`
	PaymentProvider string                   `json:"paymentProvider,omitempty"`
	PaymentRef      string                   `json:"paymentRef,omitempty"`
	Currency        string                   `json:"currency,omitempty"`
	ShippingAddress *addressPayload          `json:"shippingAddress,omitempty"`
}

// OrderHandlers exposes storefront order creation and owner-scoped reads.
type OrderHandlers struct {
	orders            services.OrderService
	cookies           *auth.GuestCookies
	idempotencyHeader string
}

// OrderHandlersOption customises OrderHandlers.
type OrderHandlersOption func(*OrderHandlers)

// WithIdempotencyHeader overrides the header carrying idempotency keys.
func WithIdempotencyHeader(name string) OrderHandlersOption {
	return func(h *OrderHandlers) {
		if name = strings.TrimSpace(name); name != "" {
			h.idempotencyHeader = name
		}
	}
}

// WithReferralCookies lets order creation read the signed referral cookie.
func WithReferralCookies(cookies *auth.GuestCookies) OrderHandlersOption {
	return func(h *OrderHandlers) {
		h.cookies = cookies
	}
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(orders services.OrderService, opts ...OrderHandlersOption) *OrderHandlers {
	h := &OrderHandlers{
		orders:            orders,
		idempotencyHeader: defaultIdempotencyHeader,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /orders endpoints. Owner resolution middleware must run first.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/", h.createOrder)
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	owner, ok := requireOwner(ctx, w)
	if !ok {
		return
	}

	key := strings.TrimSpace(r.Header.Get(h.idempotencyHeader))
	if len(key) > maxIdempotencyKeyLength {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", h.idempotencyHeader+" header is too long", http.StatusBadRequest))
		return
	}

	var req createOrderRequest
	if err := httpx.DecodeJSON(r, &req, maxOrderBodySize); err != nil {
		writeDecodeError(ctx, w, err)
		return
	}

	currency, err := services.NormalizeCurrency(req.Currency)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "currency is not a supported ISO 4217 code", http.StatusBadRequest).
			WithDetails(map[string]any{"fields": map[string]string{"currency": "is not a supported ISO 4217 code"}}))
		return
	}

	items := make([]services.OrderItemInput, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, services.OrderItemInput{
			ProductID:  strings.TrimSpace(item.ProductID),
			Name:       item.Name,
			PriceCents: services.ToMinorUnits(item.Price, currency),
			Quantity:   item.Quantity,
			ImageURL:   strings.TrimSpace(item.ImageURL),
		})
	}

	cmd := services.CreateOrderCommand{
		UserID:          owner.UserID,
		GuestID:         owner.GuestID,
		Email:           req.Email,
		Status:          domain.OrderStatus(strings.ToLower(strings.TrimSpace(req.Status))),
		PaymentProvider: domain.PaymentProvider(strings.ToLower(strings.TrimSpace(req.PaymentProvider))),
		PaymentRef:      req.PaymentRef,
		Currency:        currency,
		Items:           items,
		ShippingAddress: req.ShippingAddress.toDomain(),
		IdempotencyKey:  key,
		Payload:         req,
		Encode: func(order services.Order) ([]byte, error) {
			return json.Marshal(buildOrderPayload(order))
		},
	}
	if h.cookies != nil {
		cmd.ReferralCode = h.cookies.ReferralCode(r)
	}

	result, err := h.orders.Create(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	status := result.Status
	if status == 0 {
		status = http.StatusCreated
	}
	httpx.WriteRaw(w, status, result.Body)
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	owner, ok := requireOwner(ctx, w)
	if !ok {
		return
	}

	params, err := pagination.Parse(r.URL.Query())
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.orders.List(ctx, services.ListOrdersQuery{
		UserID:    owner.UserID,
		GuestID:   owner.GuestID,
		PageSize:  params.PageSize,
		PageToken: params.PageToken,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	payload := orderListPayload{
		Items:         make([]orderPayload, 0, len(page.Items)),
		NextPageToken: page.NextPageToken,
	}
	for _, order := range page.Items {
		payload.Items = append(payload.Items, buildOrderPayload(order))
	}
	httpx.WriteJSON(w, http.StatusOK, payload)
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	owner, ok := requireOwner(ctx, w)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.Get(ctx, services.GetOrderQuery{
		OrderID: orderID,
		UserID:  owner.UserID,
		GuestID: owner.GuestID,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrderPayload(order))
}

func requireOwner(ctx context.Context, w http.ResponseWriter) (requestctx.Owner, bool) {
	owner, ok := requestctx.OwnerFrom(ctx)
	if !ok || (owner.UserID == "" && owner.GuestID == "") {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "a signed-in user or guest session is required", http.StatusUnauthorized))
		return requestctx.Owner{}, false
	}
	return owner, true
}

func writeDecodeError(ctx context.Context, w http.ResponseWriter, err error) {
	if errors.Is(err, httpx.ErrBodyTooLarge) {
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body too large", http.StatusRequestEntityTooLarge))
		return
	}
	httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON: "+err.Error(), http.StatusBadRequest))
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	var verr *services.ValidationError
	switch {
	case errors.As(err, &verr):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request validation failed", http.StatusBadRequest).
			WithDetails(map[string]any{"fields": verr.Fields}))
	case errors.Is(err, services.ErrOrderOutOfStock):
		productID, _ := repositories.OutOfStockProduct(err)
		httpx.WriteError(ctx, w, httpx.NewError("out_of_stock", "insufficient stock", http.StatusConflict).
			WithDetails(map[string]any{"productId": productID}))
	case errors.Is(err, services.ErrIdempotencyKeyMismatch):
		httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_mismatch", "idempotency key was reused with a different request body", http.StatusConflict))
	case errors.Is(err, services.ErrIdempotencyInProgress):
		httpx.WriteError(ctx, w, httpx.NewError("idempotency_request_in_progress", "a request with this idempotency key is still being processed", http.StatusConflict))
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", "order was modified concurrently", http.StatusConflict))
	case errors.Is(err, services.ErrCatalogUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "product catalog unavailable", http.StatusBadGateway))
	case errors.Is(err, services.ErrOrderUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("order_store_unavailable", "order storage unavailable", http.StatusServiceUnavailable))
	default:
		requestctx.Logger(ctx).Error("order request failed", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("internal_server_error", "failed to process order request", http.StatusInternalServerError))
	}
}
