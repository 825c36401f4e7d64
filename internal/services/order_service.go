package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/platform/idempotency"
	"github.com/hanko-field/orders/internal/platform/pagination"
	"github.com/hanko-field/orders/internal/platform/tasks"
	"github.com/hanko-field/orders/internal/platform/textutil"
	"github.com/hanko-field/orders/internal/repositories"
)

const (
	// OrderCreateScope namespaces Idempotency-Key values of order creation.
	OrderCreateScope = "orders/create"

	orderIDPrefix     = "ord_"
	orderItemIDPrefix = "itm_"

	defaultOrderPageSize = 20
	maxOrderPageSize     = 100

	compensationTimeout = 10 * time.Second
)

// IdempotencyGuard is the subset of the idempotency guard used by services.
type IdempotencyGuard interface {
	Begin(ctx context.Context, key, scope string, payload any) (idempotency.Outcome, error)
	Complete(ctx context.Context, claim *idempotency.Claim, status int, body []byte) error
	Abandon(ctx context.Context, claim *idempotency.Claim) error
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders             repositories.OrderRepository
	Inventory          repositories.InventoryRepository
	Catalog            repositories.CatalogRepository
	UnitOfWork         repositories.UnitOfWork
	Idempotency        IdempotencyGuard
	Validator          OrderValidator
	Totals             TotalsCalculator
	Affiliates         AffiliateService
	Notifier           Notifier
	Events             OrderEventPublisher
	Tasks              *tasks.Runner
	NotificationPolicy *tasks.Policy
	Clock              func() time.Time
	IDGenerator        func() string
	Logger             func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders      repositories.OrderRepository
	inventory   repositories.InventoryRepository
	pricer      catalogPricer
	unitOfWork  repositories.UnitOfWork
	idempotency IdempotencyGuard
	validator   OrderValidator
	totals      TotalsCalculator
	affiliates  AffiliateService
	effects     sideEffects
	clock       func() time.Time
	newID       func() string
	logger      func(context.Context, string, map[string]any)
}

var _ OrderService = (*orderService)(nil)

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Inventory == nil {
		return nil, errors.New("order service: inventory repository is required")
	}
	if deps.Idempotency == nil {
		return nil, errors.New("order service: idempotency guard is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}

	validator := deps.Validator
	if validator == nil {
		validator = NewOrderValidator()
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:      deps.Orders,
		inventory:   deps.Inventory,
		pricer:      catalogPricer{catalog: deps.Catalog},
		unitOfWork:  unit,
		idempotency: deps.Idempotency,
		validator:   validator,
		totals:      deps.Totals,
		affiliates:  deps.Affiliates,
		effects:     newSideEffects(deps.Tasks, deps.Notifier, deps.Events, deps.NotificationPolicy, logger),
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *orderService) Create(ctx context.Context, cmd CreateOrderCommand) (CreateOrderResult, error) {
	cmd.UserID = strings.TrimSpace(cmd.UserID)
	cmd.GuestID = strings.TrimSpace(cmd.GuestID)
	if cmd.UserID == "" && cmd.GuestID == "" {
		return CreateOrderResult{}, fmt.Errorf("%w: a user or guest identity is required", ErrOrderInvalidInput)
	}
	cmd.Email = strings.TrimSpace(cmd.Email)
	cmd.PaymentRef = strings.TrimSpace(cmd.PaymentRef)

	if err := s.validator.ValidateCreate(cmd); err != nil {
		return CreateOrderResult{}, err
	}

	var claim *idempotency.Claim
	if key := strings.TrimSpace(cmd.IdempotencyKey); key != "" {
		outcome, err := s.idempotency.Begin(ctx, key, OrderCreateScope, idempotencyPayload(cmd))
		switch {
		case errors.Is(err, idempotency.ErrHashMismatch):
			return CreateOrderResult{}, ErrIdempotencyKeyMismatch
		case errors.Is(err, idempotency.ErrInProgress):
			return CreateOrderResult{}, ErrIdempotencyInProgress
		case err != nil:
			return CreateOrderResult{}, fmt.Errorf("order: idempotency lookup: %w", err)
		}
		if outcome.Replay != nil {
			return CreateOrderResult{
				Body:     outcome.Replay.ResponseBody,
				Status:   http.StatusOK,
				Replayed: true,
			}, nil
		}
		claim = outcome.Claim
	}

	order, err := s.create(ctx, cmd)
	if err != nil {
		s.abandon(ctx, claim)
		return CreateOrderResult{}, err
	}

	encode := cmd.Encode
	if encode == nil {
		encode = func(o Order) ([]byte, error) { return json.Marshal(o) }
	}
	body, err := encode(order)
	if err != nil {
		// The order exists; leave the claim pending so a retry cannot create a second one.
		s.logger(ctx, "order.response.encode_failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
		return CreateOrderResult{}, fmt.Errorf("order: encode response: %w", err)
	}

	if claim != nil {
		if err := s.idempotency.Complete(ctx, claim, http.StatusCreated, body); err != nil {
			s.logger(ctx, "order.idempotency.complete_failed", map[string]any{
				"orderId": order.ID,
				"key":     claim.Key,
				"error":   err.Error(),
			})
		}
	}

	return CreateOrderResult{Order: order, Body: body, Status: http.StatusCreated}, nil
}

// create runs the reservation, persistence and side-effect steps. Once inventory has been reserved the
// function returns only after the order is persisted or the reservation has been released.
func (s *orderService) create(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	currency, err := NormalizeCurrency(cmd.Currency)
	if err != nil {
		return Order{}, err
	}

	lines := make([]catalogLine, 0, len(cmd.Items))
	for _, item := range cmd.Items {
		lines = append(lines, catalogLine{
			ProductID:  strings.TrimSpace(item.ProductID),
			PriceCents: item.PriceCents,
			Quantity:   item.Quantity,
		})
	}
	priced, err := s.pricer.price(ctx, lines)
	if err != nil {
		return Order{}, err
	}
	totals := s.totals.Calculate(priced, destinationFromAddress(cmd.ShippingAddress))

	now := s.now()
	status := cmd.Status
	if status == "" {
		status = domain.OrderStatusPending
	}

	orderID := s.nextOrderID()
	order := Order{
		ID:              orderID,
		UserID:          cmd.UserID,
		GuestID:         cmd.GuestID,
		Email:           cmd.Email,
		Status:          status,
		PaymentProvider: cmd.PaymentProvider,
		PaymentRef:      cmd.PaymentRef,
		Currency:        currency,
		SubtotalCents:   totals.SubtotalCents,
		ShippingCents:   totals.ShippingCents,
		TaxCents:        totals.TaxCents,
		TotalCents:      totals.TotalCents,
		Items:           s.buildItems(cmd.Items, priced),
		ShippingAddress: cloneAddress(cmd.ShippingAddress),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if code := strings.TrimSpace(cmd.ReferralCode); code != "" && s.affiliates != nil {
		attribution, attrErr := s.affiliates.Attribute(ctx, code, totals.SubtotalCents)
		if attrErr != nil {
			s.logger(ctx, "order.affiliate.attribution_failed", map[string]any{
				"orderId": order.ID,
				"code":    code,
				"error":   attrErr.Error(),
			})
		} else if attribution != nil {
			order.Affiliate = &domain.AffiliateSnapshot{
				Code:            attribution.Code,
				ClickID:         attribution.ClickID,
				CommissionCents: attribution.CommissionCents,
				Status:          domain.AffiliateConversionPending,
				AttributedAt:    attribution.AttributedAt,
			}
		}
	}

	reservation := reservationLines(order.Items)
	if len(reservation) > 0 {
		if err := s.inventory.ReserveForOrder(ctx, order.ID, reservation); err != nil {
			if _, ok := repositories.OutOfStockProduct(err); ok {
				return Order{}, fmt.Errorf("%w: %w", ErrOrderOutOfStock, err)
			}
			return Order{}, fmt.Errorf("order: reserve inventory: %w", mapOrderRepositoryError(err))
		}

		persisted := false
		defer func() {
			if !persisted {
				s.compensateReservation(ctx, orderID)
			}
		}()
		if err := s.persist(ctx, order); err != nil {
			return Order{}, err
		}
		persisted = true
	} else if err := s.persist(ctx, order); err != nil {
		return Order{}, err
	}

	kind := domain.NotificationCreated
	if order.Status == domain.OrderStatusPaid {
		kind = domain.NotificationPaid
	}
	s.effects.notify(ctx, order, kind, now)
	s.effects.publish(ctx, OrderEvent{
		Type:          orderEventCreated,
		OrderID:       order.ID,
		CurrentStatus: string(order.Status),
		ActorID:       firstNonEmpty(cmd.UserID, cmd.GuestID),
		OccurredAt:    now,
		Metadata: map[string]any{
			"totalCents": order.TotalCents,
			"currency":   order.Currency,
		},
	})

	if order.Affiliate != nil && s.affiliates != nil {
		snapshot := order
		s.effects.run(ctx, "order.affiliate.conversion", func(taskCtx context.Context) error {
			_, convErr := s.affiliates.RecordConversion(taskCtx, snapshot)
			return convErr
		})
	}

	return order, nil
}

// persist inserts the order and, for orders created as paid, commits the reservation in the same unit
// of work.
func (s *orderService) persist(ctx context.Context, order Order) error {
	return s.runInTx(ctx, func(txCtx context.Context) error {
		if err := s.orders.Insert(txCtx, order); err != nil {
			return mapOrderRepositoryError(err)
		}
		if order.Status != domain.OrderStatusPaid {
			return nil
		}
		if err := s.inventory.CommitOrder(txCtx, order.ID); err != nil {
			return fmt.Errorf("order: commit inventory: %w", mapOrderRepositoryError(err))
		}
		return nil
	})
}

func (s *orderService) compensateReservation(ctx context.Context, orderID string) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()
	if err := s.inventory.ReleaseOrder(releaseCtx, orderID); err != nil {
		s.logger(ctx, "order.reservation.leaked", map[string]any{
			"orderId": orderID,
			"error":   err.Error(),
		})
		return
	}
	s.logger(ctx, "order.reservation.released", map[string]any{
		"orderId": orderID,
	})
}

func (s *orderService) abandon(ctx context.Context, claim *idempotency.Claim) {
	if claim == nil {
		return
	}
	if err := s.idempotency.Abandon(context.WithoutCancel(ctx), claim); err != nil {
		s.logger(ctx, "order.idempotency.abandon_failed", map[string]any{
			"key":   claim.Key,
			"error": err.Error(),
		})
	}
}

func (s *orderService) Get(ctx context.Context, query GetOrderQuery) (Order, error) {
	orderID := strings.TrimSpace(query.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	userID := strings.TrimSpace(query.UserID)
	guestID := strings.TrimSpace(query.GuestID)
	if userID == "" && guestID == "" {
		return Order{}, ErrOrderNotFound
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapOrderRepositoryError(err)
	}
	if !order.OwnedBy(userID, guestID) {
		return Order{}, fmt.Errorf("%w: order %s", ErrOrderNotFound, orderID)
	}
	return order, nil
}

func (s *orderService) List(ctx context.Context, query ListOrdersQuery) (OrderPage, error) {
	userID := strings.TrimSpace(query.UserID)
	guestID := strings.TrimSpace(query.GuestID)
	if userID == "" && guestID == "" {
		return OrderPage{}, fmt.Errorf("%w: a user or guest identity is required", ErrOrderInvalidInput)
	}
	// Signed-in users see their own orders only; the guest id is ignored once a user id is known.
	if userID != "" {
		guestID = ""
	}

	pageSize := query.PageSize
	switch {
	case pageSize <= 0:
		pageSize = defaultOrderPageSize
	case pageSize > maxOrderPageSize:
		pageSize = maxOrderPageSize
	}

	page, err := s.orders.List(ctx, repositories.OrderListFilter{
		UserID:    userID,
		GuestID:   guestID,
		PageSize:  pageSize,
		PageToken: strings.TrimSpace(query.PageToken),
	})
	if errors.Is(err, pagination.ErrInvalidPageToken) {
		return OrderPage{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
	}
	if err != nil {
		return OrderPage{}, mapOrderRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) buildItems(inputs []OrderItemInput, priced []PricedItem) []OrderItem {
	items := make([]OrderItem, 0, len(inputs))
	for idx, input := range inputs {
		items = append(items, OrderItem{
			ID:         orderItemIDPrefix + s.newID(),
			ProductID:  priced[idx].ProductID,
			Name:       textutil.PlainTextMax(input.Name, maxItemNameLength),
			PriceCents: priced[idx].PriceCents,
			Quantity:   input.Quantity,
			ImageURL:   strings.TrimSpace(input.ImageURL),
		})
	}
	return items
}

func (s *orderService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) nextOrderID() string {
	return orderIDPrefix + s.newID()
}

// reservationLines aggregates quantities per product. Lines without a product id are not stocked.
func reservationLines(items []OrderItem) []repositories.ReservationLine {
	quantities := make(map[string]int)
	order := make([]string, 0, len(items))
	for _, item := range items {
		if item.ProductID == "" || item.Quantity <= 0 {
			continue
		}
		if _, seen := quantities[item.ProductID]; !seen {
			order = append(order, item.ProductID)
		}
		quantities[item.ProductID] += item.Quantity
	}
	lines := make([]repositories.ReservationLine, 0, len(order))
	for _, productID := range order {
		lines = append(lines, repositories.ReservationLine{ProductID: productID, Quantity: quantities[productID]})
	}
	return lines
}

// idempotencyPayload binds the request body to its owner so a key reused by someone else is treated as
// a mismatch instead of replaying another customer's order.
func idempotencyPayload(cmd CreateOrderCommand) any {
	owner := "guest:" + cmd.GuestID
	if cmd.UserID != "" {
		owner = "user:" + cmd.UserID
	}
	request := cmd.Payload
	if request == nil {
		request = map[string]any{
			"items":           cmd.Items,
			"email":           cmd.Email,
			"status":          cmd.Status,
			"paymentProvider": cmd.PaymentProvider,
			"paymentRef":      cmd.PaymentRef,
			"currency":        cmd.Currency,
			"shippingAddress": cmd.ShippingAddress,
		}
	}
	return map[string]any{"owner": owner, "request": request}
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func cloneAddress(addr *Address) *Address {
	if addr == nil {
		return nil
	}
	cloned := *addr
	return &cloned
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
