package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/platform/pagination"
	"github.com/hanko-field/orders/internal/repositories"
)

const orderColumns = `id, user_id, guest_id, email, status, payment_provider, payment_ref, currency,
	subtotal_cents, shipping_cents, tax_cents, total_cents, shipping_address, affiliate, created_at, updated_at`

// OrderRepository persists orders and their items in Postgres.
type OrderRepository struct {
	db *DB
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs the repository.
func NewOrderRepository(db *DB) *OrderRepository {
	return &OrderRepository{db: db}
}

type addressDocument struct {
	Recipient  string `json:"recipient,omitempty"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
	Country    string `json:"country"`
	Phone      string `json:"phone,omitempty"`
}

type affiliateDocument struct {
	Code            string    `json:"code"`
	ClickID         string    `json:"clickId,omitempty"`
	CommissionCents int64     `json:"commissionCents"`
	Status          string    `json:"status"`
	AttributedAt    time.Time `json:"attributedAt"`
}

// Insert implements repositories.OrderRepository. The order row and its items are written in one
// transaction, joining the caller's unit of work when there is one.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	address, err := encodeAddress(order.ShippingAddress)
	if err != nil {
		return wrapError("insert order", err)
	}
	affiliate, err := encodeAffiliate(order.Affiliate)
	if err != nil {
		return wrapError("insert order", err)
	}

	return r.db.RunInTx(ctx, func(ctx context.Context) error {
		q := r.db.conn(ctx)
		if _, err := q.Exec(ctx, `
			INSERT INTO orders (`+orderColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
			order.ID, order.UserID, order.GuestID, order.Email, string(order.Status),
			string(order.PaymentProvider), order.PaymentRef, order.Currency,
			order.SubtotalCents, order.ShippingCents, order.TaxCents, order.TotalCents,
			address, affiliate, order.CreatedAt, order.UpdatedAt); err != nil {
			return wrapError("insert order", err)
		}

		if len(order.Items) == 0 {
			return nil
		}
		batch := &pgx.Batch{}
		for idx, item := range order.Items {
			batch.Queue(`
				INSERT INTO order_items (id, order_id, position, product_id, name, price_cents, quantity, image_url)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				item.ID, order.ID, idx, item.ProductID, item.Name, item.PriceCents, item.Quantity, item.ImageURL)
		}
		results := q.SendBatch(ctx, batch)
		for range order.Items {
			if _, err := results.Exec(); err != nil {
				_ = results.Close()
				return wrapError("insert order items", err)
			}
		}
		if err := results.Close(); err != nil {
			return wrapError("insert order items", err)
		}
		return nil
	})
}

// FindByID implements repositories.OrderRepository.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	q := r.db.conn(ctx)
	order, err := scanOrder(q.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, notFoundError("find order", "order %s", orderID)
	}
	if err != nil {
		return domain.Order{}, wrapError("find order", err)
	}
	if err := r.attachItems(ctx, []*domain.Order{&order}); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

// FindByPaymentRef implements repositories.OrderRepository.
func (r *OrderRepository) FindByPaymentRef(ctx context.Context, provider domain.PaymentProvider, paymentRef string) (domain.Order, error) {
	q := r.db.conn(ctx)
	order, err := scanOrder(q.QueryRow(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE payment_provider = $1 AND payment_ref = $2`, string(provider), paymentRef))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, notFoundError("find order by payment", "%s reference %s", provider, paymentRef)
	}
	if err != nil {
		return domain.Order{}, wrapError("find order by payment", err)
	}
	if err := r.attachItems(ctx, []*domain.Order{&order}); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

// List implements repositories.OrderRepository using keyset pagination on (created_at, id).
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.OrderPage, error) {
	cursor, err := pagination.DecodeToken(filter.PageToken)
	if err != nil {
		return domain.OrderPage{}, err
	}

	ownerColumn, owner := "user_id", filter.UserID
	if owner == "" {
		ownerColumn, owner = "guest_id", filter.GuestID
	}
	if owner == "" {
		return domain.OrderPage{}, nil
	}

	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = pagination.DefaultPageSize
	}

	args := []any{owner, pageSize + 1}
	query := `SELECT ` + orderColumns + ` FROM orders WHERE ` + ownerColumn + ` = $1`
	if !cursor.IsZero() {
		query += ` AND (created_at, id) < ($3, $4)`
		args = append(args, cursor.CreatedAt, cursor.ID)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT $2`

	q := r.db.conn(ctx)
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return domain.OrderPage{}, wrapError("list orders", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0, pageSize+1)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return domain.OrderPage{}, wrapError("list orders", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return domain.OrderPage{}, wrapError("list orders", err)
	}

	page := domain.OrderPage{Items: orders}
	if len(orders) > pageSize {
		page.Items = orders[:pageSize]
		last := page.Items[len(page.Items)-1]
		token, err := pagination.EncodeToken(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
		if err != nil {
			return domain.OrderPage{}, err
		}
		page.NextPageToken = token
	}

	refs := make([]*domain.Order, len(page.Items))
	for i := range page.Items {
		refs[i] = &page.Items[i]
	}
	if err := r.attachItems(ctx, refs); err != nil {
		return domain.OrderPage{}, err
	}
	return page, nil
}

// UpdateStatus implements repositories.OrderRepository. The update only applies while the stored
// status equals update.From; otherwise a conflict is returned.
func (r *OrderRepository) UpdateStatus(ctx context.Context, update repositories.StatusUpdate) error {
	q := r.db.conn(ctx)
	tag, err := q.Exec(ctx, `
		UPDATE orders SET status = $3, updated_at = $4
		WHERE id = $1 AND status = $2`,
		update.OrderID, string(update.From), string(update.To), update.UpdatedAt)
	if err != nil {
		return wrapError("update order status", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var current string
	err = q.QueryRow(ctx, `SELECT status FROM orders WHERE id = $1`, update.OrderID).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return notFoundError("update order status", "order %s", update.OrderID)
	}
	if err != nil {
		return wrapError("update order status", err)
	}
	return conflictError("update order status", "order %s is %s, expected %s", update.OrderID, current, update.From)
}

func (r *OrderRepository) attachItems(ctx context.Context, orders []*domain.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]string, len(orders))
	byID := make(map[string]*domain.Order, len(orders))
	for i, order := range orders {
		ids[i] = order.ID
		byID[order.ID] = order
	}

	rows, err := r.db.conn(ctx).Query(ctx, `
		SELECT order_id, id, product_id, name, price_cents, quantity, image_url
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY order_id, position`, ids)
	if err != nil {
		return wrapError("load order items", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			orderID string
			item    domain.OrderItem
		)
		if err := rows.Scan(&orderID, &item.ID, &item.ProductID, &item.Name, &item.PriceCents, &item.Quantity, &item.ImageURL); err != nil {
			return wrapError("load order items", err)
		}
		if order, ok := byID[orderID]; ok {
			order.Items = append(order.Items, item)
		}
	}
	if err := rows.Err(); err != nil {
		return wrapError("load order items", err)
	}
	return nil
}

func scanOrder(row pgx.Row) (domain.Order, error) {
	var (
		order              domain.Order
		status, provider   string
		address, affiliate []byte
	)
	if err := row.Scan(&order.ID, &order.UserID, &order.GuestID, &order.Email, &status, &provider,
		&order.PaymentRef, &order.Currency, &order.SubtotalCents, &order.ShippingCents, &order.TaxCents,
		&order.TotalCents, &address, &affiliate, &order.CreatedAt, &order.UpdatedAt); err != nil {
		return domain.Order{}, err
	}
	order.Status = domain.OrderStatus(status)
	order.PaymentProvider = domain.PaymentProvider(provider)
	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()

	var err error
	if order.ShippingAddress, err = decodeAddress(address); err != nil {
		return domain.Order{}, err
	}
	if order.Affiliate, err = decodeAffiliate(affiliate); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

func encodeAddress(addr *domain.Address) ([]byte, error) {
	if addr == nil {
		return nil, nil
	}
	return json.Marshal(addressDocument(*addr))
}

func decodeAddress(raw []byte) (*domain.Address, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var doc addressDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	addr := domain.Address(doc)
	return &addr, nil
}

func encodeAffiliate(snapshot *domain.AffiliateSnapshot) ([]byte, error) {
	if snapshot == nil {
		return nil, nil
	}
	return json.Marshal(affiliateDocument{
		Code:            snapshot.Code,
		ClickID:         snapshot.ClickID,
		CommissionCents: snapshot.CommissionCents,
		Status:          string(snapshot.Status),
		AttributedAt:    snapshot.AttributedAt,
	})
}

func decodeAffiliate(raw []byte) (*domain.AffiliateSnapshot, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var doc affiliateDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return &domain.AffiliateSnapshot{
		Code:            doc.Code,
		ClickID:         doc.ClickID,
		CommissionCents: doc.CommissionCents,
		Status:          domain.AffiliateConversionStatus(doc.Status),
		AttributedAt:    doc.AttributedAt.UTC(),
	}, nil
}
