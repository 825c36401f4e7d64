package postgres

import (
	"context"
	"slices"

	"github.com/hanko-field/orders/internal/repositories"
)

const (
	reservationReserved  = "reserved"
	reservationCommitted = "committed"
	reservationReleased  = "released"
	reservationRestocked = "restocked"
)

// InventoryRepository keeps stock in inventory_stock and per-order holds in inventory_reservations.
// Every mutation locks the affected stock rows in product id order so concurrent orders cannot
// deadlock each other or jointly exceed on-hand stock.
type InventoryRepository struct {
	db *DB
}

var _ repositories.InventoryRepository = (*InventoryRepository)(nil)

// NewInventoryRepository constructs the repository.
func NewInventoryRepository(db *DB) *InventoryRepository {
	return &InventoryRepository{db: db}
}

type stockRow struct {
	onHand   int
	reserved int
}

// ReserveForOrder implements repositories.InventoryRepository. Products without a stock row are
// untracked and skipped. A shortage on any line rolls back the whole call.
func (r *InventoryRepository) ReserveForOrder(ctx context.Context, orderID string, lines []repositories.ReservationLine) error {
	requested := make(map[string]int, len(lines))
	for _, line := range lines {
		if line.ProductID == "" || line.Quantity <= 0 {
			continue
		}
		requested[line.ProductID] += line.Quantity
	}
	if len(requested) == 0 {
		return nil
	}
	productIDs := make([]string, 0, len(requested))
	for id := range requested {
		productIDs = append(productIDs, id)
	}
	slices.Sort(productIDs)

	return r.db.RunInTx(ctx, func(ctx context.Context) error {
		q := r.db.conn(ctx)
		rows, err := q.Query(ctx, `
			SELECT product_id, on_hand, reserved
			FROM inventory_stock
			WHERE product_id = ANY($1)
			ORDER BY product_id
			FOR UPDATE`, productIDs)
		if err != nil {
			return wrapError("reserve inventory", err)
		}
		levels := make(map[string]stockRow, len(productIDs))
		for rows.Next() {
			var (
				id    string
				level stockRow
			)
			if err := rows.Scan(&id, &level.onHand, &level.reserved); err != nil {
				rows.Close()
				return wrapError("reserve inventory", err)
			}
			levels[id] = level
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return wrapError("reserve inventory", err)
		}

		for _, id := range productIDs {
			level, tracked := levels[id]
			if !tracked {
				continue
			}
			if available := level.onHand - level.reserved; available < requested[id] {
				return repositories.NewOutOfStockError("reserve inventory", id, requested[id], available)
			}
		}

		for _, id := range productIDs {
			if _, tracked := levels[id]; !tracked {
				continue
			}
			qty := requested[id]
			if _, err := q.Exec(ctx, `
				UPDATE inventory_stock SET reserved = reserved + $2, updated_at = now()
				WHERE product_id = $1`, id, qty); err != nil {
				return wrapError("reserve inventory", err)
			}
			if _, err := q.Exec(ctx, `
				INSERT INTO inventory_reservations (order_id, product_id, quantity, status)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT (order_id, product_id) DO UPDATE SET
					quantity = CASE WHEN inventory_reservations.status = $4
						THEN inventory_reservations.quantity + EXCLUDED.quantity
						ELSE EXCLUDED.quantity END,
					status = $4,
					updated_at = now()`,
				orderID, id, qty, reservationReserved); err != nil {
				return wrapError("reserve inventory", err)
			}
		}
		return nil
	})
}

// CommitOrder implements repositories.InventoryRepository: reserved holds become permanent deductions.
func (r *InventoryRepository) CommitOrder(ctx context.Context, orderID string) error {
	return r.move(ctx, "commit inventory", orderID, reservationReserved, reservationCommitted,
		`reserved = s.reserved - m.quantity, on_hand = s.on_hand - m.quantity`)
}

// ReleaseOrder implements repositories.InventoryRepository: reserved holds are dropped.
func (r *InventoryRepository) ReleaseOrder(ctx context.Context, orderID string) error {
	return r.move(ctx, "release inventory", orderID, reservationReserved, reservationReleased,
		`reserved = s.reserved - m.quantity`)
}

// RestockOrder implements repositories.InventoryRepository: committed deductions are returned to stock.
func (r *InventoryRepository) RestockOrder(ctx context.Context, orderID string) error {
	return r.move(ctx, "restock inventory", orderID, reservationCommitted, reservationRestocked,
		`on_hand = s.on_hand + m.quantity`)
}

// move transitions every reservation of the order in state from to state to and applies stockUpdate
// to the matching stock rows. Reservations already past from are left alone, which makes repeated
// calls no-ops.
func (r *InventoryRepository) move(ctx context.Context, op, orderID, from, to, stockUpdate string) error {
	return r.db.RunInTx(ctx, func(ctx context.Context) error {
		q := r.db.conn(ctx)
		if _, err := q.Exec(ctx, `
			SELECT 1 FROM inventory_stock
			WHERE product_id IN (
				SELECT product_id FROM inventory_reservations WHERE order_id = $1 AND status = $2
			)
			ORDER BY product_id
			FOR UPDATE`, orderID, from); err != nil {
			return wrapError(op, err)
		}
		if _, err := q.Exec(ctx, `
			WITH m AS (
				UPDATE inventory_reservations
				SET status = $3, updated_at = now()
				WHERE order_id = $1 AND status = $2
				RETURNING product_id, quantity
			)
			UPDATE inventory_stock s
			SET `+stockUpdate+`, updated_at = now()
			FROM m
			WHERE s.product_id = m.product_id`, orderID, from, to); err != nil {
			return wrapError(op, err)
		}
		return nil
	})
}

// SetStock upserts the on-hand quantity of a product. Used by seeding and admin tooling.
func (r *InventoryRepository) SetStock(ctx context.Context, productID string, onHand int) error {
	if _, err := r.db.conn(ctx).Exec(ctx, `
		INSERT INTO inventory_stock (product_id, on_hand)
		VALUES ($1, $2)
		ON CONFLICT (product_id) DO UPDATE SET on_hand = EXCLUDED.on_hand, updated_at = now()`,
		productID, onHand); err != nil {
		return wrapError("set stock", err)
	}
	return nil
}
