package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/repositories"
)

// AffiliateRepository stores referral clicks and conversions.
type AffiliateRepository struct {
	db *DB
}

var _ repositories.AffiliateRepository = (*AffiliateRepository)(nil)

// NewAffiliateRepository constructs the repository.
func NewAffiliateRepository(db *DB) *AffiliateRepository {
	return &AffiliateRepository{db: db}
}

func (r *AffiliateRepository) InsertClick(ctx context.Context, click domain.AffiliateClick) error {
	if _, err := r.db.conn(ctx).Exec(ctx, `
		INSERT INTO affiliate_clicks (id, code, user_id, guest_id, landing_url, clicked_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		click.ID, click.Code, click.UserID, click.GuestID, click.LandingURL, click.ClickedAt); err != nil {
		return wrapError("insert click", err)
	}
	return nil
}

func (r *AffiliateRepository) ListClicksByCode(ctx context.Context, code string, limit int) ([]domain.AffiliateClick, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.conn(ctx).Query(ctx, `
		SELECT id, code, user_id, guest_id, landing_url, clicked_at, converted_at, converted_order_id
		FROM affiliate_clicks
		WHERE code = $1
		ORDER BY clicked_at DESC, id DESC
		LIMIT $2`, code, limit)
	if err != nil {
		return nil, wrapError("list clicks", err)
	}
	defer rows.Close()

	clicks := make([]domain.AffiliateClick, 0, limit)
	for rows.Next() {
		var click domain.AffiliateClick
		if err := rows.Scan(&click.ID, &click.Code, &click.UserID, &click.GuestID, &click.LandingURL,
			&click.ClickedAt, &click.ConvertedAt, &click.ConvertedOrderID); err != nil {
			return nil, wrapError("list clicks", err)
		}
		click.ClickedAt = click.ClickedAt.UTC()
		clicks = append(clicks, click)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError("list clicks", err)
	}
	return clicks, nil
}

func (r *AffiliateRepository) MarkClickConverted(ctx context.Context, clickID, orderID string, convertedAt time.Time) error {
	tag, err := r.db.conn(ctx).Exec(ctx, `
		UPDATE affiliate_clicks SET converted_at = $3, converted_order_id = $2
		WHERE id = $1`, clickID, orderID, convertedAt)
	if err != nil {
		return wrapError("mark click converted", err)
	}
	if tag.RowsAffected() == 0 {
		return notFoundError("mark click converted", "click %s", clickID)
	}
	return nil
}

// CreateConversion fails with a conflict when the order already has a conversion.
func (r *AffiliateRepository) CreateConversion(ctx context.Context, conversion domain.AffiliateConversion) error {
	if _, err := r.db.conn(ctx).Exec(ctx, `
		INSERT INTO affiliate_conversions (id, click_id, order_id, user_id, code, commission_cents, status, created_at, paid_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		conversion.ID, conversion.ClickID, conversion.OrderID, conversion.UserID, conversion.Code,
		conversion.CommissionCents, string(conversion.Status), conversion.CreatedAt, conversion.PaidAt); err != nil {
		return wrapError("create conversion", err)
	}
	return nil
}

func (r *AffiliateRepository) FindConversion(ctx context.Context, conversionID string) (domain.AffiliateConversion, error) {
	var (
		conversion domain.AffiliateConversion
		status     string
	)
	err := r.db.conn(ctx).QueryRow(ctx, `
		SELECT id, click_id, order_id, user_id, code, commission_cents, status, created_at, paid_at
		FROM affiliate_conversions WHERE id = $1`, conversionID).
		Scan(&conversion.ID, &conversion.ClickID, &conversion.OrderID, &conversion.UserID, &conversion.Code,
			&conversion.CommissionCents, &status, &conversion.CreatedAt, &conversion.PaidAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.AffiliateConversion{}, notFoundError("find conversion", "conversion %s", conversionID)
	}
	if err != nil {
		return domain.AffiliateConversion{}, wrapError("find conversion", err)
	}
	conversion.Status = domain.AffiliateConversionStatus(status)
	conversion.CreatedAt = conversion.CreatedAt.UTC()
	return conversion, nil
}

// UpdateConversionStatus applies only while the row still has status from.
func (r *AffiliateRepository) UpdateConversionStatus(ctx context.Context, conversion domain.AffiliateConversion, from domain.AffiliateConversionStatus) error {
	q := r.db.conn(ctx)
	tag, err := q.Exec(ctx, `
		UPDATE affiliate_conversions SET status = $2, paid_at = $3
		WHERE id = $1 AND status = $4`, conversion.ID, string(conversion.Status), conversion.PaidAt, string(from))
	if err != nil {
		return wrapError("update conversion", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var current string
	err = q.QueryRow(ctx, `SELECT status FROM affiliate_conversions WHERE id = $1`, conversion.ID).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return notFoundError("update conversion", "conversion %s", conversion.ID)
	}
	if err != nil {
		return wrapError("update conversion", err)
	}
	return conflictError("update conversion", "conversion %s is %s, expected %s", conversion.ID, current, from)
}
