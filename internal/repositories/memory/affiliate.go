package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/repositories"
)

// AffiliateRepository stores clicks and conversions in memory.
type AffiliateRepository struct {
	mu          sync.RWMutex
	clicks      []domain.AffiliateClick
	conversions map[string]domain.AffiliateConversion
}

var _ repositories.AffiliateRepository = (*AffiliateRepository)(nil)

// NewAffiliateRepository constructs an empty repository.
func NewAffiliateRepository() *AffiliateRepository {
	return &AffiliateRepository{conversions: make(map[string]domain.AffiliateConversion)}
}

// InsertClick implements repositories.AffiliateRepository.
func (r *AffiliateRepository) InsertClick(_ context.Context, click domain.AffiliateClick) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clicks = append(r.clicks, click)
	return nil
}

// ListClicksByCode implements repositories.AffiliateRepository, newest first.
func (r *AffiliateRepository) ListClicksByCode(_ context.Context, code string, limit int) ([]domain.AffiliateClick, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	matches := make([]domain.AffiliateClick, 0)
	for _, click := range r.clicks {
		if click.Code == code {
			matches = append(matches, click)
		}
	}
	slices.SortStableFunc(matches, func(a, b domain.AffiliateClick) int {
		return b.ClickedAt.Compare(a.ClickedAt)
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// MarkClickConverted implements repositories.AffiliateRepository.
func (r *AffiliateRepository) MarkClickConverted(_ context.Context, clickID, orderID string, convertedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.clicks {
		if r.clicks[i].ID != clickID {
			continue
		}
		at := convertedAt
		r.clicks[i].ConvertedAt = &at
		r.clicks[i].ConvertedOrderID = orderID
		return nil
	}
	return notFound("mark click converted", "click %s", clickID)
}

// CreateConversion implements repositories.AffiliateRepository. One conversion per order.
func (r *AffiliateRepository) CreateConversion(_ context.Context, conversion domain.AffiliateConversion) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.conversions {
		if existing.OrderID == conversion.OrderID {
			return conflict("create conversion", "order %s already converted", conversion.OrderID)
		}
	}
	r.conversions[conversion.ID] = conversion
	return nil
}

// FindConversion implements repositories.AffiliateRepository.
func (r *AffiliateRepository) FindConversion(_ context.Context, conversionID string) (domain.AffiliateConversion, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conversion, ok := r.conversions[conversionID]
	if !ok {
		return domain.AffiliateConversion{}, notFound("find conversion", "conversion %s", conversionID)
	}
	return conversion, nil
}

// UpdateConversionStatus implements repositories.AffiliateRepository.
func (r *AffiliateRepository) UpdateConversionStatus(_ context.Context, conversion domain.AffiliateConversion, from domain.AffiliateConversionStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.conversions[conversion.ID]
	if !ok {
		return notFound("update conversion", "conversion %s", conversion.ID)
	}
	if stored.Status != from {
		return conflict("update conversion", "conversion %s is %s, expected %s", conversion.ID, stored.Status, from)
	}
	r.conversions[conversion.ID] = conversion
	return nil
}

// Conversions returns every stored conversion.
func (r *AffiliateRepository) Conversions() []domain.AffiliateConversion {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.AffiliateConversion, 0, len(r.conversions))
	for _, conversion := range r.conversions {
		out = append(out, conversion)
	}
	return out
}

// Clicks returns every stored click.
func (r *AffiliateRepository) Clicks() []domain.AffiliateClick {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.clicks)
}
