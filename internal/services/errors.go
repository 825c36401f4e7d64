package services

import (
	"errors"
	"fmt"

	"github.com/hanko-field/orders/internal/repositories"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidState indicates an invalid status transition was attempted.
	ErrOrderInvalidState = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates a concurrent modification or duplicate.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderOutOfStock wraps the inventory error naming the product that could not be reserved.
	ErrOrderOutOfStock = errors.New("order: out of stock")
	// ErrOrderUnavailable indicates a backing store could not be reached.
	ErrOrderUnavailable = errors.New("order: repository unavailable")
	// ErrCatalogUnavailable indicates the product catalog could not be queried.
	ErrCatalogUnavailable = errors.New("order: catalog unavailable")

	// ErrIdempotencyKeyMismatch indicates an Idempotency-Key was reused with a different payload.
	ErrIdempotencyKeyMismatch = errors.New("idempotency: key reused with a different payload")
	// ErrIdempotencyInProgress indicates another request holding the same key has not finished.
	ErrIdempotencyInProgress = errors.New("idempotency: request in progress")

	// ErrAffiliateInvalidInput signals malformed affiliate input.
	ErrAffiliateInvalidInput = errors.New("affiliate: invalid input")
	// ErrAffiliateNotFound indicates the conversion could not be located.
	ErrAffiliateNotFound = errors.New("affiliate: not found")
	// ErrAffiliateInvalidState indicates a disallowed conversion status change.
	ErrAffiliateInvalidState = errors.New("affiliate: invalid status transition")
	ErrAffiliateUnavailable  = errors.New("affiliate: repository unavailable")
)

// repositoryErrorMapper translates repositories.RepositoryError into the sentinels of one service.
// A nil sentinel leaves that classification unwrapped.
type repositoryErrorMapper struct {
	notFound, conflict, unavailable error
}

func (m repositoryErrorMapper) mapErr(err error) error {
	var repoErr repositories.RepositoryError
	if err == nil || !errors.As(err, &repoErr) {
		return err
	}
	var sentinel error
	switch {
	case repoErr.IsNotFound():
		sentinel = m.notFound
	case repoErr.IsConflict():
		sentinel = m.conflict
	case repoErr.IsUnavailable():
		sentinel = m.unavailable
	}
	if sentinel == nil {
		return err
	}
	return fmt.Errorf("%w: %v", sentinel, err)
}

var (
	orderErrors     = repositoryErrorMapper{notFound: ErrOrderNotFound, conflict: ErrOrderConflict, unavailable: ErrOrderUnavailable}
	affiliateErrors = repositoryErrorMapper{notFound: ErrAffiliateNotFound, conflict: ErrAffiliateInvalidState, unavailable: ErrAffiliateUnavailable}
)

func mapOrderRepositoryError(err error) error { return orderErrors.mapErr(err) }

func mapAffiliateRepositoryError(err error) error { return affiliateErrors.mapErr(err) }
