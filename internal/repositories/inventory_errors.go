package repositories

import (
	"errors"
	"fmt"
)

// InventoryErrorCode is the machine readable cause of an InventoryError.
type InventoryErrorCode string

const InventoryErrorOutOfStock InventoryErrorCode = "out_of_stock"

// InventoryError reports which product blocked a reservation. Requested and Available are zero when
// the adapter cannot tell.
type InventoryError struct {
	Op        string
	Code      InventoryErrorCode
	ProductID string
	Requested int
	Available int
}

func (e *InventoryError) Error() string {
	msg := fmt.Sprintf("%s for product %s", e.Code, e.ProductID)
	if e.Requested > 0 {
		msg += fmt.Sprintf(": requested %d, available %d", e.Requested, e.Available)
	}
	if e.Op == "" {
		return msg
	}
	return e.Op + ": " + msg
}

func NewOutOfStockError(op, productID string, requested, available int) *InventoryError {
	return &InventoryError{
		Op:        op,
		Code:      InventoryErrorOutOfStock,
		ProductID: productID,
		Requested: requested,
		Available: available,
	}
}

// OutOfStockProduct unwraps err looking for an out-of-stock InventoryError.
func OutOfStockProduct(err error) (string, bool) {
	var invErr *InventoryError
	if errors.As(err, &invErr) && invErr.Code == InventoryErrorOutOfStock {
		return invErr.ProductID, true
	}
	return "", false
}
