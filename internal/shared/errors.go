package shared

import (
	"errors"
	"math"
)

var (
	// ErrNotFound indicates a referenced product/batch/branch/order/item does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidQuantity indicates a zero, negative, or otherwise unusable quantity.
	ErrInvalidQuantity = errors.New("invalid quantity")
	// ErrInsufficientStock indicates a debit exceeding available batch or branch stock.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrDuplicateBatch indicates a batch number collision under a different product.
	ErrDuplicateBatch = errors.New("duplicate batch identity")
	// ErrInconsistentTotals indicates stored order totals disagree with the derived rollup.
	ErrInconsistentTotals = errors.New("inconsistent order totals")
	// ErrConflict indicates a concurrent update could not be applied after retries.
	ErrConflict = errors.New("concurrent update conflict")
	// ErrValidation indicates invalid request input.
	ErrValidation = errors.New("validation failed")
)

// WholeQuantity reports whether q is an integral number of units.
// Quantities travel as float64 for arithmetic, but units are discrete;
// fractional inputs are rejected at the service boundary.
func WholeQuantity(q float64) bool {
	return q == math.Trunc(q)
}

// UserSafeMessage returns a message safe to surface to API consumers.
func UserSafeMessage(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "The requested record does not exist."
	case errors.Is(err, ErrInvalidQuantity):
		return "Quantity must be a whole, positive number."
	case errors.Is(err, ErrInsufficientStock):
		return "Not enough stock available for this operation."
	case errors.Is(err, ErrDuplicateBatch):
		return "This batch number already belongs to a different product."
	case errors.Is(err, ErrInconsistentTotals):
		return "Order totals do not reconcile; refresh and try again."
	case errors.Is(err, ErrConflict):
		return "The record was modified concurrently; please retry."
	default:
		return "The request could not be completed."
	}
}
