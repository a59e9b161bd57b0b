package totals

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/caravel-erp/caravel-erp/internal/shared"
)

func TestLineTotal(t *testing.T) {
	require.Equal(t, 100.0, LineTotal(Line{Quantity: 10, UnitPrice: 10}))
	require.Equal(t, 90.0, LineTotal(Line{Quantity: 10, UnitPrice: 10, DiscountAmount: 10}))
	require.Equal(t, 75.0, LineTotal(Line{Quantity: 10, UnitPrice: 10, DiscountPercent: 25}))
	// Both discounts stack against the gross amount.
	require.Equal(t, 65.0, LineTotal(Line{Quantity: 10, UnitPrice: 10, DiscountAmount: 10, DiscountPercent: 25}))
	// A discount larger than the line floors at zero, never negative.
	require.Equal(t, 0.0, LineTotal(Line{Quantity: 2, UnitPrice: 5, DiscountAmount: 50}))
}

func TestComputeTotals(t *testing.T) {
	got := Compute([]float64{120, 80}, 20, 15, 10, 100)
	require.Equal(t, 200.0, got.Subtotal)
	require.Equal(t, 205.0, got.GrandTotal)
	require.Equal(t, 105.0, got.DueTotal)
}

func TestComputeTotalsFloorsAtZero(t *testing.T) {
	got := Compute([]float64{30}, 100, 0, 0, 500)
	require.Equal(t, 0.0, got.GrandTotal)
	require.Equal(t, 0.0, got.DueTotal)
}

func TestSumPayments(t *testing.T) {
	require.Equal(t, 0.0, SumPayments(nil))
	require.Equal(t, 75.5, SumPayments([]Payment{{Amount: 50}, {Amount: 25.5}}))
}

func TestReconcile(t *testing.T) {
	derived := Compute([]float64{100}, 0, 0, 0, 40)
	require.NoError(t, Reconcile(derived, derived))

	stored := derived
	stored.GrandTotal = 90
	err := Reconcile(stored, derived)
	require.ErrorIs(t, err, shared.ErrInconsistentTotals)

	// Sub-cent drift from float arithmetic is tolerated.
	stored = derived
	stored.Subtotal += 0.001
	require.NoError(t, Reconcile(stored, derived))
}
