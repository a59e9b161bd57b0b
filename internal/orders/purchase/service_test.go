package purchase

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/caravel-erp/caravel-erp/internal/batches"
	"github.com/caravel-erp/caravel-erp/internal/movements"
	"github.com/caravel-erp/caravel-erp/internal/orders/totals"
	"github.com/caravel-erp/caravel-erp/internal/shared"
)

type batchKey struct {
	productID   int64
	batchNumber string
}

type stockKey struct {
	branchID int64
	batchID  int64
}

// memoryState is the mutable world a fake transaction operates on.
// WithTx snapshots it and restores on error, so a failed callback leaves
// every table untouched.
type memoryState struct {
	orders    map[int64]Order
	items     map[int64]Item
	batches   map[int64]batches.Batch
	byKey     map[batchKey]int64
	stock     map[stockKey]float64
	payments  []totals.Payment
	movements []movements.Movement
	nextID    int64
}

func newMemoryState() *memoryState {
	return &memoryState{
		orders:  map[int64]Order{},
		items:   map[int64]Item{},
		batches: map[int64]batches.Batch{},
		byKey:   map[batchKey]int64{},
		stock:   map[stockKey]float64{},
	}
}

func (s *memoryState) clone() *memoryState {
	c := newMemoryState()
	for k, v := range s.orders {
		c.orders[k] = v
	}
	for k, v := range s.items {
		c.items[k] = v
	}
	for k, v := range s.batches {
		c.batches[k] = v
	}
	for k, v := range s.byKey {
		c.byKey[k] = v
	}
	for k, v := range s.stock {
		c.stock[k] = v
	}
	c.payments = append(c.payments, s.payments...)
	c.movements = append(c.movements, s.movements...)
	c.nextID = s.nextID
	return c
}

type memoryRepo struct {
	state *memoryState
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{state: newMemoryState()}
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	snapshot := m.state.clone()
	if err := fn(ctx, &memoryTx{state: m.state}); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

func (m *memoryRepo) Get(_ context.Context, id int64) (Order, error) {
	o, ok := m.state.orders[id]
	if !ok {
		return Order{}, ErrOrderNotFound
	}
	for _, item := range m.state.items {
		if item.OrderID == id {
			o.Items = append(o.Items, item)
		}
	}
	return o, nil
}

func (m *memoryRepo) ListPayments(_ context.Context, orderID int64) ([]totals.Payment, error) {
	var out []totals.Payment
	for _, p := range m.state.payments {
		if p.OrderID == orderID {
			out = append(out, p)
		}
	}
	return out, nil
}

type memoryTx struct {
	state *memoryState
}

func (t *memoryTx) id() int64 {
	t.state.nextID++
	return t.state.nextID
}

func (t *memoryTx) InsertOrder(_ context.Context, o Order) (int64, error) {
	o.ID = t.id()
	t.state.orders[o.ID] = o
	return o.ID, nil
}

func (t *memoryTx) GetOrderForUpdate(_ context.Context, id int64) (Order, error) {
	o, ok := t.state.orders[id]
	if !ok {
		return Order{}, ErrOrderNotFound
	}
	return o, nil
}

func (t *memoryTx) UpdateOrderTotals(_ context.Context, id int64, tt totals.Totals) error {
	o, ok := t.state.orders[id]
	if !ok {
		return ErrOrderNotFound
	}
	o.Totals = tt
	t.state.orders[id] = o
	return nil
}

func (t *memoryTx) InsertItem(_ context.Context, item Item) (int64, error) {
	item.ID = t.id()
	t.state.items[item.ID] = item
	return item.ID, nil
}

func (t *memoryTx) GetItemForUpdate(_ context.Context, id int64) (Item, error) {
	item, ok := t.state.items[id]
	if !ok {
		return Item{}, ErrItemNotFound
	}
	return item, nil
}

func (t *memoryTx) UpdateItem(_ context.Context, item Item) error {
	if _, ok := t.state.items[item.ID]; !ok {
		return ErrItemNotFound
	}
	t.state.items[item.ID] = item
	return nil
}

func (t *memoryTx) DeleteItem(_ context.Context, id int64) error {
	if _, ok := t.state.items[id]; !ok {
		return ErrItemNotFound
	}
	delete(t.state.items, id)
	return nil
}

func (t *memoryTx) ListItemTotals(_ context.Context, orderID int64) ([]float64, error) {
	var out []float64
	for _, item := range t.state.items {
		if item.OrderID == orderID {
			out = append(out, item.Total)
		}
	}
	return out, nil
}

func (t *memoryTx) GetBatchByIdentityForUpdate(_ context.Context, productID int64, batchNumber string) (batches.Batch, error) {
	id, ok := t.state.byKey[batchKey{productID: productID, batchNumber: batchNumber}]
	if !ok {
		return batches.Batch{}, batches.ErrBatchNotFound
	}
	return t.state.batches[id], nil
}

func (t *memoryTx) InsertBatch(_ context.Context, b batches.Batch) (int64, error) {
	b.ID = t.id()
	t.state.batches[b.ID] = b
	t.state.byKey[batchKey{productID: b.ProductID, batchNumber: b.BatchNumber}] = b.ID
	return b.ID, nil
}

func (t *memoryTx) MergeBatchReceipt(_ context.Context, batchID int64, qty float64) error {
	b, ok := t.state.batches[batchID]
	if !ok {
		return batches.ErrBatchNotFound
	}
	b.QuantityReceived += qty
	b.QuantityRemaining += qty
	t.state.batches[batchID] = b
	return nil
}

func (t *memoryTx) ReverseBatchReceipt(_ context.Context, batchID int64, qty float64) (bool, error) {
	b, ok := t.state.batches[batchID]
	if !ok || b.QuantityRemaining-qty < 0 || b.QuantityReceived-qty < 0 {
		return false, nil
	}
	b.QuantityReceived -= qty
	b.QuantityRemaining -= qty
	t.state.batches[batchID] = b
	return true, nil
}

func (t *memoryTx) CreditBranch(_ context.Context, _, branchID, batchID int64, qty float64) error {
	t.state.stock[stockKey{branchID: branchID, batchID: batchID}] += qty
	return nil
}

func (t *memoryTx) DebitBranch(_ context.Context, branchID, batchID int64, qty float64) (bool, error) {
	key := stockKey{branchID: branchID, batchID: batchID}
	if t.state.stock[key] < qty {
		return false, nil
	}
	t.state.stock[key] -= qty
	return true, nil
}

func (t *memoryTx) InsertPayment(_ context.Context, p totals.Payment) (int64, error) {
	p.ID = t.id()
	p.OrderType = "purchase"
	t.state.payments = append(t.state.payments, p)
	return p.ID, nil
}

func (t *memoryTx) SumPayments(_ context.Context, orderID int64) (float64, error) {
	var sum float64
	for _, p := range t.state.payments {
		if p.OrderID == orderID {
			sum += p.Amount
		}
	}
	return sum, nil
}

func (t *memoryTx) InsertMovement(_ context.Context, m movements.Movement) error {
	t.state.movements = append(t.state.movements, m)
	return nil
}

func createOrder(t *testing.T, svc *Service, branchID int64) Order {
	t.Helper()
	order, err := svc.Create(context.Background(), CreateInput{BranchID: branchID})
	require.NoError(t, err)
	return order
}

func TestAddItemsCreatesBatchAndStock(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()
	order := createOrder(t, svc, 1)

	updated, err := svc.AddItems(ctx, order.ID, []ItemInput{
		{ProductID: 7, BatchNumber: "B-100", Quantity: 50, UnitPrice: 10},
		{ProductID: 8, Quantity: 5, UnitPrice: 20}, // non-tracked line
	}, "", 0)
	require.NoError(t, err)
	require.Equal(t, 600.0, updated.Subtotal)
	require.Equal(t, 600.0, updated.GrandTotal)
	require.Equal(t, 600.0, updated.DueTotal)

	batchID := repo.state.byKey[batchKey{productID: 7, batchNumber: "B-100"}]
	require.NotZero(t, batchID)
	b := repo.state.batches[batchID]
	require.Equal(t, 50.0, b.QuantityReceived)
	require.Equal(t, 50.0, b.QuantityRemaining)
	require.Equal(t, 10.0, b.CostPrice)

	require.Equal(t, 50.0, repo.state.stock[stockKey{branchID: 1, batchID: batchID}])

	// Only the tracked line produced a movement.
	require.Len(t, repo.state.movements, 1)
	require.Equal(t, movements.ReasonReceipt, repo.state.movements[0].Reason)
}

func TestAddItemsMergesExistingBatch(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()
	order := createOrder(t, svc, 1)

	_, err := svc.AddItems(ctx, order.ID, []ItemInput{{ProductID: 7, BatchNumber: "B-100", Quantity: 60, UnitPrice: 10}}, "", 0)
	require.NoError(t, err)
	_, err = svc.AddItems(ctx, order.ID, []ItemInput{{ProductID: 7, BatchNumber: "B-100", Quantity: 40, UnitPrice: 10}}, "", 0)
	require.NoError(t, err)

	require.Len(t, repo.state.batches, 1)
	batchID := repo.state.byKey[batchKey{productID: 7, batchNumber: "B-100"}]
	require.Equal(t, 100.0, repo.state.batches[batchID].QuantityReceived)
	require.Equal(t, 100.0, repo.state.stock[stockKey{branchID: 1, batchID: batchID}])
}

func TestUpdateItemQuantityDelta(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()
	order := createOrder(t, svc, 1)

	_, err := svc.AddItems(ctx, order.ID, []ItemInput{{ProductID: 7, BatchNumber: "B-100", Quantity: 50, UnitPrice: 10}}, "", 0)
	require.NoError(t, err)
	itemID := findItemID(repo, order.ID)

	qty := 30.0
	updated, err := svc.UpdateItem(ctx, itemID, UpdateItemInput{Quantity: &qty}, 0)
	require.NoError(t, err)
	require.Equal(t, 300.0, updated.Subtotal)

	batchID := repo.state.byKey[batchKey{productID: 7, batchNumber: "B-100"}]
	require.Equal(t, 30.0, repo.state.batches[batchID].QuantityReceived)
	require.Equal(t, 30.0, repo.state.stock[stockKey{branchID: 1, batchID: batchID}])
}

func TestUpdateItemBatchChangeReversesOldBatch(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()
	order := createOrder(t, svc, 1)

	_, err := svc.AddItems(ctx, order.ID, []ItemInput{{ProductID: 7, BatchNumber: "B-100", Quantity: 50, UnitPrice: 10}}, "", 0)
	require.NoError(t, err)
	itemID := findItemID(repo, order.ID)

	newBatch := "B-200"
	_, err = svc.UpdateItem(ctx, itemID, UpdateItemInput{BatchNumber: &newBatch}, 0)
	require.NoError(t, err)

	oldID := repo.state.byKey[batchKey{productID: 7, batchNumber: "B-100"}]
	newID := repo.state.byKey[batchKey{productID: 7, batchNumber: "B-200"}]
	require.Equal(t, 0.0, repo.state.batches[oldID].QuantityRemaining)
	require.Equal(t, 50.0, repo.state.batches[newID].QuantityRemaining)
	require.Equal(t, 0.0, repo.state.stock[stockKey{branchID: 1, batchID: oldID}])
	require.Equal(t, 50.0, repo.state.stock[stockKey{branchID: 1, batchID: newID}])
}

func TestUpdateItemFailsWhenGoodsMovedOn(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()
	order := createOrder(t, svc, 1)

	_, err := svc.AddItems(ctx, order.ID, []ItemInput{{ProductID: 7, BatchNumber: "B-100", Quantity: 50, UnitPrice: 10}}, "", 0)
	require.NoError(t, err)
	itemID := findItemID(repo, order.ID)
	batchID := repo.state.byKey[batchKey{productID: 7, batchNumber: "B-100"}]

	// Simulate the goods leaving the branch after receipt.
	repo.state.stock[stockKey{branchID: 1, batchID: batchID}] = 10

	qty := 20.0
	_, err = svc.UpdateItem(ctx, itemID, UpdateItemInput{Quantity: &qty}, 0)
	require.ErrorIs(t, err, shared.ErrInsufficientStock)

	// The failed edit must leave item, batch and stock untouched.
	require.Equal(t, 50.0, repo.state.items[itemID].Quantity)
	require.Equal(t, 50.0, repo.state.batches[batchID].QuantityReceived)
	require.Equal(t, 10.0, repo.state.stock[stockKey{branchID: 1, batchID: batchID}])
}

func TestDeleteItemReversesFullQuantity(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()
	order := createOrder(t, svc, 1)

	_, err := svc.AddItems(ctx, order.ID, []ItemInput{{ProductID: 7, BatchNumber: "B-100", Quantity: 50, UnitPrice: 10}}, "", 0)
	require.NoError(t, err)
	itemID := findItemID(repo, order.ID)
	batchID := repo.state.byKey[batchKey{productID: 7, batchNumber: "B-100"}]

	updated, err := svc.DeleteItem(ctx, itemID, 0)
	require.NoError(t, err)
	require.Equal(t, 0.0, updated.Subtotal)

	require.Empty(t, repo.state.items)
	require.Equal(t, 0.0, repo.state.batches[batchID].QuantityRemaining)
	require.Equal(t, 0.0, repo.state.stock[stockKey{branchID: 1, batchID: batchID}])
}

func TestRecordPaymentDerivesPaidTotal(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()
	order := createOrder(t, svc, 1)

	_, err := svc.AddItems(ctx, order.ID, []ItemInput{{ProductID: 7, BatchNumber: "B-100", Quantity: 10, UnitPrice: 10}}, "", 0)
	require.NoError(t, err)

	updated, err := svc.RecordPayment(ctx, order.ID, PaymentInput{Amount: 60, Method: "cash"})
	require.NoError(t, err)
	require.Equal(t, 60.0, updated.PaidTotal)
	require.Equal(t, 40.0, updated.DueTotal)

	updated, err = svc.RecordPayment(ctx, order.ID, PaymentInput{Amount: 60, Method: "cash"})
	require.NoError(t, err)
	require.Equal(t, 120.0, updated.PaidTotal)
	require.Equal(t, 0.0, updated.DueTotal)

	_, err = svc.RecordPayment(ctx, order.ID, PaymentInput{Amount: 0})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestRecomputeDetectsDrift(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()
	order := createOrder(t, svc, 1)

	_, err := svc.AddItems(ctx, order.ID, []ItemInput{{ProductID: 7, BatchNumber: "B-100", Quantity: 10, UnitPrice: 10}}, "", 0)
	require.NoError(t, err)

	_, err = svc.Recompute(ctx, order.ID)
	require.NoError(t, err)

	// Corrupt the stored header behind the service's back.
	corrupted := repo.state.orders[order.ID]
	corrupted.GrandTotal = 9999
	repo.state.orders[order.ID] = corrupted

	_, err = svc.Recompute(ctx, order.ID)
	require.ErrorIs(t, err, shared.ErrInconsistentTotals)
}

func TestAddItemsValidation(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, nil, nil)
	ctx := context.Background()

	_, err := svc.AddItems(ctx, 1, nil, "", 0)
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.AddItems(ctx, 1, []ItemInput{{ProductID: 7, Quantity: 0}}, "", 0)
	require.ErrorIs(t, err, shared.ErrInvalidQuantity)

	_, err = svc.AddItems(ctx, 1, []ItemInput{{ProductID: 7, Quantity: 12.5}}, "", 0)
	require.ErrorIs(t, err, shared.ErrInvalidQuantity)

	half := 0.5
	_, err = svc.UpdateItem(ctx, 1, UpdateItemInput{Quantity: &half}, 0)
	require.ErrorIs(t, err, shared.ErrInvalidQuantity)
}

func findItemID(repo *memoryRepo, orderID int64) int64 {
	for id, item := range repo.state.items {
		if item.OrderID == orderID {
			return id
		}
	}
	return 0
}
