package batches

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/caravel-erp/caravel-erp/internal/movements"
	"github.com/caravel-erp/caravel-erp/internal/shared"
)

type memoryRepo struct {
	batches     map[int64]Batch
	byIdentity  map[string]int64
	branchStock map[int64]float64
	movements   []movements.Movement
	nextID      int64
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		batches:     make(map[int64]Batch),
		byIdentity:  make(map[string]int64),
		branchStock: make(map[int64]float64),
	}
}

func identityKey(productID int64, batchNumber string) string {
	return fmt.Sprintf("%d:%s", productID, batchNumber)
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) Get(ctx context.Context, id int64) (Batch, error) {
	b, ok := r.batches[id]
	if !ok {
		return Batch{}, ErrBatchNotFound
	}
	return b, nil
}

func (r *memoryRepo) GetByIdentity(ctx context.Context, productID int64, batchNumber string) (Batch, error) {
	id, ok := r.byIdentity[identityKey(productID, batchNumber)]
	if !ok {
		return Batch{}, ErrBatchNotFound
	}
	return r.batches[id], nil
}

func (r *memoryRepo) ListByProduct(ctx context.Context, productID int64) ([]Batch, error) {
	var result []Batch
	for _, b := range r.batches {
		if b.ProductID == productID {
			result = append(result, b)
		}
	}
	return result, nil
}

func (r *memoryRepo) MarkExpired(ctx context.Context, asOf time.Time) (int64, error) {
	var count int64
	for id, b := range r.batches {
		if b.Status == StatusActive && b.ExpiryDate != nil && b.ExpiryDate.Before(asOf) {
			b.Status = StatusExpired
			r.batches[id] = b
			count++
		}
	}
	return count, nil
}

func (tx *memoryTx) GetByIdentityForUpdate(ctx context.Context, productID int64, batchNumber string) (Batch, error) {
	return tx.repo.GetByIdentity(ctx, productID, batchNumber)
}

func (tx *memoryTx) GetForUpdate(ctx context.Context, id int64) (Batch, error) {
	return tx.repo.Get(ctx, id)
}

func (tx *memoryTx) Insert(ctx context.Context, b Batch) (int64, error) {
	tx.repo.nextID++
	b.ID = tx.repo.nextID
	tx.repo.batches[b.ID] = b
	tx.repo.byIdentity[identityKey(b.ProductID, b.BatchNumber)] = b.ID
	return b.ID, nil
}

func (tx *memoryTx) MergeReceipt(ctx context.Context, id int64, qty float64, pricing *Pricing) error {
	b, ok := tx.repo.batches[id]
	if !ok {
		return ErrBatchNotFound
	}
	b.QuantityReceived += qty
	b.QuantityRemaining += qty
	if pricing != nil {
		b.Pricing = *pricing
	}
	tx.repo.batches[id] = b
	return nil
}

func (tx *memoryTx) AdjustBoth(ctx context.Context, id int64, delta float64) (bool, error) {
	b, ok := tx.repo.batches[id]
	if !ok {
		return false, nil
	}
	if b.QuantityRemaining+delta < 0 || b.QuantityReceived+delta < 0 {
		return false, nil
	}
	b.QuantityReceived += delta
	b.QuantityRemaining += delta
	tx.repo.batches[id] = b
	return true, nil
}

func (tx *memoryTx) Consume(ctx context.Context, id int64, qty float64) (bool, error) {
	b, ok := tx.repo.batches[id]
	if !ok || b.QuantityRemaining < qty {
		return false, nil
	}
	b.QuantityRemaining -= qty
	tx.repo.batches[id] = b
	return true, nil
}

func (tx *memoryTx) UpdateStatus(ctx context.Context, id int64, status Status) error {
	b, ok := tx.repo.batches[id]
	if !ok {
		return ErrBatchNotFound
	}
	b.Status = status
	tx.repo.batches[id] = b
	return nil
}

func (tx *memoryTx) SumBranchStock(ctx context.Context, batchID int64) (float64, error) {
	return tx.repo.branchStock[batchID], nil
}

func (tx *memoryTx) NumberTakenByOtherProduct(ctx context.Context, productID int64, batchNumber string) (bool, error) {
	for _, b := range tx.repo.batches {
		if b.BatchNumber == batchNumber && b.ProductID != productID {
			return true, nil
		}
	}
	return false, nil
}

func (tx *memoryTx) InsertMovement(ctx context.Context, m movements.Movement) error {
	tx.repo.movements = append(tx.repo.movements, m)
	return nil
}

func TestCreateOrMergeBatch(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	first, err := svc.CreateOrMerge(ctx, ReceiptInput{
		ProductID:   7,
		BatchNumber: "LOT-2026-001",
		Quantity:    60,
		Pricing:     Pricing{CostPrice: 12.5, MRP: 20},
	})
	require.NoError(t, err)
	require.Equal(t, StatusActive, first.Status)
	require.InDelta(t, 60.0, first.QuantityReceived, 0.0001)
	require.InDelta(t, 60.0, first.QuantityRemaining, 0.0001)

	second, err := svc.CreateOrMerge(ctx, ReceiptInput{
		ProductID:   7,
		BatchNumber: "LOT-2026-001",
		Quantity:    40,
		Pricing:     Pricing{CostPrice: 13, MRP: 20},
	})
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID, "same identity must merge, not duplicate")
	require.InDelta(t, 100.0, second.QuantityReceived, 0.0001)
	require.InDelta(t, 100.0, second.QuantityRemaining, 0.0001)
	require.InDelta(t, 12.5, second.CostPrice, 0.0001, "pricing untouched without overwrite")
	require.Len(t, repo.batches, 1)

	third, err := svc.CreateOrMerge(ctx, ReceiptInput{
		ProductID:        7,
		BatchNumber:      "LOT-2026-001",
		Quantity:         10,
		Pricing:          Pricing{CostPrice: 14, MRP: 21},
		OverwritePricing: true,
	})
	require.NoError(t, err)
	require.InDelta(t, 14.0, third.CostPrice, 0.0001)

	require.Len(t, repo.movements, 3)
	require.Equal(t, movements.ReasonReceipt, repo.movements[0].Reason)
}

func TestCreateOrMergeValidation(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, nil)
	ctx := context.Background()

	_, err := svc.CreateOrMerge(ctx, ReceiptInput{ProductID: 1, BatchNumber: "B", Quantity: 0})
	require.ErrorIs(t, err, shared.ErrInvalidQuantity)

	_, err = svc.CreateOrMerge(ctx, ReceiptInput{BatchNumber: "B", Quantity: 5})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.CreateOrMerge(ctx, ReceiptInput{ProductID: 1, BatchNumber: "B", Quantity: 2.5})
	require.ErrorIs(t, err, shared.ErrInvalidQuantity)

	_, err = svc.CreateOrMerge(ctx, ReceiptInput{ProductID: 1, BatchNumber: "B", Quantity: 5, Pricing: Pricing{CostPrice: -1}})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestCreateOrMergeRejectsCrossProductNumber(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	_, err := svc.CreateOrMerge(ctx, ReceiptInput{ProductID: 7, BatchNumber: "LOT-9", Quantity: 10})
	require.NoError(t, err)

	// Same number under another product must not create a second lot.
	_, err = svc.CreateOrMerge(ctx, ReceiptInput{ProductID: 8, BatchNumber: "LOT-9", Quantity: 10})
	require.ErrorIs(t, err, shared.ErrDuplicateBatch)
	require.Len(t, repo.batches, 1)

	// The owning product keeps merging as usual.
	merged, err := svc.CreateOrMerge(ctx, ReceiptInput{ProductID: 7, BatchNumber: "LOT-9", Quantity: 5})
	require.NoError(t, err)
	require.InDelta(t, 15.0, merged.QuantityRemaining, 0.0001)
}

func TestAdjustQuantityGuards(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	batch, err := svc.CreateOrMerge(ctx, ReceiptInput{ProductID: 1, BatchNumber: "B1", Quantity: 50})
	require.NoError(t, err)

	_, err = svc.AdjustQuantity(ctx, batch.ID, -60, nil)
	require.ErrorIs(t, err, shared.ErrInsufficientStock)

	// 45 of the 50 sit at branches; correcting below that allocation is rejected.
	repo.branchStock[batch.ID] = 45
	_, err = svc.AdjustQuantity(ctx, batch.ID, -10, nil)
	require.ErrorIs(t, err, shared.ErrInsufficientStock)

	adjusted, err := svc.AdjustQuantity(ctx, batch.ID, -5, nil)
	require.NoError(t, err)
	require.InDelta(t, 45.0, adjusted.QuantityRemaining, 0.0001)
	require.InDelta(t, 45.0, adjusted.QuantityReceived, 0.0001)

	_, err = svc.AdjustQuantity(ctx, batch.ID, 0, nil)
	require.ErrorIs(t, err, shared.ErrInvalidQuantity)

	_, err = svc.AdjustQuantity(ctx, batch.ID, -2.5, nil)
	require.ErrorIs(t, err, shared.ErrInvalidQuantity)
}

func TestConsumeQuantity(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	batch, err := svc.CreateOrMerge(ctx, ReceiptInput{ProductID: 2, BatchNumber: "B2", Quantity: 10})
	require.NoError(t, err)

	got, err := svc.Consume(ctx, batch.ID, 4)
	require.NoError(t, err)
	require.InDelta(t, 6.0, got.QuantityRemaining, 0.0001)
	require.InDelta(t, 10.0, got.QuantityReceived, 0.0001, "consume never touches received")

	_, err = svc.Consume(ctx, batch.ID, 7)
	require.ErrorIs(t, err, shared.ErrInsufficientStock)

	_, err = svc.Consume(ctx, batch.ID, 1.5)
	require.ErrorIs(t, err, shared.ErrInvalidQuantity)

	stored, err := svc.Get(ctx, batch.ID)
	require.NoError(t, err)
	require.InDelta(t, 6.0, stored.QuantityRemaining, 0.0001, "failed consume must leave quantities unchanged")
}

func TestSetStatus(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	batch, err := svc.CreateOrMerge(ctx, ReceiptInput{ProductID: 3, BatchNumber: "B3", Quantity: 2})
	require.NoError(t, err)

	err = svc.SetStatus(ctx, batch.ID, StatusConsumed)
	require.ErrorIs(t, err, shared.ErrValidation, "consumed requires zero remaining")

	require.NoError(t, svc.SetStatus(ctx, batch.ID, StatusRecalled))
	stored, _ := svc.Get(ctx, batch.ID)
	require.Equal(t, StatusRecalled, stored.Status)

	_, err = svc.Consume(ctx, batch.ID, 2)
	require.NoError(t, err)
	require.NoError(t, svc.SetStatus(ctx, batch.ID, StatusConsumed))

	err = svc.SetStatus(ctx, batch.ID, Status("melted"))
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestSweepExpired(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	past := time.Now().Add(-48 * time.Hour)
	future := time.Now().Add(48 * time.Hour)

	expired, err := svc.CreateOrMerge(ctx, ReceiptInput{ProductID: 4, BatchNumber: "OLD", Quantity: 1, ExpiryDate: &past})
	require.NoError(t, err)
	fresh, err := svc.CreateOrMerge(ctx, ReceiptInput{ProductID: 4, BatchNumber: "NEW", Quantity: 1, ExpiryDate: &future})
	require.NoError(t, err)

	count, err := svc.SweepExpired(ctx, time.Now())
	require.NoError(t, err)
	require.EqualValues(t, 1, count)

	gotExpired, _ := svc.Get(ctx, expired.ID)
	require.Equal(t, StatusExpired, gotExpired.Status)
	gotFresh, _ := svc.Get(ctx, fresh.ID)
	require.Equal(t, StatusActive, gotFresh.Status)
}
