package branchstock

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/caravel-erp/caravel-erp/internal/movements"
	"github.com/caravel-erp/caravel-erp/internal/shared"
)

type stockKey struct {
	branchID int64
	batchID  int64
}

type memoryRepo struct {
	stocks         map[stockKey]*Stock
	batchRemaining map[int64]float64
	movements      []movements.Movement
	availability   []Availability
	listCalls      int
	nextID         int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		stocks:         map[stockKey]*Stock{},
		batchRemaining: map[int64]float64{},
	}
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx := &memoryTx{repo: m}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (m *memoryRepo) ListByBranch(_ context.Context, branchID int64) ([]Stock, error) {
	var out []Stock
	for key, s := range m.stocks {
		if key.branchID == branchID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (m *memoryRepo) ListByProductAndBranch(_ context.Context, productID, branchID int64) ([]Stock, error) {
	var out []Stock
	for key, s := range m.stocks {
		if key.branchID == branchID && s.ProductID == productID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (m *memoryRepo) ListAvailability(_ context.Context, _, _ int64) ([]Availability, error) {
	m.listCalls++
	return m.availability, nil
}

// memoryTx buffers writes and applies them on commit so a failed callback
// leaves the repo untouched, matching transaction rollback.
type memoryTx struct {
	repo    *memoryRepo
	pending []func()
}

func (t *memoryTx) commit() {
	for _, apply := range t.pending {
		apply()
	}
}

func (t *memoryTx) GetOrCreate(_ context.Context, productID, branchID, batchID int64) (Stock, error) {
	key := stockKey{branchID: branchID, batchID: batchID}
	if s, ok := t.repo.stocks[key]; ok {
		return *s, nil
	}
	t.repo.nextID++
	s := &Stock{
		ID:        t.repo.nextID,
		ProductID: productID,
		BranchID:  branchID,
		BatchID:   batchID,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	t.repo.stocks[key] = s
	return *s, nil
}

func (t *memoryTx) Adjust(_ context.Context, branchID, batchID int64, delta float64) (bool, error) {
	key := stockKey{branchID: branchID, batchID: batchID}
	s, ok := t.repo.stocks[key]
	if !ok || s.Quantity+delta < 0 {
		return false, nil
	}
	t.pending = append(t.pending, func() { s.Quantity += delta })
	return true, nil
}

func (t *memoryTx) BatchRemainingForUpdate(_ context.Context, batchID int64) (float64, error) {
	remaining, ok := t.repo.batchRemaining[batchID]
	if !ok {
		return 0, fmt.Errorf("branchstock: batch %d: %w", batchID, shared.ErrNotFound)
	}
	return remaining, nil
}

func (t *memoryTx) SumForBatch(_ context.Context, batchID int64) (float64, error) {
	var sum float64
	for _, s := range t.repo.stocks {
		if s.BatchID == batchID {
			sum += s.Quantity
		}
	}
	return sum, nil
}

func (t *memoryTx) InsertMovement(_ context.Context, m movements.Movement) error {
	t.pending = append(t.pending, func() { t.repo.movements = append(t.repo.movements, m) })
	return nil
}

type memoryAudit struct {
	logs []shared.AuditLog
}

func (a *memoryAudit) Record(_ context.Context, log shared.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

func TestAdjustStock(t *testing.T) {
	repo := newMemoryRepo()
	repo.batchRemaining[11] = 100
	audit := &memoryAudit{}
	svc := NewService(repo, NewCache(nil, time.Minute), audit)
	ctx := context.Background()

	stock, err := svc.Adjust(ctx, 7, 1, 11, 40, movements.ReasonTransferIn, 99)
	require.NoError(t, err)
	require.Equal(t, 40.0, stock.Quantity)

	stock, err = svc.Adjust(ctx, 7, 1, 11, -15, movements.ReasonSale, 99)
	require.NoError(t, err)
	require.Equal(t, 25.0, stock.Quantity)

	require.Len(t, repo.movements, 2)
	require.Equal(t, movements.DirectionIn, repo.movements[0].Direction)
	require.Equal(t, movements.DirectionOut, repo.movements[1].Direction)
	require.Equal(t, 15.0, repo.movements[1].Quantity)
	require.Len(t, audit.logs, 2)
}

func TestAdjustStockRejectsOverdraw(t *testing.T) {
	repo := newMemoryRepo()
	repo.batchRemaining[11] = 100
	svc := NewService(repo, NewCache(nil, time.Minute), nil)
	ctx := context.Background()

	_, err := svc.Adjust(ctx, 7, 1, 11, 30, movements.ReasonTransferIn, 0)
	require.NoError(t, err)

	_, err = svc.Adjust(ctx, 7, 1, 11, -31, movements.ReasonSale, 0)
	require.ErrorIs(t, err, shared.ErrInsufficientStock)

	// The failed debit must leave quantity and the movement log untouched.
	stocks, err := svc.ListByProductAndBranch(ctx, 7, 1)
	require.NoError(t, err)
	require.Len(t, stocks, 1)
	require.Equal(t, 30.0, stocks[0].Quantity)
	require.Len(t, repo.movements, 1)
}

func TestAdjustStockRejectsCreditBeyondBatchRemaining(t *testing.T) {
	repo := newMemoryRepo()
	repo.batchRemaining[11] = 50
	svc := NewService(repo, NewCache(nil, time.Minute), nil)
	ctx := context.Background()

	_, err := svc.Adjust(ctx, 7, 1, 11, 30, movements.ReasonTransferIn, 0)
	require.NoError(t, err)

	// 30 of 50 already sit at branch 1; a further 30 at branch 2 would
	// allocate more than the batch holds.
	_, err = svc.Adjust(ctx, 7, 2, 11, 30, movements.ReasonTransferIn, 0)
	require.ErrorIs(t, err, shared.ErrInsufficientStock)

	stocks, err := svc.ListByBranch(ctx, 2)
	require.NoError(t, err)
	require.Empty(t, stocks)
	require.Len(t, repo.movements, 1)

	_, err = svc.Adjust(ctx, 7, 2, 11, 20, movements.ReasonTransferIn, 0)
	require.NoError(t, err)
}

func TestAdjustStockUnknownBatch(t *testing.T) {
	svc := NewService(newMemoryRepo(), NewCache(nil, time.Minute), nil)

	_, err := svc.Adjust(context.Background(), 7, 1, 404, 5, movements.ReasonAdjustment, 0)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestAdjustStockValidation(t *testing.T) {
	svc := NewService(newMemoryRepo(), NewCache(nil, time.Minute), nil)
	ctx := context.Background()

	_, err := svc.Adjust(ctx, 0, 1, 11, 5, movements.ReasonAdjustment, 0)
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.Adjust(ctx, 7, 1, 11, 0, movements.ReasonAdjustment, 0)
	require.ErrorIs(t, err, shared.ErrInvalidQuantity)

	_, err = svc.Adjust(ctx, 7, 1, 11, 2.5, movements.ReasonAdjustment, 0)
	require.ErrorIs(t, err, shared.ErrInvalidQuantity)
}

func TestGetOrCreateStartsAtZero(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, NewCache(nil, time.Minute), nil)
	ctx := context.Background()

	stock, err := svc.GetOrCreate(ctx, 7, 2, 11)
	require.NoError(t, err)
	require.Equal(t, 0.0, stock.Quantity)

	again, err := svc.GetOrCreate(ctx, 7, 2, 11)
	require.NoError(t, err)
	require.Equal(t, stock.ID, again.ID)
}

func TestListAvailabilityWithoutCache(t *testing.T) {
	repo := newMemoryRepo()
	repo.availability = []Availability{
		{BatchID: 11, BatchNumber: "B-2026-01", Status: "active", Quantity: 30},
	}
	svc := NewService(repo, NewCache(nil, time.Minute), nil)

	rows, err := svc.ListAvailability(context.Background(), 7, 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "B-2026-01", rows[0].BatchNumber)
}

func TestAdjustSurfacesRepoError(t *testing.T) {
	svc := NewService(&failingRepo{}, NewCache(nil, time.Minute), nil)

	_, err := svc.Adjust(context.Background(), 7, 1, 11, 5, movements.ReasonAdjustment, 0)
	require.Error(t, err)
	require.False(t, errors.Is(err, shared.ErrInsufficientStock))
}

type failingRepo struct{}

func (f *failingRepo) WithTx(context.Context, func(context.Context, TxRepository) error) error {
	return errors.New("connection refused")
}

func (f *failingRepo) ListByBranch(context.Context, int64) ([]Stock, error) {
	return nil, errors.New("connection refused")
}

func (f *failingRepo) ListByProductAndBranch(context.Context, int64, int64) ([]Stock, error) {
	return nil, errors.New("connection refused")
}

func (f *failingRepo) ListAvailability(context.Context, int64, int64) ([]Availability, error) {
	return nil, errors.New("connection refused")
}
