package branchstock

import (
	"context"
	"fmt"

	"golang.org/x/sync/singleflight"

	"github.com/caravel-erp/caravel-erp/internal/movements"
	"github.com/caravel-erp/caravel-erp/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListByBranch(ctx context.Context, branchID int64) ([]Stock, error)
	ListByProductAndBranch(ctx context.Context, productID, branchID int64) ([]Stock, error)
	ListAvailability(ctx context.Context, productID, branchID int64) ([]Availability, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

const conflictRetries = 3

// Service coordinates branch stock operations.
type Service struct {
	repo  RepositoryPort
	cache *Cache
	audit AuditPort
	group singleflight.Group
}

// NewService builds Service.
func NewService(repo RepositoryPort, cache *Cache, audit AuditPort) *Service {
	return &Service{repo: repo, cache: cache, audit: audit}
}

// GetOrCreate fetches the stock row for (branch, batch), creating a
// zero-quantity row when missing.
func (s *Service) GetOrCreate(ctx context.Context, productID, branchID, batchID int64) (Stock, error) {
	if productID == 0 || branchID == 0 || batchID == 0 {
		return Stock{}, fmt.Errorf("branchstock: product, branch and batch required: %w", shared.ErrValidation)
	}
	var stock Stock
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		stock, err = tx.GetOrCreate(ctx, productID, branchID, batchID)
		return err
	})
	return stock, err
}

// Adjust applies a signed delta to a branch's batch stock and records the
// movement. A debit that would go negative is rejected with no row change,
// and a credit may not push the sum of branch allocations past the batch's
// remaining quantity.
func (s *Service) Adjust(ctx context.Context, productID, branchID, batchID int64, delta float64, reason movements.Reason, actorID int64) (Stock, error) {
	if productID == 0 || branchID == 0 || batchID == 0 {
		return Stock{}, fmt.Errorf("branchstock: product, branch and batch required: %w", shared.ErrValidation)
	}
	if delta == 0 || !shared.WholeQuantity(delta) {
		return Stock{}, ErrInvalidQuantity
	}
	if reason == "" {
		reason = movements.ReasonAdjustment
	}

	var stock Stock
	err := shared.WithRetry(ctx, conflictRetries, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			if delta > 0 {
				remaining, err := tx.BatchRemainingForUpdate(ctx, batchID)
				if err != nil {
					return err
				}
				allocated, err := tx.SumForBatch(ctx, batchID)
				if err != nil {
					return err
				}
				if allocated+delta > remaining {
					return fmt.Errorf("batch %d has %.0f unallocated: %w", batchID, remaining-allocated, ErrInsufficientStock)
				}
			}
			row, err := tx.GetOrCreate(ctx, productID, branchID, batchID)
			if err != nil {
				return err
			}
			applied, err := tx.Adjust(ctx, branchID, batchID, delta)
			if err != nil {
				return err
			}
			if !applied {
				return ErrInsufficientStock
			}
			direction := movements.DirectionIn
			if delta < 0 {
				direction = movements.DirectionOut
			}
			qty := delta
			if qty < 0 {
				qty = -qty
			}
			if err := tx.InsertMovement(ctx, movements.Movement{
				ProductID: productID,
				BatchID:   batchID,
				BranchID:  branchID,
				Direction: direction,
				Quantity:  qty,
				Reason:    reason,
				RefModule: "BRANCHSTOCK",
			}); err != nil {
				return err
			}
			stock = row
			stock.Quantity += delta
			return nil
		})
	})
	if err != nil {
		return Stock{}, err
	}

	_ = s.cache.Bump(ctx)
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   "branchstock:adjust",
			Entity:   "branch_batch_stock",
			EntityID: fmt.Sprintf("%d:%d", branchID, batchID),
			Meta: map[string]any{
				"product_id": productID,
				"branch_id":  branchID,
				"batch_id":   batchID,
				"delta":      delta,
				"reason":     string(reason),
			},
		})
	}
	return stock, nil
}

// ListByBranch returns every stock row at a branch.
func (s *Service) ListByBranch(ctx context.Context, branchID int64) ([]Stock, error) {
	if branchID == 0 {
		return nil, fmt.Errorf("branchstock: branch required: %w", shared.ErrValidation)
	}
	return s.repo.ListByBranch(ctx, branchID)
}

// ListByProductAndBranch returns one product's stock rows at a branch.
func (s *Service) ListByProductAndBranch(ctx context.Context, productID, branchID int64) ([]Stock, error) {
	if productID == 0 || branchID == 0 {
		return nil, fmt.Errorf("branchstock: product and branch required: %w", shared.ErrValidation)
	}
	return s.repo.ListByProductAndBranch(ctx, productID, branchID)
}

// ListAvailability serves the batch picker. Listings are cached per
// (product, branch) under the global version; concurrent misses for the
// same key collapse into one database read.
func (s *Service) ListAvailability(ctx context.Context, productID, branchID int64) ([]Availability, error) {
	if productID == 0 || branchID == 0 {
		return nil, fmt.Errorf("branchstock: product and branch required: %w", shared.ErrValidation)
	}
	key, err := s.cache.BuildKey(ctx, keyAvailability(productID, branchID))
	if err != nil {
		return s.repo.ListAvailability(ctx, productID, branchID)
	}
	var result []Availability
	err = s.cache.FetchJSON(ctx, key, &result, func(ctx context.Context) (interface{}, error) {
		value, err, _ := s.group.Do(key, func() (interface{}, error) {
			return s.repo.ListAvailability(ctx, productID, branchID)
		})
		return value, err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// InvalidateListings bumps the picker cache. Transfer and fulfilment
// services call this after committing stock mutations of their own.
func (s *Service) InvalidateListings(ctx context.Context) {
	_ = s.cache.Bump(ctx)
}
