package batches

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/caravel-erp/caravel-erp/internal/movements"
	"github.com/caravel-erp/caravel-erp/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Batch, error)
	GetByIdentity(ctx context.Context, productID int64, batchNumber string) (Batch, error)
	ListByProduct(ctx context.Context, productID int64) ([]Batch, error)
	MarkExpired(ctx context.Context, asOf time.Time) (int64, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

const conflictRetries = 3

// Service coordinates batch lifecycle operations.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	idempotency *shared.IdempotencyStore
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, idem *shared.IdempotencyStore) *Service {
	return &Service{repo: repo, audit: audit, idempotency: idem}
}

// CreateOrMerge receives quantity into the batch identified by
// (product, batch number), creating the row on first receipt and merging
// into it afterwards. Retries carrying the same RequestRef are deduped.
func (s *Service) CreateOrMerge(ctx context.Context, input ReceiptInput) (Batch, error) {
	if input.ProductID == 0 || input.BatchNumber == "" {
		return Batch{}, fmt.Errorf("batches: product and batch number required: %w", shared.ErrValidation)
	}
	if input.Quantity <= 0 || !shared.WholeQuantity(input.Quantity) {
		return Batch{}, ErrInvalidQuantity
	}
	if !input.Pricing.Valid() {
		return Batch{}, fmt.Errorf("batches: pricing must be >= 0: %w", shared.ErrValidation)
	}

	insertedKey := ""
	if input.RequestRef != "" && s.idempotency != nil {
		key := fmt.Sprintf("receipt:%d:%s:%s", input.ProductID, input.BatchNumber, input.RequestRef)
		if err := s.idempotency.CheckAndInsert(ctx, key, "batches"); err != nil {
			return Batch{}, err
		}
		insertedKey = key
	}

	var result Batch
	err := shared.WithRetry(ctx, conflictRetries, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			existing, err := tx.GetByIdentityForUpdate(ctx, input.ProductID, input.BatchNumber)
			switch {
			case errors.Is(err, ErrBatchNotFound):
				// Batch numbers are globally scoped: the same number under
				// another product is a labelling error, not a new lot.
				taken, err := tx.NumberTakenByOtherProduct(ctx, input.ProductID, input.BatchNumber)
				if err != nil {
					return err
				}
				if taken {
					return ErrDuplicateIdentity
				}
				b := Batch{
					ProductID:           input.ProductID,
					BatchNumber:         input.BatchNumber,
					ManufacturingDate:   input.ManufacturingDate,
					ExpiryDate:          input.ExpiryDate,
					SupplierBatchNumber: input.SupplierBatchNumber,
					Pricing:             input.Pricing,
					QuantityReceived:    input.Quantity,
					QuantityRemaining:   input.Quantity,
					Status:              StatusActive,
				}
				id, err := tx.Insert(ctx, b)
				if err != nil {
					return err
				}
				result = b
				result.ID = id
			case err != nil:
				return err
			default:
				var pricing *Pricing
				if input.OverwritePricing {
					pricing = &input.Pricing
				}
				if err := tx.MergeReceipt(ctx, existing.ID, input.Quantity, pricing); err != nil {
					return err
				}
				result = existing
				result.QuantityReceived += input.Quantity
				result.QuantityRemaining += input.Quantity
				if pricing != nil {
					result.Pricing = *pricing
				}
			}
			return tx.InsertMovement(ctx, movements.Movement{
				ProductID: input.ProductID,
				BatchID:   result.ID,
				Direction: movements.DirectionIn,
				Quantity:  input.Quantity,
				Reason:    movements.ReasonReceipt,
				RefModule: "BATCHES",
				RefID:     input.RequestRef,
			})
		})
	})
	if err != nil {
		if insertedKey != "" {
			_ = s.idempotency.Delete(ctx, insertedKey)
		}
		return Batch{}, err
	}

	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  input.ActorID,
			Action:   "batches:receipt",
			Entity:   "product_batch",
			EntityID: fmt.Sprintf("%d", result.ID),
			Meta: map[string]any{
				"product_id":   input.ProductID,
				"batch_number": input.BatchNumber,
				"quantity":     input.Quantity,
			},
		})
	}
	return result, nil
}

// AdjustQuantity applies a signed correction to both received and
// remaining quantities. Downward corrections may not undercut what
// branches currently hold.
func (s *Service) AdjustQuantity(ctx context.Context, batchID int64, delta float64, pricingOverride *Pricing) (Batch, error) {
	if delta == 0 || !shared.WholeQuantity(delta) {
		return Batch{}, ErrInvalidQuantity
	}
	if pricingOverride != nil && !pricingOverride.Valid() {
		return Batch{}, fmt.Errorf("batches: pricing must be >= 0: %w", shared.ErrValidation)
	}

	var result Batch
	err := shared.WithRetry(ctx, conflictRetries, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			batch, err := tx.GetForUpdate(ctx, batchID)
			if err != nil {
				return err
			}
			if delta < 0 {
				allocated, err := tx.SumBranchStock(ctx, batchID)
				if err != nil {
					return err
				}
				if batch.QuantityRemaining+delta < allocated {
					return ErrInsufficientQuantity
				}
			}
			applied, err := tx.AdjustBoth(ctx, batchID, delta)
			if err != nil {
				return err
			}
			if !applied {
				return ErrInsufficientQuantity
			}
			if pricingOverride != nil {
				if err := tx.MergeReceipt(ctx, batchID, 0, pricingOverride); err != nil {
					return err
				}
			}
			direction := movements.DirectionIn
			if delta < 0 {
				direction = movements.DirectionOut
			}
			if err := tx.InsertMovement(ctx, movements.Movement{
				ProductID: batch.ProductID,
				BatchID:   batchID,
				Direction: direction,
				Quantity:  abs(delta),
				Reason:    movements.ReasonAdjustment,
				RefModule: "BATCHES",
			}); err != nil {
				return err
			}
			result = batch
			result.QuantityReceived += delta
			result.QuantityRemaining += delta
			if pricingOverride != nil {
				result.Pricing = *pricingOverride
			}
			return nil
		})
	})
	if err != nil {
		return Batch{}, err
	}
	return result, nil
}

// Consume decrements only the remaining quantity of a batch.
func (s *Service) Consume(ctx context.Context, batchID int64, qty float64) (Batch, error) {
	if qty <= 0 || !shared.WholeQuantity(qty) {
		return Batch{}, ErrInvalidQuantity
	}
	var result Batch
	err := shared.WithRetry(ctx, conflictRetries, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			batch, err := tx.GetForUpdate(ctx, batchID)
			if err != nil {
				return err
			}
			applied, err := tx.Consume(ctx, batchID, qty)
			if err != nil {
				return err
			}
			if !applied {
				return ErrInsufficientQuantity
			}
			if err := tx.InsertMovement(ctx, movements.Movement{
				ProductID: batch.ProductID,
				BatchID:   batchID,
				Direction: movements.DirectionOut,
				Quantity:  qty,
				Reason:    movements.ReasonSale,
				RefModule: "BATCHES",
			}); err != nil {
				return err
			}
			result = batch
			result.QuantityRemaining -= qty
			return nil
		})
	})
	if err != nil {
		return Batch{}, err
	}
	return result, nil
}

// SetStatus transitions a batch's lifecycle state. Consumed requires a
// fully drained batch; quantity is never touched by status changes.
func (s *Service) SetStatus(ctx context.Context, batchID int64, status Status) error {
	if !status.IsValid() {
		return ErrInvalidStatus
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		batch, err := tx.GetForUpdate(ctx, batchID)
		if err != nil {
			return err
		}
		if status == StatusConsumed && batch.QuantityRemaining != 0 {
			return fmt.Errorf("batches: %.2f remaining, cannot mark consumed: %w", batch.QuantityRemaining, shared.ErrValidation)
		}
		return tx.UpdateStatus(ctx, batchID, status)
	})
}

// Get returns one batch.
func (s *Service) Get(ctx context.Context, id int64) (Batch, error) {
	return s.repo.Get(ctx, id)
}

// ListByProduct lists all batches of a product.
func (s *Service) ListByProduct(ctx context.Context, productID int64) ([]Batch, error) {
	if productID == 0 {
		return nil, fmt.Errorf("batches: product required: %w", shared.ErrValidation)
	}
	return s.repo.ListByProduct(ctx, productID)
}

// SweepExpired marks overdue active batches expired. Called by the worker.
func (s *Service) SweepExpired(ctx context.Context, asOf time.Time) (int64, error) {
	return s.repo.MarkExpired(ctx, asOf)
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
