package purchase

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/caravel-erp/caravel-erp/internal/batches"
	"github.com/caravel-erp/caravel-erp/internal/movements"
	"github.com/caravel-erp/caravel-erp/internal/orders/totals"
	"github.com/caravel-erp/caravel-erp/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Order, error)
	ListPayments(ctx context.Context, orderID int64) ([]totals.Payment, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ListingInvalidator bumps the availability picker cache after stock moves.
type ListingInvalidator interface {
	InvalidateListings(ctx context.Context)
}

const conflictRetries = 3

// Service posts purchase orders. Every item mutation and its batch and
// branch-stock effects commit in one transaction.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	idempotency *shared.IdempotencyStore
	listings    ListingInvalidator
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, idem *shared.IdempotencyStore, listings ListingInvalidator) *Service {
	return &Service{repo: repo, audit: audit, idempotency: idem, listings: listings}
}

// Create opens an order header.
func (s *Service) Create(ctx context.Context, input CreateInput) (Order, error) {
	if input.BranchID == 0 {
		return Order{}, fmt.Errorf("purchase: branch required: %w", shared.ErrValidation)
	}
	order := Order{
		Reference:  "PO-" + uuid.NewString(),
		BranchID:   input.BranchID,
		SupplierID: input.SupplierID,
		Note:       input.Note,
		Status:     StatusDraft,
		Totals:     totals.Compute(nil, input.DiscountTotal, input.TaxTotal, input.ShippingTotal, 0),
		CreatedBy:  input.ActorID,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertOrder(ctx, order)
		if err != nil {
			return err
		}
		order.ID = id
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	s.recordAudit(ctx, input.ActorID, "purchase:create", order.ID, map[string]any{"branch_id": input.BranchID})
	return order, nil
}

// AddItems appends items to an order. Lines carrying a batch number
// create-or-merge the batch and credit the order branch; lines without
// one are non-tracked goods with no stock effect. A RequestRef dedupes
// retried submissions.
func (s *Service) AddItems(ctx context.Context, orderID int64, items []ItemInput, requestRef string, actorID int64) (Order, error) {
	if len(items) == 0 {
		return Order{}, fmt.Errorf("purchase: at least one item required: %w", shared.ErrValidation)
	}
	for _, item := range items {
		if item.ProductID == 0 {
			return Order{}, fmt.Errorf("purchase: item product required: %w", shared.ErrValidation)
		}
		if item.Quantity <= 0 || !shared.WholeQuantity(item.Quantity) {
			return Order{}, ErrInvalidQuantity
		}
		if item.UnitPrice < 0 {
			return Order{}, fmt.Errorf("purchase: unit price must be >= 0: %w", shared.ErrValidation)
		}
	}

	insertedKey := ""
	if requestRef != "" && s.idempotency != nil {
		key := fmt.Sprintf("po-items:%d:%s", orderID, requestRef)
		if err := s.idempotency.CheckAndInsert(ctx, key, "purchase"); err != nil {
			return Order{}, err
		}
		insertedKey = key
	}

	var order Order
	err := shared.WithRetry(ctx, conflictRetries, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			header, err := tx.GetOrderForUpdate(ctx, orderID)
			if err != nil {
				return err
			}
			for _, input := range items {
				item := Item{
					OrderID:         orderID,
					ProductID:       input.ProductID,
					BatchNumber:     input.BatchNumber,
					Quantity:        input.Quantity,
					UnitPrice:       input.UnitPrice,
					DiscountAmount:  input.DiscountAmount,
					DiscountPercent: input.DiscountPercent,
					ExpiryDate:      input.ExpiryDate,
					Total: totals.LineTotal(totals.Line{
						Quantity:        input.Quantity,
						UnitPrice:       input.UnitPrice,
						DiscountAmount:  input.DiscountAmount,
						DiscountPercent: input.DiscountPercent,
					}),
				}
				if _, err := tx.InsertItem(ctx, item); err != nil {
					return err
				}
				if input.BatchNumber == "" {
					continue
				}
				if err := s.applyReceipt(ctx, tx, header.BranchID, orderID, receipt{
					productID:   input.ProductID,
					batchNumber: input.BatchNumber,
					quantity:    input.Quantity,
					unitPrice:   input.UnitPrice,
					expiryDate:  input.ExpiryDate,
				}); err != nil {
					return err
				}
			}
			order, err = s.recompute(ctx, tx, header)
			return err
		})
	})
	if err != nil {
		if insertedKey != "" {
			_ = s.idempotency.Delete(ctx, insertedKey)
		}
		return Order{}, err
	}

	s.invalidate(ctx)
	s.recordAudit(ctx, actorID, "purchase:add-items", orderID, map[string]any{"items": len(items)})
	return order, nil
}

// UpdateItem edits an item. A batch number change reverses the old
// allocation in full and applies the new quantity to the new batch; a
// quantity-only change applies the signed difference to the same batch.
func (s *Service) UpdateItem(ctx context.Context, itemID int64, updates UpdateItemInput, actorID int64) (Order, error) {
	if updates.Quantity != nil && (*updates.Quantity <= 0 || !shared.WholeQuantity(*updates.Quantity)) {
		return Order{}, ErrInvalidQuantity
	}

	var order Order
	err := shared.WithRetry(ctx, conflictRetries, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			item, err := tx.GetItemForUpdate(ctx, itemID)
			if err != nil {
				return err
			}
			header, err := tx.GetOrderForUpdate(ctx, item.OrderID)
			if err != nil {
				return err
			}

			next := item
			if updates.BatchNumber != nil {
				next.BatchNumber = *updates.BatchNumber
			}
			if updates.Quantity != nil {
				next.Quantity = *updates.Quantity
			}
			if updates.UnitPrice != nil {
				next.UnitPrice = *updates.UnitPrice
			}
			if updates.DiscountAmount != nil {
				next.DiscountAmount = *updates.DiscountAmount
			}
			if updates.DiscountPercent != nil {
				next.DiscountPercent = *updates.DiscountPercent
			}
			next.Total = totals.LineTotal(totals.Line{
				Quantity:        next.Quantity,
				UnitPrice:       next.UnitPrice,
				DiscountAmount:  next.DiscountAmount,
				DiscountPercent: next.DiscountPercent,
			})

			switch {
			case item.BatchNumber != next.BatchNumber:
				if item.BatchNumber != "" {
					if err := s.reverseReceipt(ctx, tx, header.BranchID, item.OrderID, item.ProductID, item.BatchNumber, item.Quantity); err != nil {
						return err
					}
				}
				if next.BatchNumber != "" {
					if err := s.applyReceipt(ctx, tx, header.BranchID, item.OrderID, receipt{
						productID:   next.ProductID,
						batchNumber: next.BatchNumber,
						quantity:    next.Quantity,
						unitPrice:   next.UnitPrice,
						expiryDate:  next.ExpiryDate,
					}); err != nil {
						return err
					}
				}
			case item.BatchNumber != "" && item.Quantity != next.Quantity:
				delta := next.Quantity - item.Quantity
				if delta > 0 {
					if err := s.applyReceipt(ctx, tx, header.BranchID, item.OrderID, receipt{
						productID:   item.ProductID,
						batchNumber: item.BatchNumber,
						quantity:    delta,
						unitPrice:   next.UnitPrice,
						expiryDate:  item.ExpiryDate,
					}); err != nil {
						return err
					}
				} else {
					if err := s.reverseReceipt(ctx, tx, header.BranchID, item.OrderID, item.ProductID, item.BatchNumber, -delta); err != nil {
						return err
					}
				}
			}

			if err := tx.UpdateItem(ctx, next); err != nil {
				return err
			}
			order, err = s.recompute(ctx, tx, header)
			return err
		})
	})
	if err != nil {
		return Order{}, err
	}

	s.invalidate(ctx)
	s.recordAudit(ctx, actorID, "purchase:update-item", itemID, nil)
	return order, nil
}

// DeleteItem reverses the item's full stock effect before removing it.
func (s *Service) DeleteItem(ctx context.Context, itemID int64, actorID int64) (Order, error) {
	var order Order
	err := shared.WithRetry(ctx, conflictRetries, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			item, err := tx.GetItemForUpdate(ctx, itemID)
			if err != nil {
				return err
			}
			header, err := tx.GetOrderForUpdate(ctx, item.OrderID)
			if err != nil {
				return err
			}
			if item.BatchNumber != "" {
				if err := s.reverseReceipt(ctx, tx, header.BranchID, item.OrderID, item.ProductID, item.BatchNumber, item.Quantity); err != nil {
					return err
				}
			}
			if err := tx.DeleteItem(ctx, itemID); err != nil {
				return err
			}
			order, err = s.recompute(ctx, tx, header)
			return err
		})
	})
	if err != nil {
		return Order{}, err
	}

	s.invalidate(ctx)
	s.recordAudit(ctx, actorID, "purchase:delete-item", itemID, nil)
	return order, nil
}

// RecordPayment appends a ledger row and re-derives paid and due totals.
// paid_total is never accepted as direct input.
func (s *Service) RecordPayment(ctx context.Context, orderID int64, input PaymentInput) (Order, error) {
	if input.Amount <= 0 {
		return Order{}, fmt.Errorf("purchase: payment amount must be > 0: %w", shared.ErrValidation)
	}
	var order Order
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		header, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if _, err := tx.InsertPayment(ctx, totals.Payment{
			OrderID:   orderID,
			Amount:    input.Amount,
			Method:    input.Method,
			Reference: input.Reference,
			PaidAt:    time.Now(),
		}); err != nil {
			return err
		}
		order, err = s.recompute(ctx, tx, header)
		return err
	})
	if err != nil {
		return Order{}, err
	}
	s.recordAudit(ctx, input.ActorID, "purchase:payment", orderID, map[string]any{"amount": input.Amount})
	return order, nil
}

// Recompute re-derives the header rollup from items and payments, and
// rejects persisting when the stored header disagrees with the result.
func (s *Service) Recompute(ctx context.Context, orderID int64) (Order, error) {
	var order Order
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		header, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		derived, err := s.derive(ctx, tx, header)
		if err != nil {
			return err
		}
		if err := totals.Reconcile(header.Totals, derived); err != nil {
			return err
		}
		order = header
		order.Totals = derived
		return tx.UpdateOrderTotals(ctx, orderID, derived)
	})
	return order, err
}

// Get returns an order with items.
func (s *Service) Get(ctx context.Context, id int64) (Order, error) {
	if id == 0 {
		return Order{}, ErrOrderNotFound
	}
	return s.repo.Get(ctx, id)
}

// ListPayments returns the order's payment ledger.
func (s *Service) ListPayments(ctx context.Context, orderID int64) ([]totals.Payment, error) {
	return s.repo.ListPayments(ctx, orderID)
}

type receipt struct {
	productID   int64
	batchNumber string
	quantity    float64
	unitPrice   float64
	expiryDate  *time.Time
}

// applyReceipt merges quantity into the (product, batch number) batch,
// creating it on first sight, then credits the order branch. The lookup
// and insert share the transaction so racing receipts cannot fragment one
// physical batch into duplicate rows.
func (s *Service) applyReceipt(ctx context.Context, tx TxRepository, branchID, orderID int64, rc receipt) error {
	batch, err := tx.GetBatchByIdentityForUpdate(ctx, rc.productID, rc.batchNumber)
	switch {
	case errors.Is(err, batches.ErrBatchNotFound):
		b := batches.Batch{
			ProductID:         rc.productID,
			BatchNumber:       rc.batchNumber,
			ExpiryDate:        rc.expiryDate,
			Pricing:           batches.Pricing{CostPrice: rc.unitPrice, PurchasePrice: rc.unitPrice},
			QuantityReceived:  rc.quantity,
			QuantityRemaining: rc.quantity,
			Status:            batches.StatusActive,
		}
		id, err := tx.InsertBatch(ctx, b)
		if err != nil {
			return err
		}
		batch = b
		batch.ID = id
	case err != nil:
		return err
	default:
		if err := tx.MergeBatchReceipt(ctx, batch.ID, rc.quantity); err != nil {
			return err
		}
	}

	if err := tx.CreditBranch(ctx, rc.productID, branchID, batch.ID, rc.quantity); err != nil {
		return err
	}
	return tx.InsertMovement(ctx, movements.Movement{
		ProductID: rc.productID,
		BatchID:   batch.ID,
		BranchID:  branchID,
		Direction: movements.DirectionIn,
		Quantity:  rc.quantity,
		Reason:    movements.ReasonReceipt,
		RefModule: "PURCHASE",
		RefID:     strconv.FormatInt(orderID, 10),
	})
}

// reverseReceipt backs a prior receipt out of the batch and branch stock.
// Fails when the goods have already moved on (sold or transferred away).
func (s *Service) reverseReceipt(ctx context.Context, tx TxRepository, branchID, orderID, productID int64, batchNumber string, qty float64) error {
	batch, err := tx.GetBatchByIdentityForUpdate(ctx, productID, batchNumber)
	if err != nil {
		return err
	}
	debited, err := tx.DebitBranch(ctx, branchID, batch.ID, qty)
	if err != nil {
		return err
	}
	if !debited {
		return fmt.Errorf("batch %s no longer held at branch %d: %w", batchNumber, branchID, ErrInsufficientStock)
	}
	reversed, err := tx.ReverseBatchReceipt(ctx, batch.ID, qty)
	if err != nil {
		return err
	}
	if !reversed {
		return fmt.Errorf("batch %s already consumed: %w", batchNumber, ErrInsufficientStock)
	}
	return tx.InsertMovement(ctx, movements.Movement{
		ProductID: productID,
		BatchID:   batch.ID,
		BranchID:  branchID,
		Direction: movements.DirectionOut,
		Quantity:  qty,
		Reason:    movements.ReasonReceiptReversal,
		RefModule: "PURCHASE",
		RefID:     strconv.FormatInt(orderID, 10),
	})
}

// recompute re-derives and persists the header rollup inside the caller's
// transaction.
func (s *Service) recompute(ctx context.Context, tx TxRepository, header Order) (Order, error) {
	derived, err := s.derive(ctx, tx, header)
	if err != nil {
		return Order{}, err
	}
	if err := tx.UpdateOrderTotals(ctx, header.ID, derived); err != nil {
		return Order{}, err
	}
	header.Totals = derived
	return header, nil
}

func (s *Service) derive(ctx context.Context, tx TxRepository, header Order) (totals.Totals, error) {
	itemTotals, err := tx.ListItemTotals(ctx, header.ID)
	if err != nil {
		return totals.Totals{}, err
	}
	paid, err := tx.SumPayments(ctx, header.ID)
	if err != nil {
		return totals.Totals{}, err
	}
	return totals.Compute(itemTotals, header.DiscountTotal, header.TaxTotal, header.ShippingTotal, paid), nil
}

func (s *Service) invalidate(ctx context.Context) {
	if s.listings != nil {
		s.listings.InvalidateListings(ctx)
	}
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "purchase_orders",
		EntityID: strconv.FormatInt(entityID, 10),
		Meta:     meta,
	})
}
