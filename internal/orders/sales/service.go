package sales

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

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

// Service posts sales orders. A sold line debits the branch's batch stock
// and the batch's remaining quantity in the same transaction as the item
// write; either debit failing aborts the whole submission.
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
		return Order{}, fmt.Errorf("sales: branch required: %w", shared.ErrValidation)
	}
	order := Order{
		Reference:  "SO-" + uuid.NewString(),
		BranchID:   input.BranchID,
		CustomerID: input.CustomerID,
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
	s.recordAudit(ctx, input.ActorID, "sales:create", order.ID, map[string]any{"branch_id": input.BranchID})
	return order, nil
}

// AddItems appends items to an order. Lines carrying a batch id debit the
// order branch's stock and the batch's remaining quantity; a line whose
// requested quantity exceeds availability rejects the whole submission.
func (s *Service) AddItems(ctx context.Context, orderID int64, items []ItemInput, requestRef string, actorID int64) (Order, error) {
	if len(items) == 0 {
		return Order{}, fmt.Errorf("sales: at least one item required: %w", shared.ErrValidation)
	}
	for _, item := range items {
		if item.ProductID == 0 {
			return Order{}, fmt.Errorf("sales: item product required: %w", shared.ErrValidation)
		}
		if item.Quantity <= 0 || !shared.WholeQuantity(item.Quantity) {
			return Order{}, ErrInvalidQuantity
		}
		if item.UnitPrice < 0 {
			return Order{}, fmt.Errorf("sales: unit price must be >= 0: %w", shared.ErrValidation)
		}
	}

	insertedKey := ""
	if requestRef != "" && s.idempotency != nil {
		key := fmt.Sprintf("so-items:%d:%s", orderID, requestRef)
		if err := s.idempotency.CheckAndInsert(ctx, key, "sales"); err != nil {
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
					BatchID:         input.BatchID,
					Quantity:        input.Quantity,
					UnitPrice:       input.UnitPrice,
					DiscountAmount:  input.DiscountAmount,
					DiscountPercent: input.DiscountPercent,
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
				if input.BatchID == 0 {
					continue
				}
				if err := s.applySale(ctx, tx, header.BranchID, orderID, input.ProductID, input.BatchID, input.Quantity); err != nil {
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
	s.recordAudit(ctx, actorID, "sales:add-items", orderID, map[string]any{"items": len(items)})
	return order, nil
}

// UpdateItem edits an item. A batch change credits the old batch back in
// full and debits the new one; a quantity-only change applies the signed
// difference against the same batch.
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
			if updates.BatchID != nil {
				next.BatchID = *updates.BatchID
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
			case item.BatchID != next.BatchID:
				if item.BatchID != 0 {
					if err := s.reverseSale(ctx, tx, header.BranchID, item.OrderID, item.ProductID, item.BatchID, item.Quantity); err != nil {
						return err
					}
				}
				if next.BatchID != 0 {
					if err := s.applySale(ctx, tx, header.BranchID, item.OrderID, next.ProductID, next.BatchID, next.Quantity); err != nil {
						return err
					}
				}
			case item.BatchID != 0 && item.Quantity != next.Quantity:
				delta := next.Quantity - item.Quantity
				if delta > 0 {
					if err := s.applySale(ctx, tx, header.BranchID, item.OrderID, item.ProductID, item.BatchID, delta); err != nil {
						return err
					}
				} else {
					if err := s.reverseSale(ctx, tx, header.BranchID, item.OrderID, item.ProductID, item.BatchID, -delta); err != nil {
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
	s.recordAudit(ctx, actorID, "sales:update-item", itemID, nil)
	return order, nil
}

// DeleteItem credits the item's full quantity back to the branch and the
// batch before removing the row.
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
			if item.BatchID != 0 {
				if err := s.reverseSale(ctx, tx, header.BranchID, item.OrderID, item.ProductID, item.BatchID, item.Quantity); err != nil {
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
	s.recordAudit(ctx, actorID, "sales:delete-item", itemID, nil)
	return order, nil
}

// RecordPayment appends a ledger row and re-derives paid and due totals.
func (s *Service) RecordPayment(ctx context.Context, orderID int64, input PaymentInput) (Order, error) {
	if input.Amount <= 0 {
		return Order{}, fmt.Errorf("sales: payment amount must be > 0: %w", shared.ErrValidation)
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
	s.recordAudit(ctx, input.ActorID, "sales:payment", orderID, map[string]any{"amount": input.Amount})
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

// applySale debits branch stock then batch remaining, both conditionally.
// The branch debit is the availability precondition: a batch the branch
// does not hold enough of fails here before the batch counter is touched.
func (s *Service) applySale(ctx context.Context, tx TxRepository, branchID, orderID, productID, batchID int64, qty float64) error {
	if _, err := tx.GetBatchForUpdate(ctx, batchID); err != nil {
		return err
	}
	debited, err := tx.DebitBranch(ctx, branchID, batchID, qty)
	if err != nil {
		return err
	}
	if !debited {
		return fmt.Errorf("batch %d at branch %d: %w", batchID, branchID, ErrInsufficientStock)
	}
	consumed, err := tx.ConsumeBatch(ctx, batchID, qty)
	if err != nil {
		return err
	}
	if !consumed {
		return fmt.Errorf("batch %d remaining too low: %w", batchID, ErrInsufficientStock)
	}
	return tx.InsertMovement(ctx, movements.Movement{
		ProductID: productID,
		BatchID:   batchID,
		BranchID:  branchID,
		Direction: movements.DirectionOut,
		Quantity:  qty,
		Reason:    movements.ReasonSale,
		RefModule: "SALES",
		RefID:     strconv.FormatInt(orderID, 10),
	})
}

// reverseSale credits the sold quantity back to the branch and the batch.
func (s *Service) reverseSale(ctx context.Context, tx TxRepository, branchID, orderID, productID, batchID int64, qty float64) error {
	if err := tx.CreditBranch(ctx, productID, branchID, batchID, qty); err != nil {
		return err
	}
	restored, err := tx.RestoreBatch(ctx, batchID, qty)
	if err != nil {
		return err
	}
	if !restored {
		return fmt.Errorf("batch %d cannot take back %.2f beyond received: %w", batchID, qty, ErrInvalidQuantity)
	}
	return tx.InsertMovement(ctx, movements.Movement{
		ProductID: productID,
		BatchID:   batchID,
		BranchID:  branchID,
		Direction: movements.DirectionIn,
		Quantity:  qty,
		Reason:    movements.ReasonSaleReversal,
		RefModule: "SALES",
		RefID:     strconv.FormatInt(orderID, 10),
	})
}

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
		Entity:   "sales_orders",
		EntityID: strconv.FormatInt(entityID, 10),
		Meta:     meta,
	})
}
