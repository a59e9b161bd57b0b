package transfers

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/caravel-erp/caravel-erp/internal/movements"
	"github.com/caravel-erp/caravel-erp/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Transfer, error)
	ListByBranch(ctx context.Context, branchID int64, limit int) ([]Transfer, error)
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

// Service coordinates branch transfers.
type Service struct {
	repo     RepositoryPort
	audit    AuditPort
	listings ListingInvalidator
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, listings ListingInvalidator) *Service {
	return &Service{repo: repo, audit: audit, listings: listings}
}

// Create posts a transfer. Every item's source debit, destination credit
// and movement pair commit with the header in one transaction; the first
// item whose source lacks stock aborts the whole transfer.
func (s *Service) Create(ctx context.Context, input CreateInput) (Transfer, error) {
	if input.FromBranchID == 0 || input.ToBranchID == 0 {
		return Transfer{}, fmt.Errorf("transfers: both branches required: %w", shared.ErrValidation)
	}
	if input.FromBranchID == input.ToBranchID {
		return Transfer{}, ErrSameBranch
	}
	if len(input.Items) == 0 {
		return Transfer{}, ErrNoItems
	}
	for _, item := range input.Items {
		if item.ProductID == 0 || item.BatchID == 0 {
			return Transfer{}, fmt.Errorf("transfers: item product and batch required: %w", shared.ErrValidation)
		}
		if item.Quantity <= 0 || !shared.WholeQuantity(item.Quantity) {
			return Transfer{}, ErrInvalidQuantity
		}
	}

	reference := "TRF-" + uuid.NewString()
	var created Transfer
	err := shared.WithRetry(ctx, conflictRetries, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			transferID, err := tx.InsertTransfer(ctx, Transfer{
				Reference:    reference,
				FromBranchID: input.FromBranchID,
				ToBranchID:   input.ToBranchID,
				Note:         input.Note,
				Status:       StatusCompleted,
				CreatedBy:    input.ActorID,
			})
			if err != nil {
				return err
			}

			items := make([]TransferItem, 0, len(input.Items))
			for _, item := range input.Items {
				if err := tx.EnsureStockRow(ctx, item.ProductID, input.FromBranchID, item.BatchID); err != nil {
					return err
				}
				debited, err := tx.DebitSource(ctx, input.FromBranchID, item.BatchID, item.Quantity)
				if err != nil {
					return err
				}
				if !debited {
					return fmt.Errorf("batch %d at branch %d: %w", item.BatchID, input.FromBranchID, ErrInsufficientStock)
				}
				if err := tx.CreditDestination(ctx, item.ProductID, input.ToBranchID, item.BatchID, item.Quantity); err != nil {
					return err
				}

				itemID, err := tx.InsertItem(ctx, TransferItem{
					TransferID: transferID,
					ProductID:  item.ProductID,
					BatchID:    item.BatchID,
					Quantity:   item.Quantity,
				})
				if err != nil {
					return err
				}
				items = append(items, TransferItem{
					ID:         itemID,
					TransferID: transferID,
					ProductID:  item.ProductID,
					BatchID:    item.BatchID,
					Quantity:   item.Quantity,
				})

				refID := strconv.FormatInt(transferID, 10)
				out := movements.Movement{
					ProductID: item.ProductID,
					BatchID:   item.BatchID,
					BranchID:  input.FromBranchID,
					Direction: movements.DirectionOut,
					Quantity:  item.Quantity,
					Reason:    movements.ReasonTransferOut,
					RefModule: "TRANSFER",
					RefID:     refID,
				}
				if err := tx.InsertMovement(ctx, out); err != nil {
					return err
				}
				in := out
				in.BranchID = input.ToBranchID
				in.Direction = movements.DirectionIn
				in.Reason = movements.ReasonTransferIn
				if err := tx.InsertMovement(ctx, in); err != nil {
					return err
				}
			}

			created = Transfer{
				ID:           transferID,
				Reference:    reference,
				FromBranchID: input.FromBranchID,
				ToBranchID:   input.ToBranchID,
				Note:         input.Note,
				Status:       StatusCompleted,
				CreatedBy:    input.ActorID,
				Items:        items,
			}
			return nil
		})
	})
	if err != nil {
		return Transfer{}, err
	}

	if s.listings != nil {
		s.listings.InvalidateListings(ctx)
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  input.ActorID,
			Action:   "transfer:create",
			Entity:   "branch_transfers",
			EntityID: strconv.FormatInt(created.ID, 10),
			Meta: map[string]any{
				"reference":   created.Reference,
				"from_branch": input.FromBranchID,
				"to_branch":   input.ToBranchID,
				"items":       len(created.Items),
			},
		})
	}
	return created, nil
}

// Get returns a transfer with items.
func (s *Service) Get(ctx context.Context, id int64) (Transfer, error) {
	if id == 0 {
		return Transfer{}, ErrTransferNotFound
	}
	return s.repo.Get(ctx, id)
}

// ListByBranch returns recent transfers touching a branch.
func (s *Service) ListByBranch(ctx context.Context, branchID int64, limit int) ([]Transfer, error) {
	if branchID == 0 {
		return nil, fmt.Errorf("transfers: branch required: %w", shared.ErrValidation)
	}
	return s.repo.ListByBranch(ctx, branchID, limit)
}
