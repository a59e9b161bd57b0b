// Package movements keeps the append-only stock movement trail.
package movements

import "time"

// Direction marks which way quantity moved.
type Direction string

const (
	// DirectionIn represents quantity entering a branch.
	DirectionIn Direction = "IN"
	// DirectionOut represents quantity leaving a branch.
	DirectionOut Direction = "OUT"
)

// Reason classifies why a movement happened.
type Reason string

const (
	ReasonReceipt         Reason = "RECEIPT"
	ReasonReceiptReversal Reason = "RECEIPT_REVERSAL"
	ReasonSale            Reason = "SALE"
	ReasonSaleReversal    Reason = "SALE_REVERSAL"
	ReasonTransferOut     Reason = "TRANSFER_OUT"
	ReasonTransferIn      Reason = "TRANSFER_IN"
	ReasonAdjustment      Reason = "ADJUSTMENT"
)

// Movement is one immutable quantity change. Rows are only ever inserted;
// the trail is what reconstructs batch and branch state after incidents.
type Movement struct {
	ID         int64     `json:"id"`
	ProductID  int64     `json:"product_id"`
	BatchID    int64     `json:"batch_id"`
	BranchID   int64     `json:"branch_id"`
	Direction  Direction `json:"direction"`
	Quantity   float64   `json:"quantity"`
	Reason     Reason    `json:"reason"`
	RefModule  string    `json:"ref_module"`
	RefID      string    `json:"ref_id,omitempty"`
	Note       string    `json:"note,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Filter narrows movement listings.
type Filter struct {
	ProductID int64
	BatchID   int64
	BranchID  int64
	Limit     int
}
