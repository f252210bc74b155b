package onaccount

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/atlas-dms/atlas-dms/internal/ledger"
)

// Status of a pooled receipt, a pure function of allocatedTotal vs amount.
type Status string

const (
	StatusOpen    Status = "OPEN"
	StatusPartial Status = "PARTIAL"
	StatusClosed  Status = "CLOSED"
)

// StatusFor derives the receipt status from its allocation totals.
func StatusFor(allocatedTotal, amount float64) Status {
	switch {
	case allocatedTotal <= 0:
		return StatusOpen
	case allocatedTotal >= amount:
		return StatusClosed
	default:
		return StatusPartial
	}
}

// Receipt is a pooled payment received from a sub-dealer that is not yet
// tied to a booking. Its funds are drawn down by allocations over time.
type Receipt struct {
	ID             uuid.UUID      `json:"id"`
	SubdealerID    int64          `json:"subdealerId"`
	RefNumber      string         `json:"refNumber"`
	Amount         float64        `json:"amount"`
	AllocatedTotal float64        `json:"allocatedTotal"`
	Status         Status         `json:"status"`
	Channel        ledger.Channel `json:"channel"`
	CashLocation   string         `json:"cashLocation,omitempty"`
	BankID         int64          `json:"bankId,omitempty"`
	SubMode        string         `json:"subMode,omitempty"`
	ClosedAt       *time.Time     `json:"closedAt,omitempty"`
	ClosedBy       int64          `json:"closedBy,omitempty"`
	Version        int64          `json:"-"`
	CreatedBy      int64          `json:"createdBy"`
	CreatedAt      time.Time      `json:"createdAt"`
	Allocations    []Allocation   `json:"allocations"`
}

// Remaining reports the unallocated portion of the receipt.
func (r *Receipt) Remaining() float64 {
	if r == nil {
		return 0
	}
	return round2(r.Amount - r.AllocatedTotal)
}

// Allocation assigns part of a receipt's funds to one booking. EntryID
// references the ledger entry the allocation produced.
type Allocation struct {
	ID        uuid.UUID `json:"id"`
	ReceiptID uuid.UUID `json:"receiptId"`
	BookingID int64     `json:"bookingId"`
	Amount    float64   `json:"amount"`
	EntryID   uuid.UUID `json:"entryId"`
	ActorID   int64     `json:"actorId"`
	At        time.Time `json:"at"`
}

// CreateReceiptInput registers a pooled receipt.
type CreateReceiptInput struct {
	SubdealerID  int64
	RefNumber    string
	Amount       float64
	Channel      ledger.Channel
	CashLocation string
	BankID       int64
	SubMode      string
	ActorID      int64
}

// AllocationRequest is one line of an allocation batch.
type AllocationRequest struct {
	BookingID int64
	Amount    float64
	Remark    string
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}
