package commission

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// Rate is one row of the commission-rate table. Header groups vehicles into
// the category the rate applies to; a rate is live from EffectiveFrom until
// EffectiveTo, or open-ended when EffectiveTo is nil.
type Rate struct {
	ID            int64      `json:"id"`
	Header        string     `json:"header"`
	Percent       float64    `json:"percent"`
	EffectiveFrom time.Time  `json:"effectiveFrom"`
	EffectiveTo   *time.Time `json:"effectiveTo,omitempty"`
}

// ApplicableRate picks the rate for a header on a given date: the header
// must match, the date must fall inside the range, and among candidates the
// most recently effective one wins.
func ApplicableRate(rates []Rate, header string, on time.Time) (float64, bool) {
	var best *Rate
	for i := range rates {
		r := &rates[i]
		if r.Header != header {
			continue
		}
		if on.Before(r.EffectiveFrom) {
			continue
		}
		if r.EffectiveTo != nil && on.After(*r.EffectiveTo) {
			continue
		}
		if best == nil || r.EffectiveFrom.After(best.EffectiveFrom) {
			best = r
		}
	}
	if best == nil {
		return 0, false
	}
	return best.Percent, true
}

// SettleMode selects how a settlement pays out.
type SettleMode string

const (
	// ModeOnAccount seeds a pooled receipt with the commission amount and
	// marks the settlement paid immediately.
	ModeOnAccount SettleMode = "ON_ACCOUNT"
	// ModeLedgerDebit books a debit entry against a nominated booking and
	// leaves the settlement pending a later status update.
	ModeLedgerDebit SettleMode = "LEDGER_DEBIT"
)

// SettlementStatus tracks payout progress.
type SettlementStatus string

const (
	SettlementPending SettlementStatus = "PENDING"
	SettlementPaid    SettlementStatus = "PAID"
	SettlementFailed  SettlementStatus = "FAILED"
)

// Settlement is one sub-dealer commission payout for a calendar month.
type Settlement struct {
	ID          uuid.UUID        `json:"id"`
	SubdealerID int64            `json:"subdealerId"`
	Month       int              `json:"month"`
	Year        int              `json:"year"`
	Amount      float64          `json:"amount"`
	Mode        SettleMode       `json:"mode"`
	Status      SettlementStatus `json:"status"`
	ReceiptID   *uuid.UUID       `json:"receiptId,omitempty"`
	EntryID     *uuid.UUID       `json:"entryId,omitempty"`
	CreatedBy   int64            `json:"createdBy"`
	CreatedAt   time.Time        `json:"createdAt"`
	UpdatedAt   time.Time        `json:"updatedAt"`
}

// BookingComponent is the commissionable slice of one approved booking.
type BookingComponent struct {
	BookingID      int64   `json:"bookingId"`
	Header         string  `json:"header"`
	ComponentValue float64 `json:"componentValue"`
}

// ComputationLine is one booking's contribution to a computed commission.
type ComputationLine struct {
	BookingID      int64   `json:"bookingId"`
	ComponentValue float64 `json:"componentValue"`
	RatePercent    float64 `json:"ratePercent"`
	Commission     float64 `json:"commission"`
}

// Computation is the commission owed to a sub-dealer for a month.
type Computation struct {
	SubdealerID int64             `json:"subdealerId"`
	Month       int               `json:"month"`
	Year        int               `json:"year"`
	Total       float64           `json:"total"`
	Lines       []ComputationLine `json:"lines"`
	Skipped     []int64           `json:"skipped,omitempty"`
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}
