package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/atlas-dms/atlas-dms/internal/platform/httpx"
)

// Kind enumerates ledger entry kinds.
type Kind string

const (
	KindBookingPayment Kind = "BOOKING_PAYMENT"
	KindDebit          Kind = "DEBIT"
	KindCommission     Kind = "COMMISSION_PAYMENT"
	KindInsurance      Kind = "INSURANCE_PAYMENT"
)

// Channel enumerates payment channels.
type Channel string

const (
	ChannelCash     Channel = "CASH"
	ChannelBank     Channel = "BANK"
	ChannelExchange Channel = "EXCHANGE"
	ChannelFinance  Channel = "FINANCE_DISBURSEMENT"
	ChannelPayOrder Channel = "PAY_ORDER"
	ChannelPenalty  Channel = "PENALTY"
)

// ApprovalStatus tracks the approval state machine. Pending entries have zero
// booking-side effect until approved; the transition happens exactly once.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "PENDING"
	ApprovalApproved ApprovalStatus = "APPROVED"
	ApprovalRejected ApprovalStatus = "REJECTED"
)

// SourceKind records an entry's provenance.
type SourceKind string

const (
	// SourceDirect marks entries recorded straight against the booking.
	SourceDirect SourceKind = "DIRECT"
	// SourceOnAccount marks entries produced by allocating a pooled receipt.
	SourceOnAccount SourceKind = "ON_ACCOUNT"
)

// Entry is one recorded financial event against a booking.
type Entry struct {
	ID              uuid.UUID      `json:"id"`
	BookingID       int64          `json:"bookingId"`
	Kind            Kind           `json:"kind"`
	IsDebit         bool           `json:"isDebit"`
	Amount          float64        `json:"amount"`
	Channel         Channel        `json:"channel,omitempty"`
	CashLocation    string         `json:"cashLocation,omitempty"`
	BankID          int64          `json:"bankId,omitempty"`
	SubMode         string         `json:"subMode,omitempty"`
	Remark          string         `json:"remark,omitempty"`
	ApprovalStatus  ApprovalStatus `json:"approvalStatus"`
	ApprovedBy      int64          `json:"approvedBy,omitempty"`
	ApprovedAt      *time.Time     `json:"approvedAt,omitempty"`
	SourceKind      SourceKind     `json:"sourceKind"`
	SourceReceiptID uuid.UUID      `json:"sourceReceiptId,omitempty"`
	CreatedBy       int64          `json:"createdBy"`
	CreatedAt       time.Time      `json:"createdAt"`
}

// ChannelRef is the tagged reference a payment channel requires: cash
// entries name a cash location, bank-settled channels name a bank, penalty
// entries and anything debit- or allocation-sourced carry neither. Exactly
// one variant exists per shape, so the conditional required-ness lives in
// the variants instead of scattered per-field checks.
type ChannelRef interface {
	channel() Channel
	validate() error
	apply(*Entry)
}

// CashRef locates the cash drawer receiving a cash payment.
type CashRef struct {
	Location string
}

func (r CashRef) channel() Channel { return ChannelCash }

func (r CashRef) validate() error {
	if r.Location == "" {
		return fmt.Errorf("cash location required for cash payments: %w", httpx.ErrValidation)
	}
	return nil
}

func (r CashRef) apply(e *Entry) {
	e.CashLocation = r.Location
	e.BankID = 0
	e.SubMode = ""
}

// BankRef names the bank (and optional sub-payment-mode) settling a
// non-cash payment.
type BankRef struct {
	Via     Channel
	BankID  int64
	SubMode string
}

func (r BankRef) channel() Channel { return r.Via }

func (r BankRef) validate() error {
	switch r.Via {
	case ChannelBank, ChannelExchange, ChannelFinance, ChannelPayOrder:
	default:
		return fmt.Errorf("channel %q does not take a bank reference: %w", r.Via, httpx.ErrValidation)
	}
	if r.BankID == 0 {
		return fmt.Errorf("bank reference required for %s payments: %w", r.Via, httpx.ErrValidation)
	}
	if r.Via == ChannelBank && r.SubMode == "" {
		return fmt.Errorf("sub payment mode required for bank payments: %w", httpx.ErrValidation)
	}
	return nil
}

func (r BankRef) apply(e *Entry) {
	e.CashLocation = ""
	e.BankID = r.BankID
	e.SubMode = r.SubMode
}

// NoRef is the variant for entries that carry no channel reference: penalty
// charges, debit entries and on-account allocations.
type NoRef struct {
	Via Channel
}

func (r NoRef) channel() Channel { return r.Via }

func (r NoRef) validate() error { return nil }

func (r NoRef) apply(e *Entry) {
	e.CashLocation = ""
	e.BankID = 0
	e.SubMode = ""
}

// ChannelRefInput carries the raw reference fields from a request.
type ChannelRefInput struct {
	CashLocation string
	BankID       int64
	SubMode      string
}

// RefForChannel selects and validates the variant a channel requires.
func RefForChannel(ch Channel, in ChannelRefInput) (ChannelRef, error) {
	var ref ChannelRef
	switch ch {
	case ChannelCash:
		ref = CashRef{Location: in.CashLocation}
	case ChannelBank, ChannelExchange, ChannelFinance, ChannelPayOrder:
		ref = BankRef{Via: ch, BankID: in.BankID, SubMode: in.SubMode}
	case ChannelPenalty:
		ref = NoRef{Via: ch}
	default:
		return nil, fmt.Errorf("unknown payment channel %q: %w", ch, httpx.ErrValidation)
	}
	if err := ref.validate(); err != nil {
		return nil, err
	}
	return ref, nil
}

// Receipt is the printed money-receipt record generated when an entry
// becomes effective.
type Receipt struct {
	ID        uuid.UUID `json:"id"`
	Number    string    `json:"number"`
	EntryID   uuid.UUID `json:"entryId"`
	BookingID int64     `json:"bookingId"`
	Amount    float64   `json:"amount"`
	CreatedAt time.Time `json:"createdAt"`
}
