package booking

import (
	"math"
	"time"
)

// Classification distinguishes retail sales from sub-dealer sales.
type Classification string

const (
	ClassIndividual Classification = "INDIVIDUAL"
	ClassSubdealer  Classification = "SUBDEALER"
)

// Status enumerates booking lifecycle states.
type Status string

const (
	StatusDraft           Status = "DRAFT"
	StatusPendingApproval Status = "PENDING_APPROVAL"
	StatusApproved        Status = "APPROVED"
	StatusCompleted       Status = "COMPLETED"
	StatusRejected        Status = "REJECTED"
)

// Booking is one dealership sale. ReceivedAmount and BalanceAmount are an
// incrementally maintained cache over the booking's approved ledger entries;
// balance == discounted - received + sum(debits) is checked by Reconcile, not
// enforced by the database.
type Booking struct {
	ID               int64
	Code             string
	Classification   Classification
	Status           Status
	SubdealerID      int64
	ModelID          int64
	ColorID          int64
	DiscountedAmount float64
	ReceivedAmount   float64
	BalanceAmount    float64
	VehicleID        int64
	ChassisNo        string
	MotorNo          string
	BatteryNo        string
	EngineNo         string
	KeyNo            string
	ChargerNo        string
	Version          int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// CreateInput for registering a booking.
type CreateInput struct {
	Code             string
	Classification   Classification
	SubdealerID      int64
	ModelID          int64
	ColorID          int64
	DiscountedAmount float64
	ChassisNo        string
	MotorNo          string
	BatteryNo        string
	EngineNo         string
	KeyNo            string
	ChargerNo        string
}

// PaymentPercentage reports how much of the discounted amount is paid.
func (b *Booking) PaymentPercentage() float64 {
	if b == nil || b.DiscountedAmount <= 0 {
		return 0
	}
	return b.ReceivedAmount / b.DiscountedAmount * 100
}

// StatementRow is one effective ledger entry projected for the statement.
type StatementRow struct {
	At          time.Time
	Description string
	Debit       float64
	Credit      float64
}

// StatementLine is a statement row with its running balance.
type StatementLine struct {
	At          time.Time `json:"at"`
	Description string    `json:"description"`
	Debit       float64   `json:"debit"`
	Credit      float64   `json:"credit"`
	Balance     float64   `json:"balance"`
}

// Statement is the running-balance ledger report for one booking.
type Statement struct {
	BookingID int64           `json:"bookingId"`
	Code      string          `json:"code"`
	Lines     []StatementLine `json:"lines"`
	Closing   float64         `json:"closing"`
}

// DriftReport compares cached aggregates against a fold over the entries.
type DriftReport struct {
	BookingID       int64   `json:"bookingId"`
	CachedReceived  float64 `json:"cachedReceived"`
	CachedBalance   float64 `json:"cachedBalance"`
	DerivedReceived float64 `json:"derivedReceived"`
	DerivedBalance  float64 `json:"derivedBalance"`
	Drifted         bool    `json:"drifted"`
}

const driftEpsilon = 0.005

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}

func nearlyEqual(a, b float64) bool {
	return math.Abs(a-b) < driftEpsilon
}
