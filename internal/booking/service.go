package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/atlas-dms/atlas-dms/internal/platform/db"
	"github.com/atlas-dms/atlas-dms/internal/platform/httpx"
)

// RepositoryPort defines data access methods for bookings.
type RepositoryPort interface {
	Create(ctx context.Context, input CreateInput) (*Booking, error)
	Get(ctx context.Context, id int64) (*Booking, error)
	GetFor(ctx context.Context, q db.Querier, id int64) (*Booking, error)
	UpdateAmounts(ctx context.Context, q db.Querier, id int64, received, balance float64, expectedVersion int64) error
	SetVehicle(ctx context.Context, q db.Querier, id, vehicleID int64) error
	FoldEntries(ctx context.Context, id int64) (credits, debits float64, err error)
	StatementRows(ctx context.Context, id int64) ([]StatementRow, error)
}

// Service maintains booking balances as a cache over approved ledger
// entries. Callers mutating amounts are expected to hold the per-booking
// lock for the whole record-validate-write sequence.
type Service struct {
	repo   RepositoryPort
	cache  *StatementCache
	logger *slog.Logger
}

// NewService builds a Service instance.
func NewService(repo RepositoryPort, cache *StatementCache, logger *slog.Logger) *Service {
	return &Service{repo: repo, cache: cache, logger: logger}
}

// Create registers a booking.
func (s *Service) Create(ctx context.Context, input CreateInput) (*Booking, error) {
	if input.Code == "" {
		return nil, fmt.Errorf("booking code required: %w", httpx.ErrValidation)
	}
	if input.DiscountedAmount <= 0 {
		return nil, fmt.Errorf("discounted amount must be positive: %w", httpx.ErrValidation)
	}
	switch input.Classification {
	case ClassIndividual:
	case ClassSubdealer:
		if input.SubdealerID == 0 {
			return nil, fmt.Errorf("subdealer required for subdealer booking: %w", httpx.ErrValidation)
		}
	default:
		return nil, fmt.Errorf("unknown classification %q: %w", input.Classification, httpx.ErrValidation)
	}
	return s.repo.Create(ctx, input)
}

// Get returns a booking by ID.
func (s *Service) Get(ctx context.Context, id int64) (*Booking, error) {
	return s.repo.Get(ctx, id)
}

// CreditOptions controls how a credit is applied.
type CreditOptions struct {
	// EnforceLimit rejects credits exceeding the outstanding balance. The
	// direct-receipt path enforces it; on-account allocation deliberately
	// does not, because sub-dealer floats may legitimately prepay.
	EnforceLimit bool
}

// ApplyCredit increments receivedAmount by amount and recomputes the balance.
func (s *Service) ApplyCredit(ctx context.Context, q db.Querier, id int64, amount float64, opts CreditOptions) (*Booking, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("credit amount must be positive: %w", httpx.ErrValidation)
	}
	return s.mutateAmounts(ctx, q, id, func(b *Booking) (float64, float64, error) {
		if opts.EnforceLimit && amount > b.BalanceAmount+driftEpsilon {
			return 0, 0, fmt.Errorf("amount %.2f exceeds balance %.2f: %w", amount, b.BalanceAmount, httpx.ErrBalanceExceeded)
		}
		received := round2(b.ReceivedAmount + amount)
		return received, round2(b.DiscountedAmount - received), nil
	})
}

// ReverseCredit backs a previously applied credit out, flooring the received
// amount at zero.
func (s *Service) ReverseCredit(ctx context.Context, q db.Querier, id int64, amount float64) (*Booking, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("reversal amount must be positive: %w", httpx.ErrValidation)
	}
	return s.mutateAmounts(ctx, q, id, func(b *Booking) (float64, float64, error) {
		received := round2(b.ReceivedAmount - amount)
		if received < 0 {
			received = 0
		}
		return received, round2(b.DiscountedAmount - received), nil
	})
}

// ApplyDebit increases the amount owed. Debits do not flow through
// receivedAmount.
func (s *Service) ApplyDebit(ctx context.Context, q db.Querier, id int64, amount float64) (*Booking, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("debit amount must be positive: %w", httpx.ErrValidation)
	}
	return s.mutateAmounts(ctx, q, id, func(b *Booking) (float64, float64, error) {
		return b.ReceivedAmount, round2(b.BalanceAmount + amount), nil
	})
}

// ApplyAmendment corrects the balance by the delta between an entry's old and
// new amount. The booking is never re-derived from scratch here.
func (s *Service) ApplyAmendment(ctx context.Context, q db.Querier, id int64, delta float64) (*Booking, error) {
	if delta == 0 {
		return s.repo.GetFor(ctx, q, id)
	}
	return s.mutateAmounts(ctx, q, id, func(b *Booking) (float64, float64, error) {
		received := round2(b.ReceivedAmount + delta)
		if received < 0 {
			received = 0
		}
		return received, round2(b.DiscountedAmount - received), nil
	})
}

// SetVehicle links the sold vehicle to the booking.
func (s *Service) SetVehicle(ctx context.Context, q db.Querier, id, vehicleID int64) error {
	return s.repo.SetVehicle(ctx, q, id, vehicleID)
}

// Reconcile folds the approved entries and compares the result against the
// cached aggregates, surfacing drift instead of silently trusting the cache.
func (s *Service) Reconcile(ctx context.Context, id int64) (*DriftReport, error) {
	b, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	credits, debits, err := s.repo.FoldEntries(ctx, id)
	if err != nil {
		return nil, err
	}
	derivedReceived := round2(credits)
	derivedBalance := round2(b.DiscountedAmount - credits + debits)
	report := &DriftReport{
		BookingID:       b.ID,
		CachedReceived:  b.ReceivedAmount,
		CachedBalance:   b.BalanceAmount,
		DerivedReceived: derivedReceived,
		DerivedBalance:  derivedBalance,
		Drifted:         !nearlyEqual(b.ReceivedAmount, derivedReceived) || !nearlyEqual(b.BalanceAmount, derivedBalance),
	}
	if report.Drifted && s.logger != nil {
		s.logger.Warn("booking balance drift detected",
			slog.Int64("booking_id", b.ID),
			slog.Float64("cached_received", b.ReceivedAmount),
			slog.Float64("derived_received", derivedReceived),
			slog.Float64("cached_balance", b.BalanceAmount),
			slog.Float64("derived_balance", derivedBalance),
		)
	}
	return report, nil
}

// mutateAmounts runs one conditional aggregate update, retrying a single time
// when a concurrent writer bumped the version between read and write.
func (s *Service) mutateAmounts(ctx context.Context, q db.Querier, id int64, compute func(*Booking) (received, balance float64, err error)) (*Booking, error) {
	b, err := s.repo.GetFor(ctx, q, id)
	if err != nil {
		return nil, err
	}
	for attempt := 0; ; attempt++ {
		received, balance, err := compute(b)
		if err != nil {
			return nil, err
		}
		err = s.repo.UpdateAmounts(ctx, q, id, received, balance, b.Version)
		if err == nil {
			b.ReceivedAmount = received
			b.BalanceAmount = balance
			b.Version++
			s.invalidateStatement(ctx, id)
			return b, nil
		}
		if !errors.Is(err, httpx.ErrVersionConflict) || attempt > 0 {
			return nil, err
		}
		b, err = s.repo.GetFor(ctx, q, id)
		if err != nil {
			return nil, err
		}
	}
}

func (s *Service) invalidateStatement(ctx context.Context, id int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, id); err != nil && s.logger != nil {
		s.logger.Warn("invalidate statement cache", slog.Int64("booking_id", id), slog.Any("error", err))
	}
}
