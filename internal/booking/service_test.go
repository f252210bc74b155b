package booking

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/atlas-dms/atlas-dms/internal/platform/db"
	"github.com/atlas-dms/atlas-dms/internal/platform/httpx"
)

type memoryRepo struct {
	bookings map[int64]*Booking
	nextID   int64

	credits float64
	debits  float64
	rows    []StatementRow

	// conflictsLeft makes UpdateAmounts fail with a version conflict the
	// given number of times before succeeding.
	conflictsLeft int
}

func newMemoryRepo(items ...*Booking) *memoryRepo {
	r := &memoryRepo{bookings: make(map[int64]*Booking), nextID: 1}
	for _, b := range items {
		r.bookings[b.ID] = b
		if b.ID >= r.nextID {
			r.nextID = b.ID + 1
		}
	}
	return r
}

func (r *memoryRepo) Create(ctx context.Context, input CreateInput) (*Booking, error) {
	b := &Booking{
		ID:               r.nextID,
		Code:             input.Code,
		Classification:   input.Classification,
		Status:           StatusApproved,
		SubdealerID:      input.SubdealerID,
		ModelID:          input.ModelID,
		ColorID:          input.ColorID,
		DiscountedAmount: input.DiscountedAmount,
		BalanceAmount:    input.DiscountedAmount,
		ChassisNo:        input.ChassisNo,
		CreatedAt:        time.Now(),
	}
	r.nextID++
	r.bookings[b.ID] = b
	out := *b
	return &out, nil
}

func (r *memoryRepo) Get(ctx context.Context, id int64) (*Booking, error) {
	b, ok := r.bookings[id]
	if !ok {
		return nil, fmt.Errorf("booking %d: %w", id, httpx.ErrNotFound)
	}
	out := *b
	return &out, nil
}

func (r *memoryRepo) GetFor(ctx context.Context, _ db.Querier, id int64) (*Booking, error) {
	return r.Get(ctx, id)
}

func (r *memoryRepo) UpdateAmounts(ctx context.Context, _ db.Querier, id int64, received, balance float64, expectedVersion int64) error {
	b, ok := r.bookings[id]
	if !ok {
		return fmt.Errorf("booking %d: %w", id, httpx.ErrNotFound)
	}
	if r.conflictsLeft > 0 {
		r.conflictsLeft--
		b.Version++
		return fmt.Errorf("booking %d version changed: %w", id, httpx.ErrVersionConflict)
	}
	if b.Version != expectedVersion {
		return fmt.Errorf("booking %d version changed: %w", id, httpx.ErrVersionConflict)
	}
	b.ReceivedAmount = received
	b.BalanceAmount = balance
	b.Version++
	return nil
}

func (r *memoryRepo) SetVehicle(ctx context.Context, _ db.Querier, id, vehicleID int64) error {
	b, ok := r.bookings[id]
	if !ok {
		return fmt.Errorf("booking %d: %w", id, httpx.ErrNotFound)
	}
	b.VehicleID = vehicleID
	return nil
}

func (r *memoryRepo) FoldEntries(ctx context.Context, id int64) (float64, float64, error) {
	return r.credits, r.debits, nil
}

func (r *memoryRepo) StatementRows(ctx context.Context, id int64) ([]StatementRow, error) {
	return r.rows, nil
}

func seedBooking() *Booking {
	return &Booking{
		ID:               1,
		Code:             "BKG-001",
		Classification:   ClassIndividual,
		Status:           StatusApproved,
		DiscountedAmount: 100000,
		BalanceAmount:    100000,
		CreatedAt:        time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func newTestService(repo *memoryRepo) *Service {
	return NewService(repo, nil, slog.Default())
}

func TestCreateValidation(t *testing.T) {
	svc := newTestService(newMemoryRepo())
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{Classification: ClassIndividual, DiscountedAmount: 1000})
	require.ErrorIs(t, err, httpx.ErrValidation)

	_, err = svc.Create(ctx, CreateInput{Code: "B-1", Classification: ClassIndividual})
	require.ErrorIs(t, err, httpx.ErrValidation)

	_, err = svc.Create(ctx, CreateInput{Code: "B-1", Classification: ClassSubdealer, DiscountedAmount: 1000})
	require.ErrorIs(t, err, httpx.ErrValidation)

	b, err := svc.Create(ctx, CreateInput{Code: "B-1", Classification: ClassSubdealer, SubdealerID: 7, DiscountedAmount: 1000})
	require.NoError(t, err)
	require.InDelta(t, 1000, b.BalanceAmount, 0.001)
}

func TestApplyCreditMaintainsInvariant(t *testing.T) {
	repo := newMemoryRepo(seedBooking())
	svc := newTestService(repo)
	ctx := context.Background()

	b, err := svc.ApplyCredit(ctx, nil, 1, 30000, CreditOptions{EnforceLimit: true})
	require.NoError(t, err)
	require.InDelta(t, 30000, b.ReceivedAmount, 0.001)
	require.InDelta(t, 70000, b.BalanceAmount, 0.001)
	require.InDelta(t, b.DiscountedAmount-b.ReceivedAmount, b.BalanceAmount, 0.001)

	_, err = svc.ApplyCredit(ctx, nil, 1, 70001, CreditOptions{EnforceLimit: true})
	require.ErrorIs(t, err, httpx.ErrBalanceExceeded)

	// Without enforcement the same credit goes through and the balance goes
	// negative.
	b, err = svc.ApplyCredit(ctx, nil, 1, 70001, CreditOptions{})
	require.NoError(t, err)
	require.InDelta(t, -1, b.BalanceAmount, 0.001)
}

func TestReverseCreditFloorsAtZero(t *testing.T) {
	repo := newMemoryRepo(seedBooking())
	svc := newTestService(repo)
	ctx := context.Background()

	_, err := svc.ApplyCredit(ctx, nil, 1, 10000, CreditOptions{EnforceLimit: true})
	require.NoError(t, err)

	b, err := svc.ReverseCredit(ctx, nil, 1, 25000)
	require.NoError(t, err)
	require.Zero(t, b.ReceivedAmount)
	require.InDelta(t, 100000, b.BalanceAmount, 0.001)
}

func TestApplyDebitLeavesReceivedAlone(t *testing.T) {
	repo := newMemoryRepo(seedBooking())
	svc := newTestService(repo)

	b, err := svc.ApplyDebit(context.Background(), nil, 1, 2500)
	require.NoError(t, err)
	require.Zero(t, b.ReceivedAmount)
	require.InDelta(t, 102500, b.BalanceAmount, 0.001)
}

func TestApplyAmendmentDelta(t *testing.T) {
	repo := newMemoryRepo(seedBooking())
	svc := newTestService(repo)
	ctx := context.Background()

	_, err := svc.ApplyCredit(ctx, nil, 1, 40000, CreditOptions{EnforceLimit: true})
	require.NoError(t, err)

	b, err := svc.ApplyAmendment(ctx, nil, 1, -5000)
	require.NoError(t, err)
	require.InDelta(t, 35000, b.ReceivedAmount, 0.001)
	require.InDelta(t, 65000, b.BalanceAmount, 0.001)
}

func TestMutateAmountsRetriesOnceOnConflict(t *testing.T) {
	repo := newMemoryRepo(seedBooking())
	repo.conflictsLeft = 1
	svc := newTestService(repo)

	b, err := svc.ApplyCredit(context.Background(), nil, 1, 5000, CreditOptions{EnforceLimit: true})
	require.NoError(t, err)
	require.InDelta(t, 5000, b.ReceivedAmount, 0.001)

	repo.conflictsLeft = 2
	_, err = svc.ApplyCredit(context.Background(), nil, 1, 5000, CreditOptions{EnforceLimit: true})
	require.ErrorIs(t, err, httpx.ErrVersionConflict)
}

func TestReconcileDetectsDrift(t *testing.T) {
	repo := newMemoryRepo(seedBooking())
	svc := newTestService(repo)
	ctx := context.Background()

	_, err := svc.ApplyCredit(ctx, nil, 1, 60000, CreditOptions{EnforceLimit: true})
	require.NoError(t, err)

	repo.credits = 60000
	report, err := svc.Reconcile(ctx, 1)
	require.NoError(t, err)
	require.False(t, report.Drifted)
	require.InDelta(t, 60000, report.DerivedReceived, 0.001)
	require.InDelta(t, 40000, report.DerivedBalance, 0.001)

	// A debit the cache never saw.
	repo.debits = 1500
	report, err = svc.Reconcile(ctx, 1)
	require.NoError(t, err)
	require.True(t, report.Drifted)
	require.InDelta(t, 41500, report.DerivedBalance, 0.001)
}
