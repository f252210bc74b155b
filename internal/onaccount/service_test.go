package onaccount

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/atlas-dms/atlas-dms/internal/booking"
	"github.com/atlas-dms/atlas-dms/internal/ledger"
	"github.com/atlas-dms/atlas-dms/internal/platform/db"
	"github.com/atlas-dms/atlas-dms/internal/platform/httpx"
)

type memoryRepo struct {
	receipts map[uuid.UUID]*Receipt
}

func newMemoryRepo(items ...*Receipt) *memoryRepo {
	r := &memoryRepo{receipts: make(map[uuid.UUID]*Receipt)}
	for _, receipt := range items {
		r.receipts[receipt.ID] = receipt
	}
	return r
}

func (r *memoryRepo) CreateReceipt(ctx context.Context, input CreateReceiptInput) (*Receipt, error) {
	for _, existing := range r.receipts {
		if existing.SubdealerID == input.SubdealerID && existing.RefNumber == input.RefNumber {
			return nil, fmt.Errorf("receipt %s exists for subdealer %d: %w", input.RefNumber, input.SubdealerID, httpx.ErrDuplicate)
		}
	}
	receipt := &Receipt{
		ID:           uuid.New(),
		SubdealerID:  input.SubdealerID,
		RefNumber:    input.RefNumber,
		Amount:       input.Amount,
		Status:       StatusOpen,
		Channel:      input.Channel,
		CashLocation: input.CashLocation,
		BankID:       input.BankID,
		SubMode:      input.SubMode,
		CreatedBy:    input.ActorID,
		CreatedAt:    time.Now(),
	}
	r.receipts[receipt.ID] = receipt
	out := *receipt
	return &out, nil
}

func (r *memoryRepo) Get(ctx context.Context, id uuid.UUID) (*Receipt, error) {
	receipt, ok := r.receipts[id]
	if !ok {
		return nil, fmt.Errorf("receipt %s: %w", id, httpx.ErrNotFound)
	}
	out := *receipt
	out.Allocations = append([]Allocation(nil), receipt.Allocations...)
	return &out, nil
}

func (r *memoryRepo) ListBySubdealer(ctx context.Context, subdealerID int64) ([]Receipt, error) {
	var out []Receipt
	for _, receipt := range r.receipts {
		if receipt.SubdealerID == subdealerID {
			out = append(out, *receipt)
		}
	}
	return out, nil
}

func (r *memoryRepo) UpdateAllocationState(ctx context.Context, _ db.Querier, id uuid.UUID, allocatedTotal float64, status Status, closedAt *time.Time, closedBy int64, expectedVersion int64) error {
	receipt, ok := r.receipts[id]
	if !ok {
		return fmt.Errorf("receipt %s: %w", id, httpx.ErrNotFound)
	}
	if receipt.Version != expectedVersion {
		return fmt.Errorf("receipt %s version changed: %w", id, httpx.ErrVersionConflict)
	}
	receipt.AllocatedTotal = allocatedTotal
	receipt.Status = status
	receipt.ClosedAt = closedAt
	receipt.ClosedBy = closedBy
	receipt.Version++
	return nil
}

func (r *memoryRepo) InsertAllocation(ctx context.Context, _ db.Querier, a *Allocation) error {
	receipt, ok := r.receipts[a.ReceiptID]
	if !ok {
		return fmt.Errorf("receipt %s: %w", a.ReceiptID, httpx.ErrNotFound)
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.At = time.Now()
	receipt.Allocations = append(receipt.Allocations, *a)
	return nil
}

func (r *memoryRepo) DeleteAllocation(ctx context.Context, _ db.Querier, id uuid.UUID) error {
	for _, receipt := range r.receipts {
		for i := range receipt.Allocations {
			if receipt.Allocations[i].ID == id {
				receipt.Allocations = append(receipt.Allocations[:i], receipt.Allocations[i+1:]...)
				return nil
			}
		}
	}
	return fmt.Errorf("allocation %s: %w", id, httpx.ErrNotFound)
}

type memoryBookings struct {
	bookings map[int64]*booking.Booking
}

func newMemoryBookings(items ...*booking.Booking) *memoryBookings {
	m := &memoryBookings{bookings: make(map[int64]*booking.Booking)}
	for _, b := range items {
		m.bookings[b.ID] = b
	}
	return m
}

func (m *memoryBookings) Get(ctx context.Context, id int64) (*booking.Booking, error) {
	b, ok := m.bookings[id]
	if !ok {
		return nil, fmt.Errorf("booking %d: %w", id, httpx.ErrNotFound)
	}
	out := *b
	return &out, nil
}

func (m *memoryBookings) ApplyCredit(ctx context.Context, _ db.Querier, id int64, amount float64, opts booking.CreditOptions) (*booking.Booking, error) {
	b, ok := m.bookings[id]
	if !ok {
		return nil, fmt.Errorf("booking %d: %w", id, httpx.ErrNotFound)
	}
	if opts.EnforceLimit && amount > b.BalanceAmount+1e-9 {
		return nil, fmt.Errorf("amount exceeds balance: %w", httpx.ErrBalanceExceeded)
	}
	b.ReceivedAmount += amount
	b.BalanceAmount -= amount
	out := *b
	return &out, nil
}

func (m *memoryBookings) ReverseCredit(ctx context.Context, _ db.Querier, id int64, amount float64) (*booking.Booking, error) {
	b, ok := m.bookings[id]
	if !ok {
		return nil, fmt.Errorf("booking %d: %w", id, httpx.ErrNotFound)
	}
	b.ReceivedAmount -= amount
	if b.ReceivedAmount < 0 {
		b.ReceivedAmount = 0
	}
	b.BalanceAmount = b.DiscountedAmount - b.ReceivedAmount
	out := *b
	return &out, nil
}

type memoryLedger struct {
	entries map[uuid.UUID]*ledger.Entry
}

func newMemoryLedger() *memoryLedger {
	return &memoryLedger{entries: make(map[uuid.UUID]*ledger.Entry)}
}

func (m *memoryLedger) CreateFromAllocation(ctx context.Context, _ db.Querier, bookingID int64, amount float64, remark string, receiptID uuid.UUID, actorID int64) (*ledger.Entry, error) {
	entry := &ledger.Entry{
		ID:              uuid.New(),
		BookingID:       bookingID,
		Kind:            ledger.KindBookingPayment,
		Amount:          amount,
		Remark:          remark,
		ApprovalStatus:  ledger.ApprovalApproved,
		SourceKind:      ledger.SourceOnAccount,
		SourceReceiptID: receiptID,
		CreatedBy:       actorID,
	}
	m.entries[entry.ID] = entry
	out := *entry
	return &out, nil
}

func (m *memoryLedger) DeleteEntry(ctx context.Context, _ db.Querier, id uuid.UUID) error {
	delete(m.entries, id)
	return nil
}

type directRunner struct{}

func (directRunner) Atomic(ctx context.Context, op string, fn func(db.Querier) error) error {
	return fn(nil)
}

func subdealerBooking(id int64) *booking.Booking {
	return &booking.Booking{
		ID:               id,
		Code:             fmt.Sprintf("BKG-%03d", id),
		Classification:   booking.ClassSubdealer,
		Status:           booking.StatusApproved,
		SubdealerID:      7,
		DiscountedAmount: 50000,
		BalanceAmount:    50000,
	}
}

func seedReceipt(amount float64) *Receipt {
	return &Receipt{
		ID:          uuid.New(),
		SubdealerID: 7,
		RefNumber:   "POOL-001",
		Amount:      amount,
		Status:      StatusOpen,
		Channel:     ledger.ChannelBank,
		BankID:      4,
		SubMode:     "RTGS",
	}
}

func newTestService(repo *memoryRepo, bookings *memoryBookings, entries *memoryLedger) *Service {
	return NewService(repo, bookings, entries, directRunner{}, nil, nil, slog.Default())
}

func TestCreateReceiptValidation(t *testing.T) {
	svc := newTestService(newMemoryRepo(), newMemoryBookings(), newMemoryLedger())
	ctx := context.Background()

	_, err := svc.CreateReceipt(ctx, CreateReceiptInput{RefNumber: "R", Amount: 100, Channel: ledger.ChannelCash, CashLocation: "MAIN"})
	require.ErrorIs(t, err, httpx.ErrValidation)

	_, err = svc.CreateReceipt(ctx, CreateReceiptInput{SubdealerID: 7, Amount: 100, Channel: ledger.ChannelCash, CashLocation: "MAIN"})
	require.ErrorIs(t, err, httpx.ErrValidation)

	_, err = svc.CreateReceipt(ctx, CreateReceiptInput{SubdealerID: 7, RefNumber: "R", Amount: 100, Channel: ledger.ChannelBank})
	require.ErrorIs(t, err, httpx.ErrValidation)

	receipt, err := svc.CreateReceipt(ctx, CreateReceiptInput{SubdealerID: 7, RefNumber: "R", Amount: 100, Channel: ledger.ChannelBank, BankID: 4, SubMode: "RTGS"})
	require.NoError(t, err)
	require.Equal(t, StatusOpen, receipt.Status)
}

func TestCreateReceiptDuplicateRefNumber(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, newMemoryBookings(), newMemoryLedger())
	ctx := context.Background()

	first := CreateReceiptInput{SubdealerID: 7, RefNumber: "POOL-009", Amount: 40000, Channel: ledger.ChannelBank, BankID: 4, SubMode: "RTGS"}
	_, err := svc.CreateReceipt(ctx, first)
	require.NoError(t, err)

	// Same subdealer and reference collide even when amount and channel differ.
	dup := first
	dup.Amount = 55000
	dup.Channel = ledger.ChannelCash
	dup.CashLocation = "MAIN"
	_, err = svc.CreateReceipt(ctx, dup)
	require.ErrorIs(t, err, httpx.ErrDuplicate)
	require.Len(t, repo.receipts, 1)

	// Another subdealer may reuse the reference.
	other := first
	other.SubdealerID = 8
	_, err = svc.CreateReceipt(ctx, other)
	require.NoError(t, err)
}

func TestAllocateBatchTransitions(t *testing.T) {
	receipt := seedReceipt(80000)
	repo := newMemoryRepo(receipt)
	bookings := newMemoryBookings(subdealerBooking(1), subdealerBooking(2))
	entries := newMemoryLedger()
	svc := newTestService(repo, bookings, entries)
	ctx := context.Background()

	updated, err := svc.Allocate(ctx, receipt.ID, []AllocationRequest{
		{BookingID: 1, Amount: 30000},
	}, 9)
	require.NoError(t, err)
	require.Equal(t, StatusPartial, updated.Status)
	require.InDelta(t, 30000, updated.AllocatedTotal, 0.001)
	require.InDelta(t, 50000, updated.Remaining(), 0.001)
	require.Len(t, updated.Allocations, 1)
	require.Len(t, entries.entries, 1)

	b, err := bookings.Get(ctx, 1)
	require.NoError(t, err)
	require.InDelta(t, 30000, b.ReceivedAmount, 0.001)

	updated, err = svc.Allocate(ctx, receipt.ID, []AllocationRequest{
		{BookingID: 1, Amount: 20000},
		{BookingID: 2, Amount: 30000},
	}, 9)
	require.NoError(t, err)
	require.Equal(t, StatusClosed, updated.Status)
	require.NotNil(t, updated.ClosedAt)
	require.Equal(t, int64(9), updated.ClosedBy)
	require.Zero(t, updated.Remaining())

	// Allocating against a closed receipt fails.
	_, err = svc.Allocate(ctx, receipt.ID, []AllocationRequest{{BookingID: 2, Amount: 1}}, 9)
	require.ErrorIs(t, err, httpx.ErrInvalidState)
}

func TestAllocateOverdrawRejectedBeforeAnyWrite(t *testing.T) {
	receipt := seedReceipt(40000)
	repo := newMemoryRepo(receipt)
	bookings := newMemoryBookings(subdealerBooking(1), subdealerBooking(2))
	entries := newMemoryLedger()
	svc := newTestService(repo, bookings, entries)

	_, err := svc.Allocate(context.Background(), receipt.ID, []AllocationRequest{
		{BookingID: 1, Amount: 25000},
		{BookingID: 2, Amount: 25000},
	}, 9)
	require.ErrorIs(t, err, httpx.ErrInsufficientBalance)
	require.Empty(t, entries.entries)
	require.Equal(t, StatusOpen, repo.receipts[receipt.ID].Status)
}

func TestAllocateRejectsForeignBookings(t *testing.T) {
	receipt := seedReceipt(40000)
	retail := subdealerBooking(1)
	retail.Classification = booking.ClassIndividual
	other := subdealerBooking(2)
	other.SubdealerID = 99
	repo := newMemoryRepo(receipt)
	bookings := newMemoryBookings(retail, other)
	entries := newMemoryLedger()
	svc := newTestService(repo, bookings, entries)
	ctx := context.Background()

	_, err := svc.Allocate(ctx, receipt.ID, []AllocationRequest{{BookingID: 1, Amount: 100}}, 9)
	require.ErrorIs(t, err, httpx.ErrValidation)

	_, err = svc.Allocate(ctx, receipt.ID, []AllocationRequest{{BookingID: 2, Amount: 100}}, 9)
	require.ErrorIs(t, err, httpx.ErrValidation)
	require.Empty(t, entries.entries)
}

func TestAllocateBypassesOverpayGuard(t *testing.T) {
	receipt := seedReceipt(80000)
	small := subdealerBooking(1)
	small.DiscountedAmount = 10000
	small.BalanceAmount = 10000
	repo := newMemoryRepo(receipt)
	bookings := newMemoryBookings(small)
	svc := newTestService(repo, bookings, newMemoryLedger())
	ctx := context.Background()

	_, err := svc.Allocate(ctx, receipt.ID, []AllocationRequest{{BookingID: 1, Amount: 15000}}, 9)
	require.NoError(t, err)

	b, err := bookings.Get(ctx, 1)
	require.NoError(t, err)
	require.InDelta(t, 15000, b.ReceivedAmount, 0.001)
	require.InDelta(t, -5000, b.BalanceAmount, 0.001)
}

func TestDeallocateReopensClosedReceipt(t *testing.T) {
	receipt := seedReceipt(30000)
	repo := newMemoryRepo(receipt)
	bookings := newMemoryBookings(subdealerBooking(1))
	entries := newMemoryLedger()
	svc := newTestService(repo, bookings, entries)
	ctx := context.Background()

	closed, err := svc.Allocate(ctx, receipt.ID, []AllocationRequest{{BookingID: 1, Amount: 30000}}, 9)
	require.NoError(t, err)
	require.Equal(t, StatusClosed, closed.Status)

	reopened, err := svc.Deallocate(ctx, receipt.ID, closed.Allocations[0].ID, 9)
	require.NoError(t, err)
	require.Equal(t, StatusOpen, reopened.Status)
	require.Zero(t, reopened.AllocatedTotal)
	require.Nil(t, reopened.ClosedAt)
	require.Zero(t, reopened.ClosedBy)
	require.Empty(t, reopened.Allocations)
	require.Empty(t, entries.entries)

	b, err := bookings.Get(ctx, 1)
	require.NoError(t, err)
	require.Zero(t, b.ReceivedAmount)
	require.InDelta(t, 50000, b.BalanceAmount, 0.001)
}

func TestDeallocateUnknownAllocation(t *testing.T) {
	receipt := seedReceipt(30000)
	repo := newMemoryRepo(receipt)
	svc := newTestService(repo, newMemoryBookings(), newMemoryLedger())

	_, err := svc.Deallocate(context.Background(), receipt.ID, uuid.New(), 9)
	require.ErrorIs(t, err, httpx.ErrNotFound)
}
