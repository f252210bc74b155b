package commission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/atlas-dms/atlas-dms/internal/ledger"
	"github.com/atlas-dms/atlas-dms/internal/onaccount"
	"github.com/atlas-dms/atlas-dms/internal/platform/httpx"
)

type memoryRepo struct {
	rates         []Rate
	components    []BookingComponent
	settlements   map[uuid.UUID]*Settlement
	findActiveErr error
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{settlements: make(map[uuid.UUID]*Settlement)}
}

func (r *memoryRepo) ListRates(ctx context.Context) ([]Rate, error) {
	return r.rates, nil
}

func (r *memoryRepo) BookingComponents(ctx context.Context, subdealerID int64, month, year int) ([]BookingComponent, error) {
	return r.components, nil
}

func (r *memoryRepo) FindActive(ctx context.Context, subdealerID int64, month, year int) (*Settlement, error) {
	if r.findActiveErr != nil {
		return nil, r.findActiveErr
	}
	for _, s := range r.settlements {
		if s.SubdealerID == subdealerID && s.Month == month && s.Year == year && s.Status != SettlementFailed {
			out := *s
			return &out, nil
		}
	}
	return nil, fmt.Errorf("no active settlement: %w", httpx.ErrNotFound)
}

func (r *memoryRepo) Get(ctx context.Context, id uuid.UUID) (*Settlement, error) {
	s, ok := r.settlements[id]
	if !ok {
		return nil, fmt.Errorf("settlement %s: %w", id, httpx.ErrNotFound)
	}
	out := *s
	return &out, nil
}

func (r *memoryRepo) Create(ctx context.Context, s *Settlement) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	s.CreatedAt = time.Now()
	s.UpdatedAt = s.CreatedAt
	stored := *s
	r.settlements[s.ID] = &stored
	return nil
}

func (r *memoryRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status SettlementStatus) error {
	s, ok := r.settlements[id]
	if !ok {
		return fmt.Errorf("settlement %s: %w", id, httpx.ErrNotFound)
	}
	if s.Status != SettlementPending {
		return fmt.Errorf("settlement %s is %s: %w", id, s.Status, httpx.ErrInvalidState)
	}
	s.Status = status
	s.UpdatedAt = time.Now()
	return nil
}

type memoryReceipts struct {
	created []onaccount.CreateReceiptInput
}

func (m *memoryReceipts) CreateReceipt(ctx context.Context, input onaccount.CreateReceiptInput) (*onaccount.Receipt, error) {
	if _, err := ledger.RefForChannel(input.Channel, ledger.ChannelRefInput{
		CashLocation: input.CashLocation,
		BankID:       input.BankID,
		SubMode:      input.SubMode,
	}); err != nil {
		return nil, err
	}
	m.created = append(m.created, input)
	return &onaccount.Receipt{
		ID:          uuid.New(),
		SubdealerID: input.SubdealerID,
		RefNumber:   input.RefNumber,
		Amount:      input.Amount,
		Status:      onaccount.StatusOpen,
	}, nil
}

type memoryDebits struct {
	inputs []ledger.DebitInput
}

func (m *memoryDebits) RecordDebit(ctx context.Context, input ledger.DebitInput) (*ledger.PaymentResult, error) {
	m.inputs = append(m.inputs, input)
	return &ledger.PaymentResult{
		Entry: &ledger.Entry{ID: uuid.New(), BookingID: input.BookingID, IsDebit: true, Amount: input.Amount},
	}, nil
}

func newTestService(repo *memoryRepo, receipts *memoryReceipts, debits *memoryDebits) *Service {
	return NewService(repo, receipts, debits, nil, slog.Default())
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func seedRates() []Rate {
	old := date(2026, time.June, 1)
	oldEnd := date(2026, time.June, 30)
	return []Rate{
		{ID: 1, Header: "SCOOTER", Percent: 2.0, EffectiveFrom: date(2025, time.January, 1)},
		{ID: 2, Header: "SCOOTER", Percent: 2.5, EffectiveFrom: date(2026, time.March, 1)},
		{ID: 3, Header: "BIKE", Percent: 3.0, EffectiveFrom: old, EffectiveTo: &oldEnd},
	}
}

func TestApplicableRatePicksMostRecent(t *testing.T) {
	rates := seedRates()

	pct, ok := ApplicableRate(rates, "SCOOTER", date(2026, time.February, 1))
	require.True(t, ok)
	require.InDelta(t, 2.0, pct, 0.001)

	pct, ok = ApplicableRate(rates, "SCOOTER", date(2026, time.April, 1))
	require.True(t, ok)
	require.InDelta(t, 2.5, pct, 0.001)

	// Expired window.
	_, ok = ApplicableRate(rates, "BIKE", date(2026, time.August, 1))
	require.False(t, ok)

	pct, ok = ApplicableRate(rates, "BIKE", date(2026, time.June, 15))
	require.True(t, ok)
	require.InDelta(t, 3.0, pct, 0.001)

	_, ok = ApplicableRate(rates, "CAR", date(2026, time.June, 15))
	require.False(t, ok)
}

func TestComputeTotalsAndSkips(t *testing.T) {
	repo := newMemoryRepo()
	repo.rates = seedRates()
	repo.components = []BookingComponent{
		{BookingID: 1, Header: "SCOOTER", ComponentValue: 100000},
		{BookingID: 2, Header: "SCOOTER", ComponentValue: 40000},
		{BookingID: 3, Header: "CAR", ComponentValue: 90000},
	}
	svc := newTestService(repo, &memoryReceipts{}, &memoryDebits{})

	result, err := svc.Compute(context.Background(), 7, 4, 2026)
	require.NoError(t, err)
	require.Len(t, result.Lines, 2)
	require.Equal(t, []int64{3}, result.Skipped)
	require.InDelta(t, 2500, result.Lines[0].Commission, 0.001)
	require.InDelta(t, 1000, result.Lines[1].Commission, 0.001)
	require.InDelta(t, 3500, result.Total, 0.001)
}

func TestSettleOnAccountSeedsReceipt(t *testing.T) {
	repo := newMemoryRepo()
	repo.rates = seedRates()
	repo.components = []BookingComponent{{BookingID: 1, Header: "SCOOTER", ComponentValue: 100000}}
	receipts := &memoryReceipts{}
	svc := newTestService(repo, receipts, &memoryDebits{})

	settlement, err := svc.Settle(context.Background(), SettleInput{
		SubdealerID: 7,
		Month:       4,
		Year:        2026,
		Mode:        ModeOnAccount,
		BankID:      3,
		ActorID:     9,
	})
	require.NoError(t, err)
	require.Equal(t, SettlementPaid, settlement.Status)
	require.NotNil(t, settlement.ReceiptID)
	require.Nil(t, settlement.EntryID)
	require.InDelta(t, 2500, settlement.Amount, 0.001)

	require.Len(t, receipts.created, 1)
	require.Equal(t, "COMM-7-202604", receipts.created[0].RefNumber)
	require.Equal(t, ledger.ChannelPayOrder, receipts.created[0].Channel)
	require.Equal(t, int64(3), receipts.created[0].BankID)
}

func TestSettleOnAccountRequiresBank(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, &memoryReceipts{}, &memoryDebits{})

	_, err := svc.Settle(context.Background(), SettleInput{
		SubdealerID: 7,
		Month:       4,
		Year:        2026,
		Mode:        ModeOnAccount,
		ActorID:     9,
	})
	require.ErrorIs(t, err, httpx.ErrValidation)
}

func TestSettleLedgerDebitStaysPending(t *testing.T) {
	repo := newMemoryRepo()
	repo.rates = seedRates()
	repo.components = []BookingComponent{{BookingID: 1, Header: "SCOOTER", ComponentValue: 100000}}
	debits := &memoryDebits{}
	svc := newTestService(repo, &memoryReceipts{}, debits)
	ctx := context.Background()

	_, err := svc.Settle(ctx, SettleInput{
		SubdealerID: 7,
		Month:       4,
		Year:        2026,
		Mode:        ModeLedgerDebit,
		ActorID:     9,
	})
	require.ErrorIs(t, err, httpx.ErrValidation)

	settlement, err := svc.Settle(ctx, SettleInput{
		SubdealerID: 7,
		Month:       4,
		Year:        2026,
		Mode:        ModeLedgerDebit,
		BookingID:   42,
		ActorID:     9,
	})
	require.NoError(t, err)
	require.Equal(t, SettlementPending, settlement.Status)
	require.NotNil(t, settlement.EntryID)
	require.Nil(t, settlement.ReceiptID)

	require.Len(t, debits.inputs, 1)
	require.Equal(t, int64(42), debits.inputs[0].BookingID)
	require.InDelta(t, 2500, debits.inputs[0].Amount, 0.001)
}

func TestSettleRejectsDuplicateMonth(t *testing.T) {
	repo := newMemoryRepo()
	repo.rates = seedRates()
	repo.components = []BookingComponent{{BookingID: 1, Header: "SCOOTER", ComponentValue: 100000}}
	svc := newTestService(repo, &memoryReceipts{}, &memoryDebits{})
	ctx := context.Background()

	input := SettleInput{SubdealerID: 7, Month: 4, Year: 2026, Mode: ModeOnAccount, BankID: 3, ActorID: 9}
	_, err := svc.Settle(ctx, input)
	require.NoError(t, err)

	_, err = svc.Settle(ctx, input)
	require.ErrorIs(t, err, httpx.ErrDuplicate)
}

func TestSettlePropagatesDuplicateLookupFailure(t *testing.T) {
	repo := newMemoryRepo()
	repo.rates = seedRates()
	repo.components = []BookingComponent{{BookingID: 1, Header: "SCOOTER", ComponentValue: 100000}}
	repo.findActiveErr = errors.New("connection refused")
	svc := newTestService(repo, &memoryReceipts{}, &memoryDebits{})

	_, err := svc.Settle(context.Background(), SettleInput{
		SubdealerID: 7,
		Month:       4,
		Year:        2026,
		Mode:        ModeOnAccount,
		BankID:      3,
		ActorID:     9,
	})
	require.ErrorContains(t, err, "connection refused")
	require.Empty(t, repo.settlements)
}

func TestSettleNothingOwed(t *testing.T) {
	repo := newMemoryRepo()
	repo.rates = seedRates()
	svc := newTestService(repo, &memoryReceipts{}, &memoryDebits{})

	_, err := svc.Settle(context.Background(), SettleInput{
		SubdealerID: 7,
		Month:       4,
		Year:        2026,
		Mode:        ModeOnAccount,
		BankID:      3,
		ActorID:     9,
	})
	require.ErrorIs(t, err, httpx.ErrValidation)
}

func TestUpdateStatusDecidesPendingOnce(t *testing.T) {
	repo := newMemoryRepo()
	repo.rates = seedRates()
	repo.components = []BookingComponent{{BookingID: 1, Header: "SCOOTER", ComponentValue: 100000}}
	svc := newTestService(repo, &memoryReceipts{}, &memoryDebits{})
	ctx := context.Background()

	settlement, err := svc.Settle(ctx, SettleInput{
		SubdealerID: 7,
		Month:       4,
		Year:        2026,
		Mode:        ModeLedgerDebit,
		BookingID:   42,
		ActorID:     9,
	})
	require.NoError(t, err)

	_, err = svc.UpdateStatus(ctx, settlement.ID, SettlementPending, 9)
	require.ErrorIs(t, err, httpx.ErrValidation)

	updated, err := svc.UpdateStatus(ctx, settlement.ID, SettlementPaid, 9)
	require.NoError(t, err)
	require.Equal(t, SettlementPaid, updated.Status)

	_, err = svc.UpdateStatus(ctx, settlement.ID, SettlementFailed, 9)
	require.ErrorIs(t, err, httpx.ErrInvalidState)
}
