package vehicle

import (
	"context"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/atlas-dms/atlas-dms/internal/ledger"
	"github.com/atlas-dms/atlas-dms/internal/platform/db"
	"github.com/atlas-dms/atlas-dms/internal/platform/httpx"
)

type memoryRepo struct {
	vehicles map[int64]*Vehicle
}

func newMemoryRepo(items ...*Vehicle) *memoryRepo {
	r := &memoryRepo{vehicles: make(map[int64]*Vehicle)}
	for _, v := range items {
		r.vehicles[v.ID] = v
	}
	return r
}

func (r *memoryRepo) Get(ctx context.Context, id int64) (*Vehicle, error) {
	v, ok := r.vehicles[id]
	if !ok {
		return nil, fmt.Errorf("vehicle %d: %w", id, httpx.ErrNotFound)
	}
	out := *v
	return &out, nil
}

func (r *memoryRepo) FindCandidate(ctx context.Context, modelID, colorID int64, chassisNo string) (*Vehicle, error) {
	var best *Vehicle
	for _, v := range r.vehicles {
		if v.ModelID != modelID || v.ColorID != colorID || v.Status == StatusSold {
			continue
		}
		if chassisNo != "" && v.ChassisNo != "" && v.ChassisNo != chassisNo {
			continue
		}
		if best == nil || candidateOrder(v.Status) < candidateOrder(best.Status) {
			best = v
		}
	}
	if best == nil {
		return nil, fmt.Errorf("no vehicle for model %d color %d: %w", modelID, colorID, httpx.ErrNotFound)
	}
	out := *best
	return &out, nil
}

func candidateOrder(s Status) int {
	switch s {
	case StatusInStock:
		return 0
	case StatusInTransit:
		return 1
	default:
		return 2
	}
}

func (r *memoryRepo) TransitionStatus(ctx context.Context, _ db.Querier, id int64, from, to Status) error {
	v, ok := r.vehicles[id]
	if !ok {
		return fmt.Errorf("vehicle %d: %w", id, httpx.ErrNotFound)
	}
	if v.Status != from {
		return fmt.Errorf("vehicle %d moved from %s: %w", id, from, httpx.ErrVersionConflict)
	}
	v.Status = to
	return nil
}

func (r *memoryRepo) MarkSold(ctx context.Context, _ db.Querier, id int64, from Status, n Numbers) error {
	v, ok := r.vehicles[id]
	if !ok {
		return fmt.Errorf("vehicle %d: %w", id, httpx.ErrNotFound)
	}
	if v.Status != from {
		return fmt.Errorf("vehicle %d moved from %s: %w", id, from, httpx.ErrVersionConflict)
	}
	v.Status = StatusSold
	if v.ChassisNo == "" {
		v.ChassisNo = n.ChassisNo
	}
	if v.MotorNo == "" {
		v.MotorNo = n.MotorNo
	}
	if v.BatteryNo == "" {
		v.BatteryNo = n.BatteryNo
	}
	if v.EngineNo == "" {
		v.EngineNo = n.EngineNo
	}
	if v.KeyNo == "" {
		v.KeyNo = n.KeyNo
	}
	if v.ChargerNo == "" {
		v.ChargerNo = n.ChargerNo
	}
	return nil
}

type memoryBookings struct {
	linked map[int64]int64
}

func newMemoryBookings() *memoryBookings {
	return &memoryBookings{linked: make(map[int64]int64)}
}

func (m *memoryBookings) SetVehicle(ctx context.Context, _ db.Querier, id, vehicleID int64) error {
	m.linked[id] = vehicleID
	return nil
}

type directRunner struct{}

func (directRunner) Atomic(ctx context.Context, op string, fn func(db.Querier) error) error {
	return fn(nil)
}

func newTestDeriver(repo *memoryRepo, bookings *memoryBookings) *Deriver {
	return NewDeriver(repo, bookings, directRunner{}, nil, slog.Default())
}

func directEvent(pct float64) ledger.PaymentAppliedEvent {
	return ledger.PaymentAppliedEvent{
		BookingID:         1,
		Source:            ledger.SourceDirect,
		ModelID:           7,
		ColorID:           3,
		PaymentPercentage: pct,
	}
}

func TestTargetStatusThresholds(t *testing.T) {
	require.Equal(t, Status(""), TargetStatus(0))
	require.Equal(t, StatusInStock, TargetStatus(10))
	require.Equal(t, StatusInTransit, TargetStatus(50))
	require.Equal(t, StatusInTransit, TargetStatus(99.9))
	require.Equal(t, StatusSold, TargetStatus(100))
	require.Equal(t, StatusSold, TargetStatus(150))
}

func TestHalfPaymentMovesToInTransit(t *testing.T) {
	repo := newMemoryRepo(&Vehicle{ID: 11, ModelID: 7, ColorID: 3, Status: StatusInStock})
	d := newTestDeriver(repo, newMemoryBookings())

	require.NoError(t, d.HandlePaymentApplied(context.Background(), directEvent(50)))
	require.Equal(t, StatusInTransit, repo.vehicles[11].Status)
}

func TestFullPaymentSellsAndLinks(t *testing.T) {
	repo := newMemoryRepo(&Vehicle{ID: 11, ModelID: 7, ColorID: 3, Status: StatusInTransit, ChassisNo: "CH-1"})
	bookings := newMemoryBookings()
	d := newTestDeriver(repo, bookings)

	evt := directEvent(100)
	evt.ChassisNo = "CH-1"
	evt.MotorNo = "MO-1"
	evt.KeyNo = "KEY-1"
	require.NoError(t, d.HandlePaymentApplied(context.Background(), evt))

	v := repo.vehicles[11]
	require.Equal(t, StatusSold, v.Status)
	require.Equal(t, "CH-1", v.ChassisNo)
	require.Equal(t, "MO-1", v.MotorNo)
	require.Equal(t, "KEY-1", v.KeyNo)
	require.Equal(t, int64(11), bookings.linked[1])
}

func TestSoldNeverDowngrades(t *testing.T) {
	repo := newMemoryRepo(&Vehicle{ID: 11, ModelID: 7, ColorID: 3, Status: StatusSold})
	d := newTestDeriver(repo, newMemoryBookings())

	// The sweep targets a lower rung; the attached unit stays SOLD.
	evt := directEvent(60)
	evt.VehicleID = 11
	require.NoError(t, d.HandlePaymentApplied(context.Background(), evt))
	require.Equal(t, StatusSold, repo.vehicles[11].Status)
}

func TestCandidatePrefersInStock(t *testing.T) {
	repo := newMemoryRepo(
		&Vehicle{ID: 21, ModelID: 7, ColorID: 3, Status: StatusInTransit},
		&Vehicle{ID: 22, ModelID: 7, ColorID: 3, Status: StatusInStock},
	)
	d := newTestDeriver(repo, newMemoryBookings())

	// The in-stock unit wins the pool search over the in-transit one.
	require.NoError(t, d.HandlePaymentApplied(context.Background(), directEvent(50)))
	require.Equal(t, StatusInTransit, repo.vehicles[22].Status)
	require.Equal(t, StatusInTransit, repo.vehicles[21].Status)
}

func TestNoMatchIsNotAnError(t *testing.T) {
	repo := newMemoryRepo()
	d := newTestDeriver(repo, newMemoryBookings())
	require.NoError(t, d.HandlePaymentApplied(context.Background(), directEvent(50)))
}

func TestNonDirectSourceIgnored(t *testing.T) {
	repo := newMemoryRepo(&Vehicle{ID: 11, ModelID: 7, ColorID: 3, Status: StatusInStock})
	d := newTestDeriver(repo, newMemoryBookings())

	evt := directEvent(100)
	evt.Source = ledger.SourceOnAccount
	require.NoError(t, d.HandlePaymentApplied(context.Background(), evt))
	require.Equal(t, StatusInStock, repo.vehicles[11].Status)
}
