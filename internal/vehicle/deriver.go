package vehicle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/atlas-dms/atlas-dms/internal/ledger"
	"github.com/atlas-dms/atlas-dms/internal/platform/db"
	"github.com/atlas-dms/atlas-dms/internal/platform/httpx"
	"github.com/atlas-dms/atlas-dms/internal/shared"
)

// RepositoryPort abstracts vehicle persistence for the deriver.
type RepositoryPort interface {
	Get(ctx context.Context, id int64) (*Vehicle, error)
	FindCandidate(ctx context.Context, modelID, colorID int64, chassisNo string) (*Vehicle, error)
	TransitionStatus(ctx context.Context, q db.Querier, id int64, from, to Status) error
	MarkSold(ctx context.Context, q db.Querier, id int64, from Status, n Numbers) error
}

// BookingPort lets the deriver attach a sold unit to its booking.
type BookingPort interface {
	SetVehicle(ctx context.Context, q db.Querier, id, vehicleID int64) error
}

// AtomicRunner executes a multi-step write sequence under the configured
// consistency mode.
type AtomicRunner interface {
	Atomic(ctx context.Context, op string, fn func(db.Querier) error) error
}

// Deriver reacts to effective direct payments by moving matched inventory
// through the NOT_APPROVED -> IN_STOCK -> IN_TRANSIT -> SOLD ladder. It is
// best-effort: a missing candidate or a lost race is logged, never surfaced
// to the payment path.
type Deriver struct {
	repo     RepositoryPort
	bookings BookingPort
	runner   AtomicRunner
	locks    *shared.KeyedLock
	logger   *slog.Logger
}

// NewDeriver builds a Deriver.
func NewDeriver(repo RepositoryPort, bookings BookingPort, runner AtomicRunner, locks *shared.KeyedLock, logger *slog.Logger) *Deriver {
	if locks == nil {
		locks = shared.NewKeyedLock()
	}
	return &Deriver{repo: repo, bookings: bookings, runner: runner, locks: locks, logger: logger}
}

var _ ledger.Hooks = (*Deriver)(nil)

// HandlePaymentApplied implements ledger.Hooks.
func (d *Deriver) HandlePaymentApplied(ctx context.Context, evt ledger.PaymentAppliedEvent) error {
	if evt.Source != ledger.SourceDirect {
		return nil
	}
	target := TargetStatus(evt.PaymentPercentage)
	if target == "" {
		return nil
	}

	unlock := d.locks.Lock(shared.VehiclePoolLockKey(evt.ModelID, evt.ColorID))
	defer unlock()

	candidate, err := d.candidate(ctx, evt)
	if err != nil {
		if errors.Is(err, httpx.ErrNotFound) {
			d.logger.Info("no vehicle matched for booking",
				slog.Int64("booking_id", evt.BookingID),
				slog.Int64("model_id", evt.ModelID),
				slog.Int64("color_id", evt.ColorID))
			return nil
		}
		return err
	}
	if candidate.Status.rank() >= target.rank() {
		return nil
	}

	err = d.runner.Atomic(ctx, "vehicle.derive", func(q db.Querier) error {
		if target != StatusSold {
			return d.repo.TransitionStatus(ctx, q, candidate.ID, candidate.Status, target)
		}
		numbers := Numbers{
			ChassisNo: evt.ChassisNo,
			MotorNo:   evt.MotorNo,
			BatteryNo: evt.BatteryNo,
			EngineNo:  evt.EngineNo,
			KeyNo:     evt.KeyNo,
			ChargerNo: evt.ChargerNo,
		}
		if err := d.repo.MarkSold(ctx, q, candidate.ID, candidate.Status, numbers); err != nil {
			return err
		}
		return d.bookings.SetVehicle(ctx, q, evt.BookingID, candidate.ID)
	})
	if err != nil {
		if errors.Is(err, httpx.ErrVersionConflict) {
			d.logger.Warn("vehicle transition lost race",
				slog.Int64("vehicle_id", candidate.ID),
				slog.String("target", string(target)),
				slog.Any("error", err))
			return nil
		}
		return fmt.Errorf("derive vehicle status: %w", err)
	}

	d.logger.Info("vehicle status derived",
		slog.Int64("vehicle_id", candidate.ID),
		slog.Int64("booking_id", evt.BookingID),
		slog.String("from", string(candidate.Status)),
		slog.String("to", string(target)))
	return nil
}

// candidate prefers the unit already attached to the booking; otherwise it
// searches the unsold pool for the booking's model and colour.
func (d *Deriver) candidate(ctx context.Context, evt ledger.PaymentAppliedEvent) (*Vehicle, error) {
	if evt.VehicleID != 0 {
		return d.repo.Get(ctx, evt.VehicleID)
	}
	return d.repo.FindCandidate(ctx, evt.ModelID, evt.ColorID, evt.ChassisNo)
}
