package onaccount

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/atlas-dms/atlas-dms/internal/booking"
	"github.com/atlas-dms/atlas-dms/internal/ledger"
	"github.com/atlas-dms/atlas-dms/internal/platform/db"
	"github.com/atlas-dms/atlas-dms/internal/platform/httpx"
	"github.com/atlas-dms/atlas-dms/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	CreateReceipt(ctx context.Context, input CreateReceiptInput) (*Receipt, error)
	Get(ctx context.Context, id uuid.UUID) (*Receipt, error)
	ListBySubdealer(ctx context.Context, subdealerID int64) ([]Receipt, error)
	UpdateAllocationState(ctx context.Context, q db.Querier, id uuid.UUID, allocatedTotal float64, status Status, closedAt *time.Time, closedBy int64, expectedVersion int64) error
	InsertAllocation(ctx context.Context, q db.Querier, a *Allocation) error
	DeleteAllocation(ctx context.Context, q db.Querier, id uuid.UUID) error
}

// BookingPort exposes the balance operations allocations drive.
type BookingPort interface {
	Get(ctx context.Context, id int64) (*booking.Booking, error)
	ApplyCredit(ctx context.Context, q db.Querier, id int64, amount float64, opts booking.CreditOptions) (*booking.Booking, error)
	ReverseCredit(ctx context.Context, q db.Querier, id int64, amount float64) (*booking.Booking, error)
}

// LedgerPort creates and deletes the entries allocations produce.
type LedgerPort interface {
	CreateFromAllocation(ctx context.Context, q db.Querier, bookingID int64, amount float64, remark string, receiptID uuid.UUID, actorID int64) (*ledger.Entry, error)
	DeleteEntry(ctx context.Context, q db.Querier, id uuid.UUID) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// AtomicRunner executes a multi-step write sequence under the configured
// consistency mode.
type AtomicRunner interface {
	Atomic(ctx context.Context, op string, fn func(db.Querier) error) error
}

// Service manages pooled sub-dealer receipts and their allocation against
// bookings.
type Service struct {
	repo     RepositoryPort
	bookings BookingPort
	entries  LedgerPort
	runner   AtomicRunner
	locks    *shared.KeyedLock
	audit    AuditPort
	logger   *slog.Logger
}

// NewService builds a Service instance.
func NewService(repo RepositoryPort, bookings BookingPort, entries LedgerPort, runner AtomicRunner, locks *shared.KeyedLock, audit AuditPort, logger *slog.Logger) *Service {
	if locks == nil {
		locks = shared.NewKeyedLock()
	}
	return &Service{
		repo:     repo,
		bookings: bookings,
		entries:  entries,
		runner:   runner,
		locks:    locks,
		audit:    audit,
		logger:   logger,
	}
}

// CreateReceipt registers a pooled receipt in OPEN state.
func (s *Service) CreateReceipt(ctx context.Context, input CreateReceiptInput) (*Receipt, error) {
	if input.SubdealerID == 0 {
		return nil, fmt.Errorf("subdealer required: %w", httpx.ErrValidation)
	}
	if input.RefNumber == "" {
		return nil, fmt.Errorf("reference number required: %w", httpx.ErrValidation)
	}
	if input.Amount <= 0 {
		return nil, fmt.Errorf("amount must be positive: %w", httpx.ErrValidation)
	}
	if _, err := ledger.RefForChannel(input.Channel, ledger.ChannelRefInput{
		CashLocation: input.CashLocation,
		BankID:       input.BankID,
		SubMode:      input.SubMode,
	}); err != nil {
		return nil, err
	}
	receipt, err := s.repo.CreateReceipt(ctx, input)
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, input.ActorID, "onaccount.receipt.create", receipt.ID, map[string]any{
		"subdealer_id": input.SubdealerID,
		"ref_number":   input.RefNumber,
		"amount":       input.Amount,
	})
	return receipt, nil
}

// Get returns a receipt with its allocations.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Receipt, error) {
	return s.repo.Get(ctx, id)
}

// ListBySubdealer returns a sub-dealer's receipts.
func (s *Service) ListBySubdealer(ctx context.Context, subdealerID int64) ([]Receipt, error) {
	return s.repo.ListBySubdealer(ctx, subdealerID)
}

// Allocate draws the receipt's funds down against one or more of the
// sub-dealer's bookings. The whole batch is validated before any write; the
// overpayment guard of the direct-receipt path is deliberately bypassed
// because sub-dealer floats may prepay a booking past zero balance.
func (s *Service) Allocate(ctx context.Context, receiptID uuid.UUID, batch []AllocationRequest, actorID int64) (*Receipt, error) {
	if len(batch) == 0 {
		return nil, fmt.Errorf("allocation batch empty: %w", httpx.ErrValidation)
	}

	unlock := s.locks.Lock(shared.ReceiptLockKey(receiptID))
	defer unlock()

	receipt, err := s.repo.Get(ctx, receiptID)
	if err != nil {
		return nil, err
	}
	if receipt.Status == StatusClosed {
		return nil, fmt.Errorf("receipt %s is closed: %w", receiptID, httpx.ErrInvalidState)
	}

	var total float64
	for i, req := range batch {
		if req.BookingID <= 0 {
			return nil, fmt.Errorf("allocation %d: booking id required: %w", i, httpx.ErrValidation)
		}
		if req.Amount <= 0 {
			return nil, fmt.Errorf("allocation %d: amount must be positive: %w", i, httpx.ErrValidation)
		}
		total = round2(total + req.Amount)
	}
	if total > receipt.Remaining()+1e-9 {
		return nil, fmt.Errorf("requested %.2f exceeds unallocated %.2f: %w", total, receipt.Remaining(), httpx.ErrInsufficientBalance)
	}

	for _, req := range batch {
		b, err := s.bookings.Get(ctx, req.BookingID)
		if err != nil {
			return nil, err
		}
		if b.Classification != booking.ClassSubdealer {
			return nil, fmt.Errorf("booking %d is not a subdealer booking: %w", req.BookingID, httpx.ErrValidation)
		}
		if b.SubdealerID != receipt.SubdealerID {
			return nil, fmt.Errorf("booking %d belongs to a different subdealer: %w", req.BookingID, httpx.ErrValidation)
		}
	}

	now := time.Now()
	err = s.runner.Atomic(ctx, "onaccount.allocate", func(q db.Querier) error {
		allocated := receipt.AllocatedTotal
		for _, req := range batch {
			entry, err := s.entries.CreateFromAllocation(ctx, q, req.BookingID, req.Amount, req.Remark, receiptID, actorID)
			if err != nil {
				return err
			}
			if _, err := s.bookings.ApplyCredit(ctx, q, req.BookingID, req.Amount, booking.CreditOptions{}); err != nil {
				return err
			}
			alloc := &Allocation{
				ReceiptID: receiptID,
				BookingID: req.BookingID,
				Amount:    req.Amount,
				EntryID:   entry.ID,
				ActorID:   actorID,
			}
			if err := s.repo.InsertAllocation(ctx, q, alloc); err != nil {
				return err
			}
			allocated = round2(allocated + req.Amount)
		}

		status := StatusFor(allocated, receipt.Amount)
		var closedAt *time.Time
		var closedBy int64
		if status == StatusClosed {
			closedAt = &now
			closedBy = actorID
		}
		return s.repo.UpdateAllocationState(ctx, q, receiptID, allocated, status, closedAt, closedBy, receipt.Version)
	})
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, actorID, "onaccount.allocate", receiptID, map[string]any{
		"lines": len(batch),
		"total": total,
	})
	return s.repo.Get(ctx, receiptID)
}

// Deallocate reverses one allocation: the booking's received amount is
// backed out (floored at zero), the produced ledger entry is deleted and the
// receipt status recomputed. Deallocating from a CLOSED receipt reopens it.
func (s *Service) Deallocate(ctx context.Context, receiptID, allocationID uuid.UUID, actorID int64) (*Receipt, error) {
	unlock := s.locks.Lock(shared.ReceiptLockKey(receiptID))
	defer unlock()

	receipt, err := s.repo.Get(ctx, receiptID)
	if err != nil {
		return nil, err
	}

	var target *Allocation
	for i := range receipt.Allocations {
		if receipt.Allocations[i].ID == allocationID {
			target = &receipt.Allocations[i]
			break
		}
	}
	if target == nil {
		return nil, fmt.Errorf("allocation %s: %w", allocationID, httpx.ErrNotFound)
	}

	err = s.runner.Atomic(ctx, "onaccount.deallocate", func(q db.Querier) error {
		if err := s.entries.DeleteEntry(ctx, q, target.EntryID); err != nil {
			return err
		}
		if _, err := s.bookings.ReverseCredit(ctx, q, target.BookingID, target.Amount); err != nil {
			return err
		}
		if err := s.repo.DeleteAllocation(ctx, q, allocationID); err != nil {
			return err
		}

		allocated := round2(receipt.AllocatedTotal - target.Amount)
		if allocated < 0 {
			allocated = 0
		}
		status := StatusFor(allocated, receipt.Amount)
		closedAt := receipt.ClosedAt
		closedBy := receipt.ClosedBy
		if status != StatusClosed {
			closedAt = nil
			closedBy = 0
		}
		return s.repo.UpdateAllocationState(ctx, q, receiptID, allocated, status, closedAt, closedBy, receipt.Version)
	})
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, actorID, "onaccount.deallocate", receiptID, map[string]any{
		"allocation_id": allocationID.String(),
		"booking_id":    target.BookingID,
		"amount":        target.Amount,
	})
	return s.repo.Get(ctx, receiptID)
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, receiptID uuid.UUID, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "onaccount_receipt",
		EntityID: receiptID.String(),
		Meta:     meta,
	})
	if err != nil {
		s.logger.Warn("record audit", slog.String("receipt_id", receiptID.String()), slog.Any("error", err))
	}
}
