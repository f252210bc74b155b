package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/atlas-dms/atlas-dms/internal/booking"
	"github.com/atlas-dms/atlas-dms/internal/platform/db"
	"github.com/atlas-dms/atlas-dms/internal/platform/httpx"
	"github.com/atlas-dms/atlas-dms/internal/shared"
)

const approvalModule = "LEDGER"

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	Create(ctx context.Context, q db.Querier, e *Entry) (*Entry, error)
	Get(ctx context.Context, id uuid.UUID) (*Entry, error)
	MarkApproved(ctx context.Context, q db.Querier, id uuid.UUID, approvedBy int64, at time.Time) error
	MarkRejected(ctx context.Context, q db.Querier, id uuid.UUID, rejectedBy int64, at time.Time) error
	UpdateAmount(ctx context.Context, q db.Querier, id uuid.UUID, amount float64) error
	Delete(ctx context.Context, q db.Querier, id uuid.UUID) error
	ListPending(ctx context.Context, filter PendingFilter) ([]Entry, int, error)
	CreateReceipt(ctx context.Context, q db.Querier, e *Entry) (*Receipt, error)
}

// BookingPort exposes the balance tracker operations the ledger drives.
type BookingPort interface {
	Get(ctx context.Context, id int64) (*booking.Booking, error)
	ApplyCredit(ctx context.Context, q db.Querier, id int64, amount float64, opts booking.CreditOptions) (*booking.Booking, error)
	ApplyDebit(ctx context.Context, q db.Querier, id int64, amount float64) (*booking.Booking, error)
	ApplyAmendment(ctx context.Context, q db.Querier, id int64, delta float64) (*booking.Booking, error)
}

// ApprovalPort records approval history.
type ApprovalPort interface {
	Record(ctx context.Context, log shared.ApprovalLog) error
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

// Hooks receives effective-payment events.
type Hooks interface {
	HandlePaymentApplied(ctx context.Context, evt PaymentAppliedEvent) error
}

// Service implements the ledger entry store and its approval workflow.
type Service struct {
	repo        RepositoryPort
	bookings    BookingPort
	runner      AtomicRunner
	locks       *shared.KeyedLock
	approvals   ApprovalPort
	audit       AuditPort
	idempotency *shared.IdempotencyStore
	hooks       Hooks
	logger      *slog.Logger
}

// NewService builds a Service instance.
func NewService(repo RepositoryPort, bookings BookingPort, runner AtomicRunner, locks *shared.KeyedLock, approvals ApprovalPort, audit AuditPort, idem *shared.IdempotencyStore, hooks Hooks, logger *slog.Logger) *Service {
	if locks == nil {
		locks = shared.NewKeyedLock()
	}
	return &Service{
		repo:        repo,
		bookings:    bookings,
		runner:      runner,
		locks:       locks,
		approvals:   approvals,
		audit:       audit,
		idempotency: idem,
		hooks:       hooks,
		logger:      logger,
	}
}

// PaymentInput describes a direct payment against a booking.
type PaymentInput struct {
	BookingID      int64
	Kind           Kind
	Amount         float64
	Channel        Channel
	Ref            ChannelRefInput
	Remark         string
	ActorID        int64
	IdempotencyKey string
}

// PaymentResult is what a recorded payment produced. Booking and Receipt are
// nil while the entry is pending approval.
type PaymentResult struct {
	Entry   *Entry           `json:"entry"`
	Booking *booking.Booking `json:"booking,omitempty"`
	Receipt *Receipt         `json:"receipt,omitempty"`
}

// RecordPayment records a credit entry. Cash clears immediately: the entry is
// approved at creation and the booking, receipt and vehicle derivation all
// happen synchronously. Every other channel parks the entry as pending with
// zero booking-side effect.
func (s *Service) RecordPayment(ctx context.Context, input PaymentInput) (*PaymentResult, error) {
	if input.Amount <= 0 {
		return nil, fmt.Errorf("amount must be positive: %w", httpx.ErrValidation)
	}
	if input.Kind == "" {
		input.Kind = KindBookingPayment
	}
	switch input.Kind {
	case KindBookingPayment, KindInsurance, KindCommission:
	default:
		return nil, fmt.Errorf("kind %q cannot be recorded as a payment: %w", input.Kind, httpx.ErrValidation)
	}
	ref, err := RefForChannel(input.Channel, input.Ref)
	if err != nil {
		return nil, err
	}

	if input.IdempotencyKey != "" {
		if err := s.idempotency.CheckAndInsert(ctx, input.IdempotencyKey, "ledger.payment"); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return nil, fmt.Errorf("payment already recorded for key %q: %w", input.IdempotencyKey, httpx.ErrDuplicate)
			}
			return nil, err
		}
	}

	unlock := s.locks.Lock(shared.BookingLockKey(input.BookingID))
	defer unlock()

	result, err := s.recordPaymentLocked(ctx, input, ref)
	if err != nil && input.IdempotencyKey != "" {
		if delErr := s.idempotency.Delete(ctx, input.IdempotencyKey); delErr != nil {
			s.logger.Warn("release idempotency key", slog.String("key", input.IdempotencyKey), slog.Any("error", delErr))
		}
	}
	return result, err
}

func (s *Service) recordPaymentLocked(ctx context.Context, input PaymentInput, ref ChannelRef) (*PaymentResult, error) {
	b, err := s.bookings.Get(ctx, input.BookingID)
	if err != nil {
		return nil, err
	}
	if input.Amount > b.BalanceAmount+1e-9 {
		return nil, fmt.Errorf("amount %.2f exceeds balance %.2f: %w", input.Amount, b.BalanceAmount, httpx.ErrBalanceExceeded)
	}

	now := time.Now()
	entry := &Entry{
		BookingID:      input.BookingID,
		Kind:           input.Kind,
		Amount:         input.Amount,
		Channel:        input.Channel,
		Remark:         input.Remark,
		ApprovalStatus: ApprovalPending,
		SourceKind:     SourceDirect,
		CreatedBy:      input.ActorID,
	}
	ref.apply(entry)

	immediate := input.Channel == ChannelCash
	if immediate {
		entry.ApprovalStatus = ApprovalApproved
		entry.ApprovedBy = input.ActorID
		entry.ApprovedAt = &now
	}

	result := &PaymentResult{}
	err = s.runner.Atomic(ctx, "ledger.record_payment", func(q db.Querier) error {
		created, err := s.repo.Create(ctx, q, entry)
		if err != nil {
			return err
		}
		result.Entry = created
		if !immediate {
			return nil
		}
		updated, err := s.bookings.ApplyCredit(ctx, q, input.BookingID, input.Amount, booking.CreditOptions{EnforceLimit: true})
		if err != nil {
			return err
		}
		result.Booking = updated
		receipt, err := s.repo.CreateReceipt(ctx, q, created)
		if err != nil {
			return err
		}
		result.Receipt = receipt
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.recordApproval(ctx, entry.ID, input.ActorID, shared.ApprovalSubmit, input.Remark)
	if immediate {
		s.recordApproval(ctx, entry.ID, input.ActorID, shared.ApprovalApprove, "cash payment")
		s.emitPaymentApplied(ctx, result.Entry, result.Booking)
	}
	s.recordAudit(ctx, input.ActorID, "ledger.payment.record", entry)

	return result, nil
}

// DebitInput describes a charge that increases what the booking owes.
type DebitInput struct {
	BookingID int64
	Amount    float64
	Reason    string
	ActorID   int64
}

// RecordDebit creates an immediately effective debit entry and pushes the
// balance up by its amount.
func (s *Service) RecordDebit(ctx context.Context, input DebitInput) (*PaymentResult, error) {
	if input.Amount <= 0 {
		return nil, fmt.Errorf("amount must be positive: %w", httpx.ErrValidation)
	}
	if input.Reason == "" {
		return nil, fmt.Errorf("debit reason required: %w", httpx.ErrValidation)
	}

	unlock := s.locks.Lock(shared.BookingLockKey(input.BookingID))
	defer unlock()

	if _, err := s.bookings.Get(ctx, input.BookingID); err != nil {
		return nil, err
	}

	now := time.Now()
	entry := &Entry{
		BookingID:      input.BookingID,
		Kind:           KindDebit,
		IsDebit:        true,
		Amount:         input.Amount,
		Remark:         input.Reason,
		ApprovalStatus: ApprovalApproved,
		ApprovedBy:     input.ActorID,
		ApprovedAt:     &now,
		SourceKind:     SourceDirect,
		CreatedBy:      input.ActorID,
	}

	result := &PaymentResult{}
	err := s.runner.Atomic(ctx, "ledger.record_debit", func(q db.Querier) error {
		created, err := s.repo.Create(ctx, q, entry)
		if err != nil {
			return err
		}
		result.Entry = created
		updated, err := s.bookings.ApplyDebit(ctx, q, input.BookingID, input.Amount)
		if err != nil {
			return err
		}
		result.Booking = updated
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, input.ActorID, "ledger.debit.record", entry)
	return result, nil
}

// Approve makes a pending entry effective: exactly one balance update, one
// generated receipt. The second approval of the same entry fails with an
// invalid-state error.
func (s *Service) Approve(ctx context.Context, entryID uuid.UUID, actorID int64, remark string) (*PaymentResult, error) {
	entry, err := s.repo.Get(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if entry.ApprovalStatus != ApprovalPending {
		return nil, fmt.Errorf("ledger entry %s is %s: %w", entryID, entry.ApprovalStatus, httpx.ErrInvalidState)
	}

	unlock := s.locks.Lock(shared.BookingLockKey(entry.BookingID))
	defer unlock()

	now := time.Now()
	result := &PaymentResult{}
	err = s.runner.Atomic(ctx, "ledger.approve", func(q db.Querier) error {
		if err := s.repo.MarkApproved(ctx, q, entryID, actorID, now); err != nil {
			return err
		}
		updated, err := s.bookings.ApplyCredit(ctx, q, entry.BookingID, entry.Amount, booking.CreditOptions{})
		if err != nil {
			return err
		}
		result.Booking = updated
		receipt, err := s.repo.CreateReceipt(ctx, q, entry)
		if err != nil {
			return err
		}
		result.Receipt = receipt
		return nil
	})
	if err != nil {
		return nil, err
	}

	entry.ApprovalStatus = ApprovalApproved
	entry.ApprovedBy = actorID
	entry.ApprovedAt = &now
	result.Entry = entry

	s.recordApproval(ctx, entryID, actorID, shared.ApprovalApprove, remark)
	s.recordAudit(ctx, actorID, "ledger.entry.approve", entry)
	s.emitPaymentApplied(ctx, entry, result.Booking)

	return result, nil
}

// Reject declines a pending entry. Pending entries never touched the
// booking, so rejection reverses nothing.
func (s *Service) Reject(ctx context.Context, entryID uuid.UUID, actorID int64, remark string) (*Entry, error) {
	entry, err := s.repo.Get(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if entry.ApprovalStatus != ApprovalPending {
		return nil, fmt.Errorf("ledger entry %s is %s: %w", entryID, entry.ApprovalStatus, httpx.ErrInvalidState)
	}

	now := time.Now()
	err = s.runner.Atomic(ctx, "ledger.reject", func(q db.Querier) error {
		return s.repo.MarkRejected(ctx, q, entryID, actorID, now)
	})
	if err != nil {
		return nil, err
	}

	entry.ApprovalStatus = ApprovalRejected
	entry.ApprovedBy = actorID
	entry.ApprovedAt = &now

	s.recordApproval(ctx, entryID, actorID, shared.ApprovalReject, remark)
	s.recordAudit(ctx, actorID, "ledger.entry.reject", entry)
	return entry, nil
}

// Amend corrects a credit entry's amount. For approved entries the booking is
// corrected by the delta between old and new amount, never re-derived.
func (s *Service) Amend(ctx context.Context, entryID uuid.UUID, newAmount float64, actorID int64) (*PaymentResult, error) {
	if newAmount <= 0 {
		return nil, fmt.Errorf("amount must be positive: %w", httpx.ErrValidation)
	}
	entry, err := s.repo.Get(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if entry.IsDebit {
		return nil, fmt.Errorf("debit entries cannot be amended: %w", httpx.ErrInvalidState)
	}
	if entry.ApprovalStatus == ApprovalRejected {
		return nil, fmt.Errorf("rejected entries cannot be amended: %w", httpx.ErrInvalidState)
	}

	unlock := s.locks.Lock(shared.BookingLockKey(entry.BookingID))
	defer unlock()

	delta := newAmount - entry.Amount
	result := &PaymentResult{}
	err = s.runner.Atomic(ctx, "ledger.amend", func(q db.Querier) error {
		if err := s.repo.UpdateAmount(ctx, q, entryID, newAmount); err != nil {
			return err
		}
		if entry.ApprovalStatus != ApprovalApproved {
			return nil
		}
		updated, err := s.bookings.ApplyAmendment(ctx, q, entry.BookingID, delta)
		if err != nil {
			return err
		}
		result.Booking = updated
		return nil
	})
	if err != nil {
		return nil, err
	}

	entry.Amount = newAmount
	result.Entry = entry
	s.recordAudit(ctx, actorID, "ledger.entry.amend", entry)
	return result, nil
}

// Get returns an entry by ID.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Entry, error) {
	return s.repo.Get(ctx, id)
}

// ListPending returns the pending approval queue.
func (s *Service) ListPending(ctx context.Context, filter PendingFilter) ([]Entry, shared.Pagination, error) {
	entries, total, err := s.repo.ListPending(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return entries, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

// CreateFromAllocation inserts an approved on-account-sourced entry inside
// the caller's write sequence. The caller (the allocation engine) owns the
// booking update.
func (s *Service) CreateFromAllocation(ctx context.Context, q db.Querier, bookingID int64, amount float64, remark string, receiptID uuid.UUID, actorID int64) (*Entry, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("amount must be positive: %w", httpx.ErrValidation)
	}
	now := time.Now()
	entry := &Entry{
		BookingID:       bookingID,
		Kind:            KindBookingPayment,
		Amount:          amount,
		Remark:          remark,
		ApprovalStatus:  ApprovalApproved,
		ApprovedBy:      actorID,
		ApprovedAt:      &now,
		SourceKind:      SourceOnAccount,
		SourceReceiptID: receiptID,
		CreatedBy:       actorID,
	}
	NoRef{}.apply(entry)
	return s.repo.Create(ctx, q, entry)
}

// DeleteEntry removes an allocation-sourced entry inside the caller's write
// sequence.
func (s *Service) DeleteEntry(ctx context.Context, q db.Querier, id uuid.UUID) error {
	return s.repo.Delete(ctx, q, id)
}

func (s *Service) emitPaymentApplied(ctx context.Context, entry *Entry, b *booking.Booking) {
	if s.hooks == nil || entry == nil || b == nil || entry.SourceKind != SourceDirect {
		return
	}
	evt := PaymentAppliedEvent{
		EntryID:           entry.ID,
		BookingID:         b.ID,
		Amount:            entry.Amount,
		Source:            entry.SourceKind,
		ModelID:           b.ModelID,
		ColorID:           b.ColorID,
		VehicleID:         b.VehicleID,
		ChassisNo:         b.ChassisNo,
		MotorNo:           b.MotorNo,
		BatteryNo:         b.BatteryNo,
		EngineNo:          b.EngineNo,
		KeyNo:             b.KeyNo,
		ChargerNo:         b.ChargerNo,
		ReceivedAmount:    b.ReceivedAmount,
		DiscountedAmount:  b.DiscountedAmount,
		PaymentPercentage: b.PaymentPercentage(),
	}
	if err := s.hooks.HandlePaymentApplied(ctx, evt); err != nil {
		s.logger.Warn("vehicle status derivation failed",
			slog.Int64("booking_id", b.ID),
			slog.String("entry_id", entry.ID.String()),
			slog.Any("error", err),
		)
	}
}

func (s *Service) recordApproval(ctx context.Context, ref uuid.UUID, actorID int64, action shared.ApprovalAction, note string) {
	if s.approvals == nil {
		return
	}
	err := s.approvals.Record(ctx, shared.ApprovalLog{
		Module:  approvalModule,
		RefID:   ref,
		ActorID: actorID,
		Action:  action,
		Note:    note,
	})
	if err != nil {
		s.logger.Warn("record approval", slog.String("entry_id", ref.String()), slog.Any("error", err))
	}
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, entry *Entry) {
	if s.audit == nil || entry == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "ledger_entry",
		EntityID: entry.ID.String(),
		Meta: map[string]any{
			"booking_id": entry.BookingID,
			"amount":     entry.Amount,
			"channel":    string(entry.Channel),
		},
	})
	if err != nil {
		s.logger.Warn("record audit", slog.String("entry_id", entry.ID.String()), slog.Any("error", err))
	}
}
