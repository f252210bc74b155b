package commission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/atlas-dms/atlas-dms/internal/ledger"
	"github.com/atlas-dms/atlas-dms/internal/onaccount"
	"github.com/atlas-dms/atlas-dms/internal/platform/httpx"
	"github.com/atlas-dms/atlas-dms/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	ListRates(ctx context.Context) ([]Rate, error)
	BookingComponents(ctx context.Context, subdealerID int64, month, year int) ([]BookingComponent, error)
	FindActive(ctx context.Context, subdealerID int64, month, year int) (*Settlement, error)
	Get(ctx context.Context, id uuid.UUID) (*Settlement, error)
	Create(ctx context.Context, s *Settlement) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status SettlementStatus) error
}

// OnAccountPort seeds pooled receipts for on-account settlements.
type OnAccountPort interface {
	CreateReceipt(ctx context.Context, input onaccount.CreateReceiptInput) (*onaccount.Receipt, error)
}

// LedgerPort books the debit entry for ledger-debit settlements.
type LedgerPort interface {
	RecordDebit(ctx context.Context, input ledger.DebitInput) (*ledger.PaymentResult, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service computes and settles sub-dealer commissions.
type Service struct {
	repo     RepositoryPort
	receipts OnAccountPort
	entries  LedgerPort
	audit    AuditPort
	logger   *slog.Logger
}

// NewService builds a Service instance.
func NewService(repo RepositoryPort, receipts OnAccountPort, entries LedgerPort, audit AuditPort, logger *slog.Logger) *Service {
	return &Service{repo: repo, receipts: receipts, entries: entries, audit: audit, logger: logger}
}

// Compute sums per-booking commission for a sub-dealer's month. Bookings
// whose header has no applicable rate are skipped and reported, not errored.
func (s *Service) Compute(ctx context.Context, subdealerID int64, month, year int) (*Computation, error) {
	if err := validatePeriod(subdealerID, month, year); err != nil {
		return nil, err
	}
	rates, err := s.repo.ListRates(ctx)
	if err != nil {
		return nil, err
	}
	components, err := s.repo.BookingComponents(ctx, subdealerID, month, year)
	if err != nil {
		return nil, err
	}

	on := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	result := &Computation{SubdealerID: subdealerID, Month: month, Year: year}
	for _, c := range components {
		percent, ok := ApplicableRate(rates, c.Header, on)
		if !ok {
			result.Skipped = append(result.Skipped, c.BookingID)
			s.logger.Warn("no commission rate for booking",
				slog.Int64("booking_id", c.BookingID),
				slog.String("header", c.Header))
			continue
		}
		commission := round2(c.ComponentValue * percent / 100)
		result.Lines = append(result.Lines, ComputationLine{
			BookingID:      c.BookingID,
			ComponentValue: c.ComponentValue,
			RatePercent:    percent,
			Commission:     commission,
		})
		result.Total = round2(result.Total + commission)
	}
	return result, nil
}

// SettleInput selects the sub-dealer month to settle and how to pay it out.
// BankID names the bank issuing the pay order for on-account settlements;
// BookingID is required only for the ledger-debit mode, naming the booking
// the debit entry is recorded against.
type SettleInput struct {
	SubdealerID int64
	Month       int
	Year        int
	Mode        SettleMode
	BankID      int64
	BookingID   int64
	ActorID     int64
}

// Settle pays out a computed commission. The on-account mode seeds a pooled
// receipt with the amount and is paid immediately; the ledger-debit mode
// books a debit entry and stays pending until UpdateStatus decides it. A
// prior PENDING or PAID settlement for the same month blocks a new one.
func (s *Service) Settle(ctx context.Context, input SettleInput) (*Settlement, error) {
	if err := validatePeriod(input.SubdealerID, input.Month, input.Year); err != nil {
		return nil, err
	}
	if input.Mode != ModeOnAccount && input.Mode != ModeLedgerDebit {
		return nil, fmt.Errorf("unknown settle mode %q: %w", input.Mode, httpx.ErrValidation)
	}
	if input.Mode == ModeOnAccount && input.BankID <= 0 {
		return nil, fmt.Errorf("issuing bank required for on-account settlement: %w", httpx.ErrValidation)
	}
	if input.Mode == ModeLedgerDebit && input.BookingID <= 0 {
		return nil, fmt.Errorf("booking id required for ledger-debit settlement: %w", httpx.ErrValidation)
	}

	prior, err := s.repo.FindActive(ctx, input.SubdealerID, input.Month, input.Year)
	switch {
	case err == nil:
		return nil, fmt.Errorf("settlement %s already %s for %d/%d: %w", prior.ID, prior.Status, input.Month, input.Year, httpx.ErrDuplicate)
	case !errors.Is(err, httpx.ErrNotFound):
		return nil, fmt.Errorf("look up active settlement: %w", err)
	}

	computed, err := s.Compute(ctx, input.SubdealerID, input.Month, input.Year)
	if err != nil {
		return nil, err
	}
	if computed.Total <= 0 {
		return nil, fmt.Errorf("nothing to settle for subdealer %d %d/%d: %w", input.SubdealerID, input.Month, input.Year, httpx.ErrValidation)
	}

	settlement := &Settlement{
		SubdealerID: input.SubdealerID,
		Month:       input.Month,
		Year:        input.Year,
		Amount:      computed.Total,
		Mode:        input.Mode,
		CreatedBy:   input.ActorID,
	}

	switch input.Mode {
	case ModeOnAccount:
		receipt, err := s.receipts.CreateReceipt(ctx, onaccount.CreateReceiptInput{
			SubdealerID: input.SubdealerID,
			RefNumber:   fmt.Sprintf("COMM-%d-%04d%02d", input.SubdealerID, input.Year, input.Month),
			Amount:      computed.Total,
			Channel:     ledger.ChannelPayOrder,
			BankID:      input.BankID,
			ActorID:     input.ActorID,
		})
		if err != nil {
			return nil, fmt.Errorf("seed commission receipt: %w", err)
		}
		settlement.ReceiptID = &receipt.ID
		settlement.Status = SettlementPaid
	case ModeLedgerDebit:
		result, err := s.entries.RecordDebit(ctx, ledger.DebitInput{
			BookingID: input.BookingID,
			Amount:    computed.Total,
			Reason:    fmt.Sprintf("commission settlement subdealer %d %02d/%04d", input.SubdealerID, input.Month, input.Year),
			ActorID:   input.ActorID,
		})
		if err != nil {
			return nil, fmt.Errorf("book commission debit: %w", err)
		}
		settlement.EntryID = &result.Entry.ID
		settlement.Status = SettlementPending
	}

	if err := s.repo.Create(ctx, settlement); err != nil {
		return nil, err
	}
	s.recordAudit(ctx, input.ActorID, "commission.settle", settlement)
	return settlement, nil
}

// UpdateStatus decides a pending settlement.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, status SettlementStatus, actorID int64) (*Settlement, error) {
	if status != SettlementPaid && status != SettlementFailed {
		return nil, fmt.Errorf("status must be PAID or FAILED: %w", httpx.ErrValidation)
	}
	if err := s.repo.UpdateStatus(ctx, id, status); err != nil {
		return nil, err
	}
	settlement, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, actorID, "commission.status", settlement)
	return settlement, nil
}

func validatePeriod(subdealerID int64, month, year int) error {
	if subdealerID <= 0 {
		return fmt.Errorf("subdealer required: %w", httpx.ErrValidation)
	}
	if month < 1 || month > 12 {
		return fmt.Errorf("month out of range: %w", httpx.ErrValidation)
	}
	if year < 2000 || year > 2200 {
		return fmt.Errorf("year out of range: %w", httpx.ErrValidation)
	}
	return nil
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, settlement *Settlement) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "commission_settlement",
		EntityID: settlement.ID.String(),
		Meta: map[string]any{
			"subdealer_id": settlement.SubdealerID,
			"month":        settlement.Month,
			"year":         settlement.Year,
			"amount":       settlement.Amount,
			"status":       string(settlement.Status),
		},
	})
	if err != nil {
		s.logger.Warn("record audit", slog.String("settlement_id", settlement.ID.String()), slog.Any("error", err))
	}
}
