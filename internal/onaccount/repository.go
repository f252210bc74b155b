package onaccount

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atlas-dms/atlas-dms/internal/platform/db"
	"github.com/atlas-dms/atlas-dms/internal/platform/httpx"
)

// Repository provides PostgreSQL backed persistence for on-account receipts.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const receiptColumns = `id, subdealer_id, ref_number, amount, allocated_total, status, channel,
	cash_location, bank_id, sub_mode, closed_at, closed_by, version, created_by, created_at`

// CreateReceipt inserts an OPEN receipt. The (subdealer, ref_number) pair is
// unique, enforced by the database.
func (r *Repository) CreateReceipt(ctx context.Context, input CreateReceiptInput) (*Receipt, error) {
	receipt := Receipt{
		ID:           uuid.New(),
		SubdealerID:  input.SubdealerID,
		RefNumber:    input.RefNumber,
		Amount:       input.Amount,
		Status:       StatusOpen,
		Channel:      input.Channel,
		CashLocation: input.CashLocation,
		BankID:       input.BankID,
		SubMode:      input.SubMode,
		Version:      1,
		CreatedBy:    input.ActorID,
	}

	var bankID pgtype.Int8
	if input.BankID > 0 {
		bankID = pgtype.Int8{Int64: input.BankID, Valid: true}
	}

	err := r.pool.QueryRow(ctx, `
		INSERT INTO onaccount_receipts (
			id, subdealer_id, ref_number, amount, allocated_total, status, channel,
			cash_location, bank_id, sub_mode, version, created_by, created_at
		) VALUES ($1, $2, $3, $4, 0, 'OPEN', $5, $6, $7, $8, 1, $9, NOW())
		RETURNING created_at`,
		receipt.ID, receipt.SubdealerID, receipt.RefNumber, receipt.Amount,
		string(receipt.Channel), receipt.CashLocation, bankID, receipt.SubMode, receipt.CreatedBy,
	).Scan(&receipt.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, fmt.Errorf("receipt %q already exists for subdealer %d: %w", input.RefNumber, input.SubdealerID, httpx.ErrDuplicate)
		}
		return nil, fmt.Errorf("onaccount: create receipt: %w", err)
	}
	return &receipt, nil
}

// Get retrieves a receipt with its allocations.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*Receipt, error) {
	return r.GetFor(ctx, r.pool, id)
}

// GetFor retrieves a receipt through the supplied querier.
func (r *Repository) GetFor(ctx context.Context, q db.Querier, id uuid.UUID) (*Receipt, error) {
	row := q.QueryRow(ctx, `SELECT `+receiptColumns+` FROM onaccount_receipts WHERE id = $1`, id)
	receipt, err := scanReceipt(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("receipt %s: %w", id, httpx.ErrNotFound)
		}
		return nil, err
	}

	rows, err := q.Query(ctx, `
		SELECT id, receipt_id, booking_id, amount, entry_id, actor_id, at
		FROM onaccount_allocations WHERE receipt_id = $1 ORDER BY at ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("onaccount: load allocations: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var a Allocation
		if err := rows.Scan(&a.ID, &a.ReceiptID, &a.BookingID, &a.Amount, &a.EntryID, &a.ActorID, &a.At); err != nil {
			return nil, err
		}
		receipt.Allocations = append(receipt.Allocations, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return receipt, nil
}

// ListBySubdealer returns a sub-dealer's receipts, newest first.
func (r *Repository) ListBySubdealer(ctx context.Context, subdealerID int64) ([]Receipt, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+receiptColumns+` FROM onaccount_receipts
		WHERE subdealer_id = $1 ORDER BY created_at DESC`, subdealerID)
	if err != nil {
		return nil, fmt.Errorf("onaccount: list receipts: %w", err)
	}
	defer rows.Close()

	var out []Receipt
	for rows.Next() {
		receipt, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *receipt)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateAllocationState writes the receipt's allocation aggregates and
// derived status, conditional on the version the caller read.
func (r *Repository) UpdateAllocationState(ctx context.Context, q db.Querier, id uuid.UUID, allocatedTotal float64, status Status, closedAt *time.Time, closedBy int64, expectedVersion int64) error {
	var closedByArg pgtype.Int8
	if closedBy > 0 {
		closedByArg = pgtype.Int8{Int64: closedBy, Valid: true}
	}
	tag, err := q.Exec(ctx, `
		UPDATE onaccount_receipts
		SET allocated_total = $2, status = $3, closed_at = $4, closed_by = $5, version = version + 1
		WHERE id = $1 AND version = $6`,
		id, allocatedTotal, string(status), closedAt, closedByArg, expectedVersion)
	if err != nil {
		return fmt.Errorf("onaccount: update allocation state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("receipt %s version %d: %w", id, expectedVersion, httpx.ErrVersionConflict)
	}
	return nil
}

// InsertAllocation appends an allocation sub-record.
func (r *Repository) InsertAllocation(ctx context.Context, q db.Querier, a *Allocation) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	err := q.QueryRow(ctx, `
		INSERT INTO onaccount_allocations (id, receipt_id, booking_id, amount, entry_id, actor_id, at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		RETURNING at`,
		a.ID, a.ReceiptID, a.BookingID, a.Amount, a.EntryID, a.ActorID,
	).Scan(&a.At)
	if err != nil {
		return fmt.Errorf("onaccount: insert allocation: %w", err)
	}
	return nil
}

// DeleteAllocation removes an allocation sub-record.
func (r *Repository) DeleteAllocation(ctx context.Context, q db.Querier, id uuid.UUID) error {
	tag, err := q.Exec(ctx, `DELETE FROM onaccount_allocations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("onaccount: delete allocation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("allocation %s: %w", id, httpx.ErrNotFound)
	}
	return nil
}

func scanReceipt(row pgx.Row) (*Receipt, error) {
	var (
		receipt  Receipt
		bankID   pgtype.Int8
		closedAt pgtype.Timestamptz
		closedBy pgtype.Int8
	)
	err := row.Scan(
		&receipt.ID, &receipt.SubdealerID, &receipt.RefNumber, &receipt.Amount,
		&receipt.AllocatedTotal, &receipt.Status, &receipt.Channel,
		&receipt.CashLocation, &bankID, &receipt.SubMode,
		&closedAt, &closedBy, &receipt.Version, &receipt.CreatedBy, &receipt.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if bankID.Valid {
		receipt.BankID = bankID.Int64
	}
	if closedAt.Valid {
		at := closedAt.Time
		receipt.ClosedAt = &at
	}
	if closedBy.Valid {
		receipt.ClosedBy = closedBy.Int64
	}
	return &receipt, nil
}
