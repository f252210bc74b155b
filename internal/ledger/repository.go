package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atlas-dms/atlas-dms/internal/platform/db"
	"github.com/atlas-dms/atlas-dms/internal/platform/httpx"
)

// Repository provides PostgreSQL backed persistence for ledger entries.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const entryColumns = `id, booking_id, kind, is_debit, amount, channel, cash_location, bank_id, sub_mode,
	remark, approval_status, approved_by, approved_at, source_kind, source_receipt_id, created_by, created_at`

// Create inserts an entry. The caller supplies a fully validated Entry; the
// repository fills the generated identifier and timestamp.
func (r *Repository) Create(ctx context.Context, q db.Querier, e *Entry) (*Entry, error) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}

	var bankID pgtype.Int8
	if e.BankID > 0 {
		bankID = pgtype.Int8{Int64: e.BankID, Valid: true}
	}
	var approvedBy pgtype.Int8
	if e.ApprovedBy > 0 {
		approvedBy = pgtype.Int8{Int64: e.ApprovedBy, Valid: true}
	}
	var sourceReceipt pgtype.UUID
	if e.SourceReceiptID != uuid.Nil {
		sourceReceipt = pgtype.UUID{Bytes: e.SourceReceiptID, Valid: true}
	}

	err := q.QueryRow(ctx, `
		INSERT INTO ledger_entries (
			id, booking_id, kind, is_debit, amount, channel, cash_location, bank_id, sub_mode,
			remark, approval_status, approved_by, approved_at, source_kind, source_receipt_id,
			created_by, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, NOW())
		RETURNING created_at`,
		e.ID, e.BookingID, string(e.Kind), e.IsDebit, e.Amount, string(e.Channel),
		e.CashLocation, bankID, e.SubMode, e.Remark, string(e.ApprovalStatus),
		approvedBy, e.ApprovedAt, string(e.SourceKind), sourceReceipt, e.CreatedBy,
	).Scan(&e.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("ledger: create entry: %w", err)
	}
	return e, nil
}

// Get retrieves an entry by ID.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*Entry, error) {
	return r.GetFor(ctx, r.pool, id)
}

// GetFor retrieves an entry through the supplied querier.
func (r *Repository) GetFor(ctx context.Context, q db.Querier, id uuid.UUID) (*Entry, error) {
	row := q.QueryRow(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE id = $1`, id)
	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("ledger entry %s: %w", id, httpx.ErrNotFound)
		}
		return nil, err
	}
	return e, nil
}

// MarkApproved flips a pending entry to approved. The update is conditional
// on the pending status so two racing approvals cannot both take effect.
func (r *Repository) MarkApproved(ctx context.Context, q db.Querier, id uuid.UUID, approvedBy int64, at time.Time) error {
	tag, err := q.Exec(ctx, `
		UPDATE ledger_entries
		SET approval_status = 'APPROVED', approved_by = $2, approved_at = $3
		WHERE id = $1 AND approval_status = 'PENDING'`,
		id, approvedBy, at)
	if err != nil {
		return fmt.Errorf("ledger: mark approved: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("ledger entry %s is not pending: %w", id, httpx.ErrInvalidState)
	}
	return nil
}

// MarkRejected flips a pending entry to rejected. Nothing was applied for a
// pending entry, so there is nothing to reverse.
func (r *Repository) MarkRejected(ctx context.Context, q db.Querier, id uuid.UUID, rejectedBy int64, at time.Time) error {
	tag, err := q.Exec(ctx, `
		UPDATE ledger_entries
		SET approval_status = 'REJECTED', approved_by = $2, approved_at = $3
		WHERE id = $1 AND approval_status = 'PENDING'`,
		id, rejectedBy, at)
	if err != nil {
		return fmt.Errorf("ledger: mark rejected: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("ledger entry %s is not pending: %w", id, httpx.ErrInvalidState)
	}
	return nil
}

// UpdateAmount corrects an entry amount in place.
func (r *Repository) UpdateAmount(ctx context.Context, q db.Querier, id uuid.UUID, amount float64) error {
	tag, err := q.Exec(ctx, `UPDATE ledger_entries SET amount = $2 WHERE id = $1`, id, amount)
	if err != nil {
		return fmt.Errorf("ledger: update amount: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("ledger entry %s: %w", id, httpx.ErrNotFound)
	}
	return nil
}

// Delete removes an entry. Only the deallocation path does this.
func (r *Repository) Delete(ctx context.Context, q db.Querier, id uuid.UUID) error {
	tag, err := q.Exec(ctx, `DELETE FROM ledger_entries WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("ledger: delete entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("ledger entry %s: %w", id, httpx.ErrNotFound)
	}
	return nil
}

// PendingFilter narrows the pending entry listing.
type PendingFilter struct {
	NonCashOnly bool
	Page        int
	PerPage     int
}

// ListPending returns pending entries, newest first, with the total count.
func (r *Repository) ListPending(ctx context.Context, filter PendingFilter) ([]Entry, int, error) {
	where := `approval_status = 'PENDING'`
	if filter.NonCashOnly {
		where += ` AND channel <> 'CASH'`
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM ledger_entries WHERE `+where).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ledger: count pending: %w", err)
	}

	perPage := filter.PerPage
	if perPage <= 0 {
		perPage = 20
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+entryColumns+` FROM ledger_entries
		WHERE `+where+`
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`, perPage, (page-1)*perPage)
	if err != nil {
		return nil, 0, fmt.Errorf("ledger: list pending: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// CreateReceipt records the printed money receipt for an effective entry.
func (r *Repository) CreateReceipt(ctx context.Context, q db.Querier, e *Entry) (*Receipt, error) {
	receipt := Receipt{
		ID:        uuid.New(),
		EntryID:   e.ID,
		BookingID: e.BookingID,
		Amount:    e.Amount,
	}
	err := q.QueryRow(ctx, `
		INSERT INTO money_receipts (id, number, entry_id, booking_id, amount, created_at)
		VALUES ($1, 'RCP-' || LPAD(nextval('money_receipt_seq')::text, 6, '0'), $2, $3, $4, NOW())
		RETURNING number, created_at`,
		receipt.ID, receipt.EntryID, receipt.BookingID, receipt.Amount,
	).Scan(&receipt.Number, &receipt.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("ledger: create receipt: %w", err)
	}
	return &receipt, nil
}

func scanEntry(row pgx.Row) (*Entry, error) {
	var (
		e             Entry
		bankID        pgtype.Int8
		approvedBy    pgtype.Int8
		approvedAt    pgtype.Timestamptz
		sourceReceipt pgtype.UUID
	)
	err := row.Scan(
		&e.ID, &e.BookingID, &e.Kind, &e.IsDebit, &e.Amount, &e.Channel,
		&e.CashLocation, &bankID, &e.SubMode, &e.Remark, &e.ApprovalStatus,
		&approvedBy, &approvedAt, &e.SourceKind, &sourceReceipt, &e.CreatedBy, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if bankID.Valid {
		e.BankID = bankID.Int64
	}
	if approvedBy.Valid {
		e.ApprovedBy = approvedBy.Int64
	}
	if approvedAt.Valid {
		at := approvedAt.Time
		e.ApprovedAt = &at
	}
	if sourceReceipt.Valid {
		e.SourceReceiptID = sourceReceipt.Bytes
	}
	return &e, nil
}
