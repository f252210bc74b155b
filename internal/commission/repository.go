package commission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atlas-dms/atlas-dms/internal/platform/httpx"
)

// Repository persists commission rates and settlements in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository builds a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListRates returns the full rate table.
func (r *Repository) ListRates(ctx context.Context) ([]Rate, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, header, percent, effective_from, effective_to FROM commission_rates ORDER BY header, effective_from`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rates []Rate
	for rows.Next() {
		var rate Rate
		var to pgtype.Timestamptz
		if err := rows.Scan(&rate.ID, &rate.Header, &rate.Percent, &rate.EffectiveFrom, &to); err != nil {
			return nil, err
		}
		if to.Valid {
			t := to.Time
			rate.EffectiveTo = &t
		}
		rates = append(rates, rate)
	}
	return rates, rows.Err()
}

// BookingComponents returns the commissionable value of each approved
// sub-dealer booking created in the given month.
func (r *Repository) BookingComponents(ctx context.Context, subdealerID int64, month, year int) ([]BookingComponent, error) {
	rows, err := r.pool.Query(ctx, `SELECT b.id, m.commission_header, b.discounted_amount
		FROM bookings b
		JOIN vehicle_models m ON m.id = b.model_id
		WHERE b.subdealer_id = $1
		  AND b.classification = 'SUBDEALER'
		  AND b.status = 'APPROVED'
		  AND EXTRACT(MONTH FROM b.created_at) = $2
		  AND EXTRACT(YEAR FROM b.created_at) = $3
		ORDER BY b.id`, subdealerID, month, year)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var components []BookingComponent
	for rows.Next() {
		var c BookingComponent
		if err := rows.Scan(&c.BookingID, &c.Header, &c.ComponentValue); err != nil {
			return nil, err
		}
		components = append(components, c)
	}
	return components, rows.Err()
}

// FindActive returns the settlement for a sub-dealer/month/year whose status
// is still PENDING or PAID, or ErrNotFound.
func (r *Repository) FindActive(ctx context.Context, subdealerID int64, month, year int) (*Settlement, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+settlementColumns+` FROM commission_settlements
		WHERE subdealer_id = $1 AND month = $2 AND year = $3 AND status IN ('PENDING', 'PAID')
		ORDER BY created_at DESC LIMIT 1`, subdealerID, month, year)
	s, err := scanSettlement(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("settlement for subdealer %d %d/%d: %w", subdealerID, month, year, httpx.ErrNotFound)
	}
	return s, err
}

// Get fetches one settlement.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*Settlement, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+settlementColumns+` FROM commission_settlements WHERE id = $1`, id)
	s, err := scanSettlement(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("settlement %s: %w", id, httpx.ErrNotFound)
	}
	return s, err
}

const settlementColumns = `id, subdealer_id, month, year, amount, mode, status, receipt_id, entry_id, created_by, created_at, updated_at`

// Create inserts a settlement.
func (r *Repository) Create(ctx context.Context, s *Settlement) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	var receiptID, entryID pgtype.UUID
	if s.ReceiptID != nil {
		receiptID = pgtype.UUID{Bytes: *s.ReceiptID, Valid: true}
	}
	if s.EntryID != nil {
		entryID = pgtype.UUID{Bytes: *s.EntryID, Valid: true}
	}
	row := r.pool.QueryRow(ctx, `INSERT INTO commission_settlements
			(id, subdealer_id, month, year, amount, mode, status, receipt_id, entry_id, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at`,
		s.ID, s.SubdealerID, s.Month, s.Year, s.Amount, s.Mode, s.Status, receiptID, entryID, s.CreatedBy)
	return row.Scan(&s.CreatedAt, &s.UpdatedAt)
}

// UpdateStatus moves a PENDING settlement to its terminal status. A
// settlement already decided reports ErrInvalidState.
func (r *Repository) UpdateStatus(ctx context.Context, id uuid.UUID, status SettlementStatus) error {
	tag, err := r.pool.Exec(ctx, `UPDATE commission_settlements SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = 'PENDING'`, status, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("settlement %s is not pending: %w", id, httpx.ErrInvalidState)
	}
	return nil
}

func scanSettlement(row pgx.Row) (*Settlement, error) {
	var s Settlement
	var receiptID, entryID pgtype.UUID
	var createdAt, updatedAt time.Time
	err := row.Scan(&s.ID, &s.SubdealerID, &s.Month, &s.Year, &s.Amount, &s.Mode, &s.Status, &receiptID, &entryID, &s.CreatedBy, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if receiptID.Valid {
		id := uuid.UUID(receiptID.Bytes)
		s.ReceiptID = &id
	}
	if entryID.Valid {
		id := uuid.UUID(entryID.Bytes)
		s.EntryID = &id
	}
	s.CreatedAt = createdAt
	s.UpdatedAt = updatedAt
	return &s, nil
}
