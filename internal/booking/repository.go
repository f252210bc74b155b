package booking

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atlas-dms/atlas-dms/internal/platform/db"
	"github.com/atlas-dms/atlas-dms/internal/platform/httpx"
)

// Repository provides PostgreSQL backed persistence for bookings.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const bookingColumns = `id, code, classification, status, subdealer_id, model_id, color_id,
	discounted_amount, received_amount, balance_amount, vehicle_id,
	chassis_no, motor_no, battery_no, engine_no, key_no, charger_no,
	version, created_at, updated_at`

// Create inserts a booking with a zeroed received amount.
func (r *Repository) Create(ctx context.Context, input CreateInput) (*Booking, error) {
	query := `
		INSERT INTO bookings (
			code, classification, status, subdealer_id, model_id, color_id,
			discounted_amount, received_amount, balance_amount,
			chassis_no, motor_no, battery_no, engine_no, key_no, charger_no,
			version, created_at, updated_at
		) VALUES ($1, $2, 'APPROVED', $3, $4, $5, $6, 0, $6, $7, $8, $9, $10, $11, $12, 1, NOW(), NOW())
		RETURNING ` + bookingColumns

	var subdealer pgtype.Int8
	if input.SubdealerID > 0 {
		subdealer = pgtype.Int8{Int64: input.SubdealerID, Valid: true}
	}

	row := r.pool.QueryRow(ctx, query,
		input.Code,
		string(input.Classification),
		subdealer,
		input.ModelID,
		input.ColorID,
		input.DiscountedAmount,
		input.ChassisNo,
		input.MotorNo,
		input.BatteryNo,
		input.EngineNo,
		input.KeyNo,
		input.ChargerNo,
	)
	return scanBooking(row)
}

// Get retrieves a booking by ID.
func (r *Repository) Get(ctx context.Context, id int64) (*Booking, error) {
	return r.GetFor(ctx, r.pool, id)
}

// GetFor retrieves a booking through the supplied querier so in-transaction
// callers read their own writes.
func (r *Repository) GetFor(ctx context.Context, q db.Querier, id int64) (*Booking, error) {
	row := q.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id)
	b, err := scanBooking(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("booking %d: %w", id, httpx.ErrNotFound)
		}
		return nil, err
	}
	return b, nil
}

// UpdateAmounts writes new received/balance aggregates. The update is
// conditional on the version the caller read; zero rows affected means a
// concurrent writer got there first.
func (r *Repository) UpdateAmounts(ctx context.Context, q db.Querier, id int64, received, balance float64, expectedVersion int64) error {
	tag, err := q.Exec(ctx, `
		UPDATE bookings
		SET received_amount = $2, balance_amount = $3, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $4`,
		id, received, balance, expectedVersion)
	if err != nil {
		return fmt.Errorf("booking: update amounts: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("booking %d version %d: %w", id, expectedVersion, httpx.ErrVersionConflict)
	}
	return nil
}

// SetVehicle links the sold vehicle to the booking.
func (r *Repository) SetVehicle(ctx context.Context, q db.Querier, id, vehicleID int64) error {
	_, err := q.Exec(ctx, `UPDATE bookings SET vehicle_id = $2, updated_at = NOW() WHERE id = $1`, id, vehicleID)
	if err != nil {
		return fmt.Errorf("booking: set vehicle: %w", err)
	}
	return nil
}

// FoldEntries recomputes aggregates from the approved ledger entries, the
// single source of truth the cached amounts are reconciled against.
func (r *Repository) FoldEntries(ctx context.Context, id int64) (credits, debits float64, err error) {
	err = r.pool.QueryRow(ctx, `
		SELECT
			COALESCE(SUM(amount) FILTER (WHERE NOT is_debit), 0),
			COALESCE(SUM(amount) FILTER (WHERE is_debit), 0)
		FROM ledger_entries
		WHERE booking_id = $1 AND approval_status = 'APPROVED'`, id).Scan(&credits, &debits)
	if err != nil {
		return 0, 0, fmt.Errorf("booking: fold entries: %w", err)
	}
	return credits, debits, nil
}

// StatementRows returns the booking's effective entries in posting order.
func (r *Repository) StatementRows(ctx context.Context, id int64) ([]StatementRow, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT COALESCE(approved_at, created_at), kind, channel, remark, is_debit, amount
		FROM ledger_entries
		WHERE booking_id = $1 AND approval_status = 'APPROVED'
		ORDER BY COALESCE(approved_at, created_at) ASC, created_at ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("booking: statement rows: %w", err)
	}
	defer rows.Close()

	var out []StatementRow
	for rows.Next() {
		var (
			row     StatementRow
			kind    string
			channel string
			remark  string
			isDebit bool
			amount  float64
		)
		if err := rows.Scan(&row.At, &kind, &channel, &remark, &isDebit, &amount); err != nil {
			return nil, err
		}
		row.Description = statementDescription(kind, channel, remark)
		if isDebit {
			row.Debit = amount
		} else {
			row.Credit = amount
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func statementDescription(kind, channel, remark string) string {
	if remark != "" {
		return remark
	}
	if channel != "" {
		return kind + " via " + channel
	}
	return kind
}

func scanBooking(row pgx.Row) (*Booking, error) {
	var (
		b         Booking
		subdealer pgtype.Int8
		vehicle   pgtype.Int8
	)
	err := row.Scan(
		&b.ID, &b.Code, &b.Classification, &b.Status, &subdealer, &b.ModelID, &b.ColorID,
		&b.DiscountedAmount, &b.ReceivedAmount, &b.BalanceAmount, &vehicle,
		&b.ChassisNo, &b.MotorNo, &b.BatteryNo, &b.EngineNo, &b.KeyNo, &b.ChargerNo,
		&b.Version, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if subdealer.Valid {
		b.SubdealerID = subdealer.Int64
	}
	if vehicle.Valid {
		b.VehicleID = vehicle.Int64
	}
	return &b, nil
}
