package vehicle

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atlas-dms/atlas-dms/internal/platform/db"
	"github.com/atlas-dms/atlas-dms/internal/platform/httpx"
)

// Repository persists vehicles in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository builds a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const vehicleColumns = `id, model_id, color_id, status, chassis_no, motor_no, battery_no, engine_no, key_no, charger_no, created_at`

// Get fetches one vehicle.
func (r *Repository) Get(ctx context.Context, id int64) (*Vehicle, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+vehicleColumns+` FROM vehicles WHERE id = $1`, id)
	v, err := scanVehicle(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("vehicle %d: %w", id, httpx.ErrNotFound)
	}
	return v, err
}

// FindCandidate returns the best unsold vehicle for a booking: model and
// colour must match, IN_STOCK beats IN_TRANSIT, earliest created wins. A
// non-empty chassis number narrows the match to that exact unit.
func (r *Repository) FindCandidate(ctx context.Context, modelID, colorID int64, chassisNo string) (*Vehicle, error) {
	query := `SELECT ` + vehicleColumns + ` FROM vehicles
		WHERE model_id = $1 AND color_id = $2 AND status IN ('NOT_APPROVED', 'IN_STOCK', 'IN_TRANSIT')`
	args := []any{modelID, colorID}
	if chassisNo != "" {
		query += ` AND chassis_no = $3`
		args = append(args, chassisNo)
	}
	query += ` ORDER BY CASE status WHEN 'IN_STOCK' THEN 0 WHEN 'IN_TRANSIT' THEN 1 ELSE 2 END, created_at ASC LIMIT 1`

	row := r.pool.QueryRow(ctx, query, args...)
	v, err := scanVehicle(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("no candidate vehicle for model %d colour %d: %w", modelID, colorID, httpx.ErrNotFound)
	}
	return v, err
}

// TransitionStatus moves a vehicle from its observed status to the target
// status. The update is conditional on the status the caller read, so a
// concurrent transition makes this a no-op reported as ErrVersionConflict.
func (r *Repository) TransitionStatus(ctx context.Context, q db.Querier, id int64, from, to Status) error {
	tag, err := q.Exec(ctx, `UPDATE vehicles SET status = $1 WHERE id = $2 AND status = $3`, to, id, from)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("vehicle %d moved from %s concurrently: %w", id, from, httpx.ErrVersionConflict)
	}
	return nil
}

// MarkSold transitions the vehicle to SOLD and backfills identifying
// numbers, keeping any number already recorded on the unit.
func (r *Repository) MarkSold(ctx context.Context, q db.Querier, id int64, from Status, n Numbers) error {
	tag, err := q.Exec(ctx, `UPDATE vehicles SET
			status = 'SOLD',
			chassis_no = COALESCE(NULLIF(chassis_no, ''), $1),
			motor_no = COALESCE(NULLIF(motor_no, ''), $2),
			battery_no = COALESCE(NULLIF(battery_no, ''), $3),
			engine_no = COALESCE(NULLIF(engine_no, ''), $4),
			key_no = COALESCE(NULLIF(key_no, ''), $5),
			charger_no = COALESCE(NULLIF(charger_no, ''), $6)
		WHERE id = $7 AND status = $8`,
		n.ChassisNo, n.MotorNo, n.BatteryNo, n.EngineNo, n.KeyNo, n.ChargerNo, id, from)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("vehicle %d moved from %s concurrently: %w", id, from, httpx.ErrVersionConflict)
	}
	return nil
}

func scanVehicle(row pgx.Row) (*Vehicle, error) {
	var v Vehicle
	err := row.Scan(&v.ID, &v.ModelID, &v.ColorID, &v.Status, &v.ChassisNo, &v.MotorNo, &v.BatteryNo, &v.EngineNo, &v.KeyNo, &v.ChargerNo, &v.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
