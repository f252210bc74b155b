package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLedgerReconcile sweeps bookings comparing stored balances with
	// the ledger fold.
	TaskLedgerReconcile = "ledger:reconcile"
	// TaskCommissionAccrue computes the previous month's commission per
	// sub-dealer without settling it.
	TaskCommissionAccrue = "commission:accrue"
	// TaskIdempotencyCleanup removes expired idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

// LedgerReconcilePayload tunes the reconciliation sweep.
type LedgerReconcilePayload struct {
	// BatchSize caps how many bookings one run inspects. Zero means all.
	BatchSize int `json:"batchSize"`
}

// NewLedgerReconcileTask constructs an Asynq task.
func NewLedgerReconcileTask(payload LedgerReconcilePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerReconcile, data), nil
}

// CommissionAccruePayload selects the accrual period. Zero month/year means
// the previous calendar month.
type CommissionAccruePayload struct {
	Month int `json:"month"`
	Year  int `json:"year"`
}

// NewCommissionAccrueTask constructs an Asynq task.
func NewCommissionAccrueTask(payload CommissionAccruePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCommissionAccrue, data), nil
}

// IdempotencyCleanupPayload tunes the retention window in hours.
type IdempotencyCleanupPayload struct {
	RetentionHours int `json:"retentionHours"`
}

// NewIdempotencyCleanupTask constructs an Asynq task.
func NewIdempotencyCleanupTask(payload IdempotencyCleanupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, data), nil
}
