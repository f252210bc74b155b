package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	jobmetrics "github.com/atlas-dms/atlas-dms/internal/jobs"
	"github.com/atlas-dms/atlas-dms/internal/observability"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

const driftEpsilon = 0.005

// LedgerReconcileJob folds approved ledger entries per booking and compares
// the result with the stored received/balance amounts. Drift is reported,
// never auto-corrected: a drifted booking means a best-effort write sequence
// was interrupted and needs an operator's eye.
type LedgerReconcileJob struct {
	Pool    *pgxpool.Pool
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	Gauges  *observability.Metrics
	clock   func() time.Time
}

// NewLedgerReconcileJob initialises the reconciliation handler.
func NewLedgerReconcileJob(pool *pgxpool.Pool, logger *slog.Logger, metrics *jobmetrics.Metrics, gauges *observability.Metrics) *LedgerReconcileJob {
	return &LedgerReconcileJob{
		Pool:    pool,
		Logger:  logger,
		Metrics: metrics,
		Gauges:  gauges,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the reconciliation sweep.
func (j *LedgerReconcileJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil {
		return errors.New("ledger reconcile: handler not configured")
	}
	var payload LedgerReconcilePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	start := j.now()
	tracker := j.metrics().Track(TaskLedgerReconcile)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger()
	logger.Info("starting reconciliation sweep")

	inspected, drifted, err := j.sweep(ctx, payload)
	if err != nil {
		logger.Error("sweep failed", slog.Any("error", err))
		return err
	}

	for _, d := range drifted {
		logger.Warn("booking balance drifted",
			slog.Int64("booking_id", d.BookingID),
			slog.Float64("stored_received", d.StoredReceived),
			slog.Float64("folded_received", d.FoldedReceived),
			slog.Float64("delta", d.Delta),
		)
		j.metrics().AddDrift(d.BookingID, 1)
	}
	j.Gauges.SetBalanceDrift(len(drifted))

	logger.Info("completed reconciliation sweep",
		slog.Int("inspected", inspected),
		slog.Int("drifted", len(drifted)),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

type driftedBooking struct {
	BookingID      int64
	StoredReceived float64
	FoldedReceived float64
	Delta          float64
}

func (j *LedgerReconcileJob) sweep(ctx context.Context, payload LedgerReconcilePayload) (int, []driftedBooking, error) {
	if j.Pool == nil {
		return 0, nil, errors.New("ledger reconcile: pool not configured")
	}
	query := `SELECT b.id,
			b.received_amount,
			COALESCE(SUM(e.amount) FILTER (WHERE NOT e.is_debit), 0)
		FROM bookings b
		LEFT JOIN ledger_entries e ON e.booking_id = b.id AND e.approval_status = 'APPROVED'
		GROUP BY b.id, b.received_amount
		ORDER BY b.id`
	args := []any{}
	if payload.BatchSize > 0 {
		query += ` LIMIT $1`
		args = append(args, payload.BatchSize)
	}
	rows, err := j.Pool.Query(ctx, query, args...)
	if err != nil {
		return 0, nil, err
	}
	defer rows.Close()

	inspected := 0
	var drifted []driftedBooking
	for rows.Next() {
		var bookingID int64
		var stored, folded float64
		if err := rows.Scan(&bookingID, &stored, &folded); err != nil {
			return 0, nil, err
		}
		inspected++
		delta := stored - folded
		if math.Abs(delta) <= driftEpsilon {
			continue
		}
		drifted = append(drifted, driftedBooking{
			BookingID:      bookingID,
			StoredReceived: stored,
			FoldedReceived: folded,
			Delta:          delta,
		})
	}
	return inspected, drifted, rows.Err()
}

func (j *LedgerReconcileJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskLedgerReconcile))
	}
	return slog.Default().With(slog.String("job", TaskLedgerReconcile))
}

func (j *LedgerReconcileJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *LedgerReconcileJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
