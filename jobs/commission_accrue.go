package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atlas-dms/atlas-dms/internal/commission"
	jobmetrics "github.com/atlas-dms/atlas-dms/internal/jobs"
)

// CommissionPort computes commission for a sub-dealer period.
type CommissionPort interface {
	Compute(ctx context.Context, subdealerID int64, month, year int) (*commission.Computation, error)
}

// CommissionAccrueJob computes each sub-dealer's commission for the period
// and logs the accrual. Settlement stays a deliberate operator action; the
// job only surfaces what is owed.
type CommissionAccrueJob struct {
	Pool        *pgxpool.Pool
	Commissions CommissionPort
	Logger      *slog.Logger
	Metrics     *jobmetrics.Metrics
	clock       func() time.Time
}

// NewCommissionAccrueJob initialises the accrual handler.
func NewCommissionAccrueJob(pool *pgxpool.Pool, commissions CommissionPort, logger *slog.Logger, metrics *jobmetrics.Metrics) *CommissionAccrueJob {
	return &CommissionAccrueJob{
		Pool:        pool,
		Commissions: commissions,
		Logger:      logger,
		Metrics:     metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the accrual run.
func (j *CommissionAccrueJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil {
		return errors.New("commission accrue: handler not configured")
	}
	var payload CommissionAccruePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.Month == 0 || payload.Year == 0 {
		prev := j.now().AddDate(0, -1, 0)
		payload.Month = int(prev.Month())
		payload.Year = prev.Year()
	}

	tracker := j.metrics().Track(TaskCommissionAccrue)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.Int("month", payload.Month), slog.Int("year", payload.Year))
	logger.Info("starting commission accrual")

	subdealers, err := j.subdealers(ctx, payload.Month, payload.Year)
	if err != nil {
		resultErr = err
		logger.Error("list subdealers failed", slog.Any("error", err))
		return resultErr
	}

	accrued := 0
	for _, id := range subdealers {
		computed, err := j.Commissions.Compute(ctx, id, payload.Month, payload.Year)
		if err != nil {
			logger.Error("compute failed", slog.Int64("subdealer_id", id), slog.Any("error", err))
			resultErr = err
			continue
		}
		if computed.Total <= 0 {
			continue
		}
		accrued++
		logger.Info("commission accrued",
			slog.Int64("subdealer_id", id),
			slog.Float64("total", computed.Total),
			slog.Int("bookings", len(computed.Lines)),
			slog.Int("skipped", len(computed.Skipped)),
		)
	}

	logger.Info("completed commission accrual",
		slog.Int("subdealers", len(subdealers)),
		slog.Int("accrued", accrued),
	)
	return resultErr
}

func (j *CommissionAccrueJob) subdealers(ctx context.Context, month, year int) ([]int64, error) {
	if j.Pool == nil {
		return nil, errors.New("commission accrue: pool not configured")
	}
	rows, err := j.Pool.Query(ctx, `SELECT DISTINCT subdealer_id FROM bookings
		WHERE classification = 'SUBDEALER'
		  AND status = 'APPROVED'
		  AND EXTRACT(MONTH FROM created_at) = $1
		  AND EXTRACT(YEAR FROM created_at) = $2
		ORDER BY subdealer_id`, month, year)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (j *CommissionAccrueJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskCommissionAccrue))
	}
	return slog.Default().With(slog.String("job", TaskCommissionAccrue))
}

func (j *CommissionAccrueJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *CommissionAccrueJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
