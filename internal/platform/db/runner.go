package db

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Mode selects how multi-step write sequences are executed.
type Mode string

const (
	// ModeTransactional wraps every sequence in a database transaction;
	// any error aborts and rolls back all steps.
	ModeTransactional Mode = "transactional"
	// ModeBestEffort commits each step eagerly with no rollback. An error
	// after step N leaves steps 1..N applied; the failure is logged and
	// surfaced for manual reconciliation.
	ModeBestEffort Mode = "best-effort"
)

// ParseMode validates a configured mode string.
func ParseMode(raw string) (Mode, error) {
	switch Mode(raw) {
	case ModeTransactional, ModeBestEffort:
		return Mode(raw), nil
	case "":
		return ModeTransactional, nil
	}
	return "", fmt.Errorf("platform/db: unknown tx mode %q", raw)
}

// Runner executes multi-step write sequences under the configured mode.
type Runner struct {
	pool   *pgxpool.Pool
	mode   Mode
	logger *slog.Logger
}

// NewRunner constructs a Runner.
func NewRunner(pool *pgxpool.Pool, mode Mode, logger *slog.Logger) *Runner {
	if mode == "" {
		mode = ModeTransactional
	}
	return &Runner{pool: pool, mode: mode, logger: logger}
}

// Mode reports the configured execution mode.
func (r *Runner) Mode() Mode {
	if r == nil {
		return ModeTransactional
	}
	return r.mode
}

// Atomic runs fn with a Querier appropriate for the configured mode. In
// transactional mode the Querier is a transaction and the whole sequence
// commits or rolls back as one. In best-effort mode the Querier is the pool
// itself and every statement inside fn commits independently.
func (r *Runner) Atomic(ctx context.Context, op string, fn func(Querier) error) error {
	if r == nil || r.pool == nil {
		return fmt.Errorf("platform/db: runner not configured")
	}
	if r.mode == ModeTransactional {
		return WithTx(ctx, r.pool, func(tx pgx.Tx) error {
			return fn(tx)
		})
	}
	if err := fn(r.pool); err != nil {
		if r.logger != nil {
			r.logger.Error("best-effort sequence failed, earlier steps remain committed",
				slog.String("op", op),
				slog.Any("error", err),
			)
		}
		return err
	}
	return nil
}
