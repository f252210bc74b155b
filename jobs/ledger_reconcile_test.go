package jobs

import (
	"context"
	"log/slog"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/atlas-dms/atlas-dms/internal/jobs"
)

func TestLedgerReconcileHandleReturnsSweepError(t *testing.T) {
	task, err := NewLedgerReconcileTask(LedgerReconcilePayload{})
	require.NoError(t, err)

	job := NewLedgerReconcileJob(nil, slog.Default(), jobmetrics.NewMetrics(prometheus.NewRegistry()), nil)
	err = job.Handle(context.Background(), task)
	require.ErrorContains(t, err, "pool not configured")
}

func TestLedgerReconcileHandleSkipsMalformedPayload(t *testing.T) {
	job := NewLedgerReconcileJob(nil, slog.Default(), jobmetrics.NewMetrics(prometheus.NewRegistry()), nil)

	err := job.Handle(context.Background(), asynq.NewTask(TaskLedgerReconcile, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}
