package db

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseMode(t *testing.T) {
	mode, err := ParseMode("transactional")
	require.NoError(t, err)
	require.Equal(t, ModeTransactional, mode)

	mode, err = ParseMode("best-effort")
	require.NoError(t, err)
	require.Equal(t, ModeBestEffort, mode)

	mode, err = ParseMode("")
	require.NoError(t, err)
	require.Equal(t, ModeTransactional, mode)

	_, err = ParseMode("eventually")
	require.Error(t, err)
}

func TestRunnerDefaults(t *testing.T) {
	var r *Runner
	require.Equal(t, ModeTransactional, r.Mode())
	require.Error(t, r.Atomic(context.Background(), "noop", func(Querier) error { return nil }))

	r = NewRunner(nil, "", nil)
	require.Equal(t, ModeTransactional, r.Mode())
}
