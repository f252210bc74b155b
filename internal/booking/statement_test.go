package booking

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func seedRows() []StatementRow {
	return []StatementRow{
		{
			At:          time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC),
			Description: "Payment CASH",
			Credit:      30000,
		},
		{
			At:          time.Date(2026, 3, 12, 9, 0, 0, 0, time.UTC),
			Description: "Late delivery penalty",
			Debit:       1500,
		},
		{
			At:          time.Date(2026, 3, 20, 9, 0, 0, 0, time.UTC),
			Description: "Payment BANK",
			Credit:      50000,
		},
	}
}

func TestStatementRunningBalance(t *testing.T) {
	repo := newMemoryRepo(seedBooking())
	repo.rows = seedRows()
	svc := newTestService(repo)

	st, err := svc.Statement(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, "BKG-001", st.Code)
	require.Len(t, st.Lines, 4)

	require.Equal(t, "Booking BKG-001 value", st.Lines[0].Description)
	require.InDelta(t, 100000, st.Lines[0].Balance, 0.001)
	require.InDelta(t, 70000, st.Lines[1].Balance, 0.001)
	require.InDelta(t, 71500, st.Lines[2].Balance, 0.001)
	require.InDelta(t, 21500, st.Lines[3].Balance, 0.001)
	require.InDelta(t, 21500, st.Closing, 0.001)
}

func TestStatementCacheRoundTrip(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	cache := NewStatementCache(client, time.Minute)
	ctx := context.Background()

	repo := newMemoryRepo(seedBooking())
	repo.rows = seedRows()
	svc := NewService(repo, cache, slog.Default())

	st, err := svc.Statement(ctx, 1)
	require.NoError(t, err)

	cached, ok, err := cache.Get(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.InDelta(t, st.Closing, cached.Closing, 0.001)

	// A balance mutation drops the cached copy.
	_, err = svc.ApplyCredit(ctx, nil, 1, 1000, CreditOptions{EnforceLimit: true})
	require.NoError(t, err)
	_, ok, err = cache.Get(ctx, 1)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestWriteStatementCSV(t *testing.T) {
	repo := newMemoryRepo(seedBooking())
	repo.rows = seedRows()
	svc := newTestService(repo)

	var buf bytes.Buffer
	require.NoError(t, svc.WriteStatementCSV(context.Background(), &buf, 1))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 5)
	require.Equal(t, "Date,Description,Debit,Credit,Balance", lines[0])
	require.Contains(t, lines[1], "100,000")
	require.Contains(t, lines[2], "30,000")
	require.Contains(t, lines[4], "21,500")
}
