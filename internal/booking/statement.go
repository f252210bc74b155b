package booking

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// StatementCache keeps rendered statements in Redis. Mutating operations
// invalidate the key so a statement never shows a stale balance for long.
type StatementCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStatementCache instantiates the cache helper.
func NewStatementCache(client *redis.Client, ttl time.Duration) *StatementCache {
	return &StatementCache{client: client, ttl: ttl}
}

func statementKey(bookingID int64) string {
	return fmt.Sprintf("booking:%d:statement", bookingID)
}

// Get loads a cached statement, reporting a miss via the bool.
func (c *StatementCache) Get(ctx context.Context, bookingID int64) (*Statement, bool, error) {
	if c == nil || c.client == nil {
		return nil, false, nil
	}
	payload, err := c.client.Get(ctx, statementKey(bookingID)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var st Statement
	if err := json.Unmarshal(payload, &st); err != nil {
		return nil, false, err
	}
	return &st, true, nil
}

// Set stores a statement under the booking key.
func (c *StatementCache) Set(ctx context.Context, st *Statement) error {
	if c == nil || c.client == nil || st == nil {
		return nil
	}
	payload, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, statementKey(st.BookingID), payload, c.ttl).Err()
}

// Invalidate drops the cached statement for a booking.
func (c *StatementCache) Invalidate(ctx context.Context, bookingID int64) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Del(ctx, statementKey(bookingID)).Err()
}

var statementGroup singleflight.Group

// Statement builds the running-balance ledger report for a booking.
// Concurrent requests for the same booking share one build.
func (s *Service) Statement(ctx context.Context, id int64) (*Statement, error) {
	if st, ok, err := s.cache.Get(ctx, id); err == nil && ok {
		return st, nil
	}

	result, err, _ := statementGroup.Do(statementKey(id), func() (any, error) {
		st, err := s.buildStatement(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := s.cache.Set(ctx, st); err != nil && s.logger != nil {
			s.logger.Warn("cache statement", "booking_id", id, "error", err)
		}
		return st, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*Statement), nil
}

func (s *Service) buildStatement(ctx context.Context, id int64) (*Statement, error) {
	var (
		b    *Booking
		rows []StatementRow
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		b, err = s.repo.Get(gctx, id)
		return err
	})
	g.Go(func() error {
		var err error
		rows, err = s.repo.StatementRows(gctx, id)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	st := &Statement{BookingID: b.ID, Code: b.Code}
	balance := round2(b.DiscountedAmount)
	st.Lines = append(st.Lines, StatementLine{
		At:          b.CreatedAt,
		Description: "Booking " + b.Code + " value",
		Debit:       b.DiscountedAmount,
		Balance:     balance,
	})
	for _, row := range rows {
		balance = round2(balance + row.Debit - row.Credit)
		st.Lines = append(st.Lines, StatementLine{
			At:          row.At,
			Description: row.Description,
			Debit:       row.Debit,
			Credit:      row.Credit,
			Balance:     balance,
		})
	}
	st.Closing = balance
	return st, nil
}

// WriteStatementCSV streams the statement as CSV.
func (s *Service) WriteStatementCSV(ctx context.Context, w io.Writer, id int64) error {
	st, err := s.Statement(ctx, id)
	if err != nil {
		return err
	}
	printer := message.NewPrinter(language.English)
	amount := func(v float64) string {
		if v == 0 {
			return ""
		}
		return printer.Sprintf("%v", number.Decimal(v, number.Scale(2)))
	}

	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"Date", "Description", "Debit", "Credit", "Balance"}); err != nil {
		return err
	}
	for _, line := range st.Lines {
		record := []string{
			line.At.Format("2006-01-02"),
			line.Description,
			amount(line.Debit),
			amount(line.Credit),
			printer.Sprintf("%v", number.Decimal(line.Balance, number.Scale(2))),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}
