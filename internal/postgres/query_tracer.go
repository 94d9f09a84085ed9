package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/flexprice/creditsync/internal/logger"
	"github.com/flexprice/creditsync/internal/sentry"
	sentrygo "github.com/getsentry/sentry-go"
	"github.com/jmoiron/sqlx"
)

// queryTrace times one statement and reports it to the log and to sentry
type queryTrace struct {
	logger *logger.Logger
	span   *sentrygo.Span
	query  string
	start  time.Time
}

func (tq *TracedQuerier) trace(ctx context.Context, op, query string) (*queryTrace, context.Context) {
	span, ctx := tq.sentry.StartDBSpan(ctx, "postgres."+op, map[string]interface{}{
		"query": query,
	})
	return &queryTrace{
		logger: tq.logger,
		span:   span,
		query:  query,
		start:  time.Now(),
	}, ctx
}

func (qt *queryTrace) done(err error) {
	sentry.FinishSpan(qt.span)

	fields := []interface{}{
		"duration_ms", time.Since(qt.start).Milliseconds(),
		"query", qt.query,
	}
	// no rows is an expected answer for lookups
	if err != nil && err != sql.ErrNoRows {
		fields = append(fields, "error", err.Error())
		qt.logger.Errorw("database query failed", fields...)
		return
	}
	qt.logger.Debugw("database query completed", fields...)
}

// TracedQuerier wraps a Querier with tracing
type TracedQuerier struct {
	Querier
	logger *logger.Logger
	sentry *sentry.Service
}

func NewTracedQuerier(q Querier, logger *logger.Logger, sentryService *sentry.Service) *TracedQuerier {
	return &TracedQuerier{
		Querier: q,
		logger:  logger,
		sentry:  sentryService,
	}
}

func (tq *TracedQuerier) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	t, ctx := tq.trace(ctx, "exec", query)
	result, err := tq.Querier.ExecContext(ctx, query, args...)
	t.done(err)
	return result, err
}

func (tq *TracedQuerier) NamedExecContext(ctx context.Context, query string, arg interface{}) (sql.Result, error) {
	t, ctx := tq.trace(ctx, "exec", query)
	result, err := tq.Querier.NamedExecContext(ctx, query, arg)
	t.done(err)
	return result, err
}

func (tq *TracedQuerier) GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	t, ctx := tq.trace(ctx, "get", query)
	err := tq.Querier.GetContext(ctx, dest, query, args...)
	t.done(err)
	return err
}

func (tq *TracedQuerier) SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	t, ctx := tq.trace(ctx, "select", query)
	err := tq.Querier.SelectContext(ctx, dest, query, args...)
	t.done(err)
	return err
}

// QueryRowxContext is traced when the row is scanned, not here
func (tq *TracedQuerier) QueryRowxContext(ctx context.Context, query string, args ...interface{}) *sqlx.Row {
	return tq.Querier.QueryRowxContext(ctx, query, args...)
}
