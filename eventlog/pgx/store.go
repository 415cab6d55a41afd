// Package pgx is a Postgres-backed eventlog.Client, adapted from the
// teacher library's pgx EventStore: optimistic concurrency via a
// per-stream revision column, JSON payloads, and category subscriptions
// implemented by polling since Postgres has no native log-subscribe
// transport (see DESIGN.md).
package pgx

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/corestratum/eventcore"
	"github.com/corestratum/eventcore/eventlog"
)

// RetryConfig bounds the capped exponential backoff every transport call
// in this package retries under, per §4.1: "Transient network errors are
// retried internally with capped exponential backoff; the caller sees
// either success or a terminal cancellation." MaxElapsed is the bounded
// total retry window from §5; once it elapses without success the call
// surfaces an *eventcore.TransientIOError wrapping
// eventcore.ErrOperationTimeout.
type RetryConfig struct {
	Base       time.Duration
	Max        time.Duration
	MaxElapsed time.Duration
}

// DefaultRetryConfig matches §5's documented log-operation deadline as
// the bounded retry window.
var DefaultRetryConfig = RetryConfig{
	Base:       50 * time.Millisecond,
	Max:        2 * time.Second,
	MaxElapsed: 30 * time.Second,
}

// Client is a Postgres-backed eventlog.Client against the "events" table
// described in SPEC_FULL.md §6.
type Client struct {
	pool *pgxpool.Pool
	// pollInterval is how often Subscribe re-queries for new events.
	pollInterval time.Duration
	retry        RetryConfig
}

// Option configures Client.
type Option func(*Client)

// WithPollInterval overrides the default 200ms category-subscription
// poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) { c.pollInterval = d }
}

// WithRetry overrides the default transient-error retry budget.
func WithRetry(cfg RetryConfig) Option {
	return func(c *Client) { c.retry = cfg }
}

// New creates a Postgres-backed Client.
func New(pool *pgxpool.Pool, opts ...Option) *Client {
	c := &Client{pool: pool, pollInterval: 200 * time.Millisecond, retry: DefaultRetryConfig}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// withRetry runs op with cfg's capped exponential backoff. A
// *eventcore.VersionConflictError from op is a domain outcome, never
// retried. Exhausting the retry budget (or ctx cancellation) surfaces
// the terminal error the caller sees, per §4.1.
func withRetry(ctx context.Context, cfg RetryConfig, name string, op func() error) error {
	if cfg.MaxElapsed <= 0 {
		return op()
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.Base
	bo.MaxInterval = cfg.Max
	bo.MaxElapsedTime = cfg.MaxElapsed

	err := backoff.Retry(func() error {
		opErr := op()
		if opErr == nil {
			return nil
		}
		var conflict *eventcore.VersionConflictError
		if errors.As(opErr, &conflict) {
			return backoff.Permanent(opErr)
		}
		return opErr
	}, backoff.WithContext(bo, ctx))
	if err == nil {
		return nil
	}

	// A VersionConflictError is a domain outcome, not a transport
	// failure; return it as-is regardless of whether the backoff
	// library still has it wrapped in its own permanent-error type.
	var conflict *eventcore.VersionConflictError
	if errors.As(err, &conflict) {
		return conflict
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return &eventcore.TransientIOError{Op: name, Cause: fmt.Errorf("%w: %w", eventcore.ErrOperationTimeout, err)}
}

var _ eventlog.Client = (*Client)(nil)

func (c *Client) Append(ctx context.Context, stream string, expectedRevision int64, events []eventcore.EventToAppend, md eventcore.Metadata) (eventlog.AppendResult, error) {
	var result eventlog.AppendResult
	err := withRetry(ctx, c.retry, "eventlog.Append", func() error {
		tx, err := c.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("eventlog/pgx: begin: %w", err)
		}
		defer func() { _ = tx.Rollback(ctx) }()

		res, err := AppendTx(ctx, tx, stream, expectedRevision, events, md)
		if err != nil {
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("eventlog/pgx: commit: %w", err)
		}
		result = res
		return nil
	})
	if err != nil {
		return eventlog.AppendResult{}, err
	}
	return result, nil
}

// AppendTx runs the same append logic as Client.Append against an
// already-open transaction, without committing it. Callers that need to
// stage an outbox record atomically with the event append (the write
// path's usual shape) begin their own transaction, call AppendTx and
// outbox/pgx's AppendTx, then commit once.
func AppendTx(ctx context.Context, tx pgx.Tx, stream string, expectedRevision int64, events []eventcore.EventToAppend, _ eventcore.Metadata) (eventlog.AppendResult, error) {
	var current int64 = -1
	var hasStream bool
	if err := tx.QueryRow(ctx,
		`SELECT revision FROM events WHERE stream_id = $1 ORDER BY revision DESC LIMIT 1`,
		stream,
	).Scan(&current); err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return eventlog.AppendResult{}, fmt.Errorf("eventlog/pgx: read head revision: %w", err)
		}
		current = -1
	} else {
		hasStream = true
	}

	switch expectedRevision {
	case eventlog.RevisionAny:
	case eventlog.RevisionNoStream:
		if hasStream {
			return eventlog.AppendResult{}, &eventcore.VersionConflictError{StreamID: stream, ExpectedVersion: -1, ActualVersion: current}
		}
	case eventlog.RevisionStreamExists:
		if !hasStream {
			return eventlog.AppendResult{}, &eventcore.VersionConflictError{StreamID: stream, ExpectedVersion: -1, ActualVersion: current}
		}
	default:
		if current != expectedRevision {
			return eventlog.AppendResult{}, &eventcore.VersionConflictError{StreamID: stream, ExpectedVersion: expectedRevision, ActualVersion: current}
		}
	}

	if len(events) == 0 {
		return eventlog.AppendResult{FirstRevision: current, LastRevision: current}, nil
	}

	first := current + 1
	var lastGlobal uint64
	for _, e := range events {
		current++
		id := e.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		meta := e.Metadata
		if meta == nil {
			meta = []byte("{}")
		}
		var global uint64
		if err := tx.QueryRow(ctx,
			`INSERT INTO events (stream_id, revision, event_id, event_type, payload, metadata)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 RETURNING global_position`,
			stream, current, id, e.Type, e.Data, meta,
		).Scan(&global); err != nil {
			if isUniqueViolation(err) {
				return eventlog.AppendResult{}, &eventcore.VersionConflictError{StreamID: stream, ExpectedVersion: expectedRevision, ActualVersion: current}
			}
			return eventlog.AppendResult{}, fmt.Errorf("eventlog/pgx: insert event: %w", err)
		}
		lastGlobal = global
	}

	return eventlog.AppendResult{
		FirstRevision: first,
		LastRevision:  current,
		LastPosition:  eventcore.Position{Commit: lastGlobal},
	}, nil
}

func (c *Client) ReadForward(ctx context.Context, stream string, fromRevision int64, limit int) (eventlog.EventIterator, error) {
	query := `SELECT stream_id, event_id, event_type, payload, metadata, revision, global_position, recorded_at
	          FROM events WHERE stream_id = $1 AND revision >= $2 ORDER BY revision ASC`
	args := []any{stream, fromRevision}
	if limit > 0 {
		query += " LIMIT $3"
		args = append(args, limit)
	}
	var rows pgx.Rows
	err := withRetry(ctx, c.retry, "eventlog.ReadForward", func() error {
		r, err := c.pool.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		rows = r
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("eventlog/pgx: read forward: %w", err)
	}
	return &rowsIterator{rows: rows}, nil
}

func (c *Client) ReadBackward(ctx context.Context, stream string, limit int) (eventlog.EventIterator, error) {
	var rows pgx.Rows
	err := withRetry(ctx, c.retry, "eventlog.ReadBackward", func() error {
		r, err := c.pool.Query(ctx,
			`SELECT stream_id, event_id, event_type, payload, metadata, revision, global_position, recorded_at
			 FROM events WHERE stream_id = $1 ORDER BY revision DESC LIMIT $2`,
			stream, limit,
		)
		if err != nil {
			return err
		}
		rows = r
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("eventlog/pgx: read backward: %w", err)
	}
	return &rowsIterator{rows: rows}, nil
}

// Subscribe polls the events table for rows beyond fromPosition whose
// stream_id matches stream exactly or, if stream ends in ".", has it as a
// prefix (a category subscription). There is no log-native push
// transport in this backend; see DESIGN.md for why polling is the
// documented fallback.
func (c *Client) Subscribe(ctx context.Context, stream string, fromPosition eventcore.Position) (eventlog.EventIterator, error) {
	return &pollIterator{
		pool:     c.pool,
		stream:   stream,
		category: strings.HasSuffix(stream, "."),
		after:    fromPosition.Commit,
		interval: c.pollInterval,
		retry:    c.retry,
	}, nil
}

type rowsIterator struct {
	rows pgx.Rows
}

func (it *rowsIterator) Next(_ context.Context) (eventcore.Event, bool, error) {
	if !it.rows.Next() {
		if err := it.rows.Err(); err != nil {
			return eventcore.Event{}, false, fmt.Errorf("eventlog/pgx: scan: %w", err)
		}
		return eventcore.Event{}, false, nil
	}
	var (
		streamID string
		id       uuid.UUID
		typ      string
		payload  []byte
		metadata []byte
		revision int64
		global   uint64
		at       time.Time
	)
	if err := it.rows.Scan(&streamID, &id, &typ, &payload, &metadata, &revision, &global, &at); err != nil {
		return eventcore.Event{}, false, fmt.Errorf("eventlog/pgx: scan row: %w", err)
	}
	pos := eventcore.Position{Commit: global}
	return eventcore.Event{
		ID:             id,
		StreamID:       streamID,
		Type:           typ,
		Data:           payload,
		Metadata:       metadata,
		StreamRevision: revision,
		GlobalPosition: pos,
		LinkPosition:   pos,
		RecordedAt:     at,
	}, true, nil
}

func (it *rowsIterator) Close() error {
	it.rows.Close()
	return nil
}

type pollIterator struct {
	pool     *pgxpool.Pool
	stream   string
	category bool
	after    uint64
	interval time.Duration
	retry    RetryConfig
	buf      []eventcore.Event
	closed   bool
}

func (it *pollIterator) Next(ctx context.Context) (eventcore.Event, bool, error) {
	for {
		if len(it.buf) > 0 {
			ev := it.buf[0]
			it.buf = it.buf[1:]
			it.after = ev.GlobalPosition.Commit
			return ev, true, nil
		}
		if err := it.fill(ctx); err != nil {
			return eventcore.Event{}, false, err
		}
		if len(it.buf) > 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return eventcore.Event{}, false, ctx.Err()
		case <-time.After(it.interval):
		}
	}
}

func (it *pollIterator) fill(ctx context.Context) error {
	var query string
	if it.category {
		query = `SELECT stream_id, event_id, event_type, payload, metadata, revision, global_position, recorded_at
		         FROM events WHERE stream_id LIKE $1 AND global_position > $2 ORDER BY global_position ASC LIMIT 500`
	} else {
		query = `SELECT stream_id, event_id, event_type, payload, metadata, revision, global_position, recorded_at
		         FROM events WHERE stream_id = $1 AND global_position > $2 ORDER BY global_position ASC LIMIT 500`
	}
	pattern := it.stream
	if it.category {
		pattern = it.stream + "%"
	}
	var rows pgx.Rows
	err := withRetry(ctx, it.retry, "eventlog.Subscribe.poll", func() error {
		r, err := it.pool.Query(ctx, query, pattern, it.after)
		if err != nil {
			return err
		}
		rows = r
		return nil
	})
	if err != nil {
		return fmt.Errorf("eventlog/pgx: poll subscription: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			streamID string
			id       uuid.UUID
			typ      string
			payload  []byte
			metadata []byte
			revision int64
			global   uint64
			at       time.Time
		)
		if err := rows.Scan(&streamID, &id, &typ, &payload, &metadata, &revision, &global, &at); err != nil {
			return fmt.Errorf("eventlog/pgx: scan subscription row: %w", err)
		}
		pos := eventcore.Position{Commit: global}
		it.buf = append(it.buf, eventcore.Event{
			ID:             id,
			StreamID:       streamID,
			Type:           typ,
			Data:           payload,
			Metadata:       metadata,
			StreamRevision: revision,
			GlobalPosition: pos,
			LinkPosition:   pos,
			RecordedAt:     at,
		})
	}
	return rows.Err()
}

func (it *pollIterator) Close() error {
	it.closed = true
	return nil
}

func pgErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func isUniqueViolation(err error) bool {
	return pgErrorCode(err) == "23505"
}
