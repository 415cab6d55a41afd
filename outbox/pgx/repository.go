// Package pgx is a Postgres-backed outbox.Repository against the
// "outbox" table described in SPEC_FULL.md §6.
package pgx

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/corestratum/eventcore/outbox"
)

// Repository is a Postgres-backed outbox.Repository.
type Repository struct {
	pool *pgxpool.Pool
}

// New creates a Postgres-backed Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ outbox.Repository = (*Repository)(nil)

func (r *Repository) Append(ctx context.Context, records []outbox.NewRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("outbox/pgx: append begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if err := AppendTx(ctx, tx, records); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("outbox/pgx: append commit: %w", err)
	}
	return nil
}

// AppendTx stages records against an already-open transaction, without
// committing it. Callers that need the outbox insert to land atomically
// with an event-log append (eventlog/pgx's AppendTx) share one
// transaction across both calls and commit once.
func AppendTx(ctx context.Context, tx pgx.Tx, records []outbox.NewRecord) error {
	if len(records) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, rec := range records {
		headers, err := json.Marshal(rec.Headers)
		if err != nil {
			return fmt.Errorf("outbox/pgx: marshal headers: %w", err)
		}
		batch.Queue(
			`INSERT INTO outbox (stream_id, stream_revision, queue, headers, payload)
			 VALUES ($1, $2, $3, $4, $5)`,
			rec.StreamID, rec.StreamRevision, rec.Queue, headers, rec.Payload,
		)
	}
	br := tx.SendBatch(ctx, batch)
	defer br.Close()
	for range records {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("outbox/pgx: append: %w", err)
		}
	}
	return nil
}

// Claim selects up to n pending records for queue whose stream has no
// earlier pending/inflight record, locking them with FOR UPDATE SKIP
// LOCKED so concurrent publishers never double-claim, then marks them
// inflight with a lease of leaseTTL.
func (r *Repository) Claim(ctx context.Context, queue string, n int, leaseTTL time.Duration) ([]outbox.Record, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("outbox/pgx: claim begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx,
		`SELECT o.id FROM outbox o
		 WHERE o.queue = $1 AND o.status = 'pending' AND o.next_attempt_at <= now()
		   AND NOT EXISTS (
		     SELECT 1 FROM outbox o2
		     WHERE o2.stream_id = o.stream_id
		       AND o2.stream_revision < o.stream_revision
		       AND o2.status IN ('pending', 'inflight')
		   )
		 ORDER BY o.stream_id, o.stream_revision
		 LIMIT $2
		 FOR UPDATE SKIP LOCKED`,
		queue, n,
	)
	if err != nil {
		return nil, fmt.Errorf("outbox/pgx: claim select: %w", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("outbox/pgx: claim scan: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outbox/pgx: claim rows: %w", err)
	}
	if len(ids) == 0 {
		return nil, tx.Commit(ctx)
	}

	leaseExpiry := time.Now().Add(leaseTTL)
	claimRows, err := tx.Query(ctx,
		`UPDATE outbox SET status = 'inflight', lease_expires_at = $1
		 WHERE id = ANY($2)
		 RETURNING id, stream_id, stream_revision, queue, headers, payload, enqueued_at, attempts, max_attempts, next_attempt_at, lease_expires_at, status`,
		leaseExpiry, ids,
	)
	if err != nil {
		return nil, fmt.Errorf("outbox/pgx: claim update: %w", err)
	}
	records, err := scanRecords(claimRows)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("outbox/pgx: claim commit: %w", err)
	}
	sortByStreamAndRevision(records)
	return records, nil
}

func (r *Repository) Ack(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := r.pool.Exec(ctx, `UPDATE outbox SET status = 'done' WHERE id = ANY($1)`, ids); err != nil {
		return fmt.Errorf("outbox/pgx: ack: %w", err)
	}
	return nil
}

func (r *Repository) Nack(ctx context.Context, ids []int64, backoff time.Duration) error {
	if len(ids) == 0 {
		return nil
	}
	nextAttempt := time.Now().Add(backoff)
	if _, err := r.pool.Exec(ctx,
		`UPDATE outbox SET
		   attempts = attempts + 1,
		   next_attempt_at = $2,
		   status = CASE WHEN attempts + 1 > max_attempts THEN 'dead' ELSE 'pending' END
		 WHERE id = ANY($1)`,
		ids, nextAttempt,
	); err != nil {
		return fmt.Errorf("outbox/pgx: nack: %w", err)
	}
	return nil
}

func (r *Repository) ReclaimExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE outbox SET status = 'pending', lease_expires_at = NULL
		 WHERE status = 'inflight' AND lease_expires_at IS NOT NULL AND lease_expires_at <= $1`,
		now,
	)
	if err != nil {
		return 0, fmt.Errorf("outbox/pgx: reclaim expired: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanRecords(rows pgx.Rows) ([]outbox.Record, error) {
	defer rows.Close()
	var out []outbox.Record
	for rows.Next() {
		var (
			rec         outbox.Record
			headersJSON []byte
			status      string
		)
		if err := rows.Scan(
			&rec.ID, &rec.StreamID, &rec.StreamRevision, &rec.Queue, &headersJSON,
			&rec.Payload, &rec.EnqueuedAt, &rec.Attempts, &rec.MaxAttempts,
			&rec.NextAttemptAt, &rec.LeaseExpiresAt, &status,
		); err != nil {
			return nil, fmt.Errorf("outbox/pgx: scan record: %w", err)
		}
		rec.Status = outbox.Status(status)
		if len(headersJSON) > 0 {
			if err := json.Unmarshal(headersJSON, &rec.Headers); err != nil {
				return nil, fmt.Errorf("outbox/pgx: unmarshal headers: %w", err)
			}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outbox/pgx: rows: %w", err)
	}
	return out, nil
}

// sortByStreamAndRevision restores the (stream_id, stream_revision)
// ordering the claim SELECT established, since RETURNING from an UPDATE
// carries no ORDER BY guarantee.
func sortByStreamAndRevision(records []outbox.Record) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].StreamID != records[j].StreamID {
			return records[i].StreamID < records[j].StreamID
		}
		return records[i].StreamRevision < records[j].StreamRevision
	})
}
