// Package outbox is the durable staging area between the write path and
// the message queue (C7, the Repository; C8, the Publisher), guaranteeing
// at-least-once, per-stream FIFO delivery.
package outbox

import (
	"context"
	"time"
)

// Status is an outbox record's lifecycle state.
type Status string

const (
	StatusPending  Status = "pending"
	StatusInflight Status = "inflight"
	StatusDone     Status = "done"
	StatusDead     Status = "dead"
)

// Record is a single message staged for publication.
type Record struct {
	ID             int64
	StreamID       string
	StreamRevision int64
	Queue          string
	Headers        map[string]string
	Payload        []byte
	EnqueuedAt     time.Time
	Attempts       int
	MaxAttempts    int
	NextAttemptAt  time.Time
	LeaseExpiresAt *time.Time
	Status         Status
}

// NewRecord is a not-yet-persisted outbox record.
type NewRecord struct {
	StreamID       string
	StreamRevision int64
	Queue          string
	Headers        map[string]string
	Payload        []byte
}

// Repository is the C7 contract.
type Repository interface {
	// Append stages records, typically inside the same transaction as
	// the event append from the write path.
	Append(ctx context.Context, records []NewRecord) error

	// Claim marks up to n pending records for queue as inflight with a
	// lease of leaseTTL, returning them ordered by (stream_id,
	// stream_revision). A record is never returned while an
	// earlier-revision record for the same stream is still pending or
	// inflight.
	Claim(ctx context.Context, queue string, n int, leaseTTL time.Duration) ([]Record, error)

	// Ack marks records done.
	Ack(ctx context.Context, ids []int64) error

	// Nack increments attempts and reschedules nextAttemptAt = now +
	// backoff; once attempts exceeds MaxAttempts the record is marked
	// dead instead of rescheduled.
	Nack(ctx context.Context, ids []int64, backoff time.Duration) error

	// ReclaimExpired moves inflight records whose lease has expired by
	// now back to pending.
	ReclaimExpired(ctx context.Context, now time.Time) (int64, error)
}
