// Package projection drives catch-up/live subscriptions (C5, the Runner)
// and applies their batches idempotently against a read model (C6, the
// Writer).
package projection

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/corestratum/eventcore"
)

// Writer is the C6 contract: ApplyBatch against a Postgres read model.
type Writer struct {
	pool     *pgxpool.Pool
	codec    eventcore.CodecRegistry
	registry *Registry
	log      *zap.Logger
}

// NewWriter builds a Writer.
func NewWriter(pool *pgxpool.Pool, codec eventcore.CodecRegistry, registry *Registry, log *zap.Logger) *Writer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Writer{pool: pool, codec: codec, registry: registry, log: log}
}

// ApplyBatch applies events to subscriptionID's read model inside a
// single transaction, per SPEC_FULL.md §4.5/§4.6:
//  1. For each event, insert (subscriptionID, event.ID) into
//     processed_event with ON CONFLICT DO NOTHING; if the insert affected
//     zero rows the event was already applied, so its handler is skipped.
//  2. Otherwise route the decoded event to its registered handler. An
//     unregistered type is logged and skipped, never an error.
//  3. Upsert the subscription's checkpoint row to commitPosition.
//  4. Commit.
func (w *Writer) ApplyBatch(ctx context.Context, events []eventcore.Event, subscriptionID string, commitPosition eventcore.Position) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("projection: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, ev := range events {
		tag, err := tx.Exec(ctx,
			`INSERT INTO processed_event (subscription_id, event_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			subscriptionID, ev.ID,
		)
		if err != nil {
			return fmt.Errorf("projection: mark processed: %w", err)
		}
		if tag.RowsAffected() == 0 {
			continue
		}

		handler, ok := w.registry.Lookup(ev.Type)
		if !ok {
			w.log.Info("projection: skipping unhandled event type",
				zap.String("subscription_id", subscriptionID),
				zap.String("event_type", ev.Type),
			)
			continue
		}

		decoded, err := w.codec.Decode(ev.Type, ev.Data)
		if err != nil {
			return fmt.Errorf("projection: decode event %s: %w", ev.ID, err)
		}
		if err := handler(ctx, tx, decoded, ev); err != nil {
			return &eventcore.HandlerFailedError{
				SubscriptionID: subscriptionID,
				EventID:        ev.ID.String(),
				EventType:      ev.Type,
				Cause:          err,
			}
		}
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO projection_checkpoint (subscription_id, commit_pos, prepare_pos, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (subscription_id) DO UPDATE
		   SET commit_pos = excluded.commit_pos, prepare_pos = excluded.prepare_pos, updated_at = excluded.updated_at`,
		subscriptionID,
		strconv.FormatUint(commitPosition.Commit, 10),
		strconv.FormatUint(commitPosition.Prepare, 10),
	); err != nil {
		return fmt.Errorf("projection: upsert checkpoint: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("projection: commit: %w", err)
	}
	return nil
}
