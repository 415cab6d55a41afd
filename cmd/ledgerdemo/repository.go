package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/corestratum/eventcore"
	"github.com/corestratum/eventcore/eventlog"
	eventlogpgx "github.com/corestratum/eventcore/eventlog/pgx"
	"github.com/corestratum/eventcore/outbox"
	outboxpgx "github.com/corestratum/eventcore/outbox/pgx"
	"github.com/corestratum/eventcore/repository"
	"github.com/corestratum/eventcore/snapshotstore"
)

const balanceChangedQueue = "balance-changed"

// ledgerState is what repository.Repository replays and snapshots; it
// mirrors Ledger's fields but carries none of the write-path bookkeeping.
type ledgerState struct {
	Owner   string
	Balance int64
	Opened  bool
}

var ledgerReducer = eventcore.ReducerFunc[ledgerState]{
	InitialFunc: func() ledgerState { return ledgerState{} },
	ApplyFunc: func(s ledgerState, e any) ledgerState {
		switch ev := e.(type) {
		case AccountOpened:
			s.Owner = ev.Owner
			s.Balance = ev.Initial
			s.Opened = true
		case FundsDeposited:
			s.Balance += ev.Amount
		case FundsWithdrawn:
			s.Balance -= ev.Amount
		}
		return s
	},
}

type ledgerStateCodec struct{}

func (ledgerStateCodec) Encode(v any) ([]byte, error) { return json.Marshal(v) }
func (ledgerStateCodec) Decode(b []byte) (any, error) {
	var s ledgerState
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("ledgerdemo: decode snapshot state: %w", err)
	}
	return s, nil
}

// ledgerCodecRegistry returns the CodecRegistry every component that
// decodes ledger domain events shares: the repository when replaying and
// the projection writer. The write path does not use it; Ledger encodes
// raised events through eventcore.Base's default (EventTyped + JSON).
func ledgerCodecRegistry() eventcore.CodecRegistry {
	return eventcore.CodecRegistry{
		"AccountOpened":  eventcore.JSONCodec[AccountOpened](),
		"FundsDeposited": eventcore.JSONCodec[FundsDeposited](),
		"FundsWithdrawn": eventcore.JSONCodec[FundsWithdrawn](),
	}
}

// LedgerRepository loads and saves Ledger aggregates. Load delegates to
// the generic repository.Repository (snapshot plus forward replay).
// Save appends the new events and stages their outbox records inside one
// shared transaction, since the generic eventlog.Client and
// outbox.Repository interfaces each manage their own transaction and
// offer no cross-package composition point.
type LedgerRepository struct {
	pool *pgxpool.Pool
	repo *repository.Repository[ledgerState]
}

// NewLedgerRepository builds a LedgerRepository. log and snaps are used
// for the read path (via the generic repository package); pool is used
// directly for the write path's shared transaction.
func NewLedgerRepository(pool *pgxpool.Pool, log eventlog.Client, snaps snapshotstore.Store) *LedgerRepository {
	return &LedgerRepository{
		pool: pool,
		repo: repository.New[ledgerState](log, snaps, ledgerCodecRegistry(), ledgerStateCodec{}, ledgerReducer),
	}
}

func ledgerStreamID(accountID string) string {
	return eventcore.StreamID("ledgerdemo", "ledger", 1, "default", accountID)
}

// Load fetches and rehydrates a Ledger by account id.
func (r *LedgerRepository) Load(ctx context.Context, accountID string) (*Ledger, error) {
	streamID := ledgerStreamID(accountID)
	res, err := r.repo.Load(ctx, streamID, eventcore.SnapshotStreamID(streamID), repository.LoadOptions{})
	if err != nil {
		return nil, err
	}
	l := NewLedger(streamID)
	l.owner = res.State.Owner
	l.balance = res.State.Balance
	l.opened = res.State.Opened
	l.SetVersion(res.Version)
	return l, nil
}

// Save persists l's pending events with optimistic locking and stages a
// matching outbox record per event, both inside one transaction: either
// both land durably or neither does.
func (r *LedgerRepository) Save(ctx context.Context, l *Ledger, md eventcore.Metadata) error {
	events, expected := l.Flush()
	if len(events) == 0 {
		return nil
	}
	// Assign each event's id up front so the same id both lands in the
	// event log and tags the outbox record staged for it below.
	for i := range events {
		if events[i].ID == uuid.Nil {
			events[i].ID = uuid.New()
		}
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ledgerdemo: save begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// A brand-new ledger flushes expected = -1, which is also
	// eventlog.RevisionAny; append it as RevisionNoStream so the first
	// write stays conditional too.
	appendExpected := expected
	if expected < 0 {
		appendExpected = eventlog.RevisionNoStream
	}
	if _, err := eventlogpgx.AppendTx(ctx, tx, l.StreamID(), appendExpected, events, md); err != nil {
		return err
	}

	records := make([]outbox.NewRecord, 0, len(events))
	for i, e := range events {
		rec := outbox.NewRecord{
			StreamID:       l.StreamID(),
			StreamRevision: expected + int64(i) + 1,
			Queue:          balanceChangedQueue,
			Payload:        e.Data,
		}
		rec.Headers = map[string]string{
			"event-id":        e.ID.String(),
			"event-type":      e.Type,
			"stream-id":       rec.StreamID,
			"stream-revision": fmt.Sprintf("%d", rec.StreamRevision),
			"tenant":          md.Tenant(),
			"correlation-id":  md.CorrelationID(),
		}
		records = append(records, rec)
	}
	if err := outboxpgx.AppendTx(ctx, tx, records); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ledgerdemo: save commit: %w", err)
	}
	return nil
}
