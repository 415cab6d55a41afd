// Command ledgerdemo wires every core component (event log, snapshot
// store, checkpoint store, aggregate repository, projection, outbox,
// queue facade) around a toy ledger: open an account, deposit, withdraw,
// and show the result both from a freshly rehydrated aggregate and from
// the read model a live projection maintains.
package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/corestratum/eventcore"
	checkpointredis "github.com/corestratum/eventcore/checkpoint/redis"
	"github.com/corestratum/eventcore/config"
	eventlogpgx "github.com/corestratum/eventcore/eventlog/pgx"
	"github.com/corestratum/eventcore/logging"
	"github.com/corestratum/eventcore/outbox"
	outboxpgx "github.com/corestratum/eventcore/outbox/pgx"
	"github.com/corestratum/eventcore/projection"
	queuenats "github.com/corestratum/eventcore/queue/nats"
	snapshotstorepgx "github.com/corestratum/eventcore/snapshotstore/pgx"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS events (
    stream_id       TEXT NOT NULL,
    revision        BIGINT NOT NULL,
    global_position BIGSERIAL,
    event_id        UUID NOT NULL,
    event_type      TEXT NOT NULL,
    payload         JSONB NOT NULL,
    metadata        JSONB NOT NULL DEFAULT '{}',
    recorded_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (stream_id, revision)
);
CREATE UNIQUE INDEX IF NOT EXISTS events_event_id_uq ON events (event_id);
CREATE INDEX IF NOT EXISTS events_global_position_idx ON events (global_position);

CREATE TABLE IF NOT EXISTS snapshots (
    stream_id       TEXT NOT NULL,
    version         BIGINT NOT NULL,
    stream_position BIGINT NOT NULL DEFAULT 0,
    state           JSONB NOT NULL,
    taken_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS snapshots_stream_id_version_idx ON snapshots (stream_id, version DESC);

CREATE TABLE IF NOT EXISTS processed_event (
    subscription_id TEXT NOT NULL,
    event_id        UUID NOT NULL,
    processed_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (subscription_id, event_id)
);

CREATE TABLE IF NOT EXISTS projection_checkpoint (
    subscription_id TEXT PRIMARY KEY,
    commit_pos      TEXT NOT NULL,
    prepare_pos     TEXT NOT NULL,
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS outbox (
    id               BIGSERIAL PRIMARY KEY,
    stream_id        TEXT NOT NULL,
    stream_revision  BIGINT NOT NULL,
    queue            TEXT NOT NULL,
    headers          JSONB NOT NULL DEFAULT '{}',
    payload          BYTEA NOT NULL,
    enqueued_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
    attempts         INT NOT NULL DEFAULT 0,
    max_attempts     INT NOT NULL DEFAULT 10,
    next_attempt_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    lease_expires_at TIMESTAMPTZ,
    status           TEXT NOT NULL DEFAULT 'pending'
);
CREATE INDEX IF NOT EXISTS outbox_status_next_attempt_idx ON outbox (status, next_attempt_at);
CREATE UNIQUE INDEX IF NOT EXISTS outbox_stream_revision_idx ON outbox (stream_id, stream_revision);

CREATE TABLE IF NOT EXISTS ledger_balances (
    account_id TEXT PRIMARY KEY,
    owner      TEXT NOT NULL,
    balance    BIGINT NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("ledgerdemo: load config: %v", err))
	}

	log, err := logging.New("info", "console")
	if err != nil {
		panic(fmt.Sprintf("ledgerdemo: build logger: %v", err))
	}
	defer func() { _ = log.Sync() }()

	poolCfg, err := pgxpool.ParseConfig(cfg.Postgres.URL)
	if err != nil {
		log.Fatal("ledgerdemo: parse postgres url", zap.Error(err))
	}
	poolCfg.MaxConns = cfg.Postgres.MaxConns
	poolCfg.MinConns = cfg.Postgres.MinConns
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		log.Fatal("ledgerdemo: connect postgres", zap.Error(err))
	}
	defer pool.Close()

	if _, err := pool.Exec(ctx, schemaDDL); err != nil {
		log.Fatal("ledgerdemo: apply schema", zap.Error(err))
	}

	redisClient := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer func() { _ = redisClient.Close() }()

	natsFacade, err := queuenats.New(queuenats.DefaultConfig(cfg.NATS.URL, cfg.NATS.Env, cfg.NATS.Service), log.Logger)
	if err != nil {
		log.Fatal("ledgerdemo: connect nats", zap.Error(err))
	}
	defer func() { _ = natsFacade.Shutdown(ctx) }()

	logClient := eventlogpgx.New(pool, eventlogpgx.WithPollInterval(cfg.Postgres.PollInterval))
	snaps := snapshotstorepgx.New(pool, snapshotstorepgx.WithCache(redisClient, 10*time.Minute))
	checkpoints := checkpointredis.New(redisClient, cfg.Redis.EnvPrefix)
	outboxRepo := outboxpgx.New(pool)

	repo := NewLedgerRepository(pool, logClient, snaps)
	service := NewLedgerService(repo)

	registry := projection.NewRegistry()
	registerLedgerBalanceHandlers(registry)
	writer := projection.NewWriter(pool, ledgerCodecRegistry(), registry, log.Logger)
	runner := projection.NewRunner(
		"ledger-balances",
		eventcore.CategoryPrefix("ledgerdemo", "ledger", 1),
		logClient,
		checkpoints,
		writer,
		projection.DefaultConfig,
		log.With("projection").Logger,
	)
	if err := runner.Start(ctx); err != nil {
		log.Fatal("ledgerdemo: start projection", zap.Error(err))
	}
	defer runner.Stop()

	publisher := outbox.NewPublisher(outboxRepo, natsFacade, outbox.DefaultConfig, log.With("outbox").Logger)
	publishCtx, cancelPublish := context.WithCancel(ctx)
	defer cancelPublish()
	go func() { _ = publisher.Run(publishCtx, balanceChangedQueue) }()

	accountID := uuid.NewString()
	md := eventcore.Metadata{"tenant": "default", "correlation_id": uuid.NewString()}

	run := func(cmd any, label string) {
		if err := service.Handle(ctx, cmd, md); err != nil {
			log.Fatal("ledgerdemo: "+label, zap.Error(err))
		}
		fmt.Printf("%s: %+v\n", label, cmd)
	}

	run(OpenAccountCommand{AccountID: accountID, Owner: "Taro", Initial: 1000}, "account opened")
	run(DepositCommand{AccountID: accountID, Amount: 500}, "deposit")
	run(WithdrawCommand{AccountID: accountID, Amount: 200}, "withdrawal")

	l, err := repo.Load(ctx, accountID)
	if err != nil {
		log.Fatal("ledgerdemo: reload account", zap.Error(err))
	}
	fmt.Printf("restored account %s: owner=%s balance=%d (version=%d)\n", accountID, l.Owner(), l.Balance(), l.Version())

	time.Sleep(500 * time.Millisecond)
	var owner string
	var balance int64
	if err := pool.QueryRow(ctx,
		`SELECT owner, balance FROM ledger_balances WHERE account_id = $1`, accountID,
	).Scan(&owner, &balance); err != nil {
		log.Warn("ledgerdemo: read model not yet caught up", zap.Error(err))
		return
	}
	fmt.Printf("ledger_balances read model: owner=%s balance=%d\n", owner, balance)
}
