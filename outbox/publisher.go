package outbox

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/corestratum/eventcore/queue"
)

// Config tunes the Publisher's batching, leasing, and backoff.
type Config struct {
	BatchMax        int
	LeaseTTL        time.Duration
	ReclaimInterval time.Duration
	BackoffBase     time.Duration
	BackoffMax      time.Duration
}

// DefaultConfig matches the documented defaults.
var DefaultConfig = Config{
	BatchMax:        64,
	LeaseTTL:        30 * time.Second,
	ReclaimInterval: 10 * time.Second,
	BackoffBase:     500 * time.Millisecond,
	BackoffMax:      time.Minute,
}

// Publisher drains one goroutine per configured queue (C8), claiming
// batches from a Repository and publishing them through a queue.Facade,
// per SPEC_FULL.md §4.8.
type Publisher struct {
	repo   Repository
	facade queue.Facade
	cfg    Config
	log    *zap.Logger
}

// NewPublisher builds a Publisher.
func NewPublisher(repo Repository, facade queue.Facade, cfg Config, log *zap.Logger) *Publisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Publisher{repo: repo, facade: facade, cfg: cfg, log: log}
}

// Run drains queueName until ctx is cancelled: claim, publish, ack/nack,
// with periodic reclaiming of expired leases. Delivery is at-least-once
// and per-stream FIFO by construction of Claim's ordering.
func (p *Publisher) Run(ctx context.Context, queueName string) error {
	reclaimTicker := time.NewTicker(p.cfg.ReclaimInterval)
	defer reclaimTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-reclaimTicker.C:
			if _, err := p.repo.ReclaimExpired(ctx, time.Now()); err != nil {
				p.log.Warn("outbox: reclaim expired failed", zap.String("queue", queueName), zap.Error(err))
			}
		default:
		}

		batch, err := p.repo.Claim(ctx, queueName, p.cfg.BatchMax, p.cfg.LeaseTTL)
		if err != nil {
			p.log.Warn("outbox: claim failed", zap.String("queue", queueName), zap.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.cfg.BackoffBase):
			}
			continue
		}
		if len(batch) == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.cfg.BackoffBase):
			}
			continue
		}

		p.publishBatch(ctx, queueName, batch)
	}
}

func (p *Publisher) publishBatch(ctx context.Context, queueName string, batch []Record) {
	var acked []int64
	for _, rec := range batch {
		msg := queue.Message{Key: rec.StreamID, Value: rec.Payload, Headers: rec.Headers}
		if err := p.facade.Send(ctx, queueName, msg); err != nil {
			p.nackOne(ctx, queueName, rec, err)
			continue
		}
		acked = append(acked, rec.ID)
	}
	if len(acked) == 0 {
		return
	}
	if err := p.repo.Ack(ctx, acked); err != nil {
		p.log.Warn("outbox: ack failed", zap.String("queue", queueName), zap.Error(err))
	}
}

func (p *Publisher) nackOne(ctx context.Context, queueName string, rec Record, sendErr error) {
	bo := backoffFor(p.cfg, rec.Attempts)
	if err := p.repo.Nack(ctx, []int64{rec.ID}, bo); err != nil {
		p.log.Warn("outbox: nack failed", zap.String("queue", queueName), zap.Error(err))
	}
	p.log.Warn("outbox: publish failed, record nacked",
		zap.String("queue", queueName),
		zap.Int64("id", rec.ID),
		zap.Int("attempts", rec.Attempts+1),
		zap.Error(sendErr),
	)
}

// backoffFor advances a fresh ExponentialBackOff attempts+1 times and
// returns the resulting interval, giving base·2^attempts capped at
// cfg.BackoffMax, jittered.
func backoffFor(cfg Config, attempts int) time.Duration {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.BackoffBase
	bo.MaxInterval = cfg.BackoffMax
	bo.Multiplier = 2
	bo.RandomizationFactor = 0.5

	d := bo.NextBackOff()
	for i := 0; i < attempts; i++ {
		d = bo.NextBackOff()
	}
	return d
}
