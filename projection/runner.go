package projection

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/corestratum/eventcore"
	"github.com/corestratum/eventcore/checkpoint"
	"github.com/corestratum/eventcore/eventlog"
)

// State is one of the Runner's five lifecycle states.
type State int

const (
	StateIdle State = iota
	StateCatchingUp
	StateLive
	StatePaused
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCatchingUp:
		return "catchingUp"
	case StateLive:
		return "live"
	case StatePaused:
		return "paused"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Config tunes batching and the reconnect backoff.
type Config struct {
	BatchMax      int
	BatchLinger   time.Duration
	ReconnectMin  time.Duration
	ReconnectMax  time.Duration
	CheckpointTTL time.Duration

	// MaxConsecutiveHandlerFailures bounds how many times in a row a
	// batch may fail with a HandlerFailedError before the runner gives
	// up retrying and transitions to StatePaused, reported as stuck
	// rather than retried forever. A deterministically failing handler
	// would otherwise retry the same batch indefinitely.
	MaxConsecutiveHandlerFailures int
}

// DefaultConfig matches the documented defaults.
var DefaultConfig = Config{
	BatchMax:                      128,
	BatchLinger:                   50 * time.Millisecond,
	ReconnectMin:                  200 * time.Millisecond,
	ReconnectMax:                  30 * time.Second,
	CheckpointTTL:                 0,
	MaxConsecutiveHandlerFailures: 10,
}

// Runner drives one named subscription through idle → catchingUp → live,
// with pause/resume and source-error reconnection, per SPEC_FULL.md §4.5.
type Runner struct {
	subscriptionID string
	stream         string
	log            eventlog.Client
	checkpoints    checkpoint.Store
	writer         *Writer
	cfg            Config
	logger         *zap.Logger

	mu    sync.Mutex
	state State

	cancel context.CancelFunc
	done   chan struct{}
}

// NewRunner builds a Runner for subscriptionID, reading stream (a single
// stream name or a category prefix the eventlog.Client understands).
func NewRunner(subscriptionID, stream string, log eventlog.Client, checkpoints checkpoint.Store, writer *Writer, cfg Config, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		subscriptionID: subscriptionID,
		stream:         stream,
		log:            log,
		checkpoints:    checkpoints,
		writer:         writer,
		cfg:            cfg,
		logger:         logger,
		state:          StateIdle,
	}
}

// State reports the runner's current lifecycle state.
func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Runner) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// Start begins catching up from the last committed checkpoint (or the
// start of the stream if none exists) and runs until ctx is cancelled or
// Stop is called.
func (r *Runner) Start(ctx context.Context) error {
	if r.State() != StateIdle {
		return errors.New("projection: runner already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancel = cancel
	r.done = make(chan struct{})
	r.mu.Unlock()

	r.setState(StateCatchingUp)
	go r.run(runCtx)
	return nil
}

// Stop cancels the source subscription and drains the inflight batch
// before returning; checkpoints for undelivered events are never
// advanced.
func (r *Runner) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	done := r.done
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	if done != nil {
		<-done
	}
	r.setState(StateStopped)
}

// Pause stops pulling new events while keeping the current position; the
// subscription is not closed until the next run loop tick observes the
// pause.
func (r *Runner) Pause() {
	r.mu.Lock()
	if r.state == StateLive || r.state == StateCatchingUp {
		r.state = StatePaused
	}
	r.mu.Unlock()
}

// Resume reopens the subscription from the last committed checkpoint.
func (r *Runner) Resume(ctx context.Context) error {
	r.mu.Lock()
	paused := r.state == StatePaused
	r.mu.Unlock()
	if !paused {
		return errors.New("projection: runner is not paused")
	}
	r.setState(StateIdle)
	return r.Start(ctx)
}

func (r *Runner) run(ctx context.Context) {
	defer close(r.done)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.cfg.ReconnectMin
	bo.MaxInterval = r.cfg.ReconnectMax
	bo.MaxElapsedTime = 0 // retry indefinitely until ctx is cancelled

	consecutiveHandlerFailures := 0

	for {
		if ctx.Err() != nil {
			return
		}
		if err := r.runOnce(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}

			var handlerErr *eventcore.HandlerFailedError
			if errors.As(err, &handlerErr) {
				consecutiveHandlerFailures++
				if consecutiveHandlerFailures >= r.cfg.MaxConsecutiveHandlerFailures {
					r.logger.Error("projection: subscription stuck, pausing after repeated handler failures",
						zap.String("subscription_id", r.subscriptionID),
						zap.Int("consecutive_failures", consecutiveHandlerFailures),
						zap.Error(err),
					)
					r.setState(StatePaused)
					return
				}
			} else {
				consecutiveHandlerFailures = 0
			}

			r.logger.Warn("projection: subscription error, reconnecting",
				zap.String("subscription_id", r.subscriptionID),
				zap.Error(err),
			)
			r.setState(StateCatchingUp)
			select {
			case <-ctx.Done():
				return
			case <-time.After(bo.NextBackOff()):
			}
			continue
		}
		bo.Reset()
		return
	}
}

func (r *Runner) runOnce(ctx context.Context) error {
	start := eventcore.Zero
	if cp, ok, err := r.checkpoints.Get(ctx, r.subscriptionID); err == nil && ok {
		start = cp.Position
	}

	it, err := r.log.Subscribe(ctx, r.stream, start)
	if err != nil {
		return err
	}
	defer func() { _ = it.Close() }()

	batch := make([]eventcore.Event, 0, r.cfg.BatchMax)
	lingerTimer := time.NewTimer(r.cfg.BatchLinger)
	defer lingerTimer.Stop()

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		last := batch[len(batch)-1].GlobalPosition
		if err := r.writer.ApplyBatch(ctx, batch, r.subscriptionID, last); err != nil {
			return err
		}
		if _, err := r.checkpoints.SetIfNewer(ctx, r.subscriptionID, last, r.cfg.CheckpointTTL); err != nil {
			r.logger.Warn("projection: fast checkpoint publish failed",
				zap.String("subscription_id", r.subscriptionID),
				zap.Error(err),
			)
		}
		batch = batch[:0]
		return nil
	}

	for {
		if r.State() == StatePaused {
			return flush()
		}

		select {
		case <-ctx.Done():
			_ = flush()
			return ctx.Err()
		case <-lingerTimer.C:
			if err := flush(); err != nil {
				return err
			}
			lingerTimer.Reset(r.cfg.BatchLinger)
			continue
		default:
		}

		r.setState(StateLive)

		ev, ok, err := it.Next(ctx)
		if err != nil {
			_ = flush()
			return err
		}
		if !ok {
			return flush()
		}
		batch = append(batch, ev)
		if len(batch) >= r.cfg.BatchMax {
			if err := flush(); err != nil {
				return err
			}
			lingerTimer.Reset(r.cfg.BatchLinger)
		}
	}
}
