// Package nats is a NATS JetStream-backed queue.Facade. Per SPEC_FULL.md
// §4.9, the producer, the subscriber, and every worker pool each hold a
// dedicated *nats.Conn — connections are never shared across roles, so a
// slow worker can never starve the producer or another worker's flow
// control.
package nats

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/corestratum/eventcore/queue"
)

// Config configures a Facade.
type Config struct {
	URL           string
	Env           string
	Service       string
	AckWait       time.Duration
	MaxAckPending int
}

// DefaultConfig fills in the documented defaults.
func DefaultConfig(url, env, service string) Config {
	return Config{URL: url, Env: env, Service: service, AckWait: 30 * time.Second, MaxAckPending: 1024}
}

type workerPool struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	sub    *nats.Subscription
	cancel context.CancelFunc
}

// Facade is a NATS JetStream queue.Facade.
type Facade struct {
	cfg    Config
	log    *zap.Logger
	prefix string

	producerConn *nats.Conn
	producerJS   nats.JetStreamContext

	mu             sync.Mutex
	subscriberConn *nats.Conn
	subscriberJS   nats.JetStreamContext
	subscriberSub  *nats.Subscription
	workers        map[string]*workerPool
	stopped        bool
}

// New dials a dedicated producer connection and returns a Facade; the
// subscriber and worker-pool connections are dialed lazily by Subscribe
// and Register.
func New(cfg Config, log *zap.Logger) (*Facade, error) {
	if log == nil {
		log = zap.NewNop()
	}
	conn, err := nats.Connect(cfg.URL, nats.Name(cfg.Service+"-producer"))
	if err != nil {
		return nil, fmt.Errorf("queue/nats: connect producer: %w", err)
	}
	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("queue/nats: producer jetstream: %w", err)
	}
	return &Facade{
		cfg:          cfg,
		log:          log,
		prefix:       fmt.Sprintf("%s.%s", cfg.Env, cfg.Service),
		producerConn: conn,
		producerJS:   js,
		workers:      make(map[string]*workerPool),
	}, nil
}

var _ queue.Facade = (*Facade)(nil)

func (f *Facade) subject(name string) string {
	return fmt.Sprintf("%s.%s", f.prefix, name)
}

func (f *Facade) Send(ctx context.Context, queueName string, msg queue.Message) error {
	natsMsg := &nats.Msg{
		Subject: f.subject(queueName),
		Data:    msg.Value,
		Header:  nats.Header{},
	}
	if msg.Key != "" {
		natsMsg.Header.Set("Eventcore-Key", msg.Key)
	}
	for k, v := range msg.Headers {
		natsMsg.Header.Set(k, v)
	}
	_, err := f.producerJS.PublishMsg(natsMsg, nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("queue/nats: send: %w", err)
	}
	return nil
}

// Subscribe dials a dedicated subscriber connection and delivers every
// message on queueName to handler until ctx is cancelled.
func (f *Facade) Subscribe(ctx context.Context, queueName string, handler queue.Handler) error {
	f.mu.Lock()
	if f.subscriberConn == nil {
		conn, err := nats.Connect(f.cfg.URL, nats.Name(f.cfg.Service+"-subscriber"))
		if err != nil {
			f.mu.Unlock()
			return fmt.Errorf("queue/nats: connect subscriber: %w", err)
		}
		js, err := conn.JetStream()
		if err != nil {
			conn.Close()
			f.mu.Unlock()
			return fmt.Errorf("queue/nats: subscriber jetstream: %w", err)
		}
		f.subscriberConn = conn
		f.subscriberJS = js
	}
	js := f.subscriberJS
	f.mu.Unlock()

	sub, err := js.Subscribe(f.subject(queueName), func(m *nats.Msg) {
		if err := handler(ctx, toMessage(m)); err != nil {
			f.log.Warn("queue/nats: handler failed, message will be redelivered",
				zap.String("queue", queueName), zap.Error(err))
			_ = m.Nak()
			return
		}
		_ = m.Ack()
	}, nats.ManualAck(), nats.AckWait(f.cfg.AckWait), nats.MaxAckPending(f.cfg.MaxAckPending))
	if err != nil {
		return fmt.Errorf("queue/nats: subscribe: %w", err)
	}

	f.mu.Lock()
	f.subscriberSub = sub
	f.mu.Unlock()

	<-ctx.Done()
	return ctx.Err()
}

// Register starts one worker pool per entry in cfg.Workers, each on its
// own dedicated connection.
func (f *Facade) Register(ctx context.Context, cfg queue.RegisterConfig) error {
	for _, queueName := range cfg.Queues {
		handler, ok := cfg.Workers[queueName]
		if !ok {
			continue
		}
		if err := f.startWorker(ctx, queueName, handler, cfg.EnableMetrics); err != nil {
			return err
		}
	}
	return nil
}

func (f *Facade) startWorker(ctx context.Context, queueName string, handler queue.Handler, enableMetrics bool) error {
	conn, err := nats.Connect(f.cfg.URL, nats.Name(fmt.Sprintf("%s-worker-%s", f.cfg.Service, queueName)))
	if err != nil {
		return fmt.Errorf("queue/nats: connect worker %s: %w", queueName, err)
	}
	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return fmt.Errorf("queue/nats: worker %s jetstream: %w", queueName, err)
	}

	workerCtx, cancel := context.WithCancel(ctx)
	sub, err := js.Subscribe(f.subject(queueName), func(m *nats.Msg) {
		if err := handler(workerCtx, toMessage(m)); err != nil {
			if enableMetrics {
				f.log.Warn("queue/nats: worker handler failed", zap.String("queue", queueName), zap.Error(err))
			}
			_ = m.Nak()
			return
		}
		_ = m.Ack()
	}, nats.ManualAck(), nats.AckWait(f.cfg.AckWait), nats.MaxAckPending(f.cfg.MaxAckPending))
	if err != nil {
		cancel()
		conn.Close()
		return fmt.Errorf("queue/nats: worker %s subscribe: %w", queueName, err)
	}

	f.mu.Lock()
	f.workers[queueName] = &workerPool{conn: conn, js: js, sub: sub, cancel: cancel}
	f.mu.Unlock()
	return nil
}

// Shutdown runs the five-step drain order from SPEC_FULL.md §4.9: stop
// accepting new work, drain workers, close the producer, close the
// subscriber, close transports. Every step runs even if an earlier one
// failed; errors are joined.
func (f *Facade) Shutdown(ctx context.Context) error {
	f.mu.Lock()
	f.stopped = true
	workers := f.workers
	f.workers = nil
	subSub := f.subscriberSub
	subConn := f.subscriberConn
	prodConn := f.producerConn
	f.mu.Unlock()

	var errs []error

	// 1. stop accepting new work: cancel each worker's context so its
	// handler observes cancellation on its next invocation.
	for _, w := range workers {
		w.cancel()
	}

	// 2. drain workers: unsubscribe, then drain+close each worker conn.
	for queueName, w := range workers {
		if w.sub != nil {
			if err := w.sub.Drain(); err != nil {
				errs = append(errs, fmt.Errorf("queue/nats: drain worker %s: %w", queueName, err))
			}
		}
		if w.conn != nil {
			if err := w.conn.Drain(); err != nil {
				errs = append(errs, fmt.Errorf("queue/nats: drain worker conn %s: %w", queueName, err))
			}
			w.conn.Close()
		}
	}

	// 3. close producer.
	if prodConn != nil {
		if err := prodConn.Drain(); err != nil {
			errs = append(errs, fmt.Errorf("queue/nats: drain producer: %w", err))
		}
		prodConn.Close()
	}

	// 4. close subscriber.
	if subSub != nil {
		if err := subSub.Drain(); err != nil {
			errs = append(errs, fmt.Errorf("queue/nats: drain subscriber sub: %w", err))
		}
	}
	if subConn != nil {
		if err := subConn.Drain(); err != nil {
			errs = append(errs, fmt.Errorf("queue/nats: drain subscriber conn: %w", err))
		}
		subConn.Close()
	}

	// 5. close transports: nothing further owned beyond the connections
	// already closed above.

	return errors.Join(errs...)
}

func toMessage(m *nats.Msg) queue.Message {
	headers := make(map[string]string, len(m.Header))
	var key string
	for k, v := range m.Header {
		if len(v) == 0 {
			continue
		}
		if k == "Eventcore-Key" {
			key = v[0]
			continue
		}
		headers[k] = v[0]
	}
	return queue.Message{Key: key, Value: m.Data, Headers: headers}
}
