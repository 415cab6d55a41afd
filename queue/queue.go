// Package queue is the abstract message-transport boundary (C9 in the
// core design) that the outbox publisher drains into.
package queue

import (
	"context"
)

// Message is a single message handed to Send or delivered to a
// subscriber.
type Message struct {
	Key     string // typically the stream id, for partition/ordering hints
	Value   []byte
	Headers map[string]string
}

// Handler processes one delivered Message. Returning an error causes the
// facade to redeliver per its backend's at-least-once semantics.
type Handler func(ctx context.Context, msg Message) error

// RegisterConfig describes the queues and worker pools a caller wants
// the facade to manage.
type RegisterConfig struct {
	Queues        []string
	Workers       map[string]Handler // queue name -> handler
	EnableMetrics bool
}

// Facade is the C9 contract: send, subscribe, dynamic registration, and
// an ordered graceful shutdown.
type Facade interface {
	// Send publishes msg to queue using the producer's dedicated
	// connection.
	Send(ctx context.Context, queue string, msg Message) error

	// Subscribe delivers every message on queue to handler using a
	// dedicated subscriber connection, until ctx is cancelled.
	Subscribe(ctx context.Context, queue string, handler Handler) error

	// Register starts worker pools for cfg.Workers, each on its own
	// dedicated connection.
	Register(ctx context.Context, cfg RegisterConfig) error

	// Shutdown runs, in order, even if an earlier step errors: stop
	// accepting new work, drain workers, close the producer, close the
	// subscriber, close transports. Errors from every step are joined.
	Shutdown(ctx context.Context) error
}
