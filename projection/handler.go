package projection

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5"

	"github.com/corestratum/eventcore"
)

// Handler applies one decoded domain event inside the enclosing batch
// transaction. Handlers MUST only perform SQL upserts/deletes against tx;
// they MUST NOT call external services or otherwise suspend on I/O beyond
// the transaction itself.
type Handler func(ctx context.Context, tx pgx.Tx, decoded any, ev eventcore.Event) error

// Registry maps event type names to their Handler. An event type with no
// registered handler is logged and silently skipped, for forward
// compatibility with event types introduced after this projection was
// deployed.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds eventType to h, replacing any existing handler.
func (r *Registry) Register(eventType string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[eventType] = h
}

// Lookup returns the handler for eventType, if any.
func (r *Registry) Lookup(eventType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[eventType]
	return h, ok
}
