// Package mem is an in-process eventlog.Client, adapted from the
// teacher library's in-memory EventStore. It is concurrency-safe and
// intended for tests: events are lost on restart.
//
// Unlike eventlog/pgx, this Client wraps no retry policy around its
// operations: every method only takes an in-process mutex and touches
// process memory, so there is no connection, socket, or transport that
// can fail transiently. VersionConflictError here is always a genuine
// optimistic-concurrency conflict, never a retryable transport error.
package mem

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/corestratum/eventcore"
	"github.com/corestratum/eventcore/eventlog"
)

type storedEvent struct {
	id       uuid.UUID
	typ      string
	data     []byte
	metadata []byte
	revision int64
	global   uint64
	at       time.Time
}

// Client is an in-memory eventlog.Client.
type Client struct {
	mu        sync.RWMutex
	streams   map[string][]storedEvent
	globalSeq uint64
	subs      []chan struct{}
}

// New creates an empty in-memory Client.
func New() *Client {
	return &Client{streams: make(map[string][]storedEvent)}
}

var _ eventlog.Client = (*Client)(nil)

func (c *Client) Append(ctx context.Context, stream string, expectedRevision int64, events []eventcore.EventToAppend, _ eventcore.Metadata) (eventlog.AppendResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	seq := c.streams[stream]
	current := int64(len(seq)) - 1 // -1 == no-stream

	switch expectedRevision {
	case eventlog.RevisionAny:
		// no check
	case eventlog.RevisionNoStream:
		if len(seq) != 0 {
			return eventlog.AppendResult{}, &eventcore.VersionConflictError{StreamID: stream, ExpectedVersion: -1, ActualVersion: current}
		}
	case eventlog.RevisionStreamExists:
		if len(seq) == 0 {
			return eventlog.AppendResult{}, &eventcore.VersionConflictError{StreamID: stream, ExpectedVersion: -1, ActualVersion: current}
		}
	default:
		if current != expectedRevision {
			return eventlog.AppendResult{}, &eventcore.VersionConflictError{StreamID: stream, ExpectedVersion: expectedRevision, ActualVersion: current}
		}
	}

	if len(events) == 0 {
		return eventlog.AppendResult{FirstRevision: current, LastRevision: current}, nil
	}

	now := time.Now()
	first := current + 1
	for _, e := range events {
		current++
		c.globalSeq++
		id := e.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		seq = append(seq, storedEvent{
			id:       id,
			typ:      e.Type,
			data:     e.Data,
			metadata: e.Metadata,
			revision: current,
			global:   c.globalSeq,
			at:       now,
		})
	}
	c.streams[stream] = seq
	c.notify()

	return eventlog.AppendResult{
		FirstRevision: first,
		LastRevision:  current,
		LastPosition:  eventcore.Position{Commit: c.globalSeq},
	}, nil
}

func (c *Client) notify() {
	for _, ch := range c.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (c *Client) ReadForward(_ context.Context, stream string, fromRevision int64, limit int) (eventlog.EventIterator, error) {
	c.mu.RLock()
	seq := c.streams[stream]
	out := make([]storedEvent, 0, len(seq))
	for _, e := range seq {
		if e.revision >= fromRevision {
			out = append(out, e)
		}
	}
	c.mu.RUnlock()

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return &sliceIterator{stream: stream, events: out}, nil
}

func (c *Client) ReadBackward(_ context.Context, stream string, limit int) (eventlog.EventIterator, error) {
	c.mu.RLock()
	seq := c.streams[stream]
	out := make([]storedEvent, len(seq))
	copy(out, seq)
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].revision > out[j].revision })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return &sliceIterator{stream: stream, events: out}, nil
}

// Subscribe delivers every currently-stored event across all streams
// whose name matches the given stream (exact match) or, when stream ends
// in ".", is a category prefix — then polls for new arrivals until ctx is
// cancelled. Events are delivered in per-stream revision order; across
// streams the merge order is by global sequence, approximating a category
// subscription well enough for tests.
func (c *Client) Subscribe(ctx context.Context, stream string, fromPosition eventcore.Position) (eventlog.EventIterator, error) {
	notifyCh := make(chan struct{}, 1)
	c.mu.Lock()
	c.subs = append(c.subs, notifyCh)
	c.mu.Unlock()

	it := &subIterator{
		client:   c,
		stream:   stream,
		category: strings.HasSuffix(stream, "."),
		after:    fromPosition.Commit,
		notify:   notifyCh,
		ctx:      ctx,
	}
	return it, nil
}

type sliceIterator struct {
	stream string
	events []storedEvent
	pos    int
}

func (it *sliceIterator) Next(_ context.Context) (eventcore.Event, bool, error) {
	if it.pos >= len(it.events) {
		return eventcore.Event{}, false, nil
	}
	e := it.events[it.pos]
	it.pos++
	return toEvent(it.stream, e), true, nil
}

func (it *sliceIterator) Close() error { return nil }

type subIterator struct {
	client   *Client
	stream   string
	category bool
	after    uint64
	notify   chan struct{}
	ctx      context.Context
	closed   bool
}

func (it *subIterator) matches(name string) bool {
	if it.category {
		return strings.HasPrefix(name, it.stream)
	}
	return name == it.stream
}

func (it *subIterator) Next(ctx context.Context) (eventcore.Event, bool, error) {
	for {
		next, ok := it.pullOne()
		if ok {
			return next, true, nil
		}
		select {
		case <-ctx.Done():
			return eventcore.Event{}, false, ctx.Err()
		case <-it.ctx.Done():
			return eventcore.Event{}, false, it.ctx.Err()
		case <-it.notify:
			continue
		}
	}
}

func (it *subIterator) pullOne() (eventcore.Event, bool) {
	it.client.mu.RLock()
	defer it.client.mu.RUnlock()

	var best *storedEvent
	var bestStream string
	for name, seq := range it.client.streams {
		if !it.matches(name) {
			continue
		}
		for i := range seq {
			if seq[i].global <= it.after {
				continue
			}
			if best == nil || seq[i].global < best.global {
				e := seq[i]
				best = &e
				bestStream = name
			}
		}
	}
	if best == nil {
		return eventcore.Event{}, false
	}
	it.after = best.global
	return toEvent(bestStream, *best), true
}

func (it *subIterator) Close() error {
	if it.closed {
		return nil
	}
	it.closed = true
	it.client.mu.Lock()
	defer it.client.mu.Unlock()
	for i, ch := range it.client.subs {
		if ch == it.notify {
			it.client.subs = append(it.client.subs[:i], it.client.subs[i+1:]...)
			break
		}
	}
	return nil
}

func toEvent(stream string, e storedEvent) eventcore.Event {
	pos := eventcore.Position{Commit: e.global}
	return eventcore.Event{
		ID:             e.id,
		StreamID:       stream,
		Type:           e.typ,
		Data:           e.data,
		Metadata:       e.metadata,
		StreamRevision: e.revision,
		GlobalPosition: pos,
		LinkPosition:   pos,
		RecordedAt:     e.at,
	}
}
