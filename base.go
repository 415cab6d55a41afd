package eventcore

// Base is an embeddable helper that implements the bookkeeping half of
// Aggregate, leaving the domain's own Apply switch and command handling
// to the embedder.
//
// Semantics:
//   - Apply(e): mutate state via applier and bump version by 1. Does NOT
//     enqueue; used for replay.
//   - Raise(e): Apply(e) plus enqueue to pending, for newly produced
//     events from command handling.
//   - Version(): current version, including pending.
//   - Flush(): returns pending (encoded) and clears it, along with
//     expectedVersion = currentVersion - len(pending before the call).
type Base struct {
	id      string
	version int64
	pending []EventToAppend
	applier func(any)
	encoder func(any) (string, []byte, error)
}

// Init sets the stream ID and the state-mutation function (applier).
// encode is used by Raise to turn a domain event value into the opaque
// payload recorded in pending; pass nil to use EventTyped + JSON.
func (b *Base) Init(streamID string, applier func(any), encode func(any) (string, []byte, error)) {
	b.id = streamID
	b.applier = applier
	b.encoder = encode
}

// StreamID returns the stream identifier.
func (b *Base) StreamID() string { return b.id }

// SetStreamID overrides the stream ID, e.g. once the first event assigns
// the aggregate's entity id.
func (b *Base) SetStreamID(streamID string) { b.id = streamID }

// SetVersion forces the version counter, used when restoring from a
// snapshot without replaying every event.
func (b *Base) SetVersion(v int64) { b.version = v }

// Apply mutates state by a single decoded domain event and advances the
// version by 1.
func (b *Base) Apply(e any) {
	if b.applier != nil {
		b.applier(e)
	}
	b.version++
}

// Raise records a new domain event: Apply plus enqueue into the pending
// buffer, encoded for later persistence. evt's type name comes from
// EventTyped and its payload from JSON unless a custom encoder was set
// with Init.
func (b *Base) Raise(evt any) error {
	typ, data, err := b.encode(evt)
	if err != nil {
		return err
	}
	b.Apply(evt)
	b.pending = append(b.pending, EventToAppend{Type: typ, Data: data})
	return nil
}

func (b *Base) encode(evt any) (string, []byte, error) {
	if b.encoder != nil {
		return b.encoder(evt)
	}
	typ := EventTyped(evt)
	codec := JSONCodec[any]()
	data, err := codec.Encode(evt)
	return typ, data, err
}

// Flush returns all uncommitted events and clears the pending buffer.
func (b *Base) Flush() (events []EventToAppend, expectedVersion int64) {
	events = b.pending
	expectedVersion = b.version - int64(len(events))
	b.pending = nil
	return
}

// Version returns the current version, including pending events.
func (b *Base) Version() int64 { return b.version }
