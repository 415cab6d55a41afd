package eventcore

// Aggregate is the write-side contract for a domain entity that raises
// new events in response to commands, as opposed to Reducer which only
// replays. Most domain aggregates embed Base and only need to implement
// their own Apply switch and command handling; Aggregate is what a
// write-path repository (e.g. cmd/ledgerdemo's LedgerRepository.Save)
// depends on.
type Aggregate interface {
	// StreamID returns the unique identifier for this aggregate's event
	// stream, e.g. "orders.order.v1.acme-42".
	StreamID() string

	// Apply mutates state by a single decoded domain event, during
	// replay or right after a command records a new one.
	Apply(e any)

	// Flush returns all uncommitted events and clears the pending
	// buffer, along with the expected stream version for the optimistic
	// append: expectedVersion = currentVersion - len(pendingBeforeFlush).
	Flush() (events []EventToAppend, expectedVersion int64)

	// Version returns the current version, including pending events.
	Version() int64
}
