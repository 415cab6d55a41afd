package eventcore

import (
	"errors"
	"fmt"
)

// Sentinel errors for kinds that carry no structured detail beyond their
// identity. Use errors.Is against these; richer kinds below carry their
// own Is method so errors.Is still works through wrapping.
var (
	// ErrVersionConflict: log append rejected due to an unexpected
	// stream head, typically a concurrent writer. Recovered by reloading
	// the aggregate and retrying the command one layer up; never fatal
	// to the core.
	ErrVersionConflict = errors.New("eventcore: version conflict")

	// ErrCancelled: caller-signaled abort. Resources are released
	// cleanly; this is not logged as an error.
	ErrCancelled = errors.New("eventcore: cancelled")

	// ErrDeadLetter: an outbox record exceeded maxAttempts and was
	// marked dead.
	ErrDeadLetter = errors.New("eventcore: dead letter")
)

// VersionConflictError carries the detail behind ErrVersionConflict.
type VersionConflictError struct {
	StreamID        string
	ExpectedVersion int64
	ActualVersion   int64
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("eventcore: version conflict on stream %s: expected=%d actual=%d",
		e.StreamID, e.ExpectedVersion, e.ActualVersion)
}

// Is allows errors.Is(err, ErrVersionConflict) to match.
func (e *VersionConflictError) Is(target error) bool { return target == ErrVersionConflict }

// RebuildFailedError: the reducer threw while replaying a stream. Fatal
// to the current load; the stream is now suspect.
type RebuildFailedError struct {
	StreamID       string
	Context        string
	Aggregate      string
	EntityID       string
	FailingEventID string
	Cause          error
}

func (e *RebuildFailedError) Error() string {
	return fmt.Sprintf("eventcore: rebuild failed for stream %s (event %s): %v",
		e.StreamID, e.FailingEventID, e.Cause)
}

func (e *RebuildFailedError) Unwrap() error { return e.Cause }

// TransientIOError: a transport error, timeout, or transient backend
// fault. Retried internally with bounded exponential backoff; surfaced
// to the caller only after the retry budget is exhausted.
type TransientIOError struct {
	Op    string
	Cause error
}

func (e *TransientIOError) Error() string {
	return fmt.Sprintf("eventcore: transient error during %s: %v", e.Op, e.Cause)
}

func (e *TransientIOError) Unwrap() error { return e.Cause }

// ErrOperationTimeout is returned once a TransientIOError's retry budget
// is exhausted by a bounded total window.
var ErrOperationTimeout = errors.New("eventcore: operation timeout")

// HandlerFailedError: a projection handler raised inside the batch
// transaction. The whole batch rolls back and is retried after backoff.
type HandlerFailedError struct {
	SubscriptionID string
	EventID        string
	EventType      string
	Cause          error
}

func (e *HandlerFailedError) Error() string {
	return fmt.Sprintf("eventcore: handler failed for subscription %s on event %s (%s): %v",
		e.SubscriptionID, e.EventID, e.EventType, e.Cause)
}

func (e *HandlerFailedError) Unwrap() error { return e.Cause }

// ConfigInvalidError: surfaced at startup only; callers should fail fast.
type ConfigInvalidError struct {
	Field  string
	Reason string
}

func (e *ConfigInvalidError) Error() string {
	return fmt.Sprintf("eventcore: invalid config %s: %s", e.Field, e.Reason)
}
