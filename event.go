package eventcore

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event is a persisted domain event as read back from the log. Data and
// Metadata stay opaque byte blobs until a codec decodes them; the core
// never inspects their contents.
type Event struct {
	ID             uuid.UUID
	StreamID       string
	Type           string
	Data           []byte
	Metadata       []byte
	StreamRevision int64
	GlobalPosition Position
	// LinkPosition is the category-subscription ordinal. It equals
	// GlobalPosition for every backend this module ships, but is kept as
	// a distinct field because a category subscription over a
	// multiplexed transport (e.g. a CDC stream) may resolve it
	// differently from the event's own commit position.
	LinkPosition Position
	RecordedAt   time.Time
}

// EventToAppend is a not-yet-persisted event, already encoded by a codec.
// Callers of Client.Append build a slice of these; the store assigns
// StreamRevision and GlobalPosition on success.
type EventToAppend struct {
	ID       uuid.UUID
	Type     string
	Data     []byte
	Metadata []byte
}

// EventTyped identifies a value's canonical event type name. If the value
// implements `EventType() string`, that is used; otherwise the Go type
// name is used, matching the teacher library's convention.
func EventTyped(v any) string {
	if named, ok := v.(interface{ EventType() string }); ok {
		return named.EventType()
	}
	return fmt.Sprintf("%T", v)
}
