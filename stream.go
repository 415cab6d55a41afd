package eventcore

import "fmt"

const snapshotStreamPrefix = "snap."

// StreamID builds the opaque stream identity
// "<context>.<aggregate>.v<schema>.<tenant>-<entityId>". Only the
// repository constructs stream identities; everything downstream treats
// them as opaque strings. The "." before tenant keeps every stream under
// a category prefix a plain LIKE/HasPrefix match can isolate; see
// CategoryPrefix.
func StreamID(context, aggregate string, schema int, tenant, entityID string) string {
	return fmt.Sprintf("%s%s-%s", CategoryPrefix(context, aggregate, schema), tenant, entityID)
}

// SnapshotStreamID returns the paired snapshot stream for a given
// aggregate stream: "snap.<stream>".
func SnapshotStreamID(streamID string) string {
	return snapshotStreamPrefix + streamID
}

// CategoryPrefix builds the "<context>.<aggregate>.v<schema>." prefix
// used to subscribe to every stream of a given aggregate type regardless
// of tenant or entity: eventlog.Client.Subscribe treats any stream
// argument ending in "." as this kind of category subscription.
func CategoryPrefix(context, aggregate string, schema int) string {
	return fmt.Sprintf("%s.%s.v%d.", context, aggregate, schema)
}
