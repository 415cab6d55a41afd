package eventcore

// Reducer rebuilds aggregate state of type S from a stream of decoded
// domain events. Implementations MUST be pure and deterministic — the
// same event applied to the same state always yields the same result —
// and MUST NOT perform I/O; Apply runs during replay, potentially many
// times for the same event across retries.
//
// decoded is the codec-decoded domain value (e.g. an AccountOpened{}),
// not the opaque stored Event envelope — decoding from the envelope's
// Data bytes is the repository's job via a CodecRegistry.
type Reducer[S any] interface {
	// Initial returns the zero state an aggregate starts from when no
	// snapshot exists.
	Initial() S

	// Apply returns the state that results from applying decoded to
	// state. A panic here aborts the in-progress load with
	// RebuildFailedError.
	Apply(state S, decoded any) S
}

// ReducerFunc adapts two plain functions to the Reducer interface.
type ReducerFunc[S any] struct {
	InitialFunc func() S
	ApplyFunc   func(S, any) S
}

func (r ReducerFunc[S]) Initial() S         { return r.InitialFunc() }
func (r ReducerFunc[S]) Apply(s S, e any) S { return r.ApplyFunc(s, e) }

var _ Reducer[struct{}] = ReducerFunc[struct{}]{}
