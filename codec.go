package eventcore

import (
	"encoding/json"
	"fmt"
)

// EventCodec encodes and decodes the opaque payload of a single event
// type. Applications register one codec per event type with whichever
// store they use.
type EventCodec interface {
	Encode(v any) ([]byte, error)
	Decode(b []byte) (any, error)
}

// JSONCodec returns a generic JSON EventCodec for type T.
func JSONCodec[T any]() EventCodec {
	return jsonCodec[T]{}
}

type jsonCodec[T any] struct{}

func (jsonCodec[T]) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec[T]) Decode(b []byte) (any, error) {
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, fmt.Errorf("eventcore: decode json event: %w", err)
	}
	return v, nil
}

// CodecRegistry maps event type names to their codec. Stores use it to
// encode EventToAppend payloads and decode rows read back from the log.
type CodecRegistry map[string]EventCodec

// Encode looks up the codec for EventTyped(v) and encodes v.
func (r CodecRegistry) Encode(v any) (typ string, data []byte, err error) {
	typ = EventTyped(v)
	codec, ok := r[typ]
	if !ok {
		return typ, nil, fmt.Errorf("eventcore: no codec registered for event type %q", typ)
	}
	data, err = codec.Encode(v)
	return typ, data, err
}

// Decode looks up the codec for typ and decodes data.
func (r CodecRegistry) Decode(typ string, data []byte) (any, error) {
	codec, ok := r[typ]
	if !ok {
		return nil, fmt.Errorf("eventcore: no codec registered for event type %q", typ)
	}
	return codec.Decode(data)
}
