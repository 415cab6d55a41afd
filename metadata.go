package eventcore

import "context"

// Metadata carries contextual information that accompanies events: tenant,
// correlation id, trace id, and similar cross-cutting fields. Aggregates
// and projections see tenant only through Metadata — never through table
// or stream names, which must stay tenant-agnostic (§9 design note).
type Metadata map[string]any

// Merge returns a new Metadata combining the receiver with ms, in order.
// Later maps take precedence over earlier ones. Safe to call on nil. The
// receiver is never modified.
func (m Metadata) Merge(ms ...Metadata) Metadata {
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	for _, other := range ms {
		for k, v := range other {
			out[k] = v
		}
	}
	return out
}

// Tenant returns the "tenant" field as a string, or "" if absent or of
// the wrong type.
func (m Metadata) Tenant() string { return m.stringField("tenant") }

// CorrelationID returns the "correlation_id" field as a string, or "" if
// absent or of the wrong type.
func (m Metadata) CorrelationID() string { return m.stringField("correlation_id") }

func (m Metadata) stringField(key string) string {
	if m == nil {
		return ""
	}
	v, ok := m[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// MetadataExtractor builds Metadata from a context. Applications supply
// their own extractor that knows about private context keys (tenant,
// user, correlation id, trace id); the core never defines those keys
// itself.
type MetadataExtractor func(ctx context.Context) Metadata
