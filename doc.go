// Package eventcore is the write-side aggregate and projection core of a
// multi-tenant, event-sourced backend: aggregate rehydration with
// snapshots, checkpointed projection of event streams into SQL read
// models and Redis caches, and a durable outbox for downstream
// publication.
//
// The root package holds the shared data model — events, positions,
// metadata, codecs, error kinds, stream identity, and the Aggregate/
// Reducer contracts. Concrete backends live in subpackages: eventlog,
// snapshotstore, checkpoint, repository, projection, outbox, and queue.
package eventcore
