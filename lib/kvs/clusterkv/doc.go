// Package clusterkv implements the kvs.Driver interface on top of the
// Dragonboat RAFT consensus library, replicating a db.Engine across
// multiple nodes with strong consistency guarantees.
//
// Architecture:
//
//   - KVStateMachine hosts one engine per shard replica. Commit batches are
//     proposed into the raft log as msgpack-encoded CommitCommand entries;
//     every replica deserializes, validates and applies them through the
//     engine. Validation is deterministic, so replicas always agree on
//     whether a commit won or lost its optimistic race.
//
//   - The driver side wraps a dragonboat NodeHost. Reads go through
//     linearizable SyncRead queries (StaleRead for metadata), writes through
//     SyncPropose with bounded retries on raft backpressure.
//
//   - Snapshots are fuzzy: SaveSnapshot serializes the engine while it keeps
//     serving, RecoverFromSnapshot rebuilds a fresh engine from the stream.
//
// The driver is a native kvs.Committer, so the transaction layer never needs
// latching; conflict resolution happens inside the state machine.
package clusterkv
