// Package birch provides an ordered, versioned in-memory engine that
// implements the db.Engine interface.
//
// Entries are kept in a B-tree ordered by the raw key bytes, which makes
// range scans over encoded key prefixes cheap. Every commit is assigned a
// monotonically increasing version; a conditional batch is validated against
// the versions currently in the tree before its writes are applied, so two
// committers racing over the same keys resolve with first committer wins.
//
// Deletes leave tombstone entries behind. Tombstones are what later commit
// validation uses to detect that a key was removed, so they cannot be dropped
// immediately; a background garbage collector removes them once they fall a
// configurable number of versions behind the head.
//
// Key characteristics:
//   - Ordered iteration and range scans over raw byte keys
//   - Atomic conditional batches with read-set, range and write-key validation
//   - Versionstamped keys for commit-ordered append structures
//   - Snapshot and restore support (Save/Load)
//
// The engine is safe for concurrent use: reads take a shared lock, commits
// are serialized behind an exclusive lock.
package birch
