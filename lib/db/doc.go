// Package db provides a standardized interface for versioned key-value
// engine implementations. It defines the Engine interface that allows for
// consistent interaction with various storage engines while abstracting
// implementation details.
//
// The package focuses on:
//   - A unified interface for versioned key-value operations
//   - A conditional-commit batch model with optimistic validation
//   - Feature discovery through capability flags
//   - Standardized persistence operations
//
// Key Components:
//
//   - Engine Interface: The core interface that all engine implementations
//     must satisfy. It provides versioned point reads (Get), ordered range
//     scans (Scan), atomic conditional commits (CommitBatch), metadata
//     retrieval (GetInfo), and persistence operations (Save, Load).
//
//   - Versioned Entries: Every stored value carries the version of the
//     commit that produced it. Deletes leave tombstone entries behind so that
//     a later conditional commit can detect the removal; engines collect
//     tombstones in the background once they fall outside the retention
//     window.
//
//   - Conditional Batches: A Batch carries the read version of the
//     transaction that produced it, the point reads and key ranges it
//     observed, and its pending writes. CommitBatch validates all three
//     against the current state and applies the writes under a single new
//     version, or rejects the whole batch with ErrConflict. Validation and
//     apply are serialized inside the engine, so the first committer wins and
//     no partial batch is ever visible.
//
//   - Feature Flags: The Feature type defines capability flags that
//     implementations can advertise through the SupportsFeature method.
//
// Note on Versioning:
//   - Versions increase monotonically by exactly one per applied batch.
//   - A key's entry version is the version of the commit that last wrote it;
//     validation compares these versions, never value bytes.
//   - Writes whose key carries a versionstamp placeholder have the
//     placeholder replaced with the commit version before the write lands,
//     which lets callers publish commit-ordered records (such as change feed
//     entries) atomically with the commit itself.
//
// Related Packages:
//
// The engines/birch package (github.com/phughk/surrealdb/lib/db/engines/birch)
// provides an ordered in-memory implementation of the Engine interface backed
// by a B-tree, with background tombstone collection and binary persistence.
//
// The util package (github.com/phughk/surrealdb/lib/db/util) provides
// complementary tools for engine implementations:
//   - SizeHistogram: Utilities for analyzing value size distributions
//   - MapHeap: A priority queue used to schedule tombstone collection
//   - LockFreeMPSC: A lock-free multi-producer single-consumer event queue
//
// The testing package (github.com/phughk/surrealdb/lib/db/testing) provides
// standardized tests for engine implementations that satisfy the db.Engine
// interface.
package db
