// Package kvs provides the transactional layer over the low-level db.Engine
// backends: snapshot-isolated transactions with optimistic concurrency
// control, a structured key space for typed records, and an ordered change
// feed published atomically with each commit.
//
// The package focuses on:
//   - Transactions (Begin/Get/Scan/Set/Commit/Cancel) with repeatable reads
//     and first-committer-wins conflict detection
//   - Pluggable storage backends through the Driver/DriverFactory pattern
//   - Change data capture with retention-based garbage collection
//
// Key Components:
//
//   - Datastore: The entry point. It owns one Driver, hands out transactions,
//     serves the change feed and runs the background housekeeping (idle
//     transaction reaper, change feed retention GC).
//
//   - Transaction: A unit of atomic work. Reads come from a stable snapshot
//     taken at Begin, writes are buffered locally and become visible to other
//     transactions only after a successful Commit. Conflicting commits fail
//     with RetCConflict and must be retried by the caller.
//
//   - Driver Interface: The minimal contract a backend must fulfil: versioned
//     snapshot views and batch application. Backends that validate batches
//     natively (Committer) commit directly; backends that only apply
//     (Applier) are wrapped by a latch-based committer that performs the
//     validation on their behalf.
//
//   - Error System: A structured error reporting mechanism using typed
//     return codes (RetCConflict, RetCTxClosed, ...) so callers can branch
//     on specific conditions, most importantly the retry loop on conflicts.
//
// Implementations:
//
//	The module ships three drivers for this interface:
//
//	- Memory Driver (memkv): An in-process driver over the birch engine.
//	  Suitable for tests and single-node embedded use.
//	  Available in the "github.com/phughk/surrealdb/lib/kvs/memkv" package.
//
//	- Disk Driver (diskkv): A persistent driver backed by BadgerDB.
//	  Available in the "github.com/phughk/surrealdb/lib/kvs/diskkv" package.
//
//	- Cluster Driver (clusterkv): A replicated driver built on the Dragonboat
//	  RAFT consensus library, hosting the birch engine as its state machine.
//	  Available in the "github.com/phughk/surrealdb/lib/kvs/clusterkv" package.
package kvs
