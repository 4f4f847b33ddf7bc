package kvs

import (
	"context"

	"github.com/phughk/surrealdb/lib/db"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// DriverFactory is a function type that creates a new driver used by a
// datastore. This is used to abstract the creation of the backend from the
// transaction engine.
type DriverFactory func() (Driver, error)

// EngineFactory is a function type that creates the db.Engine an in-process
// driver hosts. This is used to abstract the engine choice from the drivers.
type EngineFactory func() db.Engine

// Driver is the interface implemented by storage backends. A driver serves
// point reads and range scans through short-lived views and reports metadata
// about the backing database.
//
// Every driver additionally implements exactly one commit capability:
//
//   - Committer: the backend validates and applies conditional batches
//     natively (in-process engines, replicated state machines).
//   - Applier: the backend can only apply writes unconditionally. The
//     transaction engine then supplies validation itself, serializing
//     footprints through a key latch table (see NewLockingCommitter).
type Driver interface {
	// View opens a read view positioned at the backend's current version.
	// The view must be released when no longer needed.
	View(ctx context.Context) (View, error)

	// Info returns metadata about the database underlying the driver.
	// It is not guaranteed that all fields are filled in or that the
	// information is up-to-date!
	Info() (db.DatabaseInfo, error)

	// Close releases all backend resources. Pending views and transactions
	// fail after Close.
	Close() error
}

// View is a read handle positioned at a backend version. Reads through a
// view are not required to be snapshot-stable on their own; the transaction
// layer caches first reads and validates every read at commit, which is what
// makes transactions repeatable.
type View interface {
	// Version returns the backend commit version the view was opened at.
	Version() uint64

	// Get retrieves the entry for an exact encoded key, tombstones
	// included. The boolean indicates whether any entry was found.
	Get(ctx context.Context, key []byte) (db.Entry, bool, error)

	// Scan returns entries inside rg in ascending key order, tombstones
	// included, at most limit of them (limit <= 0 means unbounded).
	Scan(ctx context.Context, rg db.Range, limit int) ([]db.KV, error)

	// Release frees resources held by the view. A released view must not
	// be used again.
	Release()
}

// Committer is implemented by drivers whose backend validates and applies
// conditional batches natively.
type Committer interface {
	// CommitBatch validates the batch against the backend state and, on
	// success, applies its writes under a single new version which is
	// returned. A lost optimistic race yields a RetCConflict error and
	// nothing is applied.
	CommitBatch(ctx context.Context, b *db.Batch) (uint64, error)
}

// Applier is implemented by drivers whose backend can only apply writes
// unconditionally while the caller holds exclusive access to the written
// keys. Validation is supplied by the transaction engine's latch-based
// committer.
type Applier interface {
	// Apply applies the batch writes without validation and returns the
	// new backend version.
	Apply(ctx context.Context, b *db.Batch) (uint64, error)
}

// resolveCommitter picks the commit path for a driver: native when the
// driver is a Committer, latch-based when it is only an Applier.
func resolveCommitter(drv Driver) (Committer, error) {
	if c, ok := drv.(Committer); ok {
		return c, nil
	}
	if a, ok := drv.(Applier); ok {
		return NewLockingCommitter(drv, a), nil
	}
	return nil, NewError(RetCUnsupportedOperation, "driver implements neither Committer nor Applier")
}
