package kvs

import (
	"context"
	"sort"
	"sync"

	"github.com/phughk/surrealdb/lib/db"
)

// --------------------------------------------------------------------------
// Latch Table
// --------------------------------------------------------------------------

// latchTable serializes commit footprints for backends that cannot validate
// batches themselves. Key-only commits hold latches on their footprint keys
// and may proceed concurrently when their footprints are disjoint; commits
// that validated ranges hold the whole table, since a range can overlap any
// key.
//
// Waiters block on a broadcast channel that is closed and replaced on every
// release, so acquisition stays context-aware without busy polling.
type latchTable struct {
	mu     sync.Mutex
	held   map[string]struct{} // Keys currently latched
	global bool                // A range commit holds the whole table
	wait   chan struct{}       // Closed and replaced on every release
}

func newLatchTable() *latchTable {
	return &latchTable{
		held: make(map[string]struct{}),
		wait: make(chan struct{}),
	}
}

// acquireKeys latches all given keys, waiting until every one of them is
// free and no global holder is active.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (lt *latchTable) acquireKeys(ctx context.Context, keys []string) error {
	for {
		lt.mu.Lock()

		free := !lt.global
		if free {
			for _, key := range keys {
				if _, taken := lt.held[key]; taken {
					free = false
					break
				}
			}
		}

		if free {
			for _, key := range keys {
				lt.held[key] = struct{}{}
			}
			lt.mu.Unlock()
			return nil
		}

		wait := lt.wait
		lt.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return NewErrorf(RetCInternalError, "latch acquisition aborted: %v", ctx.Err())
		}
	}
}

// releaseKeys releases previously acquired key latches and wakes waiters.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (lt *latchTable) releaseKeys(keys []string) {
	lt.mu.Lock()
	for _, key := range keys {
		delete(lt.held, key)
	}
	close(lt.wait)
	lt.wait = make(chan struct{})
	lt.mu.Unlock()
}

// acquireGlobal latches the whole table, waiting until no key latch and no
// other global holder is active.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (lt *latchTable) acquireGlobal(ctx context.Context) error {
	for {
		lt.mu.Lock()

		if !lt.global && len(lt.held) == 0 {
			lt.global = true
			lt.mu.Unlock()
			return nil
		}

		wait := lt.wait
		lt.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return NewErrorf(RetCInternalError, "latch acquisition aborted: %v", ctx.Err())
		}
	}
}

// releaseGlobal releases the whole-table latch and wakes waiters.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (lt *latchTable) releaseGlobal() {
	lt.mu.Lock()
	lt.global = false
	close(lt.wait)
	lt.wait = make(chan struct{})
	lt.mu.Unlock()
}

// --------------------------------------------------------------------------
// Locking Committer
// --------------------------------------------------------------------------

// lockingCommitter supplies conditional commit semantics on top of a driver
// that can only apply writes unconditionally. While the batch footprint is
// latched, the batch is re-validated through a fresh view exactly the way a
// native backend would validate it, then applied.
type lockingCommitter struct {
	drv     Driver
	applier Applier
	latches *latchTable
}

// NewLockingCommitter wraps an Applier-only driver with latch-based commit
// validation. The returned Committer holds latches only for the validate-
// and-apply window, never for the lifetime of a transaction.
func NewLockingCommitter(drv Driver, applier Applier) Committer {
	return &lockingCommitter{
		drv:     drv,
		applier: applier,
		latches: newLatchTable(),
	}
}

// footprint collects the sorted, de-duplicated set of keys the batch reads
// or writes. Versionstamped keys are excluded: their stamp makes them fresh
// by construction.
func (c *lockingCommitter) footprint(b *db.Batch) []string {
	seen := make(map[string]struct{}, len(b.Reads)+len(b.Writes))
	for _, r := range b.Reads {
		seen[string(r.Key)] = struct{}{}
	}
	for _, w := range b.Writes {
		if w.Versionstamped {
			continue
		}
		seen[string(w.Key)] = struct{}{}
	}

	keys := make([]string, 0, len(seen))
	for key := range seen {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// CommitBatch latches the batch footprint, validates the batch through a
// fresh view and applies it. See Committer for the error contract.
func (c *lockingCommitter) CommitBatch(ctx context.Context, b *db.Batch) (uint64, error) {

	// range validation can overlap any key, so it excludes all other commits
	if len(b.Ranges) > 0 {
		if err := c.latches.acquireGlobal(ctx); err != nil {
			return 0, err
		}
		defer c.latches.releaseGlobal()
	} else {
		keys := c.footprint(b)
		if err := c.latches.acquireKeys(ctx, keys); err != nil {
			return 0, err
		}
		defer c.latches.releaseKeys(keys)
	}

	view, err := c.drv.View(ctx)
	if err != nil {
		return 0, err
	}
	defer view.Release()

	// validate point reads: the live version seen must still be current
	for _, r := range b.Reads {
		entry, found, err := view.Get(ctx, r.Key)
		if err != nil {
			return 0, err
		}
		var current uint64
		if found && !entry.Tombstone {
			current = entry.Version
		}
		if current != r.Version {
			return 0, NewError(RetCConflict, "read key was modified by a newer commit")
		}
	}

	// validate tracked ranges, tombstones included
	for _, rg := range b.Ranges {
		kvs, err := view.Scan(ctx, rg, 0)
		if err != nil {
			return 0, err
		}
		for _, kv := range kvs {
			if kv.Entry.Version > b.ReadVersion {
				return 0, NewError(RetCConflict, "scanned range was modified by a newer commit")
			}
		}
	}

	// validate write keys: first committer wins even for blind writes
	for _, w := range b.Writes {
		if w.Versionstamped {
			continue
		}
		entry, found, err := view.Get(ctx, w.Key)
		if err != nil {
			return 0, err
		}
		if found && entry.Version > b.ReadVersion {
			return 0, NewError(RetCConflict, "written key was modified by a newer commit")
		}
	}

	// a validation-only batch applies nothing
	if len(b.Writes) == 0 {
		return view.Version(), nil
	}

	return c.applier.Apply(ctx, b)
}
