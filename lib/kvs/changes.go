package kvs

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/phughk/surrealdb/lib/db"
	"github.com/phughk/surrealdb/lib/keys"
	"github.com/vmihailenco/msgpack/v5"
)

// --------------------------------------------------------------------------
// Change Sets
// --------------------------------------------------------------------------

// ChangeRecord describes one record mutation: Old is the value before the
// commit, New the value after it. A nil side means the record was absent.
type ChangeRecord struct {
	Key []byte `msgpack:"k"`
	Old []byte `msgpack:"o"`
	New []byte `msgpack:"n"`
}

// ChangeSet is the atomic unit of the change feed: every record mutation of
// one committed transaction. Change sets are stored msgpack-encoded under
// versionstamped keys, so they become visible in the same commit as the
// data they describe and the feed is totally ordered by commit version.
//
// Version is derived from the key stamp when a set is read back; it is not
// part of the stored encoding because the commit version is unknown until
// the backend assigns it.
type ChangeSet struct {
	Version uint64         `msgpack:"-"`
	At      time.Time      `msgpack:"t"`
	Records []ChangeRecord `msgpack:"r"`
}

// buildChangeWrite encodes a change set as one versionstamped feed write.
// The stamp placeholder is substituted with the commit version by the
// backend, which is what makes feed publication atomic with the commit.
func buildChangeWrite(records []ChangeRecord) (db.Write, error) {
	payload, err := msgpack.Marshal(&ChangeSet{
		At:      time.Now().UTC(),
		Records: records,
	})
	if err != nil {
		return db.Write{}, NewErrorf(RetCEncoding, "encoding change set: %v", err)
	}

	key, err := keys.Encode(keys.ChangeFeed([10]byte{}))
	if err != nil {
		return db.Write{}, NewErrorf(RetCEncoding, "encoding change feed key: %v", err)
	}

	return db.Write{Key: key, Value: payload, Versionstamped: true}, nil
}

// decodeChangeSet parses a stored feed entry, restoring the commit version
// from the key stamp.
func decodeChangeSet(key, value []byte) (*ChangeSet, error) {
	decoded, err := keys.Decode(key)
	if err != nil || decoded.Kind != keys.KindChangeFeed {
		return nil, NewErrorf(RetCEncoding, "malformed change feed key %q", key)
	}

	var set ChangeSet
	if err := msgpack.Unmarshal(value, &set); err != nil {
		return nil, NewErrorf(RetCEncoding, "decoding change set: %v", err)
	}

	set.Version = StampToVersion(Versionstamp(decoded.Stamp))
	return &set, nil
}

// --------------------------------------------------------------------------
// Horizon
// --------------------------------------------------------------------------

// readHorizon returns the retention horizon recorded in the view: the
// highest commit version whose change set has been purged, 0 when nothing
// was ever purged.
func readHorizon(ctx context.Context, view View) (uint64, error) {
	entry, found, err := view.Get(ctx, keys.ChangeHorizonKey())
	if err != nil {
		return 0, err
	}
	if !found || entry.Tombstone || len(entry.Value) != 8 {
		return 0, nil
	}
	return binary.BigEndian.Uint64(entry.Value), nil
}

// horizonValue encodes a horizon version for storage.
func horizonValue(version uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], version)
	return b[:]
}

// --------------------------------------------------------------------------
// Change Cursor
// --------------------------------------------------------------------------

// ChangeCursor iterates the change feed in commit-version order. It is lazy
// and restartable: each batch re-seeks past the last returned version, so a
// long-lived consumer can keep polling the same cursor as new commits land.
type ChangeCursor struct {
	ds      *Datastore
	after   uint64  // versions up to and including this one were consumed
	buf     []db.KV // fetched feed entries not yet decoded
	fetched bool    // whether the current buffer ended the feed
}

// Changes opens a cursor over the change feed starting strictly after
// fromVersion. It fails with RetCHorizonExceeded when fromVersion precedes
// the retention horizon, since sets between the horizon and fromVersion
// have already been purged and the consumer would silently miss them.
func (ds *Datastore) Changes(ctx context.Context, fromVersion uint64) (*ChangeCursor, error) {
	view, err := ds.driver.View(ctx)
	if err != nil {
		return nil, err
	}
	defer view.Release()

	horizon, err := readHorizon(ctx, view)
	if err != nil {
		return nil, err
	}
	if fromVersion < horizon {
		return nil, NewErrorf(RetCHorizonExceeded,
			"resume version %d precedes the retention horizon %d", fromVersion, horizon)
	}

	return &ChangeCursor{ds: ds, after: fromVersion}, nil
}

// Next returns the next change set. The boolean is false when the feed is
// currently exhausted; calling Next again later picks up sets committed in
// the meantime.
func (c *ChangeCursor) Next(ctx context.Context) (*ChangeSet, bool, error) {
	for {
		if len(c.buf) == 0 {
			if c.fetched {
				// the previous fetch ended the feed; try again from the
				// same position to pick up new commits
				c.fetched = false
			}
			if err := c.fill(ctx); err != nil {
				return nil, false, err
			}
			if len(c.buf) == 0 {
				return nil, false, nil
			}
		}

		kv := c.buf[0]
		c.buf = c.buf[1:]

		if kv.Entry.Tombstone {
			// purged by the retention GC; advance the seek position so a
			// refill never fetches the same purged entries again
			if decoded, err := keys.Decode(kv.Key); err == nil {
				c.after = StampToVersion(Versionstamp(decoded.Stamp))
			}
			continue
		}

		set, err := decodeChangeSet(kv.Key, kv.Entry.Value)
		if err != nil {
			return nil, false, err
		}

		c.after = set.Version
		return set, true, nil
	}
}

// fill fetches the next batch of feed entries strictly after c.after.
func (c *ChangeCursor) fill(ctx context.Context) error {
	view, err := c.ds.driver.View(ctx)
	if err != nil {
		return err
	}
	defer view.Release()

	// a retention purge may have overtaken the cursor since the last
	// fetch; the sets between c.after and the horizon are gone, and
	// polling on would silently skip them
	horizon, err := readHorizon(ctx, view)
	if err != nil {
		return err
	}
	if c.after < horizon {
		return NewErrorf(RetCHorizonExceeded,
			"resume version %d precedes the retention horizon %d", c.after, horizon)
	}

	begin, end := keys.ChangeFeedRange(VersionToStamp(c.after))
	kvs, err := view.Scan(ctx, db.Range{Begin: begin, End: end}, defaultCursorBatch)
	if err != nil {
		return err
	}

	c.buf = kvs
	c.fetched = len(kvs) < defaultCursorBatch
	if len(kvs) == defaultCursorBatch {
		// remember the seek position even if the tail entries are
		// tombstones that Next will skip
		if decoded, err := keys.Decode(kvs[len(kvs)-1].Key); err == nil {
			c.after = StampToVersion(Versionstamp(decoded.Stamp))
		}
	}

	return nil
}

// --------------------------------------------------------------------------
// Retention GC
// --------------------------------------------------------------------------

// CollectChanges purges change sets older than the retention duration and
// advances the horizon marker to the highest purged version. It runs as one
// conditional batch so a racing purge simply loses and retries next cycle.
//
// The datastore calls this periodically when ChangeRetention is configured;
// it is exported so callers can trigger a purge on demand.
func (ds *Datastore) CollectChanges(ctx context.Context) error {
	view, err := ds.driver.View(ctx)
	if err != nil {
		return err
	}
	defer view.Release()

	cutoff := time.Now().UTC().Add(-ds.cfg.ChangeRetention)

	begin, end := keys.ChangeFeedRange(VersionToStamp(0))
	kvs, err := view.Scan(ctx, db.Range{Begin: begin, End: end}, 0)
	if err != nil {
		return err
	}

	batch := &db.Batch{ReadVersion: view.Version()}
	var horizon uint64

	for _, kv := range kvs {
		if kv.Entry.Tombstone {
			continue
		}

		set, err := decodeChangeSet(kv.Key, kv.Entry.Value)
		if err != nil {
			return err
		}
		if !set.At.Before(cutoff) {
			break // feed is version-ordered, everything later is younger
		}

		batch.Writes = append(batch.Writes, db.Write{Key: kv.Key, Delete: true})
		horizon = set.Version
	}

	if len(batch.Writes) == 0 {
		return nil
	}

	batch.Writes = append(batch.Writes, db.Write{
		Key:   keys.ChangeHorizonKey(),
		Value: horizonValue(horizon),
	})

	_, err = ds.committer.CommitBatch(ctx, batch)
	return err
}
