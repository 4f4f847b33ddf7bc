package kvs

import (
	"bytes"
	"context"
	"sort"

	"github.com/phughk/surrealdb/lib/db"
)

// defaultCursorBatch is how many backend entries a cursor fetches per seek.
const defaultCursorBatch = 256

// Cursor iterates a key range lazily in ascending key order, merging the
// transaction's buffered writes with backend entries. Backend entries are
// fetched in batches; each batch re-seeks past the last key seen, so a
// cursor survives backends that cap the size of a single scan.
//
// The overlay is snapshotted when the cursor is created: writes buffered
// after that point are not reflected by this cursor.
type Cursor struct {
	tx    *Transaction
	rg    db.Range
	limit int

	overlay []overlayEntry // buffered writes inside rg, ascending
	buf     []db.KV        // merged entries not yet returned
	next    []byte         // seek position for the next backend batch
	done    bool           // backend exhausted
	yielded int
}

type overlayEntry struct {
	key    []byte
	value  []byte
	delete bool
}

// newCursor snapshots the write-set overlay for rg. Callers must hold
// tx.mu.
func newCursor(tx *Transaction, rg db.Range, limit int) *Cursor {
	c := &Cursor{
		tx:    tx,
		rg:    rg,
		limit: limit,
		next:  append([]byte(nil), rg.Begin...),
	}

	for k, w := range tx.writes {
		key := []byte(k)
		if bytes.Compare(key, rg.Begin) < 0 {
			continue
		}
		if rg.End != nil && bytes.Compare(key, rg.End) >= 0 {
			continue
		}
		c.overlay = append(c.overlay, overlayEntry{key: key, value: w.value, delete: w.delete})
	}
	sort.Slice(c.overlay, func(i, j int) bool {
		return bytes.Compare(c.overlay[i].key, c.overlay[j].key) < 0
	})

	return c
}

// Next returns the next key-value pair. The boolean is false once the
// cursor is exhausted. The returned slices are owned by the caller.
func (c *Cursor) Next(ctx context.Context) ([]byte, []byte, bool, error) {
	c.tx.mu.Lock()
	defer c.tx.mu.Unlock()

	if err := c.tx.ensureActive(); err != nil {
		return nil, nil, false, err
	}
	c.tx.touch()

	if c.limit > 0 && c.yielded >= c.limit {
		return nil, nil, false, nil
	}

	for len(c.buf) == 0 {
		if c.done && len(c.overlay) == 0 {
			return nil, nil, false, nil
		}
		if err := c.fill(ctx); err != nil {
			return nil, nil, false, err
		}
	}

	kv := c.buf[0]
	c.buf = c.buf[1:]
	c.yielded++

	key := append([]byte(nil), kv.Key...)
	value := append([]byte(nil), kv.Entry.Value...)
	return key, value, true, nil
}

// fill fetches the next backend batch and merges it with the overlay
// entries that fall inside the batch window. Callers must hold tx.mu.
func (c *Cursor) fill(ctx context.Context) error {
	var (
		backend []db.KV
		err     error
	)

	if !c.done {
		backend, err = c.tx.view.Scan(ctx, db.Range{Begin: c.next, End: c.rg.End}, defaultCursorBatch)
		if err != nil {
			return err
		}

		if len(backend) < defaultCursorBatch {
			c.done = true
		} else {
			// re-seek just past the last key of this batch
			last := backend[len(backend)-1].Key
			c.next = append(append([]byte(nil), last...), 0x00)
		}
	}

	// the merge window covers everything up to the last backend key of
	// this batch; once the backend is exhausted it covers the whole range
	var window []byte
	if !c.done && len(backend) > 0 {
		window = backend[len(backend)-1].Key
	}

	buf := c.buf[:0]
	oi := 0

	emitOverlay := func(e overlayEntry) {
		if !e.delete {
			buf = append(buf, db.KV{Key: e.key, Entry: db.Entry{Value: e.value}})
		}
	}

	for _, kv := range backend {
		// overlay entries strictly before this backend key
		for oi < len(c.overlay) && bytes.Compare(c.overlay[oi].key, kv.Key) < 0 {
			emitOverlay(c.overlay[oi])
			oi++
		}

		// an overlay entry for the same key wins over the backend
		if oi < len(c.overlay) && bytes.Equal(c.overlay[oi].key, kv.Key) {
			emitOverlay(c.overlay[oi])
			oi++
			continue
		}

		if kv.Entry.Tombstone {
			continue
		}
		buf = append(buf, kv)
	}

	// once the backend is exhausted, drain the remaining overlay; inside a
	// bounded window only the overlay keys covered by it
	for oi < len(c.overlay) {
		if window != nil && bytes.Compare(c.overlay[oi].key, window) > 0 {
			break
		}
		emitOverlay(c.overlay[oi])
		oi++
	}
	c.overlay = c.overlay[oi:]

	c.buf = buf
	return nil
}
