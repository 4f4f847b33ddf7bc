package kvtest

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/phughk/surrealdb/lib/db"
	"github.com/phughk/surrealdb/lib/keys"
	"github.com/phughk/surrealdb/lib/kvs"
)

// RunDriverTests runs the transactional conformance suite against a driver.
// Every driver implementation is expected to pass this suite: it exercises
// the datastore semantics (snapshot reads, conflict detection, conditional
// mutations, change feed) through the public kvs API only.
func RunDriverTests(t *testing.T, name string, factory kvs.DriverFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Set&Get", func(t *testing.T) {
			testSetGet(t, factory)
		})

		t.Run("ReadYourWrites", func(t *testing.T) {
			testReadYourWrites(t, factory)
		})

		t.Run("RepeatableRead", func(t *testing.T) {
			testRepeatableRead(t, factory)
		})

		t.Run("ReadOnly", func(t *testing.T) {
			testReadOnly(t, factory)
		})

		t.Run("ReadOnlySnapshot", func(t *testing.T) {
			testReadOnlySnapshot(t, factory)
		})

		t.Run("Conditional", func(t *testing.T) {
			testConditional(t, factory)
		})

		t.Run("Cancel", func(t *testing.T) {
			testCancel(t, factory)
		})

		t.Run("WriteConflict", func(t *testing.T) {
			testWriteConflict(t, factory)
		})

		t.Run("ReadConflict", func(t *testing.T) {
			testReadConflict(t, factory)
		})

		t.Run("PhantomInsert", func(t *testing.T) {
			testPhantomInsert(t, factory)
		})

		t.Run("PhantomDelete", func(t *testing.T) {
			testPhantomDelete(t, factory)
		})

		t.Run("DisjointCommits", func(t *testing.T) {
			testDisjointCommits(t, factory)
		})

		t.Run("Cursor", func(t *testing.T) {
			testCursor(t, factory)
		})

		t.Run("ChangeFeed", func(t *testing.T) {
			testChangeFeed(t, factory)
		})

		t.Run("ChangeHorizon", func(t *testing.T) {
			testChangeHorizon(t, factory)
		})

		t.Run("RealisticUsage", func(t *testing.T) {
			testRealisticUsage(t, factory)
		})
	})
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

func mustOpen(t *testing.T, factory kvs.DriverFactory, cfg kvs.Config) *kvs.Datastore {
	t.Helper()
	drv, err := factory()
	if err != nil {
		t.Fatalf("factory failed: %v", err)
	}
	ds, err := kvs.Open(drv, cfg)
	if err != nil {
		t.Fatalf("open datastore failed: %v", err)
	}
	t.Cleanup(func() { _ = ds.Close() })
	return ds
}

func rowKey(t *testing.T, tb, id string) []byte {
	t.Helper()
	raw, err := keys.Encode(keys.Row("test", "test", tb, keys.StringID(id)))
	if err != nil {
		t.Fatalf("encode row key: %v", err)
	}
	return raw
}

func tableRange(t *testing.T, tb string) db.Range {
	t.Helper()
	begin, end, err := keys.RowRange("test", "test", tb)
	if err != nil {
		t.Fatalf("row range: %v", err)
	}
	return db.Range{Begin: begin, End: end}
}

// set commits a single write in its own transaction.
func set(t *testing.T, ds *kvs.Datastore, key, value []byte) uint64 {
	t.Helper()
	ctx := context.Background()
	tx, err := ds.Begin(ctx, kvs.ReadWrite)
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	if err := tx.Set(ctx, key, value); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	version, err := tx.Commit(ctx)
	if err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	return version
}

// get reads one key in its own read-only transaction.
func get(t *testing.T, ds *kvs.Datastore, key []byte) ([]byte, bool) {
	t.Helper()
	ctx := context.Background()
	tx, err := ds.Begin(ctx, kvs.ReadOnly)
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	defer func() { _, _ = tx.Commit(ctx) }()
	value, found, err := tx.Get(ctx, key)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	return value, found
}

// drain consumes a cursor fully, returning keys and values in order.
func drain(t *testing.T, ctx context.Context, c *kvs.Cursor) ([][]byte, [][]byte) {
	t.Helper()
	var ks, vs [][]byte
	for {
		k, v, ok, err := c.Next(ctx)
		if err != nil {
			t.Fatalf("cursor next failed: %v", err)
		}
		if !ok {
			return ks, vs
		}
		ks = append(ks, k)
		vs = append(vs, v)
	}
}

// --------------------------------------------------------------------------
// Test Implementations
// --------------------------------------------------------------------------

func testSetGet(t *testing.T, factory kvs.DriverFactory) {
	ds := mustOpen(t, factory, kvs.Config{})
	key := rowKey(t, "user", "alice")

	if _, found := get(t, ds, key); found {
		t.Errorf("expected key to be absent before the first commit")
	}

	v1 := set(t, ds, key, []byte("v1"))
	if v1 == 0 {
		t.Errorf("expected a non-zero commit version")
	}

	value, found := get(t, ds, key)
	if !found {
		t.Fatalf("expected key to exist after commit")
	}
	if !bytes.Equal(value, []byte("v1")) {
		t.Errorf("expected value 'v1', got %q", value)
	}

	v2 := set(t, ds, key, []byte("v2"))
	if v2 <= v1 {
		t.Errorf("expected commit versions to increase, got %d then %d", v1, v2)
	}

	value, _ = get(t, ds, key)
	if !bytes.Equal(value, []byte("v2")) {
		t.Errorf("expected value 'v2', got %q", value)
	}
}

func testReadYourWrites(t *testing.T, factory kvs.DriverFactory) {
	ds := mustOpen(t, factory, kvs.Config{})
	ctx := context.Background()
	key := rowKey(t, "user", "bob")

	tx, err := ds.Begin(ctx, kvs.ReadWrite)
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}

	if err := tx.Set(ctx, key, []byte("buffered")); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	value, found, err := tx.Get(ctx, key)
	if err != nil || !found {
		t.Fatalf("expected buffered write to be visible, found=%v err=%v", found, err)
	}
	if !bytes.Equal(value, []byte("buffered")) {
		t.Errorf("expected buffered value, got %q", value)
	}

	if err := tx.Del(ctx, key); err != nil {
		t.Fatalf("del failed: %v", err)
	}
	if _, found, _ := tx.Get(ctx, key); found {
		t.Errorf("expected buffered delete to hide the key")
	}

	// nothing was committed, other transactions never saw the key
	_ = tx.Cancel()
	if _, found := get(t, ds, key); found {
		t.Errorf("expected cancelled writes to be invisible")
	}
}

func testRepeatableRead(t *testing.T, factory kvs.DriverFactory) {
	ds := mustOpen(t, factory, kvs.Config{})
	ctx := context.Background()
	key := rowKey(t, "user", "carol")
	set(t, ds, key, []byte("old"))

	tx, err := ds.Begin(ctx, kvs.ReadWrite)
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	first, _, err := tx.Get(ctx, key)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}

	set(t, ds, key, []byte("new"))

	second, _, err := tx.Get(ctx, key)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Errorf("expected repeated read to return %q, got %q", first, second)
	}

	// the stale read makes the transaction lose the optimistic race
	if err := tx.Set(ctx, rowKey(t, "user", "carol2"), []byte("x")); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if _, err := tx.Commit(ctx); !kvs.IsConflict(err) {
		t.Errorf("expected a conflict error, got %v", err)
	}
}

func testReadOnly(t *testing.T, factory kvs.DriverFactory) {
	ds := mustOpen(t, factory, kvs.Config{})
	ctx := context.Background()
	key := rowKey(t, "user", "dave")
	set(t, ds, key, []byte("v"))

	tx, err := ds.Begin(ctx, kvs.ReadOnly)
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	if _, _, err := tx.Get(ctx, key); err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if err := tx.Set(ctx, key, []byte("w")); !kvs.IsTxReadonly(err) {
		t.Errorf("expected a readonly error, got %v", err)
	}
	if err := tx.Del(ctx, key); !kvs.IsTxReadonly(err) {
		t.Errorf("expected a readonly error, got %v", err)
	}

	// a concurrent overwrite of a read key fails the commit, exactly as
	// it would for a writing transaction
	set(t, ds, key, []byte("w"))
	if _, err := tx.Commit(ctx); !kvs.IsConflict(err) {
		t.Errorf("expected a conflict on the disturbed read, got %v", err)
	}
}

func testReadOnlySnapshot(t *testing.T, factory kvs.DriverFactory) {
	ds := mustOpen(t, factory, kvs.Config{})
	ctx := context.Background()
	keyX := rowKey(t, "pair", "x")
	keyY := rowKey(t, "pair", "y")
	set(t, ds, keyX, []byte("1"))
	set(t, ds, keyY, []byte("1"))

	// an undisturbed read-only transaction commits fine
	tx, err := ds.Begin(ctx, kvs.ReadOnly)
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	for _, key := range [][]byte{keyX, keyY} {
		if _, _, err := tx.Get(ctx, key); err != nil {
			t.Fatalf("get failed: %v", err)
		}
	}
	if _, err := tx.Commit(ctx); err != nil {
		t.Fatalf("undisturbed read-only commit failed: %v", err)
	}

	// a transaction whose reads straddle another commit must not commit:
	// it may have observed x from before that commit and y from after,
	// a combined state that never existed
	tx, err = ds.Begin(ctx, kvs.ReadOnly)
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	if _, _, err := tx.Get(ctx, keyX); err != nil {
		t.Fatalf("get failed: %v", err)
	}

	w, err := ds.Begin(ctx, kvs.ReadWrite)
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	if err := w.Set(ctx, keyX, []byte("2")); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if err := w.Set(ctx, keyY, []byte("2")); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if _, err := w.Commit(ctx); err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	if _, _, err := tx.Get(ctx, keyY); err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if _, err := tx.Commit(ctx); !kvs.IsConflict(err) {
		t.Errorf("expected a conflict for the torn read pair, got %v", err)
	}

	// the same holds for a read-write transaction that buffered no writes
	tx, err = ds.Begin(ctx, kvs.ReadWrite)
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	if _, _, err := tx.Get(ctx, keyX); err != nil {
		t.Fatalf("get failed: %v", err)
	}
	set(t, ds, keyX, []byte("3"))
	if _, err := tx.Commit(ctx); !kvs.IsConflict(err) {
		t.Errorf("expected a conflict for the disturbed read, got %v", err)
	}

	// a transaction that read nothing has nothing to validate
	tx, err = ds.Begin(ctx, kvs.ReadOnly)
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	set(t, ds, keyX, []byte("4"))
	if _, err := tx.Commit(ctx); err != nil {
		t.Errorf("expected the empty commit to succeed, got %v", err)
	}
}

func testConditional(t *testing.T, factory kvs.DriverFactory) {
	ds := mustOpen(t, factory, kvs.Config{})
	ctx := context.Background()
	key := rowKey(t, "acct", "a1")

	tx, err := ds.Begin(ctx, kvs.ReadWrite)
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	if err := tx.Put(ctx, key, []byte("v1")); err != nil {
		t.Fatalf("put on absent key failed: %v", err)
	}
	if err := tx.Put(ctx, key, []byte("v2")); !kvs.IsKeyAlreadyExists(err) {
		t.Errorf("expected key-already-exists, got %v", err)
	}
	if _, err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	tx, err = ds.Begin(ctx, kvs.ReadWrite)
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	if err := tx.Put(ctx, key, []byte("v2")); !kvs.IsKeyAlreadyExists(err) {
		t.Errorf("expected key-already-exists on committed key, got %v", err)
	}
	if err := tx.PutC(ctx, key, []byte("v2"), []byte("wrong")); !kvs.IsConditionNotMet(err) {
		t.Errorf("expected condition-not-met, got %v", err)
	}
	if err := tx.PutC(ctx, key, []byte("v2"), []byte("v1")); err != nil {
		t.Fatalf("putc with matching expectation failed: %v", err)
	}
	if err := tx.DelC(ctx, key, []byte("v1")); !kvs.IsConditionNotMet(err) {
		t.Errorf("expected condition-not-met against buffered value, got %v", err)
	}
	if err := tx.DelC(ctx, key, []byte("v2")); err != nil {
		t.Fatalf("delc with matching expectation failed: %v", err)
	}
	if _, err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	if _, found := get(t, ds, key); found {
		t.Errorf("expected key to be deleted")
	}
}

func testCancel(t *testing.T, factory kvs.DriverFactory) {
	ds := mustOpen(t, factory, kvs.Config{})
	ctx := context.Background()
	key := rowKey(t, "user", "eve")

	tx, err := ds.Begin(ctx, kvs.ReadWrite)
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	if err := tx.Set(ctx, key, []byte("v")); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if err := tx.Cancel(); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	if _, _, err := tx.Get(ctx, key); !kvs.IsTxClosed(err) {
		t.Errorf("expected tx-closed on get after cancel, got %v", err)
	}
	if err := tx.Set(ctx, key, []byte("v")); !kvs.IsTxClosed(err) {
		t.Errorf("expected tx-closed on set after cancel, got %v", err)
	}
	if _, err := tx.Commit(ctx); !kvs.IsTxClosed(err) {
		t.Errorf("expected tx-closed on commit after cancel, got %v", err)
	}
	if err := tx.Cancel(); !kvs.IsTxClosed(err) {
		t.Errorf("expected tx-closed on second cancel, got %v", err)
	}
}

func testWriteConflict(t *testing.T, factory kvs.DriverFactory) {
	ds := mustOpen(t, factory, kvs.Config{})
	ctx := context.Background()
	key := rowKey(t, "user", "frank")
	set(t, ds, key, []byte("base"))

	tx1, err := ds.Begin(ctx, kvs.ReadWrite)
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	tx2, err := ds.Begin(ctx, kvs.ReadWrite)
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}

	if err := tx1.Set(ctx, key, []byte("one")); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if err := tx2.Set(ctx, key, []byte("two")); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	if _, err := tx1.Commit(ctx); err != nil {
		t.Fatalf("expected first committer to win, got %v", err)
	}
	if _, err := tx2.Commit(ctx); !kvs.IsConflict(err) {
		t.Errorf("expected second committer to conflict, got %v", err)
	}

	value, _ := get(t, ds, key)
	if !bytes.Equal(value, []byte("one")) {
		t.Errorf("expected winner's value 'one', got %q", value)
	}
}

func testReadConflict(t *testing.T, factory kvs.DriverFactory) {
	ds := mustOpen(t, factory, kvs.Config{})
	ctx := context.Background()
	read := rowKey(t, "user", "grace")
	written := rowKey(t, "user", "grace-shadow")
	set(t, ds, read, []byte("base"))

	tx, err := ds.Begin(ctx, kvs.ReadWrite)
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	if _, _, err := tx.Get(ctx, read); err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if err := tx.Set(ctx, written, []byte("derived")); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	set(t, ds, read, []byte("changed"))

	if _, err := tx.Commit(ctx); !kvs.IsConflict(err) {
		t.Errorf("expected invalidated read to conflict, got %v", err)
	}
	if _, found := get(t, ds, written); found {
		t.Errorf("expected failed commit to apply nothing")
	}
}

func testPhantomInsert(t *testing.T, factory kvs.DriverFactory) {
	ds := mustOpen(t, factory, kvs.Config{})
	ctx := context.Background()
	set(t, ds, rowKey(t, "order", "o1"), []byte("x"))

	tx, err := ds.Begin(ctx, kvs.ReadWrite)
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	c, err := tx.Scan(ctx, tableRange(t, "order"), 0)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	ks, _ := drain(t, ctx, c)
	if len(ks) != 1 {
		t.Fatalf("expected 1 row, got %d", len(ks))
	}
	if err := tx.Set(ctx, rowKey(t, "summary", "order-count"), []byte("1")); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	// a row appears inside the scanned range before tx commits
	set(t, ds, rowKey(t, "order", "o2"), []byte("y"))

	if _, err := tx.Commit(ctx); !kvs.IsConflict(err) {
		t.Errorf("expected phantom insert to conflict the scan, got %v", err)
	}
}

func testPhantomDelete(t *testing.T, factory kvs.DriverFactory) {
	ds := mustOpen(t, factory, kvs.Config{})
	ctx := context.Background()
	set(t, ds, rowKey(t, "order", "o1"), []byte("x"))
	set(t, ds, rowKey(t, "order", "o2"), []byte("y"))

	tx, err := ds.Begin(ctx, kvs.ReadWrite)
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	c, err := tx.Scan(ctx, tableRange(t, "order"), 0)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	ks, _ := drain(t, ctx, c)
	if len(ks) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(ks))
	}
	if err := tx.Set(ctx, rowKey(t, "summary", "order-count"), []byte("2")); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	// a row disappears from the scanned range before tx commits
	other, err := ds.Begin(ctx, kvs.ReadWrite)
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	if err := other.Del(ctx, rowKey(t, "order", "o2")); err != nil {
		t.Fatalf("del failed: %v", err)
	}
	if _, err := other.Commit(ctx); err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	if _, err := tx.Commit(ctx); !kvs.IsConflict(err) {
		t.Errorf("expected phantom delete to conflict the scan, got %v", err)
	}
}

func testDisjointCommits(t *testing.T, factory kvs.DriverFactory) {
	ds := mustOpen(t, factory, kvs.Config{})
	ctx := context.Background()

	tx1, err := ds.Begin(ctx, kvs.ReadWrite)
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	tx2, err := ds.Begin(ctx, kvs.ReadWrite)
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}

	if err := tx1.Set(ctx, rowKey(t, "left", "a"), []byte("1")); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if err := tx2.Set(ctx, rowKey(t, "right", "b"), []byte("2")); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	if _, err := tx1.Commit(ctx); err != nil {
		t.Errorf("expected disjoint commit to succeed, got %v", err)
	}
	if _, err := tx2.Commit(ctx); err != nil {
		t.Errorf("expected disjoint commit to succeed, got %v", err)
	}
}

func testCursor(t *testing.T, factory kvs.DriverFactory) {
	ds := mustOpen(t, factory, kvs.Config{})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("row-%02d", i)
		set(t, ds, rowKey(t, "item", id), []byte(id))
	}

	tx, err := ds.Begin(ctx, kvs.ReadWrite)
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	// overlay: one update, one delete, one insert past the committed rows
	if err := tx.Set(ctx, rowKey(t, "item", "row-03"), []byte("updated")); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if err := tx.Del(ctx, rowKey(t, "item", "row-07")); err != nil {
		t.Fatalf("del failed: %v", err)
	}
	if err := tx.Set(ctx, rowKey(t, "item", "row-99"), []byte("inserted")); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	c, err := tx.Scan(ctx, tableRange(t, "item"), 0)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	ks, vs := drain(t, ctx, c)

	if len(ks) != 10 {
		t.Fatalf("expected 10 rows (9 committed + 1 buffered), got %d", len(ks))
	}
	for i := 1; i < len(ks); i++ {
		if bytes.Compare(ks[i-1], ks[i]) >= 0 {
			t.Fatalf("expected ascending key order at position %d", i)
		}
	}
	for i, k := range ks {
		switch {
		case bytes.Equal(k, rowKey(t, "item", "row-03")):
			if !bytes.Equal(vs[i], []byte("updated")) {
				t.Errorf("expected buffered update to win, got %q", vs[i])
			}
		case bytes.Equal(k, rowKey(t, "item", "row-07")):
			t.Errorf("expected buffered delete to hide row-07")
		}
	}
	if !bytes.Equal(ks[len(ks)-1], rowKey(t, "item", "row-99")) {
		t.Errorf("expected buffered insert to appear last")
	}

	// limited scan stops after the requested number of rows
	c, err = tx.Scan(ctx, tableRange(t, "item"), 3)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	ks, _ = drain(t, ctx, c)
	if len(ks) != 3 {
		t.Errorf("expected limit to cap the scan at 3 rows, got %d", len(ks))
	}

	_ = tx.Cancel()
}

func testChangeFeed(t *testing.T, factory kvs.DriverFactory) {
	ds := mustOpen(t, factory, kvs.Config{ChangeFeed: true})
	ctx := context.Background()
	key := rowKey(t, "doc", "d1")

	v1 := set(t, ds, key, []byte("one"))
	v2 := set(t, ds, key, []byte("two"))

	tx, err := ds.Begin(ctx, kvs.ReadWrite)
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	if err := tx.Del(ctx, key); err != nil {
		t.Fatalf("del failed: %v", err)
	}
	v3, err := tx.Commit(ctx)
	if err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	c, err := ds.Changes(ctx, 0)
	if err != nil {
		t.Fatalf("changes failed: %v", err)
	}

	var sets []*kvs.ChangeSet
	for {
		cs, ok, err := c.Next(ctx)
		if err != nil {
			t.Fatalf("change cursor next failed: %v", err)
		}
		if !ok {
			break
		}
		sets = append(sets, cs)
	}

	if len(sets) != 3 {
		t.Fatalf("expected 3 change sets, got %d", len(sets))
	}
	for i, want := range []uint64{v1, v2, v3} {
		if sets[i].Version != want {
			t.Errorf("expected change set %d at version %d, got %d", i, want, sets[i].Version)
		}
		if len(sets[i].Records) != 1 {
			t.Fatalf("expected 1 record per change set, got %d", len(sets[i].Records))
		}
		if !bytes.Equal(sets[i].Records[0].Key, key) {
			t.Errorf("expected record key to match the mutated row")
		}
	}

	if sets[0].Records[0].Old != nil || !bytes.Equal(sets[0].Records[0].New, []byte("one")) {
		t.Errorf("expected insert record (nil -> 'one')")
	}
	if !bytes.Equal(sets[1].Records[0].Old, []byte("one")) || !bytes.Equal(sets[1].Records[0].New, []byte("two")) {
		t.Errorf("expected update record ('one' -> 'two')")
	}
	if !bytes.Equal(sets[2].Records[0].Old, []byte("two")) || sets[2].Records[0].New != nil {
		t.Errorf("expected delete record ('two' -> nil)")
	}

	// resuming strictly after v2 yields only the delete
	c, err = ds.Changes(ctx, v2)
	if err != nil {
		t.Fatalf("changes failed: %v", err)
	}
	cs, ok, err := c.Next(ctx)
	if err != nil || !ok {
		t.Fatalf("expected one change set after v2, ok=%v err=%v", ok, err)
	}
	if cs.Version != v3 {
		t.Errorf("expected resume to start at version %d, got %d", v3, cs.Version)
	}
	if _, ok, _ := c.Next(ctx); ok {
		t.Errorf("expected the feed to be exhausted")
	}
}

func testChangeHorizon(t *testing.T, factory kvs.DriverFactory) {
	ds := mustOpen(t, factory, kvs.Config{
		ChangeFeed:      true,
		ChangeRetention: time.Millisecond,
	})
	ctx := context.Background()

	set(t, ds, rowKey(t, "doc", "h1"), []byte("a"))
	last := set(t, ds, rowKey(t, "doc", "h2"), []byte("b"))

	// a cursor opened before the purge is overtaken by it
	stale, err := ds.Changes(ctx, 0)
	if err != nil {
		t.Fatalf("changes failed: %v", err)
	}

	time.Sleep(10 * time.Millisecond)
	if err := ds.CollectChanges(ctx); err != nil {
		t.Fatalf("collect changes failed: %v", err)
	}

	if _, err := ds.Changes(ctx, 0); !kvs.IsHorizonExceeded(err) {
		t.Errorf("expected horizon-exceeded for a purged start position, got %v", err)
	}
	if _, _, err := stale.Next(ctx); !kvs.IsHorizonExceeded(err) {
		t.Errorf("expected horizon-exceeded from the overtaken cursor, got %v", err)
	}

	// resuming at the horizon itself is allowed, the feed is just empty
	c, err := ds.Changes(ctx, last)
	if err != nil {
		t.Fatalf("changes at horizon failed: %v", err)
	}
	if _, ok, _ := c.Next(ctx); ok {
		t.Errorf("expected an empty feed after the purge")
	}

	// new commits become visible past the horizon
	next := set(t, ds, rowKey(t, "doc", "h3"), []byte("c"))
	cs, ok, err := c.Next(ctx)
	if err != nil || !ok {
		t.Fatalf("expected the new change set, ok=%v err=%v", ok, err)
	}
	if cs.Version != next {
		t.Errorf("expected change set at version %d, got %d", next, cs.Version)
	}
}

func testRealisticUsage(t *testing.T, factory kvs.DriverFactory) {
	ds := mustOpen(t, factory, kvs.Config{})
	ctx := context.Background()

	const (
		numWorkers    = 4
		numIncrements = 50
		numCounters   = 5
	)

	counterKeys := make([][]byte, numCounters)
	for i := range counterKeys {
		counterKeys[i] = rowKey(t, "counter", fmt.Sprintf("c-%d", i))
	}

	// increment reads, bumps and writes one counter, retrying on conflicts
	increment := func(key []byte) error {
		for {
			tx, err := ds.Begin(ctx, kvs.ReadWrite)
			if err != nil {
				return err
			}
			var current uint64
			value, found, err := tx.Get(ctx, key)
			if err != nil {
				_ = tx.Cancel()
				return err
			}
			if found {
				current = binary.BigEndian.Uint64(value)
			}
			next := make([]byte, 8)
			binary.BigEndian.PutUint64(next, current+1)
			if err := tx.Set(ctx, key, next); err != nil {
				_ = tx.Cancel()
				return err
			}
			_, err = tx.Commit(ctx)
			if err == nil {
				return nil
			}
			if !kvs.IsConflict(err) {
				return err
			}
		}
	}

	var wg sync.WaitGroup
	errs := make(chan error, numWorkers)
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for i := 0; i < numIncrements; i++ {
				key := counterKeys[(worker+i)%numCounters]
				if err := increment(key); err != nil {
					errs <- err
					return
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("worker failed: %v", err)
	}

	var total uint64
	for _, key := range counterKeys {
		value, found := get(t, ds, key)
		if !found {
			t.Fatalf("expected every counter to exist")
		}
		total += binary.BigEndian.Uint64(value)
	}
	if want := uint64(numWorkers * numIncrements); total != want {
		t.Errorf("expected counters to sum to %d, got %d", want, total)
	}
}
