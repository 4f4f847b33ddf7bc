package diskkv

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/phughk/surrealdb/lib/keys"
	"github.com/phughk/surrealdb/lib/kvs"
	"github.com/phughk/surrealdb/lib/kvs/kvtest"
)

func TestDiskDriver(t *testing.T) {
	// in-memory mode gives every factory call a fresh store
	kvtest.RunDriverTests(t, "diskkv", Factory(Config{InMemory: true}))
}

func TestDiskDriverApplierPath(t *testing.T) {
	kvtest.RunDriverTests(t, "diskkv-applier", kvtest.WrapApplier(Factory(Config{InMemory: true})))
}

// Data and the commit version must survive a close and reopen.
func TestPersistence(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "db")

	key, err := keys.Encode(keys.Row("test", "test", "user", keys.StringID("alice")))
	if err != nil {
		t.Fatalf("encode key: %v", err)
	}

	drv, err := NewDriver(Config{Dir: dir})
	if err != nil {
		t.Fatalf("open driver failed: %v", err)
	}
	ds, err := kvs.Open(drv, kvs.Config{})
	if err != nil {
		t.Fatalf("open datastore failed: %v", err)
	}

	tx, err := ds.Begin(ctx, kvs.ReadWrite)
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	if err := tx.Set(ctx, key, []byte("persisted")); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	version, err := tx.Commit(ctx)
	if err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	if err := ds.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	drv, err = NewDriver(Config{Dir: dir})
	if err != nil {
		t.Fatalf("reopen driver failed: %v", err)
	}
	ds, err = kvs.Open(drv, kvs.Config{})
	if err != nil {
		t.Fatalf("reopen datastore failed: %v", err)
	}
	defer func() { _ = ds.Close() }()

	tx, err = ds.Begin(ctx, kvs.ReadOnly)
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	if tx.ReadVersion() != version {
		t.Errorf("expected the commit version %d to survive the reopen, got %d", version, tx.ReadVersion())
	}
	value, found, err := tx.Get(ctx, key)
	if err != nil || !found {
		t.Fatalf("expected the row to survive the reopen, found=%v err=%v", found, err)
	}
	if !bytes.Equal(value, []byte("persisted")) {
		t.Errorf("expected value 'persisted', got %q", value)
	}
	if _, err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit failed: %v", err)
	}
}

func TestEntryEncoding(t *testing.T) {
	raw := encodeEntry([]byte("value"), 42, false)
	entry, err := decodeEntry(raw)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if entry.Version != 42 || entry.Tombstone || !bytes.Equal(entry.Value, []byte("value")) {
		t.Errorf("unexpected entry %+v", entry)
	}

	raw = encodeEntry(nil, 7, true)
	entry, err = decodeEntry(raw)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if entry.Version != 7 || !entry.Tombstone || entry.Value != nil {
		t.Errorf("unexpected tombstone entry %+v", entry)
	}

	if _, err := decodeEntry([]byte("short")); err == nil {
		t.Errorf("expected truncated input to fail")
	}
}
