package kvs

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/phughk/surrealdb/lib/db"
)

// --------------------------------------------------------------------------
// Stub driver
// --------------------------------------------------------------------------

// stubDriver is a minimal natively committing driver over a flat map. The
// full driver implementations are covered by the kvtest suite; this stub
// exists so datastore lifecycle behavior can be tested inside the package.
type stubDriver struct {
	mu      sync.Mutex
	entries map[string]db.Entry
	version uint64
}

func newStubDriver() *stubDriver {
	return &stubDriver{entries: make(map[string]db.Entry)}
}

func (d *stubDriver) View(_ context.Context) (View, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return &stubView{drv: d, version: d.version}, nil
}

func (d *stubDriver) CommitBatch(_ context.Context, b *db.Batch) (uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, r := range b.Reads {
		var current uint64
		if entry, found := d.entries[string(r.Key)]; found && !entry.Tombstone {
			current = entry.Version
		}
		if current != r.Version {
			return 0, NewError(RetCConflict, "read key was modified by a newer commit")
		}
	}
	for _, w := range b.Writes {
		if w.Versionstamped {
			continue
		}
		if entry, found := d.entries[string(w.Key)]; found && entry.Version > b.ReadVersion {
			return 0, NewError(RetCConflict, "written key was modified by a newer commit")
		}
	}

	if len(b.Writes) == 0 {
		return d.version, nil
	}

	d.version++
	for _, w := range b.Writes {
		key := w.Key
		if w.Versionstamped {
			key = append([]byte{}, key...)
			stamp := VersionToStamp(d.version)
			copy(key[len(key)-StampLen:], stamp[:])
		}
		d.entries[string(key)] = db.Entry{
			Value:     w.Value,
			Version:   d.version,
			Tombstone: w.Delete,
		}
	}
	return d.version, nil
}

func (d *stubDriver) Info() (db.DatabaseInfo, error) {
	return db.DatabaseInfo{}, nil
}

func (d *stubDriver) Close() error {
	return nil
}

type stubView struct {
	drv     *stubDriver
	version uint64
}

func (v *stubView) Version() uint64 { return v.version }

func (v *stubView) Get(_ context.Context, key []byte) (db.Entry, bool, error) {
	v.drv.mu.Lock()
	defer v.drv.mu.Unlock()
	entry, found := v.drv.entries[string(key)]
	return entry, found, nil
}

func (v *stubView) Scan(_ context.Context, rg db.Range, limit int) ([]db.KV, error) {
	v.drv.mu.Lock()
	defer v.drv.mu.Unlock()

	var keys []string
	for key := range v.drv.entries {
		if bytes.Compare([]byte(key), rg.Begin) >= 0 &&
			(rg.End == nil || bytes.Compare([]byte(key), rg.End) < 0) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	var out []db.KV
	for _, key := range keys {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, db.KV{Key: []byte(key), Entry: v.drv.entries[key]})
	}
	return out, nil
}

func (v *stubView) Release() {}

// viewOnlyDriver forwards the read surface but hides every commit
// capability, making the driver unusable for a datastore.
type viewOnlyDriver struct {
	inner *stubDriver
}

func (d *viewOnlyDriver) View(ctx context.Context) (View, error) { return d.inner.View(ctx) }
func (d *viewOnlyDriver) Info() (db.DatabaseInfo, error)         { return d.inner.Info() }
func (d *viewOnlyDriver) Close() error                           { return d.inner.Close() }

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

func TestOpenRejectsViewOnlyDrivers(t *testing.T) {
	_, err := Open(&viewOnlyDriver{inner: newStubDriver()}, Config{})
	if err == nil {
		t.Fatalf("expected open to fail for a driver without a commit path")
	}
}

func TestBeginAfterClose(t *testing.T) {
	ds, err := Open(newStubDriver(), Config{})
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if err := ds.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if _, err := ds.Begin(context.Background(), ReadWrite); err == nil {
		t.Errorf("expected begin to fail on a closed datastore")
	}
}

func TestCloseCancelsActiveTransactions(t *testing.T) {
	ds, err := Open(newStubDriver(), Config{})
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}

	ctx := context.Background()
	tx, err := ds.Begin(ctx, ReadWrite)
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}

	if err := ds.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if _, _, err := tx.Get(ctx, []byte("k")); !IsTxClosed(err) {
		t.Errorf("expected tx-closed after datastore close, got %v", err)
	}
}

func TestReaperCancelsIdleTransactions(t *testing.T) {
	ds, err := Open(newStubDriver(), Config{TxIdleTimeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer func() { _ = ds.Close() }()

	ctx := context.Background()
	tx, err := ds.Begin(ctx, ReadWrite)
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}

	// an active transaction survives as long as it keeps operating
	for i := 0; i < 5; i++ {
		time.Sleep(20 * time.Millisecond)
		if _, _, err := tx.Get(ctx, []byte("k")); err != nil {
			t.Fatalf("expected an active transaction to survive, got %v", err)
		}
	}

	// an abandoned one is reaped
	deadline := time.Now().Add(2 * time.Second)
	for {
		time.Sleep(50 * time.Millisecond)
		if _, _, err := tx.Get(ctx, []byte("k")); IsTxClosed(err) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected the idle transaction to be reaped")
		}
	}
}
