package diskkv

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"sync/atomic"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/phughk/surrealdb/lib/db"
	"github.com/phughk/surrealdb/lib/kvs"
)

// metaVersionKey holds the last commit version. It starts with a zero byte
// so it sorts below every encoded data key and never shows up in scans.
var metaVersionKey = []byte{0x00, 'v'}

// entryHeaderLen is the per-value header: an 8-byte big-endian commit
// version followed by one flag byte.
const entryHeaderLen = 9

const flagTombstone = 0x01

// Config configures a disk driver.
type Config struct {
	// Dir is the directory BadgerDB stores its LSM tree and value log in.
	Dir string

	// InMemory runs BadgerDB without touching the filesystem. Data is lost
	// on Close; intended for tests.
	InMemory bool

	// SyncWrites makes every commit fsync before returning.
	SyncWrites bool
}

type driverImpl struct {
	bdb      *badger.DB
	commitMu sync.Mutex
	version  atomic.Uint64
}

// NewDriver opens a disk driver over a BadgerDB at cfg.Dir. The last commit
// version is restored from the store, so versions keep increasing across
// restarts.
func NewDriver(cfg Config) (kvs.Driver, error) {
	opts := badger.DefaultOptions(cfg.Dir).
		WithInMemory(cfg.InMemory).
		WithSyncWrites(cfg.SyncWrites).
		WithLogger(nil)

	bdb, err := badger.Open(opts)
	if err != nil {
		return nil, kvs.NewErrorf(kvs.RetCBackendUnavailable, "open badger: %v", err)
	}

	d := &driverImpl{bdb: bdb}

	err = bdb.View(func(txn *badger.Txn) error {
		item, err := txn.Get(metaVersionKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) == 8 {
				d.version.Store(binary.BigEndian.Uint64(val))
			}
			return nil
		})
	})
	if err != nil {
		_ = bdb.Close()
		return nil, kvs.NewErrorf(kvs.RetCBackendUnavailable, "restore version: %v", err)
	}

	return d, nil
}

// Factory returns a kvs.DriverFactory producing disk drivers for cfg.
func Factory(cfg Config) kvs.DriverFactory {
	return func() (kvs.Driver, error) {
		return NewDriver(cfg)
	}
}

// --------------------------------------------------------------------------
// Entry Encoding
// --------------------------------------------------------------------------

// encodeEntry prefixes the value with its commit version and flags, so one
// BadgerDB value carries the full versioned entry, tombstones included.
func encodeEntry(value []byte, version uint64, tombstone bool) []byte {
	buf := make([]byte, entryHeaderLen+len(value))
	binary.BigEndian.PutUint64(buf[:8], version)
	if tombstone {
		buf[8] = flagTombstone
	}
	copy(buf[entryHeaderLen:], value)
	return buf
}

func decodeEntry(raw []byte) (db.Entry, error) {
	if len(raw) < entryHeaderLen {
		return db.Entry{}, kvs.NewErrorf(kvs.RetCEncoding, "entry value too short: %d bytes", len(raw))
	}
	entry := db.Entry{
		Version:   binary.BigEndian.Uint64(raw[:8]),
		Tombstone: raw[8]&flagTombstone != 0,
	}
	if len(raw) > entryHeaderLen {
		entry.Value = append([]byte{}, raw[entryHeaderLen:]...)
	}
	return entry, nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see kvs/driver.go)
// --------------------------------------------------------------------------

func (d *driverImpl) View(_ context.Context) (kvs.View, error) {
	return &viewImpl{
		txn:     d.bdb.NewTransaction(false),
		version: d.version.Load(),
	}, nil
}

// CommitBatch makes the disk driver a native kvs.Committer. Commits are
// serialized on a mutex: validation reads a fresh BadgerDB snapshot, which
// under the mutex is guaranteed to reflect every earlier commit.
func (d *driverImpl) CommitBatch(_ context.Context, b *db.Batch) (uint64, error) {
	d.commitMu.Lock()
	defer d.commitMu.Unlock()

	txn := d.bdb.NewTransaction(false)
	defer txn.Discard()

	// validate point reads: the live version seen must still be current
	for _, r := range b.Reads {
		entry, found, err := getEntry(txn, r.Key)
		if err != nil {
			return 0, err
		}
		var current uint64
		if found && !entry.Tombstone {
			current = entry.Version
		}
		if current != r.Version {
			return 0, kvs.NewError(kvs.RetCConflict, "read key was modified by a newer commit")
		}
	}

	// validate tracked ranges, tombstones included
	for _, rg := range b.Ranges {
		conflict, err := rangeModifiedSince(txn, rg, b.ReadVersion)
		if err != nil {
			return 0, err
		}
		if conflict {
			return 0, kvs.NewError(kvs.RetCConflict, "scanned range was modified by a newer commit")
		}
	}

	// validate write keys: first committer wins even for blind writes
	for _, w := range b.Writes {
		if w.Versionstamped {
			continue
		}
		entry, found, err := getEntry(txn, w.Key)
		if err != nil {
			return 0, err
		}
		if found && entry.Version > b.ReadVersion {
			return 0, kvs.NewError(kvs.RetCConflict, "written key was modified by a newer commit")
		}
	}

	if len(b.Writes) == 0 {
		return d.version.Load(), nil
	}

	newVersion := d.version.Load() + 1

	err := d.bdb.Update(func(txn *badger.Txn) error {
		for _, w := range b.Writes {
			key := w.Key
			if w.Versionstamped {
				key = append([]byte{}, key...)
				stamp := kvs.VersionToStamp(newVersion)
				copy(key[len(key)-kvs.StampLen:], stamp[:])
			}
			if err := txn.Set(key, encodeEntry(w.Value, newVersion, w.Delete)); err != nil {
				return err
			}
		}
		var versionBuf [8]byte
		binary.BigEndian.PutUint64(versionBuf[:], newVersion)
		return txn.Set(metaVersionKey, versionBuf[:])
	})
	if err != nil {
		return 0, kvs.NewErrorf(kvs.RetCBackendUnavailable, "apply batch: %v", err)
	}

	d.version.Store(newVersion)
	return newVersion, nil
}

func (d *driverImpl) Info() (db.DatabaseInfo, error) {
	lsm, vlog := d.bdb.Size()
	return db.DatabaseInfo{
		SizeBytes: int(lsm + vlog),
		Version:   d.version.Load(),
		DbType:    db.ImplBadger,
	}, nil
}

func (d *driverImpl) Close() error {
	if err := d.bdb.Close(); err != nil {
		return kvs.NewErrorf(kvs.RetCBackendUnavailable, "close badger: %v", err)
	}
	return nil
}

// getEntry reads and decodes one entry inside a BadgerDB transaction.
func getEntry(txn *badger.Txn, key []byte) (db.Entry, bool, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return db.Entry{}, false, nil
	}
	if err != nil {
		return db.Entry{}, false, kvs.NewErrorf(kvs.RetCBackendUnavailable, "read key: %v", err)
	}

	raw, err := item.ValueCopy(nil)
	if err != nil {
		return db.Entry{}, false, kvs.NewErrorf(kvs.RetCBackendUnavailable, "read value: %v", err)
	}
	entry, err := decodeEntry(raw)
	if err != nil {
		return db.Entry{}, false, err
	}
	return entry, true, nil
}

// rangeModifiedSince reports whether any entry in rg, tombstones included,
// carries a version greater than readVersion.
func rangeModifiedSince(txn *badger.Txn, rg db.Range, readVersion uint64) (bool, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = true
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(rg.Begin); it.Valid(); it.Next() {
		key := it.Item().Key()
		if bytes.Equal(key, metaVersionKey) {
			continue
		}
		if rg.End != nil && bytes.Compare(key, rg.End) >= 0 {
			break
		}
		raw, err := it.Item().ValueCopy(nil)
		if err != nil {
			return false, kvs.NewErrorf(kvs.RetCBackendUnavailable, "read value: %v", err)
		}
		entry, err := decodeEntry(raw)
		if err != nil {
			return false, err
		}
		if entry.Version > readVersion {
			return true, nil
		}
	}
	return false, nil
}

// --------------------------------------------------------------------------
// View
// --------------------------------------------------------------------------

// viewImpl reads one BadgerDB snapshot transaction. The snapshot gives the
// view stable reads for its whole lifetime.
type viewImpl struct {
	txn     *badger.Txn
	version uint64
}

func (v *viewImpl) Version() uint64 {
	return v.version
}

func (v *viewImpl) Get(_ context.Context, key []byte) (db.Entry, bool, error) {
	return getEntry(v.txn, key)
}

func (v *viewImpl) Scan(_ context.Context, rg db.Range, limit int) ([]db.KV, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = true
	it := v.txn.NewIterator(opts)
	defer it.Close()

	var out []db.KV
	for it.Seek(rg.Begin); it.Valid(); it.Next() {
		if limit > 0 && len(out) >= limit {
			break
		}
		key := it.Item().KeyCopy(nil)
		if bytes.Equal(key, metaVersionKey) {
			continue
		}
		if rg.End != nil && bytes.Compare(key, rg.End) >= 0 {
			break
		}
		raw, err := it.Item().ValueCopy(nil)
		if err != nil {
			return nil, kvs.NewErrorf(kvs.RetCBackendUnavailable, "read value: %v", err)
		}
		entry, err := decodeEntry(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, db.KV{Key: key, Entry: entry})
	}
	return out, nil
}

func (v *viewImpl) Release() {
	v.txn.Discard()
}
