package kvs

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/phughk/surrealdb/lib/db"
	"github.com/phughk/surrealdb/lib/keys"
)

// --------------------------------------------------------------------------
// Transaction Modes and States
// --------------------------------------------------------------------------

// Mode selects whether a transaction may mutate data.
type Mode int

const (
	// ReadOnly transactions reject all mutations and commit without
	// touching the backend.
	ReadOnly Mode = iota
	// ReadWrite transactions buffer mutations and submit them as one
	// conditional batch on Commit.
	ReadWrite
)

// txState tracks the transaction lifecycle: Active until Commit or Cancel
// resolves it, then terminal.
type txState int

const (
	txActive txState = iota
	txCommitted
	txRolledBack
)

// --------------------------------------------------------------------------
// Transaction
// --------------------------------------------------------------------------

// pendingWrite is one buffered mutation, keyed by the encoded key it
// targets. A later mutation of the same key replaces the earlier one.
type pendingWrite struct {
	value  []byte
	delete bool
}

// readResult caches the first backend read of a key so repeated reads
// observe the same value regardless of concurrent commits.
type readResult struct {
	value   []byte
	version uint64
	found   bool
}

// Transaction is a unit of atomic work against a datastore. Reads are
// served from the buffered write set first, then from the read cache, then
// from the backend view; every backend read and scanned range is recorded
// and validated at commit, so a successful commit is serializable with
// respect to every other commit.
//
// A transaction is resolved exactly once, by Commit or Cancel. Every
// operation on a resolved transaction fails with RetCTxClosed.
//
// Thread-safety: a Transaction is safe for concurrent use, but operations
// are serialized internally; transactions are cheap, prefer one per
// goroutine.
type Transaction struct {
	mu    sync.Mutex
	state txState
	mode  Mode
	id    uint64
	ds    *Datastore
	view  View

	readVersion uint64
	reads       map[string]uint64     // encoded key -> observed live version (0 = absent)
	cache       map[string]readResult // repeatable-read cache
	ranges      []db.Range            // scanned ranges for phantom validation
	writes      map[string]pendingWrite

	lastUsed atomic.Int64 // unix nanos of the last operation, for the reaper
}

// touch refreshes the idle timestamp used by the datastore reaper.
func (t *Transaction) touch() {
	t.lastUsed.Store(time.Now().UnixNano())
}

// ensureActive fails with RetCTxClosed once the transaction is resolved.
// Callers must hold t.mu.
func (t *Transaction) ensureActive() error {
	switch t.state {
	case txActive:
		return nil
	case txCommitted:
		return NewError(RetCTxClosed, "transaction already committed")
	default:
		return NewError(RetCTxClosed, "transaction already rolled back")
	}
}

// ensureWritable fails on read-only transactions. Callers must hold t.mu.
func (t *Transaction) ensureWritable() error {
	if err := t.ensureActive(); err != nil {
		return err
	}
	if t.mode != ReadWrite {
		return NewError(RetCTxReadonly, "transaction is read-only")
	}
	return nil
}

// ReadVersion returns the backend version this transaction reads at.
func (t *Transaction) ReadVersion() uint64 {
	return t.readVersion
}

// --------------------------------------------------------------------------
// Read Operations
// --------------------------------------------------------------------------

// Get retrieves the value for an encoded key. The boolean indicates whether
// a value was found. Reads observe the transaction's own buffered writes;
// repeated reads of the same key return the same result.
func (t *Transaction) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.ensureActive(); err != nil {
		return nil, false, err
	}
	t.touch()

	res, err := t.read(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if !res.found {
		return nil, false, nil
	}

	value := make([]byte, len(res.value))
	copy(value, res.value)
	return value, true, nil
}

// Exists reports whether an encoded key holds a value.
func (t *Transaction) Exists(ctx context.Context, key []byte) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.ensureActive(); err != nil {
		return false, err
	}
	t.touch()

	res, err := t.read(ctx, key)
	if err != nil {
		return false, err
	}
	return res.found, nil
}

// read is the shared lookup path: write-set overlay first, then the read
// cache, then the backend view (recording the observed version for commit
// validation). Callers must hold t.mu.
func (t *Transaction) read(ctx context.Context, key []byte) (readResult, error) {
	k := string(key)

	if w, buffered := t.writes[k]; buffered {
		return readResult{value: w.value, found: !w.delete}, nil
	}

	if res, cached := t.cache[k]; cached {
		return res, nil
	}

	entry, found, err := t.view.Get(ctx, key)
	if err != nil {
		return readResult{}, err
	}

	res := readResult{}
	if found && !entry.Tombstone {
		res = readResult{value: entry.Value, version: entry.Version, found: true}
	}

	t.reads[k] = res.version
	t.cache[k] = res
	return res, nil
}

// Scan opens a cursor over the encoded key range rg, returning at most
// limit entries (limit <= 0 means unbounded). The cursor is lazy and
// restartable; it merges the transaction's buffered writes with backend
// entries in ascending key order. The whole range is recorded for commit
// validation, so any commit inside it conflicts with this transaction.
func (t *Transaction) Scan(ctx context.Context, rg db.Range, limit int) (*Cursor, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.ensureActive(); err != nil {
		return nil, err
	}
	t.touch()

	t.trackRange(rg)
	return newCursor(t, rg, limit), nil
}

// trackRange records a scanned range, folding exact duplicates. Callers
// must hold t.mu.
func (t *Transaction) trackRange(rg db.Range) {
	for _, tracked := range t.ranges {
		if bytes.Equal(tracked.Begin, rg.Begin) && bytes.Equal(tracked.End, rg.End) {
			return
		}
	}
	cp := db.Range{
		Begin: append([]byte(nil), rg.Begin...),
		End:   append([]byte(nil), rg.End...),
	}
	t.ranges = append(t.ranges, cp)
}

// --------------------------------------------------------------------------
// Write Operations
// --------------------------------------------------------------------------

// Set inserts or updates the value for an encoded key.
func (t *Transaction) Set(ctx context.Context, key, value []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.ensureWritable(); err != nil {
		return err
	}
	t.touch()

	t.buffer(key, value, false)
	return nil
}

// Put inserts the value for an encoded key only if the key holds no value,
// failing with RetCKeyAlreadyExists otherwise.
func (t *Transaction) Put(ctx context.Context, key, value []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.ensureWritable(); err != nil {
		return err
	}
	t.touch()

	res, err := t.read(ctx, key)
	if err != nil {
		return err
	}
	if res.found {
		return NewError(RetCKeyAlreadyExists, "key already holds a value")
	}

	t.buffer(key, value, false)
	return nil
}

// PutC updates the value for an encoded key only if the current value
// equals expected, failing with RetCConditionNotMet otherwise. A nil
// expected value requires the key to be absent.
func (t *Transaction) PutC(ctx context.Context, key, value, expected []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.ensureWritable(); err != nil {
		return err
	}
	t.touch()

	if err := t.checkCondition(ctx, key, expected); err != nil {
		return err
	}

	t.buffer(key, value, false)
	return nil
}

// Del removes the value for an encoded key. Deleting an absent key is a
// no-op.
func (t *Transaction) Del(ctx context.Context, key []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.ensureWritable(); err != nil {
		return err
	}
	t.touch()

	t.buffer(key, nil, true)
	return nil
}

// DelC removes the value for an encoded key only if the current value
// equals expected, failing with RetCConditionNotMet otherwise. A nil
// expected value requires the key to be absent.
func (t *Transaction) DelC(ctx context.Context, key, expected []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.ensureWritable(); err != nil {
		return err
	}
	t.touch()

	if err := t.checkCondition(ctx, key, expected); err != nil {
		return err
	}

	t.buffer(key, nil, true)
	return nil
}

// checkCondition verifies the current value of a key against the expected
// one. Callers must hold t.mu.
func (t *Transaction) checkCondition(ctx context.Context, key, expected []byte) error {
	res, err := t.read(ctx, key)
	if err != nil {
		return err
	}

	if expected == nil {
		if res.found {
			return NewError(RetCConditionNotMet, "expected key to be absent")
		}
		return nil
	}

	if !res.found || !bytes.Equal(res.value, expected) {
		return NewError(RetCConditionNotMet, "current value does not match the expected one")
	}
	return nil
}

// buffer records a pending mutation, replacing any earlier mutation of the
// same key. Callers must hold t.mu.
func (t *Transaction) buffer(key, value []byte, delete bool) {
	w := pendingWrite{delete: delete}
	if !delete {
		w.value = make([]byte, len(value))
		copy(w.value, value)
	}
	t.writes[string(key)] = w
}

// --------------------------------------------------------------------------
// Resolution
// --------------------------------------------------------------------------

// Commit resolves the transaction. The recorded reads, the scanned ranges
// and the buffered writes are submitted as one conditional batch; if any of
// them was modified by a newer commit, nothing is applied and Commit fails
// with RetCConflict. The transaction is then rolled back and the caller is
// expected to retry it from the start.
//
// Read-only transactions (and transactions that buffered no writes)
// validate their recorded reads the same way, so a successful Commit
// guarantees that every operation of the transaction observed one
// consistent state. Only a transaction that read nothing resolves without
// touching the backend.
//
// On success the commit version is returned; every write of the
// transaction, change feed entries included, became visible atomically
// under that version.
func (t *Transaction) Commit(ctx context.Context) (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.ensureActive(); err != nil {
		return 0, err
	}

	// nothing read, nothing written: there is nothing to validate
	if len(t.writes) == 0 && len(t.reads) == 0 && len(t.ranges) == 0 {
		t.resolve(txCommitted)
		t.ds.metrics.committed.Inc()
		return t.readVersion, nil
	}

	batch, err := t.buildBatch(ctx)
	if err != nil {
		t.resolve(txRolledBack)
		return 0, err
	}

	version, err := t.ds.committer.CommitBatch(ctx, batch)
	if err != nil {
		t.resolve(txRolledBack)
		if errors.Is(err, db.ErrConflict) || IsConflict(err) {
			t.ds.metrics.conflicted.Inc()
			return 0, NewError(RetCConflict, "transaction conflicts with a newer commit, retry the transaction")
		}
		return 0, err
	}

	t.resolve(txCommitted)
	t.ds.metrics.committed.Inc()
	return version, nil
}

// Cancel resolves the transaction without applying any of its writes. It
// fails with RetCTxClosed if the transaction was already resolved.
func (t *Transaction) Cancel() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.ensureActive(); err != nil {
		return err
	}

	t.resolve(txRolledBack)
	t.ds.metrics.cancelled.Inc()
	return nil
}

// resolve moves the transaction to a terminal state, releasing the view and
// the datastore registration. Callers must hold t.mu.
func (t *Transaction) resolve(state txState) {
	t.state = state
	if t.view != nil {
		t.view.Release()
		t.view = nil
	}
	t.ds.unregister(t)
}

// buildBatch assembles the conditional batch for this transaction: the
// recorded reads and ranges for validation, the buffered writes in key
// order, and, when the change feed is enabled, one versionstamped change
// set covering every mutated row. Callers must hold t.mu.
func (t *Transaction) buildBatch(ctx context.Context) (*db.Batch, error) {
	batch := &db.Batch{
		ReadVersion: t.readVersion,
		Ranges:      t.ranges,
	}

	writeKeys := make([]string, 0, len(t.writes))
	for k := range t.writes {
		writeKeys = append(writeKeys, k)
	}
	sort.Strings(writeKeys)

	// change feed capture needs the pre-transaction value of every mutated
	// record; reading unread write keys here also records them, so the
	// captured old values are guaranteed accurate by commit validation
	var records []ChangeRecord
	if t.ds.cfg.ChangeFeed {
		for _, k := range writeKeys {
			decoded, err := keys.Decode([]byte(k))
			if err != nil || decoded.Kind != keys.KindRow {
				continue
			}

			old, err := t.previousValue(ctx, []byte(k))
			if err != nil {
				return nil, err
			}

			w := t.writes[k]
			records = append(records, ChangeRecord{
				Key: []byte(k),
				Old: old,
				New: w.value,
			})
		}
	}

	for k, version := range t.reads {
		batch.Reads = append(batch.Reads, db.Read{Key: []byte(k), Version: version})
	}

	for _, k := range writeKeys {
		w := t.writes[k]
		batch.Writes = append(batch.Writes, db.Write{
			Key:    []byte(k),
			Value:  w.value,
			Delete: w.delete,
		})
	}

	if len(records) > 0 {
		feedWrite, err := buildChangeWrite(records)
		if err != nil {
			return nil, err
		}
		batch.Writes = append(batch.Writes, feedWrite)
	}

	return batch, nil
}

// previousValue returns the value a mutated key held before this
// transaction, nil when it held none. Callers must hold t.mu.
func (t *Transaction) previousValue(ctx context.Context, key []byte) ([]byte, error) {
	k := string(key)

	if res, cached := t.cache[k]; cached {
		if !res.found {
			return nil, nil
		}
		return res.value, nil
	}

	entry, found, err := t.view.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	res := readResult{}
	if found && !entry.Tombstone {
		res = readResult{value: entry.Value, version: entry.Version, found: true}
	}
	t.reads[k] = res.version
	t.cache[k] = res

	if !res.found {
		return nil, nil
	}
	return res.value, nil
}
