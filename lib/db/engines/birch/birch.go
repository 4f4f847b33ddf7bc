package birch

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/btree"
	"github.com/phughk/surrealdb/lib/db"
	"github.com/phughk/surrealdb/lib/db/util"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

// Constants for engine behavior and structure
const (
	magicNum          = "BIRCHDB\x00"          // File format identifier
	birchVersion      = 1                      // Snapshot format version
	defaultGCInterval = 100 * time.Millisecond // Default interval between GC runs
	defaultRetention  = 1024                   // Default tombstone retention in versions
	defaultDegree     = 32                     // Default B-tree degree
	stampLen          = 10                     // Length of a versionstamp in bytes
)

// --------------------------------------------------------------------------
// Core Birch engine structure
// --------------------------------------------------------------------------

// treeItem pairs a raw key with its versioned entry inside the B-tree.
type treeItem struct {
	key   []byte
	entry db.Entry
}

// itemLess orders tree items by raw byte comparison of their keys.
func itemLess(a, b treeItem) bool {
	return bytes.Compare(a.key, b.key) < 0
}

// gcEvent announces a freshly written tombstone to the garbage collector.
type gcEvent struct {
	key     string // Encoded key of the tombstone
	version uint64 // Commit version the tombstone was written under
}

// birchImpl implements a versioned ordered engine on top of a B-tree
type birchImpl struct {
	mu      sync.RWMutex               // Guards the tree; commits take it exclusively
	tree    *btree.BTreeG[treeItem]    // Ordered entry storage
	version atomic.Uint64              // Version of the most recent commit
	events  *util.LockFreeMPSC[gcEvent] // Tombstone announcements for the GC

	// garbage collection
	retention   uint64
	gcInterval  time.Duration
	gcIsRunning atomic.Bool
}

// DBOptions configures the birchImpl behavior during initialization
type DBOptions struct {
	Degree             int           // B-tree degree (0 = use default)
	GCInterval         time.Duration // Time between GC runs (0 = use default)
	TombstoneRetention uint64        // Versions a tombstone is kept before collection (0 = use default)
}

// DefaultOptions returns the default birchImpl options
func DefaultOptions() *DBOptions {
	return &DBOptions{
		Degree:             defaultDegree,
		GCInterval:         defaultGCInterval,
		TombstoneRetention: defaultRetention,
	}
}

// --------------------------------------------------------------------------
// Initialization and Setup
// --------------------------------------------------------------------------

// NewBirchDB creates a new BirchDB instance with the specified options (optional)
//
// Thread-safety: This function is not thread-safe and should only be called once
// during initialization.
func NewBirchDB(opts *DBOptions) db.Engine {

	// Generate default options if not provided
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.Degree <= 0 {
		opts.Degree = defaultDegree
	}
	if opts.GCInterval <= 0 {
		opts.GCInterval = defaultGCInterval
	}
	if opts.TombstoneRetention == 0 {
		opts.TombstoneRetention = defaultRetention
	}

	newDB := &birchImpl{
		tree:       btree.NewG(opts.Degree, itemLess),
		events:     util.NewLockFreeMPSC[gcEvent](),
		retention:  opts.TombstoneRetention,
		gcInterval: opts.GCInterval,
	}

	// Initialize atomic values
	newDB.version.Store(0)
	newDB.gcIsRunning.Store(false)

	// start garbage collection
	newDB.startGC()

	return newDB
}

// --------------------------------------------------------------------------
// Core Engine Interface Methods - Read Operations
// --------------------------------------------------------------------------

// Get retrieves the entry for an exact key, tombstones included.
// The boolean indicates whether any entry for the key was found.
// The returned value is a copy of the stored data and therefore safe to use and modify.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (birch *birchImpl) Get(key []byte) (db.Entry, bool) {
	birch.mu.RLock()
	defer birch.mu.RUnlock()

	item, found := birch.tree.Get(treeItem{key: key})
	if !found {
		return db.Entry{}, false
	}

	// copy the value to prevent callers from mutating tree state
	entry := db.Entry{
		Version:   item.entry.Version,
		Tombstone: item.entry.Tombstone,
	}
	if item.entry.Value != nil {
		entry.Value = make([]byte, len(item.entry.Value))
		copy(entry.Value, item.entry.Value)
	}

	return entry, true
}

// Scan returns the entries inside rg in ascending key order, at most limit
// of them (limit <= 0 means unbounded). Tombstones are included.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (birch *birchImpl) Scan(rg db.Range, limit int) []db.KV {
	birch.mu.RLock()
	defer birch.mu.RUnlock()

	var results []db.KV

	iter := func(item treeItem) bool {
		kv := db.KV{
			Key: make([]byte, len(item.key)),
			Entry: db.Entry{
				Value:     make([]byte, len(item.entry.Value)),
				Version:   item.entry.Version,
				Tombstone: item.entry.Tombstone,
			},
		}
		copy(kv.Key, item.key)
		copy(kv.Entry.Value, item.entry.Value)

		results = append(results, kv)
		return limit <= 0 || len(results) < limit
	}

	if rg.End == nil {
		birch.tree.AscendGreaterOrEqual(treeItem{key: rg.Begin}, iter)
	} else {
		birch.tree.AscendRange(treeItem{key: rg.Begin}, treeItem{key: rg.End}, iter)
	}

	return results
}

// Version returns the version assigned to the most recent commit.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (birch *birchImpl) Version() uint64 {
	return birch.version.Load()
}

// --------------------------------------------------------------------------
// Core Engine Interface Methods - Write Operations
// --------------------------------------------------------------------------

// CommitBatch validates the batch against the current tree state and, on
// success, applies its writes atomically under a single new version.
//
// Validation checks three things, all against Batch.ReadVersion:
//   - every recorded point read must still observe the same live version
//     (0 for absent or tombstoned keys)
//   - no entry inside a tracked range may carry a newer version, tombstones
//     included, so phantom inserts and deletes both fail the batch
//   - no written key may have been touched by a newer commit, so even blind
//     writes resolve with first committer wins
//
// On a lost race ErrConflict is returned and nothing is applied.
//
// Thread-safety: This method is thread-safe; validation and apply happen
// under one exclusive lock, so commits are serialized.
func (birch *birchImpl) CommitBatch(b *db.Batch) (uint64, error) {
	birch.mu.Lock()
	defer birch.mu.Unlock()

	// validate point reads
	for _, r := range b.Reads {
		var current uint64
		if item, found := birch.tree.Get(treeItem{key: r.Key}); found && !item.entry.Tombstone {
			current = item.entry.Version
		}
		if current != r.Version {
			return 0, db.ErrConflict
		}
	}

	// validate tracked ranges
	for _, rg := range b.Ranges {
		conflict := false

		iter := func(item treeItem) bool {
			if item.entry.Version > b.ReadVersion {
				conflict = true
				return false
			}
			return true
		}

		if rg.End == nil {
			birch.tree.AscendGreaterOrEqual(treeItem{key: rg.Begin}, iter)
		} else {
			birch.tree.AscendRange(treeItem{key: rg.Begin}, treeItem{key: rg.End}, iter)
		}

		if conflict {
			return 0, db.ErrConflict
		}
	}

	// validate write keys; stamped keys embed a fresh version and can't collide
	for _, w := range b.Writes {
		if w.Versionstamped {
			continue
		}
		if item, found := birch.tree.Get(treeItem{key: w.Key}); found && item.entry.Version > b.ReadVersion {
			return 0, db.ErrConflict
		}
	}

	// an empty batch validates but does not advance the version
	if len(b.Writes) == 0 {
		return birch.version.Load(), nil
	}

	commitVersion := birch.version.Load() + 1

	for _, w := range b.Writes {
		key := make([]byte, len(w.Key))
		copy(key, w.Key)

		if w.Versionstamped {
			if len(key) < stampLen {
				return 0, fmt.Errorf("versionstamped key too short: %d bytes", len(key))
			}
			stamp := key[len(key)-stampLen:]
			binary.BigEndian.PutUint64(stamp[:8], commitVersion)
			stamp[8], stamp[9] = 0, 0
		}

		entry := db.Entry{
			Version:   commitVersion,
			Tombstone: w.Delete,
		}
		if !w.Delete {
			entry.Value = make([]byte, len(w.Value))
			copy(entry.Value, w.Value)
		}

		birch.tree.ReplaceOrInsert(treeItem{key: key, entry: entry})

		// announce fresh tombstones to the gc
		if w.Delete {
			birch.events.Push(&gcEvent{key: string(key), version: commitVersion})
		}
	}

	birch.version.Store(commitVersion)
	return commitVersion, nil
}

// --------------------------------------------------------------------------
// Garbage Collection
// --------------------------------------------------------------------------

// startGC starts the garbage collector
// if the GC is already running, this function does nothing
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (birch *birchImpl) startGC() {
	if birch.gcIsRunning.CompareAndSwap(false, true) {
		go birch.garbageCollector(birch.events)
	}
}

// stopGC stops the garbage collector.
// if the GC is not running, this function does nothing.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (birch *birchImpl) stopGC() {
	if birch.gcIsRunning.CompareAndSwap(true, false) {
		birch.events.Close()
	}
}

// garbageCollector is the main tombstone collection loop.
// WARNING: this method should never be called directly! to enable GC, use startGC() and stopGC()
//
// Tombstones become collectible once the head version has moved at least
// retention versions past them. A tombstone that was overwritten in the
// meantime carries a newer version and is skipped; its rewrite pushed a new
// event, so it is rescheduled rather than lost.
func (birch *birchImpl) garbageCollector(events *util.LockFreeMPSC[gcEvent]) {

	pending := util.NewMapHeap()

	// timeouts
	gcTimer := time.NewTimer(birch.gcInterval)
	defer gcTimer.Stop()

	for {
		// reset timeout
		gcTimer.Reset(birch.gcInterval)

		endLoop := false
		for !endLoop {
			select {
			// case a new tombstone was written
			case event, ok := <-events.Recv():
				if !ok {
					return
				}
				// collectible once the head has moved past version + retention
				pending.AddItem(event.key, event.version+birch.retention)

			case <-gcTimer.C:
				endLoop = true
			}
		}

		// ACTUAL GC LOGIC BELOW

		/*
			Note: We only read the head version once per cycle to ensure we
			don't end up in an endless loop if commits land during the cycle.
		*/
		headVersion := birch.version.Load()

		for {
			item, exists := pending.Peek()
			if !exists || item.Priority > headVersion {
				break
			}

			key := item.Key
			scheduledVersion := item.Priority - birch.retention

			birch.mu.Lock()
			if current, found := birch.tree.Get(treeItem{key: []byte(key)}); found {
				// double-check: only collect if the tombstone is unchanged
				if current.entry.Tombstone && current.entry.Version == scheduledVersion {
					birch.tree.Delete(treeItem{key: []byte(key)})
				}
			}
			birch.mu.Unlock()

			/*
				The item is removed from the heap even if the entry was not
				collected: a rewritten tombstone pushed its own event and will
				be rescheduled, while leaving the item in place would
				reprocess it forever.
			*/
			pending.RemoveByKey(key)
		}
	}
}

// Compact removes every tombstone below minVersion without waiting for the
// retention window to expire. Tombstones at or above minVersion stay in
// place so recent deletes remain visible to conflict validation.
//
// Thread-safety: This method is thread-safe; compaction runs under the
// exclusive lock and blocks commits until it is done.
func (birch *birchImpl) Compact(minVersion uint64) int {
	birch.mu.Lock()
	defer birch.mu.Unlock()

	var stale [][]byte
	birch.tree.Ascend(func(item treeItem) bool {
		if item.entry.Tombstone && item.entry.Version < minVersion {
			stale = append(stale, item.key)
		}
		return true
	})

	// deleting during the Ascend would invalidate the iterator
	for _, key := range stale {
		birch.tree.Delete(treeItem{key: key})
	}

	return len(stale)
}

// --------------------------------------------------------------------------
// Persistence Operations
// --------------------------------------------------------------------------

// Save persists the engine state to the writer. Tombstones are included so
// a restored engine can still validate commits against recent deletes.
//
// Thread-safety: This function allows concurrent reads during the snapshot
// but blocks commits until it is done.
func (birch *birchImpl) Save(w io.Writer) error {
	// Use a buffered writer for better performance
	bw := bufio.NewWriterSize(w, 1024*1024) // 1 MB buffer

	birch.mu.RLock()
	defer birch.mu.RUnlock()

	// Write file header
	if _, err := bw.WriteString(magicNum); err != nil {
		return err
	}

	// Write snapshot format version
	if err := binary.Write(bw, binary.LittleEndian, uint8(birchVersion)); err != nil {
		return err
	}

	// Write head version
	if err := binary.Write(bw, binary.LittleEndian, birch.version.Load()); err != nil {
		return err
	}

	// Write total entry count
	if err := binary.Write(bw, binary.LittleEndian, uint64(birch.tree.Len())); err != nil {
		return err
	}

	// Write entries in key order
	var saveErr error
	birch.tree.Ascend(func(item treeItem) bool {

		// Write key length and key
		if saveErr = binary.Write(bw, binary.LittleEndian, uint32(len(item.key))); saveErr != nil {
			return false
		}
		if _, saveErr = bw.Write(item.key); saveErr != nil {
			return false
		}

		// Write entry version
		if saveErr = binary.Write(bw, binary.LittleEndian, item.entry.Version); saveErr != nil {
			return false
		}

		// Write tombstone flag
		var tombstone uint8
		if item.entry.Tombstone {
			tombstone = 1
		}
		if saveErr = binary.Write(bw, binary.LittleEndian, tombstone); saveErr != nil {
			return false
		}

		// Write value length and value bytes
		if saveErr = binary.Write(bw, binary.LittleEndian, uint32(len(item.entry.Value))); saveErr != nil {
			return false
		}
		if _, saveErr = bw.Write(item.entry.Value); saveErr != nil {
			return false
		}

		return true
	})
	if saveErr != nil {
		return saveErr
	}

	// Flush buffer to ensure all data is written
	return bw.Flush()
}

// Load restores the engine state from the reader
//
// Thread-safety: This function is not thread-safe and should not be called concurrently
func (birch *birchImpl) Load(r io.Reader) error {

	// stop gc during load; a fresh queue is created for the restored state
	birch.stopGC()
	birch.events = util.NewLockFreeMPSC[gcEvent]()
	defer birch.startGC()

	// Use a buffered reader for better performance
	br := bufio.NewReaderSize(r, 1024*1024) // 1 MB buffer

	// Read and verify magic number
	magicBytes := make([]byte, len(magicNum))
	if _, err := io.ReadFull(br, magicBytes); err != nil {
		return err
	}

	if string(magicBytes) != magicNum {
		return fmt.Errorf("invalid file format: magic number mismatch")
	}

	// Read and verify snapshot format version
	var version uint8
	if err := binary.Read(br, binary.LittleEndian, &version); err != nil {
		return err
	}

	if int(version) != birchVersion {
		return fmt.Errorf("unsupported version: %d (expected %d)", version, birchVersion)
	}

	// Read head version
	var headVersion uint64
	if err := binary.Read(br, binary.LittleEndian, &headVersion); err != nil {
		return err
	}

	// Read entry count
	var entryCount uint64
	if err := binary.Read(br, binary.LittleEndian, &entryCount); err != nil {
		return err
	}

	// Recreate an empty tree
	tree := btree.NewG(defaultDegree, itemLess)

	// Read entries
	for i := uint64(0); i < entryCount; i++ {
		// Read key
		var keyLen uint32
		if err := binary.Read(br, binary.LittleEndian, &keyLen); err != nil {
			return err
		}
		key := make([]byte, keyLen)
		if _, err := io.ReadFull(br, key); err != nil {
			return err
		}

		// Read entry version
		var entryVersion uint64
		if err := binary.Read(br, binary.LittleEndian, &entryVersion); err != nil {
			return err
		}

		// Read tombstone flag
		var tombstone uint8
		if err := binary.Read(br, binary.LittleEndian, &tombstone); err != nil {
			return err
		}

		// Read value
		var valueLen uint32
		if err := binary.Read(br, binary.LittleEndian, &valueLen); err != nil {
			return err
		}
		value := make([]byte, valueLen)
		if _, err := io.ReadFull(br, value); err != nil {
			return err
		}

		tree.ReplaceOrInsert(treeItem{
			key: key,
			entry: db.Entry{
				Value:     value,
				Version:   entryVersion,
				Tombstone: tombstone == 1,
			},
		})

		// reschedule restored tombstones for collection
		if tombstone == 1 {
			birch.events.Push(&gcEvent{key: string(key), version: entryVersion})
		}
	}

	birch.mu.Lock()
	birch.tree = tree
	birch.mu.Unlock()
	birch.version.Store(headVersion)

	return nil
}

// --------------------------------------------------------------------------
// Engine Interface Implementation - Features and Metadata
// --------------------------------------------------------------------------

// GetInfo returns statistics about the engine
func (birch *birchImpl) GetInfo() db.DatabaseInfo {

	birch.mu.RLock()

	// create a size histogram for the info
	histogram := util.NewSizeHistogram()
	samples := 0
	tombstoneBacklog := 0
	maxSamples := 1000

	birch.tree.Ascend(func(item treeItem) bool {
		// track size in histogram
		histogram.AddSample(len(item.entry.Value))

		// tombstones waiting for the gc
		if item.entry.Tombstone {
			tombstoneBacklog++
		}

		// only sample a bounded number of entries
		samples++
		return samples < maxSamples
	})

	entries := birch.tree.Len()
	birch.mu.RUnlock()

	// calculate size
	entryOverhead := 24 // version, tombstone flag and tree bookkeeping
	medianSize := histogram.MedianEstimate() + entryOverhead
	avgSize := histogram.AverageSize() + entryOverhead

	// weighted estimate (60% median, 40% average)
	sizeBytes := (medianSize*60 + avgSize*40) / 100 * entries

	// Metadata for this specific engine implementation
	meta := &struct {
		Version            uint64 `json:"version"`
		TombstoneRetention uint64 `json:"tombstone_retention"`
		TombstoneBacklog   int    `json:"tombstone_backlog"`
		Info               string `json:"info"`
	}{
		Version:            birch.version.Load(),
		TombstoneRetention: birch.retention,
		TombstoneBacklog:   tombstoneBacklog,
		Info:               "All values (including SizeBytes) are estimates and may vary depending on the engine state.",
	}

	// features
	supportedFeatures := []db.Feature{
		db.FeatureSave, db.FeatureLoad, db.FeatureCompact,
	}

	return db.DatabaseInfo{
		SizeBytes:         sizeBytes,
		Entries:           entries,
		Version:           birch.version.Load(),
		DbType:            db.ImplBirch,
		SupportedFeatures: supportedFeatures,
		Metadata:          meta,
	}
}

// SupportsFeature checks if this implementation supports a specific engine feature
func (birch *birchImpl) SupportsFeature(feature db.Feature) bool {
	supportedFeatures := db.FeatureSave |
		db.FeatureLoad |
		db.FeatureCompact
	return supportedFeatures&feature == feature
}

// Close stops the garbage collector
func (birch *birchImpl) Close() error {
	birch.stopGC()
	return nil
}
