package testing

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/phughk/surrealdb/lib/db"
)

// EngineFactory is a function that creates a new instance of an Engine implementation
type EngineFactory func() db.Engine

// RunEngineTests runs a comprehensive test suite for an Engine implementation.
func RunEngineTests(t *testing.T, name string, factory EngineFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Commit&Get", func(t *testing.T) {
			testCommitGet(t, factory())
		})

		t.Run("Versions", func(t *testing.T) {
			testVersions(t, factory())
		})

		t.Run("Delete", func(t *testing.T) {
			testDelete(t, factory())
		})

		t.Run("Scan", func(t *testing.T) {
			testScan(t, factory())
		})

		t.Run("ReadConflict", func(t *testing.T) {
			testReadConflict(t, factory())
		})

		t.Run("WriteConflict", func(t *testing.T) {
			testWriteConflict(t, factory())
		})

		t.Run("RangeConflict", func(t *testing.T) {
			testRangeConflict(t, factory())
		})

		t.Run("Versionstamped", func(t *testing.T) {
			testVersionstamped(t, factory())
		})

		t.Run("Compact", func(t *testing.T) {
			testCompact(t, factory())
		})
		t.Run("SaveLoad", func(t *testing.T) {
			testSaveLoad(t, factory)
		})

		t.Run("EdgeCases", func(t *testing.T) {
			testEdgeCases(t, factory())
		})

		t.Run("RealisticUsage", func(t *testing.T) {
			testRealisticUsage(t, factory())
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// Checks if the engine supports the specified feature
// Skip the test if it is not supported
func requireFeature(t testing.TB, engine db.Engine, feature db.Feature) {
	if !engine.SupportsFeature(feature) {
		t.Skip()
	}
}

// mustSet commits a single blind write and fails the test on any error.
// Blind writes at the current version never lose the optimistic race
// when no other committer is active.
func mustSet(t testing.TB, engine db.Engine, key string, value []byte) uint64 {
	t.Helper()

	version, err := engine.CommitBatch(&db.Batch{
		ReadVersion: engine.Version(),
		Writes:      []db.Write{{Key: []byte(key), Value: value}},
	})
	if err != nil {
		t.Fatalf("Unexpected error committing write for key %q: %v", key, err)
	}
	return version
}

// mustDelete commits a single tombstone write.
func mustDelete(t testing.TB, engine db.Engine, key string) uint64 {
	t.Helper()

	version, err := engine.CommitBatch(&db.Batch{
		ReadVersion: engine.Version(),
		Writes:      []db.Write{{Key: []byte(key), Delete: true}},
	})
	if err != nil {
		t.Fatalf("Unexpected error committing delete for key %q: %v", key, err)
	}
	return version
}

// liveGet returns the live value for a key, treating tombstones as absent.
func liveGet(engine db.Engine, key string) ([]byte, bool) {
	entry, found := engine.Get([]byte(key))
	if !found || entry.Tombstone {
		return nil, false
	}
	return entry.Value, true
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testCommitGet(t *testing.T, engine db.Engine) {
	defer engine.Close()

	testKey := "test-key"
	testValue1 := []byte("test-value1")
	testValue2 := []byte("test-value2")

	mustSet(t, engine, testKey, testValue1)

	result, exists := liveGet(engine, testKey)
	if !exists {
		t.Errorf("Expected key %s to exist after commit", testKey)
	}

	if !bytes.Equal(result, testValue1) {
		t.Errorf("Expected value %s, got %s", testValue1, result)
	}

	mustSet(t, engine, testKey, testValue2)

	result, exists = liveGet(engine, testKey)
	if !exists {
		t.Errorf("Expected key %s to exist after commit", testKey)
	}

	if !bytes.Equal(result, testValue2) {
		t.Errorf("Expected value %s, got %s", testValue2, result)
	}

	_, exists = liveGet(engine, "nonexistent-key")
	if exists {
		t.Errorf("Expected nonexistent key to return exists=false")
	}

	retrievedValue, _ := liveGet(engine, testKey)
	retrievedValue[0] = 'X'

	originalValue, _ := liveGet(engine, testKey)
	if bytes.Equal(retrievedValue, originalValue) {
		t.Errorf("Get should return a copy, not a reference to the stored value")
	}
}

func testVersions(t *testing.T, engine db.Engine) {
	defer engine.Close()

	initial := engine.Version()

	v1 := mustSet(t, engine, "version-key-1", []byte("a"))
	if v1 <= initial {
		t.Errorf("Commit version %d should exceed initial version %d", v1, initial)
	}
	if engine.Version() != v1 {
		t.Errorf("Version() should report %d after commit, got %d", v1, engine.Version())
	}

	v2, err := engine.CommitBatch(&db.Batch{
		ReadVersion: v1,
		Writes: []db.Write{
			{Key: []byte("version-key-2"), Value: []byte("b")},
			{Key: []byte("version-key-3"), Value: []byte("c")},
		},
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if v2 <= v1 {
		t.Errorf("Commit versions must be strictly increasing: %d then %d", v1, v2)
	}

	// all writes of one batch carry the same commit version
	for _, key := range []string{"version-key-2", "version-key-3"} {
		entry, found := engine.Get([]byte(key))
		if !found {
			t.Fatalf("Key %s not found after commit", key)
		}
		if entry.Version != v2 {
			t.Errorf("Key %s has version %d, expected commit version %d", key, entry.Version, v2)
		}
	}

	// a failed commit must not advance the version counter
	_, err = engine.CommitBatch(&db.Batch{
		ReadVersion: v1,
		Writes:      []db.Write{{Key: []byte("version-key-2"), Value: []byte("x")}},
	})
	if !errors.Is(err, db.ErrConflict) {
		t.Fatalf("Expected ErrConflict, got %v", err)
	}
	if engine.Version() != v2 {
		t.Errorf("Failed commit must not advance the version: expected %d, got %d", v2, engine.Version())
	}
}

func testDelete(t *testing.T, engine db.Engine) {
	defer engine.Close()

	testKey := "delete-test-key"
	testValue := []byte("delete-test-value")

	mustSet(t, engine, testKey, testValue)

	_, exists := liveGet(engine, testKey)
	if !exists {
		t.Errorf("Expected key %s to exist after commit", testKey)
	}

	deleteVersion := mustDelete(t, engine, testKey)

	_, exists = liveGet(engine, testKey)
	if exists {
		t.Errorf("Expected key %s to not exist after delete", testKey)
	}

	// the tombstone stays visible to Get so later commits can be validated
	entry, found := engine.Get([]byte(testKey))
	if !found {
		t.Errorf("Expected tombstone for key %s to remain after delete", testKey)
	} else {
		if !entry.Tombstone {
			t.Errorf("Expected entry for key %s to be a tombstone", testKey)
		}
		if entry.Version != deleteVersion {
			t.Errorf("Tombstone version %d does not match delete commit version %d",
				entry.Version, deleteVersion)
		}
	}

	// deleting an absent key is a no-op, not an error
	mustDelete(t, engine, "nonexistent-key")
}

func testCompact(t *testing.T, engine db.Engine) {
	defer engine.Close()

	requireFeature(t, engine, db.FeatureCompact)

	mustSet(t, engine, "compact-old", []byte("old"))
	oldDelete := mustDelete(t, engine, "compact-old")

	mustSet(t, engine, "compact-live", []byte("live"))

	mustSet(t, engine, "compact-recent", []byte("recent"))
	recentDelete := mustDelete(t, engine, "compact-recent")

	if recentDelete <= oldDelete {
		t.Fatalf("Expected the recent delete version %d to exceed the old delete version %d",
			recentDelete, oldDelete)
	}

	// only tombstones strictly below minVersion are dropped
	removed := engine.Compact(recentDelete)
	if removed != 1 {
		t.Errorf("Expected 1 tombstone removed, got %d", removed)
	}

	if _, found := engine.Get([]byte("compact-old")); found {
		t.Errorf("Expected compacted tombstone for compact-old to be gone")
	}

	entry, found := engine.Get([]byte("compact-recent"))
	if !found || !entry.Tombstone {
		t.Errorf("Expected tombstone for compact-recent to survive compaction")
	}

	if value, exists := liveGet(engine, "compact-live"); !exists || string(value) != "live" {
		t.Errorf("Expected live entry compact-live to survive compaction")
	}

	// a second pass finds nothing left below the watermark
	if removed := engine.Compact(recentDelete); removed != 0 {
		t.Errorf("Expected repeated compaction to remove nothing, got %d", removed)
	}
}

func testScan(t *testing.T, engine db.Engine) {
	defer engine.Close()

	numKeys := 100
	for i := 0; i < numKeys; i++ {
		mustSet(t, engine, fmt.Sprintf("scan/%03d", i), []byte(fmt.Sprintf("value-%d", i)))
	}

	// a deleted key shows up as a tombstone so range validation can see it
	mustDelete(t, engine, "scan/050")

	rg := db.Range{Begin: []byte("scan/"), End: []byte("scan0")}

	results := engine.Scan(rg, 0)
	if len(results) != numKeys {
		t.Fatalf("Expected %d entries, got %d", numKeys, len(results))
	}

	live := 0
	for i, kv := range results {
		if i > 0 && bytes.Compare(results[i-1].Key, kv.Key) >= 0 {
			t.Fatalf("Scan results out of order at index %d: %q >= %q",
				i, results[i-1].Key, kv.Key)
		}
		if kv.Entry.Tombstone {
			if !bytes.Equal(kv.Key, []byte("scan/050")) {
				t.Errorf("Unexpected tombstone for key %q", kv.Key)
			}
		} else {
			live++
		}
	}
	if live != numKeys-1 {
		t.Errorf("Expected %d live entries, got %d", numKeys-1, live)
	}

	limited := engine.Scan(rg, 10)
	if len(limited) != 10 {
		t.Errorf("Expected 10 entries with limit, got %d", len(limited))
	}
	if !bytes.Equal(limited[0].Key, []byte("scan/000")) {
		t.Errorf("Limited scan should start at the range begin, got %q", limited[0].Key)
	}

	// half-open interval: End is excluded
	sub := engine.Scan(db.Range{Begin: []byte("scan/010"), End: []byte("scan/020")}, 0)
	if len(sub) != 10 {
		t.Errorf("Expected 10 entries in [010, 020), got %d", len(sub))
	}

	empty := engine.Scan(db.Range{Begin: []byte("zzz/"), End: []byte("zzz0")}, 0)
	if len(empty) != 0 {
		t.Errorf("Expected empty scan result, got %d entries", len(empty))
	}
}

func testReadConflict(t *testing.T, engine db.Engine) {
	defer engine.Close()

	testKey := "conflict-key"

	v1 := mustSet(t, engine, testKey, []byte("original"))

	// the batch recorded a read of version v1, another writer commits in
	// between, the batch must fail
	mustSet(t, engine, testKey, []byte("interloper"))

	_, err := engine.CommitBatch(&db.Batch{
		ReadVersion: v1,
		Reads:       []db.Read{{Key: []byte(testKey), Version: v1}},
		Writes:      []db.Write{{Key: []byte("other-key"), Value: []byte("derived")}},
	})
	if !errors.Is(err, db.ErrConflict) {
		t.Fatalf("Expected ErrConflict after concurrent write, got %v", err)
	}

	// nothing of the failed batch may be visible
	if _, exists := liveGet(engine, "other-key"); exists {
		t.Errorf("Failed commit must not apply any write")
	}

	// a read of a key that was absent (version 0) conflicts once it appears
	_, err = engine.CommitBatch(&db.Batch{
		ReadVersion: v1,
		Reads:       []db.Read{{Key: []byte(testKey), Version: 0}},
		Writes:      []db.Write{{Key: []byte("other-key"), Value: []byte("derived")}},
	})
	if !errors.Is(err, db.ErrConflict) {
		t.Fatalf("Expected ErrConflict for stale absent read, got %v", err)
	}

	// an accurate read set commits fine
	entry, _ := engine.Get([]byte(testKey))
	_, err = engine.CommitBatch(&db.Batch{
		ReadVersion: engine.Version(),
		Reads:       []db.Read{{Key: []byte(testKey), Version: entry.Version}},
		Writes:      []db.Write{{Key: []byte("other-key"), Value: []byte("derived")}},
	})
	if err != nil {
		t.Fatalf("Expected commit with current read set to succeed, got %v", err)
	}
}

func testWriteConflict(t *testing.T, engine db.Engine) {
	defer engine.Close()

	testKey := "blind-write-key"

	v1 := mustSet(t, engine, testKey, []byte("first"))

	mustSet(t, engine, testKey, []byte("second"))

	// even a blind write loses against a commit it never read: first
	// committer wins
	_, err := engine.CommitBatch(&db.Batch{
		ReadVersion: v1,
		Writes:      []db.Write{{Key: []byte(testKey), Value: []byte("stale")}},
	})
	if !errors.Is(err, db.ErrConflict) {
		t.Fatalf("Expected ErrConflict for stale blind write, got %v", err)
	}

	value, _ := liveGet(engine, testKey)
	if !bytes.Equal(value, []byte("second")) {
		t.Errorf("Value changed by a failed commit: got %s", value)
	}

	// a delete also invalidates stale writers
	v2 := engine.Version()
	mustDelete(t, engine, testKey)

	_, err = engine.CommitBatch(&db.Batch{
		ReadVersion: v2,
		Writes:      []db.Write{{Key: []byte(testKey), Value: []byte("stale")}},
	})
	if !errors.Is(err, db.ErrConflict) {
		t.Fatalf("Expected ErrConflict for write after delete, got %v", err)
	}
}

func testRangeConflict(t *testing.T, engine db.Engine) {
	defer engine.Close()

	for i := 0; i < 10; i++ {
		mustSet(t, engine, fmt.Sprintf("range/%02d", i), []byte("v"))
	}

	readVersion := engine.Version()
	rg := db.Range{Begin: []byte("range/"), End: []byte("range0")}

	// a phantom insert inside the scanned range fails the batch
	mustSet(t, engine, "range/99", []byte("phantom"))

	_, err := engine.CommitBatch(&db.Batch{
		ReadVersion: readVersion,
		Ranges:      []db.Range{rg},
		Writes:      []db.Write{{Key: []byte("summary"), Value: []byte("count=10")}},
	})
	if !errors.Is(err, db.ErrConflict) {
		t.Fatalf("Expected ErrConflict after phantom insert, got %v", err)
	}

	// a delete inside the scanned range fails the batch too: the tombstone
	// carries a newer version
	readVersion = engine.Version()
	mustDelete(t, engine, "range/05")

	_, err = engine.CommitBatch(&db.Batch{
		ReadVersion: readVersion,
		Ranges:      []db.Range{rg},
		Writes:      []db.Write{{Key: []byte("summary"), Value: []byte("count=11")}},
	})
	if !errors.Is(err, db.ErrConflict) {
		t.Fatalf("Expected ErrConflict after delete in range, got %v", err)
	}

	// writes outside the tracked range do not interfere
	readVersion = engine.Version()
	mustSet(t, engine, "unrelated-key", []byte("v"))

	_, err = engine.CommitBatch(&db.Batch{
		ReadVersion: readVersion,
		Ranges:      []db.Range{rg},
		Writes:      []db.Write{{Key: []byte("summary"), Value: []byte("count=10")}},
	})
	if err != nil {
		t.Fatalf("Expected commit to succeed, writes outside the range: %v", err)
	}
}

func testVersionstamped(t *testing.T, engine db.Engine) {
	defer engine.Close()

	prefix := []byte("feed/")
	placeholder := append(append([]byte{}, prefix...), make([]byte, 10)...)

	version, err := engine.CommitBatch(&db.Batch{
		ReadVersion: engine.Version(),
		Writes:      []db.Write{{Key: placeholder, Value: []byte("change-1"), Versionstamped: true}},
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	// the placeholder bytes are replaced with the big-endian commit version
	var stamp [10]byte
	binary.BigEndian.PutUint64(stamp[:8], version)
	wantKey := append(append([]byte{}, prefix...), stamp[:]...)

	entry, found := engine.Get(wantKey)
	if !found {
		t.Fatalf("Versionstamped key not found under stamp for version %d", version)
	}
	if !bytes.Equal(entry.Value, []byte("change-1")) {
		t.Errorf("Expected value change-1, got %s", entry.Value)
	}

	// the raw placeholder key must not exist
	if _, found := engine.Get(placeholder); found {
		t.Errorf("Placeholder key must not be stored verbatim")
	}

	// stamped keys sort by commit order
	version2, err := engine.CommitBatch(&db.Batch{
		ReadVersion: engine.Version(),
		Writes:      []db.Write{{Key: append([]byte{}, placeholder...), Value: []byte("change-2"), Versionstamped: true}},
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if version2 <= version {
		t.Fatalf("Commit versions must increase: %d then %d", version, version2)
	}

	results := engine.Scan(db.Range{Begin: prefix, End: []byte("feed0")}, 0)
	if len(results) != 2 {
		t.Fatalf("Expected 2 stamped entries, got %d", len(results))
	}
	if !bytes.Equal(results[0].Entry.Value, []byte("change-1")) ||
		!bytes.Equal(results[1].Entry.Value, []byte("change-2")) {
		t.Errorf("Stamped entries out of commit order")
	}
}

func testSaveLoad(t *testing.T, factory EngineFactory) {
	engine := factory()
	engine2 := factory()

	// close the engines after the test
	defer engine.Close()
	defer engine2.Close()

	requireFeature(t, engine, db.FeatureSave)
	requireFeature(t, engine, db.FeatureLoad)

	numEntries := 1000
	originalKeys := make([]string, numEntries)
	originalValues := make([][]byte, numEntries)

	for i := 0; i < numEntries; i++ {
		key := fmt.Sprintf("save-load-test-key-%d", i)
		value := []byte(fmt.Sprintf("save-load-test-value-%d", i))
		originalKeys[i] = key
		originalValues[i] = value

		mustSet(t, engine, key, value)
	}

	// tombstones survive a save/load cycle as well
	mustDelete(t, engine, originalKeys[0])

	savedVersion := engine.Version()

	var buf bytes.Buffer
	err := engine.Save(&buf)
	if err != nil {
		t.Errorf("Unexpected error during Save: %v", err)
	}

	err = engine2.Load(&buf)
	if err != nil {
		t.Errorf("Unexpected error during Load: %v", err)
	}

	if engine2.Version() != savedVersion {
		t.Errorf("Version mismatch after Load: expected %d, got %d", savedVersion, engine2.Version())
	}

	entry, found := engine2.Get([]byte(originalKeys[0]))
	if !found || !entry.Tombstone {
		t.Errorf("Tombstone for key %s lost during save/load", originalKeys[0])
	}

	for i := 1; i < numEntries; i++ {
		key := originalKeys[i]
		expectedValue := originalValues[i]

		actualValue, exists := liveGet(engine2, key)
		if !exists {
			t.Errorf("Key %s not found after Load", key)
			continue
		}

		if !bytes.Equal(actualValue, expectedValue) {
			t.Errorf("Value mismatch for key %s: expected %s, got %s", key, expectedValue, actualValue)
		}
	}

	for i := 1; i < numEntries; i++ {
		key := originalKeys[i]
		expectedValue := originalValues[i]

		actualValue, exists := liveGet(engine, key)
		if !exists {
			t.Errorf("Key %s not found in original engine", key)
			continue
		}

		if !bytes.Equal(actualValue, expectedValue) {
			t.Errorf("Value mismatch in original engine for key %s", key)
		}
	}
}

func testEdgeCases(t *testing.T, engine db.Engine) {
	defer engine.Close()

	emptyValueKey := "empty-value-key"
	var emptyValue []byte

	mustSet(t, engine, emptyValueKey, emptyValue)

	result, exists := liveGet(engine, emptyValueKey)
	if !exists {
		t.Errorf("Key for empty value not found after commit")
	} else if len(result) != 0 {
		t.Errorf("Empty value resulted in non-empty value: %v", result)
	}

	// an empty batch commits without advancing state
	before := engine.Version()
	_, err := engine.CommitBatch(&db.Batch{ReadVersion: before})
	if err != nil {
		t.Errorf("Empty batch should commit cleanly: %v", err)
	}

	if !t.Failed() {

		largeKey := string(bytes.Repeat([]byte{'k'}, 1000))
		largeKeyValue := []byte("value for large key")

		mustSet(t, engine, largeKey, largeKeyValue)

		result, exists = liveGet(engine, largeKey)
		if !exists {
			t.Errorf("Large key not found after commit")
		} else if !bytes.Equal(result, largeKeyValue) {
			t.Errorf("Value mismatch for large key")
		}

		largeValueKey := "large-value-key"
		largeValue := make([]byte, 16*1024*1024)

		for i := range largeValue {
			largeValue[i] = byte(i % 256)
		}

		mustSet(t, engine, largeValueKey, largeValue)

		result, exists = liveGet(engine, largeValueKey)
		if !exists {
			t.Errorf("Key for large value not found after commit")
		} else if !bytes.Equal(result, largeValue) {

			headMismatch := !bytes.Equal(result[:10], largeValue[:10])
			tailMismatch := !bytes.Equal(result[len(result)-10:], largeValue[len(largeValue)-10:])
			if headMismatch || tailMismatch || len(result) != len(largeValue) {
				t.Errorf("Large value mismatch: Head mismatch=%v, Tail mismatch=%v, Size mismatch=%v",
					headMismatch, tailMismatch, len(result) != len(largeValue))
			}
		}
	}
}

func testRealisticUsage(t *testing.T, engine db.Engine) {
	defer engine.Close()

	numWorkers := 8
	incrementsPerWorker := 200

	var wg sync.WaitGroup
	wg.Add(numWorkers)

	var conflicts int64

	// every worker increments shared counters under optimistic retry, the
	// final totals must account for every increment exactly once
	for w := 0; w < numWorkers; w++ {
		go func(workerId int) {
			defer wg.Done()

			for i := 0; i < incrementsPerWorker; i++ {
				key := fmt.Sprintf("counter-%d", i%10)

				for {
					readVersion := engine.Version()

					var current uint64
					var observed uint64
					if entry, found := engine.Get([]byte(key)); found && !entry.Tombstone {
						current = binary.BigEndian.Uint64(entry.Value)
						observed = entry.Version
					}

					next := make([]byte, 8)
					binary.BigEndian.PutUint64(next, current+1)

					_, err := engine.CommitBatch(&db.Batch{
						ReadVersion: readVersion,
						Reads:       []db.Read{{Key: []byte(key), Version: observed}},
						Writes:      []db.Write{{Key: []byte(key), Value: next}},
					})
					if err == nil {
						break
					}
					if !errors.Is(err, db.ErrConflict) {
						t.Errorf("Worker %d: unexpected commit error: %v", workerId, err)
						return
					}
					atomic.AddInt64(&conflicts, 1)
				}
			}
		}(w)
	}

	wg.Wait()

	var total uint64
	for i := 0; i < 10; i++ {
		key := fmt.Sprintf("counter-%d", i)
		value, exists := liveGet(engine, key)
		if !exists {
			t.Fatalf("Counter %s missing after workload", key)
		}
		total += binary.BigEndian.Uint64(value)
	}

	expected := uint64(numWorkers * incrementsPerWorker)
	if total != expected {
		t.Errorf("Lost or duplicated increments: expected %d, got %d (conflicts retried: %d)",
			expected, total, conflicts)
	}
}
