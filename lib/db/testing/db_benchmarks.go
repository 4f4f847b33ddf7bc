package testing

import (
	"bytes"
	"fmt"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/phughk/surrealdb/lib/db"
)

// RunEngineBenchmarks runs all benchmarks for a versioned engine implementation
func RunEngineBenchmarks(b *testing.B, name string, factory EngineFactory) {

	b.Run("Commit", func(b *testing.B) {
		benchmarkCommit(b, factory())
	})

	b.Run("CommitExisting", func(b *testing.B) {
		benchmarkCommitExisting(b, factory())
	})

	b.Run("CommitLargeValue", func(b *testing.B) {
		benchmarkCommitLargeValue(b, factory())
	})

	b.Run("CommitValidated", func(b *testing.B) {
		benchmarkCommitValidated(b, factory())
	})

	b.Run("Get", func(b *testing.B) {
		benchmarkGet(b, factory())
	})

	b.Run("Scan", func(b *testing.B) {
		benchmarkScan(b, factory())
	})

	b.Run("Delete", func(b *testing.B) {
		benchmarkDelete(b, factory())
	})

	b.Run("SaveLoad", func(b *testing.B) {
		benchmarkSaveLoad(b, factory)
	})

	b.Run("MixedUsage", func(b *testing.B) {
		benchmarkMixedUsage(b, factory())
	})
}

// --------------------------------------------------------------------------
// Benchmark helpers
// --------------------------------------------------------------------------

func blindSet(engine db.Engine, key string, value []byte) {
	engine.CommitBatch(&db.Batch{
		ReadVersion: engine.Version(),
		Writes:      []db.Write{{Key: []byte(key), Value: value}},
	})
}

// --------------------------------------------------------------------------
// Benchmark functions
// --------------------------------------------------------------------------

// Benchmark for committing fresh keys
func benchmarkCommit(b *testing.B, engine db.Engine) {

	b.Cleanup(func() {
		engine.Close()
	})

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			key := fmt.Sprintf("test-key-%d", counter)
			value := []byte(fmt.Sprintf("test-value-%d", counter))
			blindSet(engine, key, value)
			counter++
		}
	})
}

// Benchmark for committing over existing keys
func benchmarkCommitExisting(b *testing.B, engine db.Engine) {

	b.Cleanup(func() {
		engine.Close()
	})

	// Prepare data
	numKeys := b.N
	for i := 0; i < numKeys; i++ {
		key := fmt.Sprintf("test-key-%d", i)
		value := []byte(fmt.Sprintf("test-value-%d", i))
		blindSet(engine, key, value)
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			key := fmt.Sprintf("test-key-%d", counter%numKeys)
			value := []byte(fmt.Sprintf("test-value-%d", counter))
			blindSet(engine, key, value)
			counter++
		}
	})
}

// Benchmark for committing large values
func benchmarkCommitLargeValue(b *testing.B, engine db.Engine) {

	b.Cleanup(func() {
		engine.Close()
	})

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			key := fmt.Sprintf("test-key-%d", counter)
			largeValue := make([]byte, 1*1024*1024) // 1MB
			blindSet(engine, key, largeValue)
			counter++
		}
	})
}

// Benchmark for commits that carry a read set and a range to validate
func benchmarkCommitValidated(b *testing.B, engine db.Engine) {

	b.Cleanup(func() {
		engine.Close()
	})

	numKeys := 10000
	for i := 0; i < numKeys; i++ {
		key := fmt.Sprintf("test-key-%d", i)
		blindSet(engine, key, []byte("v"))
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			key := fmt.Sprintf("test-key-%d", counter%numKeys)
			entry, _ := engine.Get([]byte(key))

			engine.CommitBatch(&db.Batch{
				ReadVersion: engine.Version(),
				Reads:       []db.Read{{Key: []byte(key), Version: entry.Version}},
				Ranges: []db.Range{{
					Begin: []byte(fmt.Sprintf("test-key-%d", counter%numKeys)),
					End:   []byte(fmt.Sprintf("test-key-%d0", counter%numKeys)),
				}},
				Writes: []db.Write{{Key: []byte(key), Value: []byte("w")}},
			})
			counter++
		}
	})
}

// Parallel benchmarking for Get operation
func benchmarkGet(b *testing.B, engine db.Engine) {

	b.Cleanup(func() {
		engine.Close()
	})

	// Prepare data
	numKeys := 10000
	for i := 0; i < numKeys; i++ {
		key := fmt.Sprintf("test-key-%d", i)
		value := []byte(fmt.Sprintf("test-value-%d", i))
		blindSet(engine, key, value)
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			key := fmt.Sprintf("test-key-%d", counter%numKeys)
			engine.Get([]byte(key))
			counter++
		}
	})
}

// Parallel benchmarking for Scan operation
func benchmarkScan(b *testing.B, engine db.Engine) {

	b.Cleanup(func() {
		engine.Close()
	})

	numKeys := 10000
	for i := 0; i < numKeys; i++ {
		key := fmt.Sprintf("scan/%05d", i)
		blindSet(engine, key, []byte(fmt.Sprintf("value-%d", i)))
	}

	rg := db.Range{Begin: []byte("scan/"), End: []byte("scan0")}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			engine.Scan(rg, 100)
		}
	})
}

// Parallel benchmarking for Delete operation
func benchmarkDelete(b *testing.B, engine db.Engine) {

	b.Cleanup(func() {
		engine.Close()
	})

	numKeys := 100000
	if b.N < numKeys {
		numKeys = b.N
	}

	// Prepare data
	keys := make([]string, numKeys)
	for i := 0; i < numKeys; i++ {
		keys[i] = fmt.Sprintf("test-key-%d", i)
		value := []byte(fmt.Sprintf("test-value-%d", i))
		blindSet(engine, keys[i], value)
	}

	// Counter for atomic access
	var counter int64

	// Reset timer since we were doing setup
	b.ResetTimer()

	// Run parallel delete operations
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			idx := int(atomic.AddInt64(&counter, 1)-1) % numKeys
			engine.CommitBatch(&db.Batch{
				ReadVersion: engine.Version(),
				Writes:      []db.Write{{Key: []byte(keys[idx]), Delete: true}},
			})
		}
	})
}

// Benchmark for Save and Load operations
// For these operations, parallelization is not meaningful as they typically
// lock the entire engine
func benchmarkSaveLoad(b *testing.B, factory EngineFactory) {

	engine := factory()

	b.Cleanup(func() {
		engine.Close()
	})

	requireFeature(b, engine, db.FeatureSave)
	requireFeature(b, engine, db.FeatureLoad)

	// Create an engine with some data
	numEntries := 10000
	for i := 0; i < numEntries; i++ {
		key := fmt.Sprintf("test-key-%d", i)
		value := []byte(fmt.Sprintf("test-value-%d", i))
		blindSet(engine, key, value)
	}

	b.Run("Save", func(b *testing.B) {
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			var buf bytes.Buffer
			engine.Save(&buf)
		}
	})

	// Prepare a data buffer for Load benchmark
	var loadBuf bytes.Buffer
	engine.Save(&loadBuf)
	data := loadBuf.Bytes()

	b.Run("Load", func(b *testing.B) {
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			loadEngine := factory()
			defer loadEngine.Close()
			loadEngine.Load(bytes.NewReader(data))
		}
	})
}

// Benchmark for mixed usage patterns
func benchmarkMixedUsage(b *testing.B, engine db.Engine) {
	b.Cleanup(func() {
		engine.Close()
	})

	// Number of pre-populated keys
	numKeys := 100000
	if b.N < numKeys {
		numKeys = b.N
	}

	// Prepare initial data
	keys := make([]string, numKeys)
	for i := 0; i < numKeys; i++ {
		keys[i] = fmt.Sprintf("test-key-%d", i)
		value := []byte(fmt.Sprintf("test-value-%d", i))
		blindSet(engine, keys[i], value)
	}

	// Counter for atomic access
	var counter int64

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		// Local counter for each goroutine
		localCounter := 0
		rnd := rand.New(rand.NewSource(time.Now().UnixNano()))

		for pb.Next() {
			// Get a somewhat random index
			idx := int(atomic.AddInt64(&counter, 1)-1) % numKeys

			// For every 10th operation, use a completely new key
			var key string
			if localCounter%10 == 0 {
				key = fmt.Sprintf("new-key-%d", localCounter)
			} else {
				key = keys[idx]
			}

			// Random operation: 60% Get, 30% Commit, 10% Delete
			r := rnd.Float32()
			switch {
			case r < .6:
				engine.Get([]byte(key))
			case r < .9:
				value := []byte(fmt.Sprintf("mixed-value-%d", localCounter))
				blindSet(engine, key, value)
			default:
				engine.CommitBatch(&db.Batch{
					ReadVersion: engine.Version(),
					Writes:      []db.Write{{Key: []byte(key), Delete: true}},
				})
			}

			localCounter++
		}
	})
}
