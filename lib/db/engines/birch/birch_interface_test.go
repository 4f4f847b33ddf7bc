package birch

import (
	"testing"
	"time"

	"github.com/phughk/surrealdb/lib/db"
	dbtesting "github.com/phughk/surrealdb/lib/db/testing"
)

func Test(t *testing.T) {
	dbtesting.RunEngineTests(t, "BirchDB", func() db.Engine {
		return NewBirchDB(nil)
	})
}

func Benchmark(t *testing.B) {
	dbtesting.RunEngineBenchmarks(t, "BirchDB", func() db.Engine {
		return NewBirchDB(nil)
	})
}

// TestTombstoneCollection checks that tombstones are dropped once they fall
// behind the retention window but survive until then.
func TestTombstoneCollection(t *testing.T) {
	engine := NewBirchDB(&DBOptions{
		TombstoneRetention: 5,
		GCInterval:         10 * time.Millisecond,
	})
	defer engine.Close()

	commit := func(key string, del bool) {
		_, err := engine.CommitBatch(&db.Batch{
			ReadVersion: engine.Version(),
			Writes:      []db.Write{{Key: []byte(key), Value: []byte("v"), Delete: del}},
		})
		if err != nil {
			t.Fatalf("Unexpected commit error: %v", err)
		}
	}

	commit("doomed", false)
	commit("doomed", true)

	// inside the retention window the tombstone must stay visible
	time.Sleep(50 * time.Millisecond)
	if entry, found := engine.Get([]byte("doomed")); !found || !entry.Tombstone {
		t.Fatal("Tombstone collected inside the retention window")
	}

	// push the head version past the retention window
	for i := 0; i < 10; i++ {
		commit("filler", false)
	}

	// the collector runs on its own interval
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, found := engine.Get([]byte("doomed")); !found {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Tombstone not collected after the retention window passed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// a key rewritten after its delete must never be collected
	commit("phoenix", false)
	commit("phoenix", true)
	commit("phoenix", false)

	for i := 0; i < 10; i++ {
		commit("filler", false)
	}

	time.Sleep(100 * time.Millisecond)
	if _, found := engine.Get([]byte("phoenix")); !found {
		t.Fatal("Live entry collected after its old tombstone expired")
	}
}
