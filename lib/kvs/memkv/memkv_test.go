package memkv

import (
	"testing"

	"github.com/phughk/surrealdb/lib/kvs/kvtest"
)

func TestMemoryDriver(t *testing.T) {
	kvtest.RunDriverTests(t, "memkv", Factory())
}

// The same driver with its native commit path hidden, forcing the datastore
// through the latch-based committer.
func TestMemoryDriverApplierPath(t *testing.T) {
	kvtest.RunDriverTests(t, "memkv-applier", kvtest.WrapApplier(Factory()))
}
