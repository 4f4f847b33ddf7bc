package kvtest

import (
	"context"

	"github.com/phughk/surrealdb/lib/db"
	"github.com/phughk/surrealdb/lib/kvs"
)

// WrapApplier hides a driver's native commit capability behind a plain
// kvs.Applier, so the datastore resolves the latch-based committer instead.
// Running the conformance suite through a wrapped factory exercises the
// fallback commit path with a backend that is known to be correct.
func WrapApplier(factory kvs.DriverFactory) kvs.DriverFactory {
	return func() (kvs.Driver, error) {
		drv, err := factory()
		if err != nil {
			return nil, err
		}
		committer, ok := drv.(kvs.Committer)
		if !ok {
			return nil, kvs.NewError(kvs.RetCUnsupportedOperation,
				"the wrapped driver must commit natively")
		}
		return &applierDriver{Driver: drv, inner: committer}, nil
	}
}

// applierDriver embeds the wrapped driver for View, Info and Close but does
// not re-export its CommitBatch, leaving Apply as the only commit surface.
type applierDriver struct {
	kvs.Driver
	inner kvs.Committer
}

func (d *applierDriver) Apply(ctx context.Context, b *db.Batch) (uint64, error) {
	// strip the conditions: the latch committer has already validated the
	// batch under its latches, the engine must apply unconditionally
	blind := &db.Batch{
		ReadVersion: ^uint64(0),
		Writes:      b.Writes,
	}
	return d.inner.CommitBatch(ctx, blind)
}
