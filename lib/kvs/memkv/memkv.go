package memkv

import (
	"context"
	"errors"

	"github.com/phughk/surrealdb/lib/db"
	"github.com/phughk/surrealdb/lib/db/engines/birch"
	"github.com/phughk/surrealdb/lib/kvs"
)

type driverImpl struct {
	engine db.Engine
}

// NewDriver creates a memory driver over an engine produced by the factory.
// This driver is not distributed and only works within a single process.
// This works by using an engine from the db package directly.
func NewDriver(factory kvs.EngineFactory) kvs.Driver {
	return &driverImpl{engine: factory()}
}

// Factory returns a kvs.DriverFactory producing memory drivers over a birch
// engine with default options.
func Factory() kvs.DriverFactory {
	return func() (kvs.Driver, error) {
		return NewDriver(func() db.Engine {
			return birch.NewBirchDB(nil)
		}), nil
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see kvs/driver.go)
// --------------------------------------------------------------------------

func (d *driverImpl) View(_ context.Context) (kvs.View, error) {
	return &viewImpl{
		engine:  d.engine,
		version: d.engine.Version(),
	}, nil
}

// CommitBatch makes the memory driver a native kvs.Committer: the engine
// validates and applies the batch itself under its commit lock.
func (d *driverImpl) CommitBatch(_ context.Context, b *db.Batch) (uint64, error) {
	version, err := d.engine.CommitBatch(b)
	if err != nil {
		if errors.Is(err, db.ErrConflict) {
			return 0, kvs.NewError(kvs.RetCConflict, err.Error())
		}
		return 0, kvs.NewError(kvs.RetCInternalError, err.Error())
	}
	return version, nil
}

func (d *driverImpl) Info() (db.DatabaseInfo, error) {
	return d.engine.GetInfo(), nil
}

func (d *driverImpl) Close() error {
	return d.engine.Close()
}

// --------------------------------------------------------------------------
// View
// --------------------------------------------------------------------------

// viewImpl reads the engine directly. The engine keeps only the latest entry
// per key, so a view pins the version it was opened at and relies on the
// transaction layer's read cache and commit validation for repeatability.
type viewImpl struct {
	engine  db.Engine
	version uint64
}

func (v *viewImpl) Version() uint64 {
	return v.version
}

func (v *viewImpl) Get(_ context.Context, key []byte) (db.Entry, bool, error) {
	entry, ok := v.engine.Get(key)
	return entry, ok, nil
}

func (v *viewImpl) Scan(_ context.Context, rg db.Range, limit int) ([]db.KV, error) {
	return v.engine.Scan(rg, limit), nil
}

func (v *viewImpl) Release() {}
