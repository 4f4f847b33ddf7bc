package clusterkv

import (
	"context"
	"encoding/binary"
	"errors"
	"time"

	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/client"
	"github.com/lni/dragonboat/v4/logger"

	"github.com/phughk/surrealdb/lib/db"
	"github.com/phughk/surrealdb/lib/kvs"
	"github.com/phughk/surrealdb/lib/kvs/clusterkv/internal"
)

var (
	retries = 5
	log     = logger.GetLogger("clusterkv")
)

// driverImpl is the replicated driver. It encapsulates a Dragonboat
// NodeHost which is used to communicate with the state machine hosting the
// engine. The driver is a native kvs.Committer: the state machine validates
// every batch itself, identically on all replicas.
type driverImpl struct {
	nh      *dragonboat.NodeHost
	shardID uint64
	cs      *client.Session
	timeout time.Duration
}

// NewDriver creates a replicated driver which uses raft consensus to ensure
// strict linearizability across multiple nodes. The node host is owned by
// the caller and survives Close.
func NewDriver(nh *dragonboat.NodeHost, shardID uint64, timeout time.Duration) kvs.Driver {
	return &driverImpl{
		nh:      nh,
		shardID: shardID,
		cs:      nh.GetNoOPSession(shardID),
		timeout: timeout,
	}
}

// --------------------------------------------------------------------------
// Internal write and read operations (used by interface methods)
// --------------------------------------------------------------------------

// propose sends a serialized commit command via SyncPropose, retrying while
// the raft subsystem reports backpressure.
func (d *driverImpl) propose(ctx context.Context, cmd []byte) (code uint64, data []byte, err error) {
	for i := 0; i < retries; i++ {
		pctx, cancel := context.WithTimeout(ctx, d.timeout)
		res, err := d.nh.SyncPropose(pctx, d.cs, cmd)
		cancel()

		if errors.Is(err, dragonboat.ErrSystemBusy) {
			log.Infof("SyncPropose: System busy, retrying (%d/%d)...", i+1, retries)
			time.Sleep(d.timeout / 10)
			continue
		}
		if err != nil {
			return 0, nil, kvs.NewError(kvs.RetCBackendUnavailable, err.Error())
		}
		return res.Value, res.Data, nil
	}
	return 0, nil, kvs.NewError(kvs.RetCBackendUnavailable, "timeout")
}

// read queries the state machine and attempts to convert the response into
// the expected type R.
//
// It uses the linearizable SyncRead by default; if linearizability is not
// required, the stale parameter can be set to true to use the faster
// StaleRead.
func read[R any](ctx context.Context, d *driverImpl, q internal.Query, stale bool) (R, error) {
	var zero R
	for i := 0; i < retries; i++ {

		var res interface{}
		var err error

		if stale {
			res, err = d.nh.StaleRead(d.shardID, q)
		} else {
			rctx, cancel := context.WithTimeout(ctx, d.timeout)
			res, err = d.nh.SyncRead(rctx, d.shardID, q)
			cancel()
		}

		if errors.Is(err, dragonboat.ErrSystemBusy) {
			log.Infof("SyncRead: System busy, retrying (%d/%d)...", i+1, retries)
			time.Sleep(d.timeout / 10)
			continue
		}
		if err != nil {
			return zero, kvs.NewError(kvs.RetCBackendUnavailable, err.Error())
		}

		casted, ok := res.(R)
		if !ok {
			return zero, kvs.NewErrorf(kvs.RetCInternalError,
				"unexpected type: received %T, expected %T", res, zero)
		}
		return casted, nil
	}
	return zero, kvs.NewError(kvs.RetCBackendUnavailable, "timeout")
}

// --------------------------------------------------------------------------
// Interface Methods (docu see kvs/driver.go)
// --------------------------------------------------------------------------

func (d *driverImpl) View(ctx context.Context) (kvs.View, error) {
	version, err := read[uint64](ctx, d, internal.Query{Type: internal.QueryTVersion}, false)
	if err != nil {
		return nil, err
	}
	return &viewImpl{drv: d, version: version}, nil
}

func (d *driverImpl) CommitBatch(ctx context.Context, b *db.Batch) (uint64, error) {
	cmd := internal.FromBatch(b)
	raw, err := cmd.Serialize()
	if err != nil {
		return 0, kvs.NewErrorf(kvs.RetCEncoding, "serialize commit command: %v", err)
	}

	code, data, err := d.propose(ctx, raw)
	if err != nil {
		// A failed proposal may still have been applied by the shard.
		// The outcome is unknown and must not be retried blindly.
		return 0, kvs.NewErrorf(kvs.RetCBackendUnavailable, "commit result unknown: %v", err)
	}

	switch kvs.RetCode(code) {
	case kvs.RetCSuccess:
		if len(data) != 8 {
			return 0, kvs.NewErrorf(kvs.RetCInternalError,
				"unexpected commit result payload of %d bytes", len(data))
		}
		return binary.BigEndian.Uint64(data), nil
	case kvs.RetCConflict:
		return 0, kvs.NewError(kvs.RetCConflict, string(data))
	default:
		return 0, kvs.NewError(kvs.RetCode(code), string(data))
	}
}

func (d *driverImpl) Info() (db.DatabaseInfo, error) {
	return read[db.DatabaseInfo](
		context.Background(),
		d,
		internal.Query{Type: internal.QueryTGetDBInfo},
		true, // Note: allow for stale reads
	)
}

// Close releases the driver. The node host itself is owned by the caller
// and keeps serving other shards.
func (d *driverImpl) Close() error {
	return nil
}

// --------------------------------------------------------------------------
// View
// --------------------------------------------------------------------------

// viewImpl issues linearizable reads against the shard. The version is
// pinned at creation; repeatability is supplied by the transaction layer.
type viewImpl struct {
	drv     *driverImpl
	version uint64
}

func (v *viewImpl) Version() uint64 {
	return v.version
}

func (v *viewImpl) Get(ctx context.Context, key []byte) (db.Entry, bool, error) {
	res, err := read[internal.GetResult](ctx, v.drv, internal.Query{
		Type: internal.QueryTGet,
		Key:  key,
	}, false)
	if err != nil {
		return db.Entry{}, false, err
	}
	return res.Entry, res.Ok, nil
}

func (v *viewImpl) Scan(ctx context.Context, rg db.Range, limit int) ([]db.KV, error) {
	res, err := read[internal.ScanResult](ctx, v.drv, internal.Query{
		Type:  internal.QueryTScan,
		Begin: rg.Begin,
		End:   rg.End,
		Limit: limit,
	}, false)
	if err != nil {
		return nil, err
	}
	return res.KVs, nil
}

func (v *viewImpl) Release() {}
