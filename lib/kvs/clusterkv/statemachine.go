package clusterkv

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	sm "github.com/lni/dragonboat/v4/statemachine"

	"github.com/phughk/surrealdb/lib/db"
	"github.com/phughk/surrealdb/lib/kvs"
	"github.com/phughk/surrealdb/lib/kvs/clusterkv/internal"
)

// --------------------------------------------------------------------------
// State Machine Implementation
// --------------------------------------------------------------------------

// KVStateMachine hosts a db.Engine behind Dragonboat RAFT. Commit batches
// travel through the raft log and are validated and applied by the engine on
// every replica; since validation is deterministic, all replicas agree on
// the outcome of every commit.
type KVStateMachine struct {
	replicaID uint64
	shardID   uint64
	engine    db.Engine
}

// CreateStateMachineFactory returns a factory usable by a dragonboat node
// host to create the state machine for a shard. The engine factory is passed
// through so the hosted engine stays interchangeable.
func CreateStateMachineFactory(engineFactory kvs.EngineFactory) func(shardID uint64, replicaID uint64) sm.IConcurrentStateMachine {
	return func(shardID uint64, replicaID uint64) sm.IConcurrentStateMachine {
		return &KVStateMachine{
			replicaID: replicaID,
			shardID:   shardID,
			engine:    engineFactory(),
		}
	}
}

// Lookup handles read-only queries by mapping each Query operation to the
// corresponding engine method.
func (fsm *KVStateMachine) Lookup(itf interface{}) (interface{}, error) {

	q, ok := itf.(internal.Query)
	if !ok {
		return nil, kvs.NewErrorf(kvs.RetCInternalError, "invalid Query type: %T", itf)
	}

	switch q.Type {
	case internal.QueryTGet:
		entry, found := fsm.engine.Get(q.Key)
		return internal.GetResult{
			Entry: entry,
			Ok:    found,
		}, nil
	case internal.QueryTScan:
		return internal.ScanResult{
			KVs: fsm.engine.Scan(db.Range{Begin: q.Begin, End: q.End}, q.Limit),
		}, nil
	case internal.QueryTVersion:
		return fsm.engine.Version(), nil
	case internal.QueryTGetDBInfo:
		return fsm.engine.GetInfo(), nil
	default:
		return nil, kvs.NewErrorf(kvs.RetCInternalError, "unknown Query operation: %d", q.Type)
	}
}

// Update handles commit commands from the raft log. Each entry carries one
// conditional batch; a lost optimistic race is a regular result, not an
// error, so the raft log stays identical across replicas.
func (fsm *KVStateMachine) Update(entries []sm.Entry) ([]sm.Entry, error) {

	// Nothing to do
	if len(entries) == 0 {
		return entries, nil
	}

	// Stats
	start := time.Now()

	for idx, e := range entries {
		if len(e.Cmd) == 0 {
			entries[idx].Result = sm.Result{
				Value: uint64(kvs.RetCInternalError),
				Data:  []byte("empty command ignored"),
			}
			continue
		}

		cmd := internal.CommitCommand{}
		if err := cmd.Deserialize(e.Cmd); err != nil {
			entries[idx].Result = sm.Result{
				Value: uint64(kvs.RetCInternalError),
				Data:  []byte(fmt.Sprintf("failed to deserialize command: %v", err)),
			}
			continue
		}

		version, err := fsm.engine.CommitBatch(cmd.ToBatch())
		switch {
		case errors.Is(err, db.ErrConflict):
			entries[idx].Result = sm.Result{
				Value: uint64(kvs.RetCConflict),
				Data:  []byte(err.Error()),
			}
		case err != nil:
			entries[idx].Result = sm.Result{
				Value: uint64(kvs.RetCInternalError),
				Data:  []byte(err.Error()),
			}
		default:
			var versionBuf [8]byte
			binary.BigEndian.PutUint64(versionBuf[:], version)
			entries[idx].Result = sm.Result{
				Value: uint64(kvs.RetCSuccess),
				Data:  versionBuf[:],
			}
		}
	}

	// Log if the update took long
	if elapsed := time.Since(start); elapsed > time.Millisecond {
		log.Infof("State machine took long to update. Batch updated %d entries, took %.2fms",
			len(entries), float64(elapsed)/float64(time.Millisecond))
	}
	return entries, nil
}

// PrepareSnapshot is not used. We don't need to prepare anything since we
// use fuzzy snapshotting.
func (fsm *KVStateMachine) PrepareSnapshot() (interface{}, error) {
	return nil, nil
}

// SaveSnapshot saves a fuzzy engine snapshot to the writer.
func (fsm *KVStateMachine) SaveSnapshot(_ interface{}, writer io.Writer, _ sm.ISnapshotFileCollection, _ <-chan struct{}) error {
	if !fsm.engine.SupportsFeature(db.FeatureSave) {
		return fmt.Errorf("the hosted engine does not support Save() operations")
	}
	return fsm.engine.Save(writer)
}

// RecoverFromSnapshot restores the engine state from a snapshot.
func (fsm *KVStateMachine) RecoverFromSnapshot(r io.Reader, _ []sm.SnapshotFile, _ <-chan struct{}) error {
	if !fsm.engine.SupportsFeature(db.FeatureLoad) {
		return fmt.Errorf("the hosted engine does not support Load() operations")
	}
	return fsm.engine.Load(r)
}

// Close performs any necessary cleanup.
func (fsm *KVStateMachine) Close() error {
	return fsm.engine.Close()
}
