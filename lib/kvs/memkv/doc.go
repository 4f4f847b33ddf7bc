// Package memkv implements the kvs.Driver interface over an in-process
// db.Engine, by default the birch engine.
//
// The driver is a native kvs.Committer: conditional batches are validated
// and applied by the engine itself under its commit lock, so no latching is
// required at the transaction layer. It is suitable for tests and for
// single-node embedded deployments where persistence and replication are
// not required.
package memkv
