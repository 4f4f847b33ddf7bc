// Package diskkv implements the kvs.Driver interface over BadgerDB,
// providing a persistent single-node backend.
//
// Entries are stored as BadgerDB values prefixed with their commit version
// and a tombstone flag, so the transactional validation model of the kvs
// package maps directly onto the store. Views read BadgerDB snapshot
// transactions; commits are serialized on a driver mutex and applied in one
// BadgerDB update transaction together with the version marker, which makes
// a commit atomic on disk. The driver is a native kvs.Committer.
package diskkv
