package db

import (
	"errors"
	"io"
)

// --------------------------------------------------------------------------
// Helper Types
// --------------------------------------------------------------------------

type Implementation string

const (
	ImplBirch  Implementation = "birch"
	ImplBadger Implementation = "badger"
	ImplRaft   Implementation = "raft"
)

// Feature represents engine features as bit flags
type Feature uint64

const (
	FeatureSave    Feature = 1 << iota // Support for Save operations
	FeatureLoad                        // Support for Load operations
	FeatureCompact                     // Support for tombstone compaction
)

func (f Feature) String() string {
	switch f {
	case FeatureSave:
		return "Save"
	case FeatureLoad:
		return "Load"
	case FeatureCompact:
		return "Compact"
	default:
		return "Unknown"
	}
}

type DatabaseInfo struct {
	SizeBytes         int            `json:"size_bytes"`
	Entries           int            `json:"entries"`
	Version           uint64         `json:"version"`
	DbType            Implementation `json:"db_type"`
	SupportedFeatures []Feature      `json:"supported_features"`
	Metadata          interface{}    `json:"metadata"`
}

// --------------------------------------------------------------------------
// Versioned data model
// --------------------------------------------------------------------------

// Entry is a versioned value. A delete leaves a tombstone entry behind so
// that commit validation can detect the removal; tombstones are collected by
// the engine once they fall behind the retention window.
type Entry struct {
	Value     []byte
	Version   uint64
	Tombstone bool
}

// KV pairs an encoded key with its entry.
type KV struct {
	Key   []byte
	Entry Entry
}

// Range is a half-open key interval [Begin, End).
type Range struct {
	Begin []byte
	End   []byte
}

// Read records one point read taken by a transaction: the key and the
// version of the live entry observed (0 when the key was absent).
type Read struct {
	Key     []byte
	Version uint64
}

// Write is one pending mutation. Delete writes a tombstone. When
// Versionstamped is set, the final 10 bytes of Key are a placeholder that the
// engine replaces with the big-endian commit versionstamp before applying.
type Write struct {
	Key            []byte
	Value          []byte
	Delete         bool
	Versionstamped bool
}

// Batch is a conditional commit: the writes are applied atomically only if
// no recorded read, scanned range, or written key was invalidated by a commit
// newer than ReadVersion. Validation and apply are serialized inside the
// engine; first committer wins.
type Batch struct {
	ReadVersion uint64
	Reads       []Read
	Ranges      []Range
	Writes      []Write
}

// ErrConflict is returned by CommitBatch when the batch lost the optimistic
// race: some key it read, scanned, or writes was modified by a commit with a
// version greater than ReadVersion. Nothing is applied in that case.
var ErrConflict = errors.New("batch conflicts with a newer commit")

// --------------------------------------------------------------------------
// Engine Interface
// --------------------------------------------------------------------------

// Engine is the interface implemented by versioned key-value engines. It
// keeps one live entry (or tombstone) per key, assigns a monotonically
// increasing version to every commit, and applies conditional batches
// atomically. Implementations must be safe for concurrent use.
type Engine interface {

	// --------------------------------------------------------------------------
	// Query Operations
	// --------------------------------------------------------------------------

	// Get retrieves the entry for an exact key, tombstones included. The
	// boolean return value indicates whether any entry was found.
	Get(key []byte) (Entry, bool)

	// Scan returns the entries inside rg in ascending key order, at most
	// limit of them (limit <= 0 means unbounded). Tombstones are included
	// so callers can validate ranges against deletes; filter on
	// Entry.Tombstone for live data.
	Scan(rg Range, limit int) []KV

	// Version returns the version assigned to the most recent commit.
	Version() uint64

	// --------------------------------------------------------------------------
	// Write Operations
	// --------------------------------------------------------------------------

	// CommitBatch validates the batch against the current state and, on
	// success, applies its writes under a single new version which is
	// returned. On a lost race it returns ErrConflict and applies nothing.
	CommitBatch(b *Batch) (uint64, error)

	// Compact drops every tombstone whose version is below minVersion,
	// regardless of the retention window. Live entries are never touched.
	// It returns the number of tombstones removed. Engines advertise
	// support through FeatureCompact.
	Compact(minVersion uint64) (removed int)

	// --------------------------------------------------------------------------
	// Persistence Operations
	// --------------------------------------------------------------------------

	// Save persists the current state of the engine to the provided io.Writer.
	Save(w io.Writer) (err error)

	// Load restores the engine state from data provided by an io.Reader.
	Load(r io.Reader) (err error)

	// --------------------------------------------------------------------------
	// Feature Support
	// --------------------------------------------------------------------------

	// SupportsFeature checks if the engine implementation supports the
	// specified feature. Multiple features can be checked at once using the
	// bitwise OR (|) operator.
	SupportsFeature(feature Feature) (ok bool)

	// GetInfo returns information about the engine.
	GetInfo() (info DatabaseInfo)

	// Close closes the engine.
	Close() (err error)
}
