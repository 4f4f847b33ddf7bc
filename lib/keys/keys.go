package keys

import (
	"errors"
	"fmt"
)

// --------------------------------------------------------------------------
// Logical key model
// --------------------------------------------------------------------------

// Kind discriminates what a logical key addresses below the table level.
type Kind uint8

const (
	// KindRow addresses a data row.
	KindRow Kind = iota
	// KindIndex addresses a secondary index entry.
	KindIndex
	// KindTableMeta addresses the table metadata record.
	KindTableMeta
	// KindChangeFeed addresses a change feed entry (root level, no table).
	KindChangeFeed
)

func (k Kind) String() string {
	switch k {
	case KindRow:
		return "Row"
	case KindIndex:
		return "Index"
	case KindTableMeta:
		return "TableMeta"
	case KindChangeFeed:
		return "ChangeFeed"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(k))
	}
}

// RecordID identifies a record within a table. Identifiers are either
// strings or signed integers; integers sort before strings, and among
// themselves in natural numeric order.
type RecordID interface {
	isRecordID()
}

// StringID is a string record identifier.
type StringID string

// IntID is a signed integer record identifier.
type IntID int64

func (StringID) isRecordID() {}
func (IntID) isRecordID()    {}

// Key is a decoded logical key. Namespace, Database and Table are required
// for every kind except KindChangeFeed. ID is required for KindRow and
// KindIndex; Index names the secondary index for KindIndex. Stamp carries the
// commit versionstamp for KindChangeFeed.
type Key struct {
	Namespace string
	Database  string
	Table     string
	Kind      Kind
	Index     string
	ID        RecordID
	Stamp     [10]byte
}

// ErrInvalidKey is wrapped by every encoding or decoding failure. Callers
// treat these as programmer or input errors, never as retryable conditions.
var ErrInvalidKey = errors.New("invalid logical key")

// --------------------------------------------------------------------------
// Constructors
// --------------------------------------------------------------------------

// Row builds a data row key.
func Row(ns, db, tb string, id RecordID) Key {
	return Key{Namespace: ns, Database: db, Table: tb, Kind: KindRow, ID: id}
}

// Index builds a secondary index entry key.
func Index(ns, db, tb, ix string, id RecordID) Key {
	return Key{Namespace: ns, Database: db, Table: tb, Kind: KindIndex, Index: ix, ID: id}
}

// TableMeta builds the metadata key for a table.
func TableMeta(ns, db, tb string) Key {
	return Key{Namespace: ns, Database: db, Table: tb, Kind: KindTableMeta}
}

// ChangeFeed builds a change feed entry key for the given versionstamp.
func ChangeFeed(stamp [10]byte) Key {
	return Key{Kind: KindChangeFeed, Stamp: stamp}
}
