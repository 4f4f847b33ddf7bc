package internal

import (
	"fmt"

	"github.com/phughk/surrealdb/lib/db"
)

// QueryType defines the possible queries for the state machine.
type QueryType uint8

const (
	QueryTGet       QueryType = iota // Retrieve the entry for an exact key.
	QueryTScan                       // Scan a key range in ascending order.
	QueryTVersion                    // Retrieve the current commit version.
	QueryTGetDBInfo                  // Retrieve metadata about the hosted engine.
)

func (q QueryType) String() string {
	switch q {
	case QueryTGet:
		return "Get"
	case QueryTScan:
		return "Scan"
	case QueryTVersion:
		return "Version"
	case QueryTGetDBInfo:
		return "GetDBInfo"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(q))
	}
}

// Query defines the structure for lookup requests (read-only) sent via
// SyncRead or StaleRead. Queries stay in-process on the handling node, so
// they need no serialization.
type Query struct {
	Type  QueryType
	Key   []byte // For QueryTGet.
	Begin []byte // For QueryTScan.
	End   []byte // For QueryTScan.
	Limit int    // For QueryTScan.
}

// GetResult is the result of a QueryTGet operation.
type GetResult struct {
	Entry db.Entry
	Ok    bool
}

// ScanResult is the result of a QueryTScan operation. All other query
// results are primitive types or predefined structs (uint64, db.DatabaseInfo).
type ScanResult struct {
	KVs []db.KV
}
