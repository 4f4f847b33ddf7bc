// Package util provides supporting components for implementations of the
// db.Engine interface and for cluster bootstrap.
//
// The package contains:
//   - statistics: a SizeHistogram for estimating the size footprint an
//     engine reports in DatabaseInfo
//   - functions: FNV-1a string hashing used to derive replica identifiers
//     from node names
//   - mapheap: a keyed min-heap scheduling tombstones for garbage
//     collection by version
//   - lockfreempsc: a lock-free Multi-Producer Single-Consumer queue
//     carrying tombstone announcements from commits to the GC
//
// Each component works with any db.Engine implementation; none of them
// depends on a particular storage layout.
package util
