// Package cmd implements the command-line interface for the storage core.
// It provides a hierarchical command structure with operations for running
// a replica and interacting with a store as a client.
//
// The package is organized into several subpackages:
//
//   - kv: Commands for key-value operations (get, set, delete, scan, changes)
//   - serve: Commands for starting and configuring a replicated shard
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See surrealdb -help for a list of all commands.
package cmd
