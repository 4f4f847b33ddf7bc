// Package testing provides standardised tests and benchmarks for
// database engines that satisfy the db.Engine interface.
//
// The package contains:
//   - testing: A comprehensive test suite for validating conformance to the Engine interface contract
//   - benchmark: Performance tests for measuring throughput of common engine operations
//
// This package is particularly useful for:
//   - Applications that need to select the most appropriate engine implementation
//     based on performance characteristics
//   - Database developers implementing the Engine interface
//
// Example usage:
//
//	// Creating a factory function for your implementation
//	factory := func() db.Engine {
//		return NewMyEngine()
//	}
//
//	// Running the standard test suite
//	testing.RunEngineTests(t, "MyEngine", factory)
//
//	// Running performance benchmarks
//	testing.RunEngineBenchmarks(b, "MyEngine", factory)
package testing
