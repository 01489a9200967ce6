// Package testing provides standardised tests and benchmarks for
// store implementations that satisfy the kstorage.IStore interface.
//
// The package contains:
//   - RunStoreTests: a conformance suite for the IStore contract (errors, ordering,
//     read offsets, transfer faults, model replay)
//   - RunStoreBenchmarks: throughput of the common operations, including reads under a concurrent writer
//
// Both the local store and the rpc client run the same suite.
//
// Example usage:
//
//	factory := func() kstorage.IStore {
//		return kstorage.NewStore(nil)
//	}
//
//	storetesting.RunStoreTests(t, "Store", factory)
//	storetesting.RunStoreBenchmarks(b, "Store", factory)
package testing
