// Package reclaim implements deferred reclamation for lock-free readers.
//
// Readers wrap every access to shared, copy-on-write data in a critical
// section (Domain.Enter / Guard.Exit). Writers publish a new version with a
// single atomic pointer store and then retire the superseded objects. A retired
// object is freed only after a grace period, i.e. after every reader section
// that could have observed the old pointer has ended.
//
// Two retirement modes are supported:
//
//   - ModeAsync (default): retired objects are pushed onto a lock-free MPSC
//     queue. A background goroutine batches them, runs one grace period per
//     batch and frees the whole batch. Writers never wait.
//
//   - ModeSync: the retiring goroutine runs the grace period itself and frees
//     the objects before Retire returns. Meant for shutdown and other paths
//     that are not latency sensitive.
//
// Correctness relies on reader sections being short and never blocking,
// otherwise grace periods (and with them all reclamation) stall.
//
// Usage:
//
//	domain := reclaim.NewDomain()
//	r := reclaim.NewReclaimer(domain, reclaim.Options{Mode: reclaim.ModeAsync})
//	defer r.Close()
//
//	// reader
//	g := domain.Enter()
//	snap := current.Load()
//	// ... use snap ...
//	g.Exit()
//
//	// writer
//	old := current.Swap(next)
//	r.Retire(old)
package reclaim
