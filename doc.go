// Package papaya provides a concurrent hash map protected by epoch-based
// reclamation.
//
// A Map can be read and mutated by any number of goroutines without a
// process-wide lock. Reads are lock-free: they traverse immutable entry
// nodes published by atomic stores. Writes serialize per bucket on an
// embedded spinlock, so operations on distinct buckets proceed fully in
// parallel. The table grows incrementally: buckets migrate to the
// next-generation array cooperatively, driven by whichever goroutine next
// touches them, and a forwarding marker redirects traffic for buckets that
// have already moved. No operation ever waits for a whole resize.
//
// Every operation that can observe entry memory requires a Guard. A Guard
// pins the caller into the current reclamation epoch; memory retired while
// any such guard is active is not recycled until the guard is released.
// Acquire an explicit guard for a batch of calls:
//
//	m := papaya.New[string, int]()
//	g := m.Guard()
//	defer g.Release()
//	m.Insert("one", 1, g)
//	v, ok := m.Get("one", g)
//
// or use the Pin facade, which holds an implicit guard for exactly one call:
//
//	m.Pin().Insert("one", 1)
//	v, ok := m.Pin().Get("one")
//
// Holding a guard for a long span is legal but delays reclamation of
// everything retired during that span.
//
// A Map must be created with New or NewWithHasher; the zero value is not
// usable. Defaults: 32 buckets of initial capacity and a maximum load
// factor of 0.75.
package papaya
