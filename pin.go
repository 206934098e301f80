package papaya

// Pinned is the implicit-guard facade over a Map. Each method acquires a
// guard for exactly the duration of that one call, equivalent to Guard,
// the operation, then Release. Use it when batching is unnecessary:
//
//	m.Pin().Insert("k", 1)
//	v, ok := m.Pin().Get("k")
//
// Pinned is a trivial value; constructing one performs no work.
type Pinned[K comparable, V any] struct {
	m *Map[K, V]
}

// Pin returns the implicit-guard facade for m.
func (m *Map[K, V]) Pin() Pinned[K, V] {
	return Pinned[K, V]{m: m}
}

func (p Pinned[K, V]) guarded() Guard {
	return Guard{d: p.m.rd, p: p.m.rd.enter()}
}

// Get returns the value stored for key, if any.
func (p Pinned[K, V]) Get(key K) (V, bool) {
	g := p.guarded()
	defer g.Release()
	return p.m.Get(key, &g)
}

// ContainsKey reports whether key is present.
func (p Pinned[K, V]) ContainsKey(key K) bool {
	g := p.guarded()
	defer g.Release()
	return p.m.ContainsKey(key, &g)
}

// Insert stores value for key, returning the previous value if replaced.
func (p Pinned[K, V]) Insert(key K, value V) (V, bool) {
	g := p.guarded()
	defer g.Release()
	return p.m.Insert(key, value, &g)
}

// Update atomically replaces the value for key with f(old); no-op when
// the key is absent.
func (p Pinned[K, V]) Update(key K, f func(V) V) (V, bool) {
	g := p.guarded()
	defer g.Release()
	return p.m.Update(key, f, &g)
}

// Remove deletes key, returning the removed value if it was present.
func (p Pinned[K, V]) Remove(key K) (V, bool) {
	g := p.guarded()
	defer g.Release()
	return p.m.Remove(key, &g)
}

// GetOrInsert returns the existing value for key or stores value.
func (p Pinned[K, V]) GetOrInsert(key K, value V) (V, bool) {
	g := p.guarded()
	defer g.Release()
	return p.m.GetOrInsert(key, value, &g)
}

// GetOrInsertWith returns the existing value for key or stores valueFn().
func (p Pinned[K, V]) GetOrInsertWith(key K, valueFn func() V) (V, bool) {
	g := p.guarded()
	defer g.Release()
	return p.m.GetOrInsertWith(key, valueFn, &g)
}

// Clear removes all entries.
func (p Pinned[K, V]) Clear() {
	g := p.guarded()
	defer g.Release()
	p.m.Clear(&g)
}

// Range iterates over the map's entries under a single implicit guard.
func (p Pinned[K, V]) Range(yield func(key K, value V) bool) {
	g := p.guarded()
	defer g.Release()
	p.m.Range(&g, yield)
}

// Len returns the number of live entries.
func (p Pinned[K, V]) Len() int {
	return p.m.Len()
}
