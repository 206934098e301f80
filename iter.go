package papaya

import "iter"

// Range iterates over the map's entries, calling yield until it returns
// false. The traversal walks the oldest live generation bucket by bucket;
// buckets that migrate during the walk are followed through their
// forwarding markers into the next generation.
//
// Iteration is weakly consistent: every key present continuously from
// before the call until after it returns is yielded at least once, keys
// mutated during the walk may or may not be observed, and every yielded
// pair is a (key, value) combination that was actually stored. A yielded
// entry may repeat only if it was removed and re-added during the walk.
// The guard must stay live for the whole traversal.
func (m *Map[K, V]) Range(g *Guard, yield func(key K, value V) bool) {
	m.check(g)
	t := m.table.Load()
	// Start from the previous generation if a growth is in flight; its
	// un-migrated buckets still hold live entries.
	if p := t.prev.Load(); p != nil {
		t = p
	}
	for i := range t.buckets {
		if !m.rangeBucket(t, i, yield) {
			return
		}
	}
}

// rangeBucket yields one bucket's chain, chasing the forwarding marker if
// the bucket has migrated. A grown successor splits the bucket in two; a
// cleared successor (smaller table) received nothing, so there is nothing
// to follow.
func (m *Map[K, V]) rangeBucket(t *table[K, V], idx int, yield func(K, V) bool) bool {
	h := t.buckets[idx].head.Load()
	if h == m.fwd {
		nt := t.next.Load()
		if len(nt.buckets) <= len(t.buckets) {
			return true
		}
		if !m.rangeBucket(nt, idx, yield) {
			return false
		}
		return m.rangeBucket(nt, idx+len(t.buckets), yield)
	}
	for n := h; n != nil; n = n.next {
		if !yield(n.key, n.value) {
			return false
		}
	}
	return true
}

// All returns an iterator over the map's entries with Range semantics.
func (m *Map[K, V]) All(g *Guard) iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		m.Range(g, yield)
	}
}

// Keys returns an iterator over the map's keys with Range semantics.
func (m *Map[K, V]) Keys(g *Guard) iter.Seq[K] {
	return func(yield func(K) bool) {
		m.Range(g, func(key K, _ V) bool {
			return yield(key)
		})
	}
}

// Values returns an iterator over the map's values with Range semantics.
func (m *Map[K, V]) Values(g *Guard) iter.Seq[V] {
	return func(yield func(V) bool) {
		m.Range(g, func(_ K, value V) bool {
			return yield(value)
		})
	}
}
