package papaya

import (
	"math/rand/v2"
	"runtime"
	"sync"
	"sync/atomic"
	"unsafe"
)

// Map is a concurrent hash map protected by epoch-based reclamation.
//
// Reads never take a lock: chains are immutable once published, so a
// reader holding a Guard can dereference any node it reaches. Writes
// serialize on a per-bucket spinlock and publish copy-on-write chains with
// a single atomic head store. Growth is incremental and cooperative; see
// the package documentation.
//
// Operations on distinct keys are unordered relative to one another;
// operations on the same key are linearizable. A Map must not be copied
// after first use.
type Map[K comparable, V any] struct {
	//lint:ignore U1000 prevents false sharing
	pad [(CacheLineSize - unsafe.Sizeof(struct {
		table        unsafe.Pointer
		resizeState  unsafe.Pointer
		rd           unsafe.Pointer
		fwd          unsafe.Pointer
		nodePool     unsafe.Pointer
		keyHash      func()
		seed         uint64
		size         []counterStripe
		sizeMask     uint64
		minTableLen  int
		loadFactor   float64
		totalGrowths atomic.Uint32
	}{})%CacheLineSize) % CacheLineSize]byte

	table       atomic.Pointer[table[K, V]]
	resizeState atomic.Pointer[resizeState[K, V]]
	rd          *domain
	fwd         *node[K, V] // forwarding marker, never part of a live chain
	nodePool    *sync.Pool
	keyHash     func(key K, seed uint64) uint64
	seed        uint64
	size        []counterStripe
	sizeMask    uint64
	minTableLen int
	loadFactor  float64

	totalGrowths atomic.Uint32
}

// Config defines configurable Map options.
type Config struct {
	sizeHint   int
	loadFactor float64
}

// WithCapacity configures a new Map with capacity enough to hold sizeHint
// entries without growing. The resulting capacity is treated as a minimum.
// If sizeHint is zero or negative, the value is ignored.
func WithCapacity(sizeHint int) func(*Config) {
	return func(c *Config) {
		c.sizeHint = sizeHint
	}
}

// WithLoadFactor sets the maximum load factor in (0, 1]: the ratio of live
// entries to buckets above which the table grows. Default 0.75.
func WithLoadFactor(f float64) func(*Config) {
	return func(c *Config) {
		c.loadFactor = f
	}
}

// New creates an empty Map using the built-in hash function for K.
func New[K comparable, V any](options ...func(*Config)) *Map[K, V] {
	return NewWithHasher[K, V](nil, options...)
}

// NewWithHasher creates an empty Map with a custom key hash function.
// A nil keyHash selects the built-in hasher. The hash must be stable for
// any key for as long as it stays in the map, and equal keys must hash
// equally under it.
func NewWithHasher[K comparable, V any](
	keyHash func(key K, seed uint64) uint64,
	options ...func(*Config),
) *Map[K, V] {
	c := &Config{loadFactor: defaultLoadFactor}
	for _, o := range options {
		o(c)
	}
	if c.loadFactor <= 0 || c.loadFactor > 1 {
		panic("papaya: load factor must be in (0, 1]")
	}

	m := &Map[K, V]{}
	m.seed = rand.Uint64()
	if keyHash != nil {
		m.keyHash = keyHash
	} else {
		m.keyHash = defaultHasher[K]()
	}
	m.loadFactor = c.loadFactor
	m.minTableLen = calcTableLen(c.sizeHint, c.loadFactor)
	m.rd = newDomain()
	m.fwd = &node[K, V]{}
	m.nodePool = &sync.Pool{New: func() any { return new(node[K, V]) }}

	stripes := nextPowOf2(min(runtime.GOMAXPROCS(0), maxCounterStripes))
	m.size = make([]counterStripe, stripes)
	m.sizeMask = uint64(stripes - 1)

	m.table.Store(newTable[K, V](m.minTableLen))
	return m
}

// calcTableLen computes the bucket count for a capacity hint.
// The return value is a power of 2.
func calcTableLen(sizeHint int, loadFactor float64) int {
	tableLen := defaultMinTableLen
	if sizeHint > int(float64(defaultMinTableLen)*loadFactor) {
		tableLen = nextPowOf2(int(float64(sizeHint) / loadFactor))
	}
	return tableLen
}

// Guard returns an explicit guard for a batch of operations on m. The
// caller must Release it on every exit path and must not let it outlive
// the map.
func (m *Map[K, V]) Guard() *Guard {
	return &Guard{d: m.rd, p: m.rd.enter()}
}

// check validates a guard before an operation dereferences entry memory.
func (m *Map[K, V]) check(g *Guard) {
	if g == nil || g.p == nil {
		panic("papaya: operation with a nil or released Guard")
	}
	if g.d != m.rd {
		panic("papaya: Guard acquired from a different Map")
	}
}

func (m *Map[K, V]) newNode(hash uint64, key K, value V) *node[K, V] {
	n := m.nodePool.Get().(*node[K, V])
	n.hash, n.key, n.value, n.next = hash, key, value, nil
	return n
}

// retireNode defers recycling of an unlinked node until no guard can still
// observe it. The drop clears the fields so pooled nodes do not pin the
// caller's keys and values.
func (m *Map[K, V]) retireNode(n *node[K, V]) {
	m.retire(func() {
		var zeroK K
		var zeroV V
		n.hash, n.key, n.value, n.next = 0, zeroK, zeroV, nil
		m.nodePool.Put(n)
	})
}

func (m *Map[K, V]) retire(drop func()) {
	m.rd.retire(drop)
}

// Get returns the value stored for key, if any.
func (m *Map[K, V]) Get(key K, g *Guard) (value V, ok bool) {
	m.check(g)
	if n := m.findEntry(m.keyHash(key, m.seed), key); n != nil {
		return n.value, true
	}
	return value, false
}

// ContainsKey reports whether key is present.
func (m *Map[K, V]) ContainsKey(key K, g *Guard) bool {
	m.check(g)
	return m.findEntry(m.keyHash(key, m.seed), key) != nil
}

// findEntry locates the live node for key, following forwarding markers.
// During an in-flight growth the entry may still live in the previous
// generation; un-migrated source buckets are served from there.
func (m *Map[K, V]) findEntry(hash uint64, key K) *node[K, V] {
	t := m.table.Load()
	for {
		if p := t.prev.Load(); p != nil {
			sb := &p.buckets[hash&p.mask]
			if h := sb.head.Load(); h != m.fwd {
				return chainSearch(h, hash, key)
			}
		}
		h := t.buckets[hash&t.mask].head.Load()
		if h != m.fwd {
			return chainSearch(h, hash, key)
		}
		t = t.next.Load()
	}
}

func chainSearch[K comparable, V any](h *node[K, V], hash uint64, key K) *node[K, V] {
	for n := h; n != nil; n = n.next {
		if n.hash == hash && n.key == key {
			return n
		}
	}
	return nil
}

// Insert stores value for key. Returns the previous value and true if the
// key was already present; exactly one of insert or replace occurs.
func (m *Map[K, V]) Insert(key K, value V, g *Guard) (prev V, replaced bool) {
	m.check(g)
	hash := m.keyHash(key, m.seed)
	return m.mutate(hash, key, func(old *node[K, V]) (*node[K, V], V, bool) {
		if old != nil {
			return m.newNode(hash, key, value), old.value, true
		}
		var zero V
		return m.newNode(hash, key, value), zero, false
	})
}

// Update atomically replaces the value for key with f(old). If the key is
// absent, Update performs no mutation and returns the zero value and
// false; it never inserts. f runs exactly once per successful call, under
// the bucket lock; keep it short and free of calls back into the map.
func (m *Map[K, V]) Update(key K, f func(V) V, g *Guard) (newValue V, ok bool) {
	m.check(g)
	hash := m.keyHash(key, m.seed)
	return m.mutate(hash, key, func(old *node[K, V]) (*node[K, V], V, bool) {
		if old == nil {
			var zero V
			return nil, zero, false
		}
		next := f(old.value)
		return m.newNode(hash, key, next), next, true
	})
}

// Remove deletes key, returning the removed value if it was present.
func (m *Map[K, V]) Remove(key K, g *Guard) (value V, removed bool) {
	m.check(g)
	hash := m.keyHash(key, m.seed)
	return m.mutate(hash, key, func(old *node[K, V]) (*node[K, V], V, bool) {
		if old == nil {
			var zero V
			return nil, zero, false
		}
		return nil, old.value, true
	})
}

// GetOrInsert returns the existing value for key if present; otherwise it
// stores value and returns it. The loaded result is true if the value was
// already present.
func (m *Map[K, V]) GetOrInsert(key K, value V, g *Guard) (actual V, loaded bool) {
	m.check(g)
	hash := m.keyHash(key, m.seed)
	if n := m.findEntry(hash, key); n != nil {
		return n.value, true
	}
	return m.mutate(hash, key, func(old *node[K, V]) (*node[K, V], V, bool) {
		if old != nil {
			return old, old.value, true
		}
		return m.newNode(hash, key, value), value, false
	})
}

// GetOrInsertWith is GetOrInsert with a lazily computed value. valueFn runs
// under the bucket lock and only when the key is absent.
func (m *Map[K, V]) GetOrInsertWith(key K, valueFn func() V, g *Guard) (actual V, loaded bool) {
	m.check(g)
	hash := m.keyHash(key, m.seed)
	if n := m.findEntry(hash, key); n != nil {
		return n.value, true
	}
	return m.mutate(hash, key, func(old *node[K, V]) (*node[K, V], V, bool) {
		if old != nil {
			return old, old.value, true
		}
		value := valueFn()
		return m.newNode(hash, key, value), value, false
	})
}

// mutate is the single write path. apply receives the matching node (nil
// if the key is absent) and returns the replacement node: nil deletes, the
// matched node itself leaves the chain untouched, and any other node is
// spliced in. The remaining return values pass through to the caller.
//
// The chain is never edited in place: splicing copies the prefix in front
// of the matched node and republishes the head, so concurrent readers
// always observe a complete, consistent chain. Displaced nodes are retired.
func (m *Map[K, V]) mutate(
	hash uint64,
	key K,
	apply func(old *node[K, V]) (*node[K, V], V, bool),
) (V, bool) {
	t := m.table.Load()
	for {
		// Cooperative migration: a writer touching a bucket whose
		// old-generation source has not moved yet moves it first, so the
		// chain below is complete for this key.
		if p := t.prev.Load(); p != nil {
			idx := hash & p.mask
			if p.buckets[idx].head.Load() != m.fwd {
				m.migrateBucket(p, t, int(idx))
			}
		}

		b := &t.buckets[hash&t.mask]
		b.lock()
		head := b.head.Load()
		if head == m.fwd {
			// Migrated under us by a newer generation; chase it.
			b.unlock()
			t = t.next.Load()
			continue
		}

		matched := chainSearch(head, hash, key)
		repl, value, status := apply(matched)

		if matched == nil {
			if repl == nil {
				b.unlock()
				return value, status
			}
			repl.next = head
			b.head.Store(repl)
			b.unlock()
			m.addSize(hash, 1)

			// Growth check runs against the current generation; during a
			// resize the new table already has the doubled capacity.
			ct := m.table.Load()
			if m.sumSize() > int(float64(len(ct.buckets))*m.loadFactor) {
				m.tryResize(ct)
			}
			return value, status
		}

		if repl == matched {
			b.unlock()
			return value, status
		}

		// Replace or delete: rebuild the prefix in front of matched.
		var nh *node[K, V]
		if repl != nil {
			repl.next = matched.next
			nh = repl
		} else {
			nh = matched.next
		}
		for n := head; n != matched; n = n.next {
			pn := m.newNode(n.hash, n.key, n.value)
			pn.next = nh
			nh = pn
		}
		b.head.Store(nh)
		b.unlock()

		for n := head; n != matched; {
			nn := n.next
			m.retireNode(n)
			n = nn
		}
		m.retireNode(matched)

		if repl == nil {
			m.addSize(hash, -1)
		}
		return value, status
	}
}

// Len returns the number of live entries. Exact when no mutation races
// with the call. Len does not require a guard.
func (m *Map[K, V]) Len() int {
	return m.sumSize()
}

// IsEmpty reports whether the map holds no entries.
func (m *Map[K, V]) IsEmpty() bool {
	return m.sumSize() == 0
}

// Clear removes all entries, shrinking the table back to its initial
// capacity. Entries inserted concurrently with Clear may survive; the
// operation is atomic per bucket, not across the whole table.
func (m *Map[K, V]) Clear(g *Guard) {
	m.check(g)
	for {
		t := m.table.Load()
		rs := &resizeState[K, V]{from: t}
		rs.wg.Add(1)
		if !m.resizeState.CompareAndSwap(nil, rs) {
			if cur := m.resizeState.Load(); cur != nil {
				cur.wg.Wait()
			}
			continue
		}
		if m.table.Load() != t {
			m.resizeState.Store(nil)
			rs.wg.Done()
			continue
		}

		nt := newTable[K, V](m.minTableLen)
		rs.to = nt
		t.next.Store(nt)
		m.table.Store(nt)

		// Sweep the old generation bucket by bucket, discarding chains.
		// Writers still holding old buckets observe the marker on their
		// recheck and chase the new table.
		removed := 0
		for i := range t.buckets {
			b := &t.buckets[i]
			b.lock()
			head := b.head.Load()
			b.head.Store(m.fwd)
			b.unlock()
			for n := head; n != nil; {
				nn := n.next
				m.retireNode(n)
				removed++
				n = nn
			}
		}
		if removed != 0 {
			m.addSize(0, -removed)
		}
		m.retireTable(t)
		m.resizeState.Store(nil)
		rs.wg.Done()
		return
	}
}
