package papaya

import (
	"runtime"
	"sync"
	"sync/atomic"
)

const (
	// defaultMinTableLen defines the minimum table size (number of buckets).
	defaultMinTableLen = 32
	// defaultLoadFactor defines the live-entries-to-buckets threshold that
	// triggers a table growth during insertion.
	defaultLoadFactor = 0.75
	// minBucketsPerChunk defines the smallest migration chunk; tables below
	// this size migrate in a single chunk.
	minBucketsPerChunk = 4
)

// node is an immutable entry in a bucket chain. Once a node is published by
// an atomic head store, none of its fields change; updates replace the node
// and retire the old one. The hash is cached to make chain scans and resize
// splitting cheap.
type node[K comparable, V any] struct {
	hash  uint64
	key   K
	value V
	next  *node[K, V]
}

// bucket holds the chain head and an embedded spinlock. Reads go through
// the head only; all chain splicing, including migration, happens under the
// lock. The head holds the map's forwarding sentinel once the bucket has
// migrated to the next-generation table.
type bucket[K comparable, V any] struct {
	head atomic.Pointer[node[K, V]]
	meta atomic.Uint32
}

// lock acquires the bucket spinlock. The state lives in a separate word
// from the head so lock traffic never disturbs lock-free readers.
// This function can be inlined.
func (b *bucket[K, V]) lock() {
	if b.meta.CompareAndSwap(0, 1) {
		return
	}
	b.slowLock()
}

func (b *bucket[K, V]) slowLock() {
	spins := 0
	for !b.tryLock() {
		delay(&spins)
	}
}

func (b *bucket[K, V]) tryLock() bool {
	return b.meta.CompareAndSwap(0, 1)
}

func (b *bucket[K, V]) unlock() {
	b.meta.Store(0)
}

// table is one generation of the bucket array.
//
// prev is non-nil only while this generation is being filled from its
// predecessor; entries whose source bucket has not migrated yet are still
// served from prev. next is set when a successor generation is published
// and is kept afterwards so readers and iterators holding a retired
// generation can follow forwarding markers.
type table[K comparable, V any] struct {
	buckets []bucket[K, V]
	mask    uint64
	prev    atomic.Pointer[table[K, V]]
	next    atomic.Pointer[table[K, V]]

	// migration chunking, fixed at construction
	chunks    int
	chunkSize int
}

func newTable[K comparable, V any](tableLen int) *table[K, V] {
	chunkSize, chunks := calcParallelism(tableLen, minBucketsPerChunk, runtime.GOMAXPROCS(0))
	return &table[K, V]{
		buckets:   make([]bucket[K, V], tableLen),
		mask:      uint64(tableLen - 1),
		chunks:    chunks,
		chunkSize: chunkSize,
	}
}

// resizeState tracks the single in-flight resize. Claimed by CAS on the
// map's resizeState pointer; the claim doubles as the resize mutex.
type resizeState[K comparable, V any] struct {
	wg       sync.WaitGroup
	from     *table[K, V]
	to       *table[K, V]
	process  atomic.Int32
	complete atomic.Int32
}

// tryResize starts a growth of t if no resize is in flight and t is still
// the current table. The caller continues regardless; the initiating
// goroutine drives migration to completion cooperatively with any writers
// that touch un-migrated buckets in the meantime.
func (m *Map[K, V]) tryResize(t *table[K, V]) {
	rs := &resizeState[K, V]{from: t}
	rs.wg.Add(1)
	if !m.resizeState.CompareAndSwap(nil, rs) {
		return
	}
	if m.table.Load() != t {
		m.resizeState.Store(nil)
		rs.wg.Done()
		return
	}

	nt := newTable[K, V](len(t.buckets) << 1)
	nt.prev.Store(t)
	rs.to = nt
	t.next.Store(nt)
	m.table.Store(nt)
	m.totalGrowths.Add(1)

	m.helpCopy(rs)
}

// helpCopy claims migration chunks until none remain, then waits for the
// stragglers so the caller returns with the resize fully finished.
func (m *Map[K, V]) helpCopy(rs *resizeState[K, V]) {
	t := rs.from
	chunks := int32(t.chunks)
	for {
		c := rs.process.Add(1)
		if c > chunks {
			rs.wg.Wait()
			return
		}
		start := int(c-1) * t.chunkSize
		end := min(start+t.chunkSize, len(t.buckets))
		for i := start; i < end; i++ {
			m.migrateBucket(t, rs.to, i)
		}
		if rs.complete.Add(1) == chunks {
			rs.to.prev.Store(nil)
			m.resizeState.Store(nil)
			m.retireTable(t)
			rs.wg.Done()
			return
		}
	}
}

// migrateBucket moves one bucket of the old generation into the two
// corresponding buckets of the new one and installs the forwarding marker.
// Racing migrators serialize on the old bucket's lock; losers observe the
// marker and return. The caller must hold a guard.
//
// The chain splits by the next hash bit. The maximal tail run that lands in
// one destination is reused as-is (its links never change again); the nodes
// in front of it are copied and the originals retired.
func (m *Map[K, V]) migrateBucket(old, next *table[K, V], idx int) {
	src := &old.buckets[idx]
	src.lock()
	head := src.head.Load()
	if head == m.fwd {
		src.unlock()
		return
	}

	bit := uint64(len(old.buckets))
	var low, high, lastRun *node[K, V]

	if head != nil {
		runBit := head.hash & bit
		lastRun = head
		for n := head.next; n != nil; n = n.next {
			if n.hash&bit != runBit {
				lastRun, runBit = n, n.hash&bit
			}
		}
		if runBit == 0 {
			low = lastRun
		} else {
			high = lastRun
		}
		for n := head; n != lastRun; n = n.next {
			nn := m.newNode(n.hash, n.key, n.value)
			if n.hash&bit == 0 {
				nn.next = low
				low = nn
			} else {
				nn.next = high
				high = nn
			}
		}
	}

	// The destination buckets cannot be touched by writers until the
	// forwarding marker below is visible, so plain atomic stores suffice.
	next.buckets[idx].head.Store(low)
	next.buckets[idx+len(old.buckets)].head.Store(high)
	src.head.Store(m.fwd)
	src.unlock()

	// The copied prefix is unreachable from the new chains; retire it.
	for n := head; n != lastRun; {
		nn := n.next
		m.retireNode(n)
		n = nn
	}
}

// retireTable hands a fully migrated generation to the reclamation domain.
// The drop releases the bucket array once no guard can observe it; this is
// the single largest allocation a generation owns.
func (m *Map[K, V]) retireTable(t *table[K, V]) {
	m.rd.retire(func() {
		t.buckets = nil
	})
}
