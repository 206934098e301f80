package papaya

import "sync/atomic"

// maxCounterStripes caps the size counter sharding. More stripes than CPUs
// buys nothing, and the array is walked on every sumSize.
const maxCounterStripes = 128

// counterStripe is one shard of the live-entry counter, padded to a cache
// line so concurrent increments on different stripes do not contend.
type counterStripe struct {
	c atomic.Int64

	//lint:ignore U1000 prevents false sharing
	pad [CacheLineSize - 8]byte
}

// addSize adds delta to the stripe selected by the entry's hash.
func (m *Map[K, V]) addSize(hash uint64, delta int) {
	m.size[hash&m.sizeMask].c.Add(int64(delta))
}

// sumSize returns the total across all stripes. Exact whenever no mutation
// races with the read; best-effort otherwise.
func (m *Map[K, V]) sumSize() int {
	var sum int64
	for i := range m.size {
		sum += m.size[i].c.Load()
	}
	return int(sum)
}
