package papaya

import (
	"fmt"
	"strings"
)

// MapStats is a diagnostic snapshot of a Map's internal layout.
//
// Warning: statistics are intended for diagnostic purposes, not for
// production decisions; breaking changes may be introduced into this
// struct even between minor releases.
type MapStats struct {
	// Buckets is the bucket count of the current table generation.
	Buckets int
	// Nodes is the number of chain nodes reachable in the current
	// generation (and its un-migrated predecessor) at snapshot time.
	Nodes int
	// MaxChain is the longest bucket chain observed.
	MaxChain int
	// Size is the live-entry count according to the striped counter.
	Size int
	// CounterLen is the number of counter stripes.
	CounterLen int
	// Growing reports whether a resize was in flight at snapshot time.
	Growing bool
	// TotalGrowths is the number of times the table grew.
	TotalGrowths uint32
}

// Stats collects a diagnostic snapshot. The walk is lock-free and may race
// with mutation; the numbers are advisory.
func (m *Map[K, V]) Stats(g *Guard) MapStats {
	m.check(g)
	t := m.table.Load()
	stats := MapStats{
		Buckets:      len(t.buckets),
		Size:         m.sumSize(),
		CounterLen:   len(m.size),
		Growing:      m.resizeState.Load() != nil,
		TotalGrowths: m.totalGrowths.Load(),
	}
	start := t
	if p := t.prev.Load(); p != nil {
		start = p
	}
	for i := range start.buckets {
		n := m.chainLen(start, i)
		stats.Nodes += n
		if n > stats.MaxChain {
			stats.MaxChain = n
		}
	}
	return stats
}

func (m *Map[K, V]) chainLen(t *table[K, V], idx int) int {
	h := t.buckets[idx].head.Load()
	if h == m.fwd {
		nt := t.next.Load()
		if len(nt.buckets) <= len(t.buckets) {
			return 0
		}
		return m.chainLen(nt, idx) + m.chainLen(nt, idx+len(t.buckets))
	}
	n := 0
	for ; h != nil; h = h.next {
		n++
	}
	return n
}

// ToString returns a string representation of map stats.
func (s *MapStats) ToString() string {
	var sb strings.Builder
	sb.WriteString("MapStats{\n")
	sb.WriteString(fmt.Sprintf("Buckets:      %d\n", s.Buckets))
	sb.WriteString(fmt.Sprintf("Nodes:        %d\n", s.Nodes))
	sb.WriteString(fmt.Sprintf("MaxChain:     %d\n", s.MaxChain))
	sb.WriteString(fmt.Sprintf("Size:         %d\n", s.Size))
	sb.WriteString(fmt.Sprintf("CounterLen:   %d\n", s.CounterLen))
	sb.WriteString(fmt.Sprintf("Growing:      %v\n", s.Growing))
	sb.WriteString(fmt.Sprintf("TotalGrowths: %d\n", s.TotalGrowths))
	sb.WriteString("}\n")
	return sb.String()
}
