package papaya

import (
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
)

func (d *domain) registryLen() int {
	n := 0
	for p := d.parts.Load(); p != nil; p = p.next {
		n++
	}
	return n
}

func TestDomainDropDeferredUntilExit(t *testing.T) {
	d := newDomain()
	p := d.enter()

	var dropped atomic.Bool
	d.retire(func() { dropped.Store(true) })

	// The pinned slot caps epoch advance below the retirement tag.
	for i := 0; i < 8; i++ {
		d.collect()
	}
	if dropped.Load() {
		t.Fatal("retirement dropped while a guard was active")
	}

	d.exit(p)
	for i := 0; i < 3 && !dropped.Load(); i++ {
		d.collect()
	}
	if !dropped.Load() {
		t.Fatal("retirement not dropped after guard exit")
	}
	if d.pending.Load() != 0 {
		t.Fatalf("pending: %d", d.pending.Load())
	}
}

func TestDomainOldestGuardGates(t *testing.T) {
	d := newDomain()
	p1 := d.enter()
	p2 := d.enter()

	var dropped atomic.Bool
	d.retire(func() { dropped.Store(true) })

	d.exit(p1)
	for i := 0; i < 8; i++ {
		d.collect()
	}
	if dropped.Load() {
		t.Fatal("retirement dropped while the second guard was active")
	}

	d.exit(p2)
	for i := 0; i < 3 && !dropped.Load(); i++ {
		d.collect()
	}
	if !dropped.Load() {
		t.Fatal("retirement not dropped after both guards exited")
	}
}

func TestDomainBatchTriggersCollect(t *testing.T) {
	d := newDomain()

	var dropped atomic.Int64
	for i := 0; i < retireBatch*2; i++ {
		d.retire(func() { dropped.Add(1) })
	}
	for i := 0; i < 5; i++ {
		d.collect()
	}
	if got := dropped.Load(); got != retireBatch*2 {
		t.Fatalf("dropped %d of %d", got, retireBatch*2)
	}
}

func TestDomainSlotReuse(t *testing.T) {
	d := newDomain()
	p := d.enter()
	d.exit(p)
	if n := d.registryLen(); n != 1 {
		t.Fatalf("registry after first exit: %d slots", n)
	}
	for i := 0; i < 100; i++ {
		p := d.enter()
		d.exit(p)
	}
	if n := d.registryLen(); n != 1 {
		t.Fatalf("registry grew to %d slots under serial reuse", n)
	}
}

func TestDomainConcurrentGuards(t *testing.T) {
	d := newDomain()
	threads := runtime.GOMAXPROCS(0)
	const rounds = 5000

	var dropped atomic.Int64
	var wg sync.WaitGroup
	for w := 0; w < threads; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				p := d.enter()
				if i%8 == 0 {
					d.retire(func() { dropped.Add(1) })
				}
				d.exit(p)
			}
		}()
	}
	wg.Wait()

	for i := 0; i < 5; i++ {
		d.collect()
	}
	want := int64(threads) * (rounds / 8)
	if got := dropped.Load(); got != want {
		t.Fatalf("dropped %d of %d", got, want)
	}
	if n := d.registryLen(); n > threads {
		t.Fatalf("registry %d slots for %d threads", n, threads)
	}
}

// An active guard must keep the node pool from recycling what a removed
// entry's reader may still be holding; once released, churn drains.
func TestMapReclamationDrains(t *testing.T) {
	m := New[int, int]()
	g := m.Guard()
	for i := 0; i < 10000; i++ {
		m.Insert(i, i, g)
		m.Remove(i, g)
	}
	g.Release()

	for i := 0; i < 5; i++ {
		m.rd.collect()
	}
	if p := m.rd.pending.Load(); p != 0 {
		t.Fatalf("pending after quiescent drain: %d", p)
	}
}
