package papaya

import (
	"sync"
	"sync/atomic"
)

const (
	// pinnedBit marks a participant slot as claimed by an active guard.
	// The remaining bits of the state word hold the pinned epoch.
	pinnedBit uint64 = 1

	// retireBatch is the number of pending retirements that triggers an
	// eager collection attempt instead of waiting for a guard exit.
	retireBatch = 128
)

// domain implements epoch-based reclamation. A global epoch advances only
// when every active guard is pinned at the current epoch; memory retired at
// epoch e is handed to its drop function once the epoch reaches e+2, at
// which point no guard that could have observed it remains active.
//
// The domain itself never fails; at worst it delays reclamation for as long
// as the oldest guard stays active.
type domain struct {
	epoch atomic.Uint64

	// parts is the participant registry: a grow-only list of slots.
	// Released slots are reclaimed by the next enter, never unlinked.
	parts atomic.Pointer[participant]

	// pending mirrors len(retired) so the exit path can skip the lock
	// when there is nothing to collect.
	pending atomic.Int64

	mu      sync.Mutex
	retired []retirement
}

// participant is one guard slot. state is 0 when free, otherwise
// epoch<<1|pinnedBit. Padded to a cache line so pinning one guard does not
// invalidate its neighbors.
type participant struct {
	state atomic.Uint64
	next  *participant

	//lint:ignore U1000 prevents false sharing
	pad [CacheLineSize - 16]byte
}

type retirement struct {
	epoch uint64
	drop  func()
}

func newDomain() *domain {
	d := &domain{}
	// Start at 1 so a retirement tag can never be mistaken for "epoch 0 - 1".
	d.epoch.Store(1)
	return d
}

// enter claims a participant slot and pins it at the current epoch.
// Registration is non-blocking: it never waits on other guards, only on
// the slot CAS itself.
func (d *domain) enter() *participant {
	p := d.acquire()
	e := d.epoch.Load()
	for {
		p.state.Store(e<<1 | pinnedBit)
		// Re-validate after publication: the epoch may have advanced
		// between the load and the store, and a pin at a stale epoch
		// must not be trusted to protect memory retired since then.
		cur := d.epoch.Load()
		if cur == e {
			return p
		}
		e = cur
	}
}

// exit unpins the slot and opportunistically collects.
func (d *domain) exit(p *participant) {
	p.state.Store(0)
	if d.pending.Load() > 0 {
		d.collect()
	}
}

func (d *domain) acquire() *participant {
	for p := d.parts.Load(); p != nil; p = p.next {
		if p.state.Load() == 0 && p.state.CompareAndSwap(0, pinnedBit) {
			return p
		}
	}
	// No free slot; grow the registry. The new slot is born claimed so a
	// concurrent enter cannot steal it before we pin.
	p := &participant{}
	p.state.Store(pinnedBit)
	for {
		head := d.parts.Load()
		p.next = head
		if d.parts.CompareAndSwap(head, p) {
			return p
		}
	}
}

// retire schedules drop to run once no active guard can still observe the
// retired memory. The caller must itself hold a guard: the retired pointer
// must already be unreachable from the live structure, and the guard caps
// how far the epoch can advance before the tag is recorded.
func (d *domain) retire(drop func()) {
	d.mu.Lock()
	d.retired = append(d.retired, retirement{epoch: d.epoch.Load(), drop: drop})
	n := len(d.retired)
	d.mu.Unlock()
	d.pending.Add(1)
	if n >= retireBatch {
		d.collect()
	}
}

// collect tries to advance the epoch and drain retirements that no guard
// can observe anymore. Failing to advance is not an error; a later exit
// will try again.
func (d *domain) collect() {
	e := d.epoch.Load()
	for p := d.parts.Load(); p != nil; p = p.next {
		s := p.state.Load()
		if s&pinnedBit != 0 && s>>1 != e {
			// A guard is still pinned at an older epoch.
			return
		}
	}
	if !d.epoch.CompareAndSwap(e, e+1) {
		return
	}
	// Advancing from e proved no guard is pinned at e-1 or earlier, so
	// everything tagged e-1 or older is unobservable.
	d.drainUpTo(e - 1)
}

func (d *domain) drainUpTo(maxEpoch uint64) {
	d.mu.Lock()
	var ready []func()
	keep := d.retired[:0]
	for _, r := range d.retired {
		if r.epoch <= maxEpoch {
			ready = append(ready, r.drop)
		} else {
			keep = append(keep, r)
		}
	}
	d.retired = keep
	d.mu.Unlock()
	if len(ready) == 0 {
		return
	}
	d.pending.Add(-int64(len(ready)))
	for _, drop := range ready {
		drop()
	}
}

// Guard pins its holder into the reclamation domain of the Map that issued
// it. While a Guard is held, no entry observed through it is recycled.
//
// A Guard is reusable across any number of operations on its Map but must
// not be shared between goroutines running concurrently, and must be
// released on every exit path. Using a released Guard panics.
type Guard struct {
	d *domain
	p *participant
}

// Release ends the guard's protection. Release is idempotent.
func (g *Guard) Release() {
	if g.p != nil {
		g.d.exit(g.p)
		g.p = nil
	}
}
