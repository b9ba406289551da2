// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package registry tracks the participants of the reclamation engine.
//
// Every handle owns one registry entry holding its epoch announcement. The
// entries form a lock-free singly-linked list: registration prepends with a
// CAS, deregistration marks the entry dead, and physical removal happens
// opportunistically during sweeps. Removed entries are handed back to the
// caller so they can be recycled once no concurrent iterator can still hold
// a reference to them.
//
// # Key Features
//
//   - Lock-free registration with a single CAS prepend
//   - Wait-free epoch announcements on cache-line padded entries
//   - Mark-then-unlink deregistration that never blocks readers
//   - Opportunistic, non-blocking sweeps (at most one sweeper at a time)
//   - Entry reuse through a pool, fed by the caller after a safe delay
//
// # Usage Examples
//
// Registering a participant and announcing epochs:
//
//	r := registry.New()
//
//	e := r.Register()
//	e.Announce(3)       // entering a pinned region at epoch 3
//	e.Announce(registry.Unpinned) // leaving it
//
//	r.Deregister(e)
//	n := r.Sweep(func(dead *registry.Entry) {
//		// defer r.Recycle(dead) until no iterator can hold it
//	})
//
// # Dangers and Warnings
//
//   - **Iteration Lifetime**: Range and Sweep walk the live list. Callers
//     must guarantee, through the epoch protocol, that entries handed to the
//     Sweep callback are not recycled while any walk could still be standing
//     on them. Recycling after two epoch advances provides that guarantee.
//   - **Early Recycling**: Calling Recycle directly from the Sweep callback
//     re-issues an entry that concurrent walks may still traverse.
//   - **Deregistration Discipline**: An entry must announce Unpinned before
//     it is deregistered; a dead entry with a stale announcement can hold
//     back epoch advancement until it is swept.
//
// # Best Practices
//
//   - Sweep from the same amortized path that flushes garbage
//   - Treat a Sweep return of 0 as normal; another sweeper may be running
//   - Keep announcements strictly to the owning goroutine of the entry
//
// # Performance Considerations
//
//   - Announce and Announcement are single atomic operations
//   - Register is O(1) amortized; the CAS retries only under a registration race
//   - Range, Sweep, Count and Pinned are O(n) in registered entries
//   - Entries are padded to keep hot announcements off shared cache lines
//
// # Thread Safety
//
// All operations are safe for concurrent use. Announce is restricted to the
// entry's owner; everything else may be called from any goroutine.
package registry

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sys/cpu"

	"github.com/kianostad/ebr/internal/concurrency/epoch"
)

// Unpinned mirrors epoch.Unpinned for callers that only import this package.
const Unpinned = epoch.Unpinned

const (
	stateLive uint32 = iota + 1
	stateDead
)

// Entry is one participant's slot in the registry. The announcement is
// written only by the owning goroutine and read by epoch advancement scans.
type Entry struct {
	announced atomic.Uint64
	_         cpu.CacheLinePad

	next  atomic.Pointer[Entry]
	state atomic.Uint32
}

// Announce publishes the epoch the owner currently observes. Storing
// Unpinned marks the owner as outside any pinned region.
func (e *Entry) Announce(epoch uint64) {
	e.announced.Store(epoch)
}

// Announcement returns the entry's current announcement.
func (e *Entry) Announcement() uint64 {
	return e.announced.Load()
}

// Alive reports whether the entry is still registered.
func (e *Entry) Alive() bool {
	return e.state.Load() == stateLive
}

// Registry is the lock-free list of participant entries.
type Registry struct {
	head atomic.Pointer[Entry]

	// sweepMu serializes physical unlinking. Sweeps are opportunistic:
	// a contended TryLock means another sweeper is already making progress.
	sweepMu sync.Mutex

	pool sync.Pool
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		pool: sync.Pool{New: func() any { return new(Entry) }},
	}
}

// Register allocates an entry, announcing Unpinned, and links it into the
// registry. The entry may be a recycled one; it is fully reset first.
func (r *Registry) Register() *Entry {
	e := r.pool.Get().(*Entry)
	e.announced.Store(Unpinned)
	e.state.Store(stateLive)
	for {
		head := r.head.Load()
		e.next.Store(head)
		if r.head.CompareAndSwap(head, e) {
			return e
		}
	}
}

// Deregister marks the entry dead. The entry stays linked until a sweep
// unlinks it; iterators skip dead entries.
func (r *Registry) Deregister(e *Entry) {
	e.state.CompareAndSwap(stateLive, stateDead)
}

// Range calls fn with the announcement of every live entry until fn returns
// false. It satisfies the advancement scan interface of the epoch package.
//
// A walk that must observe every live entry — any walk feeding an epoch
// advancement decision — has to run pinned: an unlinked entry keeps its next
// pointer and stays traversable, but once recycled it rejoins the list at
// the head and a walker standing on it would skip everything in between.
// Pinning keeps recycling at bay for the duration of the walk. Unpinned
// walks never corrupt the list; they may just see an inconsistent slice of
// it, which is acceptable for advisory counts.
func (r *Registry) Range(fn func(announced uint64) bool) {
	for e := r.head.Load(); e != nil; e = e.next.Load() {
		if e.state.Load() != stateLive {
			continue
		}
		if !fn(e.announced.Load()) {
			return
		}
	}
}

// Sweep physically unlinks dead entries and reports how many it removed.
// Each unlinked entry is passed to onUnlink exactly once; the callback is
// responsible for recycling the entry once no concurrent walk can still
// reach it. At most one sweep runs at a time; if another is in progress,
// Sweep returns 0 immediately.
//
// Like Range, callers must be pinned for the duration of the walk.
func (r *Registry) Sweep(onUnlink func(*Entry)) int {
	if !r.sweepMu.TryLock() {
		return 0
	}
	defer r.sweepMu.Unlock()

	removed := 0
	var prev *Entry
	e := r.head.Load()
	for e != nil {
		next := e.next.Load()
		if e.state.Load() == stateLive {
			prev, e = e, next
			continue
		}
		if prev == nil {
			// Unlinking the first entry races with registration; on
			// failure the entry stays for a later sweep.
			if !r.head.CompareAndSwap(e, next) {
				prev, e = e, next
				continue
			}
		} else {
			// Mid-list links are only written by the single sweeper,
			// so this store cannot race with another unlink.
			prev.next.Store(next)
		}
		// The unlinked entry keeps its next pointer so that walks
		// standing on it can continue into the live chain.
		onUnlink(e)
		removed++
		e = next
	}
	return removed
}

// Recycle resets an unlinked entry and returns it to the pool for reuse by
// a future Register. It must only be called once the epoch protocol
// guarantees no walk can still hold the entry.
func (r *Registry) Recycle(e *Entry) {
	e.next.Store(nil)
	e.announced.Store(Unpinned)
	r.pool.Put(e)
}

// Count returns the number of live entries. The result is a racy snapshot
// and must not feed safety decisions.
func (r *Registry) Count() int {
	n := 0
	r.Range(func(uint64) bool {
		n++
		return true
	})
	return n
}

// Pinned returns the number of live entries currently announcing an epoch.
func (r *Registry) Pinned() int {
	n := 0
	r.Range(func(announced uint64) bool {
		if announced != Unpinned {
			n++
		}
		return true
	})
	return n
}
