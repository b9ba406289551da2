// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package epoch provides the global epoch counter for the reclamation engine.
//
// This package implements the epoch authority: a monotonically increasing
// counter that orders memory reclamation against concurrent readers. Pinned
// participants announce the epoch they observed, and the counter may only
// advance when every pinned participant observes the current value. Garbage
// tagged with an old epoch becomes safe to destroy once the counter has
// advanced at least twice past the tag.
//
// # Key Features
//
//   - Single atomic counter with cache-line padding to avoid false sharing
//   - Non-blocking, single-attempt advancement (at most one CAS per call)
//   - Advancement gated on the announcements of pinned participants
//   - Two-epoch eligibility rule for deferred garbage
//   - Sentinel announcement value for unpinned participants
//
// # Usage Examples
//
// Creating and advancing a counter:
//
//	// Create a new counter starting at epoch 0
//	counter := epoch.NewCounter()
//
//	// Read the current global epoch
//	current := counter.Load()
//
//	// Attempt a single advance; pins is the set of announcements
//	next, advanced := counter.TryAdvance(pins)
//
//	// Check whether garbage tagged at `tag` may be destroyed
//	ok := epoch.Eligible(counter.Load(), tag)
//
// # Dangers and Warnings
//
//   - **Stalled Participants**: A participant that stays pinned on an old
//     epoch blocks advancement indefinitely, and with it all reclamation.
//   - **Announcement Discipline**: Participants must announce with Unpinned
//     when not inside a pinned region; a stale announcement blocks advancement.
//   - **Eligibility Shortcut**: Destroying garbage before Eligible reports
//     true leads to use-after-free in concurrent readers.
//
// # Best Practices
//
//   - Keep pinned regions short so advancement attempts succeed often
//   - Call TryAdvance opportunistically; failures are normal under load
//   - Treat the returned epoch as a hint, not a synchronized snapshot
//
// # Performance Considerations
//
//   - Load is a single atomic read
//   - TryAdvance is O(n) in the number of registered participants
//   - Advancement failure costs one scan and no retries
//   - The counter occupies its own cache line to isolate CAS traffic
//
// # Thread Safety
//
// All operations are safe for concurrent use from multiple goroutines. The
// counter relies on sequentially consistent atomics, which provide the
// ordering the announce/advance protocol requires.
//
// # Advancement Rule
//
// TryAdvance succeeds exactly when every announcement in the PinSet is
// either Unpinned or equal to the current epoch. A reader that observed the
// previous epoch just before an advance may therefore still be running one
// epoch behind; the two-epoch eligibility rule absorbs that race.
//
// # See Also
//
// For participant registration and announcements, see the registry package.
package epoch

import (
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

// Unpinned is the announcement value of a participant that is not inside a
// pinned region. It never collides with a real epoch.
const Unpinned = ^uint64(0)

// PinSet enumerates the epoch announcements of registered participants.
type PinSet interface {
	// Range calls fn with each participant's current announcement until fn
	// returns false or the set is exhausted.
	Range(fn func(announced uint64) bool)
}

// Counter is the global epoch counter. The zero value is not usable; use
// NewCounter.
type Counter struct {
	_     cpu.CacheLinePad
	value atomic.Uint64
	_     cpu.CacheLinePad
}

// NewCounter creates a new counter starting at epoch 0.
func NewCounter() *Counter {
	return &Counter{}
}

// Load returns the current global epoch.
func (c *Counter) Load() uint64 {
	return c.value.Load()
}

// TryAdvance attempts to advance the global epoch by one. It performs at most
// one CAS and never blocks or retries. It returns the latest epoch it knows
// of and whether this call performed the advance.
//
// The attempt fails if any announcement in pins observes an epoch other than
// the current one, or if a concurrent advance wins the CAS.
func (c *Counter) TryAdvance(pins PinSet) (uint64, bool) {
	current := c.value.Load()

	blocked := false
	pins.Range(func(announced uint64) bool {
		if announced != Unpinned && announced != current {
			blocked = true
			return false
		}
		return true
	})
	if blocked {
		return current, false
	}

	if !c.value.CompareAndSwap(current, current+1) {
		return c.value.Load(), false
	}
	return current + 1, true
}

// Eligible reports whether garbage tagged at epoch tag may be destroyed under
// global epoch global. Garbage becomes eligible once the counter has advanced
// at least twice past the tag: no pinned participant can still observe an
// epoch at or before the tag.
func Eligible(global, tag uint64) bool {
	return global >= tag+2
}
