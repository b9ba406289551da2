// Licensed under the MIT License. See LICENSE file in the project root for details.

package engine

import (
	"unsafe"

	"github.com/kianostad/ebr/internal/storage/garbage"
)

// Scope is the capability handed to the body of a pin. All deferral
// operations hang off it, so garbage can only be produced from inside a
// pinned region.
//
// A Scope is owned by the goroutine that entered the pin and is valid only
// until the outermost pin ends. Storing a Scope and using it later panics.
type Scope struct {
	h   *Handle
	seq uint64 // matches the handle's pin sequence while the scope is valid
}

// check panics unless the scope still belongs to a live pinned region.
func (s *Scope) check() *Handle {
	h := s.h
	if h == nil || h.depth == 0 || s.seq != h.pinSeq {
		panic("ebr: scope used outside its pinned region")
	}
	return h
}

// Epoch returns the global epoch the current pin announced. The global
// epoch may advance at most once past it while the pin lasts.
func (s *Scope) Epoch() uint64 {
	return s.check().pinEpoch
}

// Defer schedules fn to run once every participant pinned at the current
// epoch has unpinned. The item is treated as small.
func (s *Scope) Defer(fn func()) {
	s.DeferSized(fn, 0)
}

// DeferSized schedules fn with an explicit size hint, in bytes, for class
// routing. Large items skip the local bins and trigger an immediate flush.
func (s *Scope) DeferSized(fn func(), size uintptr) {
	h := s.check()
	if fn == nil {
		panic("ebr: nil function deferred")
	}
	h.deferTask(garbage.NewFuncTask(h.c.epochs.Load(), fn, size))
}

// Retire schedules the resource's Release to run once no participant can
// still reach it. The item is treated as small.
func (s *Scope) Retire(res garbage.Resource) {
	s.RetireSized(res, 0)
}

// RetireSized schedules the resource's Release with an explicit size hint.
func (s *Scope) RetireSized(res garbage.Resource, size uintptr) {
	h := s.check()
	if res == nil {
		panic("ebr: nil resource retired")
	}
	h.deferTask(garbage.NewResourceTask(h.c.epochs.Load(), res, size))
}

// Recycle schedules item to be returned to pool once no participant can
// still reach it. Recycled items are treated as small.
func (s *Scope) Recycle(pool garbage.Recycler, item any) {
	h := s.check()
	if pool == nil {
		panic("ebr: nil pool in recycle")
	}
	h.deferTask(garbage.NewRecycleTask(h.c.epochs.Load(), pool, item, 0))
}

// Free schedules the raw allocation at ptr to be released through the
// collector's Free hook. The size is required; it both routes the task to
// a class and is passed through to the hook.
func (s *Scope) Free(ptr unsafe.Pointer, size uintptr) {
	h := s.check()
	if ptr == nil {
		panic("ebr: nil pointer freed")
	}
	h.deferTask(garbage.NewFreeTask(h.c.epochs.Load(), ptr, size))
}

// Flush migrates the handle's local bins to the global queues, attempts an
// epoch advance, and collects a bounded amount of eligible garbage. Items
// deferred during the current pin stay protected; only older garbage can
// execute here.
func (s *Scope) Flush() {
	s.check().flush()
}
