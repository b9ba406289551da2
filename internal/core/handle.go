// Licensed under the MIT License. See LICENSE file in the project root for details.

package engine

import (
	"time"

	"github.com/kianostad/ebr/internal/concurrency/epoch"
	"github.com/kianostad/ebr/internal/concurrency/registry"
	"github.com/kianostad/ebr/internal/storage/garbage"
)

// Handle is a registered participant. It owns a registry slot, two local
// bins for small and medium garbage, and the pin state for one goroutine.
//
// A Handle is not safe for concurrent use. One goroutine drives it at a
// time; hand-off between goroutines is allowed only between pins.
type Handle struct {
	c     *Collector
	entry *registry.Entry

	depth    int    // pin nesting depth, owner goroutine only
	pinSeq   uint64 // bumped on every outermost pin, invalidates old scopes
	pinEpoch uint64 // epoch announced by the current outermost pin
	scope    Scope

	bins           [2]*garbage.Bin // local small and medium bins
	pinsSinceFlush uint64

	// owner-local counters, published to metrics at flush
	pins   uint64
	defers [3]uint64

	closed bool
}

func newHandle(c *Collector) *Handle {
	h := &Handle{
		c:     c,
		entry: c.registry.Register(),
		bins: [2]*garbage.Bin{
			garbage.NewBin(c.cfg.SmallBinCapacity),
			garbage.NewBin(c.cfg.MediumBinCapacity),
		},
	}
	h.scope.h = h
	return h
}

// Pin enters a pinned region and runs body with its scope. While the pin
// lasts, the global epoch can advance at most once past the announced
// epoch, so anything the body unlinks stays reachable-safe until after the
// body returns.
//
// Pins nest: an inner Pin on an already-pinned handle reuses the existing
// announcement and scope. Unpinning happens when the outermost Pin
// returns, even if body panics.
func (h *Handle) Pin(body func(*Scope)) {
	if h.closed {
		panic("ebr: handle used after Close")
	}
	if h.depth > 0 {
		h.depth++
		defer func() { h.depth-- }()
		body(&h.scope)
		return
	}

	h.pinEpoch = h.c.epochs.Load()
	h.entry.Announce(h.pinEpoch)
	h.depth = 1
	h.pinSeq++
	h.scope.seq = h.pinSeq
	h.pins++

	defer func() {
		// Periodic maintenance happens just before unpinning, while the
		// announcement still protects this goroutine: only garbage old
		// enough to predate the pin can execute here.
		h.pinsSinceFlush++
		if h.pinsSinceFlush >= h.c.cfg.PinFlushInterval {
			h.flush()
		}
		h.depth = 0
		h.entry.Announce(epoch.Unpinned)
	}()

	body(&h.scope)
}

// IsPinned reports whether the handle is currently inside a pin. It is
// meaningful only on the owning goroutine.
func (h *Handle) IsPinned() bool {
	return h.depth > 0
}

// Close flushes the handle's local bins and withdraws it from the
// registry. Closing twice is a no-op; closing while pinned panics.
//
// The registry slot is reclaimed through the deferral machinery itself,
// two epochs later, so concurrent registry walks never observe a recycled
// slot mid-walk.
func (h *Handle) Close() {
	if h.closed {
		return
	}
	if h.depth > 0 {
		panic("ebr: handle closed while pinned")
	}
	h.Pin(func(s *Scope) { s.Flush() })
	h.closed = true
	h.c.registry.Deregister(h.entry)
	h.c.metrics.SetHandles(uint64(h.c.registry.Count()))
}

// deferTask routes a task by size class. Small and medium tasks batch in
// the local bins; a full bin triggers a flush. Large tasks go straight to
// the global queue and force a flush so their epoch can lapse promptly.
func (h *Handle) deferTask(t garbage.Task) {
	c := h.c
	class := garbage.Classify(t.SizeHint(), c.cfg.MediumBytes, c.cfg.LargeBytes)
	h.defers[class]++
	if class == garbage.ClassLarge {
		c.queues[garbage.ClassLarge].Push([]garbage.Task{t}, t.Tag())
		h.flush()
		return
	}
	if h.bins[class].Add(t) {
		h.flush()
	}
}

// flush migrates local bins to the global queues, retires swept registry
// entries, attempts one epoch advance, and runs a bounded collect. Always
// called while pinned; the collect can therefore only execute garbage
// whose epoch lapsed before this pin began.
func (h *Handle) flush() {
	start := time.Now()
	c := h.c

	flushed := 0
	for class, bin := range h.bins {
		if bin.Len() == 0 {
			continue
		}
		tag := bin.MaxTag()
		tasks := bin.Drain()
		c.queues[class].Push(tasks, tag)
		flushed += len(tasks)
	}
	h.pinsSinceFlush = 0

	flushed += c.sweepRegistry()

	global, advanced := c.epochs.TryAdvance(c.registry)

	budget := flushed
	if budget < c.cfg.MinCollectBudget {
		budget = c.cfg.MinCollectBudget
	}
	c.collect(global, budget)

	m := c.metrics
	m.RecordFlush(time.Since(start), uint64(flushed))
	m.RecordAdvance(advanced)
	m.SetGlobalEpoch(global)
	m.SetBacklog(
		uint64(c.queues[garbage.ClassSmall].Len()),
		uint64(c.queues[garbage.ClassMedium].Len()),
		uint64(c.queues[garbage.ClassLarge].Len()),
	)
	if h.pins > 0 {
		m.RecordPins(h.pins)
		h.pins = 0
	}
	if h.defers != [3]uint64{} {
		m.RecordDefers(h.defers[garbage.ClassSmall], h.defers[garbage.ClassMedium], h.defers[garbage.ClassLarge])
		h.defers = [3]uint64{}
	}
}
