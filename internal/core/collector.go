// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package engine provides epoch-based reclamation for lock-free data structures.
//
// This package implements a collector that lets concurrent readers traverse
// shared structures without locks while unlinked items are destroyed only
// after every reader that could still see them has moved on. It supports:
//   - Pinned regions that protect everything reachable while they last
//   - Deferred closures, resource releases, pool recycling, and raw frees
//   - Size-classed batching of deferred work (small, medium, large)
//   - A global epoch that advances only when all pinned participants agree
//   - Bounded, incremental collection of expired garbage
//   - Comprehensive metrics and monitoring
//
// # Key Features
//
//   - Lock-free registration and epoch announcement on the hot path
//   - Thread-local bins amortize queue traffic for small items
//   - Large items bypass the bins and are prodded toward prompt reclamation
//   - Destructor panics are contained and surfaced as errors
//   - Closed participants are swept and their slots recycled through
//     the same deferral machinery that protects user garbage
//
// # Usage Examples
//
// Basic operations:
//
//	c := engine.New()
//	defer c.Close(ctx)
//
//	h := c.Register()
//	defer h.Close()
//
//	h.Pin(func(s *engine.Scope) {
//	    node := head.Load()
//	    if head.CompareAndSwap(node, node.next) {
//	        s.Defer(func() { releaseNode(node) })
//	    }
//	})
//
// Occasional use without a dedicated handle:
//
//	c.Do(func(s *engine.Scope) {
//	    s.Retire(oldSegment)
//	})
//
// Forcing reclamation:
//
//	c.Collect()
//
// # Dangers and Warnings
//
//   - **Pin Discipline**: Every access to a shared structure's interior must
//     happen inside a pin. References must not outlive the scope they were
//     read under.
//   - **Lagging Pins**: A pin that never ends blocks the epoch forever and
//     garbage accumulates without bound. Keep pinned regions short.
//   - **Handle Ownership**: A Handle belongs to one goroutine at a time.
//     Concurrent use of a single handle is a data race.
//   - **Destructor Reentry**: Deferred destructors may run during another
//     goroutine's flush. Destructors that pin and defer more garbage are
//     allowed, but their collection attempt is skipped to bound recursion.
//   - **Close Ordering**: Close every Handle before closing the collector,
//     otherwise garbage still sitting in those handles' bins is not drained.
//
// # Best Practices
//
//   - Register one Handle per long-lived worker goroutine; use Do for
//     occasional participants
//   - Keep pinned regions short and never block inside them
//   - Provide size hints for anything bigger than a node so the class
//     routing can prioritize it
//   - Call Collect during idle periods if the workload has bursty defers
//   - Watch the backlog gauges; a growing backlog means a lagging pin
//
// # Performance Considerations
//
//   - Pinning is two atomic operations and is wait-free
//   - Deferring a small item is an append into a local bin, no allocation
//   - Flushes amortize: every full bin, every PinFlushInterval pins, and
//     after every large defer
//   - Collection executes whole batches; the budget is a soft bound
//
// # Thread Safety
//
// The Collector is safe for concurrent use from any number of goroutines.
// Handles and Scopes are single-goroutine objects. The following patterns
// should be avoided:
//
//   - Sharing a Handle or Scope between goroutines without hand-off
//   - Storing a Scope beyond the pin that produced it
//   - Holding a pin across channel operations or I/O
//
// # Memory Reclamation Model
//
// The global epoch advances only when every pinned participant has
// announced the current epoch. A deferred item tagged at epoch E executes
// once the global epoch reaches E+2: one advance strands the readers that
// could still see the item, the second proves they are gone.
//
// # Error Handling
//
// Destructors are fallible. Release errors and recovered destructor panics
// are counted and routed to the configured ErrorSink:
//
//	cfg := engine.DefaultConfig()
//	cfg.ErrorSink = func(err error) { log.Printf("reclaim: %v", err) }
//	c := engine.NewWithConfig(cfg)
//
// # Metrics and Monitoring
//
// The collector tracks pins, defers by class, flush and collect latency,
// epoch advances, and backlog depth:
//
//	stats := c.Stats()
//	fmt.Println(c.ExportPrometheus())
package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kianostad/ebr/internal/concurrency/epoch"
	"github.com/kianostad/ebr/internal/concurrency/registry"
	"github.com/kianostad/ebr/internal/monitoring/metrics"
	"github.com/kianostad/ebr/internal/storage/garbage"
)

// Collector owns the global epoch, the participant registry, and the
// size-classed garbage queues. All participants of one reclamation domain
// share a single Collector.
type Collector struct {
	cfg      Config
	epochs   *epoch.Counter
	registry *registry.Registry
	queues   [garbage.NumClasses]*garbage.Queue
	metrics  *metrics.Metrics

	handlePool sync.Pool // idle pooled handles backing Do
	trackMu    sync.Mutex
	tracked    []*Handle // every pooled handle ever created, drained at Close

	collectGate atomic.Bool // one collecting goroutine at a time
	closed      atomic.Bool
}

// New creates a collector with the default configuration.
func New() *Collector {
	return NewWithConfig(DefaultConfig())
}

// NewWithConfig creates a collector with a custom configuration.
func NewWithConfig(cfg Config) *Collector {
	cfg = cfg.sanitize()
	c := &Collector{
		cfg:      cfg,
		epochs:   epoch.NewCounter(),
		registry: registry.New(),
		metrics:  metrics.NewMetricsWithConfig(cfg.Metrics),
	}
	for i := range c.queues {
		c.queues[i] = garbage.NewQueue()
	}
	c.handlePool.New = func() any {
		h := newHandle(c)
		c.trackMu.Lock()
		c.tracked = append(c.tracked, h)
		c.trackMu.Unlock()
		return h
	}
	return c
}

// Register adds a participant and returns its handle. The handle should be
// owned by one goroutine and closed when that goroutine is done with the
// shared structure.
func (c *Collector) Register() *Handle {
	if c.closed.Load() {
		panic("ebr: collector used after Close")
	}
	h := newHandle(c)
	c.metrics.SetHandles(uint64(c.registry.Count()))
	return h
}

// Do runs body inside a pin on a pooled handle. It is the convenient entry
// point for goroutines that participate occasionally; long-lived workers
// should Register their own handle instead.
//
// Pooled handles keep their local bins between calls, so small garbage
// deferred through Do still batches.
func (c *Collector) Do(body func(*Scope)) {
	if c.closed.Load() {
		panic("ebr: collector used after Close")
	}
	h := c.handlePool.Get().(*Handle)
	defer c.handlePool.Put(h)
	h.Pin(body)
}

// Collect flushes a pooled handle, attempts an epoch advance, and executes
// a bounded amount of eligible garbage. It is safe to call from any
// goroutine at any time.
func (c *Collector) Collect() {
	c.Do(func(s *Scope) { s.Flush() })
}

// Epoch returns the current global epoch.
func (c *Collector) Epoch() uint64 {
	return c.epochs.Load()
}

// Stats returns a snapshot of the collector's metrics with the epoch,
// participant, and backlog gauges refreshed.
func (c *Collector) Stats() metrics.MetricsSnapshot {
	c.refreshGauges()
	return c.metrics.GetStats()
}

// ExportPrometheus renders the collector's metrics in Prometheus text
// exposition format.
func (c *Collector) ExportPrometheus() string {
	c.refreshGauges()
	return c.metrics.ExportPrometheus()
}

// ExportJSON renders the collector's metrics as JSON.
func (c *Collector) ExportJSON() []byte {
	c.refreshGauges()
	return c.metrics.ExportJSON()
}

func (c *Collector) refreshGauges() {
	c.metrics.SetGlobalEpoch(c.epochs.Load())
	c.metrics.SetHandles(uint64(c.registry.Count()))
	c.metrics.SetBacklog(
		uint64(c.queues[garbage.ClassSmall].Len()),
		uint64(c.queues[garbage.ClassMedium].Len()),
		uint64(c.queues[garbage.ClassLarge].Len()),
	)
}

// Close drains and executes all remaining garbage, then shuts the metrics
// down. The caller must have quiesced the domain first: no pins may be
// active and no new operations may start. Handles should be closed before
// the collector; garbage still binned in open handles is not reachable
// here. Closing twice is a no-op.
//
// The context bounds the final drain. On cancellation the remaining
// backlog is abandoned, not executed.
func (c *Collector) Close(ctx context.Context) {
	if n := c.registry.Pinned(); n > 0 {
		panic("ebr: collector closed while participants are pinned")
	}
	if !c.closed.CompareAndSwap(false, true) {
		return
	}

	// Idle pooled handles may still hold binned garbage. The domain is
	// quiesced, so their bins can be migrated without pinning.
	c.trackMu.Lock()
	tracked := c.tracked
	c.tracked = nil
	c.trackMu.Unlock()
	for _, h := range tracked {
		for class, bin := range h.bins {
			if bin.Len() == 0 {
				continue
			}
			tag := bin.MaxTag()
			c.queues[class].Push(bin.Drain(), tag)
		}
	}

	// With no participants pinned, eligibility no longer applies: every
	// queued task is safe to execute now.
	start := time.Now()
	executed := 0
drain:
	for class := range c.queues {
		for {
			if ctx.Err() != nil {
				break drain
			}
			tasks, _, ok := c.queues[class].Pop()
			if !ok {
				break
			}
			for i := range tasks {
				if err := tasks[i].Execute(c.cfg.Free); err != nil {
					c.reportFault(err)
				}
				tasks[i] = garbage.Task{}
			}
			executed += len(tasks)
		}
	}
	if executed > 0 {
		c.metrics.RecordCollect(time.Since(start), uint64(executed))
	}
	c.refreshGauges()
	c.metrics.Close()
}

// sweepRegistry unlinks dead registry entries and schedules their recycling
// through the garbage queues. The two-epoch delay guarantees no concurrent
// registry walk is still standing on an entry when it is reused.
//
// Must be called while pinned; see Registry.Sweep.
func (c *Collector) sweepRegistry() int {
	var tasks []garbage.Task
	var maxTag uint64
	c.registry.Sweep(func(e *registry.Entry) {
		// Tag with the epoch current after the unlink, not before the
		// sweep: an advance between the two would otherwise let the entry
		// recycle one epoch early.
		tag := c.epochs.Load()
		if tag > maxTag {
			maxTag = tag
		}
		tasks = append(tasks, garbage.NewFuncTask(tag, func() {
			c.registry.Recycle(e)
			c.metrics.RecordEntryRecycled(1)
		}, 0))
	})
	if len(tasks) == 0 {
		return 0
	}
	c.queues[garbage.ClassSmall].Push(tasks, maxTag)
	return len(tasks)
}

// collect pops batches from the global queues and executes the expired
// ones, oldest first. The budget is a soft bound; batches execute whole.
//
// A single goroutine collects at a time. Contenders return immediately, and
// so does a recursive attempt from a destructor that pins and flushes,
// which bounds the recursion depth at one.
func (c *Collector) collect(global uint64, budget int) {
	if budget <= 0 {
		return
	}
	if !c.collectGate.CompareAndSwap(false, true) {
		return
	}
	defer c.collectGate.Store(false)

	start := time.Now()
	executed := 0
	for class := range c.queues {
		for executed < budget {
			tasks, tag, ok := c.queues[class].Pop()
			if !ok {
				break
			}
			if !epoch.Eligible(global, tag) {
				// Not expired yet. Push it back and stop with this class
				// rather than churning through the whole backlog; whatever
				// sits behind it becomes collectible once the epoch has
				// advanced past this batch anyway.
				c.queues[class].Push(tasks, tag)
				break
			}
			for i := range tasks {
				if err := tasks[i].Execute(c.cfg.Free); err != nil {
					c.reportFault(err)
				}
				tasks[i] = garbage.Task{}
			}
			executed += len(tasks)
		}
	}
	c.metrics.RecordCollect(time.Since(start), uint64(executed))
}

func (c *Collector) reportFault(err error) {
	c.metrics.RecordTaskFault()
	if c.cfg.ErrorSink != nil {
		c.cfg.ErrorSink(err)
	}
}
