// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package ebr provides epoch-based reclamation for lock-free data structures.
//
// This is the main public API for the EBR library. It lets goroutines read
// shared lock-free structures without locks while memory unlinked by writers
// is destroyed only after every reader that could still see it has moved on.
//
// # Quick Start
//
//	import "github.com/kianostad/ebr"
//
//	// Dedicated handle (recommended for long-lived workers)
//	c := ebr.New()
//	defer c.Close(ctx)
//
//	h := c.Register()
//	defer h.Close()
//
//	h.Pin(func(s *ebr.Scope) {
//	    n := head.Load()
//	    if head.CompareAndSwap(n, n.next) {
//	        s.Defer(func() { release(n) })
//	    }
//	})
//
//	// Or use the pooled API for occasional participants
//	c.Do(func(s *ebr.Scope) {
//	    s.Retire(oldSegment)
//	})
//
// # Key Features
//
//   - Wait-free pinning: two atomic operations on the hot path
//   - Thread-local bins batch small garbage without allocation
//   - Size-classed routing: small, medium, and large garbage age separately
//   - Four deferral forms: closures, resources, pool recycling, raw frees
//   - Bounded incremental collection with panic containment
//   - Comprehensive metrics and monitoring
//
// # Usage Examples
//
// Dedicated handles (recommended for workers):
//
//	h := c.Register()
//	defer h.Close()
//
//	h.Pin(func(s *ebr.Scope) {
//	    // traverse, unlink, defer
//	})
//
// Returning a value from a pinned region:
//
//	v := ebr.Pin(h, func(s *ebr.Scope) string {
//	    return current.Load().name
//	})
//
// Retiring resources:
//
//	h.Pin(func(s *ebr.Scope) {
//	    s.Retire(oldFile)             // anything with Release() error
//	    s.RetireSized(oldArena, 1<<20) // size hint routes it to a class
//	})
//
// Recycling through a pool:
//
//	nodes := ebr.NewPool(func() *Node { return new(Node) })
//	n := nodes.Get()
//	// ... unlink old node under a pin ...
//	h.Pin(func(s *ebr.Scope) { s.Recycle(nodes, old) })
//
// Forcing reclamation:
//
//	c.Collect()
//
// The process-wide default collector:
//
//	ebr.Do(func(s *ebr.Scope) {
//	    s.Defer(func() { release(n) })
//	})
//
// # API Design Philosophy
//
// The library provides two entry points:
//
// 1. **Register + Pin** (recommended for workers): a dedicated Handle per
// long-lived goroutine
//   - No pool traffic on the hot path
//   - Local bins stay warm, batching stays deep
//   - The handle must be closed when the worker exits
//
// 2. **Do**: pooled handles for occasional participants
//   - Nothing to close or track
//   - A pool round-trip of overhead per call
//   - Bins still batch across calls
//
// # Performance Characteristics
//
//   - **Pinning**: one atomic load plus one atomic store, no allocation
//   - **Deferring**: an append into a local bin for small and medium items
//   - **Flushing**: amortized over bin capacity and the pin interval
//   - **Collection**: bounded per pass; whole batches, oldest first
//
// # Best Practices
//
//   - Keep pinned regions short; never block inside one
//   - Close every Handle before closing the Collector
//   - Give size hints for anything bigger than a node
//   - Watch the backlog gauges for signs of a lagging pin
//
// # See Also
//
// For reclamation internals, see the engine package.
package ebr

import (
	"sync"

	engine "github.com/kianostad/ebr/internal/core"
	"github.com/kianostad/ebr/internal/monitoring/metrics"
	"github.com/kianostad/ebr/internal/storage/garbage"
)

// Re-export engine types as the public surface
type (
	// Collector owns a reclamation domain: the global epoch, the
	// participant registry, and the garbage queues
	Collector = engine.Collector

	// Handle is one participant's registration in a domain
	Handle = engine.Handle

	// Scope is the deferral capability passed to a pinned body
	Scope = engine.Scope

	// Config provides configuration options for a collector
	Config = engine.Config
)

// Deferral contract types
type (
	// Resource is anything with a fallible Release, usable with Retire
	Resource = garbage.Resource

	// Recycler accepts items back from the recycle deferral form
	Recycler = garbage.Recycler

	// FreeFunc releases a raw allocation, used by the Free deferral form
	FreeFunc = garbage.FreeFunc
)

// Monitoring types
type (
	// Stats is a point-in-time snapshot of a collector's metrics
	Stats = metrics.MetricsSnapshot

	// MetricsConfig configures the embedded metrics instance
	MetricsConfig = metrics.MetricsConfig
)

// New creates a collector with the default configuration.
func New() *Collector {
	return engine.New()
}

// NewWithConfig creates a collector with a custom configuration.
func NewWithConfig(cfg Config) *Collector {
	return engine.NewWithConfig(cfg)
}

// DefaultConfig returns the default collector configuration.
func DefaultConfig() Config {
	return engine.DefaultConfig()
}

// Pin runs body pinned on h and returns its result. It is the generic
// companion to Handle.Pin for reads that produce a value.
func Pin[T any](h *Handle, body func(*Scope) T) T {
	var out T
	h.Pin(func(s *Scope) {
		out = body(s)
	})
	return out
}

var (
	defaultOnce      sync.Once
	defaultCollector *Collector
)

// Default returns the process-wide collector, creating it on first use. It
// lives for the life of the process and is never closed.
func Default() *Collector {
	defaultOnce.Do(func() {
		defaultCollector = New()
	})
	return defaultCollector
}

// Do runs body inside a pin on the default collector.
func Do(body func(*Scope)) {
	Default().Do(body)
}

// Collect runs a collection pass on the default collector.
func Collect() {
	Default().Collect()
}
