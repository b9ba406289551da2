// Licensed under the MIT License. See LICENSE file in the project root for details.

package engine

import (
	"github.com/kianostad/ebr/internal/monitoring/metrics"
	"github.com/kianostad/ebr/internal/storage/garbage"
)

// Config provides configuration options for a collector.
//
// The defaults favor throughput: small items batch deeply, medium items
// batch shallowly, and large items are handed to the global queues the
// moment they are deferred.
type Config struct {
	// SmallBinCapacity is the local bin capacity for small items. Reaching
	// it triggers an automatic flush.
	SmallBinCapacity int

	// MediumBinCapacity is the local bin capacity for medium items.
	MediumBinCapacity int

	// PinFlushInterval is the number of outermost pins between automatic
	// flushes on a handle.
	PinFlushInterval uint64

	// MediumBytes is the boundary between the small and medium classes.
	MediumBytes uintptr

	// LargeBytes is the boundary between the medium and large classes.
	LargeBytes uintptr

	// MinCollectBudget is the minimum number of tasks a collect pass is
	// willing to execute, even when the triggering flush migrated fewer.
	MinCollectBudget int

	// ErrorSink receives deferred-task faults: destructor errors and
	// recovered destructor panics. A nil sink drops them; they are still
	// counted in the metrics either way.
	ErrorSink func(error)

	// Free releases raw allocations deferred through a scope's Free. It is
	// required only when raw frees are used; a raw free without it is
	// reported to the ErrorSink as a task fault.
	Free garbage.FreeFunc

	// Metrics configures the embedded metrics instance.
	Metrics metrics.MetricsConfig
}

// DefaultConfig returns the default collector configuration.
func DefaultConfig() Config {
	return Config{
		SmallBinCapacity:  64,
		MediumBinCapacity: 16,
		PinFlushInterval:  128,
		MediumBytes:       garbage.DefaultMediumBytes,
		LargeBytes:        garbage.DefaultLargeBytes,
		MinCollectBudget:  64,
		Metrics:           metrics.DefaultMetricsConfig(),
	}
}

// sanitize validates the configuration and clamps soft knobs to workable
// minimums. Nonsensical class boundaries are a programming error.
func (c Config) sanitize() Config {
	if c.MediumBytes == 0 || c.MediumBytes >= c.LargeBytes {
		panic("ebr: invalid size class boundaries")
	}
	if c.SmallBinCapacity < 1 {
		c.SmallBinCapacity = 1
	}
	if c.MediumBinCapacity < 1 {
		c.MediumBinCapacity = 1
	}
	if c.PinFlushInterval < 1 {
		c.PinFlushInterval = 1
	}
	if c.MinCollectBudget < 0 {
		c.MinCollectBudget = 0
	}
	if c.Metrics.BufferSize == 0 {
		c.Metrics = metrics.DefaultMetricsConfig()
	}
	return c
}
