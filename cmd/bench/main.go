// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package main provides comprehensive benchmarking tools for the epoch-based
// reclamation engine.
//
// This command-line tool performs various performance benchmarks to evaluate
// engine performance under different workloads and conditions. It's useful
// for performance testing, capacity planning, and comparing different configurations.
//
// # Benchmark Categories
//
// The benchmark suite includes:
//   - Single-threaded pin/unpin (baseline performance)
//   - Nested pin overhead (re-entrancy cost)
//   - Concurrent pins (read-side scalability)
//   - Retire throughput (defer and flush pressure)
//   - Mixed workloads (real-world simulation)
//   - Pooled handle performance (Do convenience path)
//   - Large retire performance (eager flush path)
//   - Memory usage analysis (resource consumption)
//
// # Usage
//
// Run all benchmarks:
//
//	go run cmd/bench/main.go
//
// Build and run:
//
//	go build -o bench cmd/bench/main.go
//	./bench
//
// # Benchmark Details
//
// ## Single-threaded Pin/Unpin
// Measures baseline cost of entering and leaving a pinned region with no
// deferred work. Provides a reference point for other benchmarks.
//
// ## Nested Pins
// Measures the cost of re-entrant pins. Inner pins only touch a local depth
// counter, so they should be markedly cheaper than outermost pins.
//
// ## Concurrent Pins
// Tests read-side scalability by varying the number of concurrently pinning
// goroutines. Helps identify cache-line contention on the epoch counter.
//
// ## Retire Throughput
// Tests defer performance under contention by varying the number of retiring
// goroutines. Measures bin migration and collection overhead.
//
// ## Mixed Workload
// Simulates realistic workloads where most pins only read and a fraction
// retire garbage. Tests the engine under conditions similar to production use.
//
// ## Pooled Handles
// Compares the explicit Register/Pin path against the pooled Do path.
// Important for applications that cannot keep per-goroutine handles.
//
// ## Large Retires
// Measures the eager flush path taken by large-class defers.
// Important for workloads that retire big buffers.
//
// ## Memory Usage
// Analyzes memory consumption patterns and reclamation efficiency.
// Helps with capacity planning and resource allocation.
//
// # Dangers and Warnings
//
//   - **Resource Consumption**: Benchmarks can consume significant CPU and memory resources.
//   - **System Impact**: High-intensity benchmarks may impact other system processes.
//   - **Long Running**: Some benchmarks may take several minutes to complete.
//   - **CPU Affinity**: Results may vary based on CPU architecture and core count.
//   - **Garbage Collection**: Go's GC may impact benchmark results unpredictably.
//
// # Best Practices
//
//   - Run benchmarks on dedicated systems to avoid interference
//   - Use consistent hardware and software configurations for comparisons
//   - Run multiple iterations to account for variance
//   - Monitor system resources during benchmark execution
//   - Consider the impact of garbage collection on results
//   - Document benchmark conditions for reproducibility
//
// # Performance Considerations
//
//   - Benchmark results are system-dependent and may vary significantly
//   - CPU architecture, memory speed, and core count affect performance
//   - Go runtime version and GC settings impact results
//   - Operating system scheduling can affect concurrent benchmark results
//
// # Interpreting Results
//
// Key metrics to consider:
//   - **Throughput**: Operations per second (higher is better)
//   - **Scalability**: Performance improvement with more cores
//   - **Contention**: Performance degradation under high concurrency
//   - **Reclamation Lag**: Executed tasks should track retired tasks closely
//
// # Thread Safety
//
// Benchmarks are designed to test thread safety and concurrent access patterns.
// Results help identify potential contention and scalability issues.
//
// # Customization
//
// The benchmark parameters can be modified to test different scenarios:
//   - Operation counts (numPins, opsPerGoroutine)
//   - Concurrency levels (numGoroutines)
//   - Retire sizes and ratios
//
// # See Also
//
// For long-running stress testing, see the soak tool.
// For detailed API documentation, see the core package.
package main

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	engine "github.com/kianostad/ebr/internal/core"
)

func main() {
	fmt.Println("Epoch-Based Reclamation Benchmarks")
	fmt.Println("==================================")

	// Benchmark 1: Single-threaded pin/unpin
	benchmarkPinUnpin()

	// Benchmark 2: Nested pins
	benchmarkNestedPins()

	// Benchmark 3: Concurrent pins
	benchmarkConcurrentPins()

	// Benchmark 4: Retire throughput
	benchmarkRetireThroughput()

	// Benchmark 5: Mixed workload
	benchmarkMixedWorkload()

	// Benchmark 6: Pooled handles
	benchmarkPooledHandles()

	// Benchmark 7: Large retires
	benchmarkLargeRetires()

	// Benchmark 8: Memory usage
	benchmarkMemoryUsage()
}

type benchNode struct {
	value int
	next  *benchNode
}

func benchmarkPinUnpin() {
	fmt.Println("\n1. Single-threaded pin/unpin")
	ctx := context.Background()
	c := engine.New()
	defer c.Close(ctx)

	h := c.Register()
	defer h.Close()

	const numPins = 1000000
	start := time.Now()
	for i := 0; i < numPins; i++ {
		h.Pin(func(s *engine.Scope) {})
	}
	duration := time.Since(start)
	fmt.Printf("   Pin/unpin: %d ops in %v (%.0f ops/sec)\n",
		numPins, duration, float64(numPins)/duration.Seconds())
}

func benchmarkNestedPins() {
	fmt.Println("\n2. Nested pins (depth 4)")
	ctx := context.Background()
	c := engine.New()
	defer c.Close(ctx)

	h := c.Register()
	defer h.Close()

	const numPins = 250000
	start := time.Now()
	for i := 0; i < numPins; i++ {
		h.Pin(func(s *engine.Scope) {
			h.Pin(func(s *engine.Scope) {
				h.Pin(func(s *engine.Scope) {
					h.Pin(func(s *engine.Scope) {})
				})
			})
		})
	}
	duration := time.Since(start)
	totalPins := numPins * 4
	fmt.Printf("   Nested pin: %d pins in %v (%.0f pins/sec)\n",
		totalPins, duration, float64(totalPins)/duration.Seconds())
}

func benchmarkConcurrentPins() {
	fmt.Println("\n3. Concurrent pins")
	ctx := context.Background()
	c := engine.New()
	defer c.Close(ctx)

	// Test different numbers of goroutines
	for _, numGoroutines := range []int{1, 2, 4, 8, 16, 32} {
		var wg sync.WaitGroup
		const opsPerGoroutine = 100000
		start := time.Now()

		for i := 0; i < numGoroutines; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				h := c.Register()
				defer h.Close()
				for j := 0; j < opsPerGoroutine; j++ {
					h.Pin(func(s *engine.Scope) {})
				}
			}()
		}

		wg.Wait()
		duration := time.Since(start)
		totalOps := numGoroutines * opsPerGoroutine
		fmt.Printf("   %d goroutines: %d ops in %v (%.0f ops/sec)\n",
			numGoroutines, totalOps, duration, float64(totalOps)/duration.Seconds())
	}
}

func benchmarkRetireThroughput() {
	fmt.Println("\n4. Retire throughput")

	// Test different numbers of goroutines
	for _, numGoroutines := range []int{1, 2, 4, 8, 16, 32} {
		ctx := context.Background()
		c := engine.New()

		var reclaimed atomic.Uint64
		var wg sync.WaitGroup
		const opsPerGoroutine = 50000
		start := time.Now()

		for i := 0; i < numGoroutines; i++ {
			wg.Add(1)
			go func(goroutineID int) {
				defer wg.Done()
				h := c.Register()
				defer h.Close()
				for j := 0; j < opsPerGoroutine; j++ {
					h.Pin(func(s *engine.Scope) {
						n := &benchNode{value: j}
						s.Defer(func() {
							n.next = nil
							reclaimed.Add(1)
						})
					})
				}
			}(i)
		}

		wg.Wait()
		duration := time.Since(start)
		totalOps := numGoroutines * opsPerGoroutine
		fmt.Printf("   %d goroutines: %d retires in %v (%.0f retires/sec, %d reclaimed before close)\n",
			numGoroutines, totalOps, duration, float64(totalOps)/duration.Seconds(), reclaimed.Load())

		c.Close(ctx)
	}
}

func benchmarkMixedWorkload() {
	fmt.Println("\n5. Mixed workload (80% read pins, 20% retiring pins)")
	ctx := context.Background()

	// Test different numbers of goroutines
	for _, numGoroutines := range []int{1, 2, 4, 8, 16, 32} {
		c := engine.New()

		var wg sync.WaitGroup
		const opsPerGoroutine = 50000
		start := time.Now()

		for i := 0; i < numGoroutines; i++ {
			wg.Add(1)
			go func(goroutineID int) {
				defer wg.Done()
				h := c.Register()
				defer h.Close()
				for j := 0; j < opsPerGoroutine; j++ {
					if j%5 < 4 { // 80% read-only pins
						h.Pin(func(s *engine.Scope) {
							_ = s.Epoch()
						})
					} else { // 20% retiring pins
						h.Pin(func(s *engine.Scope) {
							n := &benchNode{value: j}
							s.Defer(func() { n.next = nil })
						})
					}
				}
			}(i)
		}

		wg.Wait()
		duration := time.Since(start)
		totalOps := numGoroutines * opsPerGoroutine
		fmt.Printf("   %d goroutines: %d ops in %v (%.0f ops/sec)\n",
			numGoroutines, totalOps, duration, float64(totalOps)/duration.Seconds())

		c.Close(ctx)
	}
}

func benchmarkPooledHandles() {
	fmt.Println("\n6. Pooled handles (Do) vs registered handle")
	ctx := context.Background()
	c := engine.New()
	defer c.Close(ctx)

	const numOps = 500000

	// Registered handle path
	h := c.Register()
	start := time.Now()
	for i := 0; i < numOps; i++ {
		h.Pin(func(s *engine.Scope) {})
	}
	duration := time.Since(start)
	h.Close()
	fmt.Printf("   Registered handle: %d ops in %v (%.0f ops/sec)\n",
		numOps, duration, float64(numOps)/duration.Seconds())

	// Pooled handle path
	start = time.Now()
	for i := 0; i < numOps; i++ {
		c.Do(func(s *engine.Scope) {})
	}
	duration = time.Since(start)
	fmt.Printf("   Pooled handle (Do): %d ops in %v (%.0f ops/sec)\n",
		numOps, duration, float64(numOps)/duration.Seconds())
}

func benchmarkLargeRetires() {
	fmt.Println("\n7. Large retires (eager flush path)")
	ctx := context.Background()
	c := engine.New()
	defer c.Close(ctx)

	h := c.Register()
	defer h.Close()

	const numOps = 10000
	const largeSize = 64 << 10
	start := time.Now()
	for i := 0; i < numOps; i++ {
		h.Pin(func(s *engine.Scope) {
			buf := make([]byte, 16)
			s.DeferSized(func() { buf[0] = 0 }, largeSize)
		})
	}
	duration := time.Since(start)
	fmt.Printf("   Large retire: %d ops in %v (%.0f ops/sec)\n",
		numOps, duration, float64(numOps)/duration.Seconds())
}

func benchmarkMemoryUsage() {
	fmt.Println("\n8. Memory usage")
	ctx := context.Background()
	c := engine.New()

	var before, after runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&before)

	const numRetires = 100000
	h := c.Register()
	for i := 0; i < numRetires; i++ {
		h.Pin(func(s *engine.Scope) {
			n := &benchNode{value: i}
			s.Defer(func() { n.next = nil })
		})
	}
	h.Close()

	// Quiesce: repeated collect passes advance the epoch and drain the backlog.
	for i := 0; i < 8; i++ {
		c.Collect()
	}

	runtime.GC()
	runtime.ReadMemStats(&after)

	stats := c.Stats()
	fmt.Printf("   Heap before: %d KB, after: %d KB\n", before.HeapAlloc/1024, after.HeapAlloc/1024)
	fmt.Printf("   Retired tasks: %d\n", numRetires)
	fmt.Printf("   Executed tasks: %v\n", stats.Operations.ExecutedTasks)
	fmt.Printf("   Flushes: %v\n", stats.Operations.Flushes)
	fmt.Printf("   Global epoch: %v\n", stats.Engine.GlobalEpoch)

	c.Close(ctx)
}
