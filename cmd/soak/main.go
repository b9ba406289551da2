// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package main provides a long-running soak tester for the epoch-based
// reclamation engine.
//
// This command-line tool hammers a collector with a randomized multi-goroutine
// workload for a configurable duration while watching the two properties that
// matter operationally: every retired item is reclaimed exactly once, and the
// unreclaimed backlog stays bounded. It's useful for burn-in testing, race
// hunting under `-race`, and validating configuration changes.
//
// # Features
//
//   - Randomized workload mix (retires per size class, read-only pins, nested
//     pins, explicit flushes, handle churn)
//   - Periodic status lines with epoch, backlog and fault counters
//   - Per-task execution counting to detect double reclamation
//   - Graceful shutdown on SIGINT/SIGTERM
//   - Optional metrics snapshot written on exit
//
// # Usage
//
// Run with defaults (30s, one worker per CPU):
//
//	go run cmd/soak/main.go
//
// Available flags:
//
//	-duration <d>        how long to run; 0 runs until a signal arrives (default 30s)
//	-workers <n>         number of worker goroutines (default GOMAXPROCS)
//	-report <d>          interval between status lines (default 5s)
//	-backlog-limit <n>   maximum tolerated unreclaimed backlog (default 1048576)
//	-snapshot <path>     write a final metrics snapshot as JSON to this path
//	-seed <n>            workload seed for reproducible runs (default time-based)
//
// Example session:
//
//	$ go run cmd/soak/main.go -duration 1m -workers 8
//	Reclamation soak: 8 workers, 1m0s, seed 1724403251849306113
//	[5s] epoch=41823 retired=2104384 executed=2104192 pending=192 backlog=128/48/0 faults=0
//	[10s] epoch=83991 retired=4209717 executed=4209653 pending=64 backlog=64/0/0 faults=0
//	...
//	PASS: 25258301 tasks retired, all executed exactly once, backlog stayed bounded
//
// # Dangers and Warnings
//
//   - **Resource Consumption**: The soak saturates all configured workers; do not
//     run it next to latency-sensitive processes.
//   - **Memory Usage**: The backlog limit bounds unreclaimed garbage, but the
//     workload itself allocates constantly.
//   - **Long Running**: With -duration 0 the tool runs until interrupted.
//
// # Best Practices
//
//   - Run under `-race` regularly; the workload is designed to interleave
//     pins, flushes and handle churn aggressively
//   - Pin the seed when chasing a failure so runs are reproducible
//   - Watch the pending column: it should oscillate near zero, not trend upward
//   - Use -snapshot to keep evidence from long overnight runs
//
// # Performance Considerations
//
//   - Status reporting takes a metrics snapshot, which briefly locks the
//     metrics mutex; the report interval keeps that cost negligible
//   - The double-execution check adds one atomic increment per reclaimed task
//
// # Thread Safety
//
// Each worker owns its handle exclusively, which is the engine's ownership
// contract. All cross-worker accounting uses atomics.
//
// # Exit Status
//
// The tool exits 0 when every retired task executed exactly once and the
// backlog never exceeded the limit. It exits 1 when:
//   - any task executed more than once
//   - any task was never executed by the time the collector closed
//   - the unreclaimed backlog exceeded -backlog-limit
//   - any deferred task faulted
//
// # See Also
//
// For point-in-time throughput numbers, see the bench tool.
// For detailed API documentation, see the core package.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	engine "github.com/kianostad/ebr/internal/core"
	"github.com/kianostad/ebr/internal/monitoring/metrics"
)

// Soak drives one collector with a randomized workload and keeps the
// accounting needed for the exit verdict.
type Soak struct {
	c       *engine.Collector
	workers int
	limit   uint64
	seed    int64

	retired  atomic.Uint64
	executed atomic.Uint64
	doubles  atomic.Uint64
	faults   atomic.Uint64
	exceeded atomic.Bool

	stop chan struct{}
	wg   sync.WaitGroup
}

func NewSoak(workers int, limit uint64, seed int64) *Soak {
	sk := &Soak{
		workers: workers,
		limit:   limit,
		seed:    seed,
		stop:    make(chan struct{}),
	}

	cfg := engine.DefaultConfig()
	cfg.ErrorSink = func(err error) {
		sk.faults.Add(1)
		fmt.Printf("task fault: %v\n", err)
	}
	sk.c = engine.NewWithConfig(cfg)
	return sk
}

// retire schedules one tracked task. Each task carries its own execution
// counter so a double execution is attributed to the exact task.
func (sk *Soak) retire(s *engine.Scope, size uintptr) {
	counter := new(atomic.Uint32)
	sk.retired.Add(1)
	s.DeferSized(func() {
		if counter.Add(1) > 1 {
			sk.doubles.Add(1)
		}
		sk.executed.Add(1)
	}, size)
}

// worker runs the randomized op mix until stop closes.
func (sk *Soak) worker(id int) {
	defer sk.wg.Done()

	r := rand.New(rand.NewSource(sk.seed + int64(id)))
	h := sk.c.Register()
	defer func() { h.Close() }()

	for {
		select {
		case <-sk.stop:
			return
		default:
		}

		switch op := r.Intn(100); {
		case op < 50: // small retire
			h.Pin(func(s *engine.Scope) { sk.retire(s, 0) })
		case op < 62: // medium retire
			h.Pin(func(s *engine.Scope) { sk.retire(s, 1<<10) })
		case op < 67: // large retire, flushes eagerly
			h.Pin(func(s *engine.Scope) { sk.retire(s, 64<<10) })
		case op < 87: // read-only pin
			h.Pin(func(s *engine.Scope) { _ = s.Epoch() })
		case op < 93: // nested pin retiring from the inner scope
			h.Pin(func(outer *engine.Scope) {
				h.Pin(func(inner *engine.Scope) { sk.retire(inner, 0) })
			})
		case op < 98: // explicit flush
			h.Pin(func(s *engine.Scope) { s.Flush() })
		default: // handle churn exercises registry sweep and entry reuse
			h.Close()
			h = sk.c.Register()
		}
	}
}

// report prints one status line and checks the backlog bound.
func (sk *Soak) report(start time.Time) {
	stats := sk.c.Stats()
	retired := sk.retired.Load()
	executed := sk.executed.Load()
	pending := retired - executed

	fmt.Printf("[%v] epoch=%d retired=%d executed=%d pending=%d backlog=%d/%d/%d faults=%d\n",
		time.Since(start).Round(time.Second),
		stats.Engine.GlobalEpoch,
		retired, executed, pending,
		stats.Engine.BacklogSmall, stats.Engine.BacklogMedium, stats.Engine.BacklogLarge,
		sk.faults.Load())

	if pending > sk.limit {
		sk.exceeded.Store(true)
		fmt.Printf("backlog limit exceeded: %d pending > %d\n", pending, sk.limit)
	}
}

// Run executes the soak and returns true when every property held.
func (sk *Soak) Run(duration, reportEvery time.Duration, sigChan <-chan os.Signal) bool {
	start := time.Now()

	sk.wg.Add(sk.workers)
	for i := 0; i < sk.workers; i++ {
		go sk.worker(i)
	}

	ticker := time.NewTicker(reportEvery)
	defer ticker.Stop()

	var deadline <-chan time.Time
	if duration > 0 {
		timer := time.NewTimer(duration)
		defer timer.Stop()
		deadline = timer.C
	}

run:
	for {
		select {
		case <-ticker.C:
			sk.report(start)
			if sk.exceeded.Load() {
				break run
			}
		case <-deadline:
			break run
		case <-sigChan:
			fmt.Println("\nReceived shutdown signal. Draining...")
			break run
		}
	}

	close(sk.stop)
	sk.wg.Wait()

	// All handles are closed; closing the collector drains every queue.
	sk.c.Close(context.Background())
	sk.report(start)

	retired := sk.retired.Load()
	executed := sk.executed.Load()
	doubles := sk.doubles.Load()
	faults := sk.faults.Load()

	ok := true
	switch {
	case doubles > 0:
		fmt.Printf("FAIL: %d tasks executed more than once\n", doubles)
		ok = false
	case executed != retired:
		fmt.Printf("FAIL: %d tasks retired but only %d executed\n", retired, executed)
		ok = false
	case sk.exceeded.Load():
		fmt.Println("FAIL: backlog exceeded the configured limit")
		ok = false
	case faults > 0:
		fmt.Printf("FAIL: %d deferred tasks faulted\n", faults)
		ok = false
	default:
		fmt.Printf("PASS: %d tasks retired, all executed exactly once, backlog stayed bounded\n", retired)
	}
	return ok
}

func main() {
	duration := flag.Duration("duration", 30*time.Second, "How long to run; 0 runs until a signal arrives")
	workers := flag.Int("workers", runtime.GOMAXPROCS(0), "Number of worker goroutines")
	reportEvery := flag.Duration("report", 5*time.Second, "Interval between status lines")
	backlogLimit := flag.Uint64("backlog-limit", 1<<20, "Maximum tolerated unreclaimed backlog")
	snapshot := flag.String("snapshot", "", "Write a final metrics snapshot as JSON to this path")
	seed := flag.Int64("seed", time.Now().UnixNano(), "Workload seed for reproducible runs")
	flag.Parse()

	if *workers < 1 {
		*workers = 1
	}
	if *reportEvery <= 0 {
		*reportEvery = 5 * time.Second
	}

	fmt.Printf("Reclamation soak: %d workers, %v, seed %d\n", *workers, *duration, *seed)

	// Set up signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sk := NewSoak(*workers, *backlogLimit, *seed)
	ok := sk.Run(*duration, *reportEvery, sigChan)

	if *snapshot != "" {
		if err := metrics.WriteSnapshotJSON(sk.c.Stats(), *snapshot); err != nil {
			fmt.Printf("snapshot: %v\n", err)
			ok = false
		} else {
			fmt.Printf("metrics snapshot written to %s\n", *snapshot)
		}
	}

	if !ok {
		os.Exit(1)
	}
}
