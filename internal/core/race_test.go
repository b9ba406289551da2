// Licensed under the MIT License. See LICENSE file in the project root for details.

package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	"go.uber.org/goleak"
)

// TestRaceConcurrentPinDefer tests that every task deferred by concurrent
// participants executes exactly once across flushes, collects, and the
// final drain
func TestRaceConcurrentPinDefer(t *testing.T) {
	defer goleak.VerifyNone(t)

	Convey("Given a collector with one handle per worker", t, func() {
		ctx := context.Background()
		c := New()

		const numGoroutines = 8
		const numOps = 300

		handles := make([]*Handle, numGoroutines)
		for i := range handles {
			handles[i] = c.Register()
		}

		Convey("When the workers pin, defer, and flush concurrently", func() {
			var executed atomic.Uint64
			var wg sync.WaitGroup

			for i := 0; i < numGoroutines; i++ {
				wg.Add(1)
				go func(h *Handle) {
					defer wg.Done()
					for j := 0; j < numOps; j++ {
						h.Pin(func(s *Scope) {
							s.Defer(func() { executed.Add(1) })
							if j%50 == 0 {
								s.Flush()
							}
						})
					}
				}(handles[i])
			}

			wg.Wait()

			Convey("Then the collector should still be functional", func() {
				ran := false
				fh := c.Register()
				fh.Pin(func(s *Scope) {
					s.Defer(func() { ran = true })
					s.Flush()
				})
				for i := 0; i < 100 && !ran; i++ {
					c.Collect()
				}
				So(ran, ShouldBeTrue)

				Convey("And closing executes everything exactly once", func() {
					fh.Close()
					for _, h := range handles {
						h.Close()
					}
					c.Close(ctx)
					So(executed.Load(), ShouldEqual, numGoroutines*numOps)
				})
			})
		})
	})
}

// raceNode is a Treiber stack node whose destructor marks it freed, so any
// pinned traversal that still observes it can detect a premature free.
type raceNode struct {
	value int
	next  *raceNode
	freed atomic.Bool
}

func stackPush(head *atomic.Pointer[raceNode], value int) {
	n := &raceNode{value: value}
	for {
		old := head.Load()
		n.next = old
		if head.CompareAndSwap(old, n) {
			return
		}
	}
}

func stackPop(s *Scope, head *atomic.Pointer[raceNode], violations *atomic.Int64) (int, bool) {
	for {
		n := head.Load()
		if n == nil {
			return 0, false
		}
		if n.freed.Load() {
			violations.Add(1)
		}
		if head.CompareAndSwap(n, n.next) {
			node := n
			s.Defer(func() { node.freed.Store(true) })
			return n.value, true
		}
	}
}

func stackWalk(head *atomic.Pointer[raceNode], violations *atomic.Int64) {
	for n := head.Load(); n != nil; n = n.next {
		if n.freed.Load() {
			violations.Add(1)
		}
	}
}

// TestRaceUseAfterFreeDetection tests the central reclamation guarantee on
// a live lock-free stack: no pinned goroutine ever observes a node whose
// destructor has already run
func TestRaceUseAfterFreeDetection(t *testing.T) {
	defer goleak.VerifyNone(t)

	Convey("Given a lock-free stack shared by writers and readers", t, func() {
		ctx := context.Background()
		c := New()

		var head atomic.Pointer[raceNode]
		var violations atomic.Int64
		var pushed, popped atomic.Uint64

		const numWriters = 8
		const numReaders = 4
		const numOps = 300
		const numWalks = 150

		writers := make([]*Handle, numWriters)
		for i := range writers {
			writers[i] = c.Register()
		}

		Convey("When pops retire nodes while walks are in flight", func() {
			var wg sync.WaitGroup

			for i := 0; i < numWriters; i++ {
				wg.Add(1)
				go func(id int, h *Handle) {
					defer wg.Done()
					for j := 0; j < numOps; j++ {
						if j%2 == 0 {
							stackPush(&head, id*numOps+j)
							pushed.Add(1)
						} else {
							h.Pin(func(s *Scope) {
								if _, ok := stackPop(s, &head, &violations); ok {
									popped.Add(1)
								}
							})
						}
					}
				}(i, writers[i])
			}

			for i := 0; i < numReaders; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for j := 0; j < numWalks; j++ {
						c.Do(func(*Scope) {
							stackWalk(&head, &violations)
						})
					}
				}()
			}

			wg.Wait()

			Convey("Then no walk or pop ever saw a freed node", func() {
				So(violations.Load(), ShouldEqual, 0)

				Convey("And draining the stack conserves every node", func() {
					for {
						found := false
						c.Do(func(s *Scope) {
							if _, ok := stackPop(s, &head, &violations); ok {
								popped.Add(1)
								found = true
							}
						})
						if !found {
							break
						}
					}
					So(popped.Load(), ShouldEqual, pushed.Load())
					So(violations.Load(), ShouldEqual, 0)

					for _, h := range writers {
						h.Close()
					}
					c.Close(ctx)
				})
			})
		})
	})
}

// TestRaceDoFromManyGoroutines tests pooled-handle pinning under contention
// and the final drain of pooled bins
func TestRaceDoFromManyGoroutines(t *testing.T) {
	defer goleak.VerifyNone(t)

	Convey("Given a collector used only through Do", t, func() {
		ctx := context.Background()
		c := New()

		const numGoroutines = 16
		const numOps = 200

		Convey("When many goroutines defer through pooled handles", func() {
			var executed atomic.Uint64
			var wg sync.WaitGroup

			for i := 0; i < numGoroutines; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for j := 0; j < numOps; j++ {
						c.Do(func(s *Scope) {
							s.Defer(func() { executed.Add(1) })
							if j%20 == 0 {
								s.Flush()
							}
						})
					}
				}()
			}

			wg.Wait()

			Convey("Then closing drains the pooled bins and conserves tasks", func() {
				c.Close(ctx)
				So(executed.Load(), ShouldEqual, numGoroutines*numOps)
			})
		})
	})
}

// TestRaceHandleChurn tests concurrent registration, closure, and slot
// recycling while collection runs
func TestRaceHandleChurn(t *testing.T) {
	defer goleak.VerifyNone(t)

	Convey("Given workers that register and close handles in a loop", t, func() {
		ctx := context.Background()
		c := New()

		const numWorkers = 8
		const numIters = 50

		Convey("When churn and collection overlap", func() {
			var executed atomic.Uint64
			var wg sync.WaitGroup

			for i := 0; i < numWorkers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for j := 0; j < numIters; j++ {
						h := c.Register()
						h.Pin(func(s *Scope) {
							s.Defer(func() { executed.Add(1) })
						})
						h.Close()
					}
				}()
			}
			for i := 0; i < 2; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for j := 0; j < 100; j++ {
						c.Collect()
					}
				}()
			}

			wg.Wait()

			Convey("Then every task survived the churn exactly once", func() {
				c.Close(ctx)
				So(executed.Load(), ShouldEqual, numWorkers*numIters)
			})
		})
	})
}
