// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package garbage provides the deferred-destruction machinery of the
// reclamation engine.
//
// This package implements the garbage path between a defer call inside a
// pinned region and the eventual destruction of the deferred item: tasks
// capture the work in one of several forms, local bins batch tasks per
// handle, and global queues hold sealed batches until the epoch protocol
// makes them safe to execute.
//
// # Key Features
//
//   - Uniform task representation for closures, destructors, recyclers and raw frees
//   - Epoch tags recorded at defer time, batch tags sealed at flush time
//   - Size-classed routing with immediate hand-off for large items
//   - Owner-local bins with no synchronization on the defer fast path
//   - Lock-free global queues with exclusive batch ownership on pop
//   - Panic isolation around task execution
//
// # Usage Examples
//
// Deferring and executing a task:
//
//	// Capture a destructor at the current epoch
//	task := garbage.NewFuncTask(tag, func() { node.free() }, 0)
//
//	// Batch it in an owner-local bin
//	full := bin.Add(task)
//
//	// Seal the bin into a global queue when full
//	queue.Push(bin.Drain(), tag)
//
//	// Execute a popped batch once its tag is two epochs old
//	if tasks, batchTag, ok := queue.Pop(); ok {
//	    for i := range tasks {
//	        if err := tasks[i].Execute(freeFn); err != nil { ... }
//	        tasks[i] = garbage.Task{}
//	    }
//	}
//
// # Dangers and Warnings
//
//   - **Premature Execution**: Executing a task before its batch tag is two
//     epochs behind the global epoch defeats the entire safety argument.
//   - **Double Execution**: A popped batch is owned exclusively by the
//     popper; sharing a popped task slice between goroutines reintroduces
//     the double-free class of bugs the queue design rules out.
//   - **Reference Retention**: Executed tasks should be zeroed so pooled
//     batch nodes do not keep destroyed objects reachable.
//   - **Raw Frees**: Free-form tasks require a configured release function;
//     executing one without it is reported as a task fault.
//
// # Best Practices
//
//   - Keep destructors small and non-blocking; they run inside collection
//   - Use size hints for items that buffer large memory behind small headers
//   - Prefer the recycler form over a closure when returning items to pools
//
// # Performance Considerations
//
//   - Task values are stored inline in bins; deferring does not allocate per task
//   - Bin drain transfers the backing array, one allocation per flush
//   - Queue operations are lock-free; pops never retry more than a CAS race
//   - Large items bypass bins entirely to bound peak memory
//
// # Thread Safety
//
// Bins are owner-local and must not be shared. Queues are safe for
// concurrent use from any number of goroutines. Task execution is
// single-goroutine by construction once a batch is popped.
package garbage

import (
	"fmt"
	"unsafe"
)

// Resource is implemented by items that release their own storage or
// external state when retired.
type Resource interface {
	Release() error
}

// Recycler accepts retired items for reuse instead of destruction. It is
// satisfied by the typed pools of this module.
type Recycler interface {
	PutAny(item any)
}

// FreeFunc releases a raw allocation obtained outside the Go heap.
type FreeFunc func(ptr unsafe.Pointer, size uintptr)

// Kind discriminates the forms a deferred task can take.
type Kind uint8

const (
	// KindFunc runs a captured closure.
	KindFunc Kind = iota
	// KindResource calls Release on a retired resource.
	KindResource
	// KindRecycle returns an item to a recycler pool.
	KindRecycle
	// KindFree releases a raw allocation through the configured FreeFunc.
	KindFree
)

// Task is one unit of deferred destruction. The zero value is inert. Tasks
// are stored by value in bins and batches to keep the defer path free of
// per-task allocations.
type Task struct {
	tag  uint64 // global epoch at defer time
	size uintptr
	kind Kind

	fn  func()
	res Resource
	rec Recycler
	val any
	ptr unsafe.Pointer
}

// NewFuncTask captures a closure deferred at the given epoch. The size is a
// routing hint; zero routes to the smallest class.
func NewFuncTask(tag uint64, fn func(), size uintptr) Task {
	return Task{tag: tag, kind: KindFunc, fn: fn, size: size}
}

// NewResourceTask captures a resource whose Release runs at destruction.
func NewResourceTask(tag uint64, res Resource, size uintptr) Task {
	return Task{tag: tag, kind: KindResource, res: res, size: size}
}

// NewRecycleTask captures an item to be handed back to a recycler.
func NewRecycleTask(tag uint64, rec Recycler, item any, size uintptr) Task {
	return Task{tag: tag, kind: KindRecycle, rec: rec, val: item, size: size}
}

// NewFreeTask captures a raw allocation to be released through the engine's
// FreeFunc.
func NewFreeTask(tag uint64, ptr unsafe.Pointer, size uintptr) Task {
	return Task{tag: tag, kind: KindFree, ptr: ptr, size: size}
}

// Tag returns the epoch recorded when the task was deferred.
func (t *Task) Tag() uint64 {
	return t.tag
}

// SizeHint returns the approximate byte size used for class routing.
func (t *Task) SizeHint() uintptr {
	return t.size
}

// Kind returns the task's form.
func (t *Task) Kind() Kind {
	return t.kind
}

// Execute runs the task once. Panics inside the task are recovered and
// returned as errors; the caller decides how to report them. free may be nil
// when no raw-free tasks can reach this call.
func (t *Task) Execute(free FreeFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("deferred task panicked: %v", r)
		}
	}()

	switch t.kind {
	case KindFunc:
		t.fn()
	case KindResource:
		if err := t.res.Release(); err != nil {
			return fmt.Errorf("failed to release resource: %w", err)
		}
	case KindRecycle:
		t.rec.PutAny(t.val)
	case KindFree:
		if free == nil {
			return fmt.Errorf("no release function configured for raw free of %d bytes", t.size)
		}
		free(t.ptr, t.size)
	}
	return nil
}
