// Licensed under the MIT License. See LICENSE file in the project root for details.

package garbage

import (
	"sync/atomic"
)

// batch is one sealed node in a global queue. The task slice and tag are
// written before the node is published and read only by the pop that wins
// the node, so neither needs atomic access.
type batch struct {
	tasks []Task
	tag   uint64 // newest epoch tag in the batch
	next  atomic.Pointer[batch]
}

// Queue is a lock-free FIFO of sealed batches for one size class. Pushes
// link a new batch at the tail; pops detach the oldest batch and transfer
// exclusive ownership of its tasks to the caller. That exclusive transfer is
// what makes destruction at-most-once: a task can only ever be reached
// through the single pop that won its batch.
//
// The queue is a linked list with a dummy head in the style of Michael and
// Scott. A popped node becomes the new dummy and is never reused, so batch
// nodes need no reclamation protocol of their own.
type Queue struct {
	head atomic.Pointer[batch]
	tail atomic.Pointer[batch]

	length atomic.Int64 // buffered tasks, approximate between operations
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	q := &Queue{}
	dummy := &batch{}
	q.head.Store(dummy)
	q.tail.Store(dummy)
	return q
}

// Push seals tasks into a batch tagged with the newest epoch among them and
// links it at the tail. Pushing an empty slice is a no-op.
func (q *Queue) Push(tasks []Task, tag uint64) {
	if len(tasks) == 0 {
		return
	}
	b := &batch{tasks: tasks, tag: tag}
	for {
		tail := q.tail.Load()
		next := tail.next.Load()
		if next != nil {
			// Help a stalled push along before retrying.
			q.tail.CompareAndSwap(tail, next)
			continue
		}
		if tail.next.CompareAndSwap(nil, b) {
			q.tail.CompareAndSwap(tail, b)
			q.length.Add(int64(len(tasks)))
			return
		}
	}
}

// Pop detaches the oldest batch and returns its tasks and tag. The caller
// becomes the sole owner of the returned slice. Pop returns ok=false when
// the queue is empty.
func (q *Queue) Pop() (tasks []Task, tag uint64, ok bool) {
	for {
		head := q.head.Load()
		next := head.next.Load()
		if next == nil {
			return nil, 0, false
		}
		if q.head.CompareAndSwap(head, next) {
			// Only the winner of the CAS reaches the node's payload;
			// clearing it keeps the new dummy from retaining tasks.
			tasks = next.tasks
			tag = next.tag
			next.tasks = nil
			q.length.Add(-int64(len(tasks)))
			return tasks, tag, true
		}
	}
}

// Len returns the approximate number of buffered tasks.
func (q *Queue) Len() int {
	n := q.length.Load()
	if n < 0 {
		return 0
	}
	return int(n)
}
