// Licensed under the MIT License. See LICENSE file in the project root for details.

package garbage

// Bin is an owner-local batch of deferred tasks for one size class. It is
// not synchronized: only the owning handle's goroutine may touch it. Tasks
// accumulate until the bin reaches capacity, at which point the owner drains
// it into a global queue.
type Bin struct {
	tasks    []Task
	capacity int
}

// NewBin creates an empty bin that reports full at the given capacity.
func NewBin(capacity int) *Bin {
	if capacity < 1 {
		capacity = 1
	}
	return &Bin{
		tasks:    make([]Task, 0, capacity),
		capacity: capacity,
	}
}

// Add appends a task and reports whether the bin has reached capacity and
// should be drained.
func (b *Bin) Add(t Task) bool {
	b.tasks = append(b.tasks, t)
	return len(b.tasks) >= b.capacity
}

// Len returns the number of buffered tasks.
func (b *Bin) Len() int {
	return len(b.tasks)
}

// MaxTag returns the newest epoch tag among buffered tasks. It is only
// meaningful when the bin is non-empty.
func (b *Bin) MaxTag() uint64 {
	var max uint64
	for i := range b.tasks {
		if b.tasks[i].tag > max {
			max = b.tasks[i].tag
		}
	}
	return max
}

// Drain returns the buffered tasks and resets the bin. Ownership of the
// returned slice transfers to the caller; the bin allocates a fresh backing
// array for subsequent adds. Draining an empty bin returns nil.
func (b *Bin) Drain() []Task {
	if len(b.tasks) == 0 {
		return nil
	}
	drained := b.tasks
	b.tasks = make([]Task, 0, b.capacity)
	return drained
}
