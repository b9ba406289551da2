// Licensed under the MIT License. See LICENSE file in the project root for details.

package ebr

import (
	"sync"
)

// Pool provides object pooling for node structs to reduce memory
// allocations. It satisfies the Recycler contract, so an item unlinked from
// a shared structure can be handed to Scope.Recycle and returns to Get only
// once no pinned goroutine can still touch it.
//
// Store pointer types; non-pointer items are boxed on every Put.
type Pool[T any] struct {
	pool  sync.Pool
	reset func(T)
}

// NewPool creates a new Pool producing items with newFn.
func NewPool[T any](newFn func() T) *Pool[T] {
	return NewPoolWithReset(newFn, nil)
}

// NewPoolWithReset creates a Pool that resets every item handed back before
// it becomes available to Get again.
func NewPoolWithReset[T any](newFn func() T, reset func(T)) *Pool[T] {
	return &Pool[T]{
		pool: sync.Pool{
			New: func() any {
				return newFn()
			},
		},
		reset: reset,
	}
}

// Get retrieves an item from the pool or creates a new one.
func (p *Pool[T]) Get() T {
	return p.pool.Get().(T)
}

// Put returns an item to the pool after resetting it. Only hand back items
// no goroutine can still reach; for items just unlinked from a shared
// structure, go through Scope.Recycle instead.
func (p *Pool[T]) Put(item T) {
	if p.reset != nil {
		p.reset(item)
	}
	p.pool.Put(item)
}

// PutAny implements the Recycler contract used by Scope.Recycle.
func (p *Pool[T]) PutAny(item any) {
	p.Put(item.(T))
}
