// Licensed under the MIT License. See LICENSE file in the project root for details.

package engine

import (
	"context"
	"testing"
	"unsafe"

	"github.com/kianostad/ebr/internal/concurrency/epoch"

	. "github.com/smartystreets/goconvey/convey"
)

// testResource is a fake releasable resource for scope tests.
type testResource struct {
	released bool
	err      error
}

func (r *testResource) Release() error {
	r.released = true
	return r.err
}

// testPool records items handed back through the recycle form.
type testPool struct {
	items []any
}

func (p *testPool) PutAny(item any) {
	p.items = append(p.items, item)
}

// TestScopeDeferForms tests every deferral form end to end
func TestScopeDeferForms(t *testing.T) {
	Convey("Given a collector with a free hook", t, func() {
		ctx := context.Background()
		type freeCall struct {
			ptr  unsafe.Pointer
			size uintptr
		}
		var freed []freeCall
		cfg := DefaultConfig()
		cfg.Free = func(ptr unsafe.Pointer, size uintptr) {
			freed = append(freed, freeCall{ptr, size})
		}
		c := NewWithConfig(cfg)
		defer c.Close(ctx)
		h := c.Register()

		Convey("When one of each form is deferred and ages out", func() {
			ran := false
			res := &testResource{}
			pool := &testPool{}
			node := new(int)
			raw := new(uint64)

			h.Pin(func(s *Scope) {
				s.Defer(func() { ran = true })
				s.Retire(res)
				s.Recycle(pool, node)
				s.Free(unsafe.Pointer(raw), 8)
				s.Flush()
			})
			c.Collect()

			Convey("Then every form executed once", func() {
				So(ran, ShouldBeTrue)
				So(res.released, ShouldBeTrue)
				So(len(pool.items), ShouldEqual, 1)
				So(pool.items[0], ShouldEqual, node)
				So(len(freed), ShouldEqual, 1)
				So(freed[0].ptr, ShouldEqual, unsafe.Pointer(raw))
				So(freed[0].size, ShouldEqual, uintptr(8))
			})
		})
	})
}

// TestScopeFreeWithoutHook tests that raw frees without a configured hook
// surface as task faults instead of being dropped silently
func TestScopeFreeWithoutHook(t *testing.T) {
	Convey("Given a collector with no free hook", t, func() {
		ctx := context.Background()
		var faults []error
		cfg := DefaultConfig()
		cfg.ErrorSink = func(err error) { faults = append(faults, err) }
		c := NewWithConfig(cfg)
		defer c.Close(ctx)
		h := c.Register()

		Convey("When a raw free ages out", func() {
			raw := new(uint64)
			h.Pin(func(s *Scope) {
				s.Free(unsafe.Pointer(raw), 8)
				s.Flush()
			})
			c.Collect()

			Convey("Then the miss is reported", func() {
				So(len(faults), ShouldEqual, 1)
				So(faults[0].Error(), ShouldContainSubstring, "no release function configured")
			})
		})
	})
}

// TestNestedPins tests reentrant pinning on one handle
func TestNestedPins(t *testing.T) {
	Convey("Given a pinned handle", t, func() {
		ctx := context.Background()
		c := New()
		defer c.Close(ctx)
		h := c.Register()

		Convey("When the pin nests", func() {
			h.Pin(func(outer *Scope) {
				So(h.IsPinned(), ShouldBeTrue)
				So(h.entry.Announcement(), ShouldEqual, 0)

				h.Pin(func(inner *Scope) {
					So(h.depth, ShouldEqual, 2)
					So(inner, ShouldPointTo, outer)
					So(inner.Epoch(), ShouldEqual, 0)
				})

				Convey("Then the inner exit keeps the announcement", func() {
					So(h.depth, ShouldEqual, 1)
					So(h.entry.Announcement(), ShouldEqual, 0)
				})
			})

			Convey("Then the outer exit unpins", func() {
				So(h.IsPinned(), ShouldBeFalse)
				So(h.entry.Announcement(), ShouldEqual, epoch.Unpinned)
			})
		})
	})
}

// TestPinUnpinsOnPanic tests that a panicking body still unpins
func TestPinUnpinsOnPanic(t *testing.T) {
	Convey("Given a pinned body that panics", t, func() {
		ctx := context.Background()
		c := New()
		defer c.Close(ctx)
		h := c.Register()

		So(func() {
			h.Pin(func(*Scope) { panic("body failed") })
		}, ShouldPanicWith, "body failed")

		Convey("Then the handle is unpinned and usable", func() {
			So(h.IsPinned(), ShouldBeFalse)
			So(h.entry.Announcement(), ShouldEqual, epoch.Unpinned)
			ran := false
			h.Pin(func(s *Scope) {
				s.Defer(func() { ran = true })
				s.Flush()
			})
			c.Collect()
			So(ran, ShouldBeTrue)
		})
	})
}

// TestScopeMisusePanics tests the guard rails around scope and handle misuse
func TestScopeMisusePanics(t *testing.T) {
	Convey("Given a collector and a handle", t, func() {
		ctx := context.Background()
		c := New()
		defer c.Close(ctx)
		h := c.Register()

		Convey("Then a scope leaked out of its pin panics on use", func() {
			var leaked *Scope
			h.Pin(func(s *Scope) { leaked = s })
			So(func() { leaked.Defer(func() {}) }, ShouldPanicWith, "ebr: scope used outside its pinned region")
			So(func() { leaked.Flush() }, ShouldPanicWith, "ebr: scope used outside its pinned region")
			So(func() { leaked.Epoch() }, ShouldPanicWith, "ebr: scope used outside its pinned region")
		})

		Convey("Then nil arguments panic inside a pin", func() {
			h.Pin(func(s *Scope) {
				So(func() { s.Defer(nil) }, ShouldPanicWith, "ebr: nil function deferred")
				So(func() { s.Retire(nil) }, ShouldPanicWith, "ebr: nil resource retired")
				So(func() { s.Recycle(nil, 1) }, ShouldPanicWith, "ebr: nil pool in recycle")
				So(func() { s.Free(nil, 8) }, ShouldPanicWith, "ebr: nil pointer freed")
			})
		})

		Convey("Then closing while pinned panics", func() {
			h.Pin(func(*Scope) {
				So(func() { h.Close() }, ShouldPanicWith, "ebr: handle closed while pinned")
			})
		})

		Convey("Then pinning a closed handle panics", func() {
			h.Close()
			So(func() { h.Pin(func(*Scope) {}) }, ShouldPanicWith, "ebr: handle used after Close")
		})
	})
}
