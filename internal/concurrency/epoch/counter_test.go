// Licensed under the MIT License. See LICENSE file in the project root for details.

package epoch

import (
	"sync"
	"sync/atomic"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

// pinList is a fixed set of announcements for driving TryAdvance in tests.
type pinList []uint64

func (p pinList) Range(fn func(announced uint64) bool) {
	for _, a := range p {
		if !fn(a) {
			return
		}
	}
}

func TestCounterBasicOperations(t *testing.T) {
	Convey("Given a new counter", t, func() {
		c := NewCounter()

		Convey("Initially", func() {
			So(c.Load(), ShouldEqual, 0)
		})

		Convey("When advancing with no participants", func() {
			next, advanced := c.TryAdvance(pinList{})

			Convey("Then the advance should succeed", func() {
				So(advanced, ShouldBeTrue)
				So(next, ShouldEqual, 1)
				So(c.Load(), ShouldEqual, 1)
			})

			Convey("When advancing again", func() {
				next, advanced := c.TryAdvance(pinList{})

				Convey("Then the epoch should be 2", func() {
					So(advanced, ShouldBeTrue)
					So(next, ShouldEqual, 2)
				})
			})
		})
	})
}

func TestCounterAdvanceGating(t *testing.T) {
	Convey("Given a counter at epoch 2", t, func() {
		c := NewCounter()
		c.TryAdvance(pinList{})
		c.TryAdvance(pinList{})
		So(c.Load(), ShouldEqual, 2)

		Convey("When a participant announces the current epoch", func() {
			next, advanced := c.TryAdvance(pinList{2})

			Convey("Then the advance should succeed", func() {
				So(advanced, ShouldBeTrue)
				So(next, ShouldEqual, 3)
			})

			Convey("And a second advance should fail while the announcement lags", func() {
				_, advanced := c.TryAdvance(pinList{2})
				So(advanced, ShouldBeFalse)
				So(c.Load(), ShouldEqual, 3)
			})
		})

		Convey("When a participant announces an older epoch", func() {
			next, advanced := c.TryAdvance(pinList{1})

			Convey("Then the advance should fail", func() {
				So(advanced, ShouldBeFalse)
				So(next, ShouldEqual, 2)
				So(c.Load(), ShouldEqual, 2)
			})
		})

		Convey("When all participants are unpinned", func() {
			_, advanced := c.TryAdvance(pinList{Unpinned, Unpinned})

			Convey("Then the advance should succeed", func() {
				So(advanced, ShouldBeTrue)
				So(c.Load(), ShouldEqual, 3)
			})
		})

		Convey("When one of several participants lags", func() {
			_, advanced := c.TryAdvance(pinList{2, Unpinned, 1})

			Convey("Then the advance should fail", func() {
				So(advanced, ShouldBeFalse)
				So(c.Load(), ShouldEqual, 2)
			})
		})
	})
}

func TestCounterConcurrentAdvance(t *testing.T) {
	Convey("Given a new counter", t, func() {
		c := NewCounter()

		Convey("When many goroutines attempt advances concurrently", func() {
			var wg sync.WaitGroup
			var successes atomic.Uint64
			const numGoroutines = 10
			const numOps = 1000

			for i := 0; i < numGoroutines; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for j := 0; j < numOps; j++ {
						if _, advanced := c.TryAdvance(pinList{}); advanced {
							successes.Add(1)
						}
					}
				}()
			}

			wg.Wait()

			Convey("Then the epoch should equal the number of successful advances", func() {
				So(c.Load(), ShouldEqual, successes.Load())
			})
		})
	})
}

func TestEligible(t *testing.T) {
	Convey("Given the two-epoch eligibility rule", t, func() {
		Convey("Garbage tagged at the current epoch is not eligible", func() {
			So(Eligible(5, 5), ShouldBeFalse)
		})

		Convey("Garbage one epoch behind is not eligible", func() {
			So(Eligible(5, 4), ShouldBeFalse)
		})

		Convey("Garbage two epochs behind is eligible", func() {
			So(Eligible(5, 3), ShouldBeTrue)
		})

		Convey("Garbage far behind is eligible", func() {
			So(Eligible(100, 3), ShouldBeTrue)
		})

		Convey("Nothing is eligible before the counter reaches 2", func() {
			So(Eligible(0, 0), ShouldBeFalse)
			So(Eligible(1, 0), ShouldBeFalse)
			So(Eligible(2, 0), ShouldBeTrue)
		})
	})
}
