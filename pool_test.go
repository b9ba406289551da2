// Licensed under the MIT License. See LICENSE file in the project root for details.

package ebr

import (
	"context"
	"testing"
)

func TestPool(t *testing.T) {
	t.Run("NewPool", func(t *testing.T) {
		p := NewPool(func() *int { return new(int) })
		if p == nil {
			t.Fatal("NewPool returned nil")
		}
		v := p.Get()
		if v == nil {
			t.Fatal("Get returned nil")
		}
		*v = 7
		p.Put(v)
	})

	t.Run("ResetRunsOnPut", func(t *testing.T) {
		resets := 0
		p := NewPoolWithReset(
			func() *[]byte {
				b := make([]byte, 0, 64)
				return &b
			},
			func(b *[]byte) {
				*b = (*b)[:0]
				resets++
			},
		)
		b := p.Get()
		*b = append(*b, 1, 2, 3)
		p.Put(b)
		if resets != 1 {
			t.Errorf("expected 1 reset, got %d", resets)
		}
	})

	t.Run("PutAnyMatchesPut", func(t *testing.T) {
		resets := 0
		p := NewPoolWithReset(func() *int { return new(int) }, func(*int) { resets++ })
		p.PutAny(p.Get())
		if resets != 1 {
			t.Errorf("expected 1 reset, got %d", resets)
		}
	})
}

func TestPoolRecycleThroughScope(t *testing.T) {
	ctx := context.Background()

	resets := 0
	p := NewPoolWithReset(func() *int { return new(int) }, func(v *int) {
		*v = 0
		resets++
	})

	c := New()
	h := c.Register()

	n := p.Get()
	*n = 99
	h.Pin(func(s *Scope) {
		s.Recycle(p, n)
		s.Flush()
	})
	if resets != 0 {
		t.Error("item returned to the pool while readers could still hold it")
	}

	c.Collect()
	if resets != 1 {
		t.Errorf("expected the item back in the pool after collection, got %d resets", resets)
	}

	h.Close()
	c.Close(ctx)
}
