// Licensed under the MIT License. See LICENSE file in the project root for details.

package garbage

import (
	"errors"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResource struct {
	calls int
	err   error
}

func (f *fakeResource) Release() error {
	f.calls++
	return f.err
}

type fakePool struct {
	items []any
}

func (f *fakePool) PutAny(item any) {
	f.items = append(f.items, item)
}

func TestTaskExecuteFunc(t *testing.T) {
	calls := 0
	task := NewFuncTask(7, func() { calls++ }, 0)

	require.Equal(t, uint64(7), task.Tag())
	require.Equal(t, KindFunc, task.Kind())

	err := task.Execute(nil)
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "closure should run exactly once per Execute")
}

func TestTaskExecuteResource(t *testing.T) {
	res := &fakeResource{}
	task := NewResourceTask(3, res, 128)

	require.Equal(t, KindResource, task.Kind())
	require.Equal(t, uintptr(128), task.SizeHint())

	err := task.Execute(nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.calls)
}

func TestTaskExecuteResourceError(t *testing.T) {
	cause := errors.New("backing store gone")
	res := &fakeResource{err: cause}
	task := NewResourceTask(3, res, 0)

	err := task.Execute(nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, cause, "release errors should stay unwrappable")
}

func TestTaskExecuteRecycle(t *testing.T) {
	pool := &fakePool{}
	task := NewRecycleTask(5, pool, "node-1", 64)

	err := task.Execute(nil)
	require.NoError(t, err)
	require.Len(t, pool.items, 1)
	assert.Equal(t, "node-1", pool.items[0])
}

func TestTaskExecuteFree(t *testing.T) {
	buf := new([64]byte)
	var gotPtr unsafe.Pointer
	var gotSize uintptr
	task := NewFreeTask(2, unsafe.Pointer(buf), 64)

	err := task.Execute(func(ptr unsafe.Pointer, size uintptr) {
		gotPtr = ptr
		gotSize = size
	})
	require.NoError(t, err)
	assert.Equal(t, unsafe.Pointer(buf), gotPtr)
	assert.Equal(t, uintptr(64), gotSize)
}

func TestTaskExecuteFreeWithoutFreeFunc(t *testing.T) {
	buf := new([16]byte)
	task := NewFreeTask(2, unsafe.Pointer(buf), 16)

	err := task.Execute(nil)
	require.Error(t, err, "a raw free with no release function is a task fault")
}

func TestTaskExecutePanicIsRecovered(t *testing.T) {
	task := NewFuncTask(1, func() { panic("destructor bug") }, 0)

	err := task.Execute(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
	assert.Contains(t, err.Error(), "destructor bug")
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		size uintptr
		want Class
	}{
		{"zero", 0, ClassSmall},
		{"node sized", 64, ClassSmall},
		{"just below medium", DefaultMediumBytes - 1, ClassSmall},
		{"medium boundary", DefaultMediumBytes, ClassMedium},
		{"buffer sized", 4096, ClassMedium},
		{"just below large", DefaultLargeBytes - 1, ClassMedium},
		{"large boundary", DefaultLargeBytes, ClassLarge},
		{"huge", 1 << 30, ClassLarge},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify(tc.size, DefaultMediumBytes, DefaultLargeBytes)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestClassString(t *testing.T) {
	assert.Equal(t, "small", ClassSmall.String())
	assert.Equal(t, "medium", ClassMedium.String())
	assert.Equal(t, "large", ClassLarge.String())
	assert.Equal(t, "unknown", Class(9).String())
}
