package arena_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-dma/internal/arena"
)

const (
	kindA arena.Kind = iota + 1
	kindB
)

func TestInsertGetRemove(t *testing.T) {
	a := arena.New[string](kindA)
	h := a.Insert("x")
	assert.True(t, h.Valid())

	v, ok := a.Get(h)
	require.True(t, ok)
	assert.Equal(t, "x", v)
	assert.Equal(t, 1, a.Len())

	v, ok = a.Remove(h)
	require.True(t, ok)
	assert.Equal(t, "x", v)
	_, ok = a.Get(h)
	assert.False(t, ok)
	_, ok = a.Remove(h)
	assert.False(t, ok)
	assert.Zero(t, a.Len())
}

func TestStaleHandleAfterSlotReuse(t *testing.T) {
	a := arena.New[int](kindA)
	old := a.Insert(1)
	a.Remove(old)
	fresh := a.Insert(2)

	assert.Equal(t, old.Index, fresh.Index, "slot is reused")
	assert.NotEqual(t, old.Generation, fresh.Generation)
	_, ok := a.Get(old)
	assert.False(t, ok)
	v, ok := a.Get(fresh)
	require.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestKindMismatchAndZeroHandle(t *testing.T) {
	a := arena.New[int](kindA)
	h := a.Insert(1)
	h.Kind = kindB
	_, ok := a.Get(h)
	assert.False(t, ok)

	var zero arena.Handle
	assert.False(t, zero.Valid())
	_, ok = a.Get(zero)
	assert.False(t, ok)
	_, ok = a.Get(arena.Handle{Index: 99, Generation: 1, Kind: kindA})
	assert.False(t, ok)
}

func TestRange(t *testing.T) {
	a := arena.New[int](kindA)
	for i := 0; i < 4; i++ {
		a.Insert(i)
	}
	var seen []int
	a.Range(func(_ arena.Handle, v int) bool {
		seen = append(seen, v)
		return v < 2
	})
	assert.Equal(t, []int{0, 1, 2}, seen)
}

func TestClearInvalidatesHandles(t *testing.T) {
	a := arena.New[int](kindA)
	h1 := a.Insert(1)
	h2 := a.Insert(2)
	a.Clear()

	assert.Zero(t, a.Len())
	_, ok := a.Get(h1)
	assert.False(t, ok)
	_, ok = a.Get(h2)
	assert.False(t, ok)

	h3 := a.Insert(3)
	v, ok := a.Get(h3)
	require.True(t, ok)
	assert.Equal(t, 3, v)
}
