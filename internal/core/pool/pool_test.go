package pool

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type item struct {
	owner *int
	uses  int
}

func TestPool(t *testing.T) {
	t.Run("allocates when empty and reuses what was put back", func(t *testing.T) {
		allocs := 0
		p := New(2, func() *item { allocs++; return &item{} }, func(it *item) { it.owner = nil })

		a := p.Get()
		assert.Equal(t, 1, allocs)

		p.Put(a)
		assert.Equal(t, 1, p.Len())

		b := p.Get()
		assert.Same(t, a, b)
		assert.Equal(t, 1, allocs)
		assert.Equal(t, 0, p.Len())
	})

	t.Run("reset clears collaborator references before reuse", func(t *testing.T) {
		p := New[item](0, nil, func(it *item) { it.owner = nil; it.uses++ })
		owner := 7
		a := p.Get()
		a.owner = &owner

		p.Put(a)
		assert.Nil(t, a.owner)
		assert.Equal(t, 1, a.uses)
	})

	t.Run("last in first out", func(t *testing.T) {
		p := New[item](0, nil, nil)
		a, b := p.Get(), p.Get()
		p.Put(a)
		p.Put(b)
		assert.Same(t, b, p.Get())
		assert.Same(t, a, p.Get())
	})

	t.Run("disabling recycling drops pooled items and stops keeping new ones", func(t *testing.T) {
		p := New[item](0, nil, nil)
		p.Put(p.Get())
		p.Put(p.Get())
		assert.Equal(t, 1, p.Len())

		p.SetRecycle(false)
		assert.False(t, p.Recycling())
		assert.Equal(t, 0, p.Len())

		reset := 0
		q := New[item](0, nil, func(*item) { reset++ })
		q.SetRecycle(false)
		q.Put(q.Get())
		assert.Equal(t, 1, reset)
		assert.Equal(t, 0, q.Len())
	})

	t.Run("put nil is ignored", func(t *testing.T) {
		p := New[item](0, nil, nil)
		p.Put(nil)
		assert.Equal(t, 0, p.Len())
	})
}
