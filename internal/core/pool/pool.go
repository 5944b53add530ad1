package pool

// Pool is a typed free-list stack of reusable objects.
// Not goroutine-safe: the owning tick loop is the only caller.
type Pool[T any] struct {
	items   []*T
	recycle bool
	newFn   func() *T
	resetFn func(*T)
}

// New creates a pool. newFn allocates a fresh object when the stack is empty;
// resetFn clears an object's references to collaborators before it is
// pushed back. Either may be nil.
func New[T any](capacity int, newFn func() *T, resetFn func(*T)) *Pool[T] {
	if capacity < 0 {
		capacity = 0
	}
	if newFn == nil {
		newFn = func() *T { return new(T) }
	}
	return &Pool[T]{
		items:   make([]*T, 0, capacity),
		recycle: true,
		newFn:   newFn,
		resetFn: resetFn,
	}
}

// Get pops the most recently returned object, or allocates one.
// The caller owns the object exclusively until it calls Put.
func (p *Pool[T]) Get() *T {
	if n := len(p.items); n > 0 {
		x := p.items[n-1]
		p.items[n-1] = nil
		p.items = p.items[:n-1]
		return x
	}
	return p.newFn()
}

// Put resets x and keeps it for reuse while recycling is enabled.
func (p *Pool[T]) Put(x *T) {
	if x == nil {
		return
	}
	if p.resetFn != nil {
		p.resetFn(x)
	}
	if p.recycle {
		p.items = append(p.items, x)
	}
}

// SetRecycle toggles recycling. Disabling it drops every pooled object.
func (p *Pool[T]) SetRecycle(on bool) {
	p.recycle = on
	if !on {
		clear(p.items)
		p.items = p.items[:0]
	}
}

func (p *Pool[T]) Recycling() bool { return p.recycle }

// Len returns the number of idle objects waiting for reuse.
func (p *Pool[T]) Len() int { return len(p.items) }
