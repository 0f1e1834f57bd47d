// package pool provides a generic free-list object pool for scratch objects
// (matrices, vectors, result records) recycled inside per-frame hot loops,
// eliminating steady-state allocation churn.
package pool

// Disposable is the capability interface for pooled resources that hold
// something beyond plain memory. Clear calls Dispose on every pooled object
// that implements it.
type Disposable interface {
	// Dispose releases any resources held by the object.
	Dispose()
}

// Pool is a bounded free list of reusable objects. Acquire pops from the free
// list or lazily constructs when empty; Release resets the object and returns
// it to the list only while the list holds fewer than maxSize objects;
// excess releases are dropped and left to the garbage collector.
type Pool[T any] struct {
	newFn   func() T
	resetFn func(T)
	maxSize int

	free []T
}

// NewPool creates a pool pre-populated with initialSize objects.
//
// Parameters:
//   - newFn: constructor for a fresh object (must not be nil)
//   - resetFn: called on every released object before it re-enters the free list (may be nil)
//   - initialSize: number of objects constructed up front (clamped to [0, maxSize])
//   - maxSize: maximum number of pooled objects (values < 1 become 1)
//
// Returns:
//   - *Pool[T]: the newly created pool
func NewPool[T any](newFn func() T, resetFn func(T), initialSize, maxSize int) *Pool[T] {
	if maxSize < 1 {
		maxSize = 1
	}
	if initialSize < 0 {
		initialSize = 0
	}
	if initialSize > maxSize {
		initialSize = maxSize
	}

	p := &Pool[T]{
		newFn:   newFn,
		resetFn: resetFn,
		maxSize: maxSize,
		free:    make([]T, 0, maxSize),
	}
	for i := 0; i < initialSize; i++ {
		p.free = append(p.free, newFn())
	}
	return p
}

// Acquire returns an object from the free list, constructing a new one when
// the list is empty. The pool never blocks and never fails.
//
// Returns:
//   - T: a ready-to-use object
func (p *Pool[T]) Acquire() T {
	n := len(p.free)
	if n == 0 {
		return p.newFn()
	}
	obj := p.free[n-1]
	var zero T
	p.free[n-1] = zero // drop the reference so pooled pointers don't pin
	p.free = p.free[:n-1]
	return obj
}

// Release resets an object and returns it to the free list. If the list is
// already at maxSize the object is dropped.
//
// Parameters:
//   - obj: the object to return
func (p *Pool[T]) Release(obj T) {
	if p.resetFn != nil {
		p.resetFn(obj)
	}
	if len(p.free) >= p.maxSize {
		return
	}
	p.free = append(p.free, obj)
}

// Size returns the number of objects currently on the free list.
//
// Returns:
//   - int: the free list length
func (p *Pool[T]) Size() int {
	return len(p.free)
}

// MaxSize returns the pool's capacity bound.
//
// Returns:
//   - int: the maximum number of pooled objects
func (p *Pool[T]) MaxSize() int {
	return p.maxSize
}

// Clear empties the free list, calling Dispose on any pooled object that
// implements Disposable.
func (p *Pool[T]) Clear() {
	for i := range p.free {
		if d, ok := any(p.free[i]).(Disposable); ok {
			d.Dispose()
		}
		var zero T
		p.free[i] = zero
	}
	p.free = p.free[:0]
}
