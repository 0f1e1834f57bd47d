package pool

import "testing"

type scratchVec struct {
	vals  [3]float32
	reset int
}

func TestAcquireReleaseReuse(t *testing.T) {
	constructed := 0
	p := NewPool(
		func() *scratchVec {
			constructed++
			return &scratchVec{}
		},
		func(v *scratchVec) {
			v.vals = [3]float32{}
			v.reset++
		},
		2, 2,
	)

	if constructed != 2 {
		t.Fatalf("Expected 2 pre-populated objects, constructed %d", constructed)
	}
	if p.Size() != 2 {
		t.Fatalf("Expected free list of 2, got %d", p.Size())
	}

	a := p.Acquire()
	b := p.Acquire()
	c := p.Acquire() // empty free list, lazy construction
	if constructed != 3 {
		t.Errorf("Expected third acquire to construct, constructed %d", constructed)
	}

	a.vals = [3]float32{1, 2, 3}
	p.Release(a)
	p.Release(b)
	p.Release(c) // exceeds maxSize, dropped

	if p.Size() != 2 {
		t.Errorf("Expected pool bounded at maxSize 2, got %d", p.Size())
	}

	// Released-then-reused objects must reflect the reset state.
	got := p.Acquire()
	if got.vals != ([3]float32{}) {
		t.Errorf("Expected reused object to be reset, got %v", got.vals)
	}
	if got.reset == 0 {
		t.Error("Expected reset function to have run on released object")
	}
}

func TestPoolBoundInvariant(t *testing.T) {
	p := NewPool(func() *scratchVec { return &scratchVec{} }, nil, 0, 4)

	var live []*scratchVec
	for i := 0; i < 16; i++ {
		live = append(live, p.Acquire())
	}
	for _, v := range live {
		p.Release(v)
		if p.Size() > p.MaxSize() {
			t.Fatalf("Pool size %d exceeded maxSize %d", p.Size(), p.MaxSize())
		}
	}
	if p.Size() != 4 {
		t.Errorf("Expected pool full at 4, got %d", p.Size())
	}
}

type disposableBuf struct {
	disposed bool
}

func (d *disposableBuf) Dispose() { d.disposed = true }

func TestClearDisposesPooledResources(t *testing.T) {
	p := NewPool(func() *disposableBuf { return &disposableBuf{} }, nil, 3, 8)

	tracked := make([]*disposableBuf, 0, 3)
	for i := 0; i < 3; i++ {
		tracked = append(tracked, p.Acquire())
	}
	for _, d := range tracked {
		p.Release(d)
	}

	p.Clear()
	if p.Size() != 0 {
		t.Errorf("Expected empty pool after Clear, got %d", p.Size())
	}
	for i, d := range tracked {
		if !d.disposed {
			t.Errorf("Expected pooled object %d to be disposed", i)
		}
	}
}

func TestDegenerateSizes(t *testing.T) {
	p := NewPool(func() int { return 7 }, nil, -5, 0)
	if p.MaxSize() != 1 {
		t.Errorf("Expected maxSize clamp to 1, got %d", p.MaxSize())
	}
	if p.Size() != 0 {
		t.Errorf("Expected no pre-populated objects, got %d", p.Size())
	}
	if v := p.Acquire(); v != 7 {
		t.Errorf("Expected lazily constructed value, got %d", v)
	}
}
