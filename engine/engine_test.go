package engine

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestHeadlessRunInvokesCallbacks(t *testing.T) {
	e := NewEngine(WithTickRate(240), WithRenderFrameLimit(240))

	var ticks, renders atomic.Int32
	e.SetTickCallback(func(dt float32) { ticks.Add(1) })
	e.SetRenderCallback(func(dt float32) { renders.Add(1) })

	done := make(chan struct{})
	go func() {
		e.Run()
		close(done)
	}()

	time.Sleep(150 * time.Millisecond)
	e.Quit()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Quit")
	}
	if ticks.Load() == 0 {
		t.Error("tick callback never fired")
	}
	if renders.Load() == 0 {
		t.Error("render callback never fired")
	}
}

func TestQuitIsIdempotent(t *testing.T) {
	e := NewEngine()
	e.Quit()
	e.Quit()
}

func TestFrameTimesFlowIntoProfiler(t *testing.T) {
	e := NewEngine(WithRenderFrameLimit(240))

	done := make(chan struct{})
	go func() {
		e.Run()
		close(done)
	}()
	time.Sleep(100 * time.Millisecond)
	e.Quit()
	<-done

	if e.Profiler().AverageFrameTimeMs() <= 0 {
		t.Error("profiler recorded no frame times from the render loop")
	}
}
