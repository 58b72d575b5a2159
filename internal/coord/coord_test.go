package coord

import (
	"sync"
	"testing"
	"time"
)

// runLoop pumps Gate in a goroutine until it returns Stop, counting
// executed instructions.
func runLoop(c *Coordinator, ips []uint64) *int32counter {
	cnt := &int32counter{}
	go func() {
		i := 0
		for {
			ip := ips[i%len(ips)]
			switch c.Gate(ip) {
			case Stop:
				return
			case Skip:
				continue
			case Execute:
				cnt.inc()
				i++
			}
		}
	}()
	return cnt
}

type int32counter struct {
	mu sync.Mutex
	n  int
}

func (c *int32counter) inc() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func (c *int32counter) get() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

func TestStopExecutionHalts(t *testing.T) {
	c := New()
	cnt := runLoop(c, []uint64{0x1000, 0x1001, 0x1002})
	time.Sleep(10 * time.Millisecond)
	c.StopExecution(false)
	n1 := cnt.get()
	time.Sleep(10 * time.Millisecond)
	n2 := cnt.get()
	if n1 != n2 {
		t.Fatalf("instructions still executing after stop: %d -> %d", n1, n2)
	}
}

func TestPauseAndResume(t *testing.T) {
	c := New()
	cnt := runLoop(c, []uint64{0x2000})
	time.Sleep(10 * time.Millisecond)
	c.PauseExecution()
	n1 := cnt.get()
	time.Sleep(10 * time.Millisecond)
	n2 := cnt.get()
	if n1 != n2 {
		t.Fatalf("instructions executed while paused: %d -> %d", n1, n2)
	}
	c.AllowExecution(nil)
	time.Sleep(10 * time.Millisecond)
	n3 := cnt.get()
	if n3 <= n2 {
		t.Fatalf("execution did not resume after AllowExecution: %d -> %d", n2, n3)
	}
	c.StopExecution(false)
}

// TestBreakpointFiresOnce steps past the breakpoint once and then
// holds at an address beyond it, rather than cycling back around to
// it: a persistent breakpoint legitimately re-arms and fires again
// each time IP returns to its address (Gate's re-arm-on-step-off
// behavior), so a loop that keeps revisiting 0x3002 would make this
// assertion flaky by design, not by bug.
func TestBreakpointFiresOnce(t *testing.T) {
	c := New()
	hits := 0
	var mu sync.Mutex
	c.AddBreakpoint(0x3002, func(ip uint64) {
		mu.Lock()
		hits++
		mu.Unlock()
	})

	ips := []uint64{0x3000, 0x3001, 0x3002, 0x3003}
	go func() {
		i := 0
		for {
			idx := i
			if idx >= len(ips) {
				idx = len(ips) - 1
			}
			switch c.Gate(ips[idx]) {
			case Stop:
				return
			case Skip:
				if idx == 2 {
					// breakpoint paused us; resume past it.
					c.AllowExecution(nil)
				}
				continue
			case Execute:
				i++
			}
		}
	}()

	time.Sleep(30 * time.Millisecond)
	c.StopExecution(false)

	mu.Lock()
	defer mu.Unlock()
	if hits != 1 {
		t.Fatalf("breakpoint fired %d times, want 1", hits)
	}
}

func TestRemoveBreakpointPreventsFiring(t *testing.T) {
	c := New()
	c.AddBreakpoint(0x4000, func(uint64) { t.Fatalf("breakpoint should not fire") })
	c.RemoveBreakpoint(0x4000)

	cnt := runLoop(c, []uint64{0x4000})
	time.Sleep(10 * time.Millisecond)
	c.StopExecution(false)
	if cnt.get() == 0 {
		t.Fatalf("expected some instructions to execute")
	}
}
