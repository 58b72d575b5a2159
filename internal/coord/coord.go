// Package coord implements the execution-control coordination the
// engine's fetch/decode/execute loop consults every instruction:
// pause/resume, single-step, and breakpoints. Grounded 1:1 on the
// original's four atomics and breakpoint map (Instruction.cpp), but
// expressed with a mutex and condition variable rather than raw
// atomic wait/notify, which Go's atomic package does not expose.
package coord

import "sync"

// Decision is what the engine's loop should do for the instruction at
// the gated IP.
type Decision int

const (
	// Execute means decode and run the instruction normally.
	Execute Decision = iota
	// Skip means the loop should spin again without executing
	// anything (paused, or a breakpoint just fired).
	Skip
	// Stop means the loop must exit; the engine has been terminated.
	Stop
)

// RunState is a snapshot of the four control flags, saved by
// StopExecution and restored by AllowExecution — mirrors the
// original's InstructionExecutionRunState.
type RunState struct {
	Terminate bool
	Running   bool
	Allowed   bool
	AllowOne  bool
}

// Coordinator gates the engine loop and owns the breakpoint table.
type Coordinator struct {
	mu   sync.Mutex
	cond *sync.Cond

	allowed   bool
	running   bool
	terminate bool
	allowOne  bool

	breakpoints        map[uint64]func(uint64)
	breakpointsEnabled bool
	currentAddr        uint64
	currentCb          func(uint64)
	breakpointHit      bool
}

// New builds a Coordinator with execution allowed and nothing running.
func New() *Coordinator {
	c := &Coordinator{allowed: true, breakpoints: make(map[uint64]func(uint64))}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// StopExecution requests termination and blocks until the engine loop
// observes it and stops running. If save is true, the prior flag
// state is captured so a later AllowExecution can restore it.
func (c *Coordinator) StopExecution(save bool) *RunState {
	c.mu.Lock()
	var snap *RunState
	if save {
		snap = &RunState{Terminate: c.terminate, Running: c.running, Allowed: c.allowed, AllowOne: c.allowOne}
	}
	c.terminate = true
	c.cond.Broadcast()
	for c.running {
		c.cond.Wait()
	}
	c.mu.Unlock()
	return snap
}

// PauseExecution clears the allowed flag and blocks until the engine
// loop has observed it and stopped running.
func (c *Coordinator) PauseExecution() {
	c.mu.Lock()
	c.allowed = false
	c.cond.Broadcast()
	for c.running {
		c.cond.Wait()
	}
	c.mu.Unlock()
}

// AllowExecution resumes the loop. With a saved state it restores the
// exact prior flags (used after a temporary StopExecution); with nil
// it clears terminate and sets allowed, the normal "resume running"
// case.
func (c *Coordinator) AllowExecution(saved *RunState) {
	c.mu.Lock()
	if saved != nil {
		c.allowOne = saved.AllowOne
		c.allowed = saved.Allowed
		c.terminate = saved.Terminate
	} else {
		c.terminate = false
		c.allowed = true
	}
	c.cond.Broadcast()
	c.mu.Unlock()
}

// AllowOneInstruction arms a single-step and blocks until that one
// instruction has executed.
func (c *Coordinator) AllowOneInstruction() {
	c.mu.Lock()
	c.allowOne = true
	c.allowed = true
	c.cond.Broadcast()
	for c.allowOne {
		c.cond.Wait()
	}
	for c.running {
		c.cond.Wait()
	}
	c.mu.Unlock()
}

// AddBreakpoint installs a callback to fire the next time IP reaches
// address, and enables breakpoint checking.
func (c *Coordinator) AddBreakpoint(address uint64, callback func(uint64)) {
	c.mu.Lock()
	c.breakpoints[address] = callback
	c.breakpointsEnabled = true
	c.mu.Unlock()
}

// RemoveBreakpoint clears any breakpoint at address. If address is the
// one currently paused on (a callback just fired and execution hasn't
// stepped off it yet), this also cancels the pending re-arm so Gate
// does not restore it once IP moves away.
func (c *Coordinator) RemoveBreakpoint(address uint64) {
	c.mu.Lock()
	delete(c.breakpoints, address)
	if c.breakpointHit && c.currentAddr == address {
		c.breakpointHit = false
	}
	c.mu.Unlock()
}

// Gate is called once per loop iteration before fetch/decode. It
// reports what the loop should do next for ip, and — on Execute —
// re-arms any breakpoint that just fired on a prior IP (so stepping
// off a breakpoint's address restores it).
func (c *Coordinator) Gate(ip uint64) Decision {
	c.mu.Lock()

	if c.terminate {
		c.running = false
		c.cond.Broadcast()
		c.mu.Unlock()
		return Stop
	}

	if !c.allowed {
		if c.running {
			c.running = false
			c.cond.Broadcast()
		}
		for !c.allowed && !c.terminate {
			c.cond.Wait()
		}
		c.mu.Unlock()
		return Skip
	}

	if !c.running {
		c.running = true
		c.cond.Broadcast()
	}

	if c.allowOne {
		c.running = true
		c.allowOne = false
		c.cond.Broadcast()
		c.allowed = false
	}

	if c.breakpointsEnabled && !c.allowOne {
		if cb, ok := c.breakpoints[ip]; ok {
			c.running = false
			c.allowed = false
			c.cond.Broadcast()

			c.currentAddr = ip
			c.currentCb = cb
			c.breakpointHit = true
			delete(c.breakpoints, ip)
			c.mu.Unlock()

			cb(ip)
			return Skip
		}
	}

	if c.breakpointHit && c.currentAddr != ip {
		c.breakpoints[c.currentAddr] = c.currentCb
		c.breakpointHit = false
	}

	c.mu.Unlock()
	return Execute
}
