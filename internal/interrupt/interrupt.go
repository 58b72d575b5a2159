// Package interrupt implements the IDT and the exception/interrupt
// delivery pipeline: fixed low vectors for guest exceptions, device
// vectors starting at 32, and iret's reverse transition.
package interrupt

import (
	"errors"
	"fmt"

	"github.com/arcvm/arcvm/internal/regfile"
	"github.com/arcvm/arcvm/internal/stack"
)

// Fixed exception vectors, matching spec.md §4.6's "fixed interrupt
// vectors" language; device interrupts (§4.7) start at 32.
const (
	VecDivByZero               = 0
	VecIntegerOverflow         = 1
	VecInvalidInstruction      = 2
	VecPhysMemViolation        = 3
	VecUserModeViolation       = 4
	VecSupervisorModeViolation = 5
	VecDeviceBase              = 32
)

// ErrUnhandled is returned by Raise when the IDT has no handler
// installed (never loaded, or the targeted entry isn't present); the
// caller is expected to terminate the guest with a diagnostic rather
// than treat this as a guest-visible fault.
var ErrUnhandled = errors.New("interrupt: no handler installed")

// ErrDoubleFault is returned by Raise when an exception occurs while
// already inside a handler; spec.md §4.6 specifies no double-fault
// chaining, so this always terminates the guest.
var ErrDoubleFault = errors.New("interrupt: exception inside handler, no double-fault chaining")

const entryPresent = 1 << 0

// Entry is one IDT slot: a handler instruction pointer and a flag set
// (bit 0: present).
type Entry struct {
	HandlerIP uint64
	Flags     uint8
}

func (e Entry) Present() bool { return e.Flags&entryPresent != 0 }

// Memory is the read access the IDT needs to load itself from guest
// memory via lidt.
type Memory interface {
	Read64(addr uint64) (uint64, error)
	Read8(addr uint64) (uint8, error)
}

// Controller owns the 256-entry IDT and drives interrupt/exception
// delivery against a register file and the current stack.
type Controller struct {
	entries [256]Entry
	loaded  bool
	regs    *regfile.File
	stk     *stack.Stack
	handling bool
}

// New builds a Controller with an empty (unloaded) IDT.
func New(regs *regfile.File, stk *stack.Stack) *Controller {
	return &Controller{regs: regs, stk: stk}
}

// Lidt loads the 256-entry table from mem starting at base; each entry
// is a 9-byte record (8-byte handler IP, 1-byte flags).
func (c *Controller) Lidt(mem Memory, base uint64) error {
	for i := 0; i < 256; i++ {
		off := base + uint64(i)*9
		ip, err := mem.Read64(off)
		if err != nil {
			return err
		}
		flags, err := mem.Read8(off + 8)
		if err != nil {
			return err
		}
		c.entries[i] = Entry{HandlerIP: ip, Flags: flags}
	}
	c.loaded = true
	return nil
}

// Raise delivers vector: saves STS, pushes IP then STS, sets IP to the
// handler, and clears the interrupt-mode bit (entering supervisor). If
// the IDT was never loaded, or the targeted entry isn't present, it
// returns ErrUnhandled; if already inside a handler, ErrDoubleFault.
func (c *Controller) Raise(vector uint8) error {
	if c.handling {
		return ErrDoubleFault
	}
	if !c.loaded || !c.entries[vector].Present() {
		return ErrUnhandled
	}

	if err := c.stk.Push(c.regs.IP().Value()); err != nil {
		return err
	}
	if err := c.stk.Push(c.regs.Status().Value()); err != nil {
		return err
	}

	c.handling = true
	c.regs.IP().SetRaw(c.entries[vector].HandlerIP)
	c.clearInterruptMode()
	return nil
}

// Iret reverses Raise: pops STS then IP, restoring the interrupted
// context, and ends the no-nesting guard.
func (c *Controller) Iret() error {
	sts, err := c.stk.Pop()
	if err != nil {
		return err
	}
	ip, err := c.stk.Pop()
	if err != nil {
		return err
	}
	c.regs.Status().SetRaw(sts)
	c.regs.IP().SetRaw(ip)
	c.handling = false
	return nil
}

// statusInterruptModeBit is STS's interrupt/I-O mode bit, the first
// bit past the four condition codes (carry/zero/sign/overflow).
const statusInterruptModeBit = 1 << 4

func (c *Controller) clearInterruptMode() {
	v := c.regs.Status().Value()
	c.regs.Status().SetRaw(v &^ statusInterruptModeBit)
}

// Diagnostic formats the unhandled-IDT termination message.
func Diagnostic(vector uint8, ip uint64) string {
	return fmt.Sprintf("unhandled interrupt vector %d at ip %#x, IDT not initialized", vector, ip)
}
