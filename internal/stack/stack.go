// Package stack implements push/pop through the memory the stack is
// bound to, bounds-checked against SBP/STP before SCP moves.
package stack

import (
	"github.com/arcvm/arcvm/internal/memory"
	"github.com/arcvm/arcvm/internal/regfile"
)

// Memory is the minimal accessor the stack needs; both *memory.MMU and
// *vmmu.Walker satisfy it, so the stack works unmodified whether or
// not paging is currently enabled.
type Memory interface {
	Read64(addr uint64) (uint64, error)
	Write64(addr uint64, v uint64) error
}

const elementSize = 8

// Stack wraps the SCP/SBP/STP registers and routes push/pop through its
// bound Memory; the execution engine binds it to the physical MMU.
type Stack struct {
	regs *regfile.File
	mem  Memory
}

// New builds a Stack bound to regs's SCP/SBP/STP and mem.
func New(regs *regfile.File, mem Memory) *Stack {
	return &Stack{regs: regs, mem: mem}
}

// SetMemory re-binds the stack to mem.
func (s *Stack) SetMemory(mem Memory) { s.mem = mem }

// Push writes v at SCP-8 and decrements SCP, after checking the write
// will not cross below SBP. A violation raises a *memory.Fault at the
// address that would have been written, per spec.md §4.5: stack
// bounds failures are phys-mem violations, not a separate exception.
func (s *Stack) Push(v uint64) error {
	scp := s.regs.SCP().Value()
	target := scp - elementSize
	if target < s.regs.SBP().Value() {
		return &memory.Fault{Addr: target}
	}
	if err := s.mem.Write64(target, v); err != nil {
		return err
	}
	s.regs.SCP().SetRaw(target)
	return nil
}

// Pop reads the value at SCP and increments SCP, after checking the
// read will not cross at-or-above STP.
func (s *Stack) Pop() (uint64, error) {
	scp := s.regs.SCP().Value()
	stp := s.regs.STP().Value()
	if scp > stp-elementSize {
		return 0, &memory.Fault{Addr: scp}
	}
	v, err := s.mem.Read64(scp)
	if err != nil {
		return 0, err
	}
	s.regs.SCP().SetRaw(scp + elementSize)
	return v, nil
}

// PushAll pushes regs.GPR(0)..GPR(15) in declared order.
func (s *Stack) PushAll() error {
	for i := uint8(0); i < 16; i++ {
		if err := s.Push(s.regs.GPR(i).Value()); err != nil {
			return err
		}
	}
	return nil
}

// PopAll pops into GPR(15)..GPR(0), the exact reverse of PushAll.
func (s *Stack) PopAll() error {
	for i := int(15); i >= 0; i-- {
		v, err := s.Pop()
		if err != nil {
			return err
		}
		s.regs.GPR(uint8(i)).SetRaw(v)
	}
	return nil
}
