// Package cpu implements the execution engine: the fetch/decode/
// dispatch loop, ALU and branch semantics, stack and control-transfer
// instructions, and the CPU mode state machine. Grounded on
// original_source/Emulator/src/Instruction/Instruction.cpp's dispatch
// shape, cross-checked against IntuitionEngine/cpu_ie64.go's loop
// structure (local running flag + periodic atomic check).
package cpu

import (
	"errors"
	"fmt"

	"github.com/arcvm/arcvm/internal/arch"
	"github.com/arcvm/arcvm/internal/coord"
	"github.com/arcvm/arcvm/internal/icache"
	"github.com/arcvm/arcvm/internal/instr"
	"github.com/arcvm/arcvm/internal/interrupt"
	"github.com/arcvm/arcvm/internal/memory"
	"github.com/arcvm/arcvm/internal/regfile"
	"github.com/arcvm/arcvm/internal/stack"
	"github.com/arcvm/arcvm/internal/vmmu"
)

// Memory is the address-space capability the engine needs from
// whichever manager is current (physical MMU or virtual page walker).
type Memory interface {
	Read8(addr uint64) (uint8, error)
	Read16(addr uint64) (uint16, error)
	Read32(addr uint64) (uint32, error)
	Read64(addr uint64) (uint64, error)
	Write8(addr uint64, v uint8) error
	Write16(addr uint64, v uint16) error
	Write32(addr uint64, v uint32) error
	Write64(addr uint64, v uint64) error
}

// Engine is one guest CPU: its registers, address spaces, stack,
// interrupt controller, instruction cache and coordination gate.
type Engine struct {
	regs *regfile.File
	mode *modeState

	phys *memory.MMU
	vm   *vmmu.Walker
	cur  Memory // whichever of phys/vm is active

	stk   *stack.Stack
	idt   *interrupt.Controller
	ic    *icache.Cache
	Coord *coord.Coordinator

	halted *Halted
}

// New builds an Engine over phys, with IP at entry and mode
// ProtectedOff, matching spec.md §6's boot state.
func New(phys *memory.MMU, entry uint64) *Engine {
	e := &Engine{phys: phys, mode: &modeState{mode: ProtectedOff}}
	e.regs = regfile.New(e.mode)
	e.stk = stack.New(e.regs, phys)
	e.idt = interrupt.New(e.regs, e.stk)
	e.Coord = coord.New()
	e.ic = icache.New(icache.DefaultWindowSize)
	e.cur = phys

	e.regs.IP().SetRaw(entry)
	e.ic.Init(phys, entry)
	return e
}

// Reboot replaces the physical address space and restarts the fetch
// loop at entry: a fresh stack, IDT and instruction cache bound to
// phys, mode reset to ProtectedOff, any paging torn down. The register
// file itself is preserved (NewMMU is a reset of the address space,
// not a fresh guest). Callers must join the execution goroutine (via
// Coord.StopExecution) before calling this and respawn it afterward.
func (e *Engine) Reboot(phys *memory.MMU, entry uint64) {
	e.phys = phys
	e.vm = nil
	e.cur = phys
	e.stk = stack.New(e.regs, phys)
	e.idt = interrupt.New(e.regs, e.stk)
	e.ic = icache.New(icache.DefaultWindowSize)
	e.mode.mode = ProtectedOff
	e.halted = nil

	e.regs.IP().SetRaw(entry)
	e.ic.Init(phys, entry)
}

// Mode reports the engine's current CPU mode.
func (e *Engine) Mode() Mode { return e.mode.mode }

// Registers exposes the register file for the debug interface and
// tests.
func (e *Engine) Registers() *regfile.File { return e.regs }

// Physical exposes the physical MMU (info/dump commands read it
// regardless of whether paging is active).
func (e *Engine) Physical() *memory.MMU { return e.phys }

// Halted reports the reason execution stopped, if it has.
func (e *Engine) Halted() *Halted { return e.halted }

// Translate resolves a virtual address to its physical address under
// the engine's current paging state, for the debug interface's "dump
// virt" command. With paging disabled this is the identity mapping.
func (e *Engine) Translate(vaddr uint64) (uint64, error) {
	if e.vm == nil {
		return vaddr, nil
	}
	return e.vm.Translate(vaddr)
}

// RaiseDeviceInterrupt delivers a device-raised vector (spec.md §4.7)
// through the same IDT path a guest `int n` uses. Called by the I/O
// bus's interrupt sink between instructions, never from inside Step's
// own dispatch.
func (e *Engine) RaiseDeviceInterrupt(vector uint8) error {
	_, err := e.raiseInterrupt(vector)
	if h, ok := err.(*Halted); ok {
		e.halted = h
		return nil
	}
	return err
}

// Run drives the fetch/decode/dispatch loop until the coordinator
// reports Stop or the guest halts/takes an unhandled exception.
func (e *Engine) Run() error {
	for {
		ip := e.regs.IP().Value()
		switch e.Coord.Gate(ip) {
		case coord.Stop:
			return nil
		case coord.Skip:
			continue
		case coord.Execute:
			if err := e.Step(); err != nil {
				var h *Halted
				if errors.As(err, &h) {
					e.halted = h
					return h
				}
				return err
			}
			if e.halted != nil {
				return e.halted
			}
		}
	}
}

// Step executes exactly one instruction at the current IP.
func (e *Engine) Step() error {
	ip := e.regs.IP().Value()

	if err := e.ic.MaybeSetBaseAddress(ip); err != nil {
		return e.deliverFault(interrupt.VecPhysMemViolation, ip)
	}
	start := e.ic.Position()

	dec := instr.Decoder{}
	ins, err := dec.Decode(e.ic)
	if err != nil {
		return e.deliverFault(interrupt.VecInvalidInstruction, ip)
	}
	nextIP := ip + (e.ic.Position() - start)

	newIP, execErr := e.dispatch(ins, ip, nextIP)
	if execErr != nil {
		if vector, ok := faultVector(execErr); ok {
			return e.deliverFault(vector, ip)
		}
		return execErr
	}

	if e.halted != nil {
		return e.halted
	}

	if err := e.syncRegisters(); err != nil {
		if vector, ok := faultVector(err); ok {
			return e.deliverFault(vector, ip)
		}
		return err
	}
	e.regs.IP().SetRaw(newIP)
	return nil
}

func faultVector(err error) (uint8, bool) {
	switch {
	case errors.Is(err, ErrDivByZero):
		return interrupt.VecDivByZero, true
	case errors.Is(err, ErrIntegerOverflow):
		return interrupt.VecIntegerOverflow, true
	case errors.Is(err, ErrInvalidInstruction):
		return interrupt.VecInvalidInstruction, true
	case errors.Is(err, regfile.ErrUserModeViolation):
		return interrupt.VecUserModeViolation, true
	case errors.Is(err, ErrSupervisorModeViolation):
		return interrupt.VecSupervisorModeViolation, true
	}
	var f *memory.Fault
	if errors.As(err, &f) {
		return interrupt.VecPhysMemViolation, true
	}
	var tf *vmmu.TranslationFault
	if errors.As(err, &tf) {
		return interrupt.VecPhysMemViolation, true
	}
	return 0, false
}

// deliverFault raises vector through the IDT, translating an unhandled
// or double-faulting delivery into a guest halt rather than a host
// error (spec.md §4.6: "terminate the guest with a diagnostic").
func (e *Engine) deliverFault(vector uint8, ip uint64) error {
	err := e.idt.Raise(vector)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, interrupt.ErrUnhandled):
		return &Halted{Reason: HaltUnhandledException, Message: interrupt.Diagnostic(vector, ip)}
	case errors.Is(err, interrupt.ErrDoubleFault):
		return &Halted{Reason: HaltDoubleFault, Message: fmt.Sprintf("double fault raising vector %d at ip %#x", vector, ip)}
	default:
		return err
	}
}

// syncRegisters is loop step 5: react to a dirty CR0 by re-deriving
// mode/paging state, per SPEC_FULL.md §4.2.
func (e *Engine) syncRegisters() error {
	cr0 := e.regs.CR(0)
	if !cr0.Dirty() {
		return nil
	}
	cr0.ClearDirty()

	v := cr0.Value()
	protected := v&(1<<arch.CR0BitProtected) != 0
	paging := v&(1<<arch.CR0BitPaging) != 0

	if protected && e.mode.mode == ProtectedOff {
		e.mode.mode = SupervisorProtected
	} else if !protected {
		e.mode.mode = ProtectedOff
	}

	switch {
	case paging && e.vm == nil:
		size := arch.PageSizeSel((v >> arch.CR0PageSizeLSB) & 0x3)
		levels := arch.LevelSel((v >> arch.CR0LevelsLSB) & 0x7)
		if arch.InvalidPagingConfig(size, levels) {
			// Roll back only the paging bit; protected-mode and any
			// other bits written this instruction commit.
			cr0.SetRaw(v &^ (1 << arch.CR0BitPaging))
			return ErrInvalidInstruction
		}
		root := e.regs.CR(3).Value()
		e.vm = vmmu.New(e.phys, root, size, levels)
		e.cur = e.vm
		e.ic.UpdateMMU(e.cur)
	case !paging && e.vm != nil:
		e.vm = nil
		e.cur = e.phys
		e.ic.UpdateMMU(e.cur)
	}
	return nil
}

// dispatch executes ins and returns the IP the next instruction should
// start at (nextIP unless a control transfer overrides it).
func (e *Engine) dispatch(ins instr.SimpleInstruction, ip, nextIP uint64) (uint64, error) {
	op := ins.Opcode
	switch {
	case op <= arch.OpXnor:
		return nextIP, e.execALU(ins)
	case arch.IsBranch(op):
		return e.execBranch(ins, nextIP)
	}

	switch op {
	case arch.OpRet:
		return e.execRet()
	case arch.OpCall:
		return e.execCall(ins, nextIP)
	case arch.OpMov:
		return nextIP, e.execMov(ins)
	case arch.OpNop:
		return nextIP, nil
	case arch.OpHlt:
		e.halted = &Halted{Reason: HaltInstruction, Message: "hlt"}
		return nextIP, nil
	case arch.OpPush:
		return nextIP, e.execPush(ins)
	case arch.OpPop:
		return nextIP, e.execPop(ins)
	case arch.OpPusha:
		return nextIP, e.execPushAll()
	case arch.OpPopa:
		return nextIP, e.execPopAll()
	case arch.OpInt:
		return e.execInt(ins, nextIP)
	case arch.OpLidt:
		return nextIP, e.execLidt(ins)
	case arch.OpIret:
		return e.execIret()
	case arch.OpSyscall:
		return e.execSyscall(nextIP)
	case arch.OpSysret:
		return e.execSysret()
	case arch.OpEnterUser:
		return e.execEnterUser(ins)
	case arch.OpInc:
		return nextIP, e.execIncDec(ins, 1)
	case arch.OpDec:
		return nextIP, e.execIncDec(ins, ^uint64(0))
	default:
		return nextIP, ErrInvalidInstruction
	}
}
