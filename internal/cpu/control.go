package cpu

import (
	"errors"
	"fmt"

	"github.com/arcvm/arcvm/internal/arch"
	"github.com/arcvm/arcvm/internal/instr"
	"github.com/arcvm/arcvm/internal/interrupt"
	"github.com/arcvm/arcvm/internal/regfile"
)

// execBranch evaluates a conditional/unconditional jump's STS
// predicate (spec.md §4.2 "Branch semantics") and returns either the
// operand's target address or nextIP when not taken.
func (e *Engine) execBranch(ins instr.SimpleInstruction, nextIP uint64) (uint64, error) {
	sts := e.regs.Status().Value()
	carry := sts&flagCarry != 0
	zero := sts&flagZero != 0
	sign := sts&flagSign != 0
	overflow := sts&flagOverflow != 0
	less := sign != overflow

	var taken bool
	switch ins.Opcode {
	case arch.OpJmp:
		taken = true
	case arch.OpJc:
		taken = carry
	case arch.OpJnc:
		taken = !carry
	case arch.OpJz:
		taken = zero
	case arch.OpJnz:
		taken = !zero
	case arch.OpJl:
		taken = less
	case arch.OpJle:
		taken = less || zero
	case arch.OpJnl:
		taken = !less
	case arch.OpJnle:
		taken = !(less || zero)
	default:
		return nextIP, ErrInvalidInstruction
	}

	if !taken {
		return nextIP, nil
	}
	target, err := e.readOperand(ins.Operands[0])
	if err != nil {
		return 0, err
	}
	return target, nil
}

func (e *Engine) execCall(ins instr.SimpleInstruction, nextIP uint64) (uint64, error) {
	target, err := e.readOperand(ins.Operands[0])
	if err != nil {
		return 0, err
	}
	if err := e.stk.Push(nextIP); err != nil {
		return 0, err
	}
	return target, nil
}

func (e *Engine) execRet() (uint64, error) {
	return e.stk.Pop()
}

func (e *Engine) execMov(ins instr.SimpleInstruction) error {
	v, err := e.readOperand(ins.Operands[1])
	if err != nil {
		return err
	}
	return e.writeOperand(ins.Operands[0], v)
}

func (e *Engine) execPush(ins instr.SimpleInstruction) error {
	v, err := e.readOperand(ins.Operands[0])
	if err != nil {
		return err
	}
	return e.stk.Push(v)
}

func (e *Engine) execPop(ins instr.SimpleInstruction) error {
	v, err := e.stk.Pop()
	if err != nil {
		return err
	}
	return e.writeOperand(ins.Operands[0], v)
}

// execPushAll/execPopAll push/pop R0..R15 in declared order and its
// exact reverse (spec.md §4.2).
func (e *Engine) execPushAll() error {
	for i := uint8(0); i < arch.NumGPR; i++ {
		if err := e.stk.Push(e.regs.GPR(i).Value()); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) execPopAll() error {
	for i := int(arch.NumGPR) - 1; i >= 0; i-- {
		v, err := e.stk.Pop()
		if err != nil {
			return err
		}
		e.regs.GPR(uint8(i)).SetRaw(v)
	}
	return nil
}

// requireSupervisor rejects privileged operations attempted from user
// mode with UserModeViolation, per spec.md §4.2.
func (e *Engine) requireSupervisor() error {
	if e.mode.mode == UserProtected {
		return regfile.ErrUserModeViolation
	}
	return nil
}

func (e *Engine) execInt(ins instr.SimpleInstruction, nextIP uint64) (uint64, error) {
	if err := e.requireSupervisor(); err != nil {
		return 0, err
	}
	v, err := e.readOperand(ins.Operands[0])
	if err != nil {
		return 0, err
	}
	return e.raiseInterrupt(uint8(v))
}

// raiseInterrupt drives the IDT directly for a guest `int n`, as
// opposed to deliverFault which wraps a host-detected exception. An
// unhandled/double-faulting vector still terminates the guest.
func (e *Engine) raiseInterrupt(vector uint8) (uint64, error) {
	ip := e.regs.IP().Value()
	err := e.idt.Raise(vector)
	switch {
	case err == nil:
		return e.regs.IP().Value(), nil
	case errors.Is(err, interrupt.ErrUnhandled):
		return 0, &Halted{Reason: HaltUnhandledException, Message: interrupt.Diagnostic(vector, ip)}
	case errors.Is(err, interrupt.ErrDoubleFault):
		return 0, &Halted{Reason: HaltDoubleFault, Message: fmt.Sprintf("double fault raising vector %d at ip %#x", vector, ip)}
	default:
		return 0, err
	}
}

func (e *Engine) execLidt(ins instr.SimpleInstruction) error {
	if err := e.requireSupervisor(); err != nil {
		return err
	}
	addr, err := e.readOperand(ins.Operands[0])
	if err != nil {
		return err
	}
	return e.idt.Lidt(e.cur, addr)
}

func (e *Engine) execIret() (uint64, error) {
	if err := e.requireSupervisor(); err != nil {
		return 0, err
	}
	if err := e.idt.Iret(); err != nil {
		return 0, err
	}
	return e.regs.IP().Value(), nil
}

// execSyscall exits user mode: STS and CR1 swap, next-IP comes from
// the saved CR2, and SCP is reseated from R15 (spec.md §4.2). syscall
// is only valid from user mode — attempting it from supervisor is a
// SupervisorModeViolation (the wrong half of protected mode for this
// transition).
func (e *Engine) execSyscall(nextIP uint64) (uint64, error) {
	if e.mode.mode != UserProtected {
		return 0, ErrSupervisorModeViolation
	}
	sts := e.regs.Status().Value()
	cr1 := e.regs.CR(1).Value()
	e.regs.Status().SetRaw(cr1)
	e.regs.CR(1).SetRaw(sts)
	target := e.regs.CR(2).Value()
	e.regs.SCP().SetRaw(e.regs.GPR(15).Value())
	e.mode.mode = SupervisorProtected
	return target, nil
}

// execSysret reverses syscall: STS/CR1 swap back, next-IP comes from
// R14, and the guest re-enters user mode. Only valid from supervisor.
func (e *Engine) execSysret() (uint64, error) {
	if err := e.requireSupervisor(); err != nil {
		return 0, err
	}
	sts := e.regs.Status().Value()
	cr1 := e.regs.CR(1).Value()
	e.regs.Status().SetRaw(cr1)
	e.regs.CR(1).SetRaw(sts)
	target := e.regs.GPR(14).Value()
	e.mode.mode = UserProtected
	return target, nil
}

// execEnterUser enters user mode fresh at addr, with no STS/CR1
// exchange (there is no prior user context to resume).
func (e *Engine) execEnterUser(ins instr.SimpleInstruction) (uint64, error) {
	if err := e.requireSupervisor(); err != nil {
		return 0, err
	}
	target, err := e.readOperand(ins.Operands[0])
	if err != nil {
		return 0, err
	}
	e.mode.mode = UserProtected
	return target, nil
}
