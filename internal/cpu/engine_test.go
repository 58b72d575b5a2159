package cpu

import (
	"errors"
	"testing"

	"github.com/arcvm/arcvm/internal/arch"
	"github.com/arcvm/arcvm/internal/coord"
	"github.com/arcvm/arcvm/internal/instr"
	"github.com/arcvm/arcvm/internal/memory"
	"github.com/arcvm/arcvm/internal/vmmu"
)

const testEntry = 0xF0000000

func newScenarioEngine(t *testing.T, regionSize uint64) *Engine {
	t.Helper()
	m := memory.NewMMU()
	if err := m.AddRegion(memory.NewStandardRegion(testEntry, regionSize)); err != nil {
		t.Fatalf("add region: %v", err)
	}
	e := New(m, testEntry)
	e.regs.SBP().SetRaw(testEntry + 0x5000)
	e.regs.STP().SetRaw(testEntry + 0x6000)
	e.regs.SCP().SetRaw(testEntry + 0x6000)
	return e
}

func encodeAll(t *testing.T, instructions ...instr.Instruction) []byte {
	t.Helper()
	var enc instr.Encoder
	for _, ins := range instructions {
		if _, err := enc.Encode(ins); err != nil {
			t.Fatalf("encode %v: %v", ins.Opcode, err)
		}
	}
	return enc.Bytes()
}

func immOperand(v uint64, size arch.OperandSize) instr.Operand {
	return instr.Operand{Kind: arch.KindImmediate, Imm: v, Size: size}
}

// Scenario 1: program `[0x22]` (hlt) at base → emulator exits via a
// HaltInstruction halt, STS unchanged.
func TestScenarioHelloHlt(t *testing.T) {
	e := newScenarioEngine(t, 0x10000)
	prog := encodeAll(t, instr.Instruction{Opcode: arch.OpHlt})
	if err := e.phys.WriteBuffer(testEntry, prog); err != nil {
		t.Fatalf("write program: %v", err)
	}
	// New filled the instruction cache before the program was written.
	if err := e.ic.Init(e.phys, testEntry); err != nil {
		t.Fatalf("refill instruction cache: %v", err)
	}
	stsBefore := e.regs.Status().Value()

	err := e.Run()
	var h *Halted
	if !errors.As(err, &h) || h.Reason != HaltInstruction {
		t.Fatalf("Run() = %v, want HaltInstruction", err)
	}
	if got := e.regs.Status().Value(); got != stsBefore {
		t.Fatalf("STS changed: %#x -> %#x", stsBefore, got)
	}
}

// Scenario 2: mov R0, imm8 5; add R0, imm8 7; hlt → R0=12, carry=0,
// zero=0.
func TestScenarioAddTwoImmediates(t *testing.T) {
	e := newScenarioEngine(t, 0x10000)
	prog := encodeAll(t,
		instr.Instruction{Opcode: arch.OpMov, Operands: []instr.Operand{
			regOperand(0, arch.Byte), immOperand(5, arch.Byte),
		}},
		instr.Instruction{Opcode: arch.OpAdd, Operands: []instr.Operand{
			regOperand(0, arch.Byte), immOperand(7, arch.Byte),
		}},
		instr.Instruction{Opcode: arch.OpHlt},
	)
	if err := e.phys.WriteBuffer(testEntry, prog); err != nil {
		t.Fatalf("write program: %v", err)
	}
	if err := e.ic.Init(e.phys, testEntry); err != nil {
		t.Fatalf("refill instruction cache: %v", err)
	}

	var h *Halted
	if err := e.Run(); !errors.As(err, &h) {
		t.Fatalf("Run() = %v, want Halted", err)
	}
	if got := e.regs.GPR(0).Value(); got != 12 {
		t.Fatalf("R0 = %d, want 12", got)
	}
	carry, zero, _, _ := statusBits(e)
	if carry || zero {
		t.Fatalf("carry=%v zero=%v, want both false", carry, zero)
	}
}

// Scenario 3: `div R1, R0, R2` with R2=0 raises an exception; a test
// IDT handler sets R15=0xDEAD and hlts, observed after halt.
func TestScenarioDivByZeroHandledByIDT(t *testing.T) {
	e := newScenarioEngine(t, 0x20000)

	const handlerAddr = testEntry + 0x1000
	const idtBase = testEntry + 0x2000

	prog := encodeAll(t,
		instr.Instruction{Opcode: arch.OpLidt, Operands: []instr.Operand{immOperand(idtBase, arch.Qword)}},
		instr.Instruction{Opcode: arch.OpDiv, Operands: []instr.Operand{
			regOperand(1, arch.Qword), regOperand(0, arch.Qword), regOperand(2, arch.Qword),
		}},
	)
	if err := e.phys.WriteBuffer(testEntry, prog); err != nil {
		t.Fatalf("write program: %v", err)
	}

	handlerProg := encodeAll(t,
		instr.Instruction{Opcode: arch.OpMov, Operands: []instr.Operand{
			regOperand(15, arch.Qword), immOperand(0xDEAD, arch.Qword),
		}},
		instr.Instruction{Opcode: arch.OpHlt},
	)
	if err := e.phys.WriteBuffer(handlerAddr, handlerProg); err != nil {
		t.Fatalf("write handler: %v", err)
	}
	if err := e.ic.Init(e.phys, testEntry); err != nil {
		t.Fatalf("refill instruction cache: %v", err)
	}

	if err := e.phys.Write64(idtBase, handlerAddr); err != nil {
		t.Fatalf("write idt handler ip: %v", err)
	}
	if err := e.phys.Write8(idtBase+8, 1); err != nil {
		t.Fatalf("write idt flags: %v", err)
	}

	e.regs.GPR(2).SetRaw(0) // divisor

	var h *Halted
	if err := e.Run(); !errors.As(err, &h) || h.Reason != HaltInstruction {
		t.Fatalf("Run() = %v, want HaltInstruction from handler", err)
	}
	if got := e.regs.GPR(15).Value(); got != 0xDEAD {
		t.Fatalf("R15 = %#x, want 0xDEAD", got)
	}
}

// Scenario 4: SBP=0x100, STP=0x200, SCP=0x200; push R0=0xAA; push
// R1=0xBB; pop R2; pop R3 → R2=0xBB, R3=0xAA, SCP=0x200.
func TestScenarioStackRoundTrip(t *testing.T) {
	e := newScenarioEngine(t, 0x10000)
	e.regs.SBP().SetRaw(testEntry + 0x100)
	e.regs.STP().SetRaw(testEntry + 0x200)
	e.regs.SCP().SetRaw(testEntry + 0x200)
	e.regs.GPR(0).SetRaw(0xAA)
	e.regs.GPR(1).SetRaw(0xBB)

	prog := encodeAll(t,
		instr.Instruction{Opcode: arch.OpPush, Operands: []instr.Operand{regOperand(0, arch.Qword)}},
		instr.Instruction{Opcode: arch.OpPush, Operands: []instr.Operand{regOperand(1, arch.Qword)}},
		instr.Instruction{Opcode: arch.OpPop, Operands: []instr.Operand{regOperand(2, arch.Qword)}},
		instr.Instruction{Opcode: arch.OpPop, Operands: []instr.Operand{regOperand(3, arch.Qword)}},
		instr.Instruction{Opcode: arch.OpHlt},
	)
	if err := e.phys.WriteBuffer(testEntry, prog); err != nil {
		t.Fatalf("write program: %v", err)
	}
	if err := e.ic.Init(e.phys, testEntry); err != nil {
		t.Fatalf("refill instruction cache: %v", err)
	}

	var h *Halted
	if err := e.Run(); !errors.As(err, &h) {
		t.Fatalf("Run() = %v, want Halted", err)
	}
	if got := e.regs.GPR(2).Value(); got != 0xBB {
		t.Fatalf("R2 = %#x, want 0xBB", got)
	}
	if got := e.regs.GPR(3).Value(); got != 0xAA {
		t.Fatalf("R3 = %#x, want 0xAA", got)
	}
	if got := e.regs.SCP().Value(); got != testEntry+0x200 {
		t.Fatalf("SCP = %#x, want unchanged", got)
	}
}

// Scenario 5: a 4KiB/3-level table maps vaddr 0x1000 to paddr 0x8000;
// enabling paging (CR0 bits 0,1) and setting CR3 makes the current
// address space resolve 0x1000 to that physical frame.
func TestScenarioPagingEnableTranslate(t *testing.T) {
	e := newScenarioEngine(t, 0x10000)

	const root = testEntry + 0x2000
	const table1 = testEntry + 0x3000
	const table2 = testEntry + 0x4000
	const frame = testEntry + 0x8000

	write := func(addr uint64, entry vmmu.Entry) {
		if err := e.phys.Write64(addr, uint64(entry)); err != nil {
			t.Fatalf("write page table entry at %#x: %v", addr, err)
		}
	}
	write(root, vmmu.MakeEntry(table1, true, true, false, false))
	write(table1, vmmu.MakeEntry(table2, true, true, false, false))
	write(table2+1*8, vmmu.MakeEntry(frame, true, true, false, false))
	if err := e.phys.Write8(frame, 0x42); err != nil {
		t.Fatalf("write frame byte: %v", err)
	}

	e.regs.CR(3).SetRaw(root)
	cr0 := uint64(1<<arch.CR0BitProtected) | uint64(1<<arch.CR0BitPaging) |
		uint64(arch.PageSize4KiB)<<arch.CR0PageSizeLSB | uint64(arch.Levels3)<<arch.CR0LevelsLSB
	e.regs.CR(0).SetRaw(cr0)

	if err := e.syncRegisters(); err != nil {
		t.Fatalf("syncRegisters: %v", err)
	}
	if e.vm == nil {
		t.Fatal("paging not enabled: e.vm is nil")
	}

	v, err := e.cur.Read8(0x1000)
	if err != nil {
		t.Fatalf("translated read: %v", err)
	}
	if v != 0x42 {
		t.Fatalf("translated byte = %#x, want 0x42", v)
	}
}

// Scenario 6: a breakpoint set on the current IP fires exactly once
// when the coordinator gates a self-looping `jmp .`; a single-step
// afterward reports the same IP again.
func TestScenarioBreakpointThenStep(t *testing.T) {
	e := newScenarioEngine(t, 0x10000)
	prog := encodeAll(t, instr.Instruction{Opcode: arch.OpJmp, Operands: []instr.Operand{immOperand(testEntry, arch.Qword)}})
	if err := e.phys.WriteBuffer(testEntry, prog); err != nil {
		t.Fatalf("write program: %v", err)
	}
	if err := e.ic.Init(e.phys, testEntry); err != nil {
		t.Fatalf("refill instruction cache: %v", err)
	}

	var hits int
	e.Coord.AddBreakpoint(testEntry, func(uint64) { hits++ })

	if got := e.Coord.Gate(testEntry); got != coord.Skip {
		t.Fatalf("first Gate() = %v, want Skip (breakpoint hit)", got)
	}
	if hits != 1 {
		t.Fatalf("hits = %d, want 1", hits)
	}

	// AllowOneInstruction blocks until a concurrent Gate() call observes
	// it, so a single-threaded resume uses AllowExecution directly.
	e.Coord.AllowExecution(nil)
	if got := e.Coord.Gate(testEntry); got != coord.Execute {
		t.Fatalf("Gate() after resume = %v, want Execute", got)
	}
	if err := e.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if got := e.regs.IP().Value(); got != testEntry {
		t.Fatalf("IP after self-loop step = %#x, want %#x", got, uint64(testEntry))
	}
}
