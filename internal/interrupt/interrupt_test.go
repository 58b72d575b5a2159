package interrupt

import (
	"testing"

	"github.com/arcvm/arcvm/internal/memory"
	"github.com/arcvm/arcvm/internal/regfile"
	"github.com/arcvm/arcvm/internal/stack"
)

type noopMode struct{}

func (noopMode) InProtectedMode() bool { return false }
func (noopMode) InUserMode() bool      { return false }

func setup(t *testing.T) (*Controller, *regfile.File, *memory.MMU) {
	t.Helper()
	m := memory.NewMMU()
	if err := m.AddRegion(memory.NewStandardRegion(0, 0x3000)); err != nil {
		t.Fatalf("add region: %v", err)
	}
	regs := regfile.New(noopMode{})
	regs.SBP().SetRaw(0x100)
	regs.STP().SetRaw(0x1000)
	regs.SCP().SetRaw(0x1000)
	s := stack.New(regs, m)
	return New(regs, s), regs, m
}

func TestRaiseUnhandledWithoutLidt(t *testing.T) {
	c, _, _ := setup(t)
	if err := c.Raise(VecDivByZero); err != ErrUnhandled {
		t.Fatalf("expected ErrUnhandled, got %v", err)
	}
}

func TestRaiseAndIretRoundTrip(t *testing.T) {
	c, regs, m := setup(t)

	const idtBase = 0x1800
	const handlerIP = 0xF0001000
	if err := m.Write64(idtBase+uint64(VecDivByZero)*9, handlerIP); err != nil {
		t.Fatalf("seed idt entry: %v", err)
	}
	if err := m.Write8(idtBase+uint64(VecDivByZero)*9+8, 1); err != nil {
		t.Fatalf("seed idt flags: %v", err)
	}
	if err := c.Lidt(m, idtBase); err != nil {
		t.Fatalf("lidt: %v", err)
	}

	regs.IP().SetRaw(0xF0000050)
	regs.Status().SetRaw(0x1F)

	if err := c.Raise(VecDivByZero); err != nil {
		t.Fatalf("raise: %v", err)
	}
	if regs.IP().Value() != handlerIP {
		t.Fatalf("IP not set to handler: %#x", regs.IP().Value())
	}

	if err := c.Iret(); err != nil {
		t.Fatalf("iret: %v", err)
	}
	if regs.IP().Value() != 0xF0000050 {
		t.Fatalf("IP not restored: %#x", regs.IP().Value())
	}
	if regs.Status().Value() != 0x1F {
		t.Fatalf("STS not restored: %#x", regs.Status().Value())
	}
}

func TestDoubleFaultNoChaining(t *testing.T) {
	c, regs, m := setup(t)
	const idtBase = 0x1800
	m.Write64(idtBase+uint64(VecDivByZero)*9, 0xF0001000)
	m.Write8(idtBase+uint64(VecDivByZero)*9+8, 1)
	m.Write64(idtBase+uint64(VecInvalidInstruction)*9, 0xF0002000)
	m.Write8(idtBase+uint64(VecInvalidInstruction)*9+8, 1)
	c.Lidt(m, idtBase)

	regs.IP().SetRaw(0xF0000050)
	if err := c.Raise(VecDivByZero); err != nil {
		t.Fatalf("raise: %v", err)
	}
	if err := c.Raise(VecInvalidInstruction); err != ErrDoubleFault {
		t.Fatalf("expected ErrDoubleFault, got %v", err)
	}
}
