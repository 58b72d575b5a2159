package cpu

import (
	"github.com/arcvm/arcvm/internal/arch"
	"github.com/arcvm/arcvm/internal/instr"
	"github.com/arcvm/arcvm/internal/regfile"
)

// signExtend widens a size-bit two's complement value to 64 bits.
func signExtend(v uint64, size arch.OperandSize) uint64 {
	bits := size.Bytes() * 8
	if bits >= 64 {
		return v
	}
	signBit := uint64(1) << (bits - 1)
	if v&signBit != 0 {
		return v | (^uint64(0) << bits)
	}
	return v
}

func (e *Engine) resolveComplexItem(item instr.ComplexItem) (uint64, error) {
	if item.IsImmediate {
		return signExtend(item.Imm, item.ImmSize), nil
	}
	if arch.HostWriteOnly(item.Reg) {
		return 0, ErrInvalidInstruction
	}
	reg, ok := e.regs.Lookup(item.Reg)
	if !ok {
		return 0, ErrInvalidInstruction
	}
	return reg.Value(), nil
}

// evalAddress computes the effective address of a Complex operand: base
// plus a size-scaled index (array-element addressing, the only
// grounded reading of spec.md §6's "[reg * reg]" notation — the
// Emulator-side address-computation source was not present in
// original_source, so this is an implementer decision; see DESIGN.md),
// plus a signed offset.
func (e *Engine) evalAddress(c instr.Complex, size arch.OperandSize) (uint64, error) {
	base, err := e.resolveComplexItem(c.Base)
	if err != nil {
		return 0, err
	}
	addr := base

	if c.Index != nil {
		idx, err := e.resolveComplexItem(*c.Index)
		if err != nil {
			return 0, err
		}
		addr += idx * size.Bytes()
	}

	if c.Offset != nil {
		off, err := e.resolveComplexItem(*c.Offset)
		if err != nil {
			return 0, err
		}
		if !c.Offset.IsImmediate && c.Offset.Negative {
			addr -= off
		} else {
			addr += off
		}
	}

	return addr, nil
}

func (e *Engine) operandRegister(op instr.Operand) (*regfile.Register, error) {
	if arch.HostWriteOnly(op.RegID) {
		return nil, ErrInvalidInstruction
	}
	reg, ok := e.regs.Lookup(op.RegID)
	if !ok {
		return nil, ErrInvalidInstruction
	}
	return reg, nil
}

// readOperand returns the current value of a decoded operand, routing
// memory/complex forms through the current address space (physical or
// virtual MMU, whichever is active).
func (e *Engine) readOperand(op instr.Operand) (uint64, error) {
	switch op.Kind {
	case arch.KindRegister:
		reg, err := e.operandRegister(op)
		if err != nil {
			return 0, err
		}
		v, err := reg.Get(op.Size)
		if err != nil {
			return 0, err
		}
		return v, nil
	case arch.KindImmediate:
		return op.Imm & op.Size.Mask(), nil
	case arch.KindMemory:
		return e.readMem(op.Addr, op.Size)
	case arch.KindComplex:
		addr, err := e.evalAddress(op.Complex, op.Size)
		if err != nil {
			return 0, err
		}
		return e.readMem(addr, op.Size)
	default:
		return 0, ErrInvalidInstruction
	}
}

// writeOperand stores v into a decoded operand's destination.
func (e *Engine) writeOperand(op instr.Operand, v uint64) error {
	switch op.Kind {
	case arch.KindRegister:
		reg, err := e.operandRegister(op)
		if err != nil {
			return err
		}
		return reg.Set(v, op.Size)
	case arch.KindMemory:
		return e.writeMem(op.Addr, op.Size, v)
	case arch.KindComplex:
		addr, err := e.evalAddress(op.Complex, op.Size)
		if err != nil {
			return err
		}
		return e.writeMem(addr, op.Size, v)
	default:
		return ErrInvalidInstruction
	}
}

func (e *Engine) readMem(addr uint64, size arch.OperandSize) (uint64, error) {
	switch size {
	case arch.Byte:
		v, err := e.cur.Read8(addr)
		return uint64(v), err
	case arch.Word:
		v, err := e.cur.Read16(addr)
		return uint64(v), err
	case arch.Dword:
		v, err := e.cur.Read32(addr)
		return uint64(v), err
	default:
		return e.cur.Read64(addr)
	}
}

func (e *Engine) writeMem(addr uint64, size arch.OperandSize, v uint64) error {
	switch size {
	case arch.Byte:
		return e.cur.Write8(addr, uint8(v))
	case arch.Word:
		return e.cur.Write16(addr, uint16(v))
	case arch.Dword:
		return e.cur.Write32(addr, uint32(v))
	default:
		return e.cur.Write64(addr, v)
	}
}
