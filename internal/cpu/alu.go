package cpu

import (
	"math/bits"

	"github.com/arcvm/arcvm/internal/arch"
	"github.com/arcvm/arcvm/internal/instr"
)

// Status condition-code bits: the low nibble of STS, per the glossary
// ("carry/zero/sign/overflow bits (low nibble)"). Bit 4 (interrupt
// mode) is owned by internal/interrupt.
const (
	flagCarry    = 1 << 0
	flagZero     = 1 << 1
	flagSign     = 1 << 2
	flagOverflow = 1 << 3
	flagMask     = flagCarry | flagZero | flagSign | flagOverflow
)

func (e *Engine) setFlags(carry, zero, sign, overflow bool) {
	v := e.regs.Status().Value() &^ uint64(flagMask)
	if carry {
		v |= flagCarry
	}
	if zero {
		v |= flagZero
	}
	if sign {
		v |= flagSign
	}
	if overflow {
		v |= flagOverflow
	}
	e.regs.Status().SetRaw(v)
}

func addWithFlags(a, b uint64, size arch.OperandSize) (sum uint64, carry, zero, sign, overflow bool) {
	mask := size.Mask()
	a &= mask
	b &= mask
	signBit := uint64(1) << (size.Bytes()*8 - 1)

	if size == arch.Qword {
		var c uint64
		sum, c = bits.Add64(a, b, 0)
		carry = c != 0
	} else {
		raw := a + b
		sum = raw & mask
		carry = raw > mask
	}
	zero = sum == 0
	sign = sum&signBit != 0
	overflow = ((a^sum)&(b^sum))&signBit != 0
	return
}

func subWithFlags(a, b uint64, size arch.OperandSize) (diff uint64, carry, zero, sign, overflow bool) {
	mask := size.Mask()
	a &= mask
	b &= mask
	signBit := uint64(1) << (size.Bytes()*8 - 1)

	if size == arch.Qword {
		var borrow uint64
		diff, borrow = bits.Sub64(a, b, 0)
		carry = borrow != 0
	} else {
		carry = a < b
		diff = (a - b) & mask
	}
	zero = diff == 0
	sign = diff&signBit != 0
	overflow = ((a^b)&(a^diff))&signBit != 0
	return
}

func logicFlags(result uint64, size arch.OperandSize) (zero, sign bool) {
	mask := size.Mask()
	signBit := uint64(1) << (size.Bytes()*8 - 1)
	result &= mask
	return result == 0, result&signBit != 0
}

// execALU handles the two-operand ALU-1 opcodes (add/sub/or/xor/nor/
// and/nand/shl/shr/cmp/xnor) plus the single-operand "not" — every
// ALU-1 opcode except the three-operand mul/div family, which have
// their own handler.
func (e *Engine) execALU(ins instr.SimpleInstruction) error {
	switch ins.Opcode {
	case arch.OpMul, arch.OpDiv, arch.OpSMul, arch.OpSDiv:
		return e.execMulDiv(ins)
	case arch.OpNot:
		return e.execNot(ins)
	}

	dst, src := ins.Operands[0], ins.Operands[1]
	a, err := e.readOperand(dst)
	if err != nil {
		return err
	}
	b, err := e.readOperand(src)
	if err != nil {
		return err
	}
	size := dst.Size

	var result uint64
	var carry, zero, sign, overflow bool
	writeResult := true

	switch ins.Opcode {
	case arch.OpAdd:
		result, carry, zero, sign, overflow = addWithFlags(a, b, size)
	case arch.OpSub:
		result, carry, zero, sign, overflow = subWithFlags(a, b, size)
	case arch.OpCmp:
		_, carry, zero, sign, overflow = subWithFlags(a, b, size)
		writeResult = false
	case arch.OpOr:
		result = a | b
		zero, sign = logicFlags(result, size)
	case arch.OpXor:
		result = a ^ b
		zero, sign = logicFlags(result, size)
	case arch.OpNor:
		result = ^(a | b)
		zero, sign = logicFlags(result, size)
	case arch.OpAnd:
		result = a & b
		zero, sign = logicFlags(result, size)
	case arch.OpNand:
		result = ^(a & b)
		zero, sign = logicFlags(result, size)
	case arch.OpXnor:
		result = ^(a ^ b)
		zero, sign = logicFlags(result, size)
	case arch.OpShl:
		shamt := b & (size.Bytes()*8 - 1)
		result = a << shamt
		zero, sign = logicFlags(result, size)
		if shamt > 0 {
			carry = (a>>(size.Bytes()*8-shamt))&1 != 0
		}
	case arch.OpShr:
		shamt := b & (size.Bytes()*8 - 1)
		result = a >> shamt
		zero, sign = logicFlags(result, size)
		if shamt > 0 {
			carry = (a>>(shamt-1))&1 != 0
		}
	default:
		return ErrInvalidInstruction
	}

	e.setFlags(carry, zero, sign, overflow)
	if writeResult {
		if err := e.writeOperand(dst, result); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) execNot(ins instr.SimpleInstruction) error {
	op := ins.Operands[0]
	v, err := e.readOperand(op)
	if err != nil {
		return err
	}
	result := ^v
	zero, sign := logicFlags(result, op.Size)
	e.setFlags(false, zero, sign, false)
	return e.writeOperand(op, result)
}

// execIncDec implements inc/dec as add/sub of 1, sharing add/sub's
// flag semantics (spec.md names them single-operand ALU without
// further distinction).
func (e *Engine) execIncDec(ins instr.SimpleInstruction, delta uint64) error {
	op := ins.Operands[0]
	v, err := e.readOperand(op)
	if err != nil {
		return err
	}
	var result uint64
	var carry, zero, sign, overflow bool
	if delta == 1 {
		result, carry, zero, sign, overflow = addWithFlags(v, 1, op.Size)
	} else {
		result, carry, zero, sign, overflow = subWithFlags(v, 1, op.Size)
	}
	e.setFlags(carry, zero, sign, overflow)
	return e.writeOperand(op, result)
}

// mul128Signed computes the signed 128-bit product of two 64-bit
// two's-complement values via the standard unsigned-multiply
// correction (subtract the multiplicand once per negative operand).
func mul128Signed(a, b uint64) (hi, lo uint64) {
	hi, lo = bits.Mul64(a, b)
	if int64(a) < 0 {
		hi -= b
	}
	if int64(b) < 0 {
		hi -= a
	}
	return hi, lo
}

// neg128 computes the two's-complement negation of a 128-bit value.
func neg128(hi, lo uint64) (uint64, uint64) {
	var borrow uint64
	lo, borrow = bits.Sub64(0, lo, 0)
	hi, _ = bits.Sub64(0, hi, borrow)
	return hi, lo
}

func (e *Engine) execMulDiv(ins instr.SimpleInstruction) error {
	hiOp, loOp, srcOp := ins.Operands[0], ins.Operands[1], ins.Operands[2]

	switch ins.Opcode {
	case arch.OpMul, arch.OpSMul:
		a, err := e.readOperand(loOp)
		if err != nil {
			return err
		}
		b, err := e.readOperand(srcOp)
		if err != nil {
			return err
		}
		var hi, lo uint64
		if ins.Opcode == arch.OpMul {
			hi, lo = bits.Mul64(a, b)
		} else {
			hi, lo = mul128Signed(a, b)
		}
		if err := e.writeOperand(loOp, lo); err != nil {
			return err
		}
		if err := e.writeOperand(hiOp, hi); err != nil {
			return err
		}
		zero := hi == 0 && lo == 0
		sign := hi&(1<<63) != 0
		overflow := hi != 0
		if ins.Opcode == arch.OpSMul {
			overflow = hi != uint64(int64(lo)>>63)
		}
		e.setFlags(false, zero, sign, overflow)
		return nil

	case arch.OpDiv:
		hi, err := e.readOperand(hiOp)
		if err != nil {
			return err
		}
		lo, err := e.readOperand(loOp)
		if err != nil {
			return err
		}
		divisor, err := e.readOperand(srcOp)
		if err != nil {
			return err
		}
		if divisor == 0 {
			return ErrDivByZero
		}
		if hi >= divisor {
			return ErrIntegerOverflow
		}
		quo, rem := bits.Div64(hi, lo, divisor)
		if err := e.writeOperand(loOp, quo); err != nil {
			return err
		}
		if err := e.writeOperand(hiOp, rem); err != nil {
			return err
		}
		e.setFlags(false, quo == 0, quo&(1<<63) != 0, false)
		return nil

	case arch.OpSDiv:
		hi, err := e.readOperand(hiOp)
		if err != nil {
			return err
		}
		lo, err := e.readOperand(loOp)
		if err != nil {
			return err
		}
		divisor, err := e.readOperand(srcOp)
		if err != nil {
			return err
		}
		if divisor == 0 {
			return ErrDivByZero
		}
		dividendNeg := hi&(1<<63) != 0
		divisorNeg := int64(divisor) < 0
		if dividendNeg {
			hi, lo = neg128(hi, lo)
		}
		absDivisor := divisor
		if divisorNeg {
			absDivisor = -divisor
		}
		if hi >= absDivisor {
			return ErrIntegerOverflow
		}
		quo, rem := bits.Div64(hi, lo, absDivisor)
		if quo&(1<<63) != 0 && !(dividendNeg != divisorNeg && quo == 1<<63) {
			return ErrIntegerOverflow
		}
		if dividendNeg != divisorNeg {
			quo = -quo
		}
		if dividendNeg {
			rem = -rem
		}
		if err := e.writeOperand(loOp, quo); err != nil {
			return err
		}
		if err := e.writeOperand(hiOp, rem); err != nil {
			return err
		}
		e.setFlags(false, quo == 0, quo&(1<<63) != 0, false)
		return nil
	}
	return ErrInvalidInstruction
}
