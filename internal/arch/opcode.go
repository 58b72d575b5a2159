package arch

// Opcode identifies a single-byte instruction mnemonic. The high nibble
// names the opcode's class (ALU, control flow, misc); the low nibble
// names the variant within that class.
type Opcode uint8

// ALU-1 class: 0x00-0x0F.
const (
	OpAdd  Opcode = 0x00
	OpSub  Opcode = 0x01
	OpMul  Opcode = 0x02 // unsigned multiply, 3 operands (dst2:dst1, src)
	OpDiv  Opcode = 0x03 // unsigned divide, 3 operands
	OpSMul Opcode = 0x04 // signed multiply, 3 operands
	OpSDiv Opcode = 0x05 // signed divide, 3 operands
	OpOr   Opcode = 0x06
	OpXor  Opcode = 0x07
	OpNor  Opcode = 0x08
	OpAnd  Opcode = 0x09
	OpNand Opcode = 0x0A
	OpNot  Opcode = 0x0B
	OpShl  Opcode = 0x0C
	OpShr  Opcode = 0x0D
	OpCmp  Opcode = 0x0E
	OpXnor Opcode = 0x0F
)

// Control-flow class: 0x10-0x1A.
const (
	OpRet  Opcode = 0x10
	OpCall Opcode = 0x11
	OpJmp  Opcode = 0x12
	OpJc   Opcode = 0x13
	OpJnc  Opcode = 0x14
	OpJz   Opcode = 0x15
	OpJnz  Opcode = 0x16
	OpJl   Opcode = 0x17
	OpJle  Opcode = 0x18
	OpJnl  Opcode = 0x19
	OpJnle Opcode = 0x1A
)

// Misc class: 0x20-0x2C, plus inc/dec placed just past it (nothing else
// claims 0x2D/0x2E; see DESIGN.md for why they don't fit inside 0x00-0x0F).
const (
	OpMov       Opcode = 0x20
	OpNop       Opcode = 0x21
	OpHlt       Opcode = 0x22
	OpPush      Opcode = 0x23
	OpPop       Opcode = 0x24
	OpPusha     Opcode = 0x25
	OpPopa      Opcode = 0x26
	OpInt       Opcode = 0x27
	OpLidt      Opcode = 0x28
	OpIret      Opcode = 0x29
	OpSyscall   Opcode = 0x2A
	OpSysret    Opcode = 0x2B
	OpEnterUser Opcode = 0x2C
	OpInc       Opcode = 0x2D
	OpDec       Opcode = 0x2E
)

// Class boundaries of the assigned opcode ranges. The decoder reports
// an unassigned byte as ErrInvalidOpcode whether or not it falls inside
// one of these ranges.
const (
	classALUStart  = 0x00
	classALUEnd    = 0x0F
	classFlowStart = 0x10
	classFlowEnd   = 0x1A
	classMiscStart = 0x20
	classMiscEnd   = 0x2E
)

// Arity returns the number of operands opcode takes and whether opcode
// is recognized at all.
func Arity(op Opcode) (count int, ok bool) {
	switch op {
	case OpRet, OpNop, OpHlt, OpPusha, OpPopa, OpIret, OpSyscall, OpSysret:
		return 0, true
	case OpNot, OpInc, OpDec, OpCall, OpJmp, OpJc, OpJnc, OpJz, OpJnz, OpJl, OpJle, OpJnl, OpJnle,
		OpPush, OpPop, OpInt, OpLidt, OpEnterUser:
		return 1, true
	case OpAdd, OpSub, OpOr, OpXor, OpNor, OpAnd, OpNand, OpShl, OpShr, OpCmp, OpXnor, OpMov:
		return 2, true
	case OpMul, OpDiv, OpSMul, OpSDiv:
		return 3, true
	default:
		return 0, false
	}
}

// InClass reports whether op's byte value falls inside a recognized
// class range, as opposed to genuinely unassigned opcode space.
func InClass(b uint8) bool {
	switch {
	case b >= classALUStart && b <= classALUEnd:
		return true
	case b >= classFlowStart && b <= classFlowEnd:
		return true
	case b >= classMiscStart && b <= classMiscEnd:
		return true
	default:
		return false
	}
}

// IsBranch reports whether op is a conditional or unconditional jump
// (not call/ret, which have their own control-transfer handling).
func IsBranch(op Opcode) bool {
	switch op {
	case OpJmp, OpJc, OpJnc, OpJz, OpJnz, OpJl, OpJle, OpJnl, OpJnle:
		return true
	default:
		return false
	}
}
