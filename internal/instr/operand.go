// Package instr implements the instruction codec: the decoded operand
// and instruction representation, and the encoder/decoder that convert
// between it and the wire format described by the architecture's
// compact operand forms.
package instr

import "github.com/arcvm/arcvm/internal/arch"

// ComplexItem is one term (base, index or offset) of a Complex operand.
// It is either a register reference or an immediate; Negative applies
// only to the offset term's register form, carrying the sign bit the
// wire format overloads onto the register-id byte's high bit.
type ComplexItem struct {
	IsImmediate bool
	Reg         uint8
	Imm         uint64
	ImmSize     arch.OperandSize // width of Imm when IsImmediate
	Negative    bool
}

// Complex is a base[*index][±offset] memory reference. Index and Offset
// are nil when the operand's compact form omits them.
type Complex struct {
	Base   ComplexItem
	Index  *ComplexItem
	Offset *ComplexItem
}

// Operand is the decoded, exclusive tagged variant every instruction
// slot holds: exactly one of the fields below is meaningful, selected
// by Kind. This mirrors spec.md §9's "sum type, never a pointer+tag
// pair" guidance — a Go struct with an explicit discriminant plays the
// same role a tagged union would in a language with one.
type Operand struct {
	Kind    arch.OperandKind
	Size    arch.OperandSize
	Form    arch.CompactForm
	RegID   uint8  // Kind == KindRegister
	Imm     uint64 // Kind == KindImmediate
	Addr    uint64 // Kind == KindMemory
	Complex Complex
	Label   string // Kind == KindLabel / KindSublabel, assembler-only
}

// Instruction is the assembler-facing (pre-encoding) instruction shape:
// an opcode plus up to three Operands, some of which may still be
// unresolved labels.
type Instruction struct {
	Opcode   arch.Opcode
	Operands []Operand
}

// SimpleInstruction is the decoder's output: an opcode plus up to three
// fully-resolved operands (no Label/Sublabel — those never reach the
// emulator's decoded stream per spec.md §3).
type SimpleInstruction struct {
	Opcode   arch.Opcode
	Operands [3]Operand
	NumOps   int
}
