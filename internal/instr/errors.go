package instr

import "errors"

// Encode/decode error kinds, named per spec.md §4.1's contract.
var (
	ErrInvalidOperandType = errors.New("instr: invalid operand type")
	ErrInvalidComplexForm = errors.New("instr: invalid complex operand form")
	ErrSizeMismatch       = errors.New("instr: operand size mismatch")
	ErrInvalidOpcode      = errors.New("instr: invalid opcode")
	ErrShortStream        = errors.New("instr: short stream")
	ErrArityMismatch      = errors.New("instr: operand arity mismatch")
)

// RelocationPlaceholder is the 8-byte value that stands in for an
// unresolved Label/Sublabel operand until it is back-patched. The
// Encoder in this package does not emit it: it does not encode Label or
// Sublabel operands.
const RelocationPlaceholder uint64 = 0xDEADBEEFDEADBEEF
