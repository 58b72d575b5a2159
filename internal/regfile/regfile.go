// Package regfile implements the machine's register file: the four
// behavioral register variants (plain, syncing, safe, safe+syncing) and
// the File that holds every general-purpose, stack, control, status and
// instruction register.
package regfile

import (
	"errors"

	"github.com/arcvm/arcvm/internal/arch"
)

// ErrUserModeViolation is returned by Get when user-mode code reads a
// control register while the machine is in protected mode.
var ErrUserModeViolation = errors.New("regfile: user mode violation")

// ModeChecker lets a register consult the machine's current privilege
// state without the register file depending on the cpu package.
type ModeChecker interface {
	InProtectedMode() bool
	InUserMode() bool
}

// Variant names one of the four register behaviors. The original
// expresses these as a small class hierarchy (Register, SyncingRegister,
// SafeRegister, SafeSyncingRegister); a Go register instead carries the
// two independent behaviors as flags, since there is no distinct
// third behavior to name beyond their combination.
type Variant uint8

const (
	Plain Variant = 0
	Syncing Variant = 1 << 0
	Safe    Variant = 1 << 1
	SafeSyncing = Safe | Syncing
)

// Register is one machine register: a 64-bit value, a dirty flag set by
// syncing variants, and an optional mode guard for control registers.
type Register struct {
	kind    arch.RegisterKind
	index   uint8
	variant Variant
	mode    ModeChecker // non-nil only for Safe/SafeSyncing control registers
	value   uint64
	dirty   bool
}

func newRegister(kind arch.RegisterKind, index uint8, variant Variant, mode ModeChecker) *Register {
	return &Register{kind: kind, index: index, variant: variant, mode: mode}
}

// Kind reports the register's family.
func (r *Register) Kind() arch.RegisterKind { return r.kind }

// Index reports the register's position within its family.
func (r *Register) Index() uint8 { return r.index }

// Name returns the register's canonical mnemonic.
func (r *Register) Name() string { return arch.Name(r.kind, r.index) }

// Value returns the full 64-bit register contents with no mode guard.
// Used internally (stack pointer arithmetic, debug dumps) where a mode
// violation would never make sense.
func (r *Register) Value() uint64 { return r.value }

// Get reads the register at the given width, applying the user-mode
// guard for Safe/SafeSyncing control registers.
func (r *Register) Get(size arch.OperandSize) (uint64, error) {
	if r.variant&Safe != 0 && r.mode != nil {
		if r.mode.InProtectedMode() && r.mode.InUserMode() {
			return 0, ErrUserModeViolation
		}
	}
	return r.value & size.Mask(), nil
}

// Set writes the low size bits of v into the register, preserving the
// untouched high bits, and marks the register dirty if it is a syncing
// variant. Applies the same user-mode guard as Get for Safe/SafeSyncing
// control registers: a non-privileged write is refused rather than
// silently committed.
func (r *Register) Set(v uint64, size arch.OperandSize) error {
	if r.variant&Safe != 0 && r.mode != nil {
		if r.mode.InProtectedMode() && r.mode.InUserMode() {
			return ErrUserModeViolation
		}
	}
	mask := size.Mask()
	r.value = (r.value &^ mask) | (v & mask)
	if r.variant&Syncing != 0 {
		r.dirty = true
	}
	return nil
}

// SetRaw overwrites the full 64-bit value with no masking, used by the
// host (reset, paging sync) rather than the instruction stream.
func (r *Register) SetRaw(v uint64) {
	r.value = v
	if r.variant&Syncing != 0 {
		r.dirty = true
	}
}

// Dirty reports whether the register has been written since the last
// ClearDirty.
func (r *Register) Dirty() bool { return r.dirty }

// ClearDirty resets the dirty flag, called once the host has consumed a
// pending sync (e.g. after reading an updated CR0).
func (r *Register) ClearDirty() { r.dirty = false }

// File holds every register the machine exposes: 16 general-purpose,
// 3 stack, 8 control, 1 status, 1 instruction pointer.
type File struct {
	gpr     [arch.NumGPR]*Register
	stack   [3]*Register
	control [arch.NumControl]*Register
	status  *Register
	ip      *Register
}

// New builds a register file. mode is consulted by control-register
// reads; it is typically the owning machine, which implements
// ModeChecker once its protected/user-mode state exists.
func New(mode ModeChecker) *File {
	f := &File{}
	for i := range f.gpr {
		f.gpr[i] = newRegister(arch.GeneralPurpose, uint8(i), Plain, nil)
	}
	for i := range f.stack {
		f.stack[i] = newRegister(arch.Stack, uint8(i), Syncing, nil)
	}
	for i := range f.control {
		f.control[i] = newRegister(arch.Control, uint8(i), SafeSyncing, mode)
	}
	f.status = newRegister(arch.Status, 0, Syncing, nil)
	f.ip = newRegister(arch.Instruction, 0, Syncing, nil)
	return f
}

// GPR returns general-purpose register Ri (0-15).
func (f *File) GPR(i uint8) *Register { return f.gpr[i] }

// SCP, SBP, STP return the stack context, base and top pointers.
func (f *File) SCP() *Register { return f.stack[0] }
func (f *File) SBP() *Register { return f.stack[1] }
func (f *File) STP() *Register { return f.stack[2] }

// CR returns control register CRi (0-7).
func (f *File) CR(i uint8) *Register { return f.control[i] }

// Status returns the flags register (carry/zero/sign/overflow).
func (f *File) Status() *Register { return f.status }

// IP returns the instruction pointer register.
func (f *File) IP() *Register { return f.ip }

// Lookup resolves a register id (as encoded by arch.DecodeID) to its
// Register, honoring arch.HostWriteOnly for IDPC which has no backing
// register of its own and must never be looked up this way.
func (f *File) Lookup(id uint8) (*Register, bool) {
	kind, index, ok := arch.DecodeID(id)
	if !ok {
		return nil, false
	}
	switch kind {
	case arch.GeneralPurpose:
		return f.gpr[index], true
	case arch.Stack:
		return f.stack[index], true
	case arch.Control:
		return f.control[index], true
	case arch.Status:
		return f.status, true
	case arch.Instruction:
		return f.ip, true
	default:
		return nil, false
	}
}
