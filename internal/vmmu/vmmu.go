// Package vmmu implements the virtual memory manager: a multi-level
// page-table walker parameterized by page size and level count, as
// described by spec.md §4.4. It sits in front of the physical MMU and
// is constructed or torn down whenever CR0's paging bit is toggled.
package vmmu

import (
	"fmt"
	"math/bits"

	"github.com/arcvm/arcvm/internal/arch"
	"github.com/arcvm/arcvm/internal/memory"
)

// TranslationFault is raised when a page-table walk reaches a
// not-present entry.
type TranslationFault struct {
	VAddr uint64
}

func (f *TranslationFault) Error() string {
	return fmt.Sprintf("vmmu: translation fault at virtual address %#x", f.VAddr)
}

// Entry bit layout: present/write/user/execute in the low 4 bits, the
// next table's (or, at the leaf level, the page frame's) physical
// address in the remaining upper bits.
type Entry uint64

const (
	entryPresent = 1 << 0
	entryWrite   = 1 << 1
	entryUser    = 1 << 2
	entryExec    = 1 << 3
	entryAddrMask = ^uint64(0xF)
)

func (e Entry) Present() bool    { return e&entryPresent != 0 }
func (e Entry) Writable() bool   { return e&entryWrite != 0 }
func (e Entry) UserAccess() bool { return e&entryUser != 0 }
func (e Entry) Executable() bool { return e&entryExec != 0 }
func (e Entry) Addr() uint64     { return uint64(e) & entryAddrMask }

// MakeEntry builds an entry pointing at addr with the given flags.
func MakeEntry(addr uint64, present, write, user, exec bool) Entry {
	e := Entry(addr & entryAddrMask)
	if present {
		e |= entryPresent
	}
	if write {
		e |= entryWrite
	}
	if user {
		e |= entryUser
	}
	if exec {
		e |= entryExec
	}
	return e
}

// Walker is the constructed page-table walker for one (root, page
// size, level count) configuration.
type Walker struct {
	phys     *memory.MMU
	root     uint64
	pageSize arch.PageSizeSel
	levels   arch.LevelSel
}

// New constructs a walker. Callers must check arch.InvalidPagingConfig
// first; New itself does not re-validate the combination.
func New(phys *memory.MMU, root uint64, pageSize arch.PageSizeSel, levels arch.LevelSel) *Walker {
	return &Walker{phys: phys, root: root, pageSize: pageSize, levels: levels}
}

// SetRoot reseats the root table address (CR3 write while paging stays
// enabled).
func (w *Walker) SetRoot(root uint64) { w.root = root }

func (w *Walker) offsetBits() uint {
	return uint(bits.TrailingZeros64(w.pageSize.Bytes()))
}

// levelBits splits the non-offset virtual address bits evenly across
// levels, with the topmost (root) level absorbing any remainder.
func (w *Walker) levelBits() []uint {
	total := 64 - w.offsetBits()
	n := uint(w.levels)
	base := total / n
	rem := total % n
	out := make([]uint, n)
	for i := range out {
		out[i] = base
	}
	out[0] += rem
	return out
}

// Translate walks the page tables for vaddr and returns the physical
// address, or a *TranslationFault if any level's entry is not present.
func (w *Walker) Translate(vaddr uint64) (uint64, error) {
	offBits := w.offsetBits()
	lvlBits := w.levelBits()

	shifts := make([]uint64, len(lvlBits))
	acc := uint64(offBits)
	for i := len(lvlBits) - 1; i >= 0; i-- {
		shifts[i] = acc
		acc += uint64(lvlBits[i])
	}

	table := w.root
	for i, nb := range lvlBits {
		mask := uint64(1)<<nb - 1
		idx := (vaddr >> shifts[i]) & mask
		raw, err := w.phys.Read64(table + idx*8)
		if err != nil {
			return 0, err
		}
		entry := Entry(raw)
		if !entry.Present() {
			return 0, &TranslationFault{VAddr: vaddr}
		}
		table = entry.Addr()
	}

	offsetMask := uint64(1)<<offBits - 1
	return table | (vaddr & offsetMask), nil
}

// Read8/16/32/64 and Write8/16/32/64 translate then delegate to the
// physical MMU, giving Walker the same accessor shape as memory.MMU so
// the execution engine can treat "current MMU" as either one.
func (w *Walker) Read8(vaddr uint64) (uint8, error) {
	p, err := w.Translate(vaddr)
	if err != nil {
		return 0, err
	}
	return w.phys.Read8(p)
}

func (w *Walker) Read16(vaddr uint64) (uint16, error) {
	p, err := w.Translate(vaddr)
	if err != nil {
		return 0, err
	}
	return w.phys.Read16(p)
}

func (w *Walker) Read32(vaddr uint64) (uint32, error) {
	p, err := w.Translate(vaddr)
	if err != nil {
		return 0, err
	}
	return w.phys.Read32(p)
}

func (w *Walker) Read64(vaddr uint64) (uint64, error) {
	p, err := w.Translate(vaddr)
	if err != nil {
		return 0, err
	}
	return w.phys.Read64(p)
}

func (w *Walker) Write8(vaddr uint64, v uint8) error {
	p, err := w.Translate(vaddr)
	if err != nil {
		return err
	}
	return w.phys.Write8(p, v)
}

func (w *Walker) Write16(vaddr uint64, v uint16) error {
	p, err := w.Translate(vaddr)
	if err != nil {
		return err
	}
	return w.phys.Write16(p, v)
}

func (w *Walker) Write32(vaddr uint64, v uint32) error {
	p, err := w.Translate(vaddr)
	if err != nil {
		return err
	}
	return w.phys.Write32(p, v)
}

func (w *Walker) Write64(vaddr uint64, v uint64) error {
	p, err := w.Translate(vaddr)
	if err != nil {
		return err
	}
	return w.phys.Write64(p, v)
}
