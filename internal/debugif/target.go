// Package debugif implements the interactive debug interface: the
// command loop and alias table spec.md §4.9 defines, stdio/file/tcp
// transports, Lua macro scripting and clipboard paste. Grounded on
// original_source/Emulator/src/DebugInterface.cpp's command table and
// MainLoop event-queue structure, and on IntuitionEngine/
// debug_monitor.go's DebuggableCPU interface pattern (here, Target)
// for decoupling the session from a concrete engine.
package debugif

import (
	"github.com/arcvm/arcvm/internal/coord"
	"github.com/arcvm/arcvm/internal/memory"
	"github.com/arcvm/arcvm/internal/regfile"
)

// Target is the capability set a debug Session needs from a running
// guest. internal/emulator adapts its *cpu.Engine onto this interface
// rather than handing the session a concrete engine type, the same
// decoupling debug_monitor.go's DebuggableCPU gets from a concrete CPU.
type Target interface {
	Registers() *regfile.File
	Physical() *memory.MMU
	Coord() *coord.Coordinator
	// HaltReason reports whether the guest has stopped executing and,
	// if so, a short diagnostic message.
	HaltReason() (halted bool, message string)
	// Translate resolves a virtual address to its physical address
	// under whatever paging state currently applies, for "dump virt".
	// With paging disabled this is the identity mapping.
	Translate(vaddr uint64) (uint64, error)
}
