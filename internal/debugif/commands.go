package debugif

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/arcvm/arcvm/internal/arch"
)

// command is one debug command's implementation; args excludes the
// command word itself. Output is written to Session.out.
type command func(s *Session, args []string) error

var commandTable = map[string]command{
	"help":       cmdHelp,
	"quit":       cmdQuit,
	"pause":      cmdPause,
	"continue":   cmdContinue,
	"step":       cmdStep,
	"breakpoint": cmdBreakpoint,
	"delete":     cmdDelete,
	"info":       cmdInfo,
	"dump":       cmdDump,
	"script":     cmdScript,
	"paste":      cmdPaste,
}

// aliasTable matches spec.md §4.9's command/alias list exactly.
var aliasTable = map[string]string{
	"help": "help", "h": "help", "?": "help",
	"quit": "quit", "q": "quit", "exit": "quit",
	"pause": "pause", "p": "pause",
	"continue": "continue", "c": "continue",
	"step": "step", "s": "step",
	"breakpoint": "breakpoint", "b": "breakpoint",
	"delete": "delete", "d": "delete",
	"info": "info", "i": "info",
	"dump": "dump", "dmp": "dump",
	"script": "script",
	"paste":  "paste",
}

var helpText = map[string]string{
	"help":       "display this help message",
	"quit":       "quit the emulator",
	"pause":      "pause the emulator",
	"continue":   "unpause the emulator",
	"step":       "execute one instruction",
	"breakpoint": "set a breakpoint: breakpoint <address>",
	"delete":     "delete a breakpoint: delete <address>",
	"info":       "display information: info {registers|memory}",
	"dump":       "dump memory: dump [phys|virt] <address> <size>",
	"script":     "play back a recorded or Lua macro: script <name>",
	"paste":      "paste the host clipboard into the output stream",
}

func cmdHelp(s *Session, _ []string) error {
	for _, name := range []string{"help", "quit", "pause", "continue", "step", "breakpoint", "delete", "info", "dump", "script", "paste"} {
		fmt.Fprintf(s.out, "%-10s %s\n", name, helpText[name])
	}
	return nil
}

func cmdQuit(s *Session, _ []string) error {
	s.target.Coord().StopExecution(false)
	return errQuit
}

func cmdPause(s *Session, _ []string) error {
	s.target.Coord().PauseExecution()
	fmt.Fprintln(s.out, "Emulator paused")
	return nil
}

func cmdContinue(s *Session, _ []string) error {
	s.target.Coord().AllowExecution(nil)
	return nil
}

func cmdStep(s *Session, _ []string) error {
	fmt.Fprintln(s.out, "Stepping...")
	s.target.Coord().AllowOneInstruction()
	ip := s.target.Registers().IP().Value()
	fmt.Fprintf(s.out, "Next IP: %#x\n", ip)
	return nil
}

func parseUint(tok string) (uint64, error) {
	return strconv.ParseUint(tok, 0, 64)
}

func cmdBreakpoint(s *Session, args []string) error {
	if len(args) < 1 {
		fmt.Fprintln(s.out, "Usage: breakpoint <address>")
		return nil
	}
	addr, err := parseUint(args[0])
	if err != nil {
		fmt.Fprintf(s.out, "invalid address: %v\n", err)
		return nil
	}
	fmt.Fprintf(s.out, "Setting breakpoint at %#x\n", addr)
	s.target.Coord().AddBreakpoint(addr, func(hit uint64) {
		fmt.Fprintf(s.out, "Breakpoint hit at %#x\n", hit)
	})
	return nil
}

func cmdDelete(s *Session, args []string) error {
	if len(args) < 1 {
		fmt.Fprintln(s.out, "Usage: delete <address>")
		return nil
	}
	addr, err := parseUint(args[0])
	if err != nil {
		fmt.Fprintf(s.out, "invalid address: %v\n", err)
		return nil
	}
	fmt.Fprintf(s.out, "Deleting breakpoint at %#x\n", addr)
	s.target.Coord().RemoveBreakpoint(addr)
	return nil
}

func cmdInfo(s *Session, args []string) error {
	if len(args) < 1 {
		fmt.Fprintln(s.out, "Usage: info <command>")
		fmt.Fprintln(s.out, "Available commands: registers, memory")
		return nil
	}
	switch args[0] {
	case "registers":
		printRegisters(s)
	case "memory":
		printRegions(s)
	default:
		fmt.Fprintln(s.out, "Unknown command")
	}
	return nil
}

func printRegisters(s *Session) {
	regs := s.target.Registers()
	for i := uint8(0); i < arch.NumGPR; i++ {
		fmt.Fprintf(s.out, "%-4s %#018x\n", arch.Name(arch.GeneralPurpose, i), regs.GPR(i).Value())
	}
	names := []string{"SCP", "SBP", "STP"}
	getters := []func() uint64{
		func() uint64 { return regs.SCP().Value() },
		func() uint64 { return regs.SBP().Value() },
		func() uint64 { return regs.STP().Value() },
	}
	for i, n := range names {
		fmt.Fprintf(s.out, "%-4s %#018x\n", n, getters[i]())
	}
	for i := uint8(0); i < arch.NumControl; i++ {
		fmt.Fprintf(s.out, "%-4s %#018x\n", arch.Name(arch.Control, i), regs.CR(i).Value())
	}
	fmt.Fprintf(s.out, "%-4s %#018x\n", "STS", regs.Status().Value())
	fmt.Fprintf(s.out, "%-4s %#018x\n", "IP", regs.IP().Value())

	if halted, msg := s.target.HaltReason(); halted {
		fmt.Fprintf(s.out, "halted: %s\n", msg)
	}
}

func printRegions(s *Session) {
	for _, r := range s.target.Physical().Regions() {
		fmt.Fprintf(s.out, "%#016x-%#016x %s\n", r.Start(), r.End(), r.Kind())
	}
}

func cmdDump(s *Session, args []string) error {
	if len(args) < 2 {
		fmt.Fprintln(s.out, "Usage: dump [phys|virt] <address> <size>")
		return nil
	}

	virt := false
	explicitKind := false
	switch args[0] {
	case "virt":
		virt, explicitKind = true, true
	case "phys":
		explicitKind = true
	}
	idx := 0
	if explicitKind {
		idx = 1
	}
	if len(args) < idx+2 {
		fmt.Fprintln(s.out, "Usage: dump [phys|virt] <address> <size>")
		return nil
	}
	addr, err := parseUint(args[idx])
	if err != nil {
		fmt.Fprintf(s.out, "invalid address: %v\n", err)
		return nil
	}
	size, err := parseUint(args[idx+1])
	if err != nil {
		fmt.Fprintf(s.out, "invalid size: %v\n", err)
		return nil
	}

	if virt {
		if _, err := s.target.Translate(addr); err != nil {
			fmt.Fprintln(s.out, "Invalid region")
			return nil
		}
		fmt.Fprintf(s.out, "Dumping virtual memory from %#x to %#x\n", addr, addr+size)
		dumpHex(s, &virtReader{target: s.target}, addr, size)
		return nil
	}

	mmu := s.target.Physical()
	if !mmu.ValidateRead(addr, size) {
		fmt.Fprintln(s.out, "Invalid region")
		return nil
	}
	fmt.Fprintf(s.out, "Dumping physical memory from %#x to %#x\n", addr, addr+size)
	dumpHex(s, mmu, addr, size)
	return nil
}

// virtReader adapts a Target's Translate+Physical pair onto dumpHex's
// byte-reader interface, translating one address at a time so a dump
// can span multiple pages without assuming they're contiguous in
// physical memory.
type virtReader struct{ target Target }

func (v *virtReader) Read8(vaddr uint64) (uint8, error) {
	phys, err := v.target.Translate(vaddr)
	if err != nil {
		return 0, err
	}
	return v.target.Physical().Read8(phys)
}

// dumpHex renders size bytes from addr in 16-byte lines, silently
// skipping a run of lines identical to the line before it — the
// "collapses consecutive identical 16-byte lines" behavior.
func dumpHex(s *Session, mmu interface{ Read8(uint64) (uint8, error) }, addr, size uint64) {
	var last [16]byte
	haveLast := false
	for off := uint64(0); off < size; off += 16 {
		n := uint64(16)
		if size-off < 16 {
			n = size - off
		}
		var line [16]byte
		for i := uint64(0); i < n; i++ {
			b, err := mmu.Read8(addr + off + i)
			if err != nil {
				b = 0
			}
			line[i] = b
		}
		if n == 16 && haveLast && line == last {
			continue
		}
		if n == 16 {
			last, haveLast = line, true
		} else {
			haveLast = false
		}
		writeHexLine(s, addr+off, line[:n])
	}
}

func writeHexLine(s *Session, addr uint64, line []byte) {
	fmt.Fprintf(s.out, "%016x: ", addr)
	for j := 0; j < 16; j++ {
		if j == 8 {
			fmt.Fprint(s.out, " ")
		}
		if j < len(line) {
			fmt.Fprintf(s.out, "%02x ", line[j])
		} else {
			fmt.Fprint(s.out, "   ")
		}
	}
	fmt.Fprint(s.out, " |")
	for _, b := range line {
		if b >= 32 && b <= 126 {
			fmt.Fprintf(s.out, "%c", b)
		} else {
			fmt.Fprint(s.out, ".")
		}
	}
	fmt.Fprintln(s.out, "|")
}

func tokenize(line string) []string {
	return strings.Fields(line)
}
