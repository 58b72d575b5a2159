package debugif

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/arcvm/arcvm/internal/arch"
)

// cmdScript plays back a recorded macro: `script <name>`. A name
// ending in .lua is evaluated by an embedded Lua VM exposing
// reg/setreg/peek/poke/cmd; anything else is read as a plain list of
// debug command lines, replayed through Dispatch exactly as if typed.
// Lua is a convenience layer over the existing command primitives,
// never a second code path into CPU state — every Lua builtin below
// bottoms out in the same register/memory/command calls a typed
// command would use.
func cmdScript(s *Session, args []string) error {
	if len(args) < 1 {
		fmt.Fprintln(s.out, "Usage: script <name>")
		return nil
	}
	name := args[0]
	if strings.HasSuffix(name, ".lua") {
		return s.runLuaScript(name)
	}
	return s.runCommandScript(name)
}

func (s *Session) runCommandScript(path string) error {
	f, err := os.Open(path)
	if err != nil {
		fmt.Fprintf(s.out, "script: %v\n", err)
		return nil
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if err := s.Dispatch(sc.Text()); err != nil {
			return err
		}
	}
	return sc.Err()
}

// regByName resolves a register mnemonic (R0..R15, SCP/SBP/STP,
// CR0..CR7, STS, IP) the way arch.Name formats it, for the Lua
// reg/setreg builtins.
func (s *Session) regByName(name string) (*regRef, bool) {
	regs := s.target.Registers()
	name = strings.ToUpper(name)
	for i := uint8(0); i < arch.NumGPR; i++ {
		if arch.Name(arch.GeneralPurpose, i) == name {
			return &regRef{regs.GPR(i).Value, regs.GPR(i).SetRaw}, true
		}
	}
	switch name {
	case "SCP":
		return &regRef{regs.SCP().Value, regs.SCP().SetRaw}, true
	case "SBP":
		return &regRef{regs.SBP().Value, regs.SBP().SetRaw}, true
	case "STP":
		return &regRef{regs.STP().Value, regs.STP().SetRaw}, true
	case "STS":
		return &regRef{regs.Status().Value, regs.Status().SetRaw}, true
	case "IP":
		return &regRef{regs.IP().Value, regs.IP().SetRaw}, true
	}
	for i := uint8(0); i < arch.NumControl; i++ {
		if arch.Name(arch.Control, i) == name {
			return &regRef{regs.CR(i).Value, regs.CR(i).SetRaw}, true
		}
	}
	return nil, false
}

type regRef struct {
	get func() uint64
	set func(uint64)
}

func (s *Session) runLuaScript(path string) error {
	L := lua.NewState()
	defer L.Close()

	L.SetGlobal("reg", L.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(1)
		r, ok := s.regByName(name)
		if !ok {
			L.RaiseError("unknown register %q", name)
			return 0
		}
		L.Push(lua.LNumber(r.get()))
		return 1
	}))

	L.SetGlobal("setreg", L.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(1)
		val := uint64(L.CheckNumber(2))
		r, ok := s.regByName(name)
		if !ok {
			L.RaiseError("unknown register %q", name)
			return 0
		}
		r.set(val)
		return 0
	}))

	L.SetGlobal("peek", L.NewFunction(func(L *lua.LState) int {
		addr := uint64(L.CheckNumber(1))
		size := int(L.CheckNumber(2))
		v, err := peekSized(s, addr, size)
		if err != nil {
			L.RaiseError("peek: %v", err)
			return 0
		}
		L.Push(lua.LNumber(v))
		return 1
	}))

	L.SetGlobal("poke", L.NewFunction(func(L *lua.LState) int {
		addr := uint64(L.CheckNumber(1))
		size := int(L.CheckNumber(2))
		val := uint64(L.CheckNumber(3))
		if err := pokeSized(s, addr, size, val); err != nil {
			L.RaiseError("poke: %v", err)
		}
		return 0
	}))

	L.SetGlobal("cmd", L.NewFunction(func(L *lua.LState) int {
		line := L.CheckString(1)
		if err := s.Dispatch(line); err != nil && err != errQuit {
			L.RaiseError("cmd: %v", err)
		}
		return 0
	}))

	if err := L.DoFile(path); err != nil {
		fmt.Fprintf(s.out, "script: %v\n", err)
	}
	return nil
}

func peekSized(s *Session, addr uint64, size int) (uint64, error) {
	mmu := s.target.Physical()
	switch size {
	case 1:
		v, err := mmu.Read8(addr)
		return uint64(v), err
	case 2:
		v, err := mmu.Read16(addr)
		return uint64(v), err
	case 4:
		v, err := mmu.Read32(addr)
		return uint64(v), err
	default:
		return mmu.Read64(addr)
	}
}

func pokeSized(s *Session, addr uint64, size int, val uint64) error {
	mmu := s.target.Physical()
	switch size {
	case 1:
		return mmu.Write8(addr, uint8(val))
	case 2:
		return mmu.Write16(addr, uint16(val))
	case 4:
		return mmu.Write32(addr, uint32(val))
	default:
		return mmu.Write64(addr, val)
	}
}
