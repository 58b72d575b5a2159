// Package emulator bundles the CPU engine, the physical address
// space and the I/O bus behind one explicitly threaded-through handle
// (spec.md §9: "no package-level mutable state ... an explicit handle
// threaded through every call" in place of the original's global
// singletons). Machine also owns the four-thread concurrency model
// from spec.md §5: an execution thread runs the guest, an event
// thread applies cross-cutting IP/MMU changes by joining and
// respawning the execution thread, a debug thread drives the
// coordinator from the outside, and a device-I/O thread completes
// deferred storage transfers.
package emulator

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/arcvm/arcvm/internal/coord"
	"github.com/arcvm/arcvm/internal/cpu"
	"github.com/arcvm/arcvm/internal/debugif"
	"github.com/arcvm/arcvm/internal/iobus"
	"github.com/arcvm/arcvm/internal/memory"
	"github.com/arcvm/arcvm/internal/regfile"
)

// Transfer is a deferred block-storage load submitted through
// QueueTransfer and completed off the execution thread.
type Transfer struct {
	Device StorageDevice
	Offset int
	Data   []byte
	Vector uint8
}

// StorageDevice is the capability the device-I/O thread needs from a
// storage-backed bus device to complete a deferred transfer.
type StorageDevice interface {
	Load(offset int, data []byte)
}

// Machine is one guest instance: its CPU, bus and address space.
type Machine struct {
	CPU *cpu.Engine
	Bus *iobus.Bus

	// DebugTransport is a spec.md §4.9 transport spec ("disabled",
	// "stdio", "file:PATH", "port:N"); empty or "disabled" runs no
	// debug thread.
	DebugTransport string

	log *slog.Logger

	events    chan Event
	transfers chan Transfer
}

// New wires a fresh guest: an I/O bus with devices already registered,
// a boot-layout physical address space (spec.md §6) preloaded with
// image, and a CPU engine positioned at the BIOS entry point.
func New(ramSize uint64, image []byte, bus *iobus.Bus, log *slog.Logger) *Machine {
	if log == nil {
		log = slog.Default()
	}
	phys := memory.NewBootMMU(ramSize, image, bus)
	engine := cpu.New(phys, memory.BIOSBase)

	m := &Machine{
		CPU:       engine,
		Bus:       bus,
		log:       log.With("component", "emulator"),
		events:    make(chan Event, 16),
		transfers: make(chan Transfer, 16),
	}
	bus.SetInterruptSink(&interruptSink{m: m})
	return m
}

// interruptSink adapts Machine onto iobus.InterruptSink without
// exposing cpu.Engine's RaiseDeviceInterrupt through the bus package.
type interruptSink struct{ m *Machine }

func (s *interruptSink) RaiseInterrupt(vector uint8) error {
	return s.m.CPU.RaiseDeviceInterrupt(vector)
}

// engineTarget adapts *cpu.Engine onto debugif.Target.
type engineTarget struct{ e *cpu.Engine }

func (t engineTarget) Registers() *regfile.File  { return t.e.Registers() }
func (t engineTarget) Physical() *memory.MMU     { return t.e.Physical() }
func (t engineTarget) Coord() *coord.Coordinator { return t.e.Coord }
func (t engineTarget) HaltReason() (bool, string) {
	h := t.e.Halted()
	if h == nil {
		return false, ""
	}
	return true, h.Error()
}
func (t engineTarget) Translate(vaddr uint64) (uint64, error) { return t.e.Translate(vaddr) }

// PostEvent enqueues a cross-cutting event for the event thread to
// apply. Safe to call from the debug thread or a device callback.
func (m *Machine) PostEvent(ev Event) {
	m.events <- ev
}

// QueueTransfer enqueues a deferred storage transfer for the device
// I/O thread to complete.
func (m *Machine) QueueTransfer(t Transfer) {
	m.transfers <- t
}

// Run starts the execution, event and device-I/O threads under a
// shared errgroup (SPEC_FULL.md §5): a non-nil error from any of them
// cancels the group's context, which the event and device loops watch
// as a cooperative-stop signal in addition to the coordinator's own
// atomics. The execution loop never observes the context directly —
// it must only ever block on coord.Coordinator, per spec.md §5's
// "local running flag with periodic atomic check."
func (m *Machine) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	execResult := make(chan error, 1)
	m.spawnExecution(execResult)

	g.Go(func() error { return m.eventLoop(gctx, execResult) })
	g.Go(func() error { return m.deviceLoop(gctx) })
	if m.DebugTransport != "" && m.DebugTransport != "disabled" {
		g.Go(func() error { return m.debugLoop(gctx) })
	}

	return g.Wait()
}

// debugLoop serves the configured debug transport until ctx is
// canceled. A debug session's own commands (pause/continue/step) drive
// the coordinator directly; this loop only owns the transport's
// lifetime within the errgroup so Run waits for it like the event and
// device loops.
func (m *Machine) debugLoop(ctx context.Context) error {
	serve, err := debugif.Listen(m.DebugTransport, engineTarget{e: m.CPU}, m.log)
	if err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() { done <- serve() }()
	select {
	case <-ctx.Done():
		return nil
	case err := <-done:
		return err
	}
}

// Shutdown requests a clean stop of the execution thread through the
// coordinator. It does not cancel the context passed to Run; the device
// and debug loops return once the caller cancels that context.
func (m *Machine) Shutdown() {
	m.CPU.Coord.StopExecution(false)
}

func (m *Machine) spawnExecution(result chan<- error) {
	go func() {
		result <- m.CPU.Run()
	}()
}

// eventLoop drains cross-cutting events and the execution thread's
// terminal result. Applying SwitchToIP or NewMMU requires joining the
// current execution goroutine before mutating shared state (the
// instruction cache's address-space pointer is not safe to swap out
// from under a running fetch), then respawning a fresh one.
func (m *Machine) eventLoop(ctx context.Context, execResult chan error) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-execResult:
			if err != nil {
				m.log.Info("execution thread stopped", "error", err)
			}
			return err
		case ev := <-m.events:
			if err := m.applyEvent(ev, execResult); err != nil {
				return err
			}
		}
	}
}

func (m *Machine) applyEvent(ev Event, execResult chan error) error {
	switch ev.Kind {
	case SwitchToIP:
		saved := m.CPU.Coord.StopExecution(true)
		<-execResult
		m.CPU.Registers().IP().SetRaw(ev.IP)
		m.CPU.Coord.AllowExecution(saved)
		m.spawnExecution(execResult)
		m.log.Debug("switched ip", "ip", ev.IP)

	case NewMMU:
		saved := m.CPU.Coord.StopExecution(true)
		<-execResult
		phys := memory.NewBootMMU(ev.RAMSize, ev.Image, m.Bus)
		m.CPU.Reboot(phys, memory.BIOSBase)
		m.CPU.Coord.AllowExecution(saved)
		m.spawnExecution(execResult)
		m.log.Info("address space reset", "ram_size", ev.RAMSize)

	case StorageTransfer:
		m.log.Debug("storage transfer complete", "device", ev.Device)
		return m.CPU.RaiseDeviceInterrupt(ev.Vector)
	}
	return nil
}

// deviceLoop completes queued storage transfers off the execution
// thread and reports each one back onto the event queue, so its
// completion interrupt is raised in event-thread order rather than
// synchronously inside whatever instruction issued the transfer.
func (m *Machine) deviceLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case t := <-m.transfers:
			t.Device.Load(t.Offset, t.Data)
			select {
			case m.events <- Event{Kind: StorageTransfer, Device: "storage", Vector: t.Vector}:
			case <-ctx.Done():
				return nil
			}
		}
	}
}
