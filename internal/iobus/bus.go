// Package iobus implements the I/O bus: a fixed capability interface
// devices satisfy, and a Bus that routes memory accesses in the I/O
// window to the device that claims the address.
package iobus

import "fmt"

// Device is the fixed capability set every bus device implements
// (spec.md §9: "dynamic dispatch through virtual classes ... fixed
// capability set"). Contains reports the device's address range.
type Device interface {
	Contains(addr uint64) bool
	Read8(addr uint64) (uint8, error)
	Read16(addr uint64) (uint16, error)
	Read32(addr uint64) (uint32, error)
	Read64(addr uint64) (uint64, error)
	Write8(addr uint64, v uint8) error
	Write16(addr uint64, v uint16) error
	Write32(addr uint64, v uint32) error
	Write64(addr uint64, v uint64) error
}

// InterruptSink receives device-raised interrupts; internal/interrupt's
// Controller implements it via a thin adapter in internal/emulator.
type InterruptSink interface {
	RaiseInterrupt(vector uint8) error
}

// Unclaimed is returned when no device claims the address; the
// memory-mapped bridge region maps this to a physical-memory
// violation, per spec.md §4.7.
type Unclaimed struct {
	Addr uint64
}

func (e *Unclaimed) Error() string {
	return fmt.Sprintf("iobus: no device claims address %#x", e.Addr)
}

// Bus owns the set of devices mapped into the I/O window and forwards
// device-raised interrupts to whatever sink is registered.
type Bus struct {
	devices []Device
	sink    InterruptSink
}

// New builds an empty bus.
func New() *Bus {
	return &Bus{}
}

// Register adds a device to the bus.
func (b *Bus) Register(d Device) {
	b.devices = append(b.devices, d)
}

// SetInterruptSink installs the pipeline that RaiseInterrupt forwards
// to.
func (b *Bus) SetInterruptSink(sink InterruptSink) {
	b.sink = sink
}

// RaiseInterrupt is called by devices (via the Bus they were
// registered on) to signal an asynchronous event.
func (b *Bus) RaiseInterrupt(vector uint8) error {
	if b.sink == nil {
		return fmt.Errorf("iobus: interrupt sink not installed")
	}
	return b.sink.RaiseInterrupt(vector)
}

func (b *Bus) route(addr uint64) (Device, error) {
	for _, d := range b.devices {
		if d.Contains(addr) {
			return d, nil
		}
	}
	return nil, &Unclaimed{Addr: addr}
}

func (b *Bus) Read8(addr uint64) (uint8, error) {
	d, err := b.route(addr)
	if err != nil {
		return 0, err
	}
	return d.Read8(addr)
}

func (b *Bus) Read16(addr uint64) (uint16, error) {
	d, err := b.route(addr)
	if err != nil {
		return 0, err
	}
	return d.Read16(addr)
}

func (b *Bus) Read32(addr uint64) (uint32, error) {
	d, err := b.route(addr)
	if err != nil {
		return 0, err
	}
	return d.Read32(addr)
}

func (b *Bus) Read64(addr uint64) (uint64, error) {
	d, err := b.route(addr)
	if err != nil {
		return 0, err
	}
	return d.Read64(addr)
}

func (b *Bus) Write8(addr uint64, v uint8) error {
	d, err := b.route(addr)
	if err != nil {
		return err
	}
	return d.Write8(addr, v)
}

func (b *Bus) Write16(addr uint64, v uint16) error {
	d, err := b.route(addr)
	if err != nil {
		return err
	}
	return d.Write16(addr, v)
}

func (b *Bus) Write32(addr uint64, v uint32) error {
	d, err := b.route(addr)
	if err != nil {
		return err
	}
	return d.Write32(addr, v)
}

func (b *Bus) Write64(addr uint64, v uint64) error {
	d, err := b.route(addr)
	if err != nil {
		return err
	}
	return d.Write64(addr, v)
}
