// Package stub provides minimal reference devices (console, storage)
// used by tests and the demo CLI. Concrete device backends are outside
// this project's scope; these exist only to exercise internal/iobus.
package stub

import "sync"

// Console is a one-byte memory-mapped output port: writes append to an
// in-memory buffer, reads always return 0.
type Console struct {
	mu   sync.Mutex
	base uint64
	buf  []byte
}

// NewConsole maps a one-byte console device at base.
func NewConsole(base uint64) *Console {
	return &Console{base: base}
}

func (c *Console) Contains(addr uint64) bool { return addr == c.base }

func (c *Console) Output() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return string(c.buf)
}

func (c *Console) Read8(addr uint64) (uint8, error)   { return 0, nil }
func (c *Console) Read16(addr uint64) (uint16, error) { return 0, nil }
func (c *Console) Read32(addr uint64) (uint32, error) { return 0, nil }
func (c *Console) Read64(addr uint64) (uint64, error) { return 0, nil }

func (c *Console) Write8(addr uint64, v uint8) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buf = append(c.buf, v)
	return nil
}

func (c *Console) Write16(addr uint64, v uint16) error { return c.Write8(addr, uint8(v)) }
func (c *Console) Write32(addr uint64, v uint32) error { return c.Write8(addr, uint8(v)) }
func (c *Console) Write64(addr uint64, v uint64) error { return c.Write8(addr, uint8(v)) }
