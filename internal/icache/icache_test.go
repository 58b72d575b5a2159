package icache

import (
	"testing"

	"github.com/arcvm/arcvm/internal/memory"
)

func TestMaybeSetBaseMatchesDirectRead(t *testing.T) {
	m := memory.NewMMU()
	if err := m.AddRegion(memory.NewStandardRegion(0xF0000000, 0x1000)); err != nil {
		t.Fatalf("add region: %v", err)
	}
	for i := uint64(0); i < 0x40; i++ {
		if err := m.Write8(0xF0000000+i, byte(i*7+3)); err != nil {
			t.Fatalf("seed byte: %v", err)
		}
	}

	c := New(32)
	if err := c.Init(m, 0xF0000000); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := c.MaybeSetBaseAddress(0xF0000010); err != nil {
		t.Fatalf("maybe_set_base: %v", err)
	}

	for i := uint64(0); i < 16; i++ {
		got, err := c.ReadU8()
		if err != nil {
			t.Fatalf("cache read: %v", err)
		}
		want, err := m.Read8(0xF0000010 + i)
		if err != nil {
			t.Fatalf("direct read: %v", err)
		}
		if got != want {
			t.Fatalf("byte %d mismatch: cache=%#x direct=%#x", i, got, want)
		}
	}
}

func TestCacheMissRefillsAcrossWindow(t *testing.T) {
	m := memory.NewMMU()
	m.AddRegion(memory.NewStandardRegion(0xF0000000, 0x1000))
	for i := uint64(0); i < 0x20; i++ {
		m.Write8(0xF0000000+i, byte(i))
	}

	c := New(8)
	if err := c.Init(m, 0xF0000000); err != nil {
		t.Fatalf("init: %v", err)
	}
	for i := 0; i < 16; i++ {
		v, err := c.ReadU8()
		if err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
		if v != byte(i) {
			t.Fatalf("read %d: got %d want %d", i, v, i)
		}
	}
}
