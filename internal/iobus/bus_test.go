package iobus

import "testing"

type fakeDevice struct {
	base uint64
	val  uint8
}

func (f *fakeDevice) Contains(addr uint64) bool { return addr == f.base }
func (f *fakeDevice) Read8(addr uint64) (uint8, error)   { return f.val, nil }
func (f *fakeDevice) Read16(addr uint64) (uint16, error) { return uint16(f.val), nil }
func (f *fakeDevice) Read32(addr uint64) (uint32, error) { return uint32(f.val), nil }
func (f *fakeDevice) Read64(addr uint64) (uint64, error) { return uint64(f.val), nil }
func (f *fakeDevice) Write8(addr uint64, v uint8) error  { f.val = v; return nil }
func (f *fakeDevice) Write16(addr uint64, v uint16) error { f.val = uint8(v); return nil }
func (f *fakeDevice) Write32(addr uint64, v uint32) error { f.val = uint8(v); return nil }
func (f *fakeDevice) Write64(addr uint64, v uint64) error { f.val = uint8(v); return nil }

type fakeSink struct {
	vectors []uint8
}

func (s *fakeSink) RaiseInterrupt(vector uint8) error {
	s.vectors = append(s.vectors, vector)
	return nil
}

func TestRouteToClaimingDevice(t *testing.T) {
	b := New()
	d := &fakeDevice{base: 0x100}
	b.Register(d)

	if err := b.Write8(0x100, 0x42); err != nil {
		t.Fatalf("write8: %v", err)
	}
	v, err := b.Read8(0x100)
	if err != nil {
		t.Fatalf("read8: %v", err)
	}
	if v != 0x42 {
		t.Fatalf("got %#x want 0x42", v)
	}
}

func TestUnclaimedAddressErrors(t *testing.T) {
	b := New()
	if _, err := b.Read8(0x200); err == nil {
		t.Fatalf("expected Unclaimed error")
	}
}

func TestRaiseInterruptForwardsToSink(t *testing.T) {
	b := New()
	sink := &fakeSink{}
	b.SetInterruptSink(sink)

	if err := b.RaiseInterrupt(32); err != nil {
		t.Fatalf("raise: %v", err)
	}
	if len(sink.vectors) != 1 || sink.vectors[0] != 32 {
		t.Fatalf("sink did not receive vector: %v", sink.vectors)
	}
}

func TestRaiseInterruptWithoutSinkErrors(t *testing.T) {
	b := New()
	if err := b.RaiseInterrupt(32); err == nil {
		t.Fatalf("expected error with no sink installed")
	}
}
