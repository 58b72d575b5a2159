package memory

import (
	"fmt"
	"sort"
	"strings"
)

// MMU is the physical address space: an ordered list of disjoint
// regions. All fixed-width accessors route through ReadBuffer/
// WriteBuffer, which walk the ordered list a byte at a time so a
// width-8 access straddling two regions (or three, across a removed
// segment's flanks) still completes correctly.
type MMU struct {
	regions []Region
}

// NewMMU returns an empty address space.
func NewMMU() *MMU {
	return &MMU{}
}

// AddRegion inserts r in start order, refusing overlap with an
// existing region.
func (m *MMU) AddRegion(r Region) error {
	for _, existing := range m.regions {
		if r.Start() < existing.End() && existing.Start() < r.End() {
			return &ErrOverlap{Start: r.Start(), End: r.End()}
		}
	}
	m.regions = append(m.regions, r)
	sort.Slice(m.regions, func(i, j int) bool { return m.regions[i].Start() < m.regions[j].Start() })
	return nil
}

// Regions returns the ordered region list (read-only use by debug
// formatting; callers must not mutate the returned slice).
func (m *MMU) Regions() []Region { return m.regions }

func (m *MMU) find(addr uint64) Region {
	// Regions are sorted and disjoint; binary search on Start would
	// work but the list is small (single digits), so a linear scan
	// matches the original's walk-in-order behavior directly.
	for _, r := range m.regions {
		if addr >= r.Start() && addr < r.End() {
			return r
		}
	}
	return nil
}

// ReadBuffer fills buf from addr, walking across region boundaries
// byte by byte. Any byte not covered by a region raises a Fault at
// that byte's address.
func (m *MMU) ReadBuffer(addr uint64, buf []byte) error {
	for i := range buf {
		r := m.find(addr + uint64(i))
		if r == nil {
			return &Fault{Addr: addr + uint64(i)}
		}
		v, err := r.ReadByte(addr + uint64(i))
		if err != nil {
			return err
		}
		buf[i] = v
	}
	return nil
}

// WriteBuffer writes buf to addr, walking across region boundaries
// byte by byte.
func (m *MMU) WriteBuffer(addr uint64, buf []byte) error {
	for i, b := range buf {
		r := m.find(addr + uint64(i))
		if r == nil {
			return &Fault{Addr: addr + uint64(i)}
		}
		if err := r.WriteByte(addr+uint64(i), b); err != nil {
			return err
		}
	}
	return nil
}

func (m *MMU) Read8(addr uint64) (uint8, error) {
	var b [1]byte
	if err := m.ReadBuffer(addr, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

func (m *MMU) Read16(addr uint64) (uint16, error) {
	var b [2]byte
	if err := m.ReadBuffer(addr, b[:]); err != nil {
		return 0, err
	}
	return uint16(b[0]) | uint16(b[1])<<8, nil
}

func (m *MMU) Read32(addr uint64) (uint32, error) {
	var b [4]byte
	if err := m.ReadBuffer(addr, b[:]); err != nil {
		return 0, err
	}
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24, nil
}

func (m *MMU) Read64(addr uint64) (uint64, error) {
	var b [8]byte
	if err := m.ReadBuffer(addr, b[:]); err != nil {
		return 0, err
	}
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[i]) << (8 * uint(i))
	}
	return v, nil
}

func (m *MMU) Write8(addr uint64, v uint8) error {
	return m.WriteBuffer(addr, []byte{v})
}

func (m *MMU) Write16(addr uint64, v uint16) error {
	return m.WriteBuffer(addr, []byte{byte(v), byte(v >> 8)})
}

func (m *MMU) Write32(addr uint64, v uint32) error {
	return m.WriteBuffer(addr, []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)})
}

func (m *MMU) Write64(addr uint64, v uint64) error {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * uint(i)))
	}
	return m.WriteBuffer(addr, b)
}

// validate probes size bytes at addr without mutating anything,
// used by ValidateRead/Write/Execute.
func (m *MMU) validate(addr uint64, size uint64) bool {
	for i := uint64(0); i < size; i++ {
		if m.find(addr+i) == nil {
			return false
		}
	}
	return true
}

// ValidateRead reports whether size bytes at addr are all backed by a
// region, without raising a fault.
func (m *MMU) ValidateRead(addr, size uint64) bool {
	return m.validate(addr, size)
}

// ValidateWrite reports whether size bytes at addr are writable. The
// original treats this identically to ValidateRead (it does not probe
// read-only regions specially); kept the same here.
func (m *MMU) ValidateWrite(addr, size uint64) bool {
	return m.validate(addr, size)
}

// ValidateExecute is an alias of ValidateRead; the architecture has no
// separate execute permission bit at the physical-region level (that
// lives in the virtual MMU's page entries).
func (m *MMU) ValidateExecute(addr, size uint64) bool {
	return m.validate(addr, size)
}

// ReattachToken is the opaque handle RemoveRegionSegment returns;
// ReaddRegionSegment consumes it to restore the removed range.
type ReattachToken struct {
	start, end uint64
}

// RemoveRegionSegment deletes [start, end) from the address space,
// refusing if any overlapped region is non-splittable. Regions fully
// inside [start, end) are deleted outright; a region only partially
// overlapping keeps its uncovered flank as a new StandardRegion
// carrying the original bytes. The removed range itself is returned as
// a ReattachToken — its content is not preserved (only ReaddRegionSegment
// restoring it as fresh zeroed RAM is specified; all regions capable of
// being split are Standard RAM).
func (m *MMU) RemoveRegionSegment(start, end uint64) (*ReattachToken, error) {
	var kept []Region
	var flanks []Region
	touched := false

	for _, r := range m.regions {
		if end <= r.Start() || r.End() <= start {
			kept = append(kept, r)
			continue
		}
		touched = true
		if !r.Splittable() {
			return nil, &ErrRegionNotSplittable{Start: r.Start(), End: r.End()}
		}
		std, ok := r.(*StandardRegion)
		if !ok {
			return nil, &ErrRegionNotSplittable{Start: r.Start(), End: r.End()}
		}
		if std.Start() < start {
			flanks = append(flanks, NewStandardRegionFrom(std.Start(), std.slice(std.Start(), start)))
		}
		if end < std.End() {
			flanks = append(flanks, NewStandardRegionFrom(end, std.slice(end, std.End())))
		}
	}
	if !touched {
		return &ReattachToken{start: start, end: end}, nil
	}

	m.regions = kept
	for _, f := range flanks {
		m.regions = append(m.regions, f)
	}
	sort.Slice(m.regions, func(i, j int) bool { return m.regions[i].Start() < m.regions[j].Start() })
	return &ReattachToken{start: start, end: end}, nil
}

// ReaddRegionSegment restores the range named by tok as zeroed
// Standard RAM, coalescing with an immediately adjacent Standard RAM
// neighbor on either side.
func (m *MMU) ReaddRegionSegment(tok *ReattachToken) error {
	var left, right *StandardRegion
	var kept []Region
	for _, r := range m.regions {
		if std, ok := r.(*StandardRegion); ok && std.End() == tok.start {
			left = std
			continue
		}
		if std, ok := r.(*StandardRegion); ok && std.Start() == tok.end {
			right = std
			continue
		}
		kept = append(kept, r)
	}

	switch {
	case left != nil && right != nil:
		merged := NewStandardRegion(left.Start(), right.End()-left.Start())
		copy(merged.data, left.data)
		// middle bytes stay zero; the segment being re-added was removed RAM
		copy(merged.data[right.Start()-left.Start():], right.data)
		kept = append(kept, merged)
	case left != nil:
		merged := NewStandardRegion(left.Start(), tok.end-left.Start())
		copy(merged.data, left.data)
		kept = append(kept, merged)
	case right != nil:
		merged := NewStandardRegion(tok.start, right.End()-tok.start)
		copy(merged.data[right.Start()-tok.start:], right.data)
		kept = append(kept, merged)
	default:
		kept = append(kept, NewStandardRegion(tok.start, tok.end-tok.start))
	}

	m.regions = kept
	sort.Slice(m.regions, func(i, j int) bool { return m.regions[i].Start() < m.regions[j].Start() })
	return nil
}

// FormatRegions renders the ordered region list, one line per region
// with its kind, bounds and splittable flag.
func (m *MMU) FormatRegions() string {
	var b strings.Builder
	for _, r := range m.regions {
		fmt.Fprintf(&b, "%-8s [%#010x, %#010x) splittable=%v\n",
			r.Kind(), r.Start(), r.End(), r.Splittable())
	}
	return b.String()
}

// DumpBytes reads size bytes at addr into a new slice.
func (m *MMU) DumpBytes(addr, size uint64) ([]byte, error) {
	buf := make([]byte, size)
	if err := m.ReadBuffer(addr, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
