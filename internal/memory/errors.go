package memory

import "fmt"

// Fault is a physical-memory access outside any region, or a write
// against a read-only region. It carries the offending address so the
// interrupt pipeline's fault vector can report it.
type Fault struct {
	Addr uint64
}

func (f *Fault) Error() string {
	return fmt.Sprintf("memory: physical memory violation at %#x", f.Addr)
}

// ErrRegionNotSplittable is returned by RemoveRegionSegment when the
// requested range overlaps a non-splittable region.
type ErrRegionNotSplittable struct {
	Start, End uint64
}

func (e *ErrRegionNotSplittable) Error() string {
	return fmt.Sprintf("memory: region covering [%#x, %#x) is not splittable", e.Start, e.End)
}

// ErrOverlap is returned by AddRegion when the new region overlaps an
// existing one.
type ErrOverlap struct {
	Start, End uint64
}

func (e *ErrOverlap) Error() string {
	return fmt.Sprintf("memory: region [%#x, %#x) overlaps an existing region", e.Start, e.End)
}
