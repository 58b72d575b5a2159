package memory

const (
	// BIOSBase is where the boot image is mapped and the initial IP.
	BIOSBase = 0xF0000000
	// BIOSLimit is the end of the BIOS window / start of the I/O window.
	BIOSLimit = 0xFFFFFF00
	// IOWindowLimit is the end of the I/O window / start of high RAM.
	IOWindowLimit = 0x100000000
	// lowRAMCap is the largest low-RAM region size before the layout
	// spills into the high RAM region past the I/O window.
	lowRAMCap = 0xF0000000
)

// NewBootMMU builds the physical address space in its boot-state
// layout: low RAM, BIOS (preloaded with image), the I/O window bridged
// to bus, and high RAM if ramSize exceeds the low-RAM cap.
func NewBootMMU(ramSize uint64, image []byte, bus IOBridge) *MMU {
	m := NewMMU()

	lowSize := ramSize
	if lowSize > lowRAMCap {
		lowSize = lowRAMCap
	}
	if lowSize > 0 {
		m.AddRegion(NewStandardRegion(0, lowSize))
	}

	m.AddRegion(NewBIOSRegion(BIOSBase, BIOSLimit-BIOSBase, image))
	m.AddRegion(NewIOWindowRegion(BIOSLimit, IOWindowLimit, bus))

	if ramSize > lowRAMCap {
		highSize := ramSize - lowRAMCap
		m.AddRegion(NewStandardRegion(IOWindowLimit, highSize))
	}
	return m
}
