package media

// Physical addresses below one page cannot belong to a real DMA buffer.
// Anything smaller flowing in through the public API is treated as corrupt
// input rather than dereferenced.
const MinPlausibleAddr = 0x1000

// Frame describes one raw captured picture. The descriptor carries both views
// of the backing memory: the CPU mapping in Data and the device-visible
// physical address in Phys.
type Frame struct {
	Index   int // pool slot index, -1 when not pool-backed
	Channel int

	Width  int
	Height int
	Format PixelFormat

	Size int    // byte size per FrameSize packing rules
	Phys uint64 // device-visible address of the picture bytes
	Data []byte // CPU mapping of the picture bytes

	PTS uint64 // presentation timestamp, microseconds
}
