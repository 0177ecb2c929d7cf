package vbm

import (
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/keahilabs/kahawai/internal/fifo"
	"github.com/keahilabs/kahawai/internal/framechan"
	"github.com/keahilabs/kahawai/internal/media"
	"github.com/keahilabs/kahawai/internal/rmem"
)

// ErrNoFrame indicates the pool has no free frame right now.
var ErrNoFrame = stderrors.New("No frame available")

// DefaultFrameCount is the pool depth used when the caller does not choose.
const DefaultFrameCount = 4

// KernelQueue is the capture-device surface a pool needs for priming and
// recycling buffers. *framechan.Device satisfies it.
type KernelQueue interface {
	Format() (*framechan.Format, error)
	QueryBuffer(index int) (int, error)
	Queue(b framechan.Buffer) error
}

// Pool is one channel's set of DMA-backed capture frames. Frames are carved
// from a single contiguous region so the kernel sees stable physical
// addresses for the channel's lifetime.
type Pool struct {
	channel   int
	frameSize int
	alloc     *rmem.Allocator
	avail     *fifo.Queue

	// mu guards the descriptor table and the kernel bookkeeping below.
	// The availability queue synchronizes itself.
	mu      sync.Mutex
	region  *rmem.Region
	frames  []media.Frame
	kq      KernelQueue
	lengths []int
}

func newPool(alloc *rmem.Allocator, channel int, format *framechan.Format, count int) (*Pool, error) {
	if format == nil {
		return nil, errors.New("Nil capture format")
	}
	if count <= 0 {
		count = DefaultFrameCount
	}

	frameSize := media.FrameSize(format.Pixel, format.Width, format.Height)
	if frameSize <= 0 {
		return nil, errors.Errorf("Cannot size frames for pixel format %s", format.Pixel)
	}

	region, err := alloc.Alloc(count*frameSize, fmt.Sprintf("vbm ch%d", channel))
	if err != nil {
		return nil, errors.Wrapf(err, "allocate %d frame pool", channel)
	}

	avail, err := fifo.New(count)
	if err != nil {
		alloc.Free(region)
		return nil, err
	}

	p := &Pool{
		channel:   channel,
		frameSize: frameSize,
		region:    region,
		alloc:     alloc,
		frames:    make([]media.Frame, count),
		avail:     avail,
		lengths:   make([]int, count),
	}
	for i := range p.frames {
		off := i * frameSize
		p.frames[i] = media.Frame{
			Index:   i,
			Channel: channel,
			Width:   format.Width,
			Height:  format.Height,
			Format:  format.Pixel,
			Size:    frameSize,
			Phys:    region.Phys + uint64(off),
			Data:    region.Data[off : off+frameSize],
		}
		p.lengths[i] = frameSize
		p.avail.Push(i, 0)
	}
	return p, nil
}

// FrameSize returns the per-frame byte size of this pool.
func (p *Pool) FrameSize() int {
	return p.frameSize
}

// Frames returns the pool depth.
func (p *Pool) Frames() int {
	return len(p.frames)
}

// FrameByIndex maps a kernel buffer index back to its frame descriptor, for
// capture loops that dequeue filled buffers directly from the device.
func (p *Pool) FrameByIndex(index int) (*media.Frame, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if index < 0 || index >= len(p.frames) {
		return nil, errors.Errorf("Frame index %d outside pool of %d", index, len(p.frames))
	}
	return &p.frames[index], nil
}

// Prime negotiates every pool buffer into the kernel's queue. The submitted
// length is taken from the kernel's own buffer query when it answers, then
// from the capture format's image size, then from a 4:2:0 computation, and
// finally from the pool's per-frame size; it never exceeds the pool's
// allocation. A submission rejected at one length is retried once at an
// alternate plausible length before that buffer is reported failed.
func (p *Pool) Prime(kq KernelQueue) error {
	if kq == nil {
		return errors.New("Nil kernel queue")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.kq != nil {
		return errors.Errorf("Channel %d pool already primed", p.channel)
	}
	if p.region == nil {
		return errors.Errorf("Channel %d pool is closed", p.channel)
	}

	imageSize := 0
	if f, err := kq.Format(); err == nil {
		imageSize = f.ImageSize
	} else {
		log.Debug("Capture format unavailable while priming channel %d: %v", p.channel, err)
	}

	var failed error
	for i := range p.frames {
		length := p.expectedLength(kq, i, imageSize)
		buf := framechan.Buffer{Index: i, Phys: p.frames[i].Phys, Length: length}
		if err := kq.Queue(buf); err != nil {
			alt := p.alternateLength(length)
			log.Warn("Priming buffer %d at %d bytes failed: %v, retrying at %d", i, length, err, alt)
			buf.Length = alt
			if err := kq.Queue(buf); err != nil {
				failed = multierr.Append(failed, errors.Wrapf(err, "prime buffer %d", i))
				continue
			}
			length = alt
		}
		p.lengths[i] = length
	}

	p.kq = kq
	return failed
}

// expectedLength picks the byte length to submit for one kernel buffer.
func (p *Pool) expectedLength(kq KernelQueue, index, imageSize int) int {
	length := 0
	if n, err := kq.QueryBuffer(index); err == nil && n > 0 {
		length = n
	} else if imageSize > 0 {
		length = imageSize
	} else if n := p.planarSize(); n > 0 {
		length = n
	} else {
		length = p.frameSize
	}
	if length > p.frameSize {
		length = p.frameSize
	}
	return length
}

func (p *Pool) alternateLength(first int) int {
	if first != p.frameSize {
		return p.frameSize
	}
	if n := p.planarSize(); n > 0 && n != first {
		return n
	}
	return first
}

// planarSize is the direct 4:2:0 computation used when nothing better is
// known about the kernel's expectations.
func (p *Pool) planarSize() int {
	if len(p.frames) == 0 {
		return 0
	}
	f := &p.frames[0]
	n := media.FrameSize(media.NV12, f.Width, f.Height)
	if n > p.frameSize {
		n = p.frameSize
	}
	return n
}

// Get pops a free frame, or ErrNoFrame when every frame is out.
func (p *Pool) Get() (*media.Frame, error) {
	item, err := p.avail.Pop(0)
	if err != nil {
		if err == fifo.ErrEmpty || err == fifo.ErrClosed {
			return nil, ErrNoFrame
		}
		return nil, err
	}
	return p.FrameByIndex(item.(int))
}

// Release returns a frame to the pool. A kernel-backed frame is resubmitted
// to the kernel queue first so it is refillable before software can pop it
// again.
func (p *Pool) Release(frame *media.Frame) error {
	if frame == nil {
		return errors.New("Nil frame")
	}

	p.mu.Lock()
	if frame.Index < 0 || frame.Index >= len(p.frames) || p.frames[frame.Index].Phys != frame.Phys {
		p.mu.Unlock()
		return errors.Errorf("Unknown frame 0x%08x on channel %d", frame.Phys, p.channel)
	}
	if p.kq != nil {
		buf := framechan.Buffer{
			Index:  frame.Index,
			Phys:   frame.Phys,
			Length: p.lengths[frame.Index],
		}
		if err := p.kq.Queue(buf); err != nil {
			log.Warn("Resubmitting buffer %d on channel %d failed: %v", frame.Index, p.channel, err)
		}
	}
	p.mu.Unlock()

	return p.avail.Push(frame.Index, 0)
}

// Close releases the pool's frames and backing memory. Outstanding frame
// pointers are invalid afterwards.
func (p *Pool) Close() error {
	p.avail.Close()

	p.mu.Lock()
	defer p.mu.Unlock()
	err := p.alloc.Free(p.region)
	p.region = nil
	p.frames = nil
	p.kq = nil
	return err
}
