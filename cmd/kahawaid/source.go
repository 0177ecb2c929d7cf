package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/keahilabs/kahawai"
	"github.com/keahilabs/kahawai/internal/color"
	"github.com/keahilabs/kahawai/internal/framechan"
	"github.com/keahilabs/kahawai/internal/media"
	"github.com/keahilabs/kahawai/internal/rmem"
	"github.com/keahilabs/kahawai/internal/vbm"
)

// frameSource extends media.FrameSource with buffer recycling. The run loop
// returns every frame once the encoder is done reading from it.
type frameSource interface {
	media.FrameSource

	// Recycle returns a frame to the source for reuse.
	Recycle(*media.Frame)
}

// openSource maps the --input flag onto a concrete source.
func openSource(input string, alloc *rmem.Allocator, params kahawai.ChannelParams) (frameSource, error) {
	switch {
	case input == "synthetic":
		return newSyntheticSource(alloc, params)
	case strings.HasPrefix(input, "/dev/framechan"):
		return newCaptureSource(input, alloc, params, flagCaptureFormat)
	default:
		return newFileSource(input, alloc, params)
	}
}

const ringFrames = 4

// frameRing is a fixed set of reusable DMA-backed frames. Sources that
// synthesize or copy pixel data draw from it so the encoder always sees
// device-addressable memory.
type frameRing struct {
	arena *rmem.Arena
	free  chan *media.Frame
}

func newFrameRing(alloc *rmem.Allocator, params kahawai.ChannelParams, name string) (*frameRing, error) {
	size := media.FrameSize(params.Format, params.Width, params.Height)
	slot := (size + 4095) / 4096 * 4096

	arena, err := rmem.NewArena(alloc, ringFrames*slot, name)
	if err != nil {
		return nil, err
	}

	ring := &frameRing{
		arena: arena,
		free:  make(chan *media.Frame, ringFrames),
	}
	for i := 0; i < ringFrames; i++ {
		region, err := arena.Carve(size, 4096, name)
		if err != nil {
			arena.Close()
			return nil, err
		}
		ring.free <- &media.Frame{
			Index:  i,
			Width:  params.Width,
			Height: params.Height,
			Format: params.Format,
			Size:   size,
			Phys:   region.Phys,
			Data:   region.Data,
		}
	}
	return ring, nil
}

// get blocks until a frame is free.
func (r *frameRing) get() *media.Frame {
	return <-r.free
}

func (r *frameRing) put(f *media.Frame) {
	select {
	case r.free <- f:
	default:
		// More recycles than gets is a caller bug.
		log.Println("frame ring overflow, dropping recycled frame")
	}
}

func (r *frameRing) close() error {
	return r.arena.Close()
}

// syntheticSource generates a moving NV12 test pattern at the configured
// frame rate.
type syntheticSource struct {
	ring   *frameRing
	ticker *time.Ticker
	params kahawai.ChannelParams
	seq    uint64
}

func newSyntheticSource(alloc *rmem.Allocator, params kahawai.ChannelParams) (*syntheticSource, error) {
	ring, err := newFrameRing(alloc, params, "synthetic source")
	if err != nil {
		return nil, err
	}
	return &syntheticSource{
		ring:   ring,
		ticker: time.NewTicker(frameInterval(params)),
		params: params,
	}, nil
}

func (s *syntheticSource) Next() (*media.Frame, error) {
	<-s.ticker.C
	frame := s.ring.get()

	// Diagonal luma gradient that scrolls one step per frame.
	width, height := s.params.Width, s.params.Height
	phase := byte(s.seq)
	for y := 0; y < height; y++ {
		row := frame.Data[y*width : (y+1)*width]
		for x := range row {
			row[x] = byte(x+y) + phase
		}
	}
	// Neutral chroma.
	uv := frame.Data[width*height:]
	for i := range uv {
		uv[i] = 128
	}

	frame.PTS = s.seq * 1e6 * uint64(s.params.FPSDen) / uint64(s.params.FPSNum)
	s.seq++
	return frame, nil
}

func (s *syntheticSource) Recycle(frame *media.Frame) {
	s.ring.put(frame)
}

func (s *syntheticSource) Close() error {
	s.ticker.Stop()
	return s.ring.close()
}

// fileSource replays raw frames from a file at the configured frame rate,
// looping at end of file. The on-disk pixel format follows the file
// extension; frames are converted to the encoder's format on the way in.
type fileSource struct {
	file    *os.File
	ring    *frameRing
	ticker  *time.Ticker
	scratch []byte
	params  kahawai.ChannelParams
	pixfmt  media.PixelFormat
	seq     uint64
}

func newFileSource(path string, alloc *rmem.Allocator, params kahawai.ChannelParams) (*fileSource, error) {
	var pixfmt media.PixelFormat
	switch strings.ToLower(filepath.Ext(path)) {
	case ".nv12", ".yuv":
		pixfmt = media.NV12
	case ".i420":
		pixfmt = media.I420
	case ".yuyv":
		pixfmt = media.YUYV
	default:
		return nil, fmt.Errorf("unsupported source file %q", path)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	ring, err := newFrameRing(alloc, params, "file source")
	if err != nil {
		file.Close()
		return nil, err
	}

	// Raw files are tightly packed, no stride padding.
	frameBytes := 3 * params.Width * params.Height / 2
	if pixfmt == media.YUYV {
		frameBytes = 2 * params.Width * params.Height
	}

	return &fileSource{
		file:    file,
		ring:    ring,
		ticker:  time.NewTicker(frameInterval(params)),
		scratch: make([]byte, frameBytes),
		params:  params,
		pixfmt:  pixfmt,
	}, nil
}

func (s *fileSource) Next() (*media.Frame, error) {
	<-s.ticker.C

	if _, err := io.ReadFull(s.file, s.scratch); err != nil {
		if err != io.EOF && err != io.ErrUnexpectedEOF {
			return nil, err
		}
		// Loop the clip.
		if _, err := s.file.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}
		if _, err := io.ReadFull(s.file, s.scratch); err != nil {
			return nil, err
		}
	}

	frame := s.ring.get()
	var err error
	switch s.pixfmt {
	case media.I420:
		err = color.I420ToNV12(frame.Data, s.scratch, s.params.Width, s.params.Height)
	case media.YUYV:
		err = color.YUYVToNV12(frame.Data, s.scratch, s.params.Width, s.params.Height)
	default:
		copy(frame.Data, s.scratch)
	}
	if err != nil {
		s.ring.put(frame)
		return nil, err
	}

	frame.PTS = s.seq * 1e6 * uint64(s.params.FPSDen) / uint64(s.params.FPSNum)
	s.seq++
	return frame, nil
}

func (s *fileSource) Recycle(frame *media.Frame) {
	s.ring.put(frame)
}

func (s *fileSource) Close() error {
	s.ticker.Stop()
	s.file.Close()
	return s.ring.close()
}

// captureSource pulls frames from a kernel capture channel through the
// buffer manager. When the node delivers YUYV, frames are converted into
// ring-backed NV12 buffers on the way out.
type captureSource struct {
	dev     *framechan.Device
	mgr     *vbm.Manager
	channel int
	params  kahawai.ChannelParams
	ring    *frameRing // non-nil when converting
}

func newCaptureSource(path string, alloc *rmem.Allocator, params kahawai.ChannelParams, pixfmt string) (*captureSource, error) {
	var capturefmt media.PixelFormat
	switch strings.ToLower(pixfmt) {
	case "nv12":
		capturefmt = media.NV12
	case "yuyv":
		capturefmt = media.YUYV
	default:
		return nil, fmt.Errorf("unsupported capture format %q", pixfmt)
	}

	var channel int
	if n, err := fmt.Sscanf(path, "/dev/framechan%d", &channel); n != 1 || err != nil {
		return nil, fmt.Errorf("cannot derive a channel number from %q", path)
	}

	dev, err := framechan.Open(path)
	if err != nil {
		return nil, err
	}

	format := &framechan.Format{
		Width:     params.Width,
		Height:    params.Height,
		Pixel:     capturefmt,
		Enable:    true,
		CropW:     params.Width,
		CropH:     params.Height,
		OutWidth:  params.Width,
		OutHeight: params.Height,
		FPS:       params.FPSNum / params.FPSDen,
	}
	if err := dev.SetFormat(format); err != nil {
		dev.Close()
		return nil, err
	}

	mgr := vbm.New(alloc)
	pool, err := mgr.CreatePool(channel, format, vbm.DefaultFrameCount)
	if err != nil {
		dev.Close()
		return nil, err
	}

	granted, err := dev.RequestBuffers(pool.Frames())
	if err == nil && granted < pool.Frames() {
		err = fmt.Errorf("driver granted %d of %d capture buffers", granted, pool.Frames())
	}
	if err == nil {
		err = dev.SetFrameDepth(granted)
	}
	if err == nil {
		err = mgr.Prime(channel, dev)
	}
	if err == nil {
		err = dev.StreamOn()
	}
	if err != nil {
		mgr.Close()
		dev.Close()
		return nil, err
	}

	s := &captureSource{dev: dev, mgr: mgr, channel: channel, params: params}
	if capturefmt == media.YUYV {
		ring, err := newFrameRing(alloc, params, "capture convert")
		if err != nil {
			s.Close()
			return nil, err
		}
		s.ring = ring
	}
	return s, nil
}

func (s *captureSource) Next() (*media.Frame, error) {
	buf, err := s.dev.Dequeue()
	if err != nil {
		return nil, err
	}

	frame, err := s.mgr.GetFrame(s.channel)
	if err != nil {
		return nil, err
	}
	if frame.Index != buf.Index {
		// Completion normally follows submission order. A mismatch means
		// the driver reordered; the stream stays valid, one frame late.
		log.Printf("capture buffer %d completed, free list gave %d", buf.Index, frame.Index)
	}
	frame.PTS = uint64(time.Now().UnixNano() / 1e3)

	if s.ring == nil {
		return frame, nil
	}

	// Convert into a ring frame and hand the capture buffer straight back.
	out := s.ring.get()
	convErr := color.YUYVToNV12(out.Data, frame.Data, s.params.Width, s.params.Height)
	out.PTS = frame.PTS
	if err := s.mgr.ReleaseFrame(s.channel, frame); err != nil {
		log.Println("requeue capture frame:", err)
	}
	if convErr != nil {
		s.ring.put(out)
		return nil, convErr
	}
	return out, nil
}

func (s *captureSource) Recycle(frame *media.Frame) {
	if s.ring != nil {
		s.ring.put(frame)
		return
	}
	if err := s.mgr.ReleaseFrame(s.channel, frame); err != nil {
		log.Println("requeue capture frame:", err)
	}
}

func (s *captureSource) Close() error {
	if err := s.dev.StreamOff(); err != nil {
		log.Println("stream off:", err)
	}
	if s.ring != nil {
		s.ring.close()
	}
	s.mgr.Close()
	return s.dev.Close()
}

// frameInterval is the wall-clock spacing between frames.
func frameInterval(params kahawai.ChannelParams) time.Duration {
	return time.Second * time.Duration(params.FPSDen) / time.Duration(params.FPSNum)
}
