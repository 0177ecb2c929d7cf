// Package framechan drives the kernel capture device (/dev/framechan<N>):
// format negotiation, the buffer queue/dequeue protocol, and stream control.
package framechan

import (
	"fmt"
	"unsafe"

	errors "golang.org/x/xerrors"

	"github.com/keahilabs/kahawai/internal/media"
)

// DevicePath returns the conventional node path for a capture channel.
func DevicePath(channel int) string {
	return fmt.Sprintf("/dev/framechan%d", channel)
}

// Compile-time layout assertions. The kernel reads these structs byte for
// byte; a drifted field offset corrupts every request.
var (
	_ [0]struct{} = [unsafe.Sizeof(chanAttr{}) - 40]struct{}{}
	_ [0]struct{} = [unsafe.Sizeof(chanFormat{}) - 64]struct{}{}
	_ [0]struct{} = [unsafe.Sizeof(chanBuffer{}) - 24]struct{}{}

	_ [0]struct{} = [unsafe.Offsetof(chanFormat{}.attr) - 20]struct{}{}
	_ [0]struct{} = [unsafe.Offsetof(chanBuffer{}.phys) - 8]struct{}{}
)

// chanAttr is the channel-attribute block embedded in chanFormat, size 40.
//
//	offset  0  enable
//	offset  4  crop x
//	offset  8  crop y
//	offset 12  crop width
//	offset 16  crop height
//	offset 20  scaler width
//	offset 24  scaler height
//	offset 28  output picture width
//	offset 32  output picture height
//	offset 36  target frame rate
type chanAttr struct {
	enable  uint32
	cropX   uint32
	cropY   uint32
	cropW   uint32
	cropH   uint32
	scalerW uint32
	scalerH uint32
	outW    uint32
	outH    uint32
	fps     uint32
}

// chanFormat mirrors struct framechan_format in the kernel driver, size 64.
// stride and imageSize are computed by the driver and only meaningful on a
// get; they are ignored on a set.
type chanFormat struct {
	width     uint32   // offset 0
	height    uint32   // offset 4
	pixFmt    uint32   // offset 8, FourCC
	stride    uint32   // offset 12
	imageSize uint32   // offset 16
	attr      chanAttr // offset 20
	_         uint32   // offset 60, reserved
}

// chanBuffer is one entry of the queue/dequeue protocol, size 24.
type chanBuffer struct {
	index  uint32 // offset 0
	_      uint32 // offset 4, pads phys to its natural alignment
	phys   uint64 // offset 8
	length uint32 // offset 16
	flags  uint32 // offset 20
}

// Format describes the capture geometry plus the embedded channel attributes.
// Stride and ImageSize are driver outputs, filled on Format() reads.
type Format struct {
	Width  int
	Height int
	Pixel  media.PixelFormat

	Stride    int
	ImageSize int

	Enable              bool
	CropX, CropY        int
	CropW, CropH        int
	ScalerW, ScalerH    int
	OutWidth, OutHeight int
	FPS                 int
}

// Buffer is one slot of the kernel's queue/dequeue protocol.
type Buffer struct {
	Index  int
	Phys   uint64
	Length int
}

func (f *Format) toWire() chanFormat {
	enable := uint32(0)
	if f.Enable {
		enable = 1
	}
	return chanFormat{
		width:  uint32(f.Width),
		height: uint32(f.Height),
		pixFmt: uint32(f.Pixel),
		attr: chanAttr{
			enable:  enable,
			cropX:   uint32(f.CropX),
			cropY:   uint32(f.CropY),
			cropW:   uint32(f.CropW),
			cropH:   uint32(f.CropH),
			scalerW: uint32(f.ScalerW),
			scalerH: uint32(f.ScalerH),
			outW:    uint32(f.OutWidth),
			outH:    uint32(f.OutHeight),
			fps:     uint32(f.FPS),
		},
	}
}

func formatFromWire(w *chanFormat) *Format {
	return &Format{
		Width:     int(w.width),
		Height:    int(w.height),
		Pixel:     media.PixelFormat(w.pixFmt),
		Stride:    int(w.stride),
		ImageSize: int(w.imageSize),
		Enable:    w.attr.enable != 0,
		CropX:     int(w.attr.cropX),
		CropY:     int(w.attr.cropY),
		CropW:     int(w.attr.cropW),
		CropH:     int(w.attr.cropH),
		ScalerW:   int(w.attr.scalerW),
		ScalerH:   int(w.attr.scalerH),
		OutWidth:  int(w.attr.outW),
		OutHeight: int(w.attr.outH),
		FPS:       int(w.attr.fps),
	}
}

func (b Buffer) toWire() chanBuffer {
	return chanBuffer{
		index:  uint32(b.Index),
		phys:   b.Phys,
		length: uint32(b.Length),
	}
}

func bufferFromWire(w *chanBuffer) Buffer {
	return Buffer{
		Index:  int(w.index),
		Phys:   w.phys,
		Length: int(w.length),
	}
}

func validateFormat(f *Format) error {
	if f == nil {
		return errors.New("Nil format")
	}
	if f.Width <= 0 || f.Height <= 0 {
		return errors.Errorf("Invalid capture geometry %dx%d", f.Width, f.Height)
	}
	return nil
}
