// Package media defines the picture and stream descriptors passed between
// the capture, pooling, and encode layers.
package media

// PixelFormat identifies a raw picture memory layout by its FourCC code, the
// same 32-bit codes the kernel capture driver speaks.
type PixelFormat uint32

const (
	// Planar and semi-planar 4:2:0 layouts.
	NV12 PixelFormat = 'N' | 'V'<<8 | '1'<<16 | '2'<<24
	NV21 PixelFormat = 'N' | 'V'<<8 | '2'<<16 | '1'<<24
	I420 PixelFormat = 'I' | '4'<<8 | '2'<<16 | '0'<<24
	YV12 PixelFormat = 'Y' | 'V'<<8 | '1'<<16 | '2'<<24

	// Packed 4:2:2 layouts.
	YUYV PixelFormat = 'Y' | 'U'<<8 | 'Y'<<16 | 'V'<<24
	UYVY PixelFormat = 'U' | 'Y'<<8 | 'V'<<16 | 'Y'<<24

	// RGB layouts.
	RGB565 PixelFormat = 'R' | 'G'<<8 | 'B'<<16 | 'P'<<24
	RGB24  PixelFormat = 'R' | 'G'<<8 | 'B'<<16 | '3'<<24
	BGR24  PixelFormat = 'B' | 'G'<<8 | 'R'<<16 | '3'<<24
	BGR32  PixelFormat = 'B' | 'G'<<8 | 'R'<<16 | '4'<<24
)

func (f PixelFormat) String() string {
	return string([]byte{byte(f), byte(f >> 8), byte(f >> 16), byte(f >> 24)})
}

// Planar420 reports whether the format is a planar or semi-planar 4:2:0
// layout, i.e. one the encoder consumes in whole 16x16 macroblocks.
func (f PixelFormat) Planar420() bool {
	switch f {
	case NV12, NV21, I420, YV12:
		return true
	}
	return false
}

// BytesPerPixel returns the packed per-pixel byte count, or 0 for planar
// formats where the notion does not apply.
func (f PixelFormat) BytesPerPixel() int {
	switch f {
	case YUYV, UYVY, RGB565:
		return 2
	case RGB24, BGR24:
		return 3
	case BGR32:
		return 4
	}
	return 0
}

// FrameSize returns the byte size of one picture. Planar 4:2:0 layouts round
// both dimensions up to whole macroblocks before multiplying, since the
// encoder reads complete 16x16 blocks; packed formats multiply directly.
func FrameSize(format PixelFormat, width, height int) int {
	if format.Planar420() {
		return align16(width) * align16(height) * 3 / 2
	}
	if bpp := format.BytesPerPixel(); bpp > 0 {
		return width * height * bpp
	}
	return 0
}

func align16(n int) int {
	return (n + 15) &^ 15
}
