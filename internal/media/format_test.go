package media

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFrameSizePlanar420(t *testing.T) {
	// Aligned dimensions multiply directly.
	assert.Equal(t, 1280*720*3/2, FrameSize(NV12, 1280, 720))

	// 1080 rounds up to 1088 lines, one extra macroblock row.
	assert.Equal(t, 1920*1088*3/2, FrameSize(NV12, 1920, 1080))
	assert.Equal(t, 1920*1088*3/2, FrameSize(I420, 1920, 1080))

	// Both dimensions round.
	assert.Equal(t, 656*496*3/2, FrameSize(YV12, 650, 482))
}

func TestFrameSizePacked(t *testing.T) {
	// Packed formats multiply directly, no macroblock rounding.
	assert.Equal(t, 1920*1080*2, FrameSize(YUYV, 1920, 1080))
	assert.Equal(t, 1920*1080*2, FrameSize(UYVY, 1920, 1080))
	assert.Equal(t, 1920*1080*2, FrameSize(RGB565, 1920, 1080))
	assert.Equal(t, 1920*1080*3, FrameSize(RGB24, 1920, 1080))
	assert.Equal(t, 1920*1080*4, FrameSize(BGR32, 1920, 1080))
}

func TestFrameSizeUnknown(t *testing.T) {
	assert.Equal(t, 0, FrameSize(PixelFormat(0), 1920, 1080))
}

func TestPixelFormatString(t *testing.T) {
	assert.Equal(t, "NV12", NV12.String())
	assert.Equal(t, "YUYV", YUYV.String())
}
