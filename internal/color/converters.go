// Copyright 2024 Keahi Labs. All rights reserved.

package color

import (
	"github.com/pkg/errors"
)

// YUYVToNV12 converts YUYV (i.e. YUY2) packed to NV12 semi-planar format.
// Chroma is subsampled vertically by taking even rows, not averaged. Width
// and height must be even. dst must hold width*height*3/2 bytes.
func YUYVToNV12(dst, src []byte, width, height int) error {
	if width <= 0 || height <= 0 || width%2 != 0 || height%2 != 0 {
		return errors.Errorf("Bad geometry %dx%d", width, height)
	}
	if len(src) < 2*width*height {
		return errors.Errorf("Short source: %d bytes for %dx%d YUYV", len(src), width, height)
	}
	if len(dst) < 3*width*height/2 {
		return errors.Errorf("Short destination: %d bytes for %dx%d NV12", len(dst), width, height)
	}

	// Luma plane. Every even byte of the packed stream is a Y sample.
	for i := 0; i < width*height; i++ {
		dst[i] = src[2*i]
	}

	// Interleaved chroma plane, from even source rows.
	uv := dst[width*height:]
	for row := 0; row < height/2; row++ {
		line := src[4*row*width:]
		for col := 0; col < width/2; col++ {
			uv[row*width+2*col] = line[4*col+1]   // Cb
			uv[row*width+2*col+1] = line[4*col+3] // Cr
		}
	}

	return nil
}

// I420ToNV12 converts I420 planar to NV12 semi-planar format. Width and
// height must be even. dst must hold width*height*3/2 bytes.
func I420ToNV12(dst, src []byte, width, height int) error {
	if width <= 0 || height <= 0 || width%2 != 0 || height%2 != 0 {
		return errors.Errorf("Bad geometry %dx%d", width, height)
	}
	luma := width * height
	chroma := luma / 4
	if len(src) < luma+2*chroma {
		return errors.Errorf("Short source: %d bytes for %dx%d I420", len(src), width, height)
	}
	if len(dst) < luma+2*chroma {
		return errors.Errorf("Short destination: %d bytes for %dx%d NV12", len(dst), width, height)
	}

	copy(dst[:luma], src[:luma])

	cb := src[luma : luma+chroma]
	cr := src[luma+chroma : luma+2*chroma]
	uv := dst[luma:]
	for i := 0; i < chroma; i++ {
		uv[2*i] = cb[i]
		uv[2*i+1] = cr[i]
	}

	return nil
}
