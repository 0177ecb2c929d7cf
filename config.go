//////////////////////////////////////////////////////////////////////////////
//
// ChannelParams describe one logical encode channel
//
// Copyright 2024 Keahi Labs. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

package kahawai

import (
	"github.com/pkg/errors"

	"github.com/keahilabs/kahawai/internal/media"
)

// Profile selects the H.264 profile programmed into the hardware.
type Profile int

const (
	ProfileBaseline Profile = iota
	ProfileMain
	ProfileHigh
)

func (p Profile) String() string {
	switch p {
	case ProfileBaseline:
		return "baseline"
	case ProfileMain:
		return "main"
	case ProfileHigh:
		return "high"
	}
	return "unknown"
}

// formatFlags are the profile-derived format bits of a command entry.
func (p Profile) formatFlags() uint32 {
	switch p {
	case ProfileMain:
		return 0x8020
	case ProfileHigh:
		return 0x8040
	default:
		return 0x8010
	}
}

// RateControlMode selects how the encoder spends bits.
type RateControlMode int

const (
	RateControlCBR RateControlMode = iota
	RateControlVBR
	RateControlFixedQP
)

func (m RateControlMode) String() string {
	switch m {
	case RateControlCBR:
		return "cbr"
	case RateControlVBR:
		return "vbr"
	case RateControlFixedQP:
		return "fixedqp"
	}
	return "unknown"
}

// ChannelParams configure one logical encode channel.
type ChannelParams struct {
	Profile     Profile
	RateControl RateControlMode

	Width  int
	Height int
	Format media.PixelFormat

	// Frame rate as a rational, e.g. 25/1 or 30000/1001.
	FPSNum int
	FPSDen int

	GOP     int // pictures per refresh period
	Bitrate int // bits per second, target for CBR/VBR
	QP      int // base quantization parameter

	// Queue and ring depths. Zero selects the defaults.
	FrameQueueDepth  int
	StreamQueueDepth int
	StreamBuffers    int
}

// DefaultChannelParams answers the default-parameter query of the public
// surface: the tuned defaults for a profile, rate-control mode, geometry,
// frame rate, GOP and bitrate. Zero gop, bitrate or frame rate pick
// conventional values for the rest of the combination.
func DefaultChannelParams(profile Profile, rc RateControlMode, width, height, fpsNum, fpsDen, gop, bitrate int) ChannelParams {
	if fpsNum <= 0 || fpsDen <= 0 {
		fpsNum, fpsDen = 30, 1
	}
	if gop <= 0 {
		// Two seconds between refresh pictures.
		gop = 2 * fpsNum / fpsDen
		if gop < 1 {
			gop = 1
		}
	}
	if bitrate <= 0 {
		bitrate = width * height * 2
	}

	qp := 26
	switch rc {
	case RateControlVBR:
		qp = 28
	case RateControlFixedQP:
		qp = 30
	}

	return ChannelParams{
		Profile:     profile,
		RateControl: rc,
		Width:       width,
		Height:      height,
		Format:      media.NV12,
		FPSNum:      fpsNum,
		FPSDen:      fpsDen,
		GOP:         gop,
		Bitrate:     bitrate,
		QP:          qp,
	}
}

func (p *ChannelParams) validate() error {
	if p.Width <= 0 || p.Height <= 0 {
		return errors.Errorf("Invalid geometry %dx%d", p.Width, p.Height)
	}
	if p.FPSNum <= 0 || p.FPSDen <= 0 {
		return errors.Errorf("Invalid frame rate %d/%d", p.FPSNum, p.FPSDen)
	}
	if p.QP < 0 || p.QP > 51 {
		return errors.Errorf("Quantization parameter %d out of range", p.QP)
	}
	if p.GOP < 1 {
		return errors.Errorf("Invalid GOP length %d", p.GOP)
	}
	if media.FrameSize(p.Format, p.Width, p.Height) <= 0 {
		return errors.Errorf("Unsupported pixel format %s", p.Format)
	}
	return nil
}

// bytesPerFrame is the byte budget one picture gets under the configured
// bitrate and frame rate.
func (p *ChannelParams) bytesPerFrame() int {
	n := p.Bitrate / 8 * p.FPSDen / p.FPSNum
	if n < 64 {
		n = 64
	}
	if n > 1<<20 {
		n = 1 << 20
	}
	return n
}
