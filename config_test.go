package kahawai

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/keahilabs/kahawai/internal/media"
)

func TestDefaultChannelParams(t *testing.T) {
	p := DefaultChannelParams(ProfileHigh, RateControlCBR, 1280, 720, 0, 0, 0, 0)

	assert.Equal(t, ProfileHigh, p.Profile)
	assert.Equal(t, media.NV12, p.Format)
	assert.Equal(t, 30, p.FPSNum)
	assert.Equal(t, 1, p.FPSDen)
	assert.Equal(t, 60, p.GOP, "two seconds at the default rate")
	assert.Equal(t, 1280*720*2, p.Bitrate)
	assert.Equal(t, 26, p.QP)
	assert.NoError(t, p.validate())

	assert.Equal(t, 28, DefaultChannelParams(ProfileMain, RateControlVBR, 640, 480, 0, 0, 0, 0).QP)
	assert.Equal(t, 30, DefaultChannelParams(ProfileMain, RateControlFixedQP, 640, 480, 0, 0, 0, 0).QP)

	// GOP derives from the requested rate, not the default one.
	assert.Equal(t, 50, DefaultChannelParams(ProfileMain, RateControlCBR, 1920, 1080, 25, 1, 0, 0).GOP)
}

func TestChannelParamsValidate(t *testing.T) {
	good := DefaultChannelParams(ProfileMain, RateControlCBR, 1920, 1080, 25, 1, 50, 4000000)
	assert.NoError(t, good.validate())

	for name, mutate := range map[string]func(*ChannelParams){
		"zero width":      func(p *ChannelParams) { p.Width = 0 },
		"negative height": func(p *ChannelParams) { p.Height = -1 },
		"zero fps":        func(p *ChannelParams) { p.FPSNum = 0 },
		"qp too large":    func(p *ChannelParams) { p.QP = 52 },
		"negative qp":     func(p *ChannelParams) { p.QP = -1 },
		"zero gop":        func(p *ChannelParams) { p.GOP = 0 },
		"bad format":      func(p *ChannelParams) { p.Format = media.PixelFormat(0) },
	} {
		p := good
		mutate(&p)
		assert.Error(t, p.validate(), name)
	}
}

func TestBytesPerFrame(t *testing.T) {
	p := DefaultChannelParams(ProfileMain, RateControlCBR, 1920, 1080, 25, 1, 50, 1000000)
	assert.Equal(t, 5000, p.bytesPerFrame())

	// Starvation-level bitrates floor at a usable descriptor size.
	p.Bitrate = 8
	assert.Equal(t, 64, p.bytesPerFrame())

	// Absurd budgets cap at a single slot's worth.
	p.Bitrate = 1 << 30
	assert.Equal(t, 1<<20, p.bytesPerFrame())
}

func TestProfileFormatFlags(t *testing.T) {
	assert.Equal(t, uint32(0x8010), ProfileBaseline.formatFlags())
	assert.Equal(t, uint32(0x8020), ProfileMain.formatFlags())
	assert.Equal(t, uint32(0x8040), ProfileHigh.formatFlags())

	assert.Equal(t, "baseline", ProfileBaseline.String())
	assert.Equal(t, "fixedqp", RateControlFixedQP.String())
}
