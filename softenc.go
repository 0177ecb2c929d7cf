package kahawai

import (
	"time"

	"github.com/keahilabs/kahawai/internal/media"
	"github.com/keahilabs/kahawai/internal/media/h264"
)

// streamProducer is the encode capability behind a channel that does not
// drive the hardware unit. The variant set is closed: legacy device or
// software generator.
type streamProducer interface {
	Encode(frame *media.Frame, idr bool, qp int, seq uint64) (*media.Stream, error)
	Close() error
}

// softwareProducer synthesizes one conformant Annex-B unit per frame: a
// structurally valid placeholder stream with correct NAL framing, not real
// compressed picture data.
type softwareProducer struct {
	channel int
	payload int
}

func newSoftwareProducer(channel int, params *ChannelParams) *softwareProducer {
	return &softwareProducer{
		channel: channel,
		payload: params.bytesPerFrame(),
	}
}

func (p *softwareProducer) Encode(frame *media.Frame, idr bool, qp int, seq uint64) (*media.Stream, error) {
	pts := frame.PTS
	if pts == 0 {
		pts = uint64(time.Now().UnixNano() / 1e3)
	}
	return &media.Stream{
		Channel: p.channel,
		Data:    h264.SyntheticUnit(idr, seq, p.payload),
		PTS:     pts,
		Seq:     seq,
		IDR:     idr,
	}, nil
}

func (p *softwareProducer) Close() error {
	return nil
}
