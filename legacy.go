package kahawai

import (
	"os"

	"github.com/pkg/errors"

	"github.com/keahilabs/kahawai/internal/media"
	"github.com/keahilabs/kahawai/internal/wire"
)

// legacyProducer drives the previous-generation encoder node. That core has
// no register interface: a picture is submitted as a 16-byte descriptor
// written to the device, delivery is fire-and-forget, and the elementary
// stream is reconstructed host-side the way the old SDK ran it with the
// bitstream reader disabled.
type legacyProducer struct {
	dev  *os.File
	soft *softwareProducer
}

func newLegacyProducer(channel int, path string, params *ChannelParams) (*legacyProducer, error) {
	dev, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "open legacy encoder %s", path)
	}
	return &legacyProducer{
		dev:  dev,
		soft: newSoftwareProducer(channel, params),
	}, nil
}

func (p *legacyProducer) Encode(frame *media.Frame, idr bool, qp int, seq uint64) (*media.Stream, error) {
	w := wire.NewWriterSize(16)
	w.WriteUint64(frame.Phys)
	w.WriteUint32(uint32(frame.Size))
	w.WriteUint32(uint32(qp))
	if _, err := p.dev.Write(w.Bytes()); err != nil {
		return nil, errors.Wrap(err, "legacy submit")
	}
	return p.soft.Encode(frame, idr, qp, seq)
}

func (p *legacyProducer) Close() error {
	return p.dev.Close()
}
