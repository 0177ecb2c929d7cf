package kahawai

import (
	"github.com/nareix/joy4/codec/h264parser"

	"github.com/keahilabs/kahawai/internal/avpu"
	"github.com/keahilabs/kahawai/internal/media"
	"github.com/keahilabs/kahawai/internal/media/h264"
)

// unitIsIDR reports whether an Annex-B access unit carries an IDR picture.
func unitIsIDR(data []byte) bool {
	nalus, _ := h264parser.SplitNALUs(data)
	for _, nalu := range nalus {
		if len(nalu) == 0 {
			continue
		}
		if nalu[0]&0x1f == h264.TypeIDR {
			return true
		}
	}
	return false
}

// streamFromUnit wraps a hardware stream unit for the public surface. The
// data still borrows the hardware slot; the caller must release it.
func streamFromUnit(channel int, unit *avpu.StreamUnit, seq uint64) *media.Stream {
	return &media.Stream{
		Channel: channel,
		Data:    unit.Data,
		Phys:    unit.Phys,
		PTS:     unit.PTS,
		Seq:     seq,
		IDR:     unitIsIDR(unit.Data),
	}
}
