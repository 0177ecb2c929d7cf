package avpu

import (
	"github.com/pkg/errors"

	"github.com/keahilabs/kahawai/internal/media/h264"
	"github.com/keahilabs/kahawai/internal/rmem"
	"github.com/keahilabs/kahawai/internal/wire"
)

const (
	// CmdEntrySize is the byte size of one command-list entry.
	CmdEntrySize = 64

	// CmdRingEntries is the entry count of the command-list ring.
	CmdRingEntries = 16
)

// Command entries are packed exactly as the hardware reads them:
//
//	word 0    base and source-format flags
//	word 1    picture geometry, (height-1)<<12 | (width-1), 12-bit fields
//	word 2    valid/committed marker
//	word 3    slice and NAL-unit type, sliceType<<8 | naluType
//	word 4    quantization parameter
//	word 5    macroblock grid, (mbHeight-1)<<8 | (mbWidth-1)
//	words 6-15 reserved, written as zero
const (
	cmdEntryValid = 0x1

	sliceTypeI = 0x2
	sliceTypeP = 0x0
)

// CmdEntry describes one picture to the encoder.
type CmdEntry struct {
	Flags  uint32 // profile and source-format bits for word 0
	Width  int
	Height int
	QP     int
	IDR    bool
}

// CmdList is the command ring handed to the hardware, backed by one
// device-visible region. The index advances strictly FIFO and wraps.
type CmdList struct {
	region *rmem.Region
	index  int
}

func NewCmdList(region *rmem.Region) (*CmdList, error) {
	if region.Size() < CmdEntrySize*CmdRingEntries {
		return nil, errors.Errorf("Command-list region too small: %d bytes, need %d",
			region.Size(), CmdEntrySize*CmdRingEntries)
	}
	return &CmdList{region: region}, nil
}

func (cl *CmdList) Index() int {
	return cl.index
}

// Write zeroes the entry at the current index, encodes e into it, and returns
// the entry's physical address. Stale words from a previous lap must never
// reach the hardware, so the zeroing is unconditional.
func (cl *CmdList) Write(e CmdEntry) uint64 {
	off := cl.index * CmdEntrySize
	entry := cl.region.Data[off : off+CmdEntrySize]
	for i := range entry {
		entry[i] = 0
	}

	naluType := h264.TypeNonIDR
	sliceType := uint32(sliceTypeP)
	if e.IDR {
		naluType = h264.TypeIDR
		sliceType = sliceTypeI
	}

	mbw := (e.Width + 15) / 16
	mbh := (e.Height + 15) / 16

	w := wire.NewWriter(entry)
	w.WriteUint32(e.Flags)
	w.WriteUint32((uint32(e.Height-1)&0xfff)<<12 | uint32(e.Width-1)&0xfff)
	w.WriteUint32(cmdEntryValid)
	w.WriteUint32(sliceType<<8 | uint32(naluType))
	w.WriteUint32(uint32(e.QP))
	w.WriteUint32(uint32(mbh-1)<<8 | uint32(mbw-1))

	return cl.region.Phys + uint64(off)
}

// Advance moves to the next entry, wrapping at the ring length.
func (cl *CmdList) Advance() {
	cl.index = (cl.index + 1) % CmdRingEntries
}

// EntryWords decodes entry n into its words. Diagnostics only; committed
// entries belong to the hardware.
func (cl *CmdList) EntryWords(n int) []uint32 {
	off := n * CmdEntrySize
	r := wire.NewReader(cl.region.Data[off : off+CmdEntrySize])
	words := make([]uint32, CmdEntrySize/4)
	for i := range words {
		words[i] = r.ReadUint32()
	}
	return words
}
