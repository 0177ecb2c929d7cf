package h264

// NAL unit types used by the encode pipeline.
const (
	TypeNonIDR byte = 1
	TypeIDR    byte = 5
	TypeSEI    byte = 6
	TypeSPS    byte = 7
	TypePPS    byte = 8
)

type NALU []byte

func (nalu NALU) ForbiddenBit() byte {
	return nalu[0] & 0x80 >> 7
}

func (nalu NALU) NRI() byte {
	return nalu[0] & 0x60 >> 5
}

func (nalu NALU) Type() byte {
	return nalu[0] & 0x1f
}
