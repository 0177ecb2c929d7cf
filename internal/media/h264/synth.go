package h264

var startCode4 = []byte{0, 0, 0, 1}

// Canned sequence headers for synthesized streams. The exact parameter-set
// contents are not interpreted anywhere in the pipeline; they only need to
// carry the right NAL types so consumers classify units the same way they
// classify hardware output.
var (
	syntheticSPS = []byte{
		0x67, 0x42, 0xc0, 0x28, 0xd9, 0x00, 0x78, 0x02,
		0x27, 0xe5, 0x84, 0x01, 0x01, 0x03, 0x01, 0x04,
	}
	syntheticPPS = []byte{0x68, 0xcb, 0x83, 0xcb, 0x20}
)

// SyntheticUnit builds one placeholder Annex-B unit for the software encode
// path. Refresh units are prefixed with sequence headers, matching the layout
// of hardware refresh units. The slice filler is derived from seq and never
// contains a zero byte, so no accidental start codes appear inside the unit.
func SyntheticUnit(idr bool, seq uint64, fillerLen int) []byte {
	if fillerLen < 1 {
		fillerLen = 1
	}

	size := len(startCode4) + 1 + fillerLen
	if idr {
		size += 2*len(startCode4) + len(syntheticSPS) + len(syntheticPPS)
	}

	unit := make([]byte, 0, size)
	if idr {
		unit = append(unit, startCode4...)
		unit = append(unit, syntheticSPS...)
		unit = append(unit, startCode4...)
		unit = append(unit, syntheticPPS...)
	}

	unit = append(unit, startCode4...)
	if idr {
		// NRI 3, type 5.
		unit = append(unit, 0x65)
	} else {
		// NRI 2, type 1.
		unit = append(unit, 0x41)
	}
	for i := 0; i < fillerLen; i++ {
		unit = append(unit, 0xa0|byte((seq+uint64(i))&0x0f)|0x01)
	}
	return unit
}
