package h264

import "bytes"

var startCode = []byte{0, 0, 1}

// IndexStartCode returns the offset of the first Annex-B start code in b, or
// -1 if none is present. A 3-byte code preceded by a zero is reported at the
// zero, i.e. as the 4-byte form.
func IndexStartCode(b []byte) int {
	i := bytes.Index(b, startCode)
	if i > 0 && b[i-1] == 0 {
		return i - 1
	}
	return i
}

// LastIndexStartCode is IndexStartCode for the last occurrence.
func LastIndexStartCode(b []byte) int {
	i := bytes.LastIndex(b, startCode)
	if i > 0 && b[i-1] == 0 {
		return i - 1
	}
	return i
}

// EffectivePayload extracts the encoded unit from an over-sized hardware
// stream buffer. The buffer is not self-describing: the encoder leaves zero
// padding after the unit and writes the following unit's start code as an end
// marker. The payload runs from the first start code to the last one; when
// only a single start code is present the payload runs to the end of the
// zero-trimmed data. Returns nil when no start code is found.
func EffectivePayload(b []byte) []byte {
	end := len(b)
	for end > 0 && b[end-1] == 0 {
		end--
	}
	b = b[:end]

	first := IndexStartCode(b)
	if first < 0 {
		return nil
	}
	if last := LastIndexStartCode(b); last > first {
		return b[first:last]
	}
	return b[first:]
}
