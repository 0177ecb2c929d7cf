package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterLittleEndian(t *testing.T) {
	w := NewWriterSize(16)
	w.WriteUint32(0x11223344)
	w.WriteUint16(0xaabb)
	w.WriteByte(0xcc)

	assert.Equal(t, []byte{0x44, 0x33, 0x22, 0x11, 0xbb, 0xaa, 0xcc}, w.Bytes())
	assert.Equal(t, 7, w.Length())
}

func TestWriterAlign(t *testing.T) {
	w := NewWriterSize(16)
	w.WriteByte(0xff)
	w.Align(4)
	assert.Equal(t, 4, w.Length())
	assert.Equal(t, []byte{0xff, 0, 0, 0}, w.Bytes())

	// Already aligned; no padding.
	w.Align(4)
	assert.Equal(t, 4, w.Length())
}

func TestWriterCapacity(t *testing.T) {
	w := NewWriterSize(4)
	assert.Error(t, w.WriteSlice(make([]byte, 8)))
	assert.NoError(t, w.WriteSlice([]byte{1, 2, 3, 4}))
}

func TestReaderRoundTrip(t *testing.T) {
	w := NewWriterSize(32)
	w.WriteUint32(0xdeadbeef)
	w.WriteUint64(0x0102030405060708)
	w.WriteUint16(0x4242)
	w.ZeroPad(2)
	require.NoError(t, w.WriteSlice([]byte("tail")))

	r := NewReader(w.Bytes())
	assert.Equal(t, uint32(0xdeadbeef), r.ReadUint32())
	assert.Equal(t, uint64(0x0102030405060708), r.ReadUint64())
	assert.Equal(t, uint16(0x4242), r.ReadUint16())
	r.Align(4)
	assert.Equal(t, []byte("tail"), r.ReadRemaining())
	assert.Equal(t, 0, r.Remaining())
	assert.Error(t, r.CheckRemaining(1))
}
