package avpu

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keahilabs/kahawai/internal/media"
	"github.com/keahilabs/kahawai/internal/media/h264"
	"github.com/keahilabs/kahawai/internal/rmem"
)

type regWrite struct{ offset, value uint32 }

// fakeBus is an in-memory register file standing in for the kernel device.
type fakeBus struct {
	regs   map[uint32]uint32
	writes []regWrite
}

func newFakeBus() *fakeBus {
	return &fakeBus{regs: make(map[uint32]uint32)}
}

func (b *fakeBus) ReadReg(offset uint32) (uint32, error) {
	return b.regs[offset], nil
}

func (b *fakeBus) WriteReg(offset, value uint32) error {
	b.regs[offset] = value
	b.writes = append(b.writes, regWrite{offset, value})
	return nil
}

func (b *fakeBus) Close() error {
	return nil
}

// writesTo collects the values written to one register, in order.
func (b *fakeBus) writesTo(offset uint32) (values []uint32) {
	for _, w := range b.writes {
		if w.offset == offset {
			values = append(values, w.value)
		}
	}
	return
}

func testParams() Params {
	return Params{
		Width:            1920,
		Height:           1080,
		Format:           media.NV12,
		QP:               26,
		StreamBuffers:    4,
		StreamBufferSize: 4096,
	}
}

func testSession(t *testing.T, bus RegisterBus, params Params) *Session {
	t.Helper()
	s, err := Open(bus, rmem.New(rmem.Platform{}), params)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testFrame() *media.Frame {
	return &media.Frame{
		Width:  1920,
		Height: 1080,
		Format: media.NV12,
		Size:   media.FrameSize(media.NV12, 1920, 1080),
		Phys:   0x10000000,
	}
}

// produce simulates the hardware writing one unit into the first
// device-owned slot: the unit bytes, then a start code marking where the
// next unit would begin.
func produce(t *testing.T, s *Session, idr bool, seq uint64) *rmem.Region {
	t.Helper()
	for i := range s.slots {
		if !s.slots[i].deviceOwned {
			continue
		}
		unit := h264.SyntheticUnit(idr, seq, 64)
		data := s.slots[i].region.Data
		copy(data, unit)
		copy(data[len(unit):], []byte{0, 0, 0, 1})
		return s.slots[i].region
	}
	t.Fatal("no device-owned slot to produce into")
	return nil
}

func TestOpenProgramsBase(t *testing.T) {
	bus := newFakeBus()
	s := testSession(t, bus, testParams())

	assert.Equal(t, HardwarePrepared, s.State())

	assert.Equal(t, uint32(addrModeAbsolute), bus.regs[regAddrMode])
	assert.Equal(t, uint32(topCtrlEnable), bus.regs[regTopCtrl])
	assert.Equal(t, uint32(encEnable), bus.regs[regEncEnable0])
	assert.Equal(t, uint32(encEnable), bus.regs[regEncEnable1])
	assert.Equal(t, uint32(encEnable), bus.regs[regEncEnable2])

	// Interrupts masked, everything pending acknowledged.
	assert.Equal(t, uint32(0), bus.regs[regIRQMask])
	assert.Equal(t, uint32(irqClearAll), bus.regs[regIRQPending])

	// Exactly one sink slot seeded at open.
	pushes := bus.writesTo(regStreamPush)
	require.Len(t, pushes, 1)
	assert.Equal(t, uint32(s.slots[0].region.Phys), pushes[0])
	assert.True(t, s.slots[0].deviceOwned)
}

func TestQueueFrameFirstIsIDR(t *testing.T) {
	bus := newFakeBus()
	s := testSession(t, bus, testParams())

	for i := 0; i < 3; i++ {
		require.NoError(t, s.QueueFrame(testFrame()))
	}
	assert.Equal(t, SessionReady, s.State())

	idrWord := uint32(sliceTypeI)<<8 | uint32(h264.TypeIDR)
	nonIDRWord := uint32(sliceTypeP)<<8 | uint32(h264.TypeNonIDR)
	assert.Equal(t, idrWord, s.cmd.EntryWords(0)[3])
	assert.Equal(t, nonIDRWord, s.cmd.EntryWords(1)[3])
	assert.Equal(t, nonIDRWord, s.cmd.EntryWords(2)[3])

	// Interrupts unmasked only once work was queued.
	assert.Equal(t, uint32(irqMaskCore0), bus.regs[regIRQMask])

	// Each frame committed one entry and pushed one source address.
	assert.Equal(t, []uint32{cmdCommit, cmdCommit, cmdCommit}, bus.writesTo(regCmdListPush))
	assert.Equal(t, []uint32{0x10000000, 0x10000000, 0x10000000}, bus.writesTo(regSrcPush))
}

func TestQueueFrameRefresh(t *testing.T) {
	bus := newFakeBus()
	s := testSession(t, bus, testParams())

	require.NoError(t, s.QueueFrame(testFrame()))
	require.NoError(t, s.QueueFrame(testFrame()))
	s.RequestRefresh()
	require.NoError(t, s.QueueFrame(testFrame()))
	require.NoError(t, s.QueueFrame(testFrame()))

	idrWord := uint32(sliceTypeI)<<8 | uint32(h264.TypeIDR)
	assert.Equal(t, idrWord, s.cmd.EntryWords(0)[3])
	assert.Equal(t, idrWord, s.cmd.EntryWords(2)[3])
	assert.NotEqual(t, idrWord, s.cmd.EntryWords(1)[3])
	assert.NotEqual(t, idrWord, s.cmd.EntryWords(3)[3])
}

func TestQueueFrameClosedSession(t *testing.T) {
	bus := newFakeBus()
	s := testSession(t, bus, testParams())
	require.NoError(t, s.Close())

	before := len(bus.writes)
	assert.Equal(t, ErrClosed, s.QueueFrame(testFrame()))
	assert.Equal(t, before, len(bus.writes), "closed session must not touch registers")
}

func TestCmdRingWrap(t *testing.T) {
	bus := newFakeBus()
	s := testSession(t, bus, testParams())

	const extra = 3
	for i := 0; i < CmdRingEntries+extra; i++ {
		require.NoError(t, s.QueueFrame(testFrame()))
	}

	base := uint32(s.cmd.region.Phys)
	counts := make(map[uint32]int)
	for _, addr := range bus.writesTo(regCmdListAddr) {
		counts[addr]++
	}

	for j := 0; j < CmdRingEntries; j++ {
		want := 1
		if j < extra {
			want = 2
		}
		assert.Equal(t, want, counts[base+uint32(j*CmdEntrySize)], "entry %d", j)
	}
	assert.Equal(t, extra, s.cmd.Index())
}

func TestDequeueBeforeReady(t *testing.T) {
	bus := newFakeBus()
	s := testSession(t, bus, testParams())

	_, err := s.DequeueStream(0)
	assert.Equal(t, ErrAgain, err)
}

func TestDequeueNothingProducedRequeues(t *testing.T) {
	bus := newFakeBus()
	s := testSession(t, bus, testParams())
	require.NoError(t, s.QueueFrame(testFrame()))

	seeds := len(bus.writesTo(regStreamPush))
	_, err := s.DequeueStream(0)
	assert.Equal(t, ErrAgain, err)

	// The empty slot went straight back to the hardware.
	assert.Greater(t, len(bus.writesTo(regStreamPush)), seeds)
	assert.Equal(t, 1, s.deviceOwnedSlots())
}

func TestDequeueAndRelease(t *testing.T) {
	bus := newFakeBus()
	s := testSession(t, bus, testParams())
	require.NoError(t, s.QueueFrame(testFrame()))

	region := produce(t, s, true, 0)

	unit, err := s.DequeueStream(10 * time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, region.Phys, unit.Phys)
	assert.NotZero(t, unit.PTS)

	// The payload is the unit the hardware wrote, end marker excluded.
	assert.Equal(t, h264.SyntheticUnit(true, 0, 64), unit.Data)
	assert.Zero(t, s.deviceOwnedSlots())

	require.NoError(t, s.ReleaseStream(unit))
	assert.Equal(t, 1, s.deviceOwnedSlots())

	// Released slot was scrubbed and pushed back to the hardware.
	for i, b := range region.Data {
		require.Zero(t, b, "byte %d not scrubbed", i)
	}
	pushes := bus.writesTo(regStreamPush)
	assert.Equal(t, uint32(region.Phys), pushes[len(pushes)-1])
}

func TestReleaseUnknownReference(t *testing.T) {
	bus := newFakeBus()
	s := testSession(t, bus, testParams())
	require.NoError(t, s.QueueFrame(testFrame()))

	err := s.ReleaseStream(&StreamUnit{Phys: 0xdead0000})
	assert.Equal(t, ErrUnknownStream, err)

	err = s.ReleaseStream(nil)
	assert.Error(t, err)
}

func TestSingleSlotSinkRecovery(t *testing.T) {
	params := testParams()
	params.StreamBuffers = 1
	bus := newFakeBus()
	s := testSession(t, bus, params)

	require.NoError(t, s.QueueFrame(testFrame()))
	produce(t, s, true, 0)

	unit, err := s.DequeueStream(0)
	require.NoError(t, err)
	assert.Zero(t, s.deviceOwnedSlots())

	// With the only slot lent out the queue still succeeds; the sink is
	// re-established by the release.
	require.NoError(t, s.QueueFrame(testFrame()))
	assert.Zero(t, s.deviceOwnedSlots())

	require.NoError(t, s.ReleaseStream(unit))
	assert.Equal(t, 1, s.deviceOwnedSlots())
}

func TestFiftyFrameCycle(t *testing.T) {
	bus := newFakeBus()
	s := testSession(t, bus, testParams())

	for seq := uint64(0); seq < 50; seq++ {
		require.NoError(t, s.QueueFrame(testFrame()), "seq %d", seq)
		assert.GreaterOrEqual(t, s.deviceOwnedSlots(), 1, "sink starved at seq %d", seq)

		produce(t, s, seq == 0, seq)

		unit, err := s.DequeueStream(10 * time.Millisecond)
		require.NoError(t, err, "seq %d", seq)

		nalu := h264.NALU(unit.Data[4:])
		if seq == 0 {
			assert.Equal(t, h264.TypeSPS, nalu.Type(), "first unit leads with headers")
		} else {
			assert.Equal(t, h264.TypeNonIDR, nalu.Type(), "seq %d", seq)
		}

		require.NoError(t, s.ReleaseStream(unit), "seq %d", seq)
	}

	// One entry committed and one source pushed per picture.
	assert.Len(t, bus.writesTo(regCmdListPush), 50)
	assert.Len(t, bus.writesTo(regSrcPush), 50)

	// The command ring wrapped three full laps plus two entries.
	assert.Equal(t, 50%CmdRingEntries, s.cmd.Index())
}

func TestSessionCloseIdempotent(t *testing.T) {
	bus := newFakeBus()
	s := testSession(t, bus, testParams())

	require.NoError(t, s.QueueFrame(testFrame()))
	require.NoError(t, s.Close())
	assert.Equal(t, Closed, s.State())
	assert.Equal(t, uint32(0), bus.regs[regIRQMask])
	require.NoError(t, s.Close())
}

func TestRegisterAlignment(t *testing.T) {
	assert.NoError(t, checkAligned(0x0000))
	assert.NoError(t, checkAligned(0x020c))
	assert.Error(t, checkAligned(0x0001))
	assert.Error(t, checkAligned(0x0202))
}

func TestOpenInvalidParams(t *testing.T) {
	bus := newFakeBus()
	alloc := rmem.New(rmem.Platform{})

	_, err := Open(nil, alloc, testParams())
	assert.Error(t, err)

	bad := testParams()
	bad.Width = 0
	_, err = Open(bus, alloc, bad)
	assert.Error(t, err)
}
