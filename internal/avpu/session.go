package avpu

import (
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/keahilabs/kahawai/internal/logging"
	"github.com/keahilabs/kahawai/internal/media"
	"github.com/keahilabs/kahawai/internal/media/h264"
	"github.com/keahilabs/kahawai/internal/rmem"
)

var log = logging.DefaultLogger.WithTag("avpu")

var (
	// ErrAgain means nothing has been produced yet; poll again.
	ErrAgain = errors.New("No stream available yet")

	// ErrClosed is returned for operations on a closed session.
	ErrClosed = errors.New("Session closed")

	// ErrUnknownStream is returned when a released unit matches no slot.
	ErrUnknownStream = errors.New("Unknown stream reference")
)

const (
	// MaxStreamBuffers bounds the stream ring; the hardware tracks at most
	// 16 sink slots.
	MaxStreamBuffers     = 16
	DefaultStreamBuffers = 4

	// Completion is observed by polling; there is no interrupt-to-userspace
	// wake path on this platform.
	pollInterval = time.Millisecond
)

// Params are the per-session encoding parameters cached at open time and
// replayed into every command-list entry.
type Params struct {
	Width  int
	Height int
	Format media.PixelFormat

	QP    int
	Flags uint32 // profile-derived format bits for command word 0

	StreamBuffers    int // stream ring slots, capped at MaxStreamBuffers
	StreamBufferSize int // byte size of each slot, 0 derives from geometry
}

type State int

const (
	Closed State = iota
	HardwarePrepared
	SessionReady
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case HardwarePrepared:
		return "prepared"
	case SessionReady:
		return "ready"
	}
	return "invalid"
}

type streamSlot struct {
	region      *rmem.Region
	deviceOwned bool
	lent        bool // dequeued and not yet released
}

// StreamUnit is one produced elementary-stream unit. Data borrows the device
// slot's memory until ReleaseStream hands the slot back.
type StreamUnit struct {
	Data []byte
	Phys uint64 // physical address of the owning slot
	PTS  uint64 // microseconds
}

// Session owns one hardware encode session: the register programming, the
// command-list ring, and the stream-buffer ring.
//
// Frame submission and stream retrieval may run on different threads; one
// lock guards the rings and is never held across a polling sleep.
type Session struct {
	bus    RegisterBus
	params Params

	mu    sync.Mutex
	state State
	arena *rmem.Arena
	cmd   *CmdList
	slots []streamSlot

	frames  uint64
	refresh bool // force an IDR on the next entry
}

// Open brings the hardware from Closed to HardwarePrepared: core reset, base
// programming, buffer provisioning, and one stream slot seeded as the sink.
// Interrupts stay masked until the first frame is queued. Register failures
// during bring-up are logged and tolerated; allocation failures are fatal.
func Open(bus RegisterBus, alloc *rmem.Allocator, params Params) (*Session, error) {
	if bus == nil {
		return nil, errors.New("Nil register bus")
	}
	if params.Width <= 0 || params.Height <= 0 {
		return nil, errors.Errorf("Invalid session geometry %dx%d", params.Width, params.Height)
	}
	if params.StreamBuffers <= 0 {
		params.StreamBuffers = DefaultStreamBuffers
	}
	if params.StreamBuffers > MaxStreamBuffers {
		params.StreamBuffers = MaxStreamBuffers
	}
	if params.StreamBufferSize <= 0 {
		params.StreamBufferSize = defaultStreamBufferSize(params)
	}

	s := &Session{bus: bus, params: params}

	if err := s.prepareHardware(); err != nil {
		log.Warn("Base programming incomplete: %v", err)
	}

	// One arena backs the command ring and every stream slot, so teardown
	// is a single release.
	arena, err := rmem.NewArena(alloc, arenaSize(params), "avpu session")
	if err != nil {
		return nil, err
	}
	s.arena = arena

	cmdRegion, err := arena.Carve(CmdEntrySize*CmdRingEntries, CmdEntrySize, "avpu cmdlist")
	if err != nil {
		arena.Close()
		return nil, err
	}
	if s.cmd, err = NewCmdList(cmdRegion); err != nil {
		arena.Close()
		return nil, err
	}

	for i := 0; i < params.StreamBuffers; i++ {
		r, err := arena.Carve(params.StreamBufferSize, 64, fmt.Sprintf("avpu stream %d", i))
		if err != nil {
			arena.Close()
			return nil, err
		}
		s.slots = append(s.slots, streamSlot{region: r})
	}

	if err := s.pushSlot(0); err != nil {
		log.Warn("Stream sink seeding failed: %v", err)
	}

	s.state = HardwarePrepared
	log.Info("Session prepared: %dx%d %s, %d stream buffers of %d bytes",
		params.Width, params.Height, params.Format,
		params.StreamBuffers, params.StreamBufferSize)
	return s, nil
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// prepareHardware runs the base register programming: reset, absolute
// addressing, masked and acknowledged interrupts, sub-block enables.
// Idempotent; rerun once more on the transition into SessionReady.
func (s *Session) prepareHardware() error {
	steps := []struct{ offset, value uint32 }{
		{regCoreReset, 1},
		{regAddrMode, addrModeAbsolute},
		{regIRQMask, 0},
		{regIRQPending, irqClearAll},
		{regTopCtrl, topCtrlEnable},
		{regEncEnable0, encEnable},
		{regEncEnable1, encEnable},
		{regEncEnable2, encEnable},
	}
	for _, step := range steps {
		if err := s.bus.WriteReg(step.offset, step.value); err != nil {
			return errors.Wrapf(err, "Register 0x%04x", step.offset)
		}
	}
	return nil
}

// QueueFrame describes frame to the hardware: a command-list entry at the
// ring's current index, the clock toggle, command and source pushes, and the
// deferred interrupt unmask. The first frame of a session transitions into
// SessionReady and is always encoded as an IDR.
func (s *Session) QueueFrame(frame *media.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Closed {
		return ErrClosed
	}
	if frame == nil {
		return errors.New("Nil frame")
	}

	if s.state == HardwarePrepared {
		// Repeat the base programming on the way into SessionReady.
		// Harmless when already applied.
		if err := s.prepareHardware(); err != nil {
			log.Warn("Base reprogramming failed: %v", err)
			return err
		}
		s.state = SessionReady
	}

	idr := s.frames == 0 || s.refresh
	addr := s.cmd.Write(CmdEntry{
		Flags:  s.params.Flags,
		Width:  s.params.Width,
		Height: s.params.Height,
		QP:     s.params.QP,
		IDR:    idr,
	})

	clock, err := s.bus.ReadReg(regClockCmd)
	if err != nil {
		log.Error("Clock command read failed: %v", err)
		return err
	}

	writes := []struct{ offset, value uint32 }{
		{regClockCmd, clock ^ 0x1},
		{regCmdListAddr, uint32(addr)},
		{regCmdListPush, cmdCommit},
		{regSrcPush, uint32(frame.Phys)},
		{regIRQMask, irqMaskCore0},
	}
	for _, wr := range writes {
		if err := s.bus.WriteReg(wr.offset, wr.value); err != nil {
			log.Error("Register 0x%04x write failed: %v", wr.offset, err)
			return err
		}
	}

	// The hardware must never be left without a sink.
	if s.deviceOwnedSlots() == 0 {
		if i := s.idleSlot(); i >= 0 {
			if err := s.pushSlot(i); err != nil {
				log.Error("Stream sink seeding failed: %v", err)
				return err
			}
		} else {
			log.Warn("All stream slots held by software, encoder has no sink")
		}
	}

	s.cmd.Advance()
	s.frames++
	s.refresh = false
	return nil
}

// DequeueStream polls the stream ring for a completed unit. Completion is
// observed by scanning device-owned slots for an Annex-B payload, sleeping
// briefly between scans until the timeout lapses. Both "not session-ready"
// and "nothing produced yet" surface as ErrAgain.
func (s *Session) DequeueStream(timeout time.Duration) (*StreamUnit, error) {
	deadline := time.Now().Add(timeout)
	for {
		s.mu.Lock()
		if s.state != SessionReady {
			s.mu.Unlock()
			return nil, ErrAgain
		}
		unit := s.scanSlots()
		s.mu.Unlock()

		if unit != nil {
			return unit, nil
		}
		if timeout <= 0 || !time.Now().Before(deadline) {
			return nil, ErrAgain
		}
		time.Sleep(pollInterval)
	}
}

// scanSlots returns the first device-owned slot holding a recognizable unit,
// marking it software-owned. A device-owned slot with no start code is pushed
// back to the hardware immediately so the sink is never starved.
func (s *Session) scanSlots() *StreamUnit {
	for i := range s.slots {
		slot := &s.slots[i]
		if !slot.deviceOwned {
			continue
		}
		payload := h264.EffectivePayload(slot.region.Data)
		if payload == nil {
			s.pushSlot(i)
			continue
		}
		slot.deviceOwned = false
		slot.lent = true
		return &StreamUnit{
			Data: payload,
			Phys: slot.region.Phys,
			PTS:  uint64(time.Now().UnixNano() / 1e3),
		}
	}
	return nil
}

// ReleaseStream returns a dequeued unit's slot to the hardware. The slot is
// scrubbed before the push; a stale payload must never be mistaken for new
// output on a later scan.
func (s *Session) ReleaseStream(unit *StreamUnit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Closed {
		return ErrClosed
	}
	if unit == nil {
		return errors.New("Nil stream unit")
	}

	for i := range s.slots {
		slot := &s.slots[i]
		if slot.region.Phys != unit.Phys {
			continue
		}
		if slot.deviceOwned {
			return errors.Errorf("Stream slot 0x%08x already device-owned", unit.Phys)
		}
		data := slot.region.Data
		for j := range data {
			data[j] = 0
		}
		slot.lent = false
		return s.pushSlot(i)
	}
	log.Warn("Release of unknown stream reference 0x%08x", unit.Phys)
	return ErrUnknownStream
}

// RequestRefresh forces the next queued frame to be encoded as an IDR.
func (s *Session) RequestRefresh() {
	s.mu.Lock()
	s.refresh = true
	s.mu.Unlock()
}

// Close masks interrupts, releases the session memory, and drops to Closed.
// The register bus stays open; it belongs to the caller.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Closed {
		return nil
	}
	s.state = Closed

	var err error
	if werr := s.bus.WriteReg(regIRQMask, 0); werr != nil {
		err = multierr.Append(err, werr)
	}
	if s.arena != nil {
		err = multierr.Append(err, s.arena.Close())
	}
	s.slots = nil
	s.cmd = nil
	return err
}

// pushSlot hands slot i to the hardware as a stream sink.
func (s *Session) pushSlot(i int) error {
	if err := s.bus.WriteReg(regStreamPush, uint32(s.slots[i].region.Phys)); err != nil {
		return err
	}
	s.slots[i].deviceOwned = true
	return nil
}

func (s *Session) deviceOwnedSlots() int {
	n := 0
	for i := range s.slots {
		if s.slots[i].deviceOwned {
			n++
		}
	}
	return n
}

// idleSlot finds a slot neither owned by the device nor lent to a consumer.
func (s *Session) idleSlot() int {
	for i := range s.slots {
		if !s.slots[i].deviceOwned && !s.slots[i].lent {
			return i
		}
	}
	return -1
}

// Half a raw 4:2:0 frame bounds any unit the rate control can produce.
func defaultStreamBufferSize(p Params) int {
	size := media.FrameSize(media.NV12, p.Width, p.Height) / 2
	if size < 64*1024 {
		size = 64 * 1024
	}
	return size
}

func arenaSize(p Params) int {
	return CmdEntrySize*CmdRingEntries +
		p.StreamBuffers*p.StreamBufferSize +
		64*(p.StreamBuffers+1)
}
