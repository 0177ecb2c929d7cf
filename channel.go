package kahawai

import (
	"sync"

	"go.uber.org/multierr"

	"github.com/keahilabs/kahawai/internal/avpu"
	"github.com/keahilabs/kahawai/internal/fifo"
	"github.com/keahilabs/kahawai/internal/media"
)

// encodePath is how a channel turns pictures into stream units. Bound on
// the first frame and sticky for the channel's lifetime.
type encodePath int

const (
	pathUnbound encodePath = iota
	pathHardware
	pathLegacy
	pathSoftware
)

func (p encodePath) String() string {
	switch p {
	case pathHardware:
		return "hardware"
	case pathLegacy:
		return "legacy"
	case pathSoftware:
		return "software"
	}
	return "unbound"
}

// Channel is one slot of the encoder's channel table.
type Channel struct {
	handle int
	params ChannelParams

	mu       sync.Mutex
	path     encodePath
	bus      avpu.RegisterBus // hardware path, closed on destroy
	session  *avpu.Session
	producer streamProducer

	// frames hands submitted pictures to production, streams carries
	// produced units to GetStream. Both serve the fallback paths; the
	// hardware path's rings live in the session.
	frames  *fifo.Queue
	streams *fifo.Queue

	qp      int
	refresh bool
	seq     uint64

	framesIn   uint64
	streamsOut uint64
}

// produce runs one picture through the fallback path synchronously.
// Callers hold ch.mu.
func (ch *Channel) produce(frame *media.Frame) error {
	// The frame queue is the bounded handoff into production; a full
	// queue pushes back on the submitter.
	if err := ch.frames.Push(frame, 0); err != nil {
		return err
	}
	item, err := ch.frames.Pop(0)
	if err != nil {
		return err
	}
	f := item.(*media.Frame)

	idr := ch.seq == 0 || ch.refresh
	if ch.params.GOP > 0 && ch.seq%uint64(ch.params.GOP) == 0 {
		idr = true
	}
	ch.refresh = false

	s, err := ch.producer.Encode(f, idr, ch.qp, ch.seq)
	if err != nil {
		return err
	}
	if err := ch.streams.Push(s, 0); err != nil {
		return err
	}
	ch.seq++
	return nil
}

// teardown releases everything the channel owns.
func (ch *Channel) teardown() error {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	var err error
	if ch.session != nil {
		err = multierr.Append(err, ch.session.Close())
		ch.session = nil
	}
	if ch.bus != nil {
		err = multierr.Append(err, ch.bus.Close())
		ch.bus = nil
	}
	if ch.producer != nil {
		err = multierr.Append(err, ch.producer.Close())
		ch.producer = nil
	}
	ch.frames.Close()
	ch.streams.Close()
	return err
}

// ChannelStats is a point-in-time view of one channel's activity.
type ChannelStats struct {
	Path       string
	FramesIn   uint64
	StreamsOut uint64
	Software   bool // encoding without the hardware unit
}

func (ch *Channel) stats() ChannelStats {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ChannelStats{
		Path:       ch.path.String(),
		FramesIn:   ch.framesIn,
		StreamsOut: ch.streamsOut,
		Software:   ch.path == pathLegacy || ch.path == pathSoftware,
	}
}
