//////////////////////////////////////////////////////////////////////////////
//
// Encoder is the public codec surface: a fixed table of logical encode
// channels multiplexed onto one hardware unit
//
// Copyright 2024 Keahi Labs. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

package kahawai

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/keahilabs/kahawai/internal/avpu"
	"github.com/keahilabs/kahawai/internal/fifo"
	"github.com/keahilabs/kahawai/internal/logging"
	"github.com/keahilabs/kahawai/internal/media"
	"github.com/keahilabs/kahawai/internal/rmem"
)

var log = logging.DefaultLogger.WithTag("kahawai")

const (
	// MaxChannels bounds concurrent logical channels.
	MaxChannels = 8

	// DefaultQueueDepth is the per-channel FIFO capacity.
	DefaultQueueDepth = 8

	// blockPoll is one hardware poll quantum when GetStream is asked to
	// block indefinitely.
	blockPoll = 100 * time.Millisecond
)

// EncoderConfig wires an Encoder to its environment. The zero value talks
// to the real platform devices.
type EncoderConfig struct {
	// Allocator provides DMA-capable memory. Nil picks the platform
	// default.
	Allocator *rmem.Allocator

	// Arbiter serializes the single hardware unit. Encoders sharing the
	// hardware must share the arbiter; nil constructs a private one.
	Arbiter *Arbiter

	// OpenBus opens the encoder core's register bus, once per
	// hardware-owning channel. Nil opens the kernel device.
	OpenBus func() (avpu.RegisterBus, error)

	// LegacyDevicePath names the previous-generation encoder node tried
	// before the software fallback. Empty disables the legacy path.
	LegacyDevicePath string
}

// Encoder multiplexes logical encode channels onto one hardware unit,
// falling back to a legacy device or a software generator for channels the
// arbiter turns away.
type Encoder struct {
	alloc      *rmem.Allocator
	arbiter    *Arbiter
	openBus    func() (avpu.RegisterBus, error)
	legacyPath string

	mu       sync.Mutex
	channels [MaxChannels]*Channel
}

// NewEncoder builds an encoder from config.
func NewEncoder(config EncoderConfig) *Encoder {
	if config.Allocator == nil {
		config.Allocator = rmem.New(rmem.DefaultPlatform())
	}
	if config.Arbiter == nil {
		config.Arbiter = NewArbiter()
	}
	openBus := config.OpenBus
	if openBus == nil {
		openBus = func() (avpu.RegisterBus, error) {
			return avpu.OpenDevice(avpu.DefaultDevicePath)
		}
	}
	return &Encoder{
		alloc:      config.Allocator,
		arbiter:    config.Arbiter,
		openBus:    openBus,
		legacyPath: config.LegacyDevicePath,
	}
}

// CreateChannel registers a logical channel and returns its handle. Slot
// exhaustion and queue allocation failures roll back completely.
func (e *Encoder) CreateChannel(params ChannelParams) (int, error) {
	if err := params.validate(); err != nil {
		return -1, err
	}
	if params.FrameQueueDepth <= 0 {
		params.FrameQueueDepth = DefaultQueueDepth
	}
	if params.StreamQueueDepth <= 0 {
		params.StreamQueueDepth = DefaultQueueDepth
	}
	if params.StreamBuffers <= 0 {
		params.StreamBuffers = avpu.DefaultStreamBuffers
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	handle := -1
	for i := range e.channels {
		if e.channels[i] == nil {
			handle = i
			break
		}
	}
	if handle < 0 {
		return -1, ErrNoFreeChannel
	}

	frames, err := fifo.New(params.FrameQueueDepth)
	if err != nil {
		return -1, err
	}
	streams, err := fifo.New(params.StreamQueueDepth)
	if err != nil {
		frames.Close()
		return -1, err
	}

	e.channels[handle] = &Channel{
		handle:  handle,
		params:  params,
		frames:  frames,
		streams: streams,
		qp:      params.QP,
	}

	log.Info("Channel %d created: %dx%d %s, %s/%s, %d/%d fps, gop %d",
		handle, params.Width, params.Height, params.Format,
		params.Profile, params.RateControl,
		params.FPSNum, params.FPSDen, params.GOP)
	return handle, nil
}

// DestroyChannel tears a channel down and releases hardware ownership if
// this channel held it.
func (e *Encoder) DestroyChannel(handle int) error {
	e.mu.Lock()
	if handle < 0 || handle >= MaxChannels || e.channels[handle] == nil {
		e.mu.Unlock()
		return ErrInvalidHandle
	}
	ch := e.channels[handle]
	e.channels[handle] = nil
	e.mu.Unlock()

	err := ch.teardown()
	e.arbiter.Release(handle)
	log.Info("Channel %d destroyed", handle)
	return err
}

// Process submits one picture to a channel. The first picture binds the
// channel to the hardware, legacy or software path; the binding is sticky.
// A nil frame is a flush request and a no-op success. A frame whose
// physical address is implausibly small is rejected as corrupt.
func (e *Encoder) Process(handle int, frame *media.Frame) error {
	ch, err := e.channel(handle)
	if err != nil {
		return err
	}
	if frame == nil {
		return nil
	}
	if frame.Phys < media.MinPlausibleAddr {
		return ErrCorruptFrame
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.path == pathUnbound {
		e.bindPath(ch)
	}

	switch ch.path {
	case pathHardware:
		if ch.refresh {
			ch.session.RequestRefresh()
			ch.refresh = false
		}
		if err := ch.session.QueueFrame(frame); err != nil {
			return err
		}
	default:
		if err := ch.produce(frame); err != nil {
			return err
		}
	}

	ch.framesIn++
	return nil
}

// GetStream retrieves the next encoded unit from a channel. A negative
// timeout blocks until a unit arrives; zero polls once. ErrNoStream means
// nothing is ready yet.
func (e *Encoder) GetStream(handle int, timeout time.Duration) (*media.Stream, error) {
	ch, err := e.channel(handle)
	if err != nil {
		return nil, err
	}

	ch.mu.Lock()
	path, session := ch.path, ch.session
	ch.mu.Unlock()

	switch path {
	case pathHardware:
		unit, err := e.dequeueHardware(session, timeout)
		if err != nil {
			return nil, err
		}
		ch.mu.Lock()
		seq := ch.seq
		ch.seq++
		ch.streamsOut++
		ch.mu.Unlock()
		return streamFromUnit(handle, unit, seq), nil

	case pathLegacy, pathSoftware:
		item, err := ch.streams.Pop(timeout)
		if err != nil {
			if err == fifo.ErrEmpty || err == fifo.ErrClosed {
				return nil, ErrNoStream
			}
			return nil, err
		}
		ch.mu.Lock()
		ch.streamsOut++
		ch.mu.Unlock()
		return item.(*media.Stream), nil

	default:
		return nil, ErrNoStream
	}
}

// dequeueHardware maps the session's bounded polling onto the public
// timeout contract.
func (e *Encoder) dequeueHardware(session *avpu.Session, timeout time.Duration) (*avpu.StreamUnit, error) {
	for {
		slice := timeout
		if timeout < 0 {
			slice = blockPoll
		}
		unit, err := session.DequeueStream(slice)
		switch {
		case err == nil:
			return unit, nil
		case err == avpu.ErrAgain && timeout < 0:
			continue
		case err == avpu.ErrAgain:
			return nil, ErrNoStream
		default:
			return nil, err
		}
	}
}

// ReleaseStream recycles a retrieved stream. Hardware streams hand their
// slot back to the device ring; software streams drop their transient
// buffer.
func (e *Encoder) ReleaseStream(handle int, stream *media.Stream) error {
	ch, err := e.channel(handle)
	if err != nil {
		return err
	}
	if stream == nil {
		return ErrUnknownStream
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()

	switch ch.path {
	case pathHardware:
		unit := &avpu.StreamUnit{Data: stream.Data, Phys: stream.Phys, PTS: stream.PTS}
		if err := ch.session.ReleaseStream(unit); err != nil {
			if err == avpu.ErrUnknownStream {
				return ErrUnknownStream
			}
			return err
		}
		return nil
	case pathLegacy, pathSoftware:
		if stream.Phys != 0 {
			return ErrUnknownStream
		}
		stream.Data = nil
		return nil
	default:
		return ErrUnknownStream
	}
}

// RequestIDR forces the channel's next picture to be encoded as an IDR.
func (e *Encoder) RequestIDR(handle int) error {
	ch, err := e.channel(handle)
	if err != nil {
		return err
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.path == pathHardware {
		ch.session.RequestRefresh()
	} else {
		ch.refresh = true
	}
	return nil
}

// SetQP updates the channel's quantization parameter. Advisory on the
// hardware path: the session keeps encoding with its open-time QP, while
// fallback paths pick the new value up on the next picture.
func (e *Encoder) SetQP(handle, qp int) error {
	ch, err := e.channel(handle)
	if err != nil {
		return err
	}
	if qp < 0 || qp > 51 {
		return errors.Errorf("Quantization parameter %d out of range", qp)
	}

	ch.mu.Lock()
	ch.qp = qp
	ch.mu.Unlock()
	log.Debug("Channel %d QP set to %d", handle, qp)
	return nil
}

// Stats reports a channel's activity counters.
func (e *Encoder) Stats(handle int) (ChannelStats, error) {
	ch, err := e.channel(handle)
	if err != nil {
		return ChannelStats{}, err
	}
	return ch.stats(), nil
}

// Close destroys every remaining channel. The allocator and arbiter belong
// to the caller.
func (e *Encoder) Close() error {
	var err error
	for handle := 0; handle < MaxChannels; handle++ {
		e.mu.Lock()
		exists := e.channels[handle] != nil
		e.mu.Unlock()
		if exists {
			err = multierr.Append(err, e.DestroyChannel(handle))
		}
	}
	return err
}

// bindPath chooses the channel's encode path on its first picture: the
// hardware unit when the arbiter grants it, otherwise the legacy device,
// otherwise the software generator. A fallback channel never migrates to
// hardware later, even after the owner departs. Callers hold ch.mu.
func (e *Encoder) bindPath(ch *Channel) {
	if e.arbiter.Acquire(ch.handle) {
		bus, err := e.openBus()
		if err != nil {
			log.Warn("Hardware unavailable for channel %d: %v", ch.handle, err)
			e.arbiter.Release(ch.handle)
		} else {
			session, err := avpu.Open(bus, e.alloc, avpu.Params{
				Width:         ch.params.Width,
				Height:        ch.params.Height,
				Format:        ch.params.Format,
				QP:            ch.params.QP,
				Flags:         ch.params.Profile.formatFlags(),
				StreamBuffers: ch.params.StreamBuffers,
			})
			if err != nil {
				log.Warn("Session bring-up for channel %d failed: %v", ch.handle, err)
				bus.Close()
				e.arbiter.Release(ch.handle)
			} else {
				ch.bus = bus
				ch.session = session
				ch.path = pathHardware
				log.Info("Channel %d bound to hardware path", ch.handle)
				return
			}
		}
	} else {
		log.Info("Hardware held by channel %d, channel %d falls back",
			e.arbiter.Holder(), ch.handle)
	}

	if e.legacyPath != "" {
		p, err := newLegacyProducer(ch.handle, e.legacyPath, &ch.params)
		if err == nil {
			ch.producer = p
			ch.path = pathLegacy
			log.Info("Channel %d bound to legacy path", ch.handle)
			return
		}
		log.Warn("Legacy encoder unavailable: %v", err)
	}

	ch.producer = newSoftwareProducer(ch.handle, &ch.params)
	ch.path = pathSoftware
	log.Info("Channel %d bound to software path", ch.handle)
}

// channel resolves a handle, rejecting out-of-range and vacant slots.
func (e *Encoder) channel(handle int) (*Channel, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if handle < 0 || handle >= MaxChannels || e.channels[handle] == nil {
		return nil, ErrInvalidHandle
	}
	return e.channels[handle], nil
}
