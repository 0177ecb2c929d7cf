//
// Video buffer manager
//
// Copyright 2024 Keahi Labs LLC. All rights reserved.
//

// Package vbm pools DMA-backed capture frames per source channel and keeps
// them synchronized with the kernel's buffer queue/dequeue protocol.
package vbm

import (
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/keahilabs/kahawai/internal/framechan"
	"github.com/keahilabs/kahawai/internal/logging"
	"github.com/keahilabs/kahawai/internal/media"
	"github.com/keahilabs/kahawai/internal/rmem"
)

var log = logging.DefaultLogger.WithTag("vbm")

// Manager owns one frame pool per capture channel.
type Manager struct {
	mu    sync.Mutex
	alloc *rmem.Allocator
	pools map[int]*Pool
}

// New returns a manager carving its pools from alloc.
func New(alloc *rmem.Allocator) *Manager {
	return &Manager{
		alloc: alloc,
		pools: make(map[int]*Pool),
	}
}

// CreatePool builds the frame pool for one channel. The per-frame size
// follows the pixel format's packing rules; frames <= 0 selects
// DefaultFrameCount.
func (m *Manager) CreatePool(channel int, format *framechan.Format, frames int) (*Pool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.pools[channel]; ok {
		return nil, errors.Errorf("Channel %d already has a pool", channel)
	}
	p, err := newPool(m.alloc, channel, format, frames)
	if err != nil {
		return nil, err
	}
	m.pools[channel] = p

	log.Info("Created pool for channel %d: %d frames of %d bytes", channel, p.Frames(), p.FrameSize())
	return p, nil
}

// DestroyPool tears down a channel's pool. Outstanding frames become
// invalid.
func (m *Manager) DestroyPool(channel int) error {
	m.mu.Lock()
	p, ok := m.pools[channel]
	delete(m.pools, channel)
	m.mu.Unlock()

	if !ok {
		return errors.Errorf("No pool on channel %d", channel)
	}
	return p.Close()
}

// Prime submits every buffer of a channel's pool to the kernel queue.
func (m *Manager) Prime(channel int, kq KernelQueue) error {
	p, err := m.pool(channel)
	if err != nil {
		return err
	}
	return p.Prime(kq)
}

// GetFrame pops a free frame from a channel's pool.
func (m *Manager) GetFrame(channel int) (*media.Frame, error) {
	p, err := m.pool(channel)
	if err != nil {
		return nil, err
	}
	return p.Get()
}

// ReleaseFrame recycles a frame back into its channel's pool.
func (m *Manager) ReleaseFrame(channel int, frame *media.Frame) error {
	p, err := m.pool(channel)
	if err != nil {
		return err
	}
	return p.Release(frame)
}

// Close destroys every remaining pool.
func (m *Manager) Close() error {
	m.mu.Lock()
	pools := m.pools
	m.pools = make(map[int]*Pool)
	m.mu.Unlock()

	var err error
	for _, p := range pools {
		err = multierr.Append(err, p.Close())
	}
	return err
}

func (m *Manager) pool(channel int) (*Pool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pools[channel]
	if !ok {
		return nil, errors.Errorf("No pool on channel %d", channel)
	}
	return p, nil
}
