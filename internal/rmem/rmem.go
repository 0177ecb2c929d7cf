//////////////////////////////////////////////////////////////////////////////
//
// Reserved-memory allocator
//
// Copyright 2024 Keahi Labs. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

// Package rmem hands out memory regions that are addressable by both the CPU
// and the media hardware. Regions come from the reserved-memory kernel driver
// when it is present, and from page-aligned heap memory when it is not.
package rmem

import (
	"unsafe"

	"github.com/pkg/errors"

	"github.com/keahilabs/kahawai/internal/logging"
)

var log = logging.DefaultLogger.WithTag("rmem")

const pageSize = 4096

// Provenance records which path produced a region's backing store. Release
// must be paired with the same path.
type Provenance int

const (
	Driver Provenance = iota // negotiated with the reserved-memory driver
	Carved                   // carved from an arena's backing region
	Heap                     // page-aligned heap, physical address is the CPU address
)

func (p Provenance) String() string {
	switch p {
	case Driver:
		return "driver"
	case Carved:
		return "arena"
	case Heap:
		return "heap"
	}
	return "unknown"
}

// Region is a contiguous block with both views of its backing memory: the CPU
// mapping in Data and the device-visible address in Phys. Both stay valid for
// the region's entire lifetime.
type Region struct {
	Name string
	Data []byte
	Phys uint64

	prov    Provenance
	release func() error
}

func (r *Region) Size() int {
	return len(r.Data)
}

func (r *Region) Provenance() Provenance {
	return r.prov
}

// Platform captures per-target capabilities of the memory path.
type Platform struct {
	// DevicePath is the reserved-memory driver node. Empty disables the
	// driver path entirely.
	DevicePath string

	// CacheSync enables CPU cache maintenance on driver regions. Kept off
	// for kernels where the flush ioctl oopses; those targets map regions
	// uncached instead.
	CacheSync bool
}

func DefaultPlatform() Platform {
	return Platform{DevicePath: "/dev/rmem"}
}

// Allocator hands out regions, preferring the driver path and falling back to
// heap memory. The fallback keeps capture and encode logic runnable on hosts
// with no media hardware; a heap region's "physical" address is defined to be
// its CPU address and must never reach a real device.
type Allocator struct {
	dev      *device
	platform Platform
}

func New(platform Platform) *Allocator {
	a := &Allocator{platform: platform}
	if platform.DevicePath != "" {
		dev, err := openDevice(platform.DevicePath)
		if err != nil {
			log.Info("No reserved-memory driver at %s: %v", platform.DevicePath, err)
		} else {
			a.dev = dev
		}
	}
	return a
}

func (a *Allocator) Alloc(size int, name string) (*Region, error) {
	if size <= 0 {
		return nil, errors.Errorf("Invalid allocation size %d for %q", size, name)
	}

	if a.dev != nil {
		r, err := a.dev.alloc(size, name)
		if err == nil {
			log.Debug("Allocated %q: %d bytes at phys 0x%08x (driver)", name, size, r.Phys)
			return r, nil
		}
		log.Warn("Driver allocation for %q failed: %v, using heap fallback", name, err)
	}

	r := heapRegion(size, name)
	log.Debug("Allocated %q: %d bytes at 0x%08x (heap)", name, size, r.Phys)
	return r, nil
}

// Free releases a region. Idempotent. Arena regions belong to their arena's
// backing store and are left alone.
func (a *Allocator) Free(r *Region) error {
	if r == nil || r.prov == Carved || r.release == nil {
		return nil
	}
	release := r.release
	r.release = nil
	r.Data = nil
	return release()
}

// Sync publishes CPU writes on a driver region to the device. A no-op unless
// the platform has cache maintenance enabled.
func (a *Allocator) Sync(r *Region) error {
	if !a.platform.CacheSync || a.dev == nil || r.prov != Driver {
		return nil
	}
	return a.dev.sync(r)
}

func (a *Allocator) Close() error {
	if a.dev == nil {
		return nil
	}
	return a.dev.close()
}

func heapRegion(size int, name string) *Region {
	buf := make([]byte, size+pageSize)
	pad := 0
	if rem := int(uintptr(unsafe.Pointer(&buf[0])) % pageSize); rem != 0 {
		pad = pageSize - rem
	}
	data := buf[pad : pad+size : pad+size]
	return &Region{
		Name:    name,
		Data:    data,
		Phys:    uint64(uintptr(unsafe.Pointer(&data[0]))),
		prov:    Heap,
		release: func() error { return nil },
	}
}
