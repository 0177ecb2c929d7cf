//go:build !linux

package rmem

import "errors"

// The reserved-memory driver is Linux-only. Allocations on other platforms
// always take the heap fallback path.
type device struct{}

func openDevice(path string) (*device, error) {
	return nil, errors.New("Reserved-memory driver not supported on this platform")
}

func (dev *device) alloc(size int, name string) (*Region, error) {
	panic("rmem: driver allocation on unsupported platform")
}

func (dev *device) sync(r *Region) error {
	panic("rmem: driver sync on unsupported platform")
}

func (dev *device) close() error {
	return nil
}
