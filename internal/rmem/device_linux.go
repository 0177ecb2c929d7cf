//go:build linux

package rmem

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// Request codes for the reserved-memory driver, from the kernel header:
// _IOWR('R', nr, struct rmem_request).
const (
	rmemAllocReq = 0xc0305201
	rmemFreeReq  = 0xc0305202
	rmemSyncReq  = 0x40305203
)

// rmemRequest mirrors struct rmem_request in the kernel driver, size 48. The
// driver fills phys and cookie on alloc; free and sync hand them back.
type rmemRequest struct {
	size   uint32   // offset 0
	flags  uint32   // offset 4
	phys   uint64   // offset 8, written by the driver
	cookie uint64   // offset 16, driver-private handle
	name   [24]byte // offset 24
}

var _ [0]struct{} = [unsafe.Sizeof(rmemRequest{}) - 48]struct{}{}

// The reserved-memory character device.
type device struct {
	path string
	fd   int
}

func openDevice(path string) (*device, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, err
	}
	return &device{path: path, fd: fd}, nil
}

func (dev *device) ioctl(request uint, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(
		unix.SYS_IOCTL,
		uintptr(dev.fd),
		uintptr(request),
		uintptr(arg),
	)
	if errno != 0 {
		return errno
	}
	return nil
}

func (dev *device) alloc(size int, name string) (*Region, error) {
	req := rmemRequest{size: uint32(size)}
	copy(req.name[:], name)
	if err := dev.ioctl(rmemAllocReq, unsafe.Pointer(&req)); err != nil {
		return nil, err
	}

	data, err := unix.Mmap(
		dev.fd,
		int64(req.phys),
		size,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_SHARED,
	)
	if err != nil {
		dev.ioctl(rmemFreeReq, unsafe.Pointer(&req))
		return nil, err
	}

	phys, cookie := req.phys, req.cookie
	return &Region{
		Name: name,
		Data: data,
		Phys: phys,
		prov: Driver,
		release: func() error {
			if err := unix.Munmap(data); err != nil {
				return err
			}
			freeReq := rmemRequest{phys: phys, cookie: cookie}
			return dev.ioctl(rmemFreeReq, unsafe.Pointer(&freeReq))
		},
	}, nil
}

func (dev *device) sync(r *Region) error {
	req := rmemRequest{size: uint32(len(r.Data)), phys: r.Phys}
	return dev.ioctl(rmemSyncReq, unsafe.Pointer(&req))
}

func (dev *device) close() error {
	return unix.Close(dev.fd)
}
