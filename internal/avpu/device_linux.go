//go:build linux

package avpu

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// DefaultDevicePath is the encoder core's kernel device node.
const DefaultDevicePath = "/dev/avpu"

// Request codes for the encoder device, from the kernel header:
// _IOWR('a', nr, struct avpu_reg).
const (
	avpuReadReq  = 0xc0086101
	avpuWriteReq = 0xc0086102
)

// avpuReg mirrors struct avpu_reg in the kernel driver: one register offset
// and its value, size 8.
type avpuReg struct {
	offset uint32
	value  uint32
}

var _ [0]struct{} = [unsafe.Sizeof(avpuReg{}) - 8]struct{}{}

// Device is the encoder core's character device. It implements RegisterBus.
type Device struct {
	path string
	fd   int
}

func OpenDevice(path string) (*Device, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, err
	}
	return &Device{path: path, fd: fd}, nil
}

func (dev *Device) ioctl(request uint, arg unsafe.Pointer) error {
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

func (dev *Device) ReadReg(offset uint32) (uint32, error) {
	if err := checkAligned(offset); err != nil {
		return 0, err
	}
	reg := avpuReg{offset: offset}
	if err := dev.ioctl(avpuReadReq, unsafe.Pointer(&reg)); err != nil {
		return 0, err
	}
	return reg.value, nil
}

func (dev *Device) WriteReg(offset, value uint32) error {
	if err := checkAligned(offset); err != nil {
		return err
	}
	reg := avpuReg{offset: offset, value: value}
	return dev.ioctl(avpuWriteReq, unsafe.Pointer(&reg))
}

func (dev *Device) Close() error {
	return unix.Close(dev.fd)
}
