//go:build linux

package framechan

import (
	"unsafe"

	"golang.org/x/sys/unix"

	errors "golang.org/x/xerrors"
)

// Request codes for the framechan character device, type 'f'.
const (
	fchanGetFormat  = 0xc0406601 // _IOWR('f', 1, struct framechan_format)
	fchanSetFormat  = 0x40406602 // _IOW('f', 2, struct framechan_format)
	fchanReqBufs    = 0xc0046603 // _IOWR('f', 3, __u32)
	fchanQueryBuf   = 0xc0186604 // _IOWR('f', 4, struct framechan_buffer)
	fchanSetDepth   = 0x40046605 // _IOW('f', 5, __u32)
	fchanStreamOn   = 0x00006606 // _IO('f', 6)
	fchanStreamOff  = 0x00006607 // _IO('f', 7)
	fchanQueueBuf   = 0x40186608 // _IOW('f', 8, struct framechan_buffer)
	fchanDequeueBuf = 0xc0186609 // _IOWR('f', 9, struct framechan_buffer)
)

// Device is an open capture channel node.
type Device struct {
	path string
	fd   int
}

// Open opens the capture device node at path.
func Open(path string) (*Device, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, errors.Errorf("Open %s: %w", path, err)
	}
	return &Device{path: path, fd: fd}, nil
}

// Path returns the device node path this device was opened with.
func (dev *Device) Path() string {
	return dev.path
}

// Format reads the current capture format. Stride and ImageSize carry the
// driver's computed values.
func (dev *Device) Format() (*Format, error) {
	var w chanFormat
	if err := dev.ioctl(fchanGetFormat, unsafe.Pointer(&w)); err != nil {
		return nil, errors.Errorf("Get format on %s: %w", dev.path, err)
	}
	return formatFromWire(&w), nil
}

// SetFormat programs the capture format and channel attributes. The driver
// recomputes stride and image size; read them back with Format.
func (dev *Device) SetFormat(f *Format) error {
	if err := validateFormat(f); err != nil {
		return err
	}
	w := f.toWire()
	if err := dev.ioctl(fchanSetFormat, unsafe.Pointer(&w)); err != nil {
		return errors.Errorf("Set format on %s: %w", dev.path, err)
	}
	return nil
}

// RequestBuffers negotiates the kernel-side buffer count. The driver may
// grant fewer slots than requested; the granted count is returned.
func (dev *Device) RequestBuffers(count int) (int, error) {
	if count <= 0 {
		return 0, errors.Errorf("Invalid buffer count %d", count)
	}
	n := uint32(count)
	if err := dev.ioctl(fchanReqBufs, unsafe.Pointer(&n)); err != nil {
		return 0, errors.Errorf("Request %d buffers on %s: %w", count, dev.path, err)
	}
	return int(n), nil
}

// QueryBuffer reports the kernel's expected byte length for one buffer slot.
func (dev *Device) QueryBuffer(index int) (int, error) {
	w := chanBuffer{index: uint32(index)}
	if err := dev.ioctl(fchanQueryBuf, unsafe.Pointer(&w)); err != nil {
		return 0, errors.Errorf("Query buffer %d on %s: %w", index, dev.path, err)
	}
	return int(w.length), nil
}

// SetFrameDepth bounds the kernel-side ready queue to depth frames.
func (dev *Device) SetFrameDepth(depth int) error {
	if depth <= 0 {
		return errors.Errorf("Invalid frame depth %d", depth)
	}
	n := uint32(depth)
	if err := dev.ioctl(fchanSetDepth, unsafe.Pointer(&n)); err != nil {
		return errors.Errorf("Set frame depth %d on %s: %w", depth, dev.path, err)
	}
	return nil
}

// StreamOn starts capture delivery into the queued buffers.
func (dev *Device) StreamOn() error {
	if err := dev.ioctl(fchanStreamOn, nil); err != nil {
		return errors.Errorf("Stream on %s: %w", dev.path, err)
	}
	return nil
}

// StreamOff halts capture delivery. Queued buffers remain owned by the
// kernel until the device is closed.
func (dev *Device) StreamOff() error {
	if err := dev.ioctl(fchanStreamOff, nil); err != nil {
		return errors.Errorf("Stream off %s: %w", dev.path, err)
	}
	return nil
}

// Queue hands one buffer slot to the kernel for filling.
func (dev *Device) Queue(b Buffer) error {
	w := b.toWire()
	if err := dev.ioctl(fchanQueueBuf, unsafe.Pointer(&w)); err != nil {
		return errors.Errorf("Queue buffer %d on %s: %w", b.Index, dev.path, err)
	}
	return nil
}

// Dequeue blocks until the kernel has filled a buffer, then returns it.
func (dev *Device) Dequeue() (Buffer, error) {
	var w chanBuffer
	if err := dev.ioctl(fchanDequeueBuf, unsafe.Pointer(&w)); err != nil {
		return Buffer{}, errors.Errorf("Dequeue buffer on %s: %w", dev.path, err)
	}
	return bufferFromWire(&w), nil
}

// Close releases the device node.
func (dev *Device) Close() error {
	return unix.Close(dev.fd)
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
