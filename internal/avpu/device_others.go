//go:build !linux

package avpu

const DefaultDevicePath = "/dev/avpu"

type Device struct{}

func OpenDevice(path string) (*Device, error) {
	panic("AVPU device support disabled")
}

func (dev *Device) ReadReg(offset uint32) (uint32, error) {
	panic("AVPU device support disabled")
}

func (dev *Device) WriteReg(offset, value uint32) error {
	panic("AVPU device support disabled")
}

func (dev *Device) Close() error {
	panic("AVPU device support disabled")
}
