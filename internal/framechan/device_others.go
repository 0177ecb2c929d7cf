//go:build !linux

package framechan

// Device requires the kernel capture driver. This stub keeps non-linux
// builds compiling; Open always panics before a Device can exist.
type Device struct{}

func Open(path string) (*Device, error) {
	panic("Frame channel support disabled")
}

func (dev *Device) Path() string                       { panic("Frame channel support disabled") }
func (dev *Device) Format() (*Format, error)           { panic("Frame channel support disabled") }
func (dev *Device) SetFormat(f *Format) error          { panic("Frame channel support disabled") }
func (dev *Device) RequestBuffers(count int) (int, error) {
	panic("Frame channel support disabled")
}
func (dev *Device) QueryBuffer(index int) (int, error) { panic("Frame channel support disabled") }
func (dev *Device) SetFrameDepth(depth int) error      { panic("Frame channel support disabled") }
func (dev *Device) StreamOn() error                    { panic("Frame channel support disabled") }
func (dev *Device) StreamOff() error                   { panic("Frame channel support disabled") }
func (dev *Device) Queue(b Buffer) error               { panic("Frame channel support disabled") }
func (dev *Device) Dequeue() (Buffer, error)           { panic("Frame channel support disabled") }
func (dev *Device) Close() error                       { return nil }
