package avpu

// RegisterBus is the register-level view of the encoder core. The production
// implementation is the kernel device; tests substitute an in-memory fake.
type RegisterBus interface {
	ReadReg(offset uint32) (uint32, error)
	WriteReg(offset, value uint32) error
	Close() error
}
