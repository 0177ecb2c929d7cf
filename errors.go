package kahawai

import "errors"

var (
	ErrNoStream      = errors.New("No stream available")  // try again later
	ErrCorruptFrame  = errors.New("Corrupt frame")        // implausible physical address
	ErrNoFreeChannel = errors.New("No free channel slot") // channel table exhausted
	ErrInvalidHandle = errors.New("Invalid channel handle")
	ErrUnknownStream = errors.New("Unknown stream reference")
)
