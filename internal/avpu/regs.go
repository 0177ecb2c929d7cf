//////////////////////////////////////////////////////////////////////////////
//
// AVPU encoder register map
//
// Copyright 2024 Keahi Labs. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

// Package avpu drives the hardware video encoder core through its kernel
// device: session bring-up, the command-list ring describing each picture,
// and the stream-buffer ring the encoder writes compressed units into.
package avpu

import "github.com/pkg/errors"

// Register offsets of the encoder core. Each register is 32 bits wide and
// read or written through the kernel device, one register per request.
const (
	regCoreReset   = 0x0000
	regClockCmd    = 0x0008
	regAddrMode    = 0x0010
	regIRQMask     = 0x0014
	regIRQPending  = 0x0018
	regTopCtrl     = 0x0100
	regEncEnable0  = 0x0104
	regEncEnable1  = 0x0108
	regEncEnable2  = 0x010c
	regSrcPush     = 0x0200
	regStreamPush  = 0x0204
	regCmdListAddr = 0x0208
	regCmdListPush = 0x020c
)

const (
	// Absolute addressing is selected unconditionally: offset addressing
	// crashes the kernel driver on this platform.
	addrModeAbsolute = 0x1

	// Fixed value written to the command-list push register to commit a
	// staged entry.
	cmdCommit = 0x1

	// Interrupt mask bit for the single encoder core.
	irqMaskCore0 = 0x1

	// Writing all ones to the pending register acknowledges everything.
	irqClearAll = 0xffffffff

	topCtrlEnable = 0x1
	encEnable     = 0x1
)

// Register offsets must be 32-bit aligned. Misaligned requests are rejected
// here rather than handed to the kernel.
func checkAligned(offset uint32) error {
	if offset%4 != 0 {
		return errors.Errorf("Misaligned register offset 0x%04x", offset)
	}
	return nil
}
