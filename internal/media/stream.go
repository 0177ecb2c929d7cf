package media

// Stream is one encoded elementary-stream unit in Annex-B framing.
//
// Hardware-produced streams borrow their Data from a device-owned slot and
// stay valid only until the stream is released back to the encoder; software
// streams own their backing storage.
type Stream struct {
	Channel int

	Data []byte // Annex-B bytes, first byte is the start code
	Phys uint64 // physical address of the backing slot, 0 when heap-backed

	PTS uint64 // presentation timestamp, microseconds
	Seq uint64 // per-channel sequence number, starts at 0

	// IDR marks a unit carrying an instantaneous refresh picture, derived
	// from the NAL types found in Data.
	IDR bool
}
