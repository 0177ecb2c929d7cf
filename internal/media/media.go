package media

// Generic interface for a video frame source.
type FrameSource interface {
	// Next blocks until the next frame is available.
	Next() (*Frame, error)

	// Free up any resources associated with the source
	Close() error
}
