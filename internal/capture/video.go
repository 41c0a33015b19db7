package capture

import (
	"context"
)

// VideoSource is an open camera or stream handle.
type VideoSource interface {
	// Read blocks until the next frame is available or the source fails.
	Read() (Frame, error)
	Close() error
}

// VideoOpener opens video sources. Available must be cheap and must not touch
// the device.
type VideoOpener interface {
	Name() string
	Available() bool
	Open(ctx context.Context, sel VideoSelector, size Size, fps float64) (VideoSource, error)
}

// FrameWriter encodes frames into a file.
type FrameWriter interface {
	Write(f Frame) error
	// Close flushes buffered frames and finalizes the container.
	Close() error
}

// EncoderStrategy is one way of opening a FrameWriter. Strategies are tried
// in order and the first that opens wins.
type EncoderStrategy interface {
	Name() string
	TryOpen(path string, size Size, fps float64) (FrameWriter, bool)
}

// openFirstWriter walks strategies in order starting at from and returns the
// first writer that opens along with the strategy's index.
func openFirstWriter(strategies []EncoderStrategy, from int, path string, size Size, fps float64) (FrameWriter, int, bool) {
	for i := from; i < len(strategies); i++ {
		if w, ok := strategies[i].TryOpen(path, size, fps); ok {
			return w, i, true
		}
	}
	return nil, -1, false
}
