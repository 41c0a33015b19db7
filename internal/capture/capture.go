// Package capture owns the hardware-facing half of a recording: camera and
// microphone backends, the encoders that turn their data into files, and the
// capability probes used to decide whether live capture is possible at all.
package capture

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"
)

var (
	// ErrUnavailable means the capture library or tool for a backend is missing.
	ErrUnavailable = errors.New("capture library unavailable")
	// ErrDeviceBusy means another open handle already owns the device.
	ErrDeviceBusy = errors.New("device already in use")
	// ErrProbeInProgress is returned by non-blocking probes that have not finished yet.
	ErrProbeInProgress = errors.New("probe in progress, try later")
	// ErrBackendDead means a backend exceeded its consecutive read failure budget.
	ErrBackendDead = errors.New("backend stopped delivering data")
)

// Size is a frame size in pixels.
type Size struct {
	Width  int
	Height int
}

func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// Frame is one JPEG-encoded camera frame. Width and Height come from the
// decoded JPEG header, not from the requested resolution.
type Frame struct {
	Data   []byte
	Width  int
	Height int
	Seq    int64
	At     time.Time
}

// VideoSelector picks a camera by index, by platform device name, or a
// network stream by URL. URL wins when set.
type VideoSelector struct {
	Index int
	Name  string
	URL   string
}

// Key identifies the underlying device for ownership tracking.
func (s VideoSelector) Key() string {
	if s.URL != "" {
		return "video:url:" + s.URL
	}
	if s.Name != "" {
		return "video:name:" + s.Name
	}
	return "video:" + strconv.Itoa(s.Index)
}

func (s VideoSelector) String() string {
	if s.URL != "" {
		return s.URL
	}
	if s.Name != "" {
		return s.Name
	}
	return "camera " + strconv.Itoa(s.Index)
}

// AudioKey identifies a microphone for ownership tracking. Negative indexes
// select the default input.
func AudioKey(index int) string {
	if index < 0 {
		return "audio:default"
	}
	return "audio:" + strconv.Itoa(index)
}

// Tuning holds the responsiveness knobs shared by backends and monitors.
type Tuning struct {
	PrewarmFrames      int
	PrewarmBlocks      int
	MaxReadFailures    int
	WriterCloseTimeout time.Duration
}

// DefaultTuning mirrors config.DefaultTuning for callers that build backends directly.
func DefaultTuning() Tuning {
	return Tuning{
		PrewarmFrames:      5,
		PrewarmBlocks:      2,
		MaxReadFailures:    30,
		WriterCloseTimeout: 5 * time.Second,
	}
}

// Notes is an ordered, concurrency-safe list of human readable diagnostics.
type Notes struct {
	mu    sync.Mutex
	items []string
}

// Add appends a formatted note.
func (n *Notes) Add(format string, args ...interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.items = append(n.items, fmt.Sprintf(format, args...))
}

// List returns a copy of the notes in insertion order.
func (n *Notes) List() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.items))
	copy(out, n.items)
	return out
}

// Len returns the number of notes.
func (n *Notes) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.items)
}

// openBounded runs open in the background and waits for it or ctx, whichever
// comes first. A result that arrives after ctx is done is passed to discard so
// the device is not leaked.
func openBounded[T any](ctx context.Context, open func() (T, error), discard func(T)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := open()
		ch <- result{v, err}
	}()

	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.err == nil {
				discard(r.v)
			}
		}()
		var zero T
		return zero, fmt.Errorf("open timed out: %w", ctx.Err())
	}
}
