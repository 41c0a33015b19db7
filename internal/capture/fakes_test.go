package capture

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"
	"sync"
	"testing"
	"time"
)

func testJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, image.NewGray(image.Rect(0, 0, w, h)), nil); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

// fakeVideoOpener hands out fakeVideoSource instances.
type fakeVideoOpener struct {
	available bool
	openErr   error
	width     int
	height    int
	// failAfter makes Read fail once this many frames were returned; 0 never fails.
	failAfter int

	mu      sync.Mutex
	opened  int
	sources []*fakeVideoSource
}

func (o *fakeVideoOpener) Name() string    { return "fake" }
func (o *fakeVideoOpener) Available() bool { return o.available }

func (o *fakeVideoOpener) Open(ctx context.Context, sel VideoSelector, size Size, fps float64) (VideoSource, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.openErr != nil {
		return nil, o.openErr
	}
	o.opened++
	w, h := o.width, o.height
	if w == 0 {
		w, h = size.Width, size.Height
	}
	src := &fakeVideoSource{width: w, height: h, failAfter: o.failAfter}
	o.sources = append(o.sources, src)
	return src, nil
}

func (o *fakeVideoOpener) openCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opened
}

type fakeVideoSource struct {
	width, height int
	failAfter     int

	mu     sync.Mutex
	reads  int
	closed bool
	data   []byte
}

func (s *fakeVideoSource) Read() (Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Frame{}, errors.New("closed")
	}
	if s.failAfter > 0 && s.reads >= s.failAfter {
		return Frame{}, errors.New("device unplugged")
	}
	s.reads++
	if s.data == nil {
		var buf bytes.Buffer
		_ = jpeg.Encode(&buf, image.NewGray(image.Rect(0, 0, s.width, s.height)), nil)
		s.data = buf.Bytes()
	}
	return Frame{Data: s.data, Width: s.width, Height: s.height, Seq: int64(s.reads), At: time.Now()}, nil
}

func (s *fakeVideoSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeVideoSource) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// stallingOpener hands out sources that deliver frames and then block in
// Read until closed, like a camera that froze mid-stream.
type stallingOpener struct {
	frames int

	mu      sync.Mutex
	sources []*stallingSource
}

func (o *stallingOpener) Name() string    { return "stalling" }
func (o *stallingOpener) Available() bool { return true }

func (o *stallingOpener) Open(ctx context.Context, sel VideoSelector, size Size, fps float64) (VideoSource, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	src := &stallingSource{frames: o.frames, data: testJPEGBytes(32, 24), closed: make(chan struct{})}
	o.sources = append(o.sources, src)
	return src, nil
}

func (o *stallingOpener) source(i int) *stallingSource {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sources[i]
}

type stallingSource struct {
	frames int
	data   []byte

	mu        sync.Mutex
	reads     int
	closed    chan struct{}
	closeOnce sync.Once
}

func (s *stallingSource) Read() (Frame, error) {
	s.mu.Lock()
	if s.reads < s.frames {
		s.reads++
		n := s.reads
		s.mu.Unlock()
		return Frame{Data: s.data, Width: 32, Height: 24, Seq: int64(n), At: time.Now()}, nil
	}
	s.mu.Unlock()
	<-s.closed
	return Frame{}, errors.New("closed")
}

func (s *stallingSource) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (s *stallingSource) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// hangingOpener blocks in Open until ctx ends. lockFree records whether the
// global open lock was free while it waited.
type hangingOpener struct {
	mu       sync.Mutex
	lockFree bool
}

func (o *hangingOpener) Name() string    { return "hanging" }
func (o *hangingOpener) Available() bool { return true }

func (o *hangingOpener) Open(ctx context.Context, sel VideoSelector, size Size, fps float64) (VideoSource, error) {
	free := openMu.TryLock()
	if free {
		openMu.Unlock()
	}
	o.mu.Lock()
	o.lockFree = free
	o.mu.Unlock()

	<-ctx.Done()
	return nil, ctx.Err()
}

func (o *hangingOpener) sawLockFree() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lockFree
}

func testJPEGBytes(w, h int) []byte {
	var buf bytes.Buffer
	_ = jpeg.Encode(&buf, image.NewGray(image.Rect(0, 0, w, h)), nil)
	return buf.Bytes()
}

// fakeEncoder records the size it was opened with and the frames it got.
type fakeEncoder struct {
	name string
	ok   bool
	// failWrites makes the writer reject every frame, like an encoder that
	// exits right after starting.
	failWrites bool

	mu     sync.Mutex
	tried  int
	size   Size
	writer *fakeFrameWriter
}

func (e *fakeEncoder) Name() string { return e.name }

func (e *fakeEncoder) TryOpen(path string, size Size, fps float64) (FrameWriter, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tried++
	if !e.ok {
		return nil, false
	}
	e.size = size
	e.writer = &fakeFrameWriter{failWrites: e.failWrites}
	return e.writer, true
}

type fakeFrameWriter struct {
	failWrites bool

	mu     sync.Mutex
	frames int
	closed bool
}

func (w *fakeFrameWriter) Write(f Frame) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return errors.New("write after close")
	}
	if w.failWrites {
		return errors.New("encoder exited: Unknown encoder 'libx264'")
	}
	w.frames++
	return nil
}

func (w *fakeFrameWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *fakeFrameWriter) isClosed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

func (w *fakeFrameWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.frames
}

// fakeAudioOpener captures the block callback so tests can push samples.
type fakeAudioOpener struct {
	name      string
	available bool
	openErr   error

	mu       sync.Mutex
	onBlock  BlockFunc
	channels int
	stream   *fakeAudioStream
}

func (o *fakeAudioOpener) Name() string    { return o.name }
func (o *fakeAudioOpener) Available() bool { return o.available }

func (o *fakeAudioOpener) Open(deviceIndex int, spec AudioSpec, onBlock BlockFunc) (AudioStream, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.openErr != nil {
		return nil, o.openErr
	}
	o.onBlock = onBlock
	o.channels = spec.Channels
	o.stream = &fakeAudioStream{}
	return o.stream, nil
}

// push delivers one block of constant-valued samples.
func (o *fakeAudioOpener) push(value float32, frames int) {
	o.mu.Lock()
	fn, ch := o.onBlock, o.channels
	o.mu.Unlock()
	block := make([]float32, frames*ch)
	for i := range block {
		block[i] = value
	}
	fn(block, ch)
}

type fakeAudioStream struct {
	mu      sync.Mutex
	started bool
	closed  bool
}

func (s *fakeAudioStream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = true
	return nil
}

func (s *fakeAudioStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeAudioStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
