package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// VideoBackendConfig configures one camera capture for a recording session.
type VideoBackendConfig struct {
	Opener   VideoOpener
	Encoders []EncoderStrategy
	Registry *DeviceRegistry
	Selector VideoSelector
	Size     Size
	FPS      float64
	// OutputPath may be empty for preview-only capture.
	OutputPath string
	Tuning     Tuning
	Notes      *Notes
	Logger     zerolog.Logger
}

// VideoBackend owns a camera handle and a lazily opened frame writer. The
// capture loop runs on its own goroutine between Start and Stop.
type VideoBackend struct {
	cfg VideoBackendConfig
	log zerolog.Logger

	src     VideoSource
	release func()

	frameMu   sync.Mutex
	lastFrame *Frame

	writerMu     sync.Mutex
	writer       FrameWriter
	writerIdx    int
	writerFrames int64
	writerFailed bool

	started       atomic.Bool
	paused        atomic.Bool
	failed        atomic.Bool
	framesRead    atomic.Int64
	framesWritten atomic.Int64

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewVideoBackend validates cfg and returns an unopened backend.
func NewVideoBackend(cfg VideoBackendConfig) *VideoBackend {
	if cfg.Registry == nil {
		cfg.Registry = DefaultRegistry
	}
	if cfg.Notes == nil {
		cfg.Notes = &Notes{}
	}
	if cfg.FPS <= 0 {
		cfg.FPS = 15
	}
	if cfg.Tuning.MaxReadFailures <= 0 {
		cfg.Tuning.MaxReadFailures = DefaultTuning().MaxReadFailures
	}
	return &VideoBackend{
		cfg:  cfg,
		log:  cfg.Logger.With().Str("backend", "video").Str("device", cfg.Selector.String()).Logger(),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// Open acquires the device, opens the source within ctx and discards the
// pre-warm frames. Failures are recorded in the notes as well as returned.
func (b *VideoBackend) Open(ctx context.Context) error {
	if b.cfg.Opener == nil || !b.cfg.Opener.Available() {
		b.cfg.Notes.Add("video: capture library not installed (ffmpeg missing); using placeholder")
		return ErrUnavailable
	}

	release, err := b.cfg.Registry.Acquire(b.cfg.Selector.Key())
	if err != nil {
		b.cfg.Notes.Add("video: %s is busy: %v", b.cfg.Selector, err)
		return err
	}

	src, err := openBounded(ctx, func() (VideoSource, error) {
		return b.cfg.Opener.Open(ctx, b.cfg.Selector, b.cfg.Size, b.cfg.FPS)
	}, func(late VideoSource) { late.Close() })
	if err != nil {
		release()
		b.cfg.Notes.Add("video: failed to open %s: %v", b.cfg.Selector, err)
		return err
	}

	if err := b.prewarm(ctx, src); err != nil {
		src.Close()
		release()
		b.cfg.Notes.Add("video: %s opened but never produced frames: %v", b.cfg.Selector, err)
		return err
	}

	b.src = src
	b.release = release
	b.log.Info().Str("opener", b.cfg.Opener.Name()).Msg("Video device opened")
	return nil
}

// prewarm discards the first frames; cold cameras often return garbage. A
// source that stalls past ctx is closed so its blocked Read returns on its
// own goroutine.
func (b *VideoBackend) prewarm(ctx context.Context, src VideoSource) error {
	if b.cfg.Tuning.PrewarmFrames <= 0 {
		return nil
	}
	done := make(chan error, 1)
	go func() { done <- b.discardFrames(ctx, src) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		src.Close()
		return fmt.Errorf("pre-warm: %w", ctx.Err())
	}
}

func (b *VideoBackend) discardFrames(ctx context.Context, src VideoSource) error {
	discarded, failures := 0, 0
	for discarded < b.cfg.Tuning.PrewarmFrames {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := src.Read(); err != nil {
			failures++
			if failures >= b.cfg.Tuning.MaxReadFailures {
				return fmt.Errorf("%w: %v", ErrBackendDead, err)
			}
			continue
		}
		discarded++
	}
	return nil
}

// Start launches the capture loop. Open must have succeeded.
func (b *VideoBackend) Start() {
	b.started.Store(true)
	go b.loop()
}

func (b *VideoBackend) loop() {
	defer close(b.done)

	interval := time.Duration(float64(time.Second) / b.cfg.FPS)
	next := time.Now()
	failures := 0

	for {
		// Wall-clock throttling: sleep until the next permitted read.
		if wait := time.Until(next); wait > 0 {
			t := time.NewTimer(wait)
			select {
			case <-b.stop:
				t.Stop()
				return
			case <-t.C:
			}
		} else {
			select {
			case <-b.stop:
				return
			default:
			}
		}
		next = next.Add(interval)
		if now := time.Now(); next.Before(now) {
			next = now
		}

		frame, err := b.src.Read()
		if err != nil {
			failures++
			if failures >= b.cfg.Tuning.MaxReadFailures {
				b.failed.Store(true)
				b.cfg.Notes.Add("video: %d consecutive read failures, capture stopped: %v", failures, err)
				b.log.Warn().Err(err).Int("failures", failures).Msg("Video backend declared dead")
				return
			}
			continue
		}
		failures = 0
		b.framesRead.Add(1)

		b.frameMu.Lock()
		b.lastFrame = &frame
		b.frameMu.Unlock()

		if !b.paused.Load() {
			b.write(frame)
		}
	}
}

// write hands the frame to the writer, creating it from the first real
// frame's dimensions. A writer that fails before it has taken a second's worth
// of frames is discarded and the next strategy gets the same frame.
func (b *VideoBackend) write(frame Frame) {
	if b.cfg.OutputPath == "" {
		return
	}

	b.writerMu.Lock()
	defer b.writerMu.Unlock()

	if b.writerFailed {
		return
	}
	size := Size{Width: frame.Width, Height: frame.Height}
	if b.writer == nil && !b.openWriter(size, 0) {
		return
	}

	for {
		err := b.writer.Write(frame)
		if err == nil {
			b.writerFrames++
			b.framesWritten.Add(1)
			return
		}

		name := b.cfg.Encoders[b.writerIdx].Name()
		_ = b.writer.Close()
		b.writer = nil
		b.log.Warn().Err(err).Str("encoder", name).Int64("frames", b.writerFrames).Msg("Video writer failed")

		if b.writerFrames >= b.confirmFrames() {
			b.writerFailed = true
			b.cfg.Notes.Add("video: writer %s failed after %d frames: %v", name, b.framesWritten.Load(), err)
			return
		}
		b.cfg.Notes.Add("video: encoder %s failed on startup: %v", name, err)
		b.framesWritten.Add(-b.writerFrames)
		if !b.openWriter(size, b.writerIdx+1) {
			return
		}
	}
}

// openWriter opens the first working strategy at or after from.
func (b *VideoBackend) openWriter(size Size, from int) bool {
	w, idx, ok := openFirstWriter(b.cfg.Encoders, from, b.cfg.OutputPath, size, b.cfg.FPS)
	if !ok {
		b.writerFailed = true
		b.cfg.Notes.Add("video: no working encoder found; preview only, no video file written")
		b.log.Warn().Msg("No video encoder could be opened")
		return false
	}
	b.writer, b.writerIdx, b.writerFrames = w, idx, 0
	b.log.Info().Str("encoder", b.cfg.Encoders[idx].Name()).Str("size", size.String()).Msg("Video writer opened")
	return true
}

// confirmFrames is how many frames a writer must accept before a later
// failure is treated as a mid-session failure rather than a bad encoder.
func (b *VideoBackend) confirmFrames() int64 {
	return int64(b.cfg.FPS) + 1
}

// SetPaused gates file output without touching the device handle.
func (b *VideoBackend) SetPaused(paused bool) {
	b.paused.Store(paused)
}

// LastFrame returns the latest captured frame, if any.
func (b *VideoBackend) LastFrame() (Frame, bool) {
	b.frameMu.Lock()
	defer b.frameMu.Unlock()
	if b.lastFrame == nil {
		return Frame{}, false
	}
	return *b.lastFrame, true
}

// FramesWritten counts frames handed to the writer successfully.
func (b *VideoBackend) FramesWritten() int64 { return b.framesWritten.Load() }

// FramesRead counts frames read after pre-warm.
func (b *VideoBackend) FramesRead() int64 { return b.framesRead.Load() }

// Failed reports whether the loop gave up on the device.
func (b *VideoBackend) Failed() bool { return b.failed.Load() }

// Stop signals the loop, joins it for at most joinTimeout, then releases the
// writer before the capture device so buffered frames are flushed.
func (b *VideoBackend) Stop(joinTimeout time.Duration) error {
	var errs []error
	b.stopOnce.Do(func() {
		close(b.stop)

		if b.started.Load() {
			select {
			case <-b.done:
			case <-time.After(joinTimeout):
				b.cfg.Notes.Add("video: capture loop did not exit within %s", joinTimeout)
				b.log.Warn().Dur("timeout", joinTimeout).Msg("Video loop join timed out")
			}
		}

		b.writerMu.Lock()
		if b.writer != nil {
			if err := b.writer.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close video writer: %w", err))
				b.cfg.Notes.Add("video: writer close failed: %v", err)
			}
			b.writer = nil
		}
		// A loop that outlived the join must not reopen the file.
		b.writerFailed = true
		b.writerMu.Unlock()

		if b.src != nil {
			if err := b.src.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close video source: %w", err))
			}
		}
		if b.release != nil {
			b.release()
		}
	})
	return errors.Join(errs...)
}

// Notes returns the diagnostics collected by this backend.
func (b *VideoBackend) Notes() *Notes { return b.cfg.Notes }
