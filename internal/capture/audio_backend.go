package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// AudioBackendConfig configures one microphone capture.
type AudioBackendConfig struct {
	Openers  []AudioOpener
	Registry *DeviceRegistry
	// DeviceIndex < 0 selects the default input.
	DeviceIndex int
	Spec        AudioSpec
	// OutputPath may be empty for level-only capture.
	OutputPath string
	LevelScale float64
	Tuning     Tuning
	Notes      *Notes
	Logger     zerolog.Logger
}

// AudioBackend wraps a callback-driven input stream and a WAV writer.
type AudioBackend struct {
	cfg AudioBackendConfig
	log zerolog.Logger

	stream  AudioStream
	opener  string
	release func()

	// mu guards everything the audio callback touches.
	mu           sync.Mutex
	writer       *WAVWriter
	writerFailed bool
	armed        bool
	prewarmLeft  int
	level        float64
	lastBlock    time.Time

	paused         atomic.Bool
	failed         atomic.Bool
	blocks         atomic.Int64
	samplesWritten atomic.Int64

	stop     chan struct{}
	done     chan struct{}
	started  atomic.Bool
	stopOnce sync.Once
}

// NewAudioBackend fills in defaults and returns an unopened backend.
func NewAudioBackend(cfg AudioBackendConfig) *AudioBackend {
	if cfg.Registry == nil {
		cfg.Registry = DefaultRegistry
	}
	if cfg.Notes == nil {
		cfg.Notes = &Notes{}
	}
	if cfg.Spec.SampleRate <= 0 || cfg.Spec.Channels <= 0 || cfg.Spec.FramesPerBuffer <= 0 {
		cfg.Spec = DefaultAudioSpec()
	}
	if cfg.LevelScale <= 0 {
		cfg.LevelScale = 1
	}
	if cfg.Tuning.MaxReadFailures <= 0 {
		cfg.Tuning.MaxReadFailures = DefaultTuning().MaxReadFailures
	}
	return &AudioBackend{
		cfg:         cfg,
		log:         cfg.Logger.With().Str("backend", "audio").Str("device", AudioKey(cfg.DeviceIndex)).Logger(),
		prewarmLeft: cfg.Tuning.PrewarmBlocks,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Open tries each available opener in order and starts the first stream that
// opens. Blocks delivered before Start only count toward pre-warm.
func (b *AudioBackend) Open(ctx context.Context) error {
	var candidates []AudioOpener
	for _, o := range b.cfg.Openers {
		if o != nil && o.Available() {
			candidates = append(candidates, o)
		}
	}
	if len(candidates) == 0 {
		b.cfg.Notes.Add("audio: capture library not installed (portaudio and miniaudio unavailable); using placeholder")
		return ErrUnavailable
	}

	release, err := b.cfg.Registry.Acquire(AudioKey(b.cfg.DeviceIndex))
	if err != nil {
		b.cfg.Notes.Add("audio: %s is busy: %v", AudioKey(b.cfg.DeviceIndex), err)
		return err
	}

	if b.cfg.OutputPath != "" {
		w, err := NewWAVWriter(b.cfg.OutputPath, b.cfg.Spec.SampleRate, 1)
		if err != nil {
			b.cfg.Notes.Add("audio: cannot create %s: %v", b.cfg.OutputPath, err)
			b.writerFailed = true
		} else {
			b.writer = w
		}
	}

	var errs []error
	for _, o := range candidates {
		stream, err := b.openStream(ctx, o)
		if err != nil {
			b.cfg.Notes.Add("audio: %s failed to open %s: %v", o.Name(), AudioKey(b.cfg.DeviceIndex), err)
			errs = append(errs, fmt.Errorf("%s: %w", o.Name(), err))
			if ctx.Err() != nil {
				break
			}
			continue
		}
		b.stream = stream
		b.opener = o.Name()
		b.release = release
		b.log.Info().Str("opener", o.Name()).Msg("Audio device opened")
		return nil
	}

	release()
	b.discardWriter()
	return errors.Join(errs...)
}

func (b *AudioBackend) openStream(ctx context.Context, o AudioOpener) (AudioStream, error) {
	return openBounded(ctx, func() (AudioStream, error) {
		stream, err := o.Open(b.cfg.DeviceIndex, b.cfg.Spec, b.onBlock)
		if err != nil {
			return nil, err
		}
		if err := stream.Start(); err != nil {
			stream.Close()
			return nil, err
		}
		return stream, nil
	}, func(late AudioStream) { late.Close() })
}

// discardWriter drops a writer whose stream never opened.
func (b *AudioBackend) discardWriter() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.writer != nil {
		b.writer.Close()
		os.Remove(b.cfg.OutputPath)
		b.writer = nil
	}
	b.writerFailed = true
}

func (b *AudioBackend) onBlock(samples []float32, channels int) {
	if channels < 1 {
		channels = 1
	}
	mono := downmixInterleaved(samples, channels, len(samples)/channels)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastBlock = time.Now()
	b.blocks.Add(1)

	if b.prewarmLeft > 0 {
		b.prewarmLeft--
		return
	}
	if b.paused.Load() {
		b.level = 0
		return
	}
	b.level = rmsLevel(mono, b.cfg.LevelScale)

	if !b.armed || b.writer == nil || b.writerFailed {
		return
	}
	if err := b.writer.WriteSamples(toPCM16(mono)); err != nil {
		b.writerFailed = true
		b.cfg.Notes.Add("audio: writer failed after %d samples: %v", b.samplesWritten.Load(), err)
		return
	}
	b.samplesWritten.Add(int64(len(mono)))
}

// Start arms sample writing and launches the silence watchdog.
func (b *AudioBackend) Start() {
	b.mu.Lock()
	b.armed = true
	b.lastBlock = time.Now()
	b.mu.Unlock()

	b.started.Store(true)
	go b.watchdog()
}

// blockInterval is the expected time between callbacks.
func (b *AudioBackend) blockInterval() time.Duration {
	return time.Duration(float64(time.Second) * float64(b.cfg.Spec.FramesPerBuffer) / float64(b.cfg.Spec.SampleRate))
}

// watchdog marks the backend failed when no block arrives for
// MaxReadFailures block intervals in a row.
func (b *AudioBackend) watchdog() {
	defer close(b.done)

	interval := b.blockInterval()
	limit := time.Duration(b.cfg.Tuning.MaxReadFailures) * interval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
		}

		b.mu.Lock()
		silent := time.Since(b.lastBlock)
		b.mu.Unlock()

		if silent > limit {
			b.failed.Store(true)
			b.cfg.Notes.Add("audio: no samples for %s, capture considered dead", silent.Round(time.Millisecond))
			b.log.Warn().Dur("silent", silent).Msg("Audio backend declared dead")
			return
		}
	}
}

// SetPaused gates file output. The published level drops to zero at once.
func (b *AudioBackend) SetPaused(paused bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.paused.Store(paused)
	if paused {
		b.level = 0
	}
}

// Level returns the latest normalized level in [0, 1].
func (b *AudioBackend) Level() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.paused.Load() {
		return 0
	}
	return b.level
}

// SamplesWritten counts mono samples appended to the output file.
func (b *AudioBackend) SamplesWritten() int64 { return b.samplesWritten.Load() }

// Blocks counts callbacks received, pre-warm included.
func (b *AudioBackend) Blocks() int64 { return b.blocks.Load() }

// Failed reports whether the watchdog gave up on the device.
func (b *AudioBackend) Failed() bool { return b.failed.Load() }

// OpenerName is the strategy that opened the stream, or "".
func (b *AudioBackend) OpenerName() string { return b.opener }

// Stop closes the writer before the stream so the WAV header is patched
// while the device is still held, then releases the device.
func (b *AudioBackend) Stop(joinTimeout time.Duration) error {
	var errs []error
	b.stopOnce.Do(func() {
		close(b.stop)
		if b.started.Load() {
			select {
			case <-b.done:
			case <-time.After(joinTimeout):
				b.cfg.Notes.Add("audio: watchdog did not exit within %s", joinTimeout)
			}
		}

		b.mu.Lock()
		if b.writer != nil {
			if err := b.writer.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close audio writer: %w", err))
				b.cfg.Notes.Add("audio: writer close failed: %v", err)
			}
			b.writer = nil
		}
		b.writerFailed = true
		b.mu.Unlock()

		if b.stream != nil {
			if err := b.stream.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close audio stream: %w", err))
			}
		}
		if b.release != nil {
			b.release()
		}
	})
	return errors.Join(errs...)
}

// Notes returns the diagnostics collected by this backend.
func (b *AudioBackend) Notes() *Notes { return b.cfg.Notes }
