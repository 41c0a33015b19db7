package capture

import (
	"os/exec"
	"sync"
)

// Capabilities reports which capture libraries are usable on this machine.
// Probing never opens a camera or microphone stream.
type Capabilities struct {
	FFmpeg    bool `json:"ffmpeg_available"`
	PortAudio bool `json:"portaudio_available"`
	Malgo     bool `json:"malgo_available"`
}

// VideoLibrary reports whether a video capture tool is present.
func (c Capabilities) VideoLibrary() bool { return c.FFmpeg }

// AudioLibrary reports whether at least one audio capture library initialized.
func (c Capabilities) AudioLibrary() bool { return c.PortAudio || c.Malgo }

// LiveVideoSupported reports whether the recorder can attempt live video.
func (c Capabilities) LiveVideoSupported() bool { return c.VideoLibrary() }

// LiveAudioSupported reports whether the recorder can attempt live audio.
func (c Capabilities) LiveAudioSupported() bool { return c.AudioLibrary() }

// cachedProbe computes a value once. Get blocks until the value is known;
// TryGet never blocks and returns ErrProbeInProgress while the probe runs.
type cachedProbe[T any] struct {
	fn func() (T, error)

	mu      sync.Mutex
	started bool
	done    chan struct{}
	val     T
	err     error
}

func newCachedProbe[T any](fn func() (T, error)) *cachedProbe[T] {
	return &cachedProbe[T]{fn: fn, done: make(chan struct{})}
}

// begin starts the probe if nobody has. It reports whether the caller started it.
func (p *cachedProbe[T]) begin() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return false
	}
	p.started = true
	return true
}

func (p *cachedProbe[T]) run() {
	val, err := p.fn()
	p.mu.Lock()
	p.val, p.err = val, err
	p.mu.Unlock()
	close(p.done)
}

// Get returns the cached value, running the probe on the caller's goroutine
// when it has not started yet.
func (p *cachedProbe[T]) Get() (T, error) {
	if p.begin() {
		p.run()
	}
	<-p.done
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.val, p.err
}

// TryGet returns the cached value if ready. Otherwise it starts the probe in
// the background (once) and returns ErrProbeInProgress.
func (p *cachedProbe[T]) TryGet() (T, error) {
	if p.begin() {
		go p.run()
	}
	select {
	case <-p.done:
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.val, p.err
	default:
		var zero T
		return zero, ErrProbeInProgress
	}
}

func probeCapabilities() (Capabilities, error) {
	_, ffErr := exec.LookPath(ffmpegBinary)
	return Capabilities{
		FFmpeg:    ffErr == nil,
		PortAudio: portaudioUsable(),
		Malgo:     malgoUsable(),
	}, nil
}

var capabilityProbe = newCachedProbe(probeCapabilities)

// ProbeCapabilities returns the process-wide capability report, probing the
// libraries on first use.
func ProbeCapabilities() Capabilities {
	caps, _ := capabilityProbe.Get()
	return caps
}

// TryProbeCapabilities is the non-blocking variant for UI threads. It returns
// ErrProbeInProgress until the first probe completes.
func TryProbeCapabilities() (Capabilities, error) {
	return capabilityProbe.TryGet()
}
