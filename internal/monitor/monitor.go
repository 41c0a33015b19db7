// Package monitor provides long-lived device previews used outside recording
// sessions: a camera frame monitor and a microphone level monitor.
package monitor

import (
	"time"

	"github.com/petems/screenreview/internal/capture"
	"github.com/rs/zerolog"
)

// Options configures both monitor kinds. Zero fields get defaults.
type Options struct {
	VideoOpener  capture.VideoOpener
	AudioOpeners []capture.AudioOpener
	Registry     *capture.DeviceRegistry
	Tuning       capture.Tuning
	AudioSpec    capture.AudioSpec
	LevelScale   float64
	OpenTimeout  time.Duration
	JoinTimeout  time.Duration
	Logger       zerolog.Logger
}

func (o Options) withDefaults() Options {
	if o.VideoOpener == nil {
		o.VideoOpener = capture.NewFFmpegOpener()
	}
	if o.AudioOpeners == nil {
		o.AudioOpeners = capture.DefaultAudioOpeners()
	}
	if o.Registry == nil {
		o.Registry = capture.DefaultRegistry
	}
	if o.Tuning == (capture.Tuning{}) {
		o.Tuning = capture.DefaultTuning()
	}
	if o.AudioSpec == (capture.AudioSpec{}) {
		o.AudioSpec = capture.DefaultAudioSpec()
	}
	if o.LevelScale <= 0 {
		o.LevelScale = 1
	}
	if o.OpenTimeout <= 0 {
		o.OpenTimeout = 10 * time.Second
	}
	if o.JoinTimeout <= 0 {
		o.JoinTimeout = 3 * time.Second
	}
	return o
}

func lastNote(n *capture.Notes) string {
	list := n.List()
	if len(list) == 0 {
		return "device stopped delivering data"
	}
	return list[len(list)-1]
}

// CameraMonitor keeps the latest frame of one camera available for preview.
type CameraMonitor struct {
	opts Options
	r    *runner[*capture.VideoBackend]
	log  zerolog.Logger
}

func NewCameraMonitor(opts Options) *CameraMonitor {
	opts = opts.withDefaults()
	log := opts.Logger.With().Str("component", "camera-monitor").Logger()
	return &CameraMonitor{
		opts: opts,
		log:  log,
		r: &runner[*capture.VideoBackend]{
			openTimeout: opts.OpenTimeout,
			joinTimeout: opts.JoinTimeout,
			log:         log,
		},
	}
}

// Start stops any previous run and opens sel in the background.
func (m *CameraMonitor) Start(sel capture.VideoSelector, size capture.Size, fps float64) {
	b := capture.NewVideoBackend(capture.VideoBackendConfig{
		Opener:   m.opts.VideoOpener,
		Registry: m.opts.Registry,
		Selector: sel,
		Size:     size,
		FPS:      fps,
		Tuning:   m.opts.Tuning,
		Logger:   m.log,
	})
	m.log.Info().Str("device", sel.String()).Msg("Starting camera monitor")
	m.r.start(b)
}

// Stop releases the camera. Safe to call at any time.
func (m *CameraMonitor) Stop() {
	m.r.stop()
}

func (m *CameraMonitor) IsRunning() bool {
	return m.r.running()
}

// LastFrame returns the most recent frame, or false when there is none or
// the camera has failed.
func (m *CameraMonitor) LastFrame() (capture.Frame, bool) {
	b, ok := m.r.current()
	if !ok || b.Failed() {
		return capture.Frame{}, false
	}
	return b.LastFrame()
}

// LastError describes why the monitor is not running, or "".
func (m *CameraMonitor) LastError() string {
	if b, ok := m.r.current(); ok && b.Failed() {
		m.r.setError(lastNote(b.Notes()))
	}
	return m.r.lastError()
}

// MicMonitor keeps the latest level of one microphone available.
type MicMonitor struct {
	opts Options
	r    *runner[*capture.AudioBackend]
	log  zerolog.Logger
}

func NewMicMonitor(opts Options) *MicMonitor {
	opts = opts.withDefaults()
	log := opts.Logger.With().Str("component", "mic-monitor").Logger()
	return &MicMonitor{
		opts: opts,
		log:  log,
		r: &runner[*capture.AudioBackend]{
			openTimeout: opts.OpenTimeout,
			joinTimeout: opts.JoinTimeout,
			log:         log,
		},
	}
}

// Start stops any previous run and opens the input at index (negative for
// the default) in the background.
func (m *MicMonitor) Start(index int) {
	b := capture.NewAudioBackend(capture.AudioBackendConfig{
		Openers:     m.opts.AudioOpeners,
		Registry:    m.opts.Registry,
		DeviceIndex: index,
		Spec:        m.opts.AudioSpec,
		LevelScale:  m.opts.LevelScale,
		Tuning:      m.opts.Tuning,
		Logger:      m.log,
	})
	m.log.Info().Str("device", capture.AudioKey(index)).Msg("Starting mic monitor")
	m.r.start(b)
}

// Stop releases the microphone. Safe to call at any time.
func (m *MicMonitor) Stop() {
	m.r.stop()
}

func (m *MicMonitor) IsRunning() bool {
	return m.r.running()
}

// LastLevel returns the latest level in [0, 1]; zero when not running.
func (m *MicMonitor) LastLevel() float64 {
	b, ok := m.r.current()
	if !ok || b.Failed() {
		return 0
	}
	return b.Level()
}

// LastError describes why the monitor is not running, or "".
func (m *MicMonitor) LastError() string {
	if b, ok := m.r.current(); ok && b.Failed() {
		m.r.setError(lastNote(b.Notes()))
	}
	return m.r.lastError()
}
