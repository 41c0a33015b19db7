// Package recorder runs one camera + microphone recording session at a time
// and guarantees that every stopped session leaves a video and an audio file
// behind, falling back to placeholders when the hardware did not deliver.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/petems/screenreview/internal/capture"
	"github.com/petems/screenreview/internal/config"
	"github.com/rs/zerolog"
)

// Options wires the recorder to its capture strategies. Zero fields get
// production defaults in New.
type Options struct {
	VideoOpener  capture.VideoOpener
	AudioOpeners []capture.AudioOpener
	Encoders     []capture.EncoderStrategy
	Registry     *capture.DeviceRegistry
	Capabilities func() capture.Capabilities

	AudioSpec   capture.AudioSpec
	LevelScale  float64
	Tuning      capture.Tuning
	OpenTimeout time.Duration
	JoinTimeout time.Duration

	// OnStatus is called from the goroutine that caused the transition.
	OnStatus func(Status)
	Logger   zerolog.Logger
}

// StartParams selects the devices for one session.
type StartParams struct {
	Camera capture.VideoSelector
	// Mic < 0 selects the default input.
	Mic        int
	Resolution string
	FPS        float64
}

type Recorder struct {
	opts Options
	log  zerolog.Logger

	mu        sync.Mutex
	state     State
	stopping  bool
	outputDir string
	videoPath string
	audioPath string
	sessionID string
	ready     chan struct{}

	startedAt   time.Time
	pausedAt    time.Time
	pausedTotal time.Duration
	final       time.Duration
	finalized   bool

	mode    BackendMode
	notes   *capture.Notes
	video   *capture.VideoBackend
	audio   *capture.AudioBackend
	videoOK bool
	audioOK bool
}

func New(opts Options) *Recorder {
	if opts.VideoOpener == nil {
		opts.VideoOpener = capture.NewFFmpegOpener()
	}
	if opts.AudioOpeners == nil {
		opts.AudioOpeners = capture.DefaultAudioOpeners()
	}
	if opts.Tuning == (capture.Tuning{}) {
		opts.Tuning = capture.DefaultTuning()
	}
	if opts.Encoders == nil {
		var binary string
		if ff, ok := opts.VideoOpener.(*capture.FFmpegOpener); ok {
			binary = ff.Binary
		}
		opts.Encoders = capture.DefaultEncoders(binary, opts.Tuning.WriterCloseTimeout)
	}
	if opts.Registry == nil {
		opts.Registry = capture.DefaultRegistry
	}
	if opts.Capabilities == nil {
		opts.Capabilities = capture.ProbeCapabilities
	}
	if opts.AudioSpec == (capture.AudioSpec{}) {
		opts.AudioSpec = capture.DefaultAudioSpec()
	}
	if opts.LevelScale <= 0 {
		opts.LevelScale = 1
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = 10 * time.Second
	}
	if opts.JoinTimeout <= 0 {
		opts.JoinTimeout = 3 * time.Second
	}

	ready := make(chan struct{})
	close(ready)

	return &Recorder{
		opts:  opts,
		log:   opts.Logger.With().Str("component", "recorder").Logger(),
		state: StateIdle,
		mode:  ModePlaceholder,
		ready: ready,
	}
}

// OptionsFromConfig maps the user configuration onto recorder options.
func OptionsFromConfig(cfg *config.Config, logger zerolog.Logger) Options {
	t := cfg.Tuning
	return Options{
		AudioSpec: capture.AudioSpec{
			SampleRate:      cfg.Audio.SampleRate,
			Channels:        cfg.Audio.Channels,
			FramesPerBuffer: capture.DefaultAudioSpec().FramesPerBuffer,
		},
		LevelScale: cfg.Audio.LevelScale,
		Tuning: capture.Tuning{
			PrewarmFrames:      t.PrewarmFrames,
			PrewarmBlocks:      t.PrewarmBlocks,
			MaxReadFailures:    t.MaxReadFailures,
			WriterCloseTimeout: t.WriterCloseTimeout,
		},
		OpenTimeout: t.OpenTimeout,
		JoinTimeout: t.JoinTimeout,
		Logger:      logger,
	}
}

// StartParamsFromConfig builds the device selection from the webcam section.
func StartParamsFromConfig(cfg *config.Config) StartParams {
	return StartParams{
		Camera:     capture.VideoSelector{Index: cfg.Webcam.CameraIndex, URL: cfg.Webcam.StreamURL},
		Mic:        cfg.Webcam.MicrophoneIndex,
		Resolution: cfg.Webcam.Resolution,
		FPS:        cfg.Webcam.FPS,
	}
}

// SetOutputDir creates dir and uses it for the next session.
func (r *Recorder) SetOutputDir(dir string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state.active() || r.stopping {
		return ErrAlreadyActive
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	r.outputDir = dir
	return nil
}

// Start begins a session and returns at once. Devices are opened in the
// background; Ready is closed when the session reaches recording.
func (r *Recorder) Start(p StartParams) error {
	r.mu.Lock()

	if r.state.active() || r.stopping {
		r.mu.Unlock()
		return ErrAlreadyActive
	}
	if r.outputDir == "" {
		r.mu.Unlock()
		return ErrNoOutputDir
	}

	r.sessionID = uuid.NewString()
	r.videoPath = filepath.Join(r.outputDir, VideoFileName)
	r.audioPath = filepath.Join(r.outputDir, AudioFileName)
	removeStale(r.videoPath, r.audioPath)

	r.state = StateInitializing
	r.ready = make(chan struct{})
	r.startedAt = time.Time{}
	r.pausedAt = time.Time{}
	r.pausedTotal = 0
	r.final = 0
	r.finalized = false
	r.mode = ModePlaceholder
	r.notes = &capture.Notes{}
	r.videoOK, r.audioOK = false, false

	w, h := config.ResolutionSize(p.Resolution)
	log := r.log.With().Str("session", r.sessionID).Logger()

	r.video = capture.NewVideoBackend(capture.VideoBackendConfig{
		Opener:     r.opts.VideoOpener,
		Encoders:   r.opts.Encoders,
		Registry:   r.opts.Registry,
		Selector:   p.Camera,
		Size:       capture.Size{Width: w, Height: h},
		FPS:        p.FPS,
		OutputPath: r.videoPath,
		Tuning:     r.opts.Tuning,
		Notes:      r.notes,
		Logger:     log,
	})
	r.audio = capture.NewAudioBackend(capture.AudioBackendConfig{
		Openers:     r.opts.AudioOpeners,
		Registry:    r.opts.Registry,
		DeviceIndex: p.Mic,
		Spec:        r.opts.AudioSpec,
		OutputPath:  r.audioPath,
		LevelScale:  r.opts.LevelScale,
		Tuning:      r.opts.Tuning,
		Notes:       r.notes,
		Logger:      log,
	})

	video, audio, ready, notes := r.video, r.audio, r.ready, r.notes
	r.mu.Unlock()

	log.Info().
		Str("camera", p.Camera.String()).
		Int("mic", p.Mic).
		Str("resolution", fmt.Sprintf("%dx%d", w, h)).
		Msg("Starting recording session")

	go r.initialize(video, audio, ready, notes)
	return nil
}

// initialize opens both backends in parallel and moves the session to
// recording whatever the outcome.
func (r *Recorder) initialize(video *capture.VideoBackend, audio *capture.AudioBackend, ready chan struct{}, notes *capture.Notes) {
	caps := r.opts.Capabilities()

	ctx, cancel := context.WithTimeout(context.Background(), r.opts.OpenTimeout)
	defer cancel()

	var wg sync.WaitGroup
	var videoErr, audioErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		if !caps.LiveVideoSupported() {
			notes.Add("video: capture library not installed (ffmpeg missing); using placeholder")
			videoErr = capture.ErrUnavailable
			return
		}
		videoErr = video.Open(ctx)
	}()
	go func() {
		defer wg.Done()
		if !caps.LiveAudioSupported() {
			notes.Add("audio: capture library not installed (portaudio and miniaudio unavailable); using placeholder")
			audioErr = capture.ErrUnavailable
			return
		}
		audioErr = audio.Open(ctx)
	}()
	wg.Wait()

	r.mu.Lock()
	r.videoOK = videoErr == nil
	r.audioOK = audioErr == nil
	if r.videoOK {
		video.Start()
	}
	if r.audioOK {
		audio.Start()
	}
	r.mode = modeFor(r.videoOK, r.audioOK)
	r.state = StateRecording
	r.startedAt = time.Now()
	mode := r.mode
	r.mu.Unlock()
	close(ready)

	ev := r.log.Info()
	if mode != ModeLive {
		ev = r.log.Warn().AnErr("video_error", videoErr).AnErr("audio_error", audioErr)
	}
	ev.Str("mode", string(mode)).Msg("Recording")

	r.emit(Status{Recording: true})
}

// Ready is closed once the current session has left initializing.
func (r *Recorder) Ready() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ready
}

// Pause stops file output without releasing devices. It is a no-op unless
// recording.
func (r *Recorder) Pause() {
	r.mu.Lock()
	if r.state != StateRecording || r.stopping {
		r.mu.Unlock()
		return
	}
	r.state = StatePaused
	r.pausedAt = time.Now()
	r.setPausedLocked(true)
	elapsed := r.durationLocked()
	r.mu.Unlock()

	r.log.Info().Msg("Recording paused")
	r.emit(Status{Recording: true, Paused: true, Elapsed: elapsed})
}

// Resume continues a paused session. It is a no-op unless paused.
func (r *Recorder) Resume() {
	r.mu.Lock()
	if r.state != StatePaused || r.stopping {
		r.mu.Unlock()
		return
	}
	r.pausedTotal += time.Since(r.pausedAt)
	r.pausedAt = time.Time{}
	r.state = StateRecording
	r.setPausedLocked(false)
	elapsed := r.durationLocked()
	r.mu.Unlock()

	r.log.Info().Msg("Recording resumed")
	r.emit(Status{Recording: true, Elapsed: elapsed})
}

func (r *Recorder) setPausedLocked(paused bool) {
	if r.videoOK {
		r.video.SetPaused(paused)
	}
	if r.audioOK {
		r.audio.SetPaused(paused)
	}
}

// Stop ends the session and returns the video and audio paths. Both files
// exist and are non-empty when err is nil.
func (r *Recorder) Stop() (string, string, error) {
	r.mu.Lock()
	if !r.state.active() || r.stopping {
		r.mu.Unlock()
		return "", "", ErrNotActive
	}
	r.stopping = true
	ready := r.ready
	r.mu.Unlock()

	// A session still opening devices finishes that first.
	<-ready

	r.mu.Lock()
	if r.state == StatePaused {
		r.pausedTotal += time.Since(r.pausedAt)
		r.pausedAt = time.Time{}
	}
	r.final = time.Since(r.startedAt) - r.pausedTotal
	r.finalized = true
	video, audio := r.video, r.audio
	videoOK, audioOK := r.videoOK, r.audioOK
	videoPath, audioPath := r.videoPath, r.audioPath
	notes := r.notes
	r.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := video.Stop(r.opts.JoinTimeout); err != nil {
			r.log.Warn().Err(err).Msg("Video backend stop")
		}
	}()
	go func() {
		defer wg.Done()
		if err := audio.Stop(r.opts.JoinTimeout); err != nil {
			r.log.Warn().Err(err).Msg("Audio backend stop")
		}
	}()
	wg.Wait()

	videoData := videoOK && video.FramesWritten() > 0 && fileLargerThan(videoPath, 0)
	audioData := audioOK && audio.SamplesWritten() > 0 && wavHasSamples(audioPath)
	// A backend that died mid-session keeps its partial file but does not
	// count toward the mode.
	videoLive := videoData && !video.Failed()
	audioLive := audioData && !audio.Failed()
	if videoOK && !videoData {
		notes.Add("video: device opened but no frames were written; using placeholder")
	}
	if audioOK && !audioData {
		notes.Add("audio: device opened but no samples were written; using placeholder")
	}
	if videoData && !videoLive {
		notes.Add("video: device failed mid-session; kept %d frames in a partial file", video.FramesWritten())
	}
	if audioData && !audioLive {
		notes.Add("audio: device failed mid-session; kept %d samples in a partial file", audio.SamplesWritten())
	}

	var errs []error
	if !videoData {
		if err := writePlaceholderVideo(videoPath); err != nil {
			errs = append(errs, err)
		}
	}
	if !audioData {
		if err := writePlaceholderAudio(audioPath); err != nil {
			errs = append(errs, err)
		}
	}

	r.mu.Lock()
	r.mode = modeFor(videoLive, audioLive)
	r.state = StateStopped
	r.stopping = false
	final, mode := r.final, r.mode
	r.mu.Unlock()

	r.log.Info().
		Dur("duration", final).
		Str("mode", string(mode)).
		Int("notes", notes.Len()).
		Msg("Recording stopped")
	r.emit(Status{Elapsed: final})

	if err := errors.Join(errs...); err != nil {
		return videoPath, audioPath, err
	}
	return videoPath, audioPath, nil
}

// Duration is the elapsed recording time excluding pauses.
func (r *Recorder) Duration() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.durationLocked()
}

func (r *Recorder) durationLocked() time.Duration {
	if r.finalized {
		return r.final
	}
	if r.startedAt.IsZero() {
		return 0
	}
	end := time.Now()
	if r.state == StatePaused {
		end = r.pausedAt
	}
	d := end.Sub(r.startedAt) - r.pausedTotal
	if d < 0 {
		return 0
	}
	return d
}

// PreviewFrame returns the latest camera frame, or false when there is none
// or the camera has failed.
func (r *Recorder) PreviewFrame() (capture.Frame, bool) {
	r.mu.Lock()
	video, ok := r.video, r.videoOK
	r.mu.Unlock()
	if video == nil || !ok || video.Failed() {
		return capture.Frame{}, false
	}
	return video.LastFrame()
}

// AudioLevel returns the latest microphone level, zero unless recording.
func (r *Recorder) AudioLevel() float64 {
	r.mu.Lock()
	audio, ok, state := r.audio, r.audioOK, r.state
	r.mu.Unlock()
	if audio == nil || !ok || state != StateRecording || audio.Failed() {
		return 0
	}
	return audio.Level()
}

func (r *Recorder) BackendMode() BackendMode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mode
}

// BackendNotes returns the diagnostics of the current or last session.
func (r *Recorder) BackendNotes() []string {
	r.mu.Lock()
	notes := r.notes
	r.mu.Unlock()
	if notes == nil {
		return nil
	}
	return notes.List()
}

func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Recorder) SessionID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessionID
}

// Paths returns the artifact paths of the current or last session.
func (r *Recorder) Paths() (video, audio string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.videoPath, r.audioPath
}

// Capabilities reports the capture libraries without opening any device.
func (r *Recorder) Capabilities() capture.Capabilities {
	return r.opts.Capabilities()
}

func (r *Recorder) emit(s Status) {
	if r.opts.OnStatus != nil {
		r.opts.OnStatus(s)
	}
}
