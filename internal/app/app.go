package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/petems/screenreview/internal/config"
	"github.com/petems/screenreview/internal/queue"
	"github.com/petems/screenreview/internal/recorder"
	"github.com/rs/zerolog"
)

// StatusUpdater is an interface for updating status (e.g., a window badge)
type StatusUpdater interface {
	SetIdle()
	SetRecording()
	SetPaused()
	SetProcessing()
	SetError()
}

// Recorder is the part of *recorder.Recorder the app drives.
type Recorder interface {
	SetOutputDir(dir string) error
	Start(p recorder.StartParams) error
	Pause()
	Resume()
	Stop() (string, string, error)
	State() recorder.State
	Duration() time.Duration
	BackendMode() recorder.BackendMode
	BackendNotes() []string
	SessionID() string
}

type Config struct {
	Recorder      Recorder
	Queue         *queue.Manager
	Config        *config.Config
	Logger        zerolog.Logger
	StatusUpdater StatusUpdater // Optional - can be nil
}

type App struct {
	rec    Recorder
	queue  *queue.Manager
	cfg    *config.Config
	log    zerolog.Logger
	status StatusUpdater

	mu         sync.Mutex
	recording  bool
	unit       string
	dir        string
	processing map[string]*queue.Handle
}

func New(cfg Config) *App {
	return &App{
		rec:        cfg.Recorder,
		queue:      cfg.Queue,
		cfg:        cfg.Config,
		log:        cfg.Logger,
		status:     cfg.StatusUpdater,
		processing: make(map[string]*queue.Handle),
	}
}

// StartScreen starts recording the unit called name into its own directory
// under the configured output dir.
func (a *App) StartScreen(name string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.recording {
		return fmt.Errorf("cannot start %q while recording %q", name, a.unit)
	}
	unit := unitName(name)
	if unit == "" || unit == "." || unit == ".." {
		return fmt.Errorf("invalid screen name %q", name)
	}
	if _, busy := a.processing[unit]; busy {
		return fmt.Errorf("screen %q is still being processed", unit)
	}

	dir := filepath.Join(a.cfg.OutputDir, unit)
	if err := a.rec.SetOutputDir(dir); err != nil {
		return fmt.Errorf("failed to prepare output dir: %w", err)
	}
	if err := a.rec.Start(recorder.StartParamsFromConfig(a.cfg)); err != nil {
		return fmt.Errorf("failed to start recording: %w", err)
	}

	a.log.Info().Str("screen", unit).Str("dir", dir).Msg("Starting screen")
	a.recording = true
	a.unit = unit
	a.dir = dir

	if a.status != nil {
		a.status.SetRecording()
	}
	return nil
}

// TogglePause pauses a recording screen or resumes a paused one.
func (a *App) TogglePause() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.recording {
		return
	}
	switch a.rec.State() {
	case recorder.StateRecording:
		a.rec.Pause()
		if a.status != nil {
			a.status.SetPaused()
		}
	case recorder.StatePaused:
		a.rec.Resume()
		if a.status != nil {
			a.status.SetRecording()
		}
	}
}

// StopScreen stops the current recording and queues its processing chain.
// The returned handle completes with the session Metadata.
func (a *App) StopScreen() (*queue.Handle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stopScreenLocked()
}

func (a *App) stopScreenLocked() (*queue.Handle, error) {
	if !a.recording {
		return nil, errors.New("not recording")
	}

	a.log.Info().Str("screen", a.unit).Msg("Stopping screen")
	a.recording = false

	videoPath, audioPath, err := a.rec.Stop()
	if err != nil {
		a.log.Error().Err(err).Msg("Failed to finalize recording")
		if a.status != nil {
			a.status.SetError()
		}
		return nil, fmt.Errorf("failed to stop recording: %w", err)
	}

	session := Session{
		ID:        a.rec.SessionID(),
		Unit:      a.unit,
		Dir:       a.dir,
		VideoPath: videoPath,
		AudioPath: audioPath,
		Mode:      a.rec.BackendMode(),
		Notes:     a.rec.BackendNotes(),
		Duration:  a.rec.Duration(),
	}
	if session.Mode != recorder.ModeLive {
		a.log.Warn().
			Str("mode", string(session.Mode)).
			Strs("notes", session.Notes).
			Msg("Recorded without full live capture")
	}

	if a.status != nil {
		a.status.SetProcessing()
	}

	h := a.queue.AddUnit(session.Unit, ProcessingSteps(session))
	a.processing[session.Unit] = h
	go a.awaitProcessing(h)

	return h, nil
}

func (a *App) awaitProcessing(h *queue.Handle) {
	<-h.Done()

	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.processing, h.UnitID)

	if err := h.Err(); err != nil {
		a.log.Error().Err(err).Str("screen", h.UnitID).Msg("Processing failed")
		if a.status != nil {
			a.status.SetError()
		}
		return
	}

	a.log.Info().Str("screen", h.UnitID).Msg("Processing finished")
	if a.status != nil && !a.recording && len(a.processing) == 0 {
		a.status.SetIdle()
	}
}

func (a *App) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	if a.recording {
		if _, err := a.stopScreenLocked(); err != nil {
			a.log.Error().Err(err).Msg("Stop on shutdown")
		}
	}
	a.mu.Unlock()

	err := a.queue.WaitForAll(ctx)
	a.queue.Shutdown(ctx.Err() == nil)
	return err
}

func (a *App) IsRecording() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.recording
}

// Processing lists the screens whose chains have not finished.
func (a *App) Processing() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.processing))
	for unit := range a.processing {
		out = append(out, unit)
	}
	return out
}

// unitName turns a display name into a directory-safe unit id.
func unitName(name string) string {
	name = strings.TrimSpace(name)
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, name)
}
