package recorder

import (
	"errors"
	"time"
)

// State is the lifecycle position of a recording session.
type State int

const (
	StateIdle State = iota
	StateInitializing
	StateRecording
	StatePaused
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInitializing:
		return "initializing"
	case StateRecording:
		return "recording"
	case StatePaused:
		return "paused"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// active reports whether the session owns backends or is about to.
func (s State) active() bool {
	return s == StateInitializing || s == StateRecording || s == StatePaused
}

// BackendMode summarizes which backends produced real data.
type BackendMode string

const (
	ModeLive        BackendMode = "live"
	ModeMixed       BackendMode = "mixed"
	ModePlaceholder BackendMode = "placeholder"
)

func modeFor(videoLive, audioLive bool) BackendMode {
	switch {
	case videoLive && audioLive:
		return ModeLive
	case videoLive || audioLive:
		return ModeMixed
	default:
		return ModePlaceholder
	}
}

// Status is delivered to Options.OnStatus on every state transition.
type Status struct {
	Recording bool
	Paused    bool
	Elapsed   time.Duration
}

var (
	// ErrAlreadyActive is returned by Start while a session is running.
	ErrAlreadyActive = errors.New("recorder: session already active")
	// ErrNotActive is returned by Stop when no session is running.
	ErrNotActive = errors.New("recorder: no active session")
	// ErrNoOutputDir is returned by Start before SetOutputDir.
	ErrNoOutputDir = errors.New("recorder: output directory not set")
)
