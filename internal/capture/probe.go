package capture

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// ProbeResult is the outcome of a one-shot camera probe.
type ProbeResult struct {
	OK      bool
	Message string
	Frame   Frame
}

// CaptureSingleFrame opens the camera, reads one frame and releases it.
func CaptureSingleFrame(ctx context.Context, opener VideoOpener, sel VideoSelector, size Size, fps float64) ProbeResult {
	if opener == nil || !opener.Available() {
		return ProbeResult{Message: "camera preview unavailable: ffmpeg is not installed"}
	}

	release, err := DefaultRegistry.Acquire(sel.Key())
	if err != nil {
		return ProbeResult{Message: "camera " + sel.String() + " is in use"}
	}
	defer release()

	src, err := openBounded(ctx, func() (VideoSource, error) {
		return opener.Open(ctx, sel, size, fps)
	}, func(late VideoSource) { late.Close() })
	if err != nil {
		return ProbeResult{Message: "could not open " + sel.String() + ": " + err.Error()}
	}
	defer src.Close()

	frame, err := src.Read()
	if err != nil {
		return ProbeResult{Message: "could not read from " + sel.String() + ": " + err.Error()}
	}
	return ProbeResult{OK: true, Message: "captured " + Size{Width: frame.Width, Height: frame.Height}.String(), Frame: frame}
}

// LevelProbe is the outcome of a short microphone sample.
type LevelProbe struct {
	OK      bool
	Message string
	Level   float64
}

// SampleAudioLevel listens for d and reports the peak level seen.
func SampleAudioLevel(ctx context.Context, openers []AudioOpener, index int, spec AudioSpec, levelScale float64, d time.Duration) LevelProbe {
	backend := NewAudioBackend(AudioBackendConfig{
		Openers:     openers,
		DeviceIndex: index,
		Spec:        spec,
		LevelScale:  levelScale,
		Logger:      zerolog.Nop(),
	})
	if err := backend.Open(ctx); err != nil {
		if errors.Is(err, ErrUnavailable) {
			return LevelProbe{Message: "microphone level unavailable: neither portaudio nor miniaudio could be initialized"}
		}
		return LevelProbe{Message: "could not open " + AudioKey(index) + ": " + err.Error()}
	}
	backend.Start()
	defer backend.Stop(time.Second)

	var peak float64
	deadline := time.NewTimer(d)
	defer deadline.Stop()
	tick := time.NewTicker(backend.blockInterval())
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return LevelProbe{Message: ctx.Err().Error(), Level: peak}
		case <-deadline.C:
			if backend.Blocks() == 0 {
				return LevelProbe{Message: "microphone delivered no samples"}
			}
			return LevelProbe{OK: true, Message: "ok", Level: peak}
		case <-tick.C:
			if l := backend.Level(); l > peak {
				peak = l
			}
		}
	}
}

// ResolutionOption pairs a resolution label with its size.
type ResolutionOption struct {
	Label string
	Size  Size
}

// ResolutionProbe lists the labels a camera actually delivers.
type ResolutionProbe struct {
	OK      bool
	Message string
	Options []string
}

// ProbeResolutionOptions opens the camera once per candidate and keeps the
// labels whose frames come back at the requested size. Without a working
// camera it returns every candidate label with OK false.
func ProbeResolutionOptions(ctx context.Context, opener VideoOpener, sel VideoSelector, candidates []ResolutionOption) ResolutionProbe {
	defaults := make([]string, len(candidates))
	for i, c := range candidates {
		defaults[i] = c.Label
	}
	if opener == nil || !opener.Available() {
		return ResolutionProbe{Message: "resolution probe unavailable: ffmpeg is not installed", Options: defaults}
	}

	var supported []string
	for _, c := range candidates {
		if ctx.Err() != nil {
			break
		}
		res := CaptureSingleFrame(ctx, opener, sel, c.Size, 15)
		if res.OK && res.Frame.Width == c.Size.Width && res.Frame.Height == c.Size.Height {
			supported = append(supported, c.Label)
		}
	}
	if len(supported) == 0 {
		return ResolutionProbe{Message: "camera did not confirm any resolution", Options: defaults}
	}
	return ResolutionProbe{OK: true, Message: "ok", Options: supported}
}
