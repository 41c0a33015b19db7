package recorder

import (
	"fmt"
	"os"

	"github.com/petems/screenreview/internal/capture"
)

const (
	VideoFileName = "raw_video.mp4"
	AudioFileName = "raw_audio.wav"

	// PlaceholderVideo is the whole content of a placeholder video file.
	PlaceholderVideo = "SCREENREVIEW_PLACEHOLDER_MP4"
	// PlaceholderSampleRate is the rate of placeholder audio files.
	PlaceholderSampleRate = 16000
)

// IsPlaceholderVideo reports whether data is a placeholder video file.
func IsPlaceholderVideo(data []byte) bool {
	return string(data) == PlaceholderVideo
}

func writePlaceholderVideo(path string) error {
	if err := os.WriteFile(path, []byte(PlaceholderVideo), 0o644); err != nil {
		return fmt.Errorf("write placeholder video: %w", err)
	}
	return nil
}

func writePlaceholderAudio(path string) error {
	if err := capture.WriteSilentWAV(path, PlaceholderSampleRate, capture.PlaceholderSilentFrames); err != nil {
		return fmt.Errorf("write placeholder audio: %w", err)
	}
	return nil
}

// fileLargerThan reports whether path exists with more than min bytes.
func fileLargerThan(path string, min int64) bool {
	st, err := os.Stat(path)
	return err == nil && st.Mode().IsRegular() && st.Size() > min
}

// wavHasSamples reports whether path is a readable WAV with at least one frame.
func wavHasSamples(path string) bool {
	info, err := capture.ReadWAVInfo(path)
	return err == nil && info.Frames() > 0
}

func removeStale(paths ...string) {
	for _, p := range paths {
		_ = os.Remove(p)
	}
}
