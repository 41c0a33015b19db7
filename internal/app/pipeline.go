package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/petems/screenreview/internal/capture"
	"github.com/petems/screenreview/internal/queue"
	"github.com/petems/screenreview/internal/recorder"
)

// MetadataFileName is written next to the artifacts by the last step.
const MetadataFileName = "session.json"

// Session describes one stopped recording handed to the queue.
type Session struct {
	ID        string
	Unit      string
	Dir       string
	VideoPath string
	AudioPath string
	Mode      recorder.BackendMode
	Notes     []string
	Duration  time.Duration
}

// Metadata is the content of session.json.
type Metadata struct {
	SessionID        string    `json:"session_id"`
	Unit             string    `json:"unit"`
	BackendMode      string    `json:"backend_mode"`
	BackendNotes     []string  `json:"backend_notes"`
	DurationSeconds  float64   `json:"duration_seconds"`
	VideoPath        string    `json:"video_path"`
	VideoBytes       int64     `json:"video_bytes"`
	VideoPlaceholder bool      `json:"video_placeholder"`
	AudioPath        string    `json:"audio_path"`
	AudioBytes       int64     `json:"audio_bytes"`
	AudioSeconds     float64   `json:"audio_seconds"`
	AudioSampleRate  int       `json:"audio_sample_rate"`
	AudioChannels    int       `json:"audio_channels"`
	ProcessedAt      time.Time `json:"processed_at"`
}

// ProcessingSteps returns the fixed chain run for every stopped session:
// verify_artifacts, inspect_audio, write_metadata. The chain's result is the
// written Metadata.
func ProcessingSteps(s Session) []queue.Step {
	meta := &Metadata{
		SessionID:       s.ID,
		Unit:            s.Unit,
		BackendMode:     string(s.Mode),
		BackendNotes:    s.Notes,
		DurationSeconds: s.Duration.Seconds(),
		VideoPath:       s.VideoPath,
		AudioPath:       s.AudioPath,
	}
	if meta.BackendNotes == nil {
		meta.BackendNotes = []string{}
	}

	return []queue.Step{
		{Name: "verify_artifacts", Run: func() (any, error) {
			return nil, verifyArtifacts(meta)
		}},
		{Name: "inspect_audio", Run: func() (any, error) {
			return nil, inspectAudio(meta)
		}},
		{Name: "write_metadata", Run: func() (any, error) {
			meta.ProcessedAt = time.Now().UTC()
			if err := writeMetadata(filepath.Join(s.Dir, MetadataFileName), meta); err != nil {
				return nil, err
			}
			return *meta, nil
		}},
	}
}

func verifyArtifacts(meta *Metadata) error {
	videoSize, err := nonEmptySize(meta.VideoPath)
	if err != nil {
		return fmt.Errorf("video artifact: %w", err)
	}
	audioSize, err := nonEmptySize(meta.AudioPath)
	if err != nil {
		return fmt.Errorf("audio artifact: %w", err)
	}
	meta.VideoBytes = videoSize
	meta.AudioBytes = audioSize

	if videoSize == int64(len(recorder.PlaceholderVideo)) {
		data, err := os.ReadFile(meta.VideoPath)
		if err != nil {
			return fmt.Errorf("video artifact: %w", err)
		}
		meta.VideoPlaceholder = recorder.IsPlaceholderVideo(data)
	}
	return nil
}

func nonEmptySize(path string) (int64, error) {
	st, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	if st.Size() == 0 {
		return 0, errors.New(path + " is empty")
	}
	return st.Size(), nil
}

func inspectAudio(meta *Metadata) error {
	info, err := capture.ReadWAVInfo(meta.AudioPath)
	if err != nil {
		return fmt.Errorf("read %s: %w", meta.AudioPath, err)
	}
	meta.AudioSeconds = info.Seconds()
	meta.AudioSampleRate = info.SampleRate
	meta.AudioChannels = info.Channels
	return nil
}

func writeMetadata(path string, meta *Metadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	return nil
}
