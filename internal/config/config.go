package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel  string       `yaml:"log_level"`
	OutputDir string       `yaml:"output_dir"`
	Webcam    WebcamConfig `yaml:"webcam"`
	Audio     AudioConfig  `yaml:"audio"`
	Tuning    TuningConfig `yaml:"tuning"`
	Queue     QueueConfig  `yaml:"queue"`
}

type WebcamConfig struct {
	CameraIndex     int     `yaml:"camera_index"`
	StreamURL       string  `yaml:"stream_url"`      // overrides camera_index when set
	MicrophoneIndex int     `yaml:"microphone_index"` // -1 = default input
	Resolution      string  `yaml:"resolution"`       // "720p", "1080p", "4k" or "WxH"
	FPS             float64 `yaml:"fps"`
}

type AudioConfig struct {
	SampleRate int     `yaml:"sample_rate"`
	Channels   int     `yaml:"channels"`
	LevelScale float64 `yaml:"level_scale"`
}

// TuningConfig holds the hardware-responsiveness knobs. None of them affect
// correctness, only how quickly a dead or cold device is detected.
type TuningConfig struct {
	PrewarmFrames      int           `yaml:"prewarm_frames"`
	PrewarmBlocks      int           `yaml:"prewarm_blocks"`
	MaxReadFailures    int           `yaml:"max_read_failures"`
	OpenTimeout        time.Duration `yaml:"open_timeout"`
	JoinTimeout        time.Duration `yaml:"join_timeout"`
	WriterCloseTimeout time.Duration `yaml:"writer_close_timeout"`
}

type QueueConfig struct {
	MaxWorkers int `yaml:"max_workers"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel:  "info",
		OutputDir: filepath.Join(dataPath(), "sessions"),
		Webcam: WebcamConfig{
			CameraIndex:     0,
			MicrophoneIndex: -1,
			Resolution:      "1080p",
			FPS:             15,
		},
		Audio: AudioConfig{
			SampleRate: 16000,
			Channels:   1,
			LevelScale: 4.0,
		},
		Tuning: DefaultTuning(),
		Queue: QueueConfig{
			MaxWorkers: 2,
		},
	}
}

// DefaultTuning returns the tuning values used when the config file omits them.
func DefaultTuning() TuningConfig {
	return TuningConfig{
		PrewarmFrames:      5,
		PrewarmBlocks:      2,
		MaxReadFailures:    30,
		OpenTimeout:        10 * time.Second,
		JoinTimeout:        3 * time.Second,
		WriterCloseTimeout: 5 * time.Second,
	}
}

// Load reads the config from the platform config path or returns defaults
func Load() (*Config, error) {
	return LoadFrom(Path())
}

// LoadFrom reads the config at path. A missing file yields the defaults.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.normalize()

	return cfg, nil
}

// Save writes the config to the platform config path
func (c *Config) Save() error {
	return c.SaveTo(Path())
}

// SaveTo writes the config to path, creating the directory if needed.
func (c *Config) SaveTo(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0644)
}

// normalize replaces zero or nonsensical values with defaults so a partial
// config file never disables capture.
func (c *Config) normalize() {
	def := Default()
	if c.Webcam.Resolution == "" {
		c.Webcam.Resolution = def.Webcam.Resolution
	}
	if c.Webcam.FPS <= 0 {
		c.Webcam.FPS = def.Webcam.FPS
	}
	if c.Audio.SampleRate <= 0 {
		c.Audio.SampleRate = def.Audio.SampleRate
	}
	if c.Audio.Channels <= 0 {
		c.Audio.Channels = def.Audio.Channels
	}
	if c.Audio.LevelScale <= 0 {
		c.Audio.LevelScale = def.Audio.LevelScale
	}
	t := &c.Tuning
	if t.PrewarmFrames < 0 {
		t.PrewarmFrames = 0
	}
	if t.PrewarmBlocks < 0 {
		t.PrewarmBlocks = 0
	}
	if t.MaxReadFailures <= 0 {
		t.MaxReadFailures = def.Tuning.MaxReadFailures
	}
	if t.OpenTimeout <= 0 {
		t.OpenTimeout = def.Tuning.OpenTimeout
	}
	if t.JoinTimeout <= 0 {
		t.JoinTimeout = def.Tuning.JoinTimeout
	}
	if t.WriterCloseTimeout <= 0 {
		t.WriterCloseTimeout = def.Tuning.WriterCloseTimeout
	}
	if c.Queue.MaxWorkers <= 0 {
		c.Queue.MaxWorkers = def.Queue.MaxWorkers
	}
}

var resolutionLabels = map[string][2]int{
	"720p":  {1280, 720},
	"1080p": {1920, 1080},
	"4k":    {3840, 2160},
}

// ResolutionLabels lists the named resolutions in ascending order.
func ResolutionLabels() []string {
	return []string{"720p", "1080p", "4k"}
}

// ResolutionSize maps a resolution label or a custom "WxH" string to pixel
// dimensions. Unknown labels fall back to 1080p.
func ResolutionSize(label string) (int, int) {
	key := strings.ToLower(strings.TrimSpace(label))
	if wh, ok := resolutionLabels[key]; ok {
		return wh[0], wh[1]
	}
	if w, h, ok := parseWxH(key); ok {
		return w, h
	}
	wh := resolutionLabels["1080p"]
	return wh[0], wh[1]
}

func parseWxH(s string) (int, int, bool) {
	parts := strings.Split(s, "x")
	if len(parts) != 2 {
		return 0, 0, false
	}
	w, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || w <= 0 {
		return 0, 0, false
	}
	h, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil || h <= 0 {
		return 0, 0, false
	}
	return w, h, true
}

// Path returns the platform-specific config file path
func Path() string {
	var base string

	switch runtime.GOOS {
	case "darwin":
		base = os.Getenv("HOME") + "/Library/Application Support"
	case "windows":
		base = os.Getenv("APPDATA")
	default: // linux
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			base = xdg
		} else {
			base = os.Getenv("HOME") + "/.config"
		}
	}

	return filepath.Join(base, "screenreview", "config.yaml")
}

// dataPath returns the platform-specific data directory
func dataPath() string {
	var base string

	switch runtime.GOOS {
	case "darwin":
		base = os.Getenv("HOME") + "/Library/Application Support"
	case "windows":
		base = os.Getenv("LOCALAPPDATA")
	default:
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			base = xdg
		} else {
			base = os.Getenv("HOME") + "/.local/share"
		}
	}

	return filepath.Join(base, "screenreview")
}
