package capture

import (
	"math"
)

// AudioSpec describes the stream requested from a microphone.
type AudioSpec struct {
	SampleRate      int
	Channels        int
	FramesPerBuffer int
}

// DefaultAudioSpec is 16 kHz mono in 64 ms blocks.
func DefaultAudioSpec() AudioSpec {
	return AudioSpec{SampleRate: 16000, Channels: 1, FramesPerBuffer: 1024}
}

// BlockFunc receives one block of interleaved float32 samples in [-1, 1]
// with the channel count the device was actually opened with. It runs on the
// audio library's callback thread and must not block.
type BlockFunc func(samples []float32, channels int)

// AudioStream is an open, started or stoppable microphone stream.
type AudioStream interface {
	Start() error
	Close() error
}

// AudioOpener is one audio capture strategy. Available must be cheap and must
// not open a stream.
type AudioOpener interface {
	Name() string
	Available() bool
	Open(deviceIndex int, spec AudioSpec, onBlock BlockFunc) (AudioStream, error)
}

// AudioDevice represents an audio input device
type AudioDevice struct {
	Index   int
	Name    string
	Default bool
}

// DefaultAudioOpeners returns the strategies in priority order.
func DefaultAudioOpeners() []AudioOpener {
	return []AudioOpener{&PortAudioOpener{}, &MalgoOpener{}}
}

// downmixInterleaved averages interleaved channels into mono. The result is
// always a fresh slice.
func downmixInterleaved(in []float32, channels, frames int) []float32 {
	if channels <= 1 {
		out := make([]float32, len(in))
		copy(out, in)
		return out
	}
	if n := len(in) / channels; n < frames {
		frames = n
	}
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		base := i * channels
		for c := 0; c < channels; c++ {
			sum += in[base+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// rmsLevel returns the root-mean-square of samples multiplied by scale and
// clamped to [0, 1].
func rmsLevel(samples []float32, scale float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	level := math.Sqrt(sum/float64(len(samples))) * scale
	switch {
	case level < 0 || math.IsNaN(level):
		return 0
	case level > 1:
		return 1
	}
	return level
}

// toPCM16 converts float samples to signed 16-bit with clipping.
func toPCM16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		switch {
		case s > 1:
			s = 1
		case s < -1:
			s = -1
		}
		out[i] = int16(math.Round(float64(s) * math.MaxInt16))
	}
	return out
}
