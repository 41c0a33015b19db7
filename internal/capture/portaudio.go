//go:build !noportaudio

package capture

import (
	"fmt"

	"github.com/gordonklaus/portaudio"
)

// PortAudioOpener opens callback-driven input streams through PortAudio.
type PortAudioOpener struct{}

func (p *PortAudioOpener) Name() string { return "portaudio" }

// Available reports whether PortAudio initializes. The result is cached with
// the rest of the capability probe.
func (p *PortAudioOpener) Available() bool {
	return ProbeCapabilities().PortAudio
}

func portaudioUsable() bool {
	_, err := withOpenLock(func() (struct{}, error) {
		if err := portaudio.Initialize(); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, portaudio.Terminate()
	})
	return err == nil
}

// Open selects the device by its global PortAudio index (negative means the
// default input) and opens a float32 stream that calls onBlock per buffer.
func (p *PortAudioOpener) Open(deviceIndex int, spec AudioSpec, onBlock BlockFunc) (AudioStream, error) {
	return withOpenLock(func() (AudioStream, error) {
		return openPortAudio(deviceIndex, spec, onBlock)
	})
}

func openPortAudio(deviceIndex int, spec AudioSpec, onBlock BlockFunc) (AudioStream, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}

	device, err := portaudioDevice(deviceIndex)
	if err != nil {
		portaudio.Terminate()
		return nil, err
	}

	channels := spec.Channels
	if device.MaxInputChannels < channels {
		channels = device.MaxInputChannels
	}
	if channels < 1 {
		portaudio.Terminate()
		return nil, fmt.Errorf("device %q has no input channels", device.Name)
	}

	stream, err := portaudio.OpenStream(portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: channels,
			Latency:  device.DefaultLowInputLatency,
		},
		SampleRate:      float64(spec.SampleRate),
		FramesPerBuffer: spec.FramesPerBuffer,
	}, func(in []float32) {
		onBlock(in, channels)
	})
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("failed to open audio stream: %w", err)
	}

	return &portAudioStream{stream: stream}, nil
}

func portaudioDevice(index int) (*portaudio.DeviceInfo, error) {
	if index < 0 {
		device, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("failed to get default input device: %w", err)
		}
		return device, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}
	if index >= len(devices) {
		return nil, fmt.Errorf("audio device %d not found (%d devices)", index, len(devices))
	}
	device := devices[index]
	if device.MaxInputChannels == 0 {
		return nil, fmt.Errorf("audio device %d (%s) is not an input", index, device.Name)
	}
	return device, nil
}

type portAudioStream struct {
	stream *portaudio.Stream
}

func (s *portAudioStream) Start() error {
	if err := s.stream.Start(); err != nil {
		return fmt.Errorf("failed to start audio stream: %w", err)
	}
	return nil
}

func (s *portAudioStream) Close() error {
	_, err := withOpenLock(func() (struct{}, error) {
		_ = s.stream.Stop()
		err := s.stream.Close()
		portaudio.Terminate()
		return struct{}{}, err
	})
	return err
}

// ListAudioDevices lists PortAudio input devices with their global indexes.
// When PortAudio fails it lists miniaudio capture devices instead, the
// indexes MalgoOpener accepts.
func ListAudioDevices() ([]AudioDevice, error) {
	devices, err := withOpenLock(listPortAudioDevices)
	if err == nil {
		return devices, nil
	}
	if fallback, ferr := withOpenLock(listMalgoDevices); ferr == nil {
		return fallback, nil
	}
	return nil, err
}

func listPortAudioDevices() ([]AudioDevice, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	defer portaudio.Terminate()

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	result := make([]AudioDevice, 0, len(devices))
	defaultDevice, _ := portaudio.DefaultInputDevice()

	for i, d := range devices {
		if d.MaxInputChannels > 0 {
			result = append(result, AudioDevice{
				Index:   i,
				Name:    d.Name,
				Default: d == defaultDevice,
			})
		}
	}

	return result, nil
}
