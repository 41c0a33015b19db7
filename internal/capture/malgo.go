package capture

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gen2brain/malgo"
)

// MalgoOpener opens capture devices through miniaudio. It is the fallback
// when PortAudio is not installed.
type MalgoOpener struct{}

func (m *MalgoOpener) Name() string { return "malgo" }

// Available reports whether a miniaudio context can be created.
func (m *MalgoOpener) Available() bool {
	return ProbeCapabilities().Malgo
}

func malgoUsable() bool {
	ctx, err := withOpenLock(func() (*malgo.AllocatedContext, error) {
		return malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	})
	if err != nil {
		return false
	}
	freeContext(ctx)
	return true
}

// Open initializes a float32 capture device. deviceIndex indexes the capture
// device list; negative selects the system default.
func (m *MalgoOpener) Open(deviceIndex int, spec AudioSpec, onBlock BlockFunc) (AudioStream, error) {
	return withOpenLock(func() (AudioStream, error) {
		return openMalgo(deviceIndex, spec, onBlock)
	})
}

func openMalgo(deviceIndex int, spec AudioSpec, onBlock BlockFunc) (AudioStream, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize malgo context: %w", err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = uint32(spec.Channels)
	deviceConfig.SampleRate = uint32(spec.SampleRate)
	deviceConfig.PeriodSizeInFrames = uint32(spec.FramesPerBuffer)

	if deviceIndex >= 0 {
		infos, err := ctx.Devices(malgo.Capture)
		if err != nil {
			freeContext(ctx)
			return nil, fmt.Errorf("failed to enumerate devices: %w", err)
		}
		if deviceIndex >= len(infos) {
			freeContext(ctx)
			return nil, fmt.Errorf("capture device %d not found (%d devices)", deviceIndex, len(infos))
		}
		deviceConfig.Capture.DeviceID = infos[deviceIndex].ID.Pointer()
	}

	channels := spec.Channels
	callbacks := malgo.DeviceCallbacks{
		Data: func(_, in []byte, frames uint32) {
			onBlock(bytesToFloat32(in), channels)
		},
	}

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, callbacks)
	if err != nil {
		freeContext(ctx)
		return nil, fmt.Errorf("failed to initialize device: %w", err)
	}

	return &malgoStream{ctx: ctx, device: device}, nil
}

// listMalgoDevices lists capture devices in the order MalgoOpener indexes them.
func listMalgoDevices() ([]AudioDevice, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize malgo context: %w", err)
	}
	defer freeContext(ctx)

	infos, err := ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	result := make([]AudioDevice, 0, len(infos))
	for i, info := range infos {
		result = append(result, AudioDevice{
			Index:   i,
			Name:    info.Name(),
			Default: info.IsDefault != 0,
		})
	}
	return result, nil
}

func freeContext(ctx *malgo.AllocatedContext) {
	_ = ctx.Uninit()
	ctx.Free()
}

// bytesToFloat32 decodes little-endian float32 samples.
func bytesToFloat32(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

type malgoStream struct {
	ctx    *malgo.AllocatedContext
	device *malgo.Device
}

func (s *malgoStream) Start() error {
	if err := s.device.Start(); err != nil {
		return fmt.Errorf("failed to start device: %w", err)
	}
	return nil
}

func (s *malgoStream) Close() error {
	err := s.device.Stop()
	s.device.Uninit()
	freeContext(s.ctx)
	if err != nil {
		return fmt.Errorf("failed to stop device: %w", err)
	}
	return nil
}
