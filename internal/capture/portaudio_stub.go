//go:build noportaudio

package capture

import "fmt"

// PortAudioOpener is compiled out in noportaudio builds; audio falls through
// to miniaudio.
type PortAudioOpener struct{}

func (p *PortAudioOpener) Name() string { return "portaudio" }

func (p *PortAudioOpener) Available() bool { return false }

func portaudioUsable() bool { return false }

func (p *PortAudioOpener) Open(int, AudioSpec, BlockFunc) (AudioStream, error) {
	return nil, fmt.Errorf("built without portaudio: %w", ErrUnavailable)
}

// ListAudioDevices lists miniaudio capture devices with the indexes
// MalgoOpener accepts.
func ListAudioDevices() ([]AudioDevice, error) {
	return withOpenLock(listMalgoDevices)
}
