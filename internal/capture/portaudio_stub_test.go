//go:build noportaudio

package capture

import (
	"errors"
	"testing"
)

func TestPortAudioCompiledOut(t *testing.T) {
	p := &PortAudioOpener{}
	if p.Available() || portaudioUsable() {
		t.Fatal("portaudio must report unavailable in noportaudio builds")
	}
	if _, err := p.Open(-1, DefaultAudioSpec(), nil); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}

	openers := DefaultAudioOpeners()
	if len(openers) != 2 || openers[1].Name() != "malgo" {
		t.Fatalf("malgo must remain as the fallback, got %v", openers)
	}
}
