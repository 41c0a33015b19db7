package capture

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestAudioBackend(t *testing.T, openers ...AudioOpener) (*AudioBackend, string, *Notes) {
	t.Helper()
	notes := &Notes{}
	out := filepath.Join(t.TempDir(), "raw_audio.wav")
	b := NewAudioBackend(AudioBackendConfig{
		Openers:     openers,
		Registry:    NewDeviceRegistry(),
		DeviceIndex: -1,
		Spec:        AudioSpec{SampleRate: 16000, Channels: 2, FramesPerBuffer: 160},
		OutputPath:  out,
		LevelScale:  1,
		Tuning:      Tuning{PrewarmBlocks: 2, MaxReadFailures: 1000},
		Notes:       notes,
		Logger:      zerolog.Nop(),
	})
	return b, out, notes
}

func TestAudioBackendUnavailable(t *testing.T) {
	b, _, notes := newTestAudioBackend(t, &fakeAudioOpener{name: "a"}, &fakeAudioOpener{name: "b"})

	if err := b.Open(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if notes.Len() == 0 {
		t.Fatal("expected a note")
	}
	if b.Level() != 0 {
		t.Fatal("expected zero level")
	}
}

func TestAudioBackendFallsBackToNextOpener(t *testing.T) {
	first := &fakeAudioOpener{name: "first", available: true, openErr: errors.New("device busy")}
	second := &fakeAudioOpener{name: "second", available: true}
	b, _, notes := newTestAudioBackend(t, first, second)

	if err := b.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer b.Stop(time.Second)

	if b.OpenerName() != "second" {
		t.Fatalf("expected second opener, got %q", b.OpenerName())
	}
	if notes.Len() != 1 {
		t.Fatalf("expected one note for the failed opener, got %v", notes.List())
	}
}

func TestAudioBackendPrewarmLevelAndWrite(t *testing.T) {
	opener := &fakeAudioOpener{name: "fake", available: true}
	b, out, _ := newTestAudioBackend(t, opener)

	if err := b.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	b.Start()

	opener.push(0.5, 160)
	opener.push(0.5, 160)
	if b.Level() != 0 {
		t.Fatalf("pre-warm blocks must not publish a level, got %f", b.Level())
	}
	if b.SamplesWritten() != 0 {
		t.Fatal("pre-warm blocks must not be written")
	}

	opener.push(0.5, 160)
	if got := b.Level(); got < 0.49 || got > 0.51 {
		t.Fatalf("expected level ~0.5, got %f", got)
	}
	if b.SamplesWritten() != 160 {
		t.Fatalf("expected 160 mono samples written, got %d", b.SamplesWritten())
	}

	if err := b.Stop(time.Second); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !opener.stream.isClosed() {
		t.Fatal("stream not closed")
	}

	info, err := ReadWAVInfo(out)
	if err != nil {
		t.Fatalf("ReadWAVInfo: %v", err)
	}
	if info.Channels != 1 || info.SampleRate != 16000 || info.Frames() != 160 {
		t.Fatalf("unexpected wav info %+v", info)
	}
}

func TestAudioBackendPauseDropsLevel(t *testing.T) {
	opener := &fakeAudioOpener{name: "fake", available: true}
	b, _, _ := newTestAudioBackend(t, opener)
	if err := b.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	b.Start()
	defer b.Stop(time.Second)

	for i := 0; i < 3; i++ {
		opener.push(0.8, 160)
	}
	if b.Level() == 0 {
		t.Fatal("expected non-zero level before pause")
	}

	b.SetPaused(true)
	if b.Level() != 0 {
		t.Fatalf("expected zero level right after pause, got %f", b.Level())
	}
	written := b.SamplesWritten()
	opener.push(0.8, 160)
	if b.Level() != 0 || b.SamplesWritten() != written {
		t.Fatal("paused backend must neither publish level nor write")
	}

	b.SetPaused(false)
	opener.push(0.8, 160)
	if b.Level() == 0 {
		t.Fatal("expected level to recover after resume")
	}
}

func TestAudioBackendNotArmedBeforeStart(t *testing.T) {
	opener := &fakeAudioOpener{name: "fake", available: true}
	b, _, _ := newTestAudioBackend(t, opener)
	if err := b.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer b.Stop(time.Second)

	for i := 0; i < 4; i++ {
		opener.push(0.3, 160)
	}
	if b.SamplesWritten() != 0 {
		t.Fatalf("samples written before Start: %d", b.SamplesWritten())
	}
	if b.Level() == 0 {
		t.Fatal("level should be live before Start")
	}
}

func TestAudioBackendWatchdog(t *testing.T) {
	opener := &fakeAudioOpener{name: "fake", available: true}
	notes := &Notes{}
	b := NewAudioBackend(AudioBackendConfig{
		Openers:  []AudioOpener{opener},
		Registry: NewDeviceRegistry(),
		Spec:     AudioSpec{SampleRate: 16000, Channels: 1, FramesPerBuffer: 160},
		Tuning:   Tuning{MaxReadFailures: 3},
		Notes:    notes,
		Logger:   zerolog.Nop(),
	})
	if err := b.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	b.Start()
	defer b.Stop(time.Second)

	// 3 blocks of 10ms with nothing delivered.
	waitFor(t, 2*time.Second, b.Failed)
	if notes.Len() == 0 {
		t.Fatal("expected a watchdog note")
	}
}

func TestAudioBackendBusyDevice(t *testing.T) {
	reg := NewDeviceRegistry()
	release, _ := reg.Acquire(AudioKey(-1))
	defer release()

	b := NewAudioBackend(AudioBackendConfig{
		Openers:     []AudioOpener{&fakeAudioOpener{name: "fake", available: true}},
		Registry:    reg,
		DeviceIndex: -1,
		Logger:      zerolog.Nop(),
	})
	if err := b.Open(context.Background()); !errors.Is(err, ErrDeviceBusy) {
		t.Fatalf("expected ErrDeviceBusy, got %v", err)
	}
}
