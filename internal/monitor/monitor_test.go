package monitor

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/petems/screenreview/internal/capture"
	"github.com/rs/zerolog"
)

type mockVideoOpener struct {
	available bool
	// gate, when set, holds Open until it is closed or ctx ends.
	gate chan struct{}
	// failAfter makes Read fail once that many frames were returned.
	failAfter int

	mu     sync.Mutex
	opened int
	closed int
}

func (m *mockVideoOpener) Name() string    { return "mock" }
func (m *mockVideoOpener) Available() bool { return m.available }

func (m *mockVideoOpener) Open(ctx context.Context, sel capture.VideoSelector, size capture.Size, fps float64) (capture.VideoSource, error) {
	if m.gate != nil {
		select {
		case <-m.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, image.NewGray(image.Rect(0, 0, size.Width, size.Height)), nil); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.opened++
	m.mu.Unlock()
	return &mockVideoSource{opener: m, data: buf.Bytes(), size: size, failAfter: m.failAfter}, nil
}

func (m *mockVideoOpener) counts() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opened, m.closed
}

type mockVideoSource struct {
	opener    *mockVideoOpener
	data      []byte
	size      capture.Size
	failAfter int
	reads     atomic.Int64
	once      sync.Once
}

func (m *mockVideoSource) Read() (capture.Frame, error) {
	if m.failAfter > 0 && m.reads.Load() >= int64(m.failAfter) {
		return capture.Frame{}, errors.New("device unplugged")
	}
	m.reads.Add(1)
	return capture.Frame{Data: m.data, Width: m.size.Width, Height: m.size.Height, At: time.Now()}, nil
}

func (m *mockVideoSource) Close() error {
	m.once.Do(func() {
		m.opener.mu.Lock()
		m.opener.closed++
		m.opener.mu.Unlock()
	})
	return nil
}

type mockAudioOpener struct {
	available bool
}

func (m *mockAudioOpener) Name() string    { return "mock" }
func (m *mockAudioOpener) Available() bool { return m.available }

func (m *mockAudioOpener) Open(deviceIndex int, spec capture.AudioSpec, onBlock capture.BlockFunc) (capture.AudioStream, error) {
	return &mockAudioStream{onBlock: onBlock}, nil
}

type mockAudioStream struct {
	onBlock capture.BlockFunc
	stop    chan struct{}
	wg      sync.WaitGroup
}

func (m *mockAudioStream) Start() error {
	m.stop = make(chan struct{})
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		block := []float32{0.25, -0.25, 0.25, -0.25}
		for {
			select {
			case <-m.stop:
				return
			case <-time.After(5 * time.Millisecond):
				m.onBlock(block, 1)
			}
		}
	}()
	return nil
}

func (m *mockAudioStream) Close() error {
	close(m.stop)
	m.wg.Wait()
	return nil
}

func testOptions(reg *capture.DeviceRegistry, video capture.VideoOpener, audio capture.AudioOpener) Options {
	return Options{
		VideoOpener:  video,
		AudioOpeners: []capture.AudioOpener{audio},
		Registry:     reg,
		Tuning:       capture.Tuning{PrewarmFrames: 1, PrewarmBlocks: 1, MaxReadFailures: 1000},
		AudioSpec:    capture.AudioSpec{SampleRate: 16000, Channels: 1, FramesPerBuffer: 160},
		OpenTimeout:  time.Second,
		JoinTimeout:  time.Second,
		Logger:       zerolog.Nop(),
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestCameraMonitorSafeBeforeStart(t *testing.T) {
	m := NewCameraMonitor(testOptions(capture.NewDeviceRegistry(), &mockVideoOpener{available: true}, &mockAudioOpener{}))

	if m.IsRunning() {
		t.Fatal("expected not running")
	}
	if _, ok := m.LastFrame(); ok {
		t.Fatal("expected no frame")
	}
	if m.LastError() != "" {
		t.Fatalf("expected no error, got %q", m.LastError())
	}
	m.Stop()
	m.Stop()
}

func TestCameraMonitorPublishesFrames(t *testing.T) {
	reg := capture.NewDeviceRegistry()
	m := NewCameraMonitor(testOptions(reg, &mockVideoOpener{available: true}, &mockAudioOpener{}))

	sel := capture.VideoSelector{Index: 1}
	m.Start(sel, capture.Size{Width: 32, Height: 24}, 60)
	waitFor(t, func() bool {
		f, ok := m.LastFrame()
		return ok && f.Width == 32
	})
	if !m.IsRunning() {
		t.Fatal("expected running")
	}
	if !reg.Held(sel.Key()) {
		t.Fatal("expected camera held")
	}

	m.Stop()
	if m.IsRunning() {
		t.Fatal("expected stopped")
	}
	if reg.Held(sel.Key()) {
		t.Fatal("camera still held after stop")
	}
	if _, ok := m.LastFrame(); ok {
		t.Fatal("expected no frame after stop")
	}
}

func TestCameraMonitorRestartDoesNotLeak(t *testing.T) {
	reg := capture.NewDeviceRegistry()
	opener := &mockVideoOpener{available: true}
	m := NewCameraMonitor(testOptions(reg, opener, &mockAudioOpener{}))

	for i := 0; i < 10; i++ {
		m.Start(capture.VideoSelector{Index: i % 2}, capture.Size{Width: 16, Height: 16}, 60)
		if i%3 == 0 {
			waitFor(t, m.IsRunning)
		}
	}
	m.Stop()

	waitFor(t, func() bool {
		opened, closed := opener.counts()
		return opened == closed
	})
	if reg.Held("video:0") || reg.Held("video:1") {
		t.Fatal("camera handles leaked")
	}
}

func TestCameraMonitorUnavailable(t *testing.T) {
	m := NewCameraMonitor(testOptions(capture.NewDeviceRegistry(), &mockVideoOpener{}, &mockAudioOpener{}))

	m.Start(capture.VideoSelector{}, capture.Size{Width: 16, Height: 16}, 15)
	waitFor(t, func() bool { return m.LastError() != "" })
	if m.IsRunning() {
		t.Fatal("expected not running")
	}
	m.Stop()
}

func TestCameraMonitorBusyDevice(t *testing.T) {
	reg := capture.NewDeviceRegistry()
	release, _ := reg.Acquire(capture.VideoSelector{Index: 0}.Key())
	defer release()

	m := NewCameraMonitor(testOptions(reg, &mockVideoOpener{available: true}, &mockAudioOpener{}))
	m.Start(capture.VideoSelector{Index: 0}, capture.Size{Width: 16, Height: 16}, 15)
	waitFor(t, func() bool { return m.LastError() != "" })
	m.Stop()
}

func TestMicMonitorLevel(t *testing.T) {
	reg := capture.NewDeviceRegistry()
	m := NewMicMonitor(testOptions(reg, &mockVideoOpener{}, &mockAudioOpener{available: true}))

	if m.LastLevel() != 0 || m.IsRunning() {
		t.Fatal("expected idle monitor")
	}

	m.Start(-1)
	waitFor(t, func() bool { return m.LastLevel() > 0 })
	if !m.IsRunning() {
		t.Fatal("expected running")
	}
	if !reg.Held(capture.AudioKey(-1)) {
		t.Fatal("expected mic held")
	}

	m.Start(2)
	if reg.Held(capture.AudioKey(-1)) {
		t.Fatal("previous mic must be released on restart")
	}
	waitFor(t, func() bool { return reg.Held(capture.AudioKey(2)) })

	m.Stop()
	if m.LastLevel() != 0 {
		t.Fatal("expected zero level after stop")
	}
	if reg.Held(capture.AudioKey(2)) {
		t.Fatal("mic still held after stop")
	}
}

func TestMicMonitorUnavailable(t *testing.T) {
	m := NewMicMonitor(testOptions(capture.NewDeviceRegistry(), &mockVideoOpener{}, &mockAudioOpener{}))
	m.Start(0)
	waitFor(t, func() bool { return m.LastError() != "" })
	if m.IsRunning() {
		t.Fatal("expected not running")
	}
	m.Stop()
}

func TestCameraMonitorNotRunningWhileOpenPending(t *testing.T) {
	opener := &mockVideoOpener{available: true, gate: make(chan struct{})}
	m := NewCameraMonitor(testOptions(capture.NewDeviceRegistry(), opener, &mockAudioOpener{}))
	defer m.Stop()

	m.Start(capture.VideoSelector{}, capture.Size{Width: 16, Height: 16}, 60)
	time.Sleep(50 * time.Millisecond)
	if m.IsRunning() {
		t.Fatal("monitor reported running before the camera opened")
	}
	if m.LastError() != "" {
		t.Fatalf("pending open is not an error, got %q", m.LastError())
	}

	close(opener.gate)
	waitFor(t, m.IsRunning)
}

func TestCameraMonitorFailedCameraHidesFrame(t *testing.T) {
	opts := testOptions(capture.NewDeviceRegistry(), &mockVideoOpener{available: true, failAfter: 5}, &mockAudioOpener{})
	opts.Tuning.MaxReadFailures = 3
	m := NewCameraMonitor(opts)
	defer m.Stop()

	m.Start(capture.VideoSelector{}, capture.Size{Width: 16, Height: 16}, 100)
	waitFor(t, func() bool { return m.LastError() != "" })

	if m.IsRunning() {
		t.Fatal("failed camera reported as running")
	}
	if _, ok := m.LastFrame(); ok {
		t.Fatal("failed camera must not serve its last frame")
	}
}
