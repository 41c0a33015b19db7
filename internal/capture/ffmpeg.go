package capture

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

const ffmpegBinary = "ffmpeg"

// FFmpegOpener captures from a camera or stream URL through an ffmpeg
// subprocess that emits MJPEG on stdout.
type FFmpegOpener struct {
	Binary string
}

// NewFFmpegOpener returns an opener using the ffmpeg found on PATH.
func NewFFmpegOpener() *FFmpegOpener {
	return &FFmpegOpener{Binary: ffmpegBinary}
}

func (o *FFmpegOpener) Name() string { return "ffmpeg" }

func (o *FFmpegOpener) binary() string {
	if o.Binary == "" {
		return ffmpegBinary
	}
	return o.Binary
}

// Available reports whether the ffmpeg binary can be found.
func (o *FFmpegOpener) Available() bool {
	_, err := exec.LookPath(o.binary())
	return err == nil
}

// Open starts ffmpeg and waits for the first frame so a missing or busy
// device is reported here rather than on the first Read.
func (o *FFmpegOpener) Open(ctx context.Context, sel VideoSelector, size Size, fps float64) (VideoSource, error) {
	if !o.Available() {
		return nil, fmt.Errorf("ffmpeg not found on PATH: %w", ErrUnavailable)
	}

	input, err := inputArgs(sel, size, fps)
	if err != nil {
		return nil, err
	}

	args := []string{"-hide_banner", "-loglevel", "error", "-nostdin"}
	args = append(args, input...)
	args = append(args,
		"-an",
		"-r", formatFPS(fps),
		"-f", "image2pipe",
		"-c:v", "mjpeg",
		"-q:v", "5",
		"pipe:1",
	)

	cmd := exec.Command(o.binary(), args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	stderr := &limitedWriter{n: 4096}
	cmd.Stderr = stderr

	// Only process startup is serialized; the first-frame wait below is not.
	if _, err := withOpenLock(func() (*exec.Cmd, error) { return cmd, cmd.Start() }); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	src := &ffmpegSource{
		cmd:    cmd,
		frames: newMJPEGReader(stdout),
		stderr: stderr,
	}

	// The first frame proves the device opened. Wait for it within ctx.
	first := make(chan error, 1)
	go func() {
		f, err := src.readFrame()
		if err == nil {
			src.pending = &f
		}
		first <- err
	}()

	select {
	case err := <-first:
		if err != nil {
			src.Close()
			return nil, fmt.Errorf("open %s: %w (%s)", sel, err, stderr.String())
		}
	case <-ctx.Done():
		src.Close()
		<-first
		return nil, fmt.Errorf("open %s: %w", sel, ctx.Err())
	}

	return src, nil
}

func inputArgs(sel VideoSelector, size Size, fps float64) ([]string, error) {
	if sel.URL != "" {
		args := []string{}
		if strings.HasPrefix(sel.URL, "rtsp://") {
			args = append(args, "-rtsp_transport", "tcp")
		}
		return append(args, "-i", sel.URL), nil
	}

	var args []string
	switch runtime.GOOS {
	case "darwin":
		args = []string{
			"-f", "avfoundation",
			"-framerate", formatFPS(fps),
			"-video_size", size.String(),
			"-i", strconv.Itoa(sel.Index) + ":none",
		}
	case "windows":
		if sel.Name == "" {
			return nil, fmt.Errorf("dshow capture needs a device name for camera %d", sel.Index)
		}
		args = []string{
			"-f", "dshow",
			"-framerate", formatFPS(fps),
			"-video_size", size.String(),
			"-i", "video=" + sel.Name,
		}
	default:
		device := "/dev/video" + strconv.Itoa(sel.Index)
		if sel.Name != "" {
			device = sel.Name
		}
		args = []string{
			"-f", "v4l2",
			"-framerate", formatFPS(fps),
			"-video_size", size.String(),
			"-i", device,
		}
	}
	return args, nil
}

func formatFPS(fps float64) string {
	if fps <= 0 {
		fps = 15
	}
	return strconv.FormatFloat(fps, 'f', -1, 64)
}

type ffmpegSource struct {
	cmd     *exec.Cmd
	frames  *mjpegReader
	stderr  *limitedWriter
	pending *Frame
	seq     int64

	closeOnce sync.Once
}

func (s *ffmpegSource) readFrame() (Frame, error) {
	data, err := s.frames.Next()
	if err != nil {
		return Frame{}, err
	}
	w, h, err := jpegSize(data)
	if err != nil {
		return Frame{}, err
	}
	s.seq++
	return Frame{Data: data, Width: w, Height: h, Seq: s.seq, At: time.Now()}, nil
}

func (s *ffmpegSource) Read() (Frame, error) {
	if s.pending != nil {
		f := *s.pending
		s.pending = nil
		return f, nil
	}
	return s.readFrame()
}

func (s *ffmpegSource) Close() error {
	s.closeOnce.Do(func() {
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		_ = s.cmd.Wait()
	})
	return nil
}

// encoderLists caches the encoder list per ffmpeg binary.
var (
	encoderListsMu sync.Mutex
	encoderLists   = map[string]*cachedProbe[map[string]bool]{}
)

func encoderListFor(binary string) *cachedProbe[map[string]bool] {
	encoderListsMu.Lock()
	defer encoderListsMu.Unlock()
	p, ok := encoderLists[binary]
	if !ok {
		p = newCachedProbe(func() (map[string]bool, error) {
			return listEncoders(binary)
		})
		encoderLists[binary] = p
	}
	return p
}

func listEncoders(binary string) (map[string]bool, error) {
	out, err := exec.Command(binary, "-hide_banner", "-encoders").Output()
	if err != nil {
		return nil, fmt.Errorf("list ffmpeg encoders: %w", err)
	}
	return parseEncoders(bytes.NewReader(out)), nil
}

// parseEncoders reads `ffmpeg -encoders` output. Encoder lines start with a
// six character flag column such as " V....D libx264  ...".
func parseEncoders(r io.Reader) map[string]bool {
	encoders := make(map[string]bool)
	sc := bufio.NewScanner(r)
	inList := false
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if strings.HasPrefix(line, "------") {
			inList = true
			continue
		}
		if !inList {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 || len(fields[0]) != 6 {
			continue
		}
		encoders[fields[1]] = true
	}
	return encoders
}

// FFmpegEncoder is the Codec(name) encoding strategy.
type FFmpegEncoder struct {
	// Binary defaults to the ffmpeg on PATH.
	Binary       string
	Codec        string
	PixFmt       string
	Extra        []string
	CloseTimeout time.Duration

	// hasEncoder is swapped in tests; nil uses the cached ffmpeg probe.
	hasEncoder func(codec string) bool
}

// Codec builds the strategy for one ffmpeg encoder.
func Codec(name string) *FFmpegEncoder {
	e := &FFmpegEncoder{Codec: name, PixFmt: "yuv420p", CloseTimeout: 5 * time.Second}
	switch name {
	case "libx264":
		e.Extra = []string{"-preset", "ultrafast", "-tune", "zerolatency"}
	case "mjpeg":
		e.PixFmt = "yuvj420p"
		e.Extra = []string{"-q:v", "5"}
	}
	return e
}

// DefaultEncoders is the ordered fallback list used by the recorder. An empty
// binary means the ffmpeg on PATH.
func DefaultEncoders(binary string, closeTimeout time.Duration) []EncoderStrategy {
	names := []string{"libx264", "mpeg4", "mjpeg"}
	out := make([]EncoderStrategy, 0, len(names))
	for _, n := range names {
		e := Codec(n)
		e.Binary = binary
		if closeTimeout > 0 {
			e.CloseTimeout = closeTimeout
		}
		out = append(out, e)
	}
	return out
}

func (e *FFmpegEncoder) Name() string { return "ffmpeg:" + e.Codec }

func (e *FFmpegEncoder) binary() string {
	if e.Binary == "" {
		return ffmpegBinary
	}
	return e.Binary
}

func (e *FFmpegEncoder) available() bool {
	if e.hasEncoder != nil {
		return e.hasEncoder(e.Codec)
	}
	set, err := encoderListFor(e.binary()).Get()
	return err == nil && set[e.Codec]
}

// TryOpen starts an ffmpeg encoder reading MJPEG frames from stdin. It fails
// when the codec is not compiled into the local ffmpeg.
func (e *FFmpegEncoder) TryOpen(path string, size Size, fps float64) (FrameWriter, bool) {
	if !e.available() {
		return nil, false
	}

	args := []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-f", "image2pipe",
		"-c:v", "mjpeg",
		"-framerate", formatFPS(fps),
		"-i", "pipe:0",
		"-vf", fmt.Sprintf("scale=%d:%d", size.Width, size.Height),
		"-c:v", e.Codec,
		"-pix_fmt", e.PixFmt,
	}
	args = append(args, e.Extra...)
	args = append(args, path)

	cmd := exec.Command(e.binary(), args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, false
	}
	stderr := &limitedWriter{n: 4096}
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		return nil, false
	}

	w := &ffmpegWriter{
		cmd:          cmd,
		stdin:        stdin,
		stderr:       stderr,
		closeTimeout: e.CloseTimeout,
		exited:       make(chan struct{}),
	}
	go func() {
		w.waitErr = cmd.Wait()
		close(w.exited)
	}()
	return w, true
}

type ffmpegWriter struct {
	cmd          *exec.Cmd
	stdin        io.WriteCloser
	stderr       *limitedWriter
	closeTimeout time.Duration

	// exited is closed once the process is reaped; waitErr is valid after.
	exited  chan struct{}
	waitErr error
}

// Write fails with ffmpeg's own error text once the encoder has exited.
func (w *ffmpegWriter) Write(f Frame) error {
	select {
	case <-w.exited:
		return w.exitError()
	default:
	}
	if _, err := w.stdin.Write(f.Data); err != nil {
		select {
		case <-w.exited:
			return w.exitError()
		case <-time.After(100 * time.Millisecond):
		}
		return fmt.Errorf("write to encoder: %w (%s)", err, w.stderr.String())
	}
	return nil
}

func (w *ffmpegWriter) exitError() error {
	msg := w.stderr.String()
	if w.waitErr == nil {
		return fmt.Errorf("encoder exited early (%s)", msg)
	}
	return fmt.Errorf("encoder exited: %w (%s)", w.waitErr, msg)
}

// Close ends the input so ffmpeg flushes and writes the container trailer,
// then waits for it. A hung encoder is killed after closeTimeout.
func (w *ffmpegWriter) Close() error {
	_ = w.stdin.Close()

	select {
	case <-w.exited:
		if w.waitErr != nil {
			return fmt.Errorf("encoder: %w (%s)", w.waitErr, w.stderr.String())
		}
		return nil
	case <-time.After(w.closeTimeout):
		_ = w.cmd.Process.Kill()
		<-w.exited
		return fmt.Errorf("encoder did not finish within %s", w.closeTimeout)
	}
}

// limitedWriter keeps at most n bytes of subprocess stderr.
type limitedWriter struct {
	mu  sync.Mutex
	buf bytes.Buffer
	n   int
}

func (l *limitedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.n <= 0 {
		return len(p), nil
	}
	chunk := p
	if len(chunk) > l.n {
		chunk = chunk[:l.n]
	}
	l.n -= len(chunk)
	l.buf.Write(chunk)
	return len(p), nil
}

func (l *limitedWriter) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return strings.TrimSpace(l.buf.String())
}
