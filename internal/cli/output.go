package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/petems/screenreview/internal/queue"
)

// formatter prints user-facing lines. Logs go to the log file, not here.
type formatter struct {
	w io.Writer
}

func newFormatter(w io.Writer) *formatter {
	return &formatter{w: w}
}

func (f *formatter) check(name string, ok bool, detail string) {
	mark := "✅"
	if !ok {
		mark = "❌"
	}
	fmt.Fprintf(f.w, "%s %-14s %s\n", mark, name, detail)
}

func (f *formatter) info(format string, args ...any) {
	fmt.Fprintf(f.w, "ℹ️  "+format+"\n", args...)
}

func (f *formatter) warn(format string, args ...any) {
	fmt.Fprintf(f.w, "⚠️  "+format+"\n", args...)
}

func (f *formatter) success(format string, args ...any) {
	fmt.Fprintf(f.w, "✅ "+format+"\n", args...)
}

func (f *formatter) recordingTick(elapsed time.Duration, level float64, paused bool) {
	state := "●"
	if paused {
		state = "‖"
	}
	fmt.Fprintf(f.w, "\r%s %s  mic %s", state, formatDuration(elapsed), meter(level, 20))
}

func (f *formatter) endLine() {
	fmt.Fprintln(f.w)
}

func (f *formatter) event(e queue.Event) {
	switch e.Kind {
	case queue.EventProgress:
		fmt.Fprintf(f.w, "   [%s %d/%d] %s\n", e.UnitID, e.Progress.Completed, e.Progress.Total, e.Progress.Label)
	case queue.EventComplete:
		fmt.Fprintf(f.w, "✅ %s processed\n", e.UnitID)
	case queue.EventFail:
		fmt.Fprintf(f.w, "❌ %s failed: %s\n", e.UnitID, e.Err)
	case queue.EventCost:
		fmt.Fprintf(f.w, "   cost %.4f\n", e.Cost.Total)
	}
}

func meter(level float64, width int) string {
	if level < 0 {
		level = 0
	}
	if level > 1 {
		level = 1
	}
	filled := int(level*float64(width) + 0.5)
	out := make([]rune, width)
	for i := range out {
		if i < filled {
			out[i] = '█'
		} else {
			out[i] = '·'
		}
	}
	return string(out)
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

// consoleStatus reports app status changes on the terminal.
type consoleStatus struct {
	f *formatter
}

func (s consoleStatus) SetIdle()       { s.f.info("idle") }
func (s consoleStatus) SetRecording()  { s.f.info("recording") }
func (s consoleStatus) SetPaused()     { s.f.info("paused") }
func (s consoleStatus) SetProcessing() { s.f.info("processing") }
func (s consoleStatus) SetError()      { s.f.warn("error, see log for details") }
