package cli

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/petems/screenreview/internal/queue"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "00:00"},
		{1500 * time.Millisecond, "00:02"},
		{75 * time.Second, "01:15"},
		{time.Hour + 2*time.Minute + 3*time.Second, "1:02:03"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.in); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMeterClamps(t *testing.T) {
	if got := meter(-1, 4); got != "····" {
		t.Errorf("meter(-1) = %q", got)
	}
	if got := meter(0.5, 4); got != "██··" {
		t.Errorf("meter(0.5) = %q", got)
	}
	if got := meter(3, 4); got != "████" {
		t.Errorf("meter(3) = %q", got)
	}
}

func TestFormatterEvents(t *testing.T) {
	var buf bytes.Buffer
	f := newFormatter(&buf)

	f.event(queue.Event{Kind: queue.EventProgress, UnitID: "home",
		Progress: queue.Progress{UnitID: "home", Completed: 1, Total: 3, Label: "Finished verify_artifacts"}})
	f.event(queue.Event{Kind: queue.EventFail, UnitID: "home", Err: "inspect_audio: bad header"})

	out := buf.String()
	if !strings.Contains(out, "[home 1/3] Finished verify_artifacts") {
		t.Errorf("missing progress line in %q", out)
	}
	if !strings.Contains(out, "home failed: inspect_audio: bad header") {
		t.Errorf("missing failure line in %q", out)
	}
}

func TestRootCommands(t *testing.T) {
	root := NewRootCmd(&Dependencies{Version: "dev", Commit: "abc"})
	want := map[string]bool{"doctor": false, "devices": false, "record": false, "monitor": false}
	for _, c := range root.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("missing command %q", name)
		}
	}
}
