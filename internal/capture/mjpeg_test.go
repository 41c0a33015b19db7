package capture

import (
	"bytes"
	"io"
	"testing"
)

func TestMJPEGReaderSplitsFrames(t *testing.T) {
	a := testJPEG(t, 32, 16)
	b := testJPEG(t, 8, 8)

	var stream bytes.Buffer
	stream.WriteString("junk before the first frame")
	stream.Write(a)
	stream.Write(b)

	r := newMJPEGReader(&stream)

	got, err := r.Next()
	if err != nil {
		t.Fatalf("first frame: %v", err)
	}
	if !bytes.Equal(got, a) {
		t.Fatalf("first frame mismatch: %d bytes, want %d", len(got), len(a))
	}
	w, h, err := jpegSize(got)
	if err != nil || w != 32 || h != 16 {
		t.Fatalf("jpegSize = %dx%d, %v", w, h, err)
	}

	got, err = r.Next()
	if err != nil {
		t.Fatalf("second frame: %v", err)
	}
	if !bytes.Equal(got, b) {
		t.Fatal("second frame mismatch")
	}

	if _, err := r.Next(); err != io.EOF {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestJPEGSizeRejectsGarbage(t *testing.T) {
	if _, _, err := jpegSize([]byte{0xFF, 0xD8, 0x00, 0xFF, 0xD9}); err == nil {
		t.Fatal("expected error for truncated jpeg")
	}
}
