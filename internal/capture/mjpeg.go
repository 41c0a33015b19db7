package capture

import (
	"bufio"
	"bytes"
	"fmt"
	"image/jpeg"
	"io"
)

// maxJPEGSize bounds a single frame so a corrupt stream cannot grow the
// buffer without limit.
const maxJPEGSize = 32 << 20

// mjpegReader splits a concatenated MJPEG byte stream into JPEG images using
// the SOI (FFD8) and EOI (FFD9) markers.
type mjpegReader struct {
	r   *bufio.Reader
	buf bytes.Buffer
}

func newMJPEGReader(r io.Reader) *mjpegReader {
	return &mjpegReader{r: bufio.NewReaderSize(r, 256<<10)}
}

// Next returns the next complete JPEG image.
func (m *mjpegReader) Next() ([]byte, error) {
	var prev byte
	started := false
	m.buf.Reset()

	for {
		b, err := m.r.ReadByte()
		if err != nil {
			return nil, err
		}

		if !started {
			if prev == 0xFF && b == 0xD8 {
				started = true
				m.buf.Write([]byte{0xFF, 0xD8})
			}
			prev = b
			continue
		}

		m.buf.WriteByte(b)
		if prev == 0xFF && b == 0xD9 {
			out := make([]byte, m.buf.Len())
			copy(out, m.buf.Bytes())
			return out, nil
		}
		if m.buf.Len() > maxJPEGSize {
			return nil, fmt.Errorf("mjpeg frame exceeds %d bytes", maxJPEGSize)
		}
		prev = b
	}
}

// jpegSize decodes only the JPEG header to get the real frame dimensions.
func jpegSize(data []byte) (int, int, error) {
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, fmt.Errorf("decode jpeg header: %w", err)
	}
	return cfg.Width, cfg.Height, nil
}
