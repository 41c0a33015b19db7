package capture

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// PlaceholderSilentFrames is the number of silent frames in a placeholder
// audio file: 100 ms at 16 kHz.
const PlaceholderSilentFrames = 1600

const wavHeaderSize = 44

// WAVWriter streams 16-bit PCM samples into a RIFF/WAVE file. The size fields
// are written as zero up front and patched on Close.
type WAVWriter struct {
	f        *os.File
	buf      *bufio.Writer
	rate     int
	channels int
	dataLen  int64
	closed   bool
}

// NewWAVWriter creates path and writes a provisional header.
func NewWAVWriter(path string, rate, channels int) (*WAVWriter, error) {
	if rate <= 0 || channels <= 0 {
		return nil, fmt.Errorf("invalid wav format: rate=%d channels=%d", rate, channels)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create wav: %w", err)
	}
	w := &WAVWriter{f: f, buf: bufio.NewWriter(f), rate: rate, channels: channels}
	if err := writeWAVHeader(w.buf, rate, channels, 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("write wav header: %w", err)
	}
	return w, nil
}

// WriteSamples appends interleaved samples.
func (w *WAVWriter) WriteSamples(samples []int16) error {
	if w.closed {
		return errors.New("wav writer closed")
	}
	if err := binary.Write(w.buf, binary.LittleEndian, samples); err != nil {
		return err
	}
	w.dataLen += int64(len(samples)) * 2
	return nil
}

// Frames returns the number of sample frames written so far.
func (w *WAVWriter) Frames() int64 {
	return w.dataLen / int64(2*w.channels)
}

// Close flushes buffered samples, patches the RIFF and data sizes and closes
// the file.
func (w *WAVWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.buf.Flush(); err != nil {
		w.f.Close()
		return fmt.Errorf("flush wav: %w", err)
	}
	if _, err := w.f.Seek(0, io.SeekStart); err != nil {
		w.f.Close()
		return fmt.Errorf("seek wav: %w", err)
	}
	if err := writeWAVHeader(w.f, w.rate, w.channels, uint32(w.dataLen)); err != nil {
		w.f.Close()
		return fmt.Errorf("patch wav header: %w", err)
	}
	return w.f.Close()
}

func writeWAVHeader(out io.Writer, rate, channels int, dataLen uint32) error {
	blockAlign := uint16(channels * 2)
	hdr := struct {
		RIFF          [4]byte
		ChunkSize     uint32
		WAVE          [4]byte
		Fmt           [4]byte
		FmtSize       uint32
		AudioFormat   uint16
		Channels      uint16
		SampleRate    uint32
		ByteRate      uint32
		BlockAlign    uint16
		BitsPerSample uint16
		Data          [4]byte
		DataSize      uint32
	}{
		RIFF:          [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataLen,
		WAVE:          [4]byte{'W', 'A', 'V', 'E'},
		Fmt:           [4]byte{'f', 'm', 't', ' '},
		FmtSize:       16,
		AudioFormat:   1,
		Channels:      uint16(channels),
		SampleRate:    uint32(rate),
		ByteRate:      uint32(rate) * uint32(blockAlign),
		BlockAlign:    blockAlign,
		BitsPerSample: 16,
		Data:          [4]byte{'d', 'a', 't', 'a'},
		DataSize:      dataLen,
	}
	return binary.Write(out, binary.LittleEndian, hdr)
}

// WriteSilentWAV writes a mono 16-bit file holding frames silent frames.
func WriteSilentWAV(path string, rate, frames int) error {
	w, err := NewWAVWriter(path, rate, 1)
	if err != nil {
		return err
	}
	if err := w.WriteSamples(make([]int16, frames)); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// WAVInfo is the format summary read back from a WAV header.
type WAVInfo struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
	DataBytes     int64
}

// Frames returns the number of sample frames in the data chunk.
func (i WAVInfo) Frames() int64 {
	frameBytes := int64(i.Channels * i.BitsPerSample / 8)
	if frameBytes == 0 {
		return 0
	}
	return i.DataBytes / frameBytes
}

// Seconds returns the audio duration in seconds.
func (i WAVInfo) Seconds() float64 {
	if i.SampleRate == 0 {
		return 0
	}
	return float64(i.Frames()) / float64(i.SampleRate)
}

// ReadWAVInfo parses the canonical 44-byte header written by WAVWriter, and
// walks chunks for files that carry extra ones before "data".
func ReadWAVInfo(path string) (WAVInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return WAVInfo{}, err
	}
	defer f.Close()

	var riff [12]byte
	if _, err := io.ReadFull(f, riff[:]); err != nil {
		return WAVInfo{}, fmt.Errorf("read riff header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return WAVInfo{}, errors.New("not a RIFF/WAVE file")
	}

	var info WAVInfo
	haveFmt := false
	for {
		var chunk [8]byte
		if _, err := io.ReadFull(f, chunk[:]); err != nil {
			return WAVInfo{}, fmt.Errorf("data chunk not found: %w", err)
		}
		size := int64(binary.LittleEndian.Uint32(chunk[4:8]))
		switch string(chunk[0:4]) {
		case "fmt ":
			body := make([]byte, size)
			if _, err := io.ReadFull(f, body); err != nil {
				return WAVInfo{}, fmt.Errorf("read fmt chunk: %w", err)
			}
			if size < 16 {
				return WAVInfo{}, errors.New("short fmt chunk")
			}
			info.Channels = int(binary.LittleEndian.Uint16(body[2:4]))
			info.SampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			info.BitsPerSample = int(binary.LittleEndian.Uint16(body[14:16]))
			haveFmt = true
		case "data":
			if !haveFmt {
				return WAVInfo{}, errors.New("data chunk before fmt chunk")
			}
			info.DataBytes = size
			return info, nil
		default:
			if _, err := f.Seek(size+size%2, io.SeekCurrent); err != nil {
				return WAVInfo{}, err
			}
		}
	}
}
