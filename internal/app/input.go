package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/MrWong99/voxrelay/pkg/audio"
	"github.com/MrWong99/voxrelay/pkg/audio/device"
)

// fileChunk is the read size when streaming a PCM file.
const fileChunk = 32 * 1024

// Source produces the raw PCM that is transcribed.
type Source interface {
	// Format describes the bytes Stream writes.
	Format() audio.Format

	// Stream writes audio to w until the input is exhausted or ctx is done.
	// It returns nil in both cases; a write error from w ends the stream
	// and is returned unless it is [audio.ErrRelayClosed].
	Stream(ctx context.Context, w io.Writer) error
}

// MicSource streams an input device. Stereo float captures are downmixed to
// mono before they are written.
type MicSource struct {
	capture *device.Capture
	format  audio.Format
	downmix bool

	w       atomic.Pointer[io.Writer]
	dropped atomic.Int64
}

// OpenMic opens (but does not start) the capture device described by cfg.
func OpenMic(c *device.Context, cfg device.Config) (*MicSource, error) {
	m := &MicSource{}
	capture, err := device.OpenCapture(c, cfg, m.onFrame)
	if err != nil {
		return nil, err
	}
	m.capture = capture
	m.format = capture.Format()
	if m.format.Channels == 2 && m.format.Encoding == audio.EncodingF32LE {
		m.downmix = true
		m.format.Channels = 1
	}
	return m, nil
}

// Format implements [Source].
func (m *MicSource) Format() audio.Format { return m.format }

// Stream starts the device and forwards frames to w until ctx is done.
func (m *MicSource) Stream(ctx context.Context, w io.Writer) error {
	m.w.Store(&w)
	if err := m.capture.Start(); err != nil {
		m.w.Store(nil)
		return err
	}
	slog.Info("capturing", "device", m.capture.Name(), "format", m.format, "downmix", m.downmix)

	<-ctx.Done()
	err := m.capture.Stop()
	m.w.Store(nil)
	if n := m.dropped.Load(); n > 0 {
		slog.Debug("capture frames dropped after relay closed", "frames", n)
	}
	return err
}

// Close releases the device.
func (m *MicSource) Close() error { return m.capture.Close() }

// onFrame runs on the audio thread. Writing blocks while the relay is full.
func (m *MicSource) onFrame(f audio.AudioFrame) {
	wp := m.w.Load()
	if wp == nil {
		return
	}
	data := f.Data
	if m.downmix {
		data = audio.StereoToMonoF32(data)
	}
	if _, err := (*wp).Write(data); err != nil {
		m.dropped.Add(1)
	}
}

// FileSource streams a headerless PCM file as fast as the reader accepts it.
type FileSource struct {
	path   string
	format audio.Format
}

// NewFileSource returns a source for the PCM file at path in format f.
func NewFileSource(path string, f audio.Format) *FileSource {
	return &FileSource{path: path, format: f}
}

// Format implements [Source].
func (s *FileSource) Format() audio.Format { return s.format }

// Stream implements [Source].
func (s *FileSource) Stream(ctx context.Context, w io.Writer) error {
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("app: open input: %w", err)
	}
	defer f.Close()

	frame := s.format.FrameBytes()
	buf := make([]byte, fileChunk-fileChunk%max(frame, 1))
	var total int64
	for ctx.Err() == nil {
		n, rerr := io.ReadFull(f, buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				if errors.Is(err, audio.ErrRelayClosed) {
					return nil
				}
				return fmt.Errorf("app: stream input: %w", err)
			}
			total += int64(n)
		}
		if errors.Is(rerr, io.EOF) || errors.Is(rerr, io.ErrUnexpectedEOF) {
			break
		}
		if rerr != nil {
			return fmt.Errorf("app: read input: %w", rerr)
		}
	}
	slog.Info("input file streamed", "path", s.path, "bytes", total)
	return nil
}
