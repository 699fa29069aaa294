// Package device opens local audio hardware through miniaudio (malgo).
//
// A [Context] owns the miniaudio backend and is shared by one [Capture] and
// one [Playback] per session. Devices are chosen by name or ID from
// configuration; an empty selector picks the system default.
package device

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/voxrelay/pkg/audio"
)

// ErrDeviceNotFound is returned when a configured device name or ID matches no
// device of the requested kind.
var ErrDeviceNotFound = errors.New("device: not found")

// Config selects and configures one device.
type Config struct {
	// Device is a device name or ID. Empty selects the system default.
	Device string

	// SampleRate in Hz. Zero lets the backend choose.
	SampleRate int

	// Channels requested. Zero lets the backend choose.
	Channels int
}

// Context wraps a miniaudio context.
type Context struct {
	mctx *malgo.AllocatedContext
}

// NewContext initialises the default miniaudio backends. Backend log messages
// are forwarded to slog at debug level.
func NewContext() (*Context, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(msg string) {
		slog.Debug("miniaudio", "msg", strings.TrimSpace(msg))
	})
	if err != nil {
		return nil, fmt.Errorf("device: init context: %w", err)
	}
	return &Context{mctx: mctx}, nil
}

// Close releases the miniaudio context. Devices opened from it must be closed
// first.
func (c *Context) Close() error {
	if c == nil || c.mctx == nil {
		return nil
	}
	err := c.mctx.Uninit()
	c.mctx.Free()
	c.mctx = nil
	if err != nil {
		return fmt.Errorf("device: uninit context: %w", err)
	}
	return nil
}

// candidate is the subset of [malgo.DeviceInfo] used for selection.
type candidate struct {
	id   string
	name string
}

// selectDevice returns the index of the candidate whose ID or name equals want
// (case-insensitive for names), or -1.
func selectDevice(cands []candidate, want string) int {
	for i, c := range cands {
		if c.id == want {
			return i
		}
	}
	for i, c := range cands {
		if strings.EqualFold(c.name, want) {
			return i
		}
	}
	return -1
}

// lookup resolves a selector to a device info. An empty selector returns
// ok == false and no error so the caller keeps the default device.
func (c *Context) lookup(kind malgo.DeviceType, want string) (info malgo.DeviceInfo, ok bool, err error) {
	if want == "" {
		return info, false, nil
	}
	infos, err := c.mctx.Devices(kind)
	if err != nil {
		return info, false, fmt.Errorf("device: list devices: %w", err)
	}
	cands := make([]candidate, len(infos))
	for i, inf := range infos {
		cands[i] = candidate{id: inf.ID.String(), name: inf.Name()}
	}
	idx := selectDevice(cands, want)
	if idx < 0 {
		return info, false, fmt.Errorf("%w: %q", ErrDeviceNotFound, want)
	}
	return infos[idx], true, nil
}

// encodingOf maps a miniaudio sample format to an [audio.Encoding].
func encodingOf(f malgo.FormatType) (audio.Encoding, error) {
	switch f {
	case malgo.FormatF32:
		return audio.EncodingF32LE, nil
	case malgo.FormatS16:
		return audio.EncodingS16LE, nil
	default:
		return "", fmt.Errorf("device: unsupported sample format %d", f)
	}
}

// formatOf maps an [audio.Encoding] to a miniaudio sample format.
func formatOf(e audio.Encoding) malgo.FormatType {
	if e == audio.EncodingS16LE {
		return malgo.FormatS16
	}
	return malgo.FormatF32
}
