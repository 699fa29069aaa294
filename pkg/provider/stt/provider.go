// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a real-time transcription service (e.g., Speechmatics
// or Deepgram) and exposes a uniform streaming interface. The caller hands the
// provider a sequential byte source, typically an [audio.Relay] fed by the
// capture callback or a raw PCM file, and receives results through a
// [Callbacks] value. Callbacks are invoked synchronously from the provider's
// receive loop, one at a time and in the order the service produced them.
//
// Implementations must be safe for concurrent use; each Transcribe call is an
// independent session.
package stt

import (
	"context"
	"errors"
	"io"

	"github.com/MrWong99/voxrelay/pkg/audio"
)

// ErrUnsupportedEncoding is returned when a provider cannot accept the
// configured sample encoding.
var ErrUnsupportedEncoding = errors.New("stt: unsupported audio encoding")

// StreamConfig describes the audio format and recognition hints for a new STT
// session.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz.
	SampleRate int

	// Channels is the number of interleaved channels in the byte source.
	// Most services expect 1; the capture path downmixes before writing.
	Channels int

	// Encoding is the sample encoding of the byte source.
	Encoding audio.Encoding

	// Language is the recognition language (e.g., "en", "de-DE"). Providers
	// that need a bare ISO 639-1 code strip the region themselves.
	Language string
}

// Format returns the audio format of the stream.
func (c StreamConfig) Format() audio.Format {
	return audio.Format{SampleRate: c.SampleRate, Channels: c.Channels, Encoding: c.Encoding}
}

// SessionInfo identifies one recognition session on the provider side.
type SessionInfo struct {
	// ID is the provider-assigned session or request identifier, if any.
	ID string

	// Provider is the short provider name (e.g., "speechmatics").
	Provider string
}

// Callbacks receives events from a running Transcribe call. Any field may be
// nil. All callbacks run on the provider's receive goroutine; a slow callback
// delays delivery of later events but never reorders them.
type Callbacks struct {
	// OnPartial receives interim hypotheses. They must not be treated as
	// authoritative.
	OnPartial func(Transcript)

	// OnFinal receives each committed utterance together with its word
	// observations.
	OnFinal func(Transcript)

	// OnSessionStarted fires once the service has accepted the stream.
	OnSessionStarted func(SessionInfo)

	// OnSessionStopped fires once the service has finished the stream,
	// whether it ended cleanly or not.
	OnSessionStopped func(SessionInfo)

	// OnCanceled fires when the session ends abnormally, with the reason.
	OnCanceled func(SessionInfo, error)
}

// Partial invokes OnPartial if set.
func (c Callbacks) Partial(t Transcript) {
	if c.OnPartial != nil {
		c.OnPartial(t)
	}
}

// Final invokes OnFinal if set.
func (c Callbacks) Final(t Transcript) {
	if c.OnFinal != nil {
		c.OnFinal(t)
	}
}

// Started invokes OnSessionStarted if set.
func (c Callbacks) Started(info SessionInfo) {
	if c.OnSessionStarted != nil {
		c.OnSessionStarted(info)
	}
}

// Stopped invokes OnSessionStopped if set.
func (c Callbacks) Stopped(info SessionInfo) {
	if c.OnSessionStopped != nil {
		c.OnSessionStopped(info)
	}
}

// Canceled invokes OnCanceled if set.
func (c Callbacks) Canceled(info SessionInfo, err error) {
	if c.OnCanceled != nil {
		c.OnCanceled(info, err)
	}
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe streams audio to the service until audio returns io.EOF and
	// the service has flushed its last result, or until ctx is cancelled or
	// the session fails.
	//
	// It returns nil after a clean end of stream. Reads from audio are not
	// interruptible by ctx; callers unblock them by closing the source.
	Transcribe(ctx context.Context, audio io.Reader, cfg StreamConfig, cb Callbacks) error
}
