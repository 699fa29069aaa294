// Package mock provides test doubles for the stt package interfaces.
//
// Provider drains the audio source it is given, records the bytes, and then
// replays a scripted list of Transcript values through the callbacks. Use it
// to drive the pipeline without a live transcription service.
//
// Example:
//
//	p := &mock.Provider{
//	    Finals: []stt.Transcript{{Text: "hello world", IsFinal: true}},
//	}
//	err := p.Transcribe(ctx, relay, cfg, callbacks)
package mock

import (
	"context"
	"io"
	"sync"

	"github.com/MrWong99/voxrelay/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	// Cfg is the StreamConfig passed to Transcribe.
	Cfg stt.StreamConfig
	// Audio is every byte read from the audio source.
	Audio []byte
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Partials are delivered through OnPartial before any final.
	Partials []stt.Transcript

	// Finals are delivered through OnFinal in order.
	Finals []stt.Transcript

	// EmitBeforeEOF delivers the scripted transcripts as soon as the session
	// starts rather than after the audio source is exhausted.
	EmitBeforeEOF bool

	// SessionID is reported through OnSessionStarted and OnSessionStopped.
	SessionID string

	// TranscribeErr, if non-nil, is returned by Transcribe after the
	// transcripts were delivered, and reported through OnCanceled.
	TranscribeErr error

	// TranscribeCalls records every call to Transcribe.
	TranscribeCalls []TranscribeCall
}

// Transcribe records the call, drains audio and emits the scripted results.
// It honours ctx cancellation between reads.
func (p *Provider) Transcribe(ctx context.Context, audio io.Reader, cfg stt.StreamConfig, cb stt.Callbacks) error {
	p.mu.Lock()
	partials := append([]stt.Transcript(nil), p.Partials...)
	finals := append([]stt.Transcript(nil), p.Finals...)
	early := p.EmitBeforeEOF
	info := stt.SessionInfo{ID: p.SessionID, Provider: "mock"}
	retErr := p.TranscribeErr
	p.mu.Unlock()

	cb.Started(info)
	emit := func() {
		for _, t := range partials {
			cb.Partial(t)
		}
		for _, t := range finals {
			cb.Final(t)
		}
	}
	if early {
		emit()
	}

	var got []byte
	_, err := stt.SendChunks(ctx, audio, 0, func(b []byte) error {
		got = append(got, b...)
		return nil
	})

	p.mu.Lock()
	p.TranscribeCalls = append(p.TranscribeCalls, TranscribeCall{Cfg: cfg, Audio: got})
	p.mu.Unlock()

	if err != nil {
		cb.Canceled(info, err)
		cb.Stopped(info)
		return err
	}
	if !early {
		emit()
	}
	if retErr != nil {
		cb.Canceled(info, retErr)
	}
	cb.Stopped(info)
	return retErr
}

// Calls returns a copy of the recorded calls. Thread-safe.
func (p *Provider) Calls() []TranscribeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]TranscribeCall(nil), p.TranscribeCalls...)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.TranscribeCalls = nil
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)
