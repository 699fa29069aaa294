// Package mock provides an in-memory implementation of [audio.Sink] for use
// in unit tests.
//
// The mock is safe for concurrent use. It records every byte written and every
// Wait call so tests can assert on what would have been played.
//
// Typical usage:
//
//	sink := &mock.Sink{SinkFormat: audio.Format{SampleRate: 16000, Channels: 1, Encoding: audio.EncodingS16LE}}
//	err := speaker.Speak(ctx, "hola")
//	played := sink.Played()
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxrelay/pkg/audio"
)

var _ audio.Sink = (*Sink)(nil)

// Sink is a mock implementation of [audio.Sink].
// Set the exported fields before use; inspect the Call* fields after.
type Sink struct {
	mu sync.Mutex

	// SinkFormat is returned by [Sink.Format].
	SinkFormat audio.Format

	// WriteError, when non-nil, is returned by every Write and nothing is recorded.
	WriteError error

	// WaitError is returned by [Sink.Wait].
	WaitError error

	// CallCountWrite records how many times Write was called.
	CallCountWrite int

	// CallCountWait records how many times Wait was called.
	CallCountWait int

	played []byte
}

// Write implements [audio.Sink]. The bytes are appended to the played buffer.
func (s *Sink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountWrite++
	if s.WriteError != nil {
		return 0, s.WriteError
	}
	s.played = append(s.played, p...)
	return len(p), nil
}

// Wait implements [audio.Sink]. It returns ctx.Err() if ctx is already done,
// otherwise WaitError.
func (s *Sink) Wait(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountWait++
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.WaitError
}

// Format implements [audio.Sink].
func (s *Sink) Format() audio.Format {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.SinkFormat
}

// Played returns a copy of every byte written so far.
func (s *Sink) Played() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]byte, len(s.played))
	copy(out, s.played)
	return out
}

// Reset clears recorded bytes and call counters.
func (s *Sink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.played = nil
	s.CallCountWrite = 0
	s.CallCountWait = 0
}
