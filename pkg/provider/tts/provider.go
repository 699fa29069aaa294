// Package tts defines the Provider interface for text-to-speech backends.
//
// A TTS provider wraps a speech synthesis service and presents a uniform
// streaming interface: text fragments go in on a channel, raw PCM comes out
// on another as soon as the service produces it. The voice pipeline sends
// one translated utterance per stream and plays the audio while it arrives.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/MrWong99/voxrelay/pkg/audio"
)

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// SynthesizeStream consumes text fragments from the text channel and
	// returns a channel that emits raw PCM audio in [Provider.OutputFormat]
	// as it is synthesised.
	//
	// The returned audio channel is closed by the implementation when all text
	// has been synthesised or when ctx is cancelled. The caller must drain the
	// audio channel to avoid blocking the provider's internal goroutines.
	//
	// Returns a non-nil error only if the stream cannot be started. Errors
	// encountered during synthesis are signalled by closing the audio channel
	// early; callers should check ctx.Err() to distinguish cancellation from
	// provider errors.
	SynthesizeStream(ctx context.Context, text <-chan string, voice VoiceProfile) (<-chan []byte, error)

	// ListVoices returns all voice profiles available from this provider.
	ListVoices(ctx context.Context) ([]VoiceProfile, error)

	// OutputFormat describes the PCM emitted by SynthesizeStream.
	OutputFormat() audio.Format
}

// ParsePCMFormat parses names of the form "pcm_<rate>" (e.g. "pcm_16000")
// into mono signed 16-bit PCM at that rate.
func ParsePCMFormat(name string) (audio.Format, error) {
	rate, ok := strings.CutPrefix(name, "pcm_")
	if !ok {
		return audio.Format{}, fmt.Errorf("tts: output format %q is not raw PCM", name)
	}
	n, err := strconv.Atoi(rate)
	if err != nil || n <= 0 {
		return audio.Format{}, fmt.Errorf("tts: output format %q has an invalid sample rate", name)
	}
	return audio.Format{SampleRate: n, Channels: 1, Encoding: audio.EncodingS16LE}, nil
}
