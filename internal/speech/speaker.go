// Package speech plays synthesised translations on an audio output.
package speech

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/voxrelay/internal/observe"
	"github.com/MrWong99/voxrelay/pkg/audio"
	"github.com/MrWong99/voxrelay/pkg/provider/tts"
)

// ErrNoAudio is returned by [Speaker.Speak] when the provider closed its
// stream without producing any audio.
var ErrNoAudio = errors.New("speech: provider produced no audio")

// Speaker feeds one utterance at a time to a TTS provider and writes the
// resulting PCM to a sink, converting to the sink's format on the way.
//
// Speak must not be called concurrently; SetVoice may be called at any time.
type Speaker struct {
	provider tts.Provider
	sink     audio.Sink

	mu    sync.RWMutex
	voice tts.VoiceProfile
}

// New returns a Speaker that synthesises with p in voice and plays on sink.
func New(p tts.Provider, sink audio.Sink, voice tts.VoiceProfile) *Speaker {
	return &Speaker{provider: p, sink: sink, voice: voice}
}

// Voice returns the voice used for the next utterance.
func (s *Speaker) Voice() tts.VoiceProfile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.voice
}

// SetVoice changes the voice from the next utterance on.
func (s *Speaker) SetVoice(v tts.VoiceProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.voice = v
}

// Speak synthesises text and blocks until the sink has played it.
func (s *Speaker) Speak(ctx context.Context, text string) error {
	textCh := make(chan string, 1)
	textCh <- text
	close(textCh)

	audioCh, err := s.provider.SynthesizeStream(ctx, textCh, s.Voice())
	if err != nil {
		return fmt.Errorf("speech: synthesize: %w", err)
	}

	conv := &audio.FormatConverter{Target: s.sink.Format()}
	src := s.provider.OutputFormat()
	written := 0
	for chunk := range audioCh {
		frame := conv.Convert(audio.AudioFrame{
			Data:       chunk,
			SampleRate: src.SampleRate,
			Channels:   src.Channels,
			Encoding:   src.Encoding,
		})
		if len(frame.Data) == 0 {
			continue
		}
		if _, err := s.sink.Write(frame.Data); err != nil {
			go audio.Drain(audioCh)
			return fmt.Errorf("speech: write: %w", err)
		}
		written += len(frame.Data)
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if written == 0 {
		return ErrNoAudio
	}
	if err := s.sink.Wait(ctx); err != nil {
		return fmt.Errorf("speech: wait for playback: %w", err)
	}
	observe.Logger(ctx).Debug("speech: utterance played", "bytes", written)
	return nil
}
