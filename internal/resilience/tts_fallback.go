package resilience

import (
	"context"
	"fmt"

	"github.com/MrWong99/voxrelay/pkg/audio"
	"github.com/MrWong99/voxrelay/pkg/provider/tts"
)

// TTSFallback implements [tts.Provider] with failover across several
// synthesis backends, each behind its own circuit breaker. All backends must
// produce the same output format.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] preferring primary.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another backend. It fails if p's output format
// differs from the primary's.
func (f *TTSFallback) AddFallback(name string, p tts.Provider) error {
	if got, want := p.OutputFormat(), f.OutputFormat(); got != want {
		return fmt.Errorf("resilience: tts fallback %q: output format %+v differs from primary %+v", name, got, want)
	}
	f.group.AddFallback(name, p)
	return nil
}

// Status reports the breaker state of every backend.
func (f *TTSFallback) Status() []EntryStatus { return f.group.Status() }

// SynthesizeStream starts a stream on the first healthy backend. Only stream
// setup fails over; text already consumed by a backend is not replayed.
func (f *TTSFallback) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (<-chan []byte, error) {
	return ExecuteWithResult(ctx, f.group, func(p tts.Provider) (<-chan []byte, error) {
		return p.SynthesizeStream(ctx, text, voice)
	})
}

// ListVoices returns the voices of the first healthy backend.
func (f *TTSFallback) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	return ExecuteWithResult(ctx, f.group, func(p tts.Provider) ([]tts.VoiceProfile, error) {
		return p.ListVoices(ctx)
	})
}

// OutputFormat returns the primary's format, shared by all backends.
func (f *TTSFallback) OutputFormat() audio.Format { return f.group.Primary().OutputFormat() }
