package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/voxrelay/pkg/audio"
	"github.com/MrWong99/voxrelay/pkg/provider/tts"
	ttsmock "github.com/MrWong99/voxrelay/pkg/provider/tts/mock"
)

func synthesizeAll(t *testing.T, p tts.Provider, text string) ([]byte, error) {
	t.Helper()
	textCh := make(chan string, 1)
	textCh <- text
	close(textCh)
	audioCh, err := p.SynthesizeStream(context.Background(), textCh, tts.VoiceProfile{ID: "v1"})
	if err != nil {
		return nil, err
	}
	var out []byte
	for chunk := range audioCh {
		out = append(out, chunk...)
	}
	return out, nil
}

func TestTTSFallback_SynthesizeStream(t *testing.T) {
	tests := []struct {
		name          string
		primaryErr    error
		secondaryErr  error
		want          string
		wantErr       bool
		wantSecondary int
	}{
		{name: "primary serves", want: "primary-audio"},
		{name: "failover", primaryErr: errors.New("primary down"), want: "fallback-audio", wantSecondary: 1},
		{name: "all fail", primaryErr: errors.New("primary down"), secondaryErr: errors.New("secondary down"), wantErr: true, wantSecondary: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			primary := &ttsmock.Provider{SynthesizeChunks: [][]byte{[]byte("primary-audio")}, SynthesizeErr: tt.primaryErr}
			secondary := &ttsmock.Provider{SynthesizeChunks: [][]byte{[]byte("fallback-audio")}, SynthesizeErr: tt.secondaryErr}

			fb := NewTTSFallback(primary, "elevenlabs", FallbackConfig{})
			if err := fb.AddFallback("backup", secondary); err != nil {
				t.Fatalf("AddFallback: %v", err)
			}

			got, err := synthesizeAll(t, fb, "hello")
			if tt.wantErr {
				if !errors.Is(err, ErrAllFailed) {
					t.Fatalf("err = %v, want ErrAllFailed", err)
				}
			} else {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if string(got) != tt.want {
					t.Errorf("audio = %q, want %q", got, tt.want)
				}
			}
			if n := len(secondary.Calls()); n != tt.wantSecondary {
				t.Errorf("secondary called %d times, want %d", n, tt.wantSecondary)
			}
		})
	}
}

func TestTTSFallback_RejectsMismatchedFormat(t *testing.T) {
	primary := &ttsmock.Provider{}
	other := &ttsmock.Provider{Format: audio.Format{SampleRate: 24000, Channels: 1, Encoding: audio.EncodingS16LE}}

	fb := NewTTSFallback(primary, "elevenlabs", FallbackConfig{})
	if err := fb.AddFallback("other", other); err == nil {
		t.Fatal("expected error for mismatched output format")
	}
	if len(fb.Status()) != 1 {
		t.Errorf("mismatched fallback must not be registered: %+v", fb.Status())
	}
	if fb.OutputFormat() != ttsmock.DefaultFormat {
		t.Errorf("OutputFormat() = %+v", fb.OutputFormat())
	}
}

func TestTTSFallback_ListVoices_Failover(t *testing.T) {
	primary := &ttsmock.Provider{ListVoicesErr: errors.New("unauthorized")}
	secondary := &ttsmock.Provider{ListVoicesResult: []tts.VoiceProfile{{ID: "v2", Name: "Backup"}}}

	fb := NewTTSFallback(primary, "primary", FallbackConfig{})
	_ = fb.AddFallback("secondary", secondary)

	voices, err := fb.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(voices) != 1 || voices[0].ID != "v2" {
		t.Errorf("voices = %+v", voices)
	}
}
