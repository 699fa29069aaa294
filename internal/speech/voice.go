package speech

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/voxrelay/pkg/provider/tts"
)

// ErrVoiceNotFound is returned by [ResolveVoice] when no voice matches.
var ErrVoiceNotFound = errors.New("speech: voice not found")

// VoiceResolver is implemented by providers with their own voice lookup.
type VoiceResolver interface {
	ResolveVoice(ctx context.Context, nameOrID string) (tts.VoiceProfile, error)
}

// ResolveVoice finds the voice whose ID or, failing that, name equals
// nameOrID. An empty nameOrID yields the zero profile, which providers
// treat as their default voice.
//
// On error the returned profile still carries nameOrID as its ID so the
// caller may choose to pass it through unverified.
func ResolveVoice(ctx context.Context, p tts.Provider, nameOrID string) (tts.VoiceProfile, error) {
	if nameOrID == "" {
		return tts.VoiceProfile{}, nil
	}
	fallback := tts.VoiceProfile{ID: nameOrID, Name: nameOrID}

	if r, ok := p.(VoiceResolver); ok {
		v, err := r.ResolveVoice(ctx, nameOrID)
		if err != nil {
			return fallback, fmt.Errorf("speech: resolve voice %q: %w", nameOrID, err)
		}
		return v, nil
	}

	voices, err := p.ListVoices(ctx)
	if err != nil {
		return fallback, fmt.Errorf("speech: resolve voice %q: %w", nameOrID, err)
	}
	for _, v := range voices {
		if v.ID == nameOrID {
			return v, nil
		}
	}
	for _, v := range voices {
		if v.Name == nameOrID {
			return v, nil
		}
	}
	return fallback, fmt.Errorf("%w: %q", ErrVoiceNotFound, nameOrID)
}
