package resilience

import (
	"context"

	"github.com/MrWong99/voxrelay/pkg/provider/translate"
)

// TranslateFallback implements [translate.Provider] with failover across
// several translation backends, each behind its own circuit breaker.
type TranslateFallback struct {
	group *FallbackGroup[translate.Provider]
}

var _ translate.Provider = (*TranslateFallback)(nil)

// NewTranslateFallback creates a [TranslateFallback] preferring primary.
func NewTranslateFallback(primary translate.Provider, primaryName string, cfg FallbackConfig) *TranslateFallback {
	return &TranslateFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another backend, tried after those already added.
func (f *TranslateFallback) AddFallback(name string, p translate.Provider) {
	f.group.AddFallback(name, p)
}

// Status reports the breaker state of every backend.
func (f *TranslateFallback) Status() []EntryStatus { return f.group.Status() }

// Translate implements translate.Provider. Empty input is rejected up front so
// it never counts against a backend.
func (f *TranslateFallback) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	if err := translate.CheckText(text); err != nil {
		return "", err
	}
	return ExecuteWithResult(ctx, f.group, func(p translate.Provider) (string, error) {
		return p.Translate(ctx, text, sourceLang, targetLang)
	})
}
