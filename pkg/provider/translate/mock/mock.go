// Package mock provides a test double for translate.Provider.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/voxrelay/pkg/provider/translate"
)

// TranslateCall records a single invocation of Provider.Translate.
type TranslateCall struct {
	Text       string
	SourceLang string
	TargetLang string
}

// Provider is a mock implementation of translate.Provider.
//
// By default it returns "<TargetLang>:<Text>". Set Responses to map inputs to
// fixed outputs, Errors to fail specific inputs, and Delays to slow specific
// inputs down.
type Provider struct {
	mu sync.Mutex

	// Responses maps input text to the translation returned for it.
	Responses map[string]string

	// Errors maps input text to the error returned for it.
	Errors map[string]error

	// Err, if non-nil, is returned for every input not in Errors.
	Err error

	// Delays maps input text to how long Translate blocks before answering.
	// The wait is cut short by ctx.
	Delays map[string]time.Duration

	// TranslateCalls records every call to Translate.
	TranslateCalls []TranslateCall
}

// Translate implements translate.Provider.
func (p *Provider) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	p.mu.Lock()
	p.TranslateCalls = append(p.TranslateCalls, TranslateCall{Text: text, SourceLang: sourceLang, TargetLang: targetLang})
	delay := p.Delays[text]
	resp, hasResp := p.Responses[text]
	err, hasErr := p.Errors[text]
	if !hasErr {
		err = p.Err
	}
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}
	if hasResp {
		return resp, nil
	}
	return targetLang + ":" + text, nil
}

// Calls returns a copy of the recorded calls. Thread-safe.
func (p *Provider) Calls() []TranslateCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]TranslateCall(nil), p.TranslateCalls...)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.TranslateCalls = nil
}

var _ translate.Provider = (*Provider)(nil)
