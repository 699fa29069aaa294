// Package translate defines the Provider interface for text translation.
//
// A translator receives one corrected utterance at a time and returns its
// translation. Implementations must be safe for concurrent use.
package translate

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyText is returned when Translate is called with text that contains
// only whitespace.
var ErrEmptyText = errors.New("translate: empty text")

// Provider translates text between languages.
type Provider interface {
	// Translate returns text rendered in targetLang. sourceLang may be empty,
	// in which case the provider detects it. Language codes are BCP-47 tags
	// such as "en", "de" or "en-GB".
	Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error)
}

// CheckText returns [ErrEmptyText] when text has no content.
func CheckText(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyText
	}
	return nil
}

// SystemPrompt is the instruction given to chat-completion translators.
func SystemPrompt(sourceLang, targetLang string) string {
	from := "the language it is written in"
	if sourceLang != "" {
		from = fmt.Sprintf("%q", sourceLang)
	}
	return fmt.Sprintf(
		"You are a simultaneous interpreter. Translate the user's message from %s into %q. "+
			"The message is a live speech transcript and may be incomplete. "+
			"Reply with the translation only, without quotes, notes or explanations.",
		from, targetLang)
}

// CleanCompletion trims whitespace and a single pair of enclosing quotes that
// chat models sometimes add around a translation.
func CleanCompletion(s string) string {
	s = strings.TrimSpace(s)
	for _, q := range [][2]string{{`"`, `"`}, {"“", "”"}, {"«", "»"}, {"„", "“"}} {
		if len(s) >= len(q[0])+len(q[1]) && strings.HasPrefix(s, q[0]) && strings.HasSuffix(s, q[1]) {
			return strings.TrimSpace(s[len(q[0]) : len(s)-len(q[1])])
		}
	}
	return s
}
