// Package store defines the persistent utterance log of a translation
// session. Implementations live in sub-packages; see [postgres] for the
// PostgreSQL backend and [mock] for a test double.
package store

import (
	"context"
	"time"
)

// Utterance is one row of the log: what was heard, what survived correction
// and what was spoken back.
type Utterance struct {
	// ID is unique across sessions.
	ID string

	// SessionID groups the utterances of one run.
	SessionID string

	// Recognized is the final transcript as returned by the STT provider.
	Recognized string

	// Corrected is Recognized after low-confidence words were removed.
	Corrected string

	// Translated is the text sent to speech synthesis. Empty when
	// translation failed or has not happened yet.
	Translated string

	// Deletions is the number of words the corrector removed.
	Deletions int

	SourceLang string
	TargetLang string

	// Received is when the final transcript arrived.
	Received time.Time
}

// UtteranceLog persists utterances. Implementations must be safe for
// concurrent use.
type UtteranceLog interface {
	// Append writes entries. Entries whose ID already exists are overwritten,
	// so a session can be flushed more than once.
	Append(ctx context.Context, entries []Utterance) error

	// Session returns all utterances of sessionID ordered by Received.
	Session(ctx context.Context, sessionID string) ([]Utterance, error)
}
