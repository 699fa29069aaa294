// Package transcript removes low-confidence words from final transcripts.
//
// Streaming recognisers return, alongside each utterance, a confidence score
// for every word. Words the service was unsure about are usually misheard
// fragments that derail translation, so the [Corrector] drops them before the
// text is handed on. Correction is best-effort: when the word observations
// cannot be aligned with the transcript text, the text is passed through
// untouched, and any internal failure leaves the deletions made so far in
// place.
//
// A [Corrector] is safe for concurrent use.
package transcript

import (
	"errors"
	"fmt"
)

// Delimiters are the characters a transcript is split on before it is aligned
// with word observations. They mirror how the recogniser attaches punctuation.
const Delimiters = ".,?! "

// DefaultThreshold is the confidence below which a word is removed.
const DefaultThreshold = 0.3

var (
	// ErrMisaligned reports that the transcript token count differs from the
	// number of word observations, so per-token alignment cannot be trusted.
	ErrMisaligned = errors.New("transcript: token count does not match word observations")

	// ErrOccurrenceNotFound reports that the Nth occurrence of a word could not
	// be located in the transcript text.
	ErrOccurrenceNotFound = errors.New("transcript: word occurrence not found")

	// ErrOffsetMismatch reports that the text at a resolved offset no longer
	// holds the word to delete.
	ErrOffsetMismatch = errors.New("transcript: text at offset does not match word")
)

// SkipReason explains why a transcript was returned without attempting any
// deletion.
type SkipReason int

const (
	// SkipNone means correction ran.
	SkipNone SkipReason = iota

	// SkipMisaligned means the token and observation counts differ.
	SkipMisaligned

	// SkipDisabled means correction is switched off.
	SkipDisabled
)

// String returns the lower-case name used in logs and metric attributes.
func (r SkipReason) String() string {
	switch r {
	case SkipNone:
		return "none"
	case SkipMisaligned:
		return "misaligned"
	case SkipDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// Deletion is a low-confidence word selected for removal.
type Deletion struct {
	// Word is the exact token text.
	Word string

	// TokenIndex is the position of the token in the split transcript.
	TokenIndex int

	// Occurrence is 1 + the number of identical tokens before TokenIndex.
	// Matching is case-sensitive.
	Occurrence int

	// Offset is the byte offset of the Occurrence-th match of Word in the
	// original transcript text.
	Offset int

	// Confidence is the observation's reported confidence.
	Confidence float64
}

// Result is the outcome of one correction.
type Result struct {
	// Text is the corrected transcript. It equals the input when nothing was
	// removed.
	Text string

	// Candidates are every deletion selected from the observations, in token
	// order.
	Candidates []Deletion

	// Applied is the number of leading Candidates actually removed from Text.
	Applied int

	// Skipped is set when correction was not attempted.
	Skipped SkipReason

	// Err describes why correction stopped early or was skipped, if it did.
	Err error
}

// Removed returns the deletions that were applied.
func (r Result) Removed() []Deletion {
	return r.Candidates[:r.Applied]
}

// deletionError wraps a failure with the candidate it happened on.
func deletionError(d Deletion, err error) error {
	return fmt.Errorf("delete %q (token %d, occurrence %d): %w", d.Word, d.TokenIndex, d.Occurrence, err)
}
