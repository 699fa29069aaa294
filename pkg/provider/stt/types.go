package stt

import "time"

// WordKind tags a word observation. Services report punctuation and other
// non-lexical entries alongside real words.
type WordKind string

const (
	// KindWord is a spoken word.
	KindWord WordKind = "word"

	// KindPunctuation is a punctuation mark inserted by the service.
	KindPunctuation WordKind = "punctuation"
)

// Transcript represents a speech-to-text result from an STT provider.
// Both partial (interim) and final transcripts use this type.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// IsFinal indicates whether this is a final (authoritative) or partial (interim) transcript.
	IsFinal bool

	// Confidence is the overall confidence score (0.0–1.0). May be zero if the provider
	// does not report confidence.
	Confidence float64

	// Words contains per-entry detail in service order, including punctuation
	// entries where the service reports them. May be nil.
	Words []Word

	// Start marks when the utterance started, relative to stream start.
	Start time.Duration

	// End marks when the utterance ended, relative to stream start.
	End time.Duration
}

// Word is one word observation: the recognised content, its confidence and a
// kind tag.
type Word struct {
	// Content is the word as it appears in Transcript.Text.
	Content string

	// Confidence is in [0, 1].
	Confidence float64

	// Kind distinguishes spoken words from punctuation and other tags.
	Kind WordKind

	Start time.Duration
	End   time.Duration
}

// SpokenWords returns the entries of t.Words whose Kind is [KindWord], in order.
// The result is a new slice; t is not modified.
func (t Transcript) SpokenWords() []Word {
	out := make([]Word, 0, len(t.Words))
	for _, w := range t.Words {
		if w.Kind == KindWord {
			out = append(out, w)
		}
	}
	return out
}
