package transcript

import (
	"math"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/MrWong99/voxrelay/pkg/provider/stt"
)

// Option is a functional option for configuring a [Corrector].
type Option func(*Corrector)

// WithThreshold sets the confidence below which a word is removed.
// Default: [DefaultThreshold].
func WithThreshold(threshold float64) Option {
	return func(c *Corrector) {
		c.SetThreshold(threshold)
	}
}

// WithDiagnostics registers fn to receive every misalignment and every
// failure that stopped a correction early. fn runs synchronously on the
// caller's goroutine.
func WithDiagnostics(fn func(error)) Option {
	return func(c *Corrector) {
		c.diag = fn
	}
}

// Corrector removes low-confidence words from transcripts.
type Corrector struct {
	threshold atomic.Uint64 // math.Float64bits
	diag      func(error)
}

// NewCorrector constructs a [Corrector] with the supplied options.
func NewCorrector(opts ...Option) *Corrector {
	c := &Corrector{}
	c.SetThreshold(DefaultThreshold)
	for _, o := range opts {
		o(c)
	}
	return c
}

// Threshold returns the current confidence threshold.
func (c *Corrector) Threshold() float64 {
	return math.Float64frombits(c.threshold.Load())
}

// SetThreshold replaces the confidence threshold. It is safe to call while
// corrections are running; in-flight calls keep the value they started with.
func (c *Corrector) SetThreshold(threshold float64) {
	c.threshold.Store(math.Float64bits(threshold))
}

// CorrectTranscript corrects t.Text using only the observations tagged
// [stt.KindWord].
func (c *Corrector) CorrectTranscript(t stt.Transcript) Result {
	return c.Correct(t.Text, t.SpokenWords())
}

// Correct removes from text every token whose aligned observation has a
// confidence below the threshold and the same spelling as the token.
//
// text is split on [Delimiters]; the i-th non-empty token is aligned with
// words[i]. When the counts differ the text is returned unchanged with
// Skipped set to [SkipMisaligned].
//
// Deletions are applied left to right against the shrinking string. Each one
// removes the word plus one adjacent space, preferring the space before it.
// A failure stops further deletions and the partially corrected text is
// returned with Err set. Correct never panics on malformed input.
func (c *Corrector) Correct(text string, words []stt.Word) Result {
	cands, res, ok := c.plan(text, words)
	if !ok {
		return res
	}

	out := text
	delta := 0
	for i, d := range cands {
		at := d.Offset - delta
		if at < 0 || at+len(d.Word) > len(out) || out[at:at+len(d.Word)] != d.Word {
			return c.fail(res, out, i, deletionError(d, ErrOffsetMismatch))
		}
		before := len(out)
		out = removeWord(out, at, len(d.Word))
		delta += before - len(out)
		res.Applied = i + 1
	}
	res.Text = out
	return res
}

// CorrectDescending computes the same result as [Corrector.Correct] by
// resolving every offset against the unmodified text and applying the
// deletions from the rightmost to the leftmost. A deletion removes at most the
// space just before its word, which no earlier word covers, so offsets to the
// left stay valid without adjustment.
//
// The offsets of candidates that reach back into an earlier candidate's span
// cannot be trusted; the first such candidate and everything after it are
// dropped and reported as [ErrOffsetMismatch].
func (c *Corrector) CorrectDescending(text string, words []stt.Word) Result {
	cands, res, ok := c.plan(text, words)
	if !ok {
		return res
	}

	n := len(cands)
	var overlap error
	for i := 1; i < n; i++ {
		if cands[i].Offset < cands[i-1].Offset+len(cands[i-1].Word) {
			overlap = deletionError(cands[i], ErrOffsetMismatch)
			n = i
			break
		}
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	slices.SortFunc(order, func(a, b int) int { return cands[b].Offset - cands[a].Offset })

	out := text
	for _, i := range order {
		out = removeWord(out, cands[i].Offset, len(cands[i].Word))
	}
	res.Text = out
	res.Applied = n
	if overlap != nil {
		res.Err = overlap
		c.report(overlap)
	}
	return res
}

// plan tokenizes text, checks alignment and resolves every candidate offset.
// ok is false when res is already final (misaligned or nothing to delete).
func (c *Corrector) plan(text string, words []stt.Word) (cands []Deletion, res Result, ok bool) {
	res = Result{Text: text}
	tokens := Tokenize(text)
	if len(tokens) != len(words) {
		res.Skipped = SkipMisaligned
		res.Err = ErrMisaligned
		c.report(ErrMisaligned)
		return nil, res, false
	}

	threshold := c.Threshold()
	for i, w := range words {
		if w.Confidence >= threshold || w.Content != tokens[i] {
			continue
		}
		occ := 1
		for _, prev := range tokens[:i] {
			if prev == tokens[i] {
				occ++
			}
		}
		cands = append(cands, Deletion{
			Word:       tokens[i],
			TokenIndex: i,
			Occurrence: occ,
			Confidence: w.Confidence,
		})
	}
	res.Candidates = cands
	if len(cands) == 0 {
		return nil, res, false
	}

	for i := range cands {
		off := nthIndex(text, cands[i].Word, cands[i].Occurrence)
		if off < 0 {
			res.Err = deletionError(cands[i], ErrOccurrenceNotFound)
			c.report(res.Err)
			return cands[:i], res, true
		}
		cands[i].Offset = off
	}
	return cands, res, true
}

// fail records err, keeps the text as corrected so far and reports it.
func (c *Corrector) fail(res Result, out string, applied int, err error) Result {
	res.Text = out
	res.Applied = applied
	res.Err = err
	c.report(err)
	return res
}

func (c *Corrector) report(err error) {
	if c.diag != nil {
		c.diag(err)
	}
}

// Tokenize splits text on [Delimiters] and drops empty tokens.
func Tokenize(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return strings.ContainsRune(Delimiters, r)
	})
}

// nthIndex returns the byte offset of the n-th (1-based) non-overlapping
// occurrence of word in text, scanning left to right, or -1.
func nthIndex(text, word string, n int) int {
	if word == "" || n < 1 {
		return -1
	}
	from := 0
	for {
		i := strings.Index(text[from:], word)
		if i < 0 {
			return -1
		}
		n--
		if n == 0 {
			return from + i
		}
		from += i + len(word)
	}
}

// removeWord deletes text[at:at+size] and one adjacent space: the one before
// the word if present, otherwise the one after it.
func removeWord(text string, at, size int) string {
	end := at + size
	switch {
	case at > 0 && text[at-1] == ' ':
		at--
	case end < len(text) && text[end] == ' ':
		end++
	}
	return text[:at] + text[end:]
}
