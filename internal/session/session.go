// Package session holds the state of one translation run: the transcription
// session lifecycle reported by the STT provider and the log of every
// utterance heard, corrected and translated.
//
// A [Session] replaces what would otherwise be process-wide state. The
// transcription callbacks and the pipeline consumer both write to it; all
// methods are safe for concurrent use.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/voxrelay/pkg/provider/stt"
	"github.com/MrWong99/voxrelay/pkg/store"
)

// ErrUnknownUtterance is returned by [Session.SetTranslation] for an ID that
// was never recorded.
var ErrUnknownUtterance = errors.New("session: unknown utterance")

// State is the transcription lifecycle as reported by the STT provider.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateStopped
	StateCanceled
)

// String implements [fmt.Stringer].
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateCanceled:
		return "canceled"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Utterance is one final transcript and what became of it.
type Utterance struct {
	ID         string
	Recognized string
	Corrected  string
	Translated string
	Deletions  int
	Received   time.Time
}

// Session is the context of one translation run.
type Session struct {
	id      string
	source  string
	target  string
	started time.Time

	mu         sync.Mutex
	state      State
	cause      error
	providerID string
	utterances []Utterance
	index      map[string]int
	dirty      map[string]struct{}
}

// New starts a session translating from source to target.
func New(source, target string) *Session {
	return &Session{
		id:      uuid.NewString(),
		source:  source,
		target:  target,
		started: time.Now(),
		index:   make(map[string]int),
		dirty:   make(map[string]struct{}),
	}
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// Languages returns the source and target language codes.
func (s *Session) Languages() (source, target string) { return s.source, s.target }

// Started returns when the session was created.
func (s *Session) Started() time.Time { return s.started }

// State returns the lifecycle state and, when canceled, the reason.
func (s *Session) State() (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.cause
}

// Running reports whether the STT provider has an open session.
func (s *Session) Running() bool {
	st, _ := s.State()
	return st == StateRunning
}

// Callbacks returns STT callbacks that track the lifecycle and log each
// event. onFinal receives final transcripts; it may be nil.
func (s *Session) Callbacks(onFinal func(stt.Transcript)) stt.Callbacks {
	return stt.Callbacks{
		OnFinal:          onFinal,
		OnSessionStarted: s.onStarted,
		OnSessionStopped: s.onStopped,
		OnCanceled:       s.onCanceled,
	}
}

func (s *Session) onStarted(info stt.SessionInfo) {
	s.mu.Lock()
	s.state = StateRunning
	s.cause = nil
	s.providerID = info.ID
	s.mu.Unlock()
	slog.Info("transcription session started", "session_id", s.id, "provider", info.Provider, "provider_session", info.ID)
}

func (s *Session) onStopped(info stt.SessionInfo) {
	s.mu.Lock()
	if s.state != StateCanceled {
		s.state = StateStopped
	}
	s.mu.Unlock()
	slog.Info("transcription session stopped", "session_id", s.id, "provider", info.Provider)
}

func (s *Session) onCanceled(info stt.SessionInfo, err error) {
	s.mu.Lock()
	s.state = StateCanceled
	s.cause = err
	s.mu.Unlock()
	slog.Warn("transcription session canceled", "session_id", s.id, "provider", info.Provider, "err", err)
}

// Record appends a final transcript to the log and returns it with a fresh
// ID. A zero received time is replaced by the current time.
func (s *Session) Record(recognized, corrected string, deletions int, received time.Time) Utterance {
	if received.IsZero() {
		received = time.Now()
	}
	u := Utterance{
		ID:         uuid.NewString(),
		Recognized: recognized,
		Corrected:  corrected,
		Deletions:  deletions,
		Received:   received,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.index[u.ID] = len(s.utterances)
	s.utterances = append(s.utterances, u)
	s.dirty[u.ID] = struct{}{}
	return u
}

// SetTranslation stores the translated text of utterance id.
func (s *Session) SetTranslation(id, translated string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownUtterance, id)
	}
	s.utterances[i].Translated = translated
	s.dirty[id] = struct{}{}
	return nil
}

// Utterances returns a copy of the log in arrival order.
func (s *Session) Utterances() []Utterance {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Utterance(nil), s.utterances...)
}

// Len returns the number of recorded utterances.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.utterances)
}

// Transcript returns every recognized utterance, one per line.
func (s *Session) Transcript() string {
	return s.join(func(u Utterance) string { return u.Recognized })
}

// Translation returns every translated utterance, one per line. Utterances
// without a translation are left out.
func (s *Session) Translation() string {
	return s.join(func(u Utterance) string { return u.Translated })
}

func (s *Session) join(field func(Utterance) string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var b strings.Builder
	for _, u := range s.utterances {
		text := field(u)
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(text)
	}
	return b.String()
}

// Flush writes every utterance added or changed since the last successful
// flush to log and returns how many were written. On failure the same
// utterances are retried by the next call.
func (s *Session) Flush(ctx context.Context, log store.UtteranceLog) (int, error) {
	s.mu.Lock()
	if len(s.dirty) == 0 {
		s.mu.Unlock()
		return 0, nil
	}
	batch := make([]store.Utterance, 0, len(s.dirty))
	for _, u := range s.utterances {
		if _, ok := s.dirty[u.ID]; ok {
			batch = append(batch, s.record(u))
		}
	}
	s.mu.Unlock()

	if err := log.Append(ctx, batch); err != nil {
		return 0, fmt.Errorf("session: flush %s: %w", s.id, err)
	}

	s.mu.Lock()
	for _, r := range batch {
		// A translation that landed while Append ran keeps the entry dirty.
		if s.utterances[s.index[r.ID]].Translated == r.Translated {
			delete(s.dirty, r.ID)
		}
	}
	s.mu.Unlock()
	return len(batch), nil
}

func (s *Session) record(u Utterance) store.Utterance {
	return store.Utterance{
		ID:         u.ID,
		SessionID:  s.id,
		Recognized: u.Recognized,
		Corrected:  u.Corrected,
		Translated: u.Translated,
		Deletions:  u.Deletions,
		SourceLang: s.source,
		TargetLang: s.target,
		Received:   u.Received,
	}
}
