// Package mock provides an in-memory [store.UtteranceLog] for tests.
//
//	log := &mock.UtteranceLog{}
//	log.AppendErr = errors.New("db down")
package mock

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/voxrelay/pkg/store"
)

var _ store.UtteranceLog = (*UtteranceLog)(nil)

// UtteranceLog keeps appended utterances in memory, keyed by ID.
type UtteranceLog struct {
	mu      sync.Mutex
	rows    map[string]store.Utterance
	appends int

	// AppendErr is returned by Append when non-nil. Nothing is stored.
	AppendErr error

	// PingErr is returned by Ping.
	PingErr error
}

// Append implements [store.UtteranceLog].
func (m *UtteranceLog) Append(_ context.Context, entries []store.Utterance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appends++
	if m.AppendErr != nil {
		return m.AppendErr
	}
	if m.rows == nil {
		m.rows = make(map[string]store.Utterance)
	}
	for _, e := range entries {
		m.rows[e.ID] = e
	}
	return nil
}

// Session implements [store.UtteranceLog].
func (m *UtteranceLog) Session(_ context.Context, sessionID string) ([]store.Utterance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []store.Utterance{}
	for _, u := range m.rows {
		if u.SessionID == sessionID {
			out = append(out, u)
		}
	}
	slices.SortFunc(out, func(a, b store.Utterance) int {
		if c := a.Received.Compare(b.Received); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

// Ping returns PingErr.
func (m *UtteranceLog) Ping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.PingErr
}

// AppendCalls reports how many times Append was called.
func (m *UtteranceLog) AppendCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appends
}
