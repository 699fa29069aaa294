package session

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/voxrelay/pkg/store"
)

const defaultFlushInterval = 30 * time.Second

// Flusher periodically writes a session's log to a store so that a crash
// loses at most one interval of utterances. A failing store never stops
// translation: errors are logged, the utterances stay pending and the
// flusher reports itself degraded until the next successful write.
type Flusher struct {
	session  *Session
	log      store.UtteranceLog
	interval time.Duration

	mu       sync.Mutex
	degraded atomic.Bool
}

// NewFlusher returns a flusher writing s to log every interval. A
// non-positive interval selects 30s.
func NewFlusher(s *Session, log store.UtteranceLog, interval time.Duration) *Flusher {
	if interval <= 0 {
		interval = defaultFlushInterval
	}
	return &Flusher{session: s, log: log, interval: interval}
}

// Run flushes on every tick until ctx is done. It always returns nil. The
// final flush on shutdown is the caller's job, via [Flusher.FlushNow] with a
// context that is still live.
func (f *Flusher) Run(ctx context.Context) error {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			_, _ = f.FlushNow(ctx)
		}
	}
}

// FlushNow writes pending utterances immediately. Concurrent calls are
// serialised.
func (f *Flusher) FlushNow(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	n, err := f.session.Flush(ctx, f.log)
	if err != nil {
		f.degraded.Store(true)
		slog.Warn("session flush failed, will retry", "session_id", f.session.ID(), "err", err)
		return 0, err
	}
	f.degraded.Store(false)
	if n > 0 {
		slog.Debug("session flushed", "session_id", f.session.ID(), "utterances", n)
	}
	return n, nil
}

// Degraded reports whether the most recent flush failed.
func (f *Flusher) Degraded() bool {
	return f.degraded.Load()
}
