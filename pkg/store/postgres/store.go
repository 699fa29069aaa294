// Package postgres is a PostgreSQL-backed [store.UtteranceLog].
//
// Usage:
//
//	s, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer s.Close()
//
//	_ = s.Append(ctx, sess.Records())
package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/voxrelay/pkg/store"
)

var _ store.UtteranceLog = (*Store)(nil)

const selectColumns = `id, session_id, recognized, corrected, translated, deletions, source_lang, target_lang, received_at`

// Store holds a connection pool. All methods are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to dsn, verifies the connection and runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Ping checks that the database answers.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Append upserts entries in a single batch.
func (s *Store) Append(ctx context.Context, entries []store.Utterance) error {
	if len(entries) == 0 {
		return nil
	}
	const q = `
		INSERT INTO utterances
		    (id, session_id, recognized, corrected, translated, deletions, source_lang, target_lang, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
		    corrected  = EXCLUDED.corrected,
		    translated = EXCLUDED.translated,
		    deletions  = EXCLUDED.deletions`

	batch := &pgx.Batch{}
	for _, u := range entries {
		batch.Queue(q,
			u.ID,
			u.SessionID,
			u.Recognized,
			u.Corrected,
			u.Translated,
			u.Deletions,
			u.SourceLang,
			u.TargetLang,
			u.Received,
		)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("postgres: append %d utterances: %w", len(entries), err)
	}
	return nil
}

// Session implements [store.UtteranceLog].
func (s *Store) Session(ctx context.Context, sessionID string) ([]store.Utterance, error) {
	q := "SELECT " + selectColumns + "\nFROM utterances\nWHERE session_id = $1\nORDER BY received_at, id"
	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: session %s: %w", sessionID, err)
	}
	return collectUtterances(rows)
}

// Search returns utterances whose recognized or translated text matches
// query, newest first. A non-empty sessionID restricts the search to one
// session; limit <= 0 means no limit.
func (s *Store) Search(ctx context.Context, query, sessionID string, limit int) ([]store.Utterance, error) {
	args := []any{query}
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conditions := []string{
		"to_tsvector('simple', recognized || ' ' || translated) @@ plainto_tsquery('simple', $1)",
	}
	if sessionID != "" {
		conditions = append(conditions, "session_id = "+next(sessionID))
	}

	q := "SELECT " + selectColumns + "\nFROM utterances\nWHERE " +
		strings.Join(conditions, "\n  AND ") + "\nORDER BY received_at DESC"
	if limit > 0 {
		q += "\nLIMIT " + next(limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: search: %w", err)
	}
	return collectUtterances(rows)
}

func collectUtterances(rows pgx.Rows) ([]store.Utterance, error) {
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.Utterance, error) {
		var u store.Utterance
		err := row.Scan(
			&u.ID,
			&u.SessionID,
			&u.Recognized,
			&u.Corrected,
			&u.Translated,
			&u.Deletions,
			&u.SourceLang,
			&u.TargetLang,
			&u.Received,
		)
		return u, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan rows: %w", err)
	}
	if out == nil {
		out = []store.Utterance{}
	}
	return out, nil
}
