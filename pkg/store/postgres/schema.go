package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlUtterances = `
CREATE TABLE IF NOT EXISTS utterances (
    id          TEXT         PRIMARY KEY,
    session_id  TEXT         NOT NULL,
    recognized  TEXT         NOT NULL,
    corrected   TEXT         NOT NULL DEFAULT '',
    translated  TEXT         NOT NULL DEFAULT '',
    deletions   INTEGER      NOT NULL DEFAULT 0,
    source_lang TEXT         NOT NULL DEFAULT '',
    target_lang TEXT         NOT NULL DEFAULT '',
    received_at TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_utterances_session_received
    ON utterances (session_id, received_at);

CREATE INDEX IF NOT EXISTS idx_utterances_fts
    ON utterances USING GIN (to_tsvector('simple', recognized || ' ' || translated));
`

// Migrate creates the utterances table and its indexes. It is idempotent and
// safe to call on every start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlUtterances); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}
