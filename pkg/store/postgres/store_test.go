package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/voxrelay/pkg/store"
	"github.com/MrWong99/voxrelay/pkg/store/postgres"
)

// testDSN skips the test unless VOXRELAY_TEST_POSTGRES_DSN is set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("VOXRELAY_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("VOXRELAY_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore drops the utterances table and returns a freshly migrated store.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	if _, err := pool.Exec(ctx, "DROP TABLE IF EXISTS utterances CASCADE"); err != nil {
		t.Fatalf("drop: %v", err)
	}
	pool.Close()

	s, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func TestAppendAndSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	entries := []store.Utterance{
		{ID: "u2", SessionID: "s1", Recognized: "wie geht es dir", Corrected: "wie geht es dir", Translated: "how are you", SourceLang: "de-DE", TargetLang: "en-US", Received: now.Add(time.Second)},
		{ID: "u1", SessionID: "s1", Recognized: "hallo äh welt", Corrected: "hallo welt", Deletions: 1, SourceLang: "de-DE", TargetLang: "en-US", Received: now},
		{ID: "u3", SessionID: "s2", Recognized: "guten morgen", Received: now},
	}
	if err := s.Append(ctx, entries); err != nil {
		t.Fatalf("Append: %v", err)
	}

	got, err := s.Session(ctx, "s1")
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Session(s1): want 2, got %d", len(got))
	}
	if got[0].ID != "u1" || got[1].ID != "u2" {
		t.Errorf("order = %s, %s; want u1, u2", got[0].ID, got[1].ID)
	}
	if got[0].Deletions != 1 || got[0].Corrected != "hallo welt" {
		t.Errorf("u1 = %+v", got[0])
	}
	if !got[0].Received.Equal(now) {
		t.Errorf("received = %v, want %v", got[0].Received, now)
	}
}

func TestAppend_UpsertsTranslation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u := store.Utterance{ID: "u1", SessionID: "s1", Recognized: "danke", Corrected: "danke", Received: time.Now()}
	if err := s.Append(ctx, []store.Utterance{u}); err != nil {
		t.Fatalf("first Append: %v", err)
	}
	u.Translated = "thank you"
	if err := s.Append(ctx, []store.Utterance{u}); err != nil {
		t.Fatalf("second Append: %v", err)
	}

	got, err := s.Session(ctx, "s1")
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if len(got) != 1 || got[0].Translated != "thank you" {
		t.Errorf("got %+v, want one row translated", got)
	}
}

func TestAppend_Empty(t *testing.T) {
	s := newTestStore(t)
	if err := s.Append(context.Background(), nil); err != nil {
		t.Errorf("Append(nil): %v", err)
	}
}

func TestSession_Unknown(t *testing.T) {
	s := newTestStore(t)
	got, err := s.Session(context.Background(), "nope")
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("want empty non-nil slice, got %#v", got)
	}
}

func TestSearch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	_ = s.Append(ctx, []store.Utterance{
		{ID: "a", SessionID: "s1", Recognized: "der Zug kommt", Translated: "the train is coming", Received: now},
		{ID: "b", SessionID: "s1", Recognized: "das Wetter", Translated: "the weather", Received: now.Add(time.Second)},
		{ID: "c", SessionID: "s2", Recognized: "ein Zug", Translated: "a train", Received: now.Add(2 * time.Second)},
	})

	tests := []struct {
		name    string
		query   string
		session string
		limit   int
		want    []string
	}{
		{"across sessions", "train", "", 0, []string{"c", "a"}},
		{"source text", "Zug", "s1", 0, []string{"a"}},
		{"limit", "train", "", 1, []string{"c"}},
		{"no match", "bicycle", "", 0, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Search(ctx, tt.query, tt.session, tt.limit)
			if err != nil {
				t.Fatalf("Search: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d results, want %d", len(got), len(tt.want))
			}
			for i, id := range tt.want {
				if got[i].ID != id {
					t.Errorf("result %d = %s, want %s", i, got[i].ID, id)
				}
			}
		})
	}
}

func TestPing(t *testing.T) {
	s := newTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}
