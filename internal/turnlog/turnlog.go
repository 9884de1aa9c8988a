// Package turnlog keeps a SQLite history of chat turns: what was asked, what
// came back, and how long it took.
package turnlog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	. "github.com/roelfdiedericks/chatrelay/internal/logging"
	"github.com/roelfdiedericks/chatrelay/internal/paths"
)

// Turn is one prompt-to-answer cycle.
type Turn struct {
	ID        string        `json:"id"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"-"`
	Site      string        `json:"site"`
	Prompt    string        `json:"prompt"`
	Image     string        `json:"image,omitempty"`
	Answer    string        `json:"answer"`
	Verdict   string        `json:"verdict,omitempty"`
	Truncated bool          `json:"truncated"`
	Error     string        `json:"error,omitempty"`

	DurationMS int64 `json:"duration_ms"`
}

// NewTurn returns a turn with a fresh ID, started at now.
func NewTurn(now time.Time, site, prompt, image string) Turn {
	return Turn{
		ID:        uuid.NewString(),
		StartedAt: now,
		Site:      site,
		Prompt:    prompt,
		Image:     image,
	}
}

// Store is the SQLite turn history.
type Store struct {
	db *sql.DB
}

// Schema version for migrations
const currentSchemaVersion = 1

// Open opens (creating if needed) the turn database at path.
func Open(path string) (*Store, error) {
	if err := paths.EnsureParentDir(path); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer; the session gate already serializes turns.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	L_info("turnlog: store opened", "path", path)
	return s, nil
}

func (s *Store) migrate() error {
	var version int
	err := s.db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	if err != nil {
		// Table doesn't exist, start from scratch
		version = 0
	}
	if version >= currentSchemaVersion {
		L_debug("turnlog: schema up to date", "version", version)
		return nil
	}

	migrations := []func(*sql.DB) error{
		migrateV1,
	}
	for i := version; i < len(migrations); i++ {
		if err := migrations[i](s.db); err != nil {
			return fmt.Errorf("migration v%d failed: %w", i+1, err)
		}
		L_debug("turnlog: applied migration", "version", i+1)
	}
	return nil
}

func migrateV1(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at INTEGER NOT NULL
	);
	INSERT INTO schema_version (version, applied_at) VALUES (1, ?);

	CREATE TABLE IF NOT EXISTS turns (
		id TEXT PRIMARY KEY,
		started_at INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		site TEXT NOT NULL,
		prompt TEXT NOT NULL,
		image TEXT,
		answer TEXT NOT NULL DEFAULT '',
		verdict TEXT,
		truncated INTEGER NOT NULL DEFAULT 0,
		error TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_turns_started ON turns(started_at);
	`
	_, err := db.Exec(schema, time.Now().Unix())
	return err
}

// Record stores a finished turn.
func (s *Store) Record(ctx context.Context, t Turn) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO turns (id, started_at, duration_ms, site, prompt, image, answer, verdict, truncated, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		t.ID, t.StartedAt.UnixMilli(), t.Duration.Milliseconds(), t.Site, t.Prompt,
		nullString(t.Image), t.Answer, nullString(t.Verdict), t.Truncated, nullString(t.Error),
	)
	if err != nil {
		return fmt.Errorf("insert turn failed: %w", err)
	}
	L_trace("turnlog: turn recorded", "id", t.ID, "error", t.Error != "")
	return nil
}

// Recent returns up to limit turns, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Turn, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, duration_ms, site, prompt, image, answer, verdict, truncated, error
		FROM turns ORDER BY started_at DESC, rowid DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query turns failed: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		var started, durMS int64
		var image, verdict, errText sql.NullString
		if err := rows.Scan(&t.ID, &started, &durMS, &t.Site, &t.Prompt, &image, &t.Answer, &verdict, &t.Truncated, &errText); err != nil {
			return nil, err
		}
		t.StartedAt = time.UnixMilli(started)
		t.Duration = time.Duration(durMS) * time.Millisecond
		t.DurationMS = durMS
		t.Image, t.Verdict, t.Error = image.String, verdict.String, errText.String
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// Count returns the number of recorded turns.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM turns").Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	L_debug("turnlog: closing store")
	return s.db.Close()
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
