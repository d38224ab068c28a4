package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"omni-library/internal/domain"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS session_blobs (
	session_id TEXT NOT NULL,
	name       TEXT NOT NULL,
	blob       TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (session_id, name)
);`

type blobRow struct {
	SessionID string `db:"session_id"`
	Name      string `db:"name"`
	Blob      string `db:"blob"`
	UpdatedAt string `db:"updated_at"`
}

// SQLiteStore keeps sessions in a local SQLite file, for running outside AWS.
type SQLiteStore struct {
	db  *sqlx.DB
	now func() time.Time
}

// OpenSQLite opens or creates the database at path. ":memory:" is accepted.
func OpenSQLite(path string) (*SQLiteStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("repository: sqlite path must not be empty")
	}
	dsn := path
	if path != ":memory:" {
		dsn += "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("repository: open sqlite: %w", err)
	}
	// One connection: SQLite serializes writers anyway, and an in-memory
	// database exists per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("repository: migrate sqlite: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Load(ctx context.Context, sessionID string) (*domain.GameSession, error) {
	var rows []blobRow
	err := s.db.SelectContext(ctx, &rows,
		"SELECT session_id, name, blob, updated_at FROM session_blobs WHERE session_id = ?", sessionID)
	if err != nil {
		return nil, fmt.Errorf("repository: Load select: %w", err)
	}

	blobs := make(map[string]string, len(rows))
	for _, r := range rows {
		blobs[r.Name] = r.Blob
	}
	session, err := decodeSession(blobs)
	if err != nil {
		return nil, fmt.Errorf("repository: Load: %w", err)
	}
	return session, nil
}

// Save upserts both blobs in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, sessionID string, session domain.GameSession) error {
	blobs, err := encodeSession(session)
	if err != nil {
		return fmt.Errorf("repository: Save: %w", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("repository: Save begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := s.now().UTC().Format(time.RFC3339)
	for _, name := range []string{blobTranscript, blobState} {
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO session_blobs (session_id, name, blob, updated_at)
			VALUES (:session_id, :name, :blob, :updated_at)
			ON CONFLICT (session_id, name) DO UPDATE SET blob = excluded.blob, updated_at = excluded.updated_at`,
			blobRow{SessionID: sessionID, Name: name, Blob: blobs[name], UpdatedAt: now})
		if err != nil {
			return fmt.Errorf("repository: Save %s: %w", name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("repository: Save commit: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Clear(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM session_blobs WHERE session_id = ?", sessionID); err != nil {
		return fmt.Errorf("repository: Clear: %w", err)
	}
	return nil
}
