// Package history records completed VPN sessions in a local SQLite
// database so past connections can be reviewed after the fact.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/yllada/vpn-broker/common"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
  id           TEXT PRIMARY KEY,
  profile_id   TEXT NOT NULL,
  profile_name TEXT NOT NULL,
  started_at   INTEGER NOT NULL,
  ended_at     INTEGER NOT NULL,
  outcome      TEXT NOT NULL,
  last_error   TEXT NOT NULL DEFAULT '',
  bytes_in     INTEGER NOT NULL DEFAULT 0,
  bytes_out    INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_sessions_started ON sessions(started_at);
`

// Entry is one finished session.
type Entry struct {
	SessionID   string
	ProfileID   string
	ProfileName string
	StartedAt   time.Time
	EndedAt     time.Time
	Outcome     string
	LastError   string
	BytesIn     uint64
	BytesOut    uint64
}

// Store persists session entries in SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the history database in the user data
// directory and applies the schema.
func Open() (*Store, error) {
	dir, err := common.GetDataDir()
	if err != nil {
		return nil, err
	}
	return OpenAt(filepath.Join(dir, common.HistoryFileName))
}

// OpenAt opens the database at an explicit path. Tests use this with an
// in-memory DSN.
func OpenAt(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history db: %w", err)
	}
	// modernc.org/sqlite is single-writer; one connection avoids
	// SQLITE_BUSY under the event pump.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply history schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record upserts a finished session by id.
func (s *Store) Record(ctx context.Context, e Entry) error {
	query := `INSERT INTO sessions (id, profile_id, profile_name, started_at, ended_at, outcome, last_error, bytes_in, bytes_out)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			ended_at = excluded.ended_at,
			outcome = excluded.outcome,
			last_error = excluded.last_error,
			bytes_in = excluded.bytes_in,
			bytes_out = excluded.bytes_out
	`
	_, err := s.db.ExecContext(ctx, query,
		e.SessionID, e.ProfileID, e.ProfileName,
		e.StartedAt.Unix(), e.EndedAt.Unix(),
		e.Outcome, e.LastError, e.BytesIn, e.BytesOut)
	if err != nil {
		return fmt.Errorf("failed to record session: %w", err)
	}
	return nil
}

// Recent returns the most recent entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = common.DefaultHistoryKeep
	}
	query := `SELECT id, profile_id, profile_name, started_at, ended_at, outcome, last_error, bytes_in, bytes_out
		FROM sessions ORDER BY started_at DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var result []Entry
	for rows.Next() {
		var e Entry
		var started, ended int64
		if err := rows.Scan(&e.SessionID, &e.ProfileID, &e.ProfileName,
			&started, &ended, &e.Outcome, &e.LastError, &e.BytesIn, &e.BytesOut); err != nil {
			return nil, err
		}
		e.StartedAt = time.Unix(started, 0)
		e.EndedAt = time.Unix(ended, 0)
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Prune deletes everything beyond the newest keep entries.
func (s *Store) Prune(ctx context.Context, keep int) error {
	if keep <= 0 {
		keep = common.DefaultHistoryKeep
	}
	query := `DELETE FROM sessions WHERE id NOT IN (
		SELECT id FROM sessions ORDER BY started_at DESC LIMIT ?)`
	if _, err := s.db.ExecContext(ctx, query, keep); err != nil {
		return fmt.Errorf("failed to prune history: %w", err)
	}
	return nil
}
