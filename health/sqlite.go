package health

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS exchange_calls (
	call_id TEXT NOT NULL,
	operation TEXT NOT NULL,
	status TEXT NOT NULL,
	attempt INTEGER NOT NULL,
	latency_ms INTEGER NOT NULL,
	error TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_calls_created ON exchange_calls(created_at);
`

// SQLite persists call records for offline diagnostics. It may share a
// database file with the event log; the tables are disjoint.
type SQLite struct {
	db *sqlx.DB
}

func NewSQLite(path string) (*SQLite, error) {
	db, err := sqlx.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open health db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create health schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Record(rec CallRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO exchange_calls
		(call_id, operation, status, attempt, latency_ms, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.CallID, rec.Operation, rec.Status, rec.Attempt,
		rec.LatencyMS, rec.Error, rec.CreatedAt,
	)
	return err
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

// Multi fans records out to several recorders, typically the in-memory
// ring for monitoring plus the SQLite sink for durability.
type Multi []Recorder

func (m Multi) Record(rec CallRecord) error {
	var firstErr error
	for _, r := range m {
		if err := r.Record(rec); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m Multi) Close() error {
	var firstErr error
	for _, r := range m {
		if err := r.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
