package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// ErrIDAssigned is returned when an event already carrying an ID is appended.
var ErrIDAssigned = errors.New("event id is assigned by the log")

// SQLite is a durable Log and CheckpointStore backed by a single SQLite file.
// Appends are serialized so event IDs are assigned in a single total order.
type SQLite struct {
	db *sqlx.DB
	mu sync.Mutex
}

func NewSQLite(path string) (*SQLite, error) {
	db, err := sqlx.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}

	// WAL mode keeps appends durable without blocking readers.
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create event log schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

func (l *SQLite) Append(ctx context.Context, ev Event) (Event, error) {
	if ev.ID != 0 {
		return Event{}, ErrIDAssigned
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}

	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return Event{}, fmt.Errorf("encode payload: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	res, err := l.db.ExecContext(ctx, `
		INSERT INTO events (position_id, type, payload, created_at)
		VALUES (?, ?, ?, ?)`,
		ev.PositionID, ev.Type, string(payload), ev.CreatedAt,
	)
	if err != nil {
		return Event{}, fmt.Errorf("append event: %w", err)
	}

	ev.ID, err = res.LastInsertId()
	if err != nil {
		return Event{}, fmt.Errorf("read event id: %w", err)
	}
	return ev, nil
}

func (l *SQLite) Events(ctx context.Context) ([]Event, error) {
	return l.selectEvents(ctx, `SELECT event_id, position_id, type, payload, created_at
		FROM events ORDER BY event_id`)
}

func (l *SQLite) EventsAfter(ctx context.Context, afterID int64) ([]Event, error) {
	return l.selectEvents(ctx, `SELECT event_id, position_id, type, payload, created_at
		FROM events WHERE event_id > ? ORDER BY event_id`, afterID)
}

func (l *SQLite) PositionEvents(ctx context.Context, positionID string) ([]Event, error) {
	return l.selectEvents(ctx, `SELECT event_id, position_id, type, payload, created_at
		FROM events WHERE position_id = ? ORDER BY event_id`, positionID)
}

func (l *SQLite) selectEvents(ctx context.Context, query string, args ...any) ([]Event, error) {
	rows, err := l.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			ev  Event
			raw string
		)
		if err := rows.Scan(&ev.ID, &ev.PositionID, &ev.Type, &raw, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if err := json.Unmarshal([]byte(raw), &ev.Payload); err != nil {
			return nil, fmt.Errorf("decode payload for event %d: %w", ev.ID, err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (l *SQLite) SaveCheckpoint(ctx context.Context, cp Checkpoint) error {
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO checkpoints (last_event_id, state, created_at)
		VALUES (?, ?, ?)`,
		cp.LastEventID, string(cp.State), cp.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

func (l *SQLite) LatestCheckpoint(ctx context.Context) (Checkpoint, bool, error) {
	var (
		cp  Checkpoint
		raw string
	)
	err := l.db.QueryRowxContext(ctx, `
		SELECT last_event_id, state, created_at FROM checkpoints
		ORDER BY checkpoint_id DESC LIMIT 1`).Scan(&cp.LastEventID, &raw, &cp.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Checkpoint{}, false, nil
	}
	if err != nil {
		return Checkpoint{}, false, fmt.Errorf("load checkpoint: %w", err)
	}
	cp.State = []byte(raw)
	return cp, true, nil
}

func (l *SQLite) Close() error {
	return l.db.Close()
}
