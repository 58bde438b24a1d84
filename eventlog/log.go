package eventlog

import (
	"context"
	"time"
)

// Log is a durable, append-only sequence of position events. Append is the
// only write; events are never updated or deleted. Implementations must
// assign strictly increasing event IDs under concurrent appends.
type Log interface {
	// Append stores ev and returns it with the assigned ID. ev.ID must be
	// zero. A zero CreatedAt is stamped with the current UTC time.
	Append(ctx context.Context, ev Event) (Event, error)

	// Events returns all events ordered by ID.
	Events(ctx context.Context) ([]Event, error)

	// EventsAfter returns events with ID > afterID, ordered by ID.
	EventsAfter(ctx context.Context, afterID int64) ([]Event, error)

	// PositionEvents returns the ordered event sequence for one position.
	PositionEvents(ctx context.Context, positionID string) ([]Event, error)

	Close() error
}

// Checkpoint is a point-in-time capture of the materialized view. Recovery
// loads the latest checkpoint and replays events with ID > LastEventID.
type Checkpoint struct {
	LastEventID int64     `db:"last_event_id"`
	State       []byte    `db:"state"`
	CreatedAt   time.Time `db:"created_at"`
}

// CheckpointStore persists materialized-view checkpoints alongside the log.
type CheckpointStore interface {
	SaveCheckpoint(ctx context.Context, cp Checkpoint) error
	// LatestCheckpoint returns the most recent checkpoint, or ok=false when
	// none has been written yet.
	LatestCheckpoint(ctx context.Context) (cp Checkpoint, ok bool, err error)
}
