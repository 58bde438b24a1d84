// eventlog/schema.go
package eventlog

const Schema = `
CREATE TABLE IF NOT EXISTS events (
	event_id INTEGER PRIMARY KEY AUTOINCREMENT,
	position_id TEXT NOT NULL,
	type TEXT NOT NULL,
	payload TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_position ON events(position_id);

CREATE TABLE IF NOT EXISTS checkpoints (
	checkpoint_id INTEGER PRIMARY KEY AUTOINCREMENT,
	last_event_id INTEGER NOT NULL,
	state TEXT NOT NULL,
	created_at DATETIME NOT NULL
);
`
