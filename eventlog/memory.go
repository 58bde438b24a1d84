package eventlog

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process Log and CheckpointStore. It is used for tests and
// for ephemeral runs where durability is explicitly not wanted.
type Memory struct {
	mu     sync.Mutex
	events []Event
	nextID int64
	cp     *Checkpoint
}

func NewMemory() *Memory {
	return &Memory{nextID: 1}
}

func (m *Memory) Append(_ context.Context, ev Event) (Event, error) {
	if ev.ID != 0 {
		return Event{}, ErrIDAssigned
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ev.ID = m.nextID
	m.nextID++
	m.events = append(m.events, ev)
	return ev, nil
}

func (m *Memory) Events(_ context.Context) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out, nil
}

func (m *Memory) EventsAfter(_ context.Context, afterID int64) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, ev := range m.events {
		if ev.ID > afterID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (m *Memory) PositionEvents(_ context.Context, positionID string) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, ev := range m.events {
		if ev.PositionID == positionID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (m *Memory) SaveCheckpoint(_ context.Context, cp Checkpoint) error {
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cp = &cp
	return nil
}

func (m *Memory) LatestCheckpoint(_ context.Context) (Checkpoint, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cp == nil {
		return Checkpoint{}, false, nil
	}
	return *m.cp, true, nil
}

func (m *Memory) Close() error { return nil }
