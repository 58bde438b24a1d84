package health

import "sync"

const defaultKeep = 1024

// Memory retains the most recent call records in a ring plus running
// aggregates. It backs the monitoring surface in every mode.
type Memory struct {
	mu      sync.Mutex
	keep    int
	records []CallRecord

	total      int64
	success    int64
	transient  int64
	permanent  int64
	latencySum int64
	stats      Stats
}

func NewMemory(keep int) *Memory {
	if keep <= 0 {
		keep = defaultKeep
	}
	return &Memory{keep: keep}
}

func (m *Memory) Record(rec CallRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records = append(m.records, rec)
	if len(m.records) > m.keep {
		m.records = m.records[len(m.records)-m.keep:]
	}

	m.total++
	m.latencySum += rec.LatencyMS
	switch rec.Status {
	case StatusSuccess:
		m.success++
	case StatusTransient:
		m.transient++
	case StatusPermanent:
		m.permanent++
	}
	if rec.CreatedAt.After(m.stats.LastCallAt) {
		m.stats.LastCallAt = rec.CreatedAt
	}
	return nil
}

// Recent returns up to n most recent records, newest last.
func (m *Memory) Recent(n int) []CallRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	if n <= 0 || n > len(m.records) {
		n = len(m.records)
	}
	out := make([]CallRecord, n)
	copy(out, m.records[len(m.records)-n:])
	return out
}

func (m *Memory) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Stats{
		Total:      m.total,
		Success:    m.success,
		Transient:  m.transient,
		Permanent:  m.permanent,
		LastCallAt: m.stats.LastCallAt,
	}
	if m.total > 0 {
		s.AvgLatencyMS = float64(m.latencySum) / float64(m.total)
	}
	return s
}

func (m *Memory) Close() error { return nil }
