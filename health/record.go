// Package health keeps the append-only record of every exchange call's
// outcome. It is the gateway's sole diagnostic surface: no call executes
// without leaving a record here.
package health

import "time"

// Status is the terminal classification of one call attempt.
type Status string

const (
	StatusSuccess   Status = "SUCCESS"
	StatusTransient Status = "TRANSIENT_FAILURE"
	StatusPermanent Status = "PERMANENT_FAILURE"
)

// CallRecord describes one gateway call attempt. Records are append-only
// and read-only to every component other than the recorder itself.
type CallRecord struct {
	CallID    string    `db:"call_id" json:"call_id"`
	Operation string    `db:"operation" json:"operation"`
	Status    Status    `db:"status" json:"status"`
	Attempt   int       `db:"attempt" json:"attempt"`
	LatencyMS int64     `db:"latency_ms" json:"latency_ms"`
	Error     string    `db:"error" json:"error,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Recorder accepts call records. Implementations must tolerate concurrent
// callers; a Record failure must not block the gateway call itself.
type Recorder interface {
	Record(CallRecord) error
	Close() error
}

// Stats is an aggregate over recorded calls, exposed read-only to
// monitoring and self-diagnosis.
type Stats struct {
	Total        int64     `json:"total"`
	Success      int64     `json:"success"`
	Transient    int64     `json:"transient_failures"`
	Permanent    int64     `json:"permanent_failures"`
	AvgLatencyMS float64   `json:"avg_latency_ms"`
	LastCallAt   time.Time `json:"last_call_at"`
}
