package ledger

import (
	"context"
	"fmt"
	"time"
)

type AnomalyKind string

const (
	AnomalyStalePosition    AnomalyKind = "stale-position"
	AnomalyUnknownPosition  AnomalyKind = "unknown-position-event"
	AnomalyNegativeQuantity AnomalyKind = "negative-quantity"
	AnomalyHalted           AnomalyKind = "halted"
)

type Anomaly struct {
	Kind       AnomalyKind `json:"kind"`
	PositionID string      `json:"position_id,omitempty"`
	EventID    int64       `json:"event_id,omitempty"`
	Detail     string      `json:"detail"`
}

type AnomalyReport struct {
	GeneratedAt time.Time `json:"generated_at"`
	Anomalies   []Anomaly `json:"anomalies"`
}

func (r AnomalyReport) Healthy() bool { return len(r.Anomalies) == 0 }

// SelfDiagnose scans for conditions that should not occur: open positions
// with no price refresh past the staleness threshold, events referencing
// unknown position ids, and negative quantities (unreachable by
// construction, asserted anyway).
func (l *Ledger) SelfDiagnose(ctx context.Context) (AnomalyReport, error) {
	report := AnomalyReport{GeneratedAt: l.now()}

	if err := l.Halted(); err != nil {
		report.Anomalies = append(report.Anomalies, Anomaly{
			Kind:   AnomalyHalted,
			Detail: err.Error(),
		})
	}

	now := l.now()
	l.mu.RLock()
	for _, p := range l.positions {
		if p.Closed() {
			continue
		}
		if p.Quantity < 0 {
			report.Anomalies = append(report.Anomalies, Anomaly{
				Kind:       AnomalyNegativeQuantity,
				PositionID: p.ID,
				Detail:     fmt.Sprintf("quantity %v", p.Quantity),
			})
		}
		lastSeen := p.OpenedAt
		if mark, ok := l.marks[p.Symbol]; ok && mark.After(lastSeen) {
			lastSeen = mark
		}
		if age := now.Sub(lastSeen); age > l.staleAfter {
			report.Anomalies = append(report.Anomalies, Anomaly{
				Kind:       AnomalyStalePosition,
				PositionID: p.ID,
				Detail:     fmt.Sprintf("%s open with no price refresh for %s", p.Symbol, age.Round(time.Second)),
			})
		}
	}
	l.mu.RUnlock()

	events, err := l.log.Events(ctx)
	if err != nil {
		return report, fmt.Errorf("read event log: %w", err)
	}
	l.mu.RLock()
	for _, ev := range events {
		if _, ok := l.positions[ev.PositionID]; !ok {
			report.Anomalies = append(report.Anomalies, Anomaly{
				Kind:       AnomalyUnknownPosition,
				PositionID: ev.PositionID,
				EventID:    ev.ID,
				Detail:     fmt.Sprintf("event %d references a position absent from the view", ev.ID),
			})
		}
	}
	l.mu.RUnlock()

	if !report.Healthy() {
		l.logger.Warn().Int("anomalies", len(report.Anomalies)).Msg("self-diagnosis found anomalies")
	}
	return report, nil
}
