// Package audit records append-only security and compliance events.
package audit

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/heraerp/heraerp-prd-sub016/internal/logging"
	"github.com/heraerp/heraerp-prd-sub016/internal/metrics"
)

// Severity classifies an audit event.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarn     Severity = "warn"
	SeverityCritical Severity = "critical"
)

// Event is one append-only audit record. Events are never mutated after
// emission.
type Event struct {
	Time           time.Time              `json:"time"`
	Severity       Severity               `json:"severity"`
	Type           string                 `json:"type"`
	RequestID      string                 `json:"request_id,omitempty"`
	ActorID        string                 `json:"actor_id,omitempty"`
	OrganizationID string                 `json:"organization_id,omitempty"`
	Details        map[string]interface{} `json:"details,omitempty"`
}

// Sink persists audit events.
type Sink interface {
	Write(event Event) error
}

// AlertSink receives critical events for external escalation.
type AlertSink interface {
	Alert(event Event)
}

// Log buffers recent audit events in memory and forwards them to an optional
// sink. Critical events are additionally escalated to the alert sink.
type Log struct {
	mu      sync.Mutex
	entries []Event
	max     int
	sink    Sink
	alerts  AlertSink
	logger  *logging.Logger
}

// NewLog creates an audit log retaining up to max recent entries.
func NewLog(max int, sink Sink, alerts AlertSink, logger *logging.Logger) *Log {
	if max <= 0 {
		max = 1000
	}
	return &Log{max: max, sink: sink, alerts: alerts, logger: logger}
}

// Record emits one audit event, filling actor/org/request fields from ctx.
func (l *Log) Record(ctx context.Context, severity Severity, eventType string, details map[string]interface{}) {
	event := Event{
		Time:           time.Now().UTC(),
		Severity:       severity,
		Type:           eventType,
		RequestID:      logging.GetRequestID(ctx),
		ActorID:        logging.GetActorID(ctx),
		OrganizationID: logging.GetOrgID(ctx),
		Details:        details,
	}
	l.add(event)
	metrics.RecordAuditEvent(string(severity))

	if l.logger != nil {
		entry := l.logger.WithContext(ctx).WithField("audit_type", eventType)
		switch severity {
		case SeverityCritical:
			entry.Error("audit event")
		case SeverityWarn:
			entry.Warn("audit event")
		default:
			entry.Info("audit event")
		}
	}

	if severity == SeverityCritical && l.alerts != nil {
		l.alerts.Alert(event)
	}
}

// RecordBalance emits a balance-audit record for one currency group.
func (l *Log) RecordBalance(ctx context.Context, currency string, debits, credits float64, balanced bool) {
	severity := SeverityInfo
	if !balanced {
		severity = SeverityWarn
	}
	l.Record(ctx, severity, "balance_audit", map[string]interface{}{
		"currency": currency,
		"debits":   debits,
		"credits":  credits,
		"balanced": balanced,
	})
}

func (l *Log) add(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, event)
	if len(l.entries) > l.max {
		l.entries = l.entries[len(l.entries)-l.max:]
	}
	if l.sink != nil {
		// Best-effort persistence; ignore errors to avoid impacting request flow.
		_ = l.sink.Write(event)
	}
}

// Recent returns up to limit of the most recent events, oldest first.
func (l *Log) Recent(limit int) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	if limit <= 0 || limit > l.max {
		limit = l.max
	}
	n := len(l.entries)
	if n > limit {
		n = limit
	}
	out := make([]Event, n)
	copy(out, l.entries[len(l.entries)-n:])
	return out
}

// FileSink appends audit events as JSONL.
type FileSink struct {
	mu   sync.Mutex
	file *os.File
}

// NewFileSink opens (or creates) the JSONL audit file at path. An empty path
// yields a nil sink.
func NewFileSink(path string) (*FileSink, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, err
	}
	return &FileSink{file: f}, nil
}

func (s *FileSink) Write(event Event) error {
	if s == nil || s.file == nil {
		return nil
	}
	b, err := json.Marshal(event)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.file.Write(append(b, '\n'))
	return err
}

// Close closes the underlying file.
func (s *FileSink) Close() error {
	if s == nil || s.file == nil {
		return nil
	}
	return s.file.Close()
}

// LogAlertSink escalates critical events to the error log with an alert
// marker. Production deployments replace it with a pager integration.
type LogAlertSink struct {
	Logger *logging.Logger
}

func (s *LogAlertSink) Alert(event Event) {
	if s == nil || s.Logger == nil {
		return
	}
	s.Logger.WithFields(map[string]interface{}{
		"alert":           true,
		"audit_type":      event.Type,
		"actor_id":        event.ActorID,
		"organization_id": event.OrganizationID,
		"request_id":      event.RequestID,
	}).Error("critical audit event")
}
