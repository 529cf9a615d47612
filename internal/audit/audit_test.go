package audit

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/heraerp/heraerp-prd-sub016/internal/logging"
)

type captureSink struct{ events []Event }

func (s *captureSink) Write(event Event) error {
	s.events = append(s.events, event)
	return nil
}

type captureAlerts struct{ events []Event }

func (a *captureAlerts) Alert(event Event) {
	a.events = append(a.events, event)
}

func TestRecordFillsContextFields(t *testing.T) {
	log := NewLog(10, nil, nil, nil)

	ctx := logging.WithRequestID(context.Background(), "rid-1")
	ctx = logging.WithActorID(ctx, "actor-1")
	ctx = logging.WithOrgID(ctx, "org-1")

	log.Record(ctx, SeverityInfo, "test_event", map[string]interface{}{"k": "v"})

	events := log.Recent(0)
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	got := events[0]
	if got.RequestID != "rid-1" || got.ActorID != "actor-1" || got.OrganizationID != "org-1" {
		t.Errorf("context fields = %q/%q/%q", got.RequestID, got.ActorID, got.OrganizationID)
	}
	if got.Type != "test_event" || got.Severity != SeverityInfo {
		t.Errorf("event = %+v", got)
	}
}

func TestRingEviction(t *testing.T) {
	log := NewLog(3, nil, nil, nil)
	ctx := context.Background()

	for _, name := range []string{"a", "b", "c", "d", "e"} {
		log.Record(ctx, SeverityInfo, name, nil)
	}

	events := log.Recent(0)
	if len(events) != 3 {
		t.Fatalf("retained = %d, want 3", len(events))
	}
	for i, want := range []string{"c", "d", "e"} {
		if events[i].Type != want {
			t.Errorf("events[%d].Type = %q, want %q", i, events[i].Type, want)
		}
	}
}

func TestRecentLimit(t *testing.T) {
	log := NewLog(10, nil, nil, nil)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		log.Record(ctx, SeverityInfo, "e", nil)
	}
	if got := len(log.Recent(2)); got != 2 {
		t.Errorf("Recent(2) = %d events", got)
	}
	if got := len(log.Recent(0)); got != 5 {
		t.Errorf("Recent(0) = %d events", got)
	}
}

func TestCriticalEscalatesToAlertSink(t *testing.T) {
	alerts := &captureAlerts{}
	log := NewLog(10, nil, alerts, nil)
	ctx := context.Background()

	log.Record(ctx, SeverityWarn, "warn_event", nil)
	log.Record(ctx, SeverityCritical, "security_violation", nil)

	if len(alerts.events) != 1 {
		t.Fatalf("alerts = %d, want 1", len(alerts.events))
	}
	if alerts.events[0].Type != "security_violation" {
		t.Errorf("alerted type = %q", alerts.events[0].Type)
	}
}

func TestSinkReceivesEveryEvent(t *testing.T) {
	sink := &captureSink{}
	log := NewLog(2, sink, nil, nil)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		log.Record(ctx, SeverityInfo, "e", nil)
	}

	// The sink is append-only even when the ring evicts.
	if len(sink.events) != 4 {
		t.Errorf("sink events = %d, want 4", len(sink.events))
	}
}

func TestRecordBalanceSeverity(t *testing.T) {
	log := NewLog(10, nil, nil, nil)
	ctx := context.Background()

	log.RecordBalance(ctx, "USD", 100, 100, true)
	log.RecordBalance(ctx, "EUR", 100, 90, false)

	events := log.Recent(0)
	if len(events) != 2 {
		t.Fatalf("events = %d", len(events))
	}
	if events[0].Severity != SeverityInfo {
		t.Errorf("balanced severity = %s", events[0].Severity)
	}
	if events[1].Severity != SeverityWarn {
		t.Errorf("unbalanced severity = %s", events[1].Severity)
	}
	if events[1].Details["currency"] != "EUR" {
		t.Errorf("details = %+v", events[1].Details)
	}
}

func TestFileSinkJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	sink, err := NewFileSink(path)
	if err != nil {
		t.Fatalf("NewFileSink: %v", err)
	}
	defer sink.Close()

	log := NewLog(10, sink, nil, nil)
	log.Record(context.Background(), SeverityWarn, "membership_denied", map[string]interface{}{"attempted_org": "org-x"})

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sink file: %v", err)
	}
	var event Event
	if err := json.Unmarshal(raw[:len(raw)-1], &event); err != nil {
		t.Fatalf("decode line: %v", err)
	}
	if event.Type != "membership_denied" || event.Severity != SeverityWarn {
		t.Errorf("event = %+v", event)
	}
}

func TestNilFileSink(t *testing.T) {
	sink, err := NewFileSink("")
	if err != nil {
		t.Fatalf("NewFileSink(\"\"): %v", err)
	}
	if sink != nil {
		t.Fatal("empty path must yield a nil sink")
	}
	// A nil *FileSink is still a safe writer.
	if err := sink.Write(Event{}); err != nil {
		t.Errorf("nil sink Write: %v", err)
	}
}
