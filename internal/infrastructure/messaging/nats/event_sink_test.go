package nats

import (
	"context"
	"testing"
	"time"

	"github.com/dreschagin/rollout-controller/internal/application/port"
)

type capturedEvent struct {
	subject string
	event   interface{}
}

type fakePublisher struct {
	events []capturedEvent
}

func (f *fakePublisher) PublishEvent(ctx context.Context, subject string, event interface{}) error {
	f.events = append(f.events, capturedEvent{subject: subject, event: event})
	return nil
}

func (f *fakePublisher) Close() error { return nil }

func TestEventSink_RecordMetricUsesNameAsSubject(t *testing.T) {
	pub := &fakePublisher{}
	sink := NewEventSink(pub)

	err := sink.RecordMetric(context.Background(), port.Metric{
		Name:  "rollout.stage_transition",
		Value: 1,
		Tags:  map[string]string{"from": "shadow", "to": "canary"},
	})
	if err != nil {
		t.Fatalf("RecordMetric failed: %v", err)
	}

	if len(pub.events) != 1 {
		t.Fatalf("got %d events, want 1", len(pub.events))
	}
	if pub.events[0].subject != "rollout.stage_transition" {
		t.Errorf("subject = %q, want %q", pub.events[0].subject, "rollout.stage_transition")
	}
}

func TestEventSink_ErrorsAndDiscrepanciesGetDedicatedSubjects(t *testing.T) {
	pub := &fakePublisher{}
	sink := NewEventSink(pub)
	ctx := context.Background()

	if err := sink.RecordError(ctx, port.ErrorEvent{Message: "boom", Severity: port.ErrorSeverityCritical}); err != nil {
		t.Fatalf("RecordError failed: %v", err)
	}
	if err := sink.CaptureDiscrepancy(ctx, port.DiscrepancyEvent{Severity: "critical", Count: 2}); err != nil {
		t.Fatalf("CaptureDiscrepancy failed: %v", err)
	}

	if pub.events[0].subject != "rollout.errors" {
		t.Errorf("error subject = %q, want %q", pub.events[0].subject, "rollout.errors")
	}
	if pub.events[1].subject != "rollout.discrepancies" {
		t.Errorf("discrepancy subject = %q, want %q", pub.events[1].subject, "rollout.discrepancies")
	}
}

func TestEventSink_LatencyAndCountersAreNotPublished(t *testing.T) {
	pub := &fakePublisher{}
	sink := NewEventSink(pub)
	ctx := context.Background()

	if err := sink.RecordLatency(ctx, "rollout.health_check.duration", 100*time.Millisecond, nil); err != nil {
		t.Fatalf("RecordLatency failed: %v", err)
	}
	if err := sink.IncrementCounter(ctx, "rollout.ticks", nil); err != nil {
		t.Fatalf("IncrementCounter failed: %v", err)
	}

	if len(pub.events) != 0 {
		t.Errorf("got %d events, want 0", len(pub.events))
	}
}
