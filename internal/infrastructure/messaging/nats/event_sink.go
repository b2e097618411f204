package nats

import (
	"context"
	"time"

	"github.com/dreschagin/rollout-controller/internal/application/port"
)

// EventSink republishes rollout lifecycle events onto the message bus so
// downstream consumers (dashboards, alerting) can react to stage changes
// without polling the controller.
type EventSink struct {
	publisher port.EventPublisher
}

// NewEventSink creates a monitoring sink backed by an event publisher.
func NewEventSink(publisher port.EventPublisher) *EventSink {
	return &EventSink{publisher: publisher}
}

// RecordMetric publishes lifecycle events using the metric name as subject.
// Metric names already follow the "rollout.<event>" convention, which maps
// directly onto the stream's subject space.
func (s *EventSink) RecordMetric(ctx context.Context, metric port.Metric) error {
	return s.publisher.PublishEvent(ctx, metric.Name, map[string]interface{}{
		"name":  metric.Name,
		"value": metric.Value,
		"tags":  metric.Tags,
		"time":  time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *EventSink) RecordError(ctx context.Context, event port.ErrorEvent) error {
	return s.publisher.PublishEvent(ctx, subjectPrefix+".errors", map[string]interface{}{
		"message":  event.Message,
		"severity": string(event.Severity),
		"context":  event.Context,
		"time":     time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *EventSink) CaptureDiscrepancy(ctx context.Context, event port.DiscrepancyEvent) error {
	return s.publisher.PublishEvent(ctx, subjectPrefix+".discrepancies", map[string]interface{}{
		"severity": event.Severity,
		"count":    event.Count,
		"tags":     event.Tags,
		"time":     time.Now().UTC().Format(time.RFC3339),
	})
}

// RecordLatency is a no-op: timing samples are high volume and belong in the
// metrics backends, not on the event stream.
func (s *EventSink) RecordLatency(ctx context.Context, name string, duration time.Duration, tags map[string]string) error {
	return nil
}

// IncrementCounter is a no-op for the same reason as RecordLatency.
func (s *EventSink) IncrementCounter(ctx context.Context, name string, tags map[string]string) error {
	return nil
}
