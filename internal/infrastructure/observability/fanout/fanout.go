package fanout

import (
	"context"
	"time"

	"github.com/dreschagin/rollout-controller/internal/application/port"
	"github.com/dreschagin/rollout-controller/pkg/logger"
)

// Sink fans every observability call out to all configured sinks. A failing
// sink is logged and skipped so one backend outage never blocks the control
// flow of the rollout manager.
type Sink struct {
	sinks []port.MonitoringSink
	log   *logger.Logger
}

// New creates a fanout sink. Nil entries are ignored.
func New(log *logger.Logger, sinks ...port.MonitoringSink) *Sink {
	filtered := make([]port.MonitoringSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			filtered = append(filtered, s)
		}
	}
	return &Sink{sinks: filtered, log: log.Named("fanout")}
}

func (f *Sink) RecordMetric(ctx context.Context, metric port.Metric) error {
	for _, s := range f.sinks {
		if err := s.RecordMetric(ctx, metric); err != nil {
			f.log.Warn("Sink rejected metric", "name", metric.Name, "error", err.Error())
		}
	}
	return nil
}

func (f *Sink) RecordError(ctx context.Context, event port.ErrorEvent) error {
	for _, s := range f.sinks {
		if err := s.RecordError(ctx, event); err != nil {
			f.log.Warn("Sink rejected error event", "message", event.Message, "error", err.Error())
		}
	}
	return nil
}

func (f *Sink) RecordLatency(ctx context.Context, name string, duration time.Duration, tags map[string]string) error {
	for _, s := range f.sinks {
		if err := s.RecordLatency(ctx, name, duration, tags); err != nil {
			f.log.Warn("Sink rejected latency", "name", name, "error", err.Error())
		}
	}
	return nil
}

func (f *Sink) IncrementCounter(ctx context.Context, name string, tags map[string]string) error {
	for _, s := range f.sinks {
		if err := s.IncrementCounter(ctx, name, tags); err != nil {
			f.log.Warn("Sink rejected counter", "name", name, "error", err.Error())
		}
	}
	return nil
}

func (f *Sink) CaptureDiscrepancy(ctx context.Context, event port.DiscrepancyEvent) error {
	for _, s := range f.sinks {
		if err := s.CaptureDiscrepancy(ctx, event); err != nil {
			f.log.Warn("Sink rejected discrepancy", "severity", event.Severity, "error", err.Error())
		}
	}
	return nil
}
