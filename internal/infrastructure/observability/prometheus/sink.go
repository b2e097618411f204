package prometheus

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dreschagin/rollout-controller/internal/application/port"
)

// Sink exposes rollout observability through prometheus collectors.
type Sink struct {
	eventsTotal        *prometheus.CounterVec
	errorsTotal        *prometheus.CounterVec
	countersTotal      *prometheus.CounterVec
	discrepanciesTotal *prometheus.CounterVec
	operationDuration  *prometheus.HistogramVec
}

// New registers the rollout collectors on the given registry.
func New(registry *prometheus.Registry) *Sink {
	s := &Sink{
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rollout_events_total",
			Help: "Total number of rollout lifecycle events.",
		}, []string{"event", "stage"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rollout_errors_total",
			Help: "Total number of rollout errors by severity.",
		}, []string{"severity"}),
		countersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rollout_counter_total",
			Help: "Generic rollout counters.",
		}, []string{"name"}),
		discrepanciesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rollout_discrepancies_total",
			Help: "Total number of captured discrepancies by severity.",
		}, []string{"severity"}),
		operationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rollout_operation_duration_seconds",
			Help:    "Duration of rollout operations in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"name"}),
	}

	registry.MustRegister(
		s.eventsTotal,
		s.errorsTotal,
		s.countersTotal,
		s.discrepanciesTotal,
		s.operationDuration,
	)

	return s
}

func (s *Sink) RecordMetric(_ context.Context, metric port.Metric) error {
	s.eventsTotal.WithLabelValues(metric.Name, stageTag(metric.Tags)).Inc()
	return nil
}

func (s *Sink) RecordError(_ context.Context, event port.ErrorEvent) error {
	s.errorsTotal.WithLabelValues(string(event.Severity)).Inc()
	return nil
}

func (s *Sink) RecordLatency(_ context.Context, name string, duration time.Duration, _ map[string]string) error {
	s.operationDuration.WithLabelValues(name).Observe(duration.Seconds())
	return nil
}

func (s *Sink) IncrementCounter(_ context.Context, name string, _ map[string]string) error {
	s.countersTotal.WithLabelValues(name).Inc()
	return nil
}

func (s *Sink) CaptureDiscrepancy(_ context.Context, event port.DiscrepancyEvent) error {
	s.discrepanciesTotal.WithLabelValues(event.Severity).Add(float64(event.Count))
	return nil
}

// stageTag extracts the stage label from event tags; transitions carry the
// target stage under next_stage or to.
func stageTag(tags map[string]string) string {
	for _, key := range []string{"stage", "next_stage", "to"} {
		if v, ok := tags[key]; ok {
			return v
		}
	}
	return ""
}
