package prometheus

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/dreschagin/rollout-controller/internal/application/port"
)

func TestSinkCountsEventsByStage(t *testing.T) {
	sink := New(prometheus.NewRegistry())
	ctx := context.Background()

	_ = sink.RecordMetric(ctx, port.Metric{Name: "rollout.started", Value: 1, Tags: map[string]string{"stage": "shadow"}})
	_ = sink.RecordMetric(ctx, port.Metric{Name: "rollout.started", Value: 1, Tags: map[string]string{"stage": "shadow"}})
	_ = sink.RecordMetric(ctx, port.Metric{Name: "rollout.manual_approval_required", Value: 1, Tags: map[string]string{"next_stage": "canary"}})

	if got := testutil.ToFloat64(sink.eventsTotal.WithLabelValues("rollout.started", "shadow")); got != 2 {
		t.Errorf("started events = %f, want 2", got)
	}
	if got := testutil.ToFloat64(sink.eventsTotal.WithLabelValues("rollout.manual_approval_required", "canary")); got != 1 {
		t.Errorf("approval events = %f, want 1", got)
	}
}

func TestSinkCountsErrorsAndDiscrepancies(t *testing.T) {
	sink := New(prometheus.NewRegistry())
	ctx := context.Background()

	_ = sink.RecordError(ctx, port.ErrorEvent{Message: "boom", Severity: port.ErrorSeverityCritical})
	_ = sink.CaptureDiscrepancy(ctx, port.DiscrepancyEvent{Severity: "critical", Count: 3})
	_ = sink.RecordLatency(ctx, "rollout.health_check.duration", 120*time.Millisecond, nil)
	_ = sink.IncrementCounter(ctx, "rollout.health_checks", nil)

	if got := testutil.ToFloat64(sink.errorsTotal.WithLabelValues("critical")); got != 1 {
		t.Errorf("critical errors = %f, want 1", got)
	}
	if got := testutil.ToFloat64(sink.discrepanciesTotal.WithLabelValues("critical")); got != 3 {
		t.Errorf("critical discrepancies = %f, want 3", got)
	}
	if got := testutil.ToFloat64(sink.countersTotal.WithLabelValues("rollout.health_checks")); got != 1 {
		t.Errorf("counter = %f, want 1", got)
	}
}
