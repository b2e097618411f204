package cloudwatch

import (
	"context"
	"testing"
	"time"

	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"github.com/dreschagin/rollout-controller/internal/application/port"
)

func TestNewSink_Validation(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		cfg  SinkConfig
	}{
		{
			name: "missing namespace",
			cfg: SinkConfig{
				Region:        "us-east-1",
				LogGroupName:  "/rollout/errors",
				LogStreamName: "controller",
			},
		},
		{
			name: "missing region",
			cfg: SinkConfig{
				Namespace:     "RolloutController",
				LogGroupName:  "/rollout/errors",
				LogStreamName: "controller",
			},
		},
		{
			name: "missing log group",
			cfg: SinkConfig{
				Namespace:     "RolloutController",
				Region:        "us-east-1",
				LogStreamName: "controller",
			},
		},
		{
			name: "missing log stream",
			cfg: SinkConfig{
				Namespace:    "RolloutController",
				Region:       "us-east-1",
				LogGroupName: "/rollout/errors",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewSink(ctx, tt.cfg); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestSink_Datum(t *testing.T) {
	s := &Sink{
		namespace: "RolloutController",
		defaultDimensions: map[string]string{
			"environment": "production",
		},
	}

	d := s.datum("rollout.stage_transition", 1, cwtypes.StandardUnitCount, map[string]string{
		"target": "evaluation",
		"stage":  "canary",
	})

	if got := *d.MetricName; got != "rollout.stage_transition" {
		t.Errorf("metric name = %q, want %q", got, "rollout.stage_transition")
	}
	if got := *d.Value; got != 1 {
		t.Errorf("value = %v, want 1", got)
	}
	if d.Unit != cwtypes.StandardUnitCount {
		t.Errorf("unit = %v, want Count", d.Unit)
	}

	// Dimensions are sorted by name for deterministic output.
	wantDims := []struct{ name, value string }{
		{"environment", "production"},
		{"stage", "canary"},
		{"target", "evaluation"},
	}
	if len(d.Dimensions) != len(wantDims) {
		t.Fatalf("got %d dimensions, want %d", len(d.Dimensions), len(wantDims))
	}
	for i, want := range wantDims {
		if *d.Dimensions[i].Name != want.name || *d.Dimensions[i].Value != want.value {
			t.Errorf("dimension[%d] = %s=%s, want %s=%s",
				i, *d.Dimensions[i].Name, *d.Dimensions[i].Value, want.name, want.value)
		}
	}
}

func TestSink_DatumTagOverridesDefault(t *testing.T) {
	s := &Sink{
		defaultDimensions: map[string]string{"environment": "production"},
	}

	d := s.datum("rollout.events", 1, cwtypes.StandardUnitCount, map[string]string{
		"environment": "staging",
	})

	if len(d.Dimensions) != 1 {
		t.Fatalf("got %d dimensions, want 1", len(d.Dimensions))
	}
	if got := *d.Dimensions[0].Value; got != "staging" {
		t.Errorf("environment = %q, want %q", got, "staging")
	}
}

func TestSink_EnqueueBuffersUntilLimit(t *testing.T) {
	s := &Sink{
		buffer:     make([]cwtypes.MetricDatum, 0, 10),
		bufferSize: 10,
	}

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := s.enqueue(ctx, s.datum("rollout.events", 1, cwtypes.StandardUnitCount, nil)); err != nil {
			t.Fatalf("enqueue failed: %v", err)
		}
	}

	s.mu.Lock()
	buffered := len(s.buffer)
	s.mu.Unlock()

	if buffered != 5 {
		t.Errorf("buffered = %d, want 5", buffered)
	}
}

func TestSink_CaptureDiscrepancyAddsSeverityDimension(t *testing.T) {
	s := &Sink{
		buffer:     make([]cwtypes.MetricDatum, 0, 10),
		bufferSize: 10,
	}

	event := port.DiscrepancyEvent{
		Severity: "critical",
		Count:    3,
		Tags:     map[string]string{"target": "evaluation"},
	}
	if err := s.CaptureDiscrepancy(context.Background(), event); err != nil {
		t.Fatalf("CaptureDiscrepancy failed: %v", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.buffer) != 1 {
		t.Fatalf("got %d buffered metrics, want 1", len(s.buffer))
	}
	d := s.buffer[0]
	if got := *d.Value; got != 3 {
		t.Errorf("value = %v, want 3", got)
	}

	found := false
	for _, dim := range d.Dimensions {
		if *dim.Name == "severity" && *dim.Value == "critical" {
			found = true
		}
	}
	if !found {
		t.Error("severity dimension not found")
	}
}

func TestSink_RecordLatencyUsesMilliseconds(t *testing.T) {
	s := &Sink{
		buffer:     make([]cwtypes.MetricDatum, 0, 10),
		bufferSize: 10,
	}

	if err := s.RecordLatency(context.Background(), "rollout.health_check.duration", 250*time.Millisecond, nil); err != nil {
		t.Fatalf("RecordLatency failed: %v", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	d := s.buffer[0]
	if d.Unit != cwtypes.StandardUnitMilliseconds {
		t.Errorf("unit = %v, want Milliseconds", d.Unit)
	}
	if got := *d.Value; got != 250 {
		t.Errorf("value = %v, want 250", got)
	}
}
