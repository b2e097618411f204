package rollout

import (
	"strings"
	"testing"
	"time"

	"github.com/dreschagin/rollout-controller/internal/application/port"
)

func cleanSnapshot() TelemetrySnapshot {
	return TelemetrySnapshot{
		Latency:  map[string]port.LatencyStats{},
		Counters: map[string]float64{},
	}
}

func TestEvaluate_CleanSnapshotIsHealthy(t *testing.T) {
	evaluator := NewHealthEvaluator(DefaultThresholds())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	result := evaluator.Evaluate(cleanSnapshot(), now.Add(-time.Hour), now)

	if !result.IsHealthy {
		t.Error("IsHealthy = false, want true")
	}
	if result.ShouldRollback {
		t.Error("ShouldRollback = true, want false")
	}
	if len(result.Alerts) != 0 {
		t.Errorf("Alerts = %+v, want empty", result.Alerts)
	}
	if result.Recommendation != RecommendProgress {
		t.Errorf("Recommendation = %q, want progress", result.Recommendation)
	}
}

func TestEvaluate_CriticalDiscrepancies(t *testing.T) {
	evaluator := NewHealthEvaluator(DefaultThresholds())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	snapshot := cleanSnapshot()
	snapshot.Discrepancies = port.DiscrepancyStats{Total: 3, BySeverity: port.SeverityCounts{Critical: 3}}

	result := evaluator.Evaluate(snapshot, now.Add(-time.Hour), now)

	if !result.ShouldRollback {
		t.Fatal("ShouldRollback = false, want true")
	}
	if result.Recommendation != RecommendRollback {
		t.Errorf("Recommendation = %q, want rollback", result.Recommendation)
	}
	if len(result.Alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(result.Alerts))
	}
	if result.Alerts[0].Severity != AlertCritical {
		t.Errorf("alert severity = %q, want critical", result.Alerts[0].Severity)
	}
	if want := "3 critical discrepancies detected"; result.Alerts[0].Message != want {
		t.Errorf("alert message = %q, want %q", result.Alerts[0].Message, want)
	}
}

func TestEvaluate_HighDiscrepancyRateNormalization(t *testing.T) {
	evaluator := NewHealthEvaluator(DefaultThresholds())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		high      int
		elapsed   time.Duration
		wantAlert bool
	}{
		{"ten per hour alerts", 10, time.Hour, true},
		{"same count over long window passes", 10, 4 * time.Hour, false},
		{"fresh stage uses minimum window", 2, 0, true},
		{"single discrepancy over an hour passes", 1, time.Hour, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snapshot := cleanSnapshot()
			snapshot.Discrepancies = port.DiscrepancyStats{Total: tt.high, BySeverity: port.SeverityCounts{High: tt.high}}

			result := evaluator.Evaluate(snapshot, now.Add(-tt.elapsed), now)

			gotAlert := len(result.Alerts) > 0
			if gotAlert != tt.wantAlert {
				t.Errorf("alerts = %+v, wantAlert %t", result.Alerts, tt.wantAlert)
			}
			if gotAlert {
				if result.Alerts[0].Severity != AlertHigh {
					t.Errorf("alert severity = %q, want high", result.Alerts[0].Severity)
				}
				if !strings.HasPrefix(result.Alerts[0].Message, "High discrepancy rate") {
					t.Errorf("alert message = %q", result.Alerts[0].Message)
				}
				if result.ShouldRollback {
					t.Error("high rate must not force rollback")
				}
				if result.Recommendation != RecommendHold {
					t.Errorf("Recommendation = %q, want hold", result.Recommendation)
				}
			}
		})
	}
}

func TestEvaluate_ErrorRateSpike(t *testing.T) {
	evaluator := NewHealthEvaluator(DefaultThresholds())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	snapshot := cleanSnapshot()
	snapshot.Counters[port.SystemKey(port.MetricEvalRequests, port.SystemUnified)] = 100
	snapshot.Counters[port.SystemKey(port.MetricEvalErrors, port.SystemUnified)] = 10
	snapshot.Counters[port.SystemKey(port.MetricEvalRequests, port.SystemLegacy)] = 100
	snapshot.Counters[port.SystemKey(port.MetricEvalErrors, port.SystemLegacy)] = 2

	result := evaluator.Evaluate(snapshot, now.Add(-time.Hour), now)

	if result.IsHealthy {
		t.Error("IsHealthy = true, want false")
	}
	if len(result.Alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d: %+v", len(result.Alerts), result.Alerts)
	}
	if result.Alerts[0].Severity != AlertHigh {
		t.Errorf("alert severity = %q, want high", result.Alerts[0].Severity)
	}
	if !strings.HasPrefix(result.Alerts[0].Message, "Error rate increased") {
		t.Errorf("alert message = %q", result.Alerts[0].Message)
	}
}

func TestEvaluate_ErrorRateWithinDelta(t *testing.T) {
	evaluator := NewHealthEvaluator(DefaultThresholds())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	snapshot := cleanSnapshot()
	snapshot.Counters[port.SystemKey(port.MetricEvalRequests, port.SystemUnified)] = 100
	snapshot.Counters[port.SystemKey(port.MetricEvalErrors, port.SystemUnified)] = 4
	snapshot.Counters[port.SystemKey(port.MetricEvalRequests, port.SystemLegacy)] = 100
	snapshot.Counters[port.SystemKey(port.MetricEvalErrors, port.SystemLegacy)] = 2

	result := evaluator.Evaluate(snapshot, now.Add(-time.Hour), now)

	if !result.IsHealthy {
		t.Errorf("a 2pp error delta is within the 5pp threshold, got alerts %+v", result.Alerts)
	}
}

func TestEvaluate_LatencyDegradation(t *testing.T) {
	evaluator := NewHealthEvaluator(DefaultThresholds())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		unified   float64
		legacy    float64
		wantAlert bool
	}{
		{"within ratio", 120, 100, false},
		{"beyond ratio", 200, 100, true},
		{"no baseline data", 200, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snapshot := cleanSnapshot()
			snapshot.Latency[port.SystemKey(port.MetricEvalDuration, port.SystemUnified)] = port.LatencyStats{P99: tt.unified}
			snapshot.Latency[port.SystemKey(port.MetricEvalDuration, port.SystemLegacy)] = port.LatencyStats{P99: tt.legacy}

			result := evaluator.Evaluate(snapshot, now.Add(-time.Hour), now)

			gotAlert := len(result.Alerts) > 0
			if gotAlert != tt.wantAlert {
				t.Errorf("alerts = %+v, wantAlert %t", result.Alerts, tt.wantAlert)
			}
			if gotAlert && result.Alerts[0].Severity != AlertMedium {
				t.Errorf("alert severity = %q, want medium", result.Alerts[0].Severity)
			}
		})
	}
}

func TestEvaluate_AlertOrderFollowsDiscoveryPriority(t *testing.T) {
	evaluator := NewHealthEvaluator(DefaultThresholds())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	snapshot := cleanSnapshot()
	snapshot.Discrepancies = port.DiscrepancyStats{
		Total:      21,
		BySeverity: port.SeverityCounts{Critical: 1, High: 20},
	}
	snapshot.Counters[port.SystemKey(port.MetricEvalRequests, port.SystemUnified)] = 100
	snapshot.Counters[port.SystemKey(port.MetricEvalErrors, port.SystemUnified)] = 20
	snapshot.Counters[port.SystemKey(port.MetricEvalRequests, port.SystemLegacy)] = 100
	snapshot.Latency[port.SystemKey(port.MetricEvalDuration, port.SystemUnified)] = port.LatencyStats{P99: 300}
	snapshot.Latency[port.SystemKey(port.MetricEvalDuration, port.SystemLegacy)] = port.LatencyStats{P99: 100}

	result := evaluator.Evaluate(snapshot, now.Add(-time.Hour), now)

	want := []AlertSeverity{AlertCritical, AlertHigh, AlertHigh, AlertMedium}
	if len(result.Alerts) != len(want) {
		t.Fatalf("expected %d alerts, got %d: %+v", len(want), len(result.Alerts), result.Alerts)
	}
	for i, severity := range want {
		if result.Alerts[i].Severity != severity {
			t.Errorf("alert %d severity = %q, want %q", i, result.Alerts[i].Severity, severity)
		}
	}
	if !strings.Contains(result.Alerts[1].Message, "discrepancy rate") {
		t.Errorf("alert 1 = %q, want discrepancy rate before error rate", result.Alerts[1].Message)
	}
}
