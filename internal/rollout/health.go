package rollout

import (
	"fmt"
	"time"

	"github.com/dreschagin/rollout-controller/internal/application/port"
)

// Thresholds configures the health evaluation checks.
type Thresholds struct {
	// HighDiscrepancyPerHour is the tolerated per-hour rate of high-severity
	// discrepancies, normalized over time spent in the current stage.
	HighDiscrepancyPerHour float64

	// ErrorRateDelta is how far the unified error rate may exceed the legacy
	// error rate before an alert is raised (absolute fraction, 0.05 = 5pp).
	ErrorRateDelta float64

	// LatencyDegradationRatio is the unified/legacy p99 ratio above which
	// latency is considered degraded.
	LatencyDegradationRatio float64

	// MinNormalizationWindow is the minimum elapsed-in-stage window used when
	// normalizing discrepancy counts into a per-hour rate.
	MinNormalizationWindow time.Duration
}

// DefaultThresholds returns the reference thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		HighDiscrepancyPerHour:  5,
		ErrorRateDelta:          0.05,
		LatencyDegradationRatio: 1.5,
		MinNormalizationWindow:  5 * time.Minute,
	}
}

// HealthEvaluator turns a telemetry snapshot plus stage context into a
// verdict with priority-ordered alerts. It holds no mutable state.
type HealthEvaluator struct {
	thresholds Thresholds
}

// NewHealthEvaluator creates an evaluator with the given thresholds.
func NewHealthEvaluator(thresholds Thresholds) *HealthEvaluator {
	if thresholds.MinNormalizationWindow <= 0 {
		thresholds.MinNormalizationWindow = 5 * time.Minute
	}
	return &HealthEvaluator{thresholds: thresholds}
}

// Evaluate runs the checks in fixed priority order: critical discrepancies,
// high discrepancy rate, error-rate spike, latency degradation.
func (e *HealthEvaluator) Evaluate(snapshot TelemetrySnapshot, stageEnteredAt, now time.Time) HealthCheckResult {
	result := HealthCheckResult{Alerts: []Alert{}}

	if critical := snapshot.Discrepancies.BySeverity.Critical; critical > 0 {
		result.Alerts = append(result.Alerts, Alert{
			Severity: AlertCritical,
			Message:  fmt.Sprintf("%d critical discrepancies detected", critical),
		})
		result.ShouldRollback = true
	}

	if rate := e.discrepancyRate(snapshot.Discrepancies.BySeverity.High, stageEnteredAt, now); rate > e.thresholds.HighDiscrepancyPerHour {
		result.Alerts = append(result.Alerts, Alert{
			Severity: AlertHigh,
			Message:  fmt.Sprintf("High discrepancy rate: %.1f/hour exceeds threshold of %.1f/hour", rate, e.thresholds.HighDiscrepancyPerHour),
		})
	}

	unifiedRate := errorRate(snapshot.Counters, port.SystemUnified)
	legacyRate := errorRate(snapshot.Counters, port.SystemLegacy)
	if unifiedRate-legacyRate > e.thresholds.ErrorRateDelta {
		result.Alerts = append(result.Alerts, Alert{
			Severity: AlertHigh,
			Message:  fmt.Sprintf("Error rate increased: unified %.2f%% vs legacy %.2f%%", unifiedRate*100, legacyRate*100),
		})
	}

	unifiedP99 := snapshot.Latency[port.SystemKey(port.MetricEvalDuration, port.SystemUnified)].P99
	legacyP99 := snapshot.Latency[port.SystemKey(port.MetricEvalDuration, port.SystemLegacy)].P99
	if legacyP99 > 0 && unifiedP99 > legacyP99*e.thresholds.LatencyDegradationRatio {
		result.Alerts = append(result.Alerts, Alert{
			Severity: AlertMedium,
			Message:  fmt.Sprintf("Latency degraded: unified p99 %.0fms vs baseline %.0fms", unifiedP99, legacyP99),
		})
	}

	result.IsHealthy = len(result.Alerts) == 0

	switch {
	case result.ShouldRollback:
		result.Recommendation = RecommendRollback
	case len(result.Alerts) > 0:
		result.Recommendation = RecommendHold
	default:
		result.Recommendation = RecommendProgress
	}

	return result
}

// discrepancyRate normalizes a count into a per-hour rate over the time spent
// in the current stage, with a floor on the window so fresh stages do not
// divide by near-zero.
func (e *HealthEvaluator) discrepancyRate(count int, stageEnteredAt, now time.Time) float64 {
	elapsed := now.Sub(stageEnteredAt)
	if elapsed < e.thresholds.MinNormalizationWindow {
		elapsed = e.thresholds.MinNormalizationWindow
	}
	return float64(count) / elapsed.Hours()
}

func errorRate(counters map[string]float64, system string) float64 {
	requests := counters[port.SystemKey(port.MetricEvalRequests, system)]
	if requests <= 0 {
		return 0
	}
	return counters[port.SystemKey(port.MetricEvalErrors, system)] / requests
}
