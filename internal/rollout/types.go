package rollout

import (
	"errors"
	"time"

	"github.com/dreschagin/rollout-controller/internal/application/port"
)

// Stage represents a phase of the progressive rollout.
type Stage string

const (
	StageShadow    Stage = "shadow"
	StageCanary    Stage = "canary"
	StageExpansion Stage = "expansion"
	StageMajority  Stage = "majority"
	StageFull      Stage = "full"
	StageRollback  Stage = "rollback"
)

// Validate checks that the stage is one of the known stages.
func (s Stage) Validate() error {
	switch s {
	case StageShadow, StageCanary, StageExpansion, StageMajority, StageFull, StageRollback:
		return nil
	default:
		return errors.New("invalid rollout stage")
	}
}

// String returns the stage name.
func (s Stage) String() string {
	return string(s)
}

// AlertSeverity grades health alerts.
type AlertSeverity string

const (
	AlertCritical AlertSeverity = "critical"
	AlertHigh     AlertSeverity = "high"
	AlertMedium   AlertSeverity = "medium"
	AlertLow      AlertSeverity = "low"
)

// Alert is a single health finding, ordered by discovery priority.
type Alert struct {
	Severity AlertSeverity `json:"severity"`
	Message  string        `json:"message"`
}

// Recommendation is the evaluator's suggested action.
type Recommendation string

const (
	RecommendProgress Recommendation = "progress"
	RecommendHold     Recommendation = "hold"
	RecommendRollback Recommendation = "rollback"
)

// HealthCheckResult is produced fresh on every evaluation and never cached
// beyond the call that produced it.
type HealthCheckResult struct {
	IsHealthy      bool           `json:"is_healthy"`
	ShouldRollback bool           `json:"should_rollback"`
	Alerts         []Alert        `json:"alerts"`
	Recommendation Recommendation `json:"recommendation"`
}

// TelemetrySnapshot bundles the telemetry reads consumed by one evaluation.
type TelemetrySnapshot struct {
	Discrepancies port.DiscrepancyStats
	Latency       map[string]port.LatencyStats
	Counters      map[string]float64
}

// State is the rollout state owned exclusively by the Manager.
type State struct {
	Target            string    `json:"target"`
	CurrentStage      Stage     `json:"current_stage"`
	CurrentPercentage int       `json:"current_percentage"`
	IsPaused          bool      `json:"is_paused"`
	IsHealthy         bool      `json:"is_healthy"`
	StageEnteredAt    time.Time `json:"stage_entered_at"`
}

// PerformanceMetrics compares tail latency between systems.
type PerformanceMetrics struct {
	CanaryLatencyP99   float64 `json:"canary_latency_p99"`
	BaselineLatencyP99 float64 `json:"baseline_latency_p99"`
	LatencyDegradation float64 `json:"latency_degradation"`
}

// StabilityMetrics compares error rates between systems.
type StabilityMetrics struct {
	CanaryErrorRate   float64 `json:"canary_error_rate"`
	BaselineErrorRate float64 `json:"baseline_error_rate"`
	ErrorRateDelta    float64 `json:"error_rate_delta"`
}

// VolumeMetrics reports request volumes per system.
type VolumeMetrics struct {
	TotalRequests    float64 `json:"total_requests"`
	CanaryRequests   float64 `json:"canary_requests"`
	BaselineRequests float64 `json:"baseline_requests"`
}

// Metrics is a derived snapshot assembled on demand, never persisted.
type Metrics struct {
	Discrepancies port.SeverityCounts `json:"discrepancies"`
	Errors        port.ErrorReport    `json:"errors"`
	Performance   PerformanceMetrics  `json:"performance"`
	Stability     StabilityMetrics    `json:"stability"`
	Volume        VolumeMetrics       `json:"volume"`
}
