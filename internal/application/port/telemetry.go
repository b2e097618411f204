package port

import (
	"context"
	"fmt"
	"time"
)

// System identifiers used to tag per-system telemetry keys.
const (
	SystemUnified = "unified"
	SystemLegacy  = "legacy"
)

// Metric names reported by the evaluation pipeline per system.
const (
	MetricEvalDuration = "evaluation.duration"
	MetricEvalRequests = "evaluation.requests"
	MetricEvalErrors   = "evaluation.errors"
)

// SystemKey builds the per-system telemetry key, e.g.
// "evaluation.requests[system:unified]".
func SystemKey(metric, system string) string {
	return fmt.Sprintf("%s[system:%s]", metric, system)
}

// SeverityCounts breaks a discrepancy total down by severity.
type SeverityCounts struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
}

// DiscrepancyStats is the aggregated discrepancy view consumed by health checks.
type DiscrepancyStats struct {
	Total      int            `json:"total"`
	BySeverity SeverityCounts `json:"by_severity"`
}

// LatencyStats holds tail-latency percentiles for one telemetry key.
type LatencyStats struct {
	P99 float64 `json:"p99"`
}

// ErrorSample is a recently observed error from either system.
type ErrorSample struct {
	Message    string    `json:"message"`
	System     string    `json:"system"`
	ObservedAt time.Time `json:"observed_at"`
}

// ErrorReport aggregates error observations across both systems.
type ErrorReport struct {
	Total      int            `json:"total"`
	BySeverity map[string]int `json:"by_severity"`
	Recent     []ErrorSample  `json:"recent"`
}

// DiscrepancyTelemetry supplies aggregated discrepancy statistics.
type DiscrepancyTelemetry interface {
	Statistics(ctx context.Context) (DiscrepancyStats, error)
}

// MetricsTelemetry supplies latency, error and volume telemetry keyed by
// "<metric>[system:<id>]".
type MetricsTelemetry interface {
	LatencyReport(ctx context.Context) (map[string]LatencyStats, error)
	ErrorReport(ctx context.Context) (ErrorReport, error)
	Counters(ctx context.Context) (map[string]float64, error)
}
