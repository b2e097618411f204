package postgres

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/dreschagin/rollout-controller/internal/application/port"
)

const discrepancyStatsQuery = `
	SELECT severity, COUNT(*)
	FROM discrepancies
	WHERE observed_at > NOW() - INTERVAL '24 hours'
	GROUP BY severity
`

const latencyReportQuery = `
	SELECT metric_key, percentile_cont(0.99) WITHIN GROUP (ORDER BY duration_ms)
	FROM latency_samples
	WHERE observed_at > NOW() - INTERVAL '1 hour'
	GROUP BY metric_key
`

const errorCountsQuery = `
	SELECT severity, COUNT(*)
	FROM error_events
	WHERE observed_at > NOW() - INTERVAL '1 hour'
	GROUP BY severity
`

const recentErrorsQuery = `
	SELECT message, system, observed_at
	FROM error_events
	ORDER BY observed_at DESC
	LIMIT 50
`

const countersQuery = `
	SELECT counter_key, SUM(value)
	FROM counters
	GROUP BY counter_key
`

// Source reads rollout telemetry aggregates from PostgreSQL. It serves
// deployments where the evaluation pipeline writes its observations to the
// relational store instead of Redis.
type Source struct {
	db *sql.DB
}

// NewSource creates a Postgres-backed telemetry source.
func NewSource(db *sql.DB) *Source {
	return &Source{db: db}
}

func (s *Source) Statistics(ctx context.Context) (port.DiscrepancyStats, error) {
	rows, err := s.db.QueryContext(ctx, discrepancyStatsQuery)
	if err != nil {
		return port.DiscrepancyStats{}, fmt.Errorf("query discrepancy stats: %w", err)
	}
	defer rows.Close()

	stats := port.DiscrepancyStats{}
	for rows.Next() {
		var severity string
		var count int
		if err := rows.Scan(&severity, &count); err != nil {
			return port.DiscrepancyStats{}, fmt.Errorf("scan discrepancy row: %w", err)
		}

		stats.Total += count
		switch severity {
		case "critical":
			stats.BySeverity.Critical = count
		case "high":
			stats.BySeverity.High = count
		case "medium":
			stats.BySeverity.Medium = count
		case "low":
			stats.BySeverity.Low = count
		}
	}

	if err := rows.Err(); err != nil {
		return port.DiscrepancyStats{}, fmt.Errorf("iterate discrepancy rows: %w", err)
	}

	return stats, nil
}

func (s *Source) LatencyReport(ctx context.Context) (map[string]port.LatencyStats, error) {
	rows, err := s.db.QueryContext(ctx, latencyReportQuery)
	if err != nil {
		return nil, fmt.Errorf("query latency report: %w", err)
	}
	defer rows.Close()

	report := make(map[string]port.LatencyStats)
	for rows.Next() {
		var key string
		var p99 float64
		if err := rows.Scan(&key, &p99); err != nil {
			return nil, fmt.Errorf("scan latency row: %w", err)
		}
		report[key] = port.LatencyStats{P99: p99}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate latency rows: %w", err)
	}

	return report, nil
}

func (s *Source) ErrorReport(ctx context.Context) (port.ErrorReport, error) {
	report := port.ErrorReport{
		BySeverity: make(map[string]int),
	}

	rows, err := s.db.QueryContext(ctx, errorCountsQuery)
	if err != nil {
		return port.ErrorReport{}, fmt.Errorf("query error counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var severity string
		var count int
		if err := rows.Scan(&severity, &count); err != nil {
			return port.ErrorReport{}, fmt.Errorf("scan error count row: %w", err)
		}
		report.BySeverity[severity] = count
		report.Total += count
	}
	if err := rows.Err(); err != nil {
		return port.ErrorReport{}, fmt.Errorf("iterate error count rows: %w", err)
	}

	samples, err := s.db.QueryContext(ctx, recentErrorsQuery)
	if err != nil {
		return port.ErrorReport{}, fmt.Errorf("query recent errors: %w", err)
	}
	defer samples.Close()

	for samples.Next() {
		var sample port.ErrorSample
		if err := samples.Scan(&sample.Message, &sample.System, &sample.ObservedAt); err != nil {
			return port.ErrorReport{}, fmt.Errorf("scan error sample row: %w", err)
		}
		report.Recent = append(report.Recent, sample)
	}
	if err := samples.Err(); err != nil {
		return port.ErrorReport{}, fmt.Errorf("iterate error sample rows: %w", err)
	}

	return report, nil
}

func (s *Source) Counters(ctx context.Context) (map[string]float64, error) {
	rows, err := s.db.QueryContext(ctx, countersQuery)
	if err != nil {
		return nil, fmt.Errorf("query counters: %w", err)
	}
	defer rows.Close()

	counters := make(map[string]float64)
	for rows.Next() {
		var key string
		var value float64
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan counter row: %w", err)
		}
		counters[key] = value
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate counter rows: %w", err)
	}

	return counters, nil
}
