package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dreschagin/rollout-controller/internal/application/port"
)

// Key layout under the configured prefix:
//
//	<prefix>:discrepancies            hash  severity -> count
//	<prefix>:latency:<key>            hash  percentile -> milliseconds
//	<prefix>:errors:severity          hash  severity -> count
//	<prefix>:errors:recent            list  JSON-encoded error samples
//	<prefix>:counters                 hash  counter key -> value
//
// The evaluation pipeline maintains these aggregates; this source only reads.

// Source reads rollout telemetry aggregates from Redis.
type Source struct {
	client *redis.Client
	prefix string
}

// NewSource creates a Redis-backed telemetry source and verifies connectivity.
func NewSource(host, port, password string, db int, prefix string, poolSize, minIdleConns int, dialTimeout, readTimeout, writeTimeout time.Duration) (*Source, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%s", host, port),
		Password:     password,
		DB:           db,
		PoolSize:     poolSize,
		MinIdleConns: minIdleConns,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		MaxRetries:   3,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Source{
		client: client,
		prefix: prefix,
	}, nil
}

// Statistics returns the aggregated discrepancy counts.
func (s *Source) Statistics(ctx context.Context) (port.DiscrepancyStats, error) {
	fields, err := s.client.HGetAll(ctx, s.key("discrepancies")).Result()
	if err != nil {
		return port.DiscrepancyStats{}, fmt.Errorf("failed to read discrepancy counts: %w", err)
	}

	stats := port.DiscrepancyStats{}
	for severity, raw := range fields {
		count, err := strconv.Atoi(raw)
		if err != nil {
			return port.DiscrepancyStats{}, fmt.Errorf("invalid discrepancy count for %q: %w", severity, err)
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

	return stats, nil
}

// LatencyReport returns tail-latency percentiles for every tracked key.
func (s *Source) LatencyReport(ctx context.Context) (map[string]port.LatencyStats, error) {
	report := make(map[string]port.LatencyStats)

	for _, system := range []string{port.SystemUnified, port.SystemLegacy} {
		key := port.SystemKey(port.MetricEvalDuration, system)

		fields, err := s.client.HGetAll(ctx, s.key("latency:"+key)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read latency for %q: %w", key, err)
		}
		if len(fields) == 0 {
			continue
		}

		p99, err := strconv.ParseFloat(fields["p99"], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid p99 for %q: %w", key, err)
		}

		report[key] = port.LatencyStats{P99: p99}
	}

	return report, nil
}

// ErrorReport returns aggregated error counts plus recent samples.
func (s *Source) ErrorReport(ctx context.Context) (port.ErrorReport, error) {
	fields, err := s.client.HGetAll(ctx, s.key("errors:severity")).Result()
	if err != nil {
		return port.ErrorReport{}, fmt.Errorf("failed to read error counts: %w", err)
	}

	report := port.ErrorReport{
		BySeverity: make(map[string]int, len(fields)),
	}
	for severity, raw := range fields {
		count, err := strconv.Atoi(raw)
		if err != nil {
			return port.ErrorReport{}, fmt.Errorf("invalid error count for %q: %w", severity, err)
		}
		report.BySeverity[severity] = count
		report.Total += count
	}

	entries, err := s.client.LRange(ctx, s.key("errors:recent"), 0, 49).Result()
	if err != nil {
		return port.ErrorReport{}, fmt.Errorf("failed to read recent errors: %w", err)
	}
	for _, entry := range entries {
		var sample port.ErrorSample
		if err := json.Unmarshal([]byte(entry), &sample); err != nil {
			return port.ErrorReport{}, fmt.Errorf("failed to unmarshal error sample: %w", err)
		}
		report.Recent = append(report.Recent, sample)
	}

	return report, nil
}

// Counters returns all request and error counters.
func (s *Source) Counters(ctx context.Context) (map[string]float64, error) {
	fields, err := s.client.HGetAll(ctx, s.key("counters")).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read counters: %w", err)
	}

	counters := make(map[string]float64, len(fields))
	for name, raw := range fields {
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid counter value for %q: %w", name, err)
		}
		counters[name] = value
	}

	return counters, nil
}

// Close closes the Redis connection.
func (s *Source) Close() error {
	return s.client.Close()
}

func (s *Source) key(suffix string) string {
	return s.prefix + ":" + suffix
}
