package port

import (
	"context"
	"time"
)

// ErrorSeverity classifies errors reported through the sink.
type ErrorSeverity string

const (
	ErrorSeverityWarning  ErrorSeverity = "warning"
	ErrorSeverityCritical ErrorSeverity = "critical"
)

// Metric is a single observability measurement or lifecycle event.
type Metric struct {
	Name  string
	Value float64
	Tags  map[string]string
}

// ErrorEvent is a failure report with severity and optional context.
type ErrorEvent struct {
	Message  string
	Severity ErrorSeverity
	Context  map[string]interface{}
}

// DiscrepancyEvent summarizes behavioral differences observed between the
// unified and legacy evaluation systems.
type DiscrepancyEvent struct {
	Severity string
	Count    int
	Tags     map[string]string
}

// MonitoringSink receives all controller-initiated observability output.
// Implementations must not block indefinitely; callers pass bounded contexts.
type MonitoringSink interface {
	// RecordMetric records a measurement or lifecycle event.
	RecordMetric(ctx context.Context, metric Metric) error

	// RecordError reports a failure condition with severity and context.
	RecordError(ctx context.Context, event ErrorEvent) error

	// RecordLatency records an operation duration.
	RecordLatency(ctx context.Context, name string, duration time.Duration, tags map[string]string) error

	// IncrementCounter increments a monotonic counter.
	IncrementCounter(ctx context.Context, name string, tags map[string]string) error

	// CaptureDiscrepancy records detected behavioral discrepancies.
	CaptureDiscrepancy(ctx context.Context, event DiscrepancyEvent) error
}
