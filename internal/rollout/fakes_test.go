package rollout

import (
	"context"
	"sync"
	"time"

	"github.com/dreschagin/rollout-controller/internal/application/port"
)

// fakeClock drives the manager's loops over virtual time. Advance fires due
// tasks synchronously, so tests observe loop effects deterministically.
type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	tasks []*fakeTask
}

type fakeTask struct {
	interval time.Duration
	next     time.Time
	fn       func()
	stopped  bool
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Schedule(interval time.Duration, fn func()) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	task := &fakeTask{interval: interval, next: c.now.Add(interval), fn: fn}
	c.tasks = append(c.tasks, task)

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		task.stopped = true
	}
}

// Advance moves virtual time forward, firing each due task in timestamp
// order. Task callbacks run without the clock lock held so they may call
// back into the clock.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)

	for {
		var due *fakeTask
		for _, task := range c.tasks {
			if task.stopped || task.next.After(target) {
				continue
			}
			if due == nil || task.next.Before(due.next) {
				due = task
			}
		}
		if due == nil {
			break
		}

		c.now = due.next
		due.next = due.next.Add(due.interval)
		fn := due.fn
		c.mu.Unlock()
		fn()
		c.mu.Lock()
	}

	c.now = target
	c.mu.Unlock()
}

// fakeSink records every call for assertions.
type fakeSink struct {
	mu            sync.Mutex
	metrics       []port.Metric
	errors        []port.ErrorEvent
	latencies     []string
	counters      []string
	discrepancies []port.DiscrepancyEvent
}

func (s *fakeSink) RecordMetric(_ context.Context, metric port.Metric) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = append(s.metrics, metric)
	return nil
}

func (s *fakeSink) RecordError(_ context.Context, event port.ErrorEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, event)
	return nil
}

func (s *fakeSink) RecordLatency(_ context.Context, name string, _ time.Duration, _ map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latencies = append(s.latencies, name)
	return nil
}

func (s *fakeSink) IncrementCounter(_ context.Context, name string, _ map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters = append(s.counters, name)
	return nil
}

func (s *fakeSink) CaptureDiscrepancy(_ context.Context, event port.DiscrepancyEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.discrepancies = append(s.discrepancies, event)
	return nil
}

func (s *fakeSink) metricCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.metrics)
}

func (s *fakeSink) metricsNamed(name string) []port.Metric {
	s.mu.Lock()
	defer s.mu.Unlock()

	var found []port.Metric
	for _, m := range s.metrics {
		if m.Name == name {
			found = append(found, m)
		}
	}
	return found
}

func (s *fakeSink) errorCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.errors)
}

func (s *fakeSink) lastError() (port.ErrorEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.errors) == 0 {
		return port.ErrorEvent{}, false
	}
	return s.errors[len(s.errors)-1], true
}

// fakeTelemetry serves settable discrepancy, latency, error and counter data
// through both telemetry ports. onStatistics, when set, runs at the start of
// every Statistics call so tests can interleave manager operations with an
// in-flight telemetry read.
type fakeTelemetry struct {
	mu           sync.Mutex
	stats        port.DiscrepancyStats
	latency      map[string]port.LatencyStats
	errors       port.ErrorReport
	counters     map[string]float64
	err          error
	errReportErr error
	onStatistics func()
}

func newFakeTelemetry() *fakeTelemetry {
	return &fakeTelemetry{
		latency:  map[string]port.LatencyStats{},
		counters: map[string]float64{},
	}
}

func (t *fakeTelemetry) Statistics(context.Context) (port.DiscrepancyStats, error) {
	t.mu.Lock()
	hook := t.onStatistics
	t.mu.Unlock()
	if hook != nil {
		hook()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return port.DiscrepancyStats{}, t.err
	}
	return t.stats, nil
}

func (t *fakeTelemetry) LatencyReport(context.Context) (map[string]port.LatencyStats, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return nil, t.err
	}
	return t.latency, nil
}

func (t *fakeTelemetry) ErrorReport(context.Context) (port.ErrorReport, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return port.ErrorReport{}, t.err
	}
	if t.errReportErr != nil {
		return port.ErrorReport{}, t.errReportErr
	}
	return t.errors, nil
}

func (t *fakeTelemetry) Counters(context.Context) (map[string]float64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return nil, t.err
	}
	return t.counters, nil
}

func (t *fakeTelemetry) setCriticalDiscrepancies(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats.BySeverity.Critical = n
	t.stats.Total = n
}

func (t *fakeTelemetry) setHighDiscrepancies(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats.BySeverity.High = n
	t.stats.Total = n
}

// fakeTransitionLog stores records in memory.
type fakeTransitionLog struct {
	mu      sync.Mutex
	records []port.TransitionRecord
}

func (l *fakeTransitionLog) Append(_ context.Context, record port.TransitionRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, record)
	return nil
}

func (l *fakeTransitionLog) Recent(_ context.Context, target string, limit int) ([]port.TransitionRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []port.TransitionRecord
	for i := len(l.records) - 1; i >= 0 && len(out) < limit; i-- {
		if l.records[i].Target == target {
			out = append(out, l.records[i])
		}
	}
	return out, nil
}
