package rollout

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dreschagin/rollout-controller/internal/application/port"
	"github.com/dreschagin/rollout-controller/pkg/logger"
)

const (
	defaultHealthCheckInterval      = 30 * time.Second
	defaultProgressionCheckInterval = time.Minute
	defaultTelemetryTimeout         = 5 * time.Second
)

// ManagerConfig configures a rollout Manager.
type ManagerConfig struct {
	// Target names the monitored migration target, e.g. "evaluation".
	Target string

	// HealthCheckInterval is the health-check loop period.
	HealthCheckInterval time.Duration

	// ProgressionCheckInterval is the auto-progression loop period.
	ProgressionCheckInterval time.Duration

	// TelemetryTimeout bounds each telemetry read.
	TelemetryTimeout time.Duration
}

// ManagerOption wires optional collaborators into a Manager.
type ManagerOption func(*Manager)

// WithTransitionLog records every stage transition to an audit log.
func WithTransitionLog(log port.TransitionLog) ManagerOption {
	return func(m *Manager) { m.transitions = log }
}

// WithReportArchive archives a report on every rollback.
func WithReportArchive(archive port.ReportArchive) ManagerOption {
	return func(m *Manager) { m.reports = archive }
}

// WithNotifier broadcasts state snapshots on every state change.
func WithNotifier(notifier port.NotificationService) ManagerOption {
	return func(m *Manager) { m.notifier = notifier }
}

// Manager owns the rollout state for one target and drives it with two
// periodic loops: a health-check loop and an auto-progression loop. All
// operations report failures through the monitoring sink and boolean returns;
// none panic, so a host scheduler can call them in a loop unguarded.
type Manager struct {
	cfg           ManagerConfig
	stages        *StageEngine
	evaluator     *HealthEvaluator
	clock         Clock
	sink          port.MonitoringSink
	discrepancies port.DiscrepancyTelemetry
	telemetry     port.MetricsTelemetry
	transitions   port.TransitionLog
	reports       port.ReportArchive
	notifier      port.NotificationService
	log           *logger.Logger

	mu           sync.Mutex
	state        State
	stopHealth   func()
	stopProgress func()
}

// NewManager creates a manager starting in the first stage at its minimum
// percentage. The caller owns the instance; there is no hidden global.
func NewManager(
	cfg ManagerConfig,
	stages *StageEngine,
	evaluator *HealthEvaluator,
	clock Clock,
	sink port.MonitoringSink,
	discrepancies port.DiscrepancyTelemetry,
	telemetry port.MetricsTelemetry,
	log *logger.Logger,
	opts ...ManagerOption,
) *Manager {
	if cfg.HealthCheckInterval <= 0 {
		cfg.HealthCheckInterval = defaultHealthCheckInterval
	}
	if cfg.ProgressionCheckInterval <= 0 {
		cfg.ProgressionCheckInterval = defaultProgressionCheckInterval
	}
	if cfg.TelemetryTimeout <= 0 {
		cfg.TelemetryTimeout = defaultTelemetryTimeout
	}

	first := stages.First()
	m := &Manager{
		cfg:           cfg,
		stages:        stages,
		evaluator:     evaluator,
		clock:         clock,
		sink:          sink,
		discrepancies: discrepancies,
		telemetry:     telemetry,
		log:           log.Named("rollout"),
		state: State{
			Target:            cfg.Target,
			CurrentStage:      first.Name,
			CurrentPercentage: first.MinPercentage,
			IsHealthy:         true,
			StageEnteredAt:    clock.Now(),
		},
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Start arms both loops and resumes loop-driven progression. Starting from
// the rollback state is rejected; a fresh manager is required to restart.
// Calling Start while already running re-arms the loops.
func (m *Manager) Start() bool {
	m.mu.Lock()
	if m.state.CurrentStage == StageRollback {
		m.mu.Unlock()
		m.recordError(port.ErrorSeverityWarning, "Cannot start rollout from rollback state", nil)
		return false
	}

	m.state.IsPaused = false
	stage := m.state.CurrentStage
	m.stopLoopsLocked()
	m.stopHealth = m.clock.Schedule(m.cfg.HealthCheckInterval, m.healthTick)
	m.stopProgress = m.clock.Schedule(m.cfg.ProgressionCheckInterval, m.progressionTick)
	m.mu.Unlock()

	m.recordEvent("rollout.started", map[string]string{"stage": stage.String()})
	m.log.Info("Rollout started", "target", m.cfg.Target, "stage", stage)
	return true
}

// Pause cancels both loops. No loop-driven mutation is observable after it
// returns; explicit API calls still work.
func (m *Manager) Pause() {
	m.mu.Lock()
	m.state.IsPaused = true
	m.stopLoopsLocked()
	stage := m.state.CurrentStage
	m.mu.Unlock()

	m.recordEvent("rollout.paused", map[string]string{"stage": stage.String()})
	m.log.Info("Rollout paused", "target", m.cfg.Target, "stage", stage)
}

// Shutdown stops both loops without changing the rollout stage. Intended for
// process teardown.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.state.IsPaused = true
	m.stopLoopsLocked()
	m.mu.Unlock()
}

// Reset returns the manager to the first stage. Test isolation only; a
// production restart should construct a fresh manager instead.
func (m *Manager) Reset() {
	m.mu.Lock()
	m.stopLoopsLocked()
	first := m.stages.First()
	m.state = State{
		Target:            m.cfg.Target,
		CurrentStage:      first.Name,
		CurrentPercentage: first.MinPercentage,
		IsHealthy:         true,
		StageEnteredAt:    m.clock.Now(),
	}
	m.mu.Unlock()
}

// PerformHealthCheck reads telemetry, evaluates it against the current stage
// context and caches the verdict for the progression loop. Critical
// discrepancies trigger an automatic rollback. No lock is held across the
// telemetry reads.
func (m *Manager) PerformHealthCheck(ctx context.Context) (HealthCheckResult, error) {
	return m.performHealthCheck(ctx, false)
}

// performHealthCheck is the shared health-check path. A loop-driven check
// that finds the rollout paused after its telemetry read discards the stale
// verdict: Pause must win the race against an in-flight tick. Explicit API
// calls always apply their verdict.
func (m *Manager) performHealthCheck(ctx context.Context, loopDriven bool) (HealthCheckResult, error) {
	m.mu.Lock()
	stage := m.state.CurrentStage
	enteredAt := m.state.StageEnteredAt
	m.mu.Unlock()

	startedAt := m.clock.Now()

	snapshot, err := m.collectTelemetry(ctx)
	if err != nil {
		m.mu.Lock()
		if loopDriven && m.state.IsPaused {
			m.mu.Unlock()
			return HealthCheckResult{}, fmt.Errorf("collect telemetry: %w", err)
		}
		m.state.IsHealthy = false
		m.mu.Unlock()
		m.recordError(port.ErrorSeverityWarning, "Health check telemetry read failed", map[string]interface{}{
			"stage": stage.String(),
			"error": err.Error(),
		})
		return HealthCheckResult{}, fmt.Errorf("collect telemetry: %w", err)
	}

	result := m.evaluator.Evaluate(snapshot, enteredAt, m.clock.Now())

	m.mu.Lock()
	if loopDriven && m.state.IsPaused {
		m.mu.Unlock()
		return result, nil
	}
	m.state.IsHealthy = result.IsHealthy
	m.mu.Unlock()

	m.recordEvent("rollout.health_check", map[string]string{
		"stage":          stage.String(),
		"healthy":        fmt.Sprintf("%t", result.IsHealthy),
		"recommendation": string(result.Recommendation),
	})
	m.recordLatency("rollout.health_check.duration", m.clock.Now().Sub(startedAt), map[string]string{"stage": stage.String()})

	if critical := snapshot.Discrepancies.BySeverity.Critical; critical > 0 {
		m.captureDiscrepancy(port.DiscrepancyEvent{
			Severity: string(AlertCritical),
			Count:    critical,
			Tags:     map[string]string{"stage": stage.String()},
		})
	}

	if result.ShouldRollback {
		reason := fmt.Sprintf("%d critical discrepancies detected", snapshot.Discrepancies.BySeverity.Critical)
		m.Rollback(ctx, reason)
	}

	return result, nil
}

// ProgressToNextStage advances the rollout one stage in the fixed order and
// resets the stage timer. It fails while paused, and returns false with no
// side effects at the full stage. Manual-approval stages still transition in
// the same call; the approval signal is advisory for operators.
func (m *Manager) ProgressToNextStage(ctx context.Context) bool {
	m.mu.Lock()
	if m.state.IsPaused {
		m.mu.Unlock()
		m.recordError(port.ErrorSeverityWarning, "Cannot progress while paused", map[string]interface{}{
			"target": m.cfg.Target,
		})
		return false
	}
	if m.state.CurrentStage == StageFull {
		// Nothing beyond full; not an error.
		m.mu.Unlock()
		return false
	}

	next, ok := m.stages.Next(m.state.CurrentStage)
	if !ok {
		m.mu.Unlock()
		return false
	}

	from := m.state.CurrentStage
	m.state.CurrentStage = next.Name
	m.state.CurrentPercentage = next.MinPercentage
	m.state.StageEnteredAt = m.clock.Now()
	snapshot := m.state
	m.mu.Unlock()

	if next.RequiresManualApproval {
		m.recordEvent("rollout.manual_approval_required", map[string]string{"next_stage": next.Name.String()})
	}
	m.recordEvent("rollout.stage_transition", map[string]string{
		"from": from.String(),
		"to":   next.Name.String(),
	})
	m.appendTransition(ctx, port.TransitionRecord{
		ID:         uuid.New().String(),
		Target:     m.cfg.Target,
		FromStage:  from.String(),
		ToStage:    next.Name.String(),
		Percentage: next.MinPercentage,
		OccurredAt: snapshot.StageEnteredAt,
	})
	m.broadcast(snapshot)

	m.log.Info("Stage transition",
		"target", m.cfg.Target,
		"from", from,
		"to", next.Name,
		"percentage", next.MinPercentage,
	)
	return true
}

// Rollback is the emergency-stop path: stage becomes rollback, traffic to the
// unified system drops to zero and both loops are cancelled. Safe to call
// concurrently with an in-flight health check; repeated calls re-assert the
// rolled-back configuration without duplicate reporting.
func (m *Manager) Rollback(ctx context.Context, reason string) {
	m.mu.Lock()
	if m.state.CurrentStage == StageRollback {
		m.state.CurrentPercentage = 0
		m.state.IsHealthy = false
		m.mu.Unlock()
		return
	}

	prior := m.state
	m.state.CurrentStage = StageRollback
	m.state.CurrentPercentage = 0
	m.state.IsHealthy = false
	m.stopLoopsLocked()
	snapshot := m.state
	m.mu.Unlock()

	m.recordError(port.ErrorSeverityCritical, "Emergency rollback initiated: "+reason, map[string]interface{}{
		"target":              m.cfg.Target,
		"previous_stage":      prior.CurrentStage.String(),
		"previous_percentage": prior.CurrentPercentage,
		"reason":              reason,
	})
	m.appendTransition(ctx, port.TransitionRecord{
		ID:         uuid.New().String(),
		Target:     m.cfg.Target,
		FromStage:  prior.CurrentStage.String(),
		ToStage:    StageRollback.String(),
		Percentage: 0,
		Reason:     reason,
		OccurredAt: m.clock.Now(),
	})
	m.archiveReport(ctx, port.Report{
		Target:     m.cfg.Target,
		Kind:       "rollback",
		Reason:     reason,
		Stage:      prior.CurrentStage.String(),
		Percentage: prior.CurrentPercentage,
		OccurredAt: m.clock.Now(),
	})
	m.broadcast(snapshot)

	m.log.Warn("Rollout rolled back",
		"target", m.cfg.Target,
		"reason", reason,
		"previous_stage", prior.CurrentStage,
	)
}

// Metrics assembles a metrics snapshot from the same telemetry sources used
// by PerformHealthCheck, independent of whether a health check has run.
func (m *Manager) Metrics(ctx context.Context) (Metrics, error) {
	snapshot, err := m.collectTelemetry(ctx)
	if err != nil {
		return Metrics{}, fmt.Errorf("collect telemetry: %w", err)
	}

	errCtx, cancel := context.WithTimeout(ctx, m.cfg.TelemetryTimeout)
	defer cancel()
	errReport, err := m.telemetry.ErrorReport(errCtx)
	if err != nil {
		return Metrics{}, fmt.Errorf("error report: %w", err)
	}

	unifiedRequests := snapshot.Counters[port.SystemKey(port.MetricEvalRequests, port.SystemUnified)]
	legacyRequests := snapshot.Counters[port.SystemKey(port.MetricEvalRequests, port.SystemLegacy)]
	unifiedP99 := snapshot.Latency[port.SystemKey(port.MetricEvalDuration, port.SystemUnified)].P99
	legacyP99 := snapshot.Latency[port.SystemKey(port.MetricEvalDuration, port.SystemLegacy)].P99

	metrics := Metrics{
		Discrepancies: snapshot.Discrepancies.BySeverity,
		Errors:        errReport,
		Performance: PerformanceMetrics{
			CanaryLatencyP99:   unifiedP99,
			BaselineLatencyP99: legacyP99,
		},
		Stability: StabilityMetrics{
			CanaryErrorRate:   errorRate(snapshot.Counters, port.SystemUnified),
			BaselineErrorRate: errorRate(snapshot.Counters, port.SystemLegacy),
		},
		Volume: VolumeMetrics{
			TotalRequests:    unifiedRequests + legacyRequests,
			CanaryRequests:   unifiedRequests,
			BaselineRequests: legacyRequests,
		},
	}
	if legacyP99 > 0 {
		metrics.Performance.LatencyDegradation = unifiedP99 / legacyP99
	}
	metrics.Stability.ErrorRateDelta = metrics.Stability.CanaryErrorRate - metrics.Stability.BaselineErrorRate

	return metrics, nil
}

// State returns a copy of the current rollout state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// healthTick runs one health check on behalf of the health-check loop.
func (m *Manager) healthTick() {
	m.mu.Lock()
	paused := m.state.IsPaused
	m.mu.Unlock()
	if paused {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.TelemetryTimeout)
	defer cancel()

	if _, err := m.performHealthCheck(ctx, true); err != nil {
		m.log.Error("Scheduled health check failed", err, "target", m.cfg.Target)
	}
}

// progressionTick ramps the percentage toward the stage maximum when the last
// verdict was healthy and the stage has been stable long enough. It never
// crosses a stage boundary.
func (m *Manager) progressionTick() {
	m.mu.Lock()
	if m.state.IsPaused || !m.state.IsHealthy || m.state.CurrentStage == StageRollback {
		m.mu.Unlock()
		return
	}

	def, ok := m.stages.Definition(m.state.CurrentStage)
	if !ok {
		m.mu.Unlock()
		return
	}
	if m.clock.Now().Sub(m.state.StageEnteredAt) < def.MinStableDuration {
		m.mu.Unlock()
		return
	}

	next := m.stages.NextPercentage(def, m.state.CurrentPercentage)
	if next == m.state.CurrentPercentage {
		m.mu.Unlock()
		return
	}

	m.state.CurrentPercentage = next
	snapshot := m.state
	m.mu.Unlock()

	m.recordEvent("rollout.auto_progression", map[string]string{
		"stage":      snapshot.CurrentStage.String(),
		"percentage": fmt.Sprintf("%d", next),
	})
	m.broadcast(snapshot)

	m.log.Info("Auto-progression advanced percentage",
		"target", m.cfg.Target,
		"stage", snapshot.CurrentStage,
		"percentage", next,
	)
}

// collectTelemetry reads the telemetry the health evaluator consumes, under
// the configured timeout. The error report is not part of the evaluation
// inputs; Metrics fetches it separately.
func (m *Manager) collectTelemetry(ctx context.Context) (TelemetrySnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.TelemetryTimeout)
	defer cancel()

	stats, err := m.discrepancies.Statistics(ctx)
	if err != nil {
		return TelemetrySnapshot{}, fmt.Errorf("discrepancy statistics: %w", err)
	}

	latency, err := m.telemetry.LatencyReport(ctx)
	if err != nil {
		return TelemetrySnapshot{}, fmt.Errorf("latency report: %w", err)
	}

	counters, err := m.telemetry.Counters(ctx)
	if err != nil {
		return TelemetrySnapshot{}, fmt.Errorf("counters: %w", err)
	}

	return TelemetrySnapshot{
		Discrepancies: stats,
		Latency:       latency,
		Counters:      counters,
	}, nil
}

// stopLoopsLocked cancels both loops. Caller must hold the mutex.
func (m *Manager) stopLoopsLocked() {
	if m.stopHealth != nil {
		m.stopHealth()
		m.stopHealth = nil
	}
	if m.stopProgress != nil {
		m.stopProgress()
		m.stopProgress = nil
	}
}

func (m *Manager) recordEvent(name string, tags map[string]string) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.TelemetryTimeout)
	defer cancel()

	if err := m.sink.RecordMetric(ctx, port.Metric{Name: name, Value: 1, Tags: tags}); err != nil {
		m.log.Warn("Failed to record metric", "name", name, "error", err.Error())
	}
}

func (m *Manager) recordError(severity port.ErrorSeverity, message string, fields map[string]interface{}) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.TelemetryTimeout)
	defer cancel()

	if err := m.sink.RecordError(ctx, port.ErrorEvent{Message: message, Severity: severity, Context: fields}); err != nil {
		m.log.Warn("Failed to record error", "message", message, "error", err.Error())
	}
}

func (m *Manager) recordLatency(name string, duration time.Duration, tags map[string]string) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.TelemetryTimeout)
	defer cancel()

	if err := m.sink.RecordLatency(ctx, name, duration, tags); err != nil {
		m.log.Warn("Failed to record latency", "name", name, "error", err.Error())
	}
}

func (m *Manager) captureDiscrepancy(event port.DiscrepancyEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.TelemetryTimeout)
	defer cancel()

	if err := m.sink.CaptureDiscrepancy(ctx, event); err != nil {
		m.log.Warn("Failed to capture discrepancy", "error", err.Error())
	}
}

func (m *Manager) appendTransition(ctx context.Context, record port.TransitionRecord) {
	if m.transitions == nil {
		return
	}
	if err := m.transitions.Append(ctx, record); err != nil {
		m.log.Warn("Failed to append transition record",
			"from", record.FromStage,
			"to", record.ToStage,
			"error", err.Error(),
		)
	}
}

func (m *Manager) archiveReport(ctx context.Context, report port.Report) {
	if m.reports == nil {
		return
	}
	if _, err := m.reports.Store(ctx, report); err != nil {
		m.log.Warn("Failed to archive report", "kind", report.Kind, "error", err.Error())
	}
}

func (m *Manager) broadcast(snapshot State) {
	if m.notifier == nil {
		return
	}
	m.notifier.Broadcast(snapshot)
}
