package collector

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/dreschagin/rollout-controller/internal/application/port"
	"github.com/dreschagin/rollout-controller/pkg/logger"
)

// SelfStatsReporter периодически отправляет метрики самого контроллера
// (CPU, память) в monitoring sink
type SelfStatsReporter struct {
	sink     port.MonitoringSink
	interval time.Duration
	logger   *logger.Logger

	proc   *process.Process
	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// NewSelfStatsReporter создает новый reporter
func NewSelfStatsReporter(sink port.MonitoringSink, interval time.Duration, log *logger.Logger) *SelfStatsReporter {
	if interval <= 0 {
		interval = time.Minute
	}

	// Ошибка возможна только при гонке с завершением процесса
	proc, _ := process.NewProcess(int32(os.Getpid()))

	return &SelfStatsReporter{
		sink:     sink,
		interval: interval,
		logger:   log,
		proc:     proc,
		stopCh:   make(chan struct{}),
	}
}

// Start запускает фоновый сбор метрик
func (r *SelfStatsReporter) Start() {
	r.wg.Add(1)
	go r.loop()
	r.logger.Info("Self stats reporter started", "interval", r.interval.String())
}

// Stop останавливает сбор метрик
func (r *SelfStatsReporter) Stop() {
	r.once.Do(func() {
		close(r.stopCh)
	})
	r.wg.Wait()
}

func (r *SelfStatsReporter) loop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			r.report(ctx)
			cancel()
		case <-r.stopCh:
			return
		}
	}
}

// report собирает и отправляет один снимок метрик
func (r *SelfStatsReporter) report(ctx context.Context) {
	// Использование CPU процессом контроллера
	if r.proc != nil {
		if cpuPercent, err := r.proc.CPUPercentWithContext(ctx); err == nil {
			r.record(ctx, "controller.cpu_percent", cpuPercent)
		}
		if memInfo, err := r.proc.MemoryInfoWithContext(ctx); err == nil {
			r.record(ctx, "controller.memory_rss_mb", float64(memInfo.RSS)/1024/1024)
		}
	}

	// Общая загрузка хоста
	if percentages, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percentages) > 0 {
		r.record(ctx, "host.cpu_percent", percentages[0])
	}
	if vmStat, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		r.record(ctx, "host.memory_percent", vmStat.UsedPercent)
	}

	if err := r.sink.IncrementCounter(ctx, "controller.self_stats.reports", nil); err != nil {
		r.logger.Warn("Failed to increment self stats counter", "error", err.Error())
	}
}

func (r *SelfStatsReporter) record(ctx context.Context, name string, value float64) {
	metric := port.Metric{Name: name, Value: value}
	if err := r.sink.RecordMetric(ctx, metric); err != nil {
		r.logger.Warn("Failed to record self stat", "metric", name, "error", err.Error())
	}
}
