package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	// Application
	"github.com/dreschagin/rollout-controller/internal/application/port"

	// Rollout core
	"github.com/dreschagin/rollout-controller/internal/rollout"

	// Infrastructure
	"github.com/dreschagin/rollout-controller/internal/infrastructure/collector"
	natsInfra "github.com/dreschagin/rollout-controller/internal/infrastructure/messaging/nats"
	wsInfra "github.com/dreschagin/rollout-controller/internal/infrastructure/notification/websocket"
	cwSink "github.com/dreschagin/rollout-controller/internal/infrastructure/observability/cloudwatch"
	"github.com/dreschagin/rollout-controller/internal/infrastructure/observability/fanout"
	promSink "github.com/dreschagin/rollout-controller/internal/infrastructure/observability/prometheus"
	dynamoPersistence "github.com/dreschagin/rollout-controller/internal/infrastructure/persistence/dynamodb"
	s3storage "github.com/dreschagin/rollout-controller/internal/infrastructure/storage/s3"
	pgTelemetry "github.com/dreschagin/rollout-controller/internal/infrastructure/telemetry/postgres"
	redisTelemetry "github.com/dreschagin/rollout-controller/internal/infrastructure/telemetry/redis"

	// Interfaces
	httpInterface "github.com/dreschagin/rollout-controller/internal/interfaces/http"
	"github.com/dreschagin/rollout-controller/internal/interfaces/http/handler"
	"github.com/dreschagin/rollout-controller/internal/interfaces/http/middleware"

	// Shared
	"github.com/dreschagin/rollout-controller/pkg/config"
	"github.com/dreschagin/rollout-controller/pkg/logger"

	_ "github.com/lib/pq"
)

func main() {
	// 1. Загружаем конфигурацию
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Инициализируем logger
	log := logger.New(os.Getenv("LOG_LEVEL"))
	log.Info("Starting Rollout Controller", "target", cfg.Rollout.Target)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Telemetry backend (источник агрегированной телеметрии)
	discrepancies, telemetry, closeTelemetry, err := buildTelemetry(cfg, log)
	if err != nil {
		log.Error("Failed to initialize telemetry backend", err)
		os.Exit(1)
	}
	defer closeTelemetry()

	// 4. Monitoring sinks

	registry := prometheus.NewRegistry()
	sinks := []port.MonitoringSink{promSink.New(registry)}

	var cloudwatchSink *cwSink.Sink
	if cfg.AWS.CloudWatchEnabled {
		cloudwatchSink, err = cwSink.NewSink(ctx, cwSink.SinkConfig{
			Namespace:       cfg.AWS.CloudWatchNamespace,
			Region:          cfg.AWS.Region,
			Endpoint:        cfg.AWS.Endpoint,
			AccessKeyID:     cfg.AWS.AccessKeyID,
			SecretAccessKey: cfg.AWS.SecretAccessKey,
			LogGroupName:    cfg.AWS.LogGroup,
			LogStreamName:   cfg.AWS.LogStream,
			DefaultDimensions: map[string]string{
				"target": cfg.Rollout.Target,
			},
		})
		if err != nil {
			log.Error("Failed to initialize CloudWatch sink", err)
			os.Exit(1)
		}
		sinks = append(sinks, cloudwatchSink)
	}

	var natsPublisher *natsInfra.Publisher
	if cfg.NATS.Enabled {
		natsPublisher, err = natsInfra.NewPublisher(cfg.NATS.URL, log)
		if err != nil {
			log.Error("Failed to connect to NATS", err)
			os.Exit(1)
		}
		defer natsPublisher.Close()
		sinks = append(sinks, natsInfra.NewEventSink(natsPublisher))
	}

	sink := fanout.New(log, sinks...)

	// 5. Optional durable stores

	managerOpts := []rollout.ManagerOption{}

	var transitionLog port.TransitionLog
	if cfg.AWS.DynamoDBEnabled {
		dynamoLog, err := dynamoPersistence.NewTransitionLog(ctx, dynamoPersistence.Config{
			TableName:       cfg.AWS.DynamoDBTable,
			Region:          cfg.AWS.Region,
			Endpoint:        cfg.AWS.Endpoint,
			AccessKeyID:     cfg.AWS.AccessKeyID,
			SecretAccessKey: cfg.AWS.SecretAccessKey,
		})
		if err != nil {
			log.Error("Failed to initialize transition log", err)
			os.Exit(1)
		}
		transitionLog = dynamoLog
		managerOpts = append(managerOpts, rollout.WithTransitionLog(transitionLog))
	} else {
		log.Warn("DynamoDB is disabled, stage transitions will not be persisted")
	}

	if cfg.AWS.S3Enabled {
		reportArchive, err := s3storage.NewReportArchive(ctx, s3storage.Config{
			Bucket:          cfg.AWS.S3Bucket,
			Prefix:          cfg.AWS.S3KeyPrefix,
			Region:          cfg.AWS.Region,
			Endpoint:        cfg.AWS.Endpoint,
			AccessKeyID:     cfg.AWS.AccessKeyID,
			SecretAccessKey: cfg.AWS.SecretAccessKey,
		})
		if err != nil {
			log.Error("Failed to initialize report archive", err)
			os.Exit(1)
		}
		managerOpts = append(managerOpts, rollout.WithReportArchive(reportArchive))
	}

	// 6. WebSocket hub

	hub := wsInfra.NewHub(log)
	go hub.Run()
	managerOpts = append(managerOpts, rollout.WithNotifier(hub))

	// 7. Rollout manager

	stages, err := rollout.NewStageEngine(
		stageDefinitions(cfg.Rollout.StageStableOverrides),
		cfg.Rollout.ProgressionStepPercent,
	)
	if err != nil {
		log.Error("Invalid stage configuration", err)
		os.Exit(1)
	}

	evaluator := rollout.NewHealthEvaluator(rollout.Thresholds{
		HighDiscrepancyPerHour:  cfg.Rollout.DiscrepancyRatePerHour,
		ErrorRateDelta:          cfg.Rollout.ErrorRateDelta,
		LatencyDegradationRatio: cfg.Rollout.LatencyDegradationRatio,
	})

	manager := rollout.NewManager(
		rollout.ManagerConfig{
			Target:                   cfg.Rollout.Target,
			HealthCheckInterval:      cfg.Rollout.HealthCheckInterval,
			ProgressionCheckInterval: cfg.Rollout.ProgressionCheckInterval,
			TelemetryTimeout:         cfg.Rollout.TelemetryTimeout,
		},
		stages,
		evaluator,
		rollout.NewClock(),
		sink,
		discrepancies,
		telemetry,
		log,
		managerOpts...,
	)

	if manager.Start() {
		log.Info("Rollout manager started",
			"health_interval", cfg.Rollout.HealthCheckInterval.String(),
			"progression_interval", cfg.Rollout.ProgressionCheckInterval.String(),
		)
	}

	// 8. Self stats reporter

	selfStats := collector.NewSelfStatsReporter(sink, time.Minute, log)
	selfStats.Start()

	// 9. HTTP interface

	authConfig := middleware.AuthConfig{
		Enabled:     cfg.Security.AuthEnabled,
		BearerToken: cfg.Security.AuthToken,
	}

	rolloutAPIHandler := handler.NewRolloutAPIHandler(manager, transitionLog, log)
	websocketHandler := handler.NewWebSocketHandler(hub, cfg.Security.AllowedOrigins, authConfig, log)

	rateLimiter := middleware.NewIPRateLimiter(cfg.Server.RateLimitPerSecond, cfg.Server.RateLimitBurst)

	router := httpInterface.NewRouter(
		rolloutAPIHandler,
		websocketHandler,
		registry,
		cfg.Security,
		rateLimiter,
		log,
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router.Setup(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info("HTTP server starting", "port", cfg.Server.Port)

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server failed", err)
			os.Exit(1)
		}
	}()

	// 10. Graceful shutdown

	<-sigChan
	log.Info("Shutdown signal received, starting graceful shutdown...")

	manager.Shutdown()
	selfStats.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown error", err)
	}

	if cloudwatchSink != nil {
		if err := cloudwatchSink.Close(shutdownCtx); err != nil {
			log.Error("CloudWatch sink close error", err)
		}
	}

	log.Info("Rollout controller stopped gracefully")
}

// buildTelemetry wires the configured telemetry backend and returns both port
// views plus a close function.
func buildTelemetry(cfg *config.Config, log *logger.Logger) (port.DiscrepancyTelemetry, port.MetricsTelemetry, func(), error) {
	switch cfg.Telemetry.Backend {
	case "redis":
		source, err := redisTelemetry.NewSource(
			cfg.Redis.Host,
			cfg.Redis.Port,
			cfg.Redis.Password,
			cfg.Redis.DB,
			cfg.Telemetry.KeyPrefix,
			cfg.Redis.PoolSize,
			0,
			cfg.Redis.DialTimeout,
			cfg.Redis.ReadTimeout,
			cfg.Redis.WriteTimeout,
		)
		if err != nil {
			return nil, nil, nil, err
		}
		log.Info("Telemetry backend connected", "backend", "redis")
		return source, source, func() { _ = source.Close() }, nil

	case "postgres":
		db, err := sql.Open("postgres", cfg.Database.DSN())
		if err != nil {
			return nil, nil, nil, err
		}

		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
		db.SetConnMaxIdleTime(cfg.Database.ConnMaxIdleTime)

		if err := db.Ping(); err != nil {
			db.Close()
			return nil, nil, nil, err
		}

		source := pgTelemetry.NewSource(db)
		log.Info("Telemetry backend connected", "backend", "postgres")
		return source, source, func() { _ = db.Close() }, nil

	default:
		return nil, nil, nil, fmt.Errorf("unsupported telemetry backend: %s", cfg.Telemetry.Backend)
	}
}

// stageDefinitions applies per-stage stability overrides to the default ladder.
func stageDefinitions(overrides map[string]time.Duration) []rollout.StageDefinition {
	defs := rollout.DefaultStages()
	for i := range defs {
		if d, ok := overrides[string(defs[i].Name)]; ok {
			defs[i].MinStableDuration = d
		}
	}
	return defs
}
