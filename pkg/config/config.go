package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Rollout   RolloutConfig
	Telemetry TelemetryConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	NATS      NATSConfig
	AWS       AWSConfig
	Security  SecurityConfig
}

type ServerConfig struct {
	Port               string
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	IdleTimeout        time.Duration
	ShutdownTimeout    time.Duration
	RateLimitPerSecond float64
	RateLimitBurst     int
}

type RolloutConfig struct {
	Target                   string
	HealthCheckInterval      time.Duration
	ProgressionCheckInterval time.Duration
	ProgressionStepPercent   int
	TelemetryTimeout         time.Duration

	DiscrepancyRatePerHour  float64
	ErrorRateDelta          float64
	LatencyDegradationRatio float64

	StageStableOverrides map[string]time.Duration
}

type TelemetryConfig struct {
	// Backend selects where aggregated telemetry is read from: "redis" or
	// "postgres".
	Backend   string
	KeyPrefix string
}

type DatabaseConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	Database        string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

type RedisConfig struct {
	Host         string
	Port         string
	Password     string
	DB           int
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type NATSConfig struct {
	Enabled bool
	URL     string
}

type AWSConfig struct {
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string

	CloudWatchEnabled   bool
	CloudWatchNamespace string
	LogGroup            string
	LogStream           string

	DynamoDBEnabled bool
	DynamoDBTable   string

	S3Enabled   bool
	S3Bucket    string
	S3KeyPrefix string
}

type SecurityConfig struct {
	AuthEnabled    bool
	AuthToken      string
	AllowedOrigins []string
}

func Load() (*Config, error) {
	// A missing .env file is fine; environment variables win either way.
	_ = godotenv.Load()

	healthInterval, err := time.ParseDuration(getEnv("HEALTH_CHECK_INTERVAL", "30s"))
	if err != nil {
		return nil, fmt.Errorf("invalid HEALTH_CHECK_INTERVAL: %w", err)
	}

	progressionInterval, err := time.ParseDuration(getEnv("PROGRESSION_CHECK_INTERVAL", "1m"))
	if err != nil {
		return nil, fmt.Errorf("invalid PROGRESSION_CHECK_INTERVAL: %w", err)
	}

	telemetryTimeout, err := time.ParseDuration(getEnv("TELEMETRY_TIMEOUT", "5s"))
	if err != nil {
		return nil, fmt.Errorf("invalid TELEMETRY_TIMEOUT: %w", err)
	}

	stepPercent, err := strconv.Atoi(getEnv("PROGRESSION_STEP_PERCENT", "5"))
	if err != nil {
		return nil, fmt.Errorf("invalid PROGRESSION_STEP_PERCENT: %w", err)
	}

	discrepancyRate, err := strconv.ParseFloat(getEnv("DISCREPANCY_RATE_PER_HOUR", "5"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid DISCREPANCY_RATE_PER_HOUR: %w", err)
	}

	errorRateDelta, err := strconv.ParseFloat(getEnv("ERROR_RATE_DELTA", "0.05"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid ERROR_RATE_DELTA: %w", err)
	}

	latencyRatio, err := strconv.ParseFloat(getEnv("LATENCY_DEGRADATION_RATIO", "1.5"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid LATENCY_DEGRADATION_RATIO: %w", err)
	}

	stableOverrides, err := loadStageStableOverrides()
	if err != nil {
		return nil, err
	}

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	rateLimit, err := strconv.ParseFloat(getEnv("API_RATE_LIMIT_PER_SECOND", "10"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid API_RATE_LIMIT_PER_SECOND: %w", err)
	}

	rateBurst, err := strconv.Atoi(getEnv("API_RATE_LIMIT_BURST", "20"))
	if err != nil {
		return nil, fmt.Errorf("invalid API_RATE_LIMIT_BURST: %w", err)
	}

	backend := getEnv("TELEMETRY_BACKEND", "redis")
	switch backend {
	case "redis", "postgres":
	default:
		return nil, fmt.Errorf("invalid TELEMETRY_BACKEND %q: must be redis or postgres", backend)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("SERVER_PORT", "8080"),
			ReadTimeout:        10 * time.Second,
			WriteTimeout:       10 * time.Second,
			IdleTimeout:        60 * time.Second,
			ShutdownTimeout:    30 * time.Second,
			RateLimitPerSecond: rateLimit,
			RateLimitBurst:     rateBurst,
		},
		Rollout: RolloutConfig{
			Target:                   getEnv("ROLLOUT_TARGET", "evaluation"),
			HealthCheckInterval:      healthInterval,
			ProgressionCheckInterval: progressionInterval,
			ProgressionStepPercent:   stepPercent,
			TelemetryTimeout:         telemetryTimeout,
			DiscrepancyRatePerHour:   discrepancyRate,
			ErrorRateDelta:           errorRateDelta,
			LatencyDegradationRatio:  latencyRatio,
			StageStableOverrides:     stableOverrides,
		},
		Telemetry: TelemetryConfig{
			Backend:   backend,
			KeyPrefix: getEnv("TELEMETRY_KEY_PREFIX", "rollout"),
		},
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnv("DB_PORT", "5432"),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", "postgres"),
			Database:        getEnv("DB_NAME", "rollout"),
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
			ConnMaxIdleTime: 10 * time.Minute,
		},
		Redis: RedisConfig{
			Host:         getEnv("REDIS_HOST", "localhost"),
			Port:         getEnv("REDIS_PORT", "6379"),
			Password:     getEnv("REDIS_PASSWORD", ""),
			DB:           redisDB,
			PoolSize:     10,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		NATS: NATSConfig{
			Enabled: getEnvBool("NATS_ENABLED", false),
			URL:     getEnv("NATS_URL", "nats://localhost:4222"),
		},
		AWS: AWSConfig{
			Region:              getEnv("AWS_REGION", "us-east-1"),
			Endpoint:            getEnv("AWS_ENDPOINT", ""),
			AccessKeyID:         getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:     getEnv("AWS_SECRET_ACCESS_KEY", ""),
			CloudWatchEnabled:   getEnvBool("CLOUDWATCH_ENABLED", false),
			CloudWatchNamespace: getEnv("CLOUDWATCH_NAMESPACE", "RolloutController"),
			LogGroup:            getEnv("CLOUDWATCH_LOG_GROUP", "/rollout-controller/errors"),
			LogStream:           getEnv("CLOUDWATCH_LOG_STREAM", "controller"),
			DynamoDBEnabled:     getEnvBool("DYNAMODB_ENABLED", false),
			DynamoDBTable:       getEnv("DYNAMODB_TABLE", "rollout-transitions"),
			S3Enabled:           getEnvBool("S3_ENABLED", false),
			S3Bucket:            getEnv("S3_BUCKET", ""),
			S3KeyPrefix:         getEnv("S3_KEY_PREFIX", "rollouts"),
		},
		Security: SecurityConfig{
			AuthEnabled:    getEnvBool("AUTH_ENABLED", false),
			AuthToken:      getEnv("AUTH_BEARER_TOKEN", ""),
			AllowedOrigins: splitList(getEnv("WS_ALLOWED_ORIGINS", "")),
		},
	}

	if cfg.Security.AuthEnabled && cfg.Security.AuthToken == "" {
		return nil, fmt.Errorf("AUTH_BEARER_TOKEN is required when AUTH_ENABLED=true")
	}
	if cfg.AWS.S3Enabled && cfg.AWS.S3Bucket == "" {
		return nil, fmt.Errorf("S3_BUCKET is required when S3_ENABLED=true")
	}

	return cfg, nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.Host, c.Port, c.User, c.Password, c.Database)
}

// loadStageStableOverrides reads STAGE_<NAME>_MIN_STABLE for each stage,
// e.g. STAGE_CANARY_MIN_STABLE=2h.
func loadStageStableOverrides() (map[string]time.Duration, error) {
	overrides := make(map[string]time.Duration)

	for _, stage := range []string{"shadow", "canary", "expansion", "majority", "full"} {
		key := fmt.Sprintf("STAGE_%s_MIN_STABLE", strings.ToUpper(stage))
		raw := os.Getenv(key)
		if raw == "" {
			continue
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", key, err)
		}
		overrides[stage] = d
	}

	return overrides, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}

	return parsed
}

func splitList(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}

	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
