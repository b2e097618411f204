package cloudwatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	logtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"

	"github.com/dreschagin/rollout-controller/internal/application/port"
)

const (
	// CloudWatch limits
	maxMetricsPerRequest = 1000
	maxRetries           = 3
	initialBackoff       = 100 * time.Millisecond
)

// SinkConfig holds configuration for the CloudWatch monitoring sink.
type SinkConfig struct {
	Namespace         string            // CloudWatch namespace (e.g., "RolloutController")
	Region            string            // AWS region
	Endpoint          string            // Optional endpoint override (for LocalStack)
	AccessKeyID       string            // AWS access key
	SecretAccessKey   string            // AWS secret key
	DefaultDimensions map[string]string // Dimensions added to every metric
	LogGroupName      string            // Log group receiving error events
	LogStreamName     string            // Log stream receiving error events
	BufferSize        int               // Metric buffer size before auto-flush
	FlushInterval     time.Duration     // Automatic flush interval
}

// Sink publishes rollout metrics to CloudWatch and error events to
// CloudWatch Logs.
type Sink struct {
	metrics           *cloudwatch.Client
	logs              *cloudwatchlogs.Client
	namespace         string
	defaultDimensions map[string]string
	logGroupName      string
	logStreamName     string

	buffer     []cwtypes.MetricDatum
	bufferSize int
	mu         sync.Mutex

	flushTicker *time.Ticker
	stopCh      chan struct{}
	wg          sync.WaitGroup
}

// NewSink creates a CloudWatch-backed monitoring sink.
func NewSink(ctx context.Context, cfg SinkConfig) (*Sink, error) {
	if cfg.Namespace == "" {
		return nil, fmt.Errorf("namespace is required")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("region is required")
	}
	if cfg.LogGroupName == "" {
		return nil, fmt.Errorf("log group name is required")
	}
	if cfg.LogStreamName == "" {
		return nil, fmt.Errorf("log stream name is required")
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 10 * time.Second
	}

	awsCfg, err := buildAWSConfig(ctx, cfg.Region, cfg.Endpoint, cfg.AccessKeyID, cfg.SecretAccessKey)
	if err != nil {
		return nil, fmt.Errorf("failed to build AWS config: %w", err)
	}

	s := &Sink{
		metrics:           cloudwatch.NewFromConfig(awsCfg),
		logs:              cloudwatchlogs.NewFromConfig(awsCfg),
		namespace:         cfg.Namespace,
		defaultDimensions: cfg.DefaultDimensions,
		logGroupName:      cfg.LogGroupName,
		logStreamName:     cfg.LogStreamName,
		buffer:            make([]cwtypes.MetricDatum, 0, cfg.BufferSize),
		bufferSize:        cfg.BufferSize,
		flushTicker:       time.NewTicker(cfg.FlushInterval),
		stopCh:            make(chan struct{}),
	}

	s.wg.Add(1)
	go s.flushLoop()

	return s, nil
}

func (s *Sink) RecordMetric(ctx context.Context, metric port.Metric) error {
	return s.enqueue(ctx, s.datum(metric.Name, metric.Value, cwtypes.StandardUnitCount, metric.Tags))
}

func (s *Sink) RecordLatency(ctx context.Context, name string, duration time.Duration, tags map[string]string) error {
	value := float64(duration.Milliseconds())
	return s.enqueue(ctx, s.datum(name, value, cwtypes.StandardUnitMilliseconds, tags))
}

func (s *Sink) IncrementCounter(ctx context.Context, name string, tags map[string]string) error {
	return s.enqueue(ctx, s.datum(name, 1, cwtypes.StandardUnitCount, tags))
}

func (s *Sink) CaptureDiscrepancy(ctx context.Context, event port.DiscrepancyEvent) error {
	tags := make(map[string]string, len(event.Tags)+1)
	for k, v := range event.Tags {
		tags[k] = v
	}
	tags["severity"] = event.Severity
	return s.enqueue(ctx, s.datum("rollout.discrepancies", float64(event.Count), cwtypes.StandardUnitCount, tags))
}

// RecordError writes the error event as a structured JSON entry to the
// configured CloudWatch Logs stream. Errors bypass the metric buffer so they
// are durable even if the process dies right after reporting.
func (s *Sink) RecordError(ctx context.Context, event port.ErrorEvent) error {
	payload, err := json.Marshal(map[string]interface{}{
		"message":  event.Message,
		"severity": string(event.Severity),
		"context":  event.Context,
		"time":     time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal error event: %w", err)
	}

	_, err = s.logs.PutLogEvents(ctx, &cloudwatchlogs.PutLogEventsInput{
		LogGroupName:  aws.String(s.logGroupName),
		LogStreamName: aws.String(s.logStreamName),
		LogEvents: []logtypes.InputLogEvent{{
			Message:   aws.String(string(payload)),
			Timestamp: aws.Int64(time.Now().UnixMilli()),
		}},
	})
	if err != nil {
		return fmt.Errorf("failed to put log events: %w", err)
	}

	return nil
}

// Flush forces immediate publication of all buffered metrics.
func (s *Sink) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.flushBufferUnsafe(ctx)
}

// Close stops the background flush goroutine and flushes remaining metrics.
func (s *Sink) Close(ctx context.Context) error {
	close(s.stopCh)
	s.flushTicker.Stop()
	s.wg.Wait()

	return s.Flush(ctx)
}

func (s *Sink) enqueue(ctx context.Context, datum cwtypes.MetricDatum) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buffer = append(s.buffer, datum)
	if len(s.buffer) >= s.bufferSize {
		if err := s.flushBufferUnsafe(ctx); err != nil {
			return fmt.Errorf("failed to flush buffer: %w", err)
		}
	}

	return nil
}

// flushLoop runs in a background goroutine and flushes the buffer periodically.
func (s *Sink) flushLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.flushTicker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			// Failures are retried on the next tick.
			_ = s.Flush(ctx)
			cancel()
		case <-s.stopCh:
			return
		}
	}
}

// flushBufferUnsafe flushes the buffer without locking (caller must hold lock).
func (s *Sink) flushBufferUnsafe(ctx context.Context) error {
	if len(s.buffer) == 0 {
		return nil
	}

	// Publish in chunks (CloudWatch limit: 1000 metrics/request)
	for i := 0; i < len(s.buffer); i += maxMetricsPerRequest {
		end := i + maxMetricsPerRequest
		if end > len(s.buffer) {
			end = len(s.buffer)
		}

		if err := s.publishBatchWithRetry(ctx, s.buffer[i:end]); err != nil {
			return fmt.Errorf("failed to publish chunk: %w", err)
		}
	}

	s.buffer = s.buffer[:0]

	return nil
}

// publishBatchWithRetry publishes a batch of metrics with exponential backoff retry.
func (s *Sink) publishBatchWithRetry(ctx context.Context, data []cwtypes.MetricDatum) error {
	var lastErr error
	backoff := initialBackoff

	for attempt := 0; attempt < maxRetries; attempt++ {
		_, err := s.metrics.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
			Namespace:  aws.String(s.namespace),
			MetricData: data,
		})
		if err == nil {
			return nil
		}

		lastErr = err

		if attempt < maxRetries-1 {
			select {
			case <-time.After(backoff):
				backoff *= 2
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	return fmt.Errorf("failed after %d retries: %w", maxRetries, lastErr)
}

// datum converts a named value plus tags into a CloudWatch MetricDatum with
// deterministic dimension ordering.
func (s *Sink) datum(name string, value float64, unit cwtypes.StandardUnit, tags map[string]string) cwtypes.MetricDatum {
	merged := make(map[string]string, len(s.defaultDimensions)+len(tags))
	for k, v := range s.defaultDimensions {
		merged[k] = v
	}
	for k, v := range tags {
		merged[k] = v
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	dimensions := make([]cwtypes.Dimension, 0, len(keys))
	for _, k := range keys {
		dimensions = append(dimensions, cwtypes.Dimension{
			Name:  aws.String(k),
			Value: aws.String(merged[k]),
		})
	}

	return cwtypes.MetricDatum{
		MetricName: aws.String(name),
		Value:      aws.Float64(value),
		Unit:       unit,
		Timestamp:  aws.Time(time.Now()),
		Dimensions: dimensions,
	}
}

// buildAWSConfig creates an AWS config with credentials.
func buildAWSConfig(ctx context.Context, region, endpoint, accessKeyID, secretAccessKey string) (aws.Config, error) {
	optFns := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}

	if accessKeyID != "" && secretAccessKey != "" {
		optFns = append(optFns, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, ""),
		))
	}

	cfg, err := config.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return aws.Config{}, err
	}

	// Override endpoint if specified (for LocalStack testing)
	if endpoint != "" {
		cfg.BaseEndpoint = aws.String(endpoint)
	}

	return cfg, nil
}
