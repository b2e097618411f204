package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/dreschagin/rollout-controller/internal/application/port"
)

const reportContentType = "application/json"

// Config holds S3 connection settings for the report archive.
type Config struct {
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// ReportArchive stores rollout reports as JSON objects under
// date-partitioned keys, e.g.
// "rollout-reports/evaluation/2026/03/01/rollback-<uuid>.json".
type ReportArchive struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewReportArchive creates an S3-backed report archive.
func NewReportArchive(ctx context.Context, cfg Config) (*ReportArchive, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	if strings.TrimSpace(cfg.AccessKeyID) == "" || strings.TrimSpace(cfg.SecretAccessKey) == "" {
		return nil, fmt.Errorf("s3 access key id and secret are required")
	}
	if strings.TrimSpace(cfg.Region) == "" {
		cfg.Region = "us-east-1"
	}
	if strings.TrimSpace(cfg.Prefix) == "" {
		cfg.Prefix = "rollout-reports"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(
		ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(options *s3.Options) {
		if endpoint := strings.TrimSpace(cfg.Endpoint); endpoint != "" {
			options.BaseEndpoint = &endpoint
		}
		options.UsePathStyle = cfg.UsePathStyle
	})

	return &ReportArchive{
		client: client,
		bucket: strings.TrimSpace(cfg.Bucket),
		prefix: strings.Trim(strings.TrimSpace(cfg.Prefix), "/"),
	}, nil
}

// Store writes the report and returns its S3 location.
func (a *ReportArchive) Store(ctx context.Context, report port.Report) (string, error) {
	if strings.TrimSpace(report.Target) == "" {
		return "", fmt.Errorf("report target is required")
	}
	if strings.TrimSpace(report.Kind) == "" {
		return "", fmt.Errorf("report kind is required")
	}
	if report.OccurredAt.IsZero() {
		report.OccurredAt = time.Now().UTC()
	}

	body, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal report: %w", err)
	}

	key := a.objectKey(report)
	contentType := reportContentType

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &a.bucket,
		Key:         &key,
		Body:        bytes.NewReader(body),
		ContentType: &contentType,
	})
	if err != nil {
		return "", fmt.Errorf("put report failed: %w", err)
	}

	return fmt.Sprintf("s3://%s/%s", a.bucket, key), nil
}

func (a *ReportArchive) objectKey(report port.Report) string {
	occurred := report.OccurredAt.UTC()
	return fmt.Sprintf("%s/%s/%s/%s-%s.json",
		a.prefix,
		report.Target,
		occurred.Format("2006/01/02"),
		report.Kind,
		uuid.NewString(),
	)
}
