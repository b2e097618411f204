package dynamodb

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/dreschagin/rollout-controller/internal/application/port"
)

const (
	defaultRecentLimit = 20
	maxRecentLimit     = 100

	attrPK         = "PK"
	attrSK         = "SK"
	attrID         = "id"
	attrTarget     = "target"
	attrFromStage  = "from_stage"
	attrToStage    = "to_stage"
	attrPercentage = "percentage"
	attrReason     = "reason"
	attrOccurredAt = "occurred_at"
)

// Config holds DynamoDB connection settings for the transition log.
type Config struct {
	TableName       string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	StrongReads     bool
}

// TransitionLog persists stage-transition audit records in DynamoDB.
//
// Item layout: PK = "TARGET#<target>", SK = "<RFC3339Nano timestamp>#<id>".
// Sort-key ordering gives newest-first reads with ScanIndexForward=false.
type TransitionLog struct {
	client      *dynamodb.Client
	tableName   string
	strongReads bool
}

// NewTransitionLog creates a DynamoDB-backed transition log.
func NewTransitionLog(ctx context.Context, cfg Config) (*TransitionLog, error) {
	if strings.TrimSpace(cfg.TableName) == "" {
		return nil, fmt.Errorf("dynamodb table name is required")
	}

	if strings.TrimSpace(cfg.Region) == "" {
		cfg.Region = "us-east-1"
	}

	loadOptions := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	accessKeyID := strings.TrimSpace(cfg.AccessKeyID)
	secretAccessKey := strings.TrimSpace(cfg.SecretAccessKey)
	if accessKeyID != "" || secretAccessKey != "" {
		if accessKeyID == "" || secretAccessKey == "" {
			return nil, fmt.Errorf("both dynamodb access key id and secret access key are required for static credentials")
		}
		loadOptions = append(loadOptions, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			accessKeyID,
			secretAccessKey,
			"",
		)))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to create aws config for dynamodb: %w", err)
	}

	client := dynamodb.NewFromConfig(awsCfg, func(options *dynamodb.Options) {
		if endpoint := strings.TrimSpace(cfg.Endpoint); endpoint != "" {
			options.BaseEndpoint = &endpoint
		}
	})

	return &TransitionLog{
		client:      client,
		tableName:   strings.TrimSpace(cfg.TableName),
		strongReads: cfg.StrongReads,
	}, nil
}

// Append stores a single transition record.
func (l *TransitionLog) Append(ctx context.Context, record port.TransitionRecord) error {
	if strings.TrimSpace(record.Target) == "" {
		return fmt.Errorf("transition record target is required")
	}
	if strings.TrimSpace(record.ID) == "" {
		return fmt.Errorf("transition record id is required")
	}

	_, err := l.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(l.tableName),
		Item:      toItem(record),
	})
	if err != nil {
		return fmt.Errorf("failed to put transition record: %w", err)
	}

	return nil
}

// Recent returns the latest transitions for a target, newest first.
func (l *TransitionLog) Recent(ctx context.Context, target string, limit int) ([]port.TransitionRecord, error) {
	if strings.TrimSpace(target) == "" {
		return nil, fmt.Errorf("target is required")
	}
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	if limit > maxRecentLimit {
		limit = maxRecentLimit
	}

	out, err := l.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(l.tableName),
		KeyConditionExpression: aws.String("#pk = :pk"),
		ExpressionAttributeNames: map[string]string{
			"#pk": attrPK,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: partitionKey(target)},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(limit)),
		ConsistentRead:   aws.Bool(l.strongReads),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query transitions: %w", err)
	}

	records := make([]port.TransitionRecord, 0, len(out.Items))
	for _, item := range out.Items {
		record, err := fromItem(item)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	return records, nil
}

func partitionKey(target string) string {
	return "TARGET#" + target
}

func sortKey(record port.TransitionRecord) string {
	return record.OccurredAt.UTC().Format(time.RFC3339Nano) + "#" + record.ID
}

func toItem(record port.TransitionRecord) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		attrPK:         &types.AttributeValueMemberS{Value: partitionKey(record.Target)},
		attrSK:         &types.AttributeValueMemberS{Value: sortKey(record)},
		attrID:         &types.AttributeValueMemberS{Value: record.ID},
		attrTarget:     &types.AttributeValueMemberS{Value: record.Target},
		attrFromStage:  &types.AttributeValueMemberS{Value: record.FromStage},
		attrToStage:    &types.AttributeValueMemberS{Value: record.ToStage},
		attrPercentage: &types.AttributeValueMemberN{Value: strconv.Itoa(record.Percentage)},
		attrOccurredAt: &types.AttributeValueMemberS{Value: record.OccurredAt.UTC().Format(time.RFC3339Nano)},
	}
	if record.Reason != "" {
		item[attrReason] = &types.AttributeValueMemberS{Value: record.Reason}
	}
	return item
}

func fromItem(item map[string]types.AttributeValue) (port.TransitionRecord, error) {
	record := port.TransitionRecord{
		ID:        stringAttr(item, attrID),
		Target:    stringAttr(item, attrTarget),
		FromStage: stringAttr(item, attrFromStage),
		ToStage:   stringAttr(item, attrToStage),
		Reason:    stringAttr(item, attrReason),
	}

	if raw, ok := item[attrPercentage].(*types.AttributeValueMemberN); ok {
		pct, err := strconv.Atoi(raw.Value)
		if err != nil {
			return port.TransitionRecord{}, fmt.Errorf("invalid percentage attribute: %w", err)
		}
		record.Percentage = pct
	}

	if raw := stringAttr(item, attrOccurredAt); raw != "" {
		occurredAt, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return port.TransitionRecord{}, fmt.Errorf("invalid occurred_at attribute: %w", err)
		}
		record.OccurredAt = occurredAt
	}

	return record, nil
}

func stringAttr(item map[string]types.AttributeValue, name string) string {
	if raw, ok := item[name].(*types.AttributeValueMemberS); ok {
		return raw.Value
	}
	return ""
}
