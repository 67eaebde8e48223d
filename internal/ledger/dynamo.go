package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/ignite/catalog-enricher/internal/pkg/logger"
)

// ItemPutter is the subset of *dynamodb.Client used by DynamoRecorder.
type ItemPutter interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// outcomeItem is the DynamoDB item layout.
type outcomeItem struct {
	PK         string   `dynamodbav:"PK"`
	SK         string   `dynamodbav:"SK"`
	Email      string   `dynamodbav:"Email"`
	State      string   `dynamodbav:"State"`
	Error      string   `dynamodbav:"Error,omitempty"`
	ModelIDs   []string `dynamodbav:"ModelIDs,stringset,omitempty"`
	Filename   string   `dynamodbav:"Filename"`
	RowCount   int      `dynamodbav:"RowCount"`
	StartedAt  string   `dynamodbav:"StartedAt"`
	FinishedAt string   `dynamodbav:"FinishedAt"`
	DurationMs int64    `dynamodbav:"DurationMs"`
	TTL        int64    `dynamodbav:"TTL,omitempty"`
}

// DynamoRecorder puts one item per outcome. Items expire through the table's
// TTL attribute.
type DynamoRecorder struct {
	client ItemPutter
	table  string
	ttl    time.Duration
	log    *logger.Logger
}

// NewDynamoRecorder loads AWS config for region (and optional profile).
func NewDynamoRecorder(ctx context.Context, table, region, profile string, ttl time.Duration) (*DynamoRecorder, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(profile))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return newDynamoRecorder(dynamodb.NewFromConfig(cfg), table, ttl), nil
}

func newDynamoRecorder(client ItemPutter, table string, ttl time.Duration) *DynamoRecorder {
	return &DynamoRecorder{client: client, table: table, ttl: ttl, log: logger.With("component", "ledger")}
}

func (r *DynamoRecorder) Record(ctx context.Context, o Outcome) error {
	item := outcomeItem{
		PK:         "JOB#" + o.JobID,
		SK:         "OUTCOME",
		Email:      o.Email,
		State:      o.State,
		Error:      o.Error,
		ModelIDs:   o.ModelIDs,
		Filename:   o.Filename,
		RowCount:   o.RowCount,
		StartedAt:  o.StartedAt.UTC().Format(time.RFC3339),
		FinishedAt: o.FinishedAt.UTC().Format(time.RFC3339),
		DurationMs: o.Duration().Milliseconds(),
	}
	if r.ttl > 0 {
		item.TTL = o.FinishedAt.Add(r.ttl).Unix()
	}

	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("marshaling outcome: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.table),
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("putting outcome to DynamoDB: %w", err)
	}
	r.log.Debug("outcome recorded", "job_id", o.JobID, "state", o.State)
	return nil
}
