package storage

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-sdk-go-v2/otelaws"

	"github.com/amillerrr/abr-pipeline/internal/config"
)

// Clients bundles the AWS service clients used by the orchestrator.
type Clients struct {
	S3       *s3.Client
	SQS      *sqs.Client
	DynamoDB *dynamodb.Client
}

// LoadAWSConfig loads the shared AWS configuration with OpenTelemetry
// instrumentation.
func LoadAWSConfig(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.AWS.Region),
	)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}

	otelaws.AppendMiddlewares(&awsCfg.APIOptions)
	return awsCfg, nil
}

// NewClients creates the service clients. Clients for services that are not
// configured are left nil.
func NewClients(awsCfg aws.Config, cfg *config.Config) *Clients {
	clients := &Clients{}
	if cfg.AWS.ProcessedBucket != "" {
		clients.S3 = s3.NewFromConfig(awsCfg)
	}
	if cfg.AWS.NotifyQueueURL != "" {
		clients.SQS = sqs.NewFromConfig(awsCfg)
	}
	if cfg.AWS.DynamoDBTable != "" {
		clients.DynamoDB = dynamodb.NewFromConfig(awsCfg)
	}
	return clients
}
