// Package notify publishes asset completion events.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/amillerrr/abr-pipeline/pkg/models"
)

// SQSAPI is the subset of the SQS client used by the publisher.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSPublisher sends completion events to an SQS queue.
type SQSPublisher struct {
	client   SQSAPI
	queueURL string
}

// NewSQSPublisher creates a publisher for queueURL.
func NewSQSPublisher(client SQSAPI, queueURL string) (*SQSPublisher, error) {
	if client == nil {
		return nil, errors.New("SQS client is required")
	}
	if queueURL == "" {
		return nil, errors.New("SQS queue URL is required")
	}
	return &SQSPublisher{client: client, queueURL: queueURL}, nil
}

// Publish sends event as a JSON message.
func (p *SQSPublisher) Publish(ctx context.Context, event *models.CompletionEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrPublishFailed, err)
	}

	status := "completed"
	if event.Error != "" {
		status = "partial"
	}

	_, err = p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"asset_id": {DataType: aws.String("String"), StringValue: aws.String(event.AssetID)},
			"status":   {DataType: aws.String("String"), StringValue: aws.String(status)},
		},
	})
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrPublishFailed, err)
	}
	return nil
}
