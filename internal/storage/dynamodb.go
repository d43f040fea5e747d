package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/amillerrr/abr-pipeline/pkg/models"
)

const (
	assetSortKey   = "METADATA"
	allAssetsIndex = "GSI1"
	allAssetsKey   = "ALL_ASSETS"
)

// DynamoDBAPI is the subset of the DynamoDB client used by the catalog.
type DynamoDBAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// AssetRepository records asset processing in DynamoDB.
type AssetRepository struct {
	client    DynamoDBAPI
	tableName string
	now       func() time.Time
}

// NewAssetRepository creates an AssetRepository on an existing client.
func NewAssetRepository(client DynamoDBAPI, tableName string) (*AssetRepository, error) {
	if client == nil {
		return nil, errors.New("DynamoDB client is required")
	}
	if tableName == "" {
		return nil, errors.New("DynamoDB table name is required")
	}
	return &AssetRepository{
		client:    client,
		tableName: tableName,
		now:       time.Now,
	}, nil
}

func assetKey(assetID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"pk": &types.AttributeValueMemberS{Value: fmt.Sprintf("ASSET#%s", assetID)},
		"sk": &types.AttributeValueMemberS{Value: assetSortKey},
	}
}

func (r *AssetRepository) timestamp() string {
	return r.now().UTC().Format(time.RFC3339)
}

// StartProcessing writes a processing record for a new run of an asset.
// An existing record for the asset is replaced.
func (r *AssetRepository) StartProcessing(ctx context.Context, record *models.AssetRecord) error {
	now := r.timestamp()

	record.PK = fmt.Sprintf("ASSET#%s", record.AssetID)
	record.SK = assetSortKey
	record.GSI1PK = allAssetsKey
	record.GSI1SK = fmt.Sprintf("%s#%s", now, record.AssetID)
	record.Status = models.StatusProcessing
	record.CreatedAt = now
	record.UpdatedAt = now

	item, err := attributevalue.MarshalMap(record)
	if err != nil {
		return fmt.Errorf("failed to marshal asset: %w", err)
	}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to create asset record: %w", err)
	}
	return nil
}

// CompleteProcessing marks the run as completed with the produced
// manifests. A non-empty partialErr records the formats that failed.
func (r *AssetRepository) CompleteProcessing(ctx context.Context, assetID string, manifests *models.ManifestSet, partialErr string) error {
	now := r.timestamp()

	update := []string{
		"#status = :status",
		"updated_at = :updated_at",
		"processed_at = :processed_at",
		"master_playlist = :master",
		"dash_manifest = :dash",
	}
	values := map[string]types.AttributeValue{
		":status":       &types.AttributeValueMemberS{Value: string(models.StatusCompleted)},
		":updated_at":   &types.AttributeValueMemberS{Value: now},
		":processed_at": &types.AttributeValueMemberS{Value: now},
		":master":       &types.AttributeValueMemberS{Value: manifests.MasterPlaylistPath},
		":dash":         &types.AttributeValueMemberS{Value: manifests.DASHManifestPath},
	}
	if partialErr != "" {
		update = append(update, "error_message = :error")
		values[":error"] = &types.AttributeValueMemberS{Value: partialErr}
	}

	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(r.tableName),
		Key:              assetKey(assetID),
		UpdateExpression: aws.String("SET " + strings.Join(update, ", ")),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: values,
		ConditionExpression:       aws.String("attribute_exists(pk)"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return models.ErrAssetNotFound
		}
		return fmt.Errorf("failed to complete asset: %w", err)
	}
	return nil
}

// FailProcessing marks the run as failed.
func (r *AssetRepository) FailProcessing(ctx context.Context, assetID, errorMessage string) error {
	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(r.tableName),
		Key:              assetKey(assetID),
		UpdateExpression: aws.String("SET #status = :status, updated_at = :updated_at, error_message = :error"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status":     &types.AttributeValueMemberS{Value: string(models.StatusFailed)},
			":updated_at": &types.AttributeValueMemberS{Value: r.timestamp()},
			":error":      &types.AttributeValueMemberS{Value: errorMessage},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to mark asset as failed: %w", err)
	}
	return nil
}

// GetAsset retrieves the record of an asset.
func (r *AssetRepository) GetAsset(ctx context.Context, assetID string) (*models.AssetRecord, error) {
	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key:       assetKey(assetID),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get asset: %w", err)
	}
	if result.Item == nil {
		return nil, models.ErrAssetNotFound
	}

	var record models.AssetRecord
	if err := attributevalue.UnmarshalMap(result.Item, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal asset: %w", err)
	}
	return &record, nil
}

// ListAssets retrieves assets in reverse chronological order.
func (r *AssetRepository) ListAssets(ctx context.Context, limit int32, startKey map[string]types.AttributeValue) ([]models.AssetRecord, map[string]types.AttributeValue, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		IndexName:              aws.String(allAssetsIndex),
		KeyConditionExpression: aws.String("gsi1pk = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: allAssetsKey},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(limit),
	}
	if startKey != nil {
		input.ExclusiveStartKey = startKey
	}

	result, err := r.client.Query(ctx, input)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list assets: %w", err)
	}

	var records []models.AssetRecord
	if err := attributevalue.UnmarshalListOfMaps(result.Items, &records); err != nil {
		return nil, nil, fmt.Errorf("failed to unmarshal assets: %w", err)
	}
	return records, result.LastEvaluatedKey, nil
}
