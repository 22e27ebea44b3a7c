package repository

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"visitstats/internal/domain"
	apperrors "visitstats/pkg/errors"
	"visitstats/pkg/logger"
)

// DynamoDBAPI is the subset of the DynamoDB client used by the repository
type DynamoDBAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// dynamoItem is the table layout: partition key "id" holds the dedup key
type dynamoItem struct {
	ID        string `dynamodbav:"id"`
	IPAddress string `dynamodbav:"ipAddress,omitempty"`
	Date      string `dynamodbav:"date,omitempty"`
	Timestamp string `dynamodbav:"timestamp,omitempty"`
	CreatedAt string `dynamodbav:"createdAt,omitempty"`
}

func (i *dynamoItem) record() *domain.VisitRecord {
	return &domain.VisitRecord{
		DedupKey:         i.ID,
		ClientAddress:    i.IPAddress,
		BucketDate:       i.Date,
		ArrivalTimestamp: i.Timestamp,
		CreatedAt:        i.CreatedAt,
	}
}

type dynamoVisitRepository struct {
	client DynamoDBAPI
	table  string
	logger *logger.Logger
}

// NewDynamoVisitRepository creates a DynamoDB visit repository for the given table
func NewDynamoVisitRepository(client DynamoDBAPI, table string, log *logger.Logger) VisitRepository {
	return &dynamoVisitRepository{
		client: client,
		table:  table,
		logger: log,
	}
}

// PutIfAbsent writes with attribute_not_exists(id) so a concurrent insert of
// the same key fails the condition instead of overwriting.
func (r *dynamoVisitRepository) PutIfAbsent(ctx context.Context, record *domain.VisitRecord) (domain.InsertResult, error) {
	item, err := attributevalue.MarshalMap(dynamoItem{
		ID:        record.DedupKey,
		IPAddress: record.ClientAddress,
		Date:      record.BucketDate,
		Timestamp: record.ArrivalTimestamp,
		CreatedAt: record.CreatedAt,
	})
	if err != nil {
		return 0, apperrors.NewInternalError("failed to encode visit", err)
	}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(id)"),
	})
	if err != nil {
		var conditionFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
			return domain.AlreadyExists, nil
		}
		return 0, apperrors.NewStorageError("failed to insert visit", err)
	}
	return domain.Inserted, nil
}

func (r *dynamoVisitRepository) GetByKey(ctx context.Context, key string) (*domain.VisitRecord, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.table),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: key},
		},
	})
	if err != nil {
		return nil, apperrors.NewStorageError("failed to get visit", err)
	}
	if out.Item == nil {
		return nil, nil
	}

	var item dynamoItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, apperrors.NewStorageError("malformed visit item", err)
	}
	return item.record(), nil
}

// ScanAll follows LastEvaluatedKey until the table is exhausted. Items that do
// not decode are logged and kept with whatever string attributes they carry.
func (r *dynamoVisitRepository) ScanAll(ctx context.Context) ([]*domain.VisitRecord, error) {
	paginator := dynamodb.NewScanPaginator(r.client, &dynamodb.ScanInput{
		TableName: aws.String(r.table),
	})

	var records []*domain.VisitRecord
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, apperrors.NewStorageError("failed to scan visits", err)
		}
		for _, raw := range page.Items {
			var item dynamoItem
			if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
				r.logger.WithError(err).Warn("Malformed visit item in DynamoDB")
				item = salvageItem(raw)
			}
			records = append(records, item.record())
		}
	}
	return records, nil
}

func (r *dynamoVisitRepository) Count(ctx context.Context) (int64, error) {
	paginator := dynamodb.NewScanPaginator(r.client, &dynamodb.ScanInput{
		TableName: aws.String(r.table),
		Select:    types.SelectCount,
	})

	var total int64
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return 0, apperrors.NewStorageError("failed to count visits", err)
		}
		total += int64(page.Count)
	}
	return total, nil
}

func (r *dynamoVisitRepository) Health(ctx context.Context) error {
	_, err := r.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(r.table),
	})
	if err != nil {
		return apperrors.NewStorageError("dynamodb table unreachable", err)
	}
	return nil
}

// salvageItem copies the string attributes of an item whose shape does not
// match dynamoItem, e.g. a timestamp stored as a number.
func salvageItem(raw map[string]types.AttributeValue) dynamoItem {
	str := func(name string) string {
		if v, ok := raw[name].(*types.AttributeValueMemberS); ok {
			return v.Value
		}
		return ""
	}
	return dynamoItem{
		ID:        str("id"),
		IPAddress: str("ipAddress"),
		Date:      str("date"),
		Timestamp: str("timestamp"),
		CreatedAt: str("createdAt"),
	}
}
