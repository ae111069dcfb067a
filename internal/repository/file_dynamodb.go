// file_dynamodb.go — хранилище метаданных в Amazon DynamoDB.
// Таблица с партиционным ключом id (S). Условные записи по атрибуту version.
package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/aws/aws-sdk-go/service/dynamodb/expression"

	"github.com/travis-04/unishare-cw2/internal/domain/model"
)

// dynamoFileItem — элемент таблицы. Время хранится в наносекундах Unix.
type dynamoFileItem struct {
	ID          string   `dynamodbav:"id"`
	Title       string   `dynamodbav:"title"`
	Description string   `dynamodbav:"description"`
	Institution string   `dynamodbav:"institution"`
	Tags        []string `dynamodbav:"tags"`
	Filename    string   `dynamodbav:"filename"`
	ContentType string   `dynamodbav:"content_type"`
	BlobKey     string   `dynamodbav:"blob_key"`
	SizeBytes   int64    `dynamodbav:"size_bytes"`
	Checksum    string   `dynamodbav:"checksum"`
	Version     int64    `dynamodbav:"version"`
	CreatedAt   int64    `dynamodbav:"created_at"`
	UpdatedAt   int64    `dynamodbav:"updated_at"`
}

func newDynamoFileItem(rec *model.FileRecord) *dynamoFileItem {
	return &dynamoFileItem{
		ID:          rec.ID,
		Title:       rec.Title,
		Description: rec.Description,
		Institution: rec.Institution,
		Tags:        tagsOrEmpty(rec.Tags),
		Filename:    rec.Filename,
		ContentType: rec.ContentType,
		BlobKey:     rec.BlobKey,
		SizeBytes:   rec.SizeBytes,
		Checksum:    rec.Checksum,
		Version:     rec.Version,
		CreatedAt:   rec.CreatedAt.UnixNano(),
		UpdatedAt:   rec.UpdatedAt.UnixNano(),
	}
}

func (it *dynamoFileItem) record() *model.FileRecord {
	return &model.FileRecord{
		ID:          it.ID,
		Title:       it.Title,
		Description: it.Description,
		Institution: it.Institution,
		Tags:        tagsOrEmpty(it.Tags),
		Filename:    it.Filename,
		ContentType: it.ContentType,
		BlobKey:     it.BlobKey,
		SizeBytes:   it.SizeBytes,
		Checksum:    it.Checksum,
		Version:     it.Version,
		CreatedAt:   time.Unix(0, it.CreatedAt).UTC(),
		UpdatedAt:   time.Unix(0, it.UpdatedAt).UTC(),
	}
}

// DynamoFileRepository — реализация FileRepository на DynamoDB.
type DynamoFileRepository struct {
	client    dynamodbiface.DynamoDBAPI
	tableName string
}

// NewDynamoFileRepository создаёт репозиторий для таблицы tableName.
func NewDynamoFileRepository(client dynamodbiface.DynamoDBAPI, tableName string) *DynamoFileRepository {
	return &DynamoFileRepository{client: client, tableName: tableName}
}

// Name возвращает имя бэкенда.
func (r *DynamoFileRepository) Name() string { return "dynamodb" }

// Create записывает элемент, если id ещё не занят.
func (r *DynamoFileRepository) Create(ctx context.Context, rec *model.FileRecord) error {
	item, err := dynamodbattribute.MarshalMap(newDynamoFileItem(rec))
	if err != nil {
		return fmt.Errorf("ошибка сериализации записи: %w", err)
	}

	expr, err := expression.NewBuilder().
		WithCondition(expression.AttributeNotExists(expression.Name("id"))).
		Build()
	if err != nil {
		return fmt.Errorf("ошибка построения условия: %w", err)
	}

	_, err = r.client.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(r.tableName),
		Item:                     item,
		ConditionExpression:      expr.Condition(),
		ExpressionAttributeNames: expr.Names(),
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return fmt.Errorf("%w: запись %s уже существует", ErrConflict, rec.ID)
		}
		return fmt.Errorf("ошибка создания записи: %w", err)
	}
	return nil
}

// GetByID читает элемент строго согласованным чтением.
func (r *DynamoFileRepository) GetByID(ctx context.Context, id string) (*model.FileRecord, error) {
	result, err := r.client.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            dynamoKey(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка получения записи: %w", err)
	}
	if result.Item == nil {
		return nil, ErrNotFound
	}

	var item dynamoFileItem
	if err := dynamodbattribute.UnmarshalMap(result.Item, &item); err != nil {
		return nil, fmt.Errorf("ошибка десериализации записи: %w", err)
	}
	return item.record(), nil
}

// List сканирует таблицу целиком и сортирует по времени создания.
func (r *DynamoFileRepository) List(ctx context.Context) ([]*model.FileRecord, error) {
	result := make([]*model.FileRecord, 0)
	var decodeErr error

	err := r.client.ScanPagesWithContext(ctx, &dynamodb.ScanInput{
		TableName:      aws.String(r.tableName),
		ConsistentRead: aws.Bool(true),
	}, func(page *dynamodb.ScanOutput, _ bool) bool {
		var items []dynamoFileItem
		if err := dynamodbattribute.UnmarshalListOfMaps(page.Items, &items); err != nil {
			decodeErr = err
			return false
		}
		for i := range items {
			result = append(result, items[i].record())
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка сканирования таблицы: %w", err)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("ошибка десериализации записей: %w", decodeErr)
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// Update перезаписывает элемент при условии version = expectedVersion.
func (r *DynamoFileRepository) Update(ctx context.Context, rec *model.FileRecord, expectedVersion int64) error {
	next := rec.Clone()
	next.Version = expectedVersion + 1

	item, err := dynamodbattribute.MarshalMap(newDynamoFileItem(next))
	if err != nil {
		return fmt.Errorf("ошибка сериализации записи: %w", err)
	}

	cond := expression.Name("version").Equal(expression.Value(expectedVersion))
	expr, err := expression.NewBuilder().WithCondition(cond).Build()
	if err != nil {
		return fmt.Errorf("ошибка построения условия: %w", err)
	}

	_, err = r.client.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName:                 aws.String(r.tableName),
		Item:                      item,
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err == nil {
		rec.Version = next.Version
		return nil
	}
	if !isConditionalCheckFailed(err) {
		return fmt.Errorf("ошибка обновления записи: %w", err)
	}

	// Условие не выполнено: записи нет или версия устарела
	if _, getErr := r.GetByID(ctx, rec.ID); getErr != nil {
		return getErr
	}
	return fmt.Errorf("%w: версия %d записи %s устарела", ErrConflict, expectedVersion, rec.ID)
}

// Delete удаляет существующий элемент.
func (r *DynamoFileRepository) Delete(ctx context.Context, id string) error {
	expr, err := expression.NewBuilder().
		WithCondition(expression.AttributeExists(expression.Name("id"))).
		Build()
	if err != nil {
		return fmt.Errorf("ошибка построения условия: %w", err)
	}

	_, err = r.client.DeleteItemWithContext(ctx, &dynamodb.DeleteItemInput{
		TableName:                aws.String(r.tableName),
		Key:                      dynamoKey(id),
		ConditionExpression:      expr.Condition(),
		ExpressionAttributeNames: expr.Names(),
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return ErrNotFound
		}
		return fmt.Errorf("ошибка удаления записи: %w", err)
	}
	return nil
}

// CheckReady проверяет доступность таблицы через DescribeTable.
func (r *DynamoFileRepository) CheckReady() (status string, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	out, err := r.client.DescribeTableWithContext(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(r.tableName),
	})
	if err != nil {
		return "fail", fmt.Sprintf("DynamoDB недоступна: %v", err)
	}
	if out.Table != nil && aws.StringValue(out.Table.TableStatus) != dynamodb.TableStatusActive {
		return "degraded", fmt.Sprintf("таблица %s в статусе %s", r.tableName, aws.StringValue(out.Table.TableStatus))
	}
	return "ok", "таблица доступна"
}

func dynamoKey(id string) map[string]*dynamodb.AttributeValue {
	return map[string]*dynamodb.AttributeValue{
		"id": {S: aws.String(id)},
	}
}

func isConditionalCheckFailed(err error) bool {
	var aerr awserr.Error
	return errors.As(err, &aerr) && aerr.Code() == dynamodb.ErrCodeConditionalCheckFailedException
}
