// file_mongo.go — хранилище метаданных в MongoDB / Amazon DocumentDB.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/travis-04/unishare-cw2/internal/domain/model"
)

// mongoFileDoc — документ коллекции файловых записей.
type mongoFileDoc struct {
	ID          string    `bson:"_id"`
	Title       string    `bson:"title"`
	Description string    `bson:"description"`
	Institution string    `bson:"institution"`
	Tags        []string  `bson:"tags"`
	Filename    string    `bson:"filename"`
	ContentType string    `bson:"content_type"`
	BlobKey     string    `bson:"blob_key"`
	SizeBytes   int64     `bson:"size_bytes"`
	Checksum    string    `bson:"checksum"`
	Version     int64     `bson:"version"`
	CreatedAt   time.Time `bson:"created_at"`
	UpdatedAt   time.Time `bson:"updated_at"`
}

func newMongoFileDoc(rec *model.FileRecord) *mongoFileDoc {
	return &mongoFileDoc{
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
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
	}
}

func (d *mongoFileDoc) record() *model.FileRecord {
	return &model.FileRecord{
		ID:          d.ID,
		Title:       d.Title,
		Description: d.Description,
		Institution: d.Institution,
		Tags:        tagsOrEmpty(d.Tags),
		Filename:    d.Filename,
		ContentType: d.ContentType,
		BlobKey:     d.BlobKey,
		SizeBytes:   d.SizeBytes,
		Checksum:    d.Checksum,
		Version:     d.Version,
		CreatedAt:   d.CreatedAt.UTC(),
		UpdatedAt:   d.UpdatedAt.UTC(),
	}
}

// MongoFileRepository — реализация FileRepository на MongoDB.
type MongoFileRepository struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// ConnectMongo подключается к MongoDB/DocumentDB и проверяет доступность.
func ConnectMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	clientOptions := options.Client().ApplyURI(uri)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к MongoDB: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("MongoDB недоступна: %w", err)
	}
	return client, nil
}

// NewMongoFileRepository создаёт репозиторий поверх коллекции.
func NewMongoFileRepository(client *mongo.Client, database, collection string) *MongoFileRepository {
	return &MongoFileRepository{
		client:     client,
		collection: client.Database(database).Collection(collection),
	}
}

// EnsureIndexes создаёт индекс по created_at для List и уникальный индекс по blob_key.
func (r *MongoFileRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}},
		{Keys: bson.D{{Key: "blob_key", Value: 1}}, Options: options.Index().SetUnique(true)},
	})
	if err != nil {
		return fmt.Errorf("ошибка создания индексов MongoDB: %w", err)
	}
	return nil
}

// Name возвращает имя бэкенда.
func (r *MongoFileRepository) Name() string { return "mongo" }

// Create вставляет документ. Дубликат _id даёт ErrConflict.
func (r *MongoFileRepository) Create(ctx context.Context, rec *model.FileRecord) error {
	if _, err := r.collection.InsertOne(ctx, newMongoFileDoc(rec)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: запись %s уже существует", ErrConflict, rec.ID)
		}
		return fmt.Errorf("ошибка создания записи: %w", err)
	}
	return nil
}

// GetByID возвращает запись или ErrNotFound.
func (r *MongoFileRepository) GetByID(ctx context.Context, id string) (*model.FileRecord, error) {
	var doc mongoFileDoc
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения записи: %w", err)
	}
	return doc.record(), nil
}

// List возвращает все записи в порядке создания.
func (r *MongoFileRepository) List(ctx context.Context) ([]*model.FileRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})

	cursor, err := r.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка записей: %w", err)
	}
	defer cursor.Close(ctx)

	result := make([]*model.FileRecord, 0)
	for cursor.Next(ctx) {
		var doc mongoFileDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("ошибка декодирования записи: %w", err)
		}
		result = append(result, doc.record())
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации курсора: %w", err)
	}
	return result, nil
}

// Update применяет $set/$inc только к документу с ожидаемой версией.
func (r *MongoFileRepository) Update(ctx context.Context, rec *model.FileRecord, expectedVersion int64) error {
	filter := bson.M{"_id": rec.ID, "version": expectedVersion}
	update := bson.M{
		"$set": bson.M{
			"title":       rec.Title,
			"description": rec.Description,
			"institution": rec.Institution,
			"tags":        tagsOrEmpty(rec.Tags),
			"updated_at":  rec.UpdatedAt,
		},
		"$inc": bson.M{"version": 1},
	}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("ошибка обновления записи: %w", err)
	}
	if result.MatchedCount > 0 {
		rec.Version = expectedVersion + 1
		return nil
	}

	count, err := r.collection.CountDocuments(ctx, bson.M{"_id": rec.ID})
	if err != nil {
		return fmt.Errorf("ошибка проверки записи: %w", err)
	}
	if count == 0 {
		return ErrNotFound
	}
	return fmt.Errorf("%w: версия %d записи %s устарела", ErrConflict, expectedVersion, rec.ID)
}

// Delete удаляет документ или возвращает ErrNotFound.
func (r *MongoFileRepository) Delete(ctx context.Context, id string) error {
	result, err := r.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("ошибка удаления записи: %w", err)
	}
	if result.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// CheckReady проверяет доступность MongoDB через ping.
func (r *MongoFileRepository) CheckReady() (status string, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := r.client.Ping(ctx, readpref.Primary()); err != nil {
		return "fail", fmt.Sprintf("MongoDB недоступна: %v", err)
	}
	return "ok", "подключение активно"
}
