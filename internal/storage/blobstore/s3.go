// s3.go — blob-хранилище в AWS S3 (или S3-совместимом сервисе: MinIO, LocalStack).
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/client"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

// S3Config — параметры подключения к бакету.
type S3Config struct {
	// Bucket — имя бакета (обязательно)
	Bucket string
	// Prefix — префикс ключей внутри бакета, например "files/"
	Prefix string
	// Endpoint — адрес S3-совместимого сервиса; пусто для AWS
	Endpoint string
	// ForcePathStyle — адресация bucket в пути (нужна MinIO/LocalStack)
	ForcePathStyle bool
}

// S3Store — реализация BlobStore поверх aws-sdk-go.
type S3Store struct {
	client   *s3.S3
	uploader *s3manager.Uploader
	bucket   string
	prefix   string
}

// NewS3Store создаёт S3-хранилище из общей AWS-сессии.
func NewS3Store(sess client.ConfigProvider, cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("не задано имя S3 бакета")
	}

	awsCfg := aws.NewConfig()
	if cfg.Endpoint != "" {
		awsCfg = awsCfg.WithEndpoint(cfg.Endpoint)
	}
	if cfg.ForcePathStyle {
		awsCfg = awsCfg.WithS3ForcePathStyle(true)
	}

	c := s3.New(sess, awsCfg)
	return &S3Store{
		client:   c,
		uploader: s3manager.NewUploaderWithClient(c),
		bucket:   cfg.Bucket,
		prefix:   cfg.Prefix,
	}, nil
}

// Name возвращает имя бэкенда.
func (s *S3Store) Name() string { return "s3" }

// Put загружает объект через s3manager (multipart для больших файлов).
func (s *S3Store) Put(ctx context.Context, key string, r io.Reader, _ int64, contentType string) error {
	input := &s3manager.UploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
		Body:   r,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	if _, err := s.uploader.UploadWithContext(ctx, input); err != nil {
		return fmt.Errorf("ошибка загрузки объекта %s в S3: %w", key, err)
	}
	return nil
}

// Get открывает объект на чтение.
func (s *S3Store) Get(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	out, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, 0, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, 0, fmt.Errorf("ошибка чтения объекта %s из S3: %w", key, err)
	}
	return out.Body, aws.Int64Value(out.ContentLength), nil
}

// Delete удаляет объект. S3 не возвращает ошибку для отсутствующего ключа.
func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil && !isS3NotFound(err) {
		return fmt.Errorf("ошибка удаления объекта %s из S3: %w", key, err)
	}
	return nil
}

// Exists проверяет наличие объекта через HeadObject.
func (s *S3Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err == nil {
		return true, nil
	}
	if isS3NotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("ошибка проверки объекта %s в S3: %w", key, err)
}

// objectKey добавляет префикс бакета к ключу.
func (s *S3Store) objectKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return strings.TrimSuffix(s.prefix, "/") + "/" + key
}

// isS3NotFound распознаёт ответы «объект отсутствует».
// HeadObject не имеет тела, поэтому код ошибки там — "NotFound".
func isS3NotFound(err error) bool {
	var reqErr awserr.RequestFailure
	if errors.As(err, &reqErr) && reqErr.StatusCode() == http.StatusNotFound {
		return true
	}
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return true
		}
	}
	return false
}
