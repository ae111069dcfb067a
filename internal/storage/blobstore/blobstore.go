// Пакет blobstore — хранилища содержимого файлов (blob).
// Ключ объекта формирует доменный слой (model.BlobKeyFor),
// хранилище не интерпретирует его.
package blobstore

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound — объект с указанным ключом отсутствует.
var ErrNotFound = errors.New("объект не найден")

// BlobStore — контракт хранилища содержимого.
type BlobStore interface {
	// Put записывает содержимое под ключом key. Существующий объект перезаписывается.
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	// Get открывает объект на чтение. Вызывающий обязан закрыть ReadCloser.
	Get(ctx context.Context, key string) (io.ReadCloser, int64, error)
	// Delete удаляет объект. Удаление отсутствующего объекта не является ошибкой.
	Delete(ctx context.Context, key string) error
	// Exists проверяет наличие объекта.
	Exists(ctx context.Context, key string) (bool, error)
	// Name — имя бэкенда для логов и ошибок ("local", "s3").
	Name() string
}
