// Пакет repository — хранилища метаданных файловых записей.
//
// PostgreSQL — основной бэкенд (чистый SQL через pgx, без ORM).
// MongoDB/DocumentDB и DynamoDB реализуют тот же контракт FileRepository.
// Здесь же живут PostgreSQL-реализации поискового индекса и журнала намерений.
package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/travis-04/unishare-cw2/internal/domain/model"
)

// Ошибки слоя репозиториев.
var (
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("запись не найдена")
	// ErrConflict — запись уже существует или версия не совпала.
	ErrConflict = errors.New("конфликт записи")
)

// FileRepository — контракт хранилища метаданных.
type FileRepository interface {
	// Create сохраняет новую запись. ErrConflict, если id уже занят.
	Create(ctx context.Context, rec *model.FileRecord) error
	// GetByID возвращает запись или ErrNotFound.
	GetByID(ctx context.Context, id string) (*model.FileRecord, error)
	// List возвращает все записи.
	List(ctx context.Context) ([]*model.FileRecord, error)
	// Update записывает изменяемые поля, если текущая версия равна expectedVersion.
	// При успехе rec.Version = expectedVersion+1. ErrNotFound или ErrConflict иначе.
	Update(ctx context.Context, rec *model.FileRecord, expectedVersion int64) error
	// Delete удаляет запись или возвращает ErrNotFound.
	Delete(ctx context.Context, id string) error
	// Name — имя бэкенда для логов и ошибок.
	Name() string
}

// DBTX — интерфейс для выполнения SQL-запросов.
// Реализуется как *pgxpool.Pool, так и pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxDB — DBTX с поддержкой транзакций (*pgxpool.Pool).
type TxDB interface {
	DBTX
	Begin(ctx context.Context) (pgx.Tx, error)
}

// isUniqueViolation проверяет, является ли ошибка нарушением уникальности PostgreSQL.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

// tagsOrEmpty заменяет nil на пустой срез (колонка tags NOT NULL).
func tagsOrEmpty(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}
