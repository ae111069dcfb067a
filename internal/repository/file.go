package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/travis-04/unishare-cw2/internal/domain/model"
)

// fileColumns — список столбцов таблицы file_records для SELECT-запросов.
const fileColumns = `id, title, description, institution, tags, filename, content_type,
	blob_key, size_bytes, checksum, version, created_at, updated_at`

// fileRepo — реализация FileRepository через pgx.
type fileRepo struct {
	db DBTX
}

// NewFileRepository создаёт PostgreSQL-репозиторий файловых записей.
func NewFileRepository(db DBTX) FileRepository {
	return &fileRepo{db: db}
}

func (r *fileRepo) Name() string { return "postgres" }

func (r *fileRepo) Create(ctx context.Context, rec *model.FileRecord) error {
	query := `
		INSERT INTO file_records (id, title, description, institution, tags, filename,
			content_type, blob_key, size_bytes, checksum, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := r.db.Exec(ctx, query,
		rec.ID, rec.Title, rec.Description, rec.Institution, tagsOrEmpty(rec.Tags), rec.Filename,
		rec.ContentType, rec.BlobKey, rec.SizeBytes, rec.Checksum, rec.Version, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: запись %s уже существует", ErrConflict, rec.ID)
		}
		return fmt.Errorf("ошибка создания записи: %w", err)
	}
	return nil
}

// GetByID возвращает запись по id или ErrNotFound.
func (r *fileRepo) GetByID(ctx context.Context, id string) (*model.FileRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM file_records WHERE id = $1`, fileColumns)

	rec, err := scanFile(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения записи: %w", err)
	}
	return rec, nil
}

// List возвращает все записи в порядке создания.
func (r *fileRepo) List(ctx context.Context) ([]*model.FileRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM file_records ORDER BY created_at, id`, fileColumns)

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка записей: %w", err)
	}
	defer rows.Close()

	result := make([]*model.FileRecord, 0)
	for rows.Next() {
		rec, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования записи: %w", err)
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации результатов: %w", err)
	}
	return result, nil
}

// Update обновляет изменяемые поля при совпадении версии.
func (r *fileRepo) Update(ctx context.Context, rec *model.FileRecord, expectedVersion int64) error {
	query := `
		UPDATE file_records
		SET title = $2, description = $3, institution = $4, tags = $5,
			updated_at = $6, version = version + 1
		WHERE id = $1 AND version = $7
		RETURNING version`

	var version int64
	err := r.db.QueryRow(ctx, query,
		rec.ID, rec.Title, rec.Description, rec.Institution, tagsOrEmpty(rec.Tags),
		rec.UpdatedAt, expectedVersion,
	).Scan(&version)
	if err == nil {
		rec.Version = version
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("ошибка обновления записи: %w", err)
	}

	// Строка не обновлена: записи нет или версия устарела
	var exists bool
	if err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM file_records WHERE id = $1)`, rec.ID,
	).Scan(&exists); err != nil {
		return fmt.Errorf("ошибка проверки записи: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return fmt.Errorf("%w: версия %d записи %s устарела", ErrConflict, expectedVersion, rec.ID)
}

// Delete удаляет запись по id.
func (r *fileRepo) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM file_records WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("ошибка удаления записи: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// scanner — общий интерфейс pgx.Row и pgx.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanFile(row scanner) (*model.FileRecord, error) {
	rec := &model.FileRecord{}
	err := row.Scan(
		&rec.ID, &rec.Title, &rec.Description, &rec.Institution, &rec.Tags, &rec.Filename,
		&rec.ContentType, &rec.BlobKey, &rec.SizeBytes, &rec.Checksum, &rec.Version,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.Tags = tagsOrEmpty(rec.Tags)
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return rec, nil
}
