// Пакет model — доменные модели сервиса файловых записей.
package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultContentType — MIME-тип, если его не удалось определить.
const DefaultContentType = "application/octet-stream"

// ErrInvalidPatch — частичное обновление содержит недопустимые значения.
var ErrInvalidPatch = errors.New("некорректное обновление")

// FileRecord — метаданные загруженного файла.
// BlobKey указывает на содержимое в blob-хранилище.
type FileRecord struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Institution string    `json:"institution"`
	Tags        []string  `json:"tags"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"contentType"`
	BlobKey     string    `json:"blobKey"`
	SizeBytes   int64     `json:"sizeBytes"`
	Checksum    string    `json:"checksum"`
	Version     int64     `json:"version"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Clone возвращает глубокую копию записи.
func (r *FileRecord) Clone() *FileRecord {
	if r == nil {
		return nil
	}
	c := *r
	if r.Tags != nil {
		c.Tags = make([]string, len(r.Tags))
		copy(c.Tags, r.Tags)
	}
	return &c
}

// BlobKeyFor формирует ключ blob-хранилища: {id}_{filename}.
// Разделители путей в имени файла заменяются на "_".
func BlobKeyFor(id, filename string) string {
	safe := strings.NewReplacer("/", "_", "\\", "_").Replace(filename)
	return id + "_" + safe
}

// NormalizeTags приводит теги к множеству: обрезает пробелы,
// отбрасывает пустые и повторяющиеся значения (с учётом регистра).
// Порядок первого вхождения сохраняется.
func NormalizeTags(tags []string) []string {
	result := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		result = append(result, t)
	}
	return result
}

// FilePatch — частичное обновление метаданных.
// nil-поле означает «не изменять».
type FilePatch struct {
	Title       *string   `json:"title,omitempty"`
	Description *string   `json:"description,omitempty"`
	Institution *string   `json:"institution,omitempty"`
	Tags        *[]string `json:"tags,omitempty"`

	// Неизменяемые поля: допускаются только с текущим значением.
	ID          *string    `json:"id,omitempty"`
	BlobKey     *string    `json:"blobKey,omitempty"`
	CreatedAt   *time.Time `json:"createdAt,omitempty"`
	Filename    *string    `json:"filename,omitempty"`
	ContentType *string    `json:"contentType,omitempty"`
}

// IsEmpty возвращает true, если патч не меняет ни одного поля.
func (p FilePatch) IsEmpty() bool {
	return p.Title == nil && p.Description == nil && p.Institution == nil && p.Tags == nil
}

// Apply применяет патч к копии записи и возвращает результат.
// Исходная запись не изменяется. Version и UpdatedAt выставляет вызывающий код.
func (p FilePatch) Apply(rec *FileRecord) (*FileRecord, error) {
	if p.ID != nil && *p.ID != rec.ID {
		return nil, fmt.Errorf("%w: поле id неизменяемо", ErrInvalidPatch)
	}
	if p.BlobKey != nil && *p.BlobKey != rec.BlobKey {
		return nil, fmt.Errorf("%w: поле blobKey неизменяемо", ErrInvalidPatch)
	}
	if p.CreatedAt != nil && !p.CreatedAt.Equal(rec.CreatedAt) {
		return nil, fmt.Errorf("%w: поле createdAt неизменяемо", ErrInvalidPatch)
	}
	if p.Filename != nil && *p.Filename != rec.Filename {
		return nil, fmt.Errorf("%w: поле filename описывает содержимое и не обновляется", ErrInvalidPatch)
	}
	if p.ContentType != nil && *p.ContentType != rec.ContentType {
		return nil, fmt.Errorf("%w: поле contentType описывает содержимое и не обновляется", ErrInvalidPatch)
	}

	out := rec.Clone()
	if p.Title != nil {
		title := strings.TrimSpace(*p.Title)
		if title == "" {
			return nil, fmt.Errorf("%w: title не может быть пустым", ErrInvalidPatch)
		}
		out.Title = title
	}
	if p.Description != nil {
		out.Description = strings.TrimSpace(*p.Description)
	}
	if p.Institution != nil {
		out.Institution = strings.TrimSpace(*p.Institution)
	}
	if p.Tags != nil {
		out.Tags = NormalizeTags(*p.Tags)
	}
	return out, nil
}
