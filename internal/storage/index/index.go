// Пакет index — поисковый индекс по метаданным файловых записей.
//
// Индекс — производная проекция хранилища метаданных: он может
// отставать или содержать устаревшие записи, поэтому результаты
// запроса всегда перепроверяются по хранилищу метаданных.
package index

import (
	"context"
	"strings"
	"unicode"

	"github.com/travis-04/unishare-cw2/internal/domain/model"
)

// Hit — результат поиска: идентификатор записи и релевантность.
type Hit struct {
	ID    string
	Score float64
}

// SearchIndex — контракт поискового индекса.
type SearchIndex interface {
	// Upsert добавляет или заменяет запись в индексе.
	Upsert(ctx context.Context, rec *model.FileRecord) error
	// Delete удаляет запись. Удаление отсутствующей записи не является ошибкой.
	Delete(ctx context.Context, id string) error
	// Query возвращает не более limit попаданий по убыванию релевантности.
	Query(ctx context.Context, term string, limit int) ([]Hit, error)
	// Rebuild полностью заменяет содержимое индекса.
	Rebuild(ctx context.Context, recs []*model.FileRecord) error
	// Name — имя бэкенда индекса.
	Name() string
}

// EpochRebuilder — индекс, пересборка которого не теряет изменения,
// сделанные между чтением снимка хранилища и применением снимка.
type EpochRebuilder interface {
	// BeginRebuild фиксирует эпоху. Вызывается до чтения снимка.
	BeginRebuild() uint64
	// RebuildSince применяет снимок, сохраняя изменения после epoch.
	RebuildSince(ctx context.Context, epoch uint64, recs []*model.FileRecord) error
	// EndRebuild завершает пересборку, начатую BeginRebuild.
	EndRebuild()
}

// Tokenize разбивает текст на термы в нижнем регистре.
// Разделителем считается любой символ, кроме букв и цифр.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// DocumentText собирает индексируемый текст записи.
func DocumentText(rec *model.FileRecord) string {
	parts := make([]string, 0, 4+len(rec.Tags))
	parts = append(parts, rec.Title, rec.Description, rec.Institution, rec.Filename)
	parts = append(parts, rec.Tags...)
	return strings.Join(parts, " ")
}
