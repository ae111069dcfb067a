// search_index.go — полнотекстовый индекс на tsvector (таблица search_index).
package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/travis-04/unishare-cw2/internal/domain/model"
	"github.com/travis-04/unishare-cw2/internal/storage/index"
)

// upsertSearchDocument — заголовок получает вес A, остальной текст — D.
const upsertSearchDocument = `
	INSERT INTO search_index (file_id, document, updated_at)
	VALUES ($1, setweight(to_tsvector('simple', $2::text), 'A') || to_tsvector('simple', $3::text), now())
	ON CONFLICT (file_id) DO UPDATE
	SET document = EXCLUDED.document, updated_at = EXCLUDED.updated_at`

// SearchIndexRepository — реализация index.SearchIndex в PostgreSQL.
type SearchIndexRepository struct {
	db TxDB
}

// NewSearchIndexRepository создаёт PostgreSQL поисковый индекс.
func NewSearchIndexRepository(db TxDB) *SearchIndexRepository {
	return &SearchIndexRepository{db: db}
}

// Name возвращает имя бэкенда.
func (r *SearchIndexRepository) Name() string { return "postgres" }

// Upsert добавляет или заменяет документ записи.
func (r *SearchIndexRepository) Upsert(ctx context.Context, rec *model.FileRecord) error {
	title, body := searchText(rec)
	if _, err := r.db.Exec(ctx, upsertSearchDocument, rec.ID, title, body); err != nil {
		return fmt.Errorf("ошибка индексации записи %s: %w", rec.ID, err)
	}
	return nil
}

// Delete удаляет документ. Отсутствие документа не является ошибкой.
func (r *SearchIndexRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM search_index WHERE file_id = $1`, id); err != nil {
		return fmt.Errorf("ошибка удаления записи %s из индекса: %w", id, err)
	}
	return nil
}

// Query ищет документы, содержащие слова с префиксами всех термов запроса.
func (r *SearchIndexRepository) Query(ctx context.Context, term string, limit int) ([]index.Hit, error) {
	tsQuery := buildPrefixTSQuery(term)
	if tsQuery == "" {
		return []index.Hit{}, nil
	}

	query := `
		SELECT file_id, ts_rank(document, q)::float8 AS rank
		FROM search_index, to_tsquery('simple', $1) AS q
		WHERE document @@ q
		ORDER BY rank DESC, file_id
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, tsQuery, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка поиска: %w", err)
	}
	defer rows.Close()

	hits := make([]index.Hit, 0)
	for rows.Next() {
		var h index.Hit
		if err := rows.Scan(&h.ID, &h.Score); err != nil {
			return nil, fmt.Errorf("ошибка сканирования результата поиска: %w", err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации результатов поиска: %w", err)
	}
	return hits, nil
}

// Rebuild заменяет содержимое индекса в одной транзакции.
func (r *SearchIndexRepository) Rebuild(ctx context.Context, recs []*model.FileRecord) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // после коммита откат ничего не делает

	if _, err := tx.Exec(ctx, `DELETE FROM search_index`); err != nil {
		return fmt.Errorf("ошибка очистки индекса: %w", err)
	}
	for _, rec := range recs {
		title, body := searchText(rec)
		if _, err := tx.Exec(ctx, upsertSearchDocument, rec.ID, title, body); err != nil {
			return fmt.Errorf("ошибка индексации записи %s: %w", rec.ID, err)
		}
	}
	return tx.Commit(ctx)
}

// searchText делит текст записи на заголовок и остальное. Текст
// проходит через index.Tokenize, как и запрос: парсер PostgreSQL
// оставил бы "w1.pdf" одной лексемой.
func searchText(rec *model.FileRecord) (title, body string) {
	parts := make([]string, 0, 3+len(rec.Tags))
	parts = append(parts, rec.Description, rec.Institution, rec.Filename)
	parts = append(parts, rec.Tags...)
	return tokenized(rec.Title), tokenized(strings.Join(parts, " "))
}

func tokenized(text string) string {
	return strings.Join(index.Tokenize(text), " ")
}

// buildPrefixTSQuery строит tsquery вида "term1:* & term2:*".
// Термы содержат только буквы и цифры, поэтому экранирование не требуется.
func buildPrefixTSQuery(term string) string {
	terms := index.Tokenize(term)
	for i, t := range terms {
		terms[i] = t + ":*"
	}
	return strings.Join(terms, " & ")
}
