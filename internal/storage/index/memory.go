// memory.go — потокобезопасный in-memory индекс.
//
// Строится при старте из хранилища метаданных (Rebuild) и обновляется
// синхронно при операциях записи. Не персистентный.
//
// Каждое изменение получает порядковый номер. Пересборка, начатая
// BeginRebuild, сохраняет изменения с номером больше эпохи: снимок
// хранилища к моменту применения мог их ещё не содержать.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/travis-04/unishare-cw2/internal/domain/model"
)

// Веса совпадений терма запроса.
const (
	weightTitleExact  = 4
	weightTitlePrefix = 3
	weightExact       = 2
	weightPrefix      = 1
)

// document — проиндексированное представление записи.
type document struct {
	title []string
	body  []string
	seq   uint64
}

// Memory — in-memory индекс. Использует sync.RWMutex для конкурентного
// чтения и эксклюзивной записи.
type Memory struct {
	mu   sync.RWMutex
	docs map[string]*document // id → термы
	seq  uint64

	// rebuilding — число незавершённых пересборок; пока оно > 0,
	// удаления запоминаются в deleted (id → seq)
	rebuilding int
	deleted    map[string]uint64

	ready  bool
	logger *slog.Logger
}

// NewMemory создаёт пустой индекс. Для заполнения вызовите Rebuild.
func NewMemory(logger *slog.Logger) *Memory {
	return &Memory{
		docs:   make(map[string]*document),
		logger: logger.With(slog.String("component", "search_index")),
	}
}

// Name возвращает имя бэкенда.
func (m *Memory) Name() string { return "memory" }

// Upsert добавляет или заменяет запись.
func (m *Memory) Upsert(_ context.Context, rec *model.FileRecord) error {
	doc := newDocument(rec)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	doc.seq = m.seq
	m.docs[rec.ID] = doc
	delete(m.deleted, rec.ID)
	return nil
}

// Delete удаляет запись из индекса.
func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	delete(m.docs, id)
	if m.rebuilding > 0 {
		m.deleted[id] = m.seq
	}
	return nil
}

// Rebuild заменяет содержимое индекса и помечает его готовым.
func (m *Memory) Rebuild(ctx context.Context, recs []*model.FileRecord) error {
	m.mu.RLock()
	epoch := m.seq
	m.mu.RUnlock()
	return m.RebuildSince(ctx, epoch, recs)
}

// BeginRebuild возвращает эпоху, которую нужно получить до чтения снимка.
// Каждому вызову должен соответствовать EndRebuild.
func (m *Memory) BeginRebuild() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rebuilding == 0 {
		m.deleted = make(map[string]uint64)
	}
	m.rebuilding++
	return m.seq
}

// EndRebuild завершает пересборку, начатую BeginRebuild.
func (m *Memory) EndRebuild() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rebuilding == 0 {
		return
	}
	m.rebuilding--
	if m.rebuilding == 0 {
		m.deleted = nil
	}
}

// RebuildSince заменяет содержимое индекса снимком recs. Записи,
// изменённые или удалённые после epoch, берутся из текущего индекса.
func (m *Memory) RebuildSince(_ context.Context, epoch uint64, recs []*model.FileRecord) error {
	docs := make(map[string]*document, len(recs))
	for _, rec := range recs {
		doc := newDocument(rec)
		doc.seq = epoch
		docs[rec.ID] = doc
	}

	m.mu.Lock()
	kept := 0
	for id, doc := range m.docs {
		if doc.seq > epoch {
			docs[id] = doc
			kept++
		}
	}
	for id, seq := range m.deleted {
		if seq > epoch {
			delete(docs, id)
			kept++
		}
	}
	m.docs = docs
	m.ready = true
	m.mu.Unlock()

	m.logger.Info("Поисковый индекс построен",
		slog.Int("records", len(docs)),
		slog.Int("concurrent_changes", kept),
	)
	return nil
}

// Query ищет записи, в которых каждый терм запроса совпадает с началом
// какого-либо слова. Совпадения в заголовке весят больше.
// При равной релевантности порядок — по id.
func (m *Memory) Query(_ context.Context, term string, limit int) ([]Hit, error) {
	terms := Tokenize(term)
	if len(terms) == 0 {
		return []Hit{}, nil
	}

	m.mu.RLock()
	hits := make([]Hit, 0)
	for id, doc := range m.docs {
		score := 0
		for _, t := range terms {
			w := doc.match(t)
			if w == 0 {
				score = 0
				break
			}
			score += w
		}
		if score > 0 {
			hits = append(hits, Hit{ID: id, Score: float64(score)})
		}
	}
	m.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})

	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// Count возвращает количество записей в индексе.
func (m *Memory) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}

// IsReady возвращает true после первого Rebuild.
func (m *Memory) IsReady() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ready
}

// CheckReady — статус для readiness probe. До первого Rebuild индекс
// неполон, поиск работает, но может пропускать записи.
func (m *Memory) CheckReady() (status string, message string) {
	if !m.IsReady() {
		return "degraded", "индекс ещё не построен"
	}
	return "ok", fmt.Sprintf("записей в индексе: %d", m.Count())
}

func newDocument(rec *model.FileRecord) *document {
	body := make([]string, 0, 8)
	body = append(body, Tokenize(rec.Description)...)
	body = append(body, Tokenize(rec.Institution)...)
	body = append(body, Tokenize(rec.Filename)...)
	for _, tag := range rec.Tags {
		body = append(body, Tokenize(tag)...)
	}
	return &document{
		title: Tokenize(rec.Title),
		body:  body,
	}
}

// match возвращает наибольший вес совпадения терма с документом.
func (d *document) match(term string) int {
	best := 0
	for _, tok := range d.title {
		if tok == term {
			return weightTitleExact
		}
		if strings.HasPrefix(tok, term) {
			best = weightTitlePrefix
		}
	}
	for _, tok := range d.body {
		if tok == term && best < weightExact {
			best = weightExact
		} else if strings.HasPrefix(tok, term) && best < weightPrefix {
			best = weightPrefix
		}
	}
	return best
}
