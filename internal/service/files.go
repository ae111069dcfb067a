// files.go — сервис файловых записей: согласованная работа blob-хранилища,
// хранилища метаданных и поискового индекса.
package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/travis-04/unishare-cw2/internal/domain/model"
	"github.com/travis-04/unishare-cw2/internal/repository"
	"github.com/travis-04/unishare-cw2/internal/storage/blobstore"
	"github.com/travis-04/unishare-cw2/internal/storage/index"
	"github.com/travis-04/unishare-cw2/internal/storage/wal"
)

// Prometheus метрики сервиса файловых записей
var (
	// fileOperationsTotal — операции над записями по результату.
	fileOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "unishare_file_operations_total",
		Help: "Общее количество операций над файловыми записями",
	}, []string{"operation", "result"})

	// indexSyncFailuresTotal — неудачные синхронизации поискового индекса.
	indexSyncFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "unishare_index_sync_failures_total",
		Help: "Количество неудачных синхронизаций поискового индекса",
	}, []string{"operation"})

	// orphanedBlobsTotal — blob, оставшиеся без метаданных после неудачной компенсации.
	orphanedBlobsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "unishare_orphaned_blobs_total",
		Help: "Количество blob без метаданных после неудачной компенсации",
	})

	// updateConflictsTotal — конфликты версий при обновлении.
	updateConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "unishare_update_conflicts_total",
		Help: "Количество конфликтов версий при обновлении записей",
	})

	// staleIndexHitsTotal — попадания индекса без записи в хранилище метаданных.
	staleIndexHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "unishare_stale_index_hits_total",
		Help: "Количество устаревших попаданий поискового индекса",
	})
)

// CreateParams — параметры создания записи.
type CreateParams struct {
	Title       string
	Description string
	Institution string
	Tags        []string
	// Filename — оригинальное имя файла, входит в blob key
	Filename string
	// ContentType — MIME-тип; пустой определяется по имени и содержимому
	ContentType string
	// Content — декодированное содержимое файла
	Content []byte
}

// FileServiceConfig — настройки сервиса файловых записей.
type FileServiceConfig struct {
	// UpdateRetryMaxElapsed — предел повторов обновления при конфликте версий
	UpdateRetryMaxElapsed time.Duration
	// SearchDefaultLimit — лимит поиска, если клиент его не указал
	SearchDefaultLimit int
	// SearchMaxLimit — максимальный лимит поиска
	SearchMaxLimit int
}

// FileService — сервис файловых записей.
type FileService struct {
	blobs   blobstore.BlobStore
	repo    repository.FileRepository
	idx     index.SearchIndex
	intents wal.Log
	cfg     FileServiceConfig
	logger  *slog.Logger

	now   func() time.Time
	newID func() string
}

// NewFileService создаёт сервис файловых записей.
func NewFileService(
	blobs blobstore.BlobStore,
	repo repository.FileRepository,
	idx index.SearchIndex,
	intents wal.Log,
	cfg FileServiceConfig,
	logger *slog.Logger,
) *FileService {
	if cfg.SearchDefaultLimit <= 0 {
		cfg.SearchDefaultLimit = 50
	}
	if cfg.UpdateRetryMaxElapsed <= 0 {
		// Нулевой MaxElapsedTime в backoff означает бесконечные повторы
		cfg.UpdateRetryMaxElapsed = 2 * time.Second
	}
	if cfg.SearchMaxLimit < cfg.SearchDefaultLimit {
		cfg.SearchMaxLimit = cfg.SearchDefaultLimit
	}
	return &FileService{
		blobs:   blobs,
		repo:    repo,
		idx:     idx,
		intents: intents,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "file_service")),
		now:     time.Now,
		newID:   func() string { return uuid.New().String() },
	}
}

// Create создаёт запись: blob, затем метаданные, затем индекс.
//
// Поток:
//  1. Валидация title, filename, содержимого
//  2. Журнал: Begin(file_create)
//  3. Blob Put (ошибка: Rollback, StorageWriteError)
//  4. Метаданные Create (ошибка: компенсирующее удаление blob)
//  5. Журнал: Commit
//  6. Индекс Upsert (ошибка только логируется)
func (s *FileService) Create(ctx context.Context, p CreateParams) (*model.FileRecord, error) {
	title := strings.TrimSpace(p.Title)
	filename := strings.TrimSpace(p.Filename)
	switch {
	case title == "":
		return nil, s.failed("create", validationError("поле title обязательно"))
	case filename == "":
		return nil, s.failed("create", validationError("поле filename обязательно"))
	case len(p.Content) == 0:
		return nil, s.failed("create", validationError("содержимое файла пустое"))
	}

	id := s.newID()
	now := s.now().UTC().Truncate(time.Millisecond)
	sum := sha256.Sum256(p.Content)
	rec := &model.FileRecord{
		ID:          id,
		Title:       title,
		Description: strings.TrimSpace(p.Description),
		Institution: strings.TrimSpace(p.Institution),
		Tags:        model.NormalizeTags(p.Tags),
		Filename:    filename,
		ContentType: detectContentType(filename, p.ContentType, p.Content),
		BlobKey:     model.BlobKeyFor(id, filename),
		SizeBytes:   int64(len(p.Content)),
		Checksum:    hex.EncodeToString(sum[:]),
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	entry, err := s.intents.Begin(ctx, wal.OpFileCreate, id, rec.BlobKey)
	if err != nil {
		s.logger.Error("Ошибка записи в журнал намерений",
			slog.String("file_id", id),
			slog.String("error", err.Error()),
		)
		return nil, s.failed("create", fmt.Errorf("%w: %v", ErrIntentLog, err))
	}

	if err := s.blobs.Put(ctx, rec.BlobKey, bytes.NewReader(p.Content), rec.SizeBytes, rec.ContentType); err != nil {
		s.closeIntent(ctx, entry, false)
		s.logger.Error("Ошибка записи blob",
			slog.String("file_id", id),
			slog.String("blob_key", rec.BlobKey),
			slog.String("store", s.blobs.Name()),
			slog.String("error", err.Error()),
		)
		return nil, s.failed("create", &StoreError{
			Kind: ErrStorageWrite, Store: s.blobs.Name(), Op: "put", Key: rec.BlobKey, Err: err,
		})
	}

	if err := s.repo.Create(ctx, rec); err != nil {
		storeErr := &StoreError{
			Kind: ErrMetadataWrite, Store: s.repo.Name(), Op: "create", Key: id, Err: err,
		}
		// Компенсация выполняется даже при отменённом запросе
		if delErr := s.blobs.Delete(context.WithoutCancel(ctx), rec.BlobKey); delErr != nil {
			storeErr.OrphanedBlobKey = rec.BlobKey
			orphanedBlobsTotal.Inc()
			s.logger.Error("Компенсирующее удаление blob не удалось, запись журнала оставлена для сверки",
				slog.String("file_id", id),
				slog.String("blob_key", rec.BlobKey),
				slog.String("tx_id", entry.TransactionID),
				slog.String("store", s.blobs.Name()),
				slog.String("metadata_error", err.Error()),
				slog.String("error", delErr.Error()),
			)
		} else {
			s.closeIntent(ctx, entry, false)
			s.logger.Warn("Ошибка записи метаданных, blob удалён",
				slog.String("file_id", id),
				slog.String("blob_key", rec.BlobKey),
				slog.String("store", s.repo.Name()),
				slog.String("error", err.Error()),
			)
		}
		return nil, s.failed("create", storeErr)
	}

	s.closeIntent(ctx, entry, true)
	s.syncIndex(ctx, "upsert", rec)

	fileOperationsTotal.WithLabelValues("create", "success").Inc()
	s.logger.Info("Запись создана",
		slog.String("file_id", id),
		slog.String("filename", filename),
		slog.String("blob_key", rec.BlobKey),
		slog.Int64("size", rec.SizeBytes),
		slog.String("checksum", rec.Checksum),
	)
	return rec, nil
}

// Get возвращает запись по id.
func (s *FileService) Get(ctx context.Context, id string) (*model.FileRecord, error) {
	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, &StoreError{Kind: ErrMetadataRead, Store: s.repo.Name(), Op: "get", Key: id, Err: err}
	}
	return rec, nil
}

// Update применяет частичное обновление метаданных. Blob не затрагивается.
//
// Запись обновляется условно по версии. Без expectedVersion конфликт
// повторяется с экспоненциальной задержкой. С expectedVersion несовпадение
// версии даёт ErrPreconditionFailed.
func (s *FileService) Update(ctx context.Context, id string, patch model.FilePatch, expectedVersion *int64) (*model.FileRecord, error) {
	var result *model.FileRecord

	operation := func() error {
		cur, err := s.Get(ctx, id)
		if err != nil {
			return backoff.Permanent(err)
		}
		if expectedVersion != nil && cur.Version != *expectedVersion {
			return backoff.Permanent(fmt.Errorf("%w: текущая версия %d, ожидалась %d",
				ErrPreconditionFailed, cur.Version, *expectedVersion))
		}

		merged, err := patch.Apply(cur)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("%w: %v", ErrValidation, err))
		}
		if patch.IsEmpty() {
			result = cur
			return nil
		}

		merged.UpdatedAt = s.now().UTC().Truncate(time.Millisecond)
		if merged.UpdatedAt.Before(cur.CreatedAt) {
			merged.UpdatedAt = cur.CreatedAt
		}

		err = s.repo.Update(ctx, merged, cur.Version)
		switch {
		case err == nil:
			result = merged
			return nil
		case errors.Is(err, repository.ErrConflict):
			updateConflictsTotal.Inc()
			if expectedVersion != nil {
				return backoff.Permanent(fmt.Errorf("%w: %v", ErrPreconditionFailed, err))
			}
			s.logger.Debug("Конфликт версий, повтор", slog.String("file_id", id))
			return err
		case errors.Is(err, repository.ErrNotFound):
			return backoff.Permanent(fmt.Errorf("%w: %s", ErrNotFound, id))
		default:
			return backoff.Permanent(&StoreError{
				Kind: ErrMetadataWrite, Store: s.repo.Name(), Op: "update", Key: id, Err: err,
			})
		}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = 200 * time.Millisecond
	b.MaxElapsedTime = s.cfg.UpdateRetryMaxElapsed

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			err = fmt.Errorf("%w: %v", ErrConflict, err)
		}
		return nil, s.failed("update", err)
	}

	if !patch.IsEmpty() {
		s.syncIndex(ctx, "upsert", result)
	}
	fileOperationsTotal.WithLabelValues("update", "success").Inc()
	s.logger.Info("Запись обновлена",
		slog.String("file_id", id),
		slog.Int64("version", result.Version),
	)
	return result, nil
}

// Delete удаляет запись: blob, затем метаданные, затем индекс.
//
// Если blob удалить не удалось, метаданные сохраняются (StorageDeleteError).
// Если не удалось удалить метаданные после удаления blob, запись журнала
// остаётся pending и удаление доводит reconciler.
func (s *FileService) Delete(ctx context.Context, id string) error {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return s.failed("delete", err)
	}

	entry, err := s.intents.Begin(ctx, wal.OpFileDelete, id, rec.BlobKey)
	if err != nil {
		s.logger.Error("Ошибка записи в журнал намерений",
			slog.String("file_id", id),
			slog.String("error", err.Error()),
		)
		return s.failed("delete", fmt.Errorf("%w: %v", ErrIntentLog, err))
	}

	if err := s.blobs.Delete(ctx, rec.BlobKey); err != nil {
		s.closeIntent(ctx, entry, false)
		s.logger.Error("Ошибка удаления blob, метаданные сохранены",
			slog.String("file_id", id),
			slog.String("blob_key", rec.BlobKey),
			slog.String("store", s.blobs.Name()),
			slog.String("error", err.Error()),
		)
		return s.failed("delete", &StoreError{
			Kind: ErrStorageDelete, Store: s.blobs.Name(), Op: "delete", Key: rec.BlobKey, Err: err,
		})
	}

	// Blob уже удалён: метаданные удаляются даже при отменённом запросе
	if err := s.repo.Delete(context.WithoutCancel(ctx), id); err != nil && !errors.Is(err, repository.ErrNotFound) {
		s.logger.Error("Blob удалён, но метаданные остались; запись журнала оставлена для сверки",
			slog.String("file_id", id),
			slog.String("blob_key", rec.BlobKey),
			slog.String("tx_id", entry.TransactionID),
			slog.String("store", s.repo.Name()),
			slog.String("error", err.Error()),
		)
		return s.failed("delete", &StoreError{
			Kind: ErrMetadataDelete, Store: s.repo.Name(), Op: "delete", Key: id,
			MissingBlobKey: rec.BlobKey, Err: err,
		})
	}

	s.closeIntent(ctx, entry, true)
	s.unindex(ctx, id)

	fileOperationsTotal.WithLabelValues("delete", "success").Inc()
	s.logger.Info("Запись удалена",
		slog.String("file_id", id),
		slog.String("blob_key", rec.BlobKey),
	)
	return nil
}

// Search ищет записи через индекс и перепроверяет каждое попадание
// по хранилищу метаданных. Устаревшие попадания пропускаются, а индекс
// дочитывается страницами, пока не набрано limit живых записей или
// попадания не закончились.
func (s *FileService) Search(ctx context.Context, term string, limit int) ([]*model.FileRecord, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, validationError("параметр q обязателен")
	}
	if limit <= 0 {
		limit = s.cfg.SearchDefaultLimit
	}
	if limit > s.cfg.SearchMaxLimit {
		limit = s.cfg.SearchMaxLimit
	}

	result := make([]*model.FileRecord, 0, limit)
	seen := make(map[string]struct{}, limit)
	for fetch := limit; ; fetch *= 2 {
		hits, err := s.idx.Query(ctx, term, fetch)
		if err != nil {
			return nil, s.failed("search", &StoreError{
				Kind: ErrIndexQuery, Store: s.idx.Name(), Op: "query", Key: term, Err: err,
			})
		}

		for _, hit := range hits {
			if _, ok := seen[hit.ID]; ok {
				continue
			}
			seen[hit.ID] = struct{}{}

			rec, err := s.repo.GetByID(ctx, hit.ID)
			if errors.Is(err, repository.ErrNotFound) {
				staleIndexHitsTotal.Inc()
				s.logger.Debug("Устаревшая запись индекса пропущена", slog.String("file_id", hit.ID))
				continue
			}
			if err != nil {
				return nil, s.failed("search", &StoreError{
					Kind: ErrMetadataRead, Store: s.repo.Name(), Op: "get", Key: hit.ID, Err: err,
				})
			}
			result = append(result, rec)
			if len(result) == limit {
				break
			}
		}

		if len(result) == limit || len(hits) < fetch {
			break
		}
	}

	fileOperationsTotal.WithLabelValues("search", "success").Inc()
	return result, nil
}

// List возвращает все записи хранилища метаданных.
func (s *FileService) List(ctx context.Context) ([]*model.FileRecord, error) {
	recs, err := s.repo.List(ctx)
	if err != nil {
		return nil, s.failed("list", &StoreError{
			Kind: ErrMetadataRead, Store: s.repo.Name(), Op: "list", Err: err,
		})
	}
	return recs, nil
}

// OpenContent открывает содержимое файла записи. Вызывающий закрывает reader.
func (s *FileService) OpenContent(ctx context.Context, id string) (*model.FileRecord, io.ReadCloser, error) {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	rc, _, err := s.blobs.Get(ctx, rec.BlobKey)
	if err != nil {
		return nil, nil, &StoreError{
			Kind: ErrStorageRead, Store: s.blobs.Name(), Op: "get", Key: rec.BlobKey, Err: err,
		}
	}
	return rec, rc, nil
}

// Reindex пересобирает поисковый индекс из хранилища метаданных.
// Возвращает количество проиндексированных записей.
// Для индекса с эпохами записи, созданные во время пересборки, не теряются.
func (s *FileService) Reindex(ctx context.Context) (int, error) {
	rebuild := s.idx.Rebuild
	if er, ok := s.idx.(index.EpochRebuilder); ok {
		epoch := er.BeginRebuild()
		defer er.EndRebuild()
		rebuild = func(ctx context.Context, recs []*model.FileRecord) error {
			return er.RebuildSince(ctx, epoch, recs)
		}
	}

	recs, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	if err := rebuild(ctx, recs); err != nil {
		return 0, &StoreError{Kind: ErrIndexQuery, Store: s.idx.Name(), Op: "rebuild", Err: err}
	}
	s.logger.Info("Поисковый индекс пересобран",
		slog.String("index", s.idx.Name()),
		slog.Int("records", len(recs)),
	)
	return len(recs), nil
}

// IndexName возвращает имя бэкенда поискового индекса.
func (s *FileService) IndexName() string {
	return s.idx.Name()
}

// syncIndex обновляет запись в индексе. Ошибка не прерывает операцию.
func (s *FileService) syncIndex(ctx context.Context, op string, rec *model.FileRecord) {
	if err := s.idx.Upsert(context.WithoutCancel(ctx), rec); err != nil {
		s.indexWarning(&IndexSyncWarning{Op: op, FileID: rec.ID, Err: err})
	}
}

// unindex удаляет запись из индекса. Ошибка не прерывает операцию.
func (s *FileService) unindex(ctx context.Context, id string) {
	if err := s.idx.Delete(context.WithoutCancel(ctx), id); err != nil {
		s.indexWarning(&IndexSyncWarning{Op: "delete", FileID: id, Err: err})
	}
}

func (s *FileService) indexWarning(w *IndexSyncWarning) {
	indexSyncFailuresTotal.WithLabelValues(w.Op).Inc()
	s.logger.Warn("Поисковый индекс не синхронизирован",
		slog.String("file_id", w.FileID),
		slog.String("operation", w.Op),
		slog.String("store", s.idx.Name()),
		slog.String("error", w.Err.Error()),
	)
}

// closeIntent завершает запись журнала. Best effort: исход операции уже известен.
func (s *FileService) closeIntent(ctx context.Context, entry *wal.Entry, committed bool) {
	ctx = context.WithoutCancel(ctx)
	var err error
	if committed {
		err = s.intents.Commit(ctx, entry.TransactionID)
	} else {
		err = s.intents.Rollback(ctx, entry.TransactionID)
	}
	if err != nil {
		s.logger.Error("Ошибка завершения записи журнала",
			slog.String("tx_id", entry.TransactionID),
			slog.String("file_id", entry.FileID),
			slog.Bool("committed", committed),
			slog.String("error", err.Error()),
		)
	}
}

// failed считает неудачную операцию и возвращает ошибку без изменений.
func (s *FileService) failed(op string, err error) error {
	result := "error"
	switch {
	case errors.Is(err, ErrValidation):
		result = "invalid"
	case errors.Is(err, ErrNotFound):
		result = "not_found"
	case errors.Is(err, ErrConflict), errors.Is(err, ErrPreconditionFailed):
		result = "conflict"
	}
	fileOperationsTotal.WithLabelValues(op, result).Inc()
	return err
}

// detectContentType определяет MIME-тип: явный, по расширению имени файла,
// по содержимому, иначе application/octet-stream. Параметры (charset и т.д.)
// у явно указанного типа отбрасываются.
func detectContentType(filename, contentType string, content []byte) string {
	if ct := strings.TrimSpace(contentType); ct != "" {
		if mediaType, _, err := mime.ParseMediaType(ct); err == nil {
			return mediaType
		}
		if idx := strings.Index(ct, ";"); idx != -1 {
			ct = strings.TrimSpace(ct[:idx])
		}
		return strings.ToLower(ct)
	}
	if ext := filepath.Ext(filename); ext != "" {
		if byExt := mime.TypeByExtension(ext); byExt != "" {
			if mediaType, _, err := mime.ParseMediaType(byExt); err == nil {
				return mediaType
			}
		}
	}
	if len(content) > 0 {
		if detected := mimetype.Detect(content); detected != nil {
			if mediaType, _, err := mime.ParseMediaType(detected.String()); err == nil {
				return mediaType
			}
		}
	}
	return model.DefaultContentType
}
