// reconcile.go — фоновая сверка незавершённых операций журнала намерений.
//
// Pending-запись старше grace period означает, что процесс упал посреди
// операции или компенсация не удалась:
//   - file_create, метаданные есть: операция завершилась, запись коммитится
//     и переиндексируется
//   - file_create, метаданных нет: blob удаляется, запись откатывается
//   - file_delete: удаление доводится до конца (blob, метаданные, индекс)
//
// Запись журнала закрывается, только если blob действительно пропал
// (Exists после Delete), иначе она остаётся pending до следующего прохода.
//
// Запускается как горутина с периодическим тикером (UNISHARE_RECONCILE_INTERVAL).
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/travis-04/unishare-cw2/internal/repository"
	"github.com/travis-04/unishare-cw2/internal/storage/blobstore"
	"github.com/travis-04/unishare-cw2/internal/storage/index"
	"github.com/travis-04/unishare-cw2/internal/storage/wal"
)

// Prometheus метрики сверки
var (
	// reconcileRunsTotal — количество запусков сверки.
	reconcileRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "unishare_reconcile_runs_total",
		Help: "Общее количество запусков сверки",
	})

	// reconcileResolvedTotal — разобранные записи журнала по действию.
	reconcileResolvedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "unishare_reconcile_resolved_total",
		Help: "Количество записей журнала, разобранных сверкой",
	}, []string{"action"})

	// reconcileFailuresTotal — записи, которые не удалось разобрать.
	reconcileFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "unishare_reconcile_failures_total",
		Help: "Количество записей журнала, оставшихся pending после сверки",
	})

	// reconcileDurationSeconds — длительность выполнения сверки.
	reconcileDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "unishare_reconcile_duration_seconds",
		Help:    "Длительность выполнения сверки в секундах",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	})
)

// Действия сверки (значения метки action).
const (
	actionCommitted       = "committed"
	actionRolledBack      = "rolled_back"
	actionDeleteCompleted = "delete_completed"
)

// ReconcileReport — результат одного прохода сверки.
type ReconcileReport struct {
	StartedAt   time.Time `json:"startedAt"`
	CompletedAt time.Time `json:"completedAt"`
	// Examined — pending-записи старше grace period
	Examined int `json:"examined"`
	// Committed — создания, для которых метаданные уже записаны
	Committed int `json:"committed"`
	// RolledBack — создания без метаданных, blob удалён
	RolledBack int `json:"rolledBack"`
	// DeletesCompleted — доведённые до конца удаления
	DeletesCompleted int `json:"deletesCompleted"`
	// Failed — записи, оставшиеся pending
	Failed int `json:"failed"`
	// Cleaned — удалённые завершённые записи журнала
	Cleaned int `json:"cleaned"`
}

// ReconcileService — сервис фоновой сверки.
type ReconcileService struct {
	blobs    blobstore.BlobStore
	repo     repository.FileRepository
	idx      index.SearchIndex
	intents  wal.Log
	interval time.Duration
	grace    time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu        sync.Mutex // защита от параллельного запуска
	inProcess bool       // сверка в процессе выполнения
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewReconcileService создаёт сервис сверки.
func NewReconcileService(
	blobs blobstore.BlobStore,
	repo repository.FileRepository,
	idx index.SearchIndex,
	intents wal.Log,
	interval time.Duration,
	grace time.Duration,
	logger *slog.Logger,
) *ReconcileService {
	return &ReconcileService{
		blobs:    blobs,
		repo:     repo,
		idx:      idx,
		intents:  intents,
		interval: interval,
		grace:    grace,
		logger:   logger.With(slog.String("component", "reconcile")),
		now:      time.Now,
	}
}

// Start запускает фоновую горутину сверки с периодическим тикером.
func (rs *ReconcileService) Start(ctx context.Context) {
	rsCtx, cancel := context.WithCancel(ctx)
	rs.cancel = cancel
	rs.done = make(chan struct{})

	go rs.run(rsCtx)

	rs.logger.Info("Сверка запущена",
		slog.String("interval", rs.interval.String()),
		slog.String("grace_period", rs.grace.String()),
		slog.String("intent_log", rs.intents.Name()),
	)
}

// Stop останавливает фоновую сверку и ждёт завершения текущего прохода.
func (rs *ReconcileService) Stop() {
	if rs.cancel != nil {
		rs.cancel()
		<-rs.done
	}
	rs.logger.Info("Сверка остановлена")
}

// IsInProgress возвращает true, если сверка выполняется.
func (rs *ReconcileService) IsInProgress() bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.inProcess
}

// run — основной цикл фоновой горутины.
func (rs *ReconcileService) run(ctx context.Context) {
	defer close(rs.done)

	ticker := time.NewTicker(rs.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rs.RunOnce(ctx)
		}
	}
}

// RunOnce выполняет один проход сверки.
// Если сверка уже выполняется, возвращает nil, true.
func (rs *ReconcileService) RunOnce(ctx context.Context) (*ReconcileReport, bool) {
	rs.mu.Lock()
	if rs.inProcess {
		rs.mu.Unlock()
		rs.logger.Warn("Сверка уже выполняется, пропуск")
		return nil, true
	}
	rs.inProcess = true
	rs.mu.Unlock()

	defer func() {
		rs.mu.Lock()
		rs.inProcess = false
		rs.mu.Unlock()
	}()

	report := &ReconcileReport{StartedAt: rs.now().UTC()}

	entries, err := rs.intents.Pending(ctx, report.StartedAt.Add(-rs.grace))
	if err != nil {
		rs.logger.Error("Ошибка чтения журнала намерений", slog.String("error", err.Error()))
	}
	report.Examined = len(entries)

	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		var action string
		switch entry.Operation {
		case wal.OpFileCreate:
			action, err = rs.resolveCreate(ctx, entry)
		case wal.OpFileDelete:
			action, err = rs.resolveDelete(ctx, entry)
		default:
			rs.logger.Warn("Неизвестная операция в журнале",
				slog.String("tx_id", entry.TransactionID),
				slog.String("operation", string(entry.Operation)),
			)
			continue
		}

		if err != nil {
			report.Failed++
			reconcileFailuresTotal.Inc()
			rs.logger.Error("Запись журнала не разобрана",
				slog.String("tx_id", entry.TransactionID),
				slog.String("operation", string(entry.Operation)),
				slog.String("file_id", entry.FileID),
				slog.String("blob_key", entry.BlobKey),
				slog.String("error", err.Error()),
			)
			continue
		}

		switch action {
		case actionCommitted:
			report.Committed++
		case actionRolledBack:
			report.RolledBack++
		case actionDeleteCompleted:
			report.DeletesCompleted++
		}
		reconcileResolvedTotal.WithLabelValues(action).Inc()
		rs.logger.Info("Запись журнала разобрана",
			slog.String("tx_id", entry.TransactionID),
			slog.String("file_id", entry.FileID),
			slog.String("action", action),
		)
	}

	cleaned, err := rs.intents.CleanCompleted(ctx)
	if err != nil {
		rs.logger.Error("Ошибка очистки журнала", slog.String("error", err.Error()))
	}
	report.Cleaned = cleaned

	report.CompletedAt = rs.now().UTC()
	reconcileRunsTotal.Inc()
	reconcileDurationSeconds.Observe(report.CompletedAt.Sub(report.StartedAt).Seconds())

	rs.logger.Info("Сверка завершена",
		slog.Int("examined", report.Examined),
		slog.Int("committed", report.Committed),
		slog.Int("rolled_back", report.RolledBack),
		slog.Int("deletes_completed", report.DeletesCompleted),
		slog.Int("failed", report.Failed),
		slog.Int("cleaned", report.Cleaned),
	)
	return report, false
}

// resolveCreate разбирает незавершённое создание.
func (rs *ReconcileService) resolveCreate(ctx context.Context, entry *wal.Entry) (string, error) {
	rec, err := rs.repo.GetByID(ctx, entry.FileID)
	switch {
	case err == nil:
		if err := rs.idx.Upsert(ctx, rec); err != nil {
			indexSyncFailuresTotal.WithLabelValues("upsert").Inc()
			rs.logger.Warn("Поисковый индекс не синхронизирован",
				slog.String("file_id", rec.ID),
				slog.String("error", err.Error()),
			)
		}
		return actionCommitted, rs.finish(ctx, entry, true)
	case errors.Is(err, repository.ErrNotFound):
		if err := rs.removeBlob(ctx, entry.BlobKey); err != nil {
			return "", err
		}
		return actionRolledBack, rs.finish(ctx, entry, false)
	default:
		return "", err
	}
}

// resolveDelete доводит удаление до конца. Все шаги идемпотентны.
func (rs *ReconcileService) resolveDelete(ctx context.Context, entry *wal.Entry) (string, error) {
	if err := rs.removeBlob(ctx, entry.BlobKey); err != nil {
		return "", err
	}
	if err := rs.repo.Delete(ctx, entry.FileID); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return "", err
	}
	if err := rs.idx.Delete(ctx, entry.FileID); err != nil {
		indexSyncFailuresTotal.WithLabelValues("delete").Inc()
		rs.logger.Warn("Поисковый индекс не синхронизирован",
			slog.String("file_id", entry.FileID),
			slog.String("error", err.Error()),
		)
	}
	return actionDeleteCompleted, rs.finish(ctx, entry, true)
}

// removeBlob удаляет blob и проверяет, что его больше нет.
func (rs *ReconcileService) removeBlob(ctx context.Context, key string) error {
	if err := rs.blobs.Delete(ctx, key); err != nil {
		return err
	}
	exists, err := rs.blobs.Exists(ctx, key)
	if err != nil {
		return fmt.Errorf("проверка blob %s после удаления: %w", key, err)
	}
	if exists {
		return fmt.Errorf("blob %s всё ещё существует после удаления", key)
	}
	return nil
}

// finish завершает запись журнала. Запись, уже завершённую другим
// экземпляром сервиса, считаем разобранной.
func (rs *ReconcileService) finish(ctx context.Context, entry *wal.Entry, committed bool) error {
	var err error
	if committed {
		err = rs.intents.Commit(ctx, entry.TransactionID)
	} else {
		err = rs.intents.Rollback(ctx, entry.TransactionID)
	}
	if errors.Is(err, wal.ErrNotPending) {
		return nil
	}
	return err
}
