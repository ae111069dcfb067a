// wal.go — файловый журнал намерений.
//
// Раскладка директории:
//
//	<dir>/pending/<tx_id>.json  — незавершённые операции
//	<dir>/done/<tx_id>.json     — committed / rolled_back, ждут CleanCompleted
//
// Завершение транзакции переносит запись из pending/ в done/, поэтому
// сверка читает только pending/ и не растёт вместе с историей.
package wal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	pendingDir  = "pending"
	doneDir     = "done"
	entrySuffix = ".json"
)

// WAL — файловый журнал намерений для одного экземпляра сервиса.
type WAL struct {
	dir string
	// mu сериализует переносы pending → done
	mu     sync.Mutex
	now    func() time.Time
	logger *slog.Logger
}

// New создаёт журнал в dir и проверяет, что директория доступна на запись.
func New(dir string, logger *slog.Logger) (*WAL, error) {
	for _, sub := range []string{pendingDir, doneDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o750); err != nil {
			return nil, fmt.Errorf("не удалось создать директорию журнала %s: %w", dir, err)
		}
	}

	probe, err := os.CreateTemp(dir, ".probe-*")
	if err != nil {
		return nil, fmt.Errorf("директория журнала %s недоступна для записи: %w", dir, err)
	}
	probe.Close()
	os.Remove(probe.Name())

	return &WAL{
		dir:    dir,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.With(slog.String("component", "wal")),
	}, nil
}

// Name возвращает имя бэкенда.
func (w *WAL) Name() string { return "file" }

// Dir возвращает корневую директорию журнала.
func (w *WAL) Dir() string { return w.dir }

// Begin сохраняет pending-запись до того, как операция тронет blob.
func (w *WAL) Begin(_ context.Context, op OperationType, fileID, blobKey string) (*Entry, error) {
	entry := &Entry{
		TransactionID: uuid.NewString(),
		Operation:     op,
		Status:        StatusPending,
		FileID:        fileID,
		BlobKey:       blobKey,
		StartedAt:     w.now(),
	}

	if err := w.put(pendingDir, entry); err != nil {
		return nil, fmt.Errorf("не удалось записать намерение %s для %s: %w", op, fileID, err)
	}

	w.logger.Debug("Намерение записано",
		slog.String("tx_id", entry.TransactionID),
		slog.String("operation", string(op)),
		slog.String("file_id", fileID),
		slog.String("blob_key", blobKey),
	)
	return entry, nil
}

// Commit переносит запись в done/ со статусом committed.
func (w *WAL) Commit(_ context.Context, txID string) error {
	return w.finish(txID, StatusCommitted)
}

// Rollback переносит запись в done/ со статусом rolled_back.
func (w *WAL) Rollback(_ context.Context, txID string) error {
	return w.finish(txID, StatusRolledBack)
}

func (w *WAL) finish(txID string, status TransactionStatus) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	entry, err := w.get(pendingDir, txID)
	if errors.Is(err, ErrTransactionNotFound) {
		if _, doneErr := w.get(doneDir, txID); doneErr == nil {
			return fmt.Errorf("транзакция %s: %w", txID, ErrNotPending)
		}
	}
	if err != nil {
		return err
	}

	completed := w.now()
	entry.Status = status
	entry.CompletedAt = &completed

	if err := w.put(doneDir, entry); err != nil {
		return fmt.Errorf("не удалось завершить транзакцию %s: %w", txID, err)
	}
	// Оставшийся pending-файл безопасен: Pending() увидит копию в done/ и уберёт его
	if err := os.Remove(w.path(pendingDir, txID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		w.logger.Warn("Не удалось убрать pending-файл завершённой транзакции",
			slog.String("tx_id", txID),
			slog.String("error", err.Error()),
		)
	}

	w.logger.Debug("Транзакция завершена",
		slog.String("tx_id", txID),
		slog.String("status", string(status)),
		slog.String("file_id", entry.FileID),
		slog.Duration("duration", completed.Sub(entry.StartedAt)),
	)
	return nil
}

// Pending возвращает pending-записи, начатые не позже olderThan, от старых к новым.
func (w *WAL) Pending(_ context.Context, olderThan time.Time) ([]*Entry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	entries, err := w.list(pendingDir)
	if err != nil {
		return nil, err
	}

	result := make([]*Entry, 0, len(entries))
	for _, entry := range entries {
		// Сбой между записью в done/ и удалением из pending/
		if _, err := os.Stat(w.path(doneDir, entry.TransactionID)); err == nil {
			os.Remove(w.path(pendingDir, entry.TransactionID))
			continue
		}
		if entry.Status == StatusPending && !entry.StartedAt.After(olderThan) {
			result = append(result, entry)
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].StartedAt.Before(result[j].StartedAt)
	})
	return result, nil
}

// GetTransaction ищет запись сначала среди pending, затем среди завершённых.
func (w *WAL) GetTransaction(txID string) (*Entry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	entry, err := w.get(pendingDir, txID)
	if errors.Is(err, ErrTransactionNotFound) {
		return w.get(doneDir, txID)
	}
	return entry, err
}

// CleanCompleted удаляет все записи из done/.
func (w *WAL) CleanCompleted(_ context.Context) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	names, err := w.entryNames(doneDir)
	if err != nil {
		return 0, err
	}

	cleaned := 0
	for _, name := range names {
		if err := os.Remove(filepath.Join(w.dir, doneDir, name)); err != nil {
			w.logger.Warn("Не удалось удалить завершённую запись журнала",
				slog.String("file", name),
				slog.String("error", err.Error()),
			)
			continue
		}
		cleaned++
	}

	if cleaned > 0 {
		w.logger.Info("Журнал очищен", slog.Int("cleaned", cleaned))
	}
	return cleaned, nil
}

func (w *WAL) path(sub, txID string) string {
	return filepath.Join(w.dir, sub, txID+entrySuffix)
}

// entryNames — имена файлов записей в поддиректории (временные файлы пропускаются).
func (w *WAL) entryNames(sub string) ([]string, error) {
	items, err := os.ReadDir(filepath.Join(w.dir, sub))
	if err != nil {
		return nil, fmt.Errorf("не удалось прочитать директорию журнала %s: %w", sub, err)
	}
	names := make([]string, 0, len(items))
	for _, it := range items {
		name := it.Name()
		if it.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, entrySuffix) {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}

// list читает все записи поддиректории. Повреждённые файлы пропускаются с предупреждением.
func (w *WAL) list(sub string) ([]*Entry, error) {
	names, err := w.entryNames(sub)
	if err != nil {
		return nil, err
	}
	entries := make([]*Entry, 0, len(names))
	for _, name := range names {
		entry, err := w.get(sub, strings.TrimSuffix(name, entrySuffix))
		if err != nil {
			w.logger.Warn("Повреждённая запись журнала пропущена",
				slog.String("file", filepath.Join(sub, name)),
				slog.String("error", err.Error()),
			)
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (w *WAL) get(sub, txID string) (*Entry, error) {
	data, err := os.ReadFile(w.path(sub, txID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrTransactionNotFound, txID)
	}
	if err != nil {
		return nil, err
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("запись %s: %w", txID, err)
	}
	return &entry, nil
}

// put атомарно сохраняет запись в поддиректорию и синхронизирует её.
func (w *WAL) put(sub string, entry *Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	dir := filepath.Join(w.dir, sub)
	tmp, err := os.CreateTemp(dir, "."+entry.TransactionID+"-*")
	if err != nil {
		return err
	}
	cleanup := func(err error) error {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}

	if _, err := tmp.Write(data); err != nil {
		return cleanup(err)
	}
	if err := tmp.Sync(); err != nil {
		return cleanup(err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), w.path(sub, entry.TransactionID)); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return syncDir(dir)
}

// syncDir фиксирует rename на диске.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
