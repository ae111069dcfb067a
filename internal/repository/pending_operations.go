// pending_operations.go — журнал намерений в таблице pending_operations.
// Подходит для нескольких экземпляров сервиса с общей БД.
package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/travis-04/unishare-cw2/internal/storage/wal"
)

// PendingOperationLog — реализация wal.Log в PostgreSQL.
type PendingOperationLog struct {
	db     DBTX
	logger *slog.Logger
}

// NewPendingOperationLog создаёт журнал намерений в PostgreSQL.
func NewPendingOperationLog(db DBTX, logger *slog.Logger) *PendingOperationLog {
	return &PendingOperationLog{
		db:     db,
		logger: logger.With(slog.String("component", "pending_operations")),
	}
}

// Name возвращает имя бэкенда.
func (l *PendingOperationLog) Name() string { return "postgres" }

// Begin создаёт запись со статусом pending.
func (l *PendingOperationLog) Begin(ctx context.Context, op wal.OperationType, fileID, blobKey string) (*wal.Entry, error) {
	entry := &wal.Entry{
		TransactionID: uuid.New().String(),
		Operation:     op,
		Status:        wal.StatusPending,
		FileID:        fileID,
		BlobKey:       blobKey,
		StartedAt:     time.Now().UTC().Truncate(time.Microsecond),
	}

	_, err := l.db.Exec(ctx, `
		INSERT INTO pending_operations (transaction_id, operation, status, file_id, blob_key, started_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.TransactionID, string(entry.Operation), string(entry.Status),
		entry.FileID, entry.BlobKey, entry.StartedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания записи журнала: %w", err)
	}

	l.logger.Debug("Транзакция начата",
		slog.String("tx_id", entry.TransactionID),
		slog.String("operation", string(op)),
		slog.String("file_id", fileID),
	)
	return entry, nil
}

// Commit переводит pending-запись в committed.
func (l *PendingOperationLog) Commit(ctx context.Context, txID string) error {
	return l.complete(ctx, txID, wal.StatusCommitted)
}

// Rollback переводит pending-запись в rolled_back.
func (l *PendingOperationLog) Rollback(ctx context.Context, txID string) error {
	return l.complete(ctx, txID, wal.StatusRolledBack)
}

func (l *PendingOperationLog) complete(ctx context.Context, txID string, status wal.TransactionStatus) error {
	tag, err := l.db.Exec(ctx, `
		UPDATE pending_operations
		SET status = $2, completed_at = now()
		WHERE transaction_id = $1 AND status = 'pending'`,
		txID, string(status),
	)
	if err != nil {
		return fmt.Errorf("ошибка обновления записи журнала %s: %w", txID, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var current string
	err = l.db.QueryRow(ctx,
		`SELECT status FROM pending_operations WHERE transaction_id = $1`, txID,
	).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", wal.ErrTransactionNotFound, txID)
	}
	if err != nil {
		return fmt.Errorf("ошибка чтения записи журнала %s: %w", txID, err)
	}
	return fmt.Errorf("запись журнала %s имеет статус %s: %w", txID, current, wal.ErrNotPending)
}

// Pending возвращает pending-записи, начатые не позже olderThan.
func (l *PendingOperationLog) Pending(ctx context.Context, olderThan time.Time) ([]*wal.Entry, error) {
	rows, err := l.db.Query(ctx, `
		SELECT transaction_id, operation, status, file_id, blob_key, started_at, completed_at
		FROM pending_operations
		WHERE status = 'pending' AND started_at <= $1
		ORDER BY started_at, transaction_id`, olderThan)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки журнала: %w", err)
	}
	defer rows.Close()

	var entries []*wal.Entry
	for rows.Next() {
		var (
			e         wal.Entry
			op, state string
		)
		if err := rows.Scan(&e.TransactionID, &op, &state, &e.FileID, &e.BlobKey,
			&e.StartedAt, &e.CompletedAt); err != nil {
			return nil, fmt.Errorf("ошибка сканирования записи журнала: %w", err)
		}
		e.Operation = wal.OperationType(op)
		e.Status = wal.TransactionStatus(state)
		e.StartedAt = e.StartedAt.UTC()
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации журнала: %w", err)
	}
	return entries, nil
}

// CleanCompleted удаляет завершённые записи.
func (l *PendingOperationLog) CleanCompleted(ctx context.Context) (int, error) {
	tag, err := l.db.Exec(ctx,
		`DELETE FROM pending_operations WHERE status IN ('committed', 'rolled_back')`)
	if err != nil {
		return 0, fmt.Errorf("ошибка очистки журнала: %w", err)
	}
	cleaned := int(tag.RowsAffected())
	if cleaned > 0 {
		l.logger.Info("Очистка журнала завершена", slog.Int("cleaned", cleaned))
	}
	return cleaned, nil
}
