// Пакет wal — журнал намерений (intent log) для операций,
// затрагивающих одновременно blob-хранилище и хранилище метаданных.
//
// Перед записью или удалением blob создаётся запись со статусом pending.
// Когда исход известен, запись коммитится или откатывается. Записи,
// оставшиеся pending (сбой процесса, неудачная компенсация), разбирает
// фоновый reconciler.
package wal

import (
	"context"
	"errors"
	"time"
)

// OperationType — тип операции, записываемой в журнал.
type OperationType string

const (
	// OpFileCreate — создание записи: blob пишется до метаданных
	OpFileCreate OperationType = "file_create"
	// OpFileDelete — удаление записи: blob удаляется до метаданных
	OpFileDelete OperationType = "file_delete"
)

// TransactionStatus — статус записи журнала.
type TransactionStatus string

const (
	// StatusPending — операция начата, исход неизвестен
	StatusPending TransactionStatus = "pending"
	// StatusCommitted — операция доведена до конца
	StatusCommitted TransactionStatus = "committed"
	// StatusRolledBack — операция отменена, следов в хранилищах нет
	StatusRolledBack TransactionStatus = "rolled_back"
)

// ErrTransactionNotFound — запись журнала не найдена.
var ErrTransactionNotFound = errors.New("транзакция не найдена")

// ErrNotPending — транзакция уже завершена.
var ErrNotPending = errors.New("транзакция не в статусе pending")

// Entry — запись журнала намерений.
type Entry struct {
	// TransactionID — уникальный идентификатор транзакции (UUID v4)
	TransactionID string `json:"transaction_id"`

	// Operation — тип операции
	Operation OperationType `json:"operation"`

	// Status — текущий статус транзакции
	Status TransactionStatus `json:"status"`

	// FileID — идентификатор файловой записи
	FileID string `json:"file_id"`

	// BlobKey — ключ blob, который операция создаёт или удаляет
	BlobKey string `json:"blob_key"`

	// StartedAt — время начала транзакции (UTC)
	StartedAt time.Time `json:"started_at"`

	// CompletedAt — время завершения (UTC), nil для pending
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Log — контракт журнала намерений.
// Реализации: файловый WAL, таблица pending_operations в PostgreSQL, Nop.
type Log interface {
	// Begin создаёт запись со статусом pending.
	Begin(ctx context.Context, op OperationType, fileID, blobKey string) (*Entry, error)
	// Commit переводит pending-запись в committed.
	Commit(ctx context.Context, txID string) error
	// Rollback переводит pending-запись в rolled_back.
	Rollback(ctx context.Context, txID string) error
	// Pending возвращает pending-записи, начатые не позже olderThan,
	// в порядке StartedAt.
	Pending(ctx context.Context, olderThan time.Time) ([]*Entry, error)
	// CleanCompleted удаляет завершённые записи и возвращает их количество.
	CleanCompleted(ctx context.Context) (int, error)
	// Name — имя бэкенда журнала.
	Name() string
}
