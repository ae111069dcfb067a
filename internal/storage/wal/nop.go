// nop.go — журнал без хранения: операции выполняются только
// со встроенной компенсацией, reconciler ничего не находит.
package wal

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Nop — реализация Log, которая ничего не сохраняет.
type Nop struct{}

// NewNop создаёт пустой журнал.
func NewNop() *Nop { return &Nop{} }

// Name возвращает имя бэкенда.
func (Nop) Name() string { return "none" }

// Begin возвращает запись, которая нигде не сохраняется.
func (Nop) Begin(_ context.Context, op OperationType, fileID, blobKey string) (*Entry, error) {
	return &Entry{
		TransactionID: uuid.New().String(),
		Operation:     op,
		Status:        StatusPending,
		FileID:        fileID,
		BlobKey:       blobKey,
		StartedAt:     time.Now().UTC(),
	}, nil
}

func (Nop) Commit(context.Context, string) error   { return nil }
func (Nop) Rollback(context.Context, string) error { return nil }

func (Nop) Pending(context.Context, time.Time) ([]*Entry, error) { return nil, nil }

func (Nop) CleanCompleted(context.Context) (int, error) { return 0, nil }
