// errors.go — ошибки бизнес-логики сервисного слоя.
package service

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation — ошибка валидации входных данных.
	ErrValidation = errors.New("ошибка валидации")
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("запись не найдена")
	// ErrConflict — конфликт версий, повторы исчерпаны.
	ErrConflict = errors.New("конфликт версий записи")
	// ErrPreconditionFailed — версия из If-Match не совпала с текущей.
	ErrPreconditionFailed = errors.New("версия записи изменилась")
	// ErrIntentLog — журнал намерений недоступен, операция не начата.
	ErrIntentLog = errors.New("ошибка журнала намерений")
)

// Виды ошибок хранилищ. Проверяются через errors.Is на *StoreError.
var (
	ErrStorageWrite   = errors.New("ошибка записи в blob-хранилище")
	ErrStorageDelete  = errors.New("ошибка удаления из blob-хранилища")
	ErrStorageRead    = errors.New("ошибка чтения из blob-хранилища")
	ErrMetadataWrite  = errors.New("ошибка записи метаданных")
	ErrMetadataDelete = errors.New("ошибка удаления метаданных")
	ErrMetadataRead   = errors.New("ошибка чтения метаданных")
	ErrIndexQuery     = errors.New("ошибка поискового индекса")
)

// StoreError — отказ внешнего хранилища с контекстом для ручной сверки.
type StoreError struct {
	// Kind — один из ErrStorage*/ErrMetadata*/ErrIndexQuery
	Kind error
	// Store — имя бэкенда (local, s3, postgres, mongo, dynamodb, memory)
	Store string
	// Op — операция хранилища (put, delete, create, update, get, list, query)
	Op string
	// Key — blob key или id записи
	Key string
	// OrphanedBlobKey — blob, оставшийся без пары после неудачной компенсации
	OrphanedBlobKey string
	// MissingBlobKey — blob уже удалён, а метаданные остались
	MissingBlobKey string
	// Err — исходная ошибка
	Err error
}

func (e *StoreError) Error() string {
	msg := fmt.Sprintf("%s (%s %s %q)", e.Kind, e.Store, e.Op, e.Key)
	if e.OrphanedBlobKey != "" {
		msg += fmt.Sprintf(", blob без метаданных %q", e.OrphanedBlobKey)
	}
	if e.MissingBlobKey != "" {
		msg += fmt.Sprintf(", blob %q уже удалён", e.MissingBlobKey)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap позволяет errors.Is находить как вид ошибки, так и исходную причину.
func (e *StoreError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// IndexSyncWarning — неудачная синхронизация поискового индекса.
// Не прерывает операцию: пишется в лог и считается в метриках.
type IndexSyncWarning struct {
	Op     string
	FileID string
	Err    error
}

func (w *IndexSyncWarning) Error() string {
	return fmt.Sprintf("индекс не синхронизирован (%s %s): %v", w.Op, w.FileID, w.Err)
}

func (w *IndexSyncWarning) Unwrap() error { return w.Err }

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
