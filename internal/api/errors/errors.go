// Пакет errors — конструкторы ошибок HTTP API.
// Единый формат: {"error": {"code": "...", "message": "..."}}.
// Для отказов хранилищ добавляются store, operation, key и ключи
// blob, требующие ручной сверки.
package errors //nolint:revive // конфликт имени со stdlib, пакет импортируется как apierrors

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/travis-04/unishare-cw2/internal/service"
)

// Коды ошибок, определённые в OpenAPI контракте.
const (
	CodeValidationError     = "VALIDATION_ERROR"
	CodeNotFound            = "NOT_FOUND"
	CodeConflict            = "CONFLICT"
	CodePreconditionFailed  = "PRECONDITION_FAILED"
	CodeStorageWriteError   = "STORAGE_WRITE_ERROR"
	CodeStorageDeleteError  = "STORAGE_DELETE_ERROR"
	CodeStorageReadError    = "STORAGE_READ_ERROR"
	CodeMetadataWriteError  = "METADATA_WRITE_ERROR"
	CodeMetadataDeleteError = "METADATA_DELETE_ERROR"
	CodeMetadataReadError   = "METADATA_READ_ERROR"
	CodeIndexError          = "INDEX_ERROR"
	CodeIntentLogError      = "INTENT_LOG_ERROR"
	CodeFileTooLarge        = "FILE_TOO_LARGE"
	CodeReconcileInProgress = "RECONCILE_IN_PROGRESS"
	CodeInternalError       = "INTERNAL_ERROR"
)

// errorBody — структура тела ответа ошибки.
type errorBody struct {
	Error errorDetail `json:"error"`
}

// errorDetail — детали ошибки.
type errorDetail struct {
	Code            string `json:"code"`
	Message         string `json:"message"`
	Store           string `json:"store,omitempty"`
	Operation       string `json:"operation,omitempty"`
	Key             string `json:"key,omitempty"`
	OrphanedBlobKey string `json:"orphanedBlobKey,omitempty"`
	MissingBlobKey  string `json:"missingBlobKey,omitempty"`
}

// WriteError записывает ответ ошибки в стандартном формате.
// statusCode — HTTP статус-код, code — машиночитаемый код, message — описание.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	writeBody(w, statusCode, errorDetail{Code: code, Message: message})
}

// WriteStoreError записывает 500 с контекстом отказавшего хранилища.
func WriteStoreError(w http.ResponseWriter, storeErr *service.StoreError) {
	writeBody(w, http.StatusInternalServerError, errorDetail{
		Code:            storeErrorCode(storeErr.Kind),
		Message:         storeErr.Error(),
		Store:           storeErr.Store,
		Operation:       storeErr.Op,
		Key:             storeErr.Key,
		OrphanedBlobKey: storeErr.OrphanedBlobKey,
		MissingBlobKey:  storeErr.MissingBlobKey,
	})
}

// WriteServiceError преобразует ошибку сервисного слоя в HTTP-ответ.
func WriteServiceError(w http.ResponseWriter, err error) {
	var storeErr *service.StoreError
	switch {
	case errors.Is(err, service.ErrValidation):
		ValidationError(w, err.Error())
	case errors.Is(err, service.ErrNotFound):
		NotFound(w, err.Error())
	case errors.Is(err, service.ErrPreconditionFailed):
		PreconditionFailed(w, err.Error())
	case errors.Is(err, service.ErrConflict):
		Conflict(w, err.Error())
	case errors.As(err, &storeErr):
		WriteStoreError(w, storeErr)
	case errors.Is(err, service.ErrIntentLog):
		WriteError(w, http.StatusServiceUnavailable, CodeIntentLogError, err.Error())
	default:
		InternalError(w, err.Error())
	}
}

func writeBody(w http.ResponseWriter, statusCode int, detail errorDetail) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorBody{Error: detail})
}

// storeErrorCode возвращает код ошибки по виду отказа хранилища.
func storeErrorCode(kind error) string {
	switch {
	case errors.Is(kind, service.ErrStorageWrite):
		return CodeStorageWriteError
	case errors.Is(kind, service.ErrStorageDelete):
		return CodeStorageDeleteError
	case errors.Is(kind, service.ErrStorageRead):
		return CodeStorageReadError
	case errors.Is(kind, service.ErrMetadataWrite):
		return CodeMetadataWriteError
	case errors.Is(kind, service.ErrMetadataDelete):
		return CodeMetadataDeleteError
	case errors.Is(kind, service.ErrMetadataRead):
		return CodeMetadataReadError
	case errors.Is(kind, service.ErrIndexQuery):
		return CodeIndexError
	default:
		return CodeInternalError
	}
}

// --- Конструкторы для типичных ошибок ---

// ValidationError — 400 некорректные входные данные.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidationError, message)
}

// NotFound — 404 ресурс не найден.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message)
}

// Conflict — 409 конфликт версий, повторы исчерпаны.
func Conflict(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, CodeConflict, message)
}

// PreconditionFailed — 412 версия из If-Match устарела.
func PreconditionFailed(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusPreconditionFailed, CodePreconditionFailed, message)
}

// FileTooLarge — 413 тело запроса превышает лимит.
func FileTooLarge(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusRequestEntityTooLarge, CodeFileTooLarge, message)
}

// ReconcileInProgress — 409 сверка уже выполняется.
func ReconcileInProgress(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, CodeReconcileInProgress, message)
}

// InternalError — 500 внутренняя ошибка.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, message)
}
