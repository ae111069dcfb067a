// files.go — HTTP handlers файловых записей.
// Create, Get, Download, Update metadata, Delete.
package handlers

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"

	openapi_types "github.com/oapi-codegen/runtime/types"

	apierrors "github.com/travis-04/unishare-cw2/internal/api/errors"
	"github.com/travis-04/unishare-cw2/internal/api/openapi"
	"github.com/travis-04/unishare-cw2/internal/domain/model"
	"github.com/travis-04/unishare-cw2/internal/service"
)

// uploadRequest — тело POST /files.
type uploadRequest struct {
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	Institution   string   `json:"institution"`
	Tags          []string `json:"tags"`
	Filename      string   `json:"filename"`
	ContentType   string   `json:"contentType"`
	ContentBase64 string   `json:"contentBase64"`
}

// deleteResponse — тело ответа DELETE /files/{id}.
type deleteResponse struct {
	Deleted bool   `json:"deleted"`
	ID      string `json:"id"`
}

// CreateFile обрабатывает POST /files.
// Тело проверяется по схеме UploadRequest, содержимое декодируется строго (base64).
func (h *APIHandler) CreateFile(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r, h.maxUploadSize, openapi.SchemaUploadRequest)
	if !ok {
		return
	}

	var req uploadRequest
	if err := json.Unmarshal(body, &req); err != nil {
		apierrors.ValidationError(w, fmt.Sprintf("Некорректный JSON: %s", err.Error()))
		return
	}

	content, err := base64.StdEncoding.Strict().DecodeString(req.ContentBase64)
	if err != nil {
		apierrors.ValidationError(w, "Поле contentBase64 не является корректным base64")
		return
	}

	rec, err := h.files.Create(r.Context(), service.CreateParams{
		Title:       req.Title,
		Description: req.Description,
		Institution: req.Institution,
		Tags:        req.Tags,
		Filename:    req.Filename,
		ContentType: req.ContentType,
		Content:     content,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.Header().Set("Location", "/files/"+rec.ID)
	w.Header().Set("ETag", formatETag(rec.Version))
	writeJSON(w, http.StatusCreated, rec)
}

// GetFile обрабатывает GET /files/{id}.
// Поддерживает If-None-Match → 304.
func (h *APIHandler) GetFile(w http.ResponseWriter, r *http.Request, fileID openapi_types.UUID) {
	rec, err := h.files.Get(r.Context(), fileID.String())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	etag := formatETag(rec.Version)
	w.Header().Set("ETag", etag)
	if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// DownloadFile обрабатывает GET /files/{id}/content.
func (h *APIHandler) DownloadFile(w http.ResponseWriter, r *http.Request, fileID openapi_types.UUID) {
	rec, rc, err := h.files.OpenContent(r.Context(), fileID.String())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", rec.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(rec.SizeBytes, 10))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": rec.Filename}))
	w.Header().Set("ETag", formatETag(rec.Version))
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, rc); err != nil {
		// Заголовки уже отправлены, остаётся только лог
		h.logger.Warn("Ошибка отправки содержимого",
			slog.String("file_id", rec.ID),
			slog.String("blob_key", rec.BlobKey),
			slog.String("error", err.Error()),
		)
	}
}

// UpdateFile обрабатывает PATCH /files/{id}.
// If-Match: "<version>" включает условное обновление (412 при несовпадении).
func (h *APIHandler) UpdateFile(w http.ResponseWriter, r *http.Request, fileID openapi_types.UUID) {
	expectedVersion, err := parseIfMatch(r.Header.Get("If-Match"))
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	body, ok := h.readBody(w, r, maxPatchBodySize, openapi.SchemaPatchRequest)
	if !ok {
		return
	}

	var patch model.FilePatch
	if err := json.Unmarshal(body, &patch); err != nil {
		apierrors.ValidationError(w, fmt.Sprintf("Некорректный JSON: %s", err.Error()))
		return
	}

	rec, err := h.files.Update(r.Context(), fileID.String(), patch, expectedVersion)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.Header().Set("ETag", formatETag(rec.Version))
	writeJSON(w, http.StatusOK, rec)
}

// DeleteFile обрабатывает DELETE /files/{id}.
func (h *APIHandler) DeleteFile(w http.ResponseWriter, r *http.Request, fileID openapi_types.UUID) {
	id := fileID.String()
	if err := h.files.Delete(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, deleteResponse{Deleted: true, ID: id})
}

// readBody читает тело с ограничением размера и проверяет его по схеме контракта.
// При ошибке ответ уже записан, возвращается false.
func (h *APIHandler) readBody(w http.ResponseWriter, r *http.Request, limit int64, schema string) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			apierrors.FileTooLarge(w, fmt.Sprintf("Тело запроса превышает лимит %d байт", limit))
			return nil, false
		}
		apierrors.ValidationError(w, fmt.Sprintf("Ошибка чтения тела запроса: %s", err.Error()))
		return nil, false
	}

	if err := h.contract.ValidateBody(schema, body); err != nil {
		apierrors.ValidationError(w, err.Error())
		return nil, false
	}
	return body, true
}

// writeError пишет ошибку сервисного слоя. Отказы хранилищ дополнительно логируются.
func (h *APIHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var storeErr *service.StoreError
	if errors.As(err, &storeErr) {
		h.logger.Error("Отказ хранилища",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("store", storeErr.Store),
			slog.String("operation", storeErr.Op),
			slog.String("key", storeErr.Key),
			slog.String("error", err.Error()),
		)
	}
	apierrors.WriteServiceError(w, err)
}

// formatETag формирует strong ETag из версии записи.
func formatETag(version int64) string {
	return `"` + strconv.FormatInt(version, 10) + `"`
}

// parseIfMatch разбирает If-Match. Пустой заголовок и "*" означают
// безусловное обновление (nil).
func parseIfMatch(header string) (*int64, error) {
	header = strings.TrimSpace(header)
	if header == "" || header == "*" {
		return nil, nil
	}
	tag := strings.TrimPrefix(header, "W/")
	tag = strings.Trim(tag, `"`)
	version, err := strconv.ParseInt(tag, 10, 64)
	if err != nil || version < 1 {
		return nil, fmt.Errorf("Некорректный заголовок If-Match: %q", header)
	}
	return &version, nil
}
