// handler.go — основной обработчик API: регистрация маршрутов chi,
// привязка path-параметров и общие вспомогательные функции.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
	openapi_types "github.com/oapi-codegen/runtime/types"

	apierrors "github.com/travis-04/unishare-cw2/internal/api/errors"
	"github.com/travis-04/unishare-cw2/internal/api/openapi"
	"github.com/travis-04/unishare-cw2/internal/domain/model"
	"github.com/travis-04/unishare-cw2/internal/service"
)

// FileWorkflow — операции над файловыми записями.
// Реализуется service.FileService; в тестах подменяется mock.
type FileWorkflow interface {
	Create(ctx context.Context, p service.CreateParams) (*model.FileRecord, error)
	Get(ctx context.Context, id string) (*model.FileRecord, error)
	Update(ctx context.Context, id string, patch model.FilePatch, expectedVersion *int64) (*model.FileRecord, error)
	Delete(ctx context.Context, id string) error
	Search(ctx context.Context, term string, limit int) ([]*model.FileRecord, error)
	List(ctx context.Context) ([]*model.FileRecord, error)
	OpenContent(ctx context.Context, id string) (*model.FileRecord, io.ReadCloser, error)
}

// maxPatchBodySize — лимит тела PATCH-запроса (только метаданные).
const maxPatchBodySize = 1 << 20

// APIHandler — основной обработчик API.
type APIHandler struct {
	files         FileWorkflow
	health        *HealthHandler
	maintenance   *MaintenanceHandler
	contract      *openapi.Contract
	maxUploadSize int64
	logger        *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
// maxUploadSize — лимит тела POST /files в байтах (JSON с base64).
func NewAPIHandler(
	files FileWorkflow,
	health *HealthHandler,
	maintenance *MaintenanceHandler,
	contract *openapi.Contract,
	maxUploadSize int64,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		files:         files,
		health:        health,
		maintenance:   maintenance,
		contract:      contract,
		maxUploadSize: maxUploadSize,
		logger:        logger.With(slog.String("component", "api_handler")),
	}
}

// Register регистрирует все маршруты API на router.
func (h *APIHandler) Register(r chi.Router) {
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		apierrors.NotFound(w, fmt.Sprintf("Маршрут %s не найден", r.URL.Path))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		apierrors.WriteError(w, http.StatusMethodNotAllowed, apierrors.CodeValidationError,
			fmt.Sprintf("Метод %s не поддерживается для %s", r.Method, r.URL.Path))
	})

	// Health и метрики
	r.Get("/health/live", h.health.HealthLive)
	r.Get("/health/ready", h.health.HealthReady)
	r.Get("/metrics", h.health.GetMetrics)
	r.Get("/openapi.json", h.GetOpenAPI)

	// Файловые записи
	r.Get("/list_files", h.ListFiles)
	r.Get("/search", h.SearchFiles)
	r.Post("/files", h.CreateFile)
	r.Route("/files/{id}", func(r chi.Router) {
		r.Get("/", h.withFileID(h.GetFile))
		r.Patch("/", h.withFileID(h.UpdateFile))
		r.Delete("/", h.withFileID(h.DeleteFile))
		r.Get("/content", h.withFileID(h.DownloadFile))
	})

	// Обслуживание
	r.Post("/maintenance/reconcile", h.maintenance.Reconcile)
	r.Post("/maintenance/reindex", h.maintenance.Reindex)
}

// GetOpenAPI отдаёт OpenAPI контракт.
func (h *APIHandler) GetOpenAPI(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(h.contract.JSON())
}

// fileHandlerFunc — обработчик с привязанным {id}.
type fileHandlerFunc func(w http.ResponseWriter, r *http.Request, fileID openapi_types.UUID)

// withFileID привязывает path-параметр {id} как UUID.
// Некорректный id — 400 до обращения к хранилищам.
func (h *APIHandler) withFileID(next fileHandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var fileID openapi_types.UUID
		err := runtime.BindStyledParameterWithOptions("simple", "id", chi.URLParam(r, "id"), &fileID,
			runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
		if err != nil {
			apierrors.ValidationError(w, fmt.Sprintf("Некорректный параметр id: %s", err))
			return
		}
		next(w, r, fileID)
	}
}

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
