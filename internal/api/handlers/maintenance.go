// maintenance.go — обработчики POST /maintenance/reconcile и /maintenance/reindex.
// Делегируют работу в ReconcileService и FileService.
package handlers

import (
	"context"
	"net/http"

	apierrors "github.com/travis-04/unishare-cw2/internal/api/errors"
	"github.com/travis-04/unishare-cw2/internal/service"
)

// ReconcileRunner — интерфейс для запуска сверки журнала намерений.
// Позволяет тестировать handler без полного ReconcileService.
type ReconcileRunner interface {
	// RunOnce выполняет один проход сверки.
	// Возвращает отчёт и флаг "уже выполняется".
	RunOnce(ctx context.Context) (*service.ReconcileReport, bool)
}

// Reindexer — пересборка поискового индекса из хранилища метаданных.
type Reindexer interface {
	Reindex(ctx context.Context) (int, error)
	IndexName() string
}

// reindexResponse — ответ POST /maintenance/reindex.
type reindexResponse struct {
	Indexed int    `json:"indexed"`
	Index   string `json:"index"`
}

// MaintenanceHandler — обработчик endpoints обслуживания.
type MaintenanceHandler struct {
	reconciler ReconcileRunner
	reindexer  Reindexer
}

// NewMaintenanceHandler создаёт обработчик maintenance endpoints.
func NewMaintenanceHandler(reconciler ReconcileRunner, reindexer Reindexer) *MaintenanceHandler {
	return &MaintenanceHandler{
		reconciler: reconciler,
		reindexer:  reindexer,
	}
}

// Reconcile обрабатывает POST /maintenance/reconcile.
// Запускает синхронный проход сверки и возвращает отчёт.
// Если сверка уже выполняется, 409 RECONCILE_IN_PROGRESS.
func (h *MaintenanceHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	report, inProgress := h.reconciler.RunOnce(r.Context())
	if inProgress {
		apierrors.ReconcileInProgress(w, "Сверка уже выполняется")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Reindex обрабатывает POST /maintenance/reindex.
func (h *MaintenanceHandler) Reindex(w http.ResponseWriter, r *http.Request) {
	n, err := h.reindexer.Reindex(r.Context())
	if err != nil {
		apierrors.WriteServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reindexResponse{Indexed: n, Index: h.reindexer.IndexName()})
}
