// search.go — обработчики GET /search и GET /list_files.
package handlers

import (
	"net/http"
	"strconv"

	apierrors "github.com/travis-04/unishare-cw2/internal/api/errors"
	"github.com/travis-04/unishare-cw2/internal/domain/model"
)

// SearchFiles обрабатывает GET /search?q=&limit=.
// Пустой q — 400; limit по умолчанию и максимум задаёт сервис.
func (h *APIHandler) SearchFiles(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	limit := 0
	if raw := query.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			apierrors.ValidationError(w, "Параметр limit должен быть положительным целым числом")
			return
		}
		limit = n
	}

	recs, err := h.files.Search(r.Context(), query.Get("q"), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(recs))
}

// ListFiles обрабатывает GET /list_files.
func (h *APIHandler) ListFiles(w http.ResponseWriter, r *http.Request) {
	recs, err := h.files.List(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(recs))
}

// nonNil гарантирует [] вместо null в JSON.
func nonNil(recs []*model.FileRecord) []*model.FileRecord {
	if recs == nil {
		return []*model.FileRecord{}
	}
	return recs
}
