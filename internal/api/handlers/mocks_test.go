package handlers

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/travis-04/unishare-cw2/internal/api/openapi"
	"github.com/travis-04/unishare-cw2/internal/domain/model"
	"github.com/travis-04/unishare-cw2/internal/repository"
	"github.com/travis-04/unishare-cw2/internal/service"
)

const testID = "3f2b6c1e-8a4d-4e5f-9b7a-1c2d3e4f5a6b"

// --- Mock сервиса файловых записей ---

type mockWorkflow struct {
	createFn func(p service.CreateParams) (*model.FileRecord, error)
	getFn    func(id string) (*model.FileRecord, error)
	updateFn func(id string, patch model.FilePatch, expected *int64) (*model.FileRecord, error)
	deleteFn func(id string) error
	searchFn func(term string, limit int) ([]*model.FileRecord, error)
	listFn   func() ([]*model.FileRecord, error)
	openFn   func(id string) (*model.FileRecord, io.ReadCloser, error)
}

func notFound(id string) error {
	return fmt.Errorf("%w: %s", service.ErrNotFound, id)
}

func (m *mockWorkflow) Create(_ context.Context, p service.CreateParams) (*model.FileRecord, error) {
	if m.createFn == nil {
		return nil, fmt.Errorf("createFn не задан")
	}
	return m.createFn(p)
}

func (m *mockWorkflow) Get(_ context.Context, id string) (*model.FileRecord, error) {
	if m.getFn == nil {
		return nil, notFound(id)
	}
	return m.getFn(id)
}

func (m *mockWorkflow) Update(_ context.Context, id string, patch model.FilePatch, expected *int64) (*model.FileRecord, error) {
	if m.updateFn == nil {
		return nil, notFound(id)
	}
	return m.updateFn(id, patch, expected)
}

func (m *mockWorkflow) Delete(_ context.Context, id string) error {
	if m.deleteFn == nil {
		return notFound(id)
	}
	return m.deleteFn(id)
}

func (m *mockWorkflow) Search(_ context.Context, term string, limit int) ([]*model.FileRecord, error) {
	if m.searchFn == nil {
		return nil, nil
	}
	return m.searchFn(term, limit)
}

func (m *mockWorkflow) List(context.Context) ([]*model.FileRecord, error) {
	if m.listFn == nil {
		return nil, nil
	}
	return m.listFn()
}

func (m *mockWorkflow) OpenContent(_ context.Context, id string) (*model.FileRecord, io.ReadCloser, error) {
	if m.openFn == nil {
		return nil, nil, notFound(id)
	}
	return m.openFn(id)
}

// --- Mock сверки и пересборки индекса ---

type mockReconciler struct {
	report     *service.ReconcileReport
	inProgress bool
}

func (m *mockReconciler) RunOnce(context.Context) (*service.ReconcileReport, bool) {
	if m.inProgress {
		return nil, true
	}
	return m.report, false
}

type mockReindexer struct {
	n   int
	err error
}

func (m *mockReindexer) Reindex(context.Context) (int, error) { return m.n, m.err }
func (m *mockReindexer) IndexName() string                    { return "memory" }

// --- Mock проверки готовности ---

type mockChecker struct {
	name, status, message string
}

func (c mockChecker) Name() string                        { return c.name }
func (c mockChecker) CheckReady() (status, message string) { return c.status, c.message }

// --- In-memory хранилище метаданных для сквозных тестов ---

type memRepo struct {
	mu   sync.Mutex
	recs map[string]*model.FileRecord
}

func newMemRepo() *memRepo {
	return &memRepo{recs: make(map[string]*model.FileRecord)}
}

func (r *memRepo) Name() string { return "memory" }

func (r *memRepo) Create(_ context.Context, rec *model.FileRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.recs[rec.ID]; ok {
		return repository.ErrConflict
	}
	r.recs[rec.ID] = rec.Clone()
	return nil
}

func (r *memRepo) GetByID(_ context.Context, id string) (*model.FileRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.recs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return rec.Clone(), nil
}

func (r *memRepo) List(context.Context) ([]*model.FileRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*model.FileRecord, 0, len(r.recs))
	for _, rec := range r.recs {
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memRepo) Update(_ context.Context, rec *model.FileRecord, expected int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.recs[rec.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if cur.Version != expected {
		return repository.ErrConflict
	}
	rec.Version = expected + 1
	r.recs[rec.ID] = rec.Clone()
	return nil
}

func (r *memRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.recs[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.recs, id)
	return nil
}

// --- Вспомогательные функции ---

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type routerOptions struct {
	maxUploadSize int64
	reconciler    ReconcileRunner
	reindexer     Reindexer
	checkers      []ReadinessChecker
}

// newTestRouter собирает chi router со всеми маршрутами API.
func newTestRouter(t *testing.T, files FileWorkflow, opts routerOptions) http.Handler {
	t.Helper()

	contract, err := openapi.Load(context.Background())
	if err != nil {
		t.Fatalf("Ошибка загрузки контракта: %v", err)
	}
	if opts.maxUploadSize == 0 {
		opts.maxUploadSize = 1 << 20
	}
	if opts.reconciler == nil {
		opts.reconciler = &mockReconciler{report: &service.ReconcileReport{}}
	}
	if opts.reindexer == nil {
		opts.reindexer = &mockReindexer{}
	}

	h := NewAPIHandler(
		files,
		NewHealthHandler(opts.checkers...),
		NewMaintenanceHandler(opts.reconciler, opts.reindexer),
		contract,
		opts.maxUploadSize,
		testLogger(),
	)
	router := chi.NewRouter()
	h.Register(router)
	return router
}

func testRecord() *model.FileRecord {
	return &model.FileRecord{
		ID:          testID,
		Title:       "Week 1",
		Tags:        []string{"maths"},
		Filename:    "w1.pdf",
		ContentType: "application/pdf",
		BlobKey:     model.BlobKeyFor(testID, "w1.pdf"),
		SizeBytes:   4,
		Version:     3,
	}
}
