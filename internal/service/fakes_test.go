package service

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/travis-04/unishare-cw2/internal/domain/model"
	"github.com/travis-04/unishare-cw2/internal/repository"
	"github.com/travis-04/unishare-cw2/internal/storage/blobstore"
	"github.com/travis-04/unishare-cw2/internal/storage/index"
	"github.com/travis-04/unishare-cw2/internal/storage/wal"
)

// --- Mock-хранилище метаданных ---

// fakeRepo — in-memory FileRepository. Функции-поля позволяют подменить
// поведение отдельных методов; nil-ошибка из них передаёт вызов дальше.
type fakeRepo struct {
	mu   sync.Mutex
	recs map[string]*model.FileRecord

	createFn func(rec *model.FileRecord) error
	updateFn func(rec *model.FileRecord, expected int64) error
	deleteFn func(id string) error
	getFn    func(id string) error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{recs: make(map[string]*model.FileRecord)}
}

func (r *fakeRepo) Name() string { return "fake" }

func (r *fakeRepo) Create(_ context.Context, rec *model.FileRecord) error {
	if r.createFn != nil {
		if err := r.createFn(rec); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.recs[rec.ID]; ok {
		return repository.ErrConflict
	}
	r.recs[rec.ID] = rec.Clone()
	return nil
}

func (r *fakeRepo) GetByID(_ context.Context, id string) (*model.FileRecord, error) {
	if r.getFn != nil {
		if err := r.getFn(id); err != nil {
			return nil, err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.recs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return rec.Clone(), nil
}

func (r *fakeRepo) List(context.Context) ([]*model.FileRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := make([]*model.FileRecord, 0, len(r.recs))
	for _, rec := range r.recs {
		result = append(result, rec.Clone())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (r *fakeRepo) Update(_ context.Context, rec *model.FileRecord, expected int64) error {
	if r.updateFn != nil {
		if err := r.updateFn(rec, expected); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.recs[rec.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if cur.Version != expected {
		return repository.ErrConflict
	}
	next := rec.Clone()
	next.Version = expected + 1
	r.recs[rec.ID] = next
	rec.Version = next.Version
	return nil
}

func (r *fakeRepo) Delete(_ context.Context, id string) error {
	if r.deleteFn != nil {
		if err := r.deleteFn(id); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.recs[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.recs, id)
	return nil
}

// put кладёт запись в обход сервиса.
func (r *fakeRepo) put(rec *model.FileRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recs[rec.ID] = rec.Clone()
}

// --- Обёртка blob-хранилища с внедрением ошибок ---

type faultyBlobs struct {
	blobstore.BlobStore

	putErr    func(key string) error
	deleteErr func(key string) error

	// lostDelete: Delete отвечает успехом, но blob остаётся
	lostDelete func(key string) bool
	existsErr  func(key string) error
}

func (b *faultyBlobs) Put(ctx context.Context, key string, r io.Reader, size int64, ct string) error {
	if b.putErr != nil {
		if err := b.putErr(key); err != nil {
			return err
		}
	}
	return b.BlobStore.Put(ctx, key, r, size, ct)
}

func (b *faultyBlobs) Delete(ctx context.Context, key string) error {
	if b.deleteErr != nil {
		if err := b.deleteErr(key); err != nil {
			return err
		}
	}
	if b.lostDelete != nil && b.lostDelete(key) {
		return nil
	}
	return b.BlobStore.Delete(ctx, key)
}

func (b *faultyBlobs) Exists(ctx context.Context, key string) (bool, error) {
	if b.existsErr != nil {
		if err := b.existsErr(key); err != nil {
			return false, err
		}
	}
	return b.BlobStore.Exists(ctx, key)
}

// --- Обёртка индекса с внедрением ошибок ---

type faultyIndex struct {
	index.SearchIndex

	upsertErr func(id string) error
	deleteErr func(id string) error

	// beforeRebuild вызывается после чтения снимка, до его применения
	beforeRebuild func()
}

func (x *faultyIndex) Upsert(ctx context.Context, rec *model.FileRecord) error {
	if x.upsertErr != nil {
		if err := x.upsertErr(rec.ID); err != nil {
			return err
		}
	}
	return x.SearchIndex.Upsert(ctx, rec)
}

func (x *faultyIndex) Delete(ctx context.Context, id string) error {
	if x.deleteErr != nil {
		if err := x.deleteErr(id); err != nil {
			return err
		}
	}
	return x.SearchIndex.Delete(ctx, id)
}

func (x *faultyIndex) BeginRebuild() uint64 {
	return x.SearchIndex.(index.EpochRebuilder).BeginRebuild()
}

func (x *faultyIndex) EndRebuild() {
	x.SearchIndex.(index.EpochRebuilder).EndRebuild()
}

func (x *faultyIndex) RebuildSince(ctx context.Context, epoch uint64, recs []*model.FileRecord) error {
	if x.beforeRebuild != nil {
		x.beforeRebuild()
	}
	return x.SearchIndex.(index.EpochRebuilder).RebuildSince(ctx, epoch, recs)
}

// --- Тестовое окружение ---

type testEnv struct {
	svc   *FileService
	rs    *ReconcileService
	repo  *fakeRepo
	blobs *faultyBlobs
	store *blobstore.FileStore
	idx   *faultyIndex
	mem   *index.Memory
	log   *wal.WAL
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// newTestEnv собирает FileService и ReconcileService поверх реального
// файлового blob-хранилища, in-memory индекса и файлового журнала.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store, err := blobstore.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("Ошибка создания FileStore: %v", err)
	}
	walLog, err := wal.New(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("Ошибка создания WAL: %v", err)
	}

	env := &testEnv{
		repo:  newFakeRepo(),
		blobs: &faultyBlobs{BlobStore: store},
		store: store,
		mem:   index.NewMemory(testLogger()),
		log:   walLog,
	}
	env.idx = &faultyIndex{SearchIndex: env.mem}

	env.svc = NewFileService(env.blobs, env.repo, env.idx, env.log, FileServiceConfig{
		UpdateRetryMaxElapsed: 200 * time.Millisecond,
		SearchDefaultLimit:    50,
		SearchMaxLimit:        200,
	}, testLogger())

	env.rs = NewReconcileService(env.blobs, env.repo, env.idx, env.log, time.Hour, time.Minute, testLogger())
	// Сверка «видит» все записи журнала как достаточно старые
	env.rs.now = func() time.Time { return time.Now().Add(time.Hour) }

	return env
}

// pending возвращает все незавершённые записи журнала.
func (e *testEnv) pending(t *testing.T) []*wal.Entry {
	t.Helper()
	entries, err := e.log.Pending(context.Background(), time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("Pending() ошибка: %v", err)
	}
	return entries
}

// blobExists проверяет наличие blob в файловом хранилище.
func (e *testEnv) blobExists(t *testing.T, key string) bool {
	t.Helper()
	ok, err := e.store.Exists(context.Background(), key)
	if err != nil {
		t.Fatalf("Exists(%s) ошибка: %v", key, err)
	}
	return ok
}

func validParams() CreateParams {
	return CreateParams{
		Title:       "Week 1",
		Description: "Lecture notes",
		Institution: "UCL",
		Tags:        []string{"maths", " maths ", "Maths", ""},
		Filename:    "w1.pdf",
		Content:     []byte("%PDF-1.4 test content"),
	}
}

func strPtr(s string) *string { return &s }
