package service

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/travis-04/unishare-cw2/internal/domain/model"
	"github.com/travis-04/unishare-cw2/internal/repository"
	"github.com/travis-04/unishare-cw2/internal/storage/wal"
)

var errBoom = errors.New("хранилище недоступно")

func TestCreate_Success(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	params := validParams()

	rec, err := env.svc.Create(ctx, params)
	if err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}

	if rec.ID == "" {
		t.Fatal("ID пустой")
	}
	if rec.BlobKey != model.BlobKeyFor(rec.ID, "w1.pdf") {
		t.Errorf("BlobKey = %q, ожидалось %q", rec.BlobKey, model.BlobKeyFor(rec.ID, "w1.pdf"))
	}
	if !strings.Contains(rec.BlobKey, rec.ID) || !strings.Contains(rec.BlobKey, "w1.pdf") {
		t.Errorf("BlobKey %q должен содержать id и имя файла", rec.BlobKey)
	}
	if rec.ContentType != "application/pdf" {
		t.Errorf("ContentType = %q, ожидалось application/pdf", rec.ContentType)
	}
	if rec.Version != 1 || rec.SizeBytes != int64(len(params.Content)) {
		t.Errorf("Version = %d, SizeBytes = %d", rec.Version, rec.SizeBytes)
	}
	if len(rec.Checksum) != 64 {
		t.Errorf("Checksum = %q, ожидался sha256 hex", rec.Checksum)
	}
	if got := strings.Join(rec.Tags, ","); got != "maths,Maths" {
		t.Errorf("Tags = %q, ожидалось maths,Maths", got)
	}

	// Blob по ключу содержит исходные байты
	rc, _, err := env.store.Get(ctx, rec.BlobKey)
	if err != nil {
		t.Fatalf("Get blob ошибка: %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != string(params.Content) {
		t.Errorf("содержимое blob = %q, ожидалось %q", data, params.Content)
	}

	// Запись в индексе, журнал закрыт
	if env.mem.Count() != 1 {
		t.Errorf("индекс содержит %d записей, ожидалась 1", env.mem.Count())
	}
	if p := env.pending(t); len(p) != 0 {
		t.Errorf("pending-записей = %d, ожидалось 0", len(p))
	}
}

func TestCreate_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *CreateParams)
	}{
		{"пустой title", func(p *CreateParams) { p.Title = "  " }},
		{"пустой filename", func(p *CreateParams) { p.Filename = "" }},
		{"пустое содержимое", func(p *CreateParams) { p.Content = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			p := validParams()
			tt.mutate(&p)

			_, err := env.svc.Create(context.Background(), p)
			if !errors.Is(err, ErrValidation) {
				t.Errorf("Create() = %v, ожидалась ErrValidation", err)
			}
			if p := env.pending(t); len(p) != 0 {
				t.Errorf("журнал не должен содержать записей, получено %d", len(p))
			}
		})
	}
}

func TestCreate_BlobWriteFails(t *testing.T) {
	env := newTestEnv(t)
	env.blobs.putErr = func(string) error { return errBoom }

	_, err := env.svc.Create(context.Background(), validParams())
	if !errors.Is(err, ErrStorageWrite) {
		t.Fatalf("Create() = %v, ожидалась ErrStorageWrite", err)
	}
	if !errors.Is(err, errBoom) {
		t.Error("исходная причина должна сохраняться в цепочке ошибок")
	}
	var storeErr *StoreError
	if !errors.As(err, &storeErr) || storeErr.Store != "local" || storeErr.Op != "put" {
		t.Errorf("StoreError = %+v, ожидался local/put", storeErr)
	}

	recs, _ := env.svc.List(context.Background())
	if len(recs) != 0 {
		t.Errorf("List() = %d записей, метаданные не должны создаваться", len(recs))
	}
	if p := env.pending(t); len(p) != 0 {
		t.Errorf("pending-записей = %d, запись журнала должна быть откачена", len(p))
	}
}

func TestCreate_MetadataFails_CompensationSucceeds(t *testing.T) {
	env := newTestEnv(t)
	var blobKey string
	env.repo.createFn = func(rec *model.FileRecord) error {
		blobKey = rec.BlobKey
		return errBoom
	}

	_, err := env.svc.Create(context.Background(), validParams())
	if !errors.Is(err, ErrMetadataWrite) {
		t.Fatalf("Create() = %v, ожидалась ErrMetadataWrite", err)
	}
	var storeErr *StoreError
	if !errors.As(err, &storeErr) {
		t.Fatalf("ожидалась *StoreError, получено %T", err)
	}
	if storeErr.OrphanedBlobKey != "" {
		t.Errorf("OrphanedBlobKey = %q, компенсация прошла успешно", storeErr.OrphanedBlobKey)
	}
	if env.blobExists(t, blobKey) {
		t.Error("blob должен быть удалён компенсацией")
	}
	if p := env.pending(t); len(p) != 0 {
		t.Errorf("pending-записей = %d, ожидалось 0", len(p))
	}
	if env.mem.Count() != 0 {
		t.Error("запись не должна попасть в индекс")
	}
}

func TestCreate_MetadataFails_CompensationFails(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	var blobKey string
	env.repo.createFn = func(rec *model.FileRecord) error {
		blobKey = rec.BlobKey
		return errBoom
	}
	env.blobs.deleteErr = func(string) error { return errBoom }

	_, err := env.svc.Create(ctx, validParams())
	var storeErr *StoreError
	if !errors.As(err, &storeErr) || !errors.Is(err, ErrMetadataWrite) {
		t.Fatalf("Create() = %v, ожидалась StoreError ErrMetadataWrite", err)
	}
	if storeErr.OrphanedBlobKey != blobKey {
		t.Errorf("OrphanedBlobKey = %q, ожидалось %q", storeErr.OrphanedBlobKey, blobKey)
	}
	if !env.blobExists(t, blobKey) {
		t.Fatal("blob должен остаться (компенсация не удалась)")
	}

	pending := env.pending(t)
	if len(pending) != 1 || pending[0].Operation != wal.OpFileCreate || pending[0].BlobKey != blobKey {
		t.Fatalf("ожидалась одна pending-запись file_create, получено %d", len(pending))
	}

	// Хранилище восстановилось, сверка удаляет blob
	env.blobs.deleteErr = nil
	report, skipped := env.rs.RunOnce(ctx)
	if skipped {
		t.Fatal("RunOnce() пропущен")
	}
	if report.RolledBack != 1 || report.Failed != 0 {
		t.Errorf("report = %+v, ожидался RolledBack=1", report)
	}
	if env.blobExists(t, blobKey) {
		t.Error("blob должен быть удалён сверкой")
	}
	if p := env.pending(t); len(p) != 0 {
		t.Errorf("pending-записей после сверки = %d", len(p))
	}
}

func TestCreate_IndexFailureIsNonFatal(t *testing.T) {
	env := newTestEnv(t)
	env.idx.upsertErr = func(string) error { return errBoom }

	rec, err := env.svc.Create(context.Background(), validParams())
	if err != nil {
		t.Fatalf("Create() ошибка: %v (сбой индекса не должен прерывать операцию)", err)
	}
	if _, err := env.svc.Get(context.Background(), rec.ID); err != nil {
		t.Errorf("запись должна существовать: %v", err)
	}
	if !env.blobExists(t, rec.BlobKey) {
		t.Error("blob должен существовать")
	}
}

func TestCreate_IntentLogFails(t *testing.T) {
	env := newTestEnv(t)
	env.svc.intents = failingLog{}

	_, err := env.svc.Create(context.Background(), validParams())
	if !errors.Is(err, ErrIntentLog) {
		t.Errorf("Create() = %v, ожидалась ErrIntentLog", err)
	}
	recs, _ := env.repo.List(context.Background())
	if len(recs) != 0 {
		t.Error("без журнала операция не должна начинаться")
	}
}

func TestUpdate_Partial(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	rec, _ := env.svc.Create(ctx, validParams())

	tags := []string{"physics", "physics"}
	updated, err := env.svc.Update(ctx, rec.ID, model.FilePatch{
		Title:   strPtr("Week 2"),
		Tags:    &tags,
		ID:      strPtr(rec.ID),
		BlobKey: strPtr(rec.BlobKey),
	}, nil)
	if err != nil {
		t.Fatalf("Update() ошибка: %v", err)
	}

	if updated.Title != "Week 2" {
		t.Errorf("Title = %q, ожидалось Week 2", updated.Title)
	}
	if updated.Description != rec.Description || updated.Institution != rec.Institution {
		t.Error("не переданные поля не должны изменяться")
	}
	if len(updated.Tags) != 1 || updated.Tags[0] != "physics" {
		t.Errorf("Tags = %v, ожидалось [physics]", updated.Tags)
	}
	if updated.ID != rec.ID || updated.BlobKey != rec.BlobKey || !updated.CreatedAt.Equal(rec.CreatedAt) {
		t.Error("id, blobKey и createdAt неизменяемы")
	}
	if updated.Version != 2 {
		t.Errorf("Version = %d, ожидалось 2", updated.Version)
	}
	if updated.UpdatedAt.Before(rec.UpdatedAt) {
		t.Error("updatedAt не должен уменьшаться")
	}

	// Индекс обновлён
	hits, _ := env.mem.Query(ctx, "week", 10)
	if len(hits) != 1 {
		t.Errorf("поиск week: %d попаданий, ожидалось 1", len(hits))
	}
	if hits, _ := env.mem.Query(ctx, "maths", 10); len(hits) != 0 {
		t.Error("старые теги должны уйти из индекса")
	}
}

func TestUpdate_ImmutableFieldsRejected(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	rec, _ := env.svc.Create(ctx, validParams())
	otherTime := rec.CreatedAt.Add(-time.Hour)

	patches := map[string]model.FilePatch{
		"id":        {ID: strPtr("other")},
		"blobKey":   {BlobKey: strPtr("other_w1.pdf")},
		"createdAt": {CreatedAt: &otherTime},
		"filename":  {Filename: strPtr("w2.pdf")},
		"title":     {Title: strPtr("   ")},
	}
	for name, patch := range patches {
		t.Run(name, func(t *testing.T) {
			_, err := env.svc.Update(ctx, rec.ID, patch, nil)
			if !errors.Is(err, ErrValidation) {
				t.Errorf("Update() = %v, ожидалась ErrValidation", err)
			}
		})
	}

	got, _ := env.svc.Get(ctx, rec.ID)
	if got.BlobKey != rec.BlobKey || got.ID != rec.ID || !got.CreatedAt.Equal(rec.CreatedAt) || got.Version != 1 {
		t.Errorf("запись изменилась после отклонённых обновлений: %+v", got)
	}
}

func TestUpdate_EmptyPatchIsNoop(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	rec, _ := env.svc.Create(ctx, validParams())

	got, err := env.svc.Update(ctx, rec.ID, model.FilePatch{}, nil)
	if err != nil {
		t.Fatalf("Update() ошибка: %v", err)
	}
	if got.Version != 1 {
		t.Errorf("Version = %d, пустое обновление не должно менять версию", got.Version)
	}
}

func TestUpdate_NotFound(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.svc.Update(context.Background(), "missing", model.FilePatch{Title: strPtr("x")}, nil)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Update() = %v, ожидалась ErrNotFound", err)
	}
}

func TestUpdate_IfMatch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	rec, _ := env.svc.Create(ctx, validParams())

	stale := int64(5)
	if _, err := env.svc.Update(ctx, rec.ID, model.FilePatch{Title: strPtr("x")}, &stale); !errors.Is(err, ErrPreconditionFailed) {
		t.Errorf("Update(If-Match: 5) = %v, ожидалась ErrPreconditionFailed", err)
	}

	current := int64(1)
	updated, err := env.svc.Update(ctx, rec.ID, model.FilePatch{Title: strPtr("x")}, &current)
	if err != nil {
		t.Fatalf("Update(If-Match: 1) ошибка: %v", err)
	}
	if updated.Version != 2 {
		t.Errorf("Version = %d, ожидалось 2", updated.Version)
	}
}

func TestUpdate_IfMatchLostRace(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	rec, _ := env.svc.Create(ctx, validParams())
	env.repo.updateFn = func(*model.FileRecord, int64) error { return repository.ErrConflict }

	current := int64(1)
	_, err := env.svc.Update(ctx, rec.ID, model.FilePatch{Title: strPtr("x")}, &current)
	if !errors.Is(err, ErrPreconditionFailed) {
		t.Errorf("Update() = %v, ожидалась ErrPreconditionFailed без повторов", err)
	}
}

func TestUpdate_RetriesOnConflict(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	rec, _ := env.svc.Create(ctx, validParams())

	var calls atomic.Int32
	env.repo.updateFn = func(*model.FileRecord, int64) error {
		if calls.Add(1) == 1 {
			// Параллельный писатель успел раньше
			env.repo.mu.Lock()
			cur := env.repo.recs[rec.ID]
			cur.Description = "concurrent"
			cur.Version++
			env.repo.mu.Unlock()
		}
		return nil
	}

	updated, err := env.svc.Update(ctx, rec.ID, model.FilePatch{Title: strPtr("Retried")}, nil)
	if err != nil {
		t.Fatalf("Update() ошибка: %v", err)
	}
	if calls.Load() < 2 {
		t.Errorf("ожидался повтор после конфликта, вызовов: %d", calls.Load())
	}
	if updated.Title != "Retried" || updated.Description != "concurrent" {
		t.Errorf("повтор должен применяться к свежей версии: %+v", updated)
	}
	if updated.Version != 3 {
		t.Errorf("Version = %d, ожидалось 3", updated.Version)
	}
}

func TestUpdate_ConflictRetriesExhausted(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	rec, _ := env.svc.Create(ctx, validParams())
	env.repo.updateFn = func(*model.FileRecord, int64) error { return repository.ErrConflict }

	start := time.Now()
	_, err := env.svc.Update(ctx, rec.ID, model.FilePatch{Title: strPtr("x")}, nil)
	if !errors.Is(err, ErrConflict) {
		t.Errorf("Update() = %v, ожидалась ErrConflict", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("повторы заняли %v, ограничение не сработало", elapsed)
	}
}

func TestUpdate_MetadataWriteFails(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	rec, _ := env.svc.Create(ctx, validParams())
	env.repo.updateFn = func(*model.FileRecord, int64) error { return errBoom }

	_, err := env.svc.Update(ctx, rec.ID, model.FilePatch{Title: strPtr("x")}, nil)
	if !errors.Is(err, ErrMetadataWrite) {
		t.Errorf("Update() = %v, ожидалась ErrMetadataWrite", err)
	}
}

func TestDelete_Success(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	rec, _ := env.svc.Create(ctx, validParams())

	if err := env.svc.Delete(ctx, rec.ID); err != nil {
		t.Fatalf("Delete() ошибка: %v", err)
	}
	if _, err := env.svc.Get(ctx, rec.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() после Delete = %v, ожидалась ErrNotFound", err)
	}
	if env.blobExists(t, rec.BlobKey) {
		t.Error("blob должен быть удалён")
	}
	if env.mem.Count() != 0 {
		t.Error("запись должна быть удалена из индекса")
	}
	if p := env.pending(t); len(p) != 0 {
		t.Errorf("pending-записей = %d, ожидалось 0", len(p))
	}

	if err := env.svc.Delete(ctx, rec.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("повторный Delete() = %v, ожидалась ErrNotFound", err)
	}
}

func TestDelete_BlobFails_KeepsMetadata(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	rec, _ := env.svc.Create(ctx, validParams())
	env.blobs.deleteErr = func(string) error { return errBoom }

	err := env.svc.Delete(ctx, rec.ID)
	if !errors.Is(err, ErrStorageDelete) {
		t.Fatalf("Delete() = %v, ожидалась ErrStorageDelete", err)
	}

	recs, _ := env.svc.List(ctx)
	if len(recs) != 1 || recs[0].ID != rec.ID {
		t.Error("запись должна остаться видимой в List")
	}
	if p := env.pending(t); len(p) != 0 {
		t.Errorf("pending-записей = %d, запись журнала должна быть откачена", len(p))
	}
}

func TestDelete_MetadataFails_ReconcileCompletes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	rec, _ := env.svc.Create(ctx, validParams())
	env.repo.deleteFn = func(string) error { return errBoom }

	err := env.svc.Delete(ctx, rec.ID)
	if !errors.Is(err, ErrMetadataDelete) {
		t.Fatalf("Delete() = %v, ожидалась ErrMetadataDelete", err)
	}
	var storeErr *StoreError
	if !errors.As(err, &storeErr) || storeErr.MissingBlobKey != rec.BlobKey {
		t.Errorf("MissingBlobKey = %q, ожидалось %q", storeErr.MissingBlobKey, rec.BlobKey)
	}
	if p := env.pending(t); len(p) != 1 || p[0].Operation != wal.OpFileDelete {
		t.Fatalf("ожидалась pending-запись file_delete")
	}

	env.repo.deleteFn = nil
	report, _ := env.rs.RunOnce(ctx)
	if report.DeletesCompleted != 1 {
		t.Errorf("report = %+v, ожидался DeletesCompleted=1", report)
	}
	if _, err := env.svc.Get(ctx, rec.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("запись должна быть удалена сверкой: %v", err)
	}
	if env.mem.Count() != 0 {
		t.Error("индекс должен быть очищен сверкой")
	}
}

func TestDelete_IndexFailureIsNonFatal(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	rec, _ := env.svc.Create(ctx, validParams())
	env.idx.deleteErr = func(string) error { return errBoom }

	if err := env.svc.Delete(ctx, rec.ID); err != nil {
		t.Fatalf("Delete() ошибка: %v", err)
	}
	// Устаревшая запись индекса не попадает в результаты поиска
	results, err := env.svc.Search(ctx, "week", 0)
	if err != nil {
		t.Fatalf("Search() ошибка: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("Search() = %d записей, устаревшие попадания должны пропускаться", len(results))
	}
}

func TestSearch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	p1 := validParams()
	p1.Title = "Calculus notes"
	a, _ := env.svc.Create(ctx, p1)

	p2 := validParams()
	p2.Title = "History essay"
	p2.Description = "calculus history"
	b, _ := env.svc.Create(ctx, p2)

	p3 := validParams()
	p3.Title = "Chemistry"
	p3.Description = "lab"
	p3.Tags = nil
	if _, err := env.svc.Create(ctx, p3); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}

	results, err := env.svc.Search(ctx, "calc", 0)
	if err != nil {
		t.Fatalf("Search() ошибка: %v", err)
	}
	if len(results) != 2 || results[0].ID != a.ID || results[1].ID != b.ID {
		t.Errorf("Search(calc) вернул неожиданный результат: %d записей", len(results))
	}

	limited, _ := env.svc.Search(ctx, "calc", 1)
	if len(limited) != 1 {
		t.Errorf("Search(limit=1) = %d записей", len(limited))
	}

	// Запись пропала из хранилища метаданных, но осталась в индексе
	env.repo.mu.Lock()
	delete(env.repo.recs, a.ID)
	env.repo.mu.Unlock()

	results, _ = env.svc.Search(ctx, "calc", 0)
	if len(results) != 1 || results[0].ID != b.ID {
		t.Errorf("Search() должен пропускать записи без метаданных, получено %d", len(results))
	}
}

func TestSearch_Errors(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.svc.Search(context.Background(), "   ", 10); !errors.Is(err, ErrValidation) {
		t.Errorf("Search(пусто) = %v, ожидалась ErrValidation", err)
	}

	rec, _ := env.svc.Create(context.Background(), validParams())
	env.repo.getFn = func(id string) error {
		if id == rec.ID {
			return errBoom
		}
		return nil
	}
	if _, err := env.svc.Search(context.Background(), "week", 10); !errors.Is(err, ErrMetadataRead) {
		t.Errorf("Search() = %v, ожидалась ErrMetadataRead", err)
	}
}

func TestOpenContent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	rec, _ := env.svc.Create(ctx, validParams())

	got, rc, err := env.svc.OpenContent(ctx, rec.ID)
	if err != nil {
		t.Fatalf("OpenContent() ошибка: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if got.ID != rec.ID || string(data) != string(validParams().Content) {
		t.Errorf("OpenContent() вернул %q", data)
	}

	// blob пропал: ошибка чтения хранилища
	_ = env.store.Delete(ctx, rec.BlobKey)
	if _, _, err := env.svc.OpenContent(ctx, rec.ID); !errors.Is(err, ErrStorageRead) {
		t.Errorf("OpenContent() = %v, ожидалась ErrStorageRead", err)
	}
}

func TestReindex(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	rec, _ := env.svc.Create(ctx, validParams())

	// Запись добавлена в обход индекса
	other := rec.Clone()
	other.ID = "other"
	other.Title = "Statistics"
	env.repo.put(other)

	n, err := env.svc.Reindex(ctx)
	if err != nil {
		t.Fatalf("Reindex() ошибка: %v", err)
	}
	if n != 2 || env.mem.Count() != 2 {
		t.Errorf("Reindex() = %d, индекс = %d, ожидалось 2", n, env.mem.Count())
	}
	results, _ := env.svc.Search(ctx, "statistics", 0)
	if len(results) != 1 || results[0].ID != "other" {
		t.Error("запись должна находиться после переиндексации")
	}
}

func TestReindex_KeepsConcurrentWrites(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	old, _ := env.svc.Create(ctx, validParams())

	// Между чтением снимка и его применением создаётся одна запись
	// и удаляется другая
	var created *model.FileRecord
	env.idx.beforeRebuild = func() {
		env.idx.beforeRebuild = nil
		p := validParams()
		p.Title = "Zebra"
		var err error
		if created, err = env.svc.Create(ctx, p); err != nil {
			t.Errorf("Create() во время пересборки: %v", err)
		}
		if err := env.svc.Delete(ctx, old.ID); err != nil {
			t.Errorf("Delete() во время пересборки: %v", err)
		}
	}

	if _, err := env.svc.Reindex(ctx); err != nil {
		t.Fatalf("Reindex() ошибка: %v", err)
	}

	results, _ := env.svc.Search(ctx, "zebra", 0)
	if len(results) != 1 || created == nil || results[0].ID != created.ID {
		t.Errorf("Search(zebra) = %d записей, запись, созданная во время пересборки, потеряна", len(results))
	}
	if hits, _ := env.mem.Query(ctx, "week", 10); len(hits) != 0 {
		t.Errorf("удалённая во время пересборки запись вернулась в индекс: %v", hits)
	}
	if env.mem.Count() != 1 {
		t.Errorf("индекс содержит %d записей, ожидалась 1", env.mem.Count())
	}
}

func TestSearch_StaleHitsDoNotConsumeLimit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	p := validParams()
	p.Title = "Weekly notes"
	live, _ := env.svc.Create(ctx, p)

	// Устаревшие записи ранжируются выше живой: точное совпадение заголовка
	for _, id := range []string{"stale-1", "stale-2", "stale-3"} {
		_ = env.mem.Upsert(ctx, &model.FileRecord{ID: id, Title: "Week"})
	}

	results, err := env.svc.Search(ctx, "week", 2)
	if err != nil {
		t.Fatalf("Search() ошибка: %v", err)
	}
	if len(results) != 1 || results[0].ID != live.ID {
		t.Fatalf("Search(week, 2) = %d записей, ожидалась живая запись", len(results))
	}

	// Лимит набирается живыми записями
	second := validParams()
	second.Title = "Weeknight study"
	if _, err := env.svc.Create(ctx, second); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}
	results, _ = env.svc.Search(ctx, "week", 2)
	if len(results) != 2 {
		t.Errorf("Search(week, 2) = %d записей, ожидалось 2", len(results))
	}
	results, _ = env.svc.Search(ctx, "week", 1)
	if len(results) != 1 {
		t.Errorf("Search(week, 1) = %d записей, ожидалась 1", len(results))
	}
}

func TestStoreError_Is(t *testing.T) {
	err := &StoreError{Kind: ErrStorageWrite, Store: "s3", Op: "put", Key: "k", Err: errBoom}
	if !errors.Is(err, ErrStorageWrite) || !errors.Is(err, errBoom) {
		t.Error("errors.Is должен находить вид и причину")
	}
	if errors.Is(err, ErrMetadataWrite) {
		t.Error("errors.Is не должен находить чужой вид")
	}
	if !strings.Contains(err.Error(), "s3") || !strings.Contains(err.Error(), "put") {
		t.Errorf("Error() = %q должен содержать хранилище и операцию", err.Error())
	}

	noCause := &StoreError{Kind: ErrIndexQuery}
	if !errors.Is(noCause, ErrIndexQuery) {
		t.Error("errors.Is без причины")
	}
}

func TestDetectContentType(t *testing.T) {
	tests := []struct {
		filename, contentType string
		content               []byte
		want                  string
	}{
		{"a.pdf", "", nil, "application/pdf"},
		{"a.bin", "Text/Plain; charset=utf-8", nil, "text/plain"},
		{"noext", "", []byte("%PDF-1.4 hello"), "application/pdf"},
		{"noext", "", []byte("plain text here"), "text/plain"},
		{"noext", "", nil, model.DefaultContentType},
	}
	for _, tt := range tests {
		if got := detectContentType(tt.filename, tt.contentType, tt.content); got != tt.want {
			t.Errorf("detectContentType(%q, %q) = %q, ожидалось %q", tt.filename, tt.contentType, got, tt.want)
		}
	}
}

// failingLog — журнал, который не принимает записи.
type failingLog struct{ wal.Nop }

func (failingLog) Begin(context.Context, wal.OperationType, string, string) (*wal.Entry, error) {
	return nil, errBoom
}
