package blobstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestFileStore_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	fs, err := NewFileStore(filepath.Join(t.TempDir(), "blobs"))
	if err != nil {
		t.Fatalf("NewFileStore() ошибка: %v", err)
	}

	data := []byte("%PDF-1.4 test content")
	key := "abc_w1.pdf"

	if err := fs.Put(ctx, key, bytes.NewReader(data), int64(len(data)), "application/pdf"); err != nil {
		t.Fatalf("Put() ошибка: %v", err)
	}

	// temp файл не должен оставаться
	if _, err := os.Stat(filepath.Join(fs.DataDir(), key+".tmp")); !os.IsNotExist(err) {
		t.Error("временный файл остался после Put")
	}

	rc, size, err := fs.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get() ошибка: %v", err)
	}
	got, _ := io.ReadAll(rc)
	rc.Close()
	if !bytes.Equal(got, data) {
		t.Errorf("Get() = %q, ожидалось %q", got, data)
	}
	if size != int64(len(data)) {
		t.Errorf("size = %d, ожидался %d", size, len(data))
	}

	exists, err := fs.Exists(ctx, key)
	if err != nil || !exists {
		t.Errorf("Exists() = %v, %v, ожидалось true, nil", exists, err)
	}

	if err := fs.Delete(ctx, key); err != nil {
		t.Fatalf("Delete() ошибка: %v", err)
	}
	exists, _ = fs.Exists(ctx, key)
	if exists {
		t.Error("объект существует после Delete")
	}

	// Повторное удаление идемпотентно
	if err := fs.Delete(ctx, key); err != nil {
		t.Errorf("повторный Delete() ошибка: %v", err)
	}

	if _, _, err := fs.Get(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() после удаления ошибка = %v, ожидалась ErrNotFound", err)
	}
}

func TestFileStore_Overwrite(t *testing.T) {
	ctx := context.Background()
	fs, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore() ошибка: %v", err)
	}

	_ = fs.Put(ctx, "k", bytes.NewReader([]byte("old")), 3, "")
	if err := fs.Put(ctx, "k", bytes.NewReader([]byte("new!")), 4, ""); err != nil {
		t.Fatalf("Put() ошибка: %v", err)
	}

	rc, _, err := fs.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get() ошибка: %v", err)
	}
	defer rc.Close()
	got, _ := io.ReadAll(rc)
	if string(got) != "new!" {
		t.Errorf("содержимое = %q, ожидалось %q", got, "new!")
	}
}

func TestFileStore_InvalidKeys(t *testing.T) {
	ctx := context.Background()
	fs, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore() ошибка: %v", err)
	}

	for _, key := range []string{"", ".", "..", "../escape", `a\b`, "dir/file"} {
		if err := fs.Put(ctx, key, bytes.NewReader(nil), 0, ""); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("Put(%q) ошибка = %v, ожидалась ErrInvalidKey", key, err)
		}
		if err := fs.Delete(ctx, key); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("Delete(%q) ошибка = %v, ожидалась ErrInvalidKey", key, err)
		}
	}
}

func TestFileStore_PutCancelledContext(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore() ошибка: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := fs.Put(ctx, "k", bytes.NewReader([]byte("x")), 1, ""); !errors.Is(err, context.Canceled) {
		t.Errorf("Put() ошибка = %v, ожидалась context.Canceled", err)
	}
}
