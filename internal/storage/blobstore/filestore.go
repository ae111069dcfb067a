// filestore.go — локальное файловое хранилище blob-объектов.
// Запись атомарна: temp файл → fsync → rename.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrInvalidKey — ключ содержит разделители пути или пуст.
var ErrInvalidKey = errors.New("некорректный ключ объекта")

// FileStore — blob-хранилище в локальной директории.
type FileStore struct {
	// dataDir — корневая директория хранения
	dataDir string
}

// NewFileStore создаёт FileStore, создавая директорию при необходимости.
func NewFileStore(dataDir string) (*FileStore, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию данных %s: %w", dataDir, err)
	}
	return &FileStore{dataDir: dataDir}, nil
}

// Name возвращает имя бэкенда.
func (fs *FileStore) Name() string { return "local" }

// Put записывает содержимое на диск атомарно.
func (fs *FileStore) Put(ctx context.Context, key string, r io.Reader, _ int64, _ string) error {
	fullPath, err := fs.path(key)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	tmpPath := fullPath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка записи данных: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка атомарного переименования: %w", err)
	}
	return nil
}

// Get открывает файл на чтение и возвращает его размер.
func (fs *FileStore) Get(_ context.Context, key string) (io.ReadCloser, int64, error) {
	fullPath, err := fs.path(key)
	if err != nil {
		return nil, 0, err
	}

	f, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, 0, fmt.Errorf("ошибка открытия файла %s: %w", key, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("ошибка получения информации о файле %s: %w", key, err)
	}
	return f, info.Size(), nil
}

// Delete удаляет файл. Отсутствие файла не считается ошибкой.
func (fs *FileStore) Delete(_ context.Context, key string) error {
	fullPath, err := fs.path(key)
	if err != nil {
		return err
	}

	err = os.Remove(fullPath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления файла %s: %w", key, err)
	}
	return nil
}

// Exists проверяет существование файла на диске.
func (fs *FileStore) Exists(_ context.Context, key string) (bool, error) {
	fullPath, err := fs.path(key)
	if err != nil {
		return false, err
	}

	_, err = os.Stat(fullPath)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("ошибка проверки файла %s: %w", key, err)
}

// DataDir возвращает путь к директории данных.
func (fs *FileStore) DataDir() string {
	return fs.dataDir
}

// path проверяет ключ и возвращает абсолютный путь файла.
func (fs *FileStore) path(key string) (string, error) {
	if key == "" || key == "." || key == ".." || strings.ContainsAny(key, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return filepath.Join(fs.dataDir, key), nil
}
