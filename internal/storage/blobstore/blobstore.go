// Пакет blobstore — архивное хранилище записей на файловой системе
// (смонтированный cold-том). Ключ — id записи, значение — конверт codec.
// Запись атомарна: temp файл → fsync → rename, перезапись разрешена.
package blobstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/arturkryukov/tierstore/internal/store"
)

// blobSuffix — расширение файлов архивных blob.
const blobSuffix = ".json"

// BlobStore — реализация store.ArchiveStore поверх директории на диске.
// Файлы раскладываются по поддиректориям-шардам по первым двум символам id,
// чтобы избежать деградации на больших директориях.
type BlobStore struct {
	// dataDir — корневая директория архива (TS_ARCHIVE_DIR)
	dataDir string
}

// New создаёт BlobStore. Проверяет и создаёт корневую директорию.
func New(dataDir string) (*BlobStore, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию архива %s: %w", dataDir, err)
	}
	return &BlobStore{dataDir: dataDir}, nil
}

// DataDir возвращает корневую директорию архива.
func (bs *BlobStore) DataDir() string {
	return bs.dataDir
}

// blobPath возвращает путь blob для id: {dataDir}/{shard}/{id}.json.
func (bs *BlobStore) blobPath(id string) (string, error) {
	id = strings.TrimSpace(id)
	// Защита от выхода за пределы dataDir через подставной id
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return "", fmt.Errorf("%w: недопустимый id %q", store.ErrSerialization, id)
	}
	shard := id
	if len(shard) > 2 {
		shard = shard[:2]
	}
	return filepath.Join(bs.dataDir, shard, id+blobSuffix), nil
}

// Put атомарно сохраняет blob под ключом id.
// Паттерн: temp файл → запись → fsync → atomic rename.
// Повторная запись того же содержимого — идемпотентная перезапись.
func (bs *BlobStore) Put(_ context.Context, id string, data []byte) error {
	fullPath, err := bs.blobPath(id)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return fmt.Errorf("%w: создание шард-директории: %v", store.ErrTransient, err)
	}

	tmpPath := fullPath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("%w: создание временного файла: %v", store.ErrTransient, err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("%w: запись blob: %v", store.ErrTransient, err)
	}

	// fsync для гарантии записи на диск до rename
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("%w: fsync: %v", store.ErrTransient, err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: закрытие файла: %v", store.ErrTransient, err)
	}

	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: атомарное переименование: %v", store.ErrTransient, err)
	}

	return nil
}

// Get возвращает содержимое blob либо store.ErrNotFound.
func (bs *BlobStore) Get(_ context.Context, id string) ([]byte, error) {
	fullPath, err := bs.blobPath(id)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("%w: чтение blob %s: %v", store.ErrTransient, id, err)
	}
	return data, nil
}

// CheckReady проверяет доступность директории архива для readiness probe.
// Возвращает статус ("ok"/"fail") и сообщение.
func (bs *BlobStore) CheckReady() (string, string) {
	info, err := os.Stat(bs.dataDir)
	if err != nil {
		return "fail", fmt.Sprintf("директория архива недоступна: %v", err)
	}
	if !info.IsDir() {
		return "fail", fmt.Sprintf("%s не является директорией", bs.dataDir)
	}
	return "ok", ""
}

// Exists сообщает о наличии blob без чтения содержимого.
func (bs *BlobStore) Exists(_ context.Context, id string) (bool, error) {
	fullPath, err := bs.blobPath(id)
	if err != nil {
		return false, err
	}

	if _, err := os.Stat(fullPath); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("%w: stat blob %s: %v", store.ErrTransient, id, err)
	}
	return true, nil
}
