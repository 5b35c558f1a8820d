package blobstore

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"github.com/arturkryukov/tierstore/internal/store"
)

// TestNew_CreatesDirectory проверяет создание корневой директории архива.
func TestNew_CreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "archive")

	bs, err := New(dir)
	if err != nil {
		t.Fatalf("ошибка создания BlobStore: %v", err)
	}
	if bs.DataDir() != dir {
		t.Errorf("ожидался путь %s, получен %s", dir, bs.DataDir())
	}

	info, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("директория не создана: %v", err)
	}
	if !info.IsDir() {
		t.Fatal("путь не является директорией")
	}
}

// TestPutGet проверяет запись и чтение blob, включая шардирование по префиксу id.
func TestPutGet(t *testing.T) {
	bs, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("ошибка создания BlobStore: %v", err)
	}
	ctx := context.Background()

	id := uuid.NewString()
	content := []byte(`{"schema_version":1,"checksum":"abc","record":{}}`)

	if err := bs.Put(ctx, id, content); err != nil {
		t.Fatalf("ошибка записи blob: %v", err)
	}

	// Файл лежит в шард-директории по первым двум символам id
	shardPath := filepath.Join(bs.DataDir(), id[:2], id+".json")
	if _, err := os.Stat(shardPath); err != nil {
		t.Errorf("blob не найден по ожидаемому пути %s: %v", shardPath, err)
	}

	got, err := bs.Get(ctx, id)
	if err != nil {
		t.Fatalf("ошибка чтения blob: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Errorf("содержимое не совпадает: ожидалось %s, получено %s", content, got)
	}
}

// TestPut_Overwrite проверяет идемпотентную перезапись.
func TestPut_Overwrite(t *testing.T) {
	bs, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("ошибка создания BlobStore: %v", err)
	}
	ctx := context.Background()
	id := uuid.NewString()

	if err := bs.Put(ctx, id, []byte("первая версия")); err != nil {
		t.Fatalf("ошибка первой записи: %v", err)
	}
	if err := bs.Put(ctx, id, []byte("вторая версия")); err != nil {
		t.Fatalf("ошибка перезаписи: %v", err)
	}

	got, err := bs.Get(ctx, id)
	if err != nil {
		t.Fatalf("ошибка чтения: %v", err)
	}
	if string(got) != "вторая версия" {
		t.Errorf("ожидалась вторая версия, получено: %s", got)
	}

	// После перезаписи temp файлов не остаётся
	entries, err := os.ReadDir(filepath.Join(bs.DataDir(), id[:2]))
	if err != nil {
		t.Fatalf("ошибка чтения шард-директории: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("в шард-директории ожидался один файл, найдено %d", len(entries))
	}
}

// TestGet_NotFound проверяет ErrNotFound для отсутствующего blob.
func TestGet_NotFound(t *testing.T) {
	bs, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("ошибка создания BlobStore: %v", err)
	}

	_, err = bs.Get(context.Background(), uuid.NewString())
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("ожидалась ErrNotFound, получено: %v", err)
	}
}

// TestExists проверяет наличие и отсутствие blob.
func TestExists(t *testing.T) {
	bs, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("ошибка создания BlobStore: %v", err)
	}
	ctx := context.Background()
	id := uuid.NewString()

	ok, err := bs.Exists(ctx, id)
	if err != nil {
		t.Fatalf("ошибка Exists: %v", err)
	}
	if ok {
		t.Error("blob не записан, но Exists вернул true")
	}

	if err := bs.Put(ctx, id, []byte("данные")); err != nil {
		t.Fatalf("ошибка записи: %v", err)
	}

	ok, err = bs.Exists(ctx, id)
	if err != nil {
		t.Fatalf("ошибка Exists: %v", err)
	}
	if !ok {
		t.Error("blob записан, но Exists вернул false")
	}
}

// TestBlobPath_RejectsTraversal проверяет защиту от подставных id.
func TestBlobPath_RejectsTraversal(t *testing.T) {
	bs, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("ошибка создания BlobStore: %v", err)
	}

	for _, id := range []string{"", "../etc/passwd", `a\b`, "a/b"} {
		if err := bs.Put(context.Background(), id, []byte("x")); err == nil {
			t.Errorf("id %q: ожидалась ошибка, получен nil", id)
		}
	}
}
