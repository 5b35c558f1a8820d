// Пакет store — capability-интерфейсы уровней хранения и общая таксономия ошибок.
// Migration Worker и Lookup Router работают только через эти интерфейсы
// и не знают о конкретных реализациях (PostgreSQL, blob-директория).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/arturkryukov/tierstore/internal/domain/model"
)

// Ошибки уровней хранения.
var (
	// ErrNotFound — запись отсутствует. Не ошибка, а валидный исход.
	ErrNotFound = errors.New("запись не найдена")
	// ErrVersionMismatch — версия записи изменилась с момента чтения.
	// Доброкачественный сигнал конкуренции, не повторяется как ошибка.
	ErrVersionMismatch = errors.New("версия записи изменилась")
	// ErrTransient — временная ошибка хранилища (сеть, пул, throttling, I/O).
	// Подлежит повтору с backoff.
	ErrTransient = errors.New("временная ошибка хранилища")
	// ErrIntegrity — архивная копия не прошла верификацию.
	// Фатально для записи: горячая копия не удаляется, запись — в dead-letter.
	ErrIntegrity = errors.New("нарушение целостности архивной копии")
	// ErrSerialization — payload не сериализуется/десериализуется.
	// Фатально, запись — в dead-letter.
	ErrSerialization = errors.New("ошибка сериализации записи")
)

// IsTransient сообщает, подлежит ли ошибка повтору с backoff.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// HotStore — горячее хранилище, ключ (id, partitionKey).
type HotStore interface {
	// Get возвращает запись либо ErrNotFound.
	Get(ctx context.Context, id, partitionKey string) (*model.Record, error)
	// Put выполняет upsert записи. Version и UpdatedAt должны быть
	// заполнены вызывающим кодом до вызова.
	Put(ctx context.Context, rec *model.Record) error
	// DeleteIfVersion удаляет запись, только если её текущая версия равна
	// expectedVersion. Иначе ErrVersionMismatch (запись изменилась и НЕ должна
	// удаляться) либо ErrNotFound (уже удалена).
	DeleteIfVersion(ctx context.Context, id, partitionKey, expectedVersion string) error
	// ListOlderThan возвращает страницу записей с created_at < cutoff,
	// упорядоченную по (created_at, id), начиная с continuation-токена.
	// Записи из dead_letter с attempts >= attemptCap исключаются.
	// Пустой nextToken означает конец выборки. Повторный вызов с тем же
	// токеном в рамках одного скана не пропускает и не дублирует записи.
	ListOlderThan(ctx context.Context, cutoff time.Time, token string, limit, attemptCap int) (records []*model.Record, nextToken string, err error)
}

// ArchiveStore — архивное хранилище, ключ — id записи.
// Партиционирования нет, значение — байтовое представление записи (codec).
type ArchiveStore interface {
	// Put сохраняет blob под ключом id. Перезапись разрешена и идемпотентна.
	Put(ctx context.Context, id string, data []byte) error
	// Get возвращает blob либо ErrNotFound.
	Get(ctx context.Context, id string) ([]byte, error)
	// Exists сообщает о наличии blob без чтения содержимого.
	Exists(ctx context.Context, id string) (bool, error)
}
