// Пакет model — доменные модели tierstore.
package model

import (
	"bytes"
	"encoding/json"
	"time"
)

// Tier — уровень хранения, в котором найдена запись.
type Tier string

const (
	// TierHot — запись прочитана из горячего хранилища (PostgreSQL).
	TierHot Tier = "hot"
	// TierArchive — запись прочитана из архивного хранилища (blob).
	TierArchive Tier = "archive"
)

// Record — запись в хранилище.
// Семантика write-once-then-read-many: payload создаётся один раз,
// повторная запись того же id считается новой версией.
// Хранится в таблице records (горячее хранилище) либо как blob
// в архивном хранилище после миграции.
type Record struct {
	// ID — UUID записи, неизменяемый
	ID string `json:"id"`
	// PartitionKey — ключ партиционирования горячего хранилища, неизменяемый
	PartitionKey string `json:"partition_key"`
	// CreatedAt — время создания, определяет пригодность к архивации
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt — время последней записи
	UpdatedAt time.Time `json:"updated_at"`
	// Version — opaque-токен, меняется при каждой записи.
	// Используется для optimistic concurrency (условное удаление при миграции).
	Version string `json:"version"`
	// Payload — произвольные структурированные данные (до ~300 КБ)
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Equal сравнивает записи по значимым полям.
// Используется при верификации архивной копии: сравниваются идентичность,
// версия и payload, UpdatedAt не участвует (не влияет на целостность).
func (r *Record) Equal(other *Record) bool {
	if other == nil {
		return false
	}
	return r.ID == other.ID &&
		r.PartitionKey == other.PartitionKey &&
		r.Version == other.Version &&
		r.CreatedAt.Equal(other.CreatedAt) &&
		payloadEqual(r.Payload, other.Payload)
}

// payloadEqual сравнивает JSON-payload без учёта незначащих пробелов:
// jsonb в PostgreSQL и json.Marshal нормализуют whitespace по-разному.
func payloadEqual(a, b json.RawMessage) bool {
	if len(a) == 0 || len(b) == 0 {
		return len(a) == 0 && len(b) == 0
	}
	var ca, cb bytes.Buffer
	if json.Compact(&ca, a) != nil || json.Compact(&cb, b) != nil {
		return bytes.Equal(a, b)
	}
	return bytes.Equal(ca.Bytes(), cb.Bytes())
}

// Age возвращает возраст записи относительно now.
func (r *Record) Age(now time.Time) time.Duration {
	return now.Sub(r.CreatedAt)
}
