// Пакет codec — сериализация записей в байтовое представление архивного
// хранилища и обратно. Конверт содержит SHA-256 контрольную сумму
// канонического JSON записи: Decode возвращает store.ErrIntegrity при
// усечённых или повреждённых данных, а не неверную запись.
package codec

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/arturkryukov/tierstore/internal/domain/model"
	"github.com/arturkryukov/tierstore/internal/store"
)

// schemaVersion — версия формата конверта.
const schemaVersion = 1

// envelope — формат blob в архивном хранилище.
type envelope struct {
	// SchemaVersion — версия формата конверта
	SchemaVersion int `json:"schema_version"`
	// Checksum — hex SHA-256 канонического JSON записи
	Checksum string `json:"checksum"`
	// Record — сериализованная запись
	Record json.RawMessage `json:"record"`
}

// recordJSON — wire-представление записи внутри конверта.
type recordJSON struct {
	ID           string          `json:"id"`
	PartitionKey string          `json:"partition_key"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	Version      string          `json:"version"`
	Payload      json.RawMessage `json:"payload,omitempty"`
}

// Encode сериализует запись в байты архивного blob.
func Encode(rec *model.Record) ([]byte, error) {
	inner, err := json.Marshal(recordJSON{
		ID:           rec.ID,
		PartitionKey: rec.PartitionKey,
		CreatedAt:    rec.CreatedAt.UTC(),
		UpdatedAt:    rec.UpdatedAt.UTC(),
		Version:      rec.Version,
		Payload:      rec.Payload,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrSerialization, err)
	}

	sum := sha256.Sum256(inner)
	data, err := json.Marshal(envelope{
		SchemaVersion: schemaVersion,
		Checksum:      hex.EncodeToString(sum[:]),
		Record:        inner,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrSerialization, err)
	}
	return data, nil
}

// Decode восстанавливает запись из байтов архивного blob.
// Проверяет контрольную сумму до разбора содержимого записи.
func Decode(data []byte) (*model.Record, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: повреждённый конверт: %v", store.ErrIntegrity, err)
	}
	if env.SchemaVersion != schemaVersion {
		return nil, fmt.Errorf("%w: неизвестная версия формата %d", store.ErrSerialization, env.SchemaVersion)
	}

	sum := sha256.Sum256(env.Record)
	if hex.EncodeToString(sum[:]) != env.Checksum {
		return nil, fmt.Errorf("%w: контрольная сумма не совпадает", store.ErrIntegrity)
	}

	var rj recordJSON
	if err := json.Unmarshal(env.Record, &rj); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrSerialization, err)
	}

	return &model.Record{
		ID:           rj.ID,
		PartitionKey: rj.PartitionKey,
		CreatedAt:    rj.CreatedAt,
		UpdatedAt:    rj.UpdatedAt,
		Version:      rj.Version,
		Payload:      rj.Payload,
	}, nil
}
