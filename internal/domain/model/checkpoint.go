package model

import "time"

// DefaultStream — идентификатор checkpoint-потока по умолчанию.
// Планировщик работает с одним потоком; отдельные потоки позволяют
// в будущем шардировать сканирование.
const DefaultStream = "default"

// Checkpoint — персистентный курсор сканирования планировщика миграции.
// Хранится в таблице migration_checkpoint (одна строка на поток).
//
// Непустой ContinuationToken означает незавершённый скан: следующий запуск
// продолжает с этого токена и с LastCutoff того же скана, чтобы keyset-пагинация
// не пропускала записи. Пустой токен — скан завершён, следующий запуск
// начинает заново со свежим cutoff.
type Checkpoint struct {
	// StreamID — идентификатор потока сканирования
	StreamID string `json:"stream_id"`
	// ContinuationToken — токен продолжения пагинации ("" = скан завершён)
	ContinuationToken string `json:"continuation_token,omitempty"`
	// LastCutoff — граница возраста, с которой начат текущий/последний скан
	LastCutoff time.Time `json:"last_cutoff"`
	// UpdatedAt — время последнего сохранения
	UpdatedAt time.Time `json:"updated_at"`
}

// InProgress сообщает, есть ли незавершённый скан.
func (c *Checkpoint) InProgress() bool {
	return c != nil && c.ContinuationToken != ""
}

// BatchReport — итог одного запуска RunBatch планировщика.
type BatchReport struct {
	// Scanned — количество записей-кандидатов, обработанных за запуск
	Scanned int `json:"scanned"`
	// Migrated — успешно перенесено в архив
	Migrated int `json:"migrated"`
	// Skipped — пропущено (already-gone, record-modified)
	Skipped int `json:"skipped"`
	// Failed — завершилось ошибкой (добавлено/обновлено в dead-letter)
	Failed int `json:"failed"`
	// DeadLettered — записей достигло предела попыток за этот запуск
	DeadLettered int `json:"dead_lettered"`
	// NextToken — токен продолжения ("" — скан дошёл до конца)
	NextToken string `json:"next_token,omitempty"`
	// Duration — длительность запуска (в JSON сериализуется отдельно)
	Duration time.Duration `json:"-"`
}
