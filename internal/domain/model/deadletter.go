package model

import "time"

// DeadLetterEntry — запись, многократно провалившая миграцию.
// Хранится в таблице dead_letter. Запись с Attempts >= предела исключается
// из автоматических попыток до ручной очистки оператором.
type DeadLetterEntry struct {
	// RecordID — UUID записи
	RecordID string `json:"record_id"`
	// PartitionKey — ключ партиционирования записи
	PartitionKey string `json:"partition_key"`
	// LastError — текст последней ошибки миграции
	LastError string `json:"last_error"`
	// Attempts — количество неуспешных запусков миграции
	Attempts int `json:"attempts"`
	// UpdatedAt — время последней неуспешной попытки
	UpdatedAt time.Time `json:"updated_at"`
}
