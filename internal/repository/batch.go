package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/arturkryukov/tierstore/internal/domain/model"
)

// Failure — неуспешная миграция одной записи в рамках страницы.
type Failure struct {
	// RecordID — UUID записи
	RecordID string
	// PartitionKey — ключ партиционирования записи
	PartitionKey string
	// Message — текст последней ошибки
	Message string
}

// BatchPersister атомарно фиксирует итог обработанной страницы планировщика:
// dead-letter инкременты и продвинутый checkpoint пишутся в одной транзакции
// ПОСЛЕ обработки страницы. Падение посреди страницы приводит лишь к повторной
// обработке идемпотентной работы, но никогда — к пропуску записей.
type BatchPersister struct {
	runner *TxRunner
}

// NewBatchPersister создаёт персистер итогов страницы.
func NewBatchPersister(runner *TxRunner) *BatchPersister {
	return &BatchPersister{runner: runner}
}

// PersistPage сохраняет checkpoint и dead-letter изменения одной страницы.
// Возвращает количество записей, достигших attemptCap на этой странице
// (для BatchReport.DeadLettered).
func (p *BatchPersister) PersistPage(ctx context.Context, cp *model.Checkpoint, failures []Failure, attemptCap int) (int, error) {
	deadLettered := 0
	err := p.runner.RunInTx(ctx, func(tx pgx.Tx) error {
		dlRepo := NewDeadLetterRepository(tx)
		for _, f := range failures {
			attempts, err := dlRepo.Upsert(ctx, f.RecordID, f.PartitionKey, f.Message)
			if err != nil {
				return err
			}
			if attempts == attemptCap {
				deadLettered++
			}
		}
		return NewCheckpointRepository(tx).Save(ctx, cp)
	})
	if err != nil {
		return 0, err
	}
	return deadLettered, nil
}
