package repository

import (
	"context"

	"github.com/arturkryukov/tierstore/internal/domain/model"
	"github.com/arturkryukov/tierstore/internal/store"
)

// DeadLetterRepository — учёт записей, проваливших миграцию.
type DeadLetterRepository struct {
	db DBTX
}

// NewDeadLetterRepository создаёт репозиторий dead-letter.
func NewDeadLetterRepository(db DBTX) *DeadLetterRepository {
	return &DeadLetterRepository{db: db}
}

// Upsert добавляет запись в dead_letter либо инкрементирует счётчик попыток.
// Возвращает итоговое значение attempts.
func (r *DeadLetterRepository) Upsert(ctx context.Context, recordID, partitionKey, lastError string) (int, error) {
	query := `
		INSERT INTO dead_letter (record_id, partition_key, last_error, attempts, updated_at)
		VALUES ($1, $2, $3, 1, now())
		ON CONFLICT (record_id, partition_key) DO UPDATE
		SET last_error = EXCLUDED.last_error,
		    attempts   = dead_letter.attempts + 1,
		    updated_at = now()
		RETURNING attempts`

	var attempts int
	if err := r.db.QueryRow(ctx, query, recordID, partitionKey, lastError).Scan(&attempts); err != nil {
		return 0, transient("upsert dead-letter", err)
	}
	return attempts, nil
}

// List возвращает страницу dead-letter записей, свежие — первыми.
func (r *DeadLetterRepository) List(ctx context.Context, limit, offset int) ([]*model.DeadLetterEntry, error) {
	query := `
		SELECT record_id, partition_key, last_error, attempts, updated_at
		FROM dead_letter
		ORDER BY updated_at DESC
		LIMIT $1 OFFSET $2`

	rows, err := r.db.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, transient("выборка dead-letter", err)
	}
	defer rows.Close()

	var entries []*model.DeadLetterEntry
	for rows.Next() {
		e := &model.DeadLetterEntry{}
		if err := rows.Scan(&e.RecordID, &e.PartitionKey, &e.LastError, &e.Attempts, &e.UpdatedAt); err != nil {
			return nil, transient("чтение строки dead-letter", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, transient("итерация dead-letter", err)
	}
	return entries, nil
}

// Count возвращает общее количество dead-letter записей.
func (r *DeadLetterRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRow(ctx, `SELECT count(*) FROM dead_letter`).Scan(&count); err != nil {
		return 0, transient("подсчёт dead-letter", err)
	}
	return count, nil
}

// Clear удаляет dead-letter запись, возвращая её в автоматическую миграцию.
// Отсутствие записи — store.ErrNotFound.
func (r *DeadLetterRepository) Clear(ctx context.Context, recordID, partitionKey string) error {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM dead_letter WHERE record_id = $1 AND partition_key = $2`,
		recordID, partitionKey,
	)
	if err != nil {
		return transient("очистка dead-letter", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}
