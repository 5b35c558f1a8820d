package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/arturkryukov/tierstore/internal/domain/model"
	"github.com/arturkryukov/tierstore/internal/store"
)

// CheckpointRepository — персистентный курсор планировщика миграции.
// Одна строка на checkpoint-поток в таблице migration_checkpoint.
type CheckpointRepository struct {
	db DBTX
}

// NewCheckpointRepository создаёт репозиторий checkpoint.
func NewCheckpointRepository(db DBTX) *CheckpointRepository {
	return &CheckpointRepository{db: db}
}

// Get возвращает checkpoint потока либо store.ErrNotFound (первый запуск).
func (r *CheckpointRepository) Get(ctx context.Context, streamID string) (*model.Checkpoint, error) {
	query := `
		SELECT stream_id, continuation_token, last_cutoff, updated_at
		FROM migration_checkpoint
		WHERE stream_id = $1`

	cp := &model.Checkpoint{}
	err := r.db.QueryRow(ctx, query, streamID).Scan(
		&cp.StreamID, &cp.ContinuationToken, &cp.LastCutoff, &cp.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, transient("получение checkpoint", err)
	}
	return cp, nil
}

// Save выполняет upsert checkpoint потока.
func (r *CheckpointRepository) Save(ctx context.Context, cp *model.Checkpoint) error {
	query := `
		INSERT INTO migration_checkpoint (stream_id, continuation_token, last_cutoff, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (stream_id) DO UPDATE
		SET continuation_token = EXCLUDED.continuation_token,
		    last_cutoff        = EXCLUDED.last_cutoff,
		    updated_at         = now()`

	if _, err := r.db.Exec(ctx, query, cp.StreamID, cp.ContinuationToken, cp.LastCutoff); err != nil {
		return transient("сохранение checkpoint", err)
	}
	return nil
}
