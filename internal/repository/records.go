package repository

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/arturkryukov/tierstore/internal/domain/model"
	"github.com/arturkryukov/tierstore/internal/store"
)

// RecordRepository — горячее хранилище записей поверх таблицы records.
// Реализует store.HotStore.
type RecordRepository struct {
	db DBTX
}

// NewRecordRepository создаёт репозиторий записей.
func NewRecordRepository(db DBTX) *RecordRepository {
	return &RecordRepository{db: db}
}

// Get возвращает запись по (id, partitionKey) либо store.ErrNotFound.
func (r *RecordRepository) Get(ctx context.Context, id, partitionKey string) (*model.Record, error) {
	query := `
		SELECT id, partition_key, created_at, updated_at, version, payload
		FROM records
		WHERE id = $1 AND partition_key = $2`

	rec := &model.Record{}
	err := r.db.QueryRow(ctx, query, id, partitionKey).Scan(
		&rec.ID, &rec.PartitionKey, &rec.CreatedAt, &rec.UpdatedAt, &rec.Version, &rec.Payload,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, transient("получение записи", err)
	}
	return rec, nil
}

// Put выполняет upsert записи. created_at неизменяем: при конфликте
// сохраняется значение первой вставки, обновляются только payload,
// version и updated_at.
func (r *RecordRepository) Put(ctx context.Context, rec *model.Record) error {
	query := `
		INSERT INTO records (id, partition_key, created_at, updated_at, version, payload)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id, partition_key) DO UPDATE
		SET updated_at = EXCLUDED.updated_at,
		    version    = EXCLUDED.version,
		    payload    = EXCLUDED.payload`

	_, err := r.db.Exec(ctx, query,
		rec.ID, rec.PartitionKey, rec.CreatedAt, rec.UpdatedAt, rec.Version, rec.Payload,
	)
	if err != nil {
		return transient("upsert записи", err)
	}
	return nil
}

// DeleteIfVersion удаляет запись, только если её версия не изменилась.
// Ноль затронутых строк распознаётся дополнительным запросом:
// запись существует — store.ErrVersionMismatch (удалять НЕЛЬЗЯ),
// записи нет — store.ErrNotFound (конкурентная миграция уже удалила).
func (r *RecordRepository) DeleteIfVersion(ctx context.Context, id, partitionKey, expectedVersion string) error {
	query := `
		DELETE FROM records
		WHERE id = $1 AND partition_key = $2 AND version = $3`

	tag, err := r.db.Exec(ctx, query, id, partitionKey, expectedVersion)
	if err != nil {
		return transient("условное удаление записи", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var one int
	err = r.db.QueryRow(ctx,
		`SELECT 1 FROM records WHERE id = $1 AND partition_key = $2`,
		id, partitionKey,
	).Scan(&one)
	switch {
	case err == nil:
		return store.ErrVersionMismatch
	case errors.Is(err, pgx.ErrNoRows):
		return store.ErrNotFound
	default:
		return transient("проверка версии записи", err)
	}
}

// pageToken — keyset-курсор пагинации ListOlderThan.
type pageToken struct {
	CreatedAt time.Time `json:"created_at"`
	ID        string    `json:"id"`
}

// encodeToken сериализует курсор в continuation-токен.
func encodeToken(t pageToken) string {
	data, _ := json.Marshal(t)
	return base64.RawURLEncoding.EncodeToString(data)
}

// decodeToken разбирает continuation-токен.
func decodeToken(s string) (pageToken, error) {
	var t pageToken
	data, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return t, fmt.Errorf("некорректный continuation-токен: %w", err)
	}
	if err := json.Unmarshal(data, &t); err != nil {
		return t, fmt.Errorf("некорректный continuation-токен: %w", err)
	}
	return t, nil
}

// ListOlderThan возвращает страницу кандидатов на архивацию.
// Keyset-пагинация по (created_at, id): повторный запрос с тем же токеном
// в рамках одного скана не пропускает и не дублирует записи. Записи,
// исчерпавшие попытки миграции (dead_letter.attempts >= attemptCap),
// исключаются прямо в SQL.
func (r *RecordRepository) ListOlderThan(ctx context.Context, cutoff time.Time, token string, limit, attemptCap int) ([]*model.Record, string, error) {
	baseQuery := `
		SELECT r.id, r.partition_key, r.created_at, r.updated_at, r.version, r.payload
		FROM records r
		LEFT JOIN dead_letter dl
			ON dl.record_id = r.id AND dl.partition_key = r.partition_key AND dl.attempts >= $1
		WHERE r.created_at < $2 AND dl.record_id IS NULL`

	var rows pgx.Rows
	var err error
	if token == "" {
		query := baseQuery + `
		ORDER BY r.created_at, r.id
		LIMIT $3`
		rows, err = r.db.Query(ctx, query, attemptCap, cutoff, limit)
	} else {
		cursor, decErr := decodeToken(token)
		if decErr != nil {
			return nil, "", decErr
		}
		query := baseQuery + `
			AND (r.created_at, r.id) > ($3, $4)
		ORDER BY r.created_at, r.id
		LIMIT $5`
		rows, err = r.db.Query(ctx, query, attemptCap, cutoff, cursor.CreatedAt, cursor.ID, limit)
	}
	if err != nil {
		return nil, "", transient("выборка кандидатов на архивацию", err)
	}
	defer rows.Close()

	var records []*model.Record
	for rows.Next() {
		rec := &model.Record{}
		if err := rows.Scan(&rec.ID, &rec.PartitionKey, &rec.CreatedAt, &rec.UpdatedAt, &rec.Version, &rec.Payload); err != nil {
			return nil, "", transient("чтение строки кандидата", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, "", transient("итерация кандидатов", err)
	}

	// Полная страница — возможно, есть продолжение
	nextToken := ""
	if len(records) == limit && limit > 0 {
		last := records[len(records)-1]
		nextToken = encodeToken(pageToken{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	return records, nextToken, nil
}
