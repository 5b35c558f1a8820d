// migrator.go — worker миграции одной записи из горячего хранилища в архив.
//
// Порядок шагов — ключевое свойство безопасности подсистемы:
// архивировать → верифицировать → удалить, причём удаление условное
// (только если версия не изменилась с момента чтения). Горячая копия
// удаляется ТОЛЬКО после подтверждённой, побайтово совпадающей архивной
// копии той же версии.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/arturkryukov/tierstore/internal/codec"
	"github.com/arturkryukov/tierstore/internal/domain/model"
	"github.com/arturkryukov/tierstore/internal/store"
)

// Prometheus-метрики worker-а миграции.
var (
	// migrationsTotal — исходы миграции отдельных записей.
	migrationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ts_record_migrations_total",
		Help: "Количество миграций записей по исходам",
	}, []string{"outcome"}) // outcome: migrated, skipped, failed

	// migrationRetriesTotal — повторы шагов миграции из-за временных ошибок.
	migrationRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ts_record_migration_retries_total",
		Help: "Количество повторов шагов миграции после временных ошибок",
	})
)

// MigrateStatus — итоговый статус миграции одной записи.
type MigrateStatus string

const (
	// StatusMigrated — запись перенесена: архив подтверждён, горячая копия удалена.
	StatusMigrated MigrateStatus = "migrated"
	// StatusSkipped — запись пропущена без ошибки (см. SkipReason).
	StatusSkipped MigrateStatus = "skipped"
	// StatusFailed — миграция завершилась ошибкой, запись — кандидат в dead-letter.
	StatusFailed MigrateStatus = "failed"
)

// SkipReason — причина пропуска миграции.
type SkipReason string

const (
	// SkipAlreadyGone — горячая копия отсутствует: конкурентная миграция
	// или удаление уже обработали запись.
	SkipAlreadyGone SkipReason = "already-gone"
	// SkipRecordModified — запись перезаписана между чтением и удалением.
	// Устаревшая архивная копия безвредна: чтение предпочитает горячий tier.
	SkipRecordModified SkipReason = "record-modified"
)

// MigrateResult — результат миграции одной записи.
type MigrateResult struct {
	Status MigrateStatus
	Reason SkipReason
	Err    error
}

// Migrator переносит записи из горячего хранилища в архив.
type Migrator struct {
	hot     store.HotStore
	archive store.ArchiveStore
	// stepTimeout — таймаут одной операции с хранилищем
	stepTimeout time.Duration
	// maxRetries — предел повторов временной ошибки внутри одного шага
	maxRetries uint64
	logger     *slog.Logger
}

// NewMigrator создаёт worker миграции.
func NewMigrator(
	hot store.HotStore,
	archive store.ArchiveStore,
	stepTimeout time.Duration,
	maxRetries uint64,
	logger *slog.Logger,
) *Migrator {
	return &Migrator{
		hot:         hot,
		archive:     archive,
		stepTimeout: stepTimeout,
		maxRetries:  maxRetries,
		logger:      logger.With(slog.String("component", "migrator")),
	}
}

// withRetry выполняет fn с per-step таймаутом и экспоненциальным backoff.
// Повторяются только временные ошибки (store.ErrTransient); остальные
// прерывают повтор и возвращаются как есть.
func (m *Migrator) withRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), m.maxRetries), ctx)

	return backoff.Retry(func() error {
		stepCtx, cancel := context.WithTimeout(ctx, m.stepTimeout)
		defer cancel()

		err := fn(stepCtx)
		if err == nil {
			return nil
		}
		if !store.IsTransient(err) {
			return backoff.Permanent(err)
		}
		migrationRetriesTotal.Inc()
		m.logger.Warn("Временная ошибка шага миграции, повтор",
			slog.String("op", op),
			slog.String("error", err.Error()),
		)
		return err
	}, bo)
}

// Migrate переносит одну запись в архив.
//
// Шаги:
//  1. Свежее чтение из горячего хранилища (версия могла измениться
//     с момента выборки кандидата).
//  2. Кодирование и запись в архив под ключом id (перезапись идемпотентна).
//  3. Обратное чтение архивной копии, декодирование и сравнение с оригиналом.
//     Расхождение — Failed(ErrIntegrity), шаг 4 не выполняется.
//  4. Условное удаление горячей копии по версии из шага 1.
func (m *Migrator) Migrate(ctx context.Context, rec *model.Record) MigrateResult {
	result := m.migrate(ctx, rec.ID, rec.PartitionKey)
	migrationsTotal.WithLabelValues(string(result.Status)).Inc()
	return result
}

func (m *Migrator) migrate(ctx context.Context, id, partitionKey string) MigrateResult {
	// Шаг 1: свежее чтение горячей копии
	var fresh *model.Record
	err := m.withRetry(ctx, "hot.get", func(ctx context.Context) error {
		var getErr error
		fresh, getErr = m.hot.Get(ctx, id, partitionKey)
		return getErr
	})
	if errors.Is(err, store.ErrNotFound) {
		return MigrateResult{Status: StatusSkipped, Reason: SkipAlreadyGone}
	}
	if err != nil {
		return MigrateResult{Status: StatusFailed, Err: fmt.Errorf("чтение горячей копии: %w", err)}
	}

	// Шаг 2: кодирование и запись в архив
	data, err := codec.Encode(fresh)
	if err != nil {
		return MigrateResult{Status: StatusFailed, Err: fmt.Errorf("кодирование записи: %w", err)}
	}
	err = m.withRetry(ctx, "archive.put", func(ctx context.Context) error {
		return m.archive.Put(ctx, id, data)
	})
	if err != nil {
		return MigrateResult{Status: StatusFailed, Err: fmt.Errorf("запись в архив: %w", err)}
	}

	// Шаг 3: обратное чтение и верификация
	var readBack []byte
	err = m.withRetry(ctx, "archive.get", func(ctx context.Context) error {
		var getErr error
		readBack, getErr = m.archive.Get(ctx, id)
		return getErr
	})
	if err != nil {
		return MigrateResult{Status: StatusFailed, Err: fmt.Errorf("обратное чтение архива: %w", err)}
	}

	decoded, err := codec.Decode(readBack)
	if err != nil {
		return MigrateResult{Status: StatusFailed, Err: fmt.Errorf("верификация архивной копии: %w", err)}
	}
	if !decoded.Equal(fresh) {
		return MigrateResult{
			Status: StatusFailed,
			Err:    fmt.Errorf("%w: архивная копия не совпадает с оригиналом", store.ErrIntegrity),
		}
	}

	// Шаг 4: условное удаление горячей копии
	err = m.withRetry(ctx, "hot.delete", func(ctx context.Context) error {
		return m.hot.DeleteIfVersion(ctx, id, partitionKey, fresh.Version)
	})
	switch {
	case err == nil:
		m.logger.Debug("Запись перенесена в архив",
			slog.String("record_id", id),
			slog.String("partition_key", partitionKey),
			slog.String("version", fresh.Version),
		)
		return MigrateResult{Status: StatusMigrated}
	case errors.Is(err, store.ErrVersionMismatch):
		// Новая версия перекрыла архивированную: удаление не повторяем,
		// устаревший архивный blob перезапишется следующей миграцией.
		return MigrateResult{Status: StatusSkipped, Reason: SkipRecordModified}
	case errors.Is(err, store.ErrNotFound):
		return MigrateResult{Status: StatusSkipped, Reason: SkipAlreadyGone}
	default:
		return MigrateResult{Status: StatusFailed, Err: fmt.Errorf("удаление горячей копии: %w", err)}
	}
}
