// migration.go — обработчики управления миграцией.
// POST /api/v1/migration/run — ручной запуск batch-миграции
// GET /api/v1/migration/checkpoint — текущий checkpoint планировщика
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	apierrors "github.com/arturkryukov/tierstore/internal/api/errors"
	"github.com/arturkryukov/tierstore/internal/domain/model"
	"github.com/arturkryukov/tierstore/internal/service"
	"github.com/arturkryukov/tierstore/internal/store"
)

// MigrationRunner — запуск batch-миграции (реализуется планировщиком).
type MigrationRunner interface {
	RunBatch(ctx context.Context, maxRecords int) (*model.BatchReport, error)
}

// CheckpointReader — чтение checkpoint-а потока миграции.
type CheckpointReader interface {
	Get(ctx context.Context, streamID string) (*model.Checkpoint, error)
}

// MigrationHandler — обработчики управления миграцией.
type MigrationHandler struct {
	runner      MigrationRunner
	checkpoints CheckpointReader
	logger      *slog.Logger
}

// NewMigrationHandler создаёт обработчик управления миграцией.
func NewMigrationHandler(runner MigrationRunner, checkpoints CheckpointReader, logger *slog.Logger) *MigrationHandler {
	return &MigrationHandler{
		runner:      runner,
		checkpoints: checkpoints,
		logger:      logger.With(slog.String("component", "migration_handler")),
	}
}

// runMigrationRequest — тело запроса ручного запуска (опциональное).
type runMigrationRequest struct {
	// MaxRecords — предел записей за запуск (0 — конфигурационный batch size)
	MaxRecords int `json:"max_records"`
}

// runMigrationResponse — итог запуска с длительностью в миллисекундах.
type runMigrationResponse struct {
	*model.BatchReport
	DurationMS int64 `json:"duration_ms"`
}

// RunMigration — POST /api/v1/migration/run.
// Выполняет batch синхронно и возвращает отчёт. Повторный запуск во время
// выполняющегося — 409 CONFLICT (триггер толерантен к at-least-once вызовам).
func (h *MigrationHandler) RunMigration(w http.ResponseWriter, r *http.Request) {
	var req runMigrationRequest
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		apierrors.ValidationError(w, "тело запроса превышает допустимый размер")
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			apierrors.ValidationError(w, "некорректный JSON в теле запроса")
			return
		}
	}
	if req.MaxRecords < 0 {
		apierrors.ValidationError(w, "max_records не может быть отрицательным")
		return
	}

	report, err := h.runner.RunBatch(r.Context(), req.MaxRecords)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrRunInProgress):
			apierrors.Conflict(w, "миграция уже выполняется")
		case store.IsTransient(err):
			apierrors.StoreUnavailable(w, "хранилище временно недоступно")
		default:
			h.logger.Error("Запуск миграции завершился ошибкой", slog.String("error", err.Error()))
			apierrors.InternalError(w, "внутренняя ошибка")
		}
		return
	}

	writeJSON(w, http.StatusOK, runMigrationResponse{
		BatchReport: report,
		DurationMS:  report.Duration.Milliseconds(),
	})
}

// checkpointResponse — checkpoint с вычисленным признаком незавершённого скана.
type checkpointResponse struct {
	*model.Checkpoint
	InProgress bool `json:"in_progress"`
}

// GetCheckpoint — GET /api/v1/migration/checkpoint.
// 404 — миграция ещё ни разу не выполнялась.
func (h *MigrationHandler) GetCheckpoint(w http.ResponseWriter, r *http.Request) {
	cp, err := h.checkpoints.Get(r.Context(), model.DefaultStream)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			apierrors.NotFound(w, "checkpoint отсутствует: миграция ещё не выполнялась")
		case store.IsTransient(err):
			apierrors.StoreUnavailable(w, "хранилище временно недоступно")
		default:
			h.logger.Error("Ошибка чтения checkpoint", slog.String("error", err.Error()))
			apierrors.InternalError(w, "внутренняя ошибка")
		}
		return
	}

	writeJSON(w, http.StatusOK, checkpointResponse{
		Checkpoint: cp,
		InProgress: cp.InProgress(),
	})
}
