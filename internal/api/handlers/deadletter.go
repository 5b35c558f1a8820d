// deadletter.go — обработчики операторского доступа к dead-letter.
// GET /api/v1/dead-letter — список записей, исчерпавших попытки миграции
// DELETE /api/v1/dead-letter/{partitionKey}/{recordID} — ручная очистка
// (запись снова становится кандидатом миграции)
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	apierrors "github.com/arturkryukov/tierstore/internal/api/errors"
	"github.com/arturkryukov/tierstore/internal/domain/model"
	"github.com/arturkryukov/tierstore/internal/store"
)

// DeadLetterStore — доступ к dead-letter таблице.
type DeadLetterStore interface {
	List(ctx context.Context, limit, offset int) ([]*model.DeadLetterEntry, error)
	Count(ctx context.Context) (int, error)
	Clear(ctx context.Context, recordID, partitionKey string) error
}

// DeadLetterHandler — обработчики dead-letter.
type DeadLetterHandler struct {
	deadLetters DeadLetterStore
	logger      *slog.Logger
}

// NewDeadLetterHandler создаёт обработчик dead-letter.
func NewDeadLetterHandler(deadLetters DeadLetterStore, logger *slog.Logger) *DeadLetterHandler {
	return &DeadLetterHandler{
		deadLetters: deadLetters,
		logger:      logger.With(slog.String("component", "deadletter_handler")),
	}
}

// deadLetterListResponse — страница dead-letter записей.
type deadLetterListResponse struct {
	Items  []*model.DeadLetterEntry `json:"items"`
	Total  int                      `json:"total"`
	Limit  int                      `json:"limit"`
	Offset int                      `json:"offset"`
}

// ListDeadLetters — GET /api/v1/dead-letter.
func (h *DeadLetterHandler) ListDeadLetters(w http.ResponseWriter, r *http.Request) {
	limit, offset := paginationParams(r)

	items, err := h.deadLetters.List(r.Context(), limit, offset)
	if err != nil {
		h.writeStoreError(w, "листинг dead-letter", err)
		return
	}
	total, err := h.deadLetters.Count(r.Context())
	if err != nil {
		h.writeStoreError(w, "подсчёт dead-letter", err)
		return
	}

	if items == nil {
		items = []*model.DeadLetterEntry{}
	}
	writeJSON(w, http.StatusOK, deadLetterListResponse{
		Items:  items,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

// ClearDeadLetter — DELETE /api/v1/dead-letter/{partitionKey}/{recordID}.
// После очистки запись снова участвует в автоматической миграции.
func (h *DeadLetterHandler) ClearDeadLetter(w http.ResponseWriter, r *http.Request) {
	partitionKey := chi.URLParam(r, "partitionKey")
	recordID := chi.URLParam(r, "recordID")
	if partitionKey == "" || recordID == "" {
		apierrors.ValidationError(w, "partitionKey и recordID обязательны")
		return
	}
	if _, err := uuid.Parse(recordID); err != nil {
		apierrors.ValidationError(w, "recordID должен быть UUID")
		return
	}

	err := h.deadLetters.Clear(r.Context(), recordID, partitionKey)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			apierrors.NotFound(w, "dead-letter запись не найдена")
			return
		}
		h.writeStoreError(w, "очистка dead-letter", err)
		return
	}

	h.logger.Info("Dead-letter запись очищена оператором",
		slog.String("record_id", recordID),
		slog.String("partition_key", partitionKey),
	)
	w.WriteHeader(http.StatusNoContent)
}

// writeStoreError логирует ошибку хранилища и пишет стандартный ответ.
func (h *DeadLetterHandler) writeStoreError(w http.ResponseWriter, op string, err error) {
	h.logger.Error("Ошибка операции dead-letter",
		slog.String("op", op),
		slog.String("error", err.Error()),
	)
	if store.IsTransient(err) {
		apierrors.StoreUnavailable(w, "хранилище временно недоступно")
		return
	}
	apierrors.InternalError(w, "внутренняя ошибка")
}
