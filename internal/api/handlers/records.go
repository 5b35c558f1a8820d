// records.go — обработчики записи и чтения записей.
// POST /api/v1/records — запись (всегда в горячее хранилище)
// GET /api/v1/records/{partitionKey}/{recordID} — чтение с маршрутизацией по tier-ам
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	apierrors "github.com/arturkryukov/tierstore/internal/api/errors"
	"github.com/arturkryukov/tierstore/internal/domain/model"
	"github.com/arturkryukov/tierstore/internal/service"
	"github.com/arturkryukov/tierstore/internal/store"
)

// RecordsHandler — обработчики операций с записями.
type RecordsHandler struct {
	router *service.Router
	logger *slog.Logger
}

// NewRecordsHandler создаёт обработчик записей.
func NewRecordsHandler(router *service.Router, logger *slog.Logger) *RecordsHandler {
	return &RecordsHandler{
		router: router,
		logger: logger.With(slog.String("component", "records_handler")),
	}
}

// createRecordRequest — тело запроса на создание записи.
type createRecordRequest struct {
	// ID — опциональный UUID; пустой — генерируется сервером
	ID           string          `json:"id,omitempty"`
	PartitionKey string          `json:"partition_key"`
	Payload      json.RawMessage `json:"payload"`
}

// readRecordResponse — ответ чтения: запись и tier, из которого она отдана.
type readRecordResponse struct {
	Record *model.Record `json:"record"`
	Tier   model.Tier    `json:"tier"`
}

// CreateRecord — POST /api/v1/records.
// Повторная запись существующего id создаёт новую версию в горячем хранилище.
func (h *RecordsHandler) CreateRecord(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		apierrors.ValidationError(w, "тело запроса превышает допустимый размер")
		return
	}

	var req createRecordRequest
	if err := json.Unmarshal(body, &req); err != nil {
		apierrors.ValidationError(w, "некорректный JSON в теле запроса")
		return
	}

	rec := &model.Record{
		ID:           req.ID,
		PartitionKey: req.PartitionKey,
		Payload:      req.Payload,
	}
	saved, err := h.router.Write(r.Context(), rec)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrSerialization):
			apierrors.ValidationError(w, err.Error())
		case errors.Is(err, service.ErrUnavailable):
			apierrors.StoreUnavailable(w, "горячее хранилище недоступно")
		default:
			h.logger.Error("Ошибка записи", slog.String("error", err.Error()))
			apierrors.InternalError(w, "внутренняя ошибка")
		}
		return
	}

	writeJSON(w, http.StatusCreated, saved)
}

// GetRecord — GET /api/v1/records/{partitionKey}/{recordID}.
// Источник ответа (hot/archive) возвращается в поле tier.
func (h *RecordsHandler) GetRecord(w http.ResponseWriter, r *http.Request) {
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

	rec, tier, err := h.router.Read(r.Context(), recordID, partitionKey)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNotFound):
			apierrors.NotFound(w, "запись не найдена")
		case errors.Is(err, service.ErrUnavailable):
			apierrors.StoreUnavailable(w, "хранилище временно недоступно")
		default:
			h.logger.Error("Ошибка чтения",
				slog.String("record_id", recordID),
				slog.String("error", err.Error()),
			)
			apierrors.InternalError(w, "внутренняя ошибка")
		}
		return
	}

	writeJSON(w, http.StatusOK, readRecordResponse{Record: rec, Tier: tier})
}
