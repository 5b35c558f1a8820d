// router.go — маршрутизация чтений и записей между уровнями хранения.
//
// Чтение: горячее хранилище всегда авторитетно, когда запись в нём есть
// (оно отражает последнюю версию). Архив опрашивается только при промахе
// горячего tier-а. Отсутствие в обоих — определённый NotFound, не ошибка.
//
// Запись: всегда только в горячее хранилище; архив наполняется исключительно
// миграцией. Запись поверх архивированного id создаёт свежую горячую версию,
// которая автоматически затеняет устаревший архивный blob при чтении.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/arturkryukov/tierstore/internal/codec"
	"github.com/arturkryukov/tierstore/internal/domain/model"
	"github.com/arturkryukov/tierstore/internal/store"
)

// Ошибки Lookup Router. Вызывающий код видит единый контракт независимо от
// tier-а: либо NotFound, либо Unavailable, внутренние различия хранилищ
// не раскрываются.
var (
	// ErrNotFound — записи нет ни в одном tier-е (валидный исход).
	ErrNotFound = errors.New("запись не найдена")
	// ErrUnavailable — хранилище временно недоступно.
	ErrUnavailable = errors.New("хранилище временно недоступно")
)

// Prometheus-метрики маршрутизатора.
var (
	readsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ts_reads_total",
		Help: "Количество чтений по источнику ответа",
	}, []string{"tier"}) // tier: hot, archive, archive_cache, miss, error

	writesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ts_writes_total",
		Help: "Количество записей по результату",
	}, []string{"result"}) // result: ok, error

	archiveCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ts_archive_cache_hits_total",
		Help: "Попадания в LRU-кэш архивных чтений",
	})
	archiveCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ts_archive_cache_misses_total",
		Help: "Промахи LRU-кэша архивных чтений",
	})
)

// Router — обслуживание чтений и записей поверх обоих tier-ов.
// Stateless per-request: вся координация — через сами хранилища,
// LRU-кэш хранит только неизменяемые архивные копии (per-instance).
type Router struct {
	hot     store.HotStore
	archive store.ArchiveStore
	// cache — кэш декодированных архивных blob по id. Безопасен: горячий
	// tier опрашивается первым, поэтому свежая запись всегда затеняет кэш.
	cache  *expirable.LRU[string, *model.Record]
	logger *slog.Logger
}

// NewRouter создаёт маршрутизатор.
// cacheSize — максимум записей LRU-кэша, cacheTTL — время жизни записи.
func NewRouter(
	hot store.HotStore,
	archive store.ArchiveStore,
	cacheSize int,
	cacheTTL time.Duration,
	logger *slog.Logger,
) *Router {
	return &Router{
		hot:     hot,
		archive: archive,
		cache:   expirable.NewLRU[string, *model.Record](cacheSize, nil, cacheTTL),
		logger:  logger.With(slog.String("component", "router")),
	}
}

// Read возвращает запись и tier, из которого она прочитана.
//
//  1. Горячее хранилище: найдено — вернуть (авторитетно).
//  2. Промах — архив по id (через LRU-кэш декодированных копий).
//  3. Промах в обоих — ErrNotFound. Маршрутизатор не делает предположений
//     по возрасту: отсутствие в обоих tier-ах — окончательный ответ.
func (rt *Router) Read(ctx context.Context, id, partitionKey string) (*model.Record, model.Tier, error) {
	rec, err := rt.hot.Get(ctx, id, partitionKey)
	if err == nil {
		readsTotal.WithLabelValues("hot").Inc()
		return rec, model.TierHot, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		// Горячий tier недоступен: НЕ падать в архив — он может хранить
		// устаревшую версию, а горячая копия может существовать.
		readsTotal.WithLabelValues("error").Inc()
		return nil, "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	// Промах горячего tier-а: проверяем кэш архивных копий
	if cached, ok := rt.cache.Get(id); ok {
		archiveCacheHitsTotal.Inc()
		readsTotal.WithLabelValues("archive_cache").Inc()
		return cached, model.TierArchive, nil
	}
	archiveCacheMissesTotal.Inc()

	data, err := rt.archive.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		readsTotal.WithLabelValues("miss").Inc()
		return nil, "", ErrNotFound
	}
	if err != nil {
		readsTotal.WithLabelValues("error").Inc()
		return nil, "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	rec, err = codec.Decode(data)
	if err != nil {
		// Повреждённый архивный blob не отдаётся клиенту
		rt.logger.Error("Архивная копия не прошла верификацию",
			slog.String("record_id", id),
			slog.String("error", err.Error()),
		)
		readsTotal.WithLabelValues("error").Inc()
		return nil, "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	rt.cache.Add(id, rec)
	readsTotal.WithLabelValues("archive").Inc()
	return rec, model.TierArchive, nil
}

// Write сохраняет запись в горячее хранилище.
// Пустой ID заполняется новым UUID, нулевой CreatedAt — текущим временем;
// Version всегда назначается заново (optimistic concurrency token).
// Возвращает сохранённую запись.
func (rt *Router) Write(ctx context.Context, rec *model.Record) (*model.Record, error) {
	if rec.PartitionKey == "" {
		writesTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: пустой partition_key", store.ErrSerialization)
	}
	if len(rec.Payload) > 0 && !json.Valid(rec.Payload) {
		writesTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: payload не является валидным JSON", store.ErrSerialization)
	}

	now := time.Now().UTC()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	} else if _, err := uuid.Parse(rec.ID); err != nil {
		writesTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: id должен быть UUID: %v", store.ErrSerialization, err)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	rec.Version = uuid.NewString()

	if err := rt.hot.Put(ctx, rec); err != nil {
		writesTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	// Кэш архивных копий для этого id больше не актуален:
	// горячая версия затеняет архивную при чтении и без инвалидизации,
	// но держать заведомо устаревшую запись незачем.
	rt.cache.Remove(rec.ID)

	writesTotal.WithLabelValues("ok").Inc()
	return rec, nil
}
