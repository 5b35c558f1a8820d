// scheduler.go — планировщик batch-миграции записей в архив.
//
// RunBatch сканирует кандидатов (created_at старше порога) постранично через
// keyset-пагинацию, раздаёт их worker-у с ограниченным параллелизмом по
// партициям и после каждой страницы атомарно фиксирует checkpoint вместе с
// dead-letter инкрементами. Падение между страницами приводит лишь к
// повторной обработке идемпотентной работы.
//
// Запускается либо фоновой горутиной с тикером (TS_SCHEDULER_INTERVAL),
// либо внешним триггером через POST /api/v1/migration/run; триггер обязан
// быть толерантен к at-least-once вызовам — идемпотентность обеспечивает
// worker, а не триггер.
package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"

	"github.com/arturkryukov/tierstore/internal/domain/model"
	"github.com/arturkryukov/tierstore/internal/repository"
	"github.com/arturkryukov/tierstore/internal/store"
)

// ErrRunInProgress — запуск миграции уже выполняется в этом процессе.
// Перекрывающиеся запуски безопасны (каждый шаг worker-а идемпотентен или
// проверяет конфликт), но впустую тратят работу, поэтому отклоняются.
var ErrRunInProgress = errors.New("запуск миграции уже выполняется")

// Prometheus-метрики планировщика.
var (
	schedulerRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ts_migration_runs_total",
		Help: "Количество запусков batch-миграции",
	}, []string{"result"}) // result: ok, error

	schedulerRunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ts_migration_run_duration_seconds",
		Help:    "Длительность запуска batch-миграции в секундах",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 600},
	})

	deadLetteredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ts_dead_lettered_total",
		Help: "Количество записей, исчерпавших попытки миграции",
	})
)

// CheckpointStore — чтение персистентного курсора планировщика.
type CheckpointStore interface {
	// Get возвращает checkpoint потока либо store.ErrNotFound.
	Get(ctx context.Context, streamID string) (*model.Checkpoint, error)
}

// PagePersister — атомарная фиксация итога одной страницы.
type PagePersister interface {
	// PersistPage сохраняет checkpoint и dead-letter изменения в одной
	// транзакции. Возвращает количество записей, достигших attemptCap.
	PersistPage(ctx context.Context, cp *model.Checkpoint, failures []repository.Failure, attemptCap int) (int, error)
}

// Scheduler — планировщик batch-миграции.
type Scheduler struct {
	hot         store.HotStore
	worker      *Migrator
	checkpoints CheckpointStore
	persister   PagePersister

	archiveAge  time.Duration
	batchSize   int
	pageSize    int
	maxAttempts int
	concurrency int
	interval    time.Duration

	logger *slog.Logger
	now    func() time.Time

	// runMu защищает от перекрывающихся запусков RunBatch в одном процессе
	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// SchedulerParams — параметры создания планировщика.
type SchedulerParams struct {
	Hot         store.HotStore
	Worker      *Migrator
	Checkpoints CheckpointStore
	Persister   PagePersister
	ArchiveAge  time.Duration
	BatchSize   int
	PageSize    int
	MaxAttempts int
	Concurrency int
	Interval    time.Duration
	Logger      *slog.Logger
}

// NewScheduler создаёт планировщик миграции.
func NewScheduler(p SchedulerParams) *Scheduler {
	return &Scheduler{
		hot:         p.Hot,
		worker:      p.Worker,
		checkpoints: p.Checkpoints,
		persister:   p.Persister,
		archiveAge:  p.ArchiveAge,
		batchSize:   p.BatchSize,
		pageSize:    p.PageSize,
		maxAttempts: p.MaxAttempts,
		concurrency: p.Concurrency,
		interval:    p.Interval,
		logger:      p.Logger.With(slog.String("component", "scheduler")),
		now:         time.Now,
	}
}

// Start запускает фоновую горутину с периодическими запусками миграции.
// Первый запуск — сразу после старта. Вызывается один раз при старте приложения.
func (s *Scheduler) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)

		s.logger.Info("Фоновая миграция запущена",
			slog.String("interval", s.interval.String()),
			slog.String("archive_age", s.archiveAge.String()),
			slog.Int("batch_size", s.batchSize),
		)

		s.runOnce(runCtx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				s.runOnce(runCtx)
			}
		}
	}()
}

// Stop останавливает фоновый процесс и дожидается завершения текущего запуска.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	s.logger.Info("Фоновая миграция остановлена")
}

// runOnce выполняет один фоновый запуск и логирует итог.
func (s *Scheduler) runOnce(ctx context.Context) {
	report, err := s.RunBatch(ctx, s.batchSize)
	if err != nil {
		if errors.Is(err, ErrRunInProgress) {
			s.logger.Warn("Запуск миграции пропущен: предыдущий ещё выполняется")
			return
		}
		s.logger.Error("Запуск миграции завершился ошибкой", slog.String("error", err.Error()))
		return
	}

	s.logger.Info("Запуск миграции завершён",
		slog.Int("scanned", report.Scanned),
		slog.Int("migrated", report.Migrated),
		slog.Int("skipped", report.Skipped),
		slog.Int("failed", report.Failed),
		slog.Int("dead_lettered", report.DeadLettered),
		slog.Bool("scan_complete", report.NextToken == ""),
		slog.Duration("duration", report.Duration),
	)
}

// RunBatch выполняет один batch-запуск миграции: не более maxRecords записей
// (0 или превышение — ограничивается конфигурационным batchSize).
// Ошибка одной записи никогда не прерывает batch; запуск прерывается только
// отменой контекста или недоступностью хранилища при выборке/фиксации.
func (s *Scheduler) RunBatch(ctx context.Context, maxRecords int) (*model.BatchReport, error) {
	if !s.runMu.TryLock() {
		return nil, ErrRunInProgress
	}
	defer s.runMu.Unlock()

	start := s.now()
	if maxRecords <= 0 || maxRecords > s.batchSize {
		maxRecords = s.batchSize
	}

	// Незавершённый скан продолжается со своим cutoff, чтобы keyset-пагинация
	// оставалась стабильной; завершённый — начинается заново со свежим cutoff.
	cutoff := start.Add(-s.archiveAge).UTC()
	cp, err := s.checkpoints.Get(ctx, model.DefaultStream)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			schedulerRunsTotal.WithLabelValues("error").Inc()
			return nil, err
		}
		cp = &model.Checkpoint{StreamID: model.DefaultStream}
	}
	token := ""
	if cp.InProgress() {
		token = cp.ContinuationToken
		cutoff = cp.LastCutoff
		s.logger.Info("Продолжение незавершённого скана",
			slog.Time("cutoff", cutoff),
		)
	}

	report := &model.BatchReport{}
	for report.Scanned < maxRecords && ctx.Err() == nil {
		limit := s.pageSize
		if rest := maxRecords - report.Scanned; rest < limit {
			limit = rest
		}

		records, nextToken, err := s.hot.ListOlderThan(ctx, cutoff, token, limit, s.maxAttempts)
		if err != nil {
			schedulerRunsTotal.WithLabelValues("error").Inc()
			return nil, err
		}

		if len(records) == 0 {
			nextToken = ""
		} else {
			outcome := s.processPage(ctx, records)
			report.Scanned += len(records)
			report.Migrated += outcome.migrated
			report.Skipped += outcome.skipped
			report.Failed += len(outcome.failures)

			cp.ContinuationToken = nextToken
			cp.LastCutoff = cutoff
			deadLettered, err := s.persister.PersistPage(ctx, cp, outcome.failures, s.maxAttempts)
			if err != nil {
				schedulerRunsTotal.WithLabelValues("error").Inc()
				return nil, err
			}
			report.DeadLettered += deadLettered
			deadLetteredTotal.Add(float64(deadLettered))
		}

		token = nextToken
		if token == "" {
			// Скан дошёл до конца: фиксируем пустой токен
			cp.ContinuationToken = ""
			cp.LastCutoff = cutoff
			if _, err := s.persister.PersistPage(ctx, cp, nil, s.maxAttempts); err != nil {
				schedulerRunsTotal.WithLabelValues("error").Inc()
				return nil, err
			}
			break
		}
	}

	report.NextToken = token
	report.Duration = time.Since(start)
	schedulerRunsTotal.WithLabelValues("ok").Inc()
	schedulerRunDuration.Observe(report.Duration.Seconds())
	return report, nil
}

// pageOutcome — агрегированный итог обработки одной страницы.
type pageOutcome struct {
	migrated int
	skipped  int
	failures []repository.Failure
}

// processPage обрабатывает страницу кандидатов: партиции — параллельно
// (с ограничением concurrency), записи внутри партиции — последовательно,
// чтобы не создавать contention на уровне партиции горячего хранилища.
func (s *Scheduler) processPage(ctx context.Context, records []*model.Record) pageOutcome {
	partitions := make(map[string][]*model.Record)
	for _, rec := range records {
		partitions[rec.PartitionKey] = append(partitions[rec.PartitionKey], rec)
	}

	var mu sync.Mutex
	var outcome pageOutcome

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for _, recs := range partitions {
		g.Go(func() error {
			for _, rec := range recs {
				if gctx.Err() != nil {
					return nil
				}
				res := s.worker.Migrate(gctx, rec)

				mu.Lock()
				switch res.Status {
				case StatusMigrated:
					outcome.migrated++
				case StatusSkipped:
					outcome.skipped++
				case StatusFailed:
					outcome.failures = append(outcome.failures, repository.Failure{
						RecordID:     rec.ID,
						PartitionKey: rec.PartitionKey,
						Message:      res.Err.Error(),
					})
					s.logger.Warn("Миграция записи завершилась ошибкой",
						slog.String("record_id", rec.ID),
						slog.String("partition_key", rec.PartitionKey),
						slog.String("error", res.Err.Error()),
					)
				}
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait() // горутины не возвращают ошибок: ошибки учтены в failures

	return outcome
}
