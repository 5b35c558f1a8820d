// Точка входа tierstore — подсистема tiered-хранения записей.
// Загружает конфигурацию, подключается к PostgreSQL, применяет миграции,
// создаёт архивное blob-хранилище, worker миграции и планировщик,
// запускает фоновые задачи (миграция, topologymetrics),
// HTTP-сервер и graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/arturkryukov/tierstore/internal/api/handlers"
	"github.com/arturkryukov/tierstore/internal/api/middleware"
	"github.com/arturkryukov/tierstore/internal/config"
	"github.com/arturkryukov/tierstore/internal/database"
	"github.com/arturkryukov/tierstore/internal/repository"
	"github.com/arturkryukov/tierstore/internal/server"
	"github.com/arturkryukov/tierstore/internal/service"
	"github.com/arturkryukov/tierstore/internal/storage/blobstore"
)

// migrateStepRetries — предел повторов временной ошибки внутри одного шага
// worker-а. Не путать с TS_MAX_ATTEMPTS: это повторы внутри запуска,
// dead-letter считает неуспешные запуски целиком.
const migrateStepRetries = 3

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("tierstore запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
	)

	if os.Getenv("TS_DEPHEALTH_GROUP") == "" {
		logger.Warn("TS_DEPHEALTH_GROUP не задана, используется значение по умолчанию",
			slog.String("default", cfg.DephealthGroup),
		)
	}

	// 3. Применение миграций БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Подключение к PostgreSQL (pgxpool)
	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// 4.1 Адаптер pgxpool → *sql.DB для topologymetrics (connection pool mode).
	// Проверка здоровья PostgreSQL идёт через существующий пул соединений,
	// что позволяет обнаружить его исчерпание.
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	// 5. Архивное blob-хранилище
	archive, err := blobstore.New(cfg.ArchiveDir)
	if err != nil {
		logger.Error("Ошибка инициализации архивного хранилища", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Архивное хранилище готово", slog.String("dir", archive.DataDir()))

	// 6. Repositories
	recordRepo := repository.NewRecordRepository(pool)
	checkpointRepo := repository.NewCheckpointRepository(pool)
	deadLetterRepo := repository.NewDeadLetterRepository(pool)
	persister := repository.NewBatchPersister(repository.NewTxRunner(pool))

	// 7. Services
	migrator := service.NewMigrator(recordRepo, archive, cfg.StoreTimeout, migrateStepRetries, logger)
	scheduler := service.NewScheduler(service.SchedulerParams{
		Hot:         recordRepo,
		Worker:      migrator,
		Checkpoints: checkpointRepo,
		Persister:   persister,
		ArchiveAge:  cfg.ArchiveAge,
		BatchSize:   cfg.BatchSize,
		PageSize:    cfg.PageSize,
		MaxAttempts: cfg.MaxAttempts,
		Concurrency: cfg.WorkerConcurrency,
		Interval:    cfg.SchedulerInterval,
		Logger:      logger,
	})
	router := service.NewRouter(recordRepo, archive, cfg.CacheSize, cfg.CacheTTL, logger)

	// 8. Мониторинг зависимостей (topologymetrics).
	// Недоступность мониторинга не мешает основной работе сервиса.
	serviceID := cfg.DephealthName
	if serviceID == "" {
		serviceID = "tierstore"
	}
	dephealthSvc, dephealthErr := service.NewDephealthService(
		serviceID,
		cfg.DephealthGroup,
		pgDB,
		cfg.DatabaseDSN(),
		cfg.DephealthCheckInterval,
		logger,
	)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
	} else {
		if startErr := dephealthSvc.Start(ctx); startErr != nil {
			logger.Warn("Не удалось запустить мониторинг зависимостей",
				slog.String("error", startErr.Error()),
			)
		} else {
			defer dephealthSvc.Stop()
			logger.Info("Мониторинг зависимостей активен",
				slog.String("group", cfg.DephealthGroup),
				slog.String("check_interval", cfg.DephealthCheckInterval.String()),
			)
		}
	}

	// 9. Фоновая миграция
	if cfg.SchedulerEnabled {
		scheduler.Start(ctx)
		defer scheduler.Stop()
	} else {
		logger.Info("Фоновая миграция отключена (TS_SCHEDULER_ENABLED=false)")
	}

	// 10. API handlers
	h := server.Handlers{
		Records:    handlers.NewRecordsHandler(router, logger),
		Migration:  handlers.NewMigrationHandler(scheduler, checkpointRepo, logger),
		DeadLetter: handlers.NewDeadLetterHandler(deadLetterRepo, logger),
		Health: handlers.NewHealthHandler(
			database.NewReadinessChecker(pool),
			archive,
		),
	}

	// 11. HTTP-сервер с middleware (metrics → logging)
	srv := server.New(cfg, logger, h,
		middleware.MetricsMiddleware(),
		middleware.RequestLogger(logger),
	)

	if err := srv.Run(); err != nil {
		logger.Error("Ошибка HTTP-сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
