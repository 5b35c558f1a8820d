// Пакет config — загрузка и валидация конфигурации tierstore
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации tierstore.
type Config struct {
	// Порт HTTP-сервера
	Port int

	// Параметры PostgreSQL (горячее хранилище)
	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string

	// Путь к директории архивного хранилища (смонтированный cold-том)
	ArchiveDir string

	// Порог возраста записи для архивации
	ArchiveAge time.Duration
	// Максимум записей за один запуск планировщика
	BatchSize int
	// Размер страницы выборки кандидатов
	PageSize int
	// Предел неуспешных запусков миграции до dead-letter
	MaxAttempts int
	// Количество параллельно обрабатываемых партиций
	WorkerConcurrency int
	// Таймаут одной операции с хранилищем внутри worker
	StoreTimeout time.Duration

	// Интервал фоновых запусков планировщика
	SchedulerInterval time.Duration
	// Включён ли фоновый планировщик (false — только внешний триггер)
	SchedulerEnabled bool

	// Размер LRU-кэша архивных чтений
	CacheSize int
	// TTL записи LRU-кэша
	CacheTTL time.Duration

	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration

	// Интервал проверки зависимостей topologymetrics
	DephealthCheckInterval time.Duration
	// Имя группы в метриках topologymetrics (TS_DEPHEALTH_GROUP)
	DephealthGroup string
	// Имя владельца пода для метки name в topologymetrics (DEPHEALTH_NAME)
	DephealthName string
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// TS_PORT — порт HTTP-сервера (по умолчанию 8080)
	cfg.Port, err = getEnvInt("TS_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("TS_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("TS_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	// --- PostgreSQL ---

	cfg.DBHost, err = getEnvRequired("TS_DB_HOST")
	if err != nil {
		return nil, err
	}
	cfg.DBPort, err = getEnvInt("TS_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("TS_DB_PORT: %w", err)
	}
	cfg.DBName, err = getEnvRequired("TS_DB_NAME")
	if err != nil {
		return nil, err
	}
	cfg.DBUser, err = getEnvRequired("TS_DB_USER")
	if err != nil {
		return nil, err
	}
	cfg.DBPassword, err = getEnvRequired("TS_DB_PASSWORD")
	if err != nil {
		return nil, err
	}
	cfg.DBSSLMode = getEnvDefault("TS_DB_SSL_MODE", "disable")

	// TS_ARCHIVE_DIR — обязательный, корень архивного хранилища
	cfg.ArchiveDir, err = getEnvRequired("TS_ARCHIVE_DIR")
	if err != nil {
		return nil, err
	}

	// --- Миграция ---

	// TS_ARCHIVE_AGE_DAYS — порог возраста в днях (по умолчанию 90)
	ageDays, err := getEnvInt("TS_ARCHIVE_AGE_DAYS", 90)
	if err != nil {
		return nil, fmt.Errorf("TS_ARCHIVE_AGE_DAYS: %w", err)
	}
	if ageDays <= 0 {
		return nil, fmt.Errorf("TS_ARCHIVE_AGE_DAYS: значение должно быть положительным")
	}
	cfg.ArchiveAge = time.Duration(ageDays) * 24 * time.Hour

	// TS_BATCH_SIZE — максимум записей за запуск (по умолчанию 10000)
	cfg.BatchSize, err = getEnvInt("TS_BATCH_SIZE", 10000)
	if err != nil {
		return nil, fmt.Errorf("TS_BATCH_SIZE: %w", err)
	}
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("TS_BATCH_SIZE: значение должно быть положительным")
	}

	// TS_PAGE_SIZE — размер страницы выборки (по умолчанию 500)
	cfg.PageSize, err = getEnvInt("TS_PAGE_SIZE", 500)
	if err != nil {
		return nil, fmt.Errorf("TS_PAGE_SIZE: %w", err)
	}
	if cfg.PageSize <= 0 || cfg.PageSize > cfg.BatchSize {
		return nil, fmt.Errorf("TS_PAGE_SIZE: значение %d должно быть в диапазоне 1..TS_BATCH_SIZE (%d)",
			cfg.PageSize, cfg.BatchSize)
	}

	// TS_MAX_ATTEMPTS — предел попыток до dead-letter (по умолчанию 5)
	cfg.MaxAttempts, err = getEnvInt("TS_MAX_ATTEMPTS", 5)
	if err != nil {
		return nil, fmt.Errorf("TS_MAX_ATTEMPTS: %w", err)
	}
	if cfg.MaxAttempts <= 0 {
		return nil, fmt.Errorf("TS_MAX_ATTEMPTS: значение должно быть положительным")
	}

	// TS_WORKER_CONCURRENCY — параллельность по партициям (по умолчанию 4)
	cfg.WorkerConcurrency, err = getEnvInt("TS_WORKER_CONCURRENCY", 4)
	if err != nil {
		return nil, fmt.Errorf("TS_WORKER_CONCURRENCY: %w", err)
	}
	if cfg.WorkerConcurrency <= 0 {
		return nil, fmt.Errorf("TS_WORKER_CONCURRENCY: значение должно быть положительным")
	}

	// TS_STORE_TIMEOUT — таймаут операции с хранилищем (по умолчанию 10s)
	cfg.StoreTimeout, err = getEnvDuration("TS_STORE_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("TS_STORE_TIMEOUT: %w", err)
	}

	// TS_SCHEDULER_INTERVAL — интервал фоновых запусков (по умолчанию 1h)
	cfg.SchedulerInterval, err = getEnvDuration("TS_SCHEDULER_INTERVAL", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("TS_SCHEDULER_INTERVAL: %w", err)
	}

	// TS_SCHEDULER_ENABLED — фоновый планировщик (по умолчанию true)
	enabled := getEnvDefault("TS_SCHEDULER_ENABLED", "true")
	if enabled != "true" && enabled != "false" {
		return nil, fmt.Errorf("TS_SCHEDULER_ENABLED: недопустимое значение %q, допустимые: true, false", enabled)
	}
	cfg.SchedulerEnabled = enabled == "true"

	// --- Кэш архивных чтений ---

	// TS_CACHE_SIZE — размер LRU-кэша (по умолчанию 1024)
	cfg.CacheSize, err = getEnvInt("TS_CACHE_SIZE", 1024)
	if err != nil {
		return nil, fmt.Errorf("TS_CACHE_SIZE: %w", err)
	}
	if cfg.CacheSize <= 0 {
		return nil, fmt.Errorf("TS_CACHE_SIZE: значение должно быть положительным")
	}

	// TS_CACHE_TTL — TTL записи кэша (по умолчанию 5m)
	cfg.CacheTTL, err = getEnvDuration("TS_CACHE_TTL", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("TS_CACHE_TTL: %w", err)
	}

	// --- Логирование и shutdown ---

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("TS_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("TS_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("TS_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("TS_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// TS_SHUTDOWN_TIMEOUT — таймаут graceful shutdown (по умолчанию 5s)
	cfg.ShutdownTimeout, err = getEnvDuration("TS_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("TS_SHUTDOWN_TIMEOUT: %w", err)
	}

	// --- topologymetrics ---

	cfg.DephealthCheckInterval, err = getEnvDuration("TS_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("TS_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}
	cfg.DephealthGroup = getEnvDefault("TS_DEPHEALTH_GROUP", "tierstore")
	cfg.DephealthName = getEnvDefault("DEPHEALTH_NAME", "")

	return cfg, nil
}

// DatabaseDSN формирует DSN подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 6h)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
