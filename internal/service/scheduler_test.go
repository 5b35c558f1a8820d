package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/arturkryukov/tierstore/internal/domain/model"
)

// seedRecords добавляет n записей с возрастающим created_at, начиная с start.
func seedRecords(hot *fakeHotStore, n int, partitionKey string, start time.Time) {
	for i := 0; i < n; i++ {
		hot.put(&model.Record{
			ID:           uuid.NewString(),
			PartitionKey: partitionKey,
			CreatedAt:    start.Add(time.Duration(i) * time.Minute),
			UpdatedAt:    start.Add(time.Duration(i) * time.Minute),
			Version:      uuid.NewString(),
			Payload:      json.RawMessage(fmt.Sprintf(`{"seq":%d}`, i)),
		})
	}
}

type schedulerEnv struct {
	hot         *fakeHotStore
	archive     *fakeArchiveStore
	checkpoints *fakeCheckpoints
	persister   *fakePersister
	scheduler   *Scheduler
}

func newSchedulerEnv(t *testing.T, batchSize, pageSize, maxAttempts int) *schedulerEnv {
	t.Helper()
	hot := newFakeHotStore()
	archive := newFakeArchiveStore()
	checkpoints := &fakeCheckpoints{}
	persister := newFakePersister(checkpoints)

	sched := NewScheduler(SchedulerParams{
		Hot:         hot,
		Worker:      newTestMigrator(hot, archive),
		Checkpoints: checkpoints,
		Persister:   persister,
		ArchiveAge:  100 * time.Hour,
		BatchSize:   batchSize,
		PageSize:    pageSize,
		MaxAttempts: maxAttempts,
		Concurrency: 2,
		Interval:    time.Hour,
		Logger:      testLogger(),
	})
	return &schedulerEnv{
		hot:         hot,
		archive:     archive,
		checkpoints: checkpoints,
		persister:   persister,
		scheduler:   sched,
	}
}

// TestRunBatch_MigratesOldRecords проверяет полный скан: старые записи
// переносятся, свежие остаются, checkpoint фиксирует завершение скана.
func TestRunBatch_MigratesOldRecords(t *testing.T) {
	env := newSchedulerEnv(t, 100, 2, 3)
	now := time.Now().UTC()
	seedRecords(env.hot, 5, "tenant-a", now.Add(-200*time.Hour))
	seedRecords(env.hot, 3, "tenant-b", now.Add(-150*time.Hour))
	seedRecords(env.hot, 2, "tenant-a", now.Add(-time.Hour)) // свежие

	report, err := env.scheduler.RunBatch(context.Background(), 0)
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}

	if report.Migrated != 8 {
		t.Errorf("ожидалось 8 мигрированных записей, получено %d", report.Migrated)
	}
	if report.Failed != 0 || report.DeadLettered != 0 {
		t.Errorf("неожиданные ошибки: failed=%d dead_lettered=%d", report.Failed, report.DeadLettered)
	}
	if report.NextToken != "" {
		t.Errorf("скан должен быть завершён, токен: %q", report.NextToken)
	}
	if env.hot.size() != 2 {
		t.Errorf("в горячем хранилище должны остаться 2 свежие записи, найдено %d", env.hot.size())
	}
	if env.archive.size() != 8 {
		t.Errorf("в архиве ожидалось 8 blob-ов, найдено %d", env.archive.size())
	}

	cp, err := env.checkpoints.Get(context.Background(), model.DefaultStream)
	if err != nil {
		t.Fatalf("checkpoint не сохранён: %v", err)
	}
	if cp.InProgress() {
		t.Errorf("checkpoint завершённого скана должен иметь пустой токен, получен %q", cp.ContinuationToken)
	}
}

// TestRunBatch_MaxRecordsCap проверяет ограничение размера batch-а и
// сохранение continuation-токена для продолжения.
func TestRunBatch_MaxRecordsCap(t *testing.T) {
	env := newSchedulerEnv(t, 100, 2, 3)
	seedRecords(env.hot, 7, "tenant-a", time.Now().UTC().Add(-200*time.Hour))

	report, err := env.scheduler.RunBatch(context.Background(), 4)
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}

	if report.Scanned != 4 {
		t.Errorf("ожидалось 4 просканированные записи, получено %d", report.Scanned)
	}
	if report.NextToken == "" {
		t.Error("ожидался непустой continuation-токен")
	}
	if env.hot.size() != 3 {
		t.Errorf("в горячем хранилище должны остаться 3 записи, найдено %d", env.hot.size())
	}

	cp, err := env.checkpoints.Get(context.Background(), model.DefaultStream)
	if err != nil {
		t.Fatalf("checkpoint не сохранён: %v", err)
	}
	if !cp.InProgress() {
		t.Error("checkpoint незавершённого скана должен иметь непустой токен")
	}
}

// TestRunBatch_ResumeKeepsCutoff проверяет продолжение скана после рестарта:
// незавершённый скан сохраняет свой исходный порог возраста, и запись,
// попадающая только под новый порог, ждёт следующего скана.
func TestRunBatch_ResumeKeepsCutoff(t *testing.T) {
	env := newSchedulerEnv(t, 100, 2, 3)
	base := time.Now().UTC()
	env.scheduler.now = func() time.Time { return base }
	seedRecords(env.hot, 5, "tenant-a", base.Add(-200*time.Hour))

	// Частичный скан: порог возраста base-100h
	if _, err := env.scheduler.RunBatch(context.Background(), 2); err != nil {
		t.Fatalf("первый RunBatch: %v", err)
	}

	// Запись между старым и новым порогом
	mid := &model.Record{
		ID:           uuid.NewString(),
		PartitionKey: "tenant-a",
		CreatedAt:    base.Add(-50 * time.Hour),
		Version:      uuid.NewString(),
		Payload:      json.RawMessage(`{"seq":100}`),
	}
	env.hot.put(mid)

	// Время ушло вперёд: свежий порог покрыл бы mid, но скан продолжается
	// со старым порогом
	env.scheduler.now = func() time.Time { return base.Add(100 * time.Hour) }
	report, err := env.scheduler.RunBatch(context.Background(), 0)
	if err != nil {
		t.Fatalf("второй RunBatch: %v", err)
	}
	if report.Migrated != 3 {
		t.Errorf("продолжение должно перенести 3 оставшиеся записи, перенесено %d", report.Migrated)
	}
	if _, err := env.hot.Get(context.Background(), mid.ID, mid.PartitionKey); err != nil {
		t.Fatalf("запись новее исходного порога не должна мигрировать при продолжении: %v", err)
	}

	// Следующий скан начинается со свежим порогом и забирает mid
	report, err = env.scheduler.RunBatch(context.Background(), 0)
	if err != nil {
		t.Fatalf("третий RunBatch: %v", err)
	}
	if report.Migrated != 1 {
		t.Errorf("новый скан должен перенести 1 запись, перенесено %d", report.Migrated)
	}
	if env.hot.size() != 0 {
		t.Errorf("горячее хранилище должно опустеть, осталось %d записей", env.hot.size())
	}
}

// TestRunBatch_DeadLetter проверяет накопление попыток: запись, провалившая
// maxAttempts запусков подряд, учитывается как dead-lettered ровно один раз.
func TestRunBatch_DeadLetter(t *testing.T) {
	env := newSchedulerEnv(t, 100, 10, 2)
	env.archive.corruptReads = true // верификация архива всегда проваливается
	seedRecords(env.hot, 3, "tenant-a", time.Now().UTC().Add(-200*time.Hour))

	report, err := env.scheduler.RunBatch(context.Background(), 0)
	if err != nil {
		t.Fatalf("первый RunBatch: %v", err)
	}
	if report.Failed != 3 {
		t.Errorf("ожидалось 3 ошибки, получено %d", report.Failed)
	}
	if report.DeadLettered != 0 {
		t.Errorf("после первой попытки dead-letter ещё пуст, получено %d", report.DeadLettered)
	}

	report, err = env.scheduler.RunBatch(context.Background(), 0)
	if err != nil {
		t.Fatalf("второй RunBatch: %v", err)
	}
	if report.DeadLettered != 3 {
		t.Errorf("после второй попытки ожидалось 3 dead-lettered записи, получено %d", report.DeadLettered)
	}
	if env.hot.size() != 3 {
		t.Error("провалившие миграцию записи должны остаться в горячем хранилище")
	}
}

// TestRunBatch_RunInProgress проверяет отказ перекрывающегося запуска.
func TestRunBatch_RunInProgress(t *testing.T) {
	env := newSchedulerEnv(t, 100, 10, 3)

	env.scheduler.runMu.Lock()
	defer env.scheduler.runMu.Unlock()

	if _, err := env.scheduler.RunBatch(context.Background(), 0); !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("ожидалась ErrRunInProgress, получено: %v", err)
	}
}

// TestRunBatch_PersistFailure проверяет прерывание запуска при недоступности
// фиксации checkpoint-а.
func TestRunBatch_PersistFailure(t *testing.T) {
	env := newSchedulerEnv(t, 100, 10, 3)
	seedRecords(env.hot, 2, "tenant-a", time.Now().UTC().Add(-200*time.Hour))
	env.persister.failErr = errors.New("база недоступна")

	if _, err := env.scheduler.RunBatch(context.Background(), 0); err == nil {
		t.Fatal("ожидалась ошибка фиксации страницы")
	}
}
