package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/arturkryukov/tierstore/internal/domain/model"
	"github.com/arturkryukov/tierstore/internal/repository"
	"github.com/arturkryukov/tierstore/internal/store"
)

// hotKey — ключ записи в fake-хранилище.
func hotKey(id, partitionKey string) string {
	return id + "/" + partitionKey
}

// fakeHotStore — in-memory реализация store.HotStore для тестов.
type fakeHotStore struct {
	mu      sync.Mutex
	records map[string]*model.Record

	// transientGets/transientDeletes — количество вызовов, завершающихся
	// временной ошибкой до первого успеха
	transientGets    int
	transientDeletes int
	transientLists   int

	// afterGet — hook, выполняемый после успешного Get (имитация
	// конкурентной записи между чтением и удалением)
	afterGet func()
}

func newFakeHotStore() *fakeHotStore {
	return &fakeHotStore{records: make(map[string]*model.Record)}
}

func (f *fakeHotStore) put(rec *model.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *rec
	f.records[hotKey(rec.ID, rec.PartitionKey)] = &cp
}

func (f *fakeHotStore) Get(_ context.Context, id, partitionKey string) (*model.Record, error) {
	f.mu.Lock()
	if f.transientGets > 0 {
		f.transientGets--
		f.mu.Unlock()
		return nil, fmt.Errorf("%w: обрыв соединения", store.ErrTransient)
	}
	rec, ok := f.records[hotKey(id, partitionKey)]
	var cp model.Record
	if ok {
		cp = *rec
	}
	hook := f.afterGet
	f.afterGet = nil
	f.mu.Unlock()

	if !ok {
		return nil, store.ErrNotFound
	}
	if hook != nil {
		hook()
	}
	return &cp, nil
}

func (f *fakeHotStore) Put(_ context.Context, rec *model.Record) error {
	f.put(rec)
	return nil
}

func (f *fakeHotStore) DeleteIfVersion(_ context.Context, id, partitionKey, expectedVersion string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.transientDeletes > 0 {
		f.transientDeletes--
		return fmt.Errorf("%w: таймаут", store.ErrTransient)
	}
	rec, ok := f.records[hotKey(id, partitionKey)]
	if !ok {
		return store.ErrNotFound
	}
	if rec.Version != expectedVersion {
		return store.ErrVersionMismatch
	}
	delete(f.records, hotKey(id, partitionKey))
	return nil
}

func (f *fakeHotStore) ListOlderThan(_ context.Context, cutoff time.Time, token string, limit, _ int) ([]*model.Record, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.transientLists > 0 {
		f.transientLists--
		return nil, "", fmt.Errorf("%w: обрыв соединения", store.ErrTransient)
	}

	var candidates []*model.Record
	for _, rec := range f.records {
		if rec.CreatedAt.Before(cutoff) {
			cp := *rec
			candidates = append(candidates, &cp)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].CreatedAt.Equal(candidates[j].CreatedAt) {
			return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
		}
		return candidates[i].ID < candidates[j].ID
	})

	// Токен fake-хранилища: "created_at|id" последней выданной записи
	start := 0
	if token != "" {
		for i, rec := range candidates {
			if fakeToken(rec) == token {
				start = i + 1
				break
			}
		}
	}

	end := start + limit
	if end > len(candidates) {
		end = len(candidates)
	}
	page := candidates[start:end]

	next := ""
	if len(page) == limit && limit > 0 {
		next = fakeToken(page[len(page)-1])
	}
	return page, next, nil
}

func fakeToken(rec *model.Record) string {
	return rec.CreatedAt.Format(time.RFC3339Nano) + "|" + rec.ID
}

// size возвращает количество записей в fake-хранилище.
func (f *fakeHotStore) size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

// fakeArchiveStore — in-memory реализация store.ArchiveStore для тестов.
type fakeArchiveStore struct {
	mu    sync.Mutex
	blobs map[string][]byte

	// transientPuts — количество Put, завершающихся временной ошибкой
	transientPuts int
	// corruptReads — отдавать повреждённые байты при Get
	corruptReads bool
}

func newFakeArchiveStore() *fakeArchiveStore {
	return &fakeArchiveStore{blobs: make(map[string][]byte)}
}

func (f *fakeArchiveStore) Put(_ context.Context, id string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.transientPuts > 0 {
		f.transientPuts--
		return fmt.Errorf("%w: диск недоступен", store.ErrTransient)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	f.blobs[id] = cp
	return nil
}

func (f *fakeArchiveStore) Get(_ context.Context, id string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.blobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	if f.corruptReads {
		// Портим байты содержимого записи, JSON остаётся валидным
		s := strings.Replace(string(cp), `"record":{"`, `"record":{ "`, 1)
		cp = []byte(s)
	}
	return cp, nil
}

func (f *fakeArchiveStore) Exists(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.blobs[id]
	return ok, nil
}

func (f *fakeArchiveStore) size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.blobs)
}

// fakeCheckpoints — in-memory checkpoint-хранилище.
type fakeCheckpoints struct {
	mu sync.Mutex
	cp *model.Checkpoint
}

func (f *fakeCheckpoints) Get(_ context.Context, streamID string) (*model.Checkpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cp == nil || f.cp.StreamID != streamID {
		return nil, store.ErrNotFound
	}
	cp := *f.cp
	return &cp, nil
}

// fakePersister — in-memory фиксация итогов страницы.
// Делит состояние с fakeCheckpoints: PersistPage обновляет checkpoint
// и ведёт счётчики попыток dead-letter.
type fakePersister struct {
	mu          sync.Mutex
	checkpoints *fakeCheckpoints
	attempts    map[string]int
	persists    int
	failErr     error
}

func newFakePersister(cps *fakeCheckpoints) *fakePersister {
	return &fakePersister{checkpoints: cps, attempts: make(map[string]int)}
}

func (f *fakePersister) PersistPage(_ context.Context, cp *model.Checkpoint, failures []repository.Failure, attemptCap int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return 0, f.failErr
	}
	deadLettered := 0
	for _, fl := range failures {
		key := hotKey(fl.RecordID, fl.PartitionKey)
		f.attempts[key]++
		if f.attempts[key] == attemptCap {
			deadLettered++
		}
	}
	saved := *cp
	f.checkpoints.mu.Lock()
	f.checkpoints.cp = &saved
	f.checkpoints.mu.Unlock()
	f.persists++
	return deadLettered, nil
}
