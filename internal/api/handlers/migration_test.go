package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/arturkryukov/tierstore/internal/domain/model"
	"github.com/arturkryukov/tierstore/internal/service"
	"github.com/arturkryukov/tierstore/internal/store"
)

// fakeRunner — подставной запуск миграции.
type fakeRunner struct {
	report     *model.BatchReport
	err        error
	maxRecords int
}

func (f *fakeRunner) RunBatch(_ context.Context, maxRecords int) (*model.BatchReport, error) {
	f.maxRecords = maxRecords
	if f.err != nil {
		return nil, f.err
	}
	return f.report, nil
}

// fakeCheckpointReader — подставное чтение checkpoint-а.
type fakeCheckpointReader struct {
	cp  *model.Checkpoint
	err error
}

func (f *fakeCheckpointReader) Get(context.Context, string) (*model.Checkpoint, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.cp, nil
}

func newMigrationAPI(runner MigrationRunner, checkpoints CheckpointReader) http.Handler {
	h := NewMigrationHandler(runner, checkpoints, testLogger())
	r := chi.NewRouter()
	r.Post("/api/v1/migration/run", h.RunMigration)
	r.Get("/api/v1/migration/checkpoint", h.GetCheckpoint)
	return r
}

// TestRunMigration проверяет успешный запуск с отчётом.
func TestRunMigration(t *testing.T) {
	runner := &fakeRunner{report: &model.BatchReport{
		Scanned:  20,
		Migrated: 18,
		Skipped:  1,
		Failed:   1,
		Duration: 2500 * time.Millisecond,
	}}
	api := newMigrationAPI(runner, &fakeCheckpointReader{})

	body := `{"max_records": 20}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/migration/run", strings.NewReader(body))
	rr := httptest.NewRecorder()
	api.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("ожидался статус 200, получен %d: %s", rr.Code, rr.Body.String())
	}
	if runner.maxRecords != 20 {
		t.Errorf("max_records не передан планировщику: %d", runner.maxRecords)
	}

	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("разбор ответа: %v", err)
	}
	if resp["migrated"] != float64(18) {
		t.Errorf("ожидалось migrated=18, получено %v", resp["migrated"])
	}
	if resp["duration_ms"] != float64(2500) {
		t.Errorf("ожидалось duration_ms=2500, получено %v", resp["duration_ms"])
	}
}

// TestRunMigration_EmptyBody проверяет запуск без тела запроса.
func TestRunMigration_EmptyBody(t *testing.T) {
	runner := &fakeRunner{report: &model.BatchReport{}}
	api := newMigrationAPI(runner, &fakeCheckpointReader{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/migration/run", nil)
	rr := httptest.NewRecorder()
	api.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("ожидался статус 200, получен %d: %s", rr.Code, rr.Body.String())
	}
	if runner.maxRecords != 0 {
		t.Errorf("без тела ожидался max_records=0, получен %d", runner.maxRecords)
	}
}

// TestRunMigration_Conflict проверяет 409 при выполняющейся миграции.
func TestRunMigration_Conflict(t *testing.T) {
	api := newMigrationAPI(&fakeRunner{err: service.ErrRunInProgress}, &fakeCheckpointReader{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/migration/run", nil)
	rr := httptest.NewRecorder()
	api.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("ожидался статус 409, получен %d", rr.Code)
	}
}

// TestRunMigration_NegativeMax проверяет 400 на отрицательном max_records.
func TestRunMigration_NegativeMax(t *testing.T) {
	api := newMigrationAPI(&fakeRunner{report: &model.BatchReport{}}, &fakeCheckpointReader{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/migration/run", strings.NewReader(`{"max_records":-1}`))
	rr := httptest.NewRecorder()
	api.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("ожидался статус 400, получен %d", rr.Code)
	}
}

// TestGetCheckpoint проверяет ответ с checkpoint-ом незавершённого скана.
func TestGetCheckpoint(t *testing.T) {
	api := newMigrationAPI(&fakeRunner{}, &fakeCheckpointReader{cp: &model.Checkpoint{
		StreamID:          model.DefaultStream,
		ContinuationToken: "abc",
		LastCutoff:        time.Now().UTC().Add(-90 * 24 * time.Hour),
		UpdatedAt:         time.Now().UTC(),
	}})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/migration/checkpoint", nil)
	rr := httptest.NewRecorder()
	api.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("ожидался статус 200, получен %d: %s", rr.Code, rr.Body.String())
	}

	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("разбор ответа: %v", err)
	}
	if resp["in_progress"] != true {
		t.Errorf("ожидалось in_progress=true, получено %v", resp["in_progress"])
	}
	if resp["continuation_token"] != "abc" {
		t.Errorf("ожидался токен abc, получено %v", resp["continuation_token"])
	}
}

// TestGetCheckpoint_NotFound проверяет 404, когда миграция ещё не выполнялась.
func TestGetCheckpoint_NotFound(t *testing.T) {
	api := newMigrationAPI(&fakeRunner{}, &fakeCheckpointReader{err: store.ErrNotFound})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/migration/checkpoint", nil)
	rr := httptest.NewRecorder()
	api.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("ожидался статус 404, получен %d", rr.Code)
	}
}
