package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/scrapeforge/harvester/internal/types"
)

type stubController struct {
	startID     string
	startErr    error
	job         *types.Job
	statusErr   error
	cancelState types.JobState
	cancelErr   error
	resultBody  []byte
	resultCT    string
	resultErr   error
}

func (s *stubController) StartJob(ctx context.Context, mode string, input types.JobInput) (string, error) {
	return s.startID, s.startErr
}

func (s *stubController) GetStatus(ctx context.Context, id string) (*types.Job, error) {
	return s.job, s.statusErr
}

func (s *stubController) CancelJob(ctx context.Context, id string) (types.JobState, error) {
	return s.cancelState, s.cancelErr
}

func (s *stubController) GetResult(ctx context.Context, id, format string) ([]byte, string, error) {
	return s.resultBody, s.resultCT, s.resultErr
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestHandleStartReturns201WithJobID(t *testing.T) {
	s := NewServer(0, &stubController{startID: "job-1"}, testLogger())
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/scrape/start", "application/json", strings.NewReader(`{"mode":"news","input":["http://example.com"]}`))
	if err != nil {
		t.Fatalf("POST /scrape/start: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body["jobId"] != "job-1" {
		t.Fatalf("expected jobId=job-1, got %q", body["jobId"])
	}
}

func TestHandleStartValidationErrorReturns400(t *testing.T) {
	s := NewServer(0, &stubController{startErr: types.ErrEmptyInput}, testLogger())
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/scrape/start", "application/json", strings.NewReader(`{"mode":"news","input":[]}`))
	if err != nil {
		t.Fatalf("POST /scrape/start: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestHandleStatusReturnsJobSnapshot(t *testing.T) {
	job := &types.Job{ID: "job-1", State: types.JobRunning, Progress: types.Progress{Completed: 2, Total: 5}}
	s := NewServer(0, &stubController{job: job}, testLogger())
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/scrape/status/job-1")
	if err != nil {
		t.Fatalf("GET /scrape/status/job-1: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body["id"] != "job-1" {
		t.Fatalf("expected id=job-1, got %v", body["id"])
	}
	if _, hasEndedAt := body["endedAt"]; hasEndedAt {
		t.Fatal("expected no endedAt for a running job")
	}
}

func TestHandleStatusUnknownJobReturns404(t *testing.T) {
	s := NewServer(0, &stubController{statusErr: types.ErrJobNotFound}, testLogger())
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/scrape/status/nope")
	if err != nil {
		t.Fatalf("GET /scrape/status/nope: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestHandleCancelReturnsNewState(t *testing.T) {
	s := NewServer(0, &stubController{cancelState: types.JobCancelled}, testLogger())
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/scrape/cancel/job-1", nil)
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("POST /scrape/cancel/job-1: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body["state"] != string(types.JobCancelled) {
		t.Fatalf("expected state=cancelled, got %q", body["state"])
	}
}

func TestHandleDownloadSetsContentDisposition(t *testing.T) {
	s := NewServer(0, &stubController{resultBody: []byte(`{"records":[]}`), resultCT: "application/json"}, testLogger())
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/scrape/download/job-1?format=json")
	if err != nil {
		t.Fatalf("GET /scrape/download/job-1: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Content-Disposition"); !strings.Contains(got, "job-1.json") {
		t.Fatalf("expected Content-Disposition naming job-1.json, got %q", got)
	}
	data, _ := io.ReadAll(resp.Body)
	if string(data) != `{"records":[]}` {
		t.Fatalf("unexpected body: %s", data)
	}
}

func TestHandleDownloadNotCompletedReturns400(t *testing.T) {
	s := NewServer(0, &stubController{resultErr: types.ErrJobNotCompleted}, testLogger())
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/scrape/download/job-1")
	if err != nil {
		t.Fatalf("GET /scrape/download/job-1: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}
