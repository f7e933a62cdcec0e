package batch

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/scrapeforge/harvester/internal/config"
	"github.com/scrapeforge/harvester/internal/types"
)

type stubFetcher struct {
	statuses map[string]int
}

func (s *stubFetcher) Fetch(_ context.Context, url string, _ types.FetchOptions) types.Outcome {
	status, ok := s.statuses[url]
	if !ok {
		return types.NewClientError(&types.Response{StatusCode: 404, FinalURL: url}, 404)
	}
	if status >= 200 && status < 300 {
		return types.NewSuccess(&types.Response{StatusCode: status, FinalURL: url})
	}
	if status >= 500 {
		return types.NewServerError(&types.Response{StatusCode: status, FinalURL: url}, status)
	}
	return types.NewClientError(&types.Response{StatusCode: status, FinalURL: url}, status)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, nil))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func echoExtractor(url string, resp *types.Response) (*types.Record, error) {
	r := types.NewRecord(url, "test")
	r.Set("status", resp.StatusCode)
	return r, nil
}

func TestProcessZeroURLsIsValidationError(t *testing.T) {
	p := New(config.BatchConfig{}, &stubFetcher{}, nil, discardLogger())
	_, err := p.Process(context.Background(), nil, echoExtractor)
	if err == nil {
		t.Fatal("expected validation error for zero urls")
	}
}

func TestProcessTruncatesOverCap(t *testing.T) {
	statuses := map[string]int{}
	var urls []string
	for i := 0; i < 10; i++ {
		u := fmt.Sprintf("http://example.com/%d", i)
		urls = append(urls, u)
		statuses[u] = 200
	}

	cfg := config.BatchConfig{MaxURLs: 4, Concurrency: 4}
	p := New(cfg, &stubFetcher{statuses: statuses}, nil, discardLogger())
	result, err := p.Process(context.Background(), urls, echoExtractor)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Truncated != 6 {
		t.Fatalf("expected truncated=6, got %d", result.Truncated)
	}
	if len(result.ProcessedURLs) != 4 {
		t.Fatalf("expected exactly cap processed, got %d", len(result.ProcessedURLs))
	}
}

func TestProcessDedupIsIdempotentAndOrderPreserving(t *testing.T) {
	statuses := map[string]int{
		"http://example.com/a": 200,
		"http://example.com/b": 200,
	}
	urls := []string{
		"http://EXAMPLE.com/a",
		"http://example.com/a/",
		"http://example.com/b",
		"http://example.com/a#frag",
	}
	cfg := config.BatchConfig{Concurrency: 2}
	p := New(cfg, &stubFetcher{statuses: statuses}, nil, discardLogger())
	result, err := p.Process(context.Background(), urls, echoExtractor)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Duplicates != 2 {
		t.Fatalf("expected 2 duplicates, got %d", result.Duplicates)
	}
	if len(result.ProcessedURLs) != 2 {
		t.Fatalf("expected 2 unique urls processed, got %d: %v", len(result.ProcessedURLs), result.ProcessedURLs)
	}
	if result.ProcessedURLs[0] != urls[0] || result.ProcessedURLs[1] != urls[2] {
		t.Fatalf("expected input order preserved, got %v", result.ProcessedURLs)
	}
}

func TestProcessOrdersRecordsByInputOrder(t *testing.T) {
	statuses := map[string]int{
		"http://a.example.com/": 200,
		"http://b.example.com/": 200,
		"http://c.example.com/": 200,
	}
	urls := []string{"http://a.example.com/", "http://b.example.com/", "http://c.example.com/"}
	cfg := config.BatchConfig{Concurrency: 3}
	p := New(cfg, &stubFetcher{statuses: statuses}, nil, discardLogger())
	result, err := p.Process(context.Background(), urls, echoExtractor)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(result.Records))
	}
	for i, r := range result.Records {
		if r.URL != urls[i] {
			t.Fatalf("record %d out of order: got %q want %q", i, r.URL, urls[i])
		}
	}
}

func TestProcessCategorizesFailures(t *testing.T) {
	statuses := map[string]int{
		"http://example.com/ok":   200,
		"http://example.com/fail": 500,
	}
	urls := []string{"http://example.com/ok", "http://example.com/fail"}
	cfg := config.BatchConfig{Concurrency: 2, MaxRetries: 0}
	p := New(cfg, &stubFetcher{statuses: statuses}, nil, discardLogger())
	result, err := p.Process(context.Background(), urls, echoExtractor)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Records) != 1 {
		t.Fatalf("expected 1 successful record, got %d", len(result.Records))
	}
	if result.ErrorReport.ByCategory[types.CategoryHTTP5xx] != 1 {
		t.Fatalf("expected 1 http-5xx failure, got %d", result.ErrorReport.ByCategory[types.CategoryHTTP5xx])
	}
}

func TestProcessEmitsProgressEvents(t *testing.T) {
	statuses := map[string]int{"http://example.com/a": 200}
	cfg := config.BatchConfig{Concurrency: 1}
	p := New(cfg, &stubFetcher{statuses: statuses}, nil, discardLogger())

	var seen int32
	done := make(chan struct{})
	go func() {
		for range p.Events() {
			atomic.AddInt32(&seen, 1)
		}
		close(done)
	}()

	_, err := p.Process(context.Background(), []string{"http://example.com/a"}, echoExtractor)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	<-done
	if atomic.LoadInt32(&seen) == 0 {
		t.Fatal("expected at least one progress event")
	}
}

type slowFetcher struct {
	inner *stubFetcher
	delay time.Duration
}

func (s *slowFetcher) Fetch(ctx context.Context, url string, opts types.FetchOptions) types.Outcome {
	time.Sleep(s.delay)
	return s.inner.Fetch(ctx, url, opts)
}

func TestStopIsIdempotentAndHaltsNewWork(t *testing.T) {
	statuses := map[string]int{}
	var urls []string
	for i := 0; i < 20; i++ {
		u := fmt.Sprintf("http://example.com/%d", i)
		urls = append(urls, u)
		statuses[u] = 200
	}
	cfg := config.BatchConfig{Concurrency: 1, GracefulShutdownMs: 50}
	f := &slowFetcher{inner: &stubFetcher{statuses: statuses}, delay: 20 * time.Millisecond}
	p := New(cfg, f, nil, discardLogger())

	done := make(chan struct{})
	var result *types.BatchResult
	go func() {
		result, _ = p.Process(context.Background(), urls, echoExtractor)
		close(done)
	}()

	p.Stop()
	p.Stop() // idempotent, must not panic
	<-done

	if len(result.Records) == 20 {
		t.Fatal("expected Stop to halt processing before all items complete")
	}
}

func TestPauseResumeIdempotent(t *testing.T) {
	p := New(config.BatchConfig{}, &stubFetcher{}, nil, discardLogger())
	p.Resume() // no-op, not paused
	p.Pause()
	p.Pause() // idempotent
	if !p.paused.Load() {
		t.Fatal("expected paused state")
	}
	p.Resume()
	p.Resume() // idempotent
	if p.paused.Load() {
		t.Fatal("expected resumed state")
	}
}

func TestItemBackoffRespectsBounds(t *testing.T) {
	d := itemBackoff(10, 10*time.Millisecond, 100*time.Millisecond)
	if d > 120*time.Millisecond {
		t.Fatalf("expected backoff bounded near max, got %s", d)
	}
}
