package batch

import (
	"context"
	"log/slog"
	"math/rand"
	neturl "net/url"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/scrapeforge/harvester/internal/config"
	"github.com/scrapeforge/harvester/internal/metrics"
	"github.com/scrapeforge/harvester/internal/normalizer"
	"github.com/scrapeforge/harvester/internal/types"
)

// State is the Batch Processor's own lifecycle state, distinct from the Job
// Orchestrator's JobState (spec.md §4.D: "Idle → Validating → Running →
// (Paused ↔ Running) → (Completed | Stopped | Failed)").
type State string

const (
	StateIdle       State = "idle"
	StateValidating State = "validating"
	StateRunning    State = "running"
	StatePaused     State = "paused"
	StateCompleted  State = "completed"
	StateStopped    State = "stopped"
	StateFailed     State = "failed"
)

// Extractor turns a fetched response into a Record, the injected function of
// spec.md §4.D's Process operation.
type Extractor func(url string, resp *types.Response) (*types.Record, error)

// Processor runs one batch of URLs through the Resilient Fetcher (and
// optionally the URL Normalizer), a bounded worker pool wide, emitting
// ordered results, categorized errors, and progress events. One Processor
// serves exactly one Process call, mirroring the teacher's per-crawl
// internal/engine.Scheduler (internal/engine/scheduler.go) rather than being
// reused across runs.
type Processor struct {
	cfg     config.BatchConfig
	fetch   fetcher
	nz      *normalizer.Normalizer
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	state    State
	paused   atomic.Bool
	resumeCh chan struct{}

	stopOnce sync.Once
	softStop chan struct{}
	hardStop context.CancelFunc

	events chan types.ProgressEvent
}

// fetcher is the subset of fetcher.Fetcher the Batch Processor depends on —
// declared locally so tests can stub it without importing net/http plumbing.
type fetcher interface {
	Fetch(ctx context.Context, url string, opts types.FetchOptions) types.Outcome
}

// New builds a Processor. nz may be nil, in which case B is called directly
// without canonicalization preflight.
func New(cfg config.BatchConfig, f fetcher, nz *normalizer.Normalizer, logger *slog.Logger) *Processor {
	return &Processor{
		cfg:      cfg,
		fetch:    f,
		nz:       nz,
		logger:   logger.With("component", "batch"),
		state:    StateIdle,
		resumeCh: make(chan struct{}),
		softStop: make(chan struct{}),
		events:   make(chan types.ProgressEvent, 64),
	}
}

// SetMetrics attaches a Metrics sink, so per-item outcomes are published to
// harvester_batch_items_total alongside the progress events. Optional —
// left nil, Process runs exactly as before.
func (p *Processor) SetMetrics(m *metrics.Metrics) { p.metrics = m }

// Events returns the progress event stream. Closed when Process returns.
func (p *Processor) Events() <-chan types.ProgressEvent { return p.events }

// State returns the current lifecycle state.
func (p *Processor) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Processor) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// Pause idempotently pauses worker pickup of new items.
func (p *Processor) Pause() { p.paused.Store(true) }

// Resume idempotently resumes a paused run.
func (p *Processor) Resume() {
	if !p.paused.CompareAndSwap(true, false) {
		return
	}
	p.mu.Lock()
	close(p.resumeCh)
	p.resumeCh = make(chan struct{})
	p.mu.Unlock()
}

// Stop idempotently initiates graceful shutdown: workers stop picking up new
// items immediately, but in-flight items are cancelled only after
// GracefulShutdownMs elapses (spec.md §4.D "Cancellation semantics").
func (p *Processor) Stop() {
	p.stopOnce.Do(func() {
		close(p.softStop)
		grace := time.Duration(p.cfg.GracefulShutdownMs) * time.Millisecond
		if grace <= 0 {
			grace = 5 * time.Second
		}
		go func() {
			timer := time.NewTimer(grace)
			defer timer.Stop()
			<-timer.C
			if p.hardStop != nil {
				p.hardStop()
			}
		}()
	})
}

// Process implements spec.md §4.D's Process(urls, extractor) → BatchResult.
func (p *Processor) Process(ctx context.Context, urls []string, extract Extractor) (*types.BatchResult, error) {
	result := &types.BatchResult{
		SourceURLs:  append([]string(nil), urls...),
		ErrorReport: types.NewErrorReport(),
		StartedAt:   time.Now(),
	}

	p.setState(StateValidating)
	p.emit(types.Progress{Phase: string(StateValidating), Total: len(urls)})

	if len(urls) == 0 {
		p.setState(StateFailed)
		close(p.events)
		return result, types.ErrEmptyInput
	}

	valid, truncated, duplicates, rejected := validateAndDedupe(p.cfg, urls)
	result.ProcessedURLs = valid
	result.Truncated = truncated
	result.Duplicates = duplicates
	for _, re := range rejected {
		recordError(result.ErrorReport, re, p.cfg.MaxErrorSamples)
	}

	sourceSet := make(map[string]struct{}, len(valid))
	for _, u := range valid {
		sourceSet[u] = struct{}{}
	}

	if len(valid) == 0 {
		p.setState(StateFailed)
		p.finalizeErrorReport(result)
		result.EndedAt = time.Now()
		close(p.events)
		return result, types.ErrValidation
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.hardStop = cancel
	defer cancel()

	p.setState(StateRunning)
	progress := newProgressTracker(len(valid))
	p.emit(progress.setPhase(string(StateRunning)))

	stopMem := p.startMemoryProbe(runCtx)
	defer stopMem()

	slots := make([]*types.Record, len(valid))
	concurrency := p.cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 5
	}
	if concurrency > len(valid) {
		concurrency = len(valid)
	}

	indexCh := make(chan int, len(valid))
	for i := range valid {
		indexCh <- i
	}
	close(indexCh)

	discoveredSeen := make(map[string]struct{})
	var discovered []string

	var wg sync.WaitGroup
	var mu sync.Mutex // guards result.ErrorReport, slots, and discovered* writes from concurrent workers
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range indexCh {
				select {
				case <-p.softStop:
					return
				default:
				}
				p.waitIfPaused(runCtx)

				url := valid[idx]
				start := time.Now()
				record, itemErr, pages := p.processOne(runCtx, url, extract)
				slots[idx] = record

				mu.Lock()
				if itemErr != nil {
					recordError(result.ErrorReport, *itemErr, p.cfg.MaxErrorSamples)
				}
				for _, page := range pages {
					if _, isSource := sourceSet[page]; isSource {
						continue
					}
					if _, dup := discoveredSeen[page]; dup {
						continue
					}
					discoveredSeen[page] = struct{}{}
					discovered = append(discovered, page)
				}
				mu.Unlock()

				if p.metrics != nil {
					category := "ok"
					if itemErr != nil {
						category = string(itemErr.Category)
					}
					p.metrics.BatchItemsTotal.WithLabelValues(category).Inc()
				}

				snap := progress.recordItem(time.Since(start), itemErr != nil)
				p.emit(snap)
			}
		}()
	}
	wg.Wait()

	for _, r := range slots {
		if r != nil {
			result.Records = append(result.Records, r)
		}
	}
	result.DiscoveredURLs = discovered
	p.finalizeErrorReport(result)
	result.EndedAt = time.Now()

	finalState := StateCompleted
	select {
	case <-p.softStop:
		finalState = StateStopped
	default:
	}
	p.setState(finalState)
	p.emit(progress.setPhase(string(finalState)))
	close(p.events)

	return result, nil
}

func (p *Processor) finalizeErrorReport(result *types.BatchResult) {
	total := len(result.ProcessedURLs)
	result.ErrorReport.Recommendations = buildRecommendations(result.ErrorReport.ByCategory, total)
}

func (p *Processor) emit(prog types.Progress) {
	select {
	case p.events <- types.ProgressEvent{Timestamp: time.Now(), Progress: prog}:
	default:
		// Slow consumer: drop rather than block the worker pool.
	}
}

func (p *Processor) waitIfPaused(ctx context.Context) {
	for p.paused.Load() {
		p.mu.Lock()
		ch := p.resumeCh
		p.mu.Unlock()
		select {
		case <-ctx.Done():
			return
		case <-ch:
		}
	}
}

// processOne fetches one URL (through C first when configured), retries the
// logical item up to cfg.MaxRetries independent of B's own transport
// retries, then extracts a Record. On a successful fetch it also runs
// pagination discovery over the response body through the URL Normalizer,
// returning any confirmed next-page URLs for the caller to fold into
// BatchResult.DiscoveredURLs (spec.md §4.D/§4.E source/discovered URL
// separation).
func (p *Processor) processOne(ctx context.Context, url string, extract Extractor) (*types.Record, *types.ItemError, []string) {
	targetURL := url
	if p.nz != nil {
		canon := p.nz.Canonicalize(ctx, url)
		if canon.Err == nil && canon.CanonicalURL != "" {
			targetURL = canon.CanonicalURL
		}
	}

	maxRetries := p.cfg.MaxRetries
	base := p.cfg.BaseBackoff
	max := p.cfg.MaxBackoff
	if base <= 0 {
		base = 200 * time.Millisecond
	}
	if max <= 0 {
		max = 30 * time.Second
	}

	var last types.Outcome
	for attempt := 0; attempt <= maxRetries; attempt++ {
		select {
		case <-p.softStop:
			return nil, itemError(url, types.CategoryUnknown, "stopped before completion", attempt), nil
		default:
		}

		opts := types.DefaultFetchOptions()
		last = p.fetch.Fetch(ctx, targetURL, opts)
		if last.IsSuccess() {
			record, err := extract(targetURL, last.Response)
			if err != nil {
				return nil, itemError(url, types.CategoryParse, err.Error(), attempt+1), nil
			}
			return record, nil, p.discoverPages(ctx, targetURL, last.Response)
		}
		if !last.IsRetryable() || attempt == maxRetries {
			break
		}

		delay := itemBackoff(attempt, base, max)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, itemError(url, categorize(last), "cancelled during backoff", attempt+1), nil
		case <-p.softStop:
			timer.Stop()
			return nil, itemError(url, categorize(last), "stopped during backoff", attempt+1), nil
		case <-timer.C:
		}
	}
	return nil, itemError(url, categorize(last), last.Error(), maxRetries+1), nil
}

// discoverPages runs the URL Normalizer's pagination discovery over a
// successfully fetched page, when a Normalizer is configured. Errors and
// unconfirmed candidates are dropped here: discovery is best-effort and must
// never turn a successful item into a failed one.
func (p *Processor) discoverPages(ctx context.Context, pageURL string, resp *types.Response) []string {
	if p.nz == nil || resp == nil || len(resp.Body) == 0 {
		return nil
	}
	result := p.nz.DiscoverPagination(ctx, pageURL, string(resp.Body))
	return result.Pages
}

func itemError(rawURL string, category types.ErrorCategory, message string, attempts int) *types.ItemError {
	host := ""
	if u, err := neturl.Parse(rawURL); err == nil {
		host = u.Hostname()
	}
	return &types.ItemError{URL: rawURL, Host: host, Category: category, Message: message, Attempts: attempts, At: time.Now()}
}

func recordError(report *types.ErrorReport, e types.ItemError, maxSamples int) {
	report.ByCategory[e.Category]++
	if e.Host != "" {
		report.ByHost[e.Host]++
	}
	if maxSamples <= 0 {
		maxSamples = 50
	}
	if len(report.Samples) < maxSamples {
		report.Samples = append(report.Samples, e)
	}
}

// itemBackoff mirrors the Resilient Fetcher's exponential-with-jitter
// schedule (internal/fetcher/retry.go backoffDelay), applied here to the
// logical item rather than the transport attempt.
func itemBackoff(attempt int, base, max time.Duration) time.Duration {
	mult := 1 << uint(attempt)
	d := base * time.Duration(mult)
	if d > max || d <= 0 {
		d = max
	}
	jitter := (rand.Float64()*2 - 1) * 0.2
	scaled := float64(d) * (1 + jitter)
	if scaled < 0 {
		scaled = 0
	}
	return time.Duration(scaled)
}

// startMemoryProbe periodically samples heap usage and logs a warning above
// cfg.MemoryWarnThresholdMB, per spec.md §4.D "Memory discipline".
func (p *Processor) startMemoryProbe(ctx context.Context) func() {
	threshold := p.cfg.MemoryWarnThresholdMB
	if threshold <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ticker.C:
				var ms runtime.MemStats
				runtime.ReadMemStats(&ms)
				heapMB := ms.HeapAlloc / (1024 * 1024)
				if int(heapMB) >= threshold {
					p.logger.Warn("memory usage above threshold", "heap_mb", heapMB, "threshold_mb", threshold)
				}
			}
		}
	}()
	return func() { close(done) }
}
