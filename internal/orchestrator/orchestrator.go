// Package orchestrator implements the Job Orchestrator: it owns job
// lifecycle (StartJob/GetStatus/CancelJob/GetResult) and delegates actual
// fetching/extraction to a fresh internal/batch.Processor per job, the way
// the teacher's internal/engine.Engine owns a crawl's lifecycle while
// delegating HTTP work to its Scheduler.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/scrapeforge/harvester/internal/batch"
	"github.com/scrapeforge/harvester/internal/config"
	"github.com/scrapeforge/harvester/internal/export"
	"github.com/scrapeforge/harvester/internal/joblog"
	"github.com/scrapeforge/harvester/internal/jobstore"
	"github.com/scrapeforge/harvester/internal/metrics"
	"github.com/scrapeforge/harvester/internal/normalizer"
	"github.com/scrapeforge/harvester/internal/types"
)

// fetcher is the subset of fetcher.Fetcher a job's Batch Processor needs.
type fetcher interface {
	Fetch(ctx context.Context, url string, opts types.FetchOptions) types.Outcome
}

// Orchestrator implements spec.md §4.E.
type Orchestrator struct {
	store  jobstore.Store
	log    *joblog.Sink
	logger *slog.Logger

	fetch fetcher
	nz    *normalizer.Normalizer
	cfg   config.BatchConfig

	modeMu     sync.RWMutex
	extractors map[string]batch.Extractor

	mu      sync.Mutex
	running map[string]*runningJob

	metrics *metrics.Metrics
}

// SetMetrics attaches a Metrics sink, so job concurrency is published to
// harvester_jobs_active and every job's Batch Processor publishes its
// per-item outcomes too. Optional — left nil, jobs run exactly as before.
func (o *Orchestrator) SetMetrics(m *metrics.Metrics) { o.metrics = m }

type runningJob struct {
	mu        sync.Mutex
	processor *batch.Processor
	done      chan struct{}
}

// New builds an Orchestrator. nz may be nil (no canonicalization preflight).
func New(store jobstore.Store, log *joblog.Sink, f fetcher, nz *normalizer.Normalizer, cfg config.BatchConfig, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		store:      store,
		log:        log,
		fetch:      f,
		nz:         nz,
		cfg:        cfg,
		logger:     logger.With("component", "orchestrator"),
		extractors: make(map[string]batch.Extractor),
		running:    make(map[string]*runningJob),
	}
}

// RegisterMode binds a scrape mode name to the Extractor that interprets
// responses fetched for jobs started in that mode.
func (o *Orchestrator) RegisterMode(mode string, extract batch.Extractor) {
	o.modeMu.Lock()
	defer o.modeMu.Unlock()
	o.extractors[mode] = extract
}

// StartJob validates mode+input, snapshots the input immutably, persists a
// Pending job, transitions it to Running, and launches background
// processing, returning the new job's id immediately (spec.md §4.E).
func (o *Orchestrator) StartJob(ctx context.Context, mode string, input types.JobInput) (string, error) {
	o.modeMu.RLock()
	extract, ok := o.extractors[mode]
	o.modeMu.RUnlock()
	if !ok {
		return "", errUnknownMode(mode)
	}
	if len(input.URLs) == 0 {
		return "", types.ErrEmptyInput
	}

	id, err := newJobID()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}

	original := input.Clone()
	job := &types.Job{
		ID:            id,
		Mode:          mode,
		State:         types.JobPending,
		OriginalInput: original,
		StartedAt:     time.Now(),
	}
	if err := o.store.Create(ctx, job); err != nil {
		return "", fmt.Errorf("create job record: %w", err)
	}

	processor := batch.New(o.cfg, o.fetch, o.nz, o.logger)
	if o.metrics != nil {
		processor.SetMetrics(o.metrics)
	}
	rj := &runningJob{processor: processor, done: make(chan struct{})}

	o.mu.Lock()
	o.running[id] = rj
	o.mu.Unlock()

	rj.mu.Lock()
	started := o.transition(ctx, id, types.JobPending, types.JobRunning)
	rj.mu.Unlock()

	if !started {
		// A concurrent CancelJob won the race and moved Pending → Cancelled
		// before this job ever ran; honor that and do not launch work.
		o.mu.Lock()
		delete(o.running, id)
		o.mu.Unlock()
		close(rj.done)
		return id, nil
	}

	o.logEvent(id, types.EventJobStarted, map[string]any{"mode": mode, "url_count": len(original.URLs)})

	// Runs detached from the caller's context: per spec.md §4.E, StartJob
	// "launches a background processing task" that outlives the request
	// that started it. Cancellation after that point goes through CancelJob,
	// not through the caller's own context being cancelled.
	go o.run(context.Background(), id, original, extract, rj)

	return id, nil
}

func (o *Orchestrator) run(ctx context.Context, id string, input types.JobInput, extract batch.Extractor, rj *runningJob) {
	if o.metrics != nil {
		o.metrics.JobsActive.Inc()
	}
	defer func() {
		if o.metrics != nil {
			o.metrics.JobsActive.Dec()
		}
		o.mu.Lock()
		delete(o.running, id)
		o.mu.Unlock()
		close(rj.done)
	}()

	stopProgress := o.relayProgress(ctx, id, rj.processor)

	result, procErr := rj.processor.Process(ctx, input.URLs, wrapExtract(o, id, extract))

	// Drain the progress relay before writing the final job state: it
	// does its own read-modify-write of the stored job's Progress field,
	// and must not race the terminal-state write below.
	stopProgress()

	job, err := o.store.Get(ctx, id)
	if err != nil {
		o.logger.Error("run: reload job failed", "job_id", id, "error", err)
		return
	}

	job.Result = result
	errorCount := 0
	for _, n := range result.ErrorReport.ByCategory {
		errorCount += n
	}
	job.Progress = types.Progress{
		Phase:      string(rj.processor.State()),
		Completed:  len(result.Records),
		Total:      len(result.ProcessedURLs),
		Errors:     errorCount,
		Percentage: 100,
	}

	var final types.JobState
	switch rj.processor.State() {
	case batch.StateStopped:
		final = types.JobCancelled
	case batch.StateFailed:
		final = types.JobFailed
		if procErr != nil {
			job.Error = procErr.Error()
		}
	default:
		final = types.JobCompleted
	}
	now := time.Now()
	job.EndedAt = &now
	job.State = final

	if err := o.store.Update(ctx, job); err != nil {
		o.logger.Error("run: persist final job failed", "job_id", id, "error", err)
	}

	switch final {
	case types.JobCompleted:
		o.logEvent(id, types.EventJobCompleted, map[string]any{"records": len(result.Records)})
	case types.JobFailed:
		o.logEvent(id, types.EventJobFailed, map[string]any{"error": job.Error})
	case types.JobCancelled:
		o.logEvent(id, types.EventJobCancelled, nil)
	}
	if o.log != nil {
		o.log.CloseJob(id)
	}
}

// relayProgress mirrors the Batch Processor's progress events onto the
// stored Job so GetStatus reflects live progress, not just the coarse
// Pending/Running marker.
func (o *Orchestrator) relayProgress(ctx context.Context, id string, p *batch.Processor) func() {
	done := make(chan struct{})
	go func() {
		for ev := range p.Events() {
			job, err := o.store.Get(ctx, id)
			if err != nil {
				continue
			}
			job.Progress = ev.Progress
			_ = o.store.Update(ctx, job)
		}
		close(done)
	}()
	return func() { <-done }
}

// GetStatus returns a snapshot of the job's current state. No side effects.
func (o *Orchestrator) GetStatus(ctx context.Context, id string) (*types.Job, error) {
	return o.store.Get(ctx, id)
}

// CancelJob implements spec.md §4.E's CancelJob: idle jobs are cancelled
// directly; running jobs are asked to stop gracefully and this call blocks
// until that stop is observed or a bound elapses; terminal jobs return
// their current (unchanged) state, making repeated cancellation idempotent.
func (o *Orchestrator) CancelJob(ctx context.Context, id string) (types.JobState, error) {
	o.mu.Lock()
	rj, ok := o.running[id]
	o.mu.Unlock()

	if !ok {
		job, err := o.store.Get(ctx, id)
		if err != nil {
			return "", err
		}
		if job.State != types.JobPending {
			return job.State, nil // terminal: cancelling is a no-op
		}
		if o.transition(ctx, id, types.JobPending, types.JobCancelled) {
			o.logEvent(id, types.EventJobCancelled, nil)
			return types.JobCancelled, nil
		}
		job, err = o.store.Get(ctx, id)
		if err != nil {
			return "", err
		}
		return job.State, nil
	}

	rj.mu.Lock()
	if o.transition(ctx, id, types.JobPending, types.JobCancelled) {
		rj.mu.Unlock()
		o.logEvent(id, types.EventJobCancelled, nil)
		<-rj.done
		return types.JobCancelled, nil
	}
	rj.mu.Unlock()

	rj.processor.Stop()

	bound := time.Duration(o.cfg.GracefulShutdownMs)*time.Millisecond + 2*time.Second
	select {
	case <-rj.done:
	case <-time.After(bound):
	case <-ctx.Done():
	}

	job, err := o.store.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return job.State, nil
}

// GetResult returns the job's formatted result, valid only once Completed.
func (o *Orchestrator) GetResult(ctx context.Context, id, format string) ([]byte, string, error) {
	job, err := o.store.Get(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if job.State != types.JobCompleted {
		return nil, "", fmt.Errorf("%w: job %s is %s, not completed", types.ErrJobNotCompleted, id, job.State)
	}
	return export.Format(job.Result, format)
}
