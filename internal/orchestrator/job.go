package orchestrator

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/scrapeforge/harvester/internal/batch"
	"github.com/scrapeforge/harvester/internal/types"
)

// newJobID returns a 128-bit random hex id, the same hex.EncodeToString
// convention the teacher uses for content hashes
// (internal/engine/dedup.go fingerprint), applied here to identity rather
// than deduplication.
func newJobID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// transition moves the stored job from `from` to `to` iff it is currently
// in `from`, persisting the change. Returns false without error if the job
// was already in a different state — the caller's job-level mutex
// (runningJob.mu) must already be held so this check-then-write is atomic
// with respect to other transitions on the same job.
func (o *Orchestrator) transition(ctx context.Context, id string, from, to types.JobState) bool {
	job, err := o.store.Get(ctx, id)
	if err != nil {
		o.logger.Error("transition: load job failed", "job_id", id, "error", err)
		return false
	}
	if job.State != from {
		return false
	}
	job.State = to
	if isTerminal(to) {
		now := time.Now()
		job.EndedAt = &now
	}
	if err := o.store.Update(ctx, job); err != nil {
		o.logger.Error("transition: persist job failed", "job_id", id, "error", err)
		return false
	}
	return true
}

func isTerminal(s types.JobState) bool {
	switch s {
	case types.JobCompleted, types.JobFailed, types.JobCancelled:
		return true
	default:
		return false
	}
}

// logEvent appends one job-log record, swallowing write failures to a
// warning log rather than surfacing them to the caller — a lost log line
// must never fail the job it describes.
func (o *Orchestrator) logEvent(jobID, event string, fields map[string]any) {
	if o.log == nil {
		return
	}
	err := o.log.Append(jobID, types.LogEvent{
		Timestamp: time.Now(),
		Event:     event,
		Fields:    fields,
	})
	if err != nil {
		o.logger.Warn("job log append failed", "job_id", jobID, "event", event, "error", err)
	}
}

// wrapExtract logs url.processing/url.success/url.failed around the job's
// registered Extractor, the only point in the Batch Processor's pipeline
// where individual URLs are visible to the orchestrator. Item-level failures
// that never reach extraction (exhausted retries, validation rejections) get
// no job-log line; they appear only in the batch result's ErrorReport.
func wrapExtract(o *Orchestrator, jobID string, inner batch.Extractor) batch.Extractor {
	return func(url string, resp *types.Response) (*types.Record, error) {
		o.logEvent(jobID, types.EventURLProcessing, map[string]any{"url": url})
		record, err := inner(url, resp)
		if err != nil {
			o.logEvent(jobID, types.EventURLFailed, map[string]any{"url": url, "error": err.Error()})
			return nil, err
		}
		o.logEvent(jobID, types.EventURLSuccess, map[string]any{"url": url})
		return record, nil
	}
}

func errUnknownMode(mode string) error {
	return fmt.Errorf("%w: unknown mode %q", types.ErrValidation, mode)
}
