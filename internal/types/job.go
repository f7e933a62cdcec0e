package types

import (
	"time"
)

// ErrorCategory buckets a per-item failure for the Batch Processor's error
// report (spec.md §4.D).
type ErrorCategory string

const (
	CategoryNetwork            ErrorCategory = "network"
	CategoryTimeout            ErrorCategory = "timeout"
	CategoryRateLimitExhausted ErrorCategory = "rate-limit-exhausted"
	CategoryHTTP4xx            ErrorCategory = "http-4xx"
	CategoryHTTP5xx            ErrorCategory = "http-5xx"
	CategoryParse              ErrorCategory = "parse"
	CategoryValidation         ErrorCategory = "validation"
	CategoryBlocked            ErrorCategory = "blocked"
	CategoryUnknown            ErrorCategory = "unknown"
)

// ItemError is one sampled failure kept for diagnosis.
type ItemError struct {
	URL      string        `json:"url"`
	Host     string        `json:"host"`
	Category ErrorCategory `json:"category"`
	Message  string        `json:"message"`
	Attempts int           `json:"attempts"`
	At       time.Time     `json:"at"`
}

// ErrorReport aggregates per-item failures across a batch run.
type ErrorReport struct {
	ByCategory      map[ErrorCategory]int `json:"by_category"`
	ByHost          map[string]int        `json:"by_host"`
	Samples         []ItemError           `json:"samples"`
	Recommendations []string              `json:"recommendations"`
}

func NewErrorReport() *ErrorReport {
	return &ErrorReport{
		ByCategory: make(map[ErrorCategory]int),
		ByHost:     make(map[string]int),
	}
}

// BatchResult is the assembled output of one Batch Processor run.
type BatchResult struct {
	SourceURLs     []string      `json:"source_urls"`
	ProcessedURLs  []string      `json:"processed_urls"`
	DiscoveredURLs []string      `json:"discovered_urls"`
	Records        []*Record     `json:"records"`
	Truncated      int           `json:"truncated"`
	Duplicates     int           `json:"duplicates"`
	ErrorReport    *ErrorReport  `json:"error_report"`
	StartedAt      time.Time     `json:"started_at"`
	EndedAt        time.Time     `json:"ended_at"`
}

// JobState is the Job Orchestrator's lifecycle state (spec.md §4.E).
type JobState string

const (
	JobPending   JobState = "pending"
	JobRunning   JobState = "running"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
	JobCancelled JobState = "cancelled"
)

// JobInput is the immutable, mode-specific request a job was started with.
type JobInput struct {
	Mode string   `json:"mode"`
	URLs []string `json:"urls"`
}

// Clone returns a deep copy, used to build the job's immutable
// originalInput snapshot (spec.md §3 invariant: never mutates after creation).
func (i JobInput) Clone() JobInput {
	urls := make([]string, len(i.URLs))
	copy(urls, i.URLs)
	return JobInput{Mode: i.Mode, URLs: urls}
}

// Progress is the latest progress snapshot for a running job.
type Progress struct {
	Phase                string  `json:"phase"`
	Completed            int     `json:"completed"`
	Total                int     `json:"total"`
	Errors               int     `json:"errors"`
	Percentage           float64 `json:"percentage"`
	EstimatedRemainingMs int64   `json:"estimated_time_remaining_ms,omitempty"`
}

// Job is the orchestrator's view of one scrape run.
type Job struct {
	ID            string       `json:"id"`
	Mode          string       `json:"mode"`
	State         JobState     `json:"state"`
	OriginalInput JobInput     `json:"original_input"`
	Progress      Progress     `json:"progress"`
	StartedAt     time.Time    `json:"started_at"`
	EndedAt       *time.Time   `json:"ended_at,omitempty"`
	Result        *BatchResult `json:"result,omitempty"`
	Error         string       `json:"error,omitempty"`
}

// ProgressEvent is one entry in the append-only progress stream consumers
// subscribe to, replacing the teacher's callback-injection pattern per
// spec.md §9 ("Callback-based progress → channel/event stream").
type ProgressEvent struct {
	JobID     string    `json:"job_id"`
	Timestamp time.Time `json:"timestamp"`
	Progress  Progress  `json:"progress"`
}

// LogEvent is one newline-delimited-JSON record in the job log sink
// (spec.md §6 "Job log format").
type LogEvent struct {
	Timestamp time.Time      `json:"timestamp"`
	JobID     string         `json:"jobId"`
	Event     string         `json:"event"`
	Fields    map[string]any `json:"fields,omitempty"`
}

const (
	EventJobStarted    = "job.started"
	EventURLProcessing = "url.processing"
	EventURLSuccess    = "url.success"
	EventURLFailed     = "url.failed"
	EventJobCompleted  = "job.completed"
	EventJobFailed     = "job.failed"
	EventJobCancelled  = "job.cancelled"
)
