// Package joblog writes the append-only newline-delimited-JSON job log
// described in spec.md §6: one internal/types.LogEvent per line, one file
// per job, durable across process restarts.
//
// Grounded on the teacher's internal/engine/checkpoint.go CheckpointManager,
// adapted from a single-snapshot-rewritten-atomically file into an
// append-only sink: a checkpoint's invariant is "the file on disk is always
// a complete, valid snapshot", achieved by write-to-temp-then-rename; a job
// log's invariant is "every event that was durably observed stays on disk
// forever, in order", which instead calls for O_APPEND writes each
// followed by an fsync rather than a rename. The "never leave a
// half-written file behind" discipline is carried by writing one event as
// one atomic Write(2) call — encode to a buffer in memory first, then
// write the whole line at once.
package joblog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/scrapeforge/harvester/internal/types"
)

// Sink appends LogEvents to one ndjson file per job.
type Sink struct {
	dir string

	mu    sync.Mutex
	files map[string]*os.File
}

// NewSink returns a Sink that writes job logs under dir, creating dir if
// necessary.
func NewSink(dir string) (*Sink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create job log dir: %w", err)
	}
	return &Sink{dir: dir, files: make(map[string]*os.File)}, nil
}

// Append writes one event to jobId's log file, creating it on first use.
func (s *Sink) Append(jobID string, event types.LogEvent) error {
	event.JobID = jobID

	buf, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode log event: %w", err)
	}
	buf = append(buf, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.fileLocked(jobID)
	if err != nil {
		return err
	}
	if _, err := f.Write(buf); err != nil {
		return fmt.Errorf("write log event: %w", err)
	}
	return f.Sync()
}

func (s *Sink) fileLocked(jobID string) (*os.File, error) {
	if f, ok := s.files[jobID]; ok {
		return f, nil
	}
	path := filepath.Join(s.dir, jobID+".ndjson")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open job log %s: %w", path, err)
	}
	s.files[jobID] = f
	return f, nil
}

// Read replays jobId's full log in order, for debugging/export.
func (s *Sink) Read(jobID string) ([]types.LogEvent, error) {
	path := filepath.Join(s.dir, jobID+".ndjson")
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read job log %s: %w", path, err)
	}

	var events []types.LogEvent
	for _, line := range bytes.Split(raw, []byte("\n")) {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var ev types.LogEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			return nil, fmt.Errorf("decode job log line: %w", err)
		}
		events = append(events, ev)
	}
	return events, nil
}

// Close closes every open job log file handle.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for id, f := range s.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.files, id)
	}
	return firstErr
}

// CloseJob closes and releases the file handle for one job, without
// affecting other open handles. Safe to call after a job reaches a
// terminal state to bound the number of concurrently open files.
func (s *Sink) CloseJob(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.files[jobID]
	if !ok {
		return nil
	}
	delete(s.files, jobID)
	return f.Close()
}
