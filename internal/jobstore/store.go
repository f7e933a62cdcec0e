// Package jobstore persists Job Orchestrator state (spec.md §4.E), with an
// in-memory implementation for tests/single-process deployments and a
// MongoDB-backed one for durable multi-process deployments, selected by
// config.StorageConfig.Type the way the teacher's internal/storage package
// selects a Storage backend.
package jobstore

import (
	"context"
	"sync"

	"github.com/scrapeforge/harvester/internal/types"
)

// Store is the Job Orchestrator's persistence boundary.
type Store interface {
	Create(ctx context.Context, job *types.Job) error
	Get(ctx context.Context, id string) (*types.Job, error)
	Update(ctx context.Context, job *types.Job) error
	List(ctx context.Context) ([]*types.Job, error)
	Close() error
}

// MemStore is an in-memory Store, the default for single-process
// deployments and the implementation exercised by tests.
type MemStore struct {
	mu   sync.RWMutex
	jobs map[string]*types.Job
}

// NewMemStore builds an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{jobs: make(map[string]*types.Job)}
}

func (s *MemStore) Create(_ context.Context, job *types.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return types.ErrJobTerminal
	}
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

func (s *MemStore) Get(_ context.Context, id string) (*types.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, types.ErrJobNotFound
	}
	return cloneJob(job), nil
}

func (s *MemStore) Update(_ context.Context, job *types.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; !ok {
		return types.ErrJobNotFound
	}
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

func (s *MemStore) List(_ context.Context) ([]*types.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*types.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, cloneJob(job))
	}
	return out, nil
}

func (s *MemStore) Close() error { return nil }

// cloneJob copies the Job struct and its OriginalInput, so callers cannot
// change the store's own scalar fields or input. Result is a pointer and is
// shared with the store's copy, not cloned.
func cloneJob(job *types.Job) *types.Job {
	cp := *job
	cp.OriginalInput = job.OriginalInput.Clone()
	return &cp
}
