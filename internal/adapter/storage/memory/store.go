// Package memory provides an in-process JobStore for tests and one-off renders.
package memory

import (
	"fmt"
	"sort"
	"sync"

	"github.com/bnema/lapclock/internal/domain"
	"github.com/bnema/lapclock/internal/port"
)

// JobStore keeps jobs in memory. Reads return copies.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]domain.RenderJob
}

func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]domain.RenderJob)}
}

func (s *JobStore) Create(job *domain.RenderJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	s.jobs[job.ID] = *job
	return nil
}

func (s *JobStore) Update(job *domain.RenderJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; !exists {
		return domain.ErrNotFound
	}
	s.jobs[job.ID] = *job
	return nil
}

func (s *JobStore) Get(id string) (*domain.RenderJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &job, nil
}

// List returns jobs newest first.
func (s *JobStore) List() ([]*domain.RenderJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := s.collect(func(domain.RenderJob) bool { return true })
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// ListByStatus returns matching jobs oldest first.
func (s *JobStore) ListByStatus(statuses ...domain.JobStatus) ([]*domain.RenderJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	want := make(map[domain.JobStatus]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}
	out := s.collect(func(j domain.RenderJob) bool { return want[j.Status] })
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *JobStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.jobs, id)
	return nil
}

func (s *JobStore) collect(keep func(domain.RenderJob) bool) []*domain.RenderJob {
	ids := make([]string, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]*domain.RenderJob, 0, len(ids))
	for _, id := range ids {
		job := s.jobs[id]
		if keep(job) {
			out = append(out, &job)
		}
	}
	return out
}

var _ port.JobStore = (*JobStore)(nil)
