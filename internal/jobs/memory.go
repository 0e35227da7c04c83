package jobs

import (
	"context"
	"sort"
	"sync"

	"github.com/shipnotes/pkg/models"
)

// MemoryStore keeps jobs in process memory. Used by the CLI one-shot
// mode and tests; the API server runs on the Postgres store.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*models.AsyncJob
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*models.AsyncJob)}
}

func (s *MemoryStore) Create(ctx context.Context, job *models.AsyncJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *job
	s.jobs[job.ID] = &copied
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*models.AsyncJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	copied := *job
	return &copied, nil
}

func (s *MemoryStore) Update(ctx context.Context, job *models.AsyncJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; !ok {
		return ErrJobNotFound
	}
	copied := *job
	s.jobs[job.ID] = &copied
	return nil
}

func (s *MemoryStore) List(ctx context.Context, filter ListFilter) ([]*models.AsyncJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*models.AsyncJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		if filter.Type != nil && job.Type != *filter.Type {
			continue
		}
		if filter.Status != nil && job.Status != *filter.Status {
			continue
		}
		copied := *job
		result = append(result, &copied)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	return result, nil
}
