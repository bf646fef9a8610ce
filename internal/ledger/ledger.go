package ledger

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/SirClappington/valsync/internal/domain"
)

var ErrJobNotFound = errors.New("job not found")

// Writer is the part of the ledger a bulk run produces into. Writes never
// fail from the caller's point of view.
type Writer interface {
	AddJob(ctx context.Context, job domain.BackgroundJob)
	UpdateJob(ctx context.Context, id string, patch domain.JobPatch)
}

// Ledger adds the housekeeping reads and deletes the jobs panel uses.
type Ledger interface {
	Writer
	Get(ctx context.Context, id string) (domain.BackgroundJob, error)
	List(ctx context.Context) ([]domain.BackgroundJob, error)
	Remove(ctx context.Context, id string) error
	ClearTerminal(ctx context.Context) (int, error)
}

// Memory is a process-wide ledger kept in a map.
type Memory struct {
	mu   sync.RWMutex
	jobs map[string]*domain.BackgroundJob
	now  func() time.Time
}

func NewMemory() *Memory {
	return &Memory{jobs: make(map[string]*domain.BackgroundJob), now: time.Now}
}

// AddJob stores job with StartedAt set to now. A duplicate id replaces the
// previous entry.
func (m *Memory) AddJob(_ context.Context, job domain.BackgroundJob) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job.StartedAt = m.now()
	job.CompletedAt = nil
	if job.Status.Terminal() {
		t := job.StartedAt
		job.CompletedAt = &t
	}
	m.jobs[job.ID] = &job
}

func (m *Memory) UpdateJob(_ context.Context, id string, patch domain.JobPatch) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return
	}
	patch.Apply(j, m.now())
}

func (m *Memory) Get(_ context.Context, id string) (domain.BackgroundJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[id]
	if !ok {
		return domain.BackgroundJob{}, ErrJobNotFound
	}
	return *j, nil
}

// List returns copies of all jobs, newest first.
func (m *Memory) List(_ context.Context) ([]domain.BackgroundJob, error) {
	m.mu.RLock()
	out := make([]domain.BackgroundJob, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, *j)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(a, b int) bool {
		if out[a].StartedAt.Equal(out[b].StartedAt) {
			return out[a].ID > out[b].ID
		}
		return out[a].StartedAt.After(out[b].StartedAt)
	})
	return out, nil
}

func (m *Memory) Remove(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[id]; !ok {
		return ErrJobNotFound
	}
	delete(m.jobs, id)
	return nil
}

// ClearTerminal drops every completed or failed job and reports how many went.
func (m *Memory) ClearTerminal(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, j := range m.jobs {
		if j.Status.Terminal() {
			delete(m.jobs, id)
			n++
		}
	}
	return n, nil
}

var _ Ledger = (*Memory)(nil)
