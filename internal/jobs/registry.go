// SPDX-License-Identifier: MIT

package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ManuGH/v2d/internal/log"
)

// Registry stores job state. Implementations must be safe for concurrent use
// and must reject updates that violate the lifecycle state machine.
type Registry interface {
	// Create registers a new pending job for the given user and audio URL.
	Create(ctx context.Context, userID, audioURL string) (Job, error)
	// Get returns a snapshot of the job, or ErrNotFound.
	Get(ctx context.Context, jobID string) (Job, error)
	// Update applies the patch atomically, validating transitions. Returns
	// the updated snapshot, ErrNotFound, or ErrTerminal.
	Update(ctx context.Context, jobID string, p Patch) (Job, error)
}

// MemoryRegistry keeps jobs in process memory. State is lost on restart;
// clients re-upload, which matches the at-most-once pipeline semantics.
type MemoryRegistry struct {
	mu   sync.RWMutex
	jobs map[string]Job

	now func() time.Time
}

// NewMemoryRegistry returns an empty in-memory registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		jobs: make(map[string]Job),
		now:  time.Now,
	}
}

func (m *MemoryRegistry) Create(_ context.Context, userID, audioURL string) (Job, error) {
	now := m.now()
	job := Job{
		ID:        uuid.NewString(),
		UserID:    userID,
		Status:    StatusPending,
		Progress:  0,
		AudioURL:  audioURL,
		CreatedAt: now,
		UpdatedAt: now,
	}

	m.mu.Lock()
	m.jobs[job.ID] = job
	m.mu.Unlock()

	return job, nil
}

func (m *MemoryRegistry) Get(_ context.Context, jobID string) (Job, error) {
	m.mu.RLock()
	job, ok := m.jobs[jobID]
	m.mu.RUnlock()
	if !ok {
		return Job{}, ErrNotFound
	}
	return job, nil
}

func (m *MemoryRegistry) Update(_ context.Context, jobID string, p Patch) (Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return Job{}, ErrNotFound
	}
	next, err := job.apply(p, m.now())
	if err != nil {
		return Job{}, err
	}
	m.jobs[jobID] = next

	if next.Status != job.Status {
		logger := log.WithComponent("jobs.registry")
		logger.Debug().
			Str("event", "jobs.transition").
			Str(log.FieldJobID, jobID).
			Str(log.FieldOldStatus, string(job.Status)).
			Str(log.FieldNewStatus, string(next.Status)).
			Msg("job changed state")
	}
	return next, nil
}

// SweepTerminal removes terminal jobs whose last update is older than ttl.
// It returns the number of jobs removed.
func (m *MemoryRegistry) SweepTerminal(ttl time.Duration) int {
	cutoff := m.now().Add(-ttl)

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, job := range m.jobs {
		if job.Status.Terminal() && job.UpdatedAt.Before(cutoff) {
			delete(m.jobs, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked jobs.
func (m *MemoryRegistry) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.jobs)
}

// Janitor periodically sweeps expired terminal jobs from a MemoryRegistry.
type Janitor struct {
	registry *MemoryRegistry
	ttl      time.Duration
	interval time.Duration
}

// NewJanitor builds a janitor. A zero ttl disables sweeping entirely.
func NewJanitor(registry *MemoryRegistry, ttl, interval time.Duration) *Janitor {
	return &Janitor{registry: registry, ttl: ttl, interval: interval}
}

// Run sweeps on the configured interval until ctx is canceled.
func (j *Janitor) Run(ctx context.Context) {
	if j.ttl <= 0 {
		return
	}
	logger := log.WithComponent("jobs.janitor")
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := j.registry.SweepTerminal(j.ttl); n > 0 {
				logger.Debug().
					Str("event", "jobs.janitor.sweep").
					Int("removed", n).
					Msg("removed expired jobs")
			}
		}
	}
}
