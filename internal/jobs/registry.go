package jobs

import (
	"sort"
	"sync"

	"showcase/internal/domain"
)

// Registry maps job ids to their State. It is injected into the components
// that need it instead of living in a package-level variable.
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]*State
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{jobs: make(map[string]*State)}
}

// Add registers st under its id.
func (r *Registry) Add(st *State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[st.ID()]; exists {
		return ErrDuplicate
	}
	r.jobs[st.ID()] = st
	return nil
}

// Get returns the live State of a job.
func (r *Registry) Get(id string) (*State, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return st, nil
}

// Snapshot returns a copy of the job record.
func (r *Registry) Snapshot(id string) (domain.Job, error) {
	st, err := r.Get(id)
	if err != nil {
		return domain.Job{}, err
	}
	return st.Snapshot(), nil
}

// Remove evicts a job and returns its State.
func (r *Registry) Remove(id string) (*State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	delete(r.jobs, id)
	return st, nil
}

// List returns snapshots of every registered job, oldest first.
func (r *Registry) List() []domain.Job {
	r.mu.RLock()
	states := make([]*State, 0, len(r.jobs))
	for _, st := range r.jobs {
		states = append(states, st)
	}
	r.mu.RUnlock()

	out := make([]domain.Job, 0, len(states))
	for _, st := range states {
		out = append(out, st.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Len returns the number of registered jobs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}
