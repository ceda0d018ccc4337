package core

import (
	"sort"
	"sync"
)

// Registry is the in-memory live view of active jobs. Every read and write of
// a job's fields happens under its single lock, and callers only ever see
// copies.
type Registry struct {
	mu   sync.Mutex
	jobs map[int64]*Job
}

func NewRegistry() *Registry {
	return &Registry{jobs: make(map[int64]*Job)}
}

func (r *Registry) Add(job *Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobs[job.ID]; exists {
		return ErrDuplicateJob
	}
	j := *job
	r.jobs[job.ID] = &j
	return nil
}

func (r *Registry) Get(id int64) (Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *j, true
}

// Update runs fn on the job while holding the registry lock. fn receives a
// working copy; the copy replaces the stored job only when fn returns nil
// and any status change it made is a legal transition. fn must not call the
// printer service.
func (r *Registry) Update(id int64, fn func(j *Job) error) (Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.jobs[id]
	if !ok {
		return Job{}, ErrJobNotFound
	}

	next := *cur
	if err := fn(&next); err != nil {
		return *cur, err
	}
	if next.Status != cur.Status && !cur.Status.CanTransition(next.Status) {
		return *cur, ErrInvalidTransition
	}
	if cur.CancelRequested && !next.CancelRequested {
		return *cur, ErrInvalidTransition
	}

	*cur = next
	return next, nil
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

// List returns copies of all registered jobs ordered by id.
func (r *Registry) List() []Job {
	r.mu.Lock()
	defer r.mu.Unlock()

	jobs := make([]Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		jobs = append(jobs, *j)
	}
	sort.Slice(jobs, func(i, k int) bool {
		return jobs[i].ID < jobs[k].ID
	})
	return jobs
}
