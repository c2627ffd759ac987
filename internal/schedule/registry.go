package schedule

import (
	"errors"
	"fmt"
	"strings"

	"tickd/internal/cadence"
)

// ErrDuplicateJob reports a second registration under an existing job name.
// Registration errors are fatal: the scheduler refuses to start with an
// ambiguous schedule.
var ErrDuplicateJob = errors.New("duplicate job name")

// Registry is an insertion-ordered job set with unique names. It is built
// during startup and read-only afterwards, so it carries no lock.
type Registry struct {
	jobs   []*Job
	byName map[string]*Job
}

func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Job)}
}

// Register validates and adds a job. The job name is trimmed; an empty name,
// an invalid cadence, or a name collision fails the registration.
func (r *Registry) Register(j *Job) error {
	if j == nil {
		return errors.New("register: nil job")
	}
	name := strings.TrimSpace(j.Name)
	if name == "" {
		return errors.New("register: job name required")
	}
	j.Name = name
	if !j.Cadence.Valid() {
		return fmt.Errorf("job %q: %w", name, cadence.ErrInvalidCadence)
	}
	if j.Tier == "" {
		j.Tier = TierCommon
	}
	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("job %q: %w", name, ErrDuplicateJob)
	}
	r.byName[name] = j
	r.jobs = append(r.jobs, j)
	return nil
}

// Jobs returns every registered job in registration order. The slice is a
// copy; the jobs are not.
func (r *Registry) Jobs() []*Job {
	out := make([]*Job, len(r.jobs))
	copy(out, r.jobs)
	return out
}

// Get returns the job registered under name.
func (r *Registry) Get(name string) (*Job, bool) {
	j, ok := r.byName[name]
	return j, ok
}

// Len returns the number of registered jobs.
func (r *Registry) Len() int { return len(r.jobs) }

// HasTier reports whether any job was registered under t.
func (r *Registry) HasTier(t Tier) bool {
	for _, j := range r.jobs {
		if j.Tier == t {
			return true
		}
	}
	return false
}

// JobsForTier returns the union of the common tier and t: common jobs first,
// then t's jobs, each group in registration order.
func (r *Registry) JobsForTier(t Tier) []*Job {
	out := make([]*Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		if j.Tier == TierCommon {
			out = append(out, j)
		}
	}
	if t != TierCommon {
		for _, j := range r.jobs {
			if j.Tier == t {
				out = append(out, j)
			}
		}
	}
	return out
}
