package runner

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"tickd/internal/schedule"
)

// Handler is an in-process job implementation.
type Handler func(ctx context.Context) error

// Func dispatches jobs without a command line to registered handlers, keyed
// by job name.
type Func struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewFunc() *Func {
	return &Func{handlers: map[string]Handler{}}
}

// Register binds a handler to a job name. Later registrations replace earlier
// ones.
func (f *Func) Register(name string, h Handler) {
	if name == "" || h == nil {
		return
	}
	f.mu.Lock()
	f.handlers[name] = h
	f.mu.Unlock()
}

// Has reports whether a handler is registered for name. The app layer uses
// this to fail startup on command-less jobs with no handler.
func (f *Func) Has(name string) bool {
	f.mu.RLock()
	_, ok := f.handlers[name]
	f.mu.RUnlock()
	return ok
}

// Names returns registered handler names, sorted.
func (f *Func) Names() []string {
	f.mu.RLock()
	names := make([]string, 0, len(f.handlers))
	for n := range f.handlers {
		names = append(names, n)
	}
	f.mu.RUnlock()
	sort.Strings(names)
	return names
}

func (f *Func) Execute(ctx context.Context, job *schedule.Job, runID string) error {
	if job == nil {
		return fmt.Errorf("nil job")
	}
	f.mu.RLock()
	h := f.handlers[job.Name]
	f.mu.RUnlock()
	if h == nil {
		return fmt.Errorf("job %q: no handler registered", job.Name)
	}
	return h(ctx)
}
