// Package runner executes scheduled jobs. The dispatcher decides when a job
// fires; runners decide how the work itself happens (subprocess or in-process
// handler).
package runner

import (
	"context"
	"fmt"

	"tickd/internal/schedule"
)

// Runner executes one job run. Implementations must honor ctx cancellation;
// the engine applies per-run timeouts on top.
type Runner interface {
	Execute(ctx context.Context, job *schedule.Job, runID string) error
}

// Mux routes jobs with a command line to the exec runner and the rest to
// registered in-process handlers.
type Mux struct {
	Exec  *Exec
	Funcs *Func
}

func NewMux(exec *Exec, funcs *Func) *Mux {
	return &Mux{Exec: exec, Funcs: funcs}
}

func (m *Mux) Execute(ctx context.Context, job *schedule.Job, runID string) error {
	if job == nil {
		return fmt.Errorf("nil job")
	}
	if len(job.Command) > 0 {
		if m.Exec == nil {
			return fmt.Errorf("job %q: no exec runner configured", job.Name)
		}
		return m.Exec.Execute(ctx, job, runID)
	}
	if m.Funcs == nil {
		return fmt.Errorf("job %q: no handler runner configured", job.Name)
	}
	return m.Funcs.Execute(ctx, job, runID)
}
