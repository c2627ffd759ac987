// Package dispatch owns the tick loop: every minute it evaluates the composed
// registry against the wall clock, applies overlap policy, and hands due jobs
// to the engine. It is the only writer of run records.
package dispatch

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"tickd/internal/engine"
	"tickd/internal/eventbus"
	"tickd/internal/guard"
	"tickd/internal/runner"
	"tickd/internal/schedule"
	logx "tickd/pkg/logx"
)

type Dispatcher struct {
	cfg Config
	log logx.Logger
	bus eventbus.Bus
	reg *schedule.Registry
	eng *engine.Service
	grd *guard.Guard
	run runner.Runner

	now   func() time.Time
	newID func() string

	mu       sync.Mutex
	lastRun  map[string]time.Time
	lastTick time.Time
	ticks    uint64
	outcomes map[Outcome]uint64
	inflight map[string]RunRecord
	history  []RunRecord
}

type Option func(*Dispatcher)

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// WithIDGenerator overrides run ID generation (tests).
func WithIDGenerator(gen func() string) Option {
	return func(d *Dispatcher) {
		if gen != nil {
			d.newID = gen
		}
	}
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus, reg *schedule.Registry, eng *engine.Service, grd *guard.Guard, run runner.Runner, opts ...Option) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	d := &Dispatcher{
		cfg:      cfg.withDefaults(),
		log:      log,
		bus:      bus,
		reg:      reg,
		eng:      eng,
		grd:      grd,
		run:      run,
		now:      time.Now,
		newID:    uuid.NewString,
		lastRun:  map[string]time.Time{},
		outcomes: map[Outcome]uint64{},
		inflight: map[string]RunRecord{},
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Run ticks at TickEvery boundaries until ctx is canceled. Evaluation uses
// the wall clock, not an accumulated schedule: a missed boundary (suspend,
// clock jump, long pause) fires at most one run per job when ticking resumes,
// never a backlog.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.log.Info("dispatcher started", logx.Int("jobs", d.reg.Len()), logx.Duration("tick", d.cfg.TickEvery))
	for {
		now := d.now()
		next := now.Truncate(d.cfg.TickEvery).Add(d.cfg.TickEvery)
		tmr := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			if !tmr.Stop() {
				<-tmr.C
			}
			d.log.Info("dispatcher stopped")
			return ctx.Err()
		case <-tmr.C:
		}
		d.Tick(ctx, d.now())
	}
}

// Tick evaluates every job once against now. Exported so one-shot mode and
// tests can drive the dispatcher without the wall-clock loop.
func (d *Dispatcher) Tick(ctx context.Context, now time.Time) TickStats {
	jobs := d.reg.Jobs()
	stats := TickStats{At: now, Jobs: len(jobs)}

	for _, job := range jobs {
		if ctx.Err() != nil {
			break
		}
		d.mu.Lock()
		last := d.lastRun[job.Name]
		d.mu.Unlock()

		if !job.Due(now, last) {
			continue
		}
		stats.Due++

		// The slot is consumed as soon as the job is due: overlap and capacity
		// skips count as this minute's occurrence, so a blocked interval job
		// does not re-fire on every following tick.
		d.mu.Lock()
		d.lastRun[job.Name] = now
		d.mu.Unlock()

		if d.dispatchOne(job, now) {
			stats.Dispatched++
		} else {
			stats.Skipped++
		}
	}

	d.mu.Lock()
	d.ticks++
	d.lastTick = now
	d.mu.Unlock()

	if d.bus != nil {
		d.bus.Publish(eventbus.Event{Type: EventTick, Time: now, Data: stats})
	}
	if stats.Due > 0 {
		d.log.Debug("tick", logx.Time("at", now), logx.Int("due", stats.Due), logx.Int("dispatched", stats.Dispatched), logx.Int("skipped", stats.Skipped))
	}
	return stats
}

func (d *Dispatcher) dispatchOne(job *schedule.Job, now time.Time) bool {
	rec := RunRecord{
		ID:      d.newID(),
		Job:     job.Name,
		Tier:    string(job.Tier),
		Started: now,
	}

	held := job.Overlap == schedule.OverlapSkipIfRunning
	if held && !d.grd.TryAcquire(job.Name, rec.ID) {
		rec.Outcome = OutcomeSkippedOverlap
		rec.Finished = now
		d.record(rec, EventSkipped)
		d.log.Debug("run skipped: previous run still holds the overlap lock", logx.String("job", job.Name), logx.String("run_id", rec.ID))
		return false
	}

	err := d.eng.Submit(engine.Task{
		ID:       rec.ID,
		Name:     job.Name,
		Timeout:  job.Timeout,
		RetryMax: job.RetryMax,
		Run: func(runCtx context.Context) error {
			return d.run.Execute(runCtx, job, rec.ID)
		},
		Done: func(res engine.Result) {
			d.finish(job, rec, held, res)
		},
	})
	if err != nil {
		if held {
			d.grd.Release(job.Name)
		}
		rec.Outcome = OutcomeSkippedCapacity
		rec.Finished = now
		rec.Error = err.Error()
		d.record(rec, EventSkipped)
		d.log.Debug("run skipped: engine rejected the task", logx.String("job", job.Name), logx.String("run_id", rec.ID), logx.Any("err", err))
		return false
	}

	d.mu.Lock()
	d.inflight[rec.ID] = rec
	d.mu.Unlock()
	if d.bus != nil {
		d.bus.Publish(eventbus.Event{Type: EventDispatched, Time: now, Data: rec})
	}
	return true
}

// finish runs on a worker goroutine for every accepted task, including stale
// drops and engine shutdown.
func (d *Dispatcher) finish(job *schedule.Job, rec RunRecord, held bool, res engine.Result) {
	if held {
		d.grd.Release(job.Name)
	}

	rec.Finished = res.Started.Add(res.Duration)
	rec.Attempts = res.Attempts
	rec.Duration = res.Duration

	evType := EventFinished
	switch {
	case res.Stale, res.Err != nil && res.Attempts == 0:
		// Dropped without an attempt: stale in queue, or the engine shut down
		// before a worker picked the task up. The slot was consumed either way.
		rec.Outcome = OutcomeSkippedCapacity
		rec.Error = res.Err.Error()
		evType = EventSkipped
	case res.Err != nil:
		rec.Outcome = OutcomeFailure
		rec.Error = res.Err.Error()
		evType = EventFailed
	default:
		rec.Outcome = OutcomeSuccess
	}

	d.mu.Lock()
	delete(d.inflight, rec.ID)
	d.mu.Unlock()
	d.record(rec, evType)

	switch rec.Outcome {
	case OutcomeFailure:
		d.log.Warn("run failed", logx.String("job", job.Name), logx.String("run_id", rec.ID), logx.Int("attempts", rec.Attempts), logx.Duration("dur", rec.Duration), logx.String("err", rec.Error))
	case OutcomeSuccess:
		d.log.Debug("run finished", logx.String("job", job.Name), logx.String("run_id", rec.ID), logx.Duration("dur", rec.Duration))
	}
}

func (d *Dispatcher) record(rec RunRecord, evType string) {
	d.mu.Lock()
	d.outcomes[rec.Outcome]++
	d.history = append(d.history, rec)
	if len(d.history) > d.cfg.HistorySize {
		d.history = d.history[len(d.history)-d.cfg.HistorySize:]
	}
	d.mu.Unlock()

	if d.bus != nil {
		d.bus.Publish(eventbus.Event{Type: evType, Time: rec.Finished, Data: rec})
	}
}

// Shutdown drains in-flight runs, bounded by DrainTimeout, then force-releases
// any overlap locks still held. Callers must cancel Run's context first so no
// new ticks dispatch during the drain.
func (d *Dispatcher) Shutdown(ctx context.Context) {
	drainCtx, cancel := context.WithTimeout(ctx, d.cfg.DrainTimeout)
	defer cancel()
	d.eng.Stop(drainCtx)

	if leaked := d.grd.ForceReleaseAll(); len(leaked) > 0 {
		d.log.Warn("shutdown: force-released overlap locks", logx.Any("jobs", leaked))
	}
}

// DrainTimeout reports the effective shutdown drain bound.
func (d *Dispatcher) DrainTimeout() time.Duration { return d.cfg.DrainTimeout }

// History returns the most recent run records, newest first.
func (d *Dispatcher) History(limit int) []RunRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := len(d.history)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]RunRecord, 0, n)
	for i := len(d.history) - 1; i >= len(d.history)-n; i-- {
		out = append(out, d.history[i])
	}
	return out
}

func (d *Dispatcher) Snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	snap := Snapshot{
		Jobs:     d.reg.Len(),
		Ticks:    d.ticks,
		LastTick: d.lastTick,
		LastRun:  make(map[string]time.Time, len(d.lastRun)),
		Outcomes: make(map[Outcome]uint64, len(d.outcomes)),
	}
	for k, v := range d.lastRun {
		snap.LastRun[k] = v
	}
	for k, v := range d.outcomes {
		snap.Outcomes[k] = v
	}
	for _, rec := range d.inflight {
		snap.InFlight = append(snap.InFlight, rec.Job)
	}
	sort.Strings(snap.InFlight)
	return snap
}
