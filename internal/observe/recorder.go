// Package observe consumes the dispatcher's bus events and turns them into
// operator-facing signals: persisted run history, prometheus metrics, and an
// optional debug HTTP server.
package observe

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"tickd/internal/dispatch"
	"tickd/internal/eventbus"
	"tickd/internal/storage"
	logx "tickd/pkg/logx"
)

// Recorder subscribes to run lifecycle events and appends terminal records
// to storage, best-effort. It feeds the metrics collectors from the same
// subscription so both sinks see an identical stream.
//
// The subscription is taken at construction, so events published between
// wiring and Run are buffered rather than lost. Run it under the app
// supervisor; it owns no goroutines of its own.
type Recorder struct {
	log     logx.Logger
	store   storage.Store // nil disables persistence
	metrics *Metrics      // nil disables metrics

	ch    <-chan eventbus.Event
	unsub func()

	warn *rate.Limiter

	// inflight tracks run IDs between their dispatched and terminal events,
	// so skips that never dispatched cannot push the gauge below zero.
	// Touched only by the Run goroutine.
	inflight map[string]struct{}
}

func NewRecorder(log logx.Logger, bus eventbus.Bus, store storage.Store, metrics *Metrics) *Recorder {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Recorder{
		log:      log,
		store:    store,
		metrics:  metrics,
		warn:     rate.NewLimiter(rate.Every(10*time.Second), 1),
		inflight: make(map[string]struct{}),
	}
	r.ch, r.unsub = bus.Subscribe(128)
	return r
}

// Run consumes events until ctx is done. The subscription is dropped on
// exit.
func (r *Recorder) Run(ctx context.Context) error {
	defer r.unsub()
	for {
		select {
		case <-ctx.Done():
			r.drain(r.ch)
			return ctx.Err()
		case ev, ok := <-r.ch:
			if !ok {
				return nil
			}
			r.handle(ctx, ev)
		}
	}
}

// drain handles events already delivered to the subscription when Run's
// context is canceled, so records from the shutdown drain window still reach
// storage. Bounded by a fresh short deadline since ctx is gone.
func (r *Recorder) drain(ch <-chan eventbus.Event) {
	dctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			r.handle(dctx, ev)
		default:
			return
		}
	}
}

func (r *Recorder) handle(ctx context.Context, ev eventbus.Event) {
	switch ev.Type {
	case dispatch.EventTick:
		if r.metrics != nil {
			r.metrics.ticks.Inc()
		}
	case dispatch.EventDispatched:
		rec, ok := ev.Data.(dispatch.RunRecord)
		if !ok {
			return
		}
		r.inflight[rec.ID] = struct{}{}
		if r.metrics != nil {
			r.metrics.inflight.Inc()
		}
	case dispatch.EventFinished, dispatch.EventFailed, dispatch.EventSkipped:
		rec, ok := ev.Data.(dispatch.RunRecord)
		if !ok {
			return
		}
		r.terminal(ctx, rec, ev.Type)
	}
}

func (r *Recorder) terminal(ctx context.Context, rec dispatch.RunRecord, evType string) {
	if _, dispatched := r.inflight[rec.ID]; dispatched {
		delete(r.inflight, rec.ID)
		if r.metrics != nil {
			r.metrics.inflight.Dec()
		}
	}

	if r.metrics != nil {
		r.metrics.runs.WithLabelValues(rec.Job, string(rec.Outcome)).Inc()
		// Skips carry no meaningful duration.
		if evType != dispatch.EventSkipped {
			r.metrics.duration.WithLabelValues(rec.Job).Observe(rec.Duration.Seconds())
		}
	}

	if r.store == nil {
		return
	}
	entry := storage.RunEntry{
		RunID:      rec.ID,
		Job:        rec.Job,
		Tier:       rec.Tier,
		At:         rec.Started,
		Outcome:    string(rec.Outcome),
		DurationMS: rec.Duration.Milliseconds(),
		Attempts:   rec.Attempts,
		Error:      rec.Error,
	}
	wctx, cancel := context.WithTimeout(ctx, 250*time.Millisecond)
	err := r.store.AppendRun(wctx, entry)
	cancel()
	if err != nil && ctx.Err() == nil && r.warn.Allow() {
		r.log.Warn("run record not persisted", logx.String("job", rec.Job), logx.Err(err))
	}
}
