// Package guard serializes runs of no-overlap jobs with named in-process
// locks, optionally mirrored to storage so a restart can tell which runs
// died holding one.
package guard

import (
	"context"
	"sort"
	"sync"
	"time"

	"tickd/internal/storage"
	logx "tickd/pkg/logx"
)

const persistTimeout = 2 * time.Second

// Guard owns one lock per job name. Acquisition is an atomic check-and-set
// under a single mutex: of N concurrent callers for one name, exactly one
// wins. The durable mirror is best-effort and never blocks or fails an
// acquire decision.
type Guard struct {
	log   logx.Logger
	store storage.Store // nil disables the durable mirror
	now   func() time.Time

	mu    sync.Mutex
	locks map[string]*lockState
}

type lockState struct {
	held  bool
	runID string
	since time.Time
}

type Option func(*Guard)

// WithStore mirrors lock transitions into st.
func WithStore(st storage.Store) Option {
	return func(g *Guard) { g.store = st }
}

// WithClock overrides the clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(g *Guard) { g.now = now }
}

func New(log logx.Logger, opts ...Option) *Guard {
	if log.IsZero() {
		log = logx.Nop()
	}
	g := &Guard{
		log:   log,
		now:   time.Now,
		locks: map[string]*lockState{},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// TryAcquire claims the named lock. False means a run of that job is still
// in flight and the caller should skip the slot.
func (g *Guard) TryAcquire(name, runID string) bool {
	g.mu.Lock()
	st := g.locks[name]
	if st == nil {
		st = &lockState{}
		g.locks[name] = st
	}
	if st.held {
		g.mu.Unlock()
		return false
	}
	st.held = true
	st.runID = runID
	st.since = g.now()
	since := st.since
	g.mu.Unlock()

	g.persist(storage.LockEntry{Name: name, RunID: runID, Since: since})
	return true
}

// Release frees the named lock. Releasing an unheld lock is a no-op.
func (g *Guard) Release(name string) {
	g.mu.Lock()
	st := g.locks[name]
	if st == nil || !st.held {
		g.mu.Unlock()
		return
	}
	st.held = false
	st.runID = ""
	g.mu.Unlock()

	g.clear(name)
}

// Held reports whether the named lock is taken and since when.
func (g *Guard) Held(name string) (time.Time, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	st := g.locks[name]
	if st == nil || !st.held {
		return time.Time{}, false
	}
	return st.since, true
}

// HeldNames returns the names of all held locks, sorted.
func (g *Guard) HeldNames() []string {
	g.mu.Lock()
	var out []string
	for name, st := range g.locks {
		if st.held {
			out = append(out, name)
		}
	}
	g.mu.Unlock()
	sort.Strings(out)
	return out
}

// ForceReleaseAll frees every held lock and returns their names. Used after
// a drain timeout, when in-flight runs are abandoned to their cancelled
// contexts.
func (g *Guard) ForceReleaseAll() []string {
	now := g.now()

	g.mu.Lock()
	var freed []string
	ages := map[string]time.Duration{}
	for name, st := range g.locks {
		if !st.held {
			continue
		}
		st.held = false
		st.runID = ""
		freed = append(freed, name)
		ages[name] = now.Sub(st.since)
	}
	g.mu.Unlock()

	sort.Strings(freed)
	for _, name := range freed {
		g.log.Warn("overlap lock force-released",
			logx.String("job", name),
			logx.Duration("held_for", ages[name]),
		)
		g.clear(name)
	}
	return freed
}

// Restore inspects locks persisted by a previous process. Any found are
// stale (their runs died with the process), reported loudly, and cleared;
// the current process starts with every lock free.
func (g *Guard) Restore(ctx context.Context) error {
	if g.store == nil {
		return nil
	}
	entries, err := g.store.LoadLocks(ctx)
	if err != nil {
		return err
	}
	now := g.now()
	for _, e := range entries {
		g.log.Warn("stale overlap lock from previous run cleared",
			logx.String("job", e.Name),
			logx.String("run_id", e.RunID),
			logx.Duration("age", now.Sub(e.Since)),
		)
		if err := g.store.ClearLock(ctx, e.Name); err != nil {
			g.log.Warn("stale lock clear failed", logx.String("job", e.Name), logx.Err(err))
		}
	}
	return nil
}

func (g *Guard) persist(e storage.LockEntry) {
	if g.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := g.store.PersistLock(ctx, e); err != nil {
		g.log.Warn("lock persist failed", logx.String("job", e.Name), logx.Err(err))
	}
}

func (g *Guard) clear(name string) {
	if g.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := g.store.ClearLock(ctx, name); err != nil {
		g.log.Warn("lock clear failed", logx.String("job", name), logx.Err(err))
	}
}
