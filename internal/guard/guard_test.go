package guard

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"tickd/internal/storage"
	logx "tickd/pkg/logx"
)

// memStore is an in-memory storage.Store for observing lock mirroring.
type memStore struct {
	mu    sync.Mutex
	locks map[string]storage.LockEntry
}

func newMemStore() *memStore {
	return &memStore{locks: map[string]storage.LockEntry{}}
}

func (m *memStore) PersistLock(_ context.Context, e storage.LockEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locks[e.Name] = e
	return nil
}

func (m *memStore) ClearLock(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locks, name)
	return nil
}

func (m *memStore) LoadLocks(_ context.Context) ([]storage.LockEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]storage.LockEntry, 0, len(m.locks))
	for _, e := range m.locks {
		out = append(out, e)
	}
	return out, nil
}

func (m *memStore) AppendRun(context.Context, storage.RunEntry) error { return nil }
func (m *memStore) RecentRuns(context.Context, int) ([]storage.RunEntry, error) {
	return nil, nil
}
func (m *memStore) Close() error { return nil }

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}

func TestTryAcquireExactlyOneWinner(t *testing.T) {
	t.Parallel()

	g := New(logx.Nop())

	const n = 64
	var wins atomic.Int32
	var start, done sync.WaitGroup
	start.Add(1)
	done.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer done.Done()
			start.Wait()
			if g.TryAcquire("backup", "r-1") {
				wins.Add(1)
			}
		}()
	}
	start.Done()
	done.Wait()

	if got := wins.Load(); got != 1 {
		t.Fatalf("%d of %d goroutines acquired the lock, want exactly 1", got, n)
	}
	if _, held := g.Held("backup"); !held {
		t.Fatal("lock not reported held after acquisition")
	}
}

func TestReleaseAllowsReacquire(t *testing.T) {
	t.Parallel()

	g := New(logx.Nop())
	if !g.TryAcquire("report", "r-1") {
		t.Fatal("first acquire failed")
	}
	if g.TryAcquire("report", "r-2") {
		t.Fatal("second acquire succeeded while held")
	}
	g.Release("report")
	if _, held := g.Held("report"); held {
		t.Fatal("lock still held after release")
	}
	if !g.TryAcquire("report", "r-3") {
		t.Fatal("reacquire after release failed")
	}
}

func TestReleaseIdempotent(t *testing.T) {
	t.Parallel()

	g := New(logx.Nop())
	g.Release("never-acquired")
	if !g.TryAcquire("job", "r-1") {
		t.Fatal("acquire failed")
	}
	g.Release("job")
	g.Release("job")
	if !g.TryAcquire("job", "r-2") {
		t.Fatal("reacquire after double release failed")
	}
}

func TestLocksAreIndependent(t *testing.T) {
	t.Parallel()

	g := New(logx.Nop())
	if !g.TryAcquire("a", "r-1") {
		t.Fatal("acquire a failed")
	}
	if !g.TryAcquire("b", "r-2") {
		t.Fatal("holding a blocked acquiring b")
	}
	names := g.HeldNames()
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Fatalf("HeldNames = %v", names)
	}
}

func TestStoreMirroring(t *testing.T) {
	t.Parallel()

	st := newMemStore()
	g := New(logx.Nop(), WithStore(st))

	if !g.TryAcquire("backup", "r-9") {
		t.Fatal("acquire failed")
	}
	if st.count() != 1 {
		t.Fatalf("store holds %d locks after acquire, want 1", st.count())
	}
	g.Release("backup")
	if st.count() != 0 {
		t.Fatalf("store holds %d locks after release, want 0", st.count())
	}
}

func TestForceReleaseAll(t *testing.T) {
	t.Parallel()

	st := newMemStore()
	g := New(logx.Nop(), WithStore(st))
	for _, name := range []string{"c", "a", "b"} {
		if !g.TryAcquire(name, "r-"+name) {
			t.Fatalf("acquire %s failed", name)
		}
	}

	freed := g.ForceReleaseAll()
	if len(freed) != 3 || freed[0] != "a" || freed[1] != "b" || freed[2] != "c" {
		t.Fatalf("ForceReleaseAll = %v, want sorted a b c", freed)
	}
	if len(g.HeldNames()) != 0 {
		t.Fatalf("locks still held: %v", g.HeldNames())
	}
	if st.count() != 0 {
		t.Fatalf("store still holds %d locks", st.count())
	}
	if !g.TryAcquire("a", "r-next") {
		t.Fatal("acquire after force release failed")
	}
}

func TestRestoreClearsStaleLocks(t *testing.T) {
	t.Parallel()

	st := newMemStore()
	// A previous process died holding these.
	_ = st.PersistLock(context.Background(), storage.LockEntry{
		Name: "backup", RunID: "r-dead", Since: time.Now().Add(-2 * time.Hour),
	})
	_ = st.PersistLock(context.Background(), storage.LockEntry{
		Name: "report", RunID: "r-gone", Since: time.Now().Add(-10 * time.Minute),
	})

	g := New(logx.Nop(), WithStore(st))
	if err := g.Restore(context.Background()); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if st.count() != 0 {
		t.Fatalf("stale locks not cleared: %d left", st.count())
	}
	// The current process starts unlocked.
	if !g.TryAcquire("backup", "r-new") {
		t.Fatal("stale lock still blocks acquisition")
	}
}

func TestRestoreWithoutStore(t *testing.T) {
	t.Parallel()

	g := New(logx.Nop())
	if err := g.Restore(context.Background()); err != nil {
		t.Fatalf("Restore without store: %v", err)
	}
}
