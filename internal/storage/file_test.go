package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	logx "tickd/pkg/logx"
)

func openTestStore(t *testing.T, dir string) Store {
	t.Helper()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "tickd.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if st == nil {
		t.Fatal("Open returned nil store for file driver")
	}
	return st
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()

	for _, driver := range []string{"", "none", "NONE "} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil || st != nil {
			t.Fatalf("Open(%q) = %v, %v; want nil, nil", driver, st, err)
		}
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()

	if _, err := Open(Config{Driver: "etcd"}, logx.Nop()); err == nil {
		t.Fatal("unknown driver accepted")
	}
}

func TestFileLockRoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	st := openTestStore(t, dir)
	ctx := context.Background()

	since := time.Now().Add(-time.Minute).Truncate(time.Millisecond)
	if err := st.PersistLock(ctx, LockEntry{Name: "backup", RunID: "r-1", Since: since}); err != nil {
		t.Fatalf("PersistLock: %v", err)
	}
	locks, err := st.LoadLocks(ctx)
	if err != nil {
		t.Fatalf("LoadLocks: %v", err)
	}
	if len(locks) != 1 || locks[0].Name != "backup" || locks[0].RunID != "r-1" {
		t.Fatalf("LoadLocks = %+v", locks)
	}

	if err := st.ClearLock(ctx, "backup"); err != nil {
		t.Fatalf("ClearLock: %v", err)
	}
	locks, err = st.LoadLocks(ctx)
	if err != nil {
		t.Fatalf("LoadLocks after clear: %v", err)
	}
	if len(locks) != 0 {
		t.Fatalf("lock survived clear: %+v", locks)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestFileLocksSurviveReopen(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ctx := context.Background()

	st := openTestStore(t, dir)
	if err := st.PersistLock(ctx, LockEntry{Name: "report", RunID: "r-7", Since: time.Now()}); err != nil {
		t.Fatalf("PersistLock: %v", err)
	}
	if err := st.PersistLock(ctx, LockEntry{Name: "gone", Since: time.Now()}); err != nil {
		t.Fatalf("PersistLock: %v", err)
	}
	if err := st.ClearLock(ctx, "gone"); err != nil {
		t.Fatalf("ClearLock: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// A crashed process leaves the journal behind; reopening replays it.
	st = openTestStore(t, dir)
	defer st.Close()
	locks, err := st.LoadLocks(ctx)
	if err != nil {
		t.Fatalf("LoadLocks: %v", err)
	}
	if len(locks) != 1 || locks[0].Name != "report" || locks[0].RunID != "r-7" {
		t.Fatalf("replayed locks = %+v", locks)
	}
}

func TestFileRunHistory(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	st := openTestStore(t, dir)
	defer st.Close()
	ctx := context.Background()

	for i, outcome := range []string{"success", "failure", "skipped-overlap"} {
		err := st.AppendRun(ctx, RunEntry{
			RunID:   "r-" + outcome,
			Job:     "backup",
			At:      time.Now().Add(time.Duration(i) * time.Minute),
			Outcome: outcome,
		})
		if err != nil {
			t.Fatalf("AppendRun: %v", err)
		}
	}

	runs, err := st.RecentRuns(ctx, 2)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("RecentRuns returned %d entries, want 2", len(runs))
	}
	// Newest first.
	if runs[0].Outcome != "skipped-overlap" || runs[1].Outcome != "failure" {
		t.Fatalf("RecentRuns order = %q, %q", runs[0].Outcome, runs[1].Outcome)
	}
}

func TestFileRunHistoryTrim(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ctx := context.Background()

	cfg := Config{Driver: "file", Path: filepath.Join(dir, "tickd.db"), KeepRuns: 10}
	st, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for i := 0; i < 50; i++ {
		if err := st.AppendRun(ctx, RunEntry{Job: "noisy", Outcome: "success", At: time.Now()}); err != nil {
			t.Fatalf("AppendRun: %v", err)
		}
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Reopen trims the history down to the retention cap.
	st, err = Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()
	runs, err := st.RecentRuns(ctx, 100)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if len(runs) != 10 {
		t.Fatalf("after trim: %d entries, want 10", len(runs))
	}
}
