package runner

import (
	"context"
	"os/exec"
	"strings"
	"testing"
	"time"

	"tickd/internal/schedule"
	logx "tickd/pkg/logx"
)

func TestBuildEnv(t *testing.T) {
	t.Parallel()
	job := &schedule.Job{Name: "backup", Tier: "production"}
	base := []string{"PATH=/usr/bin", "TICKD_JOB=stale", "TICKD_RUN_ID=stale", "HOME=/root"}

	env := buildEnv(base, job, "run-1")

	got := map[string]string{}
	for _, kv := range env {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			t.Fatalf("malformed env entry %q", kv)
		}
		if prev, dup := got[k]; dup {
			t.Fatalf("duplicate env key %s (%q and %q)", k, prev, v)
		}
		got[k] = v
	}
	if got["TICKD_JOB"] != "backup" || got["TICKD_RUN_ID"] != "run-1" || got["TICKD_TIER"] != "production" {
		t.Fatalf("run env not injected: %v", got)
	}
	if got["PATH"] != "/usr/bin" || got["HOME"] != "/root" {
		t.Fatalf("base env not preserved: %v", got)
	}
}

func TestCaptureBufferTruncates(t *testing.T) {
	t.Parallel()
	b := newCaptureBuffer(8)
	if _, err := b.Write([]byte("hello ")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := b.Write([]byte("world and then some")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if b.Len() != 8 {
		t.Fatalf("len = %d, want 8", b.Len())
	}
	tail := b.Tail()
	if !strings.HasPrefix(tail, "hello wo") {
		t.Fatalf("tail = %q", tail)
	}
	if !strings.Contains(tail, "truncated") {
		t.Fatalf("tail missing truncation marker: %q", tail)
	}
}

func TestCaptureBufferTailFlattensNewlines(t *testing.T) {
	t.Parallel()
	b := newCaptureBuffer(64)
	b.Write([]byte("line one\nline two\n"))
	if got := b.Tail(); got != "line one | line two" {
		t.Fatalf("tail = %q", got)
	}
}

func TestMuxRoutes(t *testing.T) {
	t.Parallel()
	funcs := NewFunc()
	called := false
	funcs.Register("heartbeat", func(ctx context.Context) error {
		called = true
		return nil
	})
	m := NewMux(NewExec(logx.Nop()), funcs)

	job := &schedule.Job{Name: "heartbeat"}
	if err := m.Execute(context.Background(), job, "run-1"); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !called {
		t.Fatalf("handler not called")
	}

	if err := m.Execute(context.Background(), &schedule.Job{Name: "ghost"}, "run-2"); err == nil {
		t.Fatalf("expected error for unregistered handler")
	}
}

func TestFuncRegistry(t *testing.T) {
	t.Parallel()
	f := NewFunc()
	f.Register("b", func(ctx context.Context) error { return nil })
	f.Register("a", func(ctx context.Context) error { return nil })
	f.Register("", func(ctx context.Context) error { return nil })
	f.Register("nil", nil)

	if !f.Has("a") || !f.Has("b") {
		t.Fatalf("registered handlers missing")
	}
	if f.Has("") || f.Has("nil") {
		t.Fatalf("invalid registrations accepted")
	}
	if got := f.Names(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("Names() = %v", got)
	}
}

func TestExecRunsCommand(t *testing.T) {
	t.Parallel()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	e := NewExec(logx.Nop())
	job := &schedule.Job{
		Name:    "env-check",
		Tier:    "common",
		Command: []string{"sh", "-c", `test "$TICKD_JOB" = env-check && test -n "$TICKD_RUN_ID"`},
	}
	if err := e.Execute(context.Background(), job, "run-42"); err != nil {
		t.Fatalf("Execute: %v", err)
	}
}

func TestExecReportsExitCodeAndOutput(t *testing.T) {
	t.Parallel()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	e := NewExec(logx.Nop())
	job := &schedule.Job{
		Name:    "failing",
		Command: []string{"sh", "-c", "echo oops; exit 7"},
	}
	err := e.Execute(context.Background(), job, "run-7")
	if err == nil {
		t.Fatalf("expected failure")
	}
	if !strings.Contains(err.Error(), "exit code 7") {
		t.Fatalf("err = %v, want exit code 7", err)
	}
	if !strings.Contains(err.Error(), "oops") {
		t.Fatalf("err = %v, want captured output", err)
	}
}

func TestExecHonorsContext(t *testing.T) {
	t.Parallel()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	e := NewExec(logx.Nop())
	job := &schedule.Job{
		Name:    "sleeper",
		Command: []string{"sh", "-c", "sleep 30"},
	}
	start := time.Now()
	err := e.Execute(ctx, job, "run-ctx")
	if err == nil {
		t.Fatalf("expected context error")
	}
	if time.Since(start) > 10*time.Second {
		t.Fatalf("context cancellation did not interrupt the child")
	}
}
