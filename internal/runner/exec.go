package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"tickd/internal/schedule"
	logx "tickd/pkg/logx"
)

const (
	// maxCaptureBytes bounds how much combined output is kept per run.
	maxCaptureBytes = 32 * 1024

	envJob   = "TICKD_JOB"
	envRunID = "TICKD_RUN_ID"
	envTier  = "TICKD_TIER"
)

// Exec runs jobs as subprocesses. The child inherits the daemon environment
// plus TICKD_JOB, TICKD_RUN_ID, and TICKD_TIER; combined output is captured
// (bounded) and attached to failures.
type Exec struct {
	log logx.Logger

	// Dir, when set, is the working directory for every child process.
	Dir string
}

func NewExec(log logx.Logger) *Exec {
	return &Exec{log: log}
}

func (e *Exec) Execute(ctx context.Context, job *schedule.Job, runID string) error {
	if job == nil {
		return fmt.Errorf("nil job")
	}
	if len(job.Command) == 0 {
		return fmt.Errorf("job %q: empty command", job.Name)
	}

	cmd := exec.CommandContext(ctx, job.Command[0], job.Command[1:]...)
	cmd.Dir = e.Dir
	cmd.Env = buildEnv(os.Environ(), job, runID)
	// Grandchildren holding the output pipes must not stall Wait forever.
	cmd.WaitDelay = 5 * time.Second

	out := newCaptureBuffer(maxCaptureBytes)
	cmd.Stdout = out
	cmd.Stderr = out

	start := time.Now()
	e.log.Debug("job exec", logx.String("job", job.Name), logx.String("run_id", runID), logx.String("cmd", strings.Join(job.Command, " ")))

	err := cmd.Run()
	dur := time.Since(start)

	if err == nil {
		e.log.Debug("job exec finished", logx.String("job", job.Name), logx.Duration("dur", dur), logx.Int("output_bytes", out.Len()))
		return nil
	}

	if ctx.Err() != nil {
		return fmt.Errorf("command %q: %w", job.Command[0], ctx.Err())
	}

	var ee *exec.ExitError
	if errors.As(err, &ee) {
		if tail := out.Tail(); tail != "" {
			return fmt.Errorf("command %q: exit code %d: %s", job.Command[0], ee.ExitCode(), tail)
		}
		return fmt.Errorf("command %q: exit code %d", job.Command[0], ee.ExitCode())
	}
	return fmt.Errorf("command %q: %w", job.Command[0], err)
}

// buildEnv drops stale TICKD_* entries from base and appends the run's own.
func buildEnv(base []string, job *schedule.Job, runID string) []string {
	env := make([]string, 0, len(base)+3)
	for _, kv := range base {
		if strings.HasPrefix(kv, "TICKD_") {
			continue
		}
		env = append(env, kv)
	}
	env = append(env,
		envJob+"="+job.Name,
		envRunID+"="+runID,
		envTier+"="+string(job.Tier),
	)
	return env
}

// captureBuffer keeps the first max bytes written and counts the rest.
type captureBuffer struct {
	max     int
	buf     []byte
	skipped int
}

func newCaptureBuffer(max int) *captureBuffer {
	return &captureBuffer{max: max}
}

func (b *captureBuffer) Write(p []byte) (int, error) {
	room := b.max - len(b.buf)
	if room > 0 {
		n := len(p)
		if n > room {
			n = room
		}
		b.buf = append(b.buf, p[:n]...)
		b.skipped += len(p) - n
	} else {
		b.skipped += len(p)
	}
	return len(p), nil
}

func (b *captureBuffer) Len() int { return len(b.buf) }

// Tail renders the captured output as a single trimmed line suitable for
// embedding in an error message.
func (b *captureBuffer) Tail() string {
	s := strings.TrimSpace(string(b.buf))
	if s == "" {
		return ""
	}
	s = strings.ReplaceAll(s, "\n", " | ")
	if b.skipped > 0 {
		s += fmt.Sprintf(" [+%d bytes truncated]", b.skipped)
	}
	return s
}
