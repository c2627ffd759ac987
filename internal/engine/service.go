package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	rtsup "tickd/internal/runtime/supervisor"
	logx "tickd/pkg/logx"
)

const warnThrottleEvery = 5 * time.Second

// Service runs submitted tasks on a fixed worker pool with per-attempt
// timeouts, bounded retries, and stale-queue dropping.
type Service struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger

	q chan queuedTask

	inFlight int32

	sup      *rtsup.Supervisor
	stopCh   chan struct{}
	stopDone chan struct{}

	idSeq uint64

	dropped          uint64
	droppedQueueFull uint64
	droppedStale     uint64

	queueFullWarn *rate.Limiter
	staleWarn     *rate.Limiter
}

type queuedTask struct {
	task       Task
	enqueuedAt time.Time
	timeout    time.Duration
}

func New(cfg Config, log logx.Logger) *Service {
	return &Service{
		cfg:           cfg.withDefaults(),
		log:           log,
		queueFullWarn: rate.NewLimiter(rate.Every(warnThrottleEvery), 1),
		staleWarn:     rate.NewLimiter(rate.Every(warnThrottleEvery), 1),
	}
}

// Supervisor returns the engine's internal supervisor (nil if not started).
// This is used for operational visibility (e.g. /healthz).
func (s *Service) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	sup := s.sup
	s.mu.Unlock()
	return sup
}

func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	cfg := s.cfg

	// Start is idempotent.
	if s.stopCh != nil {
		// If stopping, wait for it to finish before restarting.
		done := s.stopDone
		s.mu.Unlock()
		if done != nil {
			select {
			case <-done:
			case <-ctx.Done():
				return
			}
		} else {
			return
		}
		s.mu.Lock()
		// Re-check after wait.
		if s.stopCh != nil {
			s.mu.Unlock()
			return
		}
	}

	s.q = make(chan queuedTask, cfg.QueueSize)
	s.stopCh = make(chan struct{})
	s.stopDone = nil
	stopCh := s.stopCh
	queue := s.q
	workers := cfg.Workers

	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log.With(logx.String("comp", "engine"))),
		// Pool failures should not hard-kill the process.
		rtsup.WithCancelOnError(false),
	)
	sup := s.sup
	s.mu.Unlock()

	for i := 0; i < workers; i++ {
		idx := i
		name := fmt.Sprintf("worker.%d", idx)
		// Auto-restart workers if they panic or exit unexpectedly.
		sup.GoRestart(name, func(c context.Context) error {
			s.worker(c, stopCh, queue, idx)
			// Clean exits happen only on shutdown.
			select {
			case <-stopCh:
				return context.Canceled
			default:
			}
			if c.Err() != nil {
				return c.Err()
			}
			return errors.New("worker exited unexpectedly")
		},
			rtsup.WithPublishFirstError(true),
		)
	}

	s.log.Info("engine started", logx.Int("workers", workers), logx.Int("queue", cap(queue)))
}

func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	// If already stopping, wait.
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}

	done := make(chan struct{})
	s.stopDone = done
	close(s.stopCh)
	sup := s.sup
	queue := s.q
	s.mu.Unlock()

	go func() {
		// Workers exit after their current task; in-flight runs keep their own
		// timeouts. Queued tasks are failed so Done fires exactly once.
		if sup != nil {
			_ = sup.Wait(context.Background())
		}
		s.failPending(queue)
		s.mu.Lock()
		s.q = nil
		s.stopCh = nil
		s.stopDone = nil
		s.sup = nil
		s.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("engine stopped")
	case <-ctx.Done():
		// Drain window is over: cancel the worker context so in-flight runs
		// abort, then wait for teardown to finish.
		s.log.Warn("engine drain timed out; canceling in-flight runs", logx.Any("err", ctx.Err()))
		if sup != nil {
			sup.Cancel()
		}
		<-done
	}
}

// failPending completes tasks still queued at shutdown so every accepted task
// observes exactly one Done call.
func (s *Service) failPending(queue chan queuedTask) {
	if queue == nil {
		return
	}
	for {
		select {
		case qt := <-queue:
			now := time.Now()
			delay := time.Duration(0)
			if !qt.enqueuedAt.IsZero() {
				delay = now.Sub(qt.enqueuedAt)
			}
			if qt.task.Done != nil {
				qt.task.Done(Result{Started: now, QueueDelay: delay, Err: ErrStopped})
			}
		default:
			return
		}
	}
}

// Submit enqueues a task without blocking. A full queue rejects the task with
// ErrQueueFull; rejected tasks never see a Done call.
func (s *Service) Submit(t Task) error {
	if t.Run == nil {
		return fmt.Errorf("task Run is nil")
	}
	name := strings.TrimSpace(t.Name)
	if name == "" {
		return fmt.Errorf("task Name is required")
	}
	t.Name = name

	now := time.Now()
	if strings.TrimSpace(t.ID) == "" {
		t.ID = s.newTaskID(now)
	}

	s.mu.Lock()
	cfg := s.cfg
	q := s.q
	stopCh := s.stopCh
	stopping := s.stopDone != nil
	s.mu.Unlock()

	if q == nil || stopCh == nil {
		return ErrStopped
	}
	if stopping {
		return ErrStopping
	}

	timeout := t.Timeout
	if timeout <= 0 {
		timeout = cfg.DefaultTimeout
	}

	select {
	case q <- queuedTask{task: t, enqueuedAt: now, timeout: timeout}:
		return nil
	default:
		s.onQueueFullDropped(t, q)
		return ErrQueueFull
	}
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	cfg := s.cfg
	q := s.q
	s.mu.Unlock()

	ql := 0
	qc := 0
	if q != nil {
		ql = len(q)
		qc = cap(q)
	}

	return Snapshot{
		Workers:          cfg.Workers,
		QueueLen:         ql,
		QueueCap:         qc,
		InFlight:         int(atomic.LoadInt32(&s.inFlight)),
		Dropped:          atomic.LoadUint64(&s.dropped),
		DroppedQueueFull: atomic.LoadUint64(&s.droppedQueueFull),
		DroppedStale:     atomic.LoadUint64(&s.droppedStale),
		DefaultTimeout:   cfg.DefaultTimeout,
		MaxQueueDelay:    cfg.MaxQueueDelay,
	}
}

func (s *Service) newTaskID(now time.Time) string {
	seq := atomic.AddUint64(&s.idSeq, 1)
	// Short but still unique-ish across restarts.
	return fmt.Sprintf("run-%x-%x", now.UnixNano(), seq)
}

func (s *Service) onQueueFullDropped(t Task, q chan queuedTask) {
	atomic.AddUint64(&s.dropped, 1)
	atomic.AddUint64(&s.droppedQueueFull, 1)

	if !s.log.IsZero() && s.queueFullWarn.Allow() {
		ql := 0
		qc := 0
		if q != nil {
			ql = len(q)
			qc = cap(q)
		}
		s.log.Warn(
			"task dropped: queue full",
			logx.String("task", t.Name),
			logx.String("id", t.ID),
			logx.Int("queue_len", ql),
			logx.Int("queue_cap", qc),
			logx.Uint64("dropped_queue_full", atomic.LoadUint64(&s.droppedQueueFull)),
		)
	}
}

func (s *Service) onStaleDropped(t Task, queueDelay time.Duration) {
	atomic.AddUint64(&s.dropped, 1)
	atomic.AddUint64(&s.droppedStale, 1)

	if !s.log.IsZero() && s.staleWarn.Allow() {
		s.log.Warn(
			"task dropped: stale queue",
			logx.String("task", t.Name),
			logx.String("id", t.ID),
			logx.Duration("queue_delay", queueDelay),
			logx.Uint64("dropped_stale", atomic.LoadUint64(&s.droppedStale)),
		)
	}
}
