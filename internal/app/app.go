// Package app wires config, logging, storage, the run engine, the dispatcher,
// and the observability layer into one runnable unit and owns their
// lifecycles.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"tickd/internal/config"
	"tickd/internal/dispatch"
	"tickd/internal/engine"
	"tickd/internal/eventbus"
	"tickd/internal/guard"
	"tickd/internal/observe"
	"tickd/internal/runner"
	rtsup "tickd/internal/runtime/supervisor"
	"tickd/internal/schedule"
	"tickd/internal/storage"
	logx "tickd/pkg/logx"
	"tickd/pkg/sdnotify"
)

// Options selects what New builds.
type Options struct {
	// ConfigPath points at the YAML or JSON config file.
	ConfigPath string

	// Env overrides the configured environment (the -env flag). Empty keeps
	// the file's value.
	Env string
}

// App owns every long-lived component. Build with New, register in-process
// handlers via Handlers(), then Start (daemon) or RunOnce (external cron).
type App struct {
	env string

	cfgm *config.Manager

	// sup is scoped to Start's context: the tick loop, watchers, and debug
	// server stop as soon as it cancels. bg is app-scoped: the engine and the
	// recorder outlive the signal so Stop's drain window can finish in-flight
	// runs and still record them.
	sup *rtsup.Supervisor
	bg  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	grd   *guard.Guard

	full   *schedule.Registry // every tier in the file
	active *schedule.Registry // composed for env

	engine *engine.Service
	funcs  *runner.Func
	disp   *dispatch.Dispatcher

	rec   *observe.Recorder
	debug *observe.DebugServer
}

func New(opts Options) (*App, error) {
	cfgm := config.NewManager(opts.ConfigPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg.Logging))
	log = log.With(logx.String("comp", "app"))

	env := strings.TrimSpace(opts.Env)
	if env == "" {
		env = strings.TrimSpace(cfg.Environment)
	}

	bus := eventbus.New()

	// Storage (optional)
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	if store != nil {
		log.Info("storage enabled", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	}

	grd := guard.New(log.With(logx.String("comp", "guard")), guard.WithStore(store))

	full, err := config.BuildRegistry(cfg)
	if err != nil {
		return nil, err
	}
	active, err := schedule.Compose(env, full)
	if err != nil {
		return nil, err
	}
	if tier := schedule.TierFor(env); tier != schedule.TierCommon && !full.HasTier(tier) {
		log.Warn("environment matches no job tier; only common jobs are scheduled",
			logx.String("environment", env),
			logx.Int("jobs", active.Len()),
		)
	}

	engCfg, err := mapEngineConfig(cfg)
	if err != nil {
		return nil, err
	}
	eng := engine.New(engCfg, log.With(logx.String("comp", "engine")))

	funcs := runner.NewFunc()
	mux := runner.NewMux(runner.NewExec(log.With(logx.String("comp", "runner"))), funcs)

	dispCfg, err := mapDispatchConfig(cfg)
	if err != nil {
		return nil, err
	}
	disp := dispatch.New(dispCfg, log.With(logx.String("comp", "dispatch")), bus, active, eng, grd, mux)

	// Own registry so tests and repeated instances never collide on the
	// process-global default; runtime collectors ride along for /metrics.
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observe.NewMetrics(promReg)
	rec := observe.NewRecorder(log.With(logx.String("comp", "observe")), bus, store, metrics)

	dbgCfg, err := mapDebugConfig(cfg.Debug)
	if err != nil {
		return nil, err
	}
	debug := observe.NewDebugServer(dbgCfg, log.With(logx.String("comp", "debug")))
	debug.SetGatherer(promReg)

	return &App{
		env:    env,
		cfgm:   cfgm,
		log:    log,
		logs:   logSvc,
		bus:    bus,
		store:  store,
		grd:    grd,
		full:   full,
		active: active,
		engine: eng,
		funcs:  funcs,
		disp:   disp,
		rec:    rec,
		debug:  debug,
	}, nil
}

// Handlers exposes the in-process handler registry. Command-less jobs must
// have a handler registered under their name before Start or RunOnce.
func (a *App) Handlers() *runner.Func { return a.funcs }

// Environment returns the effective environment after the -env override.
func (a *App) Environment() string { return a.env }

// Jobs returns the active (composed) schedule in registration order.
func (a *App) Jobs() []*schedule.Job { return a.active.Jobs() }

// Done is closed when the app run context is canceled (fatal error or signal).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// StorageEnabled reports whether a persistent store is configured.
func (a *App) StorageEnabled() bool { return a.store != nil }

// RecentRuns reads persisted run history, newest first. Nil without error
// when storage is disabled.
func (a *App) RecentRuns(ctx context.Context, limit int) ([]storage.RunEntry, error) {
	if a.store == nil {
		return nil, nil
	}
	return a.store.RecentRuns(ctx, limit)
}

// Close releases the resources of an app that was never started. Started
// apps go through Stop instead.
func (a *App) Close() error {
	var err error
	if a.store != nil {
		err = a.store.Close()
	}
	if a.logs != nil {
		a.logs.Close()
	}
	return err
}

func (a *App) Start(ctx context.Context) error {
	if err := a.checkHandlers(); err != nil {
		return err
	}

	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.bg = rtsup.New(context.Background(), rtsup.WithLogger(a.log), rtsup.WithCancelOnError(false))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(c context.Context, cfg *config.Config) error {
		return validateConfig(cfg)
	})

	if err := a.grd.Restore(a.sup.Context()); err != nil {
		a.log.Warn("persisted lock restore failed", logx.Err(err))
	}

	a.engine.Start(a.bg.Context())
	a.bg.Go("observe.record", a.rec.Run)

	a.debug.SetHealth(a.healthSnapshot)
	if a.debug.Enabled() {
		a.debug.Start(a.sup.Context())
	}

	// hot reload config fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
		return nil
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.sup.Go("systemd.watchdog", func(c context.Context) error {
		return sdnotify.Watchdog(c, a.log)
	})

	a.sup.GoRestart("dispatch.run", a.disp.Run, rtsup.WithPublishFirstError(true))

	a.log.Info("app started",
		logx.String("environment", a.env),
		logx.Int("jobs", a.active.Len()),
	)
	sdnotify.Ready(a.log)
	return nil
}

// reloadLoop applies validated config updates. Only the logging and debug
// sections take effect live; everything else is composed once at startup and
// logs a restart hint instead.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					goto APPLY
				}
			}
		APPLY:
			sections, attrs := config.SummarizeChange(lastApplied, newCfg)
			lastApplied = newCfg
			if len(sections) == 0 {
				a.log.Info("config reloaded (no changes)")
				continue
			}
			fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
			a.log.Debug("config change summary", fields...)

			for _, s := range sections {
				switch s {
				case "logging":
					a.logs.Apply(mapLoggingConfig(newCfg.Logging))
				case "debug":
					dbgCfg, err := mapDebugConfig(newCfg.Debug)
					if err != nil {
						a.log.Warn("invalid debug config; keeping previous", logx.Err(err))
						continue
					}
					a.debug.Reconfigure(ctx, dbgCfg)
				default:
					a.log.Warn(s + " config changed; restart required for changes to take effect")
				}
			}

			a.log.Info("config reloaded", fields...)
		}
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	sdnotify.Stopping(a.log)

	// Cancel the run context first: the tick loop stops dispatching and the
	// watchers unwind while the drain below runs.
	a.sup.Cancel()

	// Helper: run a shutdown step with an upper bound so one component can't
	// stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.String("err", err.Error()))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			// Contract: fn MUST honor stepCtx and return promptly. If it doesn't, log a leak signal.
			elapsed := time.Since(start)
			a.log.Warn(
				"stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.String("err", stepCtx.Err().Error()),
				logx.Duration("elapsed", elapsed),
			)
			// Leak logging: observe when/if the step eventually finishes.
			go func() {
				err := <-done
				took := time.Since(start)
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.String("err", err.Error()), logx.Duration("took", took))
				} else {
					a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
				}
			}()
		}
	}

	// Drain in-flight runs first. The recorder stays up (a.bg) so the final
	// run records still land in storage.
	step("dispatcher", a.disp.DrainTimeout()+time.Second, func(c context.Context) error {
		a.disp.Shutdown(c)
		return nil
	})
	step("debug", 2*time.Second, func(c context.Context) error {
		a.debug.Stop(c)
		return nil
	})

	a.bg.Cancel()
	step("background", 2*time.Second, func(c context.Context) error { return a.bg.Wait(c) })

	step("storage", time.Second, func(c context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	// Finally, wait for supervised goroutines (config watch/reload, tick loop).
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}

// RunOnce evaluates a single pass against the current minute, waits for every
// dispatched run to end (run timeouts bound the wait), and releases resources.
// It is the external-cron entry point: no watcher, no tick loop. Persisted
// locks from other processes are left untouched.
func (a *App) RunOnce(ctx context.Context) error {
	if err := a.checkHandlers(); err != nil {
		return err
	}

	bg := rtsup.New(context.Background(), rtsup.WithLogger(a.log), rtsup.WithCancelOnError(false))
	a.engine.Start(bg.Context())
	bg.Go("observe.record", a.rec.Run)

	stats := a.disp.Tick(ctx, time.Now())

	for ctx.Err() == nil && len(a.disp.Snapshot().InFlight) > 0 {
		time.Sleep(50 * time.Millisecond)
	}
	a.disp.Shutdown(ctx)

	bg.Cancel()
	wctx, wcancel := context.WithTimeout(context.Background(), 2*time.Second)
	_ = bg.Wait(wctx)
	wcancel()

	a.log.Info("one-shot pass complete",
		logx.Int("jobs", stats.Jobs),
		logx.Int("due", stats.Due),
		logx.Int("dispatched", stats.Dispatched),
		logx.Int("skipped", stats.Skipped),
	)
	return a.Close()
}

// checkHandlers fails startup when a command-less job has no registered
// handler, before the first tick could silently no-op it.
func (a *App) checkHandlers() error {
	var missing []string
	for _, j := range a.active.Jobs() {
		if len(j.Command) == 0 && !a.funcs.Has(j.Name) {
			missing = append(missing, j.Name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("jobs without a command need a registered handler: %s", strings.Join(missing, ", "))
	}
	return nil
}

func (a *App) healthSnapshot() any {
	out := map[string]any{
		"environment": a.env,
		"dispatch":    a.disp.Snapshot(),
		"engine":      a.engine.Snapshot(),
	}
	if sup := a.sup; sup != nil {
		out["goroutines"] = sup.Snapshot()
	}
	return out
}
