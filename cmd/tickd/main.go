package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"tickd/internal/app"
	"tickd/internal/config"
	"tickd/internal/schedule"
)

func main() {
	var (
		cfgPath  string
		env      string
		once     bool
		list     bool
		validate bool
		history  int
	)
	flag.StringVar(&cfgPath, "config", "./tickd.yaml", "path to config file (yaml or json)")
	flag.StringVar(&env, "env", "", "override the configured environment")
	flag.BoolVar(&once, "once", false, "evaluate one pass against the current minute and exit")
	flag.BoolVar(&list, "list", false, "print the composed schedule and exit")
	flag.BoolVar(&validate, "validate", false, "validate the config and exit")
	flag.IntVar(&history, "history", 0, "print the last N persisted runs and exit")
	flag.Parse()

	switch {
	case validate:
		os.Exit(inspect(cfgPath, env, false))
	case list:
		os.Exit(inspect(cfgPath, env, true))
	case history > 0:
		os.Exit(printHistory(cfgPath, history))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(app.Options{ConfigPath: cfgPath, Env: env})
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}

	if once {
		if err := a.RunOnce(ctx); err != nil {
			fmt.Println("fatal:", err)
			os.Exit(1)
		}
		return
	}

	if err := a.Start(ctx); err != nil {
		fmt.Println("fatal start:", err)
		os.Exit(1)
	}

	<-a.Done()
	reason := app.StopSignal
	if ctx.Err() == nil {
		reason = app.StopFatalError
	}
	_ = a.Stop(context.Background(), reason)

	if reason == app.StopFatalError {
		if err := a.Err(); err != nil {
			fmt.Println("fatal:", err)
		}
		os.Exit(1)
	}
}

// inspect parses and composes the schedule without starting anything; with
// list it prints the active jobs the way the dispatcher will see them.
func inspect(cfgPath, env string, list bool) int {
	cfg, err := config.NewManager(cfgPath).Parse()
	if err != nil {
		fmt.Println("config:", err)
		return 1
	}
	full, err := config.BuildRegistry(cfg)
	if err != nil {
		fmt.Println("config:", err)
		return 1
	}
	if strings.TrimSpace(env) == "" {
		env = strings.TrimSpace(cfg.Environment)
	}
	active, err := schedule.Compose(env, full)
	if err != nil {
		fmt.Println("config:", err)
		return 1
	}
	if tier := schedule.TierFor(env); tier != schedule.TierCommon && !full.HasTier(tier) {
		fmt.Printf("warning: environment %q matches no job tier; only common jobs are scheduled\n", env)
	}
	if !list {
		fmt.Printf("config ok: %d of %d jobs active for environment %q\n", active.Len(), full.Len(), env)
		return 0
	}

	fmt.Printf("environment: %s\njobs: %d\n", env, active.Len())
	for _, j := range active.Jobs() {
		line := fmt.Sprintf("  %-20s %-16s tier=%-12s overlap=%s", j.Name, j.Cadence, j.Tier, j.Overlap)
		if !j.Window.IsZero() {
			line += " window=" + j.Window.String()
		}
		if j.Timeout > 0 {
			line += " timeout=" + j.Timeout.String()
		}
		if j.RetryMax > 0 {
			line += fmt.Sprintf(" retry_max=%d", j.RetryMax)
		}
		if len(j.Command) > 0 {
			line += " cmd=" + strings.Join(j.Command, " ")
		} else {
			line += " handler=" + j.Name
		}
		fmt.Println(line)
	}
	return 0
}

func printHistory(cfgPath string, limit int) int {
	a, err := app.New(app.Options{ConfigPath: cfgPath})
	if err != nil {
		fmt.Println("fatal:", err)
		return 1
	}
	defer a.Close()

	if !a.StorageEnabled() {
		fmt.Println("storage is not configured; no run history")
		return 1
	}
	entries, err := a.RecentRuns(context.Background(), limit)
	if err != nil {
		fmt.Println("history:", err)
		return 1
	}
	if len(entries) == 0 {
		fmt.Println("no runs recorded yet")
		return 0
	}
	for _, e := range entries {
		line := fmt.Sprintf("%s  %-20s %-16s", e.At.Format(time.RFC3339), e.Job, e.Outcome)
		if e.DurationMS > 0 {
			line += " took=" + (time.Duration(e.DurationMS) * time.Millisecond).String()
		}
		if e.Attempts > 1 {
			line += fmt.Sprintf(" attempts=%d", e.Attempts)
		}
		if e.Error != "" {
			line += " err=" + e.Error
		}
		fmt.Println(line)
	}
	return 0
}
