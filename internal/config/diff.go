package config

import (
	"reflect"
	"sort"
	"strings"

	logx "tickd/pkg/logx"
)

// SummarizeChange returns a compact list of changed sections plus safe
// structured attrs for logging (never includes secrets like the debug token).
//
// The watch loop uses the section list to decide what it may apply live
// (logging, debug) and what needs a restart (everything else).
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if strings.TrimSpace(oldCfg.Environment) != strings.TrimSpace(newCfg.Environment) {
		changed = append(changed, "environment")
		attrs = append(attrs,
			logx.String("environment", strings.TrimSpace(newCfg.Environment)),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Engine != newCfg.Engine {
		changed = append(changed, "engine")
		attrs = append(attrs,
			logx.Int("engine.workers", newCfg.Engine.Workers),
			logx.Int("engine.queue_size", newCfg.Engine.QueueSize),
			logx.String("engine.default_timeout", strings.TrimSpace(newCfg.Engine.DefaultTimeout)),
			logx.String("engine.max_queue_delay", strings.TrimSpace(newCfg.Engine.MaxQueueDelay)),
		)
	}

	if oldCfg.Dispatch != newCfg.Dispatch {
		changed = append(changed, "dispatch")
		attrs = append(attrs,
			logx.String("dispatch.tick_every", strings.TrimSpace(newCfg.Dispatch.TickEvery)),
			logx.String("dispatch.drain_timeout", strings.TrimSpace(newCfg.Dispatch.DrainTimeout)),
			logx.Int("dispatch.history_size", newCfg.Dispatch.HistorySize),
		)
	}

	// Storage: nil means disabled.
	oldS, newS := derefStorage(oldCfg.Storage), derefStorage(newCfg.Storage)
	if (oldCfg.Storage != nil) != (newCfg.Storage != nil) || oldS != newS {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newS.Path) != ""),
			logx.String("storage.busy_timeout", strings.TrimSpace(newS.BusyTimeout)),
		)
	}

	// Debug (never log the token itself, only whether one is set).
	if !debugEqual(oldCfg.Debug, newCfg.Debug) {
		changed = append(changed, "debug")
		attrs = append(attrs,
			logx.Bool("debug.enabled", newCfg.Debug.Enabled),
			logx.String("debug.addr", strings.TrimSpace(newCfg.Debug.Addr)),
			logx.Bool("debug.token_set", strings.TrimSpace(newCfg.Debug.Token) != ""),
			logx.Bool("debug.metrics", newCfg.Debug.MetricsEnabled()),
			logx.Bool("debug.allow_insecure", newCfg.Debug.AllowInsecure),
		)
	}

	// Jobs (summarize only; the full set is too large to log).
	if !reflect.DeepEqual(oldCfg.Jobs, newCfg.Jobs) {
		changed = append(changed, "jobs")
		attrs = append(attrs,
			logx.Int("jobs.tiers", len(newCfg.Jobs)),
			logx.Int("jobs.total", countJobs(newCfg.Jobs)),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

func derefStorage(s *StorageConfig) StorageConfig {
	if s == nil {
		return StorageConfig{}
	}
	return *s
}

// debugEqual compares debug sections, treating the Metrics pointer by value
// and the token by presence.
func debugEqual(a, b DebugConfig) bool {
	if a.Enabled != b.Enabled ||
		strings.TrimSpace(a.Addr) != strings.TrimSpace(b.Addr) ||
		a.AllowInsecure != b.AllowInsecure ||
		strings.TrimSpace(a.ReadTimeout) != strings.TrimSpace(b.ReadTimeout) ||
		strings.TrimSpace(a.WriteTimeout) != strings.TrimSpace(b.WriteTimeout) ||
		strings.TrimSpace(a.IdleTimeout) != strings.TrimSpace(b.IdleTimeout) {
		return false
	}
	if a.MetricsEnabled() != b.MetricsEnabled() {
		return false
	}
	return strings.TrimSpace(a.Token) == strings.TrimSpace(b.Token)
}

func countJobs(m map[string][]JobConfig) int {
	n := 0
	for _, js := range m {
		n += len(js)
	}
	return n
}
