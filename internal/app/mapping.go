package app

import (
	"fmt"
	"strings"

	"tickd/internal/config"
	"tickd/internal/dispatch"
	"tickd/internal/engine"
	"tickd/internal/observe"
	"tickd/internal/storage"
	logx "tickd/pkg/logx"
)

func mapLoggingConfig(lc config.LoggingConfig) logx.Config {
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File: logx.FileConfig{
			Enabled: lc.File.Enabled,
			Path:    lc.File.Path,
		},
	}
}

// mapEngineConfig translates config.engine into the engine's native config.
// Zero values fall through to the engine defaults.
func mapEngineConfig(cfg *config.Config) (engine.Config, error) {
	if cfg == nil {
		return engine.Config{}, nil
	}
	ec := cfg.Engine
	if ec.Workers < 0 {
		return engine.Config{}, fmt.Errorf("engine.workers must be >= 0")
	}
	if ec.QueueSize < 0 {
		return engine.Config{}, fmt.Errorf("engine.queue_size must be >= 0")
	}
	defTimeout, err := config.ParseDurationField("engine.default_timeout", ec.DefaultTimeout)
	if err != nil {
		return engine.Config{}, err
	}
	// Negative is meaningful here: it disables stale dropping.
	maxQueueDelay, err := config.ParseSignedDurationField("engine.max_queue_delay", ec.MaxQueueDelay)
	if err != nil {
		return engine.Config{}, err
	}
	retryBase, err := config.ParseDurationField("engine.retry_base", ec.RetryBase)
	if err != nil {
		return engine.Config{}, err
	}
	retryMaxDelay, err := config.ParseDurationField("engine.retry_max_delay", ec.RetryMaxDelay)
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{
		Workers:        ec.Workers,
		QueueSize:      ec.QueueSize,
		DefaultTimeout: defTimeout,
		MaxQueueDelay:  maxQueueDelay,
		RetryBase:      retryBase,
		RetryMaxDelay:  retryMaxDelay,
	}, nil
}

func mapDispatchConfig(cfg *config.Config) (dispatch.Config, error) {
	if cfg == nil {
		return dispatch.Config{}, nil
	}
	dc := cfg.Dispatch
	if dc.HistorySize < 0 {
		return dispatch.Config{}, fmt.Errorf("dispatch.history_size must be >= 0")
	}
	tick, err := config.ParseDurationField("dispatch.tick_every", dc.TickEvery)
	if err != nil {
		return dispatch.Config{}, err
	}
	drain, err := config.ParseDurationField("dispatch.drain_timeout", dc.DrainTimeout)
	if err != nil {
		return dispatch.Config{}, err
	}
	return dispatch.Config{
		TickEvery:    tick,
		DrainTimeout: drain,
		HistorySize:  dc.HistorySize,
	}, nil
}

// mapStorageConfig returns a zero Config when storage is absent or disabled;
// storage.Open treats that as "no store".
func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, nil
	}
	switch driver {
	case "file", "sqlite", "sqlite3":
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
	path := strings.TrimSpace(sc.Path)
	if path == "" {
		return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=%s", driver)
	}
	if sc.KeepRuns < 0 {
		return storage.Config{}, fmt.Errorf("storage.keep_runs must be >= 0")
	}
	busy, err := config.ParseDurationField("storage.busy_timeout", sc.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      driver,
		Path:        path,
		BusyTimeout: busy,
		KeepRuns:    sc.KeepRuns,
	}, nil
}

func mapDebugConfig(dc config.DebugConfig) (observe.ServerConfig, error) {
	readTimeout, err := config.ParseDurationField("debug.read_timeout", dc.ReadTimeout)
	if err != nil {
		return observe.ServerConfig{}, err
	}
	writeTimeout, err := config.ParseDurationField("debug.write_timeout", dc.WriteTimeout)
	if err != nil {
		return observe.ServerConfig{}, err
	}
	idleTimeout, err := config.ParseDurationField("debug.idle_timeout", dc.IdleTimeout)
	if err != nil {
		return observe.ServerConfig{}, err
	}
	return observe.ServerConfig{
		Enabled:       dc.Enabled,
		Addr:          dc.Addr,
		Token:         dc.Token,
		AllowInsecure: dc.AllowInsecure,
		Metrics:       dc.MetricsEnabled(),
		ReadTimeout:   readTimeout,
		WriteTimeout:  writeTimeout,
		IdleTimeout:   idleTimeout,
	}, nil
}

// validateConfig gates hot-reloads: a config that fails any mapping or whose
// jobs do not build is rejected before commit, keeping the running config.
func validateConfig(cfg *config.Config) error {
	if _, err := mapEngineConfig(cfg); err != nil {
		return err
	}
	if _, err := mapDispatchConfig(cfg); err != nil {
		return err
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if cfg != nil {
		if _, err := mapDebugConfig(cfg.Debug); err != nil {
			return err
		}
	}
	if _, err := config.BuildRegistry(cfg); err != nil {
		return err
	}
	return nil
}
