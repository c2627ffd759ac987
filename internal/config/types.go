package config

// Config is the full on-disk configuration. YAML and JSON are both accepted;
// YAML is coerced to JSON and decoded strictly, so unknown keys fail the load.
type Config struct {
	// Environment selects which job tier runs alongside the common tier.
	// An unknown (or empty) environment composes the common jobs only.
	Environment string `json:"environment"`

	Logging  LoggingConfig  `json:"logging"`
	Engine   EngineConfig   `json:"engine,omitempty"`
	Dispatch DispatchConfig `json:"dispatch,omitempty"`

	// Storage is optional; nil disables persistence (overlap locks and run
	// history live in memory only).
	Storage *StorageConfig `json:"storage,omitempty"`

	Debug DebugConfig `json:"debug,omitempty"`

	// Jobs maps a tier name ("common", "production", "staging", or any
	// free-form tier) to that tier's job entries.
	Jobs map[string][]JobConfig `json:"jobs"`
}

// JobConfig is one schedulable entry in a tier.
//
// Exactly one cadence key must be set: every, daily_at, hourly, hourly_at,
// cron, or schedule. The schedule key is the free-form escape hatch and
// accepts any form the other keys do ("every:30m", "06:15", "*/5 * * * *").
//
// HourlyAt is a pointer so minute 0 ("hourly_at": 0) is distinguishable from
// an omitted key.
type JobConfig struct {
	Name string `json:"name"`

	// Command is the argv to execute. Omitted means the job is handled by an
	// in-process handler registered under the same name.
	Command []string `json:"command,omitempty"`

	Every    string `json:"every,omitempty"`    // Go duration string, >= 1m
	DailyAt  string `json:"daily_at,omitempty"` // "HH:MM"
	Hourly   bool   `json:"hourly,omitempty"`
	HourlyAt *int   `json:"hourly_at,omitempty"` // minute 0..59
	Cron     string `json:"cron,omitempty"`      // five-field expression
	Schedule string `json:"schedule,omitempty"`  // free-form cadence

	// Between limits firing to a daily window "HH:MM-HH:MM" (endpoints
	// inclusive, may wrap midnight). UnlessBetween inverts the window.
	// At most one of the two may be set.
	Between       string `json:"between,omitempty"`
	UnlessBetween string `json:"unless_between,omitempty"`

	// Overlap is "allow-concurrent" (default) or "no-overlap".
	Overlap string `json:"overlap,omitempty"`

	// Timeout bounds one run (Go duration string). Empty or "0s" falls back
	// to the engine default.
	Timeout string `json:"timeout,omitempty"`

	// RetryMax is additional attempts after a failure within the same slot.
	RetryMax int `json:"retry_max,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// EngineConfig controls the run execution engine.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - workers: 4
//   - queue_size: 64
//   - default_timeout: "5m"
//   - max_queue_delay: "30s" ("-1s" or any negative disables stale dropping)
//   - retry_base: "500ms"
//   - retry_max_delay: "15s"
type EngineConfig struct {
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	MaxQueueDelay  string `json:"max_queue_delay,omitempty"`
	RetryBase      string `json:"retry_base,omitempty"`
	RetryMaxDelay  string `json:"retry_max_delay,omitempty"`
}

// DispatchConfig controls the tick loop.
//
// Defaults: tick_every "1m", drain_timeout "30s", history_size 256.
type DispatchConfig struct {
	TickEvery    string `json:"tick_every,omitempty"`
	DrainTimeout string `json:"drain_timeout,omitempty"`
	HistorySize  int    `json:"history_size,omitempty"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./tickd_store" }
type StorageConfig struct {
	Driver      string `json:"driver"` // "file", "sqlite", or "none"
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
	KeepRuns    int    `json:"keep_runs,omitempty"`    // run history retention
}

// DebugConfig controls the optional debug HTTP server (health, pprof,
// metrics).
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:8091").
//   - If you bind to a non-loopback address, set a token or explicitly
//     allow_insecure.
//
// Metrics is a pointer so an omitted key defaults to true (expose /metrics
// whenever the server is enabled) while an explicit false turns it off.
type DebugConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:8091"
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Metrics       *bool  `json:"metrics,omitempty"`

	// Server timeouts (Go duration strings). WriteTimeout defaults to 0
	// (disabled) so /debug/pprof/profile (30s+) works reliably.
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// MetricsEnabled resolves the Metrics pointer.
func (d DebugConfig) MetricsEnabled() bool {
	if d.Metrics == nil {
		return true
	}
	return *d.Metrics
}
