package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tickd/internal/cadence"
	"tickd/internal/schedule"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func intPtr(n int) *int { return &n }

func boolPtr(b bool) *bool { return &b }

const sampleYAML = `environment: production
logging:
  level: debug
  console: true
  file:
    enabled: false
    path: ""
engine:
  workers: 2
  queue_size: 8
dispatch:
  tick_every: 2m
storage:
  driver: file
  path: ./state/tickd
jobs:
  common:
    - name: prune-temp
      hourly: true
      overlap: no-overlap
      timeout: 2m
    - name: heartbeat
      every: 5m
  production:
    - name: price-export
      daily_at: "06:15"
      command: ["/usr/local/bin/export-prices", "--all"]
      between: "05:00-22:00"
      retry_max: 2
`

func TestParseYAML(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tickd.yaml")
	writeFile(t, path, sampleYAML)

	cfg, err := NewManager(path).Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Environment != "production" {
		t.Fatalf("environment = %q", cfg.Environment)
	}
	if cfg.Engine.Workers != 2 || cfg.Engine.QueueSize != 8 {
		t.Fatalf("engine = %+v", cfg.Engine)
	}
	if cfg.Dispatch.TickEvery != "2m" {
		t.Fatalf("dispatch.tick_every = %q", cfg.Dispatch.TickEvery)
	}
	if cfg.Storage == nil || cfg.Storage.Driver != "file" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	if got := len(cfg.Jobs["common"]); got != 2 {
		t.Fatalf("common jobs = %d, want 2", got)
	}
	prod := cfg.Jobs["production"]
	if len(prod) != 1 || prod[0].DailyAt != "06:15" || prod[0].RetryMax != 2 {
		t.Fatalf("production jobs = %+v", prod)
	}
	if len(prod[0].Command) != 2 {
		t.Fatalf("command = %v", prod[0].Command)
	}
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tickd.yaml")
	writeFile(t, path, "environment: staging\nbogus: true\n")

	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("expected error for unknown key")
	} else if !strings.Contains(err.Error(), "bogus") {
		t.Fatalf("error does not name the key: %v", err)
	}
}

func TestParseJSON(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tickd.json")
	writeFile(t, path, `{
  "environment": "staging",
  "logging": {"level": "info", "console": true},
  "jobs": {"common": [{"name": "tick", "every": "1m"}]}
}`)

	cfg, err := NewManager(path).Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Environment != "staging" || cfg.Logging.Level != "info" {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tickd.json")
	writeFile(t, path, `{"environment": "a"}{"environment": "b"}`)

	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("expected error for trailing data")
	}
}

func TestBuildRegistry(t *testing.T) {
	t.Parallel()

	cfg := &Config{
		Jobs: map[string][]JobConfig{
			"production": {
				{Name: "price-export", DailyAt: "06:15", Command: []string{"/bin/export"}, Between: "05:00-22:00"},
			},
			"common": {
				{Name: "prune-temp", Hourly: true, Overlap: "no-overlap", Timeout: "2m"},
				{Name: "heartbeat", Every: "5m", RetryMax: 1},
			},
			"staging": {
				{Name: "seed-fixtures", HourlyAt: intPtr(0), UnlessBetween: "22:00-06:00"},
			},
		},
	}

	reg, err := BuildRegistry(cfg)
	if err != nil {
		t.Fatalf("BuildRegistry: %v", err)
	}
	if reg.Len() != 4 {
		t.Fatalf("Len = %d, want 4", reg.Len())
	}

	// Common tier registers first, remaining tiers alphabetically.
	var names []string
	for _, j := range reg.Jobs() {
		names = append(names, j.Name)
	}
	want := []string{"prune-temp", "heartbeat", "price-export", "seed-fixtures"}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("order = %v, want %v", names, want)
		}
	}

	prune, _ := reg.Get("prune-temp")
	if prune.Tier != schedule.TierCommon || prune.Overlap != schedule.OverlapSkipIfRunning {
		t.Fatalf("prune-temp = %+v", prune)
	}
	if prune.Timeout != 2*time.Minute {
		t.Fatalf("prune-temp timeout = %s", prune.Timeout)
	}
	if got := prune.Cadence.String(); got != "hourly" {
		t.Fatalf("prune-temp cadence = %q", got)
	}

	export, _ := reg.Get("price-export")
	if export.Tier != schedule.Tier("production") || export.Window.IsZero() {
		t.Fatalf("price-export = %+v", export)
	}
	if got := export.Cadence.String(); got != "daily:06:15" {
		t.Fatalf("price-export cadence = %q", got)
	}

	seed, _ := reg.Get("seed-fixtures")
	if got := seed.Cadence.String(); got != "hourly:0" {
		t.Fatalf("seed-fixtures cadence = %q", got)
	}
	if !seed.Window.Excluded() {
		t.Fatal("unless_between window not exclusive")
	}
}

func TestBuildRegistryCadenceKeyRules(t *testing.T) {
	t.Parallel()

	// No cadence key.
	_, err := BuildRegistry(&Config{Jobs: map[string][]JobConfig{
		"common": {{Name: "bare"}},
	}})
	if !errors.Is(err, cadence.ErrInvalidCadence) {
		t.Fatalf("no cadence key: %v", err)
	}

	// Two cadence keys.
	_, err = BuildRegistry(&Config{Jobs: map[string][]JobConfig{
		"common": {{Name: "double", Every: "5m", Cron: "* * * * *"}},
	}})
	if !errors.Is(err, cadence.ErrInvalidCadence) {
		t.Fatalf("two cadence keys: %v", err)
	}
	if !strings.Contains(err.Error(), "every") || !strings.Contains(err.Error(), "cron") {
		t.Fatalf("error does not name the keys: %v", err)
	}

	// Sub-minute interval.
	_, err = BuildRegistry(&Config{Jobs: map[string][]JobConfig{
		"common": {{Name: "fast", Every: "30s"}},
	}})
	if !errors.Is(err, cadence.ErrInvalidCadence) {
		t.Fatalf("sub-minute interval: %v", err)
	}
}

func TestBuildRegistryRejectsBadEntries(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		jobs map[string][]JobConfig
		want string
	}{
		{
			name: "missing name",
			jobs: map[string][]JobConfig{"common": {{Every: "5m"}}},
			want: "name required",
		},
		{
			name: "bad overlap",
			jobs: map[string][]JobConfig{"common": {{Name: "j", Every: "5m", Overlap: "sometimes"}}},
			want: "overlap",
		},
		{
			name: "negative retry_max",
			jobs: map[string][]JobConfig{"common": {{Name: "j", Every: "5m", RetryMax: -1}}},
			want: "retry_max",
		},
		{
			name: "both windows",
			jobs: map[string][]JobConfig{"common": {{Name: "j", Every: "5m", Between: "01:00-02:00", UnlessBetween: "03:00-04:00"}}},
			want: "mutually exclusive",
		},
		{
			name: "bad timeout",
			jobs: map[string][]JobConfig{"common": {{Name: "j", Every: "5m", Timeout: "fast"}}},
			want: "timeout",
		},
		{
			name: "empty tier",
			jobs: map[string][]JobConfig{"  ": {{Name: "j", Every: "5m"}}},
			want: "empty tier",
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := BuildRegistry(&Config{Jobs: tc.jobs})
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestBuildRegistryDuplicateAcrossTiers(t *testing.T) {
	t.Parallel()

	_, err := BuildRegistry(&Config{Jobs: map[string][]JobConfig{
		"common":     {{Name: "sync", Every: "5m"}},
		"production": {{Name: "sync", Hourly: true}},
	}})
	if !errors.Is(err, schedule.ErrDuplicateJob) {
		t.Fatalf("err = %v, want ErrDuplicateJob", err)
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()

	if d, err := ParseDurationField("f", ""); err != nil || d != 0 {
		t.Fatalf("empty: %v %v", d, err)
	}
	if d, err := ParseDurationField("f", " 90s "); err != nil || d != 90*time.Second {
		t.Fatalf("trimmed: %v %v", d, err)
	}
	if _, err := ParseDurationField("f", "soon"); err == nil {
		t.Fatal("expected error for junk")
	}
	if _, err := ParseDurationField("f", "-1s"); err == nil {
		t.Fatal("expected error for negative")
	}
	if d, err := ParseSignedDurationField("f", "-1s"); err != nil || d != -time.Second {
		t.Fatalf("signed negative: %v %v", d, err)
	}
	if d, err := ParseDurationOrDefault("f", "", 30*time.Second); err != nil || d != 30*time.Second {
		t.Fatalf("default: %v %v", d, err)
	}
}

func TestSummarizeChange(t *testing.T) {
	t.Parallel()

	oldCfg := &Config{
		Environment: "production",
		Logging:     LoggingConfig{Level: "info", Console: true},
		Jobs:        map[string][]JobConfig{"common": {{Name: "a", Every: "5m"}}},
	}
	newCfg := &Config{
		Environment: "production",
		Logging:     LoggingConfig{Level: "debug", Console: true},
		Jobs: map[string][]JobConfig{
			"common": {{Name: "a", Every: "5m"}, {Name: "b", Hourly: true}},
		},
	}

	changed, attrs := SummarizeChange(oldCfg, newCfg)
	if len(changed) != 2 || changed[0] != "jobs" || changed[1] != "logging" {
		t.Fatalf("changed = %v", changed)
	}
	if len(attrs) == 0 {
		t.Fatal("expected attrs for changed sections")
	}

	if same, _ := SummarizeChange(oldCfg, oldCfg); len(same) != 0 {
		t.Fatalf("no-change diff = %v", same)
	}
}

func TestSummarizeChangeDebug(t *testing.T) {
	t.Parallel()

	oldCfg := &Config{Debug: DebugConfig{Enabled: true}}
	newCfg := &Config{Debug: DebugConfig{Enabled: true, Token: "s3cret"}}

	changed, _ := SummarizeChange(oldCfg, newCfg)
	if len(changed) != 1 || changed[0] != "debug" {
		t.Fatalf("changed = %v", changed)
	}

	// Metrics pointer compares by resolved value: nil and explicit true are
	// the same setting.
	a := &Config{Debug: DebugConfig{Enabled: true}}
	b := &Config{Debug: DebugConfig{Enabled: true, Metrics: boolPtr(true)}}
	if changed, _ := SummarizeChange(a, b); len(changed) != 0 {
		t.Fatalf("nil vs explicit-true metrics flagged: %v", changed)
	}
}

func TestWatchPublishesValidatedChanges(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "tickd.yaml")
	writeFile(t, path, "environment: staging\n")

	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	m.SetValidator(func(ctx context.Context, cfg *Config) error {
		if cfg.Environment == "reject-me" {
			return errors.New("rejected")
		}
		return nil
	})

	ch := m.Subscribe(4)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()

	// The watcher needs a moment to install; rewrite until the change is
	// picked up rather than racing a single write against it.
	var got *Config
	deadline := time.Now().Add(10 * time.Second)
	for got == nil {
		if time.Now().After(deadline) {
			t.Fatal("no config published after change")
		}
		writeFile(t, path, "environment: production\n")
		select {
		case got = <-ch:
		case <-time.After(400 * time.Millisecond):
		}
	}
	if got.Environment != "production" {
		t.Fatalf("published environment = %q", got.Environment)
	}
	if m.Get().Environment != "production" {
		t.Fatalf("committed environment = %q", m.Get().Environment)
	}

	// A rejected config must not commit or publish; the next valid one must.
	writeFile(t, path, "environment: reject-me\n")
	time.Sleep(500 * time.Millisecond)
	got = nil
	deadline = time.Now().Add(10 * time.Second)
	for got == nil {
		if time.Now().After(deadline) {
			t.Fatal("no config published after rejected change")
		}
		writeFile(t, path, "environment: common\n")
		select {
		case got = <-ch:
		case <-time.After(400 * time.Millisecond):
		}
	}
	if got.Environment != "common" {
		t.Fatalf("published environment = %q (rejected config leaked)", got.Environment)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Watch: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not stop on cancel")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()

	m := NewManager("unused.json")
	ch := m.Subscribe(1)
	m.Unsubscribe(ch)
	if _, open := <-ch; open {
		t.Fatal("channel still open after Unsubscribe")
	}
	// Unsubscribing twice (or nil) is harmless.
	m.Unsubscribe(ch)
	m.Unsubscribe(nil)
}
