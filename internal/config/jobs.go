package config

import (
	"fmt"
	"sort"
	"strings"

	"tickd/internal/cadence"
	"tickd/internal/schedule"
)

// BuildRegistry turns the jobs section into a validated registry holding
// every tier. Any malformed entry fails the whole build; the scheduler never
// starts on a partially valid schedule.
//
// Tiers are registered common-first, then alphabetically, so listings and
// tier composition are deterministic regardless of map order.
func BuildRegistry(cfg *Config) (*schedule.Registry, error) {
	reg := schedule.NewRegistry()
	if cfg == nil {
		return reg, nil
	}

	tiers := make([]string, 0, len(cfg.Jobs))
	for t := range cfg.Jobs {
		tiers = append(tiers, t)
	}
	sort.Slice(tiers, func(i, j int) bool {
		ti, tj := schedule.TierFor(tiers[i]), schedule.TierFor(tiers[j])
		if (ti == schedule.TierCommon) != (tj == schedule.TierCommon) {
			return ti == schedule.TierCommon
		}
		return ti < tj
	})

	for _, t := range tiers {
		tier := schedule.TierFor(t)
		if tier == "" {
			return nil, fmt.Errorf("jobs: empty tier name")
		}
		for i, jc := range cfg.Jobs[t] {
			job, err := buildJob(tier, jc)
			if err != nil {
				return nil, fmt.Errorf("jobs.%s[%d]: %w", t, i, err)
			}
			if err := reg.Register(job); err != nil {
				return nil, fmt.Errorf("jobs.%s[%d]: %w", t, i, err)
			}
		}
	}
	return reg, nil
}

func buildJob(tier schedule.Tier, jc JobConfig) (*schedule.Job, error) {
	name := strings.TrimSpace(jc.Name)
	if name == "" {
		return nil, fmt.Errorf("job name required")
	}

	spec, err := cadenceFor(jc)
	if err != nil {
		return nil, fmt.Errorf("job %q: %w", name, err)
	}

	win, err := windowFor(jc)
	if err != nil {
		return nil, fmt.Errorf("job %q: %w", name, err)
	}

	overlap, ok := schedule.ParseOverlapPolicy(jc.Overlap)
	if !ok {
		return nil, fmt.Errorf("job %q: overlap %q (use %q or %q)",
			name, jc.Overlap, schedule.OverlapAllow, schedule.OverlapSkipIfRunning)
	}

	timeout, err := ParseDurationField("job "+name+": timeout", jc.Timeout)
	if err != nil {
		return nil, err
	}
	if jc.RetryMax < 0 {
		return nil, fmt.Errorf("job %q: retry_max must be >= 0", name)
	}

	return &schedule.Job{
		Name:     name,
		Tier:     tier,
		Cadence:  spec,
		Window:   win,
		Overlap:  overlap,
		Command:  jc.Command,
		Timeout:  timeout,
		RetryMax: jc.RetryMax,
	}, nil
}

// cadenceFor maps the cadence keys of a job entry onto a cadence.Spec,
// requiring exactly one to be set.
func cadenceFor(jc JobConfig) (cadence.Spec, error) {
	var keys []string
	if strings.TrimSpace(jc.Every) != "" {
		keys = append(keys, "every")
	}
	if strings.TrimSpace(jc.DailyAt) != "" {
		keys = append(keys, "daily_at")
	}
	if jc.Hourly {
		keys = append(keys, "hourly")
	}
	if jc.HourlyAt != nil {
		keys = append(keys, "hourly_at")
	}
	if strings.TrimSpace(jc.Cron) != "" {
		keys = append(keys, "cron")
	}
	if strings.TrimSpace(jc.Schedule) != "" {
		keys = append(keys, "schedule")
	}

	switch len(keys) {
	case 0:
		return cadence.Spec{}, fmt.Errorf("%w: no cadence key (set one of every, daily_at, hourly, hourly_at, cron, schedule)", cadence.ErrInvalidCadence)
	case 1:
	default:
		return cadence.Spec{}, fmt.Errorf("%w: multiple cadence keys (%s)", cadence.ErrInvalidCadence, strings.Join(keys, ", "))
	}

	switch keys[0] {
	case "every":
		return cadence.Parse("every:" + jc.Every)
	case "daily_at":
		return cadence.Parse("daily:" + jc.DailyAt)
	case "hourly":
		return cadence.Hourly(), nil
	case "hourly_at":
		return cadence.HourlyAt(*jc.HourlyAt)
	case "cron":
		return cadence.Cron(jc.Cron)
	default:
		return cadence.Parse(jc.Schedule)
	}
}

func windowFor(jc JobConfig) (cadence.Window, error) {
	between := strings.TrimSpace(jc.Between)
	unless := strings.TrimSpace(jc.UnlessBetween)
	if between != "" && unless != "" {
		return cadence.Window{}, fmt.Errorf("between and unless_between are mutually exclusive")
	}
	if between != "" {
		return cadence.ParseWindow(between)
	}
	if unless != "" {
		w, err := cadence.ParseWindow(unless)
		if err != nil {
			return cadence.Window{}, err
		}
		return w.Unless(), nil
	}
	return cadence.Window{}, nil
}
