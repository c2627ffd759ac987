// Package schedule holds the job definitions a scheduler evaluates: what to
// run, how often, in which environment tier, and under which overlap policy.
package schedule

import (
	"strings"
	"time"

	"tickd/internal/cadence"
)

// Tier names a partition of the schedule. Jobs in TierCommon run in every
// environment; other tiers run only where the environment name matches the
// tier name. Tier names are free-form.
type Tier string

// TierCommon is active everywhere.
const TierCommon Tier = "common"

// TierFor maps an environment string to its tier name.
func TierFor(env string) Tier {
	return Tier(strings.ToLower(strings.TrimSpace(env)))
}

// OverlapPolicy controls whether a job may run concurrently with itself.
type OverlapPolicy int

const (
	// OverlapAllow dispatches a due job even if a previous run is still in
	// progress.
	OverlapAllow OverlapPolicy = iota
	// OverlapSkipIfRunning skips the slot when the same job is still
	// running; the skip is an outcome, not an error.
	OverlapSkipIfRunning
)

func (p OverlapPolicy) String() string {
	if p == OverlapSkipIfRunning {
		return "no-overlap"
	}
	return "allow-concurrent"
}

// ParseOverlapPolicy maps the config strings onto a policy. Empty means
// allow-concurrent.
func ParseOverlapPolicy(s string) (OverlapPolicy, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "allow", "allow-concurrent":
		return OverlapAllow, true
	case "no-overlap", "skip", "skip-if-running":
		return OverlapSkipIfRunning, true
	default:
		return OverlapAllow, false
	}
}

// Job is one schedulable unit. Jobs are built at startup, registered once,
// and read-only afterwards.
type Job struct {
	Name    string
	Tier    Tier
	Cadence cadence.Spec
	Window  cadence.Window
	Overlap OverlapPolicy

	// Command is the argv the subprocess runner executes. Empty means the
	// job is handled by a registered in-process handler of the same name.
	Command []string

	// Timeout bounds one run; zero uses the engine default.
	Timeout time.Duration

	// RetryMax is additional attempts after a failed run within the same
	// slot. Zero (the default) keeps a fired slot at one attempt.
	RetryMax int
}

// Due reports whether the job should fire at now, combining its cadence with
// its run window. Pure, like cadence.Spec.IsDue.
func (j *Job) Due(now, lastRun time.Time) bool {
	return j.Window.Allows(now) && j.Cadence.IsDue(now, lastRun)
}
