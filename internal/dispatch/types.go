package dispatch

import "time"

// Outcome classifies how a run ended. Skips are recorded like runs: the
// job's slot for that minute is consumed either way.
type Outcome string

const (
	OutcomeSuccess         Outcome = "success"
	OutcomeFailure         Outcome = "failure"
	OutcomeSkippedOverlap  Outcome = "skipped-overlap"
	OutcomeSkippedCapacity Outcome = "skipped-capacity"
)

// Event types published on the bus. Data is a RunRecord, except EventTick
// which carries TickStats.
const (
	EventDispatched = "run.dispatched"
	EventFinished   = "run.finished"
	EventFailed     = "run.failed"
	EventSkipped    = "run.skipped"
	EventTick       = "tick"
)

// RunRecord is the lifecycle record of a single run attempt group. It is
// created at dispatch time and finalized when the run ends or is skipped.
type RunRecord struct {
	ID       string        `json:"id"`
	Job      string        `json:"job"`
	Tier     string        `json:"tier"`
	Started  time.Time     `json:"started"`
	Finished time.Time     `json:"finished"`
	Outcome  Outcome       `json:"outcome,omitempty"`
	Attempts int           `json:"attempts,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// TickStats summarizes one evaluation pass.
type TickStats struct {
	At         time.Time `json:"at"`
	Jobs       int       `json:"jobs"`
	Due        int       `json:"due"`
	Dispatched int       `json:"dispatched"`
	Skipped    int       `json:"skipped"`
}

// Config controls the tick loop and shutdown drain.
type Config struct {
	// TickEvery is the evaluation granularity. Cadences are minute-based, so
	// anything other than the default is only useful in tests.
	TickEvery time.Duration

	// DrainTimeout bounds how long shutdown waits for in-flight runs before
	// canceling them.
	DrainTimeout time.Duration

	// HistorySize caps the in-memory run record ring.
	HistorySize int
}

func (c Config) withDefaults() Config {
	if c.TickEvery <= 0 {
		c.TickEvery = time.Minute
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 30 * time.Second
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 256
	}
	return c
}

// Snapshot is a lightweight view for diagnostics.
type Snapshot struct {
	Jobs     int                  `json:"jobs"`
	Ticks    uint64               `json:"ticks"`
	LastTick time.Time            `json:"last_tick"`
	InFlight []string             `json:"in_flight,omitempty"`
	LastRun  map[string]time.Time `json:"last_run,omitempty"`
	Outcomes map[Outcome]uint64   `json:"outcomes"`
}
