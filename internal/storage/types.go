package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl + lock snapshot)
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	KeepRuns    int           // run history retention in rows/lines; 0 means default
}

// LockEntry is a persisted overlap lock. Locks mirror the in-memory guard so
// a restart can report (and clear) runs that died while holding one.
type LockEntry struct {
	Name  string    `json:"name"`
	RunID string    `json:"run_id,omitempty"`
	Since time.Time `json:"since"`
}

func msTime(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// RunEntry records one fired slot for operators.
// Keep it compact and schema-stable.
type RunEntry struct {
	RunID      string    `json:"run_id,omitempty"`
	Job        string    `json:"job"`
	Tier       string    `json:"tier,omitempty"`
	At         time.Time `json:"at"`
	Outcome    string    `json:"outcome"`
	DurationMS int64     `json:"took_ms"`
	Attempts   int       `json:"attempts,omitempty"`
	Error      string    `json:"error,omitempty"`
}
