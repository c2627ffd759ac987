// Package cadence defines the recurrence rules jobs run on and evaluates
// them against wall-clock minutes.
//
// A Spec is validated once at construction and then asked, for a given
// minute, whether a job is due. Evaluation is pure: the answer depends only
// on the spec, the minute under evaluation, and the time of the previous
// firing. Nothing here reads the clock.
package cadence

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidCadence reports a cadence that cannot be evaluated: out-of-range
// fields, malformed cron syntax, sub-minute intervals, or bad windows.
// Registration treats it as fatal.
var ErrInvalidCadence = errors.New("invalid cadence")

// Kind discriminates the supported recurrence forms.
type Kind int

const (
	KindInvalid Kind = iota
	KindInterval
	KindDaily
	KindHourly
	KindHourlyAt
	KindCron
)

func (k Kind) String() string {
	switch k {
	case KindInterval:
		return "interval"
	case KindDaily:
		return "daily"
	case KindHourly:
		return "hourly"
	case KindHourlyAt:
		return "hourly-at"
	case KindCron:
		return "cron"
	default:
		return "invalid"
	}
}

// Spec is one validated recurrence rule. The zero value is invalid; build
// specs through the constructors or Parse.
type Spec struct {
	kind   Kind
	every  time.Duration
	hour   int
	minute int
	expr   string
	sched  *cronSchedule
}

// Every returns an interval cadence: due when at least d has passed since the
// previous firing, and immediately on the first evaluation. Evaluation runs
// at minute granularity, so intervals below one minute are rejected.
func Every(d time.Duration) (Spec, error) {
	if d < time.Minute {
		return Spec{}, fmt.Errorf("%w: interval %s below one minute", ErrInvalidCadence, d)
	}
	return Spec{kind: KindInterval, every: d}, nil
}

// DailyAt returns a cadence due once per day at hour:minute.
func DailyAt(hour, minute int) (Spec, error) {
	if hour < 0 || hour > 23 {
		return Spec{}, fmt.Errorf("%w: hour %d out of range 0..23", ErrInvalidCadence, hour)
	}
	if minute < 0 || minute > 59 {
		return Spec{}, fmt.Errorf("%w: minute %d out of range 0..59", ErrInvalidCadence, minute)
	}
	return Spec{kind: KindDaily, hour: hour, minute: minute}, nil
}

// Hourly returns a cadence due at minute 0 of every hour.
func Hourly() Spec {
	return Spec{kind: KindHourly}
}

// HourlyAt returns a cadence due at the given minute of every hour.
func HourlyAt(minute int) (Spec, error) {
	if minute < 0 || minute > 59 {
		return Spec{}, fmt.Errorf("%w: minute %d out of range 0..59", ErrInvalidCadence, minute)
	}
	return Spec{kind: KindHourlyAt, minute: minute}, nil
}

// Kind returns the recurrence form of s.
func (s Spec) Kind() Kind { return s.kind }

// Valid reports whether s came from a constructor.
func (s Spec) Valid() bool { return s.kind != KindInvalid }

// Interval returns the duration of an interval cadence, zero for the rest.
func (s Spec) Interval() time.Duration { return s.every }

// String renders the canonical form accepted by Parse.
func (s Spec) String() string {
	switch s.kind {
	case KindInterval:
		return "every:" + s.every.String()
	case KindDaily:
		return fmt.Sprintf("daily:%02d:%02d", s.hour, s.minute)
	case KindHourly:
		return "hourly"
	case KindHourlyAt:
		return fmt.Sprintf("hourly:%d", s.minute)
	case KindCron:
		return "cron:" + s.expr
	default:
		return "invalid"
	}
}

// IsDue reports whether a job with this cadence should fire at now, given
// the time it last fired (zero means never). A firing in the same wall-clock
// minute as now always answers false, so evaluating one minute twice cannot
// double-fire. There is no catch-up: only the instant now is inspected, so a
// clock jump over several matching slots yields at most one firing.
func (s Spec) IsDue(now, lastRun time.Time) bool {
	if !lastRun.IsZero() && sameMinute(now, lastRun) {
		return false
	}
	switch s.kind {
	case KindInterval:
		if lastRun.IsZero() {
			return true
		}
		return now.Sub(lastRun) >= s.every
	case KindDaily:
		return now.Hour() == s.hour && now.Minute() == s.minute
	case KindHourly:
		return now.Minute() == 0
	case KindHourlyAt:
		return now.Minute() == s.minute
	case KindCron:
		return s.cronMatches(now)
	default:
		return false
	}
}

func sameMinute(a, b time.Time) bool {
	return a.Truncate(time.Minute).Equal(b.Truncate(time.Minute))
}
