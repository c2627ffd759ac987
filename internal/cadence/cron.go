package cadence

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

type cronSchedule = cron.SpecSchedule

// Five-field crontab: minute hour dom month dow. No seconds field and no
// @descriptors; both live at a different granularity than this evaluator.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Cron returns a cadence for a five-field cron expression (lists, ranges,
// steps and wildcards per field). The expression is fully validated here;
// malformed or out-of-range fields report ErrInvalidCadence.
func Cron(expr string) (Spec, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Spec{}, fmt.Errorf("%w: empty cron expression", ErrInvalidCadence)
	}
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return Spec{}, fmt.Errorf("%w: %q: %v", ErrInvalidCadence, expr, err)
	}
	ss, ok := sched.(*cron.SpecSchedule)
	if !ok {
		return Spec{}, fmt.Errorf("%w: %q: unsupported schedule form", ErrInvalidCadence, expr)
	}
	return Spec{kind: KindCron, expr: expr, sched: ss}, nil
}

// Expression returns the original cron expression, empty for other kinds.
func (s Spec) Expression() string { return s.expr }

// cronMatches checks t against the parsed field bitmasks. A wildcard field
// has every value bit set, so the day-of-month/day-of-week pair only
// restricts where a field was written explicitly; when both are explicit,
// both must hold.
func (s Spec) cronMatches(t time.Time) bool {
	ss := s.sched
	if ss == nil {
		return false
	}
	if ss.Location != time.Local {
		t = t.In(ss.Location)
	}
	if ss.Minute&(1<<uint(t.Minute())) == 0 {
		return false
	}
	if ss.Hour&(1<<uint(t.Hour())) == 0 {
		return false
	}
	if ss.Month&(1<<uint(t.Month())) == 0 {
		return false
	}
	if ss.Dom&(1<<uint(t.Day())) == 0 {
		return false
	}
	return ss.Dow&(1<<uint(t.Weekday())) != 0
}
